package arch

import (
	"errors"
	"fmt"
)

// ErrBadConfig marks configuration errors detected at construction time,
// before any training step runs.
var ErrBadConfig = errors.New("arch: invalid configuration")

func badConfigf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrBadConfig, fmt.Sprintf(format, args...))
}
