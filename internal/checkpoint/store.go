// Package checkpoint persists model snapshots: a JSON metadata file plus a
// binary weight blob per saved epoch. The store keeps only the best epoch,
// replacing the previous snapshot when the monitored metric improves.
package checkpoint

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"sort"
	"time"

	json "github.com/goccy/go-json"
	"github.com/google/uuid"

	"github.com/pmoura/seqtune/internal/logger"
	"github.com/pmoura/seqtune/internal/metric"
)

const (
	weightsMagic   = "SQTC"
	weightsVersion = 1
	metaFile       = "meta.json"
)

var (
	// ErrBadCheckpoint marks a weights file that cannot be parsed.
	ErrBadCheckpoint = errors.New("checkpoint: malformed weights file")
	// ErrNoCheckpoint is returned when a run directory holds no snapshot.
	ErrNoCheckpoint = errors.New("checkpoint: no snapshot found")
)

// Meta describes the snapshot a run directory holds.
type Meta struct {
	RunID   string             `json:"run_id"`
	Name    string             `json:"name"`
	Mode    string             `json:"mode"`
	Epoch   int                `json:"epoch"`
	Metrics map[string]float64 `json:"metrics"`
	Weights string             `json:"weights"`
	SavedAt time.Time          `json:"saved_at"`
}

// Store writes snapshots for one training run into its own directory under
// the checkpoint root.
type Store struct {
	dir     string
	runID   string
	name    string
	mode    string
	monitor string
	log     logger.Logger

	prevWeights string
}

// NewStore creates the run directory root/<uuid> and returns a store bound
// to it. name tags the snapshot files, mode and monitor are recorded in the
// metadata and the weights filename.
func NewStore(root, name, mode, monitor string, log logger.Logger) (*Store, error) {
	if name == "" {
		name = "run"
	}
	if log == nil {
		log = logger.Default()
	}
	runID := uuid.NewString()
	dir := filepath.Join(root, runID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("checkpoint: create run directory: %w", err)
	}
	return &Store{dir: dir, runID: runID, name: name, mode: mode, monitor: monitor, log: log}, nil
}

// Dir returns the run directory snapshots are written to.
func (s *Store) Dir() string {
	return s.dir
}

// RunID returns the unique id of this run.
func (s *Store) RunID() string {
	return s.runID
}

// Save writes a snapshot for the given epoch, replacing the previous one.
// Non-finite metric values are stripped from the metadata so it stays valid
// JSON. It returns the path of the written weights file.
func (s *Store) Save(epoch int, metrics map[string]float64, state map[string][]float32) (string, error) {
	finite := metric.Finite(metrics)

	value := math.NaN()
	if v, ok := finite[s.monitor]; ok {
		value = v
	}
	weightsName := fmt.Sprintf("%s-%s-%03d-%.4f.sqtc", s.name, s.mode, epoch, value)
	weightsPath := filepath.Join(s.dir, weightsName)

	if err := writeWeights(weightsPath, state); err != nil {
		return "", err
	}

	meta := Meta{
		RunID:   s.runID,
		Name:    s.name,
		Mode:    s.mode,
		Epoch:   epoch,
		Metrics: finite,
		Weights: weightsName,
		SavedAt: time.Now().UTC(),
	}
	raw, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return "", fmt.Errorf("checkpoint: encode metadata: %w", err)
	}
	if err := os.WriteFile(filepath.Join(s.dir, metaFile), raw, 0o644); err != nil {
		return "", fmt.Errorf("checkpoint: write metadata: %w", err)
	}

	if s.prevWeights != "" && s.prevWeights != weightsPath {
		if err := os.Remove(s.prevWeights); err != nil && !os.IsNotExist(err) {
			s.log.Warn("could not remove superseded snapshot", "path", s.prevWeights, "error", err)
		}
	}
	s.prevWeights = weightsPath
	return weightsPath, nil
}

// ReadMeta loads the snapshot metadata from a run directory.
func ReadMeta(dir string) (*Meta, error) {
	raw, err := os.ReadFile(filepath.Join(dir, metaFile))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w in %s", ErrNoCheckpoint, dir)
		}
		return nil, fmt.Errorf("checkpoint: read metadata: %w", err)
	}
	var meta Meta
	if err := json.Unmarshal(raw, &meta); err != nil {
		return nil, fmt.Errorf("checkpoint: decode metadata: %w", err)
	}
	return &meta, nil
}

// Load reads a run directory's snapshot back into a state dict.
func Load(dir string) (*Meta, map[string][]float32, error) {
	meta, err := ReadMeta(dir)
	if err != nil {
		return nil, nil, err
	}
	state, err := readWeights(filepath.Join(dir, meta.Weights))
	if err != nil {
		return nil, nil, err
	}
	return meta, state, nil
}

// writeWeights encodes the state dict: magic, version, tensor count, then
// name length, name, element count and little-endian float32 data per
// tensor. Tensors are written in sorted name order so files are
// reproducible.
func writeWeights(path string, state map[string][]float32) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("checkpoint: create weights file: %w", err)
	}
	defer func() { _ = f.Close() }()

	names := make([]string, 0, len(state))
	for name := range state {
		names = append(names, name)
	}
	sort.Strings(names)

	if _, err := f.Write([]byte(weightsMagic)); err != nil {
		return fmt.Errorf("checkpoint: write header: %w", err)
	}
	header := []uint32{weightsVersion, uint32(len(names))}
	for _, v := range header {
		if err := binary.Write(f, binary.LittleEndian, v); err != nil {
			return fmt.Errorf("checkpoint: write header: %w", err)
		}
	}

	for _, name := range names {
		data := state[name]
		if err := binary.Write(f, binary.LittleEndian, uint32(len(name))); err != nil {
			return fmt.Errorf("checkpoint: write tensor %q: %w", name, err)
		}
		if _, err := f.Write([]byte(name)); err != nil {
			return fmt.Errorf("checkpoint: write tensor %q: %w", name, err)
		}
		if err := binary.Write(f, binary.LittleEndian, uint64(len(data))); err != nil {
			return fmt.Errorf("checkpoint: write tensor %q: %w", name, err)
		}
		if err := binary.Write(f, binary.LittleEndian, data); err != nil {
			return fmt.Errorf("checkpoint: write tensor %q: %w", name, err)
		}
	}
	if err := f.Sync(); err != nil {
		return fmt.Errorf("checkpoint: sync weights file: %w", err)
	}
	return nil
}

func readWeights(path string) (map[string][]float32, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("checkpoint: open weights file: %w", err)
	}
	defer func() { _ = f.Close() }()

	stat, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("checkpoint: stat weights file: %w", err)
	}
	// No tensor can hold more float32 values than the file has bytes for;
	// anything larger is a corrupt or truncated count.
	maxElems := uint64(stat.Size()) / 4

	magic := make([]byte, len(weightsMagic))
	if _, err := io.ReadFull(f, magic); err != nil {
		return nil, fmt.Errorf("%w: %s", ErrBadCheckpoint, path)
	}
	if string(magic) != weightsMagic {
		return nil, fmt.Errorf("%w: bad magic in %s", ErrBadCheckpoint, path)
	}
	var version, count uint32
	if err := binary.Read(f, binary.LittleEndian, &version); err != nil {
		return nil, fmt.Errorf("%w: %s", ErrBadCheckpoint, path)
	}
	if version != weightsVersion {
		return nil, fmt.Errorf("%w: unsupported version %d in %s", ErrBadCheckpoint, version, path)
	}
	if err := binary.Read(f, binary.LittleEndian, &count); err != nil {
		return nil, fmt.Errorf("%w: %s", ErrBadCheckpoint, path)
	}

	state := make(map[string][]float32, count)
	for i := uint32(0); i < count; i++ {
		var nameLen uint32
		if err := binary.Read(f, binary.LittleEndian, &nameLen); err != nil {
			return nil, fmt.Errorf("%w: %s", ErrBadCheckpoint, path)
		}
		if nameLen == 0 || nameLen > 4096 {
			return nil, fmt.Errorf("%w: tensor name length %d in %s", ErrBadCheckpoint, nameLen, path)
		}
		name := make([]byte, nameLen)
		if _, err := io.ReadFull(f, name); err != nil {
			return nil, fmt.Errorf("%w: %s", ErrBadCheckpoint, path)
		}
		var elems uint64
		if err := binary.Read(f, binary.LittleEndian, &elems); err != nil {
			return nil, fmt.Errorf("%w: %s", ErrBadCheckpoint, path)
		}
		if elems > maxElems {
			return nil, fmt.Errorf("%w: tensor %q declares %d elements in %s", ErrBadCheckpoint, string(name), elems, path)
		}
		data := make([]float32, elems)
		if err := binary.Read(f, binary.LittleEndian, data); err != nil {
			return nil, fmt.Errorf("%w: %s", ErrBadCheckpoint, path)
		}
		state[string(name)] = data
	}
	return state, nil
}
