// Package metric holds the epoch-level evaluation statistics.
package metric

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/stat"

	"github.com/pmoura/seqtune/internal/logger"
)

// ShapeError reports an Observe call whose slices cannot be paired up.
type ShapeError struct {
	Pred, Actual int
}

func (e *ShapeError) Error() string {
	return fmt.Sprintf("metric: shape mismatch: %d predictions vs %d targets", e.Pred, e.Actual)
}

// Pearson accumulates prediction/target pairs over an entire epoch and
// reduces them to a single product-moment correlation coefficient.
//
// Correlation must be computed over the whole epoch rather than per batch;
// batch-local correlation is statistically unstable. Hence accumulate then
// reduce, instead of averaging per-step values.
//
// Pearson has a single writer (the evaluation loop) and is not safe for
// concurrent use.
type Pearson struct {
	log     logger.Logger
	preds   []float64
	targets []float64
}

// NewPearson creates an empty accumulator. The logger carries the
// insufficient-sample warning; nil falls back to the default logger.
func NewPearson(log logger.Logger) *Pearson {
	if log == nil {
		log = logger.Default()
	}
	return &Pearson{log: log}
}

// Observe appends a batch of predictions and their targets. Both slices must
// have the same length; otherwise a *ShapeError is returned and no partial
// state is appended.
func (p *Pearson) Observe(pred, actual []float64) error {
	if len(pred) != len(actual) {
		return &ShapeError{Pred: len(pred), Actual: len(actual)}
	}
	p.preds = append(p.preds, pred...)
	p.targets = append(p.targets, actual...)
	return nil
}

// Len returns the number of pairs observed since the last reset.
func (p *Pearson) Len() int {
	return len(p.preds)
}

// ComputeAndReset returns the Pearson correlation over everything observed
// since the last reset. With fewer than two pairs the correlation is
// undefined: a warning is logged and NaN returned. State is always cleared,
// so each epoch starts empty.
func (p *Pearson) ComputeAndReset() float64 {
	defer func() {
		p.preds = p.preds[:0]
		p.targets = p.targets[:0]
	}()

	if len(p.targets) < 2 {
		p.log.Warn("pearson does not have enough samples, returning NaN", "samples", len(p.targets))
		return math.NaN()
	}
	return stat.Correlation(p.targets, p.preds, nil)
}

// Mean returns the arithmetic mean of xs, or NaN for an empty slice.
func Mean(xs []float64) float64 {
	if len(xs) == 0 {
		return math.NaN()
	}
	return stat.Mean(xs, nil)
}

// Finite returns a copy of metrics with non-finite values removed. NaN means
// "metric undefined this epoch" and must not reach JSON encoders.
func Finite(metrics map[string]float64) map[string]float64 {
	out := make(map[string]float64, len(metrics))
	for k, v := range metrics {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			continue
		}
		out[k] = v
	}
	return out
}
