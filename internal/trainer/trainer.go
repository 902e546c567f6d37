// Package trainer drives the per-batch/per-epoch fine-tuning loop: it calls
// the module's step hooks, applies gradient-accumulation windows, selects
// the best checkpoint by the monitored metric and stops early when the
// metric stalls.
package trainer

import (
	"context"
	"fmt"
	"math"

	"github.com/pmoura/seqtune/internal/arch"
	"github.com/pmoura/seqtune/internal/dataset"
	"github.com/pmoura/seqtune/internal/logger"
	"github.com/pmoura/seqtune/internal/metric"
)

// Metrics maps metric names to epoch-level values. NaN means the metric is
// undefined for the epoch.
type Metrics = map[string]float64

// Module is the set of hooks a trainable model exposes to the harness.
// TrainStep and EvalStep accumulate internal state; Optimize applies pending
// gradients; EvalEpochEnd reduces and resets the evaluation state.
type Module interface {
	TrainStep(batch *dataset.Batch) (float64, error)
	Optimize()
	EvalStep(batch *dataset.Batch) error
	EvalEpochEnd() (Metrics, error)
	StateDict() map[string][]float32
}

// Data yields batches for one epoch.
type Data interface {
	Shuffle()
	NumBatches() int
	Batch(i int) (*dataset.Batch, error)
}

// Saver persists a model snapshot for an improved epoch.
type Saver interface {
	Save(epoch int, metrics Metrics, state map[string][]float32) (string, error)
}

// Reporter receives epoch metrics for live observation.
type Reporter interface {
	Publish(epoch int, phase string, metrics Metrics)
}

// Config controls the fit loop.
type Config struct {
	Epochs int
	// Accum is the gradient-accumulation window in batches; values below 1
	// mean no accumulation.
	Accum int
	// Patience is the number of epochs without improvement before stopping
	// early. Zero or negative disables early stopping.
	Patience int
	Monitor  arch.Monitor
}

// Trainer wires a module to its data, checkpointing and reporting. Saver
// and Reporter are optional.
type Trainer struct {
	Config   Config
	Log      logger.Logger
	Module   Module
	Train    Data
	Val      Data
	Saver    Saver
	Reporter Reporter
}

// Result summarises a finished fit.
type Result struct {
	EpochsRun      int
	BestEpoch      int
	BestValue      float64
	CheckpointPath string
	Stopped        bool // true when early stopping ended the run
}

// Fit runs the full training loop. The context is checked between batches,
// so cancellation is honored mid-epoch.
func (t *Trainer) Fit(ctx context.Context) (*Result, error) {
	if t.Module == nil || t.Train == nil || t.Val == nil {
		return nil, fmt.Errorf("trainer: module and data must be set")
	}
	if t.Config.Epochs < 1 {
		return nil, fmt.Errorf("trainer: epochs must be at least 1, got %d", t.Config.Epochs)
	}
	log := t.Log
	if log == nil {
		log = logger.Default()
	}
	accum := max(t.Config.Accum, 1)

	res := &Result{BestValue: math.NaN()}
	warnedMissing := false

	for epoch := 1; epoch <= t.Config.Epochs; epoch++ {
		trainLoss, err := t.trainEpoch(ctx, accum)
		if err != nil {
			return res, err
		}

		metrics, err := t.evalEpoch(ctx)
		if err != nil {
			return res, err
		}
		metrics["train_loss"] = trainLoss
		res.EpochsRun = epoch

		log.Info("epoch finished", epochAttrs(epoch, metrics)...)
		if t.Reporter != nil {
			t.Reporter.Publish(epoch, "validation", metrics)
		}

		monitored, ok := metrics[t.Config.Monitor.Metric]
		if !ok && !warnedMissing {
			log.Warn("monitored metric missing from epoch metrics", "metric", t.Config.Monitor.Metric)
			warnedMissing = true
		}

		if t.improved(res.BestValue, monitored, ok) {
			res.BestValue = monitored
			res.BestEpoch = epoch
			if t.Saver != nil {
				path, err := t.Saver.Save(epoch, metrics, t.Module.StateDict())
				if err != nil {
					return res, fmt.Errorf("trainer: save checkpoint: %w", err)
				}
				res.CheckpointPath = path
				log.Info("checkpoint saved", "path", path, t.Config.Monitor.Metric, monitored)
			}
		} else if t.Config.Patience > 0 && epoch-res.BestEpoch >= t.Config.Patience {
			log.Info("early stopping", "epoch", epoch, "best_epoch", res.BestEpoch, "patience", t.Config.Patience)
			res.Stopped = true
			break
		}
	}
	return res, nil
}

func (t *Trainer) trainEpoch(ctx context.Context, accum int) (float64, error) {
	t.Train.Shuffle()

	var losses []float64
	pending := 0
	for i := 0; i < t.Train.NumBatches(); i++ {
		if err := ctx.Err(); err != nil {
			return 0, err
		}
		batch, err := t.Train.Batch(i)
		if err != nil {
			return 0, err
		}
		loss, err := t.Module.TrainStep(batch)
		if err != nil {
			return 0, fmt.Errorf("trainer: train step %d: %w", i, err)
		}
		losses = append(losses, loss)
		pending++
		if pending == accum {
			t.Module.Optimize()
			pending = 0
		}
	}
	if pending > 0 {
		t.Module.Optimize()
	}
	return metric.Mean(losses), nil
}

func (t *Trainer) evalEpoch(ctx context.Context) (Metrics, error) {
	for i := 0; i < t.Val.NumBatches(); i++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		batch, err := t.Val.Batch(i)
		if err != nil {
			return nil, err
		}
		if err := t.Module.EvalStep(batch); err != nil {
			return nil, fmt.Errorf("trainer: eval step %d: %w", i, err)
		}
	}
	return t.Module.EvalEpochEnd()
}

// improved reports whether the monitored value beats the best seen so far.
// NaN never improves: an undefined metric must not win a checkpoint.
func (t *Trainer) improved(best, value float64, ok bool) bool {
	if !ok || math.IsNaN(value) {
		return false
	}
	if math.IsNaN(best) {
		return true
	}
	if t.Config.Monitor.Maximize {
		return value > best
	}
	return value < best
}

func epochAttrs(epoch int, metrics Metrics) []any {
	attrs := make([]any, 0, 2+2*len(metrics))
	attrs = append(attrs, "epoch", epoch)
	for _, k := range sortedKeys(metrics) {
		attrs = append(attrs, k, metrics[k])
	}
	return attrs
}

func sortedKeys(m Metrics) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	for i := 1; i < len(keys); i++ {
		for j := i; j > 0 && keys[j] < keys[j-1]; j-- {
			keys[j], keys[j-1] = keys[j-1], keys[j]
		}
	}
	return keys
}
