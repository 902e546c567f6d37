// Package finetune ties the backbone, task heads, metric accumulation and
// output decoding together behind the trainer's hook contract. All per-mode
// behavior is resolved once at construction from the architecture plan;
// the step methods never branch on mode again.
package finetune

import (
	"fmt"
	"math"

	"github.com/pmoura/seqtune/internal/arch"
	"github.com/pmoura/seqtune/internal/dataset"
	"github.com/pmoura/seqtune/internal/logger"
	"github.com/pmoura/seqtune/internal/metric"
	"github.com/pmoura/seqtune/internal/model"
	"github.com/pmoura/seqtune/internal/score"
	"github.com/pmoura/seqtune/internal/tokenizer"
)

// Config assembles a fine-tuning model.
type Config struct {
	Plan     *arch.Plan
	Backbone model.Backbone
	Tok      tokenizer.Tokenizer
	// LR is the learning rate applied on every optimize call.
	LR float32
	// FeatureLen is the width of the raw feature vector; feature-only
	// regression sizes its input layer from it.
	FeatureLen int
	// FeatureHidden is the hidden width of the feature head. Zero means 50.
	FeatureHidden int
	Seed          int64
	Log           logger.Logger
}

// hooks are the mode-specific step implementations bound at construction.
type hooks struct {
	train    func(b *dataset.Batch) (float64, error)
	eval     func(b *dataset.Batch) error
	reduce   func() (map[string]float64, error)
	optimize func()
}

// Model implements trainer.Module for one architecture plan.
type Model struct {
	plan     *arch.Plan
	backbone model.Backbone
	tok      tokenizer.Tokenizer
	lr       float32
	log      logger.Logger

	reg  *model.RegressionHead
	feat *model.FeatureHead
	cls  *model.ClassificationHead

	hooks hooks

	// evaluation state, reset by EvalEpochEnd
	pearson    *metric.Pearson
	evalLosses []float64
	evalHits   int
	evalSeen   int
}

// bindings maps every mode to its hook constructor. New refuses a mode the
// table does not cover, so adding a Mode without a binding fails loudly.
var bindings = map[arch.Mode]func(m *Model, cfg Config) error{
	arch.ModeSimilarity:               bindSimilarity,
	arch.ModeFeature:                  bindFeature,
	arch.ModeCategorical:              bindCategorical,
	arch.ModeGenerative:               bindGenerative,
	arch.ModeGenerativeClassification: bindGenerativeClassification,
}

// New builds the model for the plan's mode, allocating only the head that
// mode trains.
func New(cfg Config) (*Model, error) {
	if cfg.Plan == nil {
		return nil, fmt.Errorf("finetune: plan must be set")
	}
	if cfg.Backbone == nil {
		return nil, fmt.Errorf("finetune: backbone must be set")
	}
	if cfg.Tok == nil {
		return nil, fmt.Errorf("finetune: tokenizer must be set")
	}
	if cfg.LR <= 0 {
		return nil, fmt.Errorf("finetune: learning rate must be positive, got %v", cfg.LR)
	}
	log := cfg.Log
	if log == nil {
		log = logger.Default()
	}

	m := &Model{
		plan:     cfg.Plan,
		backbone: cfg.Backbone,
		tok:      cfg.Tok,
		lr:       cfg.LR,
		log:      log,
		pearson:  metric.NewPearson(log),
	}
	bind, ok := bindings[cfg.Plan.Mode]
	if !ok {
		return nil, fmt.Errorf("finetune: no binding for architecture mode %s", cfg.Plan.Mode)
	}
	if err := bind(m, cfg); err != nil {
		return nil, err
	}
	return m, nil
}

// Plan returns the resolved architecture policy the model was built with.
func (m *Model) Plan() *arch.Plan {
	return m.plan
}

// TrainStep runs one batch forward and accumulates gradients, returning the
// batch training loss.
func (m *Model) TrainStep(b *dataset.Batch) (float64, error) {
	return m.hooks.train(b)
}

// Optimize applies accumulated gradients.
func (m *Model) Optimize() {
	m.hooks.optimize()
}

// EvalStep accumulates evaluation state for one batch.
func (m *Model) EvalStep(b *dataset.Batch) error {
	return m.hooks.eval(b)
}

// EvalEpochEnd reduces the accumulated evaluation state into epoch metrics
// and resets it. Undefined metrics come back as NaN, never as an error.
func (m *Model) EvalEpochEnd() (map[string]float64, error) {
	metrics, err := m.hooks.reduce()
	m.evalLosses = nil
	m.evalHits = 0
	m.evalSeen = 0
	return metrics, err
}

// StateDict returns the trainable state: the backbone plus whichever head
// the mode uses.
func (m *Model) StateDict() map[string][]float32 {
	state := m.backbone.State()
	for _, part := range m.headStates() {
		for k, v := range part {
			state[k] = v
		}
	}
	return state
}

// LoadStateDict restores a state dict produced by StateDict on a model built
// with the same configuration.
func (m *Model) LoadStateDict(state map[string][]float32) error {
	if err := m.backbone.LoadState(state); err != nil {
		return err
	}
	if m.reg != nil {
		if err := m.reg.LoadState(state); err != nil {
			return err
		}
	}
	if m.feat != nil {
		if err := m.feat.LoadState(state); err != nil {
			return err
		}
	}
	if m.cls != nil {
		if err := m.cls.LoadState(state); err != nil {
			return err
		}
	}
	return nil
}

func (m *Model) headStates() []map[string][]float32 {
	var out []map[string][]float32
	if m.reg != nil {
		out = append(out, m.reg.State())
	}
	if m.feat != nil {
		out = append(out, m.feat.State())
	}
	if m.cls != nil {
		out = append(out, m.cls.State())
	}
	return out
}

// --- similarity regression -------------------------------------------------

func bindSimilarity(m *Model, cfg Config) error {
	m.reg = model.NewRegressionHead(m.backbone.HiddenSize(), cfg.Seed)

	forward := func(b *dataset.Batch, i int) float64 {
		pooled := m.backbone.EncodePooled(b.InputIDs[i], b.Mask[i])
		return m.reg.Forward(pooled)
	}
	m.hooks = hooks{
		train: func(b *dataset.Batch) (float64, error) {
			var total float64
			for i := 0; i < b.Size(); i++ {
				pooled := m.backbone.EncodePooled(b.InputIDs[i], b.Mask[i])
				pred := m.reg.Forward(pooled)
				m.reg.Backward(pooled, pred, b.Scores[i])
				total += (pred - b.Scores[i]) * (pred - b.Scores[i])
			}
			return total / float64(b.Size()), nil
		},
		eval:     m.regressionEval(forward),
		reduce:   m.regressionReduce,
		optimize: func() { m.reg.Step(m.lr) },
	}
	return nil
}

// --- feature-only regression -----------------------------------------------

func bindFeature(m *Model, cfg Config) error {
	if cfg.FeatureLen <= 0 {
		return fmt.Errorf("finetune: feature-only regression needs a positive feature length, got %d", cfg.FeatureLen)
	}
	hidden := cfg.FeatureHidden
	if hidden <= 0 {
		hidden = 50
	}
	m.feat = model.NewFeatureHead(cfg.FeatureLen, hidden, cfg.Seed)

	forward := func(b *dataset.Batch, i int) float64 {
		return m.feat.Forward(b.Features[i], false)
	}
	m.hooks = hooks{
		train: func(b *dataset.Batch) (float64, error) {
			var total float64
			for i := 0; i < b.Size(); i++ {
				pred := m.feat.Forward(b.Features[i], true)
				m.feat.Backward(b.Features[i], pred, b.Scores[i])
				total += (pred - b.Scores[i]) * (pred - b.Scores[i])
			}
			return total / float64(b.Size()), nil
		},
		eval:     m.regressionEval(forward),
		reduce:   m.regressionReduce,
		optimize: func() { m.feat.Step(m.lr) },
	}
	return nil
}

// regressionEval scores a batch with the given forward pass, feeding the
// squared errors and the correlation accumulator.
func (m *Model) regressionEval(forward func(b *dataset.Batch, i int) float64) func(*dataset.Batch) error {
	return func(b *dataset.Batch) error {
		preds := make([]float64, b.Size())
		var total float64
		for i := 0; i < b.Size(); i++ {
			preds[i] = forward(b, i)
			diff := preds[i] - b.Scores[i]
			total += diff * diff
		}
		if err := m.pearson.Observe(preds, b.Scores); err != nil {
			return err
		}
		m.evalLosses = append(m.evalLosses, total/float64(b.Size()))
		return nil
	}
}

func (m *Model) regressionReduce() (map[string]float64, error) {
	return map[string]float64{
		"val_loss":    metric.Mean(m.evalLosses),
		"val_pearson": m.pearson.ComputeAndReset(),
	}, nil
}

// --- categorical classification --------------------------------------------

func bindCategorical(m *Model, cfg Config) error {
	m.cls = model.NewClassificationHead(m.backbone.HiddenSize(), cfg.Plan.Classes, cfg.Seed)

	m.hooks = hooks{
		train: func(b *dataset.Batch) (float64, error) {
			var total float64
			for i := 0; i < b.Size(); i++ {
				if b.Labels[i] >= cfg.Plan.Classes {
					return 0, fmt.Errorf("finetune: label %d outside %d classes", b.Labels[i], cfg.Plan.Classes)
				}
				pooled := m.backbone.EncodePooled(b.InputIDs[i], b.Mask[i])
				logits := m.cls.Forward(pooled)
				m.cls.Backward(pooled, logits, b.Labels[i])
				total += model.CrossEntropy(logits, b.Labels[i])
			}
			return total / float64(b.Size()), nil
		},
		eval: func(b *dataset.Batch) error {
			var total float64
			for i := 0; i < b.Size(); i++ {
				pooled := m.backbone.EncodePooled(b.InputIDs[i], b.Mask[i])
				logits := m.cls.Forward(pooled)
				total += model.CrossEntropy(logits, b.Labels[i])
				if model.Argmax(logits) == b.Labels[i] {
					m.evalHits++
				}
				m.evalSeen++
			}
			m.evalLosses = append(m.evalLosses, total/float64(b.Size()))
			return nil
		},
		reduce: func() (map[string]float64, error) {
			return map[string]float64{
				"val_loss": metric.Mean(m.evalLosses),
				"val_acc":  m.accuracy(),
			}, nil
		},
		optimize: func() { m.cls.Step(m.lr) },
	}
	return nil
}

// --- generative modes --------------------------------------------------------

// lmTrain teacher-forces the target tokens; both generative modes share it.
func (m *Model) lmTrain(b *dataset.Batch) (float64, error) {
	var total float64
	for i := 0; i < b.Size(); i++ {
		loss, err := m.backbone.LMBackward(b.InputIDs[i], b.Mask[i], b.Target[i])
		if err != nil {
			return 0, err
		}
		total += loss
	}
	return total / float64(b.Size()), nil
}

func bindGenerative(m *Model, cfg Config) error {
	m.hooks = hooks{
		train: m.lmTrain,
		eval: func(b *dataset.Batch) error {
			var total float64
			for i := 0; i < b.Size(); i++ {
				out := m.backbone.Generate(b.InputIDs[i], b.Mask[i], cfg.Plan.MaxGenTokens)
				text, err := m.tok.Decode(out)
				if err != nil {
					return fmt.Errorf("finetune: decode generated tokens: %w", err)
				}
				diff := score.Decode(text) - b.Scores[i]
				total += diff * diff
			}
			m.evalLosses = append(m.evalLosses, total/float64(b.Size()))
			return nil
		},
		reduce: func() (map[string]float64, error) {
			return map[string]float64{"val_loss": metric.Mean(m.evalLosses)}, nil
		},
		optimize: func() { m.backbone.Step(m.lr) },
	}
	return nil
}

func bindGenerativeClassification(m *Model, cfg Config) error {
	m.hooks = hooks{
		train: m.lmTrain,
		eval: func(b *dataset.Batch) error {
			for i := 0; i < b.Size(); i++ {
				out := m.backbone.Generate(b.InputIDs[i], b.Mask[i], cfg.Plan.MaxGenTokens)
				got, err := m.tok.Decode(out)
				if err != nil {
					return fmt.Errorf("finetune: decode generated tokens: %w", err)
				}
				want, err := m.tok.Decode(stripPadding(b.Target[i]))
				if err != nil {
					return fmt.Errorf("finetune: decode target tokens: %w", err)
				}
				if got == want {
					m.evalHits++
				}
				m.evalSeen++
			}
			return nil
		},
		reduce: func() (map[string]float64, error) {
			return map[string]float64{"val_acc": m.accuracy()}, nil
		},
		optimize: func() { m.backbone.Step(m.lr) },
	}
	return nil
}

// accuracy reduces the running hit count; NaN when nothing was evaluated.
func (m *Model) accuracy() float64 {
	if m.evalSeen == 0 {
		return math.NaN()
	}
	return float64(m.evalHits) / float64(m.evalSeen)
}

// stripPadding drops the -1 padding ids from a target token sequence.
func stripPadding(ids []int) []int {
	out := make([]int, 0, len(ids))
	for _, id := range ids {
		if id >= 0 {
			out = append(out, id)
		}
	}
	return out
}
