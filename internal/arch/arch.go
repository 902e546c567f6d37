// Package arch selects how model outputs are produced and scored.
//
// A fine-tuning run is configured with one architecture mode. The mode
// determines the forward-pass shape, the training loss, the evaluation
// decoding strategy, and the metric the checkpoint harness monitors. All of
// that policy is resolved here, once, into a Plan; nothing downstream
// branches on mode strings again.
package arch

import "fmt"

// Mode enumerates the supported architecture variants.
type Mode uint8

const (
	// ModeSimilarity regresses a [1,5] score from the pooled backbone state.
	// This is the default.
	ModeSimilarity Mode = iota
	// ModeFeature regresses the score from a shallow nonlinear projection of
	// the raw fixed-length numeric features, bypassing the backbone.
	ModeFeature
	// ModeCategorical classifies the pair into entailment classes.
	ModeCategorical
	// ModeGenerative trains the language-model head and decodes generated
	// text back into a numeric score during evaluation.
	ModeGenerative
	// ModeGenerativeClassification trains the language-model head and scores
	// evaluation by exact string match against the decoded target label.
	ModeGenerativeClassification

	modeCount
)

func (m Mode) String() string {
	switch m {
	case ModeSimilarity:
		return "similarity"
	case ModeFeature:
		return "mlp"
	case ModeCategorical:
		return "categoric"
	case ModeGenerative:
		return "gen"
	case ModeGenerativeClassification:
		return "categoric_gen"
	default:
		return fmt.Sprintf("mode(%d)", uint8(m))
	}
}

// ParseMode maps a configured mode name to a Mode. Both the short historical
// names and the descriptive ones are accepted.
func ParseMode(s string) (Mode, error) {
	switch s {
	case "similarity", "similarity-regression":
		return ModeSimilarity, nil
	case "mlp", "feature-regression", "feature-only-regression":
		return ModeFeature, nil
	case "categoric", "categorical", "categorical-classification":
		return ModeCategorical, nil
	case "gen", "generative-regression":
		return ModeGenerative, nil
	case "categoric_gen", "generative-classification":
		return ModeGenerativeClassification, nil
	default:
		return 0, badConfigf("unknown architecture mode %q", s)
	}
}

// LossKind selects the training loss.
type LossKind uint8

const (
	LossMSE LossKind = iota
	LossCrossEntropy
)

func (k LossKind) String() string {
	if k == LossCrossEntropy {
		return "cross-entropy"
	}
	return "mse"
}

// DecodeKind selects how raw model output becomes a scored prediction
// during evaluation.
type DecodeKind uint8

const (
	// DecodeIdentity reuses the training head output as-is.
	DecodeIdentity DecodeKind = iota
	// DecodeArgmax takes the arg-max class index of the logit vector.
	DecodeArgmax
	// DecodeNumeric parses generated text into a clamped numeric score.
	DecodeNumeric
	// DecodeExactMatch compares generated text against the decoded target.
	DecodeExactMatch
)

// Monitor names the metric the checkpoint harness tracks and the direction
// of improvement.
type Monitor struct {
	Metric   string
	Maximize bool
}

// Plan is the resolved policy for one architecture mode, built once at
// construction time.
type Plan struct {
	Mode       Mode
	Loss       LossKind
	Decode     DecodeKind
	Generative bool
	// Classes is the output width of the task head: number of entailment
	// classes in categorical mode, 1 for the regression heads, 0 when the
	// language-model head is used instead.
	Classes int
	// EvalLoss reports whether a loss is defined during evaluation.
	// Generation is not differentiable against a loss, so generative
	// classification evaluates by accuracy alone.
	EvalLoss bool
	Monitor  Monitor

	// MaxGenTokens caps generation length during evaluation. Five tokens are
	// enough to represent a score or an entailment label.
	MaxGenTokens int
}

// variants is the dispatch table: exactly one row per Mode. NewPlan refuses
// anything the table does not name, and init refuses a table that does not
// cover the enumeration.
var variants = map[Mode]func(classes int) (*Plan, error){
	ModeSimilarity: func(int) (*Plan, error) {
		return &Plan{
			Mode:     ModeSimilarity,
			Loss:     LossMSE,
			Decode:   DecodeIdentity,
			Classes:  1,
			EvalLoss: true,
			Monitor:  Monitor{Metric: "val_loss", Maximize: false},
		}, nil
	},
	ModeFeature: func(int) (*Plan, error) {
		return &Plan{
			Mode:     ModeFeature,
			Loss:     LossMSE,
			Decode:   DecodeIdentity,
			Classes:  1,
			EvalLoss: true,
			Monitor:  Monitor{Metric: "val_loss", Maximize: false},
		}, nil
	},
	ModeCategorical: func(classes int) (*Plan, error) {
		if classes < 2 {
			return nil, badConfigf("categorical mode needs at least 2 classes, got %d (single-class cross-entropy is ill-defined)", classes)
		}
		return &Plan{
			Mode:     ModeCategorical,
			Loss:     LossCrossEntropy,
			Decode:   DecodeArgmax,
			Classes:  classes,
			EvalLoss: true,
			Monitor:  Monitor{Metric: "val_acc", Maximize: true},
		}, nil
	},
	ModeGenerative: func(int) (*Plan, error) {
		return &Plan{
			Mode:         ModeGenerative,
			Loss:         LossCrossEntropy,
			Decode:       DecodeNumeric,
			Generative:   true,
			EvalLoss:     true, // decoded-score MSE, not the training loss
			Monitor:      Monitor{Metric: "val_loss", Maximize: false},
			MaxGenTokens: 5,
		}, nil
	},
	ModeGenerativeClassification: func(int) (*Plan, error) {
		return &Plan{
			Mode:         ModeGenerativeClassification,
			Loss:         LossCrossEntropy,
			Decode:       DecodeExactMatch,
			Generative:   true,
			EvalLoss:     false,
			Monitor:      Monitor{Metric: "val_acc", Maximize: true},
			MaxGenTokens: 5,
		}, nil
	},
}

func init() {
	for m := Mode(0); m < modeCount; m++ {
		if _, ok := variants[m]; !ok {
			panic(fmt.Sprintf("arch: variant table missing mode %s", m))
		}
	}
}

// NewPlan resolves the policy for the given mode. classes is only consulted
// in categorical mode. Unknown modes and invalid class counts fail with an
// error wrapping ErrBadConfig.
func NewPlan(mode Mode, classes int) (*Plan, error) {
	build, ok := variants[mode]
	if !ok {
		return nil, badConfigf("unknown architecture mode %s", mode)
	}
	return build(classes)
}
