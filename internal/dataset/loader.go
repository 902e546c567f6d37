package dataset

import (
	"fmt"
	"math/rand"

	"github.com/pmoura/seqtune/internal/tokenizer"
)

// TargetKind selects the target material generative modes train against.
type TargetKind uint8

const (
	// TargetNone: no token targets; the head trains on scores or labels.
	TargetNone TargetKind = iota
	// TargetScore: the rendered relatedness score, e.g. "3.2".
	TargetScore
	// TargetLabel: the entailment label text.
	TargetLabel
)

// LoaderConfig configures batching.
type LoaderConfig struct {
	BatchSize int
	SeqLen    int
	// TargetLen caps the target token sequence. Zero means 5, matching the
	// generation cap.
	TargetLen int
	Target    TargetKind
	Shuffle   bool
	Seed      int64
}

// Batch is one step's worth of encoded examples. All per-example slices are
// padded to fixed lengths; Mask marks real input positions and Target uses
// -1 for padding.
type Batch struct {
	InputIDs [][]int
	Mask     [][]bool
	Features [][]float32
	Target   [][]int
	Scores   []float64
	Labels   []int
}

// Size returns the number of examples in the batch.
func (b *Batch) Size() int {
	return len(b.InputIDs)
}

// Loader batches a fixed example set, reshuffling between epochs when
// configured.
type Loader struct {
	examples []Example
	labels   []int
	tok      tokenizer.Tokenizer
	cfg      LoaderConfig
	order    []int
	rng      *rand.Rand
}

// NewLoader validates the configuration and precomputes label indices so
// unknown entailment labels surface before training starts.
func NewLoader(examples []Example, tok tokenizer.Tokenizer, cfg LoaderConfig) (*Loader, error) {
	if len(examples) == 0 {
		return nil, fmt.Errorf("dataset: loader needs at least one example")
	}
	if cfg.BatchSize <= 0 {
		return nil, fmt.Errorf("dataset: batch size must be positive, got %d", cfg.BatchSize)
	}
	if cfg.SeqLen <= 0 {
		return nil, fmt.Errorf("dataset: sequence length must be positive, got %d", cfg.SeqLen)
	}
	if cfg.TargetLen <= 0 {
		cfg.TargetLen = 5
	}

	labels := make([]int, len(examples))
	for i, ex := range examples {
		idx, err := LabelIndex(ex.Entailment)
		if err != nil {
			return nil, err
		}
		labels[i] = idx
	}

	order := make([]int, len(examples))
	for i := range order {
		order[i] = i
	}
	return &Loader{
		examples: examples,
		labels:   labels,
		tok:      tok,
		cfg:      cfg,
		order:    order,
		rng:      rand.New(rand.NewSource(cfg.Seed)),
	}, nil
}

// Len returns the number of examples.
func (l *Loader) Len() int {
	return len(l.examples)
}

// NumBatches returns the number of batches per epoch, including a trailing
// partial batch.
func (l *Loader) NumBatches() int {
	return (len(l.examples) + l.cfg.BatchSize - 1) / l.cfg.BatchSize
}

// Shuffle reorders the epoch when the loader was configured to shuffle.
func (l *Loader) Shuffle() {
	if !l.cfg.Shuffle {
		return
	}
	l.rng.Shuffle(len(l.order), func(i, j int) {
		l.order[i], l.order[j] = l.order[j], l.order[i]
	})
}

// Batch encodes the i-th batch of the current epoch order.
func (l *Loader) Batch(i int) (*Batch, error) {
	if i < 0 || i >= l.NumBatches() {
		return nil, fmt.Errorf("dataset: batch index %d out of range", i)
	}
	start := i * l.cfg.BatchSize
	end := min(start+l.cfg.BatchSize, len(l.examples))

	b := &Batch{
		InputIDs: make([][]int, 0, end-start),
		Mask:     make([][]bool, 0, end-start),
		Features: make([][]float32, 0, end-start),
		Target:   make([][]int, 0, end-start),
		Scores:   make([]float64, 0, end-start),
		Labels:   make([]int, 0, end-start),
	}
	for _, idx := range l.order[start:end] {
		ex := l.examples[idx]

		ids, err := l.tok.Encode(PairText(ex))
		if err != nil {
			return nil, fmt.Errorf("dataset: encode pair: %w", err)
		}
		if len(ids) > l.cfg.SeqLen {
			ids = ids[:l.cfg.SeqLen]
		}
		mask := make([]bool, l.cfg.SeqLen)
		padded := make([]int, l.cfg.SeqLen)
		features := make([]float32, l.cfg.SeqLen)
		for j := range ids {
			padded[j] = ids[j]
			mask[j] = true
			features[j] = float32(ids[j])
		}
		for j := len(ids); j < l.cfg.SeqLen; j++ {
			padded[j] = tokenizer.PadID
		}

		target, err := l.encodeTarget(ex)
		if err != nil {
			return nil, err
		}

		b.InputIDs = append(b.InputIDs, padded)
		b.Mask = append(b.Mask, mask)
		b.Features = append(b.Features, features)
		b.Target = append(b.Target, target)
		b.Scores = append(b.Scores, ex.Relatedness)
		b.Labels = append(b.Labels, l.labels[idx])
	}
	return b, nil
}

// encodeTarget renders the generative target token sequence, terminated by
// EOS and padded with -1.
func (l *Loader) encodeTarget(ex Example) ([]int, error) {
	out := make([]int, l.cfg.TargetLen)
	for j := range out {
		out[j] = -1
	}
	if l.cfg.Target == TargetNone {
		return out, nil
	}

	text := ScoreText(ex)
	if l.cfg.Target == TargetLabel {
		text = ex.Entailment
	}
	ids, err := l.tok.Encode(text)
	if err != nil {
		return nil, fmt.Errorf("dataset: encode target: %w", err)
	}
	ids = append(ids, tokenizer.EOSID)
	if len(ids) > l.cfg.TargetLen {
		ids = ids[:l.cfg.TargetLen]
	}
	copy(out, ids)
	return out, nil
}
