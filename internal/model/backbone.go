// Package model provides the sequence backbone contract and the trainable
// task heads that fine-tuning attaches to it.
package model

import (
	"fmt"
	"math"

	"github.com/pmoura/seqtune/internal/tensor"
)

// Backbone is the contract the fine-tuning glue consumes from a pretrained
// encoder-decoder. EncodePooled feeds the regression/classification heads,
// LMBackward is the teacher-forced language-model pass used by the
// generative modes, and Generate produces a short token sequence during
// generative evaluation.
type Backbone interface {
	HiddenSize() int
	// EncodePooled returns the mean-pooled hidden state over the unmasked
	// input positions.
	EncodePooled(ids []int, mask []bool) []float32
	// LMBackward runs a teacher-forced pass over the label tokens, returning
	// the mean token cross-entropy and accumulating gradients on the output
	// projection. Apply them with Step.
	LMBackward(ids []int, mask []bool, labels []int) (float64, error)
	// Generate greedily decodes up to maxTokens tokens conditioned on the
	// input, stopping early at end-of-sequence.
	Generate(ids []int, mask []bool, maxTokens int) []int
	// Step applies and clears accumulated gradients.
	Step(lr float32)

	State() map[string][]float32
	LoadState(state map[string][]float32) error
}

// Config describes a Seq2Seq backbone.
type Config struct {
	VocabSize int
	Hidden    int
	// EOSID is the decoder start and stop token.
	EOSID int
}

// Seq2Seq is a small deterministic encoder-decoder honoring the Backbone
// contract: an embedding table, a pooled encoder state and a trainable
// output projection for the language-model head. The embedding table stands
// in for pretrained weights and stays frozen; fine-tuning updates the
// projection.
type Seq2Seq struct {
	cfg Config

	emb     tensor.Mat // [vocab x hidden], frozen
	out     tensor.Mat // [vocab x hidden], trainable LM projection
	outBias []float32  // [vocab]

	gradOut  tensor.Mat
	gradBias []float32
	gradN    int

	// scratch, reused across single-threaded steps
	state  []float32
	logits []float32
	probs  []float32
}

// NewSeq2Seq constructs a backbone with reproducible pseudo-random weights
// derived from the seed.
func NewSeq2Seq(cfg Config, seed int64) (*Seq2Seq, error) {
	if cfg.VocabSize <= 0 || cfg.Hidden <= 0 {
		return nil, fmt.Errorf("model: invalid backbone dimensions %dx%d", cfg.VocabSize, cfg.Hidden)
	}
	if cfg.EOSID < 0 || cfg.EOSID >= cfg.VocabSize {
		return nil, fmt.Errorf("model: eos id %d outside vocabulary", cfg.EOSID)
	}
	s := &Seq2Seq{
		cfg:      cfg,
		emb:      tensor.NewMat(cfg.VocabSize, cfg.Hidden),
		out:      tensor.NewMat(cfg.VocabSize, cfg.Hidden),
		outBias:  make([]float32, cfg.VocabSize),
		gradOut:  tensor.NewMat(cfg.VocabSize, cfg.Hidden),
		gradBias: make([]float32, cfg.VocabSize),
		state:    make([]float32, cfg.Hidden),
		logits:   make([]float32, cfg.VocabSize),
		probs:    make([]float32, cfg.VocabSize),
	}
	tensor.FillRand(&s.emb, seed+11)
	tensor.FillRand(&s.out, seed+23)
	return s, nil
}

func (s *Seq2Seq) HiddenSize() int {
	return s.cfg.Hidden
}

// EncodePooled mean-pools the embeddings of the unmasked positions. A fully
// masked input yields the zero vector.
func (s *Seq2Seq) EncodePooled(ids []int, mask []bool) []float32 {
	pooled := make([]float32, s.cfg.Hidden)
	count := 0
	for i, id := range ids {
		if i < len(mask) && !mask[i] {
			continue
		}
		if id < 0 || id >= s.cfg.VocabSize {
			continue
		}
		row := s.emb.Row(id)
		for j := range pooled {
			pooled[j] += row[j]
		}
		count++
	}
	if count > 0 {
		inv := 1.0 / float32(count)
		for j := range pooled {
			pooled[j] *= inv
		}
	}
	return pooled
}

// decoderState mixes the pooled encoder state with the embedding of the
// previous target token.
func (s *Seq2Seq) decoderState(pooled []float32, prev int, dst []float32) {
	row := s.emb.Row(prev)
	for j := range dst {
		dst[j] = 0.5 * (pooled[j] + row[j])
	}
}

func (s *Seq2Seq) vocabLogits(h []float32, dst []float32) {
	tensor.MatVec(dst, &s.out, h)
	for v := range dst {
		dst[v] += s.outBias[v]
	}
}

// LMBackward teacher-forces the label sequence and accumulates the
// cross-entropy gradient on the output projection. Label positions holding
// negative ids are ignored (padding).
func (s *Seq2Seq) LMBackward(ids []int, mask []bool, labels []int) (float64, error) {
	pooled := s.EncodePooled(ids, mask)

	var total float64
	positions := 0
	prev := s.cfg.EOSID
	for _, label := range labels {
		if label < 0 {
			continue
		}
		if label >= s.cfg.VocabSize {
			return 0, fmt.Errorf("model: label id %d outside vocabulary", label)
		}
		s.decoderState(pooled, prev, s.state)
		s.vocabLogits(s.state, s.logits)
		softmax32(s.probs, s.logits)

		p := float64(s.probs[label])
		if p < 1e-12 {
			p = 1e-12
		}
		total += -math.Log(p)
		positions++

		// dL/dlogit_v = p_v - [v == label]; outer product with the state.
		for v := 0; v < s.cfg.VocabSize; v++ {
			g := s.probs[v]
			if v == label {
				g -= 1
			}
			if g == 0 {
				continue
			}
			grow := s.gradOut.Row(v)
			for j := range s.state {
				grow[j] += g * s.state[j]
			}
			s.gradBias[v] += g
		}
		s.gradN++

		prev = label
	}
	if positions == 0 {
		return 0, fmt.Errorf("model: no label positions to train on")
	}
	return total / float64(positions), nil
}

// Generate greedily decodes conditioned on the pooled input state.
func (s *Seq2Seq) Generate(ids []int, mask []bool, maxTokens int) []int {
	pooled := s.EncodePooled(ids, mask)

	var out []int
	prev := s.cfg.EOSID
	for range maxTokens {
		s.decoderState(pooled, prev, s.state)
		s.vocabLogits(s.state, s.logits)
		next := argmax32(s.logits)
		if next == s.cfg.EOSID {
			break
		}
		out = append(out, next)
		prev = next
	}
	return out
}

// Step applies accumulated projection gradients, averaged over the number of
// contributing positions, then clears them.
func (s *Seq2Seq) Step(lr float32) {
	if s.gradN == 0 {
		return
	}
	scale := lr / float32(s.gradN)
	for i := range s.out.Data {
		s.out.Data[i] -= scale * s.gradOut.Data[i]
		s.gradOut.Data[i] = 0
	}
	for v := range s.outBias {
		s.outBias[v] -= scale * s.gradBias[v]
		s.gradBias[v] = 0
	}
	s.gradN = 0
}

func (s *Seq2Seq) State() map[string][]float32 {
	return map[string][]float32{
		"backbone.emb":      append([]float32(nil), s.emb.Data...),
		"backbone.out":      append([]float32(nil), s.out.Data...),
		"backbone.out_bias": append([]float32(nil), s.outBias...),
	}
}

func (s *Seq2Seq) LoadState(state map[string][]float32) error {
	for key, dst := range map[string][]float32{
		"backbone.emb":      s.emb.Data,
		"backbone.out":      s.out.Data,
		"backbone.out_bias": s.outBias,
	} {
		src, ok := state[key]
		if !ok {
			return fmt.Errorf("model: state missing %q", key)
		}
		if len(src) != len(dst) {
			return fmt.Errorf("model: state %q has %d values, want %d", key, len(src), len(dst))
		}
		copy(dst, src)
	}
	return nil
}
