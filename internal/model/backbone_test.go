package model

import (
	"math"
	"testing"
)

func newTestBackbone(t *testing.T) *Seq2Seq {
	t.Helper()
	s, err := NewSeq2Seq(Config{VocabSize: 12, Hidden: 6, EOSID: 2}, 5)
	if err != nil {
		t.Fatal(err)
	}
	return s
}

func TestEncodePooledRespectsMask(t *testing.T) {
	s := newTestBackbone(t)

	pooled := s.EncodePooled([]int{4, 7}, []bool{true, false})
	row := s.emb.Row(4)
	for j := range pooled {
		if math.Abs(float64(pooled[j]-row[j])) > 1e-6 {
			t.Fatalf("masked pooling wrong at %d: %v vs %v", j, pooled[j], row[j])
		}
	}
}

func TestEncodePooledAllMaskedIsZero(t *testing.T) {
	s := newTestBackbone(t)
	pooled := s.EncodePooled([]int{4, 7}, []bool{false, false})
	for j, v := range pooled {
		if v != 0 {
			t.Fatalf("expected zero vector, got %v at %d", v, j)
		}
	}
}

func TestLMBackwardReducesLoss(t *testing.T) {
	s := newTestBackbone(t)
	ids := []int{3, 4, 5}
	mask := []bool{true, true, true}
	labels := []int{6, 7}

	first, err := s.LMBackward(ids, mask, labels)
	if err != nil {
		t.Fatal(err)
	}
	s.Step(0.5)
	for range 100 {
		if _, err := s.LMBackward(ids, mask, labels); err != nil {
			t.Fatal(err)
		}
		s.Step(0.5)
	}
	last, err := s.LMBackward(ids, mask, labels)
	if err != nil {
		t.Fatal(err)
	}
	s.Step(0.5)

	if last >= first {
		t.Fatalf("language-model loss did not decrease: first=%v last=%v", first, last)
	}
}

func TestLMBackwardSkipsPaddingLabels(t *testing.T) {
	s := newTestBackbone(t)
	ids := []int{3}
	mask := []bool{true}

	withPad, err := s.LMBackward(ids, mask, []int{6, -1, -1})
	if err != nil {
		t.Fatal(err)
	}
	s.Step(0) // clear gradients without moving weights

	without, err := s.LMBackward(ids, mask, []int{6})
	if err != nil {
		t.Fatal(err)
	}
	if math.Abs(withPad-without) > 1e-9 {
		t.Fatalf("padding labels changed the loss: %v vs %v", withPad, without)
	}
}

func TestLMBackwardErrors(t *testing.T) {
	s := newTestBackbone(t)
	if _, err := s.LMBackward([]int{1}, []bool{true}, []int{999}); err == nil {
		t.Fatal("expected error for out-of-vocabulary label")
	}
	if _, err := s.LMBackward([]int{1}, []bool{true}, []int{-1, -1}); err == nil {
		t.Fatal("expected error when no label positions remain")
	}
}

func TestGenerateCapsLength(t *testing.T) {
	s := newTestBackbone(t)
	out := s.Generate([]int{3, 4}, []bool{true, true}, 5)
	if len(out) > 5 {
		t.Fatalf("generation exceeded cap: %d tokens", len(out))
	}
	for _, id := range out {
		if id == s.cfg.EOSID {
			t.Fatal("eos token leaked into generated output")
		}
	}
}

func TestGenerateDeterministic(t *testing.T) {
	s := newTestBackbone(t)
	a := s.Generate([]int{3, 4}, []bool{true, true}, 5)
	b := s.Generate([]int{3, 4}, []bool{true, true}, 5)
	if len(a) != len(b) {
		t.Fatalf("non-deterministic generation length: %d vs %d", len(a), len(b))
	}
	for i := range a {
		if a[i] != b[i] {
			t.Fatalf("non-deterministic generation at %d", i)
		}
	}
}

func TestBackboneStateRoundTrip(t *testing.T) {
	s := newTestBackbone(t)
	other, err := NewSeq2Seq(Config{VocabSize: 12, Hidden: 6, EOSID: 2}, 999)
	if err != nil {
		t.Fatal(err)
	}
	if err := other.LoadState(s.State()); err != nil {
		t.Fatal(err)
	}

	ids := []int{3, 4}
	mask := []bool{true, true}
	a := s.EncodePooled(ids, mask)
	b := other.EncodePooled(ids, mask)
	for i := range a {
		if a[i] != b[i] {
			t.Fatalf("pooled state mismatch after load at %d", i)
		}
	}
}

func TestNewSeq2SeqValidation(t *testing.T) {
	if _, err := NewSeq2Seq(Config{VocabSize: 0, Hidden: 4, EOSID: 0}, 1); err == nil {
		t.Fatal("expected error for empty vocabulary")
	}
	if _, err := NewSeq2Seq(Config{VocabSize: 4, Hidden: 4, EOSID: 9}, 1); err == nil {
		t.Fatal("expected error for eos outside vocabulary")
	}
}
