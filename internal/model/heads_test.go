package model

import (
	"math"
	"testing"
)

func TestRegressionHeadOutputRange(t *testing.T) {
	h := NewRegressionHead(4, 1)
	xs := [][]float32{
		{0, 0, 0, 0},
		{10, -10, 5, 2},
		{-100, 100, -50, 3},
	}
	for _, x := range xs {
		y := h.Forward(x)
		if y <= 1.0 || y >= 5.0 {
			t.Fatalf("prediction %v outside (1,5)", y)
		}
	}
}

func TestRegressionHeadLearns(t *testing.T) {
	h := NewRegressionHead(3, 42)
	x := []float32{0.5, -0.2, 0.8}
	target := 4.2

	before := math.Abs(h.Forward(x) - target)
	for range 300 {
		pred := h.Forward(x)
		h.Backward(x, pred, target)
		h.Step(0.5)
	}
	after := math.Abs(h.Forward(x) - target)
	if after >= before {
		t.Fatalf("training did not reduce error: before=%v after=%v", before, after)
	}
	if after > 0.1 {
		t.Fatalf("expected near-perfect fit of a single example, error=%v", after)
	}
}

func TestRegressionHeadStepWithoutGradientsIsNoop(t *testing.T) {
	h := NewRegressionHead(2, 7)
	x := []float32{1, 2}
	before := h.Forward(x)
	h.Step(0.5)
	if got := h.Forward(x); got != before {
		t.Fatalf("Step without gradients changed the head: %v vs %v", got, before)
	}
}

func TestClassificationHeadLearns(t *testing.T) {
	h := NewClassificationHead(3, 3, 42)
	x := []float32{0.3, -0.7, 0.4}
	class := 2

	before := CrossEntropy(h.Forward(x), class)
	for range 200 {
		logits := h.Forward(x)
		h.Backward(x, logits, class)
		h.Step(0.5)
	}
	after := CrossEntropy(h.Forward(x), class)
	if after >= before {
		t.Fatalf("cross-entropy did not decrease: before=%v after=%v", before, after)
	}
	if Argmax(h.Forward(x)) != class {
		t.Fatal("trained head does not predict the target class")
	}
}

func TestFeatureHeadEvalDeterministic(t *testing.T) {
	h := NewFeatureHead(4, 8, 11)
	x := []float32{1, 2, 3, 4}
	a := h.Forward(x, false)
	b := h.Forward(x, false)
	if a != b {
		t.Fatalf("eval-mode forward not deterministic: %v vs %v", a, b)
	}
	if a <= 1.0 || a >= 5.0 {
		t.Fatalf("prediction %v outside (1,5)", a)
	}
}

func TestFeatureHeadLearns(t *testing.T) {
	h := NewFeatureHead(2, 16, 3)
	x := []float32{0.4, -0.9}
	target := 2.0

	var first, last float64
	for i := range 400 {
		pred := h.Forward(x, true)
		loss := (pred - target) * (pred - target)
		if i == 0 {
			first = loss
		}
		last = loss
		h.Backward(x, pred, target)
		h.Step(0.2)
	}
	if last >= first {
		t.Fatalf("feature head did not learn: first=%v last=%v", first, last)
	}
}

func TestHeadStateRoundTrip(t *testing.T) {
	reg := NewRegressionHead(3, 1)
	x := []float32{0.1, 0.2, 0.3}
	want := reg.Forward(x)

	other := NewRegressionHead(3, 99)
	if other.Forward(x) == want {
		t.Fatal("test needs differently initialised heads")
	}
	if err := other.LoadState(reg.State()); err != nil {
		t.Fatal(err)
	}
	if got := other.Forward(x); got != want {
		t.Fatalf("state round trip changed prediction: %v vs %v", got, want)
	}

	cls := NewClassificationHead(3, 2, 1)
	clsCopy := NewClassificationHead(3, 2, 50)
	if err := clsCopy.LoadState(cls.State()); err != nil {
		t.Fatal(err)
	}
	a := cls.Forward(x)
	b := clsCopy.Forward(x)
	for i := range a {
		if a[i] != b[i] {
			t.Fatalf("classification state mismatch at %d", i)
		}
	}
}
