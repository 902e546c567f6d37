package metric

import (
	"errors"
	"math"
	"testing"

	"gonum.org/v1/gonum/stat"

	"github.com/pmoura/seqtune/internal/logger"
)

func TestObserveShapeMismatchLeavesNoState(t *testing.T) {
	p := NewPearson(logger.Discard())
	err := p.Observe([]float64{1, 2, 3}, []float64{1, 2, 3, 4})
	if err == nil {
		t.Fatal("expected ShapeError for mismatched lengths")
	}
	var shapeErr *ShapeError
	if !errors.As(err, &shapeErr) {
		t.Fatalf("expected *ShapeError, got %T: %v", err, err)
	}
	if p.Len() != 0 {
		t.Fatalf("partial state appended after shape error: %d pairs", p.Len())
	}
}

func TestComputeMatchesSingleCall(t *testing.T) {
	// Feeding pairs across multiple Observe calls must equal the correlation
	// of the full concatenated arrays computed in one shot.
	preds := []float64{1.2, 2.5, 3.1, 4.4, 4.9, 2.2}
	targets := []float64{1.0, 2.7, 3.0, 4.0, 5.0, 2.1}

	p := NewPearson(logger.Discard())
	if err := p.Observe(preds[:2], targets[:2]); err != nil {
		t.Fatal(err)
	}
	if err := p.Observe(preds[2:5], targets[2:5]); err != nil {
		t.Fatal(err)
	}
	if err := p.Observe(preds[5:], targets[5:]); err != nil {
		t.Fatal(err)
	}

	got := p.ComputeAndReset()
	want := stat.Correlation(targets, preds, nil)
	if math.Abs(got-want) > 1e-12 {
		t.Fatalf("streamed correlation %v != direct correlation %v", got, want)
	}
}

func TestComputeAndResetAlwaysClears(t *testing.T) {
	p := NewPearson(logger.Discard())
	if err := p.Observe([]float64{2.0, 3.0}, []float64{2.1, 2.9}); err != nil {
		t.Fatal(err)
	}
	if err := p.Observe([]float64{4.0}, []float64{4.2}); err != nil {
		t.Fatal(err)
	}

	r := p.ComputeAndReset()
	if r < 0.99 {
		t.Fatalf("expected strong positive correlation, got %v", r)
	}
	if p.Len() != 0 {
		t.Fatalf("accumulator not cleared after compute: %d pairs", p.Len())
	}

	// Second immediate call has no observations: NaN again, still empty.
	if r := p.ComputeAndReset(); !math.IsNaN(r) {
		t.Fatalf("expected NaN with no samples, got %v", r)
	}
	if p.Len() != 0 {
		t.Fatal("accumulator not cleared after NaN path")
	}
}

func TestComputeFewerThanTwoSamplesIsNaN(t *testing.T) {
	p := NewPearson(logger.Discard())
	if err := p.Observe([]float64{3.3}, []float64{3.0}); err != nil {
		t.Fatal(err)
	}
	if r := p.ComputeAndReset(); !math.IsNaN(r) {
		t.Fatalf("expected NaN for single sample, got %v", r)
	}
}

func TestMean(t *testing.T) {
	if got := Mean([]float64{1, 2, 3}); got != 2 {
		t.Fatalf("Mean = %v, want 2", got)
	}
	if got := Mean(nil); !math.IsNaN(got) {
		t.Fatalf("Mean of empty slice should be NaN, got %v", got)
	}
}

func TestFiniteDropsNaN(t *testing.T) {
	in := map[string]float64{
		"val_loss":    0.5,
		"val_pearson": math.NaN(),
	}
	out := Finite(in)
	if _, ok := out["val_pearson"]; ok {
		t.Fatal("NaN metric survived Finite")
	}
	if out["val_loss"] != 0.5 {
		t.Fatalf("finite metric lost: %v", out)
	}
}
