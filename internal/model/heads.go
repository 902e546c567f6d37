package model

import (
	"fmt"
	"math/rand"

	"github.com/pmoura/seqtune/internal/tensor"
)

// RegressionHead maps a pooled hidden vector to a score in [1,5] via
// 1 + 4*sigmoid(w·x + b). Gradients accumulate across Backward calls and are
// applied with Step, so the harness controls the accumulation window.
type RegressionHead struct {
	w []float32
	b float32

	gw []float32
	gb float32
	n  int
}

func NewRegressionHead(in int, seed int64) *RegressionHead {
	h := &RegressionHead{
		w:  make([]float32, in),
		gw: make([]float32, in),
	}
	tensor.FillRandVec(h.w, seed)
	return h
}

func (h *RegressionHead) Forward(x []float32) float64 {
	return squash(float64(tensor.Dot(h.w, x)) + float64(h.b))
}

// Backward accumulates the squared-error gradient for one example.
func (h *RegressionHead) Backward(x []float32, pred, target float64) {
	// pred = 1 + 4s, so s and its derivative come back out of the prediction.
	s := (pred - 1) / 4
	dz := float32(2 * (pred - target) * 4 * s * (1 - s))
	for i := range h.gw {
		h.gw[i] += dz * x[i]
	}
	h.gb += dz
	h.n++
}

func (h *RegressionHead) Step(lr float32) {
	if h.n == 0 {
		return
	}
	scale := lr / float32(h.n)
	for i := range h.w {
		h.w[i] -= scale * h.gw[i]
		h.gw[i] = 0
	}
	h.b -= scale * h.gb
	h.gb = 0
	h.n = 0
}

func (h *RegressionHead) State() map[string][]float32 {
	return map[string][]float32{
		"head.reg.w": append([]float32(nil), h.w...),
		"head.reg.b": {h.b},
	}
}

func (h *RegressionHead) LoadState(state map[string][]float32) error {
	w, ok := state["head.reg.w"]
	if !ok || len(w) != len(h.w) {
		return fmt.Errorf("model: bad regression head state")
	}
	b, ok := state["head.reg.b"]
	if !ok || len(b) != 1 {
		return fmt.Errorf("model: bad regression head bias state")
	}
	copy(h.w, w)
	h.b = b[0]
	return nil
}

// FeatureHead is the shallow nonlinear projection used by feature-only
// regression: linear, ReLU, dropout, then a scalar projection squashed into
// [1,5]. The input is the fixed-length numeric feature vector, not a
// backbone state.
type FeatureHead struct {
	w1 tensor.Mat // [hidden x in]
	b1 []float32
	w2 []float32 // [hidden]
	b2 float32

	gw1 tensor.Mat
	gb1 []float32
	gw2 []float32
	gb2 float32
	n   int

	dropRate float32
	rng      *rand.Rand

	// caches from the last Forward; steps are single-threaded.
	z1   []float32
	act  []float32
	keep []float32
}

func NewFeatureHead(in, hidden int, seed int64) *FeatureHead {
	h := &FeatureHead{
		w1:       tensor.NewMat(hidden, in),
		b1:       make([]float32, hidden),
		w2:       make([]float32, hidden),
		gw1:      tensor.NewMat(hidden, in),
		gb1:      make([]float32, hidden),
		gw2:      make([]float32, hidden),
		dropRate: 0.5,
		rng:      rand.New(rand.NewSource(seed + 7)),
		z1:       make([]float32, hidden),
		act:      make([]float32, hidden),
		keep:     make([]float32, hidden),
	}
	tensor.FillRand(&h.w1, seed+3)
	tensor.FillRandVec(h.w2, seed+5)
	return h
}

// Forward computes the squashed prediction. With train set, inverted dropout
// is applied to the hidden activations and the pass is cached for Backward.
func (h *FeatureHead) Forward(x []float32, train bool) float64 {
	tensor.MatVec(h.z1, &h.w1, x)
	invKeep := float32(1.0) / (1.0 - h.dropRate)
	for i := range h.z1 {
		h.z1[i] += h.b1[i]
		a := h.z1[i]
		if a < 0 {
			a = 0
		}
		h.keep[i] = 1
		if train {
			if h.rng.Float32() < h.dropRate {
				h.keep[i] = 0
			} else {
				h.keep[i] = invKeep
			}
		}
		h.act[i] = a * h.keep[i]
	}
	z2 := float64(tensor.Dot(h.w2, h.act)) + float64(h.b2)
	return squash(z2)
}

// Backward accumulates gradients for the example last passed to Forward with
// train set.
func (h *FeatureHead) Backward(x []float32, pred, target float64) {
	s := (pred - 1) / 4
	dz2 := float32(2 * (pred - target) * 4 * s * (1 - s))

	for i := range h.gw2 {
		h.gw2[i] += dz2 * h.act[i]
	}
	h.gb2 += dz2

	for i := range h.z1 {
		if h.z1[i] <= 0 || h.keep[i] == 0 {
			continue
		}
		dz1 := dz2 * h.w2[i] * h.keep[i]
		grow := h.gw1.Row(i)
		for j := range x {
			grow[j] += dz1 * x[j]
		}
		h.gb1[i] += dz1
	}
	h.n++
}

func (h *FeatureHead) Step(lr float32) {
	if h.n == 0 {
		return
	}
	scale := lr / float32(h.n)
	for i := range h.w1.Data {
		h.w1.Data[i] -= scale * h.gw1.Data[i]
		h.gw1.Data[i] = 0
	}
	for i := range h.b1 {
		h.b1[i] -= scale * h.gb1[i]
		h.gb1[i] = 0
	}
	for i := range h.w2 {
		h.w2[i] -= scale * h.gw2[i]
		h.gw2[i] = 0
	}
	h.b2 -= scale * h.gb2
	h.gb2 = 0
	h.n = 0
}

func (h *FeatureHead) State() map[string][]float32 {
	return map[string][]float32{
		"head.feat.w1": append([]float32(nil), h.w1.Data...),
		"head.feat.b1": append([]float32(nil), h.b1...),
		"head.feat.w2": append([]float32(nil), h.w2...),
		"head.feat.b2": {h.b2},
	}
}

func (h *FeatureHead) LoadState(state map[string][]float32) error {
	for key, dst := range map[string][]float32{
		"head.feat.w1": h.w1.Data,
		"head.feat.b1": h.b1,
		"head.feat.w2": h.w2,
	} {
		src, ok := state[key]
		if !ok || len(src) != len(dst) {
			return fmt.Errorf("model: bad feature head state for %q", key)
		}
		copy(dst, src)
	}
	b2, ok := state["head.feat.b2"]
	if !ok || len(b2) != 1 {
		return fmt.Errorf("model: bad feature head state for %q", "head.feat.b2")
	}
	h.b2 = b2[0]
	return nil
}

// ClassificationHead maps a pooled hidden vector to class logits trained
// with cross-entropy.
type ClassificationHead struct {
	w tensor.Mat // [classes x in]
	b []float32

	gw tensor.Mat
	gb []float32
	n  int
}

func NewClassificationHead(in, classes int, seed int64) *ClassificationHead {
	h := &ClassificationHead{
		w:  tensor.NewMat(classes, in),
		b:  make([]float32, classes),
		gw: tensor.NewMat(classes, in),
		gb: make([]float32, classes),
	}
	tensor.FillRand(&h.w, seed+13)
	return h
}

func (h *ClassificationHead) Classes() int {
	return h.w.R
}

// Forward returns the class logits for one example.
func (h *ClassificationHead) Forward(x []float32) []float64 {
	logits := make([]float64, h.w.R)
	for k := 0; k < h.w.R; k++ {
		logits[k] = float64(tensor.Dot(h.w.Row(k), x)) + float64(h.b[k])
	}
	return logits
}

// Backward accumulates the cross-entropy gradient (softmax minus one-hot).
func (h *ClassificationHead) Backward(x []float32, logits []float64, class int) {
	probs := Softmax(logits)
	for k := range probs {
		g := float32(probs[k])
		if k == class {
			g -= 1
		}
		grow := h.gw.Row(k)
		for j := range x {
			grow[j] += g * x[j]
		}
		h.gb[k] += g
	}
	h.n++
}

func (h *ClassificationHead) Step(lr float32) {
	if h.n == 0 {
		return
	}
	scale := lr / float32(h.n)
	for i := range h.w.Data {
		h.w.Data[i] -= scale * h.gw.Data[i]
		h.gw.Data[i] = 0
	}
	for k := range h.b {
		h.b[k] -= scale * h.gb[k]
		h.gb[k] = 0
	}
	h.n = 0
}

func (h *ClassificationHead) State() map[string][]float32 {
	return map[string][]float32{
		"head.cls.w": append([]float32(nil), h.w.Data...),
		"head.cls.b": append([]float32(nil), h.b...),
	}
}

func (h *ClassificationHead) LoadState(state map[string][]float32) error {
	w, ok := state["head.cls.w"]
	if !ok || len(w) != len(h.w.Data) {
		return fmt.Errorf("model: bad classification head state")
	}
	b, ok := state["head.cls.b"]
	if !ok || len(b) != len(h.b) {
		return fmt.Errorf("model: bad classification head bias state")
	}
	copy(h.w.Data, w)
	copy(h.b, b)
	return nil
}
