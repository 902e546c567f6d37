package model

import "math"

func sigmoid(z float64) float64 {
	return 1.0 / (1.0 + math.Exp(-z))
}

// squash bounds a raw activation into the valid [1,5] score range.
func squash(z float64) float64 {
	return 1 + 4*sigmoid(z)
}

// Softmax returns the softmax of logits, computed with the usual max
// subtraction for numerical stability.
func Softmax(logits []float64) []float64 {
	out := make([]float64, len(logits))
	if len(logits) == 0 {
		return out
	}
	maxv := logits[0]
	for _, v := range logits[1:] {
		if v > maxv {
			maxv = v
		}
	}
	var sum float64
	for i, v := range logits {
		e := math.Exp(v - maxv)
		out[i] = e
		sum += e
	}
	if sum == 0 {
		return out
	}
	for i := range out {
		out[i] /= sum
	}
	return out
}

// Argmax returns the index of the maximum value. It panics on an empty slice.
func Argmax(xs []float64) int {
	if len(xs) == 0 {
		panic("argmax: empty slice")
	}
	best := 0
	for i := 1; i < len(xs); i++ {
		if xs[i] > xs[best] {
			best = i
		}
	}
	return best
}

// CrossEntropy returns -log softmax(logits)[class].
func CrossEntropy(logits []float64, class int) float64 {
	if class < 0 || class >= len(logits) {
		panic("cross entropy: class out of range")
	}
	maxv := logits[0]
	for _, v := range logits[1:] {
		if v > maxv {
			maxv = v
		}
	}
	var sum float64
	for _, v := range logits {
		sum += math.Exp(v - maxv)
	}
	return math.Log(sum) - (logits[class] - maxv)
}

func argmax32(xs []float32) int {
	if len(xs) == 0 {
		panic("argmax: empty slice")
	}
	best := 0
	for i := 1; i < len(xs); i++ {
		if xs[i] > xs[best] {
			best = i
		}
	}
	return best
}

func softmax32(dst, logits []float32) {
	maxv := logits[0]
	for _, v := range logits[1:] {
		if v > maxv {
			maxv = v
		}
	}
	var sum float64
	for i, v := range logits {
		e := math.Exp(float64(v - maxv))
		dst[i] = float32(e)
		sum += e
	}
	if sum == 0 {
		return
	}
	inv := float32(1.0 / sum)
	for i := range dst {
		dst[i] *= inv
	}
}
