// Package opt provides optimization algorithms.
package opt

import "math"

// Optimizer updates network parameters based on gradients.
type Optimizer interface {
	// StepInPlace updates params in-place from their gradients.
	// params and gradients always cover the whole network in the same order.
	StepInPlace(params, gradients []float32)

	// Reset drops any per-parameter state.
	Reset()
}

// Adam implements adaptive moment estimation (Kingma & Ba, 2015) with
// bias-corrected first and second moments.
type Adam struct {
	LearningRate float32
	Beta1        float32 // Exponential decay rate for first moment
	Beta2        float32 // Exponential decay rate for second moment
	Epsilon      float32 // Small constant for numerical stability

	m []float32
	v []float32
	t int
}

// NewAdam creates a new Adam optimizer with default values.
func NewAdam(learningRate float32) *Adam {
	return &Adam{
		LearningRate: learningRate,
		Beta1:        0.9,
		Beta2:        0.999,
		Epsilon:      1e-7,
	}
}

// StepInPlace applies one Adam update.
func (a *Adam) StepInPlace(params, gradients []float32) {
	if len(a.m) != len(params) {
		a.m = make([]float32, len(params))
		a.v = make([]float32, len(params))
		a.t = 0
	}
	a.t++

	b1, b2 := a.Beta1, a.Beta2
	bc1 := 1 - math.Pow(float64(b1), float64(a.t))
	bc2 := 1 - math.Pow(float64(b2), float64(a.t))
	// Fold both bias corrections into the step size.
	stepSize := float32(float64(a.LearningRate) * math.Sqrt(bc2) / bc1)
	epsHat := float32(float64(a.Epsilon) * math.Sqrt(bc2))

	for i, g := range gradients {
		a.m[i] = b1*a.m[i] + (1-b1)*g
		a.v[i] = b2*a.v[i] + (1-b2)*g*g
		params[i] -= stepSize * a.m[i] / (float32(math.Sqrt(float64(a.v[i]))) + epsHat)
	}
}

// Reset drops the moment estimates.
func (a *Adam) Reset() {
	a.m, a.v, a.t = nil, nil, 0
}

// Steps returns the number of updates applied since the last reset.
func (a *Adam) Steps() int {
	return a.t
}
