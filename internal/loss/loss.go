// Package loss provides reconstruction loss functions.
package loss

import (
	"fmt"
	"math"
)

// BackwardInPlacer is an optional interface for loss functions that support
// in-place gradient computation to avoid allocations.
type BackwardInPlacer interface {
	BackwardInPlace(yPred, yTrue, grad []float32)
}

// Loss is a loss function with derivative.
type Loss interface {
	// Forward computes the loss between predicted and true values.
	Forward(yPred, yTrue []float32) float32

	// Backward computes the gradient of the loss w.r.t. prediction.
	// This creates a new slice and should be avoided in hot loops.
	Backward(yPred, yTrue []float32) []float32
}

// MSE (Mean Squared Error) loss.
type MSE struct{}

// Forward computes mean squared error: (1/n) * sum((y_pred - y_true)^2)
func (m MSE) Forward(yPred, yTrue []float32) float32 {
	n := len(yPred)
	if n != len(yTrue) {
		panic("MSE: prediction and target must have same length")
	}

	var sum float64
	for i := 0; i < n; i++ {
		diff := float64(yPred[i] - yTrue[i])
		sum += diff * diff
	}
	return float32(sum / float64(n))
}

// Backward computes gradient: dL/dy_pred = (2/n) * (y_pred - y_true)
func (m MSE) Backward(yPred, yTrue []float32) []float32 {
	grad := make([]float32, len(yPred))
	m.BackwardInPlace(yPred, yTrue, grad)
	return grad
}

// BackwardInPlace computes gradient and stores it in the grad slice.
func (m MSE) BackwardInPlace(yPred, yTrue, grad []float32) {
	n := len(yPred)
	if n != len(yTrue) || n != len(grad) {
		panic("MSE: slices must have same length")
	}

	factor := 2 / float32(n)
	for i := 0; i < n; i++ {
		grad[i] = factor * (yPred[i] - yTrue[i])
	}
}

// bceEpsilon keeps log() and the gradient denominator finite.
const bceEpsilon = 1e-7

func clipProb(p float32) float64 {
	v := float64(p)
	if v < bceEpsilon {
		return bceEpsilon
	}
	if v > 1-bceEpsilon {
		return 1 - bceEpsilon
	}
	return v
}

// BCELoss (Binary Cross Entropy) loss.
// Requires predictions to be in range [0, 1]; targets may be soft.
type BCELoss struct{}

// Forward computes binary cross entropy: -(1/n) * sum(y*log(p) + (1-y)*log(1-p))
func (b BCELoss) Forward(yPred, yTrue []float32) float32 {
	n := len(yPred)
	if n != len(yTrue) {
		panic("BCELoss: prediction and target must have same length")
	}

	var sum float64
	for i := 0; i < n; i++ {
		pred := clipProb(yPred[i])
		y := float64(yTrue[i])
		sum += y*math.Log(pred) + (1-y)*math.Log(1-pred)
	}
	loss := -sum / float64(n)
	if loss < 0 {
		// rounding only; the true minimum is the target entropy >= 0
		loss = 0
	}
	return float32(loss)
}

// Backward computes gradient for BCE loss.
// Gradient: d/d_pred = (pred - y) / (pred * (1-pred)) / n
func (b BCELoss) Backward(yPred, yTrue []float32) []float32 {
	grad := make([]float32, len(yPred))
	b.BackwardInPlace(yPred, yTrue, grad)
	return grad
}

// BackwardInPlace computes gradient and stores it in the grad slice.
func (b BCELoss) BackwardInPlace(yPred, yTrue, grad []float32) {
	n := len(yPred)
	if n != len(yTrue) || n != len(grad) {
		panic("BCELoss: slices must have same length")
	}

	for i := 0; i < n; i++ {
		pred := clipProb(yPred[i])
		grad[i] = float32((pred - float64(yTrue[i])) / (pred * (1 - pred) * float64(n)))
	}
}

// Name returns the canonical name of a known loss.
func Name(l Loss) string {
	switch l.(type) {
	case BCELoss, *BCELoss:
		return "binary_crossentropy"
	case MSE, *MSE:
		return "mse"
	default:
		return fmt.Sprintf("%T", l)
	}
}

// ByName resolves a canonical loss name.
func ByName(name string) (Loss, error) {
	switch name {
	case "binary_crossentropy", "bce":
		return BCELoss{}, nil
	case "mse":
		return MSE{}, nil
	default:
		return nil, fmt.Errorf("unknown loss %q", name)
	}
}
