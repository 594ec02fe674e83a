// Package activations provides element-wise activation functions.
package activations

import (
	"fmt"
	"math"
)

// Activation is an activation function with derivative.
type Activation interface {
	// Activate computes f(x)
	Activate(x float32) float32

	// Derivative computes f'(x) given the pre-activation x
	Derivative(x float32) float32
}

// ReLU activation function.
type ReLU struct{}

// Activate computes max(0, x)
func (r ReLU) Activate(x float32) float32 {
	if x > 0 {
		return x
	}
	return 0
}

// Derivative returns 1 if x > 0, else 0
func (r ReLU) Derivative(x float32) float32 {
	if x > 0 {
		return 1
	}
	return 0
}

// Sigmoid activation function.
type Sigmoid struct{}

func sigmoid(x float32) float32 {
	return float32(1 / (1 + math.Exp(-float64(x))))
}

// Activate computes sigmoid(x)
func (s Sigmoid) Activate(x float32) float32 {
	return sigmoid(x)
}

// Derivative computes sigmoid(x) * (1 - sigmoid(x))
func (s Sigmoid) Derivative(x float32) float32 {
	sigma := sigmoid(x)
	return sigma * (1 - sigma)
}

// LeakyReLU activation function to prevent dying neurons.
type LeakyReLU struct {
	Alpha float32 // Slope for x <= 0
}

// NewLeakyReLU creates a LeakyReLU with the given alpha value.
func NewLeakyReLU(alpha float32) *LeakyReLU {
	return &LeakyReLU{Alpha: alpha}
}

// Activate computes x if x > 0, else alpha*x
func (l *LeakyReLU) Activate(x float32) float32 {
	if x > 0 {
		return x
	}
	return l.Alpha * x
}

// Derivative returns 1 if x > 0, else alpha
func (l *LeakyReLU) Derivative(x float32) float32 {
	if x > 0 {
		return 1
	}
	return l.Alpha
}

// Tanh activation function.
type Tanh struct{}

// Activate computes tanh(x)
func (t Tanh) Activate(x float32) float32 {
	return float32(math.Tanh(float64(x)))
}

// Derivative computes 1 - tanh(x)^2
func (t Tanh) Derivative(x float32) float32 {
	th := t.Activate(x)
	return 1 - th*th
}

// Linear is the identity activation.
type Linear struct{}

func (l Linear) Activate(x float32) float32   { return x }
func (l Linear) Derivative(x float32) float32 { return 1 }

// Name returns the canonical name of a known activation.
// Unknown implementations map to "linear".
func Name(act Activation) string {
	switch act.(type) {
	case ReLU, *ReLU:
		return "relu"
	case Sigmoid, *Sigmoid:
		return "sigmoid"
	case Tanh, *Tanh:
		return "tanh"
	case *LeakyReLU:
		return "leaky_relu"
	default:
		return "linear"
	}
}

// ByName resolves a canonical activation name.
func ByName(name string) (Activation, error) {
	switch name {
	case "relu":
		return ReLU{}, nil
	case "sigmoid":
		return Sigmoid{}, nil
	case "tanh":
		return Tanh{}, nil
	case "leaky_relu":
		return NewLeakyReLU(0.01), nil
	case "linear", "":
		return Linear{}, nil
	default:
		return nil, fmt.Errorf("unknown activation %q", name)
	}
}
