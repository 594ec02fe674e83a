// Package layer provides neural network layer implementations.
//
// Layers operate on a single sample at a time. Spatial tensors are
// flattened channel-major: [channels, height, width].
package layer

import (
	"fmt"
	"math/rand/v2"
)

// Layer is a neural network layer.
type Layer interface {
	Forward(x []float32) []float32
	// Backward returns the gradient w.r.t. the input of the last Forward
	// call and accumulates parameter gradients until ClearGradients.
	Backward(grad []float32) []float32
	Params() []float32
	SetParams([]float32)
	Gradients() []float32
	ClearGradients()
	InSize() int
	OutSize() int
}

// Spatial is implemented by layers that know their input and output
// feature-map shapes.
type Spatial interface {
	InputShape() Shape
	OutputShape() Shape
}

// Shape is the (height, width, channels) layout of one sample.
type Shape struct {
	H, W, C int
}

// Size returns the number of scalars in one sample of this shape.
func (s Shape) Size() int {
	return s.H * s.W * s.C
}

func (s Shape) String() string {
	return fmt.Sprintf("(%d, %d, %d)", s.H, s.W, s.C)
}

// NewRNG returns a deterministic generator for weight initialization.
func NewRNG(seed uint64) *rand.Rand {
	return rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))
}

// HWCToCHW converts an interleaved sample into the planar layout used by
// the spatial layers. dst must have len(src) capacity.
func HWCToCHW(dst, src []float32, s Shape) []float32 {
	dst = dst[:s.Size()]
	if s.C == 1 {
		copy(dst, src)
		return dst
	}
	plane := s.H * s.W
	for p := 0; p < plane; p++ {
		for c := 0; c < s.C; c++ {
			dst[c*plane+p] = src[p*s.C+c]
		}
	}
	return dst
}

// CHWToHWC is the inverse of HWCToCHW.
func CHWToHWC(dst, src []float32, s Shape) []float32 {
	dst = dst[:s.Size()]
	if s.C == 1 {
		copy(dst, src)
		return dst
	}
	plane := s.H * s.W
	for p := 0; p < plane; p++ {
		for c := 0; c < s.C; c++ {
			dst[p*s.C+c] = src[c*plane+p]
		}
	}
	return dst
}
