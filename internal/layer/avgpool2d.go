package layer

import "fmt"

// AvgPool2D downsamples each channel by averaging non-overlapping or
// strided windows. Padded cells count as zeros in the average.
type AvgPool2D struct {
	kernelSize int
	stride     int
	padding    int

	in  Shape
	out Shape

	outputBuf []float32
	gradInBuf []float32
}

// NewAvgPool2D creates an average pooling layer over an input of shape in.
func NewAvgPool2D(in Shape, kernelSize, stride, padding int) *AvgPool2D {
	a := &AvgPool2D{
		kernelSize: kernelSize,
		stride:     stride,
		padding:    padding,
		in:         in,
	}
	a.out = Shape{
		H: (in.H+2*padding-kernelSize)/stride + 1,
		W: (in.W+2*padding-kernelSize)/stride + 1,
		C: in.C,
	}
	a.outputBuf = make([]float32, a.out.Size())
	a.gradInBuf = make([]float32, in.Size())
	return a
}

// Forward averages every window of the input.
func (a *AvgPool2D) Forward(input []float32) []float32 {
	if len(input) != a.in.Size() {
		panic(fmt.Sprintf("AvgPool2D: input length %d, expected %d", len(input), a.in.Size()))
	}
	k, s, p := a.kernelSize, a.stride, a.padding
	inH, inW := a.in.H, a.in.W
	outH, outW := a.out.H, a.out.W
	scale := 1 / float32(k*k)

	for c := 0; c < a.in.C; c++ {
		inOff := c * inH * inW
		outOff := c * outH * outW
		for oh := 0; oh < outH; oh++ {
			for ow := 0; ow < outW; ow++ {
				var sum float32
				for kh := 0; kh < k; kh++ {
					ih := oh*s + kh - p
					if ih < 0 || ih >= inH {
						continue
					}
					for kw := 0; kw < k; kw++ {
						iw := ow*s + kw - p
						if iw >= 0 && iw < inW {
							sum += input[inOff+ih*inW+iw]
						}
					}
				}
				a.outputBuf[outOff+oh*outW+ow] = sum * scale
			}
		}
	}
	return a.outputBuf
}

// Backward spreads each output gradient evenly over its window.
func (a *AvgPool2D) Backward(grad []float32) []float32 {
	for i := range a.gradInBuf {
		a.gradInBuf[i] = 0
	}
	k, s, p := a.kernelSize, a.stride, a.padding
	inH, inW := a.in.H, a.in.W
	outH, outW := a.out.H, a.out.W
	scale := 1 / float32(k*k)

	for c := 0; c < a.in.C; c++ {
		inOff := c * inH * inW
		outOff := c * outH * outW
		for oh := 0; oh < outH; oh++ {
			for ow := 0; ow < outW; ow++ {
				g := grad[outOff+oh*outW+ow] * scale
				for kh := 0; kh < k; kh++ {
					ih := oh*s + kh - p
					if ih < 0 || ih >= inH {
						continue
					}
					for kw := 0; kw < k; kw++ {
						iw := ow*s + kw - p
						if iw >= 0 && iw < inW {
							a.gradInBuf[inOff+ih*inW+iw] += g
						}
					}
				}
			}
		}
	}
	return a.gradInBuf
}

func (a *AvgPool2D) Params() []float32    { return nil }
func (a *AvgPool2D) SetParams([]float32)  {}
func (a *AvgPool2D) Gradients() []float32 { return nil }
func (a *AvgPool2D) ClearGradients()      {}

func (a *AvgPool2D) InSize() int  { return a.in.Size() }
func (a *AvgPool2D) OutSize() int { return a.out.Size() }

func (a *AvgPool2D) InputShape() Shape  { return a.in }
func (a *AvgPool2D) OutputShape() Shape { return a.out }

// GetKernelSize returns the pooling window size.
func (a *AvgPool2D) GetKernelSize() int { return a.kernelSize }

// GetStride returns the stride.
func (a *AvgPool2D) GetStride() int { return a.stride }

// GetPadding returns the padding.
func (a *AvgPool2D) GetPadding() int { return a.padding }
