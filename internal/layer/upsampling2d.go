package layer

import "fmt"

// UpSampling2D repeats every input cell into a size×size block
// (nearest-neighbour upsampling).
type UpSampling2D struct {
	size int

	inChannels  int
	inputHeight int
	inputWidth  int

	outputBuf []float32
	gradInBuf []float32
}

// NewUpSampling2D creates an upsampling layer for the given input shape.
func NewUpSampling2D(in Shape, size int) *UpSampling2D {
	if size <= 0 {
		panic(fmt.Sprintf("UpSampling2D: size must be positive, got %d", size))
	}
	return &UpSampling2D{
		size:        size,
		inChannels:  in.C,
		inputHeight: in.H,
		inputWidth:  in.W,
	}
}

// Forward copies each input cell into its output block.
func (u *UpSampling2D) Forward(input []float32) []float32 {
	if len(input) != u.InSize() {
		panic(fmt.Sprintf("UpSampling2D: input length %d, want %d", len(input), u.InSize()))
	}
	out := u.OutSize()
	if len(u.outputBuf) < out {
		u.outputBuf = make([]float32, out)
	}

	s := u.size
	inH, inW := u.inputHeight, u.inputWidth
	outW := inW * s
	plane := inH * inW
	outPlane := plane * s * s
	for c := 0; c < u.inChannels; c++ {
		src := input[c*plane : (c+1)*plane]
		dst := u.outputBuf[c*outPlane : (c+1)*outPlane]
		for oh := 0; oh < inH*s; oh++ {
			row := src[(oh/s)*inW : (oh/s+1)*inW]
			base := oh * outW
			for ow := 0; ow < outW; ow++ {
				dst[base+ow] = row[ow/s]
			}
		}
	}
	return u.outputBuf[:out]
}

// Backward sums the gradient over each block back into its source cell.
func (u *UpSampling2D) Backward(grad []float32) []float32 {
	in := u.InSize()
	if len(u.gradInBuf) < in {
		u.gradInBuf = make([]float32, in)
	}
	gradIn := u.gradInBuf[:in]
	for i := range gradIn {
		gradIn[i] = 0
	}

	s := u.size
	inH, inW := u.inputHeight, u.inputWidth
	outW := inW * s
	plane := inH * inW
	outPlane := plane * s * s
	for c := 0; c < u.inChannels; c++ {
		src := grad[c*outPlane : (c+1)*outPlane]
		dst := gradIn[c*plane : (c+1)*plane]
		for oh := 0; oh < inH*s; oh++ {
			base := (oh / s) * inW
			for ow := 0; ow < outW; ow++ {
				dst[base+ow/s] += src[oh*outW+ow]
			}
		}
	}
	return gradIn
}

func (u *UpSampling2D) Params() []float32        { return nil }
func (u *UpSampling2D) SetParams(params []float32) {}
func (u *UpSampling2D) Gradients() []float32     { return nil }
func (u *UpSampling2D) ClearGradients()          {}

// InSize returns the total input size.
func (u *UpSampling2D) InSize() int {
	return u.inChannels * u.inputHeight * u.inputWidth
}

// OutSize returns the total output size.
func (u *UpSampling2D) OutSize() int {
	return u.InSize() * u.size * u.size
}

// InputShape returns the configured input shape.
func (u *UpSampling2D) InputShape() Shape {
	return Shape{H: u.inputHeight, W: u.inputWidth, C: u.inChannels}
}

// OutputShape returns the upsampled shape.
func (u *UpSampling2D) OutputShape() Shape {
	return Shape{H: u.inputHeight * u.size, W: u.inputWidth * u.size, C: u.inChannels}
}

// GetSize returns the upsampling factor.
func (u *UpSampling2D) GetSize() int {
	return u.size
}
