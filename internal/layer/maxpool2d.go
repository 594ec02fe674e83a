// Package layer provides neural network layer implementations.
package layer

import (
	"fmt"
	"math"
)

// MaxPool2D implements 2D max pooling.
// Downsamples by taking the maximum over sliding windows.
// Stores argmax indices for correct gradient flow during backward pass.
type MaxPool2D struct {
	kernelSize int
	stride     int
	padding    int

	inChannels  int
	inputHeight int
	inputWidth  int

	outputHeight int
	outputWidth  int

	outputBuf []float32
	gradInBuf []float32
	argmaxBuf []int // index of the max input for each output position

	inputLen int
}

// NewMaxPool2D creates a new 2D max pooling layer.
// inChannels: number of input channels
// kernelSize: size of pooling window (square)
// stride: stride for pooling
// padding: padding size (padded cells never win)
func NewMaxPool2D(inChannels, kernelSize, stride, padding int) *MaxPool2D {
	return &MaxPool2D{
		inChannels: inChannels,
		kernelSize: kernelSize,
		stride:     stride,
		padding:    padding,
	}
}

// SetInputDimensions fixes the input spatial dimensions.
func (m *MaxPool2D) SetInputDimensions(height, width int) {
	m.inputHeight = height
	m.inputWidth = width
	m.outputHeight, m.outputWidth = m.computeOutputSize(height, width)
}

func (m *MaxPool2D) computeOutputSize(inputHeight, inputWidth int) (int, int) {
	outH := (inputHeight+2*m.padding-m.kernelSize)/m.stride + 1
	outW := (inputWidth+2*m.padding-m.kernelSize)/m.stride + 1
	return outH, outW
}

// Forward performs a forward pass through the max pooling layer.
func (m *MaxPool2D) Forward(input []float32) []float32 {
	totalInput := len(input)
	if m.inChannels <= 0 {
		panic("MaxPool2D: inChannels not set. Use NewMaxPool2D with inChannels parameter.")
	}
	if totalInput%m.inChannels != 0 {
		panic(fmt.Sprintf("MaxPool2D: input length %d not divisible by inChannels %d", totalInput, m.inChannels))
	}
	channelSize := totalInput / m.inChannels
	if m.inputHeight*m.inputWidth != channelSize {
		side := int(math.Sqrt(float64(channelSize)))
		if side*side != channelSize {
			panic(fmt.Sprintf("MaxPool2D: cannot infer dimensions of input %d", channelSize))
		}
		m.SetInputDimensions(side, side)
	}

	outH, outW := m.outputHeight, m.outputWidth
	requiredOutput := m.inChannels * outH * outW
	if len(m.outputBuf) < requiredOutput {
		m.outputBuf = make([]float32, requiredOutput)
		m.argmaxBuf = make([]int, requiredOutput)
	}
	if len(m.gradInBuf) < totalInput {
		m.gradInBuf = make([]float32, totalInput)
	}
	m.inputLen = totalInput

	kernelSize := m.kernelSize
	stride := m.stride
	padding := m.padding
	inputHeight := m.inputHeight
	inputWidth := m.inputWidth
	channelStride := inputHeight * inputWidth
	outputChannelStride := outH * outW

	for c := 0; c < m.inChannels; c++ {
		channelOffset := c * channelStride
		outputOffset := c * outputChannelStride

		for oh := 0; oh < outH; oh++ {
			for ow := 0; ow < outW; ow++ {
				maxVal := float32(math.Inf(-1))
				maxIdx := -1

				for kh := 0; kh < kernelSize; kh++ {
					inH := oh*stride + kh - padding
					if inH < 0 || inH >= inputHeight {
						continue
					}
					for kw := 0; kw < kernelSize; kw++ {
						inW := ow*stride + kw - padding
						if inW >= 0 && inW < inputWidth {
							idx := channelOffset + inH*inputWidth + inW
							if maxIdx < 0 || input[idx] > maxVal {
								maxVal = input[idx]
								maxIdx = idx
							}
						}
					}
				}

				pos := outputOffset + oh*outW + ow
				m.outputBuf[pos] = maxVal
				m.argmaxBuf[pos] = maxIdx
			}
		}
	}

	return m.outputBuf[:requiredOutput]
}

// Backward routes each output gradient to the input that won the max.
func (m *MaxPool2D) Backward(grad []float32) []float32 {
	gradIn := m.gradInBuf[:m.inputLen]
	for i := range gradIn {
		gradIn[i] = 0
	}

	n := m.inChannels * m.outputHeight * m.outputWidth
	for pos := 0; pos < n; pos++ {
		if maxIdx := m.argmaxBuf[pos]; maxIdx >= 0 {
			gradIn[maxIdx] += grad[pos]
		}
	}
	return gradIn
}

// Params returns layer parameters (empty for MaxPool2D).
func (m *MaxPool2D) Params() []float32 {
	return nil
}

// SetParams is a no-op for MaxPool2D.
func (m *MaxPool2D) SetParams(params []float32) {}

// Gradients returns layer gradients (empty for MaxPool2D).
func (m *MaxPool2D) Gradients() []float32 {
	return nil
}

// ClearGradients is a no-op for MaxPool2D.
func (m *MaxPool2D) ClearGradients() {}

// InSize returns the total input size (channels * height * width).
func (m *MaxPool2D) InSize() int {
	return m.inChannels * m.inputHeight * m.inputWidth
}

// OutSize returns the total output size (channels * outputHeight * outputWidth).
func (m *MaxPool2D) OutSize() int {
	return m.inChannels * m.outputHeight * m.outputWidth
}

// InputShape returns the configured input shape.
func (m *MaxPool2D) InputShape() Shape {
	return Shape{H: m.inputHeight, W: m.inputWidth, C: m.inChannels}
}

// OutputShape returns the pooled output shape.
func (m *MaxPool2D) OutputShape() Shape {
	return Shape{H: m.outputHeight, W: m.outputWidth, C: m.inChannels}
}

// GetKernelSize returns the kernel size.
func (m *MaxPool2D) GetKernelSize() int {
	return m.kernelSize
}

// GetStride returns the stride.
func (m *MaxPool2D) GetStride() int {
	return m.stride
}

// GetPadding returns the padding.
func (m *MaxPool2D) GetPadding() int {
	return m.padding
}

// GetArgmax returns the argmax indices buffer (for testing/verification).
func (m *MaxPool2D) GetArgmax() []int {
	return m.argmaxBuf[:m.inChannels*m.outputHeight*m.outputWidth]
}
