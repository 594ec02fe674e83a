// Package layer provides neural network layer implementations.
package layer

import (
	"fmt"
	"math"
	"math/rand/v2"

	"github.com/FlavioCFOliveira/denoiser/internal/activations"
)

// Conv2D implements a 2D convolutional layer.
// Uses direct convolution computation for correctness.
type Conv2D struct {
	inChannels  int
	outChannels int
	kernelSize  int
	stride      int
	padding     int

	inputHeight int
	inputWidth  int

	// Weights: [outChannels, inChannels, kernelSize, kernelSize]
	weights []float32
	biases  []float32

	activation activations.Activation

	preActBuf   []float32 // z = w*x + b
	outputBuf   []float32 // activation(z)
	gradWeights []float32
	gradBiases  []float32
	gradInBuf   []float32

	savedInput []float32
}

// NewConv2D creates a new 2D convolutional layer.
// inChannels: number of input channels
// outChannels: number of output feature maps
// kernelSize: size of convolutional kernel (square)
// stride: stride for convolution
// padding: zero padding size
func NewConv2D(inChannels, outChannels, kernelSize, stride, padding int,
	activation activations.Activation) *Conv2D {

	c := &Conv2D{
		inChannels:  inChannels,
		outChannels: outChannels,
		kernelSize:  kernelSize,
		stride:      stride,
		padding:     padding,
		activation:  activation,
		weights:     make([]float32, outChannels*inChannels*kernelSize*kernelSize),
		biases:      make([]float32, outChannels),
	}
	c.gradWeights = make([]float32, len(c.weights))
	c.gradBiases = make([]float32, len(c.biases))
	c.Reinit(NewRNG(42))
	return c
}

// NewSameConv2D creates a stride-1 convolution whose output keeps the
// spatial size of its input. kernelSize must be odd.
func NewSameConv2D(in Shape, outChannels, kernelSize int, activation activations.Activation) *Conv2D {
	if kernelSize%2 == 0 {
		panic(fmt.Sprintf("Conv2D: same padding needs an odd kernel, got %d", kernelSize))
	}
	c := NewConv2D(in.C, outChannels, kernelSize, 1, kernelSize/2, activation)
	c.SetInputDimensions(in.H, in.W)
	return c
}

// Reinit draws fresh weights from rng using He initialization and zeroes
// the biases.
func (c *Conv2D) Reinit(rng *rand.Rand) {
	fanIn := c.inChannels * c.kernelSize * c.kernelSize
	scale := float32(math.Sqrt(6.0 / float64(fanIn)))
	for i := range c.weights {
		c.weights[i] = (rng.Float32()*2 - 1) * scale
	}
	for i := range c.biases {
		c.biases[i] = 0
	}
}

// computeOutputSize calculates the output spatial dimensions
func (c *Conv2D) computeOutputSize(inputHeight, inputWidth int) (int, int) {
	outH := (inputHeight+2*c.padding-c.kernelSize)/c.stride + 1
	outW := (inputWidth+2*c.padding-c.kernelSize)/c.stride + 1
	return outH, outW
}

// SetInputDimensions fixes the input spatial dimensions.
func (c *Conv2D) SetInputDimensions(height, width int) {
	c.inputHeight = height
	c.inputWidth = width
}

func (c *Conv2D) resolveDims(totalInput int) {
	if totalInput%c.inChannels != 0 {
		panic("Conv2D: input length not divisible by inChannels")
	}
	channelSize := totalInput / c.inChannels
	if c.inputHeight > 0 && c.inputWidth > 0 {
		if c.inputHeight*c.inputWidth != channelSize {
			panic(fmt.Sprintf("Conv2D: input dimensions %dx%d don't match channelSize %d", c.inputHeight, c.inputWidth, channelSize))
		}
		return
	}
	side := int(math.Sqrt(float64(channelSize)))
	if side*side != channelSize {
		panic(fmt.Sprintf("Conv2D: cannot infer dimensions of non-square input %d", channelSize))
	}
	c.inputHeight, c.inputWidth = side, side
}

// Forward performs a forward pass through the convolutional layer.
// input: flattened [inChannels, inputHeight, inputWidth]
// Returns: flattened [outChannels, outputHeight, outputWidth]
// The returned slice is reused by the next call.
func (c *Conv2D) Forward(input []float32) []float32 {
	totalInput := len(input)
	c.resolveDims(totalInput)
	inputHeight, inputWidth := c.inputHeight, c.inputWidth

	outH, outW := c.computeOutputSize(inputHeight, inputWidth)
	requiredOutput := c.outChannels * outH * outW
	if len(c.preActBuf) < requiredOutput {
		c.preActBuf = make([]float32, requiredOutput)
		c.outputBuf = make([]float32, requiredOutput)
	}
	if len(c.gradInBuf) < totalInput {
		c.gradInBuf = make([]float32, totalInput)
	}
	if cap(c.savedInput) < totalInput {
		c.savedInput = make([]float32, totalInput)
	}
	c.savedInput = c.savedInput[:totalInput]
	copy(c.savedInput, input)

	outSize := outH * outW
	kernelSize := c.kernelSize
	stride := c.stride
	padding := c.padding
	preAct := c.preActBuf[:requiredOutput]
	for i := range preAct {
		preAct[i] = 0
	}

	icWeightStride := kernelSize * kernelSize
	ocWeightStride := c.inChannels * icWeightStride

	for oc := 0; oc < c.outChannels; oc++ {
		ocWeightBase := oc * ocWeightStride
		ocOutBase := oc * outSize

		for ic := 0; ic < c.inChannels; ic++ {
			icWeightBase := ocWeightBase + ic*icWeightStride
			inputChannelOffset := ic * inputHeight * inputWidth

			for kh := 0; kh < kernelSize; kh++ {
				khWeightBase := icWeightBase + kh*kernelSize

				for kw := 0; kw < kernelSize; kw++ {
					wVal := c.weights[khWeightBase+kw]

					for oh := 0; oh < outH; oh++ {
						inH := oh*stride + kh - padding
						if inH < 0 || inH >= inputHeight {
							continue
						}
						inHOffset := inputChannelOffset + inH*inputWidth
						ohOffset := ocOutBase + oh*outW
						for ow := 0; ow < outW; ow++ {
							inW := ow*stride + kw - padding
							if inW >= 0 && inW < inputWidth {
								preAct[ohOffset+ow] += wVal * input[inHOffset+inW]
							}
						}
					}
				}
			}
		}

		biasVal := c.biases[oc]
		for pos := ocOutBase; pos < ocOutBase+outSize; pos++ {
			sum := preAct[pos] + biasVal
			preAct[pos] = sum
			c.outputBuf[pos] = c.activation.Activate(sum)
		}
	}

	return c.outputBuf[:requiredOutput]
}

// Backward performs backpropagation through the convolutional layer.
// grad: gradient of loss w.r.t. activated output (shape: [outChannels, outH, outW] flattened)
// Returns: gradient of loss w.r.t. input
func (c *Conv2D) Backward(grad []float32) []float32 {
	outH, outW := c.computeOutputSize(c.inputHeight, c.inputWidth)
	outSize := outH * outW

	kernelSize := c.kernelSize
	inChannels := c.inChannels
	stride := c.stride
	padding := c.padding
	inputHeight := c.inputHeight
	inputWidth := c.inputWidth

	gradInput := c.gradInBuf[:inChannels*inputHeight*inputWidth]
	for i := range gradInput {
		gradInput[i] = 0
	}

	icWeightStride := kernelSize * kernelSize
	ocWeightStride := inChannels * icWeightStride

	for oc := 0; oc < c.outChannels; oc++ {
		ocWeightBase := oc * ocWeightStride
		ocOutBase := oc * outSize

		for oh := 0; oh < outH; oh++ {
			ohOffset := ocOutBase + oh*outW
			for ow := 0; ow < outW; ow++ {
				pos := ohOffset + ow

				// dL/dz = dL/d(output) * activation'(z)
				gradAfterAct := grad[pos] * c.activation.Derivative(c.preActBuf[pos])
				if gradAfterAct == 0 {
					continue
				}
				c.gradBiases[oc] += gradAfterAct

				for ic := 0; ic < inChannels; ic++ {
					icWeightBase := ocWeightBase + ic*icWeightStride
					inputChannelOffset := ic * inputHeight * inputWidth

					for kh := 0; kh < kernelSize; kh++ {
						inH := oh*stride + kh - padding
						if inH < 0 || inH >= inputHeight {
							continue
						}
						inHOffset := inputChannelOffset + inH*inputWidth
						khWeightBase := icWeightBase + kh*kernelSize

						for kw := 0; kw < kernelSize; kw++ {
							inW := ow*stride + kw - padding
							if inW >= 0 && inW < inputWidth {
								inputIdx := inHOffset + inW
								weightIdx := khWeightBase + kw
								c.gradWeights[weightIdx] += gradAfterAct * c.savedInput[inputIdx]
								gradInput[inputIdx] += gradAfterAct * c.weights[weightIdx]
							}
						}
					}
				}
			}
		}
	}

	return gradInput
}

// Params returns all convolutional layer parameters flattened (copy).
func (c *Conv2D) Params() []float32 {
	params := make([]float32, len(c.weights)+len(c.biases))
	copy(params, c.weights)
	copy(params[len(c.weights):], c.biases)
	return params
}

// SetParams updates weights and biases from a flattened slice.
func (c *Conv2D) SetParams(params []float32) {
	copy(c.weights, params[:len(c.weights)])
	copy(c.biases, params[len(c.weights):])
}

// Gradients returns all convolutional layer gradients flattened (copy).
func (c *Conv2D) Gradients() []float32 {
	gradients := make([]float32, len(c.gradWeights)+len(c.gradBiases))
	copy(gradients, c.gradWeights)
	copy(gradients[len(c.gradWeights):], c.gradBiases)
	return gradients
}

// ClearGradients zeroes out the accumulated gradients.
func (c *Conv2D) ClearGradients() {
	for i := range c.gradWeights {
		c.gradWeights[i] = 0
	}
	for i := range c.gradBiases {
		c.gradBiases[i] = 0
	}
}

// InSize returns the number of input channels.
func (c *Conv2D) InSize() int {
	return c.inChannels
}

// OutSize returns the number of output channels.
func (c *Conv2D) OutSize() int {
	return c.outChannels
}

// InputShape returns the configured input shape.
func (c *Conv2D) InputShape() Shape {
	return Shape{H: c.inputHeight, W: c.inputWidth, C: c.inChannels}
}

// OutputShape returns the output shape for the configured input.
func (c *Conv2D) OutputShape() Shape {
	h, w := c.computeOutputSize(c.inputHeight, c.inputWidth)
	return Shape{H: h, W: w, C: c.outChannels}
}

// GetKernelSize returns the kernel size.
func (c *Conv2D) GetKernelSize() int {
	return c.kernelSize
}

// GetStride returns the stride.
func (c *Conv2D) GetStride() int {
	return c.stride
}

// GetPadding returns the padding.
func (c *Conv2D) GetPadding() int {
	return c.padding
}

// GetActivation returns the activation function.
func (c *Conv2D) GetActivation() activations.Activation {
	return c.activation
}
