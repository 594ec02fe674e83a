// Package net provides core neural network types.
package net

import (
	"fmt"

	"github.com/FlavioCFOliveira/denoiser/internal/layer"
	"github.com/FlavioCFOliveira/denoiser/internal/loss"
	"github.com/FlavioCFOliveira/denoiser/internal/opt"
)

// Network is a collection of layers that can be forwarded and backwarded.
// It is not safe for concurrent use: layers keep per-call buffers.
type Network struct {
	layers []layer.Layer
	loss   loss.Loss
	opt    opt.Optimizer

	// Pre-allocated buffers reused by the training loop
	lossGradBuf []float32
	paramBuf    []float32
	gradBuf     []float32
}

// New creates a new neural network with the given layers.
func New(layers []layer.Layer, loss loss.Loss, optimizer opt.Optimizer) *Network {
	return &Network{
		layers: layers,
		loss:   loss,
		opt:    optimizer,
	}
}

// Forward performs a forward pass through all layers.
// The returned slice belongs to the last layer and is overwritten by the
// next call.
func (n *Network) Forward(x []float32) []float32 {
	curr := x
	for i := range n.layers {
		curr = n.layers[i].Forward(curr)
	}
	return curr
}

// Backward performs a backward pass through all layers.
func (n *Network) Backward(grad []float32) []float32 {
	curr := grad
	for i := len(n.layers) - 1; i >= 0; i-- {
		curr = n.layers[i].Backward(curr)
	}
	return curr
}

// ClearGradients zeroes the accumulated gradients of every layer.
func (n *Network) ClearGradients() {
	for _, l := range n.layers {
		l.ClearGradients()
	}
}

// Step performs one optimization step over all parameters using the
// accumulated gradients scaled by 1/scale.
func (n *Network) Step(scale float32) {
	n.paramBuf = n.paramBuf[:0]
	n.gradBuf = n.gradBuf[:0]
	for _, l := range n.layers {
		n.paramBuf = append(n.paramBuf, l.Params()...)
		n.gradBuf = append(n.gradBuf, l.Gradients()...)
	}
	if scale != 1 {
		inv := 1 / scale
		for i := range n.gradBuf {
			n.gradBuf[i] *= inv
		}
	}

	n.opt.StepInPlace(n.paramBuf, n.gradBuf)

	offset := 0
	for _, l := range n.layers {
		size := len(l.Params())
		if size == 0 {
			continue
		}
		l.SetParams(n.paramBuf[offset : offset+size])
		offset += size
	}
}

func (n *Network) lossGrad(yPred, y []float32) []float32 {
	if cap(n.lossGradBuf) < len(yPred) {
		n.lossGradBuf = make([]float32, len(yPred))
	}
	grad := n.lossGradBuf[:len(yPred)]
	if backwardInPlace, ok := n.loss.(loss.BackwardInPlacer); ok {
		backwardInPlace.BackwardInPlace(yPred, y, grad)
		return grad
	}
	return n.loss.Backward(yPred, y)
}

// TrainBatch performs training on a batch of samples.
// Gradients are accumulated over the batch and averaged before a single
// optimizer step. Returns the mean loss of the batch.
func (n *Network) TrainBatch(batchX, batchY [][]float32) float32 {
	if len(batchX) == 0 {
		return 0
	}
	if len(batchX) != len(batchY) {
		panic(fmt.Sprintf("TrainBatch: %d inputs but %d targets", len(batchX), len(batchY)))
	}

	n.ClearGradients()
	var totalLoss float64
	for i := range batchX {
		yPred := n.Forward(batchX[i])
		totalLoss += float64(n.loss.Forward(yPred, batchY[i]))
		n.Backward(n.lossGrad(yPred, batchY[i]))
	}

	n.Step(float32(len(batchX)))
	return float32(totalLoss / float64(len(batchX)))
}

// Evaluate calculates the average loss on a dataset without updating
// parameters.
func (n *Network) Evaluate(x, y [][]float32) float32 {
	if len(x) == 0 {
		return 0
	}
	var total float64
	for i := range x {
		total += float64(n.loss.Forward(n.Forward(x[i]), y[i]))
	}
	return float32(total / float64(len(x)))
}

// Predict runs a forward pass and returns a copy of the output.
func (n *Network) Predict(x []float32) []float32 {
	out := n.Forward(x)
	return append([]float32(nil), out...)
}

// Params returns all network parameters flattened (copy).
func (n *Network) Params() []float32 {
	var params []float32
	for _, l := range n.layers {
		params = append(params, l.Params()...)
	}
	return params
}

// SetParams distributes a flattened parameter vector across the layers.
func (n *Network) SetParams(params []float32) error {
	if want := n.NumParams(); len(params) != want {
		return fmt.Errorf("parameter count mismatch: got %d, want %d", len(params), want)
	}
	offset := 0
	for _, l := range n.layers {
		size := len(l.Params())
		if size == 0 {
			continue
		}
		l.SetParams(params[offset : offset+size])
		offset += size
	}
	return nil
}

// NumParams returns the total number of trainable parameters.
func (n *Network) NumParams() int {
	total := 0
	for _, l := range n.layers {
		total += len(l.Params())
	}
	return total
}

// Layers returns the network's layers slice.
func (n *Network) Layers() []layer.Layer {
	return n.layers
}
