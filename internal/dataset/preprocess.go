package dataset

import (
	"errors"
	"fmt"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
	"gorgonia.org/tensor"

	"github.com/FlavioCFOliveira/denoiser/internal/layer"
)

// Batch is a set of float32 images in [0,1] backed by a dense
// (N, H, W, C) tensor.
type Batch struct {
	t     *tensor.Dense
	shape layer.Shape
}

// NewBatch wraps data, which must hold n images of the given shape stored
// back to back in HWC order. The batch takes ownership of data.
func NewBatch(n int, s layer.Shape, data []float32) (*Batch, error) {
	if n <= 0 {
		return nil, fmt.Errorf("batch: need at least one sample, got %d", n)
	}
	if len(data) != n*s.Size() {
		return nil, fmt.Errorf("batch: %d values for %d samples of %s", len(data), n, s)
	}
	t := tensor.New(
		tensor.WithShape(n, s.H, s.W, s.C),
		tensor.WithBacking(data),
	)
	return &Batch{t: t, shape: s}, nil
}

// Normalize scales raw 8-bit pixels to [0,1] and reshapes them to
// (N, Rows, Cols, 1).
func Normalize(raw RawImages) (*Batch, error) {
	if raw.N == 0 || len(raw.Pixels) == 0 {
		return nil, errors.New("normalize: no images")
	}
	if len(raw.Pixels) != raw.N*raw.Rows*raw.Cols {
		return nil, fmt.Errorf("normalize: %d pixels for %d images of %dx%d", len(raw.Pixels), raw.N, raw.Rows, raw.Cols)
	}
	data := make([]float32, len(raw.Pixels))
	for i, p := range raw.Pixels {
		data[i] = float32(p) / 255
	}
	return NewBatch(raw.N, layer.Shape{H: raw.Rows, W: raw.Cols, C: 1}, data)
}

// Len returns the number of samples.
func (b *Batch) Len() int {
	return b.t.Shape()[0]
}

// Shape returns the per-sample shape.
func (b *Batch) Shape() layer.Shape {
	return b.shape
}

// Tensor returns the underlying (N, H, W, C) tensor.
func (b *Batch) Tensor() *tensor.Dense {
	return b.t
}

// Float32s returns the backing slice of all samples.
func (b *Batch) Float32s() []float32 {
	return b.t.Data().([]float32)
}

// Sample returns a view of sample i in HWC order.
func (b *Batch) Sample(i int) []float32 {
	size := b.shape.Size()
	return b.Float32s()[i*size : (i+1)*size]
}

// Samples returns a view of every sample, suitable for training.
func (b *Batch) Samples() [][]float32 {
	out := make([][]float32, b.Len())
	for i := range out {
		out[i] = b.Sample(i)
	}
	return out
}

// Clone returns a deep copy.
func (b *Batch) Clone() *Batch {
	data := append([]float32(nil), b.Float32s()...)
	c, _ := NewBatch(b.Len(), b.shape, data)
	return c
}

// Head returns a copy of the first n samples.
func (b *Batch) Head(n int) (*Batch, error) {
	if n <= 0 || n > b.Len() {
		return nil, fmt.Errorf("head: %d out of range [1,%d]", n, b.Len())
	}
	data := append([]float32(nil), b.Float32s()[:n*b.shape.Size()]...)
	return NewBatch(n, b.shape, data)
}

// Subset returns a copy of the samples at idx, in that order.
func (b *Batch) Subset(idx []int) (*Batch, error) {
	size := b.shape.Size()
	data := make([]float32, 0, len(idx)*size)
	for _, i := range idx {
		if i < 0 || i >= b.Len() {
			return nil, fmt.Errorf("subset: index %d out of range [0,%d)", i, b.Len())
		}
		data = append(data, b.Sample(i)...)
	}
	return NewBatch(len(idx), b.shape, data)
}

// BatchStats summarizes pixel values.
type BatchStats struct {
	Min, Max, Mean, StdDev float64
}

// Stats computes pixel statistics over the whole batch.
func (b *Batch) Stats() BatchStats {
	vals := make([]float64, len(b.Float32s()))
	for i, v := range b.Float32s() {
		vals[i] = float64(v)
	}
	mean, std := stat.MeanStdDev(vals, nil)
	return BatchStats{
		Min:    floats.Min(vals),
		Max:    floats.Max(vals),
		Mean:   mean,
		StdDev: std,
	}
}
