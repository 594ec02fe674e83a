// Package model declares the denoising autoencoder topology and turns it
// into a trainable network.
package model

import (
	"fmt"
	"io"
	"strings"

	"github.com/FlavioCFOliveira/denoiser/internal/activations"
	"github.com/FlavioCFOliveira/denoiser/internal/dataset"
	"github.com/FlavioCFOliveira/denoiser/internal/layer"
	"github.com/FlavioCFOliveira/denoiser/internal/loss"
	"github.com/FlavioCFOliveira/denoiser/internal/net"
	"github.com/FlavioCFOliveira/denoiser/internal/opt"
)

// Kind identifies a layer type in a topology.
type Kind string

const (
	Conv2D       Kind = "conv2d"
	MaxPool2D    Kind = "maxpool2d"
	AvgPool2D    Kind = "avgpool2d"
	UpSampling2D Kind = "upsampling2d"
)

// Padding modes for Conv2D.
const (
	PaddingSame  = "same"
	PaddingValid = "valid"
)

// DefaultLearningRate is the Adam step size used by Build.
const DefaultLearningRate = 0.001

// InputShape is the MNIST sample shape.
var InputShape = layer.Shape{H: 28, W: 28, C: 1}

// LayerSpec describes one layer of a sequential topology.
type LayerSpec struct {
	Kind       Kind
	Filters    int    // Conv2D output channels
	Kernel     int    // Conv2D kernel size
	Pool       int    // pooling window and stride, UpSampling2D factor
	Activation string // Conv2D activation name
	Padding    string // Conv2D padding; empty means same
}

func (s LayerSpec) String() string {
	switch s.Kind {
	case Conv2D:
		return fmt.Sprintf("Conv2D(%d, %dx%d, %s)", s.Filters, s.Kernel, s.Kernel, s.Activation)
	case MaxPool2D:
		return fmt.Sprintf("MaxPool2D(%dx%d)", s.Pool, s.Pool)
	case AvgPool2D:
		return fmt.Sprintf("AvgPool2D(%dx%d)", s.Pool, s.Pool)
	case UpSampling2D:
		return fmt.Sprintf("UpSampling2D(%dx%d)", s.Pool, s.Pool)
	}
	return string(s.Kind)
}

// DenoisingAutoencoder returns the encoder/decoder topology: two conv+pool
// stages down to 7x7x16, two conv+upsample stages back to 28x28x32, and a
// sigmoid conv to a single channel.
func DenoisingAutoencoder() []LayerSpec {
	conv := func(filters int, act string) LayerSpec {
		return LayerSpec{Kind: Conv2D, Filters: filters, Kernel: 3, Activation: act, Padding: PaddingSame}
	}
	return []LayerSpec{
		conv(32, "relu"),
		{Kind: MaxPool2D, Pool: 2},
		conv(16, "relu"),
		{Kind: MaxPool2D, Pool: 2},
		conv(16, "relu"),
		{Kind: UpSampling2D, Pool: 2},
		conv(32, "relu"),
		{Kind: UpSampling2D, Pool: 2},
		conv(1, "sigmoid"),
	}
}

// WithPooling returns a copy of specs with every pooling layer replaced
// by kind, which must be MaxPool2D or AvgPool2D.
func WithPooling(specs []LayerSpec, kind Kind) ([]LayerSpec, error) {
	if kind != MaxPool2D && kind != AvgPool2D {
		return nil, fmt.Errorf("%q is not a pooling kind", kind)
	}
	out := make([]LayerSpec, len(specs))
	for i, s := range specs {
		if s.Kind == MaxPool2D || s.Kind == AvgPool2D {
			s.Kind = kind
		}
		out[i] = s
	}
	return out, nil
}

// InferShapes returns the output shape of every layer in specs for an
// input of shape in.
func InferShapes(in layer.Shape, specs []LayerSpec) ([]layer.Shape, error) {
	if in.H <= 0 || in.W <= 0 || in.C <= 0 {
		return nil, fmt.Errorf("invalid input shape %s", in)
	}
	shapes := make([]layer.Shape, 0, len(specs))
	cur := in
	for i, s := range specs {
		next, err := outputShape(cur, s)
		if err != nil {
			return nil, fmt.Errorf("layer %d %s: %w", i, s, err)
		}
		shapes = append(shapes, next)
		cur = next
	}
	return shapes, nil
}

func outputShape(in layer.Shape, s LayerSpec) (layer.Shape, error) {
	switch s.Kind {
	case Conv2D:
		if s.Filters <= 0 || s.Kernel <= 0 {
			return layer.Shape{}, fmt.Errorf("filters and kernel must be > 0")
		}
		switch s.Padding {
		case "", PaddingSame:
			if s.Kernel%2 == 0 {
				return layer.Shape{}, fmt.Errorf("same padding needs an odd kernel")
			}
			return layer.Shape{H: in.H, W: in.W, C: s.Filters}, nil
		case PaddingValid:
			if s.Kernel > in.H || s.Kernel > in.W {
				return layer.Shape{}, fmt.Errorf("kernel %d larger than input %s", s.Kernel, in)
			}
			return layer.Shape{H: in.H - s.Kernel + 1, W: in.W - s.Kernel + 1, C: s.Filters}, nil
		default:
			return layer.Shape{}, fmt.Errorf("unknown padding %q", s.Padding)
		}
	case MaxPool2D, AvgPool2D:
		if s.Pool <= 0 {
			return layer.Shape{}, fmt.Errorf("pool size must be > 0")
		}
		if in.H%s.Pool != 0 || in.W%s.Pool != 0 {
			return layer.Shape{}, fmt.Errorf("input %s not divisible by pool %d", in, s.Pool)
		}
		return layer.Shape{H: in.H / s.Pool, W: in.W / s.Pool, C: in.C}, nil
	case UpSampling2D:
		if s.Pool <= 0 {
			return layer.Shape{}, fmt.Errorf("upsampling factor must be > 0")
		}
		return layer.Shape{H: in.H * s.Pool, W: in.W * s.Pool, C: in.C}, nil
	default:
		return layer.Shape{}, fmt.Errorf("unknown layer kind %q", s.Kind)
	}
}

// Build materializes specs as a network trained with binary cross-entropy
// and Adam. Convolution weights are drawn from a generator seeded with
// seed, so equal seeds give equal networks.
func Build(in layer.Shape, specs []LayerSpec, seed uint64) (*net.Network, error) {
	shapes, err := InferShapes(in, specs)
	if err != nil {
		return nil, err
	}

	rng := layer.NewRNG(seed)
	layers := make([]layer.Layer, 0, len(specs))
	cur := in
	for i, s := range specs {
		switch s.Kind {
		case Conv2D:
			act, err := activations.ByName(s.Activation)
			if err != nil {
				return nil, fmt.Errorf("layer %d: %w", i, err)
			}
			var conv *layer.Conv2D
			if s.Padding == PaddingValid {
				conv = layer.NewConv2D(cur.C, s.Filters, s.Kernel, 1, 0, act)
				conv.SetInputDimensions(cur.H, cur.W)
			} else {
				conv = layer.NewSameConv2D(cur, s.Filters, s.Kernel, act)
			}
			conv.Reinit(rng)
			layers = append(layers, conv)
		case MaxPool2D:
			pool := layer.NewMaxPool2D(cur.C, s.Pool, s.Pool, 0)
			pool.SetInputDimensions(cur.H, cur.W)
			layers = append(layers, pool)
		case AvgPool2D:
			layers = append(layers, layer.NewAvgPool2D(cur, s.Pool, s.Pool, 0))
		case UpSampling2D:
			layers = append(layers, layer.NewUpSampling2D(cur, s.Pool))
		}
		cur = shapes[i]
	}

	return net.New(layers, loss.BCELoss{}, opt.NewAdam(DefaultLearningRate)), nil
}

// IOShapes returns the input and output sample shapes of a network built
// from spatial layers.
func IOShapes(n *net.Network) (in, out layer.Shape, err error) {
	layers := n.Layers()
	if len(layers) == 0 {
		return in, out, fmt.Errorf("empty network")
	}
	first, ok1 := layers[0].(layer.Spatial)
	last, ok2 := layers[len(layers)-1].(layer.Spatial)
	if !ok1 || !ok2 {
		return in, out, fmt.Errorf("network is not spatial")
	}
	return first.InputShape(), last.OutputShape(), nil
}

// Samples converts a batch into per-sample vectors in the planar layout
// the layers expect.
func Samples(b *dataset.Batch) [][]float32 {
	s := b.Shape()
	out := make([][]float32, b.Len())
	for i := range out {
		out[i] = layer.HWCToCHW(make([]float32, s.Size()), b.Sample(i), s)
	}
	return out
}

// Predict runs every sample of b through n and returns the reconstructions
// as a new batch.
func Predict(n *net.Network, b *dataset.Batch) (*dataset.Batch, error) {
	in, out, err := IOShapes(n)
	if err != nil {
		return nil, err
	}
	if b.Shape() != in {
		return nil, fmt.Errorf("predict: batch shape %s, network expects %s", b.Shape(), in)
	}

	planar := make([]float32, in.Size())
	data := make([]float32, 0, b.Len()*out.Size())
	for i := 0; i < b.Len(); i++ {
		y := n.Predict(layer.HWCToCHW(planar, b.Sample(i), in))
		data = append(data, make([]float32, out.Size())...)
		layer.CHWToHWC(data[i*out.Size():], y, out)
	}
	return dataset.NewBatch(b.Len(), out, data)
}

func paramCount(in layer.Shape, s LayerSpec) int {
	if s.Kind != Conv2D {
		return 0
	}
	return s.Filters*in.C*s.Kernel*s.Kernel + s.Filters
}

// Summary writes a table of the layers, their output shapes and parameter
// counts.
func Summary(w io.Writer, in layer.Shape, specs []LayerSpec) error {
	shapes, err := InferShapes(in, specs)
	if err != nil {
		return err
	}

	rule := strings.Repeat("_", 65)
	fmt.Fprintln(w, "Model: denoising_autoencoder")
	fmt.Fprintln(w, rule)
	fmt.Fprintf(w, "%-25s %-20s %-10s\n", "Layer (type)", "Output Shape", "Param #")
	fmt.Fprintln(w, strings.Repeat("=", 65))

	total := 0
	cur := in
	for i, s := range specs {
		params := paramCount(cur, s)
		total += params
		name := fmt.Sprintf("%s_%d", s.Kind, i)
		fmt.Fprintf(w, "%-25s %-20s %-10d\n", name, shapes[i], params)
		cur = shapes[i]
	}
	fmt.Fprintln(w, strings.Repeat("=", 65))
	_, err = fmt.Fprintf(w, "Total params: %d\n%s\n", total, rule)
	return err
}
