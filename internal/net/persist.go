package net

import (
	"encoding/gob"
	"fmt"
	"io"
	"os"

	"github.com/FlavioCFOliveira/denoiser/internal/activations"
	"github.com/FlavioCFOliveira/denoiser/internal/layer"
	"github.com/FlavioCFOliveira/denoiser/internal/loss"
	"github.com/FlavioCFOliveira/denoiser/internal/opt"
)

// Layer type tags used in saved models.
const (
	TypeConv2D       = "Conv2D"
	TypeMaxPool2D    = "MaxPool2D"
	TypeAvgPool2D    = "AvgPool2D"
	TypeUpSampling2D = "UpSampling2D"
)

// LayerConfig holds the configuration needed to reconstruct a layer.
type LayerConfig struct {
	Type       string
	Input      layer.Shape
	Filters    int
	Kernel     int
	Stride     int
	Padding    int
	Activation string
	NumParams  int
}

// modelFile is the gob payload: architecture followed by the flattened
// parameters of every layer in order.
type modelFile struct {
	Layers []LayerConfig
	Loss   string
	Params []float32
}

// Save saves the network to a file using gob encoding.
// The optimizer state is not saved; Load returns a fresh Adam.
func (n *Network) Save(filename string) error {
	file, err := os.Create(filename)
	if err != nil {
		return fmt.Errorf("failed to create file: %w", err)
	}

	if err := n.Encode(file); err != nil {
		file.Close()
		return err
	}
	return file.Close()
}

// Load loads a network from a file written by Save.
func Load(filename string) (*Network, error) {
	file, err := os.Open(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to open file: %w", err)
	}
	defer file.Close()

	return Decode(file)
}

// Encode writes the network to an io.Writer using gob encoding.
func (n *Network) Encode(w io.Writer) error {
	mf := modelFile{
		Loss:   loss.Name(n.loss),
		Params: n.Params(),
	}
	for _, l := range n.layers {
		cfg, err := ExtractLayerConfig(l)
		if err != nil {
			return err
		}
		mf.Layers = append(mf.Layers, cfg)
	}

	if err := gob.NewEncoder(w).Encode(&mf); err != nil {
		return fmt.Errorf("failed to encode model: %w", err)
	}
	return nil
}

// Decode reads a network written by Encode.
func Decode(r io.Reader) (*Network, error) {
	var mf modelFile
	if err := gob.NewDecoder(r).Decode(&mf); err != nil {
		return nil, fmt.Errorf("failed to decode model: %w", err)
	}

	layers := make([]layer.Layer, 0, len(mf.Layers))
	for i, cfg := range mf.Layers {
		l, err := cfg.CreateLayer()
		if err != nil {
			return nil, fmt.Errorf("layer %d: %w", i, err)
		}
		if want := len(l.Params()); cfg.NumParams != want {
			return nil, fmt.Errorf("layer %d: %d parameters recorded, %s needs %d", i, cfg.NumParams, cfg.Type, want)
		}
		layers = append(layers, l)
	}

	lossFn, err := loss.ByName(mf.Loss)
	if err != nil {
		return nil, err
	}
	n := New(layers, lossFn, opt.NewAdam(0.001))
	if err := n.SetParams(mf.Params); err != nil {
		return nil, err
	}
	return n, nil
}

// ExtractLayerConfig extracts the configuration from a layer.
func ExtractLayerConfig(l layer.Layer) (LayerConfig, error) {
	cfg := LayerConfig{NumParams: len(l.Params())}

	switch v := l.(type) {
	case *layer.Conv2D:
		cfg.Type = TypeConv2D
		cfg.Input = v.InputShape()
		cfg.Filters = v.OutSize()
		cfg.Kernel = v.GetKernelSize()
		cfg.Stride = v.GetStride()
		cfg.Padding = v.GetPadding()
		cfg.Activation = activations.Name(v.GetActivation())
	case *layer.MaxPool2D:
		cfg.Type = TypeMaxPool2D
		cfg.Input = v.InputShape()
		cfg.Kernel = v.GetKernelSize()
		cfg.Stride = v.GetStride()
		cfg.Padding = v.GetPadding()
	case *layer.AvgPool2D:
		cfg.Type = TypeAvgPool2D
		cfg.Input = v.InputShape()
		cfg.Kernel = v.GetKernelSize()
		cfg.Stride = v.GetStride()
		cfg.Padding = v.GetPadding()
	case *layer.UpSampling2D:
		cfg.Type = TypeUpSampling2D
		cfg.Input = v.InputShape()
		cfg.Kernel = v.GetSize()
	default:
		return cfg, fmt.Errorf("unsupported layer type: %T", l)
	}
	return cfg, nil
}

// CreateLayer creates a new layer from the configuration.
func (c *LayerConfig) CreateLayer() (layer.Layer, error) {
	switch c.Type {
	case TypeConv2D:
		act, err := activations.ByName(c.Activation)
		if err != nil {
			return nil, err
		}
		conv := layer.NewConv2D(c.Input.C, c.Filters, c.Kernel, c.Stride, c.Padding, act)
		conv.SetInputDimensions(c.Input.H, c.Input.W)
		return conv, nil
	case TypeMaxPool2D:
		pool := layer.NewMaxPool2D(c.Input.C, c.Kernel, c.Stride, c.Padding)
		pool.SetInputDimensions(c.Input.H, c.Input.W)
		return pool, nil
	case TypeAvgPool2D:
		return layer.NewAvgPool2D(c.Input, c.Kernel, c.Stride, c.Padding), nil
	case TypeUpSampling2D:
		return layer.NewUpSampling2D(c.Input, c.Kernel), nil
	default:
		return nil, fmt.Errorf("unsupported layer type: %s", c.Type)
	}
}
