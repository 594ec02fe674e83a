package net

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"os"

	"github.com/FlavioCFOliveira/denoiser/internal/activations"
	"github.com/FlavioCFOliveira/denoiser/internal/layer"
)

// GGUF Constants
const (
	GGUFMagic   = 0x46554747 // "GGUF" in little-endian
	GGUFVersion = 3

	ggufAlignment = 32
	ggufArch      = "denoiser"
)

// GGUF Value Types
type GGUFType uint32

const (
	GGUFTypeUint32  GGUFType = 4
	GGUFTypeFloat32 GGUFType = 6
	GGUFTypeString  GGUFType = 8
)

// GGML Tensor Types
type GGMLType uint32

const (
	GGMLTypeF32 GGMLType = 0
	GGMLTypeF16 GGMLType = 1
)

// countingWriter tracks the absolute offset so sections can be aligned.
type countingWriter struct {
	w io.Writer
	n uint64
}

func (c *countingWriter) Write(p []byte) (int, error) {
	n, err := c.w.Write(p)
	c.n += uint64(n)
	return n, err
}

// GGUFWriter helps writing GGUF files
type GGUFWriter struct {
	w         *countingWriter
	alignment uint64
}

func NewGGUFWriter(w io.Writer) *GGUFWriter {
	return &GGUFWriter{
		w:         &countingWriter{w: w},
		alignment: ggufAlignment,
	}
}

func (gw *GGUFWriter) put(v any) error {
	return binary.Write(gw.w, binary.LittleEndian, v)
}

func (gw *GGUFWriter) WriteHeader(kvCount, tensorCount uint64) error {
	for _, v := range []any{uint32(GGUFMagic), uint32(GGUFVersion), tensorCount, kvCount} {
		if err := gw.put(v); err != nil {
			return err
		}
	}
	return nil
}

func (gw *GGUFWriter) WriteString(s string) error {
	if err := gw.put(uint64(len(s))); err != nil {
		return err
	}
	_, err := io.WriteString(gw.w, s)
	return err
}

func (gw *GGUFWriter) WriteKV(key string, valType GGUFType, value any) error {
	if err := gw.WriteString(key); err != nil {
		return err
	}
	if err := gw.put(uint32(valType)); err != nil {
		return err
	}

	switch valType {
	case GGUFTypeUint32:
		return gw.put(value.(uint32))
	case GGUFTypeFloat32:
		return gw.put(value.(float32))
	case GGUFTypeString:
		return gw.WriteString(value.(string))
	default:
		return fmt.Errorf("unsupported GGUF type: %v", valType)
	}
}

func (gw *GGUFWriter) WriteTensorInfo(name string, shape []uint64, ggmlType GGMLType, offset uint64) error {
	if err := gw.WriteString(name); err != nil {
		return err
	}
	rank := len(shape)
	if err := gw.put(uint32(rank)); err != nil {
		return err
	}
	// GGUF dimensions are in reverse order (last dimension first)
	for i := rank - 1; i >= 0; i-- {
		if err := gw.put(shape[i]); err != nil {
			return err
		}
	}
	if err := gw.put(uint32(ggmlType)); err != nil {
		return err
	}
	return gw.put(offset)
}

// Pad writes zero bytes up to the next alignment boundary.
func (gw *GGUFWriter) Pad() error {
	rem := gw.w.n % gw.alignment
	if rem == 0 {
		return nil
	}
	_, err := gw.w.Write(make([]byte, gw.alignment-rem))
	return err
}

// WriteTensorData writes values in the given element type.
func (gw *GGUFWriter) WriteTensorData(values []float32, ggmlType GGMLType) error {
	switch ggmlType {
	case GGMLTypeF32:
		return gw.put(values)
	case GGMLTypeF16:
		half := make([]uint16, len(values))
		for i, v := range values {
			half[i] = Float32ToFloat16(v)
		}
		return gw.put(half)
	default:
		return fmt.Errorf("unsupported GGML type: %v", ggmlType)
	}
}

func ggmlElemSize(t GGMLType) uint64 {
	if t == GGMLTypeF16 {
		return 2
	}
	return 4
}

func alignUp(n, a uint64) uint64 {
	return (n + a - 1) / a * a
}

type ggufTensor struct {
	name  string
	shape []uint64
	data  []float32
}

type ggufKV struct {
	key   string
	typ   GGUFType
	value any
}

// SaveGGUF exports the network weights as F32 GGUF tensors.
func (n *Network) SaveGGUF(filename string) error {
	return n.SaveGGUFExt(filename, GGMLTypeF32)
}

// SaveGGUFExt exports the network weights with the given tensor type.
// Convolution weights are stored as [filters, in_channels, k, k] and
// biases as [filters]; layer topology goes into metadata keys.
func (n *Network) SaveGGUFExt(filename string, ggmlType GGMLType) error {
	if ggmlType != GGMLTypeF32 && ggmlType != GGMLTypeF16 {
		return fmt.Errorf("unsupported GGML type: %v", ggmlType)
	}

	kvs := []ggufKV{
		{"general.architecture", GGUFTypeString, ggufArch},
		{"general.name", GGUFTypeString, "denoising_autoencoder"},
		{"general.alignment", GGUFTypeUint32, uint32(ggufAlignment)},
		{ggufArch + ".layer_count", GGUFTypeUint32, uint32(len(n.layers))},
	}
	var tensors []ggufTensor
	for i, l := range n.layers {
		cfg, err := ExtractLayerConfig(l)
		if err != nil {
			return err
		}
		prefix := fmt.Sprintf("%s.layer.%d.", ggufArch, i)
		kvs = append(kvs,
			ggufKV{prefix + "type", GGUFTypeString, cfg.Type},
			ggufKV{prefix + "kernel", GGUFTypeUint32, uint32(cfg.Kernel)},
		)
		if i == 0 {
			kvs = append(kvs,
				ggufKV{ggufArch + ".input_height", GGUFTypeUint32, uint32(cfg.Input.H)},
				ggufKV{ggufArch + ".input_width", GGUFTypeUint32, uint32(cfg.Input.W)},
				ggufKV{ggufArch + ".input_channels", GGUFTypeUint32, uint32(cfg.Input.C)},
			)
		}

		conv, ok := l.(*layer.Conv2D)
		if !ok {
			continue
		}
		kvs = append(kvs, ggufKV{prefix + "activation", GGUFTypeString, activations.Name(conv.GetActivation())})
		params := conv.Params()
		nw := cfg.Filters * cfg.Input.C * cfg.Kernel * cfg.Kernel
		k := uint64(cfg.Kernel)
		tensors = append(tensors,
			ggufTensor{fmt.Sprintf("conv.%d.weight", i), []uint64{uint64(cfg.Filters), uint64(cfg.Input.C), k, k}, params[:nw]},
			ggufTensor{fmt.Sprintf("conv.%d.bias", i), []uint64{uint64(cfg.Filters)}, params[nw:]},
		)
	}

	file, err := os.Create(filename)
	if err != nil {
		return fmt.Errorf("failed to create file: %w", err)
	}
	defer file.Close()
	buf := bufio.NewWriter(file)
	gw := NewGGUFWriter(buf)

	if err := gw.WriteHeader(uint64(len(kvs)), uint64(len(tensors))); err != nil {
		return fmt.Errorf("gguf header: %w", err)
	}
	for _, kv := range kvs {
		if err := gw.WriteKV(kv.key, kv.typ, kv.value); err != nil {
			return fmt.Errorf("gguf kv %s: %w", kv.key, err)
		}
	}

	var offset uint64
	for _, t := range tensors {
		if err := gw.WriteTensorInfo(t.name, t.shape, ggmlType, offset); err != nil {
			return fmt.Errorf("gguf tensor info %s: %w", t.name, err)
		}
		offset = alignUp(offset+uint64(len(t.data))*ggmlElemSize(ggmlType), ggufAlignment)
	}

	for _, t := range tensors {
		if err := gw.Pad(); err != nil {
			return err
		}
		if err := gw.WriteTensorData(t.data, ggmlType); err != nil {
			return fmt.Errorf("gguf tensor data %s: %w", t.name, err)
		}
	}
	if err := gw.Pad(); err != nil {
		return err
	}

	if err := buf.Flush(); err != nil {
		return err
	}
	return file.Close()
}

// Float32ToFloat16 converts a float32 to float16 (represented as uint16)
func Float32ToFloat16(f float32) uint16 {
	bits := math.Float32bits(f)
	s := uint16((bits >> 16) & 0x8000)
	e := int16((bits >> 23) & 0xFF)
	m := bits & 0x7FFFFF

	if e == 0 {
		// Zero or denormal
		return s
	} else if e == 0xFF {
		// Inf or NaN
		if m == 0 {
			return s | 0x7C00
		}
		return s | 0x7C00 | uint16(m>>13) | 1
	}

	e -= 127 - 15
	if e >= 31 {
		// Overflow to Inf
		return s | 0x7C00
	} else if e <= 0 {
		// Underflow to denormal or zero
		if e < -10 {
			return s
		}
		m |= 0x800000
		m >>= uint32(1 - e)
		return s | uint16(m>>13)
	}

	return s | uint16(e<<10) | uint16(m>>13)
}
