package layer

import (
	"math"
	"testing"

	"gonum.org/v1/gonum/diff/fd"

	"github.com/FlavioCFOliveira/denoiser/internal/activations"
)

func TestConv2DSamePaddingKnownValues(t *testing.T) {
	conv := NewSameConv2D(Shape{H: 3, W: 3, C: 1}, 1, 3, activations.Linear{})
	params := make([]float32, 10)
	for i := 0; i < 9; i++ {
		params[i] = 1
	}
	conv.SetParams(params)

	input := []float32{1, 1, 1, 1, 1, 1, 1, 1, 1}
	output := conv.Forward(input)

	// A 3x3 box filter over zero-padded ones counts the in-bounds neighbours.
	expected := []float32{4, 6, 4, 6, 9, 6, 4, 6, 4}
	if len(output) != len(expected) {
		t.Fatalf("Output length = %d, expected %d", len(output), len(expected))
	}
	for i := range expected {
		if output[i] != expected[i] {
			t.Errorf("Output[%d] = %f, expected %f", i, output[i], expected[i])
		}
	}
}

func TestConv2DOutputShape(t *testing.T) {
	tests := []struct {
		name string
		in   Shape
		out  int
	}{
		{"mnist", Shape{H: 28, W: 28, C: 1}, 32},
		{"pooled", Shape{H: 14, W: 14, C: 32}, 16},
		{"rect", Shape{H: 5, W: 9, C: 3}, 2},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			conv := NewSameConv2D(tt.in, tt.out, 3, activations.ReLU{})
			want := Shape{H: tt.in.H, W: tt.in.W, C: tt.out}
			if got := conv.OutputShape(); got != want {
				t.Errorf("OutputShape = %v, want %v", got, want)
			}
			output := conv.Forward(make([]float32, tt.in.Size()))
			if len(output) != want.Size() {
				t.Errorf("len(Forward) = %d, want %d", len(output), want.Size())
			}
		})
	}
}

func TestConv2DParamCount(t *testing.T) {
	conv := NewSameConv2D(Shape{H: 28, W: 28, C: 1}, 32, 3, activations.ReLU{})
	if got, want := len(conv.Params()), 32*1*3*3+32; got != want {
		t.Errorf("len(Params) = %d, want %d", got, want)
	}
}

func TestConv2DReinitDeterministic(t *testing.T) {
	a := NewSameConv2D(Shape{H: 4, W: 4, C: 2}, 3, 3, activations.ReLU{})
	b := NewSameConv2D(Shape{H: 4, W: 4, C: 2}, 3, 3, activations.ReLU{})
	a.Reinit(NewRNG(7))
	b.Reinit(NewRNG(7))
	pa, pb := a.Params(), b.Params()
	for i := range pa {
		if pa[i] != pb[i] {
			t.Fatalf("param %d differs: %v vs %v", i, pa[i], pb[i])
		}
	}
}

// weightedSum projects the layer output onto a fixed direction r so that
// dL/d(output) = r.
func weightedSum(out, r []float32) float64 {
	var s float64
	for i := range out {
		s += float64(out[i]) * float64(r[i])
	}
	return s
}

func toFloat64(x []float32) []float64 {
	out := make([]float64, len(x))
	for i, v := range x {
		out[i] = float64(v)
	}
	return out
}

func toFloat32(x []float64) []float32 {
	out := make([]float32, len(x))
	for i, v := range x {
		out[i] = float32(v)
	}
	return out
}

func TestConv2DGradientsMatchFiniteDifferences(t *testing.T) {
	in := Shape{H: 4, W: 4, C: 2}
	conv := NewSameConv2D(in, 2, 3, activations.Sigmoid{})
	conv.Reinit(NewRNG(3))

	rng := NewRNG(11)
	input := make([]float32, in.Size())
	for i := range input {
		input[i] = rng.Float32()
	}
	r := make([]float32, conv.OutputShape().Size())
	for i := range r {
		r[i] = rng.Float32()*2 - 1
	}

	conv.ClearGradients()
	conv.Forward(input)
	gradIn := append([]float32(nil), conv.Backward(r)...)
	gradParams := conv.Gradients()

	settings := &fd.Settings{Formula: fd.Central, Step: 1e-2}

	numIn := fd.Gradient(nil, func(x []float64) float64 {
		return weightedSum(conv.Forward(toFloat32(x)), r)
	}, toFloat64(input), settings)
	for i := range numIn {
		if diff := math.Abs(numIn[i] - float64(gradIn[i])); diff > 1e-2 {
			t.Errorf("input grad %d: analytic %v numeric %v", i, gradIn[i], numIn[i])
		}
	}

	params := conv.Params()
	numParams := fd.Gradient(nil, func(p []float64) float64 {
		conv.SetParams(toFloat32(p))
		return weightedSum(conv.Forward(input), r)
	}, toFloat64(params), settings)
	conv.SetParams(params)
	for i := range numParams {
		if diff := math.Abs(numParams[i] - float64(gradParams[i])); diff > 1e-2 {
			t.Errorf("param grad %d: analytic %v numeric %v", i, gradParams[i], numParams[i])
		}
	}
}

func TestConv2DGradientsAccumulate(t *testing.T) {
	conv := NewSameConv2D(Shape{H: 3, W: 3, C: 1}, 1, 3, activations.Linear{})
	input := []float32{1, 2, 3, 4, 5, 6, 7, 8, 9}
	grad := []float32{1, 1, 1, 1, 1, 1, 1, 1, 1}

	conv.ClearGradients()
	conv.Forward(input)
	conv.Backward(grad)
	once := conv.Gradients()

	conv.Forward(input)
	conv.Backward(grad)
	twice := conv.Gradients()

	for i := range once {
		if math.Abs(float64(twice[i]-2*once[i])) > 1e-4 {
			t.Errorf("grad %d: got %v after two passes, want %v", i, twice[i], 2*once[i])
		}
	}

	conv.ClearGradients()
	for i, g := range conv.Gradients() {
		if g != 0 {
			t.Errorf("grad %d = %v after ClearGradients", i, g)
		}
	}
}

func TestLayoutConversionRoundTrip(t *testing.T) {
	s := Shape{H: 2, W: 3, C: 2}
	hwc := []float32{0, 10, 1, 11, 2, 12, 3, 13, 4, 14, 5, 15}
	chw := HWCToCHW(make([]float32, s.Size()), hwc, s)
	want := []float32{0, 1, 2, 3, 4, 5, 10, 11, 12, 13, 14, 15}
	for i := range want {
		if chw[i] != want[i] {
			t.Fatalf("CHW = %v, want %v", chw, want)
		}
	}
	back := CHWToHWC(make([]float32, s.Size()), chw, s)
	for i := range hwc {
		if back[i] != hwc[i] {
			t.Fatalf("round trip = %v, want %v", back, hwc)
		}
	}
}

func TestDefaultDeviceDescribe(t *testing.T) {
	d := GetDefaultDevice()
	if d.Type() != CPU || !d.IsAvailable() {
		t.Fatalf("unexpected default device %#v", d)
	}
	if d.Describe() == "" {
		t.Error("Describe returned empty string")
	}
}
