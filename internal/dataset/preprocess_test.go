package dataset

import (
	"testing"

	"gonum.org/v1/gonum/floats"

	"github.com/FlavioCFOliveira/denoiser/internal/layer"
)

func rawFixture() RawImages {
	raw := RawImages{N: 3, Rows: 2, Cols: 2, Pixels: []uint8{
		0, 255, 51, 102,
		255, 255, 255, 255,
		0, 0, 0, 0,
	}}
	return raw
}

func TestNormalize(t *testing.T) {
	b, err := Normalize(rawFixture())
	if err != nil {
		t.Fatal(err)
	}
	if b.Len() != 3 {
		t.Errorf("Len = %d, want 3", b.Len())
	}
	if got, want := b.Shape(), (layer.Shape{H: 2, W: 2, C: 1}); got != want {
		t.Errorf("Shape = %v, want %v", got, want)
	}
	if got := b.Tensor().Shape(); len(got) != 4 || got[0] != 3 || got[3] != 1 {
		t.Errorf("tensor shape = %v, want (3, 2, 2, 1)", got)
	}

	want := []float64{0, 1, 0.2, 0.4}
	got := make([]float64, 4)
	for i, v := range b.Sample(0) {
		got[i] = float64(v)
	}
	if !floats.EqualApprox(got, want, 1e-6) {
		t.Errorf("Sample(0) = %v, want %v", got, want)
	}
	for _, v := range b.Float32s() {
		if v < 0 || v > 1 {
			t.Fatalf("value %v outside [0,1]", v)
		}
	}
}

func TestNormalizeErrors(t *testing.T) {
	if _, err := Normalize(RawImages{}); err == nil {
		t.Error("expected error for empty input")
	}
	bad := rawFixture()
	bad.Pixels = bad.Pixels[:5]
	if _, err := Normalize(bad); err == nil {
		t.Error("expected error for short pixel buffer")
	}
}

func TestBatchCopies(t *testing.T) {
	b, _ := Normalize(rawFixture())

	c := b.Clone()
	c.Sample(0)[0] = 0.7
	if b.Sample(0)[0] != 0 {
		t.Error("Clone shares storage with the original")
	}

	h, err := b.Head(2)
	if err != nil {
		t.Fatal(err)
	}
	if h.Len() != 2 || h.Sample(1)[0] != 1 {
		t.Errorf("Head(2) = %v", h.Float32s())
	}
	if _, err := b.Head(4); err == nil {
		t.Error("expected error for Head beyond length")
	}

	s, err := b.Subset([]int{2, 0})
	if err != nil {
		t.Fatal(err)
	}
	if s.Sample(0)[1] != 0 || s.Sample(1)[1] != 1 {
		t.Errorf("Subset = %v", s.Float32s())
	}
	if _, err := b.Subset([]int{3}); err == nil {
		t.Error("expected error for out of range index")
	}

	if got := len(b.Samples()); got != 3 {
		t.Errorf("Samples = %d, want 3", got)
	}
}

func TestBatchStats(t *testing.T) {
	b, _ := Normalize(rawFixture())
	st := b.Stats()
	if st.Min != 0 || st.Max != 1 {
		t.Errorf("min/max = %v/%v, want 0/1", st.Min, st.Max)
	}
	if st.Mean <= 0 || st.Mean >= 1 {
		t.Errorf("mean = %v", st.Mean)
	}
}

func TestNewBatchErrors(t *testing.T) {
	s := layer.Shape{H: 2, W: 2, C: 1}
	if _, err := NewBatch(0, s, nil); err == nil {
		t.Error("expected error for empty batch")
	}
	if _, err := NewBatch(2, s, make([]float32, 7)); err == nil {
		t.Error("expected error for wrong data length")
	}
}
