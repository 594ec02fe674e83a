package layer

import "testing"

func TestUpSampling2DForward(t *testing.T) {
	up := NewUpSampling2D(Shape{H: 2, W: 2, C: 1}, 2)

	output := up.Forward([]float32{1, 2, 3, 4})
	expected := []float32{
		1, 1, 2, 2,
		1, 1, 2, 2,
		3, 3, 4, 4,
		3, 3, 4, 4,
	}
	if len(output) != len(expected) {
		t.Fatalf("Output length = %d, expected %d", len(output), len(expected))
	}
	for i := range expected {
		if output[i] != expected[i] {
			t.Errorf("Output[%d] = %f, expected %f", i, output[i], expected[i])
		}
	}
}

func TestUpSampling2DMultiChannel(t *testing.T) {
	up := NewUpSampling2D(Shape{H: 1, W: 1, C: 2}, 3)

	output := up.Forward([]float32{5, -1})
	if len(output) != 18 {
		t.Fatalf("Output length = %d, expected 18", len(output))
	}
	for i := 0; i < 9; i++ {
		if output[i] != 5 || output[9+i] != -1 {
			t.Fatalf("Output = %v", output)
		}
	}
	if got := up.OutputShape(); got != (Shape{H: 3, W: 3, C: 2}) {
		t.Errorf("OutputShape = %v", got)
	}
}

func TestUpSampling2DBackward(t *testing.T) {
	up := NewUpSampling2D(Shape{H: 2, W: 2, C: 1}, 2)
	up.Forward([]float32{1, 2, 3, 4})

	grad := []float32{
		1, 2, 3, 4,
		5, 6, 7, 8,
		9, 10, 11, 12,
		13, 14, 15, 16,
	}
	gradIn := up.Backward(grad)

	expected := []float32{1 + 2 + 5 + 6, 3 + 4 + 7 + 8, 9 + 10 + 13 + 14, 11 + 12 + 15 + 16}
	for i := range expected {
		if gradIn[i] != expected[i] {
			t.Errorf("GradIn[%d] = %f, expected %f", i, gradIn[i], expected[i])
		}
	}
}

func TestUpSampling2DRejectsBadSize(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Error("expected panic for size 0")
		}
	}()
	NewUpSampling2D(Shape{H: 2, W: 2, C: 1}, 0)
}
