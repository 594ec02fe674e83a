package layer

import (
	"testing"
)

func TestMaxPool2DForward(t *testing.T) {
	// Test 2x2 max pooling with stride 2, no padding (single channel)
	pool := NewMaxPool2D(1, 2, 2, 0)

	// 1  2  3  4
	// 5  6  7  8
	// 9  10 11 12
	// 13 14 15 16
	input := []float32{1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11, 12, 13, 14, 15, 16}

	output := pool.Forward(input)

	// max(1,2,5,6) = 6, max(3,4,7,8) = 8
	// max(9,10,13,14) = 14, max(11,12,15,16) = 16
	expected := []float32{6, 8, 14, 16}

	if len(output) != 4 {
		t.Fatalf("Output length = %d, expected 4", len(output))
	}
	for i := range expected {
		if output[i] != expected[i] {
			t.Errorf("Output[%d] = %f, expected %f", i, output[i], expected[i])
		}
	}
}

func TestMaxPool2DForwardPadding(t *testing.T) {
	pool := NewMaxPool2D(1, 2, 2, 1)

	// 1 2 3
	// 4 5 6
	// 7 8 9
	input := []float32{1, 2, 3, 4, 5, 6, 7, 8, 9}
	output := pool.Forward(input)

	// Output size: (3 + 2*1 - 2) / 2 + 1 = 2; padded cells never win.
	expected := []float32{1, 3, 7, 9}
	if len(output) != len(expected) {
		t.Fatalf("Output length = %d, expected %d", len(output), len(expected))
	}
	for i := range expected {
		if output[i] != expected[i] {
			t.Errorf("Output[%d] = %f, expected %f", i, output[i], expected[i])
		}
	}
}

func TestMaxPool2DNegativeInputs(t *testing.T) {
	pool := NewMaxPool2D(1, 2, 2, 0)
	output := pool.Forward([]float32{-4, -3, -2, -1})
	if output[0] != -1 {
		t.Errorf("Output[0] = %f, expected -1", output[0])
	}
}

func TestMaxPool2DMultiChannel(t *testing.T) {
	pool := NewMaxPool2D(2, 2, 2, 0)
	pool.SetInputDimensions(2, 2)

	input := []float32{
		1, 9, 3, 4, // channel 0
		5, 6, 8, 7, // channel 1
	}
	output := pool.Forward(input)
	if len(output) != 2 || output[0] != 9 || output[1] != 8 {
		t.Errorf("Output = %v, expected [9 8]", output)
	}
	if got := pool.OutputShape(); got != (Shape{H: 1, W: 1, C: 2}) {
		t.Errorf("OutputShape = %v", got)
	}
}

func TestMaxPool2DBackward(t *testing.T) {
	pool := NewMaxPool2D(1, 2, 2, 0)

	input := []float32{1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11, 12, 13, 14, 15, 16}
	pool.Forward(input)

	outputGrad := pool.Backward([]float32{1, 2, 3, 4})

	// Only the max positions should get gradient
	expected := []float32{0, 0, 0, 0, 0, 1, 0, 2, 0, 0, 0, 0, 0, 3, 0, 4}
	for i := range expected {
		if outputGrad[i] != expected[i] {
			t.Errorf("Grad[%d] = %f, expected %f", i, outputGrad[i], expected[i])
		}
	}
}

func TestMaxPool2DArgmax(t *testing.T) {
	pool := NewMaxPool2D(1, 2, 2, 0)

	input := []float32{1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11, 12, 13, 14, 15, 16}
	pool.Forward(input)

	argmax := pool.GetArgmax()
	expectedArgmax := []int{5, 7, 13, 15}
	for i := range expectedArgmax {
		if argmax[i] != expectedArgmax[i] {
			t.Errorf("Argmax[%d] = %d, expected %d", i, argmax[i], expectedArgmax[i])
		}
	}
}

func TestMaxPool2DParams(t *testing.T) {
	pool := NewMaxPool2D(1, 2, 2, 0)

	if n := len(pool.Params()); n != 0 {
		t.Errorf("Expected 0 params, got %d", n)
	}
	if n := len(pool.Gradients()); n != 0 {
		t.Errorf("Expected 0 gradients, got %d", n)
	}
	pool.SetParams([]float32{1, 2, 3})
	if n := len(pool.Params()); n != 0 {
		t.Errorf("Expected 0 params after SetParams, got %d", n)
	}
}

func TestMaxPool2DInOutSize(t *testing.T) {
	pool := NewMaxPool2D(1, 2, 2, 0)

	input := make([]float32, 16)
	for i := range input {
		input[i] = float32(i)
	}
	pool.Forward(input)

	if pool.InSize() != 16 {
		t.Errorf("InSize = %d, expected 16", pool.InSize())
	}
	if pool.OutSize() != 4 {
		t.Errorf("OutSize = %d, expected 4", pool.OutSize())
	}
}
