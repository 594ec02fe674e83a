package net

import (
	"context"
	"errors"
	"math"
	"testing"

	"github.com/FlavioCFOliveira/denoiser/internal/activations"
	"github.com/FlavioCFOliveira/denoiser/internal/layer"
	"github.com/FlavioCFOliveira/denoiser/internal/loss"
	"github.com/FlavioCFOliveira/denoiser/internal/opt"
)

// tinyAutoencoder is a 4x4x1 -> 4x4x1 conv/pool/upsample/conv stack.
func tinyAutoencoder() *Network {
	in := layer.Shape{H: 4, W: 4, C: 1}
	pool := layer.NewMaxPool2D(2, 2, 2, 0)
	pool.SetInputDimensions(4, 4)
	layers := []layer.Layer{
		layer.NewSameConv2D(in, 2, 3, activations.ReLU{}),
		pool,
		layer.NewUpSampling2D(layer.Shape{H: 2, W: 2, C: 2}, 2),
		layer.NewSameConv2D(layer.Shape{H: 4, W: 4, C: 2}, 1, 3, activations.Sigmoid{}),
	}
	return New(layers, loss.BCELoss{}, opt.NewAdam(0.01))
}

// patterns returns n 4x4 binary images and a noisy copy of each.
func patterns(n int) (noisy, clean [][]float32) {
	rng := layer.NewRNG(7)
	for i := 0; i < n; i++ {
		c := make([]float32, 16)
		x := make([]float32, 16)
		for j := range c {
			if (i+j)%3 == 0 {
				c[j] = 1
			}
			x[j] = float32(math.Min(1, math.Max(0, float64(c[j])+0.3*(rng.Float64()*2-1))))
		}
		clean = append(clean, c)
		noisy = append(noisy, x)
	}
	return noisy, clean
}

func TestNetworkForward(t *testing.T) {
	n := tinyAutoencoder()
	out := n.Forward(make([]float32, 16))
	if len(out) != 16 {
		t.Fatalf("Output length = %d, want 16", len(out))
	}
	for i, v := range out {
		if v < 0 || v > 1 {
			t.Errorf("out[%d] = %v, want value in [0,1]", i, v)
		}
	}
}

func TestNetworkBackward(t *testing.T) {
	n := tinyAutoencoder()
	x := make([]float32, 16)
	for i := range x {
		x[i] = float32(i) / 16
	}
	yPred := n.Forward(x)
	grad := n.Backward(loss.BCELoss{}.Backward(yPred, x))
	if len(grad) != 16 {
		t.Errorf("Input gradient length = %d, want 16", len(grad))
	}
	var nGrads int
	for _, l := range n.Layers() {
		nGrads += len(l.Gradients())
	}
	if nGrads != n.NumParams() {
		t.Errorf("Gradients length = %d, want %d", nGrads, n.NumParams())
	}
}

func TestNumParams(t *testing.T) {
	n := tinyAutoencoder()
	// conv1: 2*1*9 + 2, conv2: 1*2*9 + 1
	if got, want := n.NumParams(), 20+19; got != want {
		t.Errorf("NumParams = %d, want %d", got, want)
	}
}

func TestSetParamsMismatch(t *testing.T) {
	n := tinyAutoencoder()
	if err := n.SetParams(make([]float32, 3)); err == nil {
		t.Error("expected error on parameter count mismatch")
	}
	params := n.Params()
	params[0] = 0.5
	if err := n.SetParams(params); err != nil {
		t.Fatalf("SetParams: %v", err)
	}
	if got := n.Params()[0]; got != 0.5 {
		t.Errorf("param[0] = %v, want 0.5", got)
	}
}

func TestTrainBatchReducesLoss(t *testing.T) {
	n := tinyAutoencoder()
	x, y := patterns(6)

	first := n.TrainBatch(x, y)
	var last float32
	for i := 0; i < 200; i++ {
		last = n.TrainBatch(x, y)
	}
	if last >= first {
		t.Errorf("loss did not decrease: first=%v last=%v", first, last)
	}
	if last < 0 {
		t.Errorf("BCE loss negative: %v", last)
	}
}

func TestPredictReturnsCopy(t *testing.T) {
	n := tinyAutoencoder()
	x, _ := patterns(2)
	a := n.Predict(x[0])
	n.Forward(x[1])
	b := n.Predict(x[0])
	for i := range a {
		if a[i] != b[i] {
			t.Fatalf("Predict not stable at %d: %v vs %v", i, a[i], b[i])
		}
	}
}

type recorder struct {
	BaseCallback
	begins, ends, epochs, batches int
}

func (r *recorder) OnTrainBegin(n *Network)                        { r.begins++ }
func (r *recorder) OnTrainEnd(n *Network)                          { r.ends++ }
func (r *recorder) OnEpochEnd(rep EpochReport, n *Network)         { r.epochs++ }
func (r *recorder) OnBatchEnd(batch int, loss float32, n *Network) { r.batches++ }

func TestFitHistory(t *testing.T) {
	n := tinyAutoencoder()
	x, y := patterns(5)
	vx, vy := patterns(2)
	rec := &recorder{}

	h, err := n.Fit(context.Background(), x, y, FitConfig{
		Epochs:      3,
		BatchSize:   2,
		Seed:        1,
		ValidationX: vx,
		ValidationY: vy,
		Callbacks:   []Callback{rec},
	})
	if err != nil {
		t.Fatalf("Fit: %v", err)
	}
	if len(h.Epochs) != 3 {
		t.Fatalf("history has %d epochs, want 3", len(h.Epochs))
	}
	for i, r := range h.Epochs {
		if r.Epoch != i+1 || r.Epochs != 3 {
			t.Errorf("epoch %d numbered %d/%d", i, r.Epoch, r.Epochs)
		}
		if r.Batches != 3 {
			t.Errorf("epoch %d: batches = %d, want 3", r.Epoch, r.Batches)
		}
		if !r.HasVal || r.ValLoss <= 0 {
			t.Errorf("epoch %d: missing validation loss", r.Epoch)
		}
		if r.LossStd < 0 {
			t.Errorf("epoch %d: negative std %v", r.Epoch, r.LossStd)
		}
	}
	if got := len(h.ValLosses()); got != 3 {
		t.Errorf("ValLosses length = %d, want 3", got)
	}
	if rec.begins != 1 || rec.ends != 1 || rec.epochs != 3 || rec.batches != 9 {
		t.Errorf("callbacks = %+v", *rec)
	}
}

func TestFitDeterministic(t *testing.T) {
	x, y := patterns(8)
	cfg := FitConfig{Epochs: 2, BatchSize: 3, Seed: 42}

	h1, err := tinyAutoencoder().Fit(context.Background(), x, y, cfg)
	if err != nil {
		t.Fatal(err)
	}
	h2, err := tinyAutoencoder().Fit(context.Background(), x, y, cfg)
	if err != nil {
		t.Fatal(err)
	}
	for i := range h1.Epochs {
		if h1.Epochs[i].Loss != h2.Epochs[i].Loss {
			t.Errorf("epoch %d: loss %v vs %v", i+1, h1.Epochs[i].Loss, h2.Epochs[i].Loss)
		}
	}
	if h1.ValLosses() != nil {
		t.Error("ValLosses should be nil without a validation set")
	}
}

func TestFitCancelled(t *testing.T) {
	n := tinyAutoencoder()
	x, y := patterns(4)
	rec := &recorder{}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	h, err := n.Fit(ctx, x, y, FitConfig{Epochs: 5, BatchSize: 2, Callbacks: []Callback{rec}})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
	if len(h.Epochs) != 0 {
		t.Errorf("history has %d epochs, want 0", len(h.Epochs))
	}
	if rec.ends != 1 {
		t.Errorf("OnTrainEnd called %d times, want 1", rec.ends)
	}
}

func TestFitInvalidConfig(t *testing.T) {
	x, y := patterns(4)
	tests := []struct {
		name string
		x, y [][]float32
		cfg  FitConfig
	}{
		{"zero epochs", x, y, FitConfig{BatchSize: 2}},
		{"zero batch", x, y, FitConfig{Epochs: 1}},
		{"empty", nil, nil, FitConfig{Epochs: 1, BatchSize: 2}},
		{"mismatch", x, y[:2], FitConfig{Epochs: 1, BatchSize: 2}},
		{"validation mismatch", x, y, FitConfig{Epochs: 1, BatchSize: 2, ValidationX: x}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := tinyAutoencoder().Fit(context.Background(), tt.x, tt.y, tt.cfg); err == nil {
				t.Error("expected error")
			}
		})
	}
}

func TestEvaluateDoesNotTrain(t *testing.T) {
	n := tinyAutoencoder()
	x, y := patterns(3)
	before := n.Params()
	n.Evaluate(x, y)
	after := n.Params()
	for i := range before {
		if before[i] != after[i] {
			t.Fatalf("param %d changed during Evaluate", i)
		}
	}
}
