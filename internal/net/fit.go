package net

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"time"

	"gonum.org/v1/gonum/stat"
)

// FitConfig controls a training run.
type FitConfig struct {
	Epochs    int
	BatchSize int
	// Seed drives the per-epoch shuffle. Runs with equal seeds, data and
	// initial parameters are identical.
	Seed uint64
	// NoShuffle keeps the sample order fixed across epochs.
	NoShuffle bool

	ValidationX [][]float32
	ValidationY [][]float32

	Callbacks []Callback
}

// History is the per-epoch record of a Fit call.
type History struct {
	Epochs []EpochReport `json:"epochs"`
}

// Losses returns the training loss of each epoch.
func (h *History) Losses() []float64 {
	out := make([]float64, len(h.Epochs))
	for i, r := range h.Epochs {
		out[i] = float64(r.Loss)
	}
	return out
}

// ValLosses returns the validation loss of each epoch, or nil when no
// validation set was used.
func (h *History) ValLosses() []float64 {
	if len(h.Epochs) == 0 || !h.Epochs[0].HasVal {
		return nil
	}
	out := make([]float64, len(h.Epochs))
	for i, r := range h.Epochs {
		out[i] = float64(r.ValLoss)
	}
	return out
}

// Last returns the most recent epoch report.
func (h *History) Last() (EpochReport, bool) {
	if len(h.Epochs) == 0 {
		return EpochReport{}, false
	}
	return h.Epochs[len(h.Epochs)-1], true
}

func (c *FitConfig) validate(x, y [][]float32) error {
	if c.Epochs <= 0 {
		return fmt.Errorf("epochs must be > 0 (got %d)", c.Epochs)
	}
	if c.BatchSize <= 0 {
		return fmt.Errorf("batch size must be > 0 (got %d)", c.BatchSize)
	}
	if len(x) == 0 {
		return errors.New("empty training set")
	}
	if len(x) != len(y) {
		return fmt.Errorf("training set has %d inputs but %d targets", len(x), len(y))
	}
	if len(c.ValidationX) != len(c.ValidationY) {
		return fmt.Errorf("validation set has %d inputs but %d targets", len(c.ValidationX), len(c.ValidationY))
	}
	return nil
}

// Fit trains the network for cfg.Epochs full passes over (x, y) in
// mini-batches of cfg.BatchSize, one optimizer step per batch. The last
// batch of an epoch may be short. Cancelling ctx stops training between
// batches and returns the history so far with ctx.Err().
func (n *Network) Fit(ctx context.Context, x, y [][]float32, cfg FitConfig) (*History, error) {
	if err := cfg.validate(x, y); err != nil {
		return nil, fmt.Errorf("fit: %w", err)
	}

	rng := rand.New(rand.NewPCG(cfg.Seed, cfg.Seed+1))
	order := make([]int, len(x))
	for i := range order {
		order[i] = i
	}

	history := &History{}
	for _, cb := range cfg.Callbacks {
		cb.OnTrainBegin(n)
	}
	defer func() {
		for _, cb := range cfg.Callbacks {
			cb.OnTrainEnd(n)
		}
	}()

	numBatches := (len(x) + cfg.BatchSize - 1) / cfg.BatchSize
	batchLosses := make([]float64, 0, numBatches)
	batchX := make([][]float32, 0, cfg.BatchSize)
	batchY := make([][]float32, 0, cfg.BatchSize)

	for epoch := 1; epoch <= cfg.Epochs; epoch++ {
		start := time.Now()
		for _, cb := range cfg.Callbacks {
			cb.OnEpochBegin(epoch, n)
		}
		if !cfg.NoShuffle {
			rng.Shuffle(len(order), func(i, j int) { order[i], order[j] = order[j], order[i] })
		}

		batchLosses = batchLosses[:0]
		for b := 0; b < numBatches; b++ {
			if err := ctx.Err(); err != nil {
				return history, err
			}
			lo := b * cfg.BatchSize
			hi := min(lo+cfg.BatchSize, len(order))
			batchX, batchY = batchX[:0], batchY[:0]
			for _, idx := range order[lo:hi] {
				batchX = append(batchX, x[idx])
				batchY = append(batchY, y[idx])
			}

			l := n.TrainBatch(batchX, batchY)
			batchLosses = append(batchLosses, float64(l))
			for _, cb := range cfg.Callbacks {
				cb.OnBatchEnd(b, l, n)
			}
		}

		// Weight each batch by its size so a short last batch does not
		// skew the epoch mean.
		weights := make([]float64, len(batchLosses))
		for b := range weights {
			weights[b] = float64(min(cfg.BatchSize, len(x)-b*cfg.BatchSize))
		}
		mean, std := stat.MeanStdDev(batchLosses, weights)
		if len(batchLosses) < 2 {
			std = 0
		}

		report := EpochReport{
			Epoch:   epoch,
			Epochs:  cfg.Epochs,
			Loss:    float32(mean),
			LossStd: std,
			Batches: numBatches,
		}
		if len(cfg.ValidationX) > 0 {
			report.ValLoss = n.Evaluate(cfg.ValidationX, cfg.ValidationY)
			report.HasVal = true
		}
		report.Duration = time.Since(start)

		history.Epochs = append(history.Epochs, report)
		for _, cb := range cfg.Callbacks {
			cb.OnEpochEnd(report, n)
		}
	}

	return history, nil
}
