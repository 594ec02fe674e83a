package net

import (
	"log"
	"math"
	"time"
)

// EpochReport summarizes one pass over the training set.
type EpochReport struct {
	Epoch    int           `json:"epoch"` // 1-based
	Epochs   int           `json:"epochs"`
	Loss     float32       `json:"loss"`     // mean of the batch losses
	LossStd  float64       `json:"loss_std"` // std deviation of the batch losses
	ValLoss  float32       `json:"val_loss"`
	HasVal   bool          `json:"has_val"`
	Batches  int           `json:"batches"`
	Duration time.Duration `json:"duration"`
}

// Monitored returns the validation loss when available, else the
// training loss.
func (r EpochReport) Monitored() float32 {
	if r.HasVal {
		return r.ValLoss
	}
	return r.Loss
}

// Callback defines the interface for training callbacks.
type Callback interface {
	OnTrainBegin(n *Network)
	OnTrainEnd(n *Network)
	OnEpochBegin(epoch int, n *Network)
	OnEpochEnd(r EpochReport, n *Network)
	OnBatchEnd(batch int, loss float32, n *Network)
}

// BaseCallback provides default empty implementations for Callback.
type BaseCallback struct{}

func (c BaseCallback) OnTrainBegin(n *Network)                        {}
func (c BaseCallback) OnTrainEnd(n *Network)                          {}
func (c BaseCallback) OnEpochBegin(epoch int, n *Network)             {}
func (c BaseCallback) OnEpochEnd(r EpochReport, n *Network)           {}
func (c BaseCallback) OnBatchEnd(batch int, loss float32, n *Network) {}

// Logger logs training progress.
type Logger struct {
	BaseCallback
	Interval int         // log every Interval epochs; <= 0 logs every epoch
	Log      *log.Logger // defaults to the standard logger
}

func (c Logger) logger() *log.Logger {
	if c.Log != nil {
		return c.Log
	}
	return log.Default()
}

func (c Logger) OnEpochEnd(r EpochReport, n *Network) {
	if c.Interval > 1 && r.Epoch%c.Interval != 0 && r.Epoch != r.Epochs {
		return
	}
	if r.HasVal {
		c.logger().Printf("epoch=%d/%d loss=%.4f loss_std=%.4f val_loss=%.4f batches=%d elapsed=%s",
			r.Epoch, r.Epochs, r.Loss, r.LossStd, r.ValLoss, r.Batches, r.Duration.Round(time.Millisecond))
		return
	}
	c.logger().Printf("epoch=%d/%d loss=%.4f loss_std=%.4f batches=%d elapsed=%s",
		r.Epoch, r.Epochs, r.Loss, r.LossStd, r.Batches, r.Duration.Round(time.Millisecond))
}

// ModelCheckpoint saves the model after every epoch if it's the best so far.
type ModelCheckpoint struct {
	BaseCallback
	Filename string

	bestLoss float32
	saves    int
}

func NewModelCheckpoint(filename string) *ModelCheckpoint {
	return &ModelCheckpoint{
		Filename: filename,
		bestLoss: math.MaxFloat32,
	}
}

func (c *ModelCheckpoint) OnEpochEnd(r EpochReport, n *Network) {
	loss := r.Monitored()
	if loss >= c.bestLoss {
		return
	}
	c.bestLoss = loss
	if err := n.Save(c.Filename); err != nil {
		log.Printf("checkpoint: save %s: %v", c.Filename, err)
		return
	}
	c.saves++
	log.Printf("checkpoint: epoch=%d loss=%.4f saved=%s", r.Epoch, loss, c.Filename)
}

// Saves returns how many checkpoints were written.
func (c *ModelCheckpoint) Saves() int {
	return c.saves
}
