package dataset

import (
	"math/rand/v2"

	"gonum.org/v1/gonum/stat/distuv"
)

// DefaultNoiseFactor scales the unit Gaussian added to each pixel.
const DefaultNoiseFactor = 0.5

// AddNoise returns clip(clean + factor*N(0,1), 0, 1) element-wise. clean is
// not modified. Equal sources give equal results.
func AddNoise(clean *Batch, factor float64, src rand.Source) *Batch {
	normal := distuv.Normal{Mu: 0, Sigma: 1, Src: src}

	in := clean.Float32s()
	out := make([]float32, len(in))
	for i, v := range in {
		x := float64(v) + factor*normal.Rand()
		switch {
		case !(x >= 0): // also catches NaN
			x = 0
		case x > 1:
			x = 1
		}
		out[i] = float32(x)
	}

	noisy, _ := NewBatch(clean.Len(), clean.Shape(), out)
	return noisy
}

// NewSource returns a deterministic PCG source for seed.
func NewSource(seed uint64) rand.Source {
	return rand.NewPCG(seed, seed^0x9e3779b97f4a7c15)
}
