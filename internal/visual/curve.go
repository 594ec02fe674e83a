package visual

import (
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/plotutil"
	"gonum.org/v1/plot/vg"

	"github.com/FlavioCFOliveira/denoiser/internal/net"
)

// Loss curve size.
var (
	CurveWidth  = 6 * vg.Inch
	CurveHeight = 4 * vg.Inch
)

func newLossPlot(h *net.History) (*plot.Plot, error) {
	if h == nil || len(h.Epochs) == 0 {
		return nil, fmt.Errorf("loss curve: empty history")
	}

	p := plot.New()
	p.Title.Text = "Reconstruction loss"
	p.X.Label.Text = "epoch"
	p.Y.Label.Text = "binary cross-entropy"
	p.X.Tick.Label.Font.Size = 10
	p.Y.Tick.Label.Font.Size = 10
	p.Legend.Top = true
	p.Add(plotter.NewGrid())

	series := []struct {
		name   string
		values []float64
	}{
		{"training loss", h.Losses()},
		{"validation loss", h.ValLosses()},
	}
	for i, s := range series {
		if s.values == nil {
			continue
		}
		pts := make(plotter.XYs, len(s.values))
		for j, v := range s.values {
			pts[j].X = float64(h.Epochs[j].Epoch)
			pts[j].Y = v
		}
		l, err := plotter.NewLine(pts)
		if err != nil {
			return nil, fmt.Errorf("loss curve: %w", err)
		}
		l.Width = 2
		l.Color = plotutil.Color(i)
		p.Add(l)
		p.Legend.Add(s.name, l)
	}
	return p, nil
}

// WriteLossCurve renders the per-epoch training and validation loss in the
// given format ("svg", "png", ...).
func WriteLossCurve(w io.Writer, h *net.History, format string) error {
	p, err := newLossPlot(h)
	if err != nil {
		return err
	}
	wt, err := p.WriterTo(CurveWidth, CurveHeight, format)
	if err != nil {
		return err
	}
	_, err = wt.WriteTo(w)
	return err
}

// LossCurve saves the loss curve; the format follows the file extension.
func LossCurve(h *net.History, path string) error {
	ext := strings.TrimPrefix(filepath.Ext(path), ".")
	if ext == "" {
		return fmt.Errorf("loss curve: %s has no extension", path)
	}
	p, err := newLossPlot(h)
	if err != nil {
		return err
	}
	return p.Save(CurveWidth, CurveHeight, path)
}
