// Package visual renders image comparison grids and training curves.
package visual

import (
	"fmt"
	"image"
	"image/color"
	"io"
	"math"
	"os"

	"github.com/lucasb-eyer/go-colorful"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"
	"gonum.org/v1/plot/vg/draw"
	"gonum.org/v1/plot/vg/vgimg"

	"github.com/FlavioCFOliveira/denoiser/internal/dataset"
)

// DefaultSamples is the number of columns in a comparison grid.
const DefaultSamples = 10

// CellSize is the rendered size of one grid cell.
var CellSize = vg.Inch

// Residual colors run from cold (no error) to hot (error of 1).
var (
	residualCold = colorful.Color{R: 0.03, G: 0.03, B: 0.15}
	residualHot  = colorful.Color{R: 1, G: 0.27, B: 0}
)

// Row is one titled row of images.
type Row struct {
	Title  string
	Images []image.Image
}

// BatchRow turns the first n samples of b into a grayscale row. Only the
// first channel is drawn.
func BatchRow(title string, b *dataset.Batch, n int) (Row, error) {
	if n <= 0 || n > b.Len() {
		return Row{}, fmt.Errorf("row %q: %d samples requested, batch has %d", title, n, b.Len())
	}
	s := b.Shape()
	row := Row{Title: title, Images: make([]image.Image, n)}
	for i := 0; i < n; i++ {
		px := b.Sample(i)
		img := image.NewGray(image.Rect(0, 0, s.W, s.H))
		for y := 0; y < s.H; y++ {
			for x := 0; x < s.W; x++ {
				img.SetGray(x, y, color.Gray{Y: toByte(px[(y*s.W+x)*s.C])})
			}
		}
		row.Images[i] = img
	}
	return row, nil
}

// ResidualRow colors |got - want| per pixel for the first n samples.
func ResidualRow(title string, got, want *dataset.Batch, n int) (Row, error) {
	if got.Len() != want.Len() || got.Shape() != want.Shape() {
		return Row{}, fmt.Errorf("residual: %d x %s vs %d x %s", got.Len(), got.Shape(), want.Len(), want.Shape())
	}
	if n <= 0 || n > got.Len() {
		return Row{}, fmt.Errorf("residual: %d samples requested, batch has %d", n, got.Len())
	}
	s := got.Shape()
	row := Row{Title: title, Images: make([]image.Image, n)}
	for i := 0; i < n; i++ {
		a, b := got.Sample(i), want.Sample(i)
		img := image.NewRGBA(image.Rect(0, 0, s.W, s.H))
		for y := 0; y < s.H; y++ {
			for x := 0; x < s.W; x++ {
				j := (y*s.W + x) * s.C
				d := math.Abs(float64(a[j] - b[j]))
				r, g, bl := residualCold.BlendLab(residualHot, math.Min(d, 1)).Clamped().RGB255()
				img.SetRGBA(x, y, color.RGBA{R: r, G: g, B: bl, A: 255})
			}
		}
		row.Images[i] = img
	}
	return row, nil
}

func toByte(v float32) uint8 {
	switch {
	case v <= 0:
		return 0
	case v >= 1:
		return 255
	}
	return uint8(math.Round(float64(v) * 255))
}

// WriteGrid renders rows as a PNG, one plot per cell. Every row must have
// the same number of images.
func WriteGrid(w io.Writer, rows []Row) error {
	if len(rows) == 0 {
		return fmt.Errorf("grid: no rows")
	}
	cols := len(rows[0].Images)
	for _, r := range rows {
		if len(r.Images) != cols {
			return fmt.Errorf("grid: row %q has %d images, want %d", r.Title, len(r.Images), cols)
		}
	}
	if cols == 0 {
		return fmt.Errorf("grid: empty rows")
	}

	plots := make([][]*plot.Plot, len(rows))
	for i, r := range rows {
		plots[i] = make([]*plot.Plot, cols)
		for j, img := range r.Images {
			p := plot.New()
			p.HideAxes()
			b := img.Bounds()
			p.Add(plotter.NewImage(img, 0, 0, float64(b.Dx()), float64(b.Dy())))
			if j == 0 {
				p.Title.Text = r.Title
			}
			plots[i][j] = p
		}
	}

	canvas := vgimg.New(CellSize*vg.Length(cols), CellSize*vg.Length(len(rows)))
	dc := draw.New(canvas)
	tiles := draw.Tiles{
		Rows: len(rows),
		Cols: cols,
		PadX: vg.Millimeter,
		PadY: vg.Millimeter,
	}
	canvases := plot.Align(plots, tiles, dc)
	for i := range plots {
		for j := range plots[i] {
			plots[i][j].Draw(canvases[i][j])
		}
	}

	_, err := vgimg.PngCanvas{Canvas: canvas}.WriteTo(w)
	return err
}

// SaveGrid writes the grid to a PNG file.
func SaveGrid(path string, rows []Row) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := WriteGrid(f, rows); err != nil {
		f.Close()
		return fmt.Errorf("grid %s: %w", path, err)
	}
	return f.Close()
}

// Comparison saves the first n samples of each batch as one row per
// batch. All batches must hold the same number of samples.
func Comparison(path string, n int, titles []string, batches ...*dataset.Batch) error {
	if len(titles) != len(batches) {
		return fmt.Errorf("comparison: %d titles for %d batches", len(titles), len(batches))
	}
	if len(batches) == 0 {
		return fmt.Errorf("comparison: no batches")
	}
	for _, b := range batches[1:] {
		if b.Len() != batches[0].Len() {
			return fmt.Errorf("comparison: batches hold %d and %d samples", batches[0].Len(), b.Len())
		}
	}
	n = min(n, batches[0].Len())

	rows := make([]Row, len(batches))
	for i, b := range batches {
		row, err := BatchRow(titles[i], b, n)
		if err != nil {
			return err
		}
		rows[i] = row
	}
	return SaveGrid(path, rows)
}
