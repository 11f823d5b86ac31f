// Package report renders per-class crossing tallies as static PNG bar
// charts with gonum/plot.
package report

import (
	"fmt"
	"image/color"
	"io"
	"os"
	"path/filepath"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"

	"github.com/banshee-data/linecount/internal/counts"
)

// Default image size.
const (
	DefaultWidth  = 10 * vg.Inch
	DefaultHeight = 5 * vg.Inch
)

var (
	forwardColor  = color.RGBA{R: 0x2b, G: 0x83, B: 0xba, A: 0xff}
	backwardColor = color.RGBA{R: 0xd7, G: 0x19, B: 0x1c, A: 0xff}
)

// CountsChart builds a grouped bar chart with one group per class label
// and a bar for each direction.
func CountsChart(title string, s counts.Snapshot) (*plot.Plot, error) {
	labels := s.Labels()
	if len(labels) == 0 {
		labels = []string{"(no crossings)"}
	}

	fwd := make(plotter.Values, len(labels))
	bwd := make(plotter.Values, len(labels))
	for i, label := range labels {
		fwd[i] = float64(s.Forward[label])
		bwd[i] = float64(s.Backward[label])
	}

	p := plot.New()
	p.Title.Text = title
	p.Y.Label.Text = "Crossings"
	p.Y.Min = 0

	w := vg.Points(18)
	fwdBars, err := plotter.NewBarChart(fwd, w)
	if err != nil {
		return nil, fmt.Errorf("forward bars: %w", err)
	}
	fwdBars.Color = forwardColor
	fwdBars.LineStyle.Width = vg.Length(0)
	fwdBars.Offset = -w / 2

	bwdBars, err := plotter.NewBarChart(bwd, w)
	if err != nil {
		return nil, fmt.Errorf("backward bars: %w", err)
	}
	bwdBars.Color = backwardColor
	bwdBars.LineStyle.Width = vg.Length(0)
	bwdBars.Offset = w / 2

	p.Add(fwdBars, bwdBars)
	p.Legend.Add(fmt.Sprintf("forward (%d)", s.TotalForward), fwdBars)
	p.Legend.Add(fmt.Sprintf("backward (%d)", s.TotalBackward), bwdBars)
	p.Legend.Top = true
	p.Legend.XOffs = -10
	p.NominalX(labels...)
	return p, nil
}

// WritePNG renders the chart for s to w.
func WritePNG(w io.Writer, title string, s counts.Snapshot) error {
	p, err := CountsChart(title, s)
	if err != nil {
		return err
	}
	wt, err := p.WriterTo(DefaultWidth, DefaultHeight, "png")
	if err != nil {
		return fmt.Errorf("render png: %w", err)
	}
	_, err = wt.WriteTo(w)
	return err
}

// SavePNG renders the chart for s to path, creating parent directories.
func SavePNG(path, title string, s counts.Snapshot) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := WritePNG(f, title, s); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
