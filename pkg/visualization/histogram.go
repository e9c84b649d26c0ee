package visualization

import (
	"fmt"
	"image/color"
	"math"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"

	"voxelcarve/internal/models"
	"voxelcarve/pkg/carving"
)

// SaveVoteHistogram plots the distribution of per-voxel votes with one bin
// centered on each vote count 0..views and marks the occupancy cutoff.
func SaveVoteHistogram(votes carving.Votes, views int, cutoff float64, filename string) error {
	if len(votes) == 0 {
		return fmt.Errorf("%w: no votes to plot", models.ErrConfiguration)
	}

	hist := &plotter.Histogram{
		Bins:      voteBins(votes, views),
		Width:     1,
		FillColor: color.RGBA{R: 70, G: 110, B: 180, A: 255},
		LineStyle: plotter.DefaultLineStyle,
	}
	hist.LineStyle.Width = vg.Points(0.5)

	p := plot.New()
	p.Title.Text = fmt.Sprintf("Votes per voxel (%d views)", views)
	p.X.Label.Text = "votes"
	p.Y.Label.Text = "voxels"
	p.Add(hist)

	line, err := plotter.NewLine(plotter.XYs{
		{X: cutoff, Y: 0},
		{X: cutoff, Y: maxBin(hist)},
	})
	if err != nil {
		return fmt.Errorf("building cutoff marker: %w", err)
	}
	line.Color = color.RGBA{R: 200, A: 255}
	line.Width = vg.Points(1)
	line.Dashes = []vg.Length{vg.Points(4), vg.Points(2)}
	p.Add(line)
	p.Legend.Add("cutoff", line)

	if err := p.Save(6*vg.Inch, 4*vg.Inch, filename); err != nil {
		return fmt.Errorf("%w: saving %s: %v", models.ErrIO, filename, err)
	}
	return nil
}

// voteBins counts the votes into bins [k-0.5, k+0.5) for k = 0..views.
// Votes are rounded to the nearest count and clamped into that range.
func voteBins(votes carving.Votes, views int) []plotter.HistogramBin {
	views = max(views, 0)
	bins := make([]plotter.HistogramBin, views+1)
	for k := range bins {
		bins[k].Min = float64(k) - 0.5
		bins[k].Max = float64(k) + 0.5
	}
	for _, v := range votes {
		k := min(max(int(math.Round(v)), 0), views)
		bins[k].Weight++
	}
	return bins
}

func maxBin(h *plotter.Histogram) float64 {
	m := 0.0
	for _, b := range h.Bins {
		if b.Weight > m {
			m = b.Weight
		}
	}
	return m
}
