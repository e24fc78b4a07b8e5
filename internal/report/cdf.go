package report

import (
	"io"
	"math"
	"sort"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/plotutil"
	"gonum.org/v1/plot/vg"

	"github.com/banshee-data/rf.twin/internal/locate"
)

// ErrorCDF plots the empirical CDF of localization error, one line per
// named run (typically one per algorithm).
func ErrorCDF(w io.Writer, runs map[string]locate.Accuracy, img ImageOptions) error {
	names := make([]string, 0, len(runs))
	for name, acc := range runs {
		if len(acc.Errors) > 0 {
			names = append(names, name)
		}
	}
	if len(names) == 0 {
		return ErrNoData
	}
	sort.Strings(names)

	p := plot.New()
	p.Title.Text = "Localization error CDF"
	p.X.Label.Text = "error (m)"
	p.Y.Label.Text = "fraction of samples"
	p.Y.Min, p.Y.Max = 0, 1
	p.Add(plotter.NewGrid())

	for i, name := range names {
		line, err := plotter.NewLine(cdfPoints(runs[name].Errors))
		if err != nil {
			return err
		}
		line.StepStyle = plotter.PostStep
		line.Color = plotutil.Color(i)
		line.Dashes = plotutil.Dashes(i)
		line.Width = vg.Points(1.5)
		p.Add(line)
		p.Legend.Add(name, line)
	}
	p.Legend.Top = false
	p.Legend.Left = false
	return render(w, p, img)
}

// cdfPoints turns sorted errors into step points starting at (0, 0).
func cdfPoints(sorted []float64) plotter.XYs {
	n := float64(len(sorted))
	pts := make(plotter.XYs, 0, len(sorted)+1)
	pts = append(pts, plotter.XY{X: 0, Y: 0})
	for i, e := range sorted {
		if math.IsNaN(e) || math.IsInf(e, 0) {
			continue
		}
		pts = append(pts, plotter.XY{X: e, Y: float64(i+1) / n})
	}
	return pts
}
