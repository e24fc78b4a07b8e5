package report

import (
	"image/color"
	"io"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/plotutil"
	"gonum.org/v1/plot/vg"
	"gonum.org/v1/plot/vg/draw"

	"github.com/banshee-data/rf.twin/internal/rf/geom"
	"github.com/banshee-data/rf.twin/internal/tracking"
)

// Trajectories draws the floor-plane track of each target with its latest
// fix marked. Targets without a fix are skipped.
func Trajectories(w io.Writer, targets []tracking.TrackedTarget, aps []geom.Vec3, img ImageOptions) error {
	p := plot.New()
	p.Title.Text = "Tracked targets"
	p.X.Label.Text = "x (m)"
	p.Y.Label.Text = "y (m)"
	p.Add(plotter.NewGrid())

	drawn := 0
	for _, t := range targets {
		if len(t.Trajectory) == 0 {
			continue
		}
		pts := make(plotter.XYs, len(t.Trajectory))
		for i, tp := range t.Trajectory {
			pts[i] = plotter.XY{X: tp.Position.X, Y: tp.Position.Y}
		}
		line, err := plotter.NewLine(pts)
		if err != nil {
			return err
		}
		line.Color = plotutil.Color(drawn)
		line.Width = vg.Points(1)

		last, err := plotter.NewScatter(pts[len(pts)-1:])
		if err != nil {
			return err
		}
		last.GlyphStyle.Color = line.Color
		last.GlyphStyle.Shape = draw.CircleGlyph{}
		last.GlyphStyle.Radius = vg.Points(4)

		p.Add(line, last)
		p.Legend.Add(t.Name, line, last)
		drawn++
	}
	if drawn == 0 {
		return ErrNoData
	}

	if len(aps) > 0 {
		xys := make(plotter.XYs, len(aps))
		for i, a := range aps {
			xys[i] = plotter.XY{X: a.X, Y: a.Y}
		}
		sc, err := plotter.NewScatter(xys)
		if err != nil {
			return err
		}
		sc.GlyphStyle.Shape = draw.PyramidGlyph{}
		sc.GlyphStyle.Radius = vg.Points(5)
		sc.GlyphStyle.Color = color.Black
		p.Add(sc)
		p.Legend.Add("access point", sc)
	}
	return render(w, p, img)
}
