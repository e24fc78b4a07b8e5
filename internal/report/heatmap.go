// Package report renders fingerprint coverage maps, localization error
// CDFs and target trajectories with gonum/plot.
package report

import (
	"errors"
	"fmt"
	"image/color"
	"io"
	"math"
	"path/filepath"
	"slices"
	"strings"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/palette"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"
	"gonum.org/v1/plot/vg/draw"

	"github.com/banshee-data/rf.twin/internal/fingerprint"
)

// StrongestAP selects the per-point maximum over all access points.
const StrongestAP = -1

var ErrNoData = errors.New("nothing to plot")

// Grid is one horizontal layer of a fingerprint database viewed as a
// plotter.GridXYZ. Lattice cells without a fingerprint are NaN.
type Grid struct {
	xs, ys []float64
	z      [][]float64 // [row][col]
}

// Layers returns the distinct sample heights of fdb in ascending order.
func Layers(fdb *fingerprint.Database) []float64 {
	var zs []float64
	for _, fp := range fdb.Fingerprints() {
		zs = append(zs, fp.Position.Z)
	}
	slices.Sort(zs)
	return slices.Compact(zs)
}

// NewGrid extracts the layer at height z for access point ap, or the
// strongest reading per point with StrongestAP.
func NewGrid(fdb *fingerprint.Database, ap int, z float64) (*Grid, error) {
	if ap < StrongestAP || ap >= fdb.APCount() {
		return nil, fmt.Errorf("access point %d out of range [0,%d)", ap, fdb.APCount())
	}
	var layer []fingerprint.Fingerprint
	for _, fp := range fdb.Fingerprints() {
		if fp.Position.Z == z {
			layer = append(layer, fp)
		}
	}
	if len(layer) == 0 {
		return nil, fmt.Errorf("%w: no fingerprints at z=%v", ErrNoData, z)
	}

	g := &Grid{}
	for _, fp := range layer {
		g.xs = append(g.xs, fp.Position.X)
		g.ys = append(g.ys, fp.Position.Y)
	}
	slices.Sort(g.xs)
	slices.Sort(g.ys)
	g.xs = slices.Compact(g.xs)
	g.ys = slices.Compact(g.ys)

	g.z = make([][]float64, len(g.ys))
	for r := range g.z {
		g.z[r] = make([]float64, len(g.xs))
		for c := range g.z[r] {
			g.z[r][c] = math.NaN()
		}
	}
	for _, fp := range layer {
		c, _ := slices.BinarySearch(g.xs, fp.Position.X)
		r, _ := slices.BinarySearch(g.ys, fp.Position.Y)
		v := math.Inf(-1)
		if ap == StrongestAP {
			for _, x := range fp.RSSI {
				v = max(v, x)
			}
		} else {
			v = fp.RSSI[ap]
		}
		g.z[r][c] = v
	}
	return g, nil
}

func (g *Grid) Dims() (c, r int)   { return len(g.xs), len(g.ys) }
func (g *Grid) Z(c, r int) float64 { return g.z[r][c] }
func (g *Grid) X(c int) float64    { return g.xs[c] }
func (g *Grid) Y(r int) float64    { return g.ys[r] }

// Range returns the smallest and largest finite values.
func (g *Grid) Range() (lo, hi float64) {
	lo, hi = math.Inf(1), math.Inf(-1)
	for _, row := range g.z {
		for _, v := range row {
			if !math.IsNaN(v) {
				lo, hi = min(lo, v), max(hi, v)
			}
		}
	}
	return lo, hi
}

// HeatmapOptions controls Heatmap.
type HeatmapOptions struct {
	// AP is the access point column, or StrongestAP.
	AP int
	// Layer selects the sample height; nil picks the lowest.
	Layer *float64
	Title string
	Image ImageOptions
}

// ImageOptions sets the output format and size. Format is any gonum/plot
// format name; zero values give an 8x6 inch png.
type ImageOptions struct {
	Format        string
	Width, Height vg.Length
}

func (o ImageOptions) size() (vg.Length, vg.Length) {
	w, h := o.Width, o.Height
	if w == 0 {
		w = 8 * vg.Inch
	}
	if h == 0 {
		h = 6 * vg.Inch
	}
	return w, h
}

// Heatmap draws the RSSI of one layer with the access points overlaid.
func Heatmap(w io.Writer, fdb *fingerprint.Database, opts HeatmapOptions) error {
	if fdb.Size() == 0 {
		return ErrNoData
	}
	z := Layers(fdb)[0]
	if opts.Layer != nil {
		z = *opts.Layer
	}
	grid, err := NewGrid(fdb, opts.AP, z)
	if err != nil {
		return err
	}

	p := plot.New()
	p.Title.Text = opts.Title
	if p.Title.Text == "" {
		p.Title.Text = heatmapTitle(fdb, opts.AP, z)
	}
	p.X.Label.Text = "x (m)"
	p.Y.Label.Text = "y (m)"

	pal := palette.Heat(32, 1)
	hm := plotter.NewHeatMap(grid, pal)
	hm.NaN = color.Transparent
	hm.Min, hm.Max = grid.Range()
	if hm.Min == hm.Max {
		hm.Min--
		hm.Max++
	}
	p.Add(hm)

	aps := make(plotter.XYs, 0, fdb.APCount())
	for _, ap := range fdb.AccessPoints() {
		aps = append(aps, plotter.XY{X: ap.Position.X, Y: ap.Position.Y})
	}
	sc, err := plotter.NewScatter(aps)
	if err != nil {
		return err
	}
	sc.GlyphStyle.Shape = draw.PyramidGlyph{}
	sc.GlyphStyle.Radius = vg.Points(5)
	sc.GlyphStyle.Color = color.RGBA{B: 200, A: 255}
	p.Add(sc)
	p.Legend.Add("access point", sc)
	p.Legend.Add(fmt.Sprintf("%.0f dBm", hm.Max), colorThumb{pal.Colors()[len(pal.Colors())-1]})
	p.Legend.Add(fmt.Sprintf("%.0f dBm", hm.Min), colorThumb{pal.Colors()[0]})
	p.Legend.Top = true

	return render(w, p, opts.Image)
}

func heatmapTitle(fdb *fingerprint.Database, ap int, z float64) string {
	name := "strongest AP"
	if ap >= 0 {
		name = fdb.AccessPoints()[ap].Name
	}
	return fmt.Sprintf("RSSI, %s, z = %.2f m", name, z)
}

// colorThumb is a legend entry showing a solid swatch.
type colorThumb struct{ c color.Color }

func (t colorThumb) Thumbnail(canvas *draw.Canvas) {
	pts := []vg.Point{
		{X: canvas.Min.X, Y: canvas.Min.Y},
		{X: canvas.Min.X, Y: canvas.Max.Y},
		{X: canvas.Max.X, Y: canvas.Max.Y},
		{X: canvas.Max.X, Y: canvas.Min.Y},
	}
	canvas.FillPolygon(t.c, pts)
}

func render(w io.Writer, p *plot.Plot, img ImageOptions) error {
	format := img.Format
	if format == "" {
		format = "png"
	}
	width, height := img.size()
	wt, err := p.WriterTo(width, height, format)
	if err != nil {
		return err
	}
	_, err = wt.WriteTo(w)
	return err
}

// FormatFromPath maps a file extension onto a plot format.
func FormatFromPath(path string) string {
	ext := strings.TrimPrefix(strings.ToLower(filepath.Ext(path)), ".")
	if ext == "" {
		return "png"
	}
	return ext
}
