package report

import (
	"bytes"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/plot/plotter"

	"github.com/banshee-data/rf.twin/internal/fingerprint"
	"github.com/banshee-data/rf.twin/internal/locate"
	"github.com/banshee-data/rf.twin/internal/rf/geom"
	"github.com/banshee-data/rf.twin/internal/tracking"
)

var pngMagic = []byte("\x89PNG\r\n\x1a\n")

// twoLayers has a 3x2 lattice at z=1 with one hole, plus one point at z=2.
func twoLayers(t *testing.T) *fingerprint.Database {
	t.Helper()
	fdb, err := fingerprint.NewDatabase([]fingerprint.AccessPoint{
		{Name: "west", Position: geom.V(0, 0, 2.5)},
		{Name: "east", Position: geom.V(2, 1, 2.5)},
	})
	require.NoError(t, err)
	for _, f := range []struct {
		x, y, z float64
		rssi    []float64
	}{
		{0, 0, 1, []float64{-40, -70}},
		{1, 0, 1, []float64{-50, -60}},
		{2, 0, 1, []float64{-60, -45}},
		{0, 1, 1, []float64{-42, -66}},
		{2, 1, 1, []float64{-61, -41}},
		{1, 1, 2, []float64{-55, -55}},
	} {
		require.NoError(t, fdb.Add(geom.V(f.x, f.y, f.z), f.rssi))
	}
	return fdb
}

func TestNewGrid(t *testing.T) {
	t.Parallel()
	fdb := twoLayers(t)
	assert.Equal(t, []float64{1, 2}, Layers(fdb))

	g, err := NewGrid(fdb, 1, 1)
	require.NoError(t, err)
	c, r := g.Dims()
	assert.Equal(t, 3, c)
	assert.Equal(t, 2, r)
	assert.Equal(t, 2.0, g.X(2))
	assert.Equal(t, 1.0, g.Y(1))
	assert.Equal(t, -45.0, g.Z(2, 0))
	assert.True(t, math.IsNaN(g.Z(1, 1)))
	lo, hi := g.Range()
	assert.Equal(t, -70.0, lo)
	assert.Equal(t, -41.0, hi)

	strongest, err := NewGrid(fdb, StrongestAP, 1)
	require.NoError(t, err)
	assert.Equal(t, -50.0, strongest.Z(1, 0))
	assert.Equal(t, -41.0, strongest.Z(2, 1))

	var _ plotter.GridXYZ = g

	_, err = NewGrid(fdb, 2, 1)
	assert.Error(t, err)
	_, err = NewGrid(fdb, 0, 7)
	assert.ErrorIs(t, err, ErrNoData)
}

func TestHeatmapRendersPNG(t *testing.T) {
	t.Parallel()
	fdb := twoLayers(t)

	var buf bytes.Buffer
	require.NoError(t, Heatmap(&buf, fdb, HeatmapOptions{AP: 0}))
	assert.True(t, bytes.HasPrefix(buf.Bytes(), pngMagic))

	// A single-point layer has a flat range and still renders.
	top := 2.0
	buf.Reset()
	require.NoError(t, Heatmap(&buf, fdb, HeatmapOptions{AP: StrongestAP, Layer: &top, Image: ImageOptions{Format: "svg"}}))
	assert.Contains(t, buf.String(), "<svg")
	assert.Contains(t, buf.String(), "strongest AP")

	empty, err := fingerprint.NewDatabase([]fingerprint.AccessPoint{{Name: "a"}})
	require.NoError(t, err)
	assert.ErrorIs(t, Heatmap(&buf, empty, HeatmapOptions{}), ErrNoData)
}

func TestErrorCDF(t *testing.T) {
	t.Parallel()
	pts := cdfPoints([]float64{0.5, 1, 2, 4})
	assert.Equal(t, plotter.XYs{{X: 0, Y: 0}, {X: 0.5, Y: 0.25}, {X: 1, Y: 0.5}, {X: 2, Y: 0.75}, {X: 4, Y: 1}}, pts)

	var buf bytes.Buffer
	runs := map[string]locate.Accuracy{
		"knn":  {Errors: []float64{0.4, 0.9, 1.7}},
		"wknn": {Errors: []float64{0.2, 0.5, 1.1}},
		"none": {},
	}
	require.NoError(t, ErrorCDF(&buf, runs, ImageOptions{}))
	assert.True(t, bytes.HasPrefix(buf.Bytes(), pngMagic))

	assert.ErrorIs(t, ErrorCDF(&buf, map[string]locate.Accuracy{"none": {}}, ImageOptions{}), ErrNoData)
}

func TestTrajectories(t *testing.T) {
	t.Parallel()
	now := time.Now()
	targets := []tracking.TrackedTarget{
		{ID: "a", Name: "Device_a", Trajectory: []tracking.TrajectoryPoint{
			{Time: now, Position: geom.V(1, 1, 1)},
			{Time: now.Add(time.Second), Position: geom.V(2, 1.5, 1)},
		}},
		{ID: "b", Name: "never located"},
	}
	var buf bytes.Buffer
	require.NoError(t, Trajectories(&buf, targets, []geom.Vec3{geom.V(0, 0, 2)}, ImageOptions{Format: "svg"}))
	assert.Contains(t, buf.String(), "Device_a")
	assert.NotContains(t, buf.String(), "never located")

	assert.ErrorIs(t, Trajectories(&buf, targets[1:], nil, ImageOptions{}), ErrNoData)
}

func TestFormatFromPath(t *testing.T) {
	t.Parallel()
	assert.Equal(t, "png", FormatFromPath("out/heat.PNG"))
	assert.Equal(t, "svg", FormatFromPath("cdf.svg"))
	assert.Equal(t, "png", FormatFromPath("noext"))
}
