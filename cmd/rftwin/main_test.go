package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/rf.twin/internal/fingerprint"
	"github.com/banshee-data/rf.twin/internal/locate"
	"github.com/banshee-data/rf.twin/internal/monitoring"
	"github.com/banshee-data/rf.twin/internal/report"
	"github.com/banshee-data/rf.twin/internal/rf/geom"
	"github.com/banshee-data/rf.twin/internal/tracking"
)

func init() {
	log.SetOutput(io.Discard)
	monitoring.SetLogger(nil)
}

// writeSite writes a small three-AP room whose store lives in dir.
func writeSite(t *testing.T, dir string) string {
	t.Helper()
	site := fmt.Sprintf(`{
  "access_points": [
    {"name": "sw", "position": {"x": 0.5, "y": 0.5, "z": 2}},
    {"name": "ne", "position": {"x": 3.5, "y": 3.5, "z": 2}},
    {"name": "se", "position": {"x": 3.5, "y": 0.5, "z": 2}}
  ],
  "room": {"min": {"x": 0, "y": 0, "z": 0}, "max": {"x": 4, "y": 4, "z": 3}, "material": "concrete"},
  "grid_spacing_m": 1,
  "update_interval": "50ms",
  "fetch_timeout": "1s",
  "device_timeout": "5s",
  "database_path": %q
}`, filepath.Join(dir, "site.db"))
	path := filepath.Join(dir, "site.json")
	require.NoError(t, os.WriteFile(path, []byte(site), 0o644))
	return path
}

// buildSite runs the build command into both a file and the store.
func buildSite(t *testing.T) (dir, cfg, fps string) {
	t.Helper()
	dir = t.TempDir()
	cfg = writeSite(t, dir)
	fps = filepath.Join(dir, "site.gob.gz")
	var out bytes.Buffer
	require.NoError(t, runBuild([]string{"-config", cfg, "-out", fps, "-name", "lab"}, &out))
	assert.Contains(t, out.String(), "Built 25 fingerprints x 3 access points")
	assert.Contains(t, out.String(), `Stored set "lab"`)
	return dir, cfg, fps
}

func TestBuildAndLocate(t *testing.T) {
	t.Parallel()
	_, cfg, fps := buildSite(t)

	fdb, err := fingerprint.LoadFile(fps)
	require.NoError(t, err)
	rssi, ok := fdb.Get(geom.V(2, 3, 1.5))
	require.True(t, ok)
	parts := make([]string, len(rssi))
	for i, v := range rssi {
		parts[i] = fmt.Sprint(v)
	}

	// The store and the file hold the same set.
	for _, source := range [][]string{{"-fingerprints", fps}, {"-name", "lab"}} {
		var out bytes.Buffer
		args := append([]string{"-config", cfg, "-algorithm", "knn", "-k", "1", "-rssi", strings.Join(parts, ",")}, source...)
		require.NoError(t, runLocate(args, &out))
		var res locate.Result
		require.NoError(t, json.Unmarshal(out.Bytes(), &res))
		assert.Equal(t, geom.V(2, 3, 1.5), res.Position)
		assert.Equal(t, locate.KNN, res.Algorithm)
	}
}

func TestLocateEvaluation(t *testing.T) {
	t.Parallel()
	dir, cfg, fps := buildSite(t)
	cdf := filepath.Join(dir, "cdf.png")

	var out bytes.Buffer
	require.NoError(t, runLocate([]string{"-config", cfg, "-fingerprints", fps, "-eval", "20", "-cdf", cdf}, &out))
	for _, alg := range []string{"knn", "wknn", "probabilistic"} {
		assert.Contains(t, out.String(), alg)
	}
	raw, err := os.ReadFile(cdf)
	require.NoError(t, err)
	assert.True(t, bytes.HasPrefix(raw, []byte("\x89PNG")))

	out.Reset()
	require.NoError(t, runLocate([]string{"-config", cfg, "-fingerprints", fps, "-eval", "5", "-noise", "0"}, &out))
	assert.Contains(t, out.String(), "wknn")
	assert.NotContains(t, out.String(), "probabilistic")
}

func TestLocateArguments(t *testing.T) {
	t.Parallel()
	_, cfg, fps := buildSite(t)
	for _, args := range [][]string{
		{"-config", cfg, "-fingerprints", fps},
		{"-config", cfg, "-fingerprints", fps, "-rssi", "-50,-60,-70", "-eval", "3"},
		{"-config", cfg, "-fingerprints", fps, "-rssi", "-50,-60"},
		{"-config", cfg, "-fingerprints", fps, "-rssi", "-50,loud,-70"},
		{"-config", cfg, "-fingerprints", fps, "-rssi", "-50,-60,-70", "-algorithm", "guess"},
		{"-config", cfg, "-name", "missing", "-rssi", "-50,-60,-70"},
	} {
		assert.Error(t, runLocate(args, io.Discard), args)
	}
}

func TestParseRSSI(t *testing.T) {
	t.Parallel()
	got, err := parseRSSI("-50, ,-61.5,nan")
	require.NoError(t, err)
	require.Len(t, got, 4)
	assert.Equal(t, -50.0, got[0])
	assert.True(t, math.IsNaN(got[1]))
	assert.Equal(t, -61.5, got[2])
	assert.True(t, math.IsNaN(got[3]))
}

func TestHeatmapCommand(t *testing.T) {
	t.Parallel()
	dir, cfg, fps := buildSite(t)
	img := filepath.Join(dir, "ne.svg")

	var out bytes.Buffer
	require.NoError(t, runHeatmap([]string{"-config", cfg, "-fingerprints", fps, "-ap", "ne", "-out", img}, &out))
	assert.Contains(t, out.String(), "layers: [1.5]")
	raw, err := os.ReadFile(img)
	require.NoError(t, err)
	assert.Contains(t, string(raw), "<svg")

	assert.Error(t, runHeatmap([]string{"-config", cfg, "-fingerprints", fps, "-ap", "nw", "-out", img}, io.Discard))
	assert.ErrorIs(t, runHeatmap([]string{"-config", cfg, "-fingerprints", fps, "-z", "2.5", "-out", img}, io.Discard), report.ErrNoData)
}

func TestResolveAP(t *testing.T) {
	t.Parallel()
	fdb, err := fingerprint.NewDatabase([]fingerprint.AccessPoint{{Name: "a"}, {Name: "1"}})
	require.NoError(t, err)
	for in, want := range map[string]int{"strongest": report.StrongestAP, "Strongest": report.StrongestAP, "a": 0, "1": 1, "0": 0} {
		got, err := resolveAP(fdb, in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}
	_, err = resolveAP(fdb, "2")
	assert.Error(t, err)
}

func TestMigrateCommand(t *testing.T) {
	t.Parallel()
	dir, cfg, _ := buildSite(t)

	var out bytes.Buffer
	require.NoError(t, runMigrate([]string{"-config", cfg, "status"}, &out))
	assert.Contains(t, out.String(), "Current version: 2")

	out.Reset()
	fresh := filepath.Join(dir, "fresh.db")
	require.NoError(t, runMigrate([]string{"-db", fresh, "status"}, &out))
	assert.Contains(t, out.String(), "Current version: 0")
}

func TestTrackSimulated(t *testing.T) {
	t.Parallel()
	dir, cfg, fps := buildSite(t)
	export := filepath.Join(dir, "snapshot.json")
	plot := filepath.Join(dir, "tracks.png")

	require.NoError(t, runTrack([]string{
		"-config", cfg, "-fingerprints", fps,
		"-listen", "-", "-duration", "400ms",
		"-sim-targets", "2", "-targets", "manual-tag",
		"-export", export, "-plot", plot,
	}))

	raw, err := os.ReadFile(export)
	require.NoError(t, err)
	var snap tracking.Snapshot
	require.NoError(t, json.Unmarshal(raw, &snap))
	assert.True(t, strings.HasPrefix(snap.Session, "trk_"))
	require.Len(t, snap.Targets, 3)

	located := 0
	for _, tg := range snap.Targets {
		if tg.Fixes > 0 {
			located++
			assert.NotEmpty(t, tg.Trajectory)
		}
	}
	assert.Equal(t, 2, located)

	img, err := os.ReadFile(plot)
	require.NoError(t, err)
	assert.True(t, bytes.HasPrefix(img, []byte("\x89PNG")))
}
