package fingerprint

import (
	"bytes"
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"

	"github.com/banshee-data/rf.twin/internal/monitoring"
	"github.com/banshee-data/rf.twin/internal/rf/geom"
	"github.com/banshee-data/rf.twin/internal/rf/material"
	"github.com/banshee-data/rf.twin/internal/rf/raytrace"
)

// recordingSim returns -distance for every pair and records batch sizes.
type recordingSim struct {
	mu      sync.Mutex
	batches []int
	err     error
}

func (s *recordingSim) SimulateBatch(aps, points []geom.Vec3) (*mat.Dense, error) {
	s.mu.Lock()
	s.batches = append(s.batches, len(points))
	s.mu.Unlock()
	if s.err != nil {
		return nil, s.err
	}
	out := mat.NewDense(len(points), len(aps), nil)
	for i, p := range points {
		for j, ap := range aps {
			out.Set(i, j, -p.Dist(ap))
		}
	}
	return out, nil
}

func quiet(t *testing.T) {
	t.Helper()
	original := monitoring.Logf
	monitoring.SetLogger(nil)
	t.Cleanup(func() { monitoring.SetLogger(original) })
}

func TestBuilderBatchesAndReportsProgress(t *testing.T) {
	quiet(t)
	sim := &recordingSim{}
	b, err := NewBuilder(sim, fourAPs())
	require.NoError(t, err)

	region := Region{MaxX: 10, MaxY: 10, SpacingM: 1, HeightM: height(1.5)}
	var progress [][2]int
	db, err := b.Build(context.Background(), region, BuildOptions{
		BatchSize: 50,
		Progress:  func(done, total int) { progress = append(progress, [2]int{done, total}) },
	})
	require.NoError(t, err)

	assert.Equal(t, 121, db.Size())
	assert.Equal(t, []int{50, 50, 21}, sim.batches)
	assert.Equal(t, [][2]int{{50, 121}, {100, 121}, {121, 121}}, progress)

	got, ok := db.Get(geom.V(3, 7, 1.5))
	require.True(t, ok)
	assert.InDelta(t, -geom.V(3, 7, 1.5).Dist(fourAPs()[2].Position), got[2], 1e-12)
	assert.NotEmpty(t, db.Metadata().BuildID)
	assert.Equal(t, 1.0, db.Metadata().SpacingM)
}

func TestBuilderAutoBatchRunsSmallSitesInOneCall(t *testing.T) {
	quiet(t)
	sim := &recordingSim{}
	b, err := NewBuilder(sim, fourAPs())
	require.NoError(t, err)

	_, err = b.Build(context.Background(), Region{MaxX: 4, MaxY: 4, SpacingM: 1, HeightM: height(1)}, BuildOptions{})
	require.NoError(t, err)
	assert.Equal(t, []int{25}, sim.batches)
}

func TestBuilderStopsOnCancelAndError(t *testing.T) {
	quiet(t)
	region := Region{MaxX: 10, MaxY: 10, SpacingM: 1, HeightM: height(1.5)}

	ctx, cancel := context.WithCancel(context.Background())
	b, err := NewBuilder(&recordingSim{}, fourAPs())
	require.NoError(t, err)
	_, err = b.Build(ctx, region, BuildOptions{
		BatchSize: 10,
		Progress: func(done, _ int) {
			if done >= 20 {
				cancel()
			}
		},
	})
	assert.True(t, errors.Is(err, context.Canceled), "got %v", err)

	boom := errors.New("boom")
	b, err = NewBuilder(&recordingSim{err: boom}, fourAPs())
	require.NoError(t, err)
	_, err = b.Build(context.Background(), region, BuildOptions{})
	assert.True(t, errors.Is(err, boom))
}

func TestBuildWithTracerAndRoundTrip(t *testing.T) {
	quiet(t)
	mesh, mapping, err := geom.NewRoomBuilder().Box(geom.V(0, 0, 0), geom.V(10, 10, 3), "concrete").Build()
	require.NoError(t, err)
	tbl, err := material.NewTable(nil, mapping, "")
	require.NoError(t, err)
	engine, err := raytrace.New(raytrace.DefaultConfig(), mesh, tbl)
	require.NoError(t, err)

	b, err := NewBuilder(engine, fourAPs())
	require.NoError(t, err)
	db, err := b.Build(context.Background(), Region{MaxX: 10, MaxY: 10, SpacingM: 1, HeightM: height(1.5)}, BuildOptions{})
	require.NoError(t, err)
	require.Equal(t, 121, db.Size())
	assert.Equal(t, "simple", db.Metadata().TracerMode)

	t.Run("memory", func(t *testing.T) {
		var buf bytes.Buffer
		require.NoError(t, Save(&buf, db))
		loaded, err := Load(&buf)
		require.NoError(t, err)
		assertSameDatabase(t, db, loaded)
	})
	t.Run("file", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "site.fp.gz")
		require.NoError(t, SaveFile(path, db))
		loaded, err := LoadFile(path)
		require.NoError(t, err)
		assertSameDatabase(t, db, loaded)
	})
}

func TestUnmarshalRejectsGarbage(t *testing.T) {
	t.Parallel()
	_, err := Unmarshal(nil)
	assert.Error(t, err)
	_, err = Unmarshal([]byte("not gzip"))
	assert.Error(t, err)
}

func assertSameDatabase(t *testing.T, want, got *Database) {
	t.Helper()
	if diff := cmp.Diff(want.AccessPoints(), got.AccessPoints()); diff != "" {
		t.Errorf("access points mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff(want.Fingerprints(), got.Fingerprints()); diff != "" {
		t.Errorf("fingerprints mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff(want.Metadata(), got.Metadata()); diff != "" {
		t.Errorf("metadata mismatch (-want +got):\n%s", diff)
	}
}
