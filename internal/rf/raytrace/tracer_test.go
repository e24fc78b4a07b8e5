package raytrace

import (
	"errors"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/rf.twin/internal/rf/geom"
	"github.com/banshee-data/rf.twin/internal/rf/material"
	"github.com/banshee-data/rf.twin/internal/rf/pathloss"
)

// room is a 10x10x3 m concrete box with a wooden partition at x=5 covering
// y in [0,4].
func room(t *testing.T) (*geom.Mesh, *material.Table) {
	t.Helper()
	m, mapping, err := geom.NewRoomBuilder().
		Box(geom.V(0, 0, 0), geom.V(10, 10, 3), "concrete").
		Wall(5, 0, 5, 4, 0, 3, "wood").
		Build()
	require.NoError(t, err)
	tbl, err := material.NewTable(nil, mapping, "")
	require.NoError(t, err)
	return m, tbl
}

func newEngine(t *testing.T, mutate func(*Config)) *Engine {
	t.Helper()
	m, tbl := room(t)
	cfg := DefaultConfig()
	if mutate != nil {
		mutate(&cfg)
	}
	e, err := New(cfg, m, tbl)
	require.NoError(t, err)
	return e
}

func TestSimpleLineOfSightIsFreeSpace(t *testing.T) {
	t.Parallel()
	e := newEngine(t, nil)
	tx, rx := geom.V(2, 8, 1.5), geom.V(8, 6, 1.5)

	got, err := e.Trace(tx, rx)
	require.NoError(t, err)
	want := 20 - pathloss.FreeSpaceLossDB(tx.Dist(rx), 2.4e9)
	assert.InDelta(t, want, got, 1e-9)
}

func TestSimpleObstructionPenalty(t *testing.T) {
	t.Parallel()
	tx, rx := geom.V(2, 2, 1.5), geom.V(8, 2, 1.5)
	free := 20 - pathloss.FreeSpaceLossDB(tx.Dist(rx), 2.4e9)

	got, err := newEngine(t, nil).Trace(tx, rx)
	require.NoError(t, err)
	assert.InDelta(t, free-5, got, 1e-9)

	// The obstruction count is capped by MaxReflections.
	capped, err := newEngine(t, func(c *Config) { c.MaxReflections = 0 }).Trace(tx, rx)
	require.NoError(t, err)
	assert.InDelta(t, free, capped, 1e-9)
}

func TestCoincidentEndpointsAreFinite(t *testing.T) {
	t.Parallel()
	for _, mode := range []Mode{ModeSimple, ModeHighPrecision, ModeMultipath} {
		e := newEngine(t, func(c *Config) { c.Mode = mode; c.NumRays = 16 })
		p := geom.V(3, 3, 1)
		got, err := e.Trace(p, p)
		require.NoError(t, err, mode.String())
		assert.False(t, math.IsNaN(got) || math.IsInf(got, 0), mode.String())
	}
}

func TestBatchMatchesScalar(t *testing.T) {
	t.Parallel()
	aps := []geom.Vec3{geom.V(1, 1, 2.5), geom.V(9, 1, 2.5), geom.V(9, 9, 2.5), geom.V(1, 9, 2.5)}
	points := []geom.Vec3{
		geom.V(2, 2, 1.5), geom.V(7.5, 2.5, 1.5), geom.V(5, 5, 1.5),
		geom.V(4.9, 1, 1.2), geom.V(9, 9, 2.5), geom.V(6, 8, 0.5),
	}

	modes := map[string]func(*Config){
		"simple":         nil,
		"high_precision": func(c *Config) { c.Mode = ModeHighPrecision; c.MaxReflections = 2 },
		"multipath": func(c *Config) {
			c.Mode = ModeMultipath
			c.MaxReflections = 2
			c.NumRays = 96
			c.RxToleranceM = 0.5
		},
	}
	for name, mutate := range modes {
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			e := newEngine(t, mutate)
			batch, err := e.SimulateBatch(aps, points)
			require.NoError(t, err)

			r, c := batch.Dims()
			require.Equal(t, len(points), r)
			require.Equal(t, len(aps), c)
			for i, p := range points {
				for j, ap := range aps {
					scalar, err := e.Trace(ap, p)
					require.NoError(t, err)
					if scalar != batch.At(i, j) {
						t.Errorf("point %d ap %d: scalar %v != batch %v", i, j, scalar, batch.At(i, j))
					}
					assert.GreaterOrEqual(t, scalar, e.Config().NoiseFloorDBm)
				}
			}
		})
	}
}

func TestHighPrecisionMonotoneInReflections(t *testing.T) {
	t.Parallel()
	tx := geom.V(2, 2, 1.5)
	rxs := []geom.Vec3{geom.V(8, 2, 1.5), geom.V(8, 8, 1.5), geom.V(5.5, 1, 1)}

	for _, rx := range rxs {
		prev := math.Inf(-1)
		for refl := 0; refl <= 4; refl++ {
			e := newEngine(t, func(c *Config) { c.Mode = ModeHighPrecision; c.MaxReflections = refl })
			got, err := e.Trace(tx, rx)
			require.NoError(t, err)
			if got < prev {
				t.Errorf("rx %v: power dropped from %v to %v at max_reflections=%d", rx, prev, got, refl)
			}
			prev = got
		}
	}
}

func TestHighPrecisionWithoutReflectionsMatchesSimpleLineOfSight(t *testing.T) {
	t.Parallel()
	simple := newEngine(t, nil)
	hp := newEngine(t, func(c *Config) { c.Mode = ModeHighPrecision; c.MaxReflections = 0 })

	tx := geom.V(1, 9, 2)
	for _, rx := range []geom.Vec3{geom.V(9, 9, 1), geom.V(6, 5, 1.5), geom.V(2, 6, 0.5)} {
		a, err := simple.Trace(tx, rx)
		require.NoError(t, err)
		b, err := hp.Trace(tx, rx)
		require.NoError(t, err)
		assert.InDelta(t, a, b, 1e-9)
	}
}

func TestHighPrecisionBlockedPathFallsToNoiseFloor(t *testing.T) {
	t.Parallel()
	e := newEngine(t, func(c *Config) { c.Mode = ModeHighPrecision; c.MaxReflections = 0 })
	got, err := e.Trace(geom.V(2, 2, 1.5), geom.V(8, 2, 1.5))
	require.NoError(t, err)
	assert.Equal(t, -100.0, got)

	paths, err := e.TracePaths(geom.V(2, 2, 1.5), geom.V(8, 2, 1.5))
	require.NoError(t, err)
	require.Len(t, paths, 1)
	assert.Equal(t, Exhausted, paths[0].Termination)
}

func TestHighPrecisionTransmissionThroughWall(t *testing.T) {
	t.Parallel()
	e := newEngine(t, func(c *Config) { c.Mode = ModeHighPrecision; c.MaxReflections = 1 })
	tx, rx := geom.V(2, 2, 1.5), geom.V(8, 2, 1.5)

	paths, err := e.TracePaths(tx, rx)
	require.NoError(t, err)

	var through *RayPath
	for i := range paths {
		if paths[i].Termination == Received && paths[i].Transmissions == 1 {
			through = &paths[i]
		}
	}
	require.NotNil(t, through, "expected a path through the partition")
	assert.Equal(t, 4.0, through.InteractionLossDB)
	assert.InDelta(t, tx.Dist(rx), through.LengthM, 1e-3)
}

func TestMultipathThresholdExcludesWeakPaths(t *testing.T) {
	t.Parallel()
	e := newEngine(t, func(c *Config) {
		c.Mode = ModeMultipath
		c.NumRays = 64
		c.RxToleranceM = 1
		c.PowerThresholdDBm = 50
	})
	got, err := e.Trace(geom.V(2, 2, 1.5), geom.V(3, 2, 1.5))
	require.NoError(t, err)
	assert.Equal(t, -100.0, got)
}

func TestMultipathCollectsSeveralPaths(t *testing.T) {
	t.Parallel()
	e := newEngine(t, func(c *Config) {
		c.Mode = ModeMultipath
		c.NumRays = 2000
		c.MaxReflections = 2
		c.RxToleranceM = 0.5
	})
	paths, err := e.TracePaths(geom.V(2, 7, 1.5), geom.V(7, 7, 1.5))
	require.NoError(t, err)

	received := 0
	for _, p := range paths {
		if p.Termination == Received {
			received++
			assert.GreaterOrEqual(t, p.PowerDBm, -100.0)
		}
	}
	assert.Greater(t, received, 1)
}

func TestMultipathPowerIsLinearSumOfPaths(t *testing.T) {
	t.Parallel()
	e := newEngine(t, func(c *Config) {
		c.Mode = ModeMultipath
		c.NumRays = 2000
		c.MaxReflections = 2
		c.RxToleranceM = 0.5
	})
	tx, rx := geom.V(2, 7, 1.5), geom.V(7, 7, 1.5)
	paths, err := e.TracePaths(tx, rx)
	require.NoError(t, err)

	var mw float64
	strongest := math.Inf(-1)
	received := 0
	for _, p := range paths {
		if p.Termination != Received {
			continue
		}
		received++
		mw += pathloss.DBmToMilliwatts(p.PowerDBm)
		strongest = max(strongest, p.PowerDBm)
	}
	require.GreaterOrEqual(t, received, 2)

	total, err := e.Trace(tx, rx)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, total, strongest)
	assert.InDelta(t, pathloss.MilliwattsToDBm(mw), total, 1e-9)
}

func TestNewRejectsInvalidConfig(t *testing.T) {
	t.Parallel()
	m, tbl := room(t)
	bad := []func(*Config){
		func(c *Config) { c.FrequencyHz = 0 },
		func(c *Config) { c.MaxReflections = -1 },
		func(c *Config) { c.MaxReflections = 11 },
		func(c *Config) { c.Mode = ModeMultipath; c.NumRays = 0 },
		func(c *Config) { c.Mode = ModeHighPrecision; c.RxToleranceM = 0 },
		func(c *Config) { c.TxPowerDBm = math.NaN() },
	}
	for i, mutate := range bad {
		cfg := DefaultConfig()
		mutate(&cfg)
		_, err := New(cfg, m, tbl)
		assert.True(t, errors.Is(err, ErrInvalidConfig), "case %d: %v", i, err)
	}

	_, err := New(DefaultConfig(), nil, tbl)
	assert.True(t, errors.Is(err, ErrInvalidConfig))
}

func TestModeFromFlags(t *testing.T) {
	t.Parallel()
	_, err := ModeFromFlags(false, true)
	assert.True(t, errors.Is(err, ErrInvalidConfig))

	for _, tc := range []struct {
		hp, mp bool
		want   Mode
	}{
		{false, false, ModeSimple},
		{true, false, ModeHighPrecision},
		{true, true, ModeMultipath},
	} {
		got, err := ModeFromFlags(tc.hp, tc.mp)
		require.NoError(t, err)
		assert.Equal(t, tc.want, got)
	}
}

func TestSimulateBatchRejectsEmptyInput(t *testing.T) {
	t.Parallel()
	e := newEngine(t, nil)
	_, err := e.SimulateBatch(nil, []geom.Vec3{geom.V(1, 1, 1)})
	assert.ErrorIs(t, err, ErrEmptyBatch)
	_, err = e.SimulateBatch([]geom.Vec3{geom.V(1, 1, 1)}, nil)
	assert.ErrorIs(t, err, ErrEmptyBatch)
}

// brokenProvider returns columns of different length.
type brokenProvider struct{ geom.Provider }

func (brokenProvider) IntersectBatch(origins, _ []geom.Vec3) (geom.Hits, error) {
	return geom.Hits{Points: make([]geom.Vec3, 2), RayIndex: []int{0}, SurfaceIndex: []int{0, 0}}, nil
}

func (brokenProvider) SurfaceCount() int { return 1 }

func TestGeometryErrorsPropagate(t *testing.T) {
	t.Parallel()
	for _, mode := range []Mode{ModeSimple, ModeHighPrecision} {
		cfg := DefaultConfig()
		cfg.Mode = mode
		e, err := New(cfg, brokenProvider{}, nil)
		require.NoError(t, err)
		_, err = e.Trace(geom.V(0, 0, 0), geom.V(1, 0, 0))
		assert.True(t, errors.Is(err, geom.ErrMalformedBatch), "%s: %v", mode, err)
	}
}

func TestFibonacciSphere(t *testing.T) {
	t.Parallel()
	a := FibonacciSphere(360)
	b := FibonacciSphere(360)
	require.Len(t, a, 360)
	assert.Equal(t, a, b)

	var sum geom.Vec3
	for _, d := range a {
		assert.InDelta(t, 1.0, d.Norm(), 1e-12)
		sum = sum.Add(d)
	}
	// Near-uniform coverage leaves a small resultant.
	assert.Less(t, sum.Norm()/360, 0.01)
}
