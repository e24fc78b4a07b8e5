package fingerprint

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/rf.twin/internal/rf/geom"
)

func height(h float64) *float64 { return &h }

func TestRegionPointCounts(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name   string
		region Region
		want   int
	}{
		{"10x10 at 1m", Region{MaxX: 10, MaxY: 10, SpacingM: 1, HeightM: height(1.5)}, 121},
		{"fractional span rounds up", Region{MaxX: 2.5, MaxY: 1, SpacingM: 1, HeightM: height(1)}, 4 * 2},
		{"single point", Region{MinX: 3, MaxX: 3, MinY: 4, MaxY: 4, SpacingM: 1, HeightM: height(1)}, 1},
		{"3d default z spacing", Region{MaxX: 2, MaxY: 2, SpacingM: 1, MinZ: 0, MaxZ: 3}, 3 * 3 * 4},
		{"3d own z spacing", Region{MaxX: 2, MaxY: 2, SpacingM: 1, MinZ: 0.5, MaxZ: 2.5, SpacingZM: 0.5}, 3 * 3 * 5},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			require.NoError(t, tc.region.Validate())
			assert.Equal(t, tc.want, tc.region.PointCount())
			assert.Len(t, tc.region.Points(), tc.want)
		})
	}
}

func TestRegionIncludesBoundsAndDiscretizes(t *testing.T) {
	t.Parallel()
	r := Region{MinX: 0, MaxX: 2.5, MinY: 0, MaxY: 0, SpacingM: 1, HeightM: height(1.234)}
	pts := r.Points()
	require.Len(t, pts, 4)
	assert.Equal(t, geom.V(0, 0, 1.23), pts[0])
	assert.Equal(t, geom.V(0.83, 0, 1.23), pts[1])
	assert.Equal(t, geom.V(1.67, 0, 1.23), pts[2])
	assert.Equal(t, geom.V(2.5, 0, 1.23), pts[3])
}

func TestRegionPointsUnique(t *testing.T) {
	t.Parallel()
	r := Region{MaxX: 7.3, MaxY: 4.1, SpacingM: 0.5, MinZ: 0, MaxZ: 2, SpacingZM: 1}
	seen := map[geom.Vec3]bool{}
	for _, p := range r.Points() {
		assert.False(t, seen[p], "duplicate %v", p)
		seen[p] = true
	}
}

func TestRegionValidate(t *testing.T) {
	t.Parallel()
	bad := []Region{
		{MaxX: 10, MaxY: 10, SpacingM: 0},
		{MaxX: 10, MaxY: 10, SpacingM: 0.001},
		{MinX: 5, MaxX: 1, MaxY: 10, SpacingM: 1, HeightM: height(1)},
		{MaxX: 10, MaxY: 10, SpacingM: 1, MinZ: 3, MaxZ: 1},
	}
	for i, r := range bad {
		if err := r.Validate(); !errors.Is(err, ErrInvalidRegion) {
			t.Errorf("case %d: expected ErrInvalidRegion, got %v", i, err)
		}
	}
}

func TestAutoBatchSize(t *testing.T) {
	t.Parallel()
	cases := map[int]int{0: 1, 1: 1, 100: 100, 101: 50, 1000: 50, 1001: 100, 10000: 100, 10001: 200}
	for total, want := range cases {
		assert.Equal(t, want, AutoBatchSize(total), "total=%d", total)
	}
}
