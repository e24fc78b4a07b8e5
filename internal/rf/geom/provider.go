package geom

import (
	"errors"
	"fmt"
)

// ErrMalformedBatch is returned when a batched intersection result is
// internally inconsistent or a query cannot be answered.
var ErrMalformedBatch = errors.New("geometry query returned a malformed batch")

// ErrSurfaceIndex is returned for a surface index outside the mesh.
var ErrSurfaceIndex = errors.New("surface index out of range")

// Provider answers batched ray/surface queries against a static scene.
// Implementations must be safe for concurrent use once constructed.
type Provider interface {
	// IntersectBatch casts len(origins) rays and reports every surface hit
	// along each ray. Rays that hit nothing contribute no entries.
	IntersectBatch(origins, directions []Vec3) (Hits, error)
	// SurfaceNormal returns the unit normal of a surface. Its sign is
	// arbitrary.
	SurfaceNormal(surface int) (Vec3, error)
	// SurfaceCount is the number of addressable surfaces.
	SurfaceCount() int
}

// Hits is the columnar result of IntersectBatch. Entry i describes a hit of
// ray RayIndex[i] against surface SurfaceIndex[i] at Points[i].
type Hits struct {
	Points       []Vec3
	RayIndex     []int
	SurfaceIndex []int
}

func (h Hits) Len() int { return len(h.Points) }

// Validate checks the columns line up and every index is addressable.
func (h Hits) Validate(numRays, numSurfaces int) error {
	if len(h.RayIndex) != len(h.Points) || len(h.SurfaceIndex) != len(h.Points) {
		return fmt.Errorf("%w: %d points, %d ray indices, %d surface indices",
			ErrMalformedBatch, len(h.Points), len(h.RayIndex), len(h.SurfaceIndex))
	}
	for i := range h.Points {
		if r := h.RayIndex[i]; r < 0 || r >= numRays {
			return fmt.Errorf("%w: hit %d references ray %d of %d", ErrMalformedBatch, i, r, numRays)
		}
		if s := h.SurfaceIndex[i]; s < 0 || s >= numSurfaces {
			return fmt.Errorf("%w: hit %d references surface %d of %d", ErrMalformedBatch, i, s, numSurfaces)
		}
		if !h.Points[i].IsFinite() {
			return fmt.Errorf("%w: hit %d has non-finite point", ErrMalformedBatch, i)
		}
	}
	return nil
}

// ByRay groups hit indices per ray, preserving the order they appear in.
func (h Hits) ByRay(numRays int) [][]int {
	out := make([][]int, numRays)
	for i, r := range h.RayIndex {
		out[r] = append(out[r], i)
	}
	return out
}
