package geom

import (
	"errors"
	"fmt"
	"math"
	"runtime"
	"sort"

	"golang.org/x/sync/errgroup"
)

const (
	// triEpsilon rejects rays parallel to a triangle and degenerate
	// barycentric solutions.
	triEpsilon = 1e-10
	// minHitDistance ignores hits at the ray origin so a ray leaving a
	// surface does not immediately re-hit it.
	minHitDistance = 1e-9
	// raysPerTask bounds the work handed to one goroutine in IntersectBatch.
	raysPerTask = 256
)

// ErrDegenerateTriangle is returned by NewMesh for zero-area triangles.
var ErrDegenerateTriangle = errors.New("degenerate triangle")

// Triangle is one mesh face.
type Triangle struct {
	A, B, C Vec3
}

// Normal returns the unit face normal following the A->B->C winding.
func (t Triangle) Normal() Vec3 {
	return t.B.Sub(t.A).Cross(t.C.Sub(t.A)).Unit()
}

func (t Triangle) area() float64 {
	return 0.5 * t.B.Sub(t.A).Cross(t.C.Sub(t.A)).Norm()
}

type aabb struct {
	min, max Vec3
}

func triangleBounds(t Triangle) aabb {
	return aabb{
		min: Vec3{math.Min(t.A.X, math.Min(t.B.X, t.C.X)), math.Min(t.A.Y, math.Min(t.B.Y, t.C.Y)), math.Min(t.A.Z, math.Min(t.B.Z, t.C.Z))},
		max: Vec3{math.Max(t.A.X, math.Max(t.B.X, t.C.X)), math.Max(t.A.Y, math.Max(t.B.Y, t.C.Y)), math.Max(t.A.Z, math.Max(t.B.Z, t.C.Z))},
	}
}

// slab test; boxes of flat triangles are padded so zero-thickness axes work.
func (b aabb) hit(o, invDir Vec3) bool {
	const pad = 1e-9
	tmin, tmax := math.Inf(-1), math.Inf(1)
	for _, ax := range [3][4]float64{
		{o.X, invDir.X, b.min.X - pad, b.max.X + pad},
		{o.Y, invDir.Y, b.min.Y - pad, b.max.Y + pad},
		{o.Z, invDir.Z, b.min.Z - pad, b.max.Z + pad},
	} {
		orig, inv, lo, hi := ax[0], ax[1], ax[2], ax[3]
		if math.IsInf(inv, 0) {
			if orig < lo || orig > hi {
				return false
			}
			continue
		}
		t1, t2 := (lo-orig)*inv, (hi-orig)*inv
		if t1 > t2 {
			t1, t2 = t2, t1
		}
		tmin = math.Max(tmin, t1)
		tmax = math.Min(tmax, t2)
		if tmax < tmin || tmax < 0 {
			return false
		}
	}
	return true
}

// Mesh is an immutable triangle soup implementing Provider. Each triangle is
// one surface; SurfaceIndex in Hits is the triangle index.
type Mesh struct {
	tris    []Triangle
	normals []Vec3
	bounds  []aabb
	workers int
}

// NewMesh validates and indexes the triangles.
func NewMesh(tris []Triangle) (*Mesh, error) {
	m := &Mesh{
		tris:    make([]Triangle, len(tris)),
		normals: make([]Vec3, len(tris)),
		bounds:  make([]aabb, len(tris)),
		workers: runtime.GOMAXPROCS(0),
	}
	copy(m.tris, tris)
	for i, t := range m.tris {
		if !t.A.IsFinite() || !t.B.IsFinite() || !t.C.IsFinite() {
			return nil, fmt.Errorf("triangle %d: non-finite vertex", i)
		}
		if t.area() < triEpsilon {
			return nil, fmt.Errorf("triangle %d: %w", i, ErrDegenerateTriangle)
		}
		m.normals[i] = t.Normal()
		m.bounds[i] = triangleBounds(t)
	}
	return m, nil
}

// SetWorkers bounds the goroutines used by IntersectBatch. Values below one
// run the batch serially.
func (m *Mesh) SetWorkers(n int) {
	if n < 1 {
		n = 1
	}
	m.workers = n
}

func (m *Mesh) SurfaceCount() int { return len(m.tris) }

// Triangles returns a copy of the faces.
func (m *Mesh) Triangles() []Triangle {
	out := make([]Triangle, len(m.tris))
	copy(out, m.tris)
	return out
}

func (m *Mesh) SurfaceNormal(surface int) (Vec3, error) {
	if surface < 0 || surface >= len(m.normals) {
		return Vec3{}, fmt.Errorf("%w: %d of %d", ErrSurfaceIndex, surface, len(m.normals))
	}
	return m.normals[surface], nil
}

type rayHit struct {
	t       float64
	surface int
	point   Vec3
}

// IntersectBatch reports every hit along every ray. Hits of one ray appear
// in ascending distance; rays appear in input order.
func (m *Mesh) IntersectBatch(origins, directions []Vec3) (Hits, error) {
	if len(origins) != len(directions) {
		return Hits{}, fmt.Errorf("%w: %d origins vs %d directions", ErrMalformedBatch, len(origins), len(directions))
	}
	n := len(origins)
	perRay := make([][]rayHit, n)

	var g errgroup.Group
	g.SetLimit(m.workers)
	for start := 0; start < n; start += raysPerTask {
		end := min(start+raysPerTask, n)
		g.Go(func() error {
			for i := start; i < end; i++ {
				o, d := origins[i], directions[i]
				if !o.IsFinite() || !d.IsFinite() || d.Norm() == 0 {
					return fmt.Errorf("%w: ray %d is not a valid half-line", ErrMalformedBatch, i)
				}
				perRay[i] = m.castOne(Ray{Origin: o, Direction: d.Unit()})
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return Hits{}, err
	}

	var total int
	for _, hs := range perRay {
		total += len(hs)
	}
	out := Hits{
		Points:       make([]Vec3, 0, total),
		RayIndex:     make([]int, 0, total),
		SurfaceIndex: make([]int, 0, total),
	}
	for i, hs := range perRay {
		for _, h := range hs {
			out.Points = append(out.Points, h.point)
			out.RayIndex = append(out.RayIndex, i)
			out.SurfaceIndex = append(out.SurfaceIndex, h.surface)
		}
	}
	return out, nil
}

func (m *Mesh) castOne(r Ray) []rayHit {
	inv := Vec3{1 / r.Direction.X, 1 / r.Direction.Y, 1 / r.Direction.Z}
	var hits []rayHit
	for i := range m.tris {
		if !m.bounds[i].hit(r.Origin, inv) {
			continue
		}
		if t, ok := intersectTriangle(r, m.tris[i]); ok {
			hits = append(hits, rayHit{t: t, surface: i, point: r.At(t)})
		}
	}
	sort.Slice(hits, func(a, b int) bool {
		if hits[a].t == hits[b].t {
			return hits[a].surface < hits[b].surface
		}
		return hits[a].t < hits[b].t
	})
	return m.dedupeSharedEdges(hits)
}

// dedupeSharedEdges drops repeated hits where a ray crosses the shared edge
// of two coplanar triangles (the diagonal of a quad), which would otherwise
// count one wall twice.
func (m *Mesh) dedupeSharedEdges(hits []rayHit) []rayHit {
	if len(hits) < 2 {
		return hits
	}
	out := hits[:1]
	for _, h := range hits[1:] {
		prev := out[len(out)-1]
		if h.t-prev.t < 1e-9 && math.Abs(m.normals[h.surface].Dot(m.normals[prev.surface])) > 1-1e-9 {
			continue
		}
		out = append(out, h)
	}
	return out
}

// intersectTriangle is the Möller–Trumbore test. It returns the distance
// along the (unit) ray direction.
func intersectTriangle(r Ray, tri Triangle) (float64, bool) {
	e1 := tri.B.Sub(tri.A)
	e2 := tri.C.Sub(tri.A)
	h := r.Direction.Cross(e2)
	a := e1.Dot(h)
	if math.Abs(a) < triEpsilon {
		return 0, false
	}
	f := 1 / a
	s := r.Origin.Sub(tri.A)
	u := f * s.Dot(h)
	if u < 0 || u > 1 {
		return 0, false
	}
	q := s.Cross(e1)
	v := f * r.Direction.Dot(q)
	if v < 0 || u+v > 1 {
		return 0, false
	}
	t := f * e2.Dot(q)
	if t <= minHitDistance {
		return 0, false
	}
	return t, true
}
