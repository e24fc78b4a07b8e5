package geom

import "fmt"

// RoomBuilder assembles a mesh from axis-aligned rooms and wall slabs, keeping
// a material label per surface.
type RoomBuilder struct {
	tris   []Triangle
	labels []string
}

func NewRoomBuilder() *RoomBuilder {
	return &RoomBuilder{}
}

// Quad adds the planar quadrilateral a-b-c-d as two triangles.
func (b *RoomBuilder) Quad(a, bb, c, d Vec3, material string) *RoomBuilder {
	b.tris = append(b.tris, Triangle{a, bb, c}, Triangle{a, c, d})
	b.labels = append(b.labels, material, material)
	return b
}

// Box adds the six inner faces of the axis-aligned box [lo, hi].
func (b *RoomBuilder) Box(lo, hi Vec3, material string) *RoomBuilder {
	x0, y0, z0 := lo.X, lo.Y, lo.Z
	x1, y1, z1 := hi.X, hi.Y, hi.Z
	// floor, ceiling
	b.Quad(V(x0, y0, z0), V(x1, y0, z0), V(x1, y1, z0), V(x0, y1, z0), material)
	b.Quad(V(x0, y0, z1), V(x0, y1, z1), V(x1, y1, z1), V(x1, y0, z1), material)
	// south, north
	b.Quad(V(x0, y0, z0), V(x0, y0, z1), V(x1, y0, z1), V(x1, y0, z0), material)
	b.Quad(V(x0, y1, z0), V(x1, y1, z0), V(x1, y1, z1), V(x0, y1, z1), material)
	// west, east
	b.Quad(V(x0, y0, z0), V(x0, y1, z0), V(x0, y1, z1), V(x0, y0, z1), material)
	b.Quad(V(x1, y0, z0), V(x1, y0, z1), V(x1, y1, z1), V(x1, y1, z0), material)
	return b
}

// Wall adds a vertical zero-thickness wall along the floor segment
// (x0,y0)-(x1,y1) between heights zLo and zHi.
func (b *RoomBuilder) Wall(x0, y0, x1, y1, zLo, zHi float64, material string) *RoomBuilder {
	return b.Quad(V(x0, y0, zLo), V(x1, y1, zLo), V(x1, y1, zHi), V(x0, y0, zHi), material)
}

// Build produces the mesh and the surface-index to material-name mapping.
func (b *RoomBuilder) Build() (*Mesh, map[int]string, error) {
	if len(b.tris) == 0 {
		return nil, nil, fmt.Errorf("room has no surfaces")
	}
	m, err := NewMesh(b.tris)
	if err != nil {
		return nil, nil, err
	}
	mapping := make(map[int]string, len(b.labels))
	for i, l := range b.labels {
		if l != "" {
			mapping[i] = l
		}
	}
	return m, mapping, nil
}
