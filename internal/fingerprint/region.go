package fingerprint

import (
	"errors"
	"fmt"
	"math"

	"github.com/banshee-data/rf.twin/internal/rf/geom"
)

// ErrInvalidRegion is returned by Region.Validate.
var ErrInvalidRegion = errors.New("invalid sampling region")

// minSpacingM matches the centimetre discretization of sample positions.
const minSpacingM = 0.01

// Region is the floor area to sample. With HeightM set the lattice is a
// single layer at that height, otherwise it spans [MinZ, MaxZ].
type Region struct {
	MinX, MaxX float64
	MinY, MaxY float64
	SpacingM   float64
	HeightM    *float64
	MinZ, MaxZ float64
	// SpacingZM defaults to SpacingM.
	SpacingZM float64
}

func (r Region) Validate() error {
	vals := []float64{r.MinX, r.MaxX, r.MinY, r.MaxY, r.SpacingM, r.MinZ, r.MaxZ, r.SpacingZM}
	for _, v := range vals {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return fmt.Errorf("%w: non-finite bound", ErrInvalidRegion)
		}
	}
	if r.SpacingM < minSpacingM {
		return fmt.Errorf("%w: spacing %v below %v m", ErrInvalidRegion, r.SpacingM, minSpacingM)
	}
	if r.MaxX < r.MinX || r.MaxY < r.MinY {
		return fmt.Errorf("%w: empty floor bounds", ErrInvalidRegion)
	}
	if r.HeightM == nil {
		if r.MaxZ < r.MinZ {
			return fmt.Errorf("%w: empty height range", ErrInvalidRegion)
		}
		if r.SpacingZM != 0 && r.SpacingZM < minSpacingM {
			return fmt.Errorf("%w: z spacing %v below %v m", ErrInvalidRegion, r.SpacingZM, minSpacingM)
		}
	}
	return nil
}

// Is3D reports whether the lattice has more than a fixed height.
func (r Region) Is3D() bool { return r.HeightM == nil }

// axis is an inclusive linspace with ceil(span/step)+1 samples.
func axis(lo, hi, step float64) []float64 {
	n := int(math.Ceil((hi-lo)/step-1e-9)) + 1
	if n < 1 {
		n = 1
	}
	out := make([]float64, n)
	for i := range out {
		frac := 0.0
		if n > 1 {
			frac = float64(i) / float64(n-1)
		}
		out[i] = Discretize(lo + (hi-lo)*frac)
	}
	return out
}

func (r Region) axes() (xs, ys, zs []float64) {
	xs = axis(r.MinX, r.MaxX, r.SpacingM)
	ys = axis(r.MinY, r.MaxY, r.SpacingM)
	if r.HeightM != nil {
		return xs, ys, []float64{Discretize(*r.HeightM)}
	}
	step := r.SpacingZM
	if step == 0 {
		step = r.SpacingM
	}
	return xs, ys, axis(r.MinZ, r.MaxZ, step)
}

// PointCount is the number of points Points will return.
func (r Region) PointCount() int {
	xs, ys, zs := r.axes()
	return len(xs) * len(ys) * len(zs)
}

// Points returns the lattice, z outermost then y then x.
func (r Region) Points() []geom.Vec3 {
	xs, ys, zs := r.axes()
	out := make([]geom.Vec3, 0, len(xs)*len(ys)*len(zs))
	for _, z := range zs {
		for _, y := range ys {
			for _, x := range xs {
				out = append(out, geom.Vec3{X: x, Y: y, Z: z})
			}
		}
	}
	return out
}

// Discretize rounds a coordinate to the centimetre so lattice keys compare
// exactly.
func Discretize(v float64) float64 {
	return math.Round(v*100) / 100
}

// DiscretizePoint applies Discretize to every component.
func DiscretizePoint(p geom.Vec3) geom.Vec3 {
	return geom.Vec3{X: Discretize(p.X), Y: Discretize(p.Y), Z: Discretize(p.Z)}
}
