package raytrace

import (
	"math"

	"github.com/banshee-data/rf.twin/internal/rf/geom"
)

var goldenRatio = (1 + math.Sqrt(5)) / 2

// FibonacciSphere returns n near-uniform unit directions. The sequence is a
// pure function of n.
func FibonacciSphere(n int) []geom.Vec3 {
	dirs := make([]geom.Vec3, n)
	for i := range dirs {
		theta := 2 * math.Pi * float64(i) / goldenRatio
		phi := math.Acos(1 - 2*(float64(i)+0.5)/float64(n))
		dirs[i] = geom.Vec3{
			X: math.Cos(theta) * math.Sin(phi),
			Y: math.Sin(theta) * math.Sin(phi),
			Z: math.Cos(phi),
		}
	}
	return dirs
}
