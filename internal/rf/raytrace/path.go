package raytrace

import "github.com/banshee-data/rf.twin/internal/rf/geom"

// Termination records why a traced ray stopped.
type Termination int

const (
	// Received means the ray passed within tolerance of the receiver.
	Received Termination = iota
	// Exhausted means the ray hit a surface with no interaction budget left.
	Exhausted
	// Escaped means the ray left the scene without reaching the receiver.
	Escaped
	// BelowThreshold means the ray was pruned for being too weak.
	BelowThreshold
)

func (t Termination) String() string {
	switch t {
	case Received:
		return "received"
	case Exhausted:
		return "exhausted"
	case Escaped:
		return "escaped"
	case BelowThreshold:
		return "below_threshold"
	default:
		return "unknown"
	}
}

// RayPath is one traced ray from transmitter to its termination.
type RayPath struct {
	// Points are the origin, every interaction point and the final point.
	Points []geom.Vec3
	// LengthM is the geometric length travelled.
	LengthM float64
	// InteractionLossDB sums reflection, absorption and obstruction losses.
	InteractionLossDB float64
	// Bounces counts specular reflections only.
	Bounces int
	// Transmissions counts surfaces passed through (or crossed, in simple mode).
	Transmissions int
	Termination   Termination
	// PowerDBm is the received power when Termination is Received.
	PowerDBm float64
}
