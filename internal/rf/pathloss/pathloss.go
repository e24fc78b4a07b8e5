// Package pathloss implements the propagation loss formulas used by the ray
// tracer and the simulated collector. All powers are in dBm, losses in dB,
// distances in metres and frequencies in Hz.
package pathloss

import "math"

const (
	// MinDistanceM clamps free-space distance so co-located endpoints do not
	// produce -Inf.
	MinDistanceM = 1e-6
	// fsplConstantDB is 20*log10(4*pi/c) for metres and Hz.
	fsplConstantDB = -147.55
	// SimpleBounceLossDB is the fixed per-obstruction penalty of simple mode.
	SimpleBounceLossDB = 5.0
	// MaxReflectionLossDB caps the loss of a reflection whose effective
	// coefficient is zero.
	MaxReflectionLossDB = 40.0
)

// FreeSpaceLossDB is the Friis free-space path loss.
func FreeSpaceLossDB(distanceM, frequencyHz float64) float64 {
	if distanceM < MinDistanceM {
		distanceM = MinDistanceM
	}
	return 20*math.Log10(distanceM) + 20*math.Log10(frequencyHz) + fsplConstantDB
}

// ReceivedPowerDBm subtracts a loss from a transmit power. No clamping.
func ReceivedPowerDBm(txPowerDBm, lossDB float64) float64 {
	return txPowerDBm - lossDB
}

// IncidenceFactor scales a reflection coefficient by incidence angle: 0.5 at
// normal incidence rising to 1 at grazing. cosIncidence is |d·n|.
func IncidenceFactor(cosIncidence float64) float64 {
	c := math.Abs(cosIncidence)
	if c > 1 {
		c = 1
	}
	f := 0.5 + 0.5*(1-c)
	return math.Max(0, math.Min(1, f))
}

// ReflectionLossDB is the high-precision reflection loss for a surface with
// the given base coefficient, hit at the given incidence cosine.
func ReflectionLossDB(coefficient, cosIncidence float64) float64 {
	eff := coefficient * IncidenceFactor(cosIncidence)
	if eff <= 0 {
		return MaxReflectionLossDB
	}
	return math.Min(-20*math.Log10(eff), MaxReflectionLossDB)
}

// DBmToMilliwatts converts a power level to linear milliwatts.
func DBmToMilliwatts(dbm float64) float64 {
	return math.Pow(10, dbm/10)
}

// MilliwattsToDBm converts linear milliwatts back to dBm. Non-positive input
// yields -Inf; callers substitute their noise floor.
func MilliwattsToDBm(mw float64) float64 {
	if mw <= 0 {
		return math.Inf(-1)
	}
	return 10 * math.Log10(mw)
}

// LogDistanceLossDB is the log-distance model with a 1 m free-space
// reference: FSPL(1m) + 10*n*log10(d).
func LogDistanceLossDB(distanceM, frequencyHz, exponent float64) float64 {
	if distanceM < MinDistanceM {
		distanceM = MinDistanceM
	}
	return FreeSpaceLossDB(1, frequencyHz) + 10*exponent*math.Log10(distanceM)
}
