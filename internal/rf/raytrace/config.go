package raytrace

import (
	"errors"
	"fmt"
	"math"

	"github.com/banshee-data/rf.twin/internal/rf/pathloss"
)

// ErrInvalidConfig is returned by Config.Validate and New.
var ErrInvalidConfig = errors.New("invalid ray tracer configuration")

// Mode selects the propagation strategy. It is fixed when a tracer is built.
type Mode int

const (
	// ModeSimple casts one tx->rx ray and charges a fixed loss per surface
	// crossed.
	ModeSimple Mode = iota
	// ModeHighPrecision follows the direct ray family with specular
	// reflections and transmissions.
	ModeHighPrecision
	// ModeMultipath launches a Fibonacci sphere of rays from the
	// transmitter, each traced like the high-precision direct ray.
	ModeMultipath
)

func (m Mode) String() string {
	switch m {
	case ModeSimple:
		return "simple"
	case ModeHighPrecision:
		return "high_precision"
	case ModeMultipath:
		return "multipath"
	default:
		return fmt.Sprintf("Mode(%d)", int(m))
	}
}

// ModeFromFlags maps the two configuration switches onto a Mode. Multipath
// requires high precision.
func ModeFromFlags(highPrecision, multipath bool) (Mode, error) {
	switch {
	case multipath && !highPrecision:
		return 0, fmt.Errorf("%w: multipath_enabled requires high_precision_mode", ErrInvalidConfig)
	case multipath:
		return ModeMultipath, nil
	case highPrecision:
		return ModeHighPrecision, nil
	default:
		return ModeSimple, nil
	}
}

// MaxReflectionsLimit bounds Config.MaxReflections.
const MaxReflectionsLimit = 10

// Config is the immutable tracer configuration.
type Config struct {
	TxPowerDBm     float64
	FrequencyHz    float64
	MaxReflections int
	Mode           Mode
	// NumRays is the Fibonacci sample count in multipath mode.
	NumRays int
	// RxToleranceM is the capture radius around the receiver.
	RxToleranceM float64
	// PowerThresholdDBm prunes weak multipath rays.
	PowerThresholdDBm float64
	// NoiseFloorDBm is reported when no path reaches the receiver and is
	// the lower bound of every reported power.
	NoiseFloorDBm float64
	// ObstructionLossDB is the simple-mode penalty per crossed surface.
	ObstructionLossDB float64
	// BlockToleranceM ignores surfaces this close to the receiver when
	// counting obstructions.
	BlockToleranceM float64
	// MaxRayDistanceM bounds how far an unobstructed ray may travel to a
	// receiver.
	MaxRayDistanceM float64
}

// DefaultConfig returns a 20 dBm 2.4 GHz simple-mode configuration.
func DefaultConfig() Config {
	return Config{
		TxPowerDBm:        20,
		FrequencyHz:       2.4e9,
		MaxReflections:    3,
		Mode:              ModeSimple,
		NumRays:           360,
		RxToleranceM:      0.3,
		PowerThresholdDBm: -100,
		NoiseFloorDBm:     -100,
		ObstructionLossDB: pathloss.SimpleBounceLossDB,
		BlockToleranceM:   1e-3,
		MaxRayDistanceM:   100,
	}
}

func finite(v float64) bool { return !math.IsNaN(v) && !math.IsInf(v, 0) }

// Validate rejects configurations the tracer cannot run with.
func (c Config) Validate() error {
	switch {
	case !finite(c.TxPowerDBm):
		return fmt.Errorf("%w: tx_power_dbm must be finite", ErrInvalidConfig)
	case !finite(c.FrequencyHz) || c.FrequencyHz <= 0:
		return fmt.Errorf("%w: tx_frequency_hz must be positive, got %v", ErrInvalidConfig, c.FrequencyHz)
	case c.MaxReflections < 0 || c.MaxReflections > MaxReflectionsLimit:
		return fmt.Errorf("%w: max_reflections must be in [0,%d], got %d", ErrInvalidConfig, MaxReflectionsLimit, c.MaxReflections)
	case c.Mode < ModeSimple || c.Mode > ModeMultipath:
		return fmt.Errorf("%w: unknown mode %v", ErrInvalidConfig, c.Mode)
	case c.Mode == ModeMultipath && c.NumRays <= 0:
		return fmt.Errorf("%w: num_rays must be positive, got %d", ErrInvalidConfig, c.NumRays)
	case c.Mode != ModeSimple && (!finite(c.RxToleranceM) || c.RxToleranceM <= 0):
		return fmt.Errorf("%w: rx_tolerance_m must be positive, got %v", ErrInvalidConfig, c.RxToleranceM)
	case !finite(c.PowerThresholdDBm):
		return fmt.Errorf("%w: power_threshold_dbm must be finite", ErrInvalidConfig)
	case !finite(c.NoiseFloorDBm):
		return fmt.Errorf("%w: noise_floor_dbm must be finite", ErrInvalidConfig)
	case !finite(c.ObstructionLossDB) || c.ObstructionLossDB < 0:
		return fmt.Errorf("%w: obstruction_loss_db must be non-negative, got %v", ErrInvalidConfig, c.ObstructionLossDB)
	case c.BlockToleranceM < 0:
		return fmt.Errorf("%w: block tolerance must be non-negative", ErrInvalidConfig)
	case c.MaxRayDistanceM <= 0:
		return fmt.Errorf("%w: max ray distance must be positive", ErrInvalidConfig)
	}
	return nil
}
