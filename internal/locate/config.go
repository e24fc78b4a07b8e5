package locate

import (
	"errors"
	"fmt"
	"math"
	"strings"
)

var (
	// ErrInvalidConfig is returned for unusable engine settings.
	ErrInvalidConfig = errors.New("invalid localization configuration")
	// ErrEmptyDatabase is returned when localizing against zero fingerprints.
	ErrEmptyDatabase = errors.New("fingerprint database is empty")
	// ErrShapeMismatch is returned when a measurement does not have one
	// entry per access point.
	ErrShapeMismatch = errors.New("measurement length does not match access point count")
	// ErrInvalidMeasurement is returned for measurements with non-finite
	// entries (unless partial matching is enabled).
	ErrInvalidMeasurement = errors.New("measurement contains non-finite values")
)

// Algorithm selects the estimator.
type Algorithm string

const (
	KNN           Algorithm = "knn"
	WKNN          Algorithm = "wknn"
	Probabilistic Algorithm = "probabilistic"
)

// ParseAlgorithm accepts the configuration spelling of an algorithm.
func ParseAlgorithm(s string) (Algorithm, error) {
	switch a := Algorithm(strings.ToLower(strings.TrimSpace(s))); a {
	case KNN, WKNN, Probabilistic:
		return a, nil
	default:
		return "", fmt.Errorf("%w: unknown algorithm %q", ErrInvalidConfig, s)
	}
}

// Metric is the signal-space distance.
type Metric string

const (
	Euclidean Metric = "euclidean"
	Manhattan Metric = "manhattan"
)

// ParseMetric accepts the configuration spelling of a metric; empty is
// Euclidean.
func ParseMetric(s string) (Metric, error) {
	switch m := Metric(strings.ToLower(strings.TrimSpace(s))); m {
	case "":
		return Euclidean, nil
	case Euclidean, Manhattan:
		return m, nil
	default:
		return "", fmt.Errorf("%w: unknown distance metric %q", ErrInvalidConfig, s)
	}
}

func (m Metric) order() float64 {
	if m == Manhattan {
		return 1
	}
	return 2
}

const (
	// MinAdaptiveK and MaxAdaptiveK bound AdaptiveK.
	MinAdaptiveK = 8
	MaxAdaptiveK = 20
	// MaxConfidence is reported by KNN for an exact match.
	MaxConfidence = 1e9
	// weightEpsilon keeps WKNN weights finite at zero distance.
	weightEpsilon = 1e-12
	// minDerivedSigmaDB floors the per-AP spread derived from the database.
	minDerivedSigmaDB = 1.0
)

// Config is the immutable engine configuration.
type Config struct {
	Algorithm Algorithm
	// K is the neighbour count for KNN and WKNN. Zero selects AdaptiveK.
	K      int
	Metric Metric
	// SigmaDB is a shared measurement spread for the probabilistic
	// estimator. Zero derives a spread per AP from the database.
	SigmaDB float64
	// SigmaPerAPDB overrides SigmaDB with one spread per AP.
	SigmaPerAPDB []float64
	// PartialMatching lets NaN/Inf readings (an AP not heard) be skipped
	// instead of rejecting the measurement.
	PartialMatching bool
}

// DefaultConfig is WKNN with four neighbours and Euclidean distance.
func DefaultConfig() Config {
	return Config{Algorithm: WKNN, K: 4, Metric: Euclidean}
}

func (c Config) validate(apCount int) error {
	switch c.Algorithm {
	case KNN, WKNN, Probabilistic:
	default:
		return fmt.Errorf("%w: unknown algorithm %q", ErrInvalidConfig, c.Algorithm)
	}
	switch c.Metric {
	case Euclidean, Manhattan, "":
	default:
		return fmt.Errorf("%w: unknown distance metric %q", ErrInvalidConfig, c.Metric)
	}
	if c.K < 0 {
		return fmt.Errorf("%w: k_neighbors must be non-negative, got %d", ErrInvalidConfig, c.K)
	}
	if c.SigmaDB < 0 || math.IsNaN(c.SigmaDB) {
		return fmt.Errorf("%w: sigma_db must be non-negative, got %v", ErrInvalidConfig, c.SigmaDB)
	}
	if c.SigmaPerAPDB != nil {
		if len(c.SigmaPerAPDB) != apCount {
			return fmt.Errorf("%w: %d per-AP sigmas for %d access points", ErrInvalidConfig, len(c.SigmaPerAPDB), apCount)
		}
		for i, s := range c.SigmaPerAPDB {
			if !(s > 0) || math.IsInf(s, 0) {
				return fmt.Errorf("%w: sigma for AP %d must be positive, got %v", ErrInvalidConfig, i, s)
			}
		}
	}
	return nil
}

// AdaptiveK is round(sqrt(n)) clamped to [MinAdaptiveK, MaxAdaptiveK].
func AdaptiveK(n int) int {
	k := int(math.Round(math.Sqrt(float64(n))))
	return max(MinAdaptiveK, min(MaxAdaptiveK, k))
}
