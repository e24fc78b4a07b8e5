package locate

import (
	"fmt"
	"sort"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"github.com/banshee-data/rf.twin/internal/rf/geom"
)

// Accuracy summarizes localization error over a set of known positions.
type Accuracy struct {
	Samples int     `json:"samples"`
	Failed  int     `json:"failed"`
	MeanM   float64 `json:"mean_m"`
	MedianM float64 `json:"median_m"`
	StdM    float64 `json:"std_m"`
	P90M    float64 `json:"p90_m"`
	MaxM    float64 `json:"max_m"`
	Mean2DM float64 `json:"mean_2d_m"`
	// Errors holds the sorted 3D error of every successful sample.
	Errors []float64 `json:"errors"`
}

// CDF returns the fraction of samples with an error at or below each
// threshold.
func (a Accuracy) CDF(thresholdsM []float64) []float64 {
	out := make([]float64, len(thresholdsM))
	if len(a.Errors) == 0 {
		return out
	}
	for i, th := range thresholdsM {
		n := sort.SearchFloat64s(a.Errors, th)
		for n < len(a.Errors) && a.Errors[n] <= th {
			n++
		}
		out[i] = float64(n) / float64(len(a.Errors))
	}
	return out
}

// Evaluate localizes every rssi row and compares it with the matching true
// position. Rows the engine rejects are counted in Failed.
func (e *Engine) Evaluate(truth []geom.Vec3, rssi [][]float64) (Accuracy, error) {
	if len(truth) != len(rssi) {
		return Accuracy{}, fmt.Errorf("%w: %d positions for %d measurements", ErrShapeMismatch, len(truth), len(rssi))
	}
	acc := Accuracy{Samples: len(truth)}
	var planar []float64
	for i, m := range rssi {
		res, err := e.Localize(m)
		if err != nil {
			acc.Failed++
			continue
		}
		acc.Errors = append(acc.Errors, res.Position.Dist(truth[i]))
		planar = append(planar, res.Position.Dist2D(truth[i]))
	}
	if len(acc.Errors) == 0 {
		return acc, nil
	}
	sort.Float64s(acc.Errors)
	acc.MeanM = stat.Mean(acc.Errors, nil)
	acc.StdM = stat.PopStdDev(acc.Errors, nil)
	acc.MedianM = stat.Quantile(0.5, stat.Empirical, acc.Errors, nil)
	acc.P90M = stat.Quantile(0.9, stat.Empirical, acc.Errors, nil)
	acc.MaxM = floats.Max(acc.Errors)
	acc.Mean2DM = stat.Mean(planar, nil)
	return acc, nil
}
