// Package locate estimates positions by matching a measured RSSI vector
// against a fingerprint database.
package locate

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"

	"github.com/banshee-data/rf.twin/internal/rf/geom"
)

// Source is the read side of a fingerprint database.
type Source interface {
	APCount() int
	QueryAll() ([]geom.Vec3, *mat.Dense)
}

// Neighbor is a fingerprint that contributed to an estimate.
type Neighbor struct {
	Index    int       `json:"index"`
	Position geom.Vec3 `json:"position"`
	Distance float64   `json:"distance"`
	Weight   float64   `json:"weight"`
}

// Result is one position estimate.
type Result struct {
	Position   geom.Vec3  `json:"position"`
	Confidence float64    `json:"confidence"`
	Algorithm  Algorithm  `json:"algorithm"`
	K          int        `json:"k"`
	Neighbors  []Neighbor `json:"neighbors,omitempty"`
}

// estimator is the per-algorithm strategy, chosen once by NewEngine.
type estimator interface {
	estimate(measured []float64, valid []int) Result
}

// Engine holds an immutable snapshot of the database and is safe for
// concurrent use.
type Engine struct {
	cfg       Config
	apCount   int
	positions []geom.Vec3
	rows      [][]float64
	sigma     []float64
	est       estimator
}

// NewEngine snapshots src and selects the estimator. An empty database is
// accepted; Localize then reports ErrEmptyDatabase.
func NewEngine(src Source, cfg Config) (*Engine, error) {
	if src == nil {
		return nil, fmt.Errorf("%w: nil fingerprint source", ErrInvalidConfig)
	}
	if cfg.Metric == "" {
		cfg.Metric = Euclidean
	}
	m := src.APCount()
	if err := cfg.validate(m); err != nil {
		return nil, err
	}
	positions, fp := src.QueryAll()
	e := &Engine{cfg: cfg, apCount: m, positions: positions}
	if fp != nil {
		n, _ := fp.Dims()
		e.rows = make([][]float64, n)
		for i := range e.rows {
			e.rows[i] = mat.Row(nil, i, fp)
		}
	}
	e.sigma = e.spreads(fp)

	switch cfg.Algorithm {
	case KNN:
		e.est = knn{e}
	case WKNN:
		e.est = wknn{e}
	case Probabilistic:
		e.est = probabilistic{e}
	}
	return e, nil
}

func (e *Engine) Config() Config { return e.cfg }
func (e *Engine) Size() int      { return len(e.positions) }

// spreads resolves the per-AP measurement spread for the probabilistic
// estimator.
func (e *Engine) spreads(fp *mat.Dense) []float64 {
	out := make([]float64, e.apCount)
	switch {
	case e.cfg.SigmaPerAPDB != nil:
		copy(out, e.cfg.SigmaPerAPDB)
	case e.cfg.SigmaDB > 0:
		for j := range out {
			out[j] = e.cfg.SigmaDB
		}
	default:
		for j := range out {
			out[j] = minDerivedSigmaDB
			if fp != nil {
				if s := stat.PopStdDev(mat.Col(nil, j, fp), nil); s > minDerivedSigmaDB {
					out[j] = s
				}
			}
		}
	}
	return out
}

// K returns the neighbour count used for a database of n fingerprints.
func (e *Engine) K(n int) int {
	k := e.cfg.K
	if k == 0 {
		k = AdaptiveK(n)
	}
	return min(k, n)
}

// Localize estimates the position that produced measured.
func (e *Engine) Localize(measured []float64) (Result, error) {
	if len(measured) != e.apCount {
		return Result{}, fmt.Errorf("%w: got %d values, want %d", ErrShapeMismatch, len(measured), e.apCount)
	}
	if len(e.positions) == 0 {
		return Result{}, ErrEmptyDatabase
	}
	valid, err := e.usable(measured)
	if err != nil {
		return Result{}, err
	}
	return e.est.estimate(measured, valid), nil
}

// usable returns the AP columns to compare, or nil when all are.
func (e *Engine) usable(measured []float64) ([]int, error) {
	var valid []int
	bad := 0
	for j, v := range measured {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			bad++
			continue
		}
		valid = append(valid, j)
	}
	switch {
	case bad == 0:
		return nil, nil
	case !e.cfg.PartialMatching:
		return nil, fmt.Errorf("%w: %d of %d readings", ErrInvalidMeasurement, bad, len(measured))
	case len(valid) == 0:
		return nil, fmt.Errorf("%w: no usable readings", ErrInvalidMeasurement)
	}
	return valid, nil
}

// distances computes the signal-space distance to every fingerprint.
func (e *Engine) distances(measured []float64, valid []int) []float64 {
	out := make([]float64, len(e.rows))
	L := e.cfg.Metric.order()
	for i, row := range e.rows {
		if valid == nil {
			out[i] = floats.Distance(row, measured, L)
			continue
		}
		var acc float64
		for _, j := range valid {
			d := math.Abs(row[j] - measured[j])
			if L == 1 {
				acc += d
			} else {
				acc += d * d
			}
		}
		if L == 1 {
			out[i] = acc
		} else {
			out[i] = math.Sqrt(acc)
		}
	}
	return out
}

// nearest returns the indices of the k smallest distances, closest first.
// Ties keep database order.
func nearest(dists []float64, k int) ([]int, []float64) {
	sorted := append([]float64(nil), dists...)
	idx := make([]int, len(sorted))
	for i := range idx {
		idx[i] = i
	}
	floats.ArgsortStable(sorted, idx)
	return idx[:k], sorted[:k]
}
