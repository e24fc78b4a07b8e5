package locate

import (
	"math"

	"gonum.org/v1/gonum/floats"

	"github.com/banshee-data/rf.twin/internal/rf/geom"
)

type knn struct{ e *Engine }

// estimate averages the K nearest positions; confidence is the inverse mean
// signal distance.
func (s knn) estimate(measured []float64, valid []int) Result {
	dists := s.e.distances(measured, valid)
	k := s.e.K(len(dists))
	idx, d := nearest(dists, k)

	var pos geom.Vec3
	neighbors := make([]Neighbor, k)
	for i, fi := range idx {
		pos = pos.Add(s.e.positions[fi])
		neighbors[i] = Neighbor{Index: fi, Position: s.e.positions[fi], Distance: d[i], Weight: 1 / float64(k)}
	}
	mean := floats.Sum(d) / float64(k)
	conf := MaxConfidence
	if mean > 0 {
		conf = math.Min(1/mean, MaxConfidence)
	}
	return Result{Position: pos.Scale(1 / float64(k)), Confidence: conf, Algorithm: KNN, K: k, Neighbors: neighbors}
}

type wknn struct{ e *Engine }

// estimate weights the K nearest positions by inverse distance; confidence
// is the mean weight.
func (s wknn) estimate(measured []float64, valid []int) Result {
	dists := s.e.distances(measured, valid)
	k := s.e.K(len(dists))
	idx, d := nearest(dists, k)

	weights := make([]float64, k)
	for i := range d {
		weights[i] = 1 / (d[i] + weightEpsilon)
	}
	total := floats.Sum(weights)

	var pos geom.Vec3
	neighbors := make([]Neighbor, k)
	for i, fi := range idx {
		pos = pos.Add(s.e.positions[fi].Scale(weights[i] / total))
		neighbors[i] = Neighbor{Index: fi, Position: s.e.positions[fi], Distance: d[i], Weight: weights[i] / total}
	}
	return Result{Position: pos, Confidence: total / float64(k), Algorithm: WKNN, K: k, Neighbors: neighbors}
}

type probabilistic struct{ e *Engine }

// estimate scores every fingerprint with an independent Gaussian likelihood
// per AP and returns the posterior mean under a uniform prior.
func (s probabilistic) estimate(measured []float64, valid []int) Result {
	cols := valid
	if cols == nil {
		cols = make([]int, len(measured))
		for j := range cols {
			cols[j] = j
		}
	}
	logLik := make([]float64, len(s.e.rows))
	for i, row := range s.e.rows {
		var acc float64
		for _, j := range cols {
			z := (measured[j] - row[j]) / s.e.sigma[j]
			acc -= 0.5 * z * z
		}
		logLik[i] = acc
	}
	norm := floats.LogSumExp(logLik)

	weights := make([]float64, len(logLik))
	var pos geom.Vec3
	for i, l := range logLik {
		weights[i] = math.Exp(l - norm)
		pos = pos.Add(s.e.positions[i].Scale(weights[i]))
	}

	k := s.e.K(len(weights))
	sorted := append([]float64(nil), weights...)
	idx := make([]int, len(sorted))
	for i := range idx {
		idx[i] = i
	}
	floats.ArgsortStable(sorted, idx)
	neighbors := make([]Neighbor, 0, k)
	for i := len(idx) - 1; i >= 0 && len(neighbors) < k; i-- {
		fi := idx[i]
		neighbors = append(neighbors, Neighbor{Index: fi, Position: s.e.positions[fi], Distance: -logLik[fi], Weight: weights[fi]})
	}

	return Result{
		Position:   pos,
		Confidence: floats.Max(weights),
		Algorithm:  Probabilistic,
		K:          len(weights),
		Neighbors:  neighbors,
	}
}
