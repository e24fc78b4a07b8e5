// Package raytrace estimates received signal strength between points of a
// static scene by casting rays against a geom.Provider.
//
// Three strategies are available (see Mode). The strategy is selected once
// by New; Trace and SimulateBatch share the same per-pair code so a batch of
// N×M pairs produces exactly the values N×M scalar calls would.
package raytrace

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"

	"github.com/banshee-data/rf.twin/internal/rf/geom"
	"github.com/banshee-data/rf.twin/internal/rf/material"
	"github.com/banshee-data/rf.twin/internal/rf/pathloss"
)

// ErrEmptyBatch is returned by SimulateBatch when there are no transmitters
// or no sample points.
var ErrEmptyBatch = errors.New("batch needs at least one transmitter and one point")

// coincidentM treats endpoints this close as the same point.
const coincidentM = 1e-9

// pair is one transmitter/receiver combination in a batch.
type pair struct {
	tx, rx geom.Vec3
}

// pairResult accumulates linear power per pair.
type pairResult struct {
	milliwatts float64
	received   int
	paths      []RayPath
}

// propagation is the per-mode strategy behind Engine.
type propagation interface {
	evaluate(pairs []pair, record bool) ([]pairResult, error)
}

// Engine is a configured tracer bound to one scene. It holds no mutable
// state and is safe for concurrent use.
type Engine struct {
	cfg      Config
	geo      geom.Provider
	mats     *material.Table
	strategy propagation
}

// New validates cfg and binds the tracer to geo and mats. A nil table
// resolves every surface to the built-in default material.
func New(cfg Config, geo geom.Provider, mats *material.Table) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if geo == nil {
		return nil, fmt.Errorf("%w: geometry provider is nil", ErrInvalidConfig)
	}
	if mats == nil {
		mats = material.MustDefaultTable()
	}
	e := &Engine{cfg: cfg, geo: geo, mats: mats}
	switch cfg.Mode {
	case ModeSimple:
		e.strategy = &simplePropagation{cfg: cfg, geo: geo}
	case ModeHighPrecision:
		e.strategy = &reflectivePropagation{cfg: cfg, geo: geo, mats: mats}
	case ModeMultipath:
		e.strategy = &reflectivePropagation{cfg: cfg, geo: geo, mats: mats, launch: FibonacciSphere(cfg.NumRays)}
	}
	return e, nil
}

func (e *Engine) Mode() Mode     { return e.cfg.Mode }
func (e *Engine) Config() Config { return e.cfg }

// Trace returns the received power at rx for a transmitter at tx.
func (e *Engine) Trace(tx, rx geom.Vec3) (float64, error) {
	res, err := e.strategy.evaluate([]pair{{tx: tx, rx: rx}}, false)
	if err != nil {
		return 0, err
	}
	return e.finalize(res[0]), nil
}

// TracePaths returns every ray traced for the pair, including those that did
// not reach the receiver.
func (e *Engine) TracePaths(tx, rx geom.Vec3) ([]RayPath, error) {
	res, err := e.strategy.evaluate([]pair{{tx: tx, rx: rx}}, true)
	if err != nil {
		return nil, err
	}
	return res[0].paths, nil
}

// SimulateBatch evaluates every transmitter against every point. Row i of
// the result is points[i], column j is aps[j].
func (e *Engine) SimulateBatch(aps, points []geom.Vec3) (*mat.Dense, error) {
	if len(aps) == 0 || len(points) == 0 {
		return nil, ErrEmptyBatch
	}
	m := len(aps)
	pairs := make([]pair, 0, len(points)*m)
	for _, p := range points {
		for _, ap := range aps {
			pairs = append(pairs, pair{tx: ap, rx: p})
		}
	}
	res, err := e.strategy.evaluate(pairs, false)
	if err != nil {
		return nil, err
	}
	out := mat.NewDense(len(points), m, nil)
	for k, r := range res {
		out.Set(k/m, k%m, e.finalize(r))
	}
	return out, nil
}

// finalize converts accumulated power to dBm, applying the noise floor.
func (e *Engine) finalize(r pairResult) float64 {
	if r.received == 0 || r.milliwatts <= 0 {
		return e.cfg.NoiseFloorDBm
	}
	dbm := pathloss.MilliwattsToDBm(r.milliwatts)
	if math.IsNaN(dbm) || dbm < e.cfg.NoiseFloorDBm {
		return e.cfg.NoiseFloorDBm
	}
	return dbm
}

// validatedHits runs one batched query and checks the result.
func validatedHits(geo geom.Provider, origins, dirs []geom.Vec3) ([][]int, geom.Hits, error) {
	hits, err := geo.IntersectBatch(origins, dirs)
	if err != nil {
		return nil, geom.Hits{}, fmt.Errorf("intersect %d rays: %w", len(origins), err)
	}
	if err := hits.Validate(len(origins), geo.SurfaceCount()); err != nil {
		return nil, geom.Hits{}, err
	}
	return hits.ByRay(len(origins)), hits, nil
}
