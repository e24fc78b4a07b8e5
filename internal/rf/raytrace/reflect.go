package raytrace

import (
	"fmt"
	"math"

	"github.com/banshee-data/rf.twin/internal/rf/geom"
	"github.com/banshee-data/rf.twin/internal/rf/material"
	"github.com/banshee-data/rf.twin/internal/rf/pathloss"
)

const (
	// surfaceOffsetM moves a spawned ray off the surface it leaves.
	surfaceOffsetM = 1e-4
	// reflectionAbsorptionShare is the part of a material's absorption
	// charged on a specular bounce.
	reflectionAbsorptionShare = 0.2
)

// flight is an in-flight partial path on the work list.
type flight struct {
	pair          int
	origin, dir   geom.Vec3
	budget        int
	lengthM       float64
	lossDB        float64
	bounces       int
	transmissions int
	points        []geom.Vec3
}

func (f flight) spawn(at, dir geom.Vec3, travelled, lossDB float64, record bool) flight {
	c := f
	c.origin = at.Add(dir.Scale(surfaceOffsetM))
	c.dir = dir
	c.budget--
	c.lengthM += travelled + surfaceOffsetM
	c.lossDB += lossDB
	if record {
		c.points = append(append(make([]geom.Vec3, 0, len(f.points)+1), f.points...), at)
	}
	return c
}

// reflectivePropagation traces ray families breadth first. Each generation
// of in-flight rays across all pairs is resolved by one IntersectBatch call.
// A nil launch set traces only the direct tx->rx ray per pair.
type reflectivePropagation struct {
	cfg    Config
	geo    geom.Provider
	mats   *material.Table
	launch []geom.Vec3
}

func (r *reflectivePropagation) multipath() bool { return r.launch != nil }

func (r *reflectivePropagation) evaluate(pairs []pair, record bool) ([]pairResult, error) {
	out := make([]pairResult, len(pairs))

	var active []flight
	for k, p := range pairs {
		start := flight{pair: k, origin: p.tx, budget: r.cfg.MaxReflections}
		if record {
			start.points = []geom.Vec3{p.tx}
		}
		if p.tx.Dist(p.rx) < coincidentM {
			r.receive(&out[k], start, p.rx, record)
			continue
		}
		if !r.multipath() {
			start.dir = p.rx.Sub(p.tx).Unit()
			active = append(active, start)
			continue
		}
		for _, d := range r.launch {
			f := start
			f.dir = d
			active = append(active, f)
		}
	}

	for len(active) > 0 {
		origins := make([]geom.Vec3, len(active))
		dirs := make([]geom.Vec3, len(active))
		for i, f := range active {
			origins[i], dirs[i] = f.origin, f.dir
		}
		byRay, hits, err := validatedHits(r.geo, origins, dirs)
		if err != nil {
			return nil, err
		}

		var next []flight
		for i, f := range active {
			rx := pairs[f.pair].rx
			tHit, surface, point := nearestHit(f, byRay[i], hits)

			if r.reaches(f, rx, tHit) {
				r.receive(&out[f.pair], f, rx, record)
				continue
			}
			if surface < 0 {
				end := f.origin.Add(f.dir.Scale(r.cfg.MaxRayDistanceM))
				r.terminate(&out[f.pair], f, end, Escaped, record)
				continue
			}
			if f.budget == 0 {
				r.terminate(&out[f.pair], f, point, Exhausted, record)
				continue
			}

			n, err := r.geo.SurfaceNormal(surface)
			if err != nil {
				return nil, fmt.Errorf("normal of surface %d: %w", surface, err)
			}
			m := r.mats.Resolve(surface)
			cosInc := math.Abs(f.dir.Dot(n))

			reflected := f.spawn(point, f.dir.Reflect(n).Unit(), tHit,
				pathloss.ReflectionLossDB(m.ReflectionCoefficient, cosInc)+reflectionAbsorptionShare*m.AbsorptionDB, record)
			reflected.bounces++
			transmitted := f.spawn(point, f.dir, tHit, m.AbsorptionDB, record)
			transmitted.transmissions++

			for _, c := range [2]flight{reflected, transmitted} {
				if r.multipath() && r.bestCaseDBm(c) < r.cfg.PowerThresholdDBm {
					r.terminate(&out[f.pair], c, c.origin, BelowThreshold, record)
					continue
				}
				next = append(next, c)
			}
		}
		active = next
	}
	return out, nil
}

// nearestHit returns the closest hit in front of the flight, or surface -1.
func nearestHit(f flight, idx []int, hits geom.Hits) (float64, int, geom.Vec3) {
	best, surface := math.Inf(1), -1
	var point geom.Vec3
	for _, h := range idx {
		t := hits.Points[h].Sub(f.origin).Dot(f.dir)
		if t > 0 && t < best {
			best, surface, point = t, hits.SurfaceIndex[h], hits.Points[h]
		}
	}
	return best, surface, point
}

// reaches reports whether rx lies within the capture radius of the segment
// between the flight origin and its next hit.
func (r *reflectivePropagation) reaches(f flight, rx geom.Vec3, tHit float64) bool {
	v := rx.Sub(f.origin)
	s := v.Dot(f.dir)
	if s <= 0 || s >= tHit || f.lengthM+s > r.cfg.MaxRayDistanceM {
		return false
	}
	return v.Sub(f.dir.Scale(s)).Norm() <= r.cfg.RxToleranceM
}

func (r *reflectivePropagation) bestCaseDBm(f flight) float64 {
	return r.cfg.TxPowerDBm - pathloss.FreeSpaceLossDB(f.lengthM, r.cfg.FrequencyHz) - f.lossDB
}

func (r *reflectivePropagation) receive(res *pairResult, f flight, rx geom.Vec3, record bool) {
	length := f.lengthM + f.origin.Dist(rx)
	power := pathloss.ReceivedPowerDBm(r.cfg.TxPowerDBm, pathloss.FreeSpaceLossDB(length, r.cfg.FrequencyHz)+f.lossDB)
	term := Received
	if r.multipath() && power < r.cfg.PowerThresholdDBm {
		term = BelowThreshold
	} else {
		res.milliwatts += pathloss.DBmToMilliwatts(power)
		res.received++
	}
	if record {
		res.paths = append(res.paths, RayPath{
			Points:            append(append([]geom.Vec3(nil), f.points...), rx),
			LengthM:           length,
			InteractionLossDB: f.lossDB,
			Bounces:           f.bounces,
			Transmissions:     f.transmissions,
			Termination:       term,
			PowerDBm:          power,
		})
	}
}

func (r *reflectivePropagation) terminate(res *pairResult, f flight, end geom.Vec3, term Termination, record bool) {
	if !record {
		return
	}
	res.paths = append(res.paths, RayPath{
		Points:            append(append([]geom.Vec3(nil), f.points...), end),
		LengthM:           f.lengthM + f.origin.Dist(end),
		InteractionLossDB: f.lossDB,
		Bounces:           f.bounces,
		Transmissions:     f.transmissions,
		Termination:       term,
	})
}
