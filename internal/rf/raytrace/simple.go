package raytrace

import (
	"github.com/banshee-data/rf.twin/internal/rf/geom"
	"github.com/banshee-data/rf.twin/internal/rf/pathloss"
)

// simplePropagation charges free-space loss plus a fixed penalty per surface
// crossed on the straight tx->rx segment. All pairs go through a single
// IntersectBatch call.
type simplePropagation struct {
	cfg Config
	geo geom.Provider
}

func (s *simplePropagation) evaluate(pairs []pair, record bool) ([]pairResult, error) {
	// rayOf maps a pair to its cast ray; coincident pairs cast none.
	var origins, dirs []geom.Vec3
	rayOf := make([]int, len(pairs))
	for k, p := range pairs {
		rayOf[k] = -1
		if p.tx.Dist(p.rx) < coincidentM {
			continue
		}
		rayOf[k] = len(origins)
		origins = append(origins, p.tx)
		dirs = append(dirs, p.rx.Sub(p.tx).Unit())
	}

	var byRay [][]int
	var hits geom.Hits
	if len(origins) > 0 {
		var err error
		byRay, hits, err = validatedHits(s.geo, origins, dirs)
		if err != nil {
			return nil, err
		}
	}

	out := make([]pairResult, len(pairs))
	for k, p := range pairs {
		d := p.tx.Dist(p.rx)
		crossed := 0
		if r := rayOf[k]; r >= 0 {
			for _, h := range byRay[r] {
				t := hits.Points[h].Sub(p.tx).Dot(dirs[r])
				if t < d-s.cfg.BlockToleranceM {
					crossed++
				}
			}
		}
		penalised := min(crossed, s.cfg.MaxReflections)
		interaction := float64(penalised) * s.cfg.ObstructionLossDB
		power := pathloss.ReceivedPowerDBm(s.cfg.TxPowerDBm, pathloss.FreeSpaceLossDB(d, s.cfg.FrequencyHz)+interaction)

		out[k] = pairResult{milliwatts: pathloss.DBmToMilliwatts(power), received: 1}
		if record {
			out[k].paths = []RayPath{{
				Points:            []geom.Vec3{p.tx, p.rx},
				LengthM:           d,
				InteractionLossDB: interaction,
				Transmissions:     crossed,
				Termination:       Received,
				PowerDBm:          power,
			}}
		}
	}
	return out, nil
}
