package tracking

import (
	"sort"
	"time"

	"github.com/banshee-data/rf.twin/internal/collector"
	"github.com/banshee-data/rf.twin/internal/locate"
	"github.com/banshee-data/rf.twin/internal/rf/geom"
)

// TrajectoryPoint is one located fix.
type TrajectoryPoint struct {
	Time       time.Time `json:"time"`
	Position   geom.Vec3 `json:"position"`
	Confidence float64   `json:"confidence"`
}

// TrackedTarget is the latest known state of one emitter. Values handed out
// by a Snapshot are copies and may be kept by the caller.
type TrackedTarget struct {
	ID         string               `json:"id"`
	Name       string               `json:"name"`
	SignalType collector.SignalType `json:"signal_type"`
	// Fixes counts successful localizations; zero means no position yet.
	Fixes      int               `json:"fixes"`
	Result     locate.Result     `json:"result"`
	RSSI       []float64         `json:"rssi,omitempty"`
	FirstSeen  time.Time         `json:"first_seen"`
	LastSeen   time.Time         `json:"last_seen"`
	Trajectory []TrajectoryPoint `json:"trajectory,omitempty"`
}

// Active reports whether the target was seen less than timeout before now.
func (t TrackedTarget) Active(now time.Time, timeout time.Duration) bool {
	return now.Sub(t.LastSeen) < timeout
}

func (t *TrackedTarget) update(res locate.Result, rssi []float64, at time.Time, limit int) {
	t.Fixes++
	t.Result = res
	t.RSSI = rssi
	t.LastSeen = at
	t.Trajectory = append(t.Trajectory, TrajectoryPoint{Time: at, Position: res.Position, Confidence: res.Confidence})
	if over := len(t.Trajectory) - limit; over > 0 {
		t.Trajectory = append(t.Trajectory[:0:0], t.Trajectory[over:]...)
	}
}

func (t *TrackedTarget) clone() TrackedTarget {
	c := *t
	c.RSSI = append([]float64(nil), t.RSSI...)
	c.Trajectory = append([]TrajectoryPoint(nil), t.Trajectory...)
	c.Result.Neighbors = append([]locate.Neighbor(nil), t.Result.Neighbors...)
	return c
}

// Stats summarizes a snapshot.
type Stats struct {
	Total            int     `json:"total"`
	Active           int     `json:"active"`
	Inactive         int     `json:"inactive"`
	TrackedPositions int     `json:"tracked_positions"`
	AvgConfidence    float64 `json:"avg_confidence"`
}

// Snapshot is an immutable view published after every change.
type Snapshot struct {
	Session string          `json:"session"`
	Cycle   uint64          `json:"cycle"`
	Taken   time.Time       `json:"taken"`
	Targets []TrackedTarget `json:"targets"`
	timeout time.Duration
}

// Target looks up one target by id.
func (s *Snapshot) Target(id string) (TrackedTarget, bool) {
	i := sort.Search(len(s.Targets), func(i int) bool { return s.Targets[i].ID >= id })
	if i < len(s.Targets) && s.Targets[i].ID == id {
		return s.Targets[i].clone(), true
	}
	return TrackedTarget{}, false
}

// Active returns the targets seen within the device timeout as of now.
func (s *Snapshot) Active(now time.Time) []TrackedTarget {
	var out []TrackedTarget
	for _, t := range s.Targets {
		if t.Active(now, s.timeout) {
			out = append(out, t)
		}
	}
	return out
}

// Stats counts targets as of now. The average confidence covers active
// targets with at least one fix.
func (s *Snapshot) Stats(now time.Time) Stats {
	st := Stats{Total: len(s.Targets)}
	var sum float64
	for _, t := range s.Targets {
		if !t.Active(now, s.timeout) {
			continue
		}
		st.Active++
		if t.Fixes > 0 {
			st.TrackedPositions++
			sum += t.Result.Confidence
		}
	}
	st.Inactive = st.Total - st.Active
	if st.TrackedPositions > 0 {
		st.AvgConfidence = sum / float64(st.TrackedPositions)
	}
	return st
}
