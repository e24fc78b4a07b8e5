package collector

import (
	"context"
	"fmt"
	"math"
	"math/rand/v2"
	"sort"
	"sync"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat/distuv"

	"github.com/banshee-data/rf.twin/internal/fingerprint"
	"github.com/banshee-data/rf.twin/internal/monitoring"
	"github.com/banshee-data/rf.twin/internal/rf/geom"
	"github.com/banshee-data/rf.twin/internal/rf/pathloss"
)

const (
	// DefaultFingerprintRadiusM is how far a target may be from the nearest
	// fingerprint before the simulation falls through to the tracer.
	DefaultFingerprintRadiusM = 2.0
	// DefaultMeasurementNoiseDB is the Gaussian spread the rftwin commands
	// add to fingerprint lookups. Zero in SimulatedOptions means none.
	DefaultMeasurementNoiseDB = 2.0
	// minModelDistanceM clamps the log-distance model near a receiver.
	minModelDistanceM = 0.1
)

// Target is a simulated emitter.
type Target struct {
	ID         string     `json:"id"`
	SignalType SignalType `json:"signal_type"`
	Position   geom.Vec3  `json:"position"`
	Profile    Profile    `json:"profile"`
}

// NewTarget fills the radio profile from the signal type preset.
func NewTarget(id string, t SignalType, pos geom.Vec3) Target {
	return Target{ID: id, SignalType: t, Position: pos, Profile: ProfileFor(t)}
}

// FingerprintSource is the fingerprint lookup the simulation uses.
type FingerprintSource interface {
	Nearest(p geom.Vec3) (fingerprint.Fingerprint, float64, bool)
}

// BatchSimulator is satisfied by the ray tracer.
type BatchSimulator interface {
	SimulateBatch(aps, points []geom.Vec3) (*mat.Dense, error)
}

// SimulatedOptions configure the fallback chain. Fingerprints and Tracer
// are optional; without either, readings come from the log-distance model.
type SimulatedOptions struct {
	Fingerprints        FingerprintSource
	Tracer              BatchSimulator
	FingerprintRadiusM  float64
	MeasurementNoiseDB  float64
	Seed                uint64
	DisableShadowFading bool
}

// Simulated derives readings from a model of the site. It is safe for
// concurrent use.
type Simulated struct {
	receivers []geom.Vec3
	opts      SimulatedOptions

	mu      sync.Mutex
	targets map[string]Target
	src     rand.Source
}

func NewSimulated(receivers []geom.Vec3, opts SimulatedOptions) (*Simulated, error) {
	if len(receivers) == 0 {
		return nil, fmt.Errorf("simulated collector needs at least one receiver")
	}
	if opts.FingerprintRadiusM <= 0 {
		opts.FingerprintRadiusM = DefaultFingerprintRadiusM
	}
	if opts.MeasurementNoiseDB < 0 {
		return nil, fmt.Errorf("measurement noise must be non-negative, got %v", opts.MeasurementNoiseDB)
	}
	return &Simulated{
		receivers: append([]geom.Vec3(nil), receivers...),
		opts:      opts,
		targets:   make(map[string]Target),
		src:       rand.NewPCG(opts.Seed, opts.Seed^0x9e3779b97f4a7c15),
	}, nil
}

// AddTarget registers or replaces t.
func (s *Simulated) AddTarget(t Target) error {
	if t.ID == "" {
		return fmt.Errorf("target id must not be empty")
	}
	if !t.Position.IsFinite() {
		return fmt.Errorf("target %q has non-finite position %v", t.ID, t.Position)
	}
	if t.Profile == (Profile{}) {
		t.Profile = ProfileFor(t.SignalType)
	}
	s.mu.Lock()
	s.targets[t.ID] = t
	s.mu.Unlock()
	return nil
}

// MoveTarget updates the position of a known target.
func (s *Simulated) MoveTarget(id string, pos geom.Vec3) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.targets[id]
	if !ok {
		return fmt.Errorf("unknown target %q", id)
	}
	t.Position = pos
	s.targets[id] = t
	return nil
}

func (s *Simulated) RemoveTarget(id string) {
	s.mu.Lock()
	delete(s.targets, id)
	s.mu.Unlock()
}

func (s *Simulated) Target(id string) (Target, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.targets[id]
	return t, ok
}

// CountByType tallies targets per signal type.
func (s *Simulated) CountByType() map[SignalType]int {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[SignalType]int)
	for _, t := range s.targets {
		out[t.SignalType]++
	}
	return out
}

// ScanTargets returns every registered target id, sorted.
func (s *Simulated) ScanTargets(ctx context.Context) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, noSignal("*", err)
	}
	s.mu.Lock()
	ids := make([]string, 0, len(s.targets))
	for id := range s.targets {
		ids = append(ids, id)
	}
	s.mu.Unlock()
	sort.Strings(ids)
	return ids, nil
}

// GetRSSI tries the nearest fingerprint within the radius (plus
// measurement noise), then the tracer, then the log-distance model with
// shadow fading.
func (s *Simulated) GetRSSI(ctx context.Context, targetID string) ([]float64, error) {
	if err := ctx.Err(); err != nil {
		return nil, noSignal(targetID, err)
	}
	t, ok := s.Target(targetID)
	if !ok {
		return nil, noSignal(targetID, fmt.Errorf("unknown target"))
	}

	if s.opts.Fingerprints != nil {
		if fp, d, ok := s.opts.Fingerprints.Nearest(t.Position); ok && d <= s.opts.FingerprintRadiusM && len(fp.RSSI) == len(s.receivers) {
			out := append([]float64(nil), fp.RSSI...)
			s.addNoise(out, s.opts.MeasurementNoiseDB)
			return out, nil
		}
	}

	if s.opts.Tracer != nil {
		m, err := s.opts.Tracer.SimulateBatch(s.receivers, []geom.Vec3{t.Position})
		if err == nil {
			return mat.Row(nil, 0, m), nil
		}
		monitoring.Debugf("simulated collector: tracer failed for %s, using path-loss model: %v", targetID, err)
	}

	return s.logDistance(t), nil
}

func (s *Simulated) logDistance(t Target) []float64 {
	p := t.Profile
	out := make([]float64, len(s.receivers))
	for i, rx := range s.receivers {
		d := math.Max(rx.Dist(t.Position), minModelDistanceM)
		out[i] = p.TxPowerDBm - pathloss.LogDistanceLossDB(d, p.FrequencyHz, p.PathLossExponent)
	}
	if !s.opts.DisableShadowFading {
		// Harsher propagation environments fade more.
		s.addNoise(out, 4.0+2.0*(p.PathLossExponent-2.0))
	}
	return out
}

func (s *Simulated) addNoise(v []float64, sigma float64) {
	if sigma <= 0 {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	n := distuv.Normal{Mu: 0, Sigma: sigma, Src: s.src}
	for i := range v {
		v[i] += n.Rand()
	}
}
