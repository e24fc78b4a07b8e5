// Package fingerprint owns the radio map: the simulated RSSI vector of every
// sample point of a site, keyed by position.
//
// Responsibilities:
//   - sample-point lattices over a floor region (Region)
//   - building a Database from a batch simulator (Builder)
//   - gob+gzip persistence of a Database (Save, Load)
//
// Key types: AccessPoint, Fingerprint, Database, Region, Builder.
package fingerprint

import (
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"gonum.org/v1/gonum/mat"

	"github.com/banshee-data/rf.twin/internal/rf/geom"
)

var (
	// ErrVectorLength is returned when an RSSI vector does not have one
	// entry per access point.
	ErrVectorLength = errors.New("rssi vector length does not match access point count")
	// ErrInvalidFingerprint is returned for non-finite positions or readings.
	ErrInvalidFingerprint = errors.New("invalid fingerprint")
	// ErrNoAccessPoints is returned when a database is created without APs.
	ErrNoAccessPoints = errors.New("at least one access point is required")
)

// AccessPoint is a fixed transmitter. Its slice index is its column in every
// RSSI vector.
type AccessPoint struct {
	Name     string    `json:"name"`
	Position geom.Vec3 `json:"position"`
}

// Fingerprint is the RSSI vector observed at one sample point.
type Fingerprint struct {
	Position geom.Vec3 `json:"position"`
	RSSI     []float64 `json:"rssi"`
}

// Metadata describes how a database was produced.
type Metadata struct {
	BuildID     string    `json:"build_id"`
	CreatedAt   time.Time `json:"created_at"`
	TracerMode  string    `json:"tracer_mode"`
	SpacingM    float64   `json:"spacing_m"`
	FrequencyHz float64   `json:"frequency_hz"`
	TxPowerDBm  float64   `json:"tx_power_dbm"`
}

// Database maps unique positions to RSSI vectors. Positions compare by exact
// float equality; the Builder discretizes them first.
type Database struct {
	mu        sync.RWMutex
	aps       []AccessPoint
	index     map[geom.Vec3]int
	positions []geom.Vec3
	rows      [][]float64
	meta      Metadata
}

// NewDatabase creates an empty database for the given access points.
func NewDatabase(aps []AccessPoint) (*Database, error) {
	if len(aps) == 0 {
		return nil, ErrNoAccessPoints
	}
	for i, ap := range aps {
		if !ap.Position.IsFinite() {
			return nil, fmt.Errorf("%w: access point %d position", ErrInvalidFingerprint, i)
		}
	}
	return &Database{
		aps:   append([]AccessPoint(nil), aps...),
		index: make(map[geom.Vec3]int),
	}, nil
}

func (d *Database) AccessPoints() []AccessPoint {
	return append([]AccessPoint(nil), d.aps...)
}

// APPositions returns the access point positions in column order.
func (d *Database) APPositions() []geom.Vec3 {
	out := make([]geom.Vec3, len(d.aps))
	for i, ap := range d.aps {
		out[i] = ap.Position
	}
	return out
}

func (d *Database) APCount() int { return len(d.aps) }

func (d *Database) Size() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.positions)
}

func (d *Database) Metadata() Metadata {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.meta
}

func (d *Database) SetMetadata(m Metadata) {
	d.mu.Lock()
	d.meta = m
	d.mu.Unlock()
}

// Add stores rssi at pos, replacing any vector already stored there.
func (d *Database) Add(pos geom.Vec3, rssi []float64) error {
	if len(rssi) != len(d.aps) {
		return fmt.Errorf("%w: got %d, want %d", ErrVectorLength, len(rssi), len(d.aps))
	}
	if !pos.IsFinite() {
		return fmt.Errorf("%w: position %v", ErrInvalidFingerprint, pos)
	}
	for i, v := range rssi {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return fmt.Errorf("%w: rssi[%d] = %v at %v", ErrInvalidFingerprint, i, v, pos)
		}
	}
	row := append([]float64(nil), rssi...)

	d.mu.Lock()
	defer d.mu.Unlock()
	if i, ok := d.index[pos]; ok {
		d.rows[i] = row
		return nil
	}
	d.index[pos] = len(d.positions)
	d.positions = append(d.positions, pos)
	d.rows = append(d.rows, row)
	return nil
}

// Get returns a copy of the vector stored at exactly pos.
func (d *Database) Get(pos geom.Vec3) ([]float64, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	i, ok := d.index[pos]
	if !ok {
		return nil, false
	}
	return append([]float64(nil), d.rows[i]...), true
}

// Fingerprints returns every entry in insertion order.
func (d *Database) Fingerprints() []Fingerprint {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([]Fingerprint, len(d.positions))
	for i, p := range d.positions {
		out[i] = Fingerprint{Position: p, RSSI: append([]float64(nil), d.rows[i]...)}
	}
	return out
}

// QueryAll returns positions and an aligned N×M matrix: row i is the vector
// observed at positions[i]. Both are nil when the database is empty.
func (d *Database) QueryAll() ([]geom.Vec3, *mat.Dense) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	n, m := len(d.positions), len(d.aps)
	if n == 0 {
		return nil, nil
	}
	data := make([]float64, 0, n*m)
	for _, r := range d.rows {
		data = append(data, r...)
	}
	return append([]geom.Vec3(nil), d.positions...), mat.NewDense(n, m, data)
}

// Nearest returns the stored fingerprint closest to p and its distance.
func (d *Database) Nearest(p geom.Vec3) (Fingerprint, float64, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	best, bestDist := -1, math.Inf(1)
	for i, q := range d.positions {
		if dist := q.Dist(p); dist < bestDist {
			best, bestDist = i, dist
		}
	}
	if best < 0 {
		return Fingerprint{}, 0, false
	}
	return Fingerprint{
		Position: d.positions[best],
		RSSI:     append([]float64(nil), d.rows[best]...),
	}, bestDist, true
}
