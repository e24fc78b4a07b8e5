package fingerprint

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gonum.org/v1/gonum/mat"

	"github.com/banshee-data/rf.twin/internal/monitoring"
	"github.com/banshee-data/rf.twin/internal/rf/geom"
	"github.com/banshee-data/rf.twin/internal/rf/raytrace"
)

// Simulator evaluates every transmitter against every point, returning an
// N×M matrix (row per point). *raytrace.Engine satisfies it.
type Simulator interface {
	SimulateBatch(aps, points []geom.Vec3) (*mat.Dense, error)
}

// configured is implemented by simulators that can describe themselves.
type configured interface {
	Config() raytrace.Config
}

// Progress is called after each batch with the number of points done.
type Progress func(done, total int)

type BuildOptions struct {
	// BatchSize is the number of points per SimulateBatch call. Zero picks
	// AutoBatchSize.
	BatchSize int
	Progress  Progress
}

// AutoBatchSize picks a batch size from the lattice size: small sites run
// in one call, larger ones in fixed chunks so progress stays visible.
func AutoBatchSize(total int) int {
	switch {
	case total <= 100:
		return max(total, 1)
	case total <= 1000:
		return 50
	case total <= 10000:
		return 100
	default:
		return 200
	}
}

// Builder samples a region through a Simulator.
type Builder struct {
	sim Simulator
	aps []AccessPoint
	now func() time.Time
}

func NewBuilder(sim Simulator, aps []AccessPoint) (*Builder, error) {
	if sim == nil {
		return nil, fmt.Errorf("builder needs a simulator")
	}
	if len(aps) == 0 {
		return nil, ErrNoAccessPoints
	}
	return &Builder{sim: sim, aps: append([]AccessPoint(nil), aps...), now: time.Now}, nil
}

// Build simulates every lattice point of region and returns the populated
// database. It stops between batches when ctx is cancelled.
func (b *Builder) Build(ctx context.Context, region Region, opts BuildOptions) (*Database, error) {
	if err := region.Validate(); err != nil {
		return nil, err
	}
	db, err := NewDatabase(b.aps)
	if err != nil {
		return nil, err
	}

	points := region.Points()
	total := len(points)
	batch := opts.BatchSize
	if batch <= 0 {
		batch = AutoBatchSize(total)
	}

	apPos := db.APPositions()
	meta := Metadata{
		BuildID:   uuid.NewString(),
		CreatedAt: b.now().UTC(),
		SpacingM:  region.SpacingM,
	}
	if c, ok := b.sim.(configured); ok {
		cfg := c.Config()
		meta.TracerMode = cfg.Mode.String()
		meta.FrequencyHz = cfg.FrequencyHz
		meta.TxPowerDBm = cfg.TxPowerDBm
	}

	monitoring.Logf("fingerprint build %s: %d points x %d access points, batch %d", meta.BuildID, total, len(apPos), batch)
	start := b.now()
	for lo := 0; lo < total; lo += batch {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("build cancelled after %d of %d points: %w", lo, total, err)
		}
		hi := min(lo+batch, total)
		rssi, err := b.sim.SimulateBatch(apPos, points[lo:hi])
		if err != nil {
			return nil, fmt.Errorf("simulate points %d-%d: %w", lo, hi, err)
		}
		for i := lo; i < hi; i++ {
			if err := db.Add(points[i], mat.Row(nil, i-lo, rssi)); err != nil {
				return nil, err
			}
		}
		if opts.Progress != nil {
			opts.Progress(hi, total)
		}
		monitoring.Debugf("fingerprint build %s: %d/%d (%.1f%%)", meta.BuildID, hi, total, 100*float64(hi)/float64(total))
	}
	db.SetMetadata(meta)
	monitoring.Logf("fingerprint build %s: %d fingerprints in %v", meta.BuildID, db.Size(), b.now().Sub(start).Round(time.Millisecond))
	return db, nil
}
