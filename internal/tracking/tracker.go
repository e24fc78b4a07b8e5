// Package tracking runs the live loop that polls a collector, localizes
// every known emitter and publishes the result.
//
// Responsibilities:
//   - discover emitters through Collector.ScanTargets (optional)
//   - fetch RSSI per emitter under a hard timeout, so a stalled receiver
//     only costs its own slot in the cycle
//   - localize, keep a bounded trajectory, and publish an immutable
//     Snapshot that readers load without locking
//
// Key types: Tracker, Snapshot, TrackedTarget.
package tracking

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/banshee-data/rf.twin/internal/collector"
	"github.com/banshee-data/rf.twin/internal/locate"
	"github.com/banshee-data/rf.twin/internal/monitoring"
	"github.com/banshee-data/rf.twin/internal/timeutil"
)

var (
	ErrInvalidConfig  = errors.New("invalid tracking configuration")
	ErrAlreadyRunning = errors.New("tracker already running")
)

// Config holds the loop timings.
type Config struct {
	Interval        time.Duration
	FetchTimeout    time.Duration
	DeviceTimeout   time.Duration
	AutoDiscover    bool
	TrajectoryLimit int
	// Parallelism bounds concurrent fetches within one cycle.
	Parallelism int
}

func DefaultConfig() Config {
	return Config{
		Interval:        time.Second,
		FetchTimeout:    2 * time.Second,
		DeviceTimeout:   30 * time.Second,
		AutoDiscover:    true,
		TrajectoryLimit: 100,
		Parallelism:     4,
	}
}

func (c Config) Validate() error {
	switch {
	case c.Interval <= 0:
		return fmt.Errorf("%w: update interval must be positive, got %v", ErrInvalidConfig, c.Interval)
	case c.FetchTimeout <= 0:
		return fmt.Errorf("%w: fetch timeout must be positive, got %v", ErrInvalidConfig, c.FetchTimeout)
	case c.DeviceTimeout <= 0:
		return fmt.Errorf("%w: device timeout must be positive, got %v", ErrInvalidConfig, c.DeviceTimeout)
	case c.TrajectoryLimit <= 0:
		return fmt.Errorf("%w: trajectory limit must be positive, got %d", ErrInvalidConfig, c.TrajectoryLimit)
	}
	return nil
}

// Localizer is satisfied by *locate.Engine.
type Localizer interface {
	Localize(measured []float64) (locate.Result, error)
}

// Sink receives every successful fix, e.g. for history storage.
type Sink interface {
	RecordFix(ctx context.Context, session string, t TrackedTarget) error
}

// Options are optional collaborators.
type Options struct {
	Clock   timeutil.Clock
	Sink    Sink
	Metrics *monitoring.Metrics
}

// CycleReport describes one pass of the loop.
type CycleReport struct {
	Discovered int
	Updated    int
	Skipped    int
}

// Tracker owns the target table. All methods are safe for concurrent use;
// Run may only be active once at a time.
type Tracker struct {
	col     collector.Collector
	loc     Localizer
	cfg     Config
	clock   timeutil.Clock
	sink    Sink
	metrics *monitoring.Metrics
	session string

	mu      sync.Mutex
	targets map[string]*TrackedTarget
	cycle   uint64

	snap    atomic.Pointer[Snapshot]
	running atomic.Bool
}

func New(col collector.Collector, loc Localizer, cfg Config, opts Options) (*Tracker, error) {
	if col == nil || loc == nil {
		return nil, fmt.Errorf("%w: collector and localizer are required", ErrInvalidConfig)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.Parallelism <= 0 {
		cfg.Parallelism = 1
	}
	if opts.Clock == nil {
		opts.Clock = timeutil.RealClock{}
	}
	t := &Tracker{
		col:     col,
		loc:     loc,
		cfg:     cfg,
		clock:   opts.Clock,
		sink:    opts.Sink,
		metrics: opts.Metrics,
		session: "trk_" + uuid.NewString(),
		targets: make(map[string]*TrackedTarget),
	}
	t.mu.Lock()
	t.publishLocked()
	t.mu.Unlock()
	return t, nil
}

// Session identifies this tracker instance in stored history.
func (t *Tracker) Session() string { return t.session }

// Snapshot returns the latest published state.
func (t *Tracker) Snapshot() *Snapshot { return t.snap.Load() }

// Stats summarizes the latest snapshot at the current clock time.
func (t *Tracker) Stats() Stats { return t.Snapshot().Stats(t.clock.Now()) }

// Active returns the targets of the latest snapshot that are still active.
func (t *Tracker) Active() []TrackedTarget { return t.Snapshot().Active(t.clock.Now()) }

// AddTarget starts tracking id. Existing targets are left unchanged.
func (t *Tracker) AddTarget(id, name string, st collector.SignalType) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.addLocked(id, name, st) {
		t.publishLocked()
	}
}

func (t *Tracker) addLocked(id, name string, st collector.SignalType) bool {
	if _, ok := t.targets[id]; ok {
		return false
	}
	if name == "" {
		name = defaultName(id)
	}
	if st == "" {
		st = collector.WiFi
	}
	now := t.clock.Now()
	t.targets[id] = &TrackedTarget{ID: id, Name: name, SignalType: st, FirstSeen: now, LastSeen: now}
	return true
}

func defaultName(id string) string {
	if len(id) > 5 {
		id = id[len(id)-5:]
	}
	return "Device_" + id
}

// RemoveTarget stops tracking id.
func (t *Tracker) RemoveTarget(id string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.targets[id]; !ok {
		return false
	}
	delete(t.targets, id)
	t.publishLocked()
	return true
}

// PruneInactive drops targets not seen within the device timeout and
// returns their ids.
func (t *Tracker) PruneInactive() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	now := t.clock.Now()
	var gone []string
	for id, tg := range t.targets {
		if !tg.Active(now, t.cfg.DeviceTimeout) {
			gone = append(gone, id)
			delete(t.targets, id)
		}
	}
	if len(gone) > 0 {
		sort.Strings(gone)
		t.publishLocked()
		monitoring.Logf("tracking: pruned %d inactive targets", len(gone))
	}
	return gone
}

func (t *Tracker) publishLocked() {
	s := &Snapshot{
		Session: t.session,
		Cycle:   t.cycle,
		Taken:   t.clock.Now(),
		Targets: make([]TrackedTarget, 0, len(t.targets)),
		timeout: t.cfg.DeviceTimeout,
	}
	for _, tg := range t.targets {
		s.Targets = append(s.Targets, tg.clone())
	}
	sort.Slice(s.Targets, func(i, j int) bool { return s.Targets[i].ID < s.Targets[j].ID })
	t.snap.Store(s)
}

// Run executes a cycle immediately and then once per interval until ctx is
// done. Per-cycle failures are logged, never returned.
func (t *Tracker) Run(ctx context.Context) error {
	if !t.running.CompareAndSwap(false, true) {
		return ErrAlreadyRunning
	}
	defer t.running.Store(false)

	ticker := t.clock.NewTicker(t.cfg.Interval)
	defer ticker.Stop()

	monitoring.Logf("tracking: session %s started, interval %v", t.session, t.cfg.Interval)
	for {
		t.RunOnce(ctx)
		select {
		case <-ctx.Done():
			monitoring.Logf("tracking: session %s stopped", t.session)
			return ctx.Err()
		case <-ticker.C():
		}
	}
}

type fix struct {
	id   string
	rssi []float64
	res  locate.Result
	err  error
}

// RunOnce performs discovery (if enabled), then fetches and localizes every
// known target.
func (t *Tracker) RunOnce(ctx context.Context) CycleReport {
	start := t.clock.Now()
	var report CycleReport
	if t.cfg.AutoDiscover {
		report.Discovered = t.discover(ctx)
	}

	t.mu.Lock()
	ids := make([]string, 0, len(t.targets))
	for id := range t.targets {
		ids = append(ids, id)
	}
	t.mu.Unlock()
	sort.Strings(ids)

	fixes := make([]fix, len(ids))
	var g errgroup.Group
	g.SetLimit(t.cfg.Parallelism)
	for i, id := range ids {
		g.Go(func() error {
			fixes[i] = t.locateOne(ctx, id)
			return nil
		})
	}
	g.Wait()

	now := t.clock.Now()
	var recorded []TrackedTarget
	t.mu.Lock()
	for _, f := range fixes {
		if f.err != nil {
			report.Skipped++
			if errors.Is(f.err, collector.ErrNoSignal) {
				monitoring.Debugf("tracking: skip %s: %v", f.id, f.err)
			} else {
				monitoring.Logf("tracking: skip %s: %v", f.id, f.err)
			}
			continue
		}
		tg, ok := t.targets[f.id]
		if !ok {
			// Removed while the fetch was in flight.
			continue
		}
		tg.update(f.res, f.rssi, now, t.cfg.TrajectoryLimit)
		report.Updated++
		if t.sink != nil {
			recorded = append(recorded, tg.clone())
		}
	}
	t.cycle++
	t.publishLocked()
	total := len(t.targets)
	t.mu.Unlock()

	for _, tg := range recorded {
		if err := t.sink.RecordFix(ctx, t.session, tg); err != nil {
			monitoring.Logf("tracking: record fix for %s: %v", tg.ID, err)
		}
	}
	t.metrics.ObserveCycle(t.clock.Since(start), report.Discovered, report.Updated, report.Skipped, total, len(t.Active()))
	return report
}

func (t *Tracker) discover(ctx context.Context) int {
	ids, err := withTimeout(ctx, t.cfg.FetchTimeout, t.col.ScanTargets)
	if err != nil {
		monitoring.Logf("tracking: scan failed: %v", err)
		return 0
	}
	n := 0
	t.mu.Lock()
	for _, id := range ids {
		if id != "" && t.addLocked(id, "", "") {
			n++
		}
	}
	t.mu.Unlock()
	if n > 0 {
		monitoring.Logf("tracking: discovered %d new targets", n)
	}
	return n
}

func (t *Tracker) locateOne(ctx context.Context, id string) fix {
	rssi, err := withTimeout(ctx, t.cfg.FetchTimeout, func(ctx context.Context) ([]float64, error) {
		return t.col.GetRSSI(ctx, id)
	})
	if err != nil {
		return fix{id: id, err: err}
	}
	res, err := t.loc.Localize(rssi)
	if err != nil {
		return fix{id: id, err: fmt.Errorf("localize: %w", err)}
	}
	return fix{id: id, rssi: rssi, res: res}
}

// withTimeout runs f in its own goroutine and abandons it when the timeout
// expires, so a collector that ignores its context cannot stall the loop.
func withTimeout[T any](ctx context.Context, d time.Duration, f func(context.Context) (T, error)) (T, error) {
	ctx, cancel := context.WithTimeout(ctx, d)
	defer cancel()

	type result struct {
		v   T
		err error
	}
	ch := make(chan result, 1)
	go func() {
		v, err := f(ctx)
		ch <- result{v, err}
	}()
	select {
	case r := <-ch:
		return r.v, r.err
	case <-ctx.Done():
		var zero T
		return zero, fmt.Errorf("%w: %w", collector.ErrNoSignal, ctx.Err())
	}
}
