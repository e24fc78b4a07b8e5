package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log"
	"math/rand/v2"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/banshee-data/rf.twin/internal/api"
	"github.com/banshee-data/rf.twin/internal/collector"
	"github.com/banshee-data/rf.twin/internal/config"
	"github.com/banshee-data/rf.twin/internal/db"
	"github.com/banshee-data/rf.twin/internal/fingerprint"
	"github.com/banshee-data/rf.twin/internal/locate"
	"github.com/banshee-data/rf.twin/internal/monitoring"
	"github.com/banshee-data/rf.twin/internal/report"
	"github.com/banshee-data/rf.twin/internal/rf/geom"
	"github.com/banshee-data/rf.twin/internal/tracking"
)

var simSignalTypes = []collector.SignalType{
	collector.WiFi, collector.Bluetooth, collector.ZigBee, collector.UWB, collector.LoRa,
}

type trackFlags struct {
	configPath *string
	fps        fingerprintFlags
	listen     *string
	noStore    *bool
	simTargets *int
	noise      *float64
	seed       *uint64
	signalType *string
	targets    *string
	duration   *time.Duration
	export     *string
	plot       *string
}

func runTrack(args []string) error {
	fs := flag.NewFlagSet("track", flag.ContinueOnError)
	f := trackFlags{
		configPath: fs.String("config", "", "Site configuration file"),
		fps:        addFingerprintFlags(fs),
		listen:     fs.String("listen", "", "HTTP listen address (default from config; \"-\" disables)"),
		noStore:    fs.Bool("no-store", false, "Do not record fixes in SQLite"),
		simTargets: fs.Int("sim-targets", 3, "Simulated emitters wandering the room (simulated collector)"),
		noise:      fs.Float64("noise", collector.DefaultMeasurementNoiseDB, "Simulated measurement noise in dB"),
		seed:       fs.Uint64("seed", 1, "Random seed for the simulation"),
		signalType: fs.String("signal-type", "WiFi", "Signal type requested from hardware receivers"),
		targets:    fs.String("targets", "", "Comma separated target ids to track from the start"),
		duration:   fs.Duration("duration", 0, "Stop after this long (0 = until interrupted)"),
		export:     fs.String("export", "", "Write the final snapshot as JSON to this file"),
		plot:       fs.String("plot", "", "Plot the final trajectories to this image file"),
	}
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg, err := loadConfig(*f.configPath)
	if err != nil {
		return err
	}
	fdb, err := f.fps.load(cfg)
	if err != nil {
		return err
	}
	lc, err := cfg.LocateConfig()
	if err != nil {
		return err
	}
	engine, err := locate.NewEngine(fdb, lc)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	if *f.duration > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, *f.duration)
		defer cancel()
	}
	g, ctx := errgroup.WithContext(ctx)

	mux := http.NewServeMux()
	var col collector.Collector
	switch cfg.GetCollectorMode() {
	case config.CollectorHardware:
		hw, err := openHardware(cfg, *f.signalType, mux)
		if err != nil {
			return err
		}
		defer hw.Close()
		col = hw
	default:
		sim, err := newSimulation(cfg, fdb, f)
		if err != nil {
			return err
		}
		col = sim
		g.Go(func() error { return wander(ctx, sim, cfg, *f.seed, cfg.GetUpdateInterval()) })
	}

	metrics, err := monitoring.NewMetrics(nil)
	if err != nil {
		return err
	}
	mux.Handle("GET /metrics", metrics.Handler())
	opts := tracking.Options{Metrics: metrics}
	var store *db.DB
	if !*f.noStore {
		if store, err = db.NewDB(cfg.GetDatabasePath()); err != nil {
			return err
		}
		defer store.Close()
		opts.Sink = store
		if err := store.AttachAdminRoutes(mux); err != nil {
			return err
		}
	}

	tracker, err := tracking.New(col, engine, cfg.TrackingConfig(), opts)
	if err != nil {
		return err
	}
	for _, id := range strings.Split(*f.targets, ",") {
		if id = strings.TrimSpace(id); id != "" {
			tracker.AddTarget(id, "", "")
		}
	}
	log.Printf("tracking session %s with %s collector, %d fingerprints", tracker.Session(), cfg.GetCollectorMode(), fdb.Size())

	g.Go(func() error {
		if err := tracker.Run(ctx); err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
			return err
		}
		return nil
	})
	g.Go(func() error { return prune(ctx, tracker, cfg.GetDeviceTimeout()) })

	listen := *f.listen
	if listen == "" {
		listen = cfg.GetListenAddr()
	}
	if listen != "-" {
		srv := api.NewServer(api.Options{Tracker: tracker, Engine: engine, Fingerprints: fdb, Store: store})
		mux.Handle("/api/", srv.ServeMux())
		server := &http.Server{Addr: listen, Handler: api.LoggingMiddleware(metrics.Middleware(mux))}
		g.Go(func() error {
			log.Printf("listening on http://%s", listen)
			if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				return fmt.Errorf("http server: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-ctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := server.Shutdown(shutdownCtx); err != nil {
				log.Printf("failed to shut down HTTP server: %v", err)
			}
			return nil
		})
	}

	err = g.Wait()
	st := tracker.Stats()
	log.Printf("tracking stopped: %d targets, %d active, %d located, mean confidence %.2f",
		st.Total, st.Active, st.TrackedPositions, st.AvgConfidence)
	if err != nil {
		return err
	}
	return exportSnapshot(tracker.Snapshot(), fdb.APPositions(), *f.export, *f.plot)
}

func openHardware(cfg *config.SiteConfig, signalType string, mux *http.ServeMux) (*collector.Hardware, error) {
	st, err := collector.ParseSignalType(signalType)
	if err != nil {
		return nil, err
	}
	transports, err := cfg.Transports()
	if err != nil {
		return nil, err
	}
	// The debug console serves one receiver.
	for _, tr := range transports {
		if s, ok := tr.(*collector.SerialTransport); ok {
			s.Mux().AttachAdminRoutes(mux)
			break
		}
	}
	floor := cfg.GetNoiseFloorDBm()
	hw, err := collector.NewHardware(transports, collector.HardwareOptions{NoiseFloorDBm: &floor, SignalType: st})
	if err != nil {
		for _, tr := range transports {
			tr.Close()
		}
		return nil, err
	}
	return hw, nil
}

// newSimulation places the simulated emitters at random positions in the
// room. The tracer is optional; without room geometry the collector falls
// back to its path-loss model.
func newSimulation(cfg *config.SiteConfig, fdb *fingerprint.Database, f trackFlags) (*collector.Simulated, error) {
	opts := collector.SimulatedOptions{
		Fingerprints:       fdb,
		MeasurementNoiseDB: *f.noise,
		Seed:               *f.seed,
	}
	if tracer, err := cfg.Tracer(); err == nil {
		opts.Tracer = tracer
	} else {
		log.Printf("simulation without ray tracer: %v", err)
	}
	sim, err := collector.NewSimulated(fdb.APPositions(), opts)
	if err != nil {
		return nil, err
	}
	region, err := cfg.Region()
	if err != nil {
		return nil, err
	}
	rng := rand.New(rand.NewPCG(*f.seed, *f.seed^0xa5))
	for i := range *f.simTargets {
		id := fmt.Sprintf("02:00:5e:00:00:%02x", i+1)
		st := simSignalTypes[i%len(simSignalTypes)]
		if err := sim.AddTarget(collector.NewTarget(id, st, randomPoint(rng, region))); err != nil {
			return nil, err
		}
	}
	return sim, nil
}

func randomPoint(rng *rand.Rand, r fingerprint.Region) geom.Vec3 {
	uniform := func(lo, hi float64) float64 { return lo + rng.Float64()*(hi-lo) }
	var z float64
	if r.HeightM != nil {
		z = *r.HeightM
	} else {
		z = uniform(r.MinZ, r.MaxZ)
	}
	return geom.V(uniform(r.MinX, r.MaxX), uniform(r.MinY, r.MaxY), z)
}

// wander moves every simulated emitter by a small random step per interval,
// staying inside the sampled region.
func wander(ctx context.Context, sim *collector.Simulated, cfg *config.SiteConfig, seed uint64, every time.Duration) error {
	region, err := cfg.Region()
	if err != nil {
		return err
	}
	rng := rand.New(rand.NewPCG(seed, seed^0x5a))
	const stepM = 0.5
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
		ids, _ := sim.ScanTargets(ctx)
		for _, id := range ids {
			t, ok := sim.Target(id)
			if !ok {
				continue
			}
			p := t.Position
			p.X = clamp(p.X+(rng.Float64()*2-1)*stepM, region.MinX, region.MaxX)
			p.Y = clamp(p.Y+(rng.Float64()*2-1)*stepM, region.MinY, region.MaxY)
			if err := sim.MoveTarget(id, p); err != nil {
				log.Printf("simulation: %v", err)
			}
		}
	}
}

func clamp(v, lo, hi float64) float64 { return max(lo, min(hi, v)) }

func prune(ctx context.Context, tracker *tracking.Tracker, every time.Duration) error {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			tracker.PruneInactive()
		}
	}
}

func exportSnapshot(snap *tracking.Snapshot, aps []geom.Vec3, jsonPath, plotPath string) error {
	if jsonPath != "" {
		data, err := json.MarshalIndent(snap, "", "  ")
		if err != nil {
			return err
		}
		if err := os.WriteFile(jsonPath, data, 0o644); err != nil {
			return err
		}
		log.Printf("wrote %s", jsonPath)
	}
	if plotPath != "" {
		out, err := os.Create(plotPath)
		if err != nil {
			return err
		}
		defer out.Close()
		err = report.Trajectories(out, snap.Targets, aps, report.ImageOptions{Format: report.FormatFromPath(plotPath)})
		if errors.Is(err, report.ErrNoData) {
			log.Printf("no trajectories to plot")
			return nil
		}
		if err != nil {
			return err
		}
		log.Printf("wrote %s", plotPath)
	}
	return nil
}
