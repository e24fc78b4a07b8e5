package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/banshee-data/rf.twin/internal/collector"
	"github.com/banshee-data/rf.twin/internal/fingerprint"
	"github.com/banshee-data/rf.twin/internal/locate"
	"github.com/banshee-data/rf.twin/internal/rf/geom"
	"github.com/banshee-data/rf.twin/internal/rf/material"
	"github.com/banshee-data/rf.twin/internal/rf/pathloss"
	"github.com/banshee-data/rf.twin/internal/rf/raytrace"
	"github.com/banshee-data/rf.twin/internal/serialmux"
	"github.com/banshee-data/rf.twin/internal/tracking"
)

// DefaultConfigPath is the path to the canonical site defaults file.
const DefaultConfigPath = "config/site.defaults.json"

// ErrInvalidConfig wraps every validation failure.
var ErrInvalidConfig = errors.New("invalid site configuration")

const (
	CollectorSimulated = "simulated"
	CollectorHardware  = "hardware"
)

// Room is the axis-aligned outer shell of the site.
type Room struct {
	Min      geom.Vec3 `json:"min"`
	Max      geom.Vec3 `json:"max"`
	Material string    `json:"material,omitempty"`
}

// Wall is an interior vertical slab along a floor segment.
type Wall struct {
	X0       float64 `json:"x0"`
	Y0       float64 `json:"y0"`
	X1       float64 `json:"x1"`
	Y1       float64 `json:"y1"`
	ZMin     float64 `json:"z_min"`
	ZMax     float64 `json:"z_max"`
	Material string  `json:"material,omitempty"`
}

// SiteConfig is the flat site schema. Omitted fields fall back to the
// defaults returned by the Get* accessors, so partial files are safe.
type SiteConfig struct {
	// Ray tracer
	TxPowerDBm        *float64 `json:"tx_power_dbm,omitempty"`
	TxFrequencyHz     *float64 `json:"tx_frequency_hz,omitempty"`
	MaxReflections    *int     `json:"max_reflections,omitempty"`
	HighPrecisionMode *bool    `json:"high_precision_mode,omitempty"`
	MultipathEnabled  *bool    `json:"multipath_enabled,omitempty"`
	NumRays           *int     `json:"num_rays,omitempty"`
	RxToleranceM      *float64 `json:"rx_tolerance_m,omitempty"`
	PowerThresholdDBm *float64 `json:"power_threshold_dbm,omitempty"`
	NoiseFloorDBm     *float64 `json:"noise_floor_dbm,omitempty"`
	ObstructionLossDB *float64 `json:"obstruction_loss_db,omitempty"`

	// Materials
	DefaultMaterial *string             `json:"default_material,omitempty"`
	CustomMaterials []material.Material `json:"custom_materials,omitempty"`
	// MaterialMapping overrides the label of individual surface indices.
	MaterialMapping map[int]string `json:"material_mapping,omitempty"`

	// Localization
	Algorithm       *string  `json:"algorithm,omitempty"`
	KNeighbors      *int     `json:"k_neighbors,omitempty"` // absent = adaptive
	DistanceMetric  *string  `json:"distance_metric,omitempty"`
	SigmaDB         *float64 `json:"sigma_db,omitempty"` // 0 = derived per AP
	PartialMatching *bool    `json:"partial_matching,omitempty"`

	// Site geometry
	AccessPoints []fingerprint.AccessPoint `json:"access_points,omitempty"`
	Room         *Room                     `json:"room,omitempty"`
	Walls        []Wall                    `json:"walls,omitempty"`

	// Fingerprint lattice
	GridSpacingM  *float64 `json:"grid_spacing_m,omitempty"`
	SampleHeightM *float64 `json:"sample_height_m,omitempty"`
	Grid3D        *bool    `json:"grid_3d,omitempty"`
	ZMinM         *float64 `json:"z_min_m,omitempty"`
	ZMaxM         *float64 `json:"z_max_m,omitempty"`
	ZSpacingM     *float64 `json:"z_spacing_m,omitempty"`

	// Collection and tracking
	CollectorMode     *string                `json:"collector_mode,omitempty"`
	ReceiverAddresses []string               `json:"receiver_addresses,omitempty"`
	SerialPort        *serialmux.PortOptions `json:"serial_port,omitempty"`
	UpdateInterval    *string                `json:"update_interval,omitempty"` // duration string like "1s"
	FetchTimeout      *string                `json:"fetch_timeout,omitempty"`
	DeviceTimeout     *string                `json:"device_timeout,omitempty"`
	AutoDiscover      *bool                  `json:"auto_discover,omitempty"`
	TrajectoryLimit   *int                   `json:"trajectory_limit,omitempty"`

	// Storage and serving
	DatabasePath *string `json:"database_path,omitempty"`
	ListenAddr   *string `json:"listen_addr,omitempty"`
}

// LoadSiteConfig loads a SiteConfig from a JSON file. The file must have a
// .json extension and be under 1 MiB.
func LoadSiteConfig(path string) (*SiteConfig, error) {
	cleanPath := filepath.Clean(path)
	if ext := filepath.Ext(cleanPath); ext != ".json" {
		return nil, fmt.Errorf("config file must have .json extension, got %q", ext)
	}

	fileInfo, err := os.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	const maxFileSize = 1 * 1024 * 1024
	if fileInfo.Size() > maxFileSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", fileInfo.Size(), maxFileSize)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := &SiteConfig{}
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config JSON: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// MustLoadDefaultConfig loads DefaultConfigPath from the current directory
// or one of its parents. Panics if the file cannot be loaded; intended for
// tests and binaries started from the repository.
func MustLoadDefaultConfig() *SiteConfig {
	candidates := []string{
		DefaultConfigPath,
		"../" + DefaultConfigPath,
		"../../" + DefaultConfigPath,    // from internal/config/
		"../../../" + DefaultConfigPath, // from cmd/rftwin/ or internal/rf/*
	}
	for _, path := range candidates {
		if cfg, err := LoadSiteConfig(path); err == nil {
			return cfg
		}
	}
	panic("cannot find " + DefaultConfigPath + " - run from repository root")
}

func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidConfig, fmt.Sprintf(format, args...))
}

// Validate checks every field that is set.
func (c *SiteConfig) Validate() error {
	tc, err := c.TracerConfig()
	if err != nil {
		return err
	}
	if err := tc.Validate(); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	if _, err := locate.ParseAlgorithm(c.GetAlgorithm()); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	if _, err := locate.ParseMetric(c.GetDistanceMetric()); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	if c.KNeighbors != nil && *c.KNeighbors < 1 {
		return invalid("k_neighbors must be at least 1, got %d", *c.KNeighbors)
	}
	if c.GetSigmaDB() < 0 {
		return invalid("sigma_db must be non-negative, got %v", c.GetSigmaDB())
	}
	if c.GetGridSpacingM() <= 0 {
		return invalid("grid_spacing_m must be positive, got %v", c.GetGridSpacingM())
	}
	for i, ap := range c.AccessPoints {
		if strings.TrimSpace(ap.Name) == "" {
			return invalid("access_points[%d] has no name", i)
		}
	}
	if r := c.Room; r != nil {
		if r.Max.X <= r.Min.X || r.Max.Y <= r.Min.Y || r.Max.Z <= r.Min.Z {
			return invalid("room max must exceed min on every axis")
		}
	}
	for i, w := range c.Walls {
		if w.ZMax <= w.ZMin || (w.X0 == w.X1 && w.Y0 == w.Y1) {
			return invalid("walls[%d] is degenerate", i)
		}
	}
	switch c.GetCollectorMode() {
	case CollectorSimulated:
	case CollectorHardware:
		if len(c.ReceiverAddresses) == 0 {
			return invalid("hardware collector needs receiver_addresses")
		}
	default:
		return invalid("collector_mode must be %q or %q, got %q", CollectorSimulated, CollectorHardware, c.GetCollectorMode())
	}
	if c.SerialPort != nil {
		if _, err := c.SerialPort.Normalize(); err != nil {
			return fmt.Errorf("%w: serial_port: %w", ErrInvalidConfig, err)
		}
	}
	for name, field := range map[string]*string{
		"update_interval": c.UpdateInterval,
		"fetch_timeout":   c.FetchTimeout,
		"device_timeout":  c.DeviceTimeout,
	} {
		if field != nil && *field != "" {
			if _, err := time.ParseDuration(*field); err != nil {
				return invalid("invalid %s '%s': %v", name, *field, err)
			}
		}
	}
	if err := c.TrackingConfig().Validate(); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	return nil
}

func getFloat(p *float64, def float64) float64 {
	if p == nil {
		return def
	}
	return *p
}

func getInt(p *int, def int) int {
	if p == nil {
		return def
	}
	return *p
}

func getBool(p *bool, def bool) bool {
	if p == nil {
		return def
	}
	return *p
}

func getString(p *string, def string) string {
	if p == nil || *p == "" {
		return def
	}
	return *p
}

func getDuration(p *string, def time.Duration) time.Duration {
	if p == nil || *p == "" {
		return def
	}
	d, err := time.ParseDuration(*p)
	if err != nil {
		return def
	}
	return d
}

func (c *SiteConfig) GetTxPowerDBm() float64    { return getFloat(c.TxPowerDBm, 20) }
func (c *SiteConfig) GetTxFrequencyHz() float64 { return getFloat(c.TxFrequencyHz, 2.4e9) }
func (c *SiteConfig) GetMaxReflections() int    { return getInt(c.MaxReflections, 3) }
func (c *SiteConfig) GetHighPrecisionMode() bool {
	return getBool(c.HighPrecisionMode, false)
}
func (c *SiteConfig) GetMultipathEnabled() bool      { return getBool(c.MultipathEnabled, false) }
func (c *SiteConfig) GetNumRays() int                { return getInt(c.NumRays, 360) }
func (c *SiteConfig) GetRxToleranceM() float64       { return getFloat(c.RxToleranceM, 0.3) }
func (c *SiteConfig) GetPowerThresholdDBm() float64  { return getFloat(c.PowerThresholdDBm, -100) }
func (c *SiteConfig) GetNoiseFloorDBm() float64      { return getFloat(c.NoiseFloorDBm, -100) }
func (c *SiteConfig) GetObstructionLossDB() float64  { return getFloat(c.ObstructionLossDB, pathloss.SimpleBounceLossDB) }
func (c *SiteConfig) GetDefaultMaterial() string     { return getString(c.DefaultMaterial, material.DefaultMaterial) }
func (c *SiteConfig) GetAlgorithm() string           { return getString(c.Algorithm, string(locate.WKNN)) }
func (c *SiteConfig) GetKNeighbors() int             { return getInt(c.KNeighbors, 0) }
func (c *SiteConfig) GetDistanceMetric() string      { return getString(c.DistanceMetric, string(locate.Euclidean)) }
func (c *SiteConfig) GetSigmaDB() float64            { return getFloat(c.SigmaDB, 0) }
func (c *SiteConfig) GetPartialMatching() bool       { return getBool(c.PartialMatching, false) }
func (c *SiteConfig) GetGridSpacingM() float64       { return getFloat(c.GridSpacingM, 0.5) }
func (c *SiteConfig) GetSampleHeightM() float64      { return getFloat(c.SampleHeightM, 1.5) }
func (c *SiteConfig) GetGrid3D() bool                { return getBool(c.Grid3D, false) }
func (c *SiteConfig) GetZMinM() float64              { return getFloat(c.ZMinM, 0.5) }
func (c *SiteConfig) GetZMaxM() float64              { return getFloat(c.ZMaxM, 2.5) }
func (c *SiteConfig) GetZSpacingM() float64          { return getFloat(c.ZSpacingM, 0) }
func (c *SiteConfig) GetCollectorMode() string       { return getString(c.CollectorMode, CollectorSimulated) }
func (c *SiteConfig) GetUpdateInterval() time.Duration {
	return getDuration(c.UpdateInterval, time.Second)
}
func (c *SiteConfig) GetFetchTimeout() time.Duration {
	return getDuration(c.FetchTimeout, 2*time.Second)
}
func (c *SiteConfig) GetDeviceTimeout() time.Duration {
	return getDuration(c.DeviceTimeout, 30*time.Second)
}
func (c *SiteConfig) GetAutoDiscover() bool   { return getBool(c.AutoDiscover, true) }
func (c *SiteConfig) GetTrajectoryLimit() int { return getInt(c.TrajectoryLimit, 100) }
func (c *SiteConfig) GetDatabasePath() string { return getString(c.DatabasePath, "rftwin.db") }
func (c *SiteConfig) GetListenAddr() string   { return getString(c.ListenAddr, "localhost:8090") }

// GetSerialPort returns the serial line settings with defaults applied.
func (c *SiteConfig) GetSerialPort() serialmux.PortOptions {
	var opts serialmux.PortOptions
	if c.SerialPort != nil {
		opts = *c.SerialPort
	}
	if n, err := opts.Normalize(); err == nil {
		return n
	}
	return opts
}

// TracerConfig builds the ray tracer configuration.
func (c *SiteConfig) TracerConfig() (raytrace.Config, error) {
	mode, err := raytrace.ModeFromFlags(c.GetHighPrecisionMode(), c.GetMultipathEnabled())
	if err != nil {
		return raytrace.Config{}, fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	tc := raytrace.DefaultConfig()
	tc.TxPowerDBm = c.GetTxPowerDBm()
	tc.FrequencyHz = c.GetTxFrequencyHz()
	tc.MaxReflections = c.GetMaxReflections()
	tc.Mode = mode
	tc.NumRays = c.GetNumRays()
	tc.RxToleranceM = c.GetRxToleranceM()
	tc.PowerThresholdDBm = c.GetPowerThresholdDBm()
	tc.NoiseFloorDBm = c.GetNoiseFloorDBm()
	tc.ObstructionLossDB = c.GetObstructionLossDB()
	return tc, nil
}

// LocateConfig builds the localization engine configuration.
func (c *SiteConfig) LocateConfig() (locate.Config, error) {
	alg, err := locate.ParseAlgorithm(c.GetAlgorithm())
	if err != nil {
		return locate.Config{}, err
	}
	metric, err := locate.ParseMetric(c.GetDistanceMetric())
	if err != nil {
		return locate.Config{}, err
	}
	return locate.Config{
		Algorithm:       alg,
		K:               c.GetKNeighbors(),
		Metric:          metric,
		SigmaDB:         c.GetSigmaDB(),
		PartialMatching: c.GetPartialMatching(),
	}, nil
}

// Region is the fingerprint lattice over the room floor.
func (c *SiteConfig) Region() (fingerprint.Region, error) {
	if c.Room == nil {
		return fingerprint.Region{}, invalid("room is required to sample a region")
	}
	r := fingerprint.Region{
		MinX:     c.Room.Min.X,
		MaxX:     c.Room.Max.X,
		MinY:     c.Room.Min.Y,
		MaxY:     c.Room.Max.Y,
		SpacingM: c.GetGridSpacingM(),
	}
	if c.GetGrid3D() {
		r.MinZ, r.MaxZ, r.SpacingZM = c.GetZMinM(), c.GetZMaxM(), c.GetZSpacingM()
	} else {
		h := c.GetSampleHeightM()
		r.HeightM = &h
	}
	return r, r.Validate()
}

// AccessPointPositions returns the AP positions in column order.
func (c *SiteConfig) AccessPointPositions() []geom.Vec3 {
	out := make([]geom.Vec3, len(c.AccessPoints))
	for i, ap := range c.AccessPoints {
		out[i] = ap.Position
	}
	return out
}

// Geometry builds the site mesh from the room shell and walls, and the
// material table resolving its surfaces. Surfaces take the material of
// their room or wall, then any material_mapping override.
func (c *SiteConfig) Geometry() (*geom.Mesh, *material.Table, error) {
	if c.Room == nil && len(c.Walls) == 0 {
		return nil, nil, invalid("room or walls are required to build geometry")
	}
	b := geom.NewRoomBuilder()
	if c.Room != nil {
		b.Box(c.Room.Min, c.Room.Max, c.Room.Material)
	}
	for _, w := range c.Walls {
		b.Wall(w.X0, w.Y0, w.X1, w.Y1, w.ZMin, w.ZMax, w.Material)
	}
	mesh, mapping, err := b.Build()
	if err != nil {
		return nil, nil, err
	}
	for idx, name := range c.MaterialMapping {
		mapping[idx] = name
	}
	table, err := material.NewTable(c.CustomMaterials, mapping, c.GetDefaultMaterial())
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	return mesh, table, nil
}

// Tracer builds the site geometry and a ray tracer over it.
func (c *SiteConfig) Tracer() (*raytrace.Engine, error) {
	tc, err := c.TracerConfig()
	if err != nil {
		return nil, err
	}
	mesh, table, err := c.Geometry()
	if err != nil {
		return nil, err
	}
	return raytrace.New(tc, mesh, table)
}

// TrackingConfig builds the live loop configuration.
func (c *SiteConfig) TrackingConfig() tracking.Config {
	tc := tracking.DefaultConfig()
	tc.Interval = c.GetUpdateInterval()
	tc.FetchTimeout = c.GetFetchTimeout()
	tc.DeviceTimeout = c.GetDeviceTimeout()
	tc.AutoDiscover = c.GetAutoDiscover()
	tc.TrajectoryLimit = c.GetTrajectoryLimit()
	return tc
}

// Transports opens one transport per configured receiver address.
func (c *SiteConfig) Transports() ([]collector.Transport, error) {
	opts := c.GetSerialPort()
	var out []collector.Transport
	for _, addr := range c.ReceiverAddresses {
		tr, err := collector.OpenTransport(addr, opts)
		if err != nil {
			for _, t := range out {
				t.Close()
			}
			return nil, fmt.Errorf("receiver %s: %w", addr, err)
		}
		out = append(out, tr)
	}
	return out, nil
}
