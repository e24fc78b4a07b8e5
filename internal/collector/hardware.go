package collector

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/banshee-data/rf.twin/internal/monitoring"
)

// DefaultNoiseFloorDBm is substituted for receivers that fail to report.
const DefaultNoiseFloorDBm = -100.0

// HardwareOptions configure a Hardware collector.
type HardwareOptions struct {
	// NoiseFloorDBm defaults to DefaultNoiseFloorDBm when nil.
	NoiseFloorDBm *float64
	// SignalType is sent with every get_rssi request.
	SignalType SignalType
}

// Hardware queries one transport per receiver. Receivers are queried in
// parallel; a receiver that fails contributes the noise floor.
type Hardware struct {
	transports []Transport
	opts       HardwareOptions
	floor      float64
}

func NewHardware(transports []Transport, opts HardwareOptions) (*Hardware, error) {
	if len(transports) == 0 {
		return nil, fmt.Errorf("hardware collector needs at least one receiver")
	}
	floor := DefaultNoiseFloorDBm
	if opts.NoiseFloorDBm != nil {
		floor = *opts.NoiseFloorDBm
	}
	if opts.SignalType == "" {
		opts.SignalType = WiFi
	}
	return &Hardware{transports: transports, opts: opts, floor: floor}, nil
}

// GetRSSI fails with ErrNoSignal when every receiver either failed or
// reported within 1 dB of the noise floor.
func (h *Hardware) GetRSSI(ctx context.Context, targetID string) ([]float64, error) {
	out := make([]float64, len(h.transports))
	errs := make([]error, len(h.transports))

	var g errgroup.Group
	for i, tr := range h.transports {
		g.Go(func() error {
			out[i], errs[i] = h.query(ctx, tr, targetID)
			if errs[i] != nil {
				monitoring.Debugf("receiver %d: get_rssi %s: %v", i, targetID, errs[i])
				out[i] = h.floor
			}
			return nil
		})
	}
	g.Wait()

	for _, v := range out {
		if v > h.floor+1 {
			return out, nil
		}
	}
	return nil, noSignal(targetID, errors.Join(errs...))
}

func (h *Hardware) query(ctx context.Context, tr Transport, targetID string) (float64, error) {
	resp, err := tr.Do(ctx, Request{Cmd: "get_rssi", ID: uuid.NewString(), TargetID: targetID, SignalType: h.opts.SignalType})
	if err != nil {
		return 0, err
	}
	if resp.Error != "" {
		return 0, fmt.Errorf("receiver error: %s", resp.Error)
	}
	if resp.RSSI == nil {
		return 0, fmt.Errorf("%w: missing rssi", errMalformedReply)
	}
	v := *resp.RSSI
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, fmt.Errorf("%w: non-finite rssi", errMalformedReply)
	}
	return math.Max(v, h.floor), nil
}

// ScanTargets merges the targets seen by every receiver. It fails only
// when no receiver answered.
func (h *Hardware) ScanTargets(ctx context.Context) ([]string, error) {
	lists := make([][]string, len(h.transports))
	errs := make([]error, len(h.transports))

	var g errgroup.Group
	for i, tr := range h.transports {
		g.Go(func() error {
			resp, err := tr.Do(ctx, Request{Cmd: "scan_targets", ID: uuid.NewString()})
			switch {
			case err != nil:
				errs[i] = err
			case resp.Error != "":
				errs[i] = fmt.Errorf("receiver error: %s", resp.Error)
			default:
				lists[i] = resp.Targets
			}
			return nil
		})
	}
	g.Wait()

	seen := make(map[string]struct{})
	answered := false
	for i, l := range lists {
		if errs[i] != nil {
			continue
		}
		answered = true
		for _, id := range l {
			seen[id] = struct{}{}
		}
	}
	if !answered {
		return nil, noSignal("*", errors.Join(errs...))
	}
	ids := make([]string, 0, len(seen))
	for id := range seen {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}

func (h *Hardware) Close() error {
	var errs []error
	for _, tr := range h.transports {
		errs = append(errs, tr.Close())
	}
	return errors.Join(errs...)
}
