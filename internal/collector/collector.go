// Package collector acquires RSSI vectors for tracked emitters, one value
// per receiver, either from a simulation of the site or from receiver
// hardware speaking line-delimited JSON.
//
// Both implementations satisfy Collector, and every acquisition failure is
// reported as an error wrapping ErrNoSignal so the tracking loop can treat
// them uniformly.
package collector

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// ErrNoSignal is returned (wrapped) whenever no usable RSSI vector could be
// acquired for a target.
var ErrNoSignal = errors.New("no signal")

// Collector is the acquisition contract used by the tracking loop.
type Collector interface {
	// GetRSSI returns one reading per receiver, in receiver order.
	GetRSSI(ctx context.Context, targetID string) ([]float64, error)
	// ScanTargets lists the emitters currently visible.
	ScanTargets(ctx context.Context) ([]string, error)
}

// SignalType names an emitter technology.
type SignalType string

const (
	WiFi      SignalType = "WiFi"
	Bluetooth SignalType = "Bluetooth"
	Cellular  SignalType = "Cellular"
	RFID      SignalType = "RFID"
	ZigBee    SignalType = "ZigBee"
	LoRa      SignalType = "LoRa"
	UWB       SignalType = "UWB"
	Custom    SignalType = "Custom"
)

// Profile holds the radio parameters of an emitter.
type Profile struct {
	FrequencyHz      float64 `json:"frequency_hz"`
	TxPowerDBm       float64 `json:"tx_power_dbm"`
	PathLossExponent float64 `json:"path_loss_exponent"`
}

var profiles = map[SignalType]Profile{
	WiFi:      {FrequencyHz: 2.4e9, TxPowerDBm: 20, PathLossExponent: 2.0},
	Bluetooth: {FrequencyHz: 2.4e9, TxPowerDBm: 4, PathLossExponent: 2.0},
	Cellular:  {FrequencyHz: 1.8e9, TxPowerDBm: 23, PathLossExponent: 2.5},
	RFID:      {FrequencyHz: 915e6, TxPowerDBm: 30, PathLossExponent: 2.2},
	ZigBee:    {FrequencyHz: 2.4e9, TxPowerDBm: 0, PathLossExponent: 2.0},
	LoRa:      {FrequencyHz: 915e6, TxPowerDBm: 14, PathLossExponent: 2.5},
	UWB:       {FrequencyHz: 6.5e9, TxPowerDBm: -10, PathLossExponent: 1.8},
}

// ProfileFor returns the preset for t. Custom and unknown types get the
// WiFi parameters.
func ProfileFor(t SignalType) Profile {
	if p, ok := profiles[t]; ok {
		return p
	}
	return profiles[WiFi]
}

// ParseSignalType matches s case-insensitively against the known types.
func ParseSignalType(s string) (SignalType, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return WiFi, nil
	}
	for _, t := range []SignalType{WiFi, Bluetooth, Cellular, RFID, ZigBee, LoRa, UWB, Custom} {
		if strings.EqualFold(s, string(t)) {
			return t, nil
		}
	}
	return "", fmt.Errorf("unknown signal type %q", s)
}

// noSignal wraps cause so that errors.Is matches both ErrNoSignal and the
// cause.
func noSignal(targetID string, cause error) error {
	if cause == nil {
		return fmt.Errorf("%w: target %q", ErrNoSignal, targetID)
	}
	return fmt.Errorf("%w: target %q: %w", ErrNoSignal, targetID, cause)
}
