package serialmux

import (
	"fmt"

	"go.bug.st/serial"
)

// Open opens a receiver at path and wraps it in a SerialMux. The caller
// starts Monitor.
func Open(path string, opts PortOptions) (*SerialMux[serial.Port], error) {
	mode, err := opts.SerialMode()
	if err != nil {
		return nil, err
	}
	port, err := serial.Open(path, mode)
	if err != nil {
		return nil, fmt.Errorf("open serial receiver %s: %w", path, err)
	}
	return NewSerialMux[serial.Port](port), nil
}
