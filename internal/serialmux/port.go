package serialmux

import "io"

// SerialPorter is the subset of a serial port the mux needs. Tests supply
// TestableSerialPort; production uses go.bug.st/serial.
type SerialPorter interface {
	io.ReadWriter
	io.Closer
}
