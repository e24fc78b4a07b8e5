package serialmux

import (
	"errors"
	"fmt"
	"strings"

	"go.bug.st/serial"
)

// DefaultBaudRate suits the USB receiver dongles that speak line JSON.
const DefaultBaudRate = 115200

var ErrInvalidOptions = errors.New("invalid serial port options")

// PortOptions are the serial line settings from the site configuration.
// Zero values select 115200 8N1.
type PortOptions struct {
	BaudRate int    `json:"baud_rate"`
	DataBits int    `json:"data_bits"`
	StopBits int    `json:"stop_bits"`
	Parity   string `json:"parity"`
}

var parities = map[string]serial.Parity{
	"N": serial.NoParity, "NONE": serial.NoParity,
	"E": serial.EvenParity, "EVEN": serial.EvenParity,
	"O": serial.OddParity, "ODD": serial.OddParity,
}

var parityLetters = map[serial.Parity]string{
	serial.NoParity:   "N",
	serial.EvenParity: "E",
	serial.OddParity:  "O",
}

// Normalize fills defaults and canonicalizes parity to N, E or O.
func (o PortOptions) Normalize() (PortOptions, error) {
	if o.BaudRate <= 0 {
		o.BaudRate = DefaultBaudRate
	}
	if o.DataBits == 0 {
		o.DataBits = 8
	}
	if o.StopBits == 0 {
		o.StopBits = 1
	}
	if o.DataBits < 5 || o.DataBits > 8 {
		return o, fmt.Errorf("%w: data bits %d outside 5-8", ErrInvalidOptions, o.DataBits)
	}
	if o.StopBits != 1 && o.StopBits != 2 {
		return o, fmt.Errorf("%w: stop bits must be 1 or 2, got %d", ErrInvalidOptions, o.StopBits)
	}
	p := strings.ToUpper(strings.TrimSpace(o.Parity))
	if p == "" {
		p = "N"
	}
	parity, ok := parities[p]
	if !ok {
		return o, fmt.Errorf("%w: parity %q (want N, E or O)", ErrInvalidOptions, o.Parity)
	}
	o.Parity = parityLetters[parity]
	return o, nil
}

// String formats normalized options as e.g. "115200 8N1".
func (o PortOptions) String() string {
	return fmt.Sprintf("%d %d%s%d", o.BaudRate, o.DataBits, o.Parity, o.StopBits)
}

// SerialMode converts the options for go.bug.st/serial.
func (o PortOptions) SerialMode() (*serial.Mode, error) {
	n, err := o.Normalize()
	if err != nil {
		return nil, err
	}
	stop := serial.OneStopBit
	if n.StopBits == 2 {
		stop = serial.TwoStopBits
	}
	return &serial.Mode{
		BaudRate: n.BaudRate,
		DataBits: n.DataBits,
		Parity:   parities[n.Parity],
		StopBits: stop,
	}, nil
}
