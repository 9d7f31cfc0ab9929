package serialmux

import (
	"fmt"
	"strings"

	"go.bug.st/serial"
)

// DefaultBaudRate is the factory rate of the bench stepper controllers.
const DefaultBaudRate = 9600

// PortOptions are the line settings of one bench serial link. The JSON form
// is embedded in the bench configuration file; zero fields take 9600 8N1.
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

var stopBits = map[int]serial.StopBits{
	1: serial.OneStopBit,
	2: serial.TwoStopBits,
}

// Normalize fills defaults and reduces Parity to its one-letter form.
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
		return o, fmt.Errorf("invalid data bits %d: must be between 5 and 8", o.DataBits)
	}
	if _, ok := stopBits[o.StopBits]; !ok {
		return o, fmt.Errorf("invalid stop bits %d: supported values are 1 or 2", o.StopBits)
	}

	parity := strings.ToUpper(strings.TrimSpace(o.Parity))
	if parity == "" {
		parity = "N"
	}
	if _, ok := parities[parity]; !ok {
		return o, fmt.Errorf("unsupported parity %q: expected N, E, or O", o.Parity)
	}
	o.Parity = parity[:1]
	return o, nil
}

// String renders the normalized options in the usual "9600 8N1" form.
func (o PortOptions) String() string {
	n, err := o.Normalize()
	if err != nil {
		return fmt.Sprintf("invalid(%d %d%s%d)", o.BaudRate, o.DataBits, o.Parity, o.StopBits)
	}
	return fmt.Sprintf("%d %d%s%d", n.BaudRate, n.DataBits, n.Parity, n.StopBits)
}

// SerialMode converts the options into the go.bug.st/serial mode used to
// open the port.
func (o PortOptions) SerialMode() (*serial.Mode, error) {
	n, err := o.Normalize()
	if err != nil {
		return nil, err
	}
	return &serial.Mode{
		BaudRate: n.BaudRate,
		DataBits: n.DataBits,
		StopBits: stopBits[n.StopBits],
		Parity:   parities[n.Parity],
	}, nil
}
