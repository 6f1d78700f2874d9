package link

import (
	"fmt"
	"io"
	"strings"
	"time"

	"go.bug.st/serial"
)

// Port is the byte transport to the peripheral.
//
// SetReadTimeout bounds the next Read calls; a Read that times out returns
// (0, nil). go.bug.st/serial ports satisfy this interface.
type Port interface {
	io.ReadWriteCloser
	SetReadTimeout(t time.Duration) error
}

// inputResetter is implemented by ports that can drop unread input.
type inputResetter interface {
	ResetInputBuffer() error
}

// Default serial line settings.
const (
	DefaultBaudRate = 9600
	DefaultDataBits = 8
	DefaultParity   = "none"
	DefaultStopBits = 1
)

// SerialConfig describes the RS-232 line settings of a peripheral.
type SerialConfig struct {
	BaudRate int    `yaml:"baud_rate" toml:"baud_rate"`
	DataBits int    `yaml:"data_bits" toml:"data_bits"`
	Parity   string `yaml:"parity" toml:"parity"` // none, even, odd, mark or space
	StopBits int    `yaml:"stop_bits" toml:"stop_bits"`
}

// DefaultSerialConfig returns 9600 8N1.
func DefaultSerialConfig() SerialConfig {
	return SerialConfig{
		BaudRate: DefaultBaudRate,
		DataBits: DefaultDataBits,
		Parity:   DefaultParity,
		StopBits: DefaultStopBits,
	}
}

// String returns the line settings in the conventional "9600 8N1" notation.
func (c SerialConfig) String() string {
	p := "?"
	if c.Parity != "" {
		p = strings.ToUpper(c.Parity[:1])
	}

	return fmt.Sprintf("%d %d%s%d", c.BaudRate, c.DataBits, p, c.StopBits)
}

// Mode converts the settings to a go.bug.st/serial mode.
func (c SerialConfig) Mode() (*serial.Mode, error) {
	if c.BaudRate <= 0 {
		return nil, fmt.Errorf("%w: baud rate %d", ErrInvalidSerialConfig, c.BaudRate)
	}

	if c.DataBits < 5 || c.DataBits > 8 {
		return nil, fmt.Errorf("%w: data bits %d not in [5, 8]", ErrInvalidSerialConfig, c.DataBits)
	}

	mode := &serial.Mode{BaudRate: c.BaudRate, DataBits: c.DataBits}

	switch strings.ToLower(c.Parity) {
	case "", "none":
		mode.Parity = serial.NoParity
	case "even":
		mode.Parity = serial.EvenParity
	case "odd":
		mode.Parity = serial.OddParity
	case "mark":
		mode.Parity = serial.MarkParity
	case "space":
		mode.Parity = serial.SpaceParity
	default:
		return nil, fmt.Errorf("%w: parity %q", ErrInvalidSerialConfig, c.Parity)
	}

	switch c.StopBits {
	case 0, 1:
		mode.StopBits = serial.OneStopBit
	case 2:
		mode.StopBits = serial.TwoStopBits
	default:
		return nil, fmt.Errorf("%w: stop bits %d", ErrInvalidSerialConfig, c.StopBits)
	}

	return mode, nil
}

// OpenSerial opens the named serial device with the given line settings.
func OpenSerial(name string, cfg SerialConfig) (Port, error) {
	mode, err := cfg.Mode()
	if err != nil {
		return nil, err
	}

	port, err := serial.Open(name, mode)
	if err != nil {
		return nil, fmt.Errorf("link: failed to open serial port %s: %w", name, err)
	}

	return port, nil
}

// ListPorts returns the serial devices present on the host.
func ListPorts() ([]string, error) {
	ports, err := serial.GetPortsList()
	if err != nil {
		return nil, fmt.Errorf("link: failed to list serial ports: %w", err)
	}

	return ports, nil
}
