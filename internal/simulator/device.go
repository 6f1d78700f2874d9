package simulator

import (
	"errors"
	"sync"
	"time"

	"github.com/arloliu/go-cashio/frame"
)

// Action is one write performed by a simulated device.
type Action struct {
	// Delay is waited before writing.
	Delay time.Duration
	// Wire is written verbatim.
	Wire []byte
}

// Handler reacts to a frame received from the host with the writes to perform.
type Handler func(fr frame.Frame) []Action

// Device is a scripted peer on a simulated serial line.
//
// It decodes host traffic with its own frame.Decoder, records every frame and
// hands it to the handler. Writes run on a separate goroutine so the device
// keeps reading while the host is slow to drain the line.
type Device struct {
	port   *Port
	format *frame.Format

	mu       sync.Mutex
	handler  Handler
	received []frame.Frame
	corrupt  int

	out  chan Action
	stop chan struct{}
	wg   sync.WaitGroup
	once sync.Once
}

// NewDevice creates a device speaking f on port. Call Start to run it.
func NewDevice(port *Port, f *frame.Format, h Handler) *Device {
	return &Device{
		port:    port,
		format:  f,
		handler: h,
		out:     make(chan Action, 64),
		stop:    make(chan struct{}),
	}
}

// Start runs the reader and writer goroutines.
func (d *Device) Start() {
	d.wg.Add(2)

	go d.readLoop()
	go d.writeLoop()
}

// Stop closes the device end of the line and waits for its goroutines.
func (d *Device) Stop() {
	d.once.Do(func() {
		close(d.stop)
		_ = d.port.Close()
	})

	d.wg.Wait()
}

// SetHandler replaces the handler for subsequent frames.
func (d *Device) SetHandler(h Handler) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.handler = h
}

// Send queues unsolicited writes.
func (d *Device) Send(actions ...Action) {
	for _, a := range actions {
		select {
		case d.out <- a:
		case <-d.stop:
			return
		}
	}
}

// Received returns every frame received from the host so far.
func (d *Device) Received() []frame.Frame {
	d.mu.Lock()
	defer d.mu.Unlock()

	return append([]frame.Frame(nil), d.received...)
}

// Payloads returns the payload of every data frame received so far.
func (d *Device) Payloads() [][]byte {
	var out [][]byte
	for _, fr := range d.Received() {
		if !fr.IsControl() {
			out = append(out, fr.Payload)
		}
	}

	return out
}

// Controls returns the control byte of every control sequence received so far.
func (d *Device) Controls() []byte {
	var out []byte
	for _, fr := range d.Received() {
		if fr.IsControl() {
			out = append(out, fr.Control)
		}
	}

	return out
}

// CorruptFrames returns the number of host frames that failed verification.
func (d *Device) CorruptFrames() int {
	d.mu.Lock()
	defer d.mu.Unlock()

	return d.corrupt
}

func (d *Device) readLoop() {
	defer d.wg.Done()

	dec := frame.NewDecoder(d.format)
	buf := make([]byte, 256)
	_ = d.port.SetReadTimeout(10 * time.Millisecond)

	for {
		n, err := d.port.Read(buf)
		if n > 0 {
			dec.Feed(buf[:n])
			d.drain(dec)
		}

		if err != nil {
			return
		}

		select {
		case <-d.stop:
			return
		default:
		}
	}
}

func (d *Device) drain(dec *frame.Decoder) {
	for {
		fr, err := dec.Next()
		switch {
		case errors.Is(err, frame.ErrNeedMoreData):
			return
		case errors.Is(err, frame.ErrChecksumMismatch):
			d.mu.Lock()
			d.corrupt++
			d.mu.Unlock()

			continue
		case err != nil:
			continue
		}

		d.mu.Lock()
		d.received = append(d.received, fr)
		h := d.handler
		d.mu.Unlock()

		if h != nil {
			d.Send(h(fr)...)
		}
	}
}

func (d *Device) writeLoop() {
	defer d.wg.Done()

	for {
		select {
		case <-d.stop:
			return
		case a := <-d.out:
			if a.Delay > 0 {
				select {
				case <-time.After(a.Delay):
				case <-d.stop:
					return
				}
			}

			if len(a.Wire) == 0 {
				continue
			}

			if _, err := d.port.Write(a.Wire); err != nil {
				return
			}
		}
	}
}

// Frame returns an action writing payload framed in f.
func Frame(f *frame.Format, payload ...byte) Action {
	wire, err := frame.Encode(f, payload)
	if err != nil {
		panic(err)
	}

	return Action{Wire: wire}
}

// Control returns an action writing the DLE control sequence ctl.
func Control(f *frame.Format, ctl byte) Action {
	wire, err := frame.EncodeControl(f, ctl)
	if err != nil {
		panic(err)
	}

	return Action{Wire: wire}
}

// Corrupt returns a copy of a with the last byte of its wire inverted, which
// breaks the checksum of a framed write.
func Corrupt(a Action) Action {
	wire := append([]byte(nil), a.Wire...)
	wire[len(wire)-1] ^= 0xFF
	a.Wire = wire

	return a
}

// Raw returns an action writing b verbatim.
func Raw(b ...byte) Action { return Action{Wire: b} }

// After returns a copy of a delayed by d.
func After(d time.Duration, a Action) Action {
	a.Delay = d
	return a
}
