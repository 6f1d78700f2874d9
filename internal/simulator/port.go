// Package simulator provides in-memory serial lines and scripted cash
// peripherals for tests and demos.
package simulator

import (
	"errors"
	"net"
	"os"
	"sync"
	"time"
)

// Port is one end of an in-memory serial line backed by net.Pipe.
//
// Reads honor SetReadTimeout and, like a serial driver, return (0, nil) when
// the timeout expires without data.
type Port struct {
	conn    net.Conn
	mu      sync.Mutex
	timeout time.Duration
}

// Pipe returns the two connected ends of a serial line.
func Pipe() (host *Port, device *Port) {
	a, b := net.Pipe()

	return &Port{conn: a}, &Port{conn: b}
}

// Read reads available bytes, waiting at most the configured read timeout.
// A zero timeout blocks until data arrives.
func (p *Port) Read(b []byte) (int, error) {
	p.mu.Lock()
	timeout := p.timeout
	p.mu.Unlock()

	var deadline time.Time
	if timeout > 0 {
		deadline = time.Now().Add(timeout)
	}

	if err := p.conn.SetReadDeadline(deadline); err != nil {
		return 0, err
	}

	n, err := p.conn.Read(b)
	if errors.Is(err, os.ErrDeadlineExceeded) {
		return n, nil
	}

	return n, err
}

// Write writes b, blocking until the other end has read it.
func (p *Port) Write(b []byte) (int, error) {
	return p.conn.Write(b)
}

// SetReadTimeout sets the timeout applied to the next reads.
func (p *Port) SetReadTimeout(t time.Duration) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.timeout = t

	return nil
}

// Close closes this end of the line; the other end reads io.EOF.
func (p *Port) Close() error {
	return p.conn.Close()
}
