package link

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/arloliu/go-cashio/frame"
	"github.com/arloliu/go-cashio/logger"
)

const (
	// DefaultReadSlice bounds a single blocking read so Close and context
	// cancellation are noticed promptly.
	DefaultReadSlice = 20 * time.Millisecond

	readBufferSize = 256
)

// Link runs handshake sessions over a Port.
//
// Exchange is not goroutine-safe: the owner of the link (one engine loop) runs
// at most one session at a time, as admitted by the link's Gate. Close may be
// called from any goroutine.
type Link struct {
	port      Port
	format    *frame.Format
	hs        HandshakeConfig
	dec       *frame.Decoder
	gate      *Gate
	logger    logger.Logger
	readSlice time.Duration
	readBuf   []byte
	discarded int

	metrics   Metrics
	closed    atomic.Bool
	closeOnce sync.Once
	closeErr  error
}

// Option is a functional option for configuring a Link.
type Option interface {
	apply(*Link) error
}

type optFunc func(*Link) error

func (f optFunc) apply(l *Link) error { return f(l) }

// WithLogger sets the logger for the link.
func WithLogger(l logger.Logger) Option {
	return optFunc(func(lk *Link) error {
		if l == nil {
			return errors.New("link: logger must not be nil")
		}
		lk.logger = l

		return nil
	})
}

// WithReadSlice sets the longest single blocking read on the port.
func WithReadSlice(d time.Duration) Option {
	return optFunc(func(l *Link) error {
		if d < time.Millisecond || d > time.Second {
			return fmt.Errorf("link: read slice %v out of range [1ms, 1s]", d)
		}
		l.readSlice = d

		return nil
	})
}

// New creates a link running hs over port using the wire format f.
func New(port Port, f *frame.Format, hs HandshakeConfig, opts ...Option) (*Link, error) {
	if port == nil {
		return nil, ErrNilPort
	}

	if err := f.Validate(); err != nil {
		return nil, err
	}

	if err := hs.Validate(f); err != nil {
		return nil, err
	}

	l := &Link{
		port:      port,
		format:    f,
		hs:        hs,
		dec:       frame.NewDecoder(f),
		logger:    logger.GetLogger(),
		readSlice: DefaultReadSlice,
		readBuf:   make([]byte, readBufferSize),
	}
	l.gate = NewGate(&l.metrics)

	for _, opt := range opts {
		if err := opt.apply(l); err != nil {
			return nil, err
		}
	}

	return l, nil
}

// Gate returns the occupancy gate of the link.
func (l *Link) Gate() *Gate { return l.gate }

// Metrics returns the counters of the link.
func (l *Link) Metrics() *Metrics { return &l.metrics }

// Format returns the wire format of the link.
func (l *Link) Format() *frame.Format { return l.format }

// IsClosed reports whether Close has been called.
func (l *Link) IsClosed() bool { return l.closed.Load() }

// Exchange runs one handshake session for req and returns the validated
// response.
//
// Failures are returned as a *TransmissionError once a stage exhausts its
// retries, ErrLinkClosed when the link is closed while the session is in
// flight (any late response is discarded), or the context error.
func (l *Link) Exchange(ctx context.Context, req *Request) (*Response, error) {
	if l.closed.Load() {
		return nil, ErrLinkClosed
	}

	if len(req.Payload) == 0 {
		return nil, frame.ErrEmptyPayload
	}

	wire, err := frame.Encode(l.format, req.Payload)
	if err != nil {
		return nil, err
	}

	l.metrics.incSessionCount()

	s := &session{link: l, req: req, wire: wire}
	resp, err := s.run(ctx)

	if l.closed.Load() {
		return nil, ErrLinkClosed
	}

	return resp, err
}

// Close invalidates any in-flight session and closes the port.
func (l *Link) Close() error {
	l.closeOnce.Do(func() {
		l.closed.Store(true)
		l.closeErr = l.port.Close()
	})

	return l.closeErr
}

// write sends p to the port in full.
func (l *Link) write(p []byte) error {
	for written := 0; written < len(p); {
		n, err := l.port.Write(p[written:])
		written += n

		if err != nil {
			return l.ioError("write", err)
		}
	}

	l.metrics.incFrameSendCount()

	return nil
}

// resetInput drops every byte received so far, so that a late answer to a
// previous transmission cannot be taken for the answer to the next one.
func (l *Link) resetInput() {
	if r, ok := l.port.(inputResetter); ok {
		if err := r.ResetInputBuffer(); err != nil {
			l.logger.Debug("link: failed to reset port input buffer", "error", err)
		}
	}

	if n := l.dec.Buffered(); n > 0 {
		l.logger.Debug("link: dropping stale input", "bytes", n)
	}

	l.dec.Reset()
	l.syncDiscarded()
}

// dropBuffered discards the bytes held by the decoder.
func (l *Link) dropBuffered() {
	l.dec.Reset()
	l.syncDiscarded()
}

// nextFrame returns the next verified frame received before deadline.
//
// It returns ErrTimeout when the deadline passes, a *frame.ChecksumError for a
// corrupt complete frame, or an I/O error. Framing noise is counted and
// skipped.
func (l *Link) nextFrame(ctx context.Context, deadline time.Time) (frame.Frame, error) {
	for {
		fr, err := l.dec.Next()
		l.syncDiscarded()

		switch {
		case err == nil:
			l.metrics.incFrameRecvCount()
			return fr, nil

		case errors.Is(err, frame.ErrChecksumMismatch):
			l.metrics.incChecksumErrCount()
			return frame.Frame{}, err

		case errors.Is(err, frame.ErrFraming):
			l.metrics.incFramingErrCount()
			l.logger.Debug("link: resynchronizing", "error", err)

			continue

		case !errors.Is(err, frame.ErrNeedMoreData):
			return frame.Frame{}, err
		}

		if err := ctx.Err(); err != nil {
			return frame.Frame{}, err
		}

		if l.closed.Load() {
			return frame.Frame{}, ErrLinkClosed
		}

		remaining := time.Until(deadline)
		if remaining <= 0 {
			l.metrics.incTimeoutCount()
			return frame.Frame{}, ErrTimeout
		}

		if err := l.fill(min(remaining, l.readSlice)); err != nil {
			return frame.Frame{}, err
		}
	}
}

// fill reads whatever arrives within timeout into the decoder.
func (l *Link) fill(timeout time.Duration) error {
	if err := l.port.SetReadTimeout(timeout); err != nil {
		return l.ioError("set read timeout", err)
	}

	n, err := l.port.Read(l.readBuf)
	if n > 0 {
		l.dec.Feed(l.readBuf[:n])
	}

	if err != nil {
		return l.ioError("read", err)
	}

	return nil
}

func (l *Link) syncDiscarded() {
	if d := l.dec.Discarded(); d != l.discarded {
		l.metrics.addDiscardedBytes(d - l.discarded)
		l.discarded = d
	}
}

func (l *Link) ioError(op string, err error) error {
	if l.closed.Load() || isClosedError(err) {
		return ErrLinkClosed
	}

	return fmt.Errorf("link: %s: %w", op, err)
}

func isClosedError(err error) bool {
	return errors.Is(err, io.EOF) ||
		errors.Is(err, io.ErrClosedPipe) ||
		errors.Is(err, net.ErrClosed) ||
		errors.Is(err, os.ErrClosed)
}
