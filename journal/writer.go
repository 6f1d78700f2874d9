package journal

import (
	"errors"
	"io"
	"os"
	"sync"

	"github.com/fxamacker/cbor/v2"
)

var ErrClosed = errors.New("journal: closed")

// Writer appends records to a journal.
type Writer interface {
	Append(rec Record) error
}

// StreamWriter appends records to an io.Writer. It is safe for concurrent use.
type StreamWriter struct {
	mu     sync.Mutex
	enc    *cbor.Encoder
	closer io.Closer
	closed bool
}

var _ Writer = (*StreamWriter)(nil)

// NewWriter returns a journal writing to w.
func NewWriter(w io.Writer) *StreamWriter {
	return &StreamWriter{enc: newEncoder(w)}
}

// OpenFile opens the journal at path for appending, creating it with mode
// 0644 when it does not exist.
func OpenFile(path string) (*StreamWriter, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, err
	}

	w := NewWriter(f)
	w.closer = f

	return w, nil
}

// Append writes rec.
func (w *StreamWriter) Append(rec Record) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return ErrClosed
	}

	return w.enc.Encode(rec)
}

// Close closes the underlying file, if any. It is safe to call Close more
// than once.
func (w *StreamWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return nil
	}
	w.closed = true

	if w.closer != nil {
		return w.closer.Close()
	}

	return nil
}
