package journal

import (
	"errors"
	"io"
	"os"
	"slices"
	"time"

	"github.com/fxamacker/cbor/v2"
)

// Filter selects records. Zero fields match every record.
type Filter struct {
	ConnectionID string
	Family       string
	// Kinds lists the accepted event kinds, as printed by device.EventKind.
	Kinds     []string
	TimeStart *time.Time
	TimeEnd   *time.Time
}

func (f *Filter) matches(rec Record) bool {
	if f.ConnectionID != "" && rec.ConnectionID != f.ConnectionID {
		return false
	}
	if f.Family != "" && rec.Family != f.Family {
		return false
	}
	if len(f.Kinds) > 0 && !slices.Contains(f.Kinds, rec.Kind) {
		return false
	}
	if f.TimeStart != nil && rec.Time.Before(*f.TimeStart) {
		return false
	}
	if f.TimeEnd != nil && !rec.Time.Before(*f.TimeEnd) {
		return false
	}

	return true
}

// Reader streams records matching a filter.
type Reader struct {
	dec    *cbor.Decoder
	closer io.Closer
	filter Filter
}

// NewReader reads records from r.
func NewReader(r io.Reader, filter Filter) *Reader {
	return &Reader{dec: newDecoder(r), filter: filter}
}

// Open reads the journal file at path.
func Open(path string, filter Filter) (*Reader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}

	r := NewReader(f, filter)
	r.closer = f

	return r, nil
}

// Next returns the next matching record, or io.EOF at the end of the journal.
func (r *Reader) Next() (Record, error) {
	for {
		var rec Record
		if err := r.dec.Decode(&rec); err != nil {
			if errors.Is(err, io.EOF) {
				return Record{}, io.EOF
			}

			return Record{}, err
		}

		if r.filter.matches(rec) {
			return rec, nil
		}
	}
}

// ReadAll returns every remaining matching record.
func (r *Reader) ReadAll() ([]Record, error) {
	var out []Record
	for {
		rec, err := r.Next()
		if errors.Is(err, io.EOF) {
			return out, nil
		}
		if err != nil {
			return out, err
		}
		out = append(out, rec)
	}
}

// Close closes the underlying file, if any.
func (r *Reader) Close() error {
	if r.closer != nil {
		return r.closer.Close()
	}

	return nil
}
