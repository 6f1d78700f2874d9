package frame

import (
	"bytes"
	"fmt"
)

// Decoder recovers frames from a serial byte stream.
//
// Bytes are appended with Feed and frames are pulled with Next. The decoder owns
// its input buffer; callers must not retain slices passed to Feed expecting them
// to be updated.
//
// Decoder is not goroutine-safe. The link that owns the serial port is the only
// reader of the stream.
type Decoder struct {
	f         *Format
	cs        Checksum
	err       error
	buf       []byte
	discarded int
}

// NewDecoder creates a decoder for the given format.
//
// An unresolvable checksum algorithm is reported by every call to Next.
func NewDecoder(f *Format) *Decoder {
	cs, err := f.checksumAlg()

	return &Decoder{
		f:   f,
		cs:  cs,
		err: err,
		buf: make([]byte, 0, 64),
	}
}

// Feed appends received bytes to the decoder's buffer.
func (d *Decoder) Feed(p []byte) {
	d.buf = append(d.buf, p...)
}

// Reset discards all buffered bytes.
func (d *Decoder) Reset() {
	d.discarded += len(d.buf)
	d.buf = d.buf[:0]
}

// Buffered returns the number of bytes waiting to be decoded.
func (d *Decoder) Buffered() int { return len(d.buf) }

// Discarded returns the total number of bytes dropped while resynchronizing.
func (d *Decoder) Discarded() int { return d.discarded }

// Next returns the next verified frame in the buffer.
//
// It returns ErrNeedMoreData when the buffer holds no complete frame, a
// *FramingError when a corrupt prefix was dropped, and a *ChecksumError when a
// complete frame failed verification and was dropped. Callers should keep
// calling Next after a *FramingError or *ChecksumError; further frames may
// already be buffered.
func (d *Decoder) Next() (Frame, error) {
	if d.err != nil {
		return Frame{}, d.err
	}

	if d.f.IsStuffed() {
		return d.nextStuffed()
	}

	return d.nextDelimited()
}

// skip drops n leading bytes as noise.
func (d *Decoder) skip(n int) {
	d.discarded += n
	d.consume(n)
}

// consume drops n leading bytes that belonged to a delivered frame.
func (d *Decoder) consume(n int) {
	d.buf = append(d.buf[:0], d.buf[n:]...)
}

func (d *Decoder) nextDelimited() (Frame, error) {
	f := d.f
	csSize := d.cs.Size()

	idx := bytes.Index(d.buf, f.Sync)
	if idx < 0 {
		// Keep a possible partial sync marker at the tail.
		keep := min(len(f.Sync)-1, len(d.buf))
		d.skip(len(d.buf) - keep)

		return Frame{}, ErrNeedMoreData
	}

	d.skip(idx)

	hdr := f.headerSize()
	if len(d.buf) < hdr {
		return Frame{}, ErrNeedMoreData
	}

	pos := len(f.Sync)
	if f.HasAddress {
		if addr := d.buf[pos]; addr != f.Address {
			d.skip(1)

			return Frame{}, &FramingError{
				Reason:    fmt.Sprintf("address 0x%02X, want 0x%02X", addr, f.Address),
				Discarded: 1,
			}
		}
		pos++
	}

	length := int(f.LengthOrder.get(d.buf[pos:], f.LengthWidth))

	total := length
	if f.LengthMode == LengthPayload {
		total = f.frameSize(length, csSize)
	}

	if total < f.frameSize(1, csSize) || total > f.frameSize(f.MaxPayload, csSize) {
		d.skip(1)

		return Frame{}, &FramingError{Reason: fmt.Sprintf("invalid length %d", length), Discarded: 1}
	}

	if len(d.buf) < total {
		return Frame{}, ErrNeedMoreData
	}

	start := 0
	if f.ChecksumSkipSync {
		start = len(f.Sync)
	}
	end := total - csSize

	wire := f.ChecksumOrder.get(d.buf[end:], csSize)
	computed := d.cs.Sum(d.buf[start:end])
	raw := bytes.Clone(d.buf[:total])

	if wire != computed {
		// Drop only the sync marker so a real frame hidden behind a false
		// sync is still found.
		d.skip(1)

		return Frame{}, &ChecksumError{Wire: wire, Computed: computed, Raw: raw}
	}

	payload := bytes.Clone(d.buf[hdr:end])
	d.consume(total)

	return Frame{Payload: payload, Raw: raw}, nil
}

func (d *Decoder) nextStuffed() (Frame, error) {
	s := d.f.Stuffing

	for {
		i := bytes.IndexByte(d.buf, s.DLE)
		if i < 0 {
			d.skip(len(d.buf))

			return Frame{}, ErrNeedMoreData
		}

		d.skip(i)

		if len(d.buf) < 2 {
			return Frame{}, ErrNeedMoreData
		}

		switch next := d.buf[1]; next {
		case s.STX:
			return d.stuffedFrame()

		case s.DLE, s.ETX, 0:
			// Escape or trailer outside of a frame: noise.
			d.skip(1)

		default:
			raw := bytes.Clone(d.buf[:2])
			d.consume(2)

			return Frame{Control: next, Raw: raw}, nil
		}
	}
}

// stuffedFrame decodes a frame whose DLE STX opener sits at the head of the buffer.
func (d *Decoder) stuffedFrame() (Frame, error) {
	s := d.f.Stuffing
	csSize := d.cs.Size()

	payload := make([]byte, 0, 32)
	j := 2

scan:
	for {
		if j >= len(d.buf) {
			return Frame{}, ErrNeedMoreData
		}

		b := d.buf[j]
		if b != s.DLE {
			payload = append(payload, b)
			j++
		} else {
			if j+1 >= len(d.buf) {
				return Frame{}, ErrNeedMoreData
			}

			switch d.buf[j+1] {
			case s.DLE:
				payload = append(payload, s.DLE)
				j += 2
			case s.ETX:
				j += 2
				break scan
			default:
				// A new frame or control sequence interrupted this one; resync on it.
				d.skip(j)

				return Frame{}, &FramingError{Reason: "unterminated frame", Discarded: j}
			}
		}

		if len(payload) > d.f.MaxPayload {
			d.skip(j)

			return Frame{}, &FramingError{Reason: "frame exceeds max payload", Discarded: j}
		}
	}

	total := j + csSize
	if len(d.buf) < total {
		return Frame{}, ErrNeedMoreData
	}

	if len(payload) == 0 {
		d.skip(total)

		return Frame{}, &FramingError{Reason: "empty frame", Discarded: total}
	}

	wire := d.f.ChecksumOrder.get(d.buf[j:], csSize)
	computed := d.cs.Sum(append(bytes.Clone(payload), s.ETX))
	raw := bytes.Clone(d.buf[:total])

	if wire != computed {
		d.skip(total)

		return Frame{}, &ChecksumError{Wire: wire, Computed: computed, Raw: raw}
	}

	d.consume(total)

	return Frame{Payload: payload, Raw: raw}, nil
}
