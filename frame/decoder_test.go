package frame

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// === Round trip ===

func TestDecoder_RoundTrip(t *testing.T) {
	payloads := [][]byte{
		{0x11},
		{0x13, 0x63},
		{0xFC, 0xFC, 0xFC},       // id003 sync inside payload
		{0x02, 0x03, 0x06},       // ccnet sync and address inside payload
		{0x10},                   // lone DLE
		{0x10, 0x10, 0x10},       // DLE run
		{0x10, 0x02, 0x10, 0x03}, // stuffed opener and trailer inside payload
		{0x00, 0xFF, 0x00},
	}

	all := make([]byte, 250)
	for i := range all {
		all[i] = byte(i)
	}
	payloads = append(payloads, all)

	for name, f := range allFormats() {
		t.Run(name, func(t *testing.T) {
			for _, p := range payloads {
				wire, err := Encode(f, p)
				require.NoError(t, err)

				fr, err := Decode(f, wire)
				require.NoError(t, err, "payload % X", p)
				assert.Equal(t, p, fr.Payload)
				assert.Equal(t, wire, fr.Raw)
				assert.False(t, fr.IsControl())
			}
		})
	}
}

func TestDecoder_ByteByByte(t *testing.T) {
	for name, f := range allFormats() {
		t.Run(name, func(t *testing.T) {
			payload := []byte{0x13, 0x10, 0x63}
			wire, err := Encode(f, payload)
			require.NoError(t, err)

			d := NewDecoder(f)
			for i, b := range wire {
				d.Feed([]byte{b})

				fr, err := d.Next()
				if i < len(wire)-1 {
					require.ErrorIs(t, err, ErrNeedMoreData, "byte %d", i)
					continue
				}

				require.NoError(t, err)
				assert.Equal(t, payload, fr.Payload)
			}

			assert.Equal(t, 0, d.Buffered())
			assert.Equal(t, 0, d.Discarded())
		})
	}
}

func TestDecoder_BackToBackFrames(t *testing.T) {
	for name, f := range allFormats() {
		t.Run(name, func(t *testing.T) {
			var stream []byte
			for _, p := range [][]byte{{0x11}, {0x12, 0x01}, {0x14}} {
				wire, err := Encode(f, p)
				require.NoError(t, err)
				stream = append(stream, wire...)
			}

			d := NewDecoder(f)
			d.Feed(stream)

			frames, errs := drain(t, d)
			assert.Empty(t, errs)
			require.Len(t, frames, 3)
			assert.Equal(t, []byte{0x11}, frames[0].Payload)
			assert.Equal(t, []byte{0x12, 0x01}, frames[1].Payload)
			assert.Equal(t, []byte{0x14}, frames[2].Payload)
		})
	}
}

// === Corruption ===

func TestDecoder_PayloadAndChecksumBitFlips(t *testing.T) {
	formats := map[string]struct {
		f    *Format
		body int // index of the first payload byte
	}{
		"id003": {id003Format(), 2},
		"ccnet": {ccnetFormat(), 3},
	}

	for name, tc := range formats {
		t.Run(name, func(t *testing.T) {
			wire, err := Encode(tc.f, []byte{0x13, 0x63, 0x01})
			require.NoError(t, err)

			for i := tc.body; i < len(wire); i++ {
				for bit := 0; bit < 8; bit++ {
					corrupt := append([]byte(nil), wire...)
					corrupt[i] ^= 1 << bit

					_, err := Decode(tc.f, corrupt)

					var csErr *ChecksumError
					require.ErrorAs(t, err, &csErr, "byte %d bit %d", i, bit)
					assert.ErrorIs(t, err, ErrChecksumMismatch)
					assert.NotEqual(t, csErr.Wire, csErr.Computed)
					assert.Equal(t, corrupt, csErr.Raw)
				}
			}
		})
	}
}

func TestDecoder_NoSingleBitFlipIsAccepted(t *testing.T) {
	for name, f := range allFormats() {
		t.Run(name, func(t *testing.T) {
			wire, err := Encode(f, []byte{0x31, 0x10, 0x7F})
			require.NoError(t, err)

			for i := range wire {
				for bit := 0; bit < 8; bit++ {
					corrupt := append([]byte(nil), wire...)
					corrupt[i] ^= 1 << bit

					d := NewDecoder(f)
					d.Feed(corrupt)

					frames, _ := drain(t, d)
					for _, fr := range frames {
						assert.Nil(t, fr.Payload, "byte %d bit %d accepted as data", i, bit)
					}
				}
			}
		})
	}
}

func TestDecoder_StuffedChecksumMismatch(t *testing.T) {
	f := f56Format()
	wire := []byte{0x10, 0x02, 0x31, 0x10, 0x03, 0x06, 0xC8}

	_, err := Decode(f, wire)

	var csErr *ChecksumError
	require.ErrorAs(t, err, &csErr)
	assert.Equal(t, uint16(0x06C8), csErr.Wire)
	assert.Equal(t, uint16(0x06C7), csErr.Computed)
}

// === Resynchronization ===

func TestDecoder_GarbagePrefix(t *testing.T) {
	garbage := []byte{0x00, 0x55, 0xAA, 0x01, 0x99}

	for name, f := range allFormats() {
		t.Run(name, func(t *testing.T) {
			wire, err := Encode(f, []byte{0x14})
			require.NoError(t, err)

			d := NewDecoder(f)
			d.Feed(garbage)
			d.Feed(wire)

			frames, errs := drain(t, d)
			assert.Empty(t, errs)
			require.Len(t, frames, 1)
			assert.Equal(t, []byte{0x14}, frames[0].Payload)
			assert.Equal(t, len(garbage), d.Discarded())
		})
	}
}

func TestDecoder_FalseStart(t *testing.T) {
	prefixes := map[string][]byte{
		"id003": {0xFC, 0xFF},       // length beyond max payload
		"ccnet": {0x02, 0x07},       // foreign address
		"f56":   {0x10, 0x02, 0x41}, // opener without trailer
	}

	for name, f := range allFormats() {
		t.Run(name, func(t *testing.T) {
			wire, err := Encode(f, []byte{0x14})
			require.NoError(t, err)

			d := NewDecoder(f)
			d.Feed(prefixes[name])
			d.Feed(wire)

			frames, errs := drain(t, d)
			require.Len(t, errs, 1)
			assert.ErrorIs(t, errs[0], ErrFraming)
			require.Len(t, frames, 1)
			assert.Equal(t, []byte{0x14}, frames[0].Payload)
		})
	}
}

func TestDecoder_FalseSyncSwallowingRealFrame(t *testing.T) {
	f := id003Format()
	wire, err := Encode(f, []byte{0x11})
	require.NoError(t, err)

	d := NewDecoder(f)
	// The bogus header claims 8 bytes, which reaches into the real frames.
	d.Feed([]byte{0xFC, 0x08})
	d.Feed(wire)
	d.Feed(wire)

	frames, errs := drain(t, d)
	require.Len(t, errs, 1)
	assert.ErrorIs(t, errs[0], ErrChecksumMismatch)
	require.Len(t, frames, 2)
	assert.Equal(t, []byte{0x11}, frames[0].Payload)
	assert.Equal(t, []byte{0x11}, frames[1].Payload)
}

func TestDecoder_PartialSyncKept(t *testing.T) {
	f := &Format{
		Sync:          []byte{0xAA, 0x55},
		LengthMode:    LengthPayload,
		LengthWidth:   1,
		Checksum:      CRC16Kermit,
		ChecksumOrder: LittleEndian,
		MaxPayload:    16,
	}
	require.NoError(t, f.Validate())

	wire, err := Encode(f, []byte{0x01})
	require.NoError(t, err)

	d := NewDecoder(f)
	d.Feed([]byte{0x00, 0x01, wire[0]})

	_, err = d.Next()
	require.ErrorIs(t, err, ErrNeedMoreData)
	assert.Equal(t, 1, d.Buffered())

	d.Feed(wire[1:])
	fr, err := d.Next()
	require.NoError(t, err)
	assert.Equal(t, []byte{0x01}, fr.Payload)
}

func TestDecoder_AddressMismatch(t *testing.T) {
	other := ccnetFormat()
	other.Address = 0x01

	wire, err := Encode(other, []byte{0x33})
	require.NoError(t, err)

	_, err = Decode(ccnetFormat(), wire)

	var fe *FramingError
	require.ErrorAs(t, err, &fe)
	assert.Contains(t, fe.Reason, "0x01")
	assert.Equal(t, 1, fe.Discarded)
}

// === Byte-stuffed specifics ===

func TestDecoder_ControlSequences(t *testing.T) {
	f := f56Format()
	d := NewDecoder(f)
	d.Feed([]byte{0x10, 0x06, 0x10, 0x10, 0x10, 0x03, 0x10, 0x15})

	frames, errs := drain(t, d)
	assert.Empty(t, errs)
	require.Len(t, frames, 2)

	assert.True(t, frames[0].IsControl())
	assert.Equal(t, byte(0x06), frames[0].Control)
	assert.Equal(t, []byte{0x10, 0x06}, frames[0].Raw)
	assert.Nil(t, frames[0].Payload)

	assert.Equal(t, byte(0x15), frames[1].Control)
	assert.Equal(t, 4, d.Discarded())
}

func TestDecoder_InterleavedControlAndData(t *testing.T) {
	f := f56Format()
	wire, err := Encode(f, []byte{0x31})
	require.NoError(t, err)

	d := NewDecoder(f)
	d.Feed([]byte{0x10, 0x06})
	d.Feed(wire)

	frames, errs := drain(t, d)
	assert.Empty(t, errs)
	require.Len(t, frames, 2)
	assert.Equal(t, byte(0x06), frames[0].Control)
	assert.Equal(t, []byte{0x31}, frames[1].Payload)
}

func TestDecoder_StuffedEmptyFrame(t *testing.T) {
	// Checksum is valid for an empty payload, still not a frame.
	_, err := Decode(f56Format(), []byte{0x10, 0x02, 0x10, 0x03, 0x30, 0x63})

	var fe *FramingError
	require.ErrorAs(t, err, &fe)
	assert.Equal(t, 6, fe.Discarded)
}

func TestDecoder_StuffedOversize(t *testing.T) {
	f := f56Format()
	f.MaxPayload = 2

	d := NewDecoder(f)
	d.Feed([]byte{0x10, 0x02, 0x01, 0x02, 0x03, 0x04})

	_, err := d.Next()
	assert.ErrorIs(t, err, ErrFraming)
}

// === Misc ===

func TestDecoder_Reset(t *testing.T) {
	f := id003Format()
	d := NewDecoder(f)
	d.Feed([]byte{0xFC, 0x05, 0x11})
	assert.Equal(t, 3, d.Buffered())

	d.Reset()
	assert.Equal(t, 0, d.Buffered())
	assert.Equal(t, 3, d.Discarded())

	wire, err := Encode(f, []byte{0x11})
	require.NoError(t, err)
	d.Feed(wire)

	fr, err := d.Next()
	require.NoError(t, err)
	assert.Equal(t, []byte{0x11}, fr.Payload)
}

func TestDecoder_UnknownChecksum(t *testing.T) {
	f := id003Format()
	f.Checksum = "unknown"

	d := NewDecoder(f)
	d.Feed([]byte{0xFC, 0x05, 0x11, 0x27, 0x56})

	_, err := d.Next()
	assert.ErrorIs(t, err, ErrUnknownChecksum)
}

func TestDecode_IgnoresTrailingBytes(t *testing.T) {
	fr, err := Decode(id003Format(), []byte{0xFC, 0x05, 0x11, 0x27, 0x56, 0xFC, 0x05})
	require.NoError(t, err)
	assert.Equal(t, []byte{0x11}, fr.Payload)
}
