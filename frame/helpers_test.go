package frame

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

func id003Format() *Format {
	return &Format{
		Sync:          []byte{0xFC},
		LengthMode:    LengthTotal,
		LengthWidth:   1,
		Checksum:      CRC16Kermit,
		ChecksumOrder: LittleEndian,
		MaxPayload:    250,
	}
}

func ccnetFormat() *Format {
	return &Format{
		Sync:          []byte{0x02},
		HasAddress:    true,
		Address:       0x03,
		LengthMode:    LengthTotal,
		LengthWidth:   1,
		Checksum:      CRC16Kermit,
		ChecksumOrder: LittleEndian,
		MaxPayload:    250,
	}
}

func f56Format() *Format {
	return &Format{
		Stuffing:      &Stuffing{DLE: 0x10, STX: 0x02, ETX: 0x03},
		Checksum:      CRC16XModem,
		ChecksumOrder: BigEndian,
		MaxPayload:    250,
	}
}

func allFormats() map[string]*Format {
	return map[string]*Format{
		"id003": id003Format(),
		"ccnet": ccnetFormat(),
		"f56":   f56Format(),
	}
}

// drain pulls frames until the decoder needs more data, collecting the
// non-fatal decode errors along the way.
func drain(t *testing.T, d *Decoder) ([]Frame, []error) {
	t.Helper()

	var frames []Frame
	var errs []error

	for i := 0; i < 1000; i++ {
		fr, err := d.Next()
		switch {
		case err == nil:
			frames = append(frames, fr)
		case errors.Is(err, ErrNeedMoreData):
			return frames, errs
		default:
			errs = append(errs, err)
		}
	}

	require.FailNow(t, "decoder did not settle")

	return nil, nil
}
