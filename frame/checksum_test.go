package frame

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestChecksum_CheckValues(t *testing.T) {
	check := []byte("123456789")

	tests := []struct {
		name string
		want uint16
		size int
	}{
		{CRC16Kermit, 0x2189, 2},
		{CRC16XModem, 0x31C3, 2},
		{CRC16CCITTFalse, 0x29B1, 2},
		{XOR8, 0x31, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cs, err := LookupChecksum(tt.name)
			require.NoError(t, err)

			assert.Equal(t, tt.name, cs.Name())
			assert.Equal(t, tt.size, cs.Size())
			assert.Equal(t, tt.want, cs.Sum(check))
		})
	}
}

func TestChecksum_EmptyInput(t *testing.T) {
	for _, name := range []string{CRC16Kermit, CRC16XModem, XOR8} {
		cs, err := LookupChecksum(name)
		require.NoError(t, err)
		assert.Equal(t, uint16(0), cs.Sum(nil), name)
	}

	cs, err := LookupChecksum(CRC16CCITTFalse)
	require.NoError(t, err)
	assert.Equal(t, uint16(0xFFFF), cs.Sum(nil))
}

func TestLookupChecksum_Unknown(t *testing.T) {
	_, err := LookupChecksum("crc32")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrUnknownChecksum)
}

type sum8 struct{}

func (sum8) Name() string { return "sum8-test" }
func (sum8) Size() int    { return 1 }

func (sum8) Sum(data []byte) uint16 {
	var s byte
	for _, b := range data {
		s += b
	}

	return uint16(s)
}

func TestRegisterChecksum_CustomAlgorithm(t *testing.T) {
	RegisterChecksum(sum8{})

	f := &Format{
		Sync:        []byte{0xAA, 0x55},
		LengthMode:  LengthPayload,
		LengthWidth: 1,
		Checksum:    "sum8-test",
		MaxPayload:  32,
	}
	require.NoError(t, f.Validate())

	wire, err := Encode(f, []byte{0x01, 0x02})
	require.NoError(t, err)
	assert.Equal(t, []byte{0xAA, 0x55, 0x02, 0x01, 0x02, 0x04}, wire) // sum wraps at 8 bits

	fr, err := Decode(f, wire)
	require.NoError(t, err)
	assert.Equal(t, []byte{0x01, 0x02}, fr.Payload)
}
