package link

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/arloliu/go-cashio/frame"
	"github.com/arloliu/go-cashio/internal/simulator"
	"github.com/arloliu/go-cashio/logger"
)

const (
	testTimeout = 60 * time.Millisecond

	// stuffed link-control bytes
	enq = 0x05
	ack = 0x06
	nak = 0x15
)

// addressedFormat is a ccnet shaped frame format.
func addressedFormat() *frame.Format {
	return &frame.Format{
		Sync:          []byte{0x02},
		HasAddress:    true,
		Address:       0x03,
		LengthMode:    frame.LengthTotal,
		LengthWidth:   1,
		Checksum:      frame.CRC16Kermit,
		ChecksumOrder: frame.LittleEndian,
		MaxPayload:    250,
	}
}

// stuffedFormat is an f56 shaped frame format.
func stuffedFormat() *frame.Format {
	return &frame.Format{
		Stuffing:      &frame.Stuffing{DLE: 0x10, STX: 0x02, ETX: 0x03},
		Checksum:      frame.CRC16XModem,
		ChecksumOrder: frame.BigEndian,
		MaxPayload:    250,
	}
}

func policy(retries int) *StagePolicy {
	return &StagePolicy{Retries: retries, Timeout: testTimeout}
}

// addressedHandshake acknowledges responses with an ACK frame and refuses with a NAK frame.
func addressedHandshake() HandshakeConfig {
	return HandshakeConfig{
		Response: *policy(2),
		Ack:      FrameReply(0x00),
		Nak:      FrameReply(0xFF),
	}
}

// bareHandshake has neither ACK nor NAK.
func bareHandshake() HandshakeConfig {
	return HandshakeConfig{Response: *policy(2)}
}

func stuffedHandshake() HandshakeConfig {
	return HandshakeConfig{
		LineRequest: policy(2),
		Enquiry:     ControlReply(enq),
		LineGrant:   ControlReply(ack),
		DeliveryAck: policy(2),
		Response:    *policy(2),
		Ack:         ControlReply(ack),
		Nak:         ControlReply(nak),
	}
}

// newTestLink wires a link to a scripted device over an in-memory line.
func newTestLink(t *testing.T, f *frame.Format, hs HandshakeConfig, h simulator.Handler) (*Link, *simulator.Device) {
	t.Helper()

	hostPort, devPort := simulator.Pipe()

	dev := simulator.NewDevice(devPort, f, h)
	dev.Start()

	l, err := New(hostPort, f, hs, WithLogger(logger.Discard()), WithReadSlice(5*time.Millisecond))
	require.NoError(t, err)

	t.Cleanup(func() {
		_ = l.Close()
		dev.Stop()
	})

	return l, dev
}

// waitFrames waits until the device has received n frames.
func waitFrames(t *testing.T, dev *simulator.Device, n int) []frame.Frame {
	t.Helper()

	require.Eventually(t, func() bool {
		return len(dev.Received()) >= n
	}, time.Second, 2*time.Millisecond)

	return dev.Received()
}

// respondTo returns a handler answering data frames whose first byte is cmd.
func respondTo(f *frame.Format, cmd byte, payload ...byte) simulator.Handler {
	return func(fr frame.Frame) []simulator.Action {
		if fr.IsControl() || len(fr.Payload) == 0 || fr.Payload[0] != cmd {
			return nil
		}

		return []simulator.Action{simulator.Frame(f, payload...)}
	}
}
