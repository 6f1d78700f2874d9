package link

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arloliu/go-cashio/frame"
	"github.com/arloliu/go-cashio/internal/simulator"
)

// === Addressed framing, ACK/NAK frames ===

func TestExchange_ResponseIsAcknowledged(t *testing.T) {
	f := addressedFormat()
	l, dev := newTestLink(t, f, addressedHandshake(), respondTo(f, 0x33, 0x14))

	resp, err := l.Exchange(context.Background(), &Request{Payload: []byte{0x33}, Poll: true})
	require.NoError(t, err)
	assert.Equal(t, byte(0x33), resp.Command)
	assert.Equal(t, []byte{0x14}, resp.Payload)
	assert.Equal(t, 1, resp.Transmissions)

	frames := waitFrames(t, dev, 2)
	assert.Equal(t, []byte{0x33}, frames[0].Payload)
	assert.Equal(t, []byte{0x00}, frames[1].Payload, "host ACK frame")

	m := l.Metrics().Snapshot()
	assert.Equal(t, uint64(1), m.Sessions)
	assert.Equal(t, uint64(2), m.FramesSent)
	assert.Equal(t, uint64(1), m.FramesRecv)
}

func TestExchange_AckResponseIsNotAcknowledged(t *testing.T) {
	f := addressedFormat()
	l, dev := newTestLink(t, f, addressedHandshake(), respondTo(f, 0x35, 0x00))

	resp, err := l.Exchange(context.Background(), &Request{Payload: []byte{0x35}})
	require.NoError(t, err)
	assert.Equal(t, []byte{0x00}, resp.Payload)

	time.Sleep(20 * time.Millisecond)
	assert.Len(t, dev.Received(), 1)
}

func TestExchange_ResponseTimeoutExhausted(t *testing.T) {
	f := addressedFormat()
	l, dev := newTestLink(t, f, addressedHandshake(), nil)

	start := time.Now()
	_, err := l.Exchange(context.Background(), &Request{Payload: []byte{0x33}})

	var te *TransmissionError
	require.ErrorAs(t, err, &te)
	assert.Equal(t, StageResponse, te.Stage)
	assert.Equal(t, 3, te.Attempts)
	assert.ErrorIs(t, err, ErrTransmissionFailure)
	assert.ErrorIs(t, err, ErrTimeout)
	assert.GreaterOrEqual(t, time.Since(start), 3*testTimeout)

	frames := waitFrames(t, dev, 3)
	assert.Len(t, frames, 3, "one transmission plus two retries")

	m := l.Metrics().Snapshot()
	assert.Equal(t, uint64(2), m.Retries)
	assert.Equal(t, uint64(3), m.Timeouts)
	assert.Equal(t, uint64(1), m.Failures)
}

func TestExchange_ChecksumErrorSendsNak(t *testing.T) {
	f := addressedFormat()
	good := simulator.Frame(f, 0x14)

	l, dev := newTestLink(t, f, addressedHandshake(), func(fr frame.Frame) []simulator.Action {
		switch fr.Payload[0] {
		case 0x33:
			return []simulator.Action{simulator.Corrupt(good)}
		case 0xFF:
			return []simulator.Action{good}
		}

		return nil
	})

	resp, err := l.Exchange(context.Background(), &Request{Payload: []byte{0x33}})
	require.NoError(t, err)
	assert.Equal(t, []byte{0x14}, resp.Payload)
	assert.Equal(t, 1, resp.Transmissions, "NAK asks for a retransmission, the command is not resent")

	frames := waitFrames(t, dev, 3)
	assert.Equal(t, []byte{0xFF}, frames[1].Payload)
	assert.Equal(t, []byte{0x00}, frames[2].Payload)

	m := l.Metrics().Snapshot()
	assert.Equal(t, uint64(1), m.ChecksumErrors)
	assert.Equal(t, uint64(1), m.Retries)
}

func TestExchange_ChecksumErrorExhausted(t *testing.T) {
	f := addressedFormat()
	bad := simulator.Corrupt(simulator.Frame(f, 0x14))

	l, _ := newTestLink(t, f, addressedHandshake(), func(frame.Frame) []simulator.Action {
		return []simulator.Action{bad}
	})

	_, err := l.Exchange(context.Background(), &Request{Payload: []byte{0x33}})

	var te *TransmissionError
	require.ErrorAs(t, err, &te)
	assert.Equal(t, StageResponse, te.Stage)
	assert.ErrorIs(t, err, frame.ErrChecksumMismatch)
}

func TestExchange_ChecksumErrorWithoutNakResends(t *testing.T) {
	f := addressedFormat()
	good := simulator.Frame(f, 0x11)
	polls := 0

	l, dev := newTestLink(t, f, bareHandshake(), func(frame.Frame) []simulator.Action {
		polls++
		if polls == 1 {
			return []simulator.Action{simulator.Corrupt(good)}
		}

		return []simulator.Action{good}
	})

	resp, err := l.Exchange(context.Background(), &Request{Payload: []byte{0x11}})
	require.NoError(t, err)
	assert.Equal(t, 2, resp.Transmissions)
	assert.Len(t, dev.Payloads(), 2)
}

func TestExchange_DeviceNakResends(t *testing.T) {
	f := addressedFormat()
	polls := 0

	l, _ := newTestLink(t, f, addressedHandshake(), func(fr frame.Frame) []simulator.Action {
		if fr.Payload[0] != 0x31 {
			return nil
		}

		polls++
		if polls == 1 {
			return []simulator.Action{simulator.Frame(f, 0xFF)}
		}

		return []simulator.Action{simulator.Frame(f, 0x31, 0x01)}
	})

	resp, err := l.Exchange(context.Background(), &Request{Payload: []byte{0x31}})
	require.NoError(t, err)
	assert.Equal(t, []byte{0x31, 0x01}, resp.Payload)
	assert.Equal(t, 2, resp.Transmissions)
	assert.Equal(t, uint64(1), l.Metrics().NakCount.Load())
}

func TestExchange_DeviceNakExhausted(t *testing.T) {
	f := addressedFormat()
	l, _ := newTestLink(t, f, addressedHandshake(), respondTo(f, 0x31, 0xFF))

	_, err := l.Exchange(context.Background(), &Request{Payload: []byte{0x31}})
	assert.ErrorIs(t, err, ErrTransmissionFailure)
	assert.ErrorIs(t, err, ErrNak)
}

func TestExchange_NoiseBeforeResponse(t *testing.T) {
	f := addressedFormat()
	l, _ := newTestLink(t, f, addressedHandshake(), func(frame.Frame) []simulator.Action {
		return []simulator.Action{
			simulator.Raw(0x00, 0x55, 0x02, 0x07),
			simulator.Frame(f, 0x14),
		}
	})

	resp, err := l.Exchange(context.Background(), &Request{Payload: []byte{0x33}})
	require.NoError(t, err)
	assert.Equal(t, []byte{0x14}, resp.Payload)

	m := l.Metrics().Snapshot()
	assert.Equal(t, uint64(1), m.FramingErrors, "false sync with foreign address")
	assert.Positive(t, m.DiscardedBytes)
}

func TestExchange_NoReply(t *testing.T) {
	f := addressedFormat()
	l, dev := newTestLink(t, f, bareHandshake(), nil)

	resp, err := l.Exchange(context.Background(), &Request{Payload: []byte{0x50}, NoReply: true})
	require.NoError(t, err)
	assert.Nil(t, resp.Payload)
	assert.Equal(t, byte(0x50), resp.Command)

	waitFrames(t, dev, 1)
}

// === Byte-stuffed framing with line control ===

// dispenser grants the line, acknowledges delivery and then answers.
func dispenser(f *frame.Format, answer ...byte) simulator.Handler {
	return func(fr frame.Frame) []simulator.Action {
		if fr.IsControl() {
			if fr.Control == enq {
				return []simulator.Action{simulator.Control(f, ack)}
			}

			return nil
		}

		return []simulator.Action{simulator.Control(f, ack), simulator.Frame(f, answer...)}
	}
}

func TestExchange_StuffedFullHandshake(t *testing.T) {
	f := stuffedFormat()
	l, dev := newTestLink(t, f, stuffedHandshake(), dispenser(f, 0x40, 0x00, 0x10, 0x02))

	resp, err := l.Exchange(context.Background(), &Request{Payload: []byte{0x40, 0x01, 0x02}})
	require.NoError(t, err)
	assert.Equal(t, []byte{0x40, 0x00, 0x10, 0x02}, resp.Payload)

	frames := waitFrames(t, dev, 3)
	assert.Equal(t, byte(enq), frames[0].Control)
	assert.Equal(t, []byte{0x40, 0x01, 0x02}, frames[1].Payload)
	assert.Equal(t, byte(ack), frames[2].Control)
}

func TestExchange_LineRequestExhausted(t *testing.T) {
	f := stuffedFormat()
	l, dev := newTestLink(t, f, stuffedHandshake(), nil)

	_, err := l.Exchange(context.Background(), &Request{Payload: []byte{0x31}})

	var te *TransmissionError
	require.ErrorAs(t, err, &te)
	assert.Equal(t, StageLineRequest, te.Stage)
	assert.ErrorIs(t, err, ErrTimeout)

	waitFrames(t, dev, 3)
	assert.Equal(t, []byte{enq, enq, enq}, dev.Controls())
	assert.Empty(t, dev.Payloads(), "the command is never sent without the line")
}

func TestExchange_DeliveryNakResends(t *testing.T) {
	f := stuffedFormat()
	sends := 0

	l, dev := newTestLink(t, f, stuffedHandshake(), func(fr frame.Frame) []simulator.Action {
		if fr.IsControl() {
			if fr.Control == enq {
				return []simulator.Action{simulator.Control(f, ack)}
			}

			return nil
		}

		sends++
		if sends == 1 {
			return []simulator.Action{simulator.Control(f, nak)}
		}

		return []simulator.Action{simulator.Control(f, ack), simulator.Frame(f, 0x31, 0x00)}
	})

	resp, err := l.Exchange(context.Background(), &Request{Payload: []byte{0x31}})
	require.NoError(t, err)
	assert.Equal(t, 2, resp.Transmissions)
	assert.Len(t, dev.Payloads(), 2)
}

func TestExchange_StageCountersAreIndependent(t *testing.T) {
	f := stuffedFormat()
	hs := stuffedHandshake()
	hs.LineRequest = policy(1)
	hs.Response = *policy(1)

	enquiries, sends := 0, 0

	l, _ := newTestLink(t, f, hs, func(fr frame.Frame) []simulator.Action {
		if fr.IsControl() {
			if fr.Control != enq {
				return nil
			}

			enquiries++
			if enquiries == 1 {
				return nil // first line request times out
			}

			return []simulator.Action{simulator.Control(f, ack)}
		}

		sends++
		if sends == 1 {
			return []simulator.Action{simulator.Control(f, ack)} // response times out
		}

		return []simulator.Action{simulator.Control(f, ack), simulator.Frame(f, 0x31, 0x00)}
	})

	resp, err := l.Exchange(context.Background(), &Request{Payload: []byte{0x31}})
	require.NoError(t, err, "each stage used its single retry")
	assert.Equal(t, 2, resp.Transmissions)
	assert.Equal(t, uint64(2), l.Metrics().RetryCount.Load())
}

func TestExchange_StuffedChecksumErrorSendsNak(t *testing.T) {
	f := stuffedFormat()
	good := simulator.Frame(f, 0x31, 0x00)

	l, dev := newTestLink(t, f, stuffedHandshake(), func(fr frame.Frame) []simulator.Action {
		if fr.IsControl() {
			switch fr.Control {
			case enq:
				return []simulator.Action{simulator.Control(f, ack)}
			case nak:
				return []simulator.Action{good}
			}

			return nil
		}

		return []simulator.Action{simulator.Control(f, ack), simulator.Corrupt(good)}
	})

	resp, err := l.Exchange(context.Background(), &Request{Payload: []byte{0x31}})
	require.NoError(t, err)
	assert.Equal(t, []byte{0x31, 0x00}, resp.Payload)

	waitFrames(t, dev, 4)
	assert.Equal(t, []byte{enq, nak, ack}, dev.Controls())
}

func TestExchange_NoResendWaitsOutResponse(t *testing.T) {
	f := stuffedFormat()
	hs := stuffedHandshake()
	hs.Response = *policy(1)

	// the device takes the command and answers after the first response timeout
	l, dev := newTestLink(t, f, hs, func(fr frame.Frame) []simulator.Action {
		if fr.IsControl() {
			if fr.Control == enq {
				return []simulator.Action{simulator.Control(f, ack)}
			}

			return nil
		}

		return []simulator.Action{
			simulator.Control(f, ack),
			simulator.After(3*testTimeout/2, simulator.Frame(f, 0x40, 0x00)),
		}
	})

	resp, err := l.Exchange(context.Background(), &Request{Payload: []byte{0x40, 0x01, 0x01}, NoResend: true})
	require.NoError(t, err)
	assert.Equal(t, []byte{0x40, 0x00}, resp.Payload)
	assert.Equal(t, 1, resp.Transmissions)
	assert.Len(t, dev.Payloads(), 1)
}

func TestExchange_NoResendResponseLost(t *testing.T) {
	f := stuffedFormat()

	l, dev := newTestLink(t, f, stuffedHandshake(), func(fr frame.Frame) []simulator.Action {
		if fr.IsControl() && fr.Control != enq {
			return nil
		}

		return []simulator.Action{simulator.Control(f, ack)}
	})

	_, err := l.Exchange(context.Background(), &Request{Payload: []byte{0x40, 0x01, 0x01}, NoResend: true})

	var te *TransmissionError
	require.ErrorAs(t, err, &te)
	assert.Equal(t, StageResponse, te.Stage)
	assert.Equal(t, 3, te.Attempts)
	assert.ErrorIs(t, err, ErrTimeout)

	assert.Len(t, dev.Payloads(), 1, "the command is never resent after delivery")
}

func TestExchange_NoResendBeforeDelivery(t *testing.T) {
	f := stuffedFormat()
	sends := 0

	l, dev := newTestLink(t, f, stuffedHandshake(), func(fr frame.Frame) []simulator.Action {
		if fr.IsControl() {
			if fr.Control == enq {
				return []simulator.Action{simulator.Control(f, ack)}
			}

			return nil
		}

		sends++
		if sends == 1 {
			return []simulator.Action{simulator.Control(f, nak)}
		}

		return []simulator.Action{simulator.Control(f, ack), simulator.Frame(f, 0x40, 0x00)}
	})

	resp, err := l.Exchange(context.Background(), &Request{Payload: []byte{0x40, 0x01, 0x01}, NoResend: true})
	require.NoError(t, err)
	assert.Equal(t, 2, resp.Transmissions, "a refused delivery may be sent again")
	assert.Len(t, dev.Payloads(), 2)
}

func TestExchange_CorruptFrameHidingSyncIsOneError(t *testing.T) {
	f := addressedFormat()
	good := simulator.Frame(f, 0x14)
	// a sync, address and plausible length inside the payload
	bad := simulator.Corrupt(simulator.Frame(f, 0x11, 0x02, 0x03, 0x06, 0xAA, 0x00, 0x00))
	naks := 0

	l, _ := newTestLink(t, f, addressedHandshake(), func(fr frame.Frame) []simulator.Action {
		switch fr.Payload[0] {
		case 0x33:
			return []simulator.Action{bad}
		case 0xFF:
			naks++
			return []simulator.Action{good}
		}

		return nil
	})

	resp, err := l.Exchange(context.Background(), &Request{Payload: []byte{0x33}})
	require.NoError(t, err)
	assert.Equal(t, []byte{0x14}, resp.Payload)
	assert.Equal(t, 1, naks)

	m := l.Metrics().Snapshot()
	assert.Equal(t, uint64(1), m.ChecksumErrors)
	assert.Equal(t, uint64(1), m.Retries)
}

// === Lifecycle ===

func TestExchange_CloseInvalidatesSession(t *testing.T) {
	f := addressedFormat()
	hs := addressedHandshake()
	hs.Response = StagePolicy{Retries: 0, Timeout: 5 * time.Second}

	l, _ := newTestLink(t, f, hs, nil)

	errCh := make(chan error, 1)
	go func() {
		_, err := l.Exchange(context.Background(), &Request{Payload: []byte{0x33}})
		errCh <- err
	}()

	time.Sleep(30 * time.Millisecond)
	require.NoError(t, l.Close())

	select {
	case err := <-errCh:
		assert.ErrorIs(t, err, ErrLinkClosed)
	case <-time.After(time.Second):
		require.FailNow(t, "exchange did not notice close")
	}

	_, err := l.Exchange(context.Background(), &Request{Payload: []byte{0x33}})
	assert.ErrorIs(t, err, ErrLinkClosed)
	assert.True(t, l.IsClosed())
}

func TestExchange_ContextCancel(t *testing.T) {
	f := addressedFormat()
	hs := addressedHandshake()
	hs.Response = StagePolicy{Retries: 0, Timeout: 5 * time.Second}

	l, _ := newTestLink(t, f, hs, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()

	_, err := l.Exchange(ctx, &Request{Payload: []byte{0x33}})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.False(t, errors.Is(err, ErrTransmissionFailure))
}

func TestExchange_EmptyPayload(t *testing.T) {
	f := addressedFormat()
	l, _ := newTestLink(t, f, addressedHandshake(), nil)

	_, err := l.Exchange(context.Background(), &Request{})
	assert.ErrorIs(t, err, frame.ErrEmptyPayload)
}
