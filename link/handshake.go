package link

import (
	"bytes"
	"fmt"
	"time"

	"github.com/arloliu/go-cashio/frame"
)

// Stage names a timed stage of a handshake session.
type Stage uint8

const (
	// StageLineRequest covers sending the line request (DLE ENQ) and waiting
	// for the device to grant the line.
	StageLineRequest Stage = iota
	// StageDeliveryAck covers waiting for the device to acknowledge receipt of
	// the command frame.
	StageDeliveryAck
	// StageResponse covers waiting for a valid response frame.
	StageResponse

	stageCount
)

func (s Stage) String() string {
	switch s {
	case StageLineRequest:
		return "line-request"
	case StageDeliveryAck:
		return "delivery-ack"
	case StageResponse:
		return "response"
	default:
		return "unknown"
	}
}

// Stage policy limits.
const (
	DefaultStageRetries = 3
	MaxStageRetries     = 31

	MinStageTimeout = 5 * time.Millisecond
	MaxStageTimeout = 60 * time.Second
)

// StagePolicy bounds one timed stage.
type StagePolicy struct {
	// Retries is the number of retries after the first attempt.
	Retries int
	// Timeout is armed on entry to the stage and on every retry.
	Timeout time.Duration
}

func (p StagePolicy) validate(stage Stage) error {
	if p.Retries < 0 || p.Retries > MaxStageRetries {
		return fmt.Errorf("%w: %s retries %d out of range [0, %d]",
			ErrInvalidHandshake, stage, p.Retries, MaxStageRetries)
	}

	if p.Timeout < MinStageTimeout || p.Timeout > MaxStageTimeout {
		return fmt.Errorf("%w: %s timeout %v out of range [%v, %v]",
			ErrInvalidHandshake, stage, p.Timeout, MinStageTimeout, MaxStageTimeout)
	}

	return nil
}

// Reply is a link-level acknowledgment exchanged between host and device.
//
// Byte-stuffed formats use a DLE control sequence (Control); length-delimited
// formats use a short framed payload.
type Reply struct {
	Control byte
	Payload []byte
}

// ControlReply returns a reply sent as the DLE control sequence ctl.
func ControlReply(ctl byte) *Reply { return &Reply{Control: ctl} }

// FrameReply returns a reply sent as a frame carrying payload.
func FrameReply(payload ...byte) *Reply { return &Reply{Payload: payload} }

func (r *Reply) matches(fr frame.Frame) bool {
	if r.Control != 0 {
		return fr.Control == r.Control
	}

	return !fr.IsControl() && bytes.Equal(fr.Payload, r.Payload)
}

func (r *Reply) encode(f *frame.Format) ([]byte, error) {
	if r.Control != 0 {
		return frame.EncodeControl(f, r.Control)
	}

	return frame.Encode(f, r.Payload)
}

func (r *Reply) String() string {
	if r.Control != 0 {
		return fmt.Sprintf("DLE 0x%02X", r.Control)
	}

	return fmt.Sprintf("frame % X", r.Payload)
}

func (r *Reply) validate(f *frame.Format, name string) error {
	if r.Control == 0 && len(r.Payload) == 0 {
		return fmt.Errorf("%w: %s reply is empty", ErrInvalidHandshake, name)
	}

	if _, err := r.encode(f); err != nil {
		return fmt.Errorf("%w: %s reply: %w", ErrInvalidHandshake, name, err)
	}

	return nil
}

// HandshakeConfig describes the handshake stages of a peripheral family.
type HandshakeConfig struct {
	// LineRequest enables the line-control stage. When set, every session
	// starts by sending Enquiry and waiting for LineGrant.
	LineRequest *StagePolicy
	Enquiry     *Reply
	LineGrant   *Reply

	// DeliveryAck enables waiting for the device to acknowledge the command
	// frame with Ack before its response is awaited. A Nak answer resends it.
	DeliveryAck *StagePolicy

	// Response bounds waiting for the response frame.
	Response StagePolicy

	// Ack is sent after every valid response, unless the response is itself
	// an Ack. Nil when the family does not acknowledge responses.
	Ack *Reply
	// Nak is sent when a response fails its checksum; the device then
	// retransmits. A Nak received from the device makes the host resend.
	// Nil when the family has no negative acknowledgment, in which case a
	// corrupt response makes the host resend its command.
	Nak *Reply
}

// Validate checks the handshake against the frame format it runs over.
func (hs *HandshakeConfig) Validate(f *frame.Format) error {
	if err := hs.Response.validate(StageResponse); err != nil {
		return err
	}

	if hs.LineRequest != nil {
		if err := hs.LineRequest.validate(StageLineRequest); err != nil {
			return err
		}

		if hs.Enquiry == nil || hs.LineGrant == nil {
			return fmt.Errorf("%w: line request stage needs enquiry and grant replies", ErrInvalidHandshake)
		}

		if err := hs.Enquiry.validate(f, "enquiry"); err != nil {
			return err
		}

		if err := hs.LineGrant.validate(f, "line grant"); err != nil {
			return err
		}
	}

	if hs.DeliveryAck != nil {
		if err := hs.DeliveryAck.validate(StageDeliveryAck); err != nil {
			return err
		}

		if hs.Ack == nil {
			return fmt.Errorf("%w: delivery ack stage needs an ack reply", ErrInvalidHandshake)
		}
	}

	if hs.Ack != nil {
		if err := hs.Ack.validate(f, "ack"); err != nil {
			return err
		}
	}

	if hs.Nak != nil {
		if err := hs.Nak.validate(f, "nak"); err != nil {
			return err
		}
	}

	return nil
}

func (hs *HandshakeConfig) policy(stage Stage) StagePolicy {
	switch stage {
	case StageLineRequest:
		if hs.LineRequest != nil {
			return *hs.LineRequest
		}
	case StageDeliveryAck:
		if hs.DeliveryAck != nil {
			return *hs.DeliveryAck
		}
	case StageResponse:
		return hs.Response
	}

	return StagePolicy{}
}

// Request is one command to run over the link.
type Request struct {
	// Payload is the command byte followed by its data.
	Payload []byte
	// Poll marks a low-priority status poll.
	Poll bool
	// NoReply marks commands the device does not answer; the session concludes
	// once the command is delivered.
	NoReply bool
	// NoResend marks commands that must not be transmitted again once the
	// device has acknowledged delivery, such as a dispense. Response failures
	// then only extend the wait for the answer.
	NoResend bool
}

// Command returns the command byte of the request.
func (r *Request) Command() byte {
	if len(r.Payload) == 0 {
		return 0
	}

	return r.Payload[0]
}

// Response is the validated outcome of a session.
type Response struct {
	// Command is the command byte of the originating request.
	Command byte
	// Payload is the checksum-verified response payload. Nil for NoReply requests.
	Payload []byte
	// Transmissions is the number of times the command frame was sent.
	Transmissions int
}
