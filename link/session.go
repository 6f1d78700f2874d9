package link

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/arloliu/go-cashio/frame"
)

// state is the position of a session in the handshake state machine.
type state uint8

const (
	stateIdle state = iota
	stateLineRequest
	stateAwaitLineAck
	stateSending
	stateAwaitDeliveryAck
	stateAwaitResponse
	stateValidateChecksum
	stateConcluded
)

func (s state) String() string {
	switch s {
	case stateIdle:
		return "Idle"
	case stateLineRequest:
		return "LineRequest"
	case stateAwaitLineAck:
		return "AwaitLineAck"
	case stateSending:
		return "Sending"
	case stateAwaitDeliveryAck:
		return "AwaitDeliveryAck"
	case stateAwaitResponse:
		return "AwaitResponse"
	case stateValidateChecksum:
		return "ValidateChecksum"
	case stateConcluded:
		return "Concluded"
	default:
		return "Unknown"
	}
}

// outcome tells the session loop what to do after a stage.
type outcome uint8

const (
	proceed outcome = iota // stage succeeded
	resend                 // transmit the command again
)

// session is the mutable state of one in-flight request. It lives for a single
// Exchange call.
type session struct {
	link  *Link
	req   *Request
	wire  []byte
	state state
	sends int

	// delivered is set once the device has taken the command frame.
	delivered bool

	// failures counts failed attempts per stage; each stage is bounded on its own.
	failures [stageCount]int
}

func (s *session) run(ctx context.Context) (*Response, error) {
	hs := &s.link.hs

	if hs.LineRequest != nil {
		if err := s.requestLine(ctx); err != nil {
			return nil, s.conclude(err)
		}
	}

	for {
		if err := s.transmit(); err != nil {
			return nil, s.conclude(err)
		}

		if hs.DeliveryAck != nil {
			next, err := s.awaitDelivery(ctx)
			if err != nil {
				return nil, s.conclude(err)
			}

			if next == resend {
				continue
			}
		}
		s.delivered = true

		if s.req.NoReply {
			s.conclude(nil)
			return &Response{Command: s.req.Command(), Transmissions: s.sends}, nil
		}

		resp, next, err := s.awaitResponse(ctx)
		if err != nil {
			return nil, s.conclude(err)
		}

		if next == resend {
			continue
		}

		s.conclude(nil)

		return resp, nil
	}
}

// committed reports whether the command may no longer be transmitted again.
func (s *session) committed() bool {
	return s.req.NoResend && s.delivered
}

func (s *session) enter(st state) {
	s.state = st
}

func (s *session) conclude(err error) error {
	s.enter(stateConcluded)

	if err != nil && !errors.Is(err, ErrLinkClosed) {
		s.link.logger.Debug("link: session failed",
			"command", fmt.Sprintf("0x%02X", s.req.Command()),
			"sends", s.sends,
			"error", err,
		)
	}

	return err
}

// fail records a failed attempt of stage. It returns the concluding
// *TransmissionError once the stage has no retries left, nil otherwise.
func (s *session) fail(stage Stage, cause error) error {
	p := s.link.hs.policy(stage)
	s.failures[stage]++

	if s.failures[stage] > p.Retries {
		s.link.metrics.incFailureCount()

		return &TransmissionError{Stage: stage, Attempts: s.failures[stage], Err: cause}
	}

	s.link.metrics.incRetryCount()
	s.link.logger.Debug("link: retry",
		"stage", stage.String(),
		"retry", s.failures[stage],
		"maxRetry", p.Retries,
		"state", s.state.String(),
		"error", cause,
	)

	return nil
}

func (s *session) timeout(stage Stage) error {
	return fmt.Errorf("%w: %s stage after %v", ErrTimeout, stage, s.link.hs.policy(stage).Timeout)
}

// requestLine sends the enquiry until the device grants the line.
func (s *session) requestLine(ctx context.Context) error {
	hs := &s.link.hs
	enq, err := hs.Enquiry.encode(s.link.format)
	if err != nil {
		return err
	}

	for {
		s.enter(stateLineRequest)

		if err := s.link.write(enq); err != nil {
			return err
		}

		s.enter(stateAwaitLineAck)

		cause := s.awaitReply(ctx, StageLineRequest, hs.LineGrant)
		if cause == nil {
			return nil
		}

		if !isRetryable(cause) {
			return cause
		}

		if err := s.fail(StageLineRequest, cause); err != nil {
			return err
		}
	}
}

// transmit writes the command frame with a clean input buffer.
func (s *session) transmit() error {
	s.enter(stateSending)
	s.link.resetInput()

	if err := s.link.write(s.wire); err != nil {
		return err
	}

	s.sends++

	return nil
}

// awaitDelivery waits for the device to acknowledge the command frame.
func (s *session) awaitDelivery(ctx context.Context) (outcome, error) {
	s.enter(stateAwaitDeliveryAck)

	cause := s.awaitReply(ctx, StageDeliveryAck, s.link.hs.Ack)
	if cause == nil {
		return proceed, nil
	}

	if !isRetryable(cause) {
		return proceed, cause
	}

	if err := s.fail(StageDeliveryAck, cause); err != nil {
		return proceed, err
	}

	return resend, nil
}

// awaitReply waits for want within the stage timeout. It returns nil when want
// arrives, a stage timeout, ErrNak when the device refuses, or an I/O error.
// Any other traffic is ignored.
func (s *session) awaitReply(ctx context.Context, stage Stage, want *Reply) error {
	nak := s.link.hs.Nak
	deadline := time.Now().Add(s.link.hs.policy(stage).Timeout)

	for {
		fr, err := s.link.nextFrame(ctx, deadline)

		switch {
		case errors.Is(err, ErrTimeout):
			return s.timeout(stage)
		case errors.Is(err, frame.ErrChecksumMismatch):
			continue
		case err != nil:
			return err
		}

		if want.matches(fr) {
			return nil
		}

		if nak != nil && nak.matches(fr) {
			s.link.metrics.incNakCount()
			return ErrNak
		}

		s.link.logger.Debug("link: ignoring unexpected frame",
			"stage", stage.String(),
			"raw", fmt.Sprintf("% X", fr.Raw),
		)
	}
}

// awaitResponse waits for the response frame and acknowledges it.
func (s *session) awaitResponse(ctx context.Context) (*Response, outcome, error) {
	hs := &s.link.hs
	timeout := hs.Response.Timeout
	deadline := time.Now().Add(timeout)

	for {
		s.enter(stateAwaitResponse)

		fr, err := s.link.nextFrame(ctx, deadline)

		switch {
		case errors.Is(err, ErrTimeout):
			if err := s.fail(StageResponse, s.timeout(StageResponse)); err != nil {
				return nil, proceed, err
			}

			if s.committed() {
				deadline = time.Now().Add(timeout)
				continue
			}

			return nil, resend, nil

		case errors.Is(err, frame.ErrChecksumMismatch):
			s.enter(stateValidateChecksum)

			if err := s.fail(StageResponse, err); err != nil {
				return nil, proceed, err
			}

			// sync bytes inside the corrupt frame must not count as
			// further responses
			s.link.dropBuffered()

			if hs.Nak == nil {
				if s.committed() {
					continue
				}

				return nil, resend, nil
			}

			// Ask the device to retransmit and wait for it afresh.
			if err := s.reply(hs.Nak); err != nil {
				return nil, proceed, err
			}
			deadline = time.Now().Add(timeout)

			continue

		case err != nil:
			return nil, proceed, err
		}

		s.enter(stateValidateChecksum)

		if hs.Nak != nil && hs.Nak.matches(fr) {
			s.link.metrics.incNakCount()

			if err := s.fail(StageResponse, ErrNak); err != nil {
				return nil, proceed, err
			}

			if s.committed() {
				continue
			}

			return nil, resend, nil
		}

		if fr.IsControl() {
			s.link.logger.Debug("link: ignoring control sequence while awaiting response",
				"control", fmt.Sprintf("0x%02X", fr.Control),
			)

			continue
		}

		if hs.Ack != nil && !hs.Ack.matches(fr) {
			if err := s.reply(hs.Ack); err != nil {
				return nil, proceed, err
			}
		}

		return &Response{
			Command:       s.req.Command(),
			Payload:       fr.Payload,
			Transmissions: s.sends,
		}, proceed, nil
	}
}

func (s *session) reply(r *Reply) error {
	wire, err := r.encode(s.link.format)
	if err != nil {
		return err
	}

	return s.link.write(wire)
}

func isRetryable(err error) bool {
	return errors.Is(err, ErrTimeout) || errors.Is(err, ErrNak)
}
