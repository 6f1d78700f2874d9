// Package link runs request/response exchanges with a cash peripheral over a
// half-duplex serial line.
//
// A [Link] owns the serial [Port] and the stream [frame.Decoder]; it is the only
// reader of the incoming byte stream. Each call to [Link.Exchange] runs one
// handshake session through the stages configured in [HandshakeConfig]:
//
//	Idle -> [LineRequest -> AwaitLineAck] -> Sending -> [AwaitDeliveryAck]
//	     -> AwaitResponse -> ValidateChecksum -> Concluded
//
// Stages in brackets are skipped when the profile does not define them. Every
// timed stage has its own [StagePolicy] and its own retry counter, and
// exhausting one concludes the session with a [*TransmissionError] naming that
// stage.
//
// A [Gate] tracks link occupancy: at most one session is in flight, low
// priority polls are skipped while the link is busy and commands fail fast with
// [ErrBusy].
package link
