package profile

import (
	"fmt"
	"time"

	"github.com/arloliu/go-cashio/denom"
	"github.com/arloliu/go-cashio/device"
	"github.com/arloliu/go-cashio/frame"
	"github.com/arloliu/go-cashio/link"
)

// f56 link-control and command bytes
const (
	f56DLE = 0x10
	f56STX = 0x02
	f56ETX = 0x03
	f56ENQ = 0x05
	f56ACK = 0x06
	f56NAK = 0x15

	f56Reset    = 0x30
	f56Status   = 0x31
	f56Dispense = 0x40

	f56OK = 0x00
)

// Dispense request bounds.
const (
	F56MaxCassettes = 4
	F56MaxNotes     = 200
)

var f56Errors = device.ReasonTable{
	0x01: "pick failure",
	0x02: "note jam",
	0x03: "cassette missing",
	0x04: "cassette empty",
	0x05: "reject vault full",
	0x06: "exit blocked",
	0x07: "sensor failure",
	0x08: "count mismatch",
}

var f56Signals = map[byte]device.Signal{
	0x02: device.SignalJam,
	0x03: device.SignalStackerOpen,
	0x05: device.SignalStackerFull,
	0x06: device.SignalJam,
}

// F56 returns the profile of F56 bill dispensers.
func F56() *Profile {
	serial := link.DefaultSerialConfig()
	serial.Parity = "even"

	return &Profile{
		Name: "f56",
		Role: RoleDispenser,
		Format: frame.Format{
			Stuffing:      &frame.Stuffing{DLE: f56DLE, STX: f56STX, ETX: f56ETX},
			Checksum:      frame.CRC16XModem,
			ChecksumOrder: frame.BigEndian,
			MaxPayload:    250,
		},
		Handshake: link.HandshakeConfig{
			LineRequest: &link.StagePolicy{Retries: 3, Timeout: 500 * time.Millisecond},
			Enquiry:     link.ControlReply(f56ENQ),
			LineGrant:   link.ControlReply(f56ACK),
			DeliveryAck: &link.StagePolicy{Retries: 3, Timeout: 500 * time.Millisecond},
			// notes are counted out before the response is sent
			Response: link.StagePolicy{Retries: 1, Timeout: 30 * time.Second},
			Ack:      link.ControlReply(f56ACK),
			Nak:      link.ControlReply(f56NAK),
		},
		Serial:         serial,
		SettleDelay:    100 * time.Millisecond,
		ConnectTimeout: 60 * time.Second,
		Dialect:        f56Dialect{},
	}
}

type f56Dialect struct{}

func (f56Dialect) Build(cmd device.Command, counts []int) (*link.Request, error) {
	switch cmd {
	case device.CommandReset:
		return request(f56Reset), nil
	case device.CommandPoll:
		return request(f56Status), nil
	case device.CommandDispense:
		if len(counts) == 0 || len(counts) > F56MaxCassettes {
			return nil, fmt.Errorf("%w: %d cassettes, want 1 to %d", ErrInvalidDispense, len(counts), F56MaxCassettes)
		}

		p := make([]byte, 0, 2+len(counts))
		p = append(p, f56Dispense, byte(len(counts)))

		total := 0
		for i, n := range counts {
			if n < 0 || n > F56MaxNotes {
				return nil, fmt.Errorf("%w: cassette %d count %d not in [0, %d]", ErrInvalidDispense, i, n, F56MaxNotes)
			}
			total += n
			p = append(p, byte(n))
		}

		if total == 0 {
			return nil, fmt.Errorf("%w: nothing to dispense", ErrInvalidDispense)
		}

		// a resent dispense would pay out twice
		req := request(p...)
		req.NoResend = true

		return req, nil
	default:
		return nil, unsupported("f56", cmd)
	}
}

// ParseStatus decodes [cmd][status] responses; dispense responses append
// [n] and n pairs of [dispensed][rejected].
func (f56Dialect) ParseStatus(cmd device.Command, resp *link.Response) (device.Status, error) {
	p, err := payload(resp)
	if err != nil {
		return device.Status{}, err
	}

	if len(p) < 2 {
		return device.Status{}, fmt.Errorf("%w: f56 response without status", ErrMalformedResponse)
	}

	code := p[1]
	st := device.Status{Code: code}

	switch {
	case code == f56OK && cmd == device.CommandDispense:
		st.Signal = device.SignalDispensed
	case code == f56OK && cmd == device.CommandReset:
		st.Signal = device.SignalPowerUp
	case code == f56OK:
		st.Signal = device.SignalIdle
	default:
		st.Reason = f56Errors.Lookup(code)
		st.Signal = device.SignalFailure
		if sig, ok := f56Signals[code]; ok {
			st.Signal = sig
		}
	}

	if cmd == device.CommandDispense {
		if st.Slots, err = f56Slots(p[2:]); err != nil {
			return device.Status{}, err
		}
	}

	return st, nil
}

func f56Slots(p []byte) ([]device.SlotResult, error) {
	if len(p) == 0 {
		return nil, nil
	}

	n := int(p[0])
	if len(p) != 1+2*n {
		return nil, fmt.Errorf("%w: f56 dispense result for %d cassettes is %d bytes", ErrMalformedResponse, n, len(p))
	}

	slots := make([]device.SlotResult, n)
	for i := range slots {
		slots[i] = device.SlotResult{
			Slot:      i,
			Dispensed: int(p[1+2*i]),
			Rejected:  int(p[2+2*i]),
		}
	}

	return slots, nil
}

func (f56Dialect) ParseDenominations(*link.Response) (*denom.Table, error) {
	return nil, unsupported("f56", device.CommandGetDenominations)
}
