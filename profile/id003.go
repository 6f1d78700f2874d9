package profile

import (
	"fmt"
	"time"

	"github.com/arloliu/go-cashio/denom"
	"github.com/arloliu/go-cashio/device"
	"github.com/arloliu/go-cashio/frame"
	"github.com/arloliu/go-cashio/link"
)

// id003 command bytes
const (
	id003StatusRequest  = 0x11
	id003Reset          = 0x40
	id003Stack1         = 0x41
	id003Return         = 0x43
	id003Ack            = 0x50
	id003Inhibit        = 0xC3
	id003CurrencyAssign = 0x8A

	id003InvalidCommand = 0x4B
)

var id003RejectReasons = device.ReasonTable{
	0x71: "insertion error",
	0x72: "mag error",
	0x73: "residual bill at head",
	0x74: "compensation error",
	0x75: "conveying error",
	0x76: "denomination assessing error",
	0x77: "photo pattern error",
	0x78: "photo level error",
	0x79: "inhibited denomination",
	0x7B: "operation error",
	0x7C: "returned during stacking",
	0x7D: "length error",
	0x7E: "photo pattern error (2)",
	0x7F: "true bill feature error",
}

var id003Failures = device.ReasonTable{
	0xA2: "stack motor failure",
	0xA5: "transport motor speed failure",
	0xA6: "transport motor failure",
	0xA8: "solenoid failure",
	0xA9: "PB unit failure",
	0xAB: "cash box not ready",
	0xAF: "validator head removed",
	0xB0: "boot ROM failure",
	0xB1: "external ROM failure",
	0xB2: "RAM failure",
	0xB3: "external ROM writing failure",
}

var id003Jams = device.ReasonTable{
	0x45: "jam in acceptor",
	0x46: "jam in stacker",
}

var id003Statuses = map[byte]device.Signal{
	0x11: device.SignalIdle,
	0x12: device.SignalAccepting,
	0x13: device.SignalEscrow,
	0x14: device.SignalStacking,
	0x15: device.SignalVendValid,
	0x16: device.SignalStacked,
	0x17: device.SignalRejecting,
	0x18: device.SignalReturning,
	0x19: device.SignalHolding,
	0x1A: device.SignalDisabled,
	0x1B: device.SignalInitializing,
	0x40: device.SignalPowerUp,
	0x41: device.SignalPowerUp, // bill in acceptor
	0x42: device.SignalPowerUp, // bill in stacker
	0x43: device.SignalStackerFull,
	0x44: device.SignalStackerOpen,
	0x45: device.SignalJam,
	0x46: device.SignalJam,
	0x47: device.SignalPaused,
	0x48: device.SignalCheated,
	0x49: device.SignalFailure,
	0x4A: device.SignalCommandRejected, // communication error

	id003InvalidCommand: device.SignalCommandRejected,
	id003Ack:            device.SignalAck,
	id003Inhibit:        device.SignalAck, // setting echo
	id003CurrencyAssign: device.SignalAck,
}

// ID003 returns the profile of ID-003 bill validators.
func ID003() *Profile {
	serial := link.DefaultSerialConfig()
	serial.Parity = "even"

	return &Profile{
		Name: "id003",
		Role: RoleValidator,
		Format: frame.Format{
			Sync:          []byte{0xFC},
			LengthMode:    frame.LengthTotal,
			LengthWidth:   1,
			Checksum:      frame.CRC16Kermit,
			ChecksumOrder: frame.LittleEndian,
			MaxPayload:    250,
		},
		Handshake: link.HandshakeConfig{
			Response: link.StagePolicy{Retries: 3, Timeout: 300 * time.Millisecond},
		},
		Serial:         serial,
		PollInterval:   200 * time.Millisecond,
		SettleDelay:    50 * time.Millisecond,
		StuckTimeout:   10 * time.Second,
		ConnectTimeout: 10 * time.Second,
		Dialect:        id003Dialect{},
	}
}

type id003Dialect struct{}

func (id003Dialect) Build(cmd device.Command, _ []int) (*link.Request, error) {
	switch cmd {
	case device.CommandReset:
		return request(id003Reset), nil
	case device.CommandPoll:
		req := request(id003StatusRequest)
		req.Poll = true

		return req, nil
	case device.CommandEnable:
		return request(id003Inhibit, 0x00), nil
	case device.CommandDisable:
		return request(id003Inhibit, 0x01), nil
	case device.CommandStack:
		return request(id003Stack1), nil
	case device.CommandReturn:
		return request(id003Return), nil
	case device.CommandAckValid:
		req := request(id003Ack)
		req.NoReply = true

		return req, nil
	case device.CommandGetDenominations:
		return request(id003CurrencyAssign), nil
	default:
		return nil, unsupported("id003", cmd)
	}
}

func (id003Dialect) ParseStatus(_ device.Command, resp *link.Response) (device.Status, error) {
	p, err := payload(resp)
	if err != nil {
		return device.Status{}, err
	}

	code := p[0]

	sig, ok := id003Statuses[code]
	if !ok {
		return device.Status{}, fmt.Errorf("%w: id003 status 0x%02X", ErrMalformedResponse, code)
	}

	st := device.Status{Signal: sig, Code: code}

	switch sig {
	case device.SignalEscrow:
		if len(p) < 2 {
			return device.Status{}, fmt.Errorf("%w: id003 escrow without bill code", ErrMalformedResponse)
		}
		st.Bill = int(p[1])
	case device.SignalRejecting:
		st.Reason = reasonByte(id003RejectReasons, p)
	case device.SignalFailure:
		st.Reason = reasonByte(id003Failures, p)
	case device.SignalJam:
		st.Reason = id003Jams.Lookup(code)
	default:
	}

	return st, nil
}

func (id003Dialect) ParseDenominations(resp *link.Response) (*denom.Table, error) {
	p, err := payload(resp)
	if err != nil {
		return nil, err
	}

	if p[0] != id003CurrencyAssign {
		return nil, fmt.Errorf("%w: id003 currency assign echo 0x%02X", ErrMalformedResponse, p[0])
	}

	return denom.Build(denom.ID003Layout, p[1:])
}
