package profile

import (
	"fmt"
	"time"

	"github.com/arloliu/go-cashio/denom"
	"github.com/arloliu/go-cashio/device"
	"github.com/arloliu/go-cashio/frame"
	"github.com/arloliu/go-cashio/link"
)

// ccnet command bytes
const (
	ccnetReset        = 0x30
	ccnetPoll         = 0x33
	ccnetEnableBills  = 0x34
	ccnetStack        = 0x35
	ccnetReturn       = 0x36
	ccnetGetBillTable = 0x41

	ccnetAck     = 0x00
	ccnetNak     = 0xFF
	ccnetIllegal = 0x30

	ccnetPeripheralAddress = 0x03
	ccnetBillTableSize     = 24 * 5
)

var ccnetRejectReasons = device.ReasonTable{
	0x60: "insertion",
	0x61: "magnetic",
	0x62: "remained bill in head",
	0x63: "multiplying",
	0x64: "conveying",
	0x65: "identification",
	0x66: "verification",
	0x67: "optic",
	0x68: "inhibit",
	0x69: "capacity",
	0x6A: "operation",
	0x6C: "length",
}

var ccnetFailures = device.ReasonTable{
	0x50: "stack motor failure",
	0x51: "transport motor speed failure",
	0x52: "transport motor failure",
	0x53: "aligning motor failure",
	0x54: "initial cassette status failure",
	0x55: "optic canal failure",
	0x56: "magnetic canal failure",
	0x5F: "capacitance canal failure",
}

var ccnetStatuses = map[byte]device.Signal{
	0x10: device.SignalPowerUp,
	0x11: device.SignalPowerUp, // bill in validator
	0x12: device.SignalPowerUp, // bill in stacker
	0x13: device.SignalInitializing,
	0x14: device.SignalIdle,
	0x15: device.SignalAccepting,
	0x17: device.SignalStacking,
	0x18: device.SignalReturning,
	0x19: device.SignalDisabled,
	0x1A: device.SignalHolding,
	0x1B: device.SignalBusy,
	0x1C: device.SignalRejecting,
	0x41: device.SignalStackerFull,
	0x42: device.SignalStackerOpen, // drop cassette out of position
	0x43: device.SignalJam,         // validator jammed
	0x44: device.SignalJam,         // drop cassette jammed
	0x45: device.SignalCheated,
	0x46: device.SignalPaused,
	0x47: device.SignalFailure,
	0x80: device.SignalEscrow,
	0x81: device.SignalStacked,
	0x82: device.SignalReturned,
}

var ccnetJams = device.ReasonTable{
	0x43: "validator jammed",
	0x44: "drop cassette jammed",
}

// CCNet returns the profile of CCNet bill validators.
func CCNet() *Profile {
	return &Profile{
		Name: "ccnet",
		Role: RoleValidator,
		Format: frame.Format{
			Sync:          []byte{0x02},
			HasAddress:    true,
			Address:       ccnetPeripheralAddress,
			LengthMode:    frame.LengthTotal,
			LengthWidth:   1,
			Checksum:      frame.CRC16Kermit,
			ChecksumOrder: frame.LittleEndian,
			MaxPayload:    250,
		},
		Handshake: link.HandshakeConfig{
			Response: link.StagePolicy{Retries: 3, Timeout: 200 * time.Millisecond},
			Ack:      link.FrameReply(ccnetAck),
			Nak:      link.FrameReply(ccnetNak),
		},
		Serial:         link.DefaultSerialConfig(),
		PollInterval:   200 * time.Millisecond,
		SettleDelay:    50 * time.Millisecond,
		StuckTimeout:   10 * time.Second,
		ConnectTimeout: 10 * time.Second,
		Dialect:        ccnetDialect{},
	}
}

type ccnetDialect struct{}

func (ccnetDialect) Build(cmd device.Command, _ []int) (*link.Request, error) {
	switch cmd {
	case device.CommandReset:
		return request(ccnetReset), nil
	case device.CommandPoll:
		req := request(ccnetPoll)
		req.Poll = true

		return req, nil
	case device.CommandEnable:
		// all bill types enabled, all held in escrow
		return request(ccnetEnableBills, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF), nil
	case device.CommandDisable:
		return request(ccnetEnableBills, 0, 0, 0, 0, 0, 0), nil
	case device.CommandStack:
		return request(ccnetStack), nil
	case device.CommandReturn:
		return request(ccnetReturn), nil
	case device.CommandGetDenominations:
		return request(ccnetGetBillTable), nil
	default:
		return nil, unsupported("ccnet", cmd)
	}
}

func (ccnetDialect) ParseStatus(cmd device.Command, resp *link.Response) (device.Status, error) {
	p, err := payload(resp)
	if err != nil {
		return device.Status{}, err
	}

	code := p[0]

	if cmd != device.CommandPoll {
		switch code {
		case ccnetAck:
			return device.Status{Signal: device.SignalAck, Code: code}, nil
		case ccnetIllegal:
			return device.Status{Signal: device.SignalCommandRejected, Code: code}, nil
		}
	}

	sig, ok := ccnetStatuses[code]
	if !ok {
		return device.Status{}, fmt.Errorf("%w: ccnet status 0x%02X", ErrMalformedResponse, code)
	}

	st := device.Status{Signal: sig, Code: code}

	switch sig {
	case device.SignalEscrow, device.SignalStacked, device.SignalReturned:
		if len(p) < 2 {
			return device.Status{}, fmt.Errorf("%w: ccnet status 0x%02X without bill type", ErrMalformedResponse, code)
		}
		st.Bill = int(p[1])
	case device.SignalRejecting:
		st.Reason = reasonByte(ccnetRejectReasons, p)
	case device.SignalFailure:
		st.Reason = reasonByte(ccnetFailures, p)
	case device.SignalJam:
		st.Reason = ccnetJams.Lookup(code)
	default:
	}

	return st, nil
}

func (ccnetDialect) ParseDenominations(resp *link.Response) (*denom.Table, error) {
	p, err := payload(resp)
	if err != nil {
		return nil, err
	}

	if len(p) != ccnetBillTableSize {
		return nil, fmt.Errorf("%w: ccnet bill table is %d bytes, want %d", ErrMalformedResponse, len(p), ccnetBillTableSize)
	}

	return denom.Build(denom.CCNetLayout, p)
}

// reasonByte looks up the reason carried in the second payload byte.
func reasonByte(t device.ReasonTable, p []byte) device.Reason {
	if len(p) < 2 {
		return device.Reason{Text: device.ReasonUnknown}
	}

	return t.Lookup(p[1])
}
