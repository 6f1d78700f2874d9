// Package journal keeps an append-only CBOR audit trail of the events emitted
// by cash peripherals.
//
// Records use integer map keys for compactness. A journal file is a plain
// sequence of CBOR items and can be appended to by successive runs.
package journal

import (
	"fmt"
	"strings"
	"time"

	"github.com/arloliu/go-cashio/device"
)

// Record is the journal form of one device event.
type Record struct {
	Time         time.Time `cbor:"1,keyasint"`
	ConnectionID string    `cbor:"2,keyasint"`
	Family       string    `cbor:"3,keyasint"`
	Kind         string    `cbor:"4,keyasint"`
	State        string    `cbor:"5,keyasint"`
	Bill         *Bill     `cbor:"6,keyasint,omitempty"`
	Reason       string    `cbor:"7,keyasint,omitempty"`
	ReasonCode   uint8     `cbor:"8,keyasint,omitempty"`
	Slots        []Slot    `cbor:"9,keyasint,omitempty"`
	Error        string    `cbor:"10,keyasint,omitempty"`
}

// Bill is a denomination as recorded in the journal.
type Bill struct {
	Code     int    `cbor:"1,keyasint"`
	Mantissa uint8  `cbor:"2,keyasint"`
	Exponent int    `cbor:"3,keyasint"`
	Country  string `cbor:"4,keyasint,omitempty"`
}

// Slot is a per-cassette dispense result as recorded in the journal.
type Slot struct {
	Slot      int `cbor:"1,keyasint"`
	Requested int `cbor:"2,keyasint"`
	Dispensed int `cbor:"3,keyasint"`
	Rejected  int `cbor:"4,keyasint"`
}

// FromEvent converts ev to a record.
func FromEvent(connID, family string, ev device.Event) Record {
	rec := Record{
		Time:         ev.Time,
		ConnectionID: connID,
		Family:       family,
		Kind:         ev.Kind.String(),
		State:        ev.State.String(),
	}

	if d := ev.Denomination; d != nil {
		rec.Bill = &Bill{Code: d.Code, Mantissa: d.Mantissa, Exponent: d.Exponent, Country: d.Country}
	}

	if r := ev.Reason; r != nil {
		rec.Reason = r.Text
		rec.ReasonCode = r.Code
	}

	for _, s := range ev.Slots {
		rec.Slots = append(rec.Slots, Slot{
			Slot:      s.Slot,
			Requested: s.Requested,
			Dispensed: s.Dispensed,
			Rejected:  s.Rejected,
		})
	}

	if ev.Err != nil {
		rec.Error = ev.Err.Error()
	}

	return rec
}

// String formats the record as one line for terminals.
func (r Record) String() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "%s %s %-14s state=%s", r.Time.Format(time.RFC3339Nano), r.Family, r.Kind, r.State)

	if r.Bill != nil {
		fmt.Fprintf(&sb, " bill=%d:%de%d %s", r.Bill.Code, r.Bill.Mantissa, r.Bill.Exponent, r.Bill.Country)
	}
	if r.Reason != "" {
		fmt.Fprintf(&sb, " reason=%q(0x%02X)", r.Reason, r.ReasonCode)
	}
	for _, s := range r.Slots {
		fmt.Fprintf(&sb, " slot%d=%d/%d", s.Slot, s.Dispensed, s.Requested)
	}
	if r.Error != "" {
		fmt.Fprintf(&sb, " error=%q", r.Error)
	}

	return sb.String()
}
