package device

import (
	"fmt"
	"strings"
	"time"

	"github.com/arloliu/go-cashio/denom"
)

// EventKind identifies an event emitted towards the application.
type EventKind uint8

const (
	EventBillAccepted EventKind = iota + 1
	EventBillRead
	EventBillValid
	EventBillRejected
	EventBillReturned
	EventJam
	EventStackerOpen
	EventStackerClosed
	EventStackerFull
	EventStuck
	EventDisconnected
	EventError
	EventDispensed
)

var eventNames = map[EventKind]string{
	EventBillAccepted:  "bill-accepted",
	EventBillRead:      "bill-read",
	EventBillValid:     "bill-valid",
	EventBillRejected:  "bill-rejected",
	EventBillReturned:  "bill-returned",
	EventJam:           "jam",
	EventStackerOpen:   "stacker-open",
	EventStackerClosed: "stacker-closed",
	EventStackerFull:   "stacker-full",
	EventStuck:         "stuck",
	EventDisconnected:  "disconnected",
	EventError:         "error",
	EventDispensed:     "dispensed",
}

func (k EventKind) String() string {
	if name, ok := eventNames[k]; ok {
		return name
	}

	return "unknown"
}

// ParseEventKind returns the kind named name, as printed by String.
func ParseEventKind(name string) (EventKind, error) {
	name = strings.ToLower(strings.TrimSpace(name))
	for k, n := range eventNames {
		if n == name {
			return k, nil
		}
	}

	return 0, fmt.Errorf("device: unknown event kind %q", name)
}

// Event is an application-level occurrence derived from a state transition.
type Event struct {
	Kind EventKind
	// State is the device state once the event happened.
	State State
	Time  time.Time

	Denomination *denom.Denomination
	Reason       *Reason
	Slots        []SlotResult
	Err          error
}

func (e Event) String() string {
	var sb strings.Builder
	sb.WriteString(e.Kind.String())
	fmt.Fprintf(&sb, " state=%s", e.State)

	if e.Denomination != nil {
		fmt.Fprintf(&sb, " bill=%s", e.Denomination)
	}
	if e.Reason != nil {
		fmt.Fprintf(&sb, " reason=%q", e.Reason)
	}
	for _, s := range e.Slots {
		fmt.Fprintf(&sb, " [%s]", s)
	}
	if e.Err != nil {
		fmt.Fprintf(&sb, " err=%q", e.Err)
	}

	return sb.String()
}
