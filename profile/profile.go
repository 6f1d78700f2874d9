// Package profile describes the supported peripheral families: their wire
// format, handshake, timing and the dialect that maps device commands and
// statuses onto frame payloads.
//
// Built-in profiles are registered under "id003", "ccnet" and "f56".
// Applications may register their own with [Register].
package profile

import (
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/puzpuzpuz/xsync/v3"

	"github.com/arloliu/go-cashio/denom"
	"github.com/arloliu/go-cashio/device"
	"github.com/arloliu/go-cashio/frame"
	"github.com/arloliu/go-cashio/link"
)

var (
	ErrUnknownProfile     = errors.New("profile: unknown profile")
	ErrDuplicateProfile   = errors.New("profile: profile already registered")
	ErrInvalidProfile     = errors.New("profile: invalid profile")
	ErrUnsupportedCommand = errors.New("profile: command not supported by dialect")
	ErrMalformedResponse  = errors.New("profile: malformed response")
	ErrInvalidDispense    = errors.New("profile: invalid dispense request")
)

// Role is the kind of peripheral.
type Role uint8

const (
	RoleValidator Role = iota
	RoleDispenser
)

func (r Role) String() string {
	if r == RoleDispenser {
		return "dispenser"
	}

	return "validator"
}

// Dialect maps device commands and status reports of one family onto frame
// payloads.
type Dialect interface {
	// Build returns the request carrying cmd. counts is only used by
	// device.CommandDispense.
	Build(cmd device.Command, counts []int) (*link.Request, error)
	// ParseStatus decodes the response to cmd.
	ParseStatus(cmd device.Command, resp *link.Response) (device.Status, error)
	// ParseDenominations decodes the response to device.CommandGetDenominations.
	ParseDenominations(resp *link.Response) (*denom.Table, error)
}

// Profile is the immutable description of one peripheral family.
type Profile struct {
	Name      string
	Role      Role
	Format    frame.Format
	Handshake link.HandshakeConfig
	Serial    link.SerialConfig

	// PollInterval is the period of status polls; 0 disables polling.
	PollInterval time.Duration
	// SettleDelay is waited after a command before polling resumes.
	SettleDelay time.Duration
	// StuckTimeout bounds the time spent in a transient state; 0 disables it.
	StuckTimeout time.Duration
	// ConnectTimeout bounds the power-up sequence run by Connect.
	ConnectTimeout time.Duration

	Dialect Dialect
}

// Validate checks that the profile is complete and consistent.
func (p *Profile) Validate() error {
	if p.Name == "" {
		return fmt.Errorf("%w: missing name", ErrInvalidProfile)
	}

	if p.Dialect == nil {
		return fmt.Errorf("%w: %s has no dialect", ErrInvalidProfile, p.Name)
	}

	if err := p.Format.Validate(); err != nil {
		return fmt.Errorf("%w: %s: %w", ErrInvalidProfile, p.Name, err)
	}

	if err := p.Handshake.Validate(&p.Format); err != nil {
		return fmt.Errorf("%w: %s: %w", ErrInvalidProfile, p.Name, err)
	}

	if _, err := p.Serial.Mode(); err != nil {
		return fmt.Errorf("%w: %s: %w", ErrInvalidProfile, p.Name, err)
	}

	if p.PollInterval < 0 || p.SettleDelay < 0 || p.StuckTimeout < 0 || p.ConnectTimeout < 0 {
		return fmt.Errorf("%w: %s: negative duration", ErrInvalidProfile, p.Name)
	}

	if p.Role == RoleValidator && p.PollInterval == 0 {
		return fmt.Errorf("%w: %s: validators need a poll interval", ErrInvalidProfile, p.Name)
	}

	return nil
}

// Factory returns a fresh profile value on every call, so callers may adjust
// it without affecting other connections.
type Factory func() *Profile

var registry = xsync.NewMapOf[string, Factory]()

func init() {
	for name, fn := range map[string]Factory{
		"id003": ID003,
		"ccnet": CCNet,
		"f56":   F56,
	} {
		registry.Store(name, fn)
	}
}

// Register adds a profile factory under name.
func Register(name string, fn Factory) error {
	if name == "" || fn == nil {
		return fmt.Errorf("%w: empty name or factory", ErrInvalidProfile)
	}

	if _, loaded := registry.LoadOrStore(name, fn); loaded {
		return fmt.Errorf("%w: %s", ErrDuplicateProfile, name)
	}

	return nil
}

// Lookup returns a new instance of the profile registered under name.
func Lookup(name string) (*Profile, error) {
	fn, ok := registry.Load(name)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownProfile, name)
	}

	return fn(), nil
}

// Names returns the registered profile names in sorted order.
func Names() []string {
	names := make([]string, 0, registry.Size())
	registry.Range(func(name string, _ Factory) bool {
		names = append(names, name)
		return true
	})
	sort.Strings(names)

	return names
}

// payload returns resp's payload or ErrMalformedResponse when it is empty.
func payload(resp *link.Response) ([]byte, error) {
	if resp == nil || len(resp.Payload) == 0 {
		return nil, fmt.Errorf("%w: empty payload", ErrMalformedResponse)
	}

	return resp.Payload, nil
}

func request(payload ...byte) *link.Request {
	return &link.Request{Payload: payload}
}

func unsupported(dialect string, cmd device.Command) error {
	return fmt.Errorf("%w: %s does not implement %s", ErrUnsupportedCommand, dialect, cmd)
}
