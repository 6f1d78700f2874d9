package engine

import (
	"fmt"
	"time"

	"github.com/arloliu/go-cashio/denom"
	"github.com/arloliu/go-cashio/journal"
	"github.com/arloliu/go-cashio/link"
	"github.com/arloliu/go-cashio/logger"
	"github.com/arloliu/go-cashio/profile"
)

// Bounds of the engine settings.
const (
	MinPollInterval    = 10 * time.Millisecond
	MaxPollInterval    = 10 * time.Second
	MaxSettleDelay     = 5 * time.Second
	MaxStuckTimeout    = 10 * time.Minute
	MinConnectTimeout  = 100 * time.Millisecond
	MaxConnectTimeout  = 10 * time.Minute
	MaxPollFailures    = 100
	MaxEventBufferSize = 4096
	MinReadSlice       = time.Millisecond
	MaxReadSlice       = time.Second

	DefaultMaxPollFailures = 5
	DefaultEventBufferSize = 64
)

// PortOpener opens the byte transport to a peripheral.
type PortOpener func(address string, cfg link.SerialConfig) (link.Port, error)

// Config holds the settings of an engine. It starts from the profile's
// timing and is adjusted by options.
type Config struct {
	logger          logger.Logger
	journal         journal.Writer
	opener          PortOpener
	serial          link.SerialConfig
	pollInterval    time.Duration
	settleDelay     time.Duration
	stuckTimeout    time.Duration
	connectTimeout  time.Duration
	maxPollFailures int
	eventBuffer     int
	readSlice       time.Duration
	response        *link.StagePolicy
	lineRequest     *link.StagePolicy
	deliveryAck     *link.StagePolicy
	cassettes       []denom.Denomination
}

func newConfig(p *profile.Profile) *Config {
	return &Config{
		logger:          logger.GetLogger(),
		opener:          link.OpenSerial,
		serial:          p.Serial,
		pollInterval:    p.PollInterval,
		settleDelay:     p.SettleDelay,
		stuckTimeout:    p.StuckTimeout,
		connectTimeout:  p.ConnectTimeout,
		maxPollFailures: DefaultMaxPollFailures,
		eventBuffer:     DefaultEventBufferSize,
	}
}

// Option configures an Engine.
type Option interface {
	apply(*Config) error
}

type optFunc func(*Config) error

func (f optFunc) apply(cfg *Config) error { return f(cfg) }

// WithLogger sets the logger.
func WithLogger(l logger.Logger) Option {
	return optFunc(func(cfg *Config) error {
		if l == nil {
			return fmt.Errorf("%w: nil logger", ErrInvalidOption)
		}
		cfg.logger = l

		return nil
	})
}

// WithJournal appends every emitted event to j before it is delivered.
func WithJournal(j journal.Writer) Option {
	return optFunc(func(cfg *Config) error {
		cfg.journal = j
		return nil
	})
}

// WithPortOpener replaces the serial port opener, e.g. with a simulated line.
func WithPortOpener(fn PortOpener) Option {
	return optFunc(func(cfg *Config) error {
		if fn == nil {
			return fmt.Errorf("%w: nil port opener", ErrInvalidOption)
		}
		cfg.opener = fn

		return nil
	})
}

// WithSerial overrides the line settings of the profile.
func WithSerial(sc link.SerialConfig) Option {
	return optFunc(func(cfg *Config) error {
		if _, err := sc.Mode(); err != nil {
			return fmt.Errorf("%w: %w", ErrInvalidOption, err)
		}
		cfg.serial = sc

		return nil
	})
}

// WithPollInterval sets the status poll period. 0 disables polling.
func WithPollInterval(d time.Duration) Option {
	return optFunc(func(cfg *Config) error {
		if d != 0 && (d < MinPollInterval || d > MaxPollInterval) {
			return fmt.Errorf("%w: poll interval %v out of range [%v, %v]", ErrInvalidOption, d, MinPollInterval, MaxPollInterval)
		}
		cfg.pollInterval = d

		return nil
	})
}

// WithSettleDelay sets the pause between a command and the next poll.
func WithSettleDelay(d time.Duration) Option {
	return optFunc(func(cfg *Config) error {
		if d < 0 || d > MaxSettleDelay {
			return fmt.Errorf("%w: settle delay %v out of range [0, %v]", ErrInvalidOption, d, MaxSettleDelay)
		}
		cfg.settleDelay = d

		return nil
	})
}

// WithStuckTimeout sets how long a transient state may last. 0 disables the guard.
func WithStuckTimeout(d time.Duration) Option {
	return optFunc(func(cfg *Config) error {
		if d < 0 || d > MaxStuckTimeout {
			return fmt.Errorf("%w: stuck timeout %v out of range [0, %v]", ErrInvalidOption, d, MaxStuckTimeout)
		}
		cfg.stuckTimeout = d

		return nil
	})
}

// WithConnectTimeout bounds the power-up sequence run by Connect.
func WithConnectTimeout(d time.Duration) Option {
	return optFunc(func(cfg *Config) error {
		if d < MinConnectTimeout || d > MaxConnectTimeout {
			return fmt.Errorf("%w: connect timeout %v out of range [%v, %v]", ErrInvalidOption, d, MinConnectTimeout, MaxConnectTimeout)
		}
		cfg.connectTimeout = d

		return nil
	})
}

// WithMaxPollFailures sets the number of consecutive failed polls after which
// the device is reported disconnected.
func WithMaxPollFailures(n int) Option {
	return optFunc(func(cfg *Config) error {
		if n < 1 || n > MaxPollFailures {
			return fmt.Errorf("%w: max poll failures %d out of range [1, %d]", ErrInvalidOption, n, MaxPollFailures)
		}
		cfg.maxPollFailures = n

		return nil
	})
}

// WithEventBufferSize sets the capacity of the Events channel.
func WithEventBufferSize(n int) Option {
	return optFunc(func(cfg *Config) error {
		if n < 1 || n > MaxEventBufferSize {
			return fmt.Errorf("%w: event buffer %d out of range [1, %d]", ErrInvalidOption, n, MaxEventBufferSize)
		}
		cfg.eventBuffer = n

		return nil
	})
}

// WithReadSlice sets the granularity of the link's serial reads.
func WithReadSlice(d time.Duration) Option {
	return optFunc(func(cfg *Config) error {
		if d < MinReadSlice || d > MaxReadSlice {
			return fmt.Errorf("%w: read slice %v out of range [%v, %v]", ErrInvalidOption, d, MinReadSlice, MaxReadSlice)
		}
		cfg.readSlice = d

		return nil
	})
}

// WithResponsePolicy overrides the retry policy of the response stage.
func WithResponsePolicy(p link.StagePolicy) Option {
	return optFunc(func(cfg *Config) error {
		cfg.response = &p
		return nil
	})
}

// WithLineRequestPolicy overrides the retry policy of the line request stage.
// It has no effect on families without line control.
func WithLineRequestPolicy(p link.StagePolicy) Option {
	return optFunc(func(cfg *Config) error {
		cfg.lineRequest = &p
		return nil
	})
}

// WithDeliveryAckPolicy overrides the retry policy of the delivery ack stage.
// It has no effect on families without delivery acknowledgement.
func WithDeliveryAckPolicy(p link.StagePolicy) Option {
	return optFunc(func(cfg *Config) error {
		cfg.deliveryAck = &p
		return nil
	})
}

// WithCassettes sets the denomination loaded in each dispenser cassette; the
// cassette index is the denomination code.
func WithCassettes(denoms ...denom.Denomination) Option {
	return optFunc(func(cfg *Config) error {
		if _, err := denom.NewTable(denoms); err != nil {
			return fmt.Errorf("%w: %w", ErrInvalidOption, err)
		}
		cfg.cassettes = denoms

		return nil
	})
}

// handshake returns the profile handshake with the configured policy overrides.
func (cfg *Config) handshake(p *profile.Profile) link.HandshakeConfig {
	hs := p.Handshake

	if cfg.response != nil {
		hs.Response = *cfg.response
	}
	if cfg.lineRequest != nil && hs.LineRequest != nil {
		lr := *cfg.lineRequest
		hs.LineRequest = &lr
	}
	if cfg.deliveryAck != nil && hs.DeliveryAck != nil {
		da := *cfg.deliveryAck
		hs.DeliveryAck = &da
	}

	return hs
}
