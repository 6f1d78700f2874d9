// Package config loads cash peripheral settings from YAML or TOML files.
//
// A file names the peripheral profile and the port, and may override the
// profile's serial settings, timing and retry policies:
//
//	profile: ccnet
//	port: /dev/ttyUSB0
//	poll_interval: 100ms
//	response:
//	  retries: 5
//	  timeout: 250ms
//	journal: /var/lib/cashio/events.cbor
//
// Unset values keep the defaults of the profile.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"

	"github.com/arloliu/go-cashio/denom"
	"github.com/arloliu/go-cashio/engine"
	"github.com/arloliu/go-cashio/link"
	"github.com/arloliu/go-cashio/logger"
	"github.com/arloliu/go-cashio/profile"
)

var (
	ErrUnsupportedFormat = errors.New("config: unsupported file format")
	ErrInvalidConfig     = errors.New("config: invalid config")
)

// Format is the encoding of a config file.
type Format string

const (
	FormatYAML Format = "yaml"
	FormatTOML Format = "toml"
)

// FormatOf returns the format implied by the extension of path.
func FormatOf(path string) (Format, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return FormatYAML, nil
	case ".toml":
		return FormatTOML, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnsupportedFormat, filepath.Ext(path))
	}
}

// Policy overrides the retry policy of one handshake stage.
type Policy struct {
	Retries int      `yaml:"retries" toml:"retries"`
	Timeout Duration `yaml:"timeout" toml:"timeout"`
}

func (p *Policy) stage() link.StagePolicy {
	return link.StagePolicy{Retries: p.Retries, Timeout: p.Timeout.Std()}
}

// Cassette is the denomination loaded in one dispenser cassette.
type Cassette struct {
	Mantissa uint8  `yaml:"mantissa" toml:"mantissa"`
	Exponent int    `yaml:"exponent" toml:"exponent"`
	Country  string `yaml:"country" toml:"country"`
}

// Config is the file form of the engine settings.
type Config struct {
	Profile string             `yaml:"profile" toml:"profile"`
	Port    string             `yaml:"port" toml:"port"`
	Serial  *link.SerialConfig `yaml:"serial" toml:"serial"`

	PollInterval    *Duration `yaml:"poll_interval" toml:"poll_interval"`
	SettleDelay     *Duration `yaml:"settle_delay" toml:"settle_delay"`
	StuckTimeout    *Duration `yaml:"stuck_timeout" toml:"stuck_timeout"`
	ConnectTimeout  *Duration `yaml:"connect_timeout" toml:"connect_timeout"`
	MaxPollFailures int       `yaml:"max_poll_failures" toml:"max_poll_failures"`
	EventBuffer     int       `yaml:"event_buffer" toml:"event_buffer"`

	Response    *Policy `yaml:"response" toml:"response"`
	LineRequest *Policy `yaml:"line_request" toml:"line_request"`
	DeliveryAck *Policy `yaml:"delivery_ack" toml:"delivery_ack"`

	// Journal is the path of the CBOR event journal. Empty disables it.
	Journal   string     `yaml:"journal" toml:"journal"`
	LogLevel  string     `yaml:"log_level" toml:"log_level"`
	Cassettes []Cassette `yaml:"cassettes" toml:"cassettes"`
}

// Default returns the config applied under every file.
func Default() *Config {
	return &Config{
		LogLevel:        "info",
		MaxPollFailures: engine.DefaultMaxPollFailures,
		EventBuffer:     engine.DefaultEventBufferSize,
	}
}

// Load reads, decodes and validates the config file at path.
func Load(path string) (*Config, error) {
	format, err := FormatOf(path)
	if err != nil {
		return nil, err
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config load failed (%s): %w", path, err)
	}

	cfg, err := Parse(data, format)
	if err != nil {
		return nil, fmt.Errorf("config parse failed (%s): %w", path, err)
	}

	return cfg, nil
}

// Parse decodes data over the defaults and validates the result.
func Parse(data []byte, format Format) (*Config, error) {
	cfg := Default()

	switch format {
	case FormatYAML:
		dec := yaml.NewDecoder(bytes.NewReader(data))
		dec.KnownFields(true)

		if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
			return nil, err
		}
	case FormatTOML:
		meta, err := toml.Decode(string(data), cfg)
		if err != nil {
			return nil, err
		}

		if undecoded := meta.Undecoded(); len(undecoded) > 0 {
			return nil, fmt.Errorf("%w: unknown key %q", ErrInvalidConfig, undecoded[0].String())
		}
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedFormat, format)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks the values that do not depend on a running engine.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Profile) == "" {
		return fmt.Errorf("%w: profile is required", ErrInvalidConfig)
	}

	p, err := profile.Lookup(c.Profile)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}

	if _, err := logger.ParseLevel(c.LogLevel); err != nil {
		return fmt.Errorf("%w: log_level: %w", ErrInvalidConfig, err)
	}

	if c.Serial != nil {
		if _, err := c.SerialConfig(p).Mode(); err != nil {
			return fmt.Errorf("%w: serial: %w", ErrInvalidConfig, err)
		}
	}

	for name, pol := range map[string]*Policy{
		"response":     c.Response,
		"line_request": c.LineRequest,
		"delivery_ack": c.DeliveryAck,
	} {
		if pol != nil && pol.Timeout <= 0 {
			return fmt.Errorf("%w: %s timeout must be positive", ErrInvalidConfig, name)
		}
	}

	if p.Role == profile.RoleDispenser && len(c.Cassettes) == 0 {
		return fmt.Errorf("%w: %s needs its cassettes listed", ErrInvalidConfig, p.Name)
	}

	if len(c.Cassettes) > 0 {
		if p.Role != profile.RoleDispenser {
			return fmt.Errorf("%w: cassettes given for %s, a %s", ErrInvalidConfig, p.Name, p.Role)
		}

		if len(c.Cassettes) > profile.F56MaxCassettes {
			return fmt.Errorf("%w: %d cassettes, max %d", ErrInvalidConfig, len(c.Cassettes), profile.F56MaxCassettes)
		}
	}

	return nil
}

// LookupProfile returns a fresh copy of the configured profile.
func (c *Config) LookupProfile() (*profile.Profile, error) {
	return profile.Lookup(c.Profile)
}

// SerialConfig returns the profile's serial settings with the configured
// fields laid over them.
func (c *Config) SerialConfig(p *profile.Profile) link.SerialConfig {
	sc := p.Serial
	if c.Serial == nil {
		return sc
	}

	if c.Serial.BaudRate != 0 {
		sc.BaudRate = c.Serial.BaudRate
	}
	if c.Serial.DataBits != 0 {
		sc.DataBits = c.Serial.DataBits
	}
	if c.Serial.Parity != "" {
		sc.Parity = c.Serial.Parity
	}
	if c.Serial.StopBits != 0 {
		sc.StopBits = c.Serial.StopBits
	}

	return sc
}

// Denominations returns the cassette denominations, coded by cassette index.
func (c *Config) Denominations() []denom.Denomination {
	out := make([]denom.Denomination, len(c.Cassettes))
	for i, cs := range c.Cassettes {
		out[i] = denom.Denomination{
			Code:     i,
			Mantissa: cs.Mantissa,
			Exponent: cs.Exponent,
			Country:  strings.ToUpper(cs.Country),
		}
	}

	return out
}

// Level returns the parsed log level.
func (c *Config) Level() logger.Level {
	lvl, err := logger.ParseLevel(c.LogLevel)
	if err != nil {
		return logger.InfoLevel
	}

	return lvl
}

// EngineOptions translates the config into engine options for p.
func (c *Config) EngineOptions(p *profile.Profile) []engine.Option {
	opts := []engine.Option{
		engine.WithSerial(c.SerialConfig(p)),
		engine.WithMaxPollFailures(c.MaxPollFailures),
		engine.WithEventBufferSize(c.EventBuffer),
	}

	if c.PollInterval != nil {
		opts = append(opts, engine.WithPollInterval(c.PollInterval.Std()))
	}
	if c.SettleDelay != nil {
		opts = append(opts, engine.WithSettleDelay(c.SettleDelay.Std()))
	}
	if c.StuckTimeout != nil {
		opts = append(opts, engine.WithStuckTimeout(c.StuckTimeout.Std()))
	}
	if c.ConnectTimeout != nil {
		opts = append(opts, engine.WithConnectTimeout(c.ConnectTimeout.Std()))
	}
	if c.Response != nil {
		opts = append(opts, engine.WithResponsePolicy(c.Response.stage()))
	}
	if c.LineRequest != nil {
		opts = append(opts, engine.WithLineRequestPolicy(c.LineRequest.stage()))
	}
	if c.DeliveryAck != nil {
		opts = append(opts, engine.WithDeliveryAckPolicy(c.DeliveryAck.stage()))
	}
	if len(c.Cassettes) > 0 {
		opts = append(opts, engine.WithCassettes(c.Denominations()...))
	}

	return opts
}
