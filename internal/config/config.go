// Package config loads the rotary-sensor YAML configuration.
//
// Precedence is defaults, then the config file, then command-line flags.
// Validate is called once all three have been applied so the rest of the
// daemon can assume a well-formed config.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/sweeney/rotary-sensor/internal/encoder"
	"github.com/sweeney/rotary-sensor/internal/gpio"
	"github.com/sweeney/rotary-sensor/internal/mqtt"
)

// Config is the top-level YAML configuration.
type Config struct {
	GPIO    GPIOConfig    `yaml:"gpio"`
	Encoder EncoderConfig `yaml:"encoder"`
	MQTT    MQTTConfig    `yaml:"mqtt"`
	HTTP    HTTPConfig    `yaml:"http"`
	Logging LoggingConfig `yaml:"logging"`
}

type GPIOConfig struct {
	Chip string `yaml:"chip"`
	PinA int    `yaml:"pin_a"`
	PinB int    `yaml:"pin_b"`
}

type EncoderConfig struct {
	// Detents per click: 1, 2 or 4
	Mode     int           `yaml:"mode"`
	Debounce time.Duration `yaml:"debounce"`
	Poll     time.Duration `yaml:"poll"`
	Reversed bool          `yaml:"reversed"`
}

type MQTTConfig struct {
	Broker   string `yaml:"broker"`
	ClientID string `yaml:"client_id"`
	// 0 disables heartbeats
	Heartbeat  time.Duration `yaml:"heartbeat"`
	BufferSize int           `yaml:"buffer_size"`
}

type HTTPConfig struct {
	// Empty disables the status server
	Addr string `yaml:"addr"`
}

type LoggingConfig struct {
	Level string `yaml:"level"`
}

// DefaultConfig returns a fully-populated Config with defaults.
func DefaultConfig() Config {
	return Config{
		GPIO: GPIOConfig{
			Chip: gpio.DefaultChip,
			PinA: gpio.DefaultPinA,
			PinB: gpio.DefaultPinB,
		},
		Encoder: EncoderConfig{
			Mode:     int(encoder.ModeDouble),
			Debounce: time.Millisecond,
			Poll:     500 * time.Microsecond,
		},
		MQTT: MQTTConfig{
			Broker:     "tcp://192.168.1.200:1883",
			ClientID:   "rotary-sensor",
			Heartbeat:  15 * time.Minute,
			BufferSize: mqtt.DefaultBufferSize,
		},
		HTTP: HTTPConfig{
			Addr: ":80",
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

// LoadConfigFile reads a YAML config file on top of DefaultConfig.
// Unknown fields are rejected so typos are caught at startup.
func LoadConfigFile(path string) (Config, error) {
	if path == "" {
		return Config{}, errors.New("config path is empty")
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config file: %w", err)
	}

	cfg := DefaultConfig()

	dec := yaml.NewDecoder(bytes.NewReader(b))
	dec.KnownFields(true)

	if err := dec.Decode(&cfg); err != nil {
		return Config{}, fmt.Errorf("decode config yaml: %w", err)
	}

	// Only whitespace and comments may follow the document
	if err := dec.Decode(&struct{}{}); err == nil {
		return Config{}, errors.New("decode config yaml: unexpected trailing document")
	}

	return cfg, nil
}

// FlagOverrides holds values from command-line flags.
// A nil pointer means the flag was not set and the config value is kept.
type FlagOverrides struct {
	Chip *string
	PinA *int
	PinB *int

	Mode     *int
	Debounce *time.Duration
	Poll     *time.Duration
	Reversed *bool

	Broker    *string
	Heartbeat *time.Duration

	HTTPAddr *string
	LogLevel *string
}

// Apply merges the overrides into cfg. A non-nil pointer is applied even
// if it holds the zero value.
func (o FlagOverrides) Apply(cfg *Config) {
	if cfg == nil {
		return
	}
	if o.Chip != nil {
		cfg.GPIO.Chip = *o.Chip
	}
	if o.PinA != nil {
		cfg.GPIO.PinA = *o.PinA
	}
	if o.PinB != nil {
		cfg.GPIO.PinB = *o.PinB
	}

	if o.Mode != nil {
		cfg.Encoder.Mode = *o.Mode
	}
	if o.Debounce != nil {
		cfg.Encoder.Debounce = *o.Debounce
	}
	if o.Poll != nil {
		cfg.Encoder.Poll = *o.Poll
	}
	if o.Reversed != nil {
		cfg.Encoder.Reversed = *o.Reversed
	}

	if o.Broker != nil {
		cfg.MQTT.Broker = *o.Broker
	}
	if o.Heartbeat != nil {
		cfg.MQTT.Heartbeat = *o.Heartbeat
	}

	if o.HTTPAddr != nil {
		cfg.HTTP.Addr = *o.HTTPAddr
	}
	if o.LogLevel != nil {
		cfg.Logging.Level = *o.LogLevel
	}
}

// Validate checks config invariants and returns a user-friendly error.
func (c *Config) Validate() error {
	if c.GPIO.Chip == "" {
		return errors.New("gpio.chip must not be empty")
	}
	if c.GPIO.PinA < 0 || c.GPIO.PinB < 0 {
		return errors.New("gpio.pin_a and gpio.pin_b must be >= 0")
	}
	if c.GPIO.PinA == c.GPIO.PinB {
		return errors.New("gpio.pin_a and gpio.pin_b must differ")
	}

	if _, err := encoder.ParseMode(c.Encoder.Mode); err != nil {
		return fmt.Errorf("encoder.mode: %w", err)
	}
	if c.Encoder.Debounce < 0 {
		return errors.New("encoder.debounce must be >= 0")
	}
	if c.Encoder.Poll <= 0 {
		return errors.New("encoder.poll must be > 0")
	}

	if c.MQTT.Broker == "" {
		return errors.New("mqtt.broker must not be empty")
	}
	if c.MQTT.ClientID == "" {
		return errors.New("mqtt.client_id must not be empty")
	}
	if c.MQTT.Heartbeat < 0 {
		return errors.New("mqtt.heartbeat must be >= 0")
	}
	if c.MQTT.BufferSize <= 0 {
		return errors.New("mqtt.buffer_size must be > 0")
	}

	switch c.Logging.Level {
	case "error", "warn", "info", "debug":
	default:
		return fmt.Errorf("logging.level must be one of error, warn, info, debug (got %q)", c.Logging.Level)
	}

	return nil
}

// ToEncoderConfig converts the file config into the decoder's construction config.
func (c *Config) ToEncoderConfig() encoder.Config {
	return encoder.Config{
		PinA:           c.GPIO.PinA,
		PinB:           c.GPIO.PinB,
		Mode:           encoder.Mode(c.Encoder.Mode),
		DebounceWindow: c.Encoder.Debounce,
		Reversed:       c.Encoder.Reversed,
	}
}
