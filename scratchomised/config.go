package scratchomised

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Subprotocol is the websocket subprotocol both sides must agree on.
const Subprotocol = "scratchomised"

// Config controls how the session connects and retries.
// Use DefaultConfig() as a starting point and modify as needed.
// Set a timeout to 0 to disable it.
type Config struct {
	Target           Target        `yaml:"target"`
	Subprotocol      string        `yaml:"subprotocol"`
	HandshakeTimeout time.Duration `yaml:"handshake_timeout"`
	ReadTimeout      time.Duration `yaml:"read_timeout"`
	WriteTimeout     time.Duration `yaml:"write_timeout"`
	ReadLimit        int64         `yaml:"read_limit"`

	BaseDelay        time.Duration `yaml:"base_delay"`
	MaxDelay         time.Duration `yaml:"max_delay"`
	AbruptCloseDelay time.Duration `yaml:"abrupt_close_delay"` // first retry after a close without status 1000
	MaxAttempts      int           `yaml:"max_attempts"`

	HandshakeGrace time.Duration `yaml:"handshake_grace"` // wait before client_ready
	SendQueueSize  int           `yaml:"send_queue_size"`
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		Target:           DefaultTarget(),
		Subprotocol:      Subprotocol,
		HandshakeTimeout: 10 * time.Second,
		WriteTimeout:     10 * time.Second,
		ReadLimit:        16 << 20,
		BaseDelay:        time.Second,
		MaxDelay:         30 * time.Second,
		AbruptCloseDelay: 2 * time.Second,
		MaxAttempts:      10,
		HandshakeGrace:   50 * time.Millisecond,
		SendQueueSize:    16,
	}
}

// Validate reports the first setting that cannot work.
func (c Config) Validate() error {
	if err := c.Target.Validate(); err != nil {
		return err
	}
	switch {
	case c.Subprotocol == "":
		return NewError(ErrorInvalidConfig, "empty subprotocol")
	case c.BaseDelay <= 0:
		return NewError(ErrorInvalidConfig, "base delay must be positive")
	case c.MaxDelay < c.BaseDelay:
		return NewError(ErrorInvalidConfig, "max delay is below base delay")
	case c.AbruptCloseDelay < 0:
		return NewError(ErrorInvalidConfig, "negative abrupt close delay")
	case c.MaxAttempts < 0:
		return NewError(ErrorInvalidConfig, "negative max attempts")
	case c.HandshakeGrace < 0:
		return NewError(ErrorInvalidConfig, "negative handshake grace")
	case c.SendQueueSize <= 0:
		return NewError(ErrorInvalidConfig, "send queue size must be positive")
	}
	return nil
}

// LoadConfigFile decodes a YAML file on top of DefaultConfig.
// Durations are written the way time.ParseDuration reads them ("2s", "50ms").
func LoadConfigFile(path string) (Config, error) {
	cfg := DefaultConfig()
	b, err := os.ReadFile(path)
	if err != nil {
		return cfg, WrapError(ErrorInvalidConfig, "read config", err)
	}
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return cfg, WrapError(ErrorInvalidConfig, fmt.Sprintf("decode %s", path), err)
	}
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}
