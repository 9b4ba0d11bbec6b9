package ssevents

import (
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/joeshaw/envdecode"
)

// ============================================================================
// Configuration
// ============================================================================

const (
	DefaultPort              = 443
	DefaultPath              = "/api/ss/events"
	DefaultScheme            = "wss"
	DefaultCredentialHeader  = "X-SSAPI-KEY"
	DefaultSubscribeTimeout  = 5 * time.Second
	DefaultHeartbeatInterval = 25 * time.Second
	DefaultHeartbeatDeadline = 31 * time.Second
	DefaultSessionLifetime   = 25 * time.Second
	DefaultAttemptInterval   = 60 * time.Second

	// CursorKey is the fixed name under which the replay cursor is persisted.
	CursorKey = "replay_timestamp"
)

// Config describes one event stream subscription. Fields carry toml tags for
// the CLI config file and env tags for envdecode; neither sets defaults so
// that lower-precedence sources are not overwritten.
type Config struct {
	Hostname   string `toml:"hostname" env:"SSEVENTS_HOSTNAME"`
	Port       int    `toml:"port,omitempty" env:"SSEVENTS_PORT"`
	Events     string `toml:"events" env:"SSEVENTS_EVENTS"`
	APIKey     string `toml:"api_key" env:"SSEVENTS_API_KEY"`
	From       string `toml:"from,omitempty" env:"SSEVENTS_FROM"`
	Scheme     string `toml:"scheme,omitempty" env:"SSEVENTS_SCHEME"`
	Path       string `toml:"path,omitempty" env:"SSEVENTS_PATH"`
	AuthHeader string `toml:"auth_header,omitempty" env:"SSEVENTS_AUTH_HEADER"`

	SubscribeTimeout   time.Duration `toml:"subscribe_timeout,omitempty" env:"SSEVENTS_SUBSCRIBE_TIMEOUT"`
	HeartbeatInterval  time.Duration `toml:"heartbeat_interval,omitempty" env:"SSEVENTS_HEARTBEAT_INTERVAL"`
	HeartbeatDeadline  time.Duration `toml:"heartbeat_deadline,omitempty" env:"SSEVENTS_HEARTBEAT_DEADLINE"`
	MaxSessionLifetime time.Duration `toml:"max_session_lifetime,omitempty" env:"SSEVENTS_MAX_SESSION_LIFETIME"`
	// Unbounded disables MaxSessionLifetime for long-lived processes.
	Unbounded bool `toml:"unbounded,omitempty" env:"SSEVENTS_UNBOUNDED"`

	ReconnectBaseDelay time.Duration `toml:"reconnect_base_delay,omitempty" env:"SSEVENTS_RECONNECT_BASE_DELAY"`
	ReconnectMaxDelay  time.Duration `toml:"reconnect_max_delay,omitempty" env:"SSEVENTS_RECONNECT_MAX_DELAY"`
	AttemptInterval    time.Duration `toml:"attempt_interval,omitempty" env:"SSEVENTS_ATTEMPT_INTERVAL"`
	// MaxReconnectAttempts bounds consecutive failed attempts; 0 is unlimited.
	MaxReconnectAttempts int `toml:"max_reconnect_attempts,omitempty" env:"SSEVENTS_MAX_RECONNECT_ATTEMPTS"`
}

// ConfigFromEnv reads a Config from the process environment.
func ConfigFromEnv() (Config, error) {
	var cfg Config
	if err := cfg.ApplyEnv(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// ApplyEnv overlays environment variables onto c. Unset variables leave the
// existing value in place.
func (c *Config) ApplyEnv() error {
	if err := envdecode.Decode(c); err != nil && !errors.Is(err, envdecode.ErrNoTargetFieldsAreSet) {
		return fmt.Errorf("decode environment: %w", err)
	}
	return nil
}

func (c *Config) defaults() {
	if c.Port == 0 {
		c.Port = DefaultPort
	}
	if c.Scheme == "" {
		c.Scheme = DefaultScheme
	}
	if c.Path == "" {
		c.Path = DefaultPath
	}
	if c.AuthHeader == "" {
		c.AuthHeader = DefaultCredentialHeader
	}
	if c.SubscribeTimeout == 0 {
		c.SubscribeTimeout = DefaultSubscribeTimeout
	}
	if c.HeartbeatInterval == 0 {
		c.HeartbeatInterval = DefaultHeartbeatInterval
	}
	if c.HeartbeatDeadline == 0 {
		c.HeartbeatDeadline = DefaultHeartbeatDeadline
	}
	if c.MaxSessionLifetime == 0 && !c.Unbounded {
		c.MaxSessionLifetime = DefaultSessionLifetime
	}
	if c.ReconnectBaseDelay == 0 {
		c.ReconnectBaseDelay = 1 * time.Second
	}
	if c.ReconnectMaxDelay == 0 {
		c.ReconnectMaxDelay = 30 * time.Second
	}
	if c.AttemptInterval == 0 {
		c.AttemptInterval = DefaultAttemptInterval
	}
}

// Validate checks the required settings and returns a *ConfigError for the
// first one that is missing.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Hostname) == "" {
		return &ConfigError{Field: "hostname"}
	}
	if len(c.EventList()) == 0 {
		return &ConfigError{Field: "events"}
	}
	if c.APIKey == "" {
		return &ConfigError{Field: "api_key"}
	}
	if c.Port < 0 || c.Port > 65535 {
		return &ConfigError{Field: "port", Reason: "must be between 1 and 65535"}
	}
	return nil
}

// EventList splits the comma-separated event set, trimming blanks.
func (c *Config) EventList() []string {
	var events []string
	for _, e := range strings.Split(c.Events, ",") {
		if e = strings.TrimSpace(e); e != "" {
			events = append(events, e)
		}
	}
	return events
}

// URL returns the stream endpoint. The port is omitted when it is the
// default for the scheme.
func (c Config) URL() string {
	c.defaults()
	host := c.Hostname
	if !(c.Port == 443 && (c.Scheme == "wss" || c.Scheme == "https")) &&
		!(c.Port == 80 && (c.Scheme == "ws" || c.Scheme == "http")) {
		host += ":" + strconv.Itoa(c.Port)
	}
	u := url.URL{Scheme: c.Scheme, Host: host, Path: c.Path}
	return u.String()
}
