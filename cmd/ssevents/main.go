package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joeshaw/envdecode"
	toml "github.com/pelletier/go-toml/v2"
	"github.com/spf13/cobra"

	"github.com/ssevents/ssevents-go"
)

// ============================================================================
// Config types
// ============================================================================

// Config represents the CLI configuration stored in ~/.ssevents/config.toml.
type Config struct {
	Stream  ssevents.Config      `toml:"stream"`
	Store   StoreConfig          `toml:"store"`
	Redis   ssevents.RedisConfig `toml:"redis"`
	Forward ForwardConfig        `toml:"forward"`
}

// StoreConfig selects where the replay cursor is kept.
type StoreConfig struct {
	// Backend is one of file, redis, etcd, memory.
	Backend       string `toml:"backend,omitempty" env:"SSEVENTS_STORE"`
	Path          string `toml:"path,omitempty" env:"SSEVENTS_STATE_FILE"`
	EtcdEndpoints string `toml:"etcd_endpoints,omitempty" env:"SSEVENTS_ETCD_ENDPOINTS"`
	EtcdPrefix    string `toml:"etcd_prefix,omitempty" env:"SSEVENTS_ETCD_PREFIX"`
}

// ForwardConfig lists the sinks notifications are relayed to.
type ForwardConfig struct {
	WebhookURL    string `toml:"webhook_url,omitempty" env:"SSEVENTS_WEBHOOK_URL"`
	WebhookSecret string `toml:"webhook_secret,omitempty" env:"SSEVENTS_WEBHOOK_SECRET"`
	RedisStream   string `toml:"redis_stream,omitempty" env:"SSEVENTS_REDIS_STREAM"`
	AMQPURL       string `toml:"amqp_url,omitempty" env:"SSEVENTS_AMQP_URL"`
	AMQPExchange  string `toml:"amqp_exchange,omitempty" env:"SSEVENTS_AMQP_EXCHANGE"`
	Filter        string `toml:"filter,omitempty" env:"SSEVENTS_FILTER"`
	// Quiet disables printing notifications to stdout.
	Quiet bool `toml:"quiet,omitempty" env:"SSEVENTS_QUIET"`
}

// ============================================================================
// Config helpers
// ============================================================================

// configDir returns the path to ~/.ssevents, creating it if needed.
func configDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("cannot determine home directory: %w", err)
	}
	dir := filepath.Join(home, ".ssevents")
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return "", fmt.Errorf("cannot create config directory: %w", err)
	}
	return dir, nil
}

// configPath returns the full path to the config file, honoring --config.
func configPath() (string, error) {
	if flagConfigPath != "" {
		return flagConfigPath, nil
	}
	dir, err := configDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.toml"), nil
}

// readConfigFile reads and parses the config file.
// If the file does not exist, it returns a zero-value Config.
func readConfigFile() (*Config, error) {
	path, err := configPath()
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return &Config{}, nil
		}
		return nil, fmt.Errorf("cannot read config: %w", err)
	}
	var cfg Config
	if err := toml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("cannot parse config: %w", err)
	}
	return &cfg, nil
}

// loadConfig reads the config file and overlays the environment.
func loadConfig() (*Config, error) {
	cfg, err := readConfigFile()
	if err != nil {
		return nil, err
	}
	if err := envdecode.Decode(cfg); err != nil && err != envdecode.ErrNoTargetFieldsAreSet {
		return nil, fmt.Errorf("cannot read environment: %w", err)
	}
	return cfg, nil
}

// saveConfig writes the config struct back to disk as TOML.
func saveConfig(cfg *Config) error {
	path, err := configPath()
	if err != nil {
		return err
	}
	data, err := toml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("cannot marshal config: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("cannot create config directory: %w", err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("cannot write config: %w", err)
	}
	return nil
}

// setConfigValue sets a config field using dot notation (e.g. "stream.hostname").
func setConfigValue(cfg *Config, key, value string) error {
	parts := strings.SplitN(key, ".", 2)
	if len(parts) != 2 {
		return fmt.Errorf("key must use dot notation: section.field (e.g. stream.hostname)")
	}
	section, field := parts[0], parts[1]

	switch section {
	case "stream":
		return setStreamValue(&cfg.Stream, field, value)
	case "store":
		switch field {
		case "backend":
			switch value {
			case "file", "redis", "etcd", "memory":
			default:
				return fmt.Errorf("unknown store backend %q (valid: file, redis, etcd, memory)", value)
			}
			cfg.Store.Backend = value
		case "path":
			cfg.Store.Path = value
		case "etcd_endpoints":
			cfg.Store.EtcdEndpoints = value
		case "etcd_prefix":
			cfg.Store.EtcdPrefix = value
		default:
			return fmt.Errorf("unknown field %q in section [store]", field)
		}
	case "redis":
		switch field {
		case "addr":
			cfg.Redis.Addr = value
		case "key_prefix":
			cfg.Redis.KeyPrefix = value
		case "password":
			cfg.Redis.Password = value
		case "db":
			n, err := strconv.Atoi(value)
			if err != nil {
				return fmt.Errorf("redis.db must be an integer: %w", err)
			}
			cfg.Redis.DB = n
		default:
			return fmt.Errorf("unknown field %q in section [redis]", field)
		}
	case "forward":
		switch field {
		case "webhook_url":
			cfg.Forward.WebhookURL = value
		case "webhook_secret":
			cfg.Forward.WebhookSecret = value
		case "redis_stream":
			cfg.Forward.RedisStream = value
		case "amqp_url":
			cfg.Forward.AMQPURL = value
		case "amqp_exchange":
			cfg.Forward.AMQPExchange = value
		case "filter":
			if _, err := ssevents.NewExprFilter(value); err != nil {
				return err
			}
			cfg.Forward.Filter = value
		case "quiet":
			b, err := strconv.ParseBool(value)
			if err != nil {
				return fmt.Errorf("forward.quiet must be true or false: %w", err)
			}
			cfg.Forward.Quiet = b
		default:
			return fmt.Errorf("unknown field %q in section [forward]", field)
		}
	default:
		return fmt.Errorf("unknown config section %q (valid: stream, store, redis, forward)", section)
	}
	return nil
}

func setStreamValue(s *ssevents.Config, field, value string) error {
	duration := func(dst *time.Duration) error {
		d, err := time.ParseDuration(value)
		if err != nil {
			return fmt.Errorf("stream.%s must be a duration like 25s: %w", field, err)
		}
		*dst = d
		return nil
	}

	switch field {
	case "hostname":
		s.Hostname = value
	case "port":
		n, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("stream.port must be an integer: %w", err)
		}
		s.Port = n
	case "events":
		s.Events = value
	case "api_key":
		s.APIKey = value
	case "from":
		s.From = value
	case "scheme":
		s.Scheme = value
	case "path":
		s.Path = value
	case "auth_header":
		s.AuthHeader = value
	case "subscribe_timeout":
		return duration(&s.SubscribeTimeout)
	case "heartbeat_interval":
		return duration(&s.HeartbeatInterval)
	case "heartbeat_deadline":
		return duration(&s.HeartbeatDeadline)
	case "max_session_lifetime":
		return duration(&s.MaxSessionLifetime)
	case "attempt_interval":
		return duration(&s.AttemptInterval)
	case "unbounded":
		b, err := strconv.ParseBool(value)
		if err != nil {
			return fmt.Errorf("stream.unbounded must be true or false: %w", err)
		}
		s.Unbounded = b
	default:
		return fmt.Errorf("unknown field %q in section [stream]", field)
	}
	return nil
}

// ============================================================================
// Root command
// ============================================================================

var (
	flagConfigPath string
	flagLogLevel   string
	flagLogFormat  string

	logger *slog.Logger
)

var rootCmd = &cobra.Command{
	Use:   "ssevents",
	Short: "Self-service events stream client",
	Long: "Command-line client for JSON-RPC event streams over websocket.\n" +
		"Subscribes from a durable replay cursor and prints or forwards every notification.",
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		l, err := newLogger(flagLogLevel, flagLogFormat)
		if err != nil {
			return err
		}
		logger = l
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&flagConfigPath, "config", "", "config file (default ~/.ssevents/config.toml)")
	rootCmd.PersistentFlags().StringVar(&flagLogLevel, "log-level", "info", "log level: debug, info, warn, error")
	rootCmd.PersistentFlags().StringVar(&flagLogFormat, "log-format", "text", "log format: text or json")
}

func newLogger(level, format string) (*slog.Logger, error) {
	var lv slog.Level
	if err := lv.UnmarshalText([]byte(level)); err != nil {
		return nil, fmt.Errorf("invalid --log-level %q", level)
	}
	opts := &slog.HandlerOptions{Level: lv}
	switch format {
	case "text":
		return slog.New(slog.NewTextHandler(os.Stderr, opts)), nil
	case "json":
		return slog.New(slog.NewJSONHandler(os.Stderr, opts)), nil
	default:
		return nil, fmt.Errorf("invalid --log-format %q (valid: text, json)", format)
	}
}

func main() {
	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		os.Exit(1)
	}
}
