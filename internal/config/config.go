// Package config loads the listener configuration from a YAML file and
// MESHDASH_* environment overrides.
package config

import (
	"bytes"
	"io"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/yanun0323/errors"
	"gopkg.in/yaml.v3"

	"meshdash/internal/inbox"
	"meshdash/internal/recorder"
	"meshdash/pkg/conn"
	"meshdash/pkg/exception"
	"meshdash/pkg/websocket"
)

// Config is the resolved listener configuration.
type Config struct {
	Endpoint  string          `yaml:"endpoint"`
	Token     string          `yaml:"token"`
	TokenFile string          `yaml:"token_file"`
	Backoff   BackoffConfig   `yaml:"backoff"`
	Dial      DialConfig      `yaml:"dial"`
	Inbox     InboxConfig     `yaml:"inbox"`
	Recorder  RecorderConfig  `yaml:"recorder"`
	Metrics   MetricsConfig   `yaml:"metrics"`
	Profiling ProfilingConfig `yaml:"profiling"`
}

// BackoffConfig defines the reconnect policy.
type BackoffConfig struct {
	Base        time.Duration `yaml:"base"`
	Factor      float64       `yaml:"factor"`
	MaxAttempts int           `yaml:"max_attempts"`
	Max         time.Duration `yaml:"max"`
}

// DialConfig defines the WebSocket handshake.
type DialConfig struct {
	HandshakeTimeout time.Duration `yaml:"handshake_timeout"`
}

// InboxConfig defines the unread tracker.
type InboxConfig struct {
	Capacity      int  `yaml:"capacity"`
	ClearOnLogout bool `yaml:"clear_on_logout"`
}

// RecorderConfig defines the message history sink.
type RecorderConfig struct {
	Enabled       bool           `yaml:"enabled"`
	Postgres      PostgresConfig `yaml:"postgres"`
	QueueSize     int            `yaml:"queue_size"`
	BatchSize     int            `yaml:"batch_size"`
	FlushInterval time.Duration  `yaml:"flush_interval"`
}

// PostgresConfig mirrors conn.Option.
type PostgresConfig struct {
	DSN             string            `yaml:"dsn"`
	Host            string            `yaml:"host"`
	Port            int               `yaml:"port"`
	User            string            `yaml:"user"`
	Password        string            `yaml:"password"`
	Database        string            `yaml:"database"`
	SSLMode         string            `yaml:"ssl_mode"`
	Params          map[string]string `yaml:"params"`
	MaxOpenConns    int               `yaml:"max_open_conns"`
	MaxIdleConns    int               `yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration     `yaml:"conn_max_lifetime"`
}

// MetricsConfig defines the Prometheus endpoint. An empty Listen disables it.
type MetricsConfig struct {
	Listen string `yaml:"listen"`
	Path   string `yaml:"path"`
}

// ProfilingConfig defines continuous profiling. An empty ServerAddress disables it.
type ProfilingConfig struct {
	ServerAddress   string `yaml:"server_address"`
	ApplicationName string `yaml:"application_name"`
}

// Default returns the baseline configuration.
func Default() Config {
	b := websocket.DefaultBackoff()
	r := recorder.DefaultConfig()
	return Config{
		Backoff: BackoffConfig{
			Base:        b.Base,
			Factor:      b.Factor,
			MaxAttempts: b.MaxAttempts,
		},
		Dial: DialConfig{
			HandshakeTimeout: websocket.DefaultHandshakeTimeout,
		},
		Recorder: RecorderConfig{
			QueueSize:     r.QueueSize,
			BatchSize:     r.BatchSize,
			FlushInterval: r.FlushInterval,
		},
		Metrics: MetricsConfig{
			Path: "/metrics",
		},
		Profiling: ProfilingConfig{
			ApplicationName: "meshdash.listen",
		},
	}
}

// Load reads path (optional), applies environment overrides from lookup
// and validates the result. A nil lookup uses os.LookupEnv.
func Load(path string, lookup func(string) (string, bool)) (Config, error) {
	if lookup == nil {
		lookup = os.LookupEnv
	}

	cfg := Default()
	if path != "" {
		if err := cfg.loadFile(path); err != nil {
			return Config{}, err
		}
	}
	if err := cfg.applyEnv(lookup); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// loadFile decodes path over cfg. Unknown keys are rejected.
func (c *Config) loadFile(path string) error {
	path = filepath.Clean(path)
	ext := strings.ToLower(filepath.Ext(path))
	if ext != ".yaml" && ext != ".yml" {
		return errors.Wrap(exception.ErrInvalidArgument, "unsupported config format "+ext)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return errors.Wrap(err, "read config file")
	}

	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(c); err != nil {
		if err == io.EOF {
			return nil
		}
		return errors.Wrap(err, "parse config file")
	}
	return nil
}

// Validate checks if the configuration is usable.
func (c Config) Validate() error {
	if err := validateEndpoint(c.Endpoint); err != nil {
		return err
	}
	if c.Token == "" && c.TokenFile == "" {
		return invalid("one of token or token_file is required")
	}
	if c.Token != "" && c.TokenFile != "" {
		return invalid("token and token_file are mutually exclusive")
	}
	if c.Backoff.Base <= 0 {
		return invalid("backoff.base must be > 0")
	}
	if c.Backoff.Factor < 1 {
		return invalid("backoff.factor must be >= 1")
	}
	if c.Backoff.MaxAttempts <= 0 {
		return invalid("backoff.max_attempts must be > 0")
	}
	if c.Backoff.Max < 0 {
		return invalid("backoff.max must be >= 0")
	}
	if c.Dial.HandshakeTimeout < 0 {
		return invalid("dial.handshake_timeout must be >= 0")
	}
	if c.Inbox.Capacity < 0 {
		return invalid("inbox.capacity must be >= 0")
	}
	if c.Recorder.Enabled {
		if c.Recorder.Postgres.DSN == "" && c.Recorder.Postgres.Host == "" {
			return invalid("recorder.postgres needs dsn or host")
		}
		if err := c.Recorder.Writer().Validate(); err != nil {
			return err
		}
	}
	if c.Metrics.Listen != "" && !strings.HasPrefix(c.Metrics.Path, "/") {
		return invalid("metrics.path must start with /")
	}
	return nil
}

// Policy returns the reconnect backoff.
func (b BackoffConfig) Policy() websocket.Backoff {
	return websocket.Backoff{
		Base:        b.Base,
		Factor:      b.Factor,
		MaxAttempts: b.MaxAttempts,
		Max:         b.Max,
	}
}

// Option returns the unread tracker options.
func (c InboxConfig) Option() inbox.Option {
	return inbox.Option{
		Capacity:      c.Capacity,
		ClearOnLogout: c.ClearOnLogout,
	}
}

// Writer returns the history writer configuration.
func (c RecorderConfig) Writer() recorder.Config {
	cfg := recorder.DefaultConfig()
	if c.QueueSize != 0 {
		cfg.QueueSize = c.QueueSize
	}
	if c.BatchSize != 0 {
		cfg.BatchSize = c.BatchSize
	}
	if c.FlushInterval != 0 {
		cfg.FlushInterval = c.FlushInterval
	}
	return cfg
}

// Option returns the PostgreSQL connection options.
func (c PostgresConfig) Option() conn.Option {
	return conn.Option{
		ConnString:      c.DSN,
		Host:            c.Host,
		Port:            c.Port,
		User:            c.User,
		Password:        c.Password,
		Database:        c.Database,
		SSLMode:         c.SSLMode,
		Params:          c.Params,
		MaxOpenConns:    c.MaxOpenConns,
		MaxIdleConns:    c.MaxIdleConns,
		ConnMaxLifetime: c.ConnMaxLifetime,
	}
}

func validateEndpoint(raw string) error {
	if raw == "" {
		return errors.Wrap(exception.ErrInvalidEndpoint, "endpoint is required")
	}
	u, err := url.Parse(raw)
	if err != nil {
		return errors.Wrap(exception.ErrInvalidEndpoint, "parse endpoint, err: "+err.Error())
	}
	switch u.Scheme {
	case "http", "https", "ws", "wss":
	default:
		return errors.Wrap(exception.ErrInvalidEndpoint, "unsupported endpoint scheme "+u.Scheme)
	}
	if u.Host == "" {
		return errors.Wrap(exception.ErrInvalidEndpoint, "endpoint host is required")
	}
	return nil
}

func invalid(msg string) error {
	return errors.Wrap(exception.ErrInvalidArgument, "invalid config: "+msg)
}
