package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"meshdash/pkg/exception"
	"meshdash/pkg/websocket"
)

func env(kv map[string]string) func(string) (string, bool) {
	return func(key string) (string, bool) {
		v, ok := kv[key]
		return v, ok
	}
}

func writeConfig(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoadFromEnvOnly(t *testing.T) {
	cfg, err := Load("", env(map[string]string{
		"MESHDASH_ENDPOINT": "https://mesh.example.org",
		"MESHDASH_TOKEN":    "abc",
	}))
	require.NoError(t, err)

	assert.Equal(t, "https://mesh.example.org", cfg.Endpoint)
	assert.Equal(t, "abc", cfg.Token)
	assert.Equal(t, websocket.DefaultBackoff(), cfg.Backoff.Policy())
	assert.Equal(t, websocket.DefaultHandshakeTimeout, cfg.Dial.HandshakeTimeout)
	assert.False(t, cfg.Recorder.Enabled)
	assert.Equal(t, "/metrics", cfg.Metrics.Path)
}

func TestLoadFileThenEnv(t *testing.T) {
	path := writeConfig(t, "listen.yaml", `
endpoint: http://127.0.0.1:8000/api
token_file: /run/secrets/mesh-token
backoff:
  base: 500ms
  factor: 2
  max_attempts: 3
  max: 5s
inbox:
  capacity: 20
  clear_on_logout: true
recorder:
  enabled: true
  postgres:
    host: db
    user: mesh
    database: meshdash
  batch_size: 32
  flush_interval: 2s
metrics:
  listen: ":9100"
`)

	cfg, err := Load(path, env(map[string]string{
		"MESHDASH_BACKOFF_MAX_ATTEMPTS": "7",
		"MESHDASH_METRICS_LISTEN":       " ",
	}))
	require.NoError(t, err)

	assert.Equal(t, "http://127.0.0.1:8000/api", cfg.Endpoint)
	assert.Equal(t, "/run/secrets/mesh-token", cfg.TokenFile)
	assert.Equal(t, websocket.Backoff{Base: 500 * time.Millisecond, Factor: 2, MaxAttempts: 7, Max: 5 * time.Second}, cfg.Backoff.Policy())
	assert.Equal(t, 20, cfg.Inbox.Option().Capacity)
	assert.True(t, cfg.Inbox.Option().ClearOnLogout)
	assert.Equal(t, ":9100", cfg.Metrics.Listen)

	w := cfg.Recorder.Writer()
	assert.Equal(t, 32, w.BatchSize)
	assert.Equal(t, 2*time.Second, w.FlushInterval)
	opt := cfg.Recorder.Postgres.Option()
	assert.Equal(t, "db", opt.Host)
	assert.Equal(t, "meshdash", opt.Database)
}

func TestLoadPostgresDSNEnablesRecorder(t *testing.T) {
	cfg, err := Load("", env(map[string]string{
		"MESHDASH_ENDPOINT":     "https://mesh.example.org",
		"MESHDASH_TOKEN":        "abc",
		"MESHDASH_POSTGRES_DSN": "postgres://mesh@db/meshdash",
	}))
	require.NoError(t, err)
	assert.True(t, cfg.Recorder.Enabled)
	assert.Equal(t, "postgres://mesh@db/meshdash", cfg.Recorder.Postgres.Option().ConnString)
}

func TestLoadRejectsUnknownKeys(t *testing.T) {
	path := writeConfig(t, "listen.yaml", "endpoint: https://mesh.example.org\ntoken: abc\nretries: 3\n")
	_, err := Load(path, env(nil))
	require.Error(t, err)
}

func TestLoadRejectsNonYAML(t *testing.T) {
	path := writeConfig(t, "listen.json", `{}`)
	_, err := Load(path, env(nil))
	require.ErrorIs(t, err, exception.ErrInvalidArgument)
}

func TestLoadEmptyFileUsesEnv(t *testing.T) {
	path := writeConfig(t, "listen.yml", "")
	cfg, err := Load(path, env(map[string]string{
		"MESHDASH_ENDPOINT": "wss://mesh.example.org",
		"MESHDASH_TOKEN":    "abc",
	}))
	require.NoError(t, err)
	assert.Equal(t, "wss://mesh.example.org", cfg.Endpoint)
}

func TestLoadRejectsMalformedEnv(t *testing.T) {
	cases := map[string]string{
		"MESHDASH_BACKOFF_BASE":         "soon",
		"MESHDASH_BACKOFF_FACTOR":       "x",
		"MESHDASH_BACKOFF_MAX_ATTEMPTS": "many",
		"MESHDASH_RECORDER_ENABLED":     "maybe",
	}
	for key, value := range cases {
		_, err := Load("", env(map[string]string{
			"MESHDASH_ENDPOINT": "https://mesh.example.org",
			"MESHDASH_TOKEN":    "abc",
			key:                 value,
		}))
		require.ErrorIs(t, err, exception.ErrInvalidArgument, key)
	}
}

func TestValidate(t *testing.T) {
	valid := func() Config {
		cfg := Default()
		cfg.Endpoint = "https://mesh.example.org"
		cfg.Token = "abc"
		return cfg
	}
	require.NoError(t, valid().Validate())

	cases := map[string]struct {
		mutate func(*Config)
		want   error
	}{
		"no endpoint":        {func(c *Config) { c.Endpoint = "" }, exception.ErrInvalidEndpoint},
		"bad scheme":         {func(c *Config) { c.Endpoint = "ftp://x" }, exception.ErrInvalidEndpoint},
		"no host":            {func(c *Config) { c.Endpoint = "https://" }, exception.ErrInvalidEndpoint},
		"no token":           {func(c *Config) { c.Token = "" }, exception.ErrInvalidArgument},
		"both tokens":        {func(c *Config) { c.TokenFile = "/tmp/token" }, exception.ErrInvalidArgument},
		"zero base":          {func(c *Config) { c.Backoff.Base = 0 }, exception.ErrInvalidArgument},
		"factor below one":   {func(c *Config) { c.Backoff.Factor = 0.5 }, exception.ErrInvalidArgument},
		"zero attempts":      {func(c *Config) { c.Backoff.MaxAttempts = 0 }, exception.ErrInvalidArgument},
		"negative max":       {func(c *Config) { c.Backoff.Max = -1 }, exception.ErrInvalidArgument},
		"negative capacity":  {func(c *Config) { c.Inbox.Capacity = -1 }, exception.ErrInvalidArgument},
		"recorder no target": {func(c *Config) { c.Recorder.Enabled = true }, exception.ErrInvalidArgument},
		"recorder batch": {func(c *Config) {
			c.Recorder.Enabled = true
			c.Recorder.Postgres.Host = "db"
			c.Recorder.QueueSize = 1
			c.Recorder.BatchSize = 2
		}, exception.ErrInvalidArgument},
		"metrics path": {func(c *Config) {
			c.Metrics.Listen = ":9100"
			c.Metrics.Path = "metrics"
		}, exception.ErrInvalidArgument},
	}
	for name, c := range cases {
		t.Run(name, func(t *testing.T) {
			cfg := valid()
			c.mutate(&cfg)
			require.ErrorIs(t, cfg.Validate(), c.want)
		})
	}
}
