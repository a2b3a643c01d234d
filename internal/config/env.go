package config

import (
	"strconv"
	"strings"
	"time"

	"github.com/yanun0323/errors"

	"meshdash/pkg/exception"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "MESHDASH_"

type envReader struct {
	lookup func(string) (string, bool)
	err    error
}

// applyEnv overrides cfg with the MESHDASH_* variables that are set and
// not empty. The first malformed value is returned.
func (c *Config) applyEnv(lookup func(string) (string, bool)) error {
	r := &envReader{lookup: lookup}

	r.str("ENDPOINT", &c.Endpoint)
	r.str("TOKEN", &c.Token)
	r.str("TOKEN_FILE", &c.TokenFile)

	r.duration("BACKOFF_BASE", &c.Backoff.Base)
	r.number("BACKOFF_FACTOR", &c.Backoff.Factor)
	r.integer("BACKOFF_MAX_ATTEMPTS", &c.Backoff.MaxAttempts)
	r.duration("BACKOFF_MAX", &c.Backoff.Max)
	r.duration("DIAL_HANDSHAKE_TIMEOUT", &c.Dial.HandshakeTimeout)

	r.integer("INBOX_CAPACITY", &c.Inbox.Capacity)
	r.flag("INBOX_CLEAR_ON_LOGOUT", &c.Inbox.ClearOnLogout)

	r.flag("RECORDER_ENABLED", &c.Recorder.Enabled)
	if r.str("POSTGRES_DSN", &c.Recorder.Postgres.DSN) {
		c.Recorder.Enabled = true
	}
	r.str("POSTGRES_HOST", &c.Recorder.Postgres.Host)
	r.integer("POSTGRES_PORT", &c.Recorder.Postgres.Port)
	r.str("POSTGRES_USER", &c.Recorder.Postgres.User)
	r.str("POSTGRES_PASSWORD", &c.Recorder.Postgres.Password)
	r.str("POSTGRES_DATABASE", &c.Recorder.Postgres.Database)
	r.str("POSTGRES_SSL_MODE", &c.Recorder.Postgres.SSLMode)

	r.str("METRICS_LISTEN", &c.Metrics.Listen)
	r.str("METRICS_PATH", &c.Metrics.Path)
	r.str("PYROSCOPE_SERVER", &c.Profiling.ServerAddress)
	r.str("PYROSCOPE_APPLICATION", &c.Profiling.ApplicationName)

	return r.err
}

func (r *envReader) get(key string) (string, bool) {
	v, ok := r.lookup(EnvPrefix + key)
	if !ok {
		return "", false
	}
	v = strings.TrimSpace(v)
	return v, v != ""
}

func (r *envReader) fail(key, v string, err error) {
	if r.err == nil {
		r.err = errors.Wrap(exception.ErrInvalidArgument, "parse "+EnvPrefix+key+"="+strconv.Quote(v)+", err: "+err.Error())
	}
}

func (r *envReader) str(key string, dst *string) bool {
	v, ok := r.get(key)
	if ok {
		*dst = v
	}
	return ok
}

func (r *envReader) integer(key string, dst *int) {
	v, ok := r.get(key)
	if !ok {
		return
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		r.fail(key, v, err)
		return
	}
	*dst = n
}

func (r *envReader) number(key string, dst *float64) {
	v, ok := r.get(key)
	if !ok {
		return
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		r.fail(key, v, err)
		return
	}
	*dst = f
}

func (r *envReader) flag(key string, dst *bool) {
	v, ok := r.get(key)
	if !ok {
		return
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		r.fail(key, v, err)
		return
	}
	*dst = b
}

func (r *envReader) duration(key string, dst *time.Duration) {
	v, ok := r.get(key)
	if !ok {
		return
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		r.fail(key, v, err)
		return
	}
	*dst = d
}
