package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadDefaults(t *testing.T) {
	t.Parallel()

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, 10*time.Second, cfg.ConnectTimeout())
	assert.Equal(t, time.Duration(0), cfg.AccessTimeout())
	assert.Equal(t, "UTF-8", cfg.Fetch.Charset)
	assert.False(t, cfg.StrictHostKeys())
	assert.Equal(t, int64(1024*1024), cfg.Fetch.MaxCachedContentSize)
	assert.Equal(t, 8, cfg.Fetch.MaxIdlePerKey)
	assert.True(t, cfg.Fetch.ResolveSIDs)
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, 1, cfg.Retry.MaxAttempts)
	assert.Empty(t, cfg.Credentials)
}

func TestLoadWithFileOverrides(t *testing.T) {
	t.Parallel()

	path := writeConfig(t, `
fetch:
  connect_timeout_ms: 2500
  access_timeout_ms: 30000
  charset: ISO-8859-1
  detect_charset: true
  strict_host_key_checking: "yes"
  known_hosts_file: /etc/ssh/ssh_known_hosts
  max_cached_content_size: 4096
  resolve_sids: false
dial:
  rps: 2.5
  burst: 4
limits:
  default_max_bytes: 1048576
  mime:
    text/plain: 3
    image/*: 10
credentials:
  - pattern: 'sftp://files\.example\.com/.*'
    username: crawler
    password: secret
    port: 2222
  - pattern: 'smb://nas/.*'
    username: bob
    domain: CORP
server:
  port: 9090
logging:
  development: false
  level: debug
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 2500*time.Millisecond, cfg.ConnectTimeout())
	assert.Equal(t, 30*time.Second, cfg.AccessTimeout())
	assert.Equal(t, "ISO-8859-1", cfg.Fetch.Charset)
	assert.True(t, cfg.StrictHostKeys())
	assert.False(t, cfg.Fetch.ResolveSIDs)
	assert.InDelta(t, 2.5, cfg.Dial.RPS, 0.001)
	assert.Equal(t, int64(3), cfg.Limits.MIME["text/plain"])
	require.Len(t, cfg.Credentials, 2)
	assert.Equal(t, "crawler", cfg.Credentials[0].Username)
	assert.Equal(t, 2222, cfg.Credentials[0].Port)
	assert.Equal(t, "CORP", cfg.Credentials[1].Domain)
	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, "debug", cfg.Logging.Level)
}

func TestLoadDottedMediaTypeLimits(t *testing.T) {
	t.Parallel()

	path := writeConfig(t, `
limits:
  mime:
    application/vnd.ms-excel: 100
    application/vnd.openxmlformats-officedocument.spreadsheetml.sheet: 200
    text/plain: 3
`)

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, map[string]int64{
		"application/vnd.ms-excel": 100,
		"application/vnd.openxmlformats-officedocument.spreadsheetml.sheet": 200,
		"text/plain": 3,
	}, cfg.Limits.MIME)
}

func TestLoadEnvironmentOverrides(t *testing.T) {
	t.Setenv("REMOTEFETCH_FETCH_CHARSET", "Shift_JIS")
	t.Setenv("REMOTEFETCH_SERVER_PORT", "9191")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "Shift_JIS", cfg.Fetch.Charset)
	assert.Equal(t, 9191, cfg.Server.Port)
}

func TestLoadMissingFile(t *testing.T) {
	t.Parallel()

	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "read config")
}

func TestValidateRejectsBadValues(t *testing.T) {
	t.Parallel()

	base, err := Load("")
	require.NoError(t, err)

	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{name: "connect timeout", mutate: func(c *Config) { c.Fetch.ConnectTimeoutMs = 0 }, want: "ConnectTimeoutMs"},
		{name: "negative access timeout", mutate: func(c *Config) { c.Fetch.AccessTimeoutMs = -1 }, want: "AccessTimeoutMs"},
		{name: "host key mode", mutate: func(c *Config) { c.Fetch.StrictHostKeyChecking = "maybe" }, want: "oneof"},
		{name: "strict without known hosts", mutate: func(c *Config) { c.Fetch.StrictHostKeyChecking = "yes" }, want: "known_hosts_file"},
		{name: "port", mutate: func(c *Config) { c.Server.Port = 70000 }, want: "Port"},
		{name: "blank pattern", mutate: func(c *Config) {
			c.Credentials = append(c.Credentials, credential(""))
		}, want: "Pattern"},
		{name: "bad pattern", mutate: func(c *Config) {
			c.Credentials = append(c.Credentials, credential("(["))
		}, want: "credentials[0]"},
		{name: "mime key", mutate: func(c *Config) { c.Limits.MIME = map[string]int64{"text": 1} }, want: "limits.mime"},
		{name: "retry attempts", mutate: func(c *Config) { c.Retry.MaxAttempts = 0 }, want: "MaxAttempts"},
		{name: "retry delays", mutate: func(c *Config) { c.Retry.MaxDelayMs = 1 }, want: "gtefield"},
		{name: "log level", mutate: func(c *Config) { c.Logging.Level = "loud" }, want: "Level"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			cfg := base
			cfg.Credentials = nil
			tt.mutate(&cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestValidateAcceptsUppercaseHostKeyMode(t *testing.T) {
	t.Parallel()

	cfg, err := Load("")
	require.NoError(t, err)
	cfg.Fetch.StrictHostKeyChecking = "NO"
	assert.NoError(t, cfg.Validate())
}
