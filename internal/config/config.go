// Package config loads and validates fetch-layer configuration via Viper.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/JakeFAU/remote-fetch/internal/auth"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Fetch       FetchConfig   `mapstructure:"fetch"`
	Dial        DialConfig    `mapstructure:"dial"`
	Retry       RetryConfig   `mapstructure:"retry"`
	Limits      LimitsConfig  `mapstructure:"limits"`
	Credentials []auth.Config `mapstructure:"credentials" validate:"dive"`
	Server      ServerConfig  `mapstructure:"server"`
	Output      OutputConfig  `mapstructure:"output"`
	Logging     LoggingConfig `mapstructure:"logging"`
}

// FetchConfig controls connection setup and content handling for every protocol.
type FetchConfig struct {
	ConnectTimeoutMs int64 `mapstructure:"connect_timeout_ms" validate:"gt=0"`
	// AccessTimeoutMs bounds a whole fetch. Zero means unbounded.
	AccessTimeoutMs       int64  `mapstructure:"access_timeout_ms" validate:"gte=0"`
	Charset               string `mapstructure:"charset" validate:"required"`
	DetectCharset         bool   `mapstructure:"detect_charset"`
	StrictHostKeyChecking string `mapstructure:"strict_host_key_checking" validate:"oneof=yes no"`
	KnownHostsFile        string `mapstructure:"known_hosts_file"`
	MaxCachedContentSize  int64  `mapstructure:"max_cached_content_size" validate:"gte=0"`
	MaxIdlePerKey         int    `mapstructure:"max_idle_per_key" validate:"gte=0"`
	TempDir               string `mapstructure:"temp_dir"`
	ResolveSIDs           bool   `mapstructure:"resolve_sids"`
}

// DialConfig paces new connections per host.
type DialConfig struct {
	RPS   float64 `mapstructure:"rps" validate:"gte=0"`
	Burst int     `mapstructure:"burst" validate:"gte=0"`
}

// RetryConfig bounds how often a worker retries a transport failure.
type RetryConfig struct {
	MaxAttempts int   `mapstructure:"max_attempts" validate:"gte=1"`
	BaseDelayMs int64 `mapstructure:"base_delay_ms" validate:"gte=0"`
	MaxDelayMs  int64 `mapstructure:"max_delay_ms" validate:"gtefield=BaseDelayMs"`
}

// LimitsConfig sets maximum content lengths. Zero or negative means unlimited.
type LimitsConfig struct {
	DefaultMaxBytes int64 `mapstructure:"default_max_bytes"`
	// MIME maps a media type, or a "type/*" wildcard, to its limit.
	MIME map[string]int64 `mapstructure:"mime"`
}

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Port int `mapstructure:"port" validate:"gt=0,lte=65535"`
	// MaxConcurrentFetches bounds fetch workers shared by all requests.
	MaxConcurrentFetches int `mapstructure:"max_concurrent_fetches" validate:"gt=0"`
	// APIKey, when set, is required on every request.
	APIKey                string `mapstructure:"api_key"`
	RequestTimeoutSeconds int    `mapstructure:"request_timeout_seconds" validate:"gt=0"`
}

// OutputConfig sets where the CLI writes fetched bodies.
type OutputConfig struct {
	Dir string `mapstructure:"dir"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool   `mapstructure:"development"`
	Level       string `mapstructure:"level" validate:"omitempty,oneof=debug info warn error"`
}

// SearchPaths are the directories searched for remotefetch.{yaml,json,toml}
// when Load is given no explicit path.
var SearchPaths = []string{".", "/etc/remotefetch", "$HOME/.remotefetch"}

// keyDelimiter separates nested keys. Media types such as
// application/vnd.ms-excel contain dots, so "." cannot be used.
const keyDelimiter = "::"

// Load builds a Config from disk/environment. Without a path, the first
// config file found on SearchPaths is used, and defaults apply if none is.
func Load(path string) (Config, error) {
	v := viper.NewWithOptions(viper.KeyDelimiter(keyDelimiter))
	v.SetEnvPrefix("REMOTEFETCH")
	v.SetEnvKeyReplacer(strings.NewReplacer(keyDelimiter, "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	} else {
		v.SetConfigName("remotefetch")
		for _, dir := range SearchPaths {
			v.AddConfigPath(dir)
		}
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return Config{}, fmt.Errorf("read config: %w", err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("fetch::connect_timeout_ms", 10000)
	v.SetDefault("fetch::access_timeout_ms", 0)
	v.SetDefault("fetch::charset", "UTF-8")
	v.SetDefault("fetch::detect_charset", false)
	v.SetDefault("fetch::strict_host_key_checking", "no")
	v.SetDefault("fetch::known_hosts_file", "")
	v.SetDefault("fetch::max_cached_content_size", 1024*1024)
	v.SetDefault("fetch::max_idle_per_key", 8)
	v.SetDefault("fetch::temp_dir", "")
	v.SetDefault("fetch::resolve_sids", true)
	v.SetDefault("dial::rps", 0)
	v.SetDefault("dial::burst", 1)
	v.SetDefault("retry::max_attempts", 1)
	v.SetDefault("retry::base_delay_ms", 250)
	v.SetDefault("retry::max_delay_ms", 5000)
	v.SetDefault("limits::default_max_bytes", 0)
	v.SetDefault("server::port", 8080)
	v.SetDefault("server::max_concurrent_fetches", 16)
	v.SetDefault("server::request_timeout_seconds", 120)
	v.SetDefault("output::dir", "")
	v.SetDefault("logging::development", true)
	v.SetDefault("logging::level", "info")
}

// ConnectTimeout returns the connection setup budget.
func (c Config) ConnectTimeout() time.Duration {
	return time.Duration(c.Fetch.ConnectTimeoutMs) * time.Millisecond
}

// AccessTimeout returns the per-fetch budget, zero when unbounded.
func (c Config) AccessTimeout() time.Duration {
	return time.Duration(c.Fetch.AccessTimeoutMs) * time.Millisecond
}

// StrictHostKeys reports whether unknown SSH host keys are rejected.
func (c Config) StrictHostKeys() bool {
	return strings.EqualFold(c.Fetch.StrictHostKeyChecking, "yes")
}
