// Package config loads blobsync runtime configuration.
//
// Precedence, lowest first: built-in defaults, config file, BLOBSYNC_*
// environment variables, runtime overrides (bound CLI flags).
package config

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"

	"github.com/3leaps/blobsync/pkg/plan"
	"github.com/3leaps/blobsync/pkg/syncer"
)

// AppName names the config directory, config file and env prefix.
const AppName = "blobsync"

// EnvPrefix prefixes every environment variable.
const EnvPrefix = "BLOBSYNC"

// Config is the resolved runtime configuration.
type Config struct {
	Logging  LoggingConfig `mapstructure:"logging"`
	Server   ServerConfig  `mapstructure:"server"`
	Sync     SyncConfig    `mapstructure:"sync"`
	ReadOnly bool          `mapstructure:"readonly"`
}

// LoggingConfig configures the CLI logger.
type LoggingConfig struct {
	Level   string `mapstructure:"level"`
	Profile string `mapstructure:"profile"`
}

// ServerConfig configures the optional status server.
type ServerConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// SyncConfig holds sync defaults that flags and manifests override.
type SyncConfig struct {
	Overwrite   string      `mapstructure:"overwrite"`
	Concurrency int         `mapstructure:"concurrency"`
	RateLimit   float64     `mapstructure:"rate_limit"`
	MaxKeys     int         `mapstructure:"max_keys"`
	Retry       RetryConfig `mapstructure:"retry"`
	Token       TokenConfig `mapstructure:"token"`
	Excludes    []string    `mapstructure:"excludes"`
}

// RetryConfig mirrors syncer.RetryPolicy.
type RetryConfig struct {
	MaxAttempts int           `mapstructure:"max_attempts"`
	BaseDelay   time.Duration `mapstructure:"base_delay"`
	MaxDelay    time.Duration `mapstructure:"max_delay"`
}

// TokenConfig mirrors syncer.TokenWindow.
type TokenConfig struct {
	BaseWindow time.Duration `mapstructure:"base_window"`
	PerObject  time.Duration `mapstructure:"per_object"`
}

var (
	configMu   sync.RWMutex
	appConfig  *Config
	configFile string
)

// SetConfigFile selects an explicit config file. Empty restores discovery.
func SetConfigFile(path string) {
	configMu.Lock()
	defer configMu.Unlock()
	configFile = path
}

// SetDefaults registers every key with its default on v. Keys must be
// registered for environment variables to reach Unmarshal.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.profile", "console")

	v.SetDefault("server.host", "localhost")
	v.SetDefault("server.port", 0)
	v.SetDefault("server.read_timeout", "30s")
	v.SetDefault("server.write_timeout", "30s")
	v.SetDefault("server.shutdown_timeout", "10s")

	v.SetDefault("sync.overwrite", "never")
	v.SetDefault("sync.concurrency", 1)
	v.SetDefault("sync.rate_limit", 0)
	v.SetDefault("sync.max_keys", 0)
	v.SetDefault("sync.retry.max_attempts", syncer.DefaultRetryPolicy().MaxAttempts)
	v.SetDefault("sync.retry.base_delay", syncer.DefaultRetryPolicy().BaseDelay.String())
	v.SetDefault("sync.retry.max_delay", syncer.DefaultRetryPolicy().MaxDelay.String())
	v.SetDefault("sync.token.base_window", syncer.DefaultTokenBase.String())
	v.SetDefault("sync.token.per_object", syncer.DefaultTokenPerObject.String())
	v.SetDefault("sync.excludes", []string{})

	v.SetDefault("readonly", false)
}

// Load resolves configuration and stores it for GetConfig. Override maps
// are applied in order over the file and environment layers.
func Load(ctx context.Context, overrides ...map[string]any) (*Config, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	v := viper.New()
	SetDefaults(v)

	configMu.RLock()
	explicit := configFile
	configMu.RUnlock()

	v.SetConfigType("yaml")
	if explicit != "" {
		v.SetConfigFile(explicit)
	} else {
		v.SetConfigName(AppName)
		for _, dir := range userConfigPaths() {
			v.AddConfigPath(dir)
		}
	}
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if explicit != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config %s: %w", v.ConfigFileUsed(), err)
		}
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	for _, o := range overrides {
		setOverrides(v, "", o)
	}

	var cfg Config
	hook := mapstructure.ComposeDecodeHookFunc(
		mapstructure.StringToTimeDurationHookFunc(),
		mapstructure.StringToSliceHookFunc(","),
	)
	if err := v.Unmarshal(&cfg, viper.DecodeHook(hook)); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	configMu.Lock()
	appConfig = &cfg
	configMu.Unlock()
	return &cfg, nil
}

// setOverrides applies nested maps with Set so they outrank the
// environment layer.
func setOverrides(v *viper.Viper, prefix string, values map[string]any) {
	for k, val := range values {
		key := k
		if prefix != "" {
			key = prefix + "." + k
		}
		if nested, ok := val.(map[string]any); ok {
			setOverrides(v, key, nested)
			continue
		}
		v.Set(key, val)
	}
}

// GetConfig returns the most recently loaded configuration, or nil.
func GetConfig() *Config {
	configMu.RLock()
	defer configMu.RUnlock()
	return appConfig
}

// Validate checks value ranges.
func (c *Config) Validate() error {
	if _, err := plan.ParseOverwritePolicy(c.Sync.Overwrite); err != nil {
		return fmt.Errorf("config: sync.overwrite: %w", err)
	}
	switch {
	case c.Sync.Concurrency < 1:
		return fmt.Errorf("config: sync.concurrency: must be at least 1")
	case c.Sync.RateLimit < 0:
		return fmt.Errorf("config: sync.rate_limit: must not be negative")
	case c.Sync.MaxKeys < 0:
		return fmt.Errorf("config: sync.max_keys: must not be negative")
	case c.Server.Port < 0 || c.Server.Port > 65535:
		return fmt.Errorf("config: server.port: out of range")
	}
	return nil
}

// SyncDefaults converts the sync section into a syncer.Config baseline.
func (c *Config) SyncDefaults() syncer.Config {
	cfg := syncer.DefaultConfig()
	// Validate has already parsed this value.
	cfg.Overwrite, _ = plan.ParseOverwritePolicy(c.Sync.Overwrite)
	cfg.Concurrency = c.Sync.Concurrency
	cfg.RateLimit = c.Sync.RateLimit
	cfg.MaxKeys = c.Sync.MaxKeys
	cfg.Retry = syncer.RetryPolicy{
		MaxAttempts: c.Sync.Retry.MaxAttempts,
		BaseDelay:   c.Sync.Retry.BaseDelay,
		MaxDelay:    c.Sync.Retry.MaxDelay,
	}
	cfg.TokenWindow = syncer.TokenWindow{
		Base:      c.Sync.Token.BaseWindow,
		PerObject: c.Sync.Token.PerObject,
	}
	return cfg
}

// userConfigPaths lists the directories searched for blobsync.yaml.
func userConfigPaths() []string {
	var paths []string
	if dir, err := os.UserConfigDir(); err == nil {
		paths = append(paths, filepath.Join(dir, AppName))
	}
	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(home, "."+AppName))
	}
	return paths
}
