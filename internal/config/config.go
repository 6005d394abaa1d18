// Package config provides configuration management for tradeshare.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"tradeshare/internal/errors"
	"tradeshare/internal/identity"
	"tradeshare/internal/logging"
	"tradeshare/internal/models"
)

// Store backends.
const (
	BackendMemory = "memory"
	BackendSQLite = "sqlite"
)

// Config holds all application configuration.
type Config struct {
	Identity IdentityConfig    `mapstructure:"identity"`
	Store    StoreConfig       `mapstructure:"store"`
	Sync     SyncConfig        `mapstructure:"sync"`
	Logging  logging.LogConfig `mapstructure:"logging"`
	UI       UIConfig          `mapstructure:"ui"`
}

// IdentityConfig names the current user and the people they share with.
type IdentityConfig struct {
	UserID     string      `mapstructure:"user_id"`
	UserName   string      `mapstructure:"user_name"`
	Recipients []Recipient `mapstructure:"recipients"`
}

// Recipient is a user positions may be shared with.
type Recipient struct {
	ID   string `mapstructure:"id"`
	Name string `mapstructure:"name"`
}

// StoreConfig selects the persistence backend.
type StoreConfig struct {
	Backend string `mapstructure:"backend"` // memory, sqlite
	Path    string `mapstructure:"path"`
}

// SyncConfig holds sync orchestration settings.
type SyncConfig struct {
	PollInterval   time.Duration `mapstructure:"poll_interval"`
	Parallelism    int           `mapstructure:"parallelism"`
	RetryAttempts  int           `mapstructure:"retry_attempts"`
	EventRetention time.Duration `mapstructure:"event_retention"`
	StaleAfter     time.Duration `mapstructure:"stale_after"`
	DefaultPolicy  PolicyConfig  `mapstructure:"default_policy"`
}

// PolicyConfig is the per-facet strategy applied when a sync needs no review.
type PolicyConfig struct {
	Tags     string `mapstructure:"tags"`
	Comments string `mapstructure:"comments"`
	Details  string `mapstructure:"details"`
}

// UIConfig holds UI-related configuration.
type UIConfig struct {
	ColorEnabled bool   `mapstructure:"color_enabled"`
	TimeFormat   string `mapstructure:"time_format"`
}

// DefaultConfigDir returns the default configuration directory.
func DefaultConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".config/tradeshare"
	}
	return filepath.Join(home, ".config", "tradeshare")
}

// ConfigPath returns the path of config.toml inside configDir.
func ConfigPath(configDir string) string {
	if configDir == "" {
		configDir = DefaultConfigDir()
	}
	return filepath.Join(configDir, "config.toml")
}

// Load reads and validates configuration from configDir. If configDir is
// empty, uses the default config directory. A missing config.toml is
// replaced by the template before reading.
func Load(configDir string) (*Config, error) {
	cfg, err := Read(configDir)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}
	return cfg, nil
}

// Read loads configuration without validating it.
func Read(configDir string) (*Config, error) {
	if configDir == "" {
		configDir = DefaultConfigDir()
	}

	v := newViper(configDir)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("loading config.toml: %w", err)
		}
		if err := createTemplateConfig(configDir); err != nil {
			return nil, err
		}
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("loading config.toml: %w", err)
		}
	}
	return decode(v, configDir)
}

// Watch calls fn with the reloaded configuration every time config.toml
// changes. fn receives a non-nil error when the new file does not decode or
// validate; the previous configuration should then stay in effect.
func Watch(configDir string, fn func(*Config, error)) error {
	if configDir == "" {
		configDir = DefaultConfigDir()
	}

	v := newViper(configDir)
	if err := v.ReadInConfig(); err != nil {
		return fmt.Errorf("loading config.toml: %w", err)
	}
	v.OnConfigChange(func(e fsnotify.Event) {
		if !e.Has(fsnotify.Write) && !e.Has(fsnotify.Create) {
			return
		}
		cfg, err := decode(v, configDir)
		if err == nil {
			err = cfg.Validate()
		}
		if err != nil {
			fn(nil, err)
			return
		}
		fn(cfg, nil)
	})
	v.WatchConfig()
	return nil
}

func newViper(configDir string) *viper.Viper {
	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("toml")
	v.AddConfigPath(configDir)

	logs := logging.DefaultLogConfig()
	v.SetDefault("store.backend", BackendSQLite)
	v.SetDefault("sync.poll_interval", "30s")
	v.SetDefault("sync.parallelism", 4)
	v.SetDefault("sync.retry_attempts", 3)
	v.SetDefault("sync.event_retention", "720h")
	v.SetDefault("sync.stale_after", "1h")
	v.SetDefault("sync.default_policy.tags", string(models.StrategyMerge))
	v.SetDefault("sync.default_policy.comments", string(models.StrategyMerge))
	v.SetDefault("sync.default_policy.details", string(models.StrategyRemote))
	v.SetDefault("logging.level", logs.Level)
	v.SetDefault("logging.console", logs.Console)
	v.SetDefault("logging.file", logs.File)
	v.SetDefault("logging.file_path", filepath.Join(configDir, "logs", "tradeshare.log"))
	v.SetDefault("logging.max_size", logs.MaxSize)
	v.SetDefault("logging.max_backups", logs.MaxBackups)
	v.SetDefault("logging.max_age", logs.MaxAge)
	v.SetDefault("ui.color_enabled", true)
	v.SetDefault("ui.time_format", "2006-01-02 15:04")
	return v
}

func decode(v *viper.Viper, configDir string) (*Config, error) {
	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("decoding config.toml: %w", err)
	}
	if cfg.Store.Path == "" {
		cfg.Store.Path = filepath.Join(configDir, "tradeshare.db")
	}
	applyEnvOverrides(cfg, configDir)
	return cfg, nil
}

// applyEnvOverrides applies TRADESHARE_* variables from the environment,
// falling back to a .env file in the config directory.
func applyEnvOverrides(cfg *Config, configDir string) {
	dotenv, err := godotenv.Read(filepath.Join(configDir, ".env"))
	if err != nil {
		dotenv = map[string]string{}
	}
	lookup := func(key string) string {
		if v := os.Getenv(key); v != "" {
			return v
		}
		return dotenv[key]
	}

	if v := lookup("TRADESHARE_USER_ID"); v != "" {
		cfg.Identity.UserID = v
	}
	if v := lookup("TRADESHARE_USER_NAME"); v != "" {
		cfg.Identity.UserName = v
	}
	if v := lookup("TRADESHARE_DB_PATH"); v != "" {
		cfg.Store.Path = v
	}
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.Identity.UserID == "" {
		return invalid("identity.user_id is required (or set TRADESHARE_USER_ID)")
	}
	for i, r := range c.Identity.Recipients {
		if r.ID == "" {
			return invalid("identity.recipients[%d].id is required", i)
		}
	}

	switch c.Store.Backend {
	case BackendMemory:
	case BackendSQLite:
		if c.Store.Path == "" {
			return invalid("store.path is required for the sqlite backend")
		}
	default:
		return invalid("invalid store backend: %s (must be 'memory' or 'sqlite')", c.Store.Backend)
	}

	if c.Sync.PollInterval <= 0 {
		return invalid("sync.poll_interval must be positive")
	}
	if c.Sync.Parallelism < 1 {
		return invalid("sync.parallelism must be at least 1")
	}
	if c.Sync.RetryAttempts < 1 {
		return invalid("sync.retry_attempts must be at least 1")
	}
	if c.Sync.EventRetention < 0 {
		return invalid("sync.event_retention must be non-negative")
	}
	if c.Sync.StaleAfter <= 0 {
		return invalid("sync.stale_after must be positive")
	}

	p := c.Sync.DefaultPolicy
	for facet, s := range map[string]string{"tags": p.Tags, "comments": p.Comments, "details": p.Details} {
		st := models.Strategy(s)
		if !st.Valid() || st == models.StrategyCustom {
			return invalid("sync.default_policy.%s: invalid strategy %q (must be local, remote or merge)", facet, s)
		}
	}
	return nil
}

func invalid(format string, args ...interface{}) error {
	return errors.Wrapf(errors.ErrConfigInvalid, format, args...)
}

// Policy returns the configured default resolution policy.
func (s SyncConfig) Policy() models.ResolutionPolicy {
	return models.ResolutionPolicy{
		Tags:     models.Strategy(s.DefaultPolicy.Tags),
		Comments: models.Strategy(s.DefaultPolicy.Comments),
		Details:  models.Strategy(s.DefaultPolicy.Details),
	}
}

// CurrentUser returns the configured user.
func (c *Config) CurrentUser() models.User {
	name := c.Identity.UserName
	if name == "" {
		name = c.Identity.UserID
	}
	return models.User{ID: models.UserID(c.Identity.UserID), Name: name}
}

// IdentityProvider builds the identity provider for the configured user.
func (c *Config) IdentityProvider() *identity.Static {
	recipients := make([]models.User, 0, len(c.Identity.Recipients))
	for _, r := range c.Identity.Recipients {
		name := r.Name
		if name == "" {
			name = r.ID
		}
		recipients = append(recipients, models.User{ID: models.UserID(r.ID), Name: name})
	}
	return identity.NewStatic(c.CurrentUser(), recipients)
}
