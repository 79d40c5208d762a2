package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// Config is the complete service configuration. It is built once by Load and
// passed explicitly to every component constructor.
//
// Sources, highest precedence first:
//  1. Environment variables (FGC_*, nested keys joined with "__")
//  2. Configuration file (YAML)
//  3. Defaults
type Config struct {
	LogLevel string `mapstructure:"log_level" yaml:"log_level" validate:"required,oneof=trace debug info warn warning error"`

	// DBURL selects the database, e.g. sqlite:///fileglancer.db or postgresql://user:pw@host/db.
	// When empty the postgres block is used.
	DBURL    string         `mapstructure:"db_url" yaml:"db_url"`
	Postgres PostgresConfig `mapstructure:"postgres" yaml:"postgres"`

	Server ServerConfig `mapstructure:"server" yaml:"server"`

	// UseAccessFlags enables privilege narrowing to the share owner's identity.
	UseAccessFlags bool `mapstructure:"use_access_flags" yaml:"use_access_flags"`

	// FileShareMounts switches the path metadata store to static mode.
	FileShareMounts []string `mapstructure:"file_share_mounts" yaml:"file_share_mounts" validate:"dive,startswith=/"`

	FileSharePaths SyncConfig       `mapstructure:"file_share_paths" yaml:"file_share_paths"`
	Confluence     ConfluenceConfig `mapstructure:"confluence" yaml:"confluence"`
	Auth           AuthConfig       `mapstructure:"auth" yaml:"auth"`

	// ExternalProxyURL is the public base of the /files endpoint, used to render share URLs.
	ExternalProxyURL string `mapstructure:"external_proxy_url" yaml:"external_proxy_url" validate:"omitempty,url"`
}

type PostgresConfig struct {
	Host     string `mapstructure:"host" yaml:"host"`
	Port     string `mapstructure:"port" yaml:"port"`
	DBName   string `mapstructure:"dbname" yaml:"dbname"`
	User     string `mapstructure:"user" yaml:"user"`
	Password string `mapstructure:"password" yaml:"password"`
	SSLMode  string `mapstructure:"sslmode" yaml:"sslmode"`
	TimeZone string `mapstructure:"timezone" yaml:"timezone"`
}

type ServerConfig struct {
	Address         string        `mapstructure:"address" yaml:"address" validate:"required"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" yaml:"shutdown_timeout" validate:"gt=0"`

	// FSTimeout bounds every filesystem operation done on behalf of a share.
	FSTimeout time.Duration `mapstructure:"fs_timeout" yaml:"fs_timeout" validate:"gt=0"`

	// MaxIdentityWorkers caps the OS threads running with a narrowed identity.
	MaxIdentityWorkers int `mapstructure:"max_identity_workers" yaml:"max_identity_workers" validate:"gt=0"`

	RateLimit RateLimitConfig `mapstructure:"rate_limit" yaml:"rate_limit"`
}

// RateLimitConfig throttles the anonymous /files endpoint per client address.
// A zero rate disables throttling.
type RateLimitConfig struct {
	RequestsPerSecond uint `mapstructure:"requests_per_second" yaml:"requests_per_second"`
	Burst             uint `mapstructure:"burst" yaml:"burst"`
}

type SyncConfig struct {
	StalenessWindow  time.Duration `mapstructure:"staleness_window" yaml:"staleness_window" validate:"gt=0"`
	MaxPathsToDelete int           `mapstructure:"max_paths_to_delete" yaml:"max_paths_to_delete" validate:"gte=0"`

	// SyncInterval schedules a background refresh. Zero relies on lazy refresh only.
	SyncInterval time.Duration `mapstructure:"sync_interval" yaml:"sync_interval" validate:"gte=0"`
}

type ConfluenceConfig struct {
	URL      string        `mapstructure:"url" yaml:"url" validate:"omitempty,url"`
	Username string        `mapstructure:"username" yaml:"username"`
	Token    string        `mapstructure:"token" yaml:"token"`
	Space    string        `mapstructure:"space" yaml:"space"`
	Page     string        `mapstructure:"page" yaml:"page"`
	Timeout  time.Duration `mapstructure:"timeout" yaml:"timeout" validate:"gt=0"`
}

type AuthConfig struct {
	TokenSecret string        `mapstructure:"token_secret" yaml:"token_secret" validate:"required,min=16"`
	TokenTTL    time.Duration `mapstructure:"token_ttl" yaml:"token_ttl" validate:"gt=0"`
}

// StaticMode reports whether file share paths come from configuration.
func (c *Config) StaticMode() bool {
	return len(c.FileShareMounts) > 0
}

// DSN returns the gorm dialect name and the data source name.
func (c *Config) DSN() (dialect, dsn string) {
	switch {
	case strings.HasPrefix(c.DBURL, "sqlite:///"):
		return "sqlite", strings.TrimPrefix(c.DBURL, "sqlite:///")
	case strings.HasPrefix(c.DBURL, "sqlite://"):
		return "sqlite", strings.TrimPrefix(c.DBURL, "sqlite://")
	case c.DBURL != "":
		return "postgres", c.DBURL
	}
	p := c.Postgres
	return "postgres", fmt.Sprintf("host=%s user=%s password=%s dbname=%s port=%s sslmode=%s TimeZone=%s",
		p.Host, p.User, p.Password, p.DBName, p.Port, p.SSLMode, p.TimeZone)
}

// Load reads configuration from file, environment and defaults, then validates it.
// An empty configPath searches ./config.yaml and ./etc/config.yaml.
func Load(configPath string) (*Config, error) {
	v := viper.New()
	setupViper(v, configPath)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	ApplyDefaults(&cfg)

	if err := Validate(&cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return &cfg, nil
}

func setupViper(v *viper.Viper, configPath string) {
	v.SetEnvPrefix("FGC")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "__"))
	v.AutomaticEnv()

	// Keys must be known to viper for AutomaticEnv to reach them during Unmarshal.
	registerKeys(v)

	if configPath != "" {
		v.SetConfigFile(configPath)
		return
	}
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./etc")
}

// WriteDefault renders the default configuration as YAML to path.
func WriteDefault(path string) error {
	data, err := yaml.Marshal(GetDefaultConfig())
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o600)
}
