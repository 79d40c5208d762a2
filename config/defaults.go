package config

import (
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	DefaultStalenessWindow  = 24 * time.Hour
	DefaultMaxPathsToDelete = 2
	DefaultConfluencePage   = "Lab and Project File Share Paths"
	DefaultConfluenceSpace  = "SCS"
)

// ApplyDefaults fills zero values. MaxPathsToDelete is left alone: zero is a
// valid limit, and its default comes from the viper key registered in registerKeys.
func ApplyDefaults(cfg *Config) {
	if cfg.LogLevel == "" {
		cfg.LogLevel = "info"
	}
	cfg.LogLevel = strings.ToLower(cfg.LogLevel)

	if cfg.DBURL == "" && cfg.Postgres.Host == "" {
		cfg.DBURL = "sqlite:///fileglancer.db"
	}
	if cfg.Postgres.Port == "" {
		cfg.Postgres.Port = "5432"
	}
	if cfg.Postgres.SSLMode == "" {
		cfg.Postgres.SSLMode = "disable"
	}
	if cfg.Postgres.TimeZone == "" {
		cfg.Postgres.TimeZone = "UTC"
	}

	applyServerDefaults(&cfg.Server)
	applySyncDefaults(&cfg.FileSharePaths)
	applyConfluenceDefaults(&cfg.Confluence)

	if cfg.Auth.TokenTTL == 0 {
		cfg.Auth.TokenTTL = 168 * time.Hour
	}
	cfg.ExternalProxyURL = strings.TrimRight(cfg.ExternalProxyURL, "/")
}

func applyServerDefaults(cfg *ServerConfig) {
	if cfg.Address == "" {
		cfg.Address = ":7878"
	}
	if cfg.ShutdownTimeout == 0 {
		cfg.ShutdownTimeout = 30 * time.Second
	}
	if cfg.FSTimeout == 0 {
		cfg.FSTimeout = 60 * time.Second
	}
	if cfg.MaxIdentityWorkers == 0 {
		cfg.MaxIdentityWorkers = 32
	}
	if cfg.RateLimit.RequestsPerSecond > 0 && cfg.RateLimit.Burst == 0 {
		cfg.RateLimit.Burst = cfg.RateLimit.RequestsPerSecond * 2
	}
}

func applySyncDefaults(cfg *SyncConfig) {
	if cfg.StalenessWindow == 0 {
		cfg.StalenessWindow = DefaultStalenessWindow
	}
}

func applyConfluenceDefaults(cfg *ConfluenceConfig) {
	if cfg.Space == "" {
		cfg.Space = DefaultConfluenceSpace
	}
	if cfg.Page == "" {
		cfg.Page = DefaultConfluencePage
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}
	cfg.URL = strings.TrimRight(cfg.URL, "/")
}

// registerKeys declares every configuration key with its default value.
func registerKeys(v *viper.Viper) {
	d := GetDefaultConfig()

	v.SetDefault("log_level", d.LogLevel)
	v.SetDefault("db_url", "")
	v.SetDefault("postgres.host", "")
	v.SetDefault("postgres.port", d.Postgres.Port)
	v.SetDefault("postgres.dbname", "")
	v.SetDefault("postgres.user", "")
	v.SetDefault("postgres.password", "")
	v.SetDefault("postgres.sslmode", d.Postgres.SSLMode)
	v.SetDefault("postgres.timezone", d.Postgres.TimeZone)

	v.SetDefault("server.address", d.Server.Address)
	v.SetDefault("server.shutdown_timeout", d.Server.ShutdownTimeout)
	v.SetDefault("server.fs_timeout", d.Server.FSTimeout)
	v.SetDefault("server.max_identity_workers", d.Server.MaxIdentityWorkers)
	v.SetDefault("server.rate_limit.requests_per_second", 0)
	v.SetDefault("server.rate_limit.burst", 0)

	v.SetDefault("use_access_flags", false)
	v.SetDefault("file_share_mounts", []string{})

	v.SetDefault("file_share_paths.staleness_window", d.FileSharePaths.StalenessWindow)
	v.SetDefault("file_share_paths.max_paths_to_delete", DefaultMaxPathsToDelete)
	v.SetDefault("file_share_paths.sync_interval", time.Duration(0))

	v.SetDefault("confluence.url", "")
	v.SetDefault("confluence.username", "")
	v.SetDefault("confluence.token", "")
	v.SetDefault("confluence.space", d.Confluence.Space)
	v.SetDefault("confluence.page", d.Confluence.Page)
	v.SetDefault("confluence.timeout", d.Confluence.Timeout)

	v.SetDefault("auth.token_secret", "")
	v.SetDefault("auth.token_ttl", d.Auth.TokenTTL)

	v.SetDefault("external_proxy_url", "")
}

// GetDefaultConfig returns a Config with every default applied.
func GetDefaultConfig() *Config {
	cfg := &Config{FileSharePaths: SyncConfig{MaxPathsToDelete: DefaultMaxPathsToDelete}}
	ApplyDefaults(cfg)
	return cfg
}
