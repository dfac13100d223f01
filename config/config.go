// Package config loads and persists the CLI configuration: the API token,
// display preferences and the environment overrides for cache behaviour.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"

	"repoctl"
)

const (
	// DefaultPageSize is the listing page size when none is configured.
	DefaultPageSize = 15

	// CurrentTokenVersion is bumped when the required token scopes change;
	// a stored token with an older version is treated as absent so the user
	// re-authenticates with the right scopes.
	CurrentTokenVersion = 1

	fileName = "config.json"
)

// UI holds display preferences persisted between runs.
type UI struct {
	PageSize   int    `mapstructure:"page_size" json:"page_size"`
	Sort       string `mapstructure:"sort" json:"sort"`
	TrackForks bool   `mapstructure:"track_forks" json:"track_forks"`
}

// Config is the full CLI configuration. Token and UI come from config.json;
// the remaining fields are environment-only tuning knobs.
type Config struct {
	Token        string `mapstructure:"token" json:"token,omitempty"`
	TokenVersion int    `mapstructure:"token_version" json:"token_version,omitempty"`
	// Login is the viewer login the token resolved to, cached so cache key
	// derivation works without a network round trip.
	Login string `mapstructure:"login" json:"login,omitempty"`
	UI           UI     `mapstructure:"ui" json:"ui"`

	CacheTTL     time.Duration `mapstructure:"cache_ttl" json:"-"`
	Debug        bool          `mapstructure:"debug" json:"-"`
	OTLPEndpoint string        `mapstructure:"otlp_endpoint" json:"-"`
}

// ValidToken returns the stored token, or "" when none is stored or it was
// minted for an older token version.
func (c *Config) ValidToken() string {
	if c.Token == "" || c.TokenVersion != CurrentTokenVersion {
		return ""
	}
	return c.Token
}

// SortSpec parses the configured sort preference, falling back to the
// default order on garbage.
func (c *Config) SortSpec() repoctl.SortSpec {
	spec, err := repoctl.ParseSortSpec(c.UI.Sort)
	if err != nil {
		return repoctl.DefaultSort
	}
	return spec
}

// StateDir returns the per-user state directory, creating it if needed.
func StateDir() (string, error) {
	base, err := os.UserConfigDir()
	if err != nil {
		return "", fmt.Errorf("resolving config dir: %w", err)
	}
	dir := filepath.Join(base, "repoctl")
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return "", fmt.Errorf("creating state dir: %w", err)
	}
	return dir, nil
}

// FreshnessPath returns the freshness index location under dir.
func FreshnessPath(dir string) string {
	return filepath.Join(dir, "freshness.json")
}

// CachePath returns the cache database location under dir.
func CachePath(dir string) string {
	return filepath.Join(dir, "cache.db")
}

// Load reads config.json from dir, applying defaults and REPOCTL_*
// environment overrides. A missing file is not an error.
func Load(dir string) (*Config, error) {
	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("json")
	v.AddConfigPath(dir)

	v.SetDefault("ui.page_size", DefaultPageSize)
	v.SetDefault("ui.sort", repoctl.DefaultSort.String())
	v.SetDefault("ui.track_forks", false)
	v.SetDefault("cache_ttl", "30m")
	v.SetDefault("debug", false)
	v.SetDefault("otlp_endpoint", "")

	v.SetEnvPrefix("REPOCTL")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Env-only keys have no default and must be bound explicitly for
	// Unmarshal to see them.
	_ = v.BindEnv("token", "REPOCTL_TOKEN", "GITHUB_TOKEN")
	_ = v.BindEnv("ui.page_size", "REPOCTL_PAGE_SIZE")
	_ = v.BindEnv("cache_ttl", "REPOCTL_CACHE_TTL")
	_ = v.BindEnv("debug", "REPOCTL_DEBUG")
	_ = v.BindEnv("otlp_endpoint", "REPOCTL_OTLP_ENDPOINT")

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("reading config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}

	// A token arriving via environment bypasses the version check; versions
	// only gate tokens we persisted ourselves.
	if os.Getenv("REPOCTL_TOKEN") != "" || os.Getenv("GITHUB_TOKEN") != "" {
		cfg.TokenVersion = CurrentTokenVersion
	}

	if cfg.UI.PageSize <= 0 {
		cfg.UI.PageSize = DefaultPageSize
	}
	return &cfg, nil
}

// Save writes config.json to dir with owner-only permissions. The write is
// atomic so a crash never leaves a truncated token file.
func Save(dir string, cfg *Config) error {
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding config: %w", err)
	}

	path := filepath.Join(dir, fileName)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("writing config: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("replacing config: %w", err)
	}
	return nil
}

// SaveToken stores a validated token and the login it resolved to, stamping
// the current token version and preserving the rest of the config.
func SaveToken(dir, token, login string) error {
	cfg, err := Load(dir)
	if err != nil {
		cfg = &Config{UI: UI{PageSize: DefaultPageSize, Sort: repoctl.DefaultSort.String()}}
	}
	cfg.Token = token
	cfg.TokenVersion = CurrentTokenVersion
	cfg.Login = login
	return Save(dir, cfg)
}
