package config

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path"
	"time"

	"gopkg.in/yaml.v3"
)

// CredentialEnv overrides reporting.credential when set.
const CredentialEnv = "VIEWTRACK_CREDENTIAL"

// TokenEnv overrides server.auth_token.
const TokenEnv = "VIEWTRACK_TOKEN"

const DefaultEndpoint = "http://127.0.0.1:5000/personal/track_viewing"

type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Reporting  ReportingConfig  `yaml:"reporting"`
	Visibility VisibilityConfig `yaml:"visibility"`
	Session    SessionConfig    `yaml:"session"`
	Sources    SourcesConfig    `yaml:"sources"`
	Privacy    PrivacyConfig    `yaml:"privacy"`
}

// ServerConfig configures the agent's HTTP server. AllowedOrigins lists
// browser origins (the extension) allowed to open the bridge in addition to
// loopback.
type ServerConfig struct {
	Port              int           `yaml:"port"`
	Host              string        `yaml:"host"`
	AuthToken         string        `yaml:"auth_token"`
	AllowedOrigins    []string      `yaml:"allowed_origins"`
	BroadcastThrottle time.Duration `yaml:"broadcast_throttle"`
	SnapshotInterval  time.Duration `yaml:"snapshot_interval"`
	MaxFeedClients    int           `yaml:"max_feed_clients"`
}

type ReportingConfig struct {
	Endpoint      string        `yaml:"endpoint"`
	Credential    string        `yaml:"credential"`
	UserID        string        `yaml:"user_id"`
	Timeout       time.Duration `yaml:"timeout"`
	DegradedAfter int           `yaml:"degraded_after"`
	FailedAfter   int           `yaml:"failed_after"`
}

type VisibilityConfig struct {
	PollInterval          time.Duration `yaml:"poll_interval"`
	URLWatchInterval      time.Duration `yaml:"url_watch_interval"`
	SettleDelay           time.Duration `yaml:"settle_delay"`
	IntersectionThreshold float64       `yaml:"intersection_threshold"`
	ConfirmDelay          time.Duration `yaml:"confirm_delay"`
}

type SessionConfig struct {
	HeartbeatInterval time.Duration `yaml:"heartbeat_interval"`
	PauseWhenHidden   bool          `yaml:"pause_when_hidden"`
}

// SourcesConfig enables or disables individual source adapters.
type SourcesConfig struct {
	YouTube bool `yaml:"youtube"`
	Twitter bool `yaml:"twitter"`
}

// PrivacyConfig limits what leaves the agent. Page patterns are globs over
// host+path without "www.", e.g. "x.com/messages/*".
type PrivacyConfig struct {
	OmitTitles   bool     `yaml:"omit_titles"`
	OmitURLs     bool     `yaml:"omit_urls"`
	OmitTags     bool     `yaml:"omit_tags"`
	HashUserID   bool     `yaml:"hash_user_id"`
	AllowedPages []string `yaml:"allowed_pages"`
	BlockedPages []string `yaml:"blocked_pages"`
}

func defaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Port:              8765,
			Host:              "127.0.0.1",
			BroadcastThrottle: 100 * time.Millisecond,
			SnapshotInterval:  5 * time.Second,
			MaxFeedClients:    16,
		},
		Reporting: ReportingConfig{
			Endpoint:      DefaultEndpoint,
			UserID:        "default_user",
			Timeout:       10 * time.Second,
			DegradedAfter: 1,
			FailedAfter:   5,
		},
		Visibility: VisibilityConfig{
			PollInterval:          time.Second,
			URLWatchInterval:      500 * time.Millisecond,
			SettleDelay:           2 * time.Second,
			IntersectionThreshold: 0.5,
			ConfirmDelay:          3 * time.Second,
		},
		Session: SessionConfig{
			HeartbeatInterval: 30 * time.Second,
		},
		Sources: SourcesConfig{
			YouTube: true,
			Twitter: true,
		},
	}
}

// Default returns the built-in configuration with environment overrides
// applied.
func Default() *Config {
	cfg := defaultConfig()
	cfg.applyEnv()
	return cfg
}

func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	cfg := defaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	cfg.applyEnv()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

// LoadOrDefault is Load, except that a missing file yields the defaults.
func LoadOrDefault(path string) (*Config, error) {
	cfg, err := Load(path)
	if errors.Is(err, os.ErrNotExist) {
		return Default(), nil
	}
	return cfg, err
}

func (c *Config) applyEnv() {
	if v := os.Getenv(CredentialEnv); v != "" {
		c.Reporting.Credential = v
	}
	if v := os.Getenv(TokenEnv); v != "" {
		c.Server.AuthToken = v
	}
}

// Validate rejects values the tracker cannot run with.
func (c *Config) Validate() error {
	u, err := url.Parse(c.Reporting.Endpoint)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("reporting.endpoint %q is not an http(s) URL", c.Reporting.Endpoint)
	}
	positive := map[string]time.Duration{
		"reporting.timeout":             c.Reporting.Timeout,
		"visibility.poll_interval":      c.Visibility.PollInterval,
		"visibility.url_watch_interval": c.Visibility.URLWatchInterval,
		"visibility.settle_delay":       c.Visibility.SettleDelay,
		"visibility.confirm_delay":      c.Visibility.ConfirmDelay,
		"session.heartbeat_interval":    c.Session.HeartbeatInterval,
	}
	for name, d := range positive {
		if d <= 0 {
			return fmt.Errorf("%s must be positive, got %s", name, d)
		}
	}
	if t := c.Visibility.IntersectionThreshold; t <= 0 || t > 1 {
		return fmt.Errorf("visibility.intersection_threshold must be in (0, 1], got %v", t)
	}
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port %d out of range", c.Server.Port)
	}
	for _, patterns := range [][]string{c.Privacy.AllowedPages, c.Privacy.BlockedPages} {
		for _, p := range patterns {
			if _, err := path.Match(p, ""); err != nil {
				return fmt.Errorf("privacy page pattern %q: %w", p, err)
			}
		}
	}
	return nil
}

// GenerateToken returns a random 32-character hex token for server.auth_token.
func GenerateToken() (string, error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
