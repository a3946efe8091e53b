// Package config loads and validates service configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Site      SiteConfig      `mapstructure:"site"`
	Crawler   CrawlerConfig   `mapstructure:"crawler"`
	Session   SessionConfig   `mapstructure:"session"`
	Proxy     ProxyConfig     `mapstructure:"proxy"`
	DB        DBConfig        `mapstructure:"db"`
	Scheduler SchedulerConfig `mapstructure:"scheduler"`
	Logging   LoggingConfig   `mapstructure:"logging"`
}

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Port int `mapstructure:"port"`
}

// SiteConfig identifies the target forum. Themes overrides the built-in
// forum registry with fid→name pairs when set.
type SiteConfig struct {
	BaseURL string            `mapstructure:"base_url"`
	Themes  map[string]string `mapstructure:"themes"`
}

// CrawlerConfig governs fetch concurrency and crawl pacing.
type CrawlerConfig struct {
	MaxConcurrent     int    `mapstructure:"max_concurrent"`
	TimeoutSeconds    int    `mapstructure:"timeout_seconds"`
	DelayPagesSeconds int    `mapstructure:"delay_pages_seconds"`
	ResultsDir        string `mapstructure:"results_dir"`
}

// SessionConfig controls cookie acquisition and refresh.
type SessionConfig struct {
	CookiesFile           string `mapstructure:"cookies_file"`
	RefreshIntervalMin    int    `mapstructure:"refresh_interval_minutes"`
	MaxRetries            int    `mapstructure:"max_retries"`
	RetryDelaySeconds     int    `mapstructure:"retry_delay_seconds"`
	NavTimeoutSeconds     int    `mapstructure:"nav_timeout_seconds"`
	InterstitialWaitSec   int    `mapstructure:"interstitial_wait_seconds"`
	InterstitialLongerSec int    `mapstructure:"interstitial_longer_wait_seconds"`
}

// ProxyConfig configures the optional outbound proxy.
type ProxyConfig struct {
	URL string `mapstructure:"url"`
	// ContainerHostAlias is rewritten to ContainerHostAddr when running
	// inside a container, where the alias does not resolve.
	ContainerHostAlias string   `mapstructure:"container_host_alias"`
	ContainerHostAddr  string   `mapstructure:"container_host_addr"`
	NoProxyHosts       []string `mapstructure:"no_proxy_hosts"`
}

// DBConfig controls access to the relational database.
type DBConfig struct {
	DSN      string `mapstructure:"dsn"`
	MaxConns int32  `mapstructure:"max_conns"`
}

// SchedulerConfig controls the cron task runner.
type SchedulerConfig struct {
	Enabled         bool   `mapstructure:"enabled"`
	PollSeconds     int    `mapstructure:"poll_seconds"`
	DefaultTimezone string `mapstructure:"default_timezone"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool `mapstructure:"development"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("THREADHARVEST")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
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
	v.SetDefault("server.port", 8080)
	v.SetDefault("site.base_url", "https://sehuatang.org")
	v.SetDefault("crawler.max_concurrent", 5)
	v.SetDefault("crawler.timeout_seconds", 30)
	v.SetDefault("crawler.delay_pages_seconds", 2)
	v.SetDefault("crawler.results_dir", "data/crawler_results")
	v.SetDefault("session.cookies_file", "data/cookies.json")
	v.SetDefault("session.refresh_interval_minutes", 60)
	v.SetDefault("session.max_retries", 3)
	v.SetDefault("session.retry_delay_seconds", 60)
	v.SetDefault("session.nav_timeout_seconds", 30)
	v.SetDefault("session.interstitial_wait_seconds", 10)
	v.SetDefault("session.interstitial_longer_wait_seconds", 15)
	v.SetDefault("proxy.container_host_alias", "host.docker.internal")
	v.SetDefault("db.max_conns", 10)
	v.SetDefault("scheduler.enabled", true)
	v.SetDefault("scheduler.poll_seconds", 60)
	v.SetDefault("scheduler.default_timezone", "Asia/Shanghai")
	v.SetDefault("logging.development", true)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.Site.BaseURL == "" {
		return fmt.Errorf("site.base_url is required")
	}
	if c.Crawler.MaxConcurrent <= 0 {
		return fmt.Errorf("crawler.max_concurrent must be > 0")
	}
	if c.Crawler.TimeoutSeconds <= 0 {
		return fmt.Errorf("crawler.timeout_seconds must be > 0")
	}
	if c.Session.CookiesFile == "" {
		return fmt.Errorf("session.cookies_file is required")
	}
	if c.Session.MaxRetries < 0 {
		return fmt.Errorf("session.max_retries must be >= 0")
	}
	if c.Scheduler.PollSeconds <= 0 {
		return fmt.Errorf("scheduler.poll_seconds must be > 0")
	}
	return nil
}

// FetchTimeout returns the per-request HTTP timeout.
func (c Config) FetchTimeout() time.Duration {
	return time.Duration(c.Crawler.TimeoutSeconds) * time.Second
}

// PageDelay returns the delay between list pages.
func (c Config) PageDelay() time.Duration {
	return time.Duration(c.Crawler.DelayPagesSeconds) * time.Second
}

// SessionRefreshInterval returns how long an acquired session is trusted.
func (c Config) SessionRefreshInterval() time.Duration {
	return time.Duration(c.Session.RefreshIntervalMin) * time.Minute
}
