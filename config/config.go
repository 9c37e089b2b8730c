package config

import (
	"fmt"
	"os"
	"time"

	"github.com/BurntSushi/toml"
)

// TomlServer holds the HTTP server settings.
type TomlServer struct {
	Host string `toml:"host"`
	Port int    `toml:"port"`
}

// TomlPoll holds the scheduler settings.
type TomlPoll struct {
	IntervalMs int64 `toml:"interval_ms"`
}

// TomlFetch holds the fetcher settings.
type TomlFetch struct {
	TimeoutMs    int64  `toml:"timeout_ms"`
	ProxyURL     string `toml:"proxy_url,omitempty"`
	DisableCache bool   `toml:"disable_cache,omitempty"`
}

// TomlDedup makes the post dedup scope an explicit policy choice.
type TomlDedup struct {
	Scope string `toml:"scope"`
}

// TomlSeedFeed is a feed ingested at startup.
type TomlSeedFeed struct {
	URL string `toml:"url"`
}

// TomlConfig represents the top-level configuration
type TomlConfig struct {
	Server TomlServer     `toml:"server"`
	Poll   TomlPoll       `toml:"poll"`
	Fetch  TomlFetch      `toml:"fetch"`
	Dedup  TomlDedup      `toml:"dedup"`
	Feeds  []TomlSeedFeed `toml:"feeds"`
}

// DefaultConfig returns the configuration used when no file is given.
func DefaultConfig() *TomlConfig {
	cfg := &TomlConfig{}
	cfg.applyDefaults()
	return cfg
}

func LoadConfig(path string) (*TomlConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("error reading config file: %w", err)
	}

	var config TomlConfig
	if err := toml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("error parsing config file: %w", err)
	}

	config.applyDefaults()
	return &config, nil
}

func (c *TomlConfig) applyDefaults() {
	if c.Server.Host == "" {
		c.Server.Host = "0.0.0.0"
	}
	if c.Server.Port == 0 {
		c.Server.Port = 3000
	}
	if c.Poll.IntervalMs <= 0 {
		c.Poll.IntervalMs = 5000
	}
	if c.Fetch.TimeoutMs <= 0 {
		c.Fetch.TimeoutMs = 5000
	}
	if c.Dedup.Scope == "" {
		c.Dedup.Scope = "global"
	}
}

// PollInterval returns the poll interval as a duration.
func (c *TomlConfig) PollInterval() time.Duration {
	return time.Duration(c.Poll.IntervalMs) * time.Millisecond
}

// FetchTimeout returns the fetch deadline as a duration.
func (c *TomlConfig) FetchTimeout() time.Duration {
	return time.Duration(c.Fetch.TimeoutMs) * time.Millisecond
}
