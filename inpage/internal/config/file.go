// Package config handles inpage configuration from YAML files or SQLite.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/hazyhaar/overlay/inpage/internal/backend"
)

// Config is the top-level inpage configuration.
type Config struct {
	Pipeline PipelineConfig `yaml:"pipeline"`
	Backend  backend.Config `yaml:"backend"`
	Browser  BrowserConfig  `yaml:"browser"`
	Server   ServerConfig   `yaml:"server"`
	Pages    []PageConfig   `yaml:"pages"`
	Sinks    []SinkConfig   `yaml:"sinks"`
}

// PipelineConfig tunes discovery, chunking and commits.
type PipelineConfig struct {
	ChunkSize   int           `yaml:"chunk_size"`
	CommitDelay time.Duration `yaml:"commit_delay"`
	Kinds       []string      `yaml:"kinds"`
	QueueSize   int           `yaml:"queue_size"`
	// Sanitize is the policy applied to translated HTML: none | page | ugc |
	// strict. none writes the translation exactly; page drops scripts and
	// event handlers but keeps the page's presentational attributes.
	Sanitize string `yaml:"sanitize"`
	// SettleTimeout bounds a static run waiting for outstanding responses.
	SettleTimeout time.Duration `yaml:"settle_timeout"`
}

// BrowserConfig controls Chrome for live pages.
type BrowserConfig struct {
	Remote           string        `yaml:"remote"` // DevTools URL; empty launches a local Chrome
	Bin              string        `yaml:"bin"`
	Headful          bool          `yaml:"headful"`
	Stealth          bool          `yaml:"stealth"`
	ResourceBlocking []string      `yaml:"resource_blocking"` // image | font | media | stylesheet
	ViewportWidth    int           `yaml:"viewport_width"`
	ViewportHeight   int           `yaml:"viewport_height"`
	NavigateTimeout  time.Duration `yaml:"navigate_timeout"`
}

// ServerConfig for serve mode.
type ServerConfig struct {
	Addr         string `yaml:"addr"`
	MaxBodyBytes int64  `yaml:"max_body_bytes"`
	// RatePerSecond limits requests per client IP. Zero disables limiting.
	RatePerSecond float64 `yaml:"rate_per_second"`
	Burst         int     `yaml:"burst"`
	// MCP mounts the MCP streamable HTTP endpoint at /mcp.
	MCP bool `yaml:"mcp"`
}

// PageConfig is a page to translate live.
type PageConfig struct {
	ID  string `yaml:"id"`
	URL string `yaml:"url"`
	// Duration bounds the observation. Zero observes until shutdown.
	Duration time.Duration `yaml:"duration"`
}

// SinkConfig defines an output for commit batches.
type SinkConfig struct {
	Type    string `yaml:"type"` // stdout | webhook | sqlite
	URL     string `yaml:"url"`  // webhook
	Path    string `yaml:"path"` // sqlite database file
	Retries int    `yaml:"retries"`
}

// LoadFile reads a YAML configuration file.
func LoadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read: %w", err)
	}
	return Parse(data)
}

// Parse decodes YAML and applies defaults.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: parse: %w", err)
	}
	cfg.ApplyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Default returns a configuration with every default applied.
func Default() *Config {
	var cfg Config
	cfg.ApplyDefaults()
	return &cfg
}

// ApplyDefaults fills zero values.
func (c *Config) ApplyDefaults() {
	if c.Pipeline.ChunkSize <= 0 {
		c.Pipeline.ChunkSize = 200
	}
	if c.Pipeline.CommitDelay <= 0 {
		c.Pipeline.CommitDelay = 500 * time.Millisecond
	}
	if len(c.Pipeline.Kinds) == 0 {
		c.Pipeline.Kinds = []string{"div", "b", "p", "span", "i"}
	}
	if c.Pipeline.QueueSize <= 0 {
		c.Pipeline.QueueSize = 256
	}
	if c.Pipeline.Sanitize == "" {
		c.Pipeline.Sanitize = "none"
	}
	if c.Pipeline.SettleTimeout <= 0 {
		c.Pipeline.SettleTimeout = 30 * time.Second
	}

	if c.Backend.Type == "" {
		c.Backend.Type = "echo"
	}
	if c.Backend.Burst <= 0 {
		c.Backend.Burst = c.Pipeline.ChunkSize
	}
	if c.Backend.Timeout <= 0 {
		c.Backend.Timeout = 30 * time.Second
	}
	if c.Backend.Backoff <= 0 {
		c.Backend.Backoff = 500 * time.Millisecond
	}

	if c.Browser.ViewportWidth <= 0 {
		c.Browser.ViewportWidth = 1280
	}
	if c.Browser.ViewportHeight <= 0 {
		c.Browser.ViewportHeight = 800
	}
	if c.Browser.NavigateTimeout <= 0 {
		c.Browser.NavigateTimeout = 30 * time.Second
	}

	if c.Server.Addr == "" {
		c.Server.Addr = ":8080"
	}
	if c.Server.MaxBodyBytes <= 0 {
		c.Server.MaxBodyBytes = 5 << 20
	}
	if c.Server.RatePerSecond > 0 && c.Server.Burst <= 0 {
		c.Server.Burst = max(1, int(c.Server.RatePerSecond))
	}
}

func (c *Config) validate() error {
	switch c.Pipeline.Sanitize {
	case "none", "page", "ugc", "strict":
	default:
		return fmt.Errorf("config: unknown sanitize policy %q", c.Pipeline.Sanitize)
	}
	for i, s := range c.Sinks {
		switch s.Type {
		case "stdout":
		case "webhook":
			if s.URL == "" {
				return fmt.Errorf("config: sink %d: webhook needs url", i)
			}
		case "sqlite":
			if s.Path == "" {
				return fmt.Errorf("config: sink %d: sqlite needs path", i)
			}
		default:
			return fmt.Errorf("config: sink %d: unknown type %q", i, s.Type)
		}
	}
	for i, p := range c.Pages {
		if p.URL == "" {
			return fmt.Errorf("config: page %d: url is required", i)
		}
	}
	return nil
}
