package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	DefaultSourceURL        = "http://localhost:8000/api/v1/metrics/"
	defaultPollIntervalMS   = 5000
	defaultRequestTimeoutMS = 4000
	defaultMaxBodyBytes     = 4 * 1024 * 1024
	defaultUserAgent        = "metricsdash/1.0"
	defaultTargetFPS        = 30
	defaultANSIRefreshMS    = 250
	defaultLogDir           = "data/logs"
	defaultLogRetentionDays = 7
)

// UI modes accepted by ui.mode.
const (
	UIModeTview    = "tview"
	UIModeANSI     = "ansi"
	UIModeHeadless = "headless"
)

// Config represents the complete dashboard configuration.
type Config struct {
	Source  SourceConfig  `yaml:"source"`
	UI      UIConfig      `yaml:"ui"`
	Logging LoggingConfig `yaml:"logging"`

	// LoadedFrom records the file or directory the config was read from.
	// Empty when running on built-in defaults.
	LoadedFrom string `yaml:"-"`
}

// SourceConfig describes the metrics endpoint and the poll cadence.
type SourceConfig struct {
	URL              string `yaml:"url"`
	PollIntervalMS   int    `yaml:"poll_interval_ms"`
	RequestTimeoutMS int    `yaml:"request_timeout_ms"`
	MaxBodyBytes     int64  `yaml:"max_body_bytes"`
	UserAgent        string `yaml:"user_agent"`
}

// UIConfig selects and tunes the console surface.
type UIConfig struct {
	Mode        string `yaml:"mode"`
	TargetFPS   int    `yaml:"target_fps"`
	EnableMouse bool   `yaml:"enable_mouse"`
	Filter      string `yaml:"filter"`
	Color       *bool  `yaml:"color"`
	ClearScreen *bool  `yaml:"clear_screen"`
	RefreshMS   int    `yaml:"refresh_ms"`
}

// LoggingConfig controls the optional daily log file sink.
type LoggingConfig struct {
	Enabled       bool   `yaml:"enabled"`
	Dir           string `yaml:"dir"`
	RetentionDays int    `yaml:"retention_days"`
}

// Default returns a config populated with built-in defaults only.
func Default() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	return cfg
}

// Load reads configuration from a YAML file, or from every *.yaml/*.yml file
// in a directory (merged in lexical order, later files win per key).
func Load(path string) (*Config, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, err
	}

	var cfg Config
	if info.IsDir() {
		files, err := yamlFiles(path)
		if err != nil {
			return nil, err
		}
		if len(files) == 0 {
			return nil, fmt.Errorf("no YAML files found in %s", path)
		}
		for _, file := range files {
			if err := decodeFile(file, &cfg); err != nil {
				return nil, err
			}
		}
	} else if err := decodeFile(path, &cfg); err != nil {
		return nil, err
	}

	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", path, err)
	}
	cfg.LoadedFrom = path
	return &cfg, nil
}

func yamlFiles(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read config directory: %w", err)
	}
	files := make([]string, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		switch strings.ToLower(filepath.Ext(entry.Name())) {
		case ".yaml", ".yml":
			files = append(files, filepath.Join(dir, entry.Name()))
		}
	}
	sort.Strings(files)
	return files, nil
}

func decodeFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", filepath.Base(path), err)
	}
	return nil
}

func (c *Config) applyDefaults() {
	c.Source.URL = strings.TrimSpace(c.Source.URL)
	if c.Source.URL == "" {
		c.Source.URL = DefaultSourceURL
	}
	if c.Source.PollIntervalMS == 0 {
		c.Source.PollIntervalMS = defaultPollIntervalMS
	}
	if c.Source.RequestTimeoutMS == 0 {
		c.Source.RequestTimeoutMS = defaultRequestTimeoutMS
	}
	if c.Source.MaxBodyBytes <= 0 {
		c.Source.MaxBodyBytes = defaultMaxBodyBytes
	}
	if strings.TrimSpace(c.Source.UserAgent) == "" {
		c.Source.UserAgent = defaultUserAgent
	}

	c.UI.Mode = strings.ToLower(strings.TrimSpace(c.UI.Mode))
	if c.UI.Mode == "" {
		c.UI.Mode = UIModeTview
	}
	if c.UI.TargetFPS <= 0 {
		c.UI.TargetFPS = defaultTargetFPS
	}
	if c.UI.RefreshMS == 0 {
		c.UI.RefreshMS = defaultANSIRefreshMS
	}
	if c.UI.Color == nil {
		c.UI.Color = boolPtr(true)
	}
	if c.UI.ClearScreen == nil {
		c.UI.ClearScreen = boolPtr(true)
	}

	if strings.TrimSpace(c.Logging.Dir) == "" {
		c.Logging.Dir = defaultLogDir
	}
	if c.Logging.RetentionDays <= 0 {
		c.Logging.RetentionDays = defaultLogRetentionDays
	}
}

// Validate reports the first setting that cannot be used as configured.
func (c *Config) Validate() error {
	u, err := url.Parse(c.Source.URL)
	if err != nil {
		return fmt.Errorf("source.url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("source.url: unsupported scheme %q", u.Scheme)
	}
	if u.Host == "" {
		return errors.New("source.url: missing host")
	}
	if c.Source.PollIntervalMS < 0 {
		return fmt.Errorf("source.poll_interval_ms must not be negative, got %d", c.Source.PollIntervalMS)
	}
	if c.Source.RequestTimeoutMS < 0 {
		return fmt.Errorf("source.request_timeout_ms must not be negative, got %d", c.Source.RequestTimeoutMS)
	}
	switch c.UI.Mode {
	case UIModeTview, UIModeANSI, UIModeHeadless:
	default:
		return fmt.Errorf("ui.mode: unknown mode %q (want %s, %s or %s)", c.UI.Mode, UIModeTview, UIModeANSI, UIModeHeadless)
	}
	if c.UI.RefreshMS < 0 {
		return fmt.Errorf("ui.refresh_ms must not be negative, got %d", c.UI.RefreshMS)
	}
	return nil
}

// PollInterval is the fixed cadence between poll cycles.
func (s SourceConfig) PollInterval() time.Duration {
	return time.Duration(s.PollIntervalMS) * time.Millisecond
}

// RequestTimeout bounds a single fetch.
func (s SourceConfig) RequestTimeout() time.Duration {
	return time.Duration(s.RequestTimeoutMS) * time.Millisecond
}

// Print displays the effective configuration.
func (c *Config) Print() {
	source := c.LoadedFrom
	if source == "" {
		source = "built-in defaults"
	}
	fmt.Printf("Config: %s\n", source)
	fmt.Printf("Source: %s (every %s, timeout %s)\n", c.Source.URL, c.Source.PollInterval(), c.Source.RequestTimeout())
	fmt.Printf("UI: %s\n", c.UI.Mode)
	if c.UI.Filter != "" {
		fmt.Printf("Initial filter: %q\n", c.UI.Filter)
	}
	if c.Logging.Enabled {
		fmt.Printf("Logging: %s (retention %d days)\n", c.Logging.Dir, c.Logging.RetentionDays)
	}
}

func boolPtr(v bool) *bool {
	return &v
}
