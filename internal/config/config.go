package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const FileName = "scriptline.yml"

// Config models scriptline.yml.
type Config struct {
	Connection Connection `yaml:"connection"`
	Export     Export     `yaml:"export"`
	Import     struct {
		Concurrency int `yaml:"concurrency"`
	} `yaml:"import"`
	Local Local `yaml:"local"`
	Log   Log   `yaml:"log"`
}

// Connection selects the remote script service. An empty BaseURL means the
// local workspace store.
type Connection struct {
	BaseURL     string `yaml:"base_url"`
	APIKey      string `yaml:"api_key"`
	BearerToken string `yaml:"bearer_token"`
	Timeout     string `yaml:"timeout"`
}

// Export is the provenance written into export documents.
type Export struct {
	Origin        string `yaml:"origin"`
	OriginVersion string `yaml:"origin_version"`
	ExportedBy    string `yaml:"exported_by"`
	Tool          string `yaml:"tool"`
	ToolVersion   string `yaml:"tool_version"`
}

// Local tunes the workspace sqlite store.
type Local struct {
	BusyTimeout string `yaml:"busy_timeout"`
}

type Log struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Load reads and validates config from workspace.
func Load(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config %s not found; create one with sl config init", path)
		}
		return nil, err
	}
	return FromYAML(data)
}

// Validate ensures the config meets required structure.
func (c *Config) Validate() error {
	if u := strings.TrimSpace(c.Connection.BaseURL); u != "" {
		if !strings.HasPrefix(u, "http://") && !strings.HasPrefix(u, "https://") {
			return fmt.Errorf("connection.base_url must start with http:// or https://")
		}
	}
	if c.Connection.APIKey != "" && c.Connection.BearerToken != "" {
		return fmt.Errorf("connection.api_key and connection.bearer_token are mutually exclusive")
	}
	if _, err := c.Connection.TimeoutDuration(); err != nil {
		return err
	}
	if _, err := c.Local.BusyTimeoutDuration(); err != nil {
		return err
	}
	if c.Import.Concurrency < 1 {
		return fmt.Errorf("import.concurrency must be at least 1")
	}
	switch c.Log.Level {
	case "", "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("log.level must be one of debug, info, warn, error")
	}
	switch c.Log.Format {
	case "", "console", "json":
	default:
		return fmt.Errorf("log.format must be console or json")
	}
	if strings.TrimSpace(c.Export.Tool) == "" {
		return fmt.Errorf("export.tool is required")
	}
	return nil
}

// TimeoutDuration parses the connection timeout, defaulting to 10s.
func (c Connection) TimeoutDuration() (time.Duration, error) {
	if strings.TrimSpace(c.Timeout) == "" {
		return 10 * time.Second, nil
	}
	d, err := time.ParseDuration(c.Timeout)
	if err != nil {
		return 0, fmt.Errorf("connection.timeout: %w", err)
	}
	if d <= 0 {
		return 0, fmt.Errorf("connection.timeout must be positive")
	}
	return d, nil
}

// BusyTimeoutDuration parses the sqlite busy timeout, defaulting to 5s.
func (l Local) BusyTimeoutDuration() (time.Duration, error) {
	if strings.TrimSpace(l.BusyTimeout) == "" {
		return 5 * time.Second, nil
	}
	d, err := time.ParseDuration(l.BusyTimeout)
	if err != nil {
		return 0, fmt.Errorf("local.busy_timeout: %w", err)
	}
	if d < time.Millisecond {
		return 0, fmt.Errorf("local.busy_timeout must be at least 1ms")
	}
	return d, nil
}

// Remote reports whether the config points at a remote script service.
func (c *Config) Remote() bool {
	return strings.TrimSpace(c.Connection.BaseURL) != ""
}

// Path returns the config file path for a workspace.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, FileName)
}

// GenerateDefault returns default config YAML.
func GenerateDefault(toolVersion string) string {
	return fmt.Sprintf(defaultTemplate, toolVersion)
}

// LoadOptional returns the default config if the file does not exist.
func LoadOptional(workspace, toolVersion string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Default(toolVersion), nil
		}
		return nil, err
	}
	return FromYAML(data)
}

// Default returns the default Config struct.
func Default(toolVersion string) *Config {
	var cfg Config
	_ = yaml.NewDecoder(bytes.NewBufferString(GenerateDefault(toolVersion))).Decode(&cfg)
	return &cfg
}

// FromYAML parses and validates config from raw YAML bytes. Missing optional
// sections fall back to defaults.
func FromYAML(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("invalid config yaml: %w", err)
	}
	if cfg.Import.Concurrency == 0 {
		cfg.Import.Concurrency = 1
	}
	if cfg.Export.Tool == "" {
		cfg.Export.Tool = "scriptline"
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// FromFile reads YAML config from the given path.
func FromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return FromYAML(data)
}

const defaultTemplate = `connection:
  # Leave base_url empty to work against the local workspace store.
  base_url: ""
  api_key: ""
  bearer_token: ""
  timeout: 10s

export:
  origin: ""
  origin_version: ""
  exported_by: ""
  tool: scriptline
  tool_version: %q

import:
  concurrency: 4

local:
  busy_timeout: 5s

log:
  level: info
  format: console
`
