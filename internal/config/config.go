package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// FileName is the default config file name.
const FileName = "cockpit.yml"

// Config models cockpit.yml.
type Config struct {
	Server struct {
		Addr         string   `yaml:"addr" mapstructure:"addr"`
		CORSOrigins  []string `yaml:"cors_origins" mapstructure:"cors_origins"`
		MaxBodyBytes int64    `yaml:"max_body_bytes" mapstructure:"max_body_bytes"`
	} `yaml:"server" mapstructure:"server"`
	Paths struct {
		SourceDir          string `yaml:"source_dir" mapstructure:"source_dir"`
		OutputDir          string `yaml:"output_dir" mapstructure:"output_dir"`
		NotebooksDir       string `yaml:"notebooks_dir" mapstructure:"notebooks_dir"`
		LockedDir          string `yaml:"locked_dir" mapstructure:"locked_dir"`
		DataDir            string `yaml:"data_dir" mapstructure:"data_dir"`
		CampaignHistoryCSV string `yaml:"campaign_history_csv" mapstructure:"campaign_history_csv"`
		LogDir             string `yaml:"log_dir" mapstructure:"log_dir"`
	} `yaml:"paths" mapstructure:"paths"`
	Notebooks struct {
		Full         string `yaml:"full" mapstructure:"full"`
		Partial      string `yaml:"partial" mapstructure:"partial"`
		Offer        string `yaml:"offer" mapstructure:"offer"`
		Kernel       string `yaml:"kernel" mapstructure:"kernel"`
		PapermillBin string `yaml:"papermill_bin" mapstructure:"papermill_bin"`
	} `yaml:"notebooks" mapstructure:"notebooks"`
	Runs struct {
		HeartbeatInterval time.Duration `yaml:"heartbeat_interval" mapstructure:"heartbeat_interval"`
	} `yaml:"runs" mapstructure:"runs"`
	Auth struct {
		JWTSecret string `yaml:"jwt_secret" mapstructure:"jwt_secret"`
		Issuer    string `yaml:"issuer" mapstructure:"issuer"`
	} `yaml:"auth" mapstructure:"auth"`
	Log struct {
		Level  string `yaml:"level" mapstructure:"level"`
		Format string `yaml:"format" mapstructure:"format"`
	} `yaml:"log" mapstructure:"log"`
	Webhooks []Webhook `yaml:"webhooks" mapstructure:"webhooks"`
}

// Webhook is an outbound event subscription.
type Webhook struct {
	URL            string   `yaml:"url" mapstructure:"url"`
	Events         []string `yaml:"events" mapstructure:"events"`
	Secret         string   `yaml:"secret" mapstructure:"secret"`
	TimeoutSeconds int      `yaml:"timeout_seconds" mapstructure:"timeout_seconds"`
	Enabled        *bool    `yaml:"enabled" mapstructure:"enabled"`
}

// IsEnabled defaults to true when unset.
func (w Webhook) IsEnabled() bool {
	return w.Enabled == nil || *w.Enabled
}

// Default returns the config used when no file exists.
func Default() *Config {
	var cfg Config
	if err := yaml.Unmarshal([]byte(defaultTemplate), &cfg); err != nil {
		panic(fmt.Sprintf("default config: %v", err))
	}
	cfg.applyDefaults()
	return &cfg
}

// applyDefaults fills fields left empty by a partial file.
func (c *Config) applyDefaults() {
	if c.Server.Addr == "" {
		c.Server.Addr = "127.0.0.1:5000"
	}
	if c.Server.MaxBodyBytes == 0 {
		c.Server.MaxBodyBytes = 512 * 1024
	}
	if c.Paths.SourceDir == "" {
		c.Paths.SourceDir = "data/SOURCE_FILES"
	}
	if c.Paths.OutputDir == "" {
		c.Paths.OutputDir = "data/IRON_DATA"
	}
	if c.Paths.NotebooksDir == "" {
		c.Paths.NotebooksDir = "notebooks"
	}
	if c.Paths.LockedDir == "" {
		c.Paths.LockedDir = filepath.Join(c.Paths.OutputDir, "locked_weeks")
	}
	if c.Paths.DataDir == "" {
		c.Paths.DataDir = ".cockpit"
	}
	if c.Paths.CampaignHistoryCSV == "" {
		c.Paths.CampaignHistoryCSV = filepath.Join("data", "campaign_history.csv")
	}
	if c.Paths.LogDir == "" {
		c.Paths.LogDir = "logs"
	}
	if c.Notebooks.Full == "" {
		c.Notebooks.Full = "AVU_ignition_1.ipynb"
	}
	if c.Notebooks.Partial == "" {
		c.Notebooks.Partial = "AVU_schedule_only.ipynb"
	}
	if c.Notebooks.Offer == "" {
		c.Notebooks.Offer = "AUTONOMOUS_AVU_OMT_3.ipynb"
	}
	if c.Notebooks.Kernel == "" {
		c.Notebooks.Kernel = "avu-base"
	}
	if c.Notebooks.PapermillBin == "" {
		c.Notebooks.PapermillBin = "papermill"
	}
	if c.Runs.HeartbeatInterval == 0 {
		c.Runs.HeartbeatInterval = 5 * time.Second
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "text"
	}
}

// Validate ensures the config meets required structure.
func (c *Config) Validate() error {
	if c.Server.Addr == "" {
		return errors.New("config.server.addr is required")
	}
	if c.Server.MaxBodyBytes < 0 {
		return errors.New("config.server.max_body_bytes must not be negative")
	}
	if c.Paths.OutputDir == "" {
		return errors.New("config.paths.output_dir is required")
	}
	if c.Paths.NotebooksDir == "" {
		return errors.New("config.paths.notebooks_dir is required")
	}
	for name, nb := range map[string]string{"full": c.Notebooks.Full, "partial": c.Notebooks.Partial, "offer": c.Notebooks.Offer} {
		if nb == "" {
			return fmt.Errorf("config.notebooks.%s is required", name)
		}
		if filepath.Base(nb) != nb {
			return fmt.Errorf("config.notebooks.%s must be a file name, got %q", name, nb)
		}
	}
	if c.Runs.HeartbeatInterval < 0 {
		return errors.New("config.runs.heartbeat_interval must be positive")
	}
	switch strings.ToLower(c.Log.Level) {
	case "debug", "info", "warn", "warning", "error":
	default:
		return fmt.Errorf("config.log.level %q is not one of debug, info, warn, error", c.Log.Level)
	}
	switch c.Log.Format {
	case "text", "json":
	default:
		return fmt.Errorf("config.log.format %q is not one of text, json", c.Log.Format)
	}
	for i, wh := range c.Webhooks {
		if wh.URL == "" {
			return fmt.Errorf("config.webhooks[%d].url is required", i)
		}
		u, err := url.Parse(wh.URL)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") {
			return fmt.Errorf("config.webhooks[%d].url must be http(s)", i)
		}
		if wh.TimeoutSeconds < 0 {
			return fmt.Errorf("config.webhooks[%d].timeout_seconds must not be negative", i)
		}
	}
	return nil
}

// MissingPaths reports configured input/output directories that do not
// exist.
func (c *Config) MissingPaths() []string {
	var msgs []string
	if _, err := os.Stat(c.Paths.SourceDir); err != nil {
		msgs = append(msgs, fmt.Sprintf("SOURCE path not found: %s", c.Paths.SourceDir))
	}
	if _, err := os.Stat(c.Paths.OutputDir); err != nil {
		msgs = append(msgs, fmt.Sprintf("OUTPUT path not found: %s", c.Paths.OutputDir))
	}
	return msgs
}

// Path returns the config file path for a workspace.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, FileName)
}

// Load reads and validates the config file at path.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config %s not found; create one with cockpit config init", path)
		}
		return nil, err
	}
	return FromYAML(data)
}

// LoadOptional returns Default() if the config file does not exist.
func LoadOptional(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Default(), nil
		}
		return nil, err
	}
	return FromYAML(data)
}

// FromYAML parses, defaults and validates config from raw YAML bytes.
func FromYAML(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("invalid config yaml: %w", err)
	}
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Finalize applies defaults and validates a config assembled elsewhere,
// for example by viper.
func (c *Config) Finalize() error {
	c.applyDefaults()
	return c.Validate()
}

// YAML renders the config.
func (c *Config) YAML() (string, error) {
	out, err := yaml.Marshal(c)
	if err != nil {
		return "", err
	}
	return string(out), nil
}

// GenerateDefault returns the default config file contents.
func GenerateDefault() string {
	return defaultTemplate
}

const defaultTemplate = `server:
  addr: 127.0.0.1:5000
  cors_origins: []
  max_body_bytes: 524288

paths:
  source_dir: data/SOURCE_FILES
  output_dir: data/IRON_DATA
  notebooks_dir: notebooks
  data_dir: .cockpit
  campaign_history_csv: data/campaign_history.csv
  log_dir: logs

notebooks:
  full: AVU_ignition_1.ipynb
  partial: AVU_schedule_only.ipynb
  offer: AUTONOMOUS_AVU_OMT_3.ipynb
  kernel: avu-base
  papermill_bin: papermill

runs:
  heartbeat_interval: 5s

auth:
  jwt_secret: ""

log:
  level: info
  format: text

webhooks: []
`
