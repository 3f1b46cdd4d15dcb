package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// AppConfig is read from a YAML file under the user's home directory.
// All fields are optional; defaults are applied through the accessor methods.
//
// Example (~/.opsloom/config.yaml):
//
// server:
//   host: 127.0.0.1
//   port: 8210
// model:
//   provider: openai
//   api_key: sk-...
//   model: gpt-4o
// agent:
//   max_rounds: 10
//   approval_timeout: 5m
//
// Notes:
// - If the config file does not exist, Load returns defaults without error.
// - If the config file exists but cannot be parsed, Load returns an error.
// - Port must be between 1 and 65535.

type AppConfig struct {
	Server   ServerConfig   `yaml:"server"`
	Database DatabaseConfig `yaml:"database"`
	Model    ModelConfig    `yaml:"model"`
	Agent    AgentConfig    `yaml:"agent"`
	Memory   MemoryConfig   `yaml:"memory"`
	Research ResearchConfig `yaml:"research"`

	// Agents maps custom agent ids to alternate system prompts, selectable
	// per turn via customAgentId.
	Agents map[string]string `yaml:"agents"`
}

type ServerConfig struct {
	Host *string `yaml:"host"`
	Port *int    `yaml:"port"`
}

// Duration accepts human-readable values like "90s" or "5m" in YAML.
type Duration time.Duration

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	parsed, err := time.ParseDuration(value.Value)
	if err != nil {
		return fmt.Errorf("parse duration %q: %w", value.Value, err)
	}
	*d = Duration(parsed)
	return nil
}

func (d Duration) MarshalYAML() (any, error) {
	return time.Duration(d).String(), nil
}

type DatabaseConfig struct {
	Path *string `yaml:"path"`
}

type ModelConfig struct {
	Provider        *string `yaml:"provider"`
	APIKey          *string `yaml:"api_key"`
	BaseURL         *string `yaml:"base_url"`
	Model           *string `yaml:"model"`
	ClassifierModel *string `yaml:"classifier_model"`
	SummaryModel    *string `yaml:"summary_model"`
}

type AgentConfig struct {
	MaxRounds       *int      `yaml:"max_rounds"`
	ApprovalTimeout *Duration `yaml:"approval_timeout"`
	ToolTimeout     *Duration `yaml:"tool_timeout"`
}

type MemoryConfig struct {
	ContextBudgetTokens *int     `yaml:"context_budget_tokens"`
	CompactThreshold    *float64 `yaml:"compact_threshold"`
	RecentKeep          *int     `yaml:"recent_keep"`
	CharsPerToken       *int     `yaml:"chars_per_token"`
}

type ResearchConfig struct {
	SerperAPIKey *string   `yaml:"serper_api_key"`
	Timeout      *Duration `yaml:"timeout"`
}

const (
	DefaultHost = "127.0.0.1"
	DefaultPort = 8210

	DefaultProvider = "openai"

	DefaultMaxRounds       = 10
	DefaultApprovalTimeout = 5 * time.Minute
	DefaultToolTimeout     = 60 * time.Second

	DefaultContextBudgetTokens = 100000
	DefaultCompactThreshold    = 0.8
	DefaultRecentKeep          = 10
	DefaultCharsPerToken       = 4

	DefaultResearchTimeout = 20 * time.Second
)

// DefaultPaths returns the config dir and config file path.
func DefaultPaths() (configDir string, configFile string, err error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", "", fmt.Errorf("get user home dir: %w", err)
	}
	configDir = filepath.Join(home, ".opsloom")
	configFile = filepath.Join(configDir, "config.yaml")
	return configDir, configFile, nil
}

// Load reads ~/.opsloom/config.yaml.
// If the file doesn't exist, it returns a default config and nil error.
func Load() (*AppConfig, string, error) {
	_, configFile, err := DefaultPaths()
	if err != nil {
		return nil, "", err
	}

	cfg := &AppConfig{}

	b, err := os.ReadFile(configFile)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return cfg, configFile, nil
		}
		return nil, "", fmt.Errorf("read config file %s: %w", configFile, err)
	}

	if err := yaml.Unmarshal(b, cfg); err != nil {
		return nil, "", fmt.Errorf("parse yaml config %s: %w", configFile, err)
	}

	if strings.TrimSpace(cfg.Host()) == "" {
		return nil, "", fmt.Errorf("invalid server.host (empty) in %s", configFile)
	}
	if port := cfg.Port(); port < 1 || port > 65535 {
		return nil, "", fmt.Errorf("invalid server.port %d in %s", port, configFile)
	}
	if cfg.MaxRounds() < 1 {
		return nil, "", fmt.Errorf("invalid agent.max_rounds %d in %s", cfg.MaxRounds(), configFile)
	}
	if th := cfg.CompactThreshold(); th <= 0 || th > 1 {
		return nil, "", fmt.Errorf("invalid memory.compact_threshold %v in %s", th, configFile)
	}

	return cfg, configFile, nil
}

// EnsureDefaultConfig writes a default config file if it doesn't already exist.
// It is safe to call on startup.
func EnsureDefaultConfig() (string, error) {
	configDir, configFile, err := DefaultPaths()
	if err != nil {
		return "", err
	}

	if _, err := os.Stat(configFile); err == nil {
		return configFile, nil
	}

	if err := os.MkdirAll(configDir, 0o700); err != nil {
		return "", fmt.Errorf("create config dir %s: %w", configDir, err)
	}

	defaultCfg := AppConfig{
		Server: ServerConfig{Host: ptr(DefaultHost), Port: ptr(DefaultPort)},
		Model:  ModelConfig{Provider: ptr(DefaultProvider)},
	}
	b, err := yaml.Marshal(&defaultCfg)
	if err != nil {
		return "", fmt.Errorf("marshal default config: %w", err)
	}

	// Restrictive permissions; the file may hold API keys.
	if err := os.WriteFile(configFile, b, 0o600); err != nil {
		return "", fmt.Errorf("write default config file %s: %w", configFile, err)
	}

	return configFile, nil
}

func (c *AppConfig) Host() string {
	if c == nil || c.Server.Host == nil {
		return DefaultHost
	}
	v := strings.TrimSpace(*c.Server.Host)
	if v == "" {
		return DefaultHost
	}
	return v
}

// Port returns the listen port. OPSLOOM_PORT overrides the config file.
func (c *AppConfig) Port() int {
	if v := os.Getenv("OPSLOOM_PORT"); v != "" {
		if p, err := strconv.Atoi(v); err == nil && p >= 1 && p <= 65535 {
			return p
		}
	}
	if c == nil || c.Server.Port == nil {
		return DefaultPort
	}
	return *c.Server.Port
}

// DatabasePath resolves the sqlite file location, defaulting next to the
// config file.
func (c *AppConfig) DatabasePath() (string, error) {
	if c != nil && c.Database.Path != nil && strings.TrimSpace(*c.Database.Path) != "" {
		return *c.Database.Path, nil
	}
	configDir, _, err := DefaultPaths()
	if err != nil {
		return "", err
	}
	return filepath.Join(configDir, "opsloom.db"), nil
}

func (c *AppConfig) Provider() string {
	if c == nil || c.Model.Provider == nil || strings.TrimSpace(*c.Model.Provider) == "" {
		return DefaultProvider
	}
	return strings.ToLower(strings.TrimSpace(*c.Model.Provider))
}

func (c *AppConfig) APIKey() string {
	if c == nil || c.Model.APIKey == nil {
		return ""
	}
	return strings.TrimSpace(*c.Model.APIKey)
}

func (c *AppConfig) BaseURL() string {
	if c == nil || c.Model.BaseURL == nil {
		return ""
	}
	return strings.TrimSpace(*c.Model.BaseURL)
}

func (c *AppConfig) ModelID() string {
	if c == nil || c.Model.Model == nil {
		return ""
	}
	return strings.TrimSpace(*c.Model.Model)
}

// ClassifierModelID falls back to the main model when no dedicated
// classifier model is configured.
func (c *AppConfig) ClassifierModelID() string {
	if c != nil && c.Model.ClassifierModel != nil && strings.TrimSpace(*c.Model.ClassifierModel) != "" {
		return strings.TrimSpace(*c.Model.ClassifierModel)
	}
	return c.ModelID()
}

// SummaryModelID falls back to the main model when no dedicated summary
// model is configured.
func (c *AppConfig) SummaryModelID() string {
	if c != nil && c.Model.SummaryModel != nil && strings.TrimSpace(*c.Model.SummaryModel) != "" {
		return strings.TrimSpace(*c.Model.SummaryModel)
	}
	return c.ModelID()
}

func (c *AppConfig) MaxRounds() int {
	if c == nil || c.Agent.MaxRounds == nil {
		return DefaultMaxRounds
	}
	return *c.Agent.MaxRounds
}

func (c *AppConfig) ApprovalTimeout() time.Duration {
	if c == nil || c.Agent.ApprovalTimeout == nil || *c.Agent.ApprovalTimeout <= 0 {
		return DefaultApprovalTimeout
	}
	return time.Duration(*c.Agent.ApprovalTimeout)
}

func (c *AppConfig) ToolTimeout() time.Duration {
	if c == nil || c.Agent.ToolTimeout == nil || *c.Agent.ToolTimeout <= 0 {
		return DefaultToolTimeout
	}
	return time.Duration(*c.Agent.ToolTimeout)
}

func (c *AppConfig) ContextBudgetTokens() int {
	if c == nil || c.Memory.ContextBudgetTokens == nil || *c.Memory.ContextBudgetTokens <= 0 {
		return DefaultContextBudgetTokens
	}
	return *c.Memory.ContextBudgetTokens
}

func (c *AppConfig) CompactThreshold() float64 {
	if c == nil || c.Memory.CompactThreshold == nil {
		return DefaultCompactThreshold
	}
	return *c.Memory.CompactThreshold
}

func (c *AppConfig) RecentKeep() int {
	if c == nil || c.Memory.RecentKeep == nil || *c.Memory.RecentKeep < 1 {
		return DefaultRecentKeep
	}
	return *c.Memory.RecentKeep
}

func (c *AppConfig) CharsPerToken() int {
	if c == nil || c.Memory.CharsPerToken == nil || *c.Memory.CharsPerToken < 1 {
		return DefaultCharsPerToken
	}
	return *c.Memory.CharsPerToken
}

func (c *AppConfig) SerperAPIKey() string {
	if c == nil || c.Research.SerperAPIKey == nil {
		return ""
	}
	return strings.TrimSpace(*c.Research.SerperAPIKey)
}

func (c *AppConfig) ResearchTimeout() time.Duration {
	if c == nil || c.Research.Timeout == nil || *c.Research.Timeout <= 0 {
		return DefaultResearchTimeout
	}
	return time.Duration(*c.Research.Timeout)
}

// AgentPrompt looks up the system prompt of a custom agent id.
func (c *AppConfig) AgentPrompt(id string) (string, bool) {
	if c == nil || c.Agents == nil {
		return "", false
	}
	prompt, ok := c.Agents[id]
	if !ok || strings.TrimSpace(prompt) == "" {
		return "", false
	}
	return prompt, true
}

func ptr[T any](v T) *T { return &v }
