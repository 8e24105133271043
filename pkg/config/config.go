package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// AppConfig is read from a YAML file under the user's home directory.
// All fields are optional; defaults are applied by the accessor methods.
//
// Example (~/.collab/config.yaml):
//
// server:
//   host: 127.0.0.1
//   port: 8088
// database:
//   path: ~/.collab/collab.db
// model:
//   base_url: https://api.openai.com/v1
//   api_key: sk-...
//   name: gpt-4o-mini
// redis:
//   addr: localhost:6379
//
// Notes:
// - If the config file does not exist, Load returns defaults without error.
// - If the config file exists but cannot be parsed, Load returns an error.
// - COLLAB_CONFIG overrides the config file path.
type AppConfig struct {
	Server    ServerConfig    `yaml:"server"`
	Database  DatabaseConfig  `yaml:"database"`
	Model     ModelConfig     `yaml:"model"`
	Redis     RedisConfig     `yaml:"redis"`
	Workspace WorkspaceConfig `yaml:"workspace"`
}

type ServerConfig struct {
	Host *string `yaml:"host"`
	Port *int    `yaml:"port"`
}

type DatabaseConfig struct {
	Path *string `yaml:"path"`
}

// ModelConfig configures the OpenAI-compatible chat model used for
// assistant replies. An empty API key disables the responder.
type ModelConfig struct {
	BaseURL *string `yaml:"base_url"`
	APIKey  *string `yaml:"api_key"`
	Name    *string `yaml:"name"`
}

// RedisConfig configures the optional cross-instance broadcast relay.
// An empty addr disables the relay.
type RedisConfig struct {
	Addr *string `yaml:"addr"`
}

type WorkspaceConfig struct {
	MaxMessages          *int `yaml:"max_messages"`
	MaxPerUser           *int `yaml:"max_per_user"`
	MaxTotal             *int `yaml:"max_total"`
	ContextMessages      *int `yaml:"context_messages"`
	HeartbeatSeconds     *int `yaml:"heartbeat_seconds"`
	TypingTimeoutSeconds *int `yaml:"typing_timeout_seconds"`
}

const (
	DefaultHost            = "127.0.0.1"
	DefaultPort            = 8088
	DefaultModelName       = "gpt-4o-mini"
	DefaultMaxMessages     = 100
	DefaultMaxPerUser      = 50
	DefaultMaxTotal        = 5000
	DefaultContextMessages = 15
	DefaultHeartbeatSecs   = 30
	DefaultTypingTimeout   = 5
)

// DefaultPaths returns the config dir and config file path.
// COLLAB_CONFIG, when set, overrides the file path entirely.
func DefaultPaths() (configDir string, configFile string, err error) {
	if override := strings.TrimSpace(os.Getenv("COLLAB_CONFIG")); override != "" {
		return filepath.Dir(override), override, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", "", fmt.Errorf("get user home dir: %w", err)
	}
	configDir = filepath.Join(home, ".collab")
	configFile = filepath.Join(configDir, "config.yaml")
	return configDir, configFile, nil
}

// Load reads the config file.
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

	defaultCfg := AppConfig{Server: ServerConfig{Host: ptr(DefaultHost), Port: ptr(DefaultPort)}}
	b, err := yaml.Marshal(&defaultCfg)
	if err != nil {
		return "", fmt.Errorf("marshal default config: %w", err)
	}

	// Restrictive permissions: the file may hold an API key.
	if err := os.WriteFile(configFile, b, 0o600); err != nil {
		return "", fmt.Errorf("write default config file %s: %w", configFile, err)
	}

	return configFile, nil
}

func (c *AppConfig) Host() string {
	if c.Server.Host != nil {
		return *c.Server.Host
	}
	return DefaultHost
}

func (c *AppConfig) Port() int {
	if c.Server.Port != nil {
		return *c.Server.Port
	}
	return DefaultPort
}

// DatabasePath returns the sqlite file path, defaulting to collab.db next to
// the config file.
func (c *AppConfig) DatabasePath() string {
	if c.Database.Path != nil && strings.TrimSpace(*c.Database.Path) != "" {
		return *c.Database.Path
	}
	configDir, _, err := DefaultPaths()
	if err != nil {
		return "collab.db"
	}
	return filepath.Join(configDir, "collab.db")
}

func (c *AppConfig) ModelBaseURL() string {
	if c.Model.BaseURL != nil {
		return *c.Model.BaseURL
	}
	return ""
}

func (c *AppConfig) ModelAPIKey() string {
	if c.Model.APIKey != nil {
		return *c.Model.APIKey
	}
	return os.Getenv("OPENAI_API_KEY")
}

func (c *AppConfig) ModelName() string {
	if c.Model.Name != nil && *c.Model.Name != "" {
		return *c.Model.Name
	}
	return DefaultModelName
}

func (c *AppConfig) RedisAddr() string {
	if c.Redis.Addr != nil {
		return *c.Redis.Addr
	}
	return ""
}

func (c *AppConfig) MaxMessages() int {
	if c.Workspace.MaxMessages != nil && *c.Workspace.MaxMessages > 0 {
		return *c.Workspace.MaxMessages
	}
	return DefaultMaxMessages
}

func (c *AppConfig) MaxWorkspacesPerUser() int {
	if c.Workspace.MaxPerUser != nil && *c.Workspace.MaxPerUser > 0 {
		return *c.Workspace.MaxPerUser
	}
	return DefaultMaxPerUser
}

func (c *AppConfig) MaxTotalWorkspaces() int {
	if c.Workspace.MaxTotal != nil && *c.Workspace.MaxTotal > 0 {
		return *c.Workspace.MaxTotal
	}
	return DefaultMaxTotal
}

func (c *AppConfig) ContextMessages() int {
	if c.Workspace.ContextMessages != nil && *c.Workspace.ContextMessages > 0 {
		return *c.Workspace.ContextMessages
	}
	return DefaultContextMessages
}

func (c *AppConfig) HeartbeatSeconds() int {
	if c.Workspace.HeartbeatSeconds != nil && *c.Workspace.HeartbeatSeconds > 0 {
		return *c.Workspace.HeartbeatSeconds
	}
	return DefaultHeartbeatSecs
}

func (c *AppConfig) TypingTimeoutSeconds() int {
	if c.Workspace.TypingTimeoutSeconds != nil && *c.Workspace.TypingTimeoutSeconds > 0 {
		return *c.Workspace.TypingTimeoutSeconds
	}
	return DefaultTypingTimeout
}

func ptr[T any](v T) *T {
	return &v
}
