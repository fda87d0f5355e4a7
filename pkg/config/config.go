package config

import (
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/openclaw/clawdeck/pkg/errors"
)

// Default configuration values exported for documentation and validation
const (
	DefaultRequestTimeoutMs = 30_000
	DefaultConnectDelayMs   = 750
	DefaultHistoryLimit     = 200
	DefaultRole             = "operator"
	DefaultAuthMode         = AuthModeToken
	DefaultVerboseLevel     = "off"
)

// Auth modes accepted by Gateway.Auth
const (
	AuthModeToken  = "token"
	AuthModeDevice = "device"
)

// DefaultScopes are requested during the gateway handshake.
var DefaultScopes = []string{"operator.read", "operator.admin"}

// Config represents the complete Clawdeck configuration
type Config struct {
	Gateway GatewayConfig `yaml:"gateway"`
	Chat    ChatConfig    `yaml:"chat"`
	Logging LoggingConfig `yaml:"logging"`
}

// GatewayConfig configures the websocket gateway connection
type GatewayConfig struct {
	URL              string   `yaml:"url"`
	Token            string   `yaml:"token"`
	Password         string   `yaml:"password"`
	Auth             string   `yaml:"auth"` // "token" or "device"
	Role             string   `yaml:"role"`
	Scopes           []string `yaml:"scopes"`
	RequestTimeoutMs int      `yaml:"request_timeout_ms"`
	ConnectDelayMs   int      `yaml:"connect_delay_ms"`
}

// ChatConfig configures chat session behavior
type ChatConfig struct {
	HistoryLimit    int    `yaml:"history_limit"`
	IncludeThinking bool   `yaml:"include_thinking"`
	VerboseLevel    string `yaml:"verbose_level"` // "off", "on", "full"
}

// LoggingConfig configures the structured log sinks
type LoggingConfig struct {
	Dir   string `yaml:"dir"`
	Level string `yaml:"level"`
}

// StateDir resolves the Clawdeck state directory.
// CLAWDECK_HOME overrides the default of ~/.clawdeck.
func StateDir() string {
	if home := strings.TrimSpace(os.Getenv("CLAWDECK_HOME")); home != "" {
		return expandHome(home)
	}
	userHome, err := os.UserHomeDir()
	if err != nil {
		return ".clawdeck"
	}
	return filepath.Join(userHome, ".clawdeck")
}

func expandHome(path string) string {
	if path == "~" || strings.HasPrefix(path, "~/") {
		userHome, err := os.UserHomeDir()
		if err == nil {
			return filepath.Join(userHome, strings.TrimPrefix(path, "~"))
		}
	}
	return path
}

// DefaultConfig returns a Config with sensible defaults
func DefaultConfig() *Config {
	return &Config{
		Gateway: GatewayConfig{
			Auth:             DefaultAuthMode,
			Role:             DefaultRole,
			Scopes:           append([]string(nil), DefaultScopes...),
			RequestTimeoutMs: DefaultRequestTimeoutMs,
			ConnectDelayMs:   DefaultConnectDelayMs,
		},
		Chat: ChatConfig{
			HistoryLimit: DefaultHistoryLimit,
			VerboseLevel: DefaultVerboseLevel,
		},
		Logging: LoggingConfig{
			Dir:   filepath.Join(StateDir(), "logs"),
			Level: "info",
		},
	}
}

// Load reads configuration from path, falling back to defaults when the file
// is absent. An empty path resolves to <state-dir>/config.yaml. Environment
// variables override file values after parsing. Callers apply any flag
// overrides and then Validate.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	if path == "" {
		path = filepath.Join(StateDir(), "config.yaml")
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, errors.Wrap(err, errors.ErrCodeConfigLoad, "failed to read config file").
				WithContext("path", path)
		}
	} else if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeConfigParse, "failed to parse config file").
			WithContext("path", path)
	}

	applyEnvOverrides(cfg)
	applyDefaults(cfg)
	return cfg, nil
}

// RequestTimeout returns the per-request deadline as a duration.
func (c *Config) RequestTimeout() time.Duration {
	return time.Duration(c.Gateway.RequestTimeoutMs) * time.Millisecond
}

// ConnectDelay returns the handshake delay as a duration.
func (c *Config) ConnectDelay() time.Duration {
	return time.Duration(c.Gateway.ConnectDelayMs) * time.Millisecond
}

func applyEnvOverrides(cfg *Config) {
	if v := strings.TrimSpace(os.Getenv("CLAWDECK_GATEWAY_URL")); v != "" {
		cfg.Gateway.URL = v
	}
	if v := strings.TrimSpace(os.Getenv("CLAWDECK_TOKEN")); v != "" {
		cfg.Gateway.Token = v
	}
	if v := strings.TrimSpace(os.Getenv("CLAWDECK_PASSWORD")); v != "" {
		cfg.Gateway.Password = v
	}
	if v := strings.TrimSpace(os.Getenv("CLAWDECK_AUTH")); v != "" {
		cfg.Gateway.Auth = v
	}
	if v := strings.TrimSpace(os.Getenv("CLAWDECK_LOG_LEVEL")); v != "" {
		cfg.Logging.Level = v
	}
	if v := strings.TrimSpace(os.Getenv("CLAWDECK_REQUEST_TIMEOUT_MS")); v != "" {
		if ms, err := strconv.Atoi(v); err == nil && ms > 0 {
			cfg.Gateway.RequestTimeoutMs = ms
		}
	}
}

func applyDefaults(cfg *Config) {
	if cfg.Gateway.Auth == "" {
		cfg.Gateway.Auth = DefaultAuthMode
	}
	if cfg.Gateway.Role == "" {
		cfg.Gateway.Role = DefaultRole
	}
	if len(cfg.Gateway.Scopes) == 0 {
		cfg.Gateway.Scopes = append([]string(nil), DefaultScopes...)
	}
	if cfg.Gateway.RequestTimeoutMs <= 0 {
		cfg.Gateway.RequestTimeoutMs = DefaultRequestTimeoutMs
	}
	if cfg.Gateway.ConnectDelayMs < 0 {
		cfg.Gateway.ConnectDelayMs = DefaultConnectDelayMs
	}
	if cfg.Chat.HistoryLimit <= 0 {
		cfg.Chat.HistoryLimit = DefaultHistoryLimit
	}
	if cfg.Chat.VerboseLevel == "" {
		cfg.Chat.VerboseLevel = DefaultVerboseLevel
	}
	if cfg.Logging.Dir == "" {
		cfg.Logging.Dir = filepath.Join(StateDir(), "logs")
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
}

// Validate checks the configuration for invalid values
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Gateway.URL) == "" {
		return errors.New(errors.ErrCodeConfigInvalid, "gateway.url is required").
			WithUserMessage("Set gateway.url in config.yaml or CLAWDECK_GATEWAY_URL")
	}
	parsed, err := url.Parse(c.Gateway.URL)
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeConfigInvalid, "gateway.url is not a valid URL")
	}
	if parsed.Scheme != "ws" && parsed.Scheme != "wss" {
		return errors.New(errors.ErrCodeConfigInvalid, "gateway.url must use ws:// or wss://").
			WithContext("scheme", parsed.Scheme)
	}
	if c.Gateway.Auth != AuthModeToken && c.Gateway.Auth != AuthModeDevice {
		return errors.New(errors.ErrCodeConfigInvalid, "gateway.auth must be \"token\" or \"device\"").
			WithContext("auth", c.Gateway.Auth)
	}
	switch c.Chat.VerboseLevel {
	case "off", "on", "full":
	default:
		return errors.New(errors.ErrCodeConfigInvalid, "chat.verbose_level must be off, on, or full").
			WithContext("verbose_level", c.Chat.VerboseLevel)
	}
	return nil
}
