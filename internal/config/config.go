package config

import (
	"encoding/json"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration for BrightChat.
type Config struct {
	General GeneralConfig `json:"general" yaml:"general"`
	Server  ServerConfig  `json:"server" yaml:"server"`
	Webhook WebhookConfig `json:"webhook" yaml:"webhook"`
	Client  ClientConfig  `json:"client" yaml:"client"`
	Metrics MetricsConfig `json:"metrics" yaml:"metrics"`
}

type GeneralConfig struct {
	LogLevel string `json:"logLevel" yaml:"logLevel"`
	LogFile  string `json:"logFile,omitempty" yaml:"logFile,omitempty"` // optional log file path
}

type ServerConfig struct {
	Host      string `json:"host" yaml:"host"`
	Port      int    `json:"port" yaml:"port"`
	StaticDir string `json:"staticDir,omitempty" yaml:"staticDir,omitempty"` // overrides the embedded widget when present on disk
}

// WebhookConfig points the forwarder at the automation webhook.
type WebhookConfig struct {
	URL            string `json:"url" yaml:"url"`
	TimeoutSeconds int    `json:"timeoutSeconds" yaml:"timeoutSeconds"`
}

// ClientConfig configures the terminal widget and the send command.
type ClientConfig struct {
	BaseURL      string `json:"baseURL" yaml:"baseURL"`
	Storage      string `json:"storage" yaml:"storage"` // "sqlite" | "file" | "memory"
	StoragePath  string `json:"storagePath" yaml:"storagePath"`
	MissingReply string `json:"missingReply" yaml:"missingReply"` // "fallback" | "ignore"
	ScriptPath   string `json:"scriptPath,omitempty" yaml:"scriptPath,omitempty"` // YAML greeting script
}

type MetricsConfig struct {
	Enabled  bool   `json:"enabled" yaml:"enabled"`
	Endpoint string `json:"endpoint" yaml:"endpoint"`
}

// Addr returns host:port for the HTTP listener.
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// DefaultConfigDir returns the default config directory (~/.brightchat).
func DefaultConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".brightchat"
	}
	return filepath.Join(home, ".brightchat")
}

func DefaultConfigPath() string {
	return filepath.Join(DefaultConfigDir(), "config.json")
}

// Load reads a JSON or YAML config file (chosen by extension), expands
// environment references, applies env overrides and validates the result.
func Load(path string) (*Config, error) {
	path = ExpandPath(path)

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cannot read config file %s: %w", path, err)
	}

	// Substitute environment variables: ${VAR} and ${VAR:-default}
	data = []byte(ExpandEnvVars(string(data)))

	cfg := Defaults()
	if isYAML(path) {
		err = yaml.Unmarshal(data, cfg)
	} else {
		err = json.Unmarshal(data, cfg)
	}
	if err != nil {
		return nil, fmt.Errorf("cannot parse config file %s: %w", path, err)
	}

	if err := ApplyEnv(cfg); err != nil {
		return nil, err
	}

	cfg.General.LogFile = ExpandPath(cfg.General.LogFile)
	cfg.Server.StaticDir = ExpandPath(cfg.Server.StaticDir)
	cfg.Client.StoragePath = ExpandPath(cfg.Client.StoragePath)
	cfg.Client.ScriptPath = ExpandPath(cfg.Client.ScriptPath)

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}

	return cfg, nil
}

// LoadOrDefaults loads path, falling back to validated defaults (with env
// overrides applied) when the file does not exist.
func LoadOrDefaults(path string) (*Config, bool, error) {
	if _, err := os.Stat(ExpandPath(path)); os.IsNotExist(err) {
		cfg := Defaults()
		if err := ApplyEnv(cfg); err != nil {
			return nil, false, err
		}
		cfg.Client.StoragePath = ExpandPath(cfg.Client.StoragePath)
		if err := Validate(cfg); err != nil {
			return nil, false, fmt.Errorf("config validation: %w", err)
		}
		return cfg, false, nil
	}
	cfg, err := Load(path)
	if err != nil {
		return nil, false, err
	}
	return cfg, true, nil
}

// ApplyEnv applies the PORT and BRIGHTCHAT_WEBHOOK_URL overrides.
func ApplyEnv(cfg *Config) error {
	if raw := strings.TrimSpace(os.Getenv("PORT")); raw != "" {
		port, err := strconv.Atoi(raw)
		if err != nil {
			return fmt.Errorf("invalid PORT value %q: %w", raw, err)
		}
		cfg.Server.Port = port
	}
	if raw := strings.TrimSpace(os.Getenv("BRIGHTCHAT_WEBHOOK_URL")); raw != "" {
		cfg.Webhook.URL = raw
	}
	return nil
}

func isYAML(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	return ext == ".yaml" || ext == ".yml"
}

// envVarPattern matches ${VAR} and ${VAR:-default} patterns in config strings.
var envVarPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)(?::-(.*?))?\}`)

// ExpandEnvVars replaces ${VAR} with the environment variable value.
// ${VAR:-default} uses "default" when VAR is unset or empty; an unset
// variable without a default is left as written.
func ExpandEnvVars(input string) string {
	return envVarPattern.ReplaceAllStringFunc(input, func(match string) string {
		groups := envVarPattern.FindStringSubmatch(match)
		if len(groups) < 2 {
			return match
		}
		hasDefault := len(groups) >= 3 && groups[2] != ""

		val, exists := os.LookupEnv(groups[1])
		if !exists || val == "" {
			if hasDefault {
				return groups[2]
			}
			return match
		}
		return val
	})
}

// Save writes cfg as JSON, or YAML when path ends in .yaml/.yml.
func Save(path string, cfg *Config) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("cannot create config directory: %w", err)
	}

	var (
		data []byte
		err  error
	)
	if isYAML(path) {
		data, err = yaml.Marshal(cfg)
	} else {
		data, err = json.MarshalIndent(cfg, "", "  ")
	}
	if err != nil {
		return fmt.Errorf("cannot marshal config: %w", err)
	}

	return os.WriteFile(path, data, 0o644)
}

// Validate checks that the config has usable values.
func Validate(cfg *Config) error {
	var errs []string

	switch strings.ToLower(cfg.General.LogLevel) {
	case "", "debug", "info", "warn", "error":
		// valid
	default:
		errs = append(errs, "general.logLevel must be one of: debug, info, warn, error")
	}

	if cfg.Server.Port < 0 || cfg.Server.Port > 65535 {
		errs = append(errs, "server.port must be between 0 and 65535")
	}

	if err := checkURL(cfg.Webhook.URL); err != nil {
		errs = append(errs, "webhook.url "+err.Error())
	}
	if cfg.Webhook.TimeoutSeconds < 1 || cfg.Webhook.TimeoutSeconds > 600 {
		errs = append(errs, "webhook.timeoutSeconds must be between 1 and 600")
	}

	if err := checkURL(cfg.Client.BaseURL); err != nil {
		errs = append(errs, "client.baseURL "+err.Error())
	}
	switch cfg.Client.Storage {
	case "memory", "file", "sqlite":
		// valid
	default:
		errs = append(errs, "client.storage must be one of: memory, file, sqlite")
	}
	if cfg.Client.Storage != "memory" && cfg.Client.StoragePath == "" {
		errs = append(errs, "client.storagePath is required for file and sqlite storage")
	}
	switch cfg.Client.MissingReply {
	case "fallback", "ignore":
		// valid
	default:
		errs = append(errs, "client.missingReply must be one of: fallback, ignore")
	}

	if cfg.Metrics.Enabled && !strings.HasPrefix(cfg.Metrics.Endpoint, "/") {
		errs = append(errs, "metrics.endpoint must start with /")
	}
	if cfg.Metrics.Enabled && strings.HasPrefix(cfg.Metrics.Endpoint, "/api/") {
		errs = append(errs, "metrics.endpoint must not live under /api/")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation errors:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

func checkURL(raw string) error {
	if raw == "" {
		return fmt.Errorf("is required")
	}
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("is not a valid URL: %v", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("must use http or https")
	}
	if u.Host == "" {
		return fmt.Errorf("must include a host")
	}
	return nil
}

// ExpandPath resolves ~/ to the user's home directory.
func ExpandPath(path string) string {
	if strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(home, path[2:])
	}
	return path
}
