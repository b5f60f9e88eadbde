package config

import (
	"encoding/json"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/tidwall/jsonc"
	"gopkg.in/yaml.v3"
)

// Config is the root configuration for the hakushi client.
type Config struct {
	General  GeneralConfig  `json:"general" yaml:"general"`
	Server   ServerConfig   `json:"server" yaml:"server"`
	Upload   UploadConfig   `json:"upload" yaml:"upload"`
	Settings SettingsConfig `json:"settings" yaml:"settings"`
	Metrics  MetricsConfig  `json:"metrics" yaml:"metrics"`
}

type GeneralConfig struct {
	LogLevel string `json:"logLevel" yaml:"logLevel"`
	LogFile  string `json:"logFile,omitempty" yaml:"logFile,omitempty"` // optional log file path
}

// ServerConfig locates the chat backend. Values persisted with
// `hakushi config set-server` take precedence.
type ServerConfig struct {
	WSBase             string `json:"wsBase" yaml:"wsBase"`
	APIBase            string `json:"apiBase" yaml:"apiBase"`
	Transport          string `json:"transport" yaml:"transport"` // "gorilla" | "gobwas"
	DialTimeoutSeconds int    `json:"dialTimeoutSeconds" yaml:"dialTimeoutSeconds"`
}

type UploadConfig struct {
	MaxAttempts           int `json:"maxAttempts" yaml:"maxAttempts"`
	InitialDelayMs        int `json:"initialDelayMs" yaml:"initialDelayMs"`
	RequestTimeoutSeconds int `json:"requestTimeoutSeconds" yaml:"requestTimeoutSeconds"`
}

type SettingsConfig struct {
	DBPath string `json:"dbPath" yaml:"dbPath"`
}

// MetricsConfig configures the Prometheus text endpoint served during chat.
type MetricsConfig struct {
	Enabled  bool   `json:"enabled" yaml:"enabled"`
	Addr     string `json:"addr" yaml:"addr"`
	Endpoint string `json:"endpoint" yaml:"endpoint"`
}

// DialTimeout returns the handshake timeout.
func (s ServerConfig) DialTimeout() time.Duration {
	return time.Duration(s.DialTimeoutSeconds) * time.Second
}

// InitialDelay returns the first reachability backoff delay.
func (u UploadConfig) InitialDelay() time.Duration {
	return time.Duration(u.InitialDelayMs) * time.Millisecond
}

// RequestTimeout returns the per-request HTTP timeout.
func (u UploadConfig) RequestTimeout() time.Duration {
	return time.Duration(u.RequestTimeoutSeconds) * time.Second
}

// DefaultConfigDir returns the default config directory (~/.hakushi).
func DefaultConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".hakushi"
	}
	return filepath.Join(home, ".hakushi")
}

func DefaultConfigPath() string {
	return filepath.Join(DefaultConfigDir(), "config.json")
}

// LoadDotEnv loads .env from the working directory and the config directory,
// without overriding variables already set.
func LoadDotEnv(configPath string) {
	candidates := []string{".env", filepath.Join(filepath.Dir(ExpandPath(configPath)), ".env")}
	for _, p := range candidates {
		if _, err := os.Stat(p); err == nil {
			_ = godotenv.Load(p)
		}
	}
}

// Load reads a JSON (comments allowed) or YAML config file on top of Defaults.
func Load(path string) (*Config, error) {
	path = ExpandPath(path)
	LoadDotEnv(path)

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cannot read config file %s: %w", path, err)
	}

	// Substitute environment variables: ${VAR} and ${VAR:-default}
	data = []byte(ExpandEnvVars(string(data)))

	cfg := Defaults()
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("cannot parse config file %s: %w", path, err)
		}
	default:
		if err := json.Unmarshal(jsonc.ToJSON(data), cfg); err != nil {
			return nil, fmt.Errorf("cannot parse config file %s: %w", path, err)
		}
	}

	cfg.General.LogFile = ExpandPath(cfg.General.LogFile)
	cfg.Settings.DBPath = ExpandPath(cfg.Settings.DBPath)

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}
	return cfg, nil
}

// LoadOrDefault loads path, falling back to Defaults when the file does not exist.
func LoadOrDefault(path string) (*Config, error) {
	if _, err := os.Stat(ExpandPath(path)); os.IsNotExist(err) {
		LoadDotEnv(path)
		cfg := Defaults()
		cfg.Settings.DBPath = ExpandPath(cfg.Settings.DBPath)
		return cfg, nil
	}
	return Load(path)
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

// Save writes cfg as indented JSON, or YAML when path ends in .yaml/.yml.
func Save(path string, cfg *Config) error {
	path = ExpandPath(path)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("cannot create config directory: %w", err)
	}

	var (
		data []byte
		err  error
	)
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		data, err = yaml.Marshal(cfg)
	default:
		data, err = json.MarshalIndent(cfg, "", "  ")
	}
	if err != nil {
		return fmt.Errorf("cannot marshal config: %w", err)
	}
	return os.WriteFile(path, data, 0o644)
}

// Validate checks that the config has valid values.
func Validate(cfg *Config) error {
	var errs []string

	switch cfg.General.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, "general.logLevel must be one of: debug, info, warn, error")
	}

	if msg := checkBase("server.wsBase", cfg.Server.WSBase, "ws", "wss"); msg != "" {
		errs = append(errs, msg)
	}
	if msg := checkBase("server.apiBase", cfg.Server.APIBase, "http", "https"); msg != "" {
		errs = append(errs, msg)
	}
	switch cfg.Server.Transport {
	case "gorilla", "gobwas":
	default:
		errs = append(errs, "server.transport must be one of: gorilla, gobwas")
	}
	if cfg.Server.DialTimeoutSeconds < 1 || cfg.Server.DialTimeoutSeconds > 300 {
		errs = append(errs, "server.dialTimeoutSeconds must be between 1 and 300")
	}

	if cfg.Upload.MaxAttempts < 1 || cfg.Upload.MaxAttempts > 20 {
		errs = append(errs, "upload.maxAttempts must be between 1 and 20")
	}
	if cfg.Upload.InitialDelayMs < 1 {
		errs = append(errs, "upload.initialDelayMs must be >= 1")
	}
	if cfg.Upload.RequestTimeoutSeconds < 1 {
		errs = append(errs, "upload.requestTimeoutSeconds must be >= 1")
	}

	if cfg.Settings.DBPath == "" {
		errs = append(errs, "settings.dbPath is required")
	}
	if cfg.Metrics.Enabled && cfg.Metrics.Addr == "" {
		errs = append(errs, "metrics.addr is required when metrics are enabled")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation errors:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

func checkBase(field, raw string, schemes ...string) string {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return fmt.Sprintf("%s must be an absolute URL, got %q", field, raw)
	}
	for _, s := range schemes {
		if u.Scheme == s {
			return ""
		}
	}
	return fmt.Sprintf("%s scheme must be one of: %s", field, strings.Join(schemes, ", "))
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
