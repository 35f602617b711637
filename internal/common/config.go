package common

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	toml "github.com/pelletier/go-toml/v2"
)

// Config holds all configuration for stockgen
type Config struct {
	Environment string           `toml:"environment"`
	Server      ServerConfig     `toml:"server"`
	Storage     StorageConfig    `toml:"storage"`
	Generation  GenerationConfig `toml:"generation"`
	Clients     ClientsConfig    `toml:"clients"`
	Images      ImagesConfig     `toml:"images"`
	Sessions    SessionsConfig   `toml:"sessions"`
	Auth        AuthConfig       `toml:"auth"`
	Logging     LoggingConfig    `toml:"logging"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host string `toml:"host"`
	Port int    `toml:"port"`
	// WriteTimeout bounds a whole response, including ?wait= long-polls and MCP streams.
	WriteTimeout string `toml:"write_timeout"`
}

// GetWriteTimeout parses and returns the response write timeout
func (c *ServerConfig) GetWriteTimeout() time.Duration {
	d, err := time.ParseDuration(c.WriteTimeout)
	if err != nil {
		return 5 * time.Minute
	}
	return d
}

// StorageConfig selects and configures the report store backend.
type StorageConfig struct {
	Backend   string `toml:"backend"` // "surrealdb" or "badger"
	Address   string `toml:"address"`
	Namespace string `toml:"namespace"`
	Database  string `toml:"database"`
	Username  string `toml:"username"`
	Password  string `toml:"password"`
	Path      string `toml:"path"` // badger data directory
}

// GenerationConfig controls the text-completion tier of field resolution.
type GenerationConfig struct {
	Provider   string `toml:"provider"` // "gemini" or "claude"
	CallBudget int    `toml:"call_budget"`
	Timeout    string `toml:"timeout"`
}

// GetTimeout parses and returns the per-call timeout
func (c *GenerationConfig) GetTimeout() time.Duration {
	d, err := time.ParseDuration(c.Timeout)
	if err != nil {
		return 60 * time.Second
	}
	return d
}

// ClientsConfig holds API client configurations
type ClientsConfig struct {
	Gemini GeminiConfig `toml:"gemini"`
	Claude ClaudeConfig `toml:"claude"`
}

// GeminiConfig holds Gemini API configuration
type GeminiConfig struct {
	APIKey    string `toml:"api_key"`
	Model     string `toml:"model"`
	RateLimit int    `toml:"rate_limit"` // requests per second
}

// ClaudeConfig holds Anthropic API configuration
type ClaudeConfig struct {
	APIKey    string `toml:"api_key"`
	Model     string `toml:"model"`
	MaxTokens int    `toml:"max_tokens"`
	RateLimit int    `toml:"rate_limit"`
}

// ImagesConfig holds remote image import configuration
type ImagesConfig struct {
	Timeout   string `toml:"timeout"`
	MaxBytes  int64  `toml:"max_bytes"`
	RateLimit int    `toml:"rate_limit"`
}

// GetTimeout parses and returns the download timeout
func (c *ImagesConfig) GetTimeout() time.Duration {
	d, err := time.ParseDuration(c.Timeout)
	if err != nil {
		return 20 * time.Second
	}
	return d
}

// SessionsConfig controls viewer session lifetime
type SessionsConfig struct {
	IdleTTL       string `toml:"idle_ttl"`
	SweepSchedule string `toml:"sweep_schedule"`
}

// GetIdleTTL parses and returns the idle eviction threshold
func (c *SessionsConfig) GetIdleTTL() time.Duration {
	d, err := time.ParseDuration(c.IdleTTL)
	if err != nil {
		return 2 * time.Hour
	}
	return d
}

// AuthConfig holds JWT and admin configuration.
type AuthConfig struct {
	JWTSecret         string `toml:"jwt_secret"`
	AdminPasswordHash string `toml:"admin_password_hash"` // bcrypt
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level      string   `toml:"level"`
	Outputs    []string `toml:"outputs"`
	FilePath   string   `toml:"file_path"`
	MaxSizeMB  int      `toml:"max_size_mb"`
	MaxBackups int      `toml:"max_backups"`
}

// NewDefaultConfig returns a Config with sensible defaults
func NewDefaultConfig() *Config {
	return &Config{
		Environment: "development",
		Server: ServerConfig{
			Host:         "0.0.0.0",
			Port:         8080,
			WriteTimeout: "5m",
		},
		Storage: StorageConfig{
			Backend:   "surrealdb",
			Address:   "ws://localhost:8000/rpc",
			Namespace: "stockgen",
			Database:  "stockgen",
			Username:  "root",
			Password:  "root",
			Path:      "data/stockgen",
		},
		Generation: GenerationConfig{
			Provider:   "gemini",
			CallBudget: 30,
			Timeout:    "60s",
		},
		Clients: ClientsConfig{
			Gemini: GeminiConfig{
				Model:     "gemini-2.0-flash",
				RateLimit: 5,
			},
			Claude: ClaudeConfig{
				Model:     "claude-sonnet-4-5",
				MaxTokens: 1024,
				RateLimit: 5,
			},
		},
		Images: ImagesConfig{
			Timeout:   "20s",
			MaxBytes:  5 * 1024 * 1024,
			RateLimit: 2,
		},
		Sessions: SessionsConfig{
			IdleTTL:       "2h",
			SweepSchedule: "@every 5m",
		},
		Auth: AuthConfig{
			JWTSecret: "dev-jwt-secret-change-in-production",
		},
		Logging: LoggingConfig{
			Level:      "info",
			Outputs:    []string{"console", "file"},
			FilePath:   "./logs/stockgen.log",
			MaxSizeMB:  100,
			MaxBackups: 3,
		},
	}
}

// LoadConfig loads configuration from files with environment overrides.
// Later files override earlier ones; missing files are skipped.
func LoadConfig(paths ...string) (*Config, error) {
	config := NewDefaultConfig()

	for _, path := range paths {
		if path == "" {
			continue
		}

		if _, err := os.Stat(path); os.IsNotExist(err) {
			continue
		}

		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}

		if err := toml.Unmarshal(data, config); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
	}

	applyEnvOverrides(config)

	if err := config.validate(); err != nil {
		return nil, err
	}

	return config, nil
}

// applyEnvOverrides applies environment variable overrides to config
func applyEnvOverrides(config *Config) {
	if env := os.Getenv("STOCKGEN_ENV"); env != "" {
		config.Environment = env
	}

	if host := os.Getenv("STOCKGEN_HOST"); host != "" {
		config.Server.Host = host
	}

	if port := os.Getenv("STOCKGEN_PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			config.Server.Port = p
		}
	}

	if level := os.Getenv("STOCKGEN_LOG_LEVEL"); level != "" {
		config.Logging.Level = level
	}

	// Storage
	if v := os.Getenv("STOCKGEN_STORAGE_BACKEND"); v != "" {
		config.Storage.Backend = strings.ToLower(v)
	}
	if v := os.Getenv("STOCKGEN_STORAGE_ADDRESS"); v != "" {
		config.Storage.Address = v
	}
	if v := os.Getenv("STOCKGEN_STORAGE_USERNAME"); v != "" {
		config.Storage.Username = v
	}
	if v := os.Getenv("STOCKGEN_STORAGE_PASSWORD"); v != "" {
		config.Storage.Password = v
	}
	if v := os.Getenv("STOCKGEN_DATA_PATH"); v != "" {
		config.Storage.Path = v
	}

	// Generation
	if v := os.Getenv("STOCKGEN_GENERATION_PROVIDER"); v != "" {
		config.Generation.Provider = strings.ToLower(v)
	}
	if v := os.Getenv("STOCKGEN_CALL_BUDGET"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			config.Generation.CallBudget = n
		}
	}

	// Auth
	if v := os.Getenv("STOCKGEN_AUTH_JWT_SECRET"); v != "" {
		config.Auth.JWTSecret = v
	}
	if v := os.Getenv("STOCKGEN_ADMIN_PASSWORD_HASH"); v != "" {
		config.Auth.AdminPasswordHash = v
	}
}

func (c *Config) validate() error {
	switch c.Storage.Backend {
	case "surrealdb", "badger":
	default:
		return fmt.Errorf("unknown storage backend %q", c.Storage.Backend)
	}
	switch c.Generation.Provider {
	case "gemini", "claude":
	default:
		return fmt.Errorf("unknown generation provider %q", c.Generation.Provider)
	}
	if c.Generation.CallBudget < 0 {
		return fmt.Errorf("generation.call_budget must not be negative")
	}
	return nil
}

// IsProduction returns true if running in production mode
func (c *Config) IsProduction() bool {
	env := strings.ToLower(strings.TrimSpace(c.Environment))
	return env == "production" || env == "prod"
}

// ResolveAPIKey resolves an API key from environment, falling back to the config value.
func ResolveAPIKey(name string, fallback string) (string, error) {
	keyToEnvMapping := map[string][]string{
		"gemini_api_key": {"GEMINI_API_KEY", "STOCKGEN_GEMINI_API_KEY", "GOOGLE_API_KEY"},
		"claude_api_key": {"ANTHROPIC_API_KEY", "STOCKGEN_CLAUDE_API_KEY"},
	}

	if envVarNames, ok := keyToEnvMapping[name]; ok {
		for _, envVarName := range envVarNames {
			if envValue := os.Getenv(envVarName); envValue != "" {
				return envValue, nil
			}
		}
	}

	if fallback != "" {
		return fallback, nil
	}

	return "", fmt.Errorf("API key '%s' not found in environment or config", name)
}
