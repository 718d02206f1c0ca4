// Package config loads service configuration from defaults, an optional
// YAML/JSON file and the environment.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"

	"github.com/Sahmey2004/xtern/internal/logging"
	"github.com/Sahmey2004/xtern/internal/mcp"
	"github.com/Sahmey2004/xtern/internal/telemetry"
)

// EnvPrefix marks environment variables read as nested keys.
// XTERN_SERVER__PORT maps to server.port.
const EnvPrefix = "XTERN_"

// Config is the full service configuration.
type Config struct {
	Server   ServerConfig     `koanf:"server"`
	LLM      LLMConfig        `koanf:"llm"`
	MCP      MCPConfig        `koanf:"mcp"`
	Database DatabaseConfig   `koanf:"database"`
	Redis    RedisConfig      `koanf:"redis"`
	Auth     AuthConfig       `koanf:"auth"`
	Logging  logging.Config   `koanf:"logging"`
	Tracing  telemetry.Config `koanf:"tracing"`
}

// ServerConfig controls the HTTP front door.
type ServerConfig struct {
	Port            int           `koanf:"port"`
	AllowedOrigins  []string      `koanf:"allowed_origins"`
	RateLimit       float64       `koanf:"rate_limit"` // requests per second per client
	RateBurst       int           `koanf:"rate_burst"`
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout"`
}

// LLMConfig selects the rationale provider.
type LLMConfig struct {
	Provider     string `koanf:"provider"` // openrouter or gemini
	APIKey       string `koanf:"api_key"`
	GeminiAPIKey string `koanf:"gemini_api_key"`
	Model        string `koanf:"model"`
	BaseURL      string `koanf:"base_url"`
}

// MCPConfig locates the tool servers.
type MCPConfig struct {
	Root       string                    `koanf:"root"`
	Timeout    time.Duration             `koanf:"timeout"`
	ClientName string                    `koanf:"client_name"`
	Servers    map[string]ServerOverride `koanf:"servers"` // keyed by provider: erp, supplier, logistics, po
	Env        []string                  `koanf:"env"`     // KEY=VALUE pairs passed to every server
}

// ServerOverride replaces parts of one provider's default launch spec.
type ServerOverride struct {
	Dir      string   `koanf:"dir"`
	Command  string   `koanf:"command"`
	Args     []string `koanf:"args"`
	Artifact string   `koanf:"artifact"`
}

// Registry builds the provider address table from the root, the
// per-provider overrides and the shared environment.
func (c MCPConfig) Registry() *mcp.Registry {
	var overrides map[mcp.Provider]mcp.Override
	if len(c.Servers) > 0 {
		overrides = make(map[mcp.Provider]mcp.Override, len(c.Servers))
		for name, o := range c.Servers {
			overrides[mcp.Provider(strings.ToLower(name))] = mcp.Override{
				Dir:      o.Dir,
				Command:  o.Command,
				Args:     o.Args,
				Artifact: o.Artifact,
			}
		}
	}
	return mcp.NewRegistry(c.Root, overrides, c.Env)
}

// DatabaseConfig enables the Postgres run mirror when URL is set.
type DatabaseConfig struct {
	URL string `koanf:"url"`
}

// RedisConfig enables tool result caching when URL is set.
type RedisConfig struct {
	URL        string        `koanf:"url"`
	TTL        time.Duration `koanf:"ttl"`
	Operations []string      `koanf:"operations"`
}

// AuthConfig enables bearer tokens on the approval endpoint when
// JWTSecret is set.
type AuthConfig struct {
	JWTSecret          string `koanf:"jwt_secret"`
	JWTExpirationHours int    `koanf:"jwt_expiration_hours"`
}

var defaults = map[string]any{
	"server.port":               8000,
	"server.allowed_origins":    []string{"http://localhost:3000", "https://*.vercel.app"},
	"server.rate_limit":         5.0,
	"server.rate_burst":         10,
	"server.shutdown_timeout":   "10s",
	"llm.provider":              "openrouter",
	"mcp.root":                  "mcp-servers",
	"mcp.timeout":               "30s",
	"mcp.client_name":           mcp.DefaultClientName,
	"redis.ttl":                 "10m",
	"redis.operations":          []string{"erp/get_products"},
	"auth.jwt_expiration_hours": 24,
	"logging.level":             "info",
	"logging.format":            "console",
	"tracing.service_name":      "xtern",
}

// wellKnown maps conventional variable names onto config keys. They are
// applied last and win over everything else.
var wellKnown = map[string]string{
	"OPENROUTER_API_KEY":  "llm.api_key",
	"OPENROUTER_MODEL":    "llm.model",
	"OPENROUTER_BASE_URL": "llm.base_url",
	"GEMINI_API_KEY":      "llm.gemini_api_key",
	"DATABASE_URL":        "database.url",
	"REDIS_URL":           "redis.url",
	"JWT_SECRET":          "auth.jwt_secret",
	"MCP_ROOT":            "mcp.root",
	"PORT":                "server.port",
}

// Load builds a Config. path may be empty; a missing file named by path is
// an error.
func Load(path string) (*Config, error) {
	k := koanf.New(".")

	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to load config file %s: %w", path, err)
		}
	}

	if err := k.Load(env.Provider(EnvPrefix, ".", func(s string) string {
		return strings.ReplaceAll(strings.ToLower(strings.TrimPrefix(s, EnvPrefix)), "__", ".")
	}), nil); err != nil {
		return nil, fmt.Errorf("failed to load environment: %w", err)
	}

	for name, key := range wellKnown {
		if v := strings.TrimSpace(os.Getenv(name)); v != "" {
			if err := k.Set(key, v); err != nil {
				return nil, fmt.Errorf("failed to apply %s: %w", name, err)
			}
		}
	}

	for key, v := range defaults {
		if !k.Exists(key) {
			if err := k.Set(key, v); err != nil {
				return nil, fmt.Errorf("failed to apply default %s: %w", key, err)
			}
		}
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	return &cfg, nil
}

// Validate checks ranges and enumerations.
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("config error: 'server.port' must be between 1 and 65535, got %d", c.Server.Port)
	}
	if c.Server.RateLimit < 0 {
		return fmt.Errorf("config error: 'server.rate_limit' must be non-negative")
	}
	if c.Server.RateLimit > 0 && c.Server.RateBurst < 1 {
		return fmt.Errorf("config error: 'server.rate_burst' must be at least 1 when rate limiting is enabled")
	}
	switch c.LLM.Provider {
	case "openrouter", "gemini":
	default:
		return fmt.Errorf("config error: 'llm.provider' must be openrouter or gemini, got %q", c.LLM.Provider)
	}
	if c.MCP.Timeout <= 0 {
		return fmt.Errorf("config error: 'mcp.timeout' must be positive")
	}
	if strings.TrimSpace(c.MCP.Root) == "" {
		return fmt.Errorf("config error: 'mcp.root' is required")
	}
	for name := range c.MCP.Servers {
		if !mcp.KnownProvider(mcp.Provider(strings.ToLower(name))) {
			return fmt.Errorf("config error: 'mcp.servers.%s' names an unknown provider", name)
		}
	}
	switch c.Logging.Format {
	case "console", "json":
	default:
		return fmt.Errorf("config error: 'logging.format' must be console or json, got %q", c.Logging.Format)
	}
	if c.Auth.JWTSecret != "" {
		if _, err := c.Auth.JWT(); err != nil {
			return fmt.Errorf("config error: %w", err)
		}
	}
	return nil
}

// LLMKey returns the API key for the configured provider.
func (c *Config) LLMKey() string {
	if c.LLM.Provider == "gemini" {
		return c.LLM.GeminiAPIKey
	}
	return c.LLM.APIKey
}
