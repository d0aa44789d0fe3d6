// Package config loads the runtime configuration from the environment, an
// optional YAML file, and an optional .env file. Precedence is environment
// over file: the YAML file supplies defaults and the environment overrides
// them, so container deployments need no file at all.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Defaults.
const (
	DefaultHTTPAddr         = ":8080"
	DefaultConversationSize = 10
	DefaultRatePerMinute    = 60
	DefaultRatePerHour      = 1000
	DefaultRatePerDay       = 10000
	DefaultAuditDir         = "audit"
	DefaultMongoDatabase    = "switchboard"
	DefaultShutdownGrace    = 10 * time.Second
	DefaultUseLLMIntent     = true
)

type (
	// Config is the assembled runtime configuration.
	Config struct {
		// HTTPAddr is the listen address for the JSON-RPC and admin surface.
		HTTPAddr string `yaml:"http_addr"`
		// Debug enables debug log level and the debug endpoints.
		Debug bool `yaml:"debug"`

		// Security configures the API-key middleware.
		Security Security `yaml:"security"`
		// Intent configures classifier provider selection.
		Intent Intent `yaml:"intent"`
		// Memory configures conversation memory.
		Memory Memory `yaml:"memory"`
		// Agents configures the registry sources.
		Agents Agents `yaml:"agents"`
		// Storage configures the optional Mongo and Redis backings.
		Storage Storage `yaml:"storage"`
		// AuditDir is where daily audit files are written.
		AuditDir string `yaml:"audit_dir"`
		// ShutdownGrace bounds the drain period on termination.
		ShutdownGrace time.Duration `yaml:"shutdown_grace"`
	}

	// Security is the authentication and rate-limit configuration.
	Security struct {
		// Enabled toggles the API-key middleware.
		Enabled bool `yaml:"enabled"`
		// DemoAPIKey, when set, is seeded at startup for local development.
		DemoAPIKey string `yaml:"demo_api_key"`
		// AllowedOrigins is the CORS allow list.
		AllowedOrigins []string `yaml:"allowed_origins"`
		RatePerMinute  int      `yaml:"rate_per_minute"`
		RatePerHour    int      `yaml:"rate_per_hour"`
		RatePerDay     int      `yaml:"rate_per_day"`
	}

	// Intent is the classifier provider configuration.
	Intent struct {
		// UseLLM enables the LLM tier.
		UseLLM bool `yaml:"use_llm"`
		// Provider pins a provider; empty selects by preference.
		Provider        string `yaml:"provider"`
		AnthropicAPIKey string `yaml:"anthropic_api_key"`
		OpenAIAPIKey    string `yaml:"openai_api_key"`
		OllamaBaseURL   string `yaml:"ollama_base_url"`
		OllamaModel     string `yaml:"ollama_model"`
	}

	// Memory is the conversation-memory configuration.
	Memory struct {
		// WindowSize is the per-conversation message tail.
		WindowSize int `yaml:"window_size"`
		// UseDatabase mirrors memory to the conversation store.
		UseDatabase bool `yaml:"use_database"`
	}

	// Agents is the registry configuration.
	Agents struct {
		// A2AEnabled turns on delegation and external-agent dispatch.
		A2AEnabled bool `yaml:"a2a_enabled"`
		// ConfigPath is an explicit agents file; empty tries the defaults.
		ConfigPath string `yaml:"config_path"`
	}

	// Storage is the persistence configuration.
	Storage struct {
		// MongoURL enables Mongo-backed repositories when set.
		MongoURL string `yaml:"mongo_url"`
		// MongoDatabase is the database name, default "switchboard".
		MongoDatabase string `yaml:"mongo_database"`
		// RedisURL enables the Redis rate limiter and the Pulse registry
		// mirror when set.
		RedisURL string `yaml:"redis_url"`
	}
)

// Load assembles the configuration. A .env file in the working directory is
// applied first (without overriding real environment variables), then the
// YAML file at path (optional, empty skips), then the environment.
func Load(path string) (Config, error) {
	_ = godotenv.Load()

	cfg := Config{
		HTTPAddr: DefaultHTTPAddr,
		Security: Security{
			RatePerMinute: DefaultRatePerMinute,
			RatePerHour:   DefaultRatePerHour,
			RatePerDay:    DefaultRatePerDay,
		},
		Intent:        Intent{UseLLM: DefaultUseLLMIntent},
		Memory:        Memory{WindowSize: DefaultConversationSize},
		Storage:       Storage{MongoDatabase: DefaultMongoDatabase},
		AuditDir:      DefaultAuditDir,
		ShutdownGrace: DefaultShutdownGrace,
	}

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config file: %w", err)
		}
	}

	applyEnv(&cfg)
	return cfg, nil
}

// applyEnv overlays recognized environment variables.
func applyEnv(cfg *Config) {
	setString(&cfg.HTTPAddr, "HTTP_ADDR")
	setBool(&cfg.Debug, "DEBUG")

	setBool(&cfg.Security.Enabled, "ENABLE_API_SECURITY")
	setString(&cfg.Security.DemoAPIKey, "DEMO_API_KEY")
	if v, ok := os.LookupEnv("ALLOWED_ORIGINS"); ok {
		cfg.Security.AllowedOrigins = splitCSV(v)
	}
	setInt(&cfg.Security.RatePerMinute, "RATE_LIMIT_PER_MINUTE")
	setInt(&cfg.Security.RatePerHour, "RATE_LIMIT_PER_HOUR")
	setInt(&cfg.Security.RatePerDay, "RATE_LIMIT_PER_DAY")

	setBool(&cfg.Intent.UseLLM, "USE_LLM_INTENT")
	setString(&cfg.Intent.Provider, "LLM_PROVIDER")
	setString(&cfg.Intent.Provider, "INTENT_LLM_PROVIDER")
	setString(&cfg.Intent.AnthropicAPIKey, "ANTHROPIC_API_KEY")
	setString(&cfg.Intent.OpenAIAPIKey, "OPENAI_API_KEY")
	setString(&cfg.Intent.OllamaBaseURL, "OLLAMA_BASE_URL")
	setString(&cfg.Intent.OllamaModel, "OLLAMA_MODEL")

	setInt(&cfg.Memory.WindowSize, "CONVERSATION_WINDOW_SIZE")
	setBool(&cfg.Memory.UseDatabase, "USE_DATABASE")

	setBool(&cfg.Agents.A2AEnabled, "A2A_ENABLED")
	setString(&cfg.Agents.ConfigPath, "EXTERNAL_AGENTS_CONFIG")

	setString(&cfg.Storage.MongoURL, "DATABASE_URL")
	setString(&cfg.Storage.MongoURL, "MONGO_URL")
	setString(&cfg.Storage.MongoDatabase, "MONGO_DATABASE")
	setString(&cfg.Storage.RedisURL, "REDIS_URL")

	setString(&cfg.AuditDir, "AUDIT_DIR")
}

func setString(dst *string, name string) {
	if v, ok := os.LookupEnv(name); ok && v != "" {
		*dst = v
	}
}

func setBool(dst *bool, name string) {
	if v, ok := os.LookupEnv(name); ok {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setInt(dst *int, name string) {
	if v, ok := os.LookupEnv(name); ok {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			*dst = n
		}
	}
}

func splitCSV(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
