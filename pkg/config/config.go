package config

import (
	"fmt"

	"github.com/ilyakaznacheev/cleanenv"
)

// Config holds all configuration for loom-engine.
// Configuration can come from YAML file (config.yaml) or environment variables.
// Environment variables always override YAML values for fields that support both.
// Secrets (API keys, passwords) must only come from environment variables.
type Config struct {
	// Server configuration
	BindAddr string `yaml:"bind_addr" env:"BIND_ADDR" env-default:"127.0.0.1"`
	Port     string `yaml:"port" env:"PORT" env-default:"8090"`
	Env      string `yaml:"env" env:"ENVIRONMENT" env-default:"local"`
	Version  string `yaml:"-"` // Set at load time, not from config

	// Database configuration (PostgreSQL)
	Database DatabaseConfig `yaml:"database"`

	// AI provider endpoints
	AI AIConfig `yaml:"ai"`

	// Engine tuning knobs
	Engine EngineConfig `yaml:"engine"`
}

// DatabaseConfig holds PostgreSQL database configuration.
type DatabaseConfig struct {
	Host           string `yaml:"host" env:"PGHOST" env-default:"localhost"`
	Port           int    `yaml:"port" env:"PGPORT" env-default:"5432"`
	User           string `yaml:"user" env:"PGUSER" env-default:"loom"`
	Password       string `yaml:"-" env:"PGPASSWORD"` // Secret - not in YAML
	Database       string `yaml:"database" env:"PGDATABASE" env-default:"loom_engine"`
	MaxConnections int32  `yaml:"max_connections" env:"PGMAX_CONNECTIONS" env-default:"25"`
	SSLMode        string `yaml:"ssl_mode" env:"PGSSLMODE" env-default:"disable"`
	MigrationsPath string `yaml:"migrations_path" env:"PGMIGRATIONS_PATH" env-default:"migrations"`
}

// AIConfig holds LLM and embedding provider endpoints.
// Provider selects the chat-completion backend; embeddings always go
// through the OpenAI-compatible embedding endpoint.
type AIConfig struct {
	// Provider is "openai" (any OpenAI-compatible endpoint) or "anthropic".
	Provider string `yaml:"provider" env:"AI_PROVIDER" env-default:"openai"`

	LLMBaseURL string `yaml:"llm_base_url" env:"AI_LLM_BASE_URL" env-default:"https://api.openai.com/v1"`
	LLMModel   string `yaml:"llm_model" env:"AI_LLM_MODEL" env-default:"gpt-4o"`
	LLMAPIKey  string `yaml:"-" env:"AI_LLM_API_KEY"` // Secret - not in YAML

	EmbeddingBaseURL string `yaml:"embedding_base_url" env:"AI_EMBEDDING_BASE_URL" env-default:""`
	EmbeddingModel   string `yaml:"embedding_model" env:"AI_EMBEDDING_MODEL" env-default:"text-embedding-3-small"`
	EmbeddingAPIKey  string `yaml:"-" env:"AI_EMBEDDING_API_KEY"` // Secret - not in YAML
}

// EffectiveEmbeddingBaseURL falls back to the LLM endpoint when no
// dedicated embedding endpoint is configured.
func (c *AIConfig) EffectiveEmbeddingBaseURL() string {
	if c.EmbeddingBaseURL != "" {
		return c.EmbeddingBaseURL
	}
	return c.LLMBaseURL
}

// EffectiveEmbeddingAPIKey falls back to the LLM key when no dedicated
// embedding key is configured.
func (c *AIConfig) EffectiveEmbeddingAPIKey() string {
	if c.EmbeddingAPIKey != "" {
		return c.EmbeddingAPIKey
	}
	return c.LLMAPIKey
}

// EngineConfig holds tuning knobs for concept resolution and mining.
type EngineConfig struct {
	// SoftMatchThreshold is the cosine similarity above which a candidate
	// name is treated as the same concept without LLM arbitration.
	SoftMatchThreshold float64 `yaml:"soft_match_threshold" env:"ENGINE_SOFT_MATCH_THRESHOLD" env-default:"0.9"`

	// MatchThreshold is the minimum weighted similarity for a concept to
	// be considered a dedup candidate at all.
	MatchThreshold float64 `yaml:"match_threshold" env:"ENGINE_MATCH_THRESHOLD" env-default:"0.5"`

	// DescriptionWeight scales description-embedding similarity relative
	// to alias-embedding similarity when ranking dedup candidates.
	DescriptionWeight float64 `yaml:"description_weight" env:"ENGINE_DESCRIPTION_WEIGHT" env-default:"0.75"`

	// MaxArbitrationCandidates caps how many near-matches are offered to
	// the LLM when more than one concept clears the match threshold.
	MaxArbitrationCandidates int `yaml:"max_arbitration_candidates" env:"ENGINE_MAX_ARBITRATION_CANDIDATES" env-default:"5"`

	// SearchLimit is the default nearest-neighbor result count.
	SearchLimit int `yaml:"search_limit" env:"ENGINE_SEARCH_LIMIT" env-default:"10"`

	// Temperature for all extraction/classification prompts.
	Temperature float64 `yaml:"temperature" env:"ENGINE_TEMPERATURE" env-default:"0.3"`
}

// Load reads configuration from config.yaml with environment variable overrides.
// The version parameter is injected at build time and set on the returned Config.
func Load(version string) (*Config, error) {
	cfg := &Config{
		Version: version,
	}

	if err := cleanenv.ReadConfig("config.yaml", cfg); err != nil {
		return nil, fmt.Errorf("failed to read config.yaml: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

func (c *Config) validate() error {
	if c.AI.Provider != "openai" && c.AI.Provider != "anthropic" {
		return fmt.Errorf("unknown ai.provider %q", c.AI.Provider)
	}
	if c.Engine.SoftMatchThreshold <= 0 || c.Engine.SoftMatchThreshold > 1 {
		return fmt.Errorf("engine.soft_match_threshold must be in (0, 1]")
	}
	if c.Engine.MatchThreshold < 0 || c.Engine.MatchThreshold >= c.Engine.SoftMatchThreshold {
		return fmt.Errorf("engine.match_threshold must be in [0, soft_match_threshold)")
	}
	if c.Engine.MaxArbitrationCandidates < 1 {
		return fmt.Errorf("engine.max_arbitration_candidates must be at least 1")
	}
	return nil
}

// ConnectionString returns a PostgreSQL connection string.
func (c *DatabaseConfig) ConnectionString() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Database, c.SSLMode,
	)
}
