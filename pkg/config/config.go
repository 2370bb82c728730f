package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/freedive-ai/coach/pkg/models"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds all coach service configuration.
type Config struct {
	Listen     string                `yaml:"listen"`
	DBPath     string                `yaml:"db_path"`
	Log        LogConfig             `yaml:"log"`
	Telemetry  TelemetryConfig       `yaml:"telemetry"`
	OpenAI     OpenAIConfig          `yaml:"openai"`
	Models     ModelsConfig          `yaml:"models"`
	Pricing    []models.ModelPricing `yaml:"pricing"`
	Resilience ResilienceConfig      `yaml:"resilience"`
	Cache      CacheConfig           `yaml:"cache"`
	Retrieval  RetrievalConfig       `yaml:"retrieval"`
	DiveLogs   DiveLogsConfig        `yaml:"dive_logs"`
	Budget     BudgetConfig          `yaml:"budget"`
	ErrorLog   ErrorLogConfig        `yaml:"error_log"`
	CORS       CORSConfig            `yaml:"cors"`
}

// LogConfig controls zerolog output.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // "console" or "json"
}

// TelemetryConfig controls OpenTelemetry export.
type TelemetryConfig struct {
	Enabled      bool   `yaml:"enabled"`
	OTLPEndpoint string `yaml:"otlp_endpoint"`
	ServiceName  string `yaml:"service_name"`
}

// OpenAIConfig defines the upstream model provider.
type OpenAIConfig struct {
	APIKey  string `yaml:"api_key"`
	BaseURL string `yaml:"base_url"`
}

// ModelsConfig maps endpoints to model routes.
type ModelsConfig struct {
	Default RouteConfig   `yaml:"default"`
	Routes  []RouteConfig `yaml:"routes"`
}

// RouteConfig selects the model and sampling parameters for one endpoint.
type RouteConfig struct {
	Endpoint    string  `yaml:"endpoint"`
	Model       string  `yaml:"model"`
	Temperature float64 `yaml:"temperature"`
	MaxTokens   int     `yaml:"max_tokens"`
	JSONMode    bool    `yaml:"json_mode"`
}

// ResilienceConfig controls retries and circuit breaking.
type ResilienceConfig struct {
	MaxRetries       int           `yaml:"max_retries"`
	BaseDelay        time.Duration `yaml:"base_delay"`
	MaxDelay         time.Duration `yaml:"max_delay"`
	Jitter           float64       `yaml:"jitter"`
	AttemptTimeout   time.Duration `yaml:"attempt_timeout"`
	FailureThreshold int           `yaml:"failure_threshold"`
	Cooldown         time.Duration `yaml:"cooldown"`
	Store            string        `yaml:"store"` // "memory" or "sqlite"
}

// CacheConfig controls the response cache.
type CacheConfig struct {
	Enabled    bool          `yaml:"enabled"`
	TTL        time.Duration `yaml:"ttl"`
	MaxEntries int           `yaml:"max_entries"`
	Backend    string        `yaml:"backend"` // "memory" or "sqlite"
}

// RetrievalConfig controls knowledge-base lookups.
type RetrievalConfig struct {
	Enabled        bool    `yaml:"enabled"`
	QdrantAddr     string  `yaml:"qdrant_addr"`
	Collection     string  `yaml:"collection"`
	TopK           int     `yaml:"top_k"`
	ScoreThreshold float32 `yaml:"score_threshold"`
	EmbeddingModel string  `yaml:"embedding_model"`
}

// DiveLogsConfig selects the dive-journal backend.
type DiveLogsConfig struct {
	Backend     string `yaml:"backend"` // "sqlite" or "postgres"
	PostgresURL string `yaml:"postgres_url"`
	FetchLimit  int    `yaml:"fetch_limit"`
}

// BudgetConfig controls cost budget enforcement.
type BudgetConfig struct {
	Enabled  bool                  `yaml:"enabled"`
	Policies []models.BudgetPolicy `yaml:"policies"`
}

// ErrorLogConfig controls error log retention.
type ErrorLogConfig struct {
	RetentionDays int `yaml:"retention_days"`
}

// CORSConfig lists origins allowed to embed the API.
type CORSConfig struct {
	AllowedOrigins []string `yaml:"allowed_origins"`
}

// Default returns a Config with sensible defaults.
func Default() *Config {
	return &Config{
		Listen: ":8080",
		DBPath: "coach.db",
		Log: LogConfig{
			Level:  "info",
			Format: "console",
		},
		Telemetry: TelemetryConfig{
			ServiceName: "freedive-coach",
		},
		Models: ModelsConfig{
			Default: RouteConfig{
				Model:       "gpt-4o-mini",
				Temperature: 0.7,
				MaxTokens:   800,
			},
		},
		Resilience: ResilienceConfig{
			MaxRetries:       3,
			BaseDelay:        time.Second,
			MaxDelay:         10 * time.Second,
			Jitter:           0.2,
			AttemptTimeout:   25 * time.Second,
			FailureThreshold: 5,
			Cooldown:         5 * time.Minute,
			Store:            "memory",
		},
		Cache: CacheConfig{
			Enabled:    true,
			TTL:        time.Hour,
			MaxEntries: 1000,
			Backend:    "memory",
		},
		Retrieval: RetrievalConfig{
			Collection:     "freediving-knowledge",
			TopK:           5,
			ScoreThreshold: 0.3,
			EmbeddingModel: "text-embedding-3-small",
		},
		DiveLogs: DiveLogsConfig{
			Backend:    "sqlite",
			FetchLimit: 5,
		},
		ErrorLog: ErrorLogConfig{
			RetentionDays: 30,
		},
		CORS: CORSConfig{
			AllowedOrigins: []string{"*"},
		},
	}
}

// Load reads a YAML config file and expands environment variables.
// A .env file beside the config is loaded first when present.
func Load(path string) (*Config, error) {
	loadDotEnv(path)

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	expanded := os.ExpandEnv(string(data))

	cfg := Default()
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if cfg.OpenAI.APIKey == "" {
		cfg.OpenAI.APIKey = os.Getenv("OPENAI_API_KEY")
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadOrDefault loads path when it exists and falls back to Default otherwise.
func LoadOrDefault(path string) (*Config, error) {
	if path == "" {
		return Default(), nil
	}
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		cfg := Default()
		loadDotEnv(path)
		cfg.OpenAI.APIKey = os.Getenv("OPENAI_API_KEY")
		return cfg, nil
	}
	return Load(path)
}

func loadDotEnv(configPath string) {
	for _, p := range []string{filepath.Join(filepath.Dir(configPath), ".env"), ".env"} {
		if _, err := os.Stat(p); err == nil {
			_ = godotenv.Load(p)
			return
		}
	}
}

// Validate rejects configurations the service cannot run with.
func (c *Config) Validate() error {
	r := c.Resilience
	if r.MaxRetries < 1 {
		return fmt.Errorf("resilience.max_retries must be >= 1, got %d", r.MaxRetries)
	}
	if r.FailureThreshold < 1 {
		return fmt.Errorf("resilience.failure_threshold must be >= 1, got %d", r.FailureThreshold)
	}
	if r.Cooldown <= 0 {
		return fmt.Errorf("resilience.cooldown must be positive")
	}
	if r.Jitter < 0 || r.Jitter > 1 {
		return fmt.Errorf("resilience.jitter must be within [0,1], got %v", r.Jitter)
	}
	switch r.Store {
	case "memory", "sqlite":
	default:
		return fmt.Errorf("resilience.store: unknown backend %q", r.Store)
	}
	if c.Cache.Enabled {
		if c.Cache.TTL <= 0 {
			return fmt.Errorf("cache.ttl must be positive")
		}
		switch c.Cache.Backend {
		case "memory", "sqlite":
		default:
			return fmt.Errorf("cache.backend: unknown backend %q", c.Cache.Backend)
		}
	}
	switch c.DiveLogs.Backend {
	case "sqlite":
	case "postgres":
		if c.DiveLogs.PostgresURL == "" {
			return fmt.Errorf("dive_logs.postgres_url is required for the postgres backend")
		}
	default:
		return fmt.Errorf("dive_logs.backend: unknown backend %q", c.DiveLogs.Backend)
	}
	for _, p := range c.Budget.Policies {
		if p.MaxCostUSD <= 0 {
			return fmt.Errorf("budget policy for %q: max_cost_usd must be positive", p.UserID)
		}
	}
	return nil
}
