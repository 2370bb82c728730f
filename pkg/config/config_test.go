package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/freedive-ai/coach/pkg/models"
)

func TestDefault(t *testing.T) {
	cfg := Default()
	if cfg.Listen != ":8080" {
		t.Errorf("expected :8080, got %s", cfg.Listen)
	}
	if cfg.Cache.TTL != time.Hour {
		t.Errorf("expected 1h TTL, got %v", cfg.Cache.TTL)
	}
	if cfg.Resilience.FailureThreshold != 5 {
		t.Errorf("expected threshold 5, got %d", cfg.Resilience.FailureThreshold)
	}
	if cfg.Resilience.Cooldown != 5*time.Minute {
		t.Errorf("expected 5m cooldown, got %v", cfg.Resilience.Cooldown)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("default config should validate: %v", err)
	}
}

func TestLoad(t *testing.T) {
	t.Setenv("TEST_OPENAI_KEY", "sk-test-123")

	content := `
listen: ":9090"
db_path: "test.db"
openai:
  api_key: ${TEST_OPENAI_KEY}
models:
  routes:
    - endpoint: /api/openai/chat
      model: gpt-4o
      temperature: 0.4
      max_tokens: 1200
cache:
  enabled: true
  ttl: 30m
  max_entries: 50
  backend: memory
resilience:
  max_retries: 2
  cooldown: 1m
budget:
  enabled: true
  policies:
    - user_id: "*"
      max_cost_usd: 2.5
      period: daily
`
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}

	if cfg.Listen != ":9090" {
		t.Errorf("expected :9090, got %s", cfg.Listen)
	}
	if cfg.OpenAI.APIKey != "sk-test-123" {
		t.Errorf("env var not expanded: got %s", cfg.OpenAI.APIKey)
	}
	if cfg.Cache.TTL != 30*time.Minute {
		t.Errorf("expected 30m TTL, got %v", cfg.Cache.TTL)
	}
	if cfg.Cache.MaxEntries != 50 {
		t.Errorf("expected 50 max entries, got %d", cfg.Cache.MaxEntries)
	}
	if cfg.Resilience.MaxRetries != 2 {
		t.Errorf("expected 2 retries, got %d", cfg.Resilience.MaxRetries)
	}
	// Unset fields keep their defaults.
	if cfg.Resilience.FailureThreshold != 5 {
		t.Errorf("expected default threshold 5, got %d", cfg.Resilience.FailureThreshold)
	}
	if len(cfg.Models.Routes) != 1 || cfg.Models.Routes[0].Model != "gpt-4o" {
		t.Fatalf("unexpected routes: %+v", cfg.Models.Routes)
	}
	if !cfg.Budget.Enabled || len(cfg.Budget.Policies) != 1 {
		t.Fatalf("expected 1 budget policy, got %+v", cfg.Budget)
	}
	if cfg.Budget.Policies[0].MaxCostUSD != 2.5 {
		t.Errorf("expected 2.5 max cost, got %v", cfg.Budget.Policies[0].MaxCostUSD)
	}
}

func TestLoadDotEnv(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("OPENAI_API_KEY", "")
	os.Unsetenv("OPENAI_API_KEY")
	if err := os.WriteFile(filepath.Join(dir, ".env"), []byte("OPENAI_API_KEY=sk-from-dotenv\n"), 0644); err != nil {
		t.Fatal(err)
	}
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte("listen: \":7070\"\n"), 0644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.OpenAI.APIKey != "sk-from-dotenv" {
		t.Errorf("expected key from .env, got %q", cfg.OpenAI.APIKey)
	}
}

func TestLoadMissing(t *testing.T) {
	_, err := Load("/nonexistent/config.yaml")
	if err == nil {
		t.Error("expected error for missing file")
	}
}

func TestValidate(t *testing.T) {
	cases := map[string]func(*Config){
		"zero retries":    func(c *Config) { c.Resilience.MaxRetries = 0 },
		"bad jitter":      func(c *Config) { c.Resilience.Jitter = 1.5 },
		"unknown store":   func(c *Config) { c.Resilience.Store = "redis" },
		"zero ttl":        func(c *Config) { c.Cache.TTL = 0 },
		"postgres no url": func(c *Config) { c.DiveLogs.Backend = "postgres" },
		"zero budget limit": func(c *Config) {
			c.Budget.Policies = append(c.Budget.Policies, models.BudgetPolicy{UserID: "*", Period: models.BudgetDaily})
		},
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			cfg := Default()
			mutate(cfg)
			if err := cfg.Validate(); err == nil {
				t.Error("expected validation error")
			}
		})
	}
}
