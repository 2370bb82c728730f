package telemetry

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"github.com/freedive-ai/coach/pkg/config"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

func TestInitDisabled(t *testing.T) {
	shutdown, err := Init(context.Background(), config.TelemetryConfig{Enabled: false})
	if err != nil {
		t.Fatal(err)
	}
	if err := shutdown(context.Background()); err != nil {
		t.Errorf("noop shutdown returned %v", err)
	}
}

func TestNilMetricsIsSafe(t *testing.T) {
	var m *Metrics
	ctx := context.Background()
	m.Attempt(ctx, "/api/openai/chat", true, 12)
	m.Retry(ctx, "/api/openai/chat", "timeout")
	m.CircuitRejected(ctx, "/api/openai/chat")
	m.CacheLookup(ctx, true)
	m.Fallback(ctx, "/api/openai/chat", "timeout")
}

func TestNewMetricsOnNoopProvider(t *testing.T) {
	m, err := NewMetrics()
	if err != nil {
		t.Fatal(err)
	}
	m.Attempt(context.Background(), "/api/chat/general", false, 30)
}

func TestSetupLoggerJSON(t *testing.T) {
	prev := log.Logger
	prevLevel := zerolog.GlobalLevel()
	t.Cleanup(func() {
		log.Logger = prev
		zerolog.SetGlobalLevel(prevLevel)
	})

	var buf bytes.Buffer
	SetupLogger(config.LogConfig{Level: "warn", Format: "json"}, &buf)

	log.Info().Msg("hidden")
	log.Warn().Str("endpoint", "/api/openai/chat").Msg("shown")

	out := buf.String()
	if strings.Contains(out, "hidden") {
		t.Errorf("info line should be filtered at warn level: %s", out)
	}
	if !strings.Contains(out, `"endpoint":"/api/openai/chat"`) {
		t.Errorf("expected json field in output: %s", out)
	}
}
