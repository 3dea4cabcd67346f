package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestLoadSubstitutesEnv(t *testing.T) {
	t.Setenv("JARVIS_TEST_PORT", "9090")
	t.Setenv("JARVIS_TEST_KEY", "sk-live")

	path := filepath.Join(t.TempDir(), "jarvis.json")
	body := `{
		"server": {"port": ${JARVIS_TEST_PORT:8080}, "log_level": "${JARVIS_TEST_LEVEL:debug}"},
		"breaker": {"failure_threshold": 5, "reset_timeout_seconds": 1.5},
		"fallback": {"providers": [
			{"id": "openai", "type": "openai", "api_key": "${JARVIS_TEST_KEY}"},
			{"id": "claude", "type": "anthropic", "api_key": "${JARVIS_TEST_MISSING}"}
		]}
	}`
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Server.Port != 9090 || cfg.Server.LogLevel != "debug" {
		t.Fatalf("server: got %+v", cfg.Server)
	}
	if cfg.Breaker.FailureThreshold != 5 || cfg.Breaker.ResetTimeout() != 1500*time.Millisecond {
		t.Fatalf("breaker: got %+v", cfg.Breaker)
	}
	providers := cfg.Fallback.ConfiguredProviders()
	if len(providers) != 1 || providers[0].ID != "openai" || providers[0].APIKey != "sk-live" {
		t.Fatalf("providers: got %+v", providers)
	}
}

func TestDefaults(t *testing.T) {
	cfg := Default()
	if cfg.Server.Port != 8080 || cfg.Skills.Dir != "skills" {
		t.Fatalf("server/skills: got %+v %+v", cfg.Server, cfg.Skills)
	}
	if cfg.Breaker.FailureThreshold != 3 || cfg.Breaker.ResetTimeout() != 30*time.Second {
		t.Fatalf("breaker: got %+v", cfg.Breaker)
	}
	if cfg.Router.MinConfidence != 0.01 {
		t.Fatalf("router: got %v", cfg.Router.MinConfidence)
	}
	if cfg.Fallback.Model != "gpt-4o-mini" || cfg.Fallback.MaxTokens != 500 || cfg.Fallback.Temperature != 0.7 {
		t.Fatalf("fallback: got %+v", cfg.Fallback)
	}
	if cfg.Skills.ExecutionTimeout() != 10*time.Second || cfg.Server.RequestTimeout() != 30*time.Second {
		t.Fatal("timeouts not defaulted")
	}
	if len(cfg.Fallback.ConfiguredProviders()) != 0 {
		t.Fatal("default config has a provider")
	}
}

func TestMaxRetries(t *testing.T) {
	tests := []struct {
		body string
		want int
	}{
		{`{}`, 2},
		{`{"fallback": {"max_retries": 0}}`, 0},
		{`{"fallback": {"max_retries": 5}}`, 5},
	}
	for _, tt := range tests {
		cfg, err := Parse([]byte(tt.body))
		if err != nil {
			t.Fatalf("%s: %v", tt.body, err)
		}
		if got := cfg.Fallback.Retries(); got != tt.want {
			t.Errorf("%s: got %d retries, want %d", tt.body, got, tt.want)
		}
	}
	if got := Default().Fallback.Retries(); got != 2 {
		t.Fatalf("default: got %d, want 2", got)
	}
}

func TestValidateRejects(t *testing.T) {
	tests := []struct {
		name string
		body string
		want string
	}{
		{"confidence", `{"router": {"min_confidence": 1.5}}`, "min_confidence"},
		{"threshold", `{"breaker": {"failure_threshold": -1}}`, "failure_threshold"},
		{"provider type", `{"fallback": {"providers": [{"id": "x", "type": "grpc"}]}}`, "unknown type"},
		{"retries", `{"fallback": {"max_retries": -1}}`, "max_retries"},
		{"slack tokens", `{"gateway": {"slack": {"enabled": true}}}`, "gateway.slack"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.body))
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Fatalf("got %v, want error mentioning %q", err, tt.want)
			}
		})
	}
}

func TestShippedConfigParses(t *testing.T) {
	cfg, err := Load(filepath.Join("..", "..", DefaultPath))
	if err != nil {
		t.Fatalf("load shipped config: %v", err)
	}
	if cfg.Skills.Dir == "" || len(cfg.Fallback.Providers) == 0 {
		t.Fatalf("shipped config incomplete: %+v", cfg)
	}
}
