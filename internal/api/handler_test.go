package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/nidhogg/jarvis-hub/internal/gateway"
	"github.com/nidhogg/jarvis-hub/internal/orchestrator"
	"github.com/nidhogg/jarvis-hub/internal/skill"
)

const lightsDescriptor = `{
  "name": "device_control",
  "keywords": ["turn", "lights", "thermostat"],
  "parameters": {"message": {"type": "string", "required": true}},
  "action": "device_control"
}`

const pumpDescriptor = `{
  "name": "pump",
  "keywords": ["pump"],
  "parameters": {"message": {"type": "string", "required": true}},
  "action": "pump"
}`

// newTestHandler wires a real orchestrator over a temp skill dir with no
// fallback provider, no store and no event bus.
func newTestHandler(t *testing.T, gw *gateway.Gateway) (*orchestrator.Orchestrator, *httptest.Server) {
	t.Helper()
	dir := t.TempDir()
	for name, body := range map[string]string{
		"device_control.json": lightsDescriptor,
		"pump.json":           pumpDescriptor,
	} {
		if err := os.WriteFile(filepath.Join(dir, name), []byte(body), 0o644); err != nil {
			t.Fatal(err)
		}
	}

	logger := zap.NewNop()
	b := skill.NewBindings()
	skill.RegisterBuiltins(b)
	b.Bind("pump", skill.HandlerFunc(func(context.Context, skill.Params) (*skill.Result, error) {
		return nil, errors.New("pump jammed")
	}))
	reg := skill.NewRegistry(dir, b, logger)
	if _, err := reg.Reload(context.Background()); err != nil {
		t.Fatalf("reload: %v", err)
	}
	orch := orchestrator.New(orchestrator.Deps{
		Registry: reg,
		Executor: skill.NewExecutor(time.Second, logger),
	}, logger)

	ts := httptest.NewServer(NewHandler(orch, gw, logger).Router())
	t.Cleanup(ts.Close)
	return orch, ts
}

func postJSON(t *testing.T, ts *httptest.Server, path string, body interface{}) *http.Response {
	t.Helper()
	b, _ := json.Marshal(body)
	resp, err := http.Post(ts.URL+path, "application/json", bytes.NewReader(b))
	if err != nil {
		t.Fatalf("POST %s: %v", path, err)
	}
	return resp
}

func getJSON(t *testing.T, ts *httptest.Server, path string) *http.Response {
	t.Helper()
	resp, err := http.Get(ts.URL + path)
	if err != nil {
		t.Fatalf("GET %s: %v", path, err)
	}
	return resp
}

func decodeJSON(t *testing.T, resp *http.Response, v interface{}) {
	t.Helper()
	defer resp.Body.Close()
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		t.Fatalf("decode: %v", err)
	}
}

func TestChatRoutesToSkill(t *testing.T) {
	_, ts := newTestHandler(t, nil)

	resp := postJSON(t, ts, "/api/chat", map[string]string{
		"message": "turn on the kitchen lights",
		"user_id": "pepper",
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("got %d, want 200", resp.StatusCode)
	}
	var out orchestrator.Response
	decodeJSON(t, resp, &out)
	if out.SkillUsed != "device_control" || !out.Success {
		t.Fatalf("got %+v", out)
	}
	if out.Text != "I've turned on the kitchen light." {
		t.Fatalf("text: got %q", out.Text)
	}
}

func TestChatFallbackNotConfigured(t *testing.T) {
	_, ts := newTestHandler(t, nil)

	resp := postJSON(t, ts, "/api/chat", map[string]string{"message": "write me a sonnet"})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("got %d, want 200", resp.StatusCode)
	}
	var out orchestrator.Response
	decodeJSON(t, resp, &out)
	if out.Success || out.SkillUsed != orchestrator.SkillFallback || out.FallbackReason != orchestrator.ReasonNoMatch {
		t.Fatalf("got %+v", out)
	}
}

func TestChatBadRequests(t *testing.T) {
	_, ts := newTestHandler(t, nil)

	tests := []struct {
		name string
		body string
		want string
	}{
		{"malformed", `{"message":`, ""},
		{"empty", `{"message": "  "}`, "message is required"},
		{"invalid param", `{"message": "turn on the lights", "parameters": {"message": 7}}`, "message"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, err := http.Post(ts.URL+"/api/chat", "application/json", strings.NewReader(tt.body))
			if err != nil {
				t.Fatal(err)
			}
			if resp.StatusCode != http.StatusBadRequest {
				t.Fatalf("got %d, want 400", resp.StatusCode)
			}
			var out map[string]string
			decodeJSON(t, resp, &out)
			if out["error"] == "" || !strings.Contains(out["error"], tt.want) {
				t.Fatalf("error: got %q, want it to mention %q", out["error"], tt.want)
			}
		})
	}
}

func TestListSkills(t *testing.T) {
	_, ts := newTestHandler(t, nil)

	var skills []orchestrator.SkillInfo
	decodeJSON(t, getJSON(t, ts, "/api/skills"), &skills)
	if len(skills) != 2 {
		t.Fatalf("got %d skills, want 2", len(skills))
	}
	for _, s := range skills {
		if s.Status != orchestrator.StatusActive {
			t.Fatalf("%s: got status %q", s.Name, s.Status)
		}
	}
}

func TestReloadSkills(t *testing.T) {
	_, ts := newTestHandler(t, nil)

	resp := postJSON(t, ts, "/api/skills/reload", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("got %d, want 200", resp.StatusCode)
	}
	var report skill.LoadReport
	decodeJSON(t, resp, &report)
	if report.Loaded != 2 || len(report.Errors) != 0 {
		t.Fatalf("got %+v", report)
	}
}

func TestBreakerOpensAndResets(t *testing.T) {
	orch, ts := newTestHandler(t, nil)

	for i := 0; i < 3; i++ {
		resp := postJSON(t, ts, "/api/chat", map[string]string{"message": "start the pump"})
		resp.Body.Close()
	}

	var health orchestrator.Health
	decodeJSON(t, getJSON(t, ts, "/api/health"), &health)
	if health.Status != "degraded" || health.OpenBreakers != 1 || health.SkillsLoaded != 2 {
		t.Fatalf("health: got %+v", health)
	}

	var status orchestrator.Status
	decodeJSON(t, getJSON(t, ts, "/api/system/status"), &status)
	if len(status.Breakers) != 2 || status.Breakers[1].Skill != "pump" || status.Breakers[1].Failures != 3 {
		t.Fatalf("status: got %+v", status.Breakers)
	}

	resp := postJSON(t, ts, "/api/breakers/pump/reset", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("reset: got %d, want 200", resp.StatusCode)
	}
	resp.Body.Close()
	if orch.Bank().OpenCount() != 0 {
		t.Fatal("breaker still open after reset")
	}
}

func TestResetUnknownBreaker(t *testing.T) {
	_, ts := newTestHandler(t, nil)

	resp := postJSON(t, ts, "/api/breakers/teleporter/reset", nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("got %d, want 404", resp.StatusCode)
	}
	resp.Body.Close()

	resp = postJSON(t, ts, "/api/breakers/reset", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("reset all: got %d, want 200", resp.StatusCode)
	}
	resp.Body.Close()
}

func TestMetricsEndpoints(t *testing.T) {
	_, ts := newTestHandler(t, nil)

	resp := postJSON(t, ts, "/api/chat", map[string]string{"message": "turn off the lights"})
	resp.Body.Close()

	for _, path := range []string{"/metrics", "/api/metrics"} {
		resp := getJSON(t, ts, path)
		body, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		if !strings.Contains(string(body), `skill_calls_total{skill="device_control"} 1`) {
			t.Fatalf("%s: missing skill_calls_total in\n%s", path, body)
		}
	}

	var snap map[string]float64
	decodeJSON(t, getJSON(t, ts, "/api/metrics/snapshot"), &snap)
	if snap[`skill_calls_total{skill="device_control"}`] != 1 {
		t.Fatalf("snapshot: got %v", snap)
	}
}

func TestGatewayStatus(t *testing.T) {
	_, ts := newTestHandler(t, nil)
	var none []gateway.AdapterStatus
	decodeJSON(t, getJSON(t, ts, "/api/gateway/status"), &none)
	if len(none) != 0 {
		t.Fatalf("got %+v, want empty", none)
	}

	gw := gateway.NewGateway(zap.NewNop())
	_, ts = newTestHandler(t, gw)
	var statuses []gateway.AdapterStatus
	decodeJSON(t, getJSON(t, ts, "/api/gateway/status"), &statuses)
	if len(statuses) != 0 {
		t.Fatalf("got %+v, want no adapters", statuses)
	}
}
