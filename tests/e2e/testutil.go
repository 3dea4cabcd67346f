//go:build e2e

package e2e

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	tcpg "github.com/testcontainers/testcontainers-go/modules/postgres"
	tcredis "github.com/testcontainers/testcontainers-go/modules/redis"
	"go.uber.org/zap"

	"github.com/nidhogg/jarvis-hub/internal/api"
	"github.com/nidhogg/jarvis-hub/internal/breaker"
	"github.com/nidhogg/jarvis-hub/internal/command"
	"github.com/nidhogg/jarvis-hub/internal/fallback"
	"github.com/nidhogg/jarvis-hub/internal/gateway"
	"github.com/nidhogg/jarvis-hub/internal/metrics"
	"github.com/nidhogg/jarvis-hub/internal/orchestrator"
	"github.com/nidhogg/jarvis-hub/internal/provider"
	"github.com/nidhogg/jarvis-hub/internal/router"
	"github.com/nidhogg/jarvis-hub/internal/skill"
	"github.com/nidhogg/jarvis-hub/internal/store"
)

// Package-level shared state, set by TestMain.
var (
	testLogger    *zap.Logger
	testStore     *store.Store
	testRedisURL  string
	testLLMConfig *llmTestConfig
)

type llmTestConfig struct {
	Endpoint string
	APIKey   string
	Model    string
}

// startPostgres starts a PostgreSQL testcontainer, returns DSN + cleanup func.
func startPostgres(ctx context.Context) (string, func(), error) {
	container, err := tcpg.Run(ctx, "postgres:16-alpine",
		tcpg.WithDatabase("jarvis_test"),
		tcpg.WithUsername("test"),
		tcpg.WithPassword("test"),
		tcpg.BasicWaitStrategies(),
	)
	if err != nil {
		return "", nil, fmt.Errorf("start postgres: %w", err)
	}
	dsn, err := container.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		container.Terminate(ctx)
		return "", nil, fmt.Errorf("pg connection string: %w", err)
	}
	cleanup := func() { container.Terminate(ctx) }
	return dsn, cleanup, nil
}

// startRedis starts a Redis testcontainer, returns URL + cleanup func.
func startRedis(ctx context.Context) (string, func(), error) {
	container, err := tcredis.Run(ctx, "redis:7-alpine")
	if err != nil {
		return "", nil, fmt.Errorf("start redis: %w", err)
	}
	endpoint, err := container.Endpoint(ctx, "")
	if err != nil {
		container.Terminate(ctx)
		return "", nil, fmt.Errorf("redis endpoint: %w", err)
	}
	cleanup := func() { container.Terminate(ctx) }
	return "redis://" + endpoint, cleanup, nil
}

// stubLLM is an OpenAI-compatible chat endpoint that records every request.
type stubLLM struct {
	srv  *httptest.Server
	mu   sync.Mutex
	reqs []provider.ChatRequest
}

func newStubLLM(t *testing.T) *stubLLM {
	t.Helper()
	s := &stubLLM{}
	s.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req provider.ChatRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		s.mu.Lock()
		s.reqs = append(s.reqs, req)
		n := len(s.reqs)
		s.mu.Unlock()

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{
			"id":    fmt.Sprintf("stub-%d", n),
			"model": req.Model,
			"choices": []map[string]any{{
				"message":       map[string]string{"role": "assistant", "content": fmt.Sprintf("Stub reply %d.", n)},
				"finish_reason": "stop",
			}},
		})
	}))
	t.Cleanup(s.srv.Close)
	return s
}

func (s *stubLLM) requests() []provider.ChatRequest {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]provider.ChatRequest(nil), s.reqs...)
}

// CaptureAdapter is a test gateway adapter that records all outbound messages.
type CaptureAdapter struct {
	sent    []*gateway.OutboundMessage
	handler gateway.MessageHandler
	mu      sync.Mutex
}

func (c *CaptureAdapter) Platform() string                   { return "test" }
func (c *CaptureAdapter) Connect(ctx context.Context) error  { return nil }
func (c *CaptureAdapter) OnMessage(h gateway.MessageHandler) { c.handler = h }
func (c *CaptureAdapter) Close() error                       { return nil }

func (c *CaptureAdapter) Status() gateway.AdapterStatus {
	return gateway.AdapterStatus{Platform: "test", Connected: true}
}

func (c *CaptureAdapter) Send(ctx context.Context, msg *gateway.OutboundMessage) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sent = append(c.sent, msg)
	return nil
}

// Inject simulates an inbound message from a user.
func (c *CaptureAdapter) Inject(msg *gateway.InboundMessage) {
	msg.Platform = "test"
	if c.handler != nil {
		c.handler(msg)
	}
}

// Sent returns a copy of all captured outbound messages.
func (c *CaptureAdapter) Sent() []*gateway.OutboundMessage {
	c.mu.Lock()
	defer c.mu.Unlock()
	cp := make([]*gateway.OutboundMessage, len(c.sent))
	copy(cp, c.sent)
	return cp
}

const vaultDescriptor = `{
  "name": "vault",
  "description": "Operate the workshop vault",
  "keywords": ["vault"],
  "parameters": {"message": {"type": "string", "required": true}},
  "action": "vault"
}`

// hub is a fully wired hub over the shared containers.
type hub struct {
	orch      *orchestrator.Orchestrator
	events    *orchestrator.EventBus
	ts        *httptest.Server
	capture   *CaptureAdapter
	bridge    *gateway.Bridge
	llm       *stubLLM
	skillsDir string
	// vaultDown makes the vault skill fail while set.
	vaultDown atomic.Bool
}

// newHub copies the shipped skills plus a vault skill into a temp dir and
// wires every component the server binary wires.
func newHub(t *testing.T) *hub {
	t.Helper()
	ctx := context.Background()
	h := &hub{skillsDir: t.TempDir()}

	shipped, err := filepath.Glob(filepath.Join("..", "..", "skills", "*"))
	if err != nil || len(shipped) == 0 {
		t.Fatalf("find shipped skills: %v", err)
	}
	for _, src := range shipped {
		data, err := os.ReadFile(src)
		if err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(filepath.Join(h.skillsDir, filepath.Base(src)), data, 0o644); err != nil {
			t.Fatal(err)
		}
	}
	if err := os.WriteFile(filepath.Join(h.skillsDir, "vault.json"), []byte(vaultDescriptor), 0o644); err != nil {
		t.Fatal(err)
	}

	bindings := skill.NewBindings()
	skill.RegisterBuiltins(bindings)
	bindings.Bind("vault", skill.HandlerFunc(func(context.Context, skill.Params) (*skill.Result, error) {
		if h.vaultDown.Load() {
			return nil, fmt.Errorf("vault actuator offline")
		}
		return &skill.Result{Text: "The vault is open."}, nil
	}))
	registry := skill.NewRegistry(h.skillsDir, bindings, testLogger)
	if _, err := registry.Reload(ctx); err != nil {
		t.Fatalf("load skills: %v", err)
	}

	var p provider.Provider
	if testLLMConfig != nil {
		p = provider.NewOpenAIProvider(provider.ProviderConfig{
			ID: "test-llm", Type: "openai", Name: "Test LLM",
			Endpoint: testLLMConfig.Endpoint, APIKey: testLLMConfig.APIKey,
			Models: []string{testLLMConfig.Model},
		}, testLogger)
	} else {
		h.llm = newStubLLM(t)
		p = provider.NewOpenAIProvider(provider.ProviderConfig{
			ID: "stub", Type: "openai", Endpoint: h.llm.srv.URL, APIKey: "stub",
		}, testLogger)
	}
	fb := fallback.NewClient(p, fallback.Config{MaxRetries: 1, InitialBackoff: 10 * time.Millisecond}, testLogger)

	h.orch = orchestrator.New(orchestrator.Deps{
		Registry: registry,
		Router:   router.New(0.01),
		Executor: skill.NewExecutor(2*time.Second, testLogger),
		Fallback: fb,
		Metrics:  metrics.NewRecorder(testLogger),
		Breaker:  breaker.Config{FailureThreshold: 2, ResetTimeout: 200 * time.Millisecond},
	}, testLogger)
	h.orch.SetHistory(testStore, 10)

	h.events, err = orchestrator.NewEventBus(testRedisURL, testLogger)
	if err != nil {
		t.Fatalf("event bus: %v", err)
	}
	busCtx, stopBus := context.WithCancel(ctx)
	h.events.Start(busCtx)
	h.orch.SetEvents(h.events)

	gw := gateway.NewGateway(testLogger)
	h.capture = &CaptureAdapter{}
	gw.Register(h.capture)
	h.bridge = gateway.NewBridge(ctx, gw, h.orch, 4, 5*time.Second, testLogger)
	cmds := command.NewRegistry()
	command.RegisterBuiltins(cmds, h.orch, gw)
	command.RegisterForget(cmds, testStore)
	h.bridge.SetCommands(cmds.Bind())

	h.ts = httptest.NewServer(api.NewHandler(h.orch, gw, testLogger).Router())
	t.Cleanup(func() {
		h.ts.Close()
		h.bridge.Wait()
		h.events.Close()
		stopBus()
	})
	return h
}

// skipIfNoStub skips assertions that depend on the stub's exact replies.
func (h *hub) skipIfNoStub(t *testing.T) {
	t.Helper()
	if h.llm == nil {
		t.Skip("running against a real LLM provider")
	}
}
