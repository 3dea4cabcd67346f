// Package orchestrator turns a chat request into a skill invocation or a
// fallback completion, guarding each skill with its own circuit breaker.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/nidhogg/jarvis-hub/internal/breaker"
	"github.com/nidhogg/jarvis-hub/internal/fallback"
	"github.com/nidhogg/jarvis-hub/internal/metrics"
	"github.com/nidhogg/jarvis-hub/internal/provider"
	"github.com/nidhogg/jarvis-hub/internal/router"
	"github.com/nidhogg/jarvis-hub/internal/skill"
)

var (
	ErrEmptyMessage = errors.New("message is required")
	ErrUnknownSkill = errors.New("unknown skill")
)

// DefaultRequestTimeout bounds one Handle call end to end.
const DefaultRequestTimeout = 30 * time.Second

// SkillFallback is the skill_used value for fallback answers.
const SkillFallback = "fallback"

// Fallback reasons.
const (
	ReasonNoMatch     = "no_match"
	ReasonCircuitOpen = "circuit_open"
	ReasonSkillFailed = "skill_failed"
)

// TimeoutText is returned when the request budget runs out.
const TimeoutText = "I apologize, but your request took too long to process. Please try again."

// HistoryStore persists conversation turns per user.
type HistoryStore interface {
	AppendTurn(ctx context.Context, userID, role, content string) error
	RecentTurns(ctx context.Context, userID string, limit int) ([]provider.Message, error)
}

// Request is one inbound chat message.
type Request struct {
	Message    string             `json:"message"`
	UserID     string             `json:"user_id"`
	History    []provider.Message `json:"history,omitempty"`
	Action     string             `json:"action,omitempty"`
	Parameters map[string]any     `json:"parameters,omitempty"`
}

// Response is the reply envelope.
type Response struct {
	ID             string         `json:"id"`
	Text           string         `json:"response"`
	SkillUsed      string         `json:"skill_used"`
	Success        bool           `json:"success"`
	Confidence     float64        `json:"confidence"`
	LatencyMS      float64        `json:"latency_ms"`
	Data           map[string]any `json:"data,omitempty"`
	FallbackReason string         `json:"fallback_reason,omitempty"`
	Model          string         `json:"model,omitempty"`
	Timestamp      time.Time      `json:"timestamp"`
}

// Deps are the collaborators an Orchestrator is built from.
type Deps struct {
	Registry *skill.Registry
	Router   *router.Router
	Executor *skill.Executor
	Fallback *fallback.Client
	Metrics  *metrics.Recorder
	Breaker  breaker.Config
}

// Orchestrator owns the breaker bank and dispatches requests.
type Orchestrator struct {
	registry *skill.Registry
	bank     *breaker.Bank
	router   *router.Router
	executor *skill.Executor
	fallback *fallback.Client
	metrics  *metrics.Recorder

	history      HistoryStore
	historyLimit int
	events       EventSink

	requestTimeout time.Duration
	logger         *zap.Logger
}

// New builds an orchestrator. The breaker bank is created here so its
// transitions feed this orchestrator's metrics and events.
func New(d Deps, logger *zap.Logger) *Orchestrator {
	o := &Orchestrator{
		registry:       d.Registry,
		router:         d.Router,
		executor:       d.Executor,
		fallback:       d.Fallback,
		metrics:        d.Metrics,
		requestTimeout: DefaultRequestTimeout,
		historyLimit:   fallback.DefaultMaxHistory,
		logger:         logger,
	}
	if o.router == nil {
		o.router = router.New(0)
	}
	if o.executor == nil {
		o.executor = skill.NewExecutor(0, logger)
	}
	if o.fallback == nil {
		o.fallback = fallback.NewClient(nil, fallback.Config{}, logger)
	}
	if o.metrics == nil {
		o.metrics = metrics.NewRecorder(logger)
	}

	cfg := d.Breaker
	user := cfg.OnStateChange
	cfg.OnStateChange = func(tr breaker.Transition) {
		o.onTransition(tr)
		if user != nil {
			user(tr)
		}
	}
	o.bank = breaker.NewBank(cfg, logger)
	o.metrics.TrackOpenCircuits(o.bank.OpenCount)
	return o
}

// SetHistory enables conversation persistence. limit caps loaded turns.
func (o *Orchestrator) SetHistory(h HistoryStore, limit int) {
	o.history = h
	if limit > 0 {
		o.historyLimit = limit
	}
}

// SetEvents enables event emission.
func (o *Orchestrator) SetEvents(e EventSink) { o.events = e }

// SetRequestTimeout overrides DefaultRequestTimeout. Zero disables it.
func (o *Orchestrator) SetRequestTimeout(d time.Duration) { o.requestTimeout = d }

// Bank exposes the breaker bank.
func (o *Orchestrator) Bank() *breaker.Bank { return o.bank }

// Metrics exposes the recorder.
func (o *Orchestrator) Metrics() *metrics.Recorder { return o.metrics }

// Handle answers one request. Only ErrEmptyMessage and
// *skill.ValidationError are returned as errors; every other failure becomes
// a Response with Success false.
func (o *Orchestrator) Handle(ctx context.Context, req *Request) (*Response, error) {
	start := time.Now()
	msg := strings.TrimSpace(req.Message)
	if msg == "" {
		return nil, ErrEmptyMessage
	}

	if o.requestTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, o.requestTimeout)
		defer cancel()
	}

	snap := o.registry.Snapshot()
	userID := req.UserID
	if userID == "" {
		userID = fallback.AnonymousUser
	}

	history := req.History
	if history == nil && o.history != nil {
		turns, err := o.history.RecentTurns(ctx, userID, o.historyLimit)
		if err != nil {
			o.logger.Warn("load history failed", zap.String("user", userID), zap.Error(err))
		}
		history = turns
	}

	var decision router.Decision
	if req.Action != "" {
		decision = o.router.RouteAction(req.Action, snap)
	}
	if !decision.Matched {
		decision = o.router.Route(msg, snap)
	}

	var resp *Response
	if !decision.Matched {
		o.logger.Info("no skill matched, using fallback", zap.Float64("confidence", decision.Confidence))
		resp = o.complete(ctx, msg, userID, history, ReasonNoMatch)
	} else {
		var err error
		resp, err = o.dispatch(ctx, snap, decision, req, msg, userID, history)
		if err != nil {
			return nil, err
		}
	}

	elapsed := time.Since(start)
	resp.ID = uuid.NewString()
	resp.Confidence = decision.Confidence
	resp.LatencyMS = float64(elapsed.Microseconds()) / 1000
	resp.Timestamp = time.Now().UTC()

	category := resp.SkillUsed
	if category == SkillFallback {
		category = metrics.CategoryFallback
	}
	o.metrics.ObserveRequest(category, elapsed)
	o.remember(ctx, userID, msg, resp.Text)
	o.emit(&Event{
		Type:      EventRequest,
		Skill:     resp.SkillUsed,
		UserID:    userID,
		Success:   resp.Success,
		Detail:    resp.FallbackReason,
		LatencyMS: resp.LatencyMS,
	})
	return resp, nil
}

func (o *Orchestrator) dispatch(ctx context.Context, snap *skill.Snapshot, decision router.Decision, req *Request, msg, userID string, history []provider.Message) (*Response, error) {
	name := decision.Skill
	rec, ok := snap.Record(name)
	if !ok {
		return o.complete(ctx, msg, userID, history, ReasonNoMatch), nil
	}

	ticket := o.bank.Admit(name)
	if !ticket.Admitted() {
		o.metrics.BreakerRejection(name)
		o.logger.Warn("circuit open, using fallback", zap.String("skill", name), zap.Error(breaker.ErrCircuitOpen))
		return o.complete(ctx, msg, userID, history, ReasonCircuitOpen), nil
	}

	params := make(skill.Params, len(req.Parameters)+2)
	for k, v := range req.Parameters {
		params[k] = v
	}
	if _, ok := params["message"]; !ok {
		params["message"] = msg
	}
	if _, ok := params["user_id"]; !ok {
		params["user_id"] = userID
	}

	if err := skill.ValidateParams(rec.Descriptor, params); err != nil {
		o.bank.Release(ticket)
		return nil, err
	}
	o.metrics.SkillCall(name)
	started := ctx.Err() == nil
	res, err := o.executor.Execute(ctx, rec, params)

	var verr *skill.ValidationError
	var eerr *skill.ExecutionError
	switch {
	case err == nil:
		o.bank.Report(ticket, true)
		return &Response{Text: res.Text, SkillUsed: name, Success: true, Data: res.Data}, nil
	case errors.As(err, &verr):
		o.bank.Release(ticket)
		return nil, err
	case errors.Is(err, skill.ErrCanceled):
		// A handler still running at the request deadline counts against
		// its circuit. A caller hanging up does not.
		if started && errors.Is(err, context.DeadlineExceeded) {
			o.bank.Report(ticket, false)
			o.metrics.SkillFailure(name)
			o.logger.Error("skill outlived the request deadline", zap.String("skill", name), zap.Error(err))
		} else {
			o.bank.Release(ticket)
			o.logger.Warn("request ended during skill execution", zap.String("skill", name), zap.Error(err))
		}
		return &Response{Text: TimeoutText, SkillUsed: name}, nil
	case errors.As(err, &eerr):
		o.bank.Report(ticket, false)
		o.metrics.SkillFailure(name)
		o.logger.Error("skill failed, using fallback",
			zap.String("skill", name),
			zap.Bool("timeout", eerr.Timeout),
			zap.Error(eerr.Cause))
		return o.complete(ctx, msg, userID, history, ReasonSkillFailed), nil
	default:
		o.bank.Report(ticket, false)
		o.metrics.SkillFailure(name)
		o.logger.Error("skill failed, using fallback", zap.String("skill", name), zap.Error(err))
		return o.complete(ctx, msg, userID, history, ReasonSkillFailed), nil
	}
}

func (o *Orchestrator) complete(ctx context.Context, msg, userID string, history []provider.Message, reason string) *Response {
	o.metrics.FallbackCall()
	res, err := o.fallback.Complete(ctx, msg, userID, history)
	resp := &Response{
		Text:           res.Text,
		SkillUsed:      SkillFallback,
		Success:        res.Success,
		FallbackReason: reason,
		Model:          res.Model,
	}
	var ue *fallback.UnavailableError
	if errors.As(err, &ue) {
		o.metrics.FallbackUnavailable(ue.Reason)
		if ue.Reason == fallback.ReasonCanceled {
			resp.Text = TimeoutText
		}
	}
	return resp
}

func (o *Orchestrator) remember(ctx context.Context, userID, msg, reply string) {
	if o.history == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 2*time.Second)
	defer cancel()
	if err := o.history.AppendTurn(ctx, userID, "user", msg); err != nil {
		o.logger.Warn("save user turn failed", zap.String("user", userID), zap.Error(err))
		return
	}
	if err := o.history.AppendTurn(ctx, userID, "assistant", reply); err != nil {
		o.logger.Warn("save assistant turn failed", zap.String("user", userID), zap.Error(err))
	}
}

func (o *Orchestrator) emit(e *Event) {
	if o.events == nil {
		return
	}
	o.events.Emit(e)
}

func (o *Orchestrator) onTransition(tr breaker.Transition) {
	o.metrics.BreakerTransition(tr.Skill, tr.From.String(), tr.To.String())
	o.emit(&Event{
		Type:      EventBreaker,
		Skill:     tr.Skill,
		Success:   tr.To == breaker.Closed,
		Detail:    tr.From.String() + "->" + tr.To.String(),
		Timestamp: tr.At,
	})
}

// SkillInfo is a registered skill with its breaker status.
type SkillInfo struct {
	Name        string   `json:"name"`
	Version     string   `json:"version"`
	Description string   `json:"description"`
	Keywords    []string `json:"keywords"`
	Action      string   `json:"action"`
	Status      string   `json:"status"`
}

// Skill statuses.
const (
	StatusActive      = "active"
	StatusCircuitOpen = "circuit_open"
)

// Skills lists registered skills in registration order.
func (o *Orchestrator) Skills() []SkillInfo {
	descs := o.registry.Snapshot().List()
	out := make([]SkillInfo, len(descs))
	for i, d := range descs {
		status := StatusActive
		if o.bank.State(d.Name).Phase != breaker.Closed {
			status = StatusCircuitOpen
		}
		out[i] = SkillInfo{
			Name:        d.Name,
			Version:     d.Version,
			Description: d.Description,
			Keywords:    d.Keywords,
			Action:      d.Action,
			Status:      status,
		}
	}
	return out
}

// Reload re-reads the skill directory and drops breaker state for skills
// that no longer exist.
func (o *Orchestrator) Reload(ctx context.Context) (*skill.LoadReport, error) {
	report, err := o.registry.Reload(ctx)
	if err != nil {
		return nil, fmt.Errorf("reload skills: %w", err)
	}
	o.bank.Retain(o.registry.Snapshot().Names())
	o.logger.Info("skills reloaded",
		zap.Int("skills", report.Loaded),
		zap.Int("errors", len(report.Errors)))
	o.emit(&Event{
		Type:    EventReload,
		Success: len(report.Errors) == 0,
		Detail:  fmt.Sprintf("%d skills, %d errors", report.Loaded, len(report.Errors)),
	})
	return report, nil
}

// ResetBreaker closes one skill's circuit.
func (o *Orchestrator) ResetBreaker(name string) error {
	if _, ok := o.registry.Snapshot().Get(name); !ok {
		return fmt.Errorf("%w: %s", ErrUnknownSkill, name)
	}
	o.bank.Reset(name)
	return nil
}

// ResetAllBreakers closes every circuit.
func (o *Orchestrator) ResetAllBreakers() { o.bank.ResetAll() }

// Health is the liveness summary.
type Health struct {
	Status            string `json:"status"`
	OpenBreakers      int    `json:"open_breakers"`
	HalfOpenBreakers  int    `json:"half_open_breakers"`
	SkillsLoaded      int    `json:"skills_loaded"`
	FallbackAvailable bool   `json:"fallback_available"`
}

// Health reports "healthy" when every circuit is closed, else "degraded".
func (o *Orchestrator) Health() Health {
	h := Health{
		Status:            "healthy",
		OpenBreakers:      o.bank.OpenCount(),
		HalfOpenBreakers:  o.bank.CountPhase(breaker.HalfOpen),
		SkillsLoaded:      o.registry.Snapshot().Len(),
		FallbackAvailable: o.fallback.Available(),
	}
	if h.OpenBreakers > 0 || h.HalfOpenBreakers > 0 {
		h.Status = "degraded"
	}
	return h
}

// Status is the detailed operator view.
type Status struct {
	Health
	Breakers      []breaker.State   `json:"breakers"`
	MinConfidence float64           `json:"min_confidence"`
	FallbackModel string            `json:"fallback_model"`
	LoadedAt      time.Time         `json:"loaded_at"`
	LoadErrors    []skill.LoadError `json:"load_errors"`
}

// Status reports breaker detail for every registered skill.
func (o *Orchestrator) Status() Status {
	snap := o.registry.Snapshot()
	names := snap.Names()
	states := make([]breaker.State, len(names))
	for i, n := range names {
		states[i] = o.bank.State(n)
	}
	report := snap.Report()
	return Status{
		Health:        o.Health(),
		Breakers:      states,
		MinConfidence: o.router.MinConfidence(),
		FallbackModel: o.fallback.Model(),
		LoadedAt:      snap.LoadedAt(),
		LoadErrors:    report.Errors,
	}
}
