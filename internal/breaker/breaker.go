// Package breaker keeps one independent circuit breaker per skill name.
//
// Each circuit has its own lock; operations on different skills never
// contend. Admission hands out a Ticket that must be settled with Report or
// Release so a half-open trial slot is never leaked.
package breaker

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"
)

// ErrCircuitOpen is used when admission is rejected.
var ErrCircuitOpen = errors.New("circuit breaker is open")

// Phase is the state of one circuit.
type Phase int

const (
	Closed Phase = iota
	Open
	HalfOpen
)

func (p Phase) String() string {
	switch p {
	case Closed:
		return "closed"
	case Open:
		return "open"
	case HalfOpen:
		return "half_open"
	default:
		return "unknown"
	}
}

// MarshalText renders the phase name in JSON.
func (p Phase) MarshalText() ([]byte, error) { return []byte(p.String()), nil }

// UnmarshalText parses a phase name produced by MarshalText.
func (p *Phase) UnmarshalText(b []byte) error {
	switch string(b) {
	case "closed":
		*p = Closed
	case "open":
		*p = Open
	case "half_open":
		*p = HalfOpen
	default:
		return fmt.Errorf("unknown circuit phase %q", b)
	}
	return nil
}

// Defaults.
const (
	DefaultFailureThreshold = 3
	DefaultResetTimeout     = 30 * time.Second
)

// Transition describes a phase change of one circuit.
type Transition struct {
	Skill string
	From  Phase
	To    Phase
	At    time.Time
}

// Config controls every circuit in a Bank.
type Config struct {
	FailureThreshold int
	ResetTimeout     time.Duration
	// Now is the clock; nil means time.Now.
	Now func() time.Time
	// OnStateChange runs after the circuit lock is released.
	OnStateChange func(Transition)
}

// State is a point-in-time copy of one circuit.
type State struct {
	Skill    string    `json:"skill"`
	Phase    Phase     `json:"phase"`
	Failures int       `json:"failures"`
	OpenedAt time.Time `json:"opened_at"`
}

// Decision is the admission outcome.
type Decision int

const (
	Rejected Decision = iota
	Admitted
)

// Ticket is the result of Admit. An admitted ticket must be settled exactly
// once with Report or Release; extra settlements are ignored.
type Ticket struct {
	Skill    string
	Decision Decision
	trial    bool
	epoch    uint64
}

// Admitted reports whether the call may proceed.
func (t Ticket) Admitted() bool { return t.Decision == Admitted }

// Trial reports whether this ticket holds the half-open trial slot.
func (t Ticket) Trial() bool { return t.trial }

type circuit struct {
	mu       sync.Mutex
	phase    Phase
	failures int
	openedAt time.Time
	inTrial  bool
	// epoch increments on every transition; tickets from an older epoch
	// cannot change the circuit.
	epoch uint64
}

// Bank is the per-skill circuit arena.
type Bank struct {
	circuits sync.Map // skill name -> *circuit
	cfg      Config
	logger   *zap.Logger
}

// NewBank creates a bank. Zero config values take the defaults.
func NewBank(cfg Config, logger *zap.Logger) *Bank {
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = DefaultFailureThreshold
	}
	if cfg.ResetTimeout <= 0 {
		cfg.ResetTimeout = DefaultResetTimeout
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Bank{cfg: cfg, logger: logger}
}

func (b *Bank) circuit(name string) *circuit {
	if c, ok := b.circuits.Load(name); ok {
		return c.(*circuit)
	}
	c, _ := b.circuits.LoadOrStore(name, &circuit{})
	return c.(*circuit)
}

func (b *Bank) existing(name string) (*circuit, bool) {
	v, ok := b.circuits.Load(name)
	if !ok {
		return nil, false
	}
	return v.(*circuit), true
}

// setPhase must be called with c.mu held.
func (b *Bank) setPhase(c *circuit, name string, to Phase, now time.Time) *Transition {
	if c.phase == to {
		return nil
	}
	t := &Transition{Skill: name, From: c.phase, To: to, At: now}
	c.phase = to
	c.epoch++
	switch to {
	case Closed:
		c.failures = 0
		c.inTrial = false
	case Open:
		c.openedAt = now
		c.inTrial = false
	}
	return t
}

func (b *Bank) notify(t *Transition) {
	if t == nil {
		return
	}
	b.logger.Info("circuit breaker transition",
		zap.String("skill", t.Skill),
		zap.String("from", t.From.String()),
		zap.String("to", t.To.String()))
	if b.cfg.OnStateChange != nil {
		b.cfg.OnStateChange(*t)
	}
}

// Admit decides whether a call to the named skill may proceed.
func (b *Bank) Admit(name string) Ticket {
	c := b.circuit(name)
	now := b.cfg.Now()

	c.mu.Lock()
	var tr *Transition
	if c.phase == Open && now.Sub(c.openedAt) >= b.cfg.ResetTimeout {
		tr = b.setPhase(c, name, HalfOpen, now)
	}

	t := Ticket{Skill: name, Decision: Rejected, epoch: c.epoch}
	switch c.phase {
	case Closed:
		t.Decision = Admitted
	case HalfOpen:
		if !c.inTrial {
			c.inTrial = true
			t.Decision = Admitted
			t.trial = true
		}
	}
	c.mu.Unlock()

	b.notify(tr)
	return t
}

// Report settles an admitted ticket with the call's outcome.
func (b *Bank) Report(t Ticket, success bool) {
	if !t.Admitted() {
		return
	}
	c, ok := b.existing(t.Skill)
	if !ok {
		return
	}
	now := b.cfg.Now()

	c.mu.Lock()
	if c.epoch != t.epoch {
		c.mu.Unlock()
		return
	}
	var tr *Transition
	switch c.phase {
	case Closed:
		if success {
			c.failures = 0
		} else {
			c.failures++
			if c.failures >= b.cfg.FailureThreshold {
				tr = b.setPhase(c, t.Skill, Open, now)
			}
		}
	case HalfOpen:
		if !t.trial || !c.inTrial {
			break
		}
		if success {
			tr = b.setPhase(c, t.Skill, Closed, now)
		} else {
			c.failures++
			tr = b.setPhase(c, t.Skill, Open, now)
		}
	}
	c.mu.Unlock()

	b.notify(tr)
}

// Release settles an admitted ticket without an outcome, freeing the
// half-open trial slot if the ticket held it.
func (b *Bank) Release(t Ticket) {
	if !t.Admitted() || !t.trial {
		return
	}
	c, ok := b.existing(t.Skill)
	if !ok {
		return
	}
	c.mu.Lock()
	if c.epoch == t.epoch && c.phase == HalfOpen {
		c.inTrial = false
	}
	c.mu.Unlock()
}

// Reset forces the named circuit to Closed with zero failures.
func (b *Bank) Reset(name string) {
	c := b.circuit(name)
	now := b.cfg.Now()
	c.mu.Lock()
	tr := b.setPhase(c, name, Closed, now)
	c.failures = 0
	c.mu.Unlock()
	b.notify(tr)
}

// ResetAll closes every known circuit.
func (b *Bank) ResetAll() {
	b.circuits.Range(func(k, _ any) bool {
		b.Reset(k.(string))
		return true
	})
}

// State returns the circuit's current state. Circuits are created lazily,
// so an unknown name reports Closed with no failures. An Open circuit whose
// timeout has elapsed still reports Open until the next Admit.
func (b *Bank) State(name string) State {
	c, ok := b.existing(name)
	if !ok {
		return State{Skill: name, Phase: Closed}
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return State{Skill: name, Phase: c.phase, Failures: c.failures, OpenedAt: c.openedAt}
}

// Snapshot returns the state of every known circuit, sorted by name.
func (b *Bank) Snapshot() []State {
	var names []string
	b.circuits.Range(func(k, _ any) bool {
		names = append(names, k.(string))
		return true
	})
	sort.Strings(names)
	out := make([]State, 0, len(names))
	for _, n := range names {
		out = append(out, b.State(n))
	}
	return out
}

// OpenCount returns how many circuits are Open. Half-open circuits are
// counted by CountPhase(HalfOpen).
func (b *Bank) OpenCount() int { return b.CountPhase(Open) }

// CountPhase returns how many known circuits are in phase p.
func (b *Bank) CountPhase(p Phase) int {
	n := 0
	b.circuits.Range(func(_, v any) bool {
		c := v.(*circuit)
		c.mu.Lock()
		if c.phase == p {
			n++
		}
		c.mu.Unlock()
		return true
	})
	return n
}

// Retain drops circuits whose names are not in keep. Surviving circuits
// keep their state.
func (b *Bank) Retain(keep []string) {
	set := make(map[string]struct{}, len(keep))
	for _, n := range keep {
		set[n] = struct{}{}
	}
	b.circuits.Range(func(k, _ any) bool {
		if _, ok := set[k.(string)]; !ok {
			b.circuits.Delete(k)
		}
		return true
	})
}
