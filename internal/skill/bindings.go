package skill

import (
	"sort"
	"strings"
	"sync"
)

// Bindings maps action identifiers to handlers. A descriptor is only loaded
// when its action has a binding.
type Bindings struct {
	mu       sync.RWMutex
	handlers map[string]Handler
}

// NewBindings creates an empty binding table.
func NewBindings() *Bindings {
	return &Bindings{handlers: make(map[string]Handler)}
}

// Bind registers h for an action. Action names are case-insensitive.
func (b *Bindings) Bind(action string, h Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers[strings.ToLower(action)] = h
}

// Lookup returns the handler for an action, or nil.
func (b *Bindings) Lookup(action string) Handler {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.handlers[strings.ToLower(action)]
}

// Actions returns the bound action names, sorted.
func (b *Bindings) Actions() []string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]string, 0, len(b.handlers))
	for a := range b.handlers {
		out = append(out, a)
	}
	sort.Strings(out)
	return out
}
