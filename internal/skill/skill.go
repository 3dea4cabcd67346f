package skill

import (
	"context"
	"time"
)

// ParamType is the declared type of a descriptor parameter.
type ParamType string

const (
	TypeString  ParamType = "string"
	TypeNumber  ParamType = "number"
	TypeInteger ParamType = "integer"
	TypeBoolean ParamType = "boolean"
	TypeObject  ParamType = "object"
	TypeArray   ParamType = "array"
)

// ParamSpec describes one parameter a skill accepts.
type ParamSpec struct {
	Type        ParamType `json:"type" yaml:"type"`
	Required    bool      `json:"required,omitempty" yaml:"required,omitempty"`
	Description string    `json:"description,omitempty" yaml:"description,omitempty"`
}

// Descriptor is the structured metadata describing a skill, independent of
// the code that implements it. Descriptors are treated as immutable once
// loaded; accessors return copies.
type Descriptor struct {
	Name        string               `json:"name" yaml:"name"`
	Version     string               `json:"version" yaml:"version"`
	Description string               `json:"description" yaml:"description"`
	Keywords    []string             `json:"keywords" yaml:"keywords"`
	Parameters  map[string]ParamSpec `json:"parameters,omitempty" yaml:"parameters,omitempty"`
	Action      string               `json:"action" yaml:"action"`
	Examples    []string             `json:"examples,omitempty" yaml:"examples,omitempty"`
}

func (d Descriptor) clone() Descriptor {
	out := d
	out.Keywords = append([]string(nil), d.Keywords...)
	out.Examples = append([]string(nil), d.Examples...)
	if d.Parameters != nil {
		out.Parameters = make(map[string]ParamSpec, len(d.Parameters))
		for k, v := range d.Parameters {
			out.Parameters[k] = v
		}
	}
	return out
}

// Params are the arguments passed to a handler.
type Params map[string]any

// String returns the string value of key, or "" when absent or not a string.
func (p Params) String(key string) string {
	s, _ := p[key].(string)
	return s
}

// Result is what a handler produces.
type Result struct {
	Text string         `json:"response"`
	Data map[string]any `json:"data,omitempty"`
}

// Handler executes a skill.
type Handler interface {
	Execute(ctx context.Context, params Params) (*Result, error)
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, params Params) (*Result, error)

func (f HandlerFunc) Execute(ctx context.Context, params Params) (*Result, error) {
	return f(ctx, params)
}

// Record binds a descriptor to its handler. Records are replaced wholesale
// on reload, never edited in place.
type Record struct {
	Descriptor Descriptor
	Handler    Handler
	Source     string // file the descriptor was loaded from
	LoadedAt   time.Time
}
