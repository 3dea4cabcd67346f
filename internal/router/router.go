// Package router selects a skill for a message by deterministic keyword
// scoring.
package router

import (
	"strings"
	"unicode"

	"github.com/nidhogg/jarvis-hub/internal/skill"
)

// DefaultMinConfidence accepts any single keyword hit.
const DefaultMinConfidence = 0.01

// Catalog is the read side of a registry snapshot.
type Catalog interface {
	List() []skill.Descriptor
}

// Match methods.
const (
	MethodKeywords = "keywords"
	MethodAction   = "action"
)

// Decision is the outcome of routing one message.
type Decision struct {
	Skill      string   `json:"skill,omitempty"`
	Confidence float64  `json:"confidence"`
	Matched    bool     `json:"matched"`
	Method     string   `json:"method,omitempty"`
	Keywords   []string `json:"keywords,omitempty"`
}

// Router scores descriptors against messages.
type Router struct {
	minConfidence float64
}

// New creates a router. A non-positive threshold selects
// DefaultMinConfidence.
func New(minConfidence float64) *Router {
	if minConfidence <= 0 {
		minConfidence = DefaultMinConfidence
	}
	return &Router{minConfidence: minConfidence}
}

// MinConfidence returns the acceptance threshold.
func (r *Router) MinConfidence() float64 { return r.minConfidence }

// Tokenize lowercases s and splits it on every rune that is not a letter or
// digit.
func Tokenize(s string) []string {
	return strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}

// Score returns the fraction of d's keyword vocabulary found in tokens,
// along with the matched keywords. A single-word keyword matches a token; a
// multi-word keyword matches when its words appear contiguously.
func Score(d skill.Descriptor, tokens []string) (float64, []string) {
	vocab := vocabulary(d.Keywords)
	if len(vocab) == 0 {
		return 0, nil
	}
	set := make(map[string]struct{}, len(tokens))
	for _, t := range tokens {
		set[t] = struct{}{}
	}

	var hits []string
	for _, kw := range vocab {
		if len(kw) == 1 {
			if _, ok := set[kw[0]]; ok {
				hits = append(hits, kw[0])
			}
			continue
		}
		if containsPhrase(tokens, kw) {
			hits = append(hits, strings.Join(kw, " "))
		}
	}
	return float64(len(hits)) / float64(len(vocab)), hits
}

// vocabulary tokenizes keywords the same way messages are tokenized and
// drops duplicates and empties.
func vocabulary(keywords []string) [][]string {
	seen := make(map[string]struct{}, len(keywords))
	out := make([][]string, 0, len(keywords))
	for _, k := range keywords {
		toks := Tokenize(k)
		if len(toks) == 0 {
			continue
		}
		key := strings.Join(toks, " ")
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, toks)
	}
	return out
}

func containsPhrase(tokens, phrase []string) bool {
outer:
	for i := 0; i+len(phrase) <= len(tokens); i++ {
		for j, w := range phrase {
			if tokens[i+j] != w {
				continue outer
			}
		}
		return true
	}
	return false
}

// Route picks the descriptor with the strictly highest score. The winner
// must score above zero and at least the minimum confidence; ties go to the
// earliest descriptor in catalog order.
func (r *Router) Route(message string, catalog Catalog) Decision {
	tokens := Tokenize(message)
	if len(tokens) == 0 {
		return Decision{}
	}

	var best Decision
	for _, d := range catalog.List() {
		score, hits := Score(d, tokens)
		if score > best.Confidence {
			best = Decision{Skill: d.Name, Confidence: score, Keywords: hits}
		}
	}
	if best.Confidence <= 0 || best.Confidence < r.minConfidence {
		return Decision{Confidence: best.Confidence}
	}
	best.Matched = true
	best.Method = MethodKeywords
	return best
}

// RouteAction selects the first descriptor whose action or name equals
// action, ignoring case.
func (r *Router) RouteAction(action string, catalog Catalog) Decision {
	action = strings.TrimSpace(action)
	if action == "" {
		return Decision{}
	}
	for _, d := range catalog.List() {
		if strings.EqualFold(d.Action, action) || strings.EqualFold(d.Name, action) {
			return Decision{Skill: d.Name, Confidence: 1, Matched: true, Method: MethodAction}
		}
	}
	return Decision{}
}
