package router

import (
	"reflect"
	"testing"

	"github.com/nidhogg/jarvis-hub/internal/skill"
)

type catalog []skill.Descriptor

func (c catalog) List() []skill.Descriptor { return c }

func desc(name string, keywords ...string) skill.Descriptor {
	return skill.Descriptor{Name: name, Action: name, Keywords: keywords}
}

func TestTokenize(t *testing.T) {
	got := Tokenize("Turn ON the living-room lights, please! (x2)")
	want := []string{"turn", "on", "the", "living", "room", "lights", "please", "x2"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	if len(Tokenize("  ...  ")) != 0 {
		t.Fatal("punctuation-only input produced tokens")
	}
}

func TestRouteSelectsDeviceControl(t *testing.T) {
	cat := catalog{
		desc("information_request", "time", "weather", "date"),
		desc("device_control", "turn", "lights"),
	}
	d := New(0).Route("turn on the living room lights", cat)
	if !d.Matched || d.Skill != "device_control" {
		t.Fatalf("got %+v, want device_control", d)
	}
	if d.Confidence != 1 {
		t.Fatalf("confidence: got %v, want 1", d.Confidence)
	}
	if d.Method != MethodKeywords {
		t.Fatalf("method: got %q", d.Method)
	}
}

func TestRouteNoMatch(t *testing.T) {
	cat := catalog{
		desc("device_control", "turn", "lights"),
		desc("information_request", "time", "weather"),
	}
	d := New(0).Route("explain quantum entanglement", cat)
	if d.Matched || d.Skill != "" {
		t.Fatalf("got %+v, want no match", d)
	}
}

func TestRouteEmptyVocabularyNeverMatches(t *testing.T) {
	cat := catalog{desc("empty"), desc("blank", "  ", "")}
	d := New(0).Route("anything at all", cat)
	if d.Matched {
		t.Fatalf("empty vocabulary matched: %+v", d)
	}
}

func TestRouteTieGoesToEarliest(t *testing.T) {
	cat := catalog{
		desc("first", "lights", "music"),
		desc("second", "lights", "alarm"),
	}
	d := New(0).Route("lights please", cat)
	if d.Skill != "first" {
		t.Fatalf("got %q, want first", d.Skill)
	}
}

func TestRouteStrictMaximum(t *testing.T) {
	cat := catalog{
		desc("broad", "lights", "music", "alarm", "door"),
		desc("narrow", "lights"),
	}
	d := New(0).Route("lights", cat)
	if d.Skill != "narrow" || d.Confidence != 1 {
		t.Fatalf("got %+v, want narrow at 1.0", d)
	}
}

func TestRouteThreshold(t *testing.T) {
	cat := catalog{desc("s", "a", "b", "c", "d")}
	if d := New(0.5).Route("a", cat); d.Matched {
		t.Fatalf("score 0.25 passed threshold 0.5: %+v", d)
	}
	if d := New(0.25).Route("a", cat); !d.Matched {
		t.Fatalf("score 0.25 failed threshold 0.25: %+v", d)
	}
}

func TestRouteMultiWordKeyword(t *testing.T) {
	cat := catalog{desc("lounge", "living room")}
	if d := New(0).Route("dim the living room", cat); !d.Matched {
		t.Fatalf("phrase not matched: %+v", d)
	}
	if d := New(0).Route("the room for living", cat); d.Matched {
		t.Fatalf("non-contiguous phrase matched: %+v", d)
	}
}

func TestRouteDuplicateKeywordsCountOnce(t *testing.T) {
	cat := catalog{desc("s", "Lights", "lights", "music")}
	d := New(0).Route("lights", cat)
	if d.Confidence != 0.5 {
		t.Fatalf("got %v, want 0.5", d.Confidence)
	}
}

func TestRouteAction(t *testing.T) {
	cat := catalog{
		{Name: "weather", Action: "information_request"},
		{Name: "device_control", Action: "device_control"},
	}
	r := New(0)
	if d := r.RouteAction("INFORMATION_REQUEST", cat); d.Skill != "weather" || d.Confidence != 1 || d.Method != MethodAction {
		t.Fatalf("got %+v, want weather by action", d)
	}
	if d := r.RouteAction("device_control", cat); d.Skill != "device_control" {
		t.Fatalf("got %+v", d)
	}
	if d := r.RouteAction("teleport", cat); d.Matched {
		t.Fatalf("unknown action matched: %+v", d)
	}
}
