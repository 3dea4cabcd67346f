package skill

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"
)

func writeFile(t *testing.T, dir, name, body string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
	return path
}

func testBindings(actions ...string) *Bindings {
	b := NewBindings()
	for _, a := range actions {
		name := a
		b.Bind(a, HandlerFunc(func(context.Context, Params) (*Result, error) {
			return &Result{Text: name}, nil
		}))
	}
	return b
}

func TestLoadDescriptors(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "a_device.json", `{
		"name": "device_control",
		"description": "Control devices",
		"keywords": ["Turn", "lights", "turn", " Living  Room "],
		"parameters": {"message": {"type": "string", "required": true}}
	}`)
	writeFile(t, dir, "b_info.yaml", "name: information_request\nversion: 2.1.0\nkeywords: [time, weather]\n")
	writeFile(t, dir, "c_broken.json", `{"name": `)
	writeFile(t, dir, "d_unbound.json", `{"name": "teleport", "keywords": ["beam"]}`)
	writeFile(t, dir, "e_badtype.json", `{"name": "x", "keywords": "not-a-list"}`)
	writeFile(t, dir, "notes.txt", "ignored")
	writeFile(t, dir, "nested/weather/schema.yml", "keywords: [forecast]\naction: information_request\n")

	snap, report, err := Load(dir, testBindings("device_control", "information_request"), zap.NewNop())
	if err != nil {
		t.Fatalf("load: %v", err)
	}

	if got, want := strings.Join(snap.Names(), ","), "device_control,information_request,weather"; got != want {
		t.Fatalf("names: got %q, want %q", got, want)
	}
	if report.Loaded != 3 {
		t.Fatalf("loaded: got %d, want 3", report.Loaded)
	}
	if len(report.Errors) != 3 {
		t.Fatalf("errors: got %d, want 3 (%v)", len(report.Errors), report.Errors)
	}
	for _, le := range report.Errors {
		if strings.HasSuffix(le.File, "d_unbound.json") && !errors.Is(&le, ErrNoHandler) {
			t.Errorf("unbound descriptor: got %v, want ErrNoHandler", le.Err)
		}
	}

	dev, ok := snap.Get("device_control")
	if !ok {
		t.Fatal("device_control missing")
	}
	if got, want := strings.Join(dev.Keywords, "|"), "turn|lights|living room"; got != want {
		t.Errorf("keywords: got %q, want %q", got, want)
	}
	if dev.Version != DefaultVersion {
		t.Errorf("version: got %q, want %q", dev.Version, DefaultVersion)
	}
	if dev.Action != "device_control" {
		t.Errorf("action: got %q, want device_control", dev.Action)
	}

	info, _ := snap.Get("information_request")
	if info.Version != "2.1.0" {
		t.Errorf("yaml version: got %q, want 2.1.0", info.Version)
	}
	weather, _ := snap.Get("weather")
	if weather.Action != "information_request" {
		t.Errorf("nested action: got %q", weather.Action)
	}
}

func TestLoadDuplicateKeepsSlot(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "1.json", `{"name": "alpha", "description": "first", "keywords": ["a"]}`)
	writeFile(t, dir, "2.json", `{"name": "beta", "keywords": ["b"]}`)
	writeFile(t, dir, "3.json", `{"name": "alpha", "description": "second", "keywords": ["a"]}`)

	snap, report, err := Load(dir, testBindings("alpha", "beta"), zap.NewNop())
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if got := strings.Join(snap.Names(), ","); got != "alpha,beta" {
		t.Fatalf("order: got %q, want alpha,beta", got)
	}
	d, _ := snap.Get("alpha")
	if d.Description != "second" {
		t.Fatalf("winner: got %q, want second", d.Description)
	}
	if len(report.Collisions) != 1 {
		t.Fatalf("collisions: got %d, want 1", len(report.Collisions))
	}
	c := report.Collisions[0]
	if !strings.HasSuffix(c.Kept, "3.json") || !strings.HasSuffix(c.Replaced, "1.json") {
		t.Fatalf("collision: got %+v", c)
	}
}

func TestLoadMissingDir(t *testing.T) {
	snap, report, err := Load(filepath.Join(t.TempDir(), "absent"), NewBindings(), zap.NewNop())
	if err != nil {
		t.Fatalf("missing dir should not fail: %v", err)
	}
	if snap.Len() != 0 || report.Loaded != 0 {
		t.Fatalf("got %d skills, want 0", snap.Len())
	}
}

func TestSnapshotReturnsCopies(t *testing.T) {
	snap := NewSnapshot(&Record{Descriptor: Descriptor{Name: "s", Keywords: []string{"k"}}})
	d, _ := snap.Get("s")
	d.Keywords[0] = "mutated"
	again, _ := snap.Get("s")
	if again.Keywords[0] != "k" {
		t.Fatalf("snapshot was mutated through a copy: %q", again.Keywords[0])
	}
}

func TestReloadSwapsWholeSnapshot(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "a.json", `{"name": "a", "keywords": ["x"]}`)
	writeFile(t, dir, "b.json", `{"name": "b", "keywords": ["y"]}`)

	reg := NewRegistry(dir, testBindings("a", "b", "c", "d", "e"), zap.NewNop())
	if _, err := reg.Reload(context.Background()); err != nil {
		t.Fatalf("reload: %v", err)
	}

	valid := map[string]bool{"a,b": true, "c,d,e": true}
	stop := make(chan struct{})
	var wg sync.WaitGroup
	var bad sync.Map
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-stop:
					return
				default:
				}
				snap := reg.Snapshot()
				got := strings.Join(snap.Names(), ",")
				if !valid[got] {
					bad.Store(got, true)
				}
				for _, n := range snap.Names() {
					if _, ok := snap.Record(n); !ok {
						bad.Store("dangling:"+n, true)
					}
				}
			}
		}()
	}

	for i := 0; i < 20; i++ {
		var names []string
		if i%2 == 0 {
			names = []string{"c", "d", "e"}
		} else {
			names = []string{"a", "b"}
		}
		entries, _ := os.ReadDir(dir)
		for _, e := range entries {
			os.Remove(filepath.Join(dir, e.Name()))
		}
		for _, n := range names {
			writeFile(t, dir, n+".json", `{"name": "`+n+`", "keywords": ["k"]}`)
		}
		if _, err := reg.Reload(context.Background()); err != nil {
			t.Fatalf("reload %d: %v", i, err)
		}
	}
	close(stop)
	wg.Wait()

	bad.Range(func(k, _ any) bool {
		t.Errorf("observed partial snapshot %q", k)
		return true
	})
}

func TestValidateParams(t *testing.T) {
	d := Descriptor{
		Name: "thermo",
		Parameters: map[string]ParamSpec{
			"message": {Type: TypeString, Required: true},
			"target":  {Type: TypeInteger},
			"ratio":   {Type: TypeNumber},
			"flags":   {Type: TypeArray},
			"opts":    {Type: TypeObject},
			"dry_run": {Type: TypeBoolean},
		},
	}

	tests := []struct {
		name   string
		params Params
		param  string
	}{
		{"ok", Params{"message": "hi", "target": 21.0, "ratio": 0.5, "flags": []any{"a"}, "opts": map[string]any{}, "dry_run": true, "extra": 1}, ""},
		{"missing required", Params{"target": 3}, "message"},
		{"nil required", Params{"message": nil}, "message"},
		{"wrong string", Params{"message": 3}, "message"},
		{"fractional integer", Params{"message": "x", "target": 21.5}, "target"},
		{"string number", Params{"message": "x", "ratio": "0.5"}, "ratio"},
		{"wrong array", Params{"message": "x", "flags": "a"}, "flags"},
		{"wrong object", Params{"message": "x", "opts": []any{}}, "opts"},
		{"wrong bool", Params{"message": "x", "dry_run": "yes"}, "dry_run"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateParams(d, tt.params)
			if tt.param == "" {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}
			var ve *ValidationError
			if !errors.As(err, &ve) {
				t.Fatalf("got %v, want ValidationError", err)
			}
			if ve.Param != tt.param {
				t.Fatalf("param: got %q, want %q", ve.Param, tt.param)
			}
		})
	}
}

func recordFor(name string, h Handler) *Record {
	return &Record{
		Descriptor: Descriptor{Name: name, Parameters: map[string]ParamSpec{"message": {Type: TypeString, Required: true}}},
		Handler:    h,
	}
}

func TestExecutorSuccess(t *testing.T) {
	ex := NewExecutor(time.Second, zap.NewNop())
	rec := recordFor("echo", HandlerFunc(func(_ context.Context, p Params) (*Result, error) {
		return &Result{Text: p.String("message")}, nil
	}))
	res, err := ex.Execute(context.Background(), rec, Params{"message": "hello"})
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if res.Text != "hello" {
		t.Fatalf("got %q, want hello", res.Text)
	}
}

func TestExecutorValidationSkipsHandler(t *testing.T) {
	called := false
	ex := NewExecutor(time.Second, zap.NewNop())
	rec := recordFor("echo", HandlerFunc(func(context.Context, Params) (*Result, error) {
		called = true
		return &Result{}, nil
	}))
	_, err := ex.Execute(context.Background(), rec, Params{})
	var ve *ValidationError
	if !errors.As(err, &ve) {
		t.Fatalf("got %v, want ValidationError", err)
	}
	if called {
		t.Fatal("handler invoked despite validation failure")
	}
}

func TestExecutorFailures(t *testing.T) {
	ex := NewExecutor(50*time.Millisecond, zap.NewNop())
	tests := []struct {
		name    string
		h       HandlerFunc
		timeout bool
	}{
		{"error", func(context.Context, Params) (*Result, error) { return nil, errors.New("db down") }, false},
		{"panic", func(context.Context, Params) (*Result, error) { panic("boom") }, false},
		{"timeout", func(ctx context.Context, _ Params) (*Result, error) {
			<-ctx.Done()
			return nil, ctx.Err()
		}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ex.Execute(context.Background(), recordFor("s", tt.h), Params{"message": "m"})
			var ee *ExecutionError
			if !errors.As(err, &ee) {
				t.Fatalf("got %v, want ExecutionError", err)
			}
			if ee.Timeout != tt.timeout {
				t.Fatalf("timeout: got %v, want %v", ee.Timeout, tt.timeout)
			}
		})
	}
}

func TestExecutorCallerCancel(t *testing.T) {
	ex := NewExecutor(time.Second, zap.NewNop())
	ctx, cancel := context.WithCancel(context.Background())
	started := make(chan struct{})
	rec := recordFor("slow", HandlerFunc(func(ctx context.Context, _ Params) (*Result, error) {
		close(started)
		<-ctx.Done()
		return nil, ctx.Err()
	}))
	go func() {
		<-started
		cancel()
	}()
	_, err := ex.Execute(ctx, rec, Params{"message": "m"})
	if !errors.Is(err, ErrCanceled) {
		t.Fatalf("got %v, want ErrCanceled", err)
	}
	var ee *ExecutionError
	if errors.As(err, &ee) {
		t.Fatal("caller cancellation must not be an ExecutionError")
	}
}

func TestDeviceController(t *testing.T) {
	dc := NewDeviceController()
	tests := []struct {
		msg  string
		want string
	}{
		{"turn on the living room lights", "I've turned on the living room light."},
		{"switch off the kitchen light", "I've turned off the kitchen light."},
		{"set the thermostat to 68", "I've set the thermostat to 68 degrees."},
		{"unlock the front door", "I've unlocked the front door."},
		{"lock the front door", "I've locked the front door."},
		{"disable the alarm", "I've disarmed the main security system."},
		{"sing a song", "I couldn't understand which device you want to control. Please specify the device and action."},
	}
	for _, tt := range tests {
		res, err := dc.Execute(context.Background(), Params{"message": tt.msg})
		if err != nil {
			t.Fatalf("%q: %v", tt.msg, err)
		}
		if res.Text != tt.want {
			t.Errorf("%q: got %q, want %q", tt.msg, res.Text, tt.want)
		}
	}

	for _, d := range dc.Devices() {
		if d.ID == "main_thermostat" && d.Temperature != 68 {
			t.Errorf("thermostat: got %d, want 68", d.Temperature)
		}
		if d.ID == "living_room_light" && d.State != "on" {
			t.Errorf("living room light: got %q, want on", d.State)
		}
	}
}

func TestInformationDesk(t *testing.T) {
	fixed := time.Date(2024, time.March, 5, 14, 7, 0, 0, time.UTC)
	desk := NewInformationDesk(func() time.Time { return fixed })

	tests := []struct {
		msg  string
		want string
	}{
		{"what time is it", "The current time is 02:07 PM."},
		{"what date is it today", "Today is Tuesday, March 05, 2024."},
		{"what's the weather in paris", "The weather in paris is currently partly cloudy"},
		{"tell me about yourself", "I'm JARVIS"},
	}
	for _, tt := range tests {
		res, err := desk.Execute(context.Background(), Params{"message": tt.msg})
		if err != nil {
			t.Fatalf("%q: %v", tt.msg, err)
		}
		if !strings.HasPrefix(res.Text, tt.want) {
			t.Errorf("%q: got %q, want prefix %q", tt.msg, res.Text, tt.want)
		}
	}
}

func TestShippedSkillsLoad(t *testing.T) {
	b := NewBindings()
	RegisterBuiltins(b)
	snap, report, err := Load(filepath.Join("..", "..", "skills"), b, zap.NewNop())
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(report.Errors) != 0 {
		t.Fatalf("shipped descriptors rejected: %+v", report.Errors)
	}
	names := snap.Names()
	if len(names) != 2 || names[0] != "device_control" || names[1] != "information_request" {
		t.Fatalf("got %v", names)
	}
}
