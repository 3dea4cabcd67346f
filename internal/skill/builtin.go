package skill

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"
)

// Built-in action identifiers.
const (
	ActionDeviceControl      = "device_control"
	ActionInformationRequest = "information_request"
)

// RegisterBuiltins binds the simulated home-automation handlers.
func RegisterBuiltins(b *Bindings) {
	b.Bind(ActionDeviceControl, NewDeviceController())
	b.Bind(ActionInformationRequest, NewInformationDesk(time.Now))
}

// Device is one entry of the simulated device table.
type Device struct {
	ID          string `json:"id"`
	Type        string `json:"type"`
	Location    string `json:"location"`
	State       string `json:"state,omitempty"`
	Brightness  int    `json:"brightness,omitempty"`
	Temperature int    `json:"temperature,omitempty"`
	Mode        string `json:"mode,omitempty"`
}

// DeviceController simulates a small smart-home installation.
type DeviceController struct {
	mu      sync.Mutex
	devices []*Device
}

// NewDeviceController returns a controller with the default device table.
func NewDeviceController() *DeviceController {
	return &DeviceController{devices: []*Device{
		{ID: "living_room_light", Type: "light", Location: "living room", State: "off", Brightness: 50},
		{ID: "bedroom_light", Type: "light", Location: "bedroom", State: "off", Brightness: 75},
		{ID: "kitchen_light", Type: "light", Location: "kitchen", State: "on", Brightness: 100},
		{ID: "main_thermostat", Type: "thermostat", Location: "main", Temperature: 72, Mode: "auto"},
		{ID: "front_door_lock", Type: "lock", Location: "front door", State: "locked"},
		{ID: "security_system", Type: "security", Location: "main", State: "armed", Mode: "home"},
	}}
}

type pattern struct {
	label string
	re    *regexp.Regexp
}

func patterns(pairs ...string) []pattern {
	out := make([]pattern, 0, len(pairs)/2)
	for i := 0; i+1 < len(pairs); i += 2 {
		out = append(out, pattern{label: pairs[i], re: regexp.MustCompile(pairs[i+1])})
	}
	return out
}

var (
	devicePatterns = patterns(
		"light", `\b(lights?|lamps?|lighting)\b`,
		"thermostat", `\b(thermostat|temperature|heat|heating|cool|cooling|ac|air)\b`,
		"lock", `\b(lock|unlock|door)\b`,
		"security", `\b(security|alarm)\b`,
	)
	actionPatterns = patterns(
		"on", `\b(turn on|switch on|activate|enable)\b`,
		"off", `\b(turn off|switch off|deactivate|disable)\b`,
		"toggle", `\b(toggle|switch)\b`,
		"set", `\b(set|adjust|change)\b`,
		"unlock", `\bunlock\b`,
		"lock", `\block\b`,
	)
	locationPatterns = patterns(
		"living room", `\b(living room|lounge)\b`,
		"bedroom", `\b(bedroom|bed room)\b`,
		"kitchen", `\bkitchen\b`,
		"front door", `\b(front door|main door|entrance)\b`,
	)
	numberRe = regexp.MustCompile(`\d+`)
)

type deviceRequest struct {
	deviceType string
	action     string
	location   string
	value      int
	hasValue   bool
}

func firstMatch(ps []pattern, s string) string {
	for _, p := range ps {
		if p.re.MatchString(s) {
			return p.label
		}
	}
	return ""
}

func parseDeviceRequest(msg string) (deviceRequest, bool) {
	msg = strings.ToLower(strings.TrimSpace(msg))
	req := deviceRequest{
		deviceType: firstMatch(devicePatterns, msg),
		action:     firstMatch(actionPatterns, msg),
		location:   firstMatch(locationPatterns, msg),
	}
	if n := numberRe.FindString(msg); n != "" {
		if v, err := strconv.Atoi(n); err == nil {
			req.value, req.hasValue = v, true
		}
	}
	return req, req.deviceType != "" || req.action != ""
}

// Execute parses params["message"] and applies the command to the first
// matching device.
func (c *DeviceController) Execute(_ context.Context, params Params) (*Result, error) {
	req, ok := parseDeviceRequest(params.String("message"))
	if !ok {
		return &Result{
			Text: "I couldn't understand which device you want to control. Please specify the device and action.",
			Data: map[string]any{"understood": false},
		}, nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	dev := c.find(req.deviceType, req.location)
	if dev == nil {
		what := req.deviceType
		if what == "" {
			what = "device"
		}
		where := ""
		if req.location != "" {
			where = " in the " + req.location
		}
		return &Result{
			Text: fmt.Sprintf("I couldn't find a %s%s to control.", what, where),
			Data: map[string]any{"understood": true, "found": false},
		}, nil
	}

	text := c.apply(dev, req)
	state := *dev
	return &Result{
		Text: text,
		Data: map[string]any{
			"device_controlled": state,
			"timestamp":         time.Now().UTC().Format(time.RFC3339),
		},
	}, nil
}

func (c *DeviceController) find(deviceType, location string) *Device {
	for _, d := range c.devices {
		if deviceType != "" && d.Type != deviceType {
			continue
		}
		if location != "" && !strings.Contains(d.Location, location) {
			continue
		}
		return d
	}
	return nil
}

func (c *DeviceController) apply(d *Device, req deviceRequest) string {
	switch {
	case req.action == "on" && d.Type == "security":
		d.State = "armed"
		return fmt.Sprintf("I've armed the %s security system.", d.Location)
	case req.action == "on":
		d.State = "on"
		return fmt.Sprintf("I've turned on the %s %s.", d.Location, d.Type)
	case req.action == "off" && d.Type == "security":
		d.State = "disarmed"
		return fmt.Sprintf("I've disarmed the %s security system.", d.Location)
	case req.action == "off":
		d.State = "off"
		return fmt.Sprintf("I've turned off the %s %s.", d.Location, d.Type)
	case req.action == "set" && d.Type == "thermostat":
		if !req.hasValue {
			return "Please specify the temperature you'd like to set."
		}
		d.Temperature = req.value
		return fmt.Sprintf("I've set the thermostat to %d degrees.", req.value)
	case req.action == "lock" && d.Type == "lock":
		d.State = "locked"
		return fmt.Sprintf("I've locked the %s.", d.Location)
	case req.action == "unlock" && d.Type == "lock":
		d.State = "unlocked"
		return fmt.Sprintf("I've unlocked the %s.", d.Location)
	case req.action == "toggle" && d.Type == "light":
		if d.State == "on" {
			d.State = "off"
		} else {
			d.State = "on"
		}
		return fmt.Sprintf("I've turned %s the %s %s.", d.State, d.Location, d.Type)
	case req.action == "toggle":
		return fmt.Sprintf("I can't toggle the %s. Please specify on or off.", d.Type)
	case req.action == "":
		return fmt.Sprintf("What would you like me to do with the %s %s?", d.Location, d.Type)
	}
	return fmt.Sprintf("I'm not sure how to %s the %s.", req.action, d.Type)
}

// Devices returns a copy of the device table.
func (c *DeviceController) Devices() []Device {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Device, len(c.devices))
	for i, d := range c.devices {
		out[i] = *d
	}
	return out
}

// InformationDesk answers time, date, weather and status questions.
// Weather is simulated.
type InformationDesk struct {
	now     func() time.Time
	started time.Time
}

// NewInformationDesk creates a desk reading the clock from now.
func NewInformationDesk(now func() time.Time) *InformationDesk {
	return &InformationDesk{now: now, started: now()}
}

var (
	timeRe     = regexp.MustCompile(`what time|current time|time is it`)
	dateRe     = regexp.MustCompile(`what date|today's date|current date|what day`)
	weatherRe  = regexp.MustCompile(`weather|forecast|rain|sunny|cloudy`)
	statusRe   = regexp.MustCompile(`system status|how are you|\bstatus\b|\bhealth\b`)
	locationRe = regexp.MustCompile(`\b(?:in|at|for) ([a-z][a-z ]*[a-z])`)
)

func (d *InformationDesk) Execute(_ context.Context, params Params) (*Result, error) {
	msg := strings.ToLower(strings.TrimSpace(params.String("message")))
	now := d.now()

	switch {
	case timeRe.MatchString(msg):
		t := now.Format("03:04 PM")
		return &Result{
			Text: fmt.Sprintf("The current time is %s.", t),
			Data: map[string]any{"time": t, "24_hour": now.Format("15:04"), "timezone": now.Location().String()},
		}, nil
	case dateRe.MatchString(msg):
		date := now.Format("Monday, January 02, 2006")
		return &Result{
			Text: fmt.Sprintf("Today is %s.", date),
			Data: map[string]any{
				"date":        date,
				"iso_date":    now.Format("2006-01-02"),
				"day_of_week": now.Weekday().String(),
				"day_of_year": now.YearDay(),
			},
		}, nil
	case weatherRe.MatchString(msg):
		return d.weather(msg), nil
	case statusRe.MatchString(msg):
		uptime := now.Sub(d.started)
		return &Result{
			Text: fmt.Sprintf("I'm operating normally and ready to assist you. All systems are functioning properly. I've been active for %s.",
				uptime.Round(time.Second)),
			Data: map[string]any{
				"status":         "operational",
				"uptime_seconds": int64(uptime.Seconds()),
				"last_check":     now.Format(time.RFC3339),
			},
		}, nil
	case strings.Contains(msg, "jarvis") || strings.Contains(msg, "yourself"):
		return &Result{
			Text: "I'm JARVIS, your AI assistant. I can help you control smart home devices, answer questions, provide information, and assist with various tasks.",
			Data: map[string]any{"name": "JARVIS", "capabilities": []string{"device_control", "information_retrieval", "task_assistance"}},
		}, nil
	case strings.Contains(msg, "capabilities") || strings.Contains(msg, "what can you do"):
		return &Result{
			Text: "I can control smart home devices (lights, thermostat, locks, security), tell you the time, date and weather, report system status, and answer general questions.",
		}, nil
	}
	return &Result{
		Text: "I'd be happy to help with that. Could you give me more detail? I can assist with device control, weather, time, system status and general questions.",
		Data: map[string]any{"suggestion": "Try 'What's the weather?', 'What time is it?' or 'Turn on the lights'."},
	}, nil
}

func (d *InformationDesk) weather(msg string) *Result {
	location := "your location"
	if m := locationRe.FindStringSubmatch(msg); m != nil {
		location = m[1]
	}
	const (
		temperature = 72
		condition   = "partly cloudy"
		humidity    = 65
		windSpeed   = 8
	)
	return &Result{
		Text: fmt.Sprintf("The weather in %s is currently %s with a temperature of %d°F. Humidity is at %d%% with winds at %d mph.",
			location, condition, temperature, humidity, windSpeed),
		Data: map[string]any{
			"location":    location,
			"temperature": temperature,
			"condition":   condition,
			"humidity":    humidity,
			"wind_speed":  windSpeed,
			"unit":        "fahrenheit",
		},
	}
}
