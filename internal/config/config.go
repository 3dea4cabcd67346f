package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"regexp"
	"time"
)

// DefaultPath is used when CONFIG_PATH is not set.
const DefaultPath = "configs/jarvis.json"

// Config is the top-level configuration structure.
type Config struct {
	Server   ServerConfig   `json:"server"`
	Skills   SkillsConfig   `json:"skills"`
	Breaker  BreakerConfig  `json:"breaker"`
	Router   RouterConfig   `json:"router"`
	Fallback FallbackConfig `json:"fallback"`
	Database DatabaseConfig `json:"database"`
	Gateway  GatewayConfig  `json:"gateway"`
}

type ServerConfig struct {
	Port     int    `json:"port"`
	LogLevel string `json:"log_level"`
	Dev      bool   `json:"dev"`
	// RequestTimeoutSeconds bounds one chat request end to end.
	RequestTimeoutSeconds float64 `json:"request_timeout_seconds"`
}

type SkillsConfig struct {
	Dir                     string  `json:"dir"`
	ExecutionTimeoutSeconds float64 `json:"execution_timeout_seconds"`
}

type BreakerConfig struct {
	FailureThreshold    int     `json:"failure_threshold"`
	ResetTimeoutSeconds float64 `json:"reset_timeout_seconds"`
}

type RouterConfig struct {
	MinConfidence float64 `json:"min_confidence"`
}

type FallbackConfig struct {
	Model                 string           `json:"model"`
	MaxTokens             int              `json:"max_tokens"`
	Temperature           float64          `json:"temperature"`
	MaxHistory            int              `json:"max_history"`
	HistoryTokens         int              `json:"history_tokens"`
	MaxRetries            *int             `json:"max_retries"`
	InitialBackoffSeconds float64          `json:"initial_backoff_seconds"`
	MaxBackoffSeconds     float64          `json:"max_backoff_seconds"`
	RatePerSecond         float64          `json:"rate_per_second"`
	RateBurst             int              `json:"rate_burst"`
	Providers             []ProviderConfig `json:"providers"`
}

type ProviderConfig struct {
	ID             string            `json:"id"`
	Type           string            `json:"type"`
	Name           string            `json:"name"`
	Endpoint       string            `json:"endpoint"`
	APIKey         string            `json:"api_key"`
	Models         []string          `json:"models,omitempty"`
	Extra          map[string]string `json:"extra,omitempty"`
	TimeoutSeconds float64           `json:"timeout_seconds,omitempty"`
}

type DatabaseConfig struct {
	Postgres PostgresConfig `json:"postgres"`
	Redis    RedisConfig    `json:"redis"`
}

type PostgresConfig struct {
	DSN string `json:"dsn"`
}

type RedisConfig struct {
	URL string `json:"url"`
}

type GatewayConfig struct {
	Slack       SlackGatewayConfig   `json:"slack"`
	Discord     DiscordGatewayConfig `json:"discord"`
	Concurrency int                  `json:"concurrency"`
}

type SlackGatewayConfig struct {
	Enabled  bool   `json:"enabled"`
	BotToken string `json:"bot_token"`
	AppToken string `json:"app_token"`
}

type DiscordGatewayConfig struct {
	Enabled  bool   `json:"enabled"`
	BotToken string `json:"bot_token"`
}

// envVarRe matches ${VAR} and ${VAR:default} patterns.
var envVarRe = regexp.MustCompile(`\$\{(\w+)(?::([^}]*))?\}`)

// Expand substitutes ${VAR} and ${VAR:default} with environment values.
func Expand(s string) string {
	return envVarRe.ReplaceAllStringFunc(s, func(match string) string {
		parts := envVarRe.FindStringSubmatch(match)
		if v := os.Getenv(parts[1]); v != "" {
			return v
		}
		return parts[2]
	})
}

// Load reads a JSON config file, substitutes environment variable
// references, applies defaults and validates the result.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}
	return Parse(data)
}

// Parse decodes raw config JSON the same way Load does.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := json.Unmarshal([]byte(Expand(string(data))), &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Default returns a config with every default applied.
func Default() *Config {
	var cfg Config
	cfg.applyDefaults()
	return &cfg
}

func (c *Config) applyDefaults() {
	if c.Server.Port == 0 {
		c.Server.Port = 8080
	}
	if c.Server.LogLevel == "" {
		c.Server.LogLevel = "info"
	}
	if c.Server.RequestTimeoutSeconds == 0 {
		c.Server.RequestTimeoutSeconds = 30
	}
	if c.Skills.Dir == "" {
		c.Skills.Dir = "skills"
	}
	if c.Skills.ExecutionTimeoutSeconds == 0 {
		c.Skills.ExecutionTimeoutSeconds = 10
	}
	if c.Breaker.FailureThreshold == 0 {
		c.Breaker.FailureThreshold = 3
	}
	if c.Breaker.ResetTimeoutSeconds == 0 {
		c.Breaker.ResetTimeoutSeconds = 30
	}
	if c.Router.MinConfidence == 0 {
		c.Router.MinConfidence = 0.01
	}
	if c.Fallback.Model == "" {
		c.Fallback.Model = "gpt-4o-mini"
	}
	if c.Fallback.MaxTokens == 0 {
		c.Fallback.MaxTokens = 500
	}
	if c.Fallback.Temperature == 0 {
		c.Fallback.Temperature = 0.7
	}
	if c.Fallback.MaxHistory == 0 {
		c.Fallback.MaxHistory = 10
	}
	if c.Fallback.MaxRetries == nil {
		retries := 2
		c.Fallback.MaxRetries = &retries
	}
	if c.Fallback.InitialBackoffSeconds == 0 {
		c.Fallback.InitialBackoffSeconds = 0.5
	}
	if c.Fallback.MaxBackoffSeconds == 0 {
		c.Fallback.MaxBackoffSeconds = 5
	}
	if c.Gateway.Concurrency == 0 {
		c.Gateway.Concurrency = 8
	}
}

// Validate rejects values no component can work with.
func (c *Config) Validate() error {
	var errs []error
	if c.Server.Port < 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("server.port %d out of range", c.Server.Port))
	}
	if c.Server.RequestTimeoutSeconds < 0 {
		errs = append(errs, errors.New("server.request_timeout_seconds must not be negative"))
	}
	if c.Skills.ExecutionTimeoutSeconds < 0 {
		errs = append(errs, errors.New("skills.execution_timeout_seconds must not be negative"))
	}
	if c.Breaker.FailureThreshold < 0 {
		errs = append(errs, errors.New("breaker.failure_threshold must not be negative"))
	}
	if c.Breaker.ResetTimeoutSeconds < 0 {
		errs = append(errs, errors.New("breaker.reset_timeout_seconds must not be negative"))
	}
	if c.Router.MinConfidence < 0 || c.Router.MinConfidence > 1 {
		errs = append(errs, fmt.Errorf("router.min_confidence %v outside [0,1]", c.Router.MinConfidence))
	}
	if c.Fallback.Temperature < 0 || c.Fallback.Temperature > 2 {
		errs = append(errs, fmt.Errorf("fallback.temperature %v outside [0,2]", c.Fallback.Temperature))
	}
	if c.Fallback.MaxRetries != nil && *c.Fallback.MaxRetries < 0 {
		errs = append(errs, errors.New("fallback.max_retries must not be negative"))
	}
	for i, p := range c.Fallback.Providers {
		switch p.Type {
		case "openai", "anthropic":
		default:
			errs = append(errs, fmt.Errorf("fallback.providers[%d]: unknown type %q", i, p.Type))
		}
	}
	if c.Gateway.Slack.Enabled && (c.Gateway.Slack.BotToken == "" || c.Gateway.Slack.AppToken == "") {
		errs = append(errs, errors.New("gateway.slack enabled without bot_token and app_token"))
	}
	if c.Gateway.Discord.Enabled && c.Gateway.Discord.BotToken == "" {
		errs = append(errs, errors.New("gateway.discord enabled without bot_token"))
	}
	if len(errs) > 0 {
		return fmt.Errorf("invalid config: %w", errors.Join(errs...))
	}
	return nil
}

// ConfiguredProviders returns the providers that carry a credential. A
// provider with an endpoint but no key is kept only when Extra["no_auth"]
// is "true", which is how local OpenAI-compatible servers are declared.
func (c FallbackConfig) ConfiguredProviders() []ProviderConfig {
	var out []ProviderConfig
	for _, p := range c.Providers {
		if p.APIKey != "" || p.Extra["no_auth"] == "true" {
			out = append(out, p)
		}
	}
	return out
}

func seconds(s float64) time.Duration { return time.Duration(s * float64(time.Second)) }

func (c ServerConfig) RequestTimeout() time.Duration   { return seconds(c.RequestTimeoutSeconds) }
func (c SkillsConfig) ExecutionTimeout() time.Duration { return seconds(c.ExecutionTimeoutSeconds) }
func (c BreakerConfig) ResetTimeout() time.Duration    { return seconds(c.ResetTimeoutSeconds) }
func (c FallbackConfig) InitialBackoff() time.Duration { return seconds(c.InitialBackoffSeconds) }
func (c FallbackConfig) MaxBackoff() time.Duration     { return seconds(c.MaxBackoffSeconds) }
func (p ProviderConfig) Timeout() time.Duration        { return seconds(p.TimeoutSeconds) }

// Retries returns max_retries; an explicit 0 disables retrying.
func (c FallbackConfig) Retries() int {
	if c.MaxRetries == nil {
		return 2
	}
	return *c.MaxRetries
}
