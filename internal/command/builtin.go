package command

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/nidhogg/jarvis-hub/internal/gateway"
	"github.com/nidhogg/jarvis-hub/internal/orchestrator"
	"github.com/nidhogg/jarvis-hub/internal/skill"
)

// Operator is the part of the orchestrator the built-in commands drive.
type Operator interface {
	Skills() []orchestrator.SkillInfo
	Health() orchestrator.Health
	Reload(ctx context.Context) (*skill.LoadReport, error)
	ResetBreaker(name string) error
	ResetAllBreakers()
}

// StatusProvider provides adapter connection status.
type StatusProvider interface {
	StatusAll() []gateway.AdapterStatus
}

// Forgetter erases stored conversation turns.
type Forgetter interface {
	ForgetUser(ctx context.Context, userID string) (int64, error)
}

// RegisterBuiltins registers /help, /skills, /status, /reset, /reload and,
// when status is non-nil, /gateway.
func RegisterBuiltins(reg *Registry, op Operator, status StatusProvider) {
	reg.Register(helpCommand(reg))
	reg.Register(skillsCommand(op))
	reg.Register(statusCommand(op))
	reg.Register(resetCommand(op))
	reg.Register(reloadCommand(op))
	if status != nil {
		reg.Register(gatewayCommand(status))
	}
}

// RegisterForget registers /forget, which erases the caller's history.
func RegisterForget(reg *Registry, f Forgetter) {
	reg.Register(&Command{
		Name:        "forget",
		Description: "Erase your conversation history",
		Usage:       "/forget",
		Handler: func(ctx context.Context, _ string, cc *CommandContext) (*CommandResult, error) {
			n, err := f.ForgetUser(ctx, cc.Platform+":"+cc.UserID)
			if err != nil {
				return nil, fmt.Errorf("forget %s: %w", cc.UserID, err)
			}
			if n == 0 {
				return &CommandResult{Content: "There was nothing to forget."}, nil
			}
			return &CommandResult{Content: fmt.Sprintf("Forgot %d messages.", n)}, nil
		},
	})
}

func helpCommand(reg *Registry) *Command {
	return &Command{
		Name:        "help",
		Description: "List all available commands",
		Usage:       "/help",
		Handler: func(_ context.Context, _ string, _ *CommandContext) (*CommandResult, error) {
			var b strings.Builder
			b.WriteString("Available commands:\n")
			for _, c := range reg.List() {
				fmt.Fprintf(&b, "  /%s: %s\n", c.Name, c.Description)
				if c.Usage != "" && c.Usage != "/"+c.Name {
					fmt.Fprintf(&b, "    Usage: %s\n", c.Usage)
				}
			}
			return &CommandResult{Content: b.String()}, nil
		},
	}
}

func skillsCommand(op Operator) *Command {
	return &Command{
		Name:        "skills",
		Description: "List available skills",
		Usage:       "/skills",
		Handler: func(_ context.Context, _ string, _ *CommandContext) (*CommandResult, error) {
			skills := op.Skills()
			if len(skills) == 0 {
				return &CommandResult{Content: "No skills registered yet."}, nil
			}
			var b strings.Builder
			b.WriteString("Available skills:\n")
			for _, s := range skills {
				fmt.Fprintf(&b, "  %s v%s", s.Name, s.Version)
				if s.Description != "" {
					fmt.Fprintf(&b, ": %s", s.Description)
				}
				if s.Status != orchestrator.StatusActive {
					fmt.Fprintf(&b, " [%s]", s.Status)
				}
				b.WriteByte('\n')
			}
			return &CommandResult{Content: b.String(), Data: skills}, nil
		},
	}
}

func statusCommand(op Operator) *Command {
	return &Command{
		Name:        "status",
		Description: "Show hub health",
		Usage:       "/status",
		Handler: func(_ context.Context, _ string, _ *CommandContext) (*CommandResult, error) {
			h := op.Health()
			fb := "unavailable"
			if h.FallbackAvailable {
				fb = "available"
			}
			return &CommandResult{
				Content: fmt.Sprintf("Hub is %s: %d skills loaded, %d open circuits, fallback %s.",
					h.Status, h.SkillsLoaded, h.OpenBreakers, fb),
				Data: h,
			}, nil
		},
	}
}

func resetCommand(op Operator) *Command {
	return &Command{
		Name:        "reset",
		Description: "Close a skill's circuit breaker",
		Usage:       "/reset <skill|all>",
		Handler: func(_ context.Context, args string, _ *CommandContext) (*CommandResult, error) {
			switch args {
			case "":
				return &CommandResult{Content: "Usage: /reset <skill|all>"}, nil
			case "all":
				op.ResetAllBreakers()
				return &CommandResult{Content: "All circuits reset."}, nil
			}
			if err := op.ResetBreaker(args); err != nil {
				if errors.Is(err, orchestrator.ErrUnknownSkill) {
					return &CommandResult{Content: fmt.Sprintf("No skill named %q.", args)}, nil
				}
				return nil, err
			}
			return &CommandResult{Content: fmt.Sprintf("Circuit for %s reset.", args)}, nil
		},
	}
}

func reloadCommand(op Operator) *Command {
	return &Command{
		Name:        "reload",
		Description: "Reload skill descriptors",
		Usage:       "/reload",
		Handler: func(ctx context.Context, _ string, _ *CommandContext) (*CommandResult, error) {
			report, err := op.Reload(ctx)
			if err != nil {
				return nil, err
			}
			content := fmt.Sprintf("Reloaded %d skills.", report.Loaded)
			if n := len(report.Errors); n > 0 {
				content += fmt.Sprintf(" %d descriptor(s) rejected.", n)
			}
			return &CommandResult{Content: content, Data: report}, nil
		},
	}
}

func gatewayCommand(status StatusProvider) *Command {
	return &Command{
		Name:        "gateway",
		Description: "Show chat adapter connection status",
		Usage:       "/gateway",
		Handler: func(_ context.Context, _ string, _ *CommandContext) (*CommandResult, error) {
			adapters := status.StatusAll()
			if len(adapters) == 0 {
				return &CommandResult{Content: "No adapters configured."}, nil
			}
			var b strings.Builder
			b.WriteString("Adapter status:\n")
			for _, a := range adapters {
				state := "disconnected"
				if a.Connected {
					state = "connected"
				}
				fmt.Fprintf(&b, "  %s: %s", a.Platform, state)
				if a.Error != "" {
					fmt.Fprintf(&b, " (%s)", a.Error)
				}
				b.WriteByte('\n')
			}
			return &CommandResult{Content: b.String()}, nil
		},
	}
}

// Bind adapts the registry to the gateway bridge.
func (r *Registry) Bind() gateway.CommandFunc {
	return func(ctx context.Context, msg *gateway.InboundMessage) (string, error) {
		res, err := r.Dispatch(ctx, msg.Content, &CommandContext{
			Platform:  msg.Platform,
			ChannelID: msg.ChannelID,
			UserID:    msg.UserID,
		})
		if err != nil {
			return "", err
		}
		return res.Content, nil
	}
}
