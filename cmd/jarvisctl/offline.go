package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/nidhogg/jarvis-hub/internal/orchestrator"
	"github.com/nidhogg/jarvis-hub/internal/skill"
)

func newValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate <dir>",
		Short: "Check a skill directory without a running hub",
		Long: `validate loads every descriptor in dir the way the hub does at startup
and reports each accepted skill, each duplicate name and each rejected file.
Descriptors whose action has no built-in handler are reported as rejected.
The command fails when any file is rejected.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			bindings := skill.NewBindings()
			skill.RegisterBuiltins(bindings)
			_, report, err := skill.Load(args[0], bindings, zap.NewNop())
			if err != nil {
				return err
			}
			printReport(cmd.OutOrStdout(), report)
			if n := len(report.Errors); n > 0 {
				return fmt.Errorf("%d descriptor(s) rejected", n)
			}
			return nil
		},
	}
}

func newEventsCmd() *cobra.Command {
	var redisURL, from string
	cmd := &cobra.Command{
		Use:   "events",
		Short: "Tail the hub event stream",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			bus, err := orchestrator.NewEventBus(redisURL, zap.NewNop())
			if err != nil {
				return err
			}
			defer bus.Close()

			enc := json.NewEncoder(cmd.OutOrStdout())
			for e := range bus.Subscribe(cmd.Context(), from) {
				if err := enc.Encode(e); err != nil {
					return err
				}
			}
			return nil
		},
	}
	def := os.Getenv("REDIS_URL")
	if def == "" {
		def = "redis://localhost:6379/0"
	}
	cmd.Flags().StringVar(&redisURL, "redis", def, "Redis URL of the hub event stream")
	cmd.Flags().StringVar(&from, "from", "$", `stream ID to start after ("0" replays everything)`)
	return cmd
}
