// Command jarvisctl talks to a running JARVIS hub and validates skill
// directories offline.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

const defaultServer = "http://localhost:8080"

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var server string
	root := &cobra.Command{
		Use:   "jarvisctl",
		Short: "Operate a JARVIS hub",
		Long: `jarvisctl sends chat requests to a JARVIS hub, inspects its skills and
circuit breakers, validates skill descriptor directories and tails the hub
event stream.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	env := os.Getenv("JARVIS_SERVER")
	if env == "" {
		env = defaultServer
	}
	root.PersistentFlags().StringVar(&server, "server", env, "hub base URL")

	client := func() *hubClient { return newHubClient(server) }
	root.AddCommand(
		newChatCmd(client),
		newAskCmd(client),
		newSkillsCmd(client),
		newReloadCmd(client),
		newResetCmd(client),
		newHealthCmd(client),
		newValidateCmd(),
		newEventsCmd(),
	)
	return root
}
