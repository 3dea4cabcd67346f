package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/nidhogg/jarvis-hub/internal/orchestrator"
	"github.com/nidhogg/jarvis-hub/internal/skill"
)

type clientFunc func() *hubClient

func send(ctx context.Context, c *hubClient, user, message string) (*orchestrator.Response, error) {
	var resp orchestrator.Response
	err := c.do(ctx, http.MethodPost, "/api/chat", orchestrator.Request{Message: message, UserID: user}, &resp)
	if err != nil {
		return nil, err
	}
	return &resp, nil
}

func printResponse(w io.Writer, r *orchestrator.Response, verbose bool) {
	fmt.Fprintln(w, r.Text)
	if !verbose {
		return
	}
	line := fmt.Sprintf("[%s confidence=%.2f latency=%.0fms", r.SkillUsed, r.Confidence, r.LatencyMS)
	if r.FallbackReason != "" {
		line += " reason=" + r.FallbackReason
	}
	if !r.Success {
		line += " degraded"
	}
	fmt.Fprintln(w, line+"]")
}

func newAskCmd(client clientFunc) *cobra.Command {
	var user string
	var verbose bool
	cmd := &cobra.Command{
		Use:   "ask <message>",
		Short: "Send one message and print the reply",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			resp, err := send(cmd.Context(), client(), user, strings.Join(args, " "))
			if err != nil {
				return err
			}
			printResponse(cmd.OutOrStdout(), resp, verbose)
			return nil
		},
	}
	cmd.Flags().StringVar(&user, "user", "cli-user", "user id for the request")
	cmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "show routing detail")
	return cmd
}

func newChatCmd(client clientFunc) *cobra.Command {
	var user string
	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Interactive chat session",
		RunE: func(cmd *cobra.Command, args []string) error {
			c := client()
			out := cmd.OutOrStdout()
			fmt.Fprintln(out, "JARVIS chat")
			fmt.Fprintf(out, "Server: %s | User: %s\n", c.base, user)
			fmt.Fprintln(out, "Type 'exit' or 'quit' to leave. Commands: /skills, /health")
			fmt.Fprintln(out, "---")

			scanner := bufio.NewScanner(cmd.InOrStdin())
			for {
				fmt.Fprint(out, "\n> ")
				if !scanner.Scan() {
					return scanner.Err()
				}
				input := strings.TrimSpace(scanner.Text())
				switch input {
				case "":
					continue
				case "exit", "quit":
					fmt.Fprintln(out, "Goodbye.")
					return nil
				case "/skills":
					if err := listSkills(cmd.Context(), c, out); err != nil {
						fmt.Fprintln(out, "error:", err)
					}
					continue
				case "/health":
					if err := showHealth(cmd.Context(), c, out); err != nil {
						fmt.Fprintln(out, "error:", err)
					}
					continue
				}

				resp, err := send(cmd.Context(), c, user, input)
				if err != nil {
					if errors.Is(cmd.Context().Err(), context.Canceled) {
						return nil
					}
					fmt.Fprintln(out, "error:", err)
					continue
				}
				printResponse(out, resp, true)
			}
		},
	}
	cmd.Flags().StringVar(&user, "user", "cli-user", "user id for the session")
	return cmd
}

func listSkills(ctx context.Context, c *hubClient, w io.Writer) error {
	var skills []orchestrator.SkillInfo
	if err := c.do(ctx, http.MethodGet, "/api/skills", nil, &skills); err != nil {
		return err
	}
	if len(skills) == 0 {
		fmt.Fprintln(w, "No skills loaded.")
		return nil
	}
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "NAME\tVERSION\tSTATUS\tKEYWORDS")
	for _, s := range skills {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", s.Name, s.Version, s.Status, strings.Join(s.Keywords, ","))
	}
	return tw.Flush()
}

func newSkillsCmd(client clientFunc) *cobra.Command {
	return &cobra.Command{
		Use:   "skills",
		Short: "List registered skills and their circuit status",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return listSkills(cmd.Context(), client(), cmd.OutOrStdout())
		},
	}
}

func newReloadCmd(client clientFunc) *cobra.Command {
	return &cobra.Command{
		Use:   "reload",
		Short: "Re-read the hub's skill directory",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			var report skill.LoadReport
			if err := client().do(cmd.Context(), http.MethodPost, "/api/skills/reload", nil, &report); err != nil {
				return err
			}
			printReport(cmd.OutOrStdout(), &report)
			return nil
		},
	}
}

func newResetCmd(client clientFunc) *cobra.Command {
	var all bool
	cmd := &cobra.Command{
		Use:   "reset [skill]",
		Short: "Close a skill's circuit breaker",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var path, scope string
			switch {
			case all && len(args) == 0:
				path, scope = "/api/breakers/reset", "all circuits"
			case !all && len(args) == 1:
				path, scope = "/api/breakers/"+url.PathEscape(args[0])+"/reset", args[0]
			default:
				return errors.New("give exactly one of a skill name or --all")
			}
			if err := client().do(cmd.Context(), http.MethodPost, path, nil, nil); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Reset %s.\n", scope)
			return nil
		},
	}
	cmd.Flags().BoolVar(&all, "all", false, "reset every circuit")
	return cmd
}

func showHealth(ctx context.Context, c *hubClient, w io.Writer) error {
	var st orchestrator.Status
	if err := c.do(ctx, http.MethodGet, "/api/system/status", nil, &st); err != nil {
		return err
	}
	fmt.Fprintf(w, "Status:   %s\n", st.Status)
	fmt.Fprintf(w, "Skills:   %d loaded\n", st.SkillsLoaded)
	fallback := "not configured"
	if st.FallbackAvailable {
		fallback = st.FallbackModel
	}
	fmt.Fprintf(w, "Fallback: %s\n", fallback)
	if len(st.Breakers) == 0 {
		return nil
	}
	fmt.Fprintln(w, "Breakers:")
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	for _, b := range st.Breakers {
		fmt.Fprintf(tw, "  %s\t%s\t%d failures\n", b.Skill, b.Phase, b.Failures)
	}
	return tw.Flush()
}

func newHealthCmd(client clientFunc) *cobra.Command {
	return &cobra.Command{
		Use:   "health",
		Short: "Show hub health and breaker detail",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return showHealth(cmd.Context(), client(), cmd.OutOrStdout())
		},
	}
}

func printReport(w io.Writer, r *skill.LoadReport) {
	fmt.Fprintf(w, "Loaded %d skills from %s\n", r.Loaded, r.Dir)
	for _, name := range r.Skills {
		fmt.Fprintf(w, "  ok   %s\n", name)
	}
	for _, c := range r.Collisions {
		fmt.Fprintf(w, "  dup  %s (%s replaced %s)\n", c.Name, c.Kept, c.Replaced)
	}
	for _, e := range r.Errors {
		fmt.Fprintf(w, "  fail %s: %s\n", e.File, e.Reason)
	}
}
