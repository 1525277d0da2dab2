package cmds

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"text/tabwriter"

	"github.com/go-go-golems/symposium/pkg/dialogue"
	"github.com/go-go-golems/symposium/pkg/session"
	"github.com/go-go-golems/symposium/pkg/store"
	"github.com/go-go-golems/symposium/pkg/transcript"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

func NewSessionsCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sessions",
		Short: "Manage saved dialogues",
	}
	cmd.AddCommand(
		newSessionsListCommand(),
		newSessionsShowCommand(),
		newSessionsResumeCommand(),
		newSessionsDeleteCommand(),
	)
	return cmd
}

// withManager opens the configured store for the duration of f.
func withManager(f func(m *session.Manager) error) error {
	env, err := loadEnvironment()
	if err != nil {
		return err
	}
	m, err := env.manager(managerConfig{})
	if err != nil {
		return err
	}
	defer func() {
		if err := m.Close(); err != nil {
			log.Warn().Err(err).Msg("could not close session store")
		}
	}()
	return f(m)
}

func newSessionsListCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List saved dialogues, most recent first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			match, _ := cmd.Flags().GetString("match")
			status, _ := cmd.Flags().GetString("status")
			limit, _ := cmd.Flags().GetInt("limit")
			output, _ := cmd.Flags().GetString("output")

			return withManager(func(m *session.Manager) error {
				list, err := m.List(cmd.Context(), store.Query{
					Match:  match,
					Status: dialogue.Status(status),
					Limit:  limit,
				})
				if err != nil {
					return err
				}
				return printSummaries(cmd.OutOrStdout(), list, output)
			})
		},
	}
	cmd.Flags().String("match", "", "Glob pattern matched against title and id")
	cmd.Flags().String("status", "", "Only list sessions with this status")
	cmd.Flags().Int("limit", 0, "Maximum number of sessions (0 for all)")
	cmd.Flags().StringP("output", "o", "table", "table, json or yaml")
	return cmd
}

func printSummaries(w io.Writer, list []store.Summary, output string) error {
	switch output {
	case "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		if list == nil {
			list = []store.Summary{}
		}
		return enc.Encode(list)
	case "yaml":
		return encodeYAML(w, list)
	case "table", "":
		tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
		_, _ = fmt.Fprintln(tw, "ID\tTITLE\tMODE\tSTATUS\tTURNS\tUPDATED")
		for _, s := range list {
			mode := string(s.Mode)
			if s.Kind != "" {
				mode += "/" + string(s.Kind)
			}
			_, _ = fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%d\t%s\n",
				s.ID, truncate(s.Title, 48), mode, s.Status, s.Turns, s.UpdatedAt.Local().Format("2006-01-02 15:04"))
		}
		return tw.Flush()
	default:
		return errors.Errorf("unknown output %q", output)
	}
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}

func newSessionsShowCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show ID",
		Short: "Print the transcript of a saved dialogue",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			raw, _ := cmd.Flags().GetBool("yaml")
			plain, _ := cmd.Flags().GetBool("plain")
			return withManager(func(m *session.Manager) error {
				snap, err := m.Session(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				if raw {
					b, err := transcript.ToYAML(snap)
					if err != nil {
						return err
					}
					_, err = cmd.OutOrStdout().Write(b)
					return err
				}
				newTurnPrinter(cmd.OutOrStdout(), plain).PrintTurns(snap, snap.Transcript)
				_, _ = fmt.Fprintf(cmd.ErrOrStderr(), "session %s: %s\n", snap.ID, snap.Status)
				return nil
			})
		},
	}
	cmd.Flags().Bool("yaml", false, "Print the raw session document")
	cmd.Flags().Bool("plain", false, "Do not style output")
	return cmd
}

func newSessionsResumeCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "resume ID",
		Short: "Continue a saved dialogue that has not ended",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			plain, _ := cmd.Flags().GetBool("plain")
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
			defer stop()

			return withManager(func(m *session.Manager) error {
				snap, err := m.Session(ctx, args[0])
				if err != nil {
					return err
				}
				if snap.Status.IsTerminal() {
					return errors.Errorf("session %s has already ended (%s)", snap.ID, snap.Status)
				}
				status, err := drive(ctx, m, snap.ID, newTurnPrinter(os.Stdout, plain), terminalInput(os.Stdin, os.Stderr))
				if err != nil {
					return err
				}
				_, _ = fmt.Fprintf(os.Stderr, "session %s: %s\n", snap.ID, status)
				return nil
			})
		},
	}
	cmd.Flags().Bool("plain", false, "Do not style output")
	return cmd
}

func newSessionsDeleteCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "delete ID...",
		Short: "Delete saved dialogues",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withManager(func(m *session.Manager) error {
				for _, id := range args {
					if err := m.Delete(cmd.Context(), id); err != nil {
						return err
					}
					_, _ = fmt.Fprintf(cmd.OutOrStdout(), "deleted %s\n", id)
				}
				return nil
			})
		},
	}
}
