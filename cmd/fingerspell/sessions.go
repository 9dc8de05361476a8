package main

import (
	"errors"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/ayusman/fingerspell/internal/store"
)

const transcriptPreview = 40

func newSessionsCommand(ctx *commandContext) *cobra.Command {
	sessionsCmd := &cobra.Command{
		Use:   "sessions",
		Short: "Inspect recorded listening sessions",
	}

	sessionsCmd.AddCommand(newSessionsListCommand(ctx))
	sessionsCmd.AddCommand(newSessionsShowCommand(ctx))
	sessionsCmd.AddCommand(newSessionsDeleteCommand(ctx))

	return sessionsCmd
}

func newSessionsListCommand(ctx *commandContext) *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List recent sessions, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withStore(func(st *store.Store) error {
				sessions, err := st.Sessions().List(limit)
				if err != nil {
					return fmt.Errorf("list sessions: %w", err)
				}
				out := cmd.OutOrStdout()
				if len(sessions) == 0 {
					fmt.Fprintln(out, "No sessions recorded")
					return nil
				}
				fmt.Fprintln(out, renderSessions(sessions))
				return nil
			})
		},
	}

	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "Maximum number of sessions to show")
	return cmd
}

func newSessionsShowCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "show <id>",
		Short: "Show one session including its full transcript",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withStore(func(st *store.Store) error {
				sess, err := st.Sessions().GetByID(args[0])
				if errors.Is(err, store.ErrNotFound) {
					return fmt.Errorf("session %s not found", args[0])
				}
				if err != nil {
					return fmt.Errorf("get session: %w", err)
				}
				writeSession(cmd.OutOrStdout(), sess)
				return nil
			})
		},
	}
}

func newSessionsDeleteCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete a recorded session",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withStore(func(st *store.Store) error {
				err := st.Sessions().Delete(args[0])
				if errors.Is(err, store.ErrNotFound) {
					return fmt.Errorf("session %s not found", args[0])
				}
				if err != nil {
					return fmt.Errorf("delete session: %w", err)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Deleted session %s\n", args[0])
				return nil
			})
		},
	}
}

func renderSessions(sessions []*store.Session) string {
	rows := make([][]string, 0, len(sessions))
	for _, s := range sessions {
		rows = append(rows, []string{
			s.ID,
			s.StartedAt.Local().Format("2006-01-02 15:04:05"),
			formatDuration(s.Duration()),
			strconv.Itoa(s.Commits),
			strconv.Itoa(s.RecognitionErrors),
			strconv.Itoa(s.Disconnects),
			previewTranscript(s.Transcript),
		})
	}
	return renderTable(
		[]string{"ID", "Started", "Duration", "Commits", "Errors", "Disconnects", "Transcript"},
		rows,
		[]columnAlignment{alignLeft, alignLeft, alignRight, alignRight, alignRight, alignRight, alignLeft},
	)
}

func writeSession(w io.Writer, s *store.Session) {
	fmt.Fprintf(w, "Session:            %s\n", s.ID)
	fmt.Fprintf(w, "Started:            %s\n", s.StartedAt.Local().Format(time.RFC3339))
	fmt.Fprintf(w, "Ended:              %s\n", s.EndedAt.Local().Format(time.RFC3339))
	fmt.Fprintf(w, "Duration:           %s\n", formatDuration(s.Duration()))
	fmt.Fprintf(w, "Inference service:  %s\n", s.InferenceURL)
	fmt.Fprintf(w, "Commits:            %d\n", s.Commits)
	fmt.Fprintf(w, "Recognition errors: %d\n", s.RecognitionErrors)
	fmt.Fprintf(w, "Disconnects:        %d\n", s.Disconnects)
	fmt.Fprintf(w, "Transcript:         %q\n", s.Transcript)
}

// previewTranscript quotes the transcript so trailing spaces stay visible.
func previewTranscript(transcript string) string {
	r := []rune(transcript)
	if len(r) > transcriptPreview {
		return strconv.Quote(string(r[:transcriptPreview-1])+"…")
	}
	return strconv.Quote(transcript)
}

func formatDuration(d time.Duration) string {
	if d < time.Second {
		return d.Round(time.Millisecond).String()
	}
	return d.Round(time.Second).String()
}
