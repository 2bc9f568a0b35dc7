package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"sifter/internal/api"
	"sifter/internal/config"
	"sifter/internal/events"
	"sifter/internal/session"
	"sifter/internal/workflow"
)

func newSessionCommand(ctx *commandContext) *cobra.Command {
	sessionCmd := &cobra.Command{
		Use:     "session",
		Aliases: []string{"sessions"},
		Short:   "Create, run and inspect sessions",
	}
	sessionCmd.AddCommand(newSessionCreateCommand(ctx))
	sessionCmd.AddCommand(newSessionRunCommand(ctx))
	sessionCmd.AddCommand(newSessionListCommand(ctx))
	sessionCmd.AddCommand(newSessionShowCommand(ctx))
	sessionCmd.AddCommand(newSessionDeleteCommand(ctx))
	sessionCmd.AddCommand(newSessionFinalizeCommand(ctx))
	sessionCmd.AddCommand(newSessionDownloadCommand(ctx))
	sessionCmd.AddCommand(newSessionRecoverCommand(ctx))
	return sessionCmd
}

func newSessionCreateCommand(ctx *commandContext) *cobra.Command {
	var req workflow.CreateRequest
	var run bool

	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a session from a spreadsheet",
		RunE: func(cmd *cobra.Command, args []string) error {
			if !strings.HasPrefix(req.SourceLocator, "data:") && !strings.HasPrefix(req.SourceLocator, "base64:") && req.SourceLocator != "" {
				expanded, err := config.ExpandPath(req.SourceLocator)
				if err != nil {
					return err
				}
				req.SourceLocator = expanded
			}
			return ctx.withApp(cmd, func(a *app) error {
				sess, err := a.engine.CreateSession(cmd.Context(), req)
				if err != nil {
					return err
				}
				if !run {
					if ctx.jsonFlag {
						return writeJSON(cmd, api.FromSession(sess, false))
					}
					fmt.Fprintf(cmd.OutOrStdout(), "Created session %q (%s): %d rows, chunk size %d\n",
						sess.Name, sess.ID, sess.TotalRows, sess.ChunkSize)
					return nil
				}
				return runSession(cmd, ctx, a, sess.ID)
			})
		},
	}

	cmd.Flags().StringVarP(&req.SourceLocator, "source", "s", "", "Spreadsheet path or inline data:/base64: payload")
	cmd.Flags().StringVarP(&req.Topic, "topic", "t", "", "Topic the keywords are filtered against")
	cmd.Flags().StringVarP(&req.Name, "name", "n", "", "Session name (generated when empty)")
	cmd.Flags().IntVar(&req.ChunkSize, "chunk-size", 0, "Rows per analyzer call (50, 100, 200 or 500 suggested)")
	cmd.Flags().StringVar(&req.OwnerID, "owner", "", "Owner id recorded on the session")
	cmd.Flags().StringVar(&req.ModelID, "model", "", "Model id recorded on the session")
	cmd.Flags().BoolVar(&run, "run", false, "Run the session right after creating it")
	_ = cmd.MarkFlagRequired("source")
	_ = cmd.MarkFlagRequired("topic")
	return cmd
}

func newSessionRunCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "run <id|name>",
		Short: "Run or resume a session",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withApp(cmd, func(a *app) error {
				return runSession(cmd, ctx, a, args[0])
			})
		},
	}
}

// runSession prints events until the run ends. A failed or cancelled run is
// reported as an error so the exit status reflects it.
func runSession(cmd *cobra.Command, ctx *commandContext, a *app, ref string) error {
	runCtx := cmd.Context()
	if runCtx == nil {
		runCtx = context.Background()
	}
	stream, err := a.engine.Run(runCtx, ref)
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	colorize := !ctx.jsonFlag && shouldColorize(out)

	var last events.Event
	for evt := range stream {
		last = evt
		if ctx.jsonFlag {
			if err := writeJSONLine(out, evt); err != nil {
				return err
			}
			continue
		}
		fmt.Fprintln(out, renderEvent(evt, colorize))
	}

	switch last.Type {
	case events.TypeFailed:
		return fmt.Errorf("session failed: %s", last.Error)
	case events.TypeCancelled:
		return context.Canceled
	}
	return nil
}

func newSessionListCommand(ctx *commandContext) *cobra.Command {
	var owner string
	var limit int

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List sessions",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withApp(cmd, func(a *app) error {
				list, err := a.engine.ListSessions(cmd.Context(), owner, limit)
				if err != nil {
					return err
				}
				if ctx.jsonFlag {
					out := make([]api.Session, 0, len(list))
					for _, sess := range list {
						out = append(out, api.FromSession(sess, a.engine.Running(sess.ID)))
					}
					return writeJSON(cmd, out)
				}
				if len(list) == 0 {
					fmt.Fprintln(cmd.OutOrStdout(), "No sessions")
					return nil
				}
				fmt.Fprintln(cmd.OutOrStdout(), renderSessionTable(list))
				return nil
			})
		},
	}

	cmd.Flags().StringVar(&owner, "owner", "", "Only sessions of this owner")
	cmd.Flags().IntVar(&limit, "limit", 50, "Maximum sessions to list")
	return cmd
}

func renderSessionTable(list []*session.Session) string {
	rows := make([][]string, 0, len(list))
	for _, sess := range list {
		rows = append(rows, []string{
			sess.ID,
			sess.Name,
			string(sess.Status),
			fmt.Sprintf("%.0f%%", sess.Progress()),
			strconv.Itoa(sess.TotalAccepted),
			strconv.Itoa(sess.FailedChunks),
			sess.UpdatedAt.Local().Format("2006-01-02 15:04"),
		})
	}
	return renderTable([]column{
		{title: "ID"},
		{title: "Name", maxWidth: 48},
		{title: "Status"},
		{title: "Progress", numeric: true},
		{title: "Accepted", numeric: true},
		{title: "Failed", numeric: true},
		{title: "Updated"},
	}, rows)
}

func newSessionShowCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "show <id|name>",
		Short: "Show session details",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withApp(cmd, func(a *app) error {
				sess, err := a.engine.GetSession(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				running := a.engine.Running(sess.ID)
				if ctx.jsonFlag {
					return writeJSON(cmd, api.FromSession(sess, running))
				}
				printSession(cmd.OutOrStdout(), sess, running)
				return nil
			})
		},
	}
}

func printSession(out io.Writer, sess *session.Session, running bool) {
	fields := [][2]string{
		{"ID", sess.ID},
		{"Name", sess.Name},
		{"Status", string(sess.Status)},
		{"Running", yesNo(running)},
		{"Topic", sess.Topic},
		{"Source", sess.SourceLocator},
		{"Original file", sess.OriginalFilename},
		{"Chunk size", strconv.Itoa(sess.ChunkSize)},
		{"Progress", fmt.Sprintf("%d/%d rows (%.1f%%)", sess.NextCursor, sess.TotalRows, sess.Progress())},
		{"Accepted", strconv.Itoa(sess.TotalAccepted)},
		{"Failed chunks", strconv.Itoa(sess.FailedChunks)},
		{"Results", sess.ResultLocator},
		{"Error", sess.ErrorMessage},
		{"Owner", sess.OwnerID},
		{"Model", sess.ModelID},
		{"Created", sess.CreatedAt.Local().Format(time.DateTime)},
		{"Updated", sess.UpdatedAt.Local().Format(time.DateTime)},
	}
	if sess.CompletedAt != nil {
		fields = append(fields, [2]string{"Completed", sess.CompletedAt.Local().Format(time.DateTime)})
	}
	for _, field := range fields {
		if field[1] == "" {
			continue
		}
		fmt.Fprintf(out, "%-14s %s\n", field[0]+":", field[1])
	}
}

func newSessionDeleteCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "delete <id|name>",
		Short: "Delete a session (the results file is kept)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withApp(cmd, func(a *app) error {
				sess, err := a.engine.GetSession(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				if err := a.engine.DeleteSession(cmd.Context(), sess.ID); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Deleted session %q (%s)\n", sess.Name, sess.ID)
				return nil
			})
		},
	}
}

func newSessionFinalizeCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "finalize <id|name>",
		Short: "Mark a fully processed session completed and print its summary",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withApp(cmd, func(a *app) error {
				summary, err := a.engine.Finalize(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				if ctx.jsonFlag {
					return writeJSON(cmd, api.FromSummary(summary))
				}
				out := cmd.OutOrStdout()
				fmt.Fprintf(out, "Status:        %s\n", summary.Status)
				fmt.Fprintf(out, "Rows:          %d\n", summary.TotalRows)
				fmt.Fprintf(out, "Accepted:      %d\n", summary.TotalAccepted)
				fmt.Fprintf(out, "Failed chunks: %d\n", summary.FailedChunks)
				fmt.Fprintf(out, "Results:       %s (%d bytes)\n", summary.ResultLocator, summary.ArtifactBytes)
				return nil
			})
		},
	}
}

func newSessionDownloadCommand(ctx *commandContext) *cobra.Command {
	var output string

	cmd := &cobra.Command{
		Use:   "download <id|name>",
		Short: "Copy the results workbook",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withApp(cmd, func(a *app) error {
				sess, err := a.engine.GetSession(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				src, err := a.engine.ResultPath(cmd.Context(), sess.ID)
				if err != nil {
					return err
				}
				target := strings.TrimSpace(output)
				if target == "" {
					target = "processed_keywords_" + sess.ID + ".xlsx"
				}
				if target, err = config.ExpandPath(target); err != nil {
					return err
				}
				written, err := copyFile(src, target)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Wrote %s (%d bytes)\n", target, written)
				return nil
			})
		},
	}

	cmd.Flags().StringVarP(&output, "output", "o", "", "Destination path")
	return cmd
}

func copyFile(src, dst string) (int64, error) {
	in, err := os.Open(src)
	if err != nil {
		return 0, fmt.Errorf("open results: %w", err)
	}
	defer in.Close()
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return 0, fmt.Errorf("create output directory: %w", err)
	}
	out, err := os.Create(dst)
	if err != nil {
		return 0, fmt.Errorf("create output: %w", err)
	}
	written, copyErr := io.Copy(out, in)
	closeErr := out.Close()
	if err := errors.Join(copyErr, closeErr); err != nil {
		return 0, fmt.Errorf("write output: %w", err)
	}
	return written, nil
}

func newSessionRecoverCommand(ctx *commandContext) *cobra.Command {
	var resume bool

	cmd := &cobra.Command{
		Use:   "recover",
		Short: "List interrupted sessions, optionally resuming them",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withApp(cmd, func(a *app) error {
				stale, err := a.engine.RecoverStale(cmd.Context())
				if err != nil {
					return err
				}
				if ctx.jsonFlag && !resume {
					out := make([]api.Session, 0, len(stale))
					for _, sess := range stale {
						out = append(out, api.FromSession(sess, false))
					}
					return writeJSON(cmd, out)
				}
				if len(stale) == 0 {
					fmt.Fprintln(cmd.OutOrStdout(), "No interrupted sessions")
					return nil
				}
				if !resume {
					fmt.Fprintln(cmd.OutOrStdout(), renderSessionTable(stale))
					return nil
				}
				var errs []error
				for _, sess := range stale {
					fmt.Fprintf(cmd.OutOrStdout(), "Resuming %q (%s)\n", sess.Name, sess.ID)
					if err := runSession(cmd, ctx, a, sess.ID); err != nil {
						if errors.Is(err, context.Canceled) {
							return err
						}
						errs = append(errs, fmt.Errorf("%s: %w", sess.ID, err))
					}
				}
				return errors.Join(errs...)
			})
		},
	}

	cmd.Flags().BoolVar(&resume, "resume", false, "Run each interrupted session to completion")
	return cmd
}
