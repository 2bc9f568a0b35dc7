package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"sifter/internal/api"
	"sifter/internal/preflight"
)

func newStatusCommand(ctx *commandContext) *cobra.Command {
	var checkLLM bool

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show session counts and readiness checks",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withApp(cmd, func(a *app) error {
				stats, err := a.engine.Stats(cmd.Context())
				if err != nil {
					return err
				}
				checks := preflight.RunAll(cmd.Context(), a.cfg, preflight.Options{DB: a.db, SkipLLM: !checkLLM})
				if ctx.jsonFlag {
					return writeJSON(cmd, api.StatusResponse{
						Sessions: api.StatsMap(stats),
						Checks:   checks,
						Ready:    len(preflight.Failed(checks)) == 0,
					})
				}

				out := cmd.OutOrStdout()
				colorize := shouldColorize(out)
				for _, line := range renderSectionHeader("Sessions", colorize) {
					fmt.Fprintln(out, line)
				}
				fmt.Fprintln(out, renderTable([]column{
					{title: "Total", numeric: true},
					{title: "Pending", numeric: true},
					{title: "Processing", numeric: true},
					{title: "Completed", numeric: true},
					{title: "Failed", numeric: true},
				}, [][]string{{
					fmt.Sprint(stats.Total), fmt.Sprint(stats.Pending), fmt.Sprint(stats.Processing),
					fmt.Sprint(stats.Completed), fmt.Sprint(stats.Failed),
				}}))
				fmt.Fprintln(out)
				for _, line := range renderSectionHeader("Checks", colorize) {
					fmt.Fprintln(out, line)
				}
				for _, check := range checks {
					kind := statusOK
					if !check.Passed {
						kind = statusError
					}
					fmt.Fprintln(out, renderStatusLine(check.Name, kind, check.Detail, colorize))
				}
				if !checkLLM {
					fmt.Fprintln(out, renderStatusLine("Analyzer LLM", statusInfo, "skipped (use --llm)", colorize))
				}
				return nil
			})
		},
	}

	cmd.Flags().BoolVar(&checkLLM, "llm", false, "Include an LLM round trip")
	return cmd
}
