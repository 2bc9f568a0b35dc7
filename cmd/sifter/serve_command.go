package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"sifter/internal/api"
	"sifter/internal/logging"
	"sifter/internal/preflight"
)

func newServeCommand(ctx *commandContext) *cobra.Command {
	var bind string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			if bind != "" {
				cfg.Paths.APIBind = bind
			}
			logger, err := logging.NewFromConfig(cfg)
			if err != nil {
				return fmt.Errorf("init logger: %w", err)
			}

			runCtx := cmd.Context()
			a, err := buildApp(runCtx, cfg, logger, appOptions{newAnalyzer: ctx.newAnalyzer, connectNATS: true})
			if err != nil {
				return err
			}
			defer a.Close()

			for _, check := range preflight.Failed(preflight.RunAll(runCtx, cfg, preflight.Options{DB: a.db, SkipLLM: true})) {
				logging.WarnWithContext(logger, "preflight check failed", "preflight_failed",
					logging.String("check", check.Name),
					logging.String("detail", check.Detail),
					logging.String(logging.FieldErrorHint, "run `sifter status` for details"),
					logging.String(logging.FieldImpact, "sessions touching this resource may fail"),
				)
			}

			stale, err := a.engine.RecoverStale(runCtx)
			if err != nil {
				logging.WarnWithContext(logger, "stale session scan failed", "recover_failed",
					logging.Error(err),
					logging.String(logging.FieldErrorHint, "check database connectivity"),
					logging.String(logging.FieldImpact, "interrupted sessions are not listed"),
				)
			}
			for _, sess := range stale {
				logger.Info("interrupted session can be resumed",
					logging.SessionID(sess.ID),
					logging.String("name", sess.Name),
					logging.Int("next_cursor", sess.NextCursor),
				)
			}

			server, err := api.NewServer(cfg, api.Dependencies{
				Engine:   a.engine,
				Settings: a.settings,
				Hub:      a.hub,
				DB:       a.db,
				Logger:   logger,
			})
			if err != nil {
				return err
			}
			if err := server.Start(runCtx); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Listening on %s\n", server.Addr())

			<-runCtx.Done()
			server.Stop()
			a.logUsage()
			logger.Info("sifter shutting down")
			return nil
		},
	}

	cmd.Flags().StringVar(&bind, "bind", "", "Override paths.api_bind")
	return cmd
}
