package main

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/dcui26/multiagent-coding-assistant/internal/metrics"
	"github.com/dcui26/multiagent-coding-assistant/internal/server"
)

func newServeCmd(a *app) *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the HTTP API",
		Long: `Serve the HTTP API. Submitted runs share one workspace and execute one
at a time.

Endpoints:
  GET  /health
  POST /runs                {"request": "..."}
  GET  /runs/{id}
  GET  /runs/{id}/events    (server-sent events)
  POST /runs/{id}/cancel
  GET  /runs/{id}/context
  GET  /metrics`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := a.loadConfig()
			if err != nil {
				return err
			}
			if addr != "" {
				cfg.Server.Addr = addr
			}
			m := metrics.New(prometheus.NewRegistry())
			asst, logger, err := a.newAssistant(cfg, m)
			if err != nil {
				return err
			}
			defer func() { _ = logger.Sync() }()

			srv := server.New(server.Config{
				Addr:    cfg.Server.Addr,
				Metrics: m.Handler(),
				Logger:  logger,
			}, asst)
			return srv.ListenAndServe()
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (overrides config)")
	return cmd
}
