package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"genrelay/internal/adapter/gateway"
)

func newServeCmd(g *globalFlags) *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Expose the dispatcher over HTTP",
		Long: `Start the HTTP gateway:

  POST /v1/generate   run one request through the chain
  GET  /v1/chain      the active preference chain
  GET  /v1/events     websocket stream of fallback and exhaustion events
  GET  /healthz       liveness
  GET  /metrics       prometheus metrics (when metrics.enabled)

Requests under /v1 need a bearer token when server.auth_tokens is set.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, cancel := signalContext(cmd.Context())
			defer cancel()

			a, err := newApp(ctx, g)
			if err != nil {
				return err
			}
			defer a.Close(context.Background())

			if addr == "" {
				addr = a.cfg.Server.Addr
			}
			deps := gateway.Deps{
				Generator: a.dispatcher,
				Chain:     chainEntries(a.chain),
				Bus:       a.bus,
				Auth:      gateway.NewTokenAuth(a.cfg.Server.AuthTokens),
				RateLimit: a.cfg.Server.RateLimit,
				Logger:    a.logger,
			}
			if a.metrics.Enabled() {
				deps.Metrics = a.metrics.Handler()
			}
			if len(a.cfg.Server.AuthTokens) == 0 {
				a.logger.Warn("gateway auth disabled: server.auth_tokens is empty")
			}

			return gateway.NewServer(addr, deps).Start(ctx)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "Listen address (default server.addr from config)")
	return cmd
}

// signalContext is cancelled on SIGINT or SIGTERM.
func signalContext(parent context.Context) (context.Context, context.CancelFunc) {
	if parent == nil {
		parent = context.Background()
	}
	return signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
}
