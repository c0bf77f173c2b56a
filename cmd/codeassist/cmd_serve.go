package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/ioannisbasmatzidis/code-assistant/pkg/config"
	"github.com/ioannisbasmatzidis/code-assistant/pkg/metrics"
	"github.com/ioannisbasmatzidis/code-assistant/pkg/webui"
)

func newServeCmd(flags *globalFlags) *cobra.Command {
	var (
		addr          string
		usageInterval time.Duration
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the chat HTTP API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			settings, err := loadSettings(flags)
			if err != nil {
				return err
			}
			listenAddr := settings.Server.Addr
			if addr != "" {
				if err := config.ValidateAddr("--addr", addr); err != nil {
					return err
				}
				listenAddr = addr
			}
			if flags.debug {
				gin.SetMode(gin.DebugMode)
			} else {
				gin.SetMode(gin.ReleaseMode)
			}

			ctx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer cancel()

			a, err := newApp(ctx, settings, appOptions{redactSecret: flags.redactSecrets})
			if err != nil {
				return err
			}
			defer func() {
				if err := a.Close(); err != nil {
					a.logger.Warn("%v", err)
				}
			}()

			serverOpts := []webui.Option{webui.WithGatherer(a.registry)}
			if a.ledger != nil {
				serverOpts = append(serverOpts, webui.WithRunStore(a.ledger))
			}
			server := webui.NewServer(a.sessions, serverOpts...)

			g, gctx := errgroup.WithContext(ctx)
			g.Go(func() error {
				return server.ListenAndServe(gctx, listenAddr)
			})
			if usageInterval > 0 {
				g.Go(func() error {
					reportUsage(gctx, a, usageInterval)
					return nil
				})
			}

			a.logger.Info("🚀 codeassist serving on http://%s", listenAddr)
			if err := g.Wait(); err != nil {
				return fmt.Errorf("serve failed: %w", err)
			}
			a.logger.Info("👋 codeassist stopped")
			return nil
		},
	}

	cmd.Flags().StringVar(&addr, "addr", "", "Listen address (overrides server.addr)")
	cmd.Flags().DurationVar(&usageInterval, "usage-log-interval", 15*time.Minute, "Log model token usage at this interval (0 disables)")
	return cmd
}

// reportUsage logs cumulative token usage until ctx is done.
func reportUsage(ctx context.Context, a *app, interval time.Duration) {
	q := metrics.NewQueryService(a.registry)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			total, err := q.GetTotals(ctx)
			if err != nil {
				a.logger.Warn("Failed to read usage metrics: %v", err)
				continue
			}
			a.logger.Info("📊 Model usage: %d requests (%d failed), %d prompt + %d completion tokens",
				total.Requests, total.Errors, total.PromptTokens, total.CompletionTokens)
		}
	}
}
