package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/ioannisbasmatzidis/code-assistant/pkg/chat"
	"github.com/ioannisbasmatzidis/code-assistant/pkg/config"
	"github.com/ioannisbasmatzidis/code-assistant/pkg/metrics"
)

type chatFlags struct {
	dumpMetrics bool
	noStream    bool
}

func newChatCmd(flags *globalFlags) *cobra.Command {
	cf := &chatFlags{}

	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Chat with the assistant in the terminal",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			settings, err := loadSettings(flags)
			if err != nil {
				return err
			}
			ctx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer cancel()

			return runChat(ctx, settings, flags, cf, os.Stdin, cmd.OutOrStdout(), cmd.ErrOrStderr(), appOptions{})
		},
	}

	cmd.Flags().BoolVar(&cf.dumpMetrics, "dump-metrics", false, "Print all metrics in Prometheus text format on exit")
	cmd.Flags().BoolVar(&cf.noStream, "no-stream", false, "Print answers only once they are complete")
	return cmd
}

func runChat(ctx context.Context, settings *config.Settings, flags *globalFlags, cf *chatFlags,
	in io.Reader, out, errOut io.Writer, opts appOptions,
) error {
	if opts.registry == nil {
		opts.registry = newRegistry()
	}
	usage := metrics.NewQueryService(opts.registry)
	repl := chat.NewREPL(in, out, chat.WithUsage(usage))

	opts.redactSecret = flags.redactSecrets
	if !cf.noStream {
		opts.stream = repl.StreamHandler()
	}
	a, err := newApp(ctx, settings, opts)
	if err != nil {
		return err
	}
	defer func() {
		if err := a.Close(); err != nil {
			a.logger.Warn("%v", err)
		}
	}()

	runErr := repl.Run(ctx, a.sessions)

	if cf.dumpMetrics {
		if err := usage.WriteText(errOut); err != nil {
			return fmt.Errorf("failed to dump metrics: %w", err)
		}
	}
	return runErr
}
