package main

import (
	"github.com/spf13/cobra"

	"github.com/ioannisbasmatzidis/code-assistant/pkg/mcpserver"
)

func newMCPCmd(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "mcp",
		Short: "Serve coding_tool and assistant_chat over MCP on stdio",
		Long: `Runs a Model Context Protocol server on stdin/stdout so MCP clients can
hand programming tasks to the engineering crew. Logs go to stderr.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			settings, err := loadSettings(flags)
			if err != nil {
				return err
			}
			a, err := newApp(cmd.Context(), settings, appOptions{redactSecret: flags.redactSecrets})
			if err != nil {
				return err
			}
			defer func() {
				if err := a.Close(); err != nil {
					a.logger.Warn("%v", err)
				}
			}()

			return mcpserver.New(a.tools, a.sessions).ServeStdio()
		},
	}
}
