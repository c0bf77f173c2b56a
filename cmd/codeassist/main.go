// Command codeassist runs the conversational coding assistant: an HTTP chat
// service, a terminal chat, or an MCP server exposing the coding tool.
package main

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/ioannisbasmatzidis/code-assistant/pkg/config"
	"github.com/ioannisbasmatzidis/code-assistant/pkg/logx"
	"github.com/ioannisbasmatzidis/code-assistant/pkg/version"
)

const secretScanTimeout = 250 * time.Millisecond

// globalFlags are shared by every subcommand.
type globalFlags struct {
	configPath    string
	debug         bool
	debugDomains  []string
	redactSecrets bool
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	flags := &globalFlags{}

	root := &cobra.Command{
		Use:   "codeassist",
		Short: "A conversational coding assistant backed by an engineering crew",
		Long: `codeassist talks to you like a lead engineer: it asks clarifying questions
one at a time, then hands the requirements to a senior engineer and a QA
engineer who write and review the program.`,
		Version:       version.Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(_ *cobra.Command, _ []string) {
			if flags.debug {
				logx.SetDebugConfig(true)
			}
			if len(flags.debugDomains) > 0 {
				logx.SetDebugDomains(flags.debugDomains)
			}
		},
	}

	pf := root.PersistentFlags()
	pf.StringVarP(&flags.configPath, "config", "c", config.DefaultConfigPath, "Path to the settings file")
	pf.BoolVar(&flags.debug, "debug", false, "Enable debug logging")
	pf.StringSliceVar(&flags.debugDomains, "debug-domains", nil, "Restrict debug logging to these domains")
	pf.BoolVar(&flags.redactSecrets, "redact-secrets", true, "Redact API keys and tokens from user messages before they reach the model")

	root.AddCommand(
		newServeCmd(flags),
		newChatCmd(flags),
		newMCPCmd(flags),
		newVersionCmd(),
	)
	return root
}

func loadSettings(flags *globalFlags) (*config.Settings, error) {
	settings, err := config.Load(flags.configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load settings: %w", err)
	}
	return settings, nil
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print build information",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintln(cmd.OutOrStdout(), version.String())
		},
	}
}
