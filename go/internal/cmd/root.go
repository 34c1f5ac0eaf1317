package main

import (
	"github.com/spf13/cobra"
)

// rootOptions holds flags shared by every command.
type rootOptions struct {
	LogLevel string
}

func newRootCommand() *cobra.Command {
	opts := &rootOptions{}

	cmd := &cobra.Command{
		Use:   "pointing",
		Short: "Real-time planning poker rooms",
		Long: `pointing runs a planning poker client: a room engine synchronised through
NATS JetStream KV and a local HTTP/websocket bridge a UI connects to.`,
		SilenceUsage: true,
	}

	cmd.PersistentFlags().StringVar(&opts.LogLevel, "log-level", "", "log level (overrides LOG_LEVEL)")

	cmd.AddCommand(newServeCommand(opts))
	cmd.AddCommand(newSeriesCommand(opts))
	return cmd
}
