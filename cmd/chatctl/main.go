// Package main implements chatctl, a command-line client for the chatd HTTP
// server.
package main

import (
	"os"
	"time"

	"github.com/spf13/cobra"
)

var version = "dev"

// defaultServer matches chatd's default listen port.
const defaultServer = "http://localhost:8000"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

type options struct {
	server  string
	timeout time.Duration
	history []string
	quiet   bool
}

func newRootCmd() *cobra.Command {
	opts := &options{}

	root := &cobra.Command{
		Use:   "chatctl",
		Short: "CLI for chatd server operations",
		Long: `chatctl is a command-line interface for the chatd HTTP server.
It asks questions about the indexed documents and checks server health.`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: false,
	}
	root.PersistentFlags().StringVar(&opts.server, "server", defaultServer, "chatd server URL")
	root.PersistentFlags().DurationVar(&opts.timeout, "timeout", 2*time.Minute, "request timeout")

	chat := &cobra.Command{
		Use:   "chat <question>",
		Short: "Stream an answer to a question",
		Long: `Stream an answer from POST /chat and print it as it arrives.
Elapsed time and the source documents are printed after the answer.

Examples:
  # Ask a question
  chatctl chat "Who was in the motorcade?"

  # Continue a conversation
  chatctl chat "And after that?" --history "Who was in the motorcade?" --history "The President..."`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return newClient(opts).chat(cmd.Context(), cmd.OutOrStdout(), args[0], opts.history, opts.quiet)
		},
	}
	chat.Flags().StringArrayVar(&opts.history, "history", nil, "prior conversation turn, oldest first (repeatable)")
	chat.Flags().BoolVarP(&opts.quiet, "quiet", "q", false, "print only the answer")

	ask := &cobra.Command{
		Use:   "ask <question>",
		Short: "Ask a question and wait for the complete answer",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return newClient(opts).ask(cmd.Context(), cmd.OutOrStdout(), args[0], opts.history)
		},
	}
	ask.Flags().StringArrayVar(&opts.history, "history", nil, "prior conversation turn, oldest first (repeatable)")

	health := &cobra.Command{
		Use:   "health",
		Short: "Check chatd server health",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return newClient(opts).health(cmd.Context(), cmd.OutOrStdout())
		},
	}

	root.AddCommand(chat, ask, health)
	return root
}
