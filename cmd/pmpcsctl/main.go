// Command pmpcsctl is a command line client for the payment session service.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var Version = "dev"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var server string

	rootCmd := &cobra.Command{
		Use:           "pmpcsctl",
		Short:         "Drive payment sessions from the command line",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	defaultServer := os.Getenv("PMPCS_SERVER")
	if defaultServer == "" {
		defaultServer = "http://localhost:8080"
	}
	rootCmd.PersistentFlags().StringVar(&server, "server", defaultServer, "Service base URL")

	client := func() *Client { return NewClient(server) }

	// Add subcommands
	rootCmd.AddCommand(requestCmd(client))
	rootCmd.AddCommand(sentCmd(client))
	rootCmd.AddCommand(receivedCmd(client))
	rootCmd.AddCommand(statusCmd(client))
	rootCmd.AddCommand(messagesCmd(client))
	rootCmd.AddCommand(watchCmd(client))
	rootCmd.AddCommand(decodeCmd())

	return rootCmd
}
