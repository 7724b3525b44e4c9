package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"coachapp/internal/cli"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "coachctl",
		Short: "coachctl - command line client for coach/client messaging",
		Long: `coachctl talks to the messaging server: log in, read the inbox,
open conversations, send messages and follow them live.`,
	}
	cli.BindFlags(rootCmd)

	// Account
	rootCmd.AddCommand(cli.RegisterCmd())
	rootCmd.AddCommand(cli.LoginCmd())
	rootCmd.AddCommand(cli.LogoutCmd())

	// Conversations
	rootCmd.AddCommand(cli.InboxCmd())
	rootCmd.AddCommand(cli.ThreadCmd())
	rootCmd.AddCommand(cli.SendCmd())
	rootCmd.AddCommand(cli.ReadCmd())
	rootCmd.AddCommand(cli.WatchCmd())

	// Developer tools
	rootCmd.AddCommand(cli.LoadCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
