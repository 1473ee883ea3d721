// Command gochat-hub runs the realtime websocket hub.
//
//	gochat-hub serve --env-file .env
//	gochat-hub token --user u1
//	gochat-hub version
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// Populated by ldflags.
var (
	version = "dev"
	commit  = "none"
)

func main() {
	if err := buildRootCmd().ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func buildRootCmd() *cobra.Command {
	var envFile string

	rootCmd := &cobra.Command{
		Use:          "gochat-hub",
		Short:        "Realtime event hub for Mattermost-compatible clients",
		Version:      fmt.Sprintf("%s (commit: %s)", version, commit),
		SilenceUsage: true,
		// Running without a subcommand serves.
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd.Context(), envFile)
		},
	}
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", "", "dotenv file to load before reading the environment")

	rootCmd.AddCommand(
		buildServeCmd(&envFile),
		buildTokenCmd(&envFile),
		buildVersionCmd(),
	)
	return rootCmd
}
