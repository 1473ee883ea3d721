package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/Tyrowin/gochat-hub/config"
	"github.com/Tyrowin/gochat-hub/internal/auth"
	"github.com/Tyrowin/gochat-hub/pkg/mmid"
)

func buildServeCmd(envFile *string) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the websocket hub",
		Long: `Start the websocket hub on SERVER_PORT.

Redis membership and presence mirroring are enabled with REDIS_ENABLED,
Kafka event ingest and presence publishing with KAFKA_ENABLED. Without
them the hub serves with in-memory membership.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd.Context(), *envFile)
		},
	}
}

// buildTokenCmd signs a development token with JWT_SECRET.
func buildTokenCmd(envFile *string) *cobra.Command {
	var (
		userID    string
		sessionID string
		ttl       time.Duration
	)

	cmd := &cobra.Command{
		Use:   "token",
		Short: "Issue a signed token for a user",
		Example: `  gochat-hub token --user 4xp9fdt77pncbef59f4k1qe83o
  gochat-hub token --user u1 --ttl 1h`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.LoadFile(*envFile)
			if err != nil {
				return err
			}
			if sessionID == "" {
				sessionID = mmid.New()
			}

			token, err := auth.NewJWTAuthenticator(cfg.JWT.Secret).Issue(auth.Principal{
				UserID:    userID,
				SessionID: sessionID,
			}, ttl)
			if err != nil {
				return err
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), token)
			return err
		},
	}

	cmd.Flags().StringVar(&userID, "user", "", "user id to put in the token")
	cmd.Flags().StringVar(&sessionID, "session", "", "session id (random when empty)")
	cmd.Flags().DurationVar(&ttl, "ttl", 24*time.Hour, "token lifetime")
	_ = cmd.MarkFlagRequired("user")

	return cmd
}

func buildVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		RunE: func(cmd *cobra.Command, _ []string) error {
			_, err := fmt.Fprintf(cmd.OutOrStdout(), "gochat-hub %s (commit: %s)\n", version, commit)
			return err
		},
	}
}
