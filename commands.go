package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/Trojaner/ImpostorBot/internal/config"
	"github.com/Trojaner/ImpostorBot/internal/crypto"
	"github.com/Trojaner/ImpostorBot/internal/service"
)

func migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply database migrations and exit",
		RunE: func(cmd *cobra.Command, _ []string) error {
			logger := newLogger()
			defer func() { _ = logger.Sync() }()

			_, db, err := openDB(logger)
			if err != nil {
				return err
			}
			return db.Close()
		},
	}
}

func tokenCmd() *cobra.Command {
	var (
		scope string
		ttl   time.Duration
	)
	cmd := &cobra.Command{
		Use:   "token <subject>",
		Short: "Issue an API bearer token signed with auth.jwt_secret",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadConfig(cfgPath)
			if err != nil {
				return err
			}
			logger := newLogger()
			defer func() { _ = logger.Sync() }()

			tokens, err := service.NewTokenService(cfg.Auth.JWTSecret, logger)
			if err != nil {
				return err
			}
			token, expiresAt, err := tokens.Issue(args[0], scope, ttl)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s\n# expires %s\n", token, expiresAt.Format(time.RFC3339))
			return nil
		},
	}
	cmd.Flags().StringVar(&scope, "scope", "", "scope claim to embed")
	cmd.Flags().DurationVar(&ttl, "ttl", 24*time.Hour, "token lifetime")
	return cmd
}

func keygenCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "keygen",
		Short: "Print a random base64 key for encryption.key",
		RunE: func(cmd *cobra.Command, _ []string) error {
			key, err := crypto.GenerateKey()
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), key)
			return nil
		},
	}
}
