package main

import (
	"fmt"

	"github.com/Kerhoff/wishlist/internal/auth"
	"github.com/Kerhoff/wishlist/internal/config"
	"github.com/google/uuid"
	"github.com/spf13/cobra"
)

func newTokenCommand() *cobra.Command {
	var userID string

	cmd := &cobra.Command{
		Use:   "token",
		Short: "Issue an owner access token",
		Long: `Issue an owner access token signed with JWT_SECRET.

Example:
  wishlistd token --user 5b0f8f5e-2f0c-4c43-9a53-0b2d4a2f7c11`,
		Args:         cobra.NoArgs,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := uuid.Parse(userID)
			if err != nil {
				return fmt.Errorf("invalid --user %q: %w", userID, err)
			}
			cfg, err := config.Load()
			if err != nil {
				return fmt.Errorf("failed to load configuration: %w", err)
			}

			token, err := auth.NewIssuer(cfg.JWTSecret, cfg.AccessTokenTTL, cfg.GuestTokenTTL).IssueAccess(id)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}

	cmd.Flags().StringVar(&userID, "user", "", "owner user id (UUID)")
	_ = cmd.MarkFlagRequired("user")

	return cmd
}
