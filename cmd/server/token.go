package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/soaringjerry/Checkin/internal/middleware"
	"github.com/soaringjerry/Checkin/internal/models"
)

func newTokenCmd(opts *rootOptions) *cobra.Command {
	var (
		user string
		role string
		ttl  time.Duration
	)
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Print a signed bearer token for local testing",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := opts.resolve(cmd)
			if err != nil {
				return err
			}
			r := models.Role(role)
			if !r.Valid() {
				return fmt.Errorf("--role must be coach or trainee, got %q", role)
			}
			if ttl <= 0 {
				ttl = cfg.TokenTTL
			}
			middleware.SetSecret(cfg.JWTSecret)
			tok, err := middleware.SignToken(user, r, ttl)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), tok)
			return nil
		},
	}
	cmd.Flags().StringVar(&user, "user", "", "user id to put in the token")
	cmd.Flags().StringVar(&role, "role", string(models.RoleCoach), "coach or trainee")
	cmd.Flags().DurationVar(&ttl, "ttl", 0, "token lifetime (default CHECKIN_TOKEN_TTL)")
	_ = cmd.MarkFlagRequired("user")
	return cmd
}
