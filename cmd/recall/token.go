package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"github.com/xhad/recall/server"
)

func tokenCMD(load loader) *cobra.Command {
	var user string
	var ttl time.Duration

	token := &cobra.Command{
		Use:   "token",
		Short: "Issue an API token for a user",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := load()
			if err != nil {
				return err
			}
			if cfg.Server.JWTSecret == "" {
				return fmt.Errorf("jwt secret not configured (server.jwt_secret or RECALL_JWT_SECRET)")
			}
			signed, err := server.SignToken(user, []byte(cfg.Server.JWTSecret), ttl)
			if err != nil {
				return err
			}
			fmt.Println(signed)
			return nil
		},
	}
	token.Flags().StringVar(&user, "user", "", "user id to embed as the token subject")
	token.Flags().DurationVar(&ttl, "ttl", 24*time.Hour, "token lifetime")
	_ = token.MarkFlagRequired("user")
	return token
}
