package main

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/iliyamo/concert-ticketing/internal/utils"
)

// newTokenCommand mints a bearer token for local testing.
func newTokenCommand(rt *runtime) *cobra.Command {
	var user string
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Print a signed access token for a user id",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if !rt.cfg.IsDev() {
				return errors.New("token minting is only available when APP_ENV is dev or local")
			}
			tok, err := utils.NewAccessToken(rt.cfg.JWTSecret, user, time.Duration(rt.cfg.AccessTTLMin)*time.Minute)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), tok.Token)
			return nil
		},
	}
	cmd.Flags().StringVar(&user, "user", "", "user id to put in the sub claim")
	_ = cmd.MarkFlagRequired("user")
	return cmd
}
