package app

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/fleetkeeper/fleetkeeper/internal/service"
	"github.com/fleetkeeper/fleetkeeper/pkg/utils/jwt"
)

func newTokenCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Manage API bearer tokens for the daemon",
	}

	var scope string
	mint := &cobra.Command{
		Use:   "mint <name>",
		Short: "Mint a new API token (the secret is printed once)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withService(func(ctx context.Context, svc service.Service) error {
				id, secret, err := svc.Auth().MintToken(ctx, args[0], jwt.Scope(scope))
				if err != nil {
					return err
				}
				printf("token %s minted (id %s)\n", args[0], id)
				printf("secret (shown once): %s\n", secret)
				return nil
			})(cmd, args)
		},
	}
	mint.Flags().StringVar(&scope, "scope", string(jwt.ScopeRead), "read, write, or admin")

	revoke := &cobra.Command{
		Use:   "revoke <name>",
		Short: "Revoke an API token",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withService(func(ctx context.Context, svc service.Service) error {
				return svc.Auth().RevokeToken(ctx, args[0])
			})(cmd, args)
		},
	}

	cmd.AddCommand(mint, revoke)
	return cmd
}
