package app

import (
	"context"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/HappyLadySauce/errors"
	"github.com/fleetkeeper/fleetkeeper/internal/pkg/code"
	"github.com/fleetkeeper/fleetkeeper/internal/pkg/model"
	"github.com/fleetkeeper/fleetkeeper/internal/service"
)

func cmdErrNotFound(what string) error {
	return errors.WithCode(code.ErrStoreNotFound, "%s not found", what)
}

func isConflict(err error) bool {
	return errors.ParseCoder(err).Code() == code.ErrStoreConflict
}

func newExtramuralCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "extramural",
		Aliases: []string{"xm"},
		Short:   "Manage configs for external WireGuard services",
	}
	addSponsor := newAddSponsorCmd()
	addSponsor.Use = "add-sponsor <name>"
	addSSHHost := newAddSSHHostCmd()
	addSSHHost.Use = "add-ssh-host <name>"

	cmd.AddCommand(
		newXMListCmd(),
		newXMShowCmd(),
		newXMImportCmd(),
		newXMGenerateCmd(),
		newXMSwitchPeerCmd(),
		newXMAddPeerCmd(),
		addSponsor,
		addSSHHost,
		newXMRotateKeyCmd(),
		newXMConfirmCmd(),
	)
	return cmd
}

func newXMRotateKeyCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "rotate-key <config-id>",
		Short: "Rotate the local key pair; flags the config as pending a remote update",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withService(func(ctx context.Context, svc service.Service) error {
				if err := svc.Extramural().RotateLocalKey(ctx, args[0]); err != nil {
					return err
				}
				printf("local key rotated; deliver the new public key to the sponsor, then run confirm-remote\n")
				return nil
			})(cmd, args)
		},
	}
}

func newXMConfirmCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "confirm-remote <config-id>",
		Short: "Confirm the sponsor has the new public key, clearing the pending flag",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withService(func(ctx context.Context, svc service.Service) error {
				return svc.Extramural().ConfirmRemoteUpdated(ctx, args[0])
			})(cmd, args)
		},
	}
}

func newXMListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List extramural configs",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withService(func(ctx context.Context, svc service.Service) error {
				configs, err := svc.Extramural().ListConfigs(ctx)
				if err != nil {
					return err
				}
				for _, c := range configs {
					pending := ""
					if c.PendingRemoteUpdate {
						pending = " (pending remote update)"
					}
					printf("%s  %s%s\n", c.ID, c.InterfaceName, pending)
				}
				return nil
			})(cmd, args)
		},
	}
}

func newXMShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <config-id>",
		Short: "Show an extramural config and its peers",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withService(func(ctx context.Context, svc service.Service) error {
				cfg, peers, err := svc.Extramural().ShowConfig(ctx, args[0])
				if err != nil {
					return err
				}
				printf("interface %s  public key %s\n", cfg.InterfaceName, cfg.CurrentPublicKey)
				for _, p := range peers {
					marker := " "
					if p.IsActive {
						marker = "*"
					}
					printf("%s %s  %s  %s\n", marker, p.Name, p.Endpoint, p.AllowedIPs)
				}
				return nil
			})(cmd, args)
		},
	}
}

func newXMImportCmd() *cobra.Command {
	var (
		localPeer string
		sponsor   string
		iface     string
	)
	cmd := &cobra.Command{
		Use:   "import <file.conf>",
		Short: "Import a sponsor-provided config",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withService(func(ctx context.Context, svc service.Service) error {
				// Create the local peer and sponsor rows on first use;
				// an existing row of the same name is fine.
				if _, err := svc.Extramural().AddSponsor(ctx, sponsor, ""); err != nil && !isConflict(err) {
					return err
				}
				if _, err := svc.Extramural().AddLocalPeer(ctx, localPeer, nil); err != nil && !isConflict(err) {
					return err
				}
				cfg, err := svc.Extramural().ImportConfig(ctx, localPeer, sponsor, iface, args[0])
				if err != nil {
					return err
				}
				printf("imported extramural config %s (%s)\n", cfg.ID, cfg.InterfaceName)
				return nil
			})(cmd, args)
		},
	}
	cmd.Flags().StringVar(&localPeer, "local-peer", "", "Local peer name")
	cmd.Flags().StringVar(&sponsor, "sponsor", "", "Sponsor name")
	cmd.Flags().StringVar(&iface, "interface", "", "Interface name, e.g. wg-mullvad")
	_ = cmd.MarkFlagRequired("local-peer")
	_ = cmd.MarkFlagRequired("sponsor")
	_ = cmd.MarkFlagRequired("interface")
	return cmd
}

func newXMGenerateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "generate <config-id>",
		Short: "Render an extramural config",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withService(func(ctx context.Context, svc service.Service) error {
				text, err := svc.Extramural().Generate(ctx, args[0])
				if err != nil {
					return err
				}
				printf("%s", text)
				return nil
			})(cmd, args)
		},
	}
}

func newXMSwitchPeerCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "switch-peer <config-id> <peer-name>",
		Short: "Make a different sponsor peer the active one",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withService(func(ctx context.Context, svc service.Service) error {
				if err := svc.Extramural().SwitchActivePeer(ctx, args[0], args[1]); err != nil {
					return err
				}
				printf("active peer is now %s\n", args[1])
				return nil
			})(cmd, args)
		},
	}
}

func newXMAddPeerCmd() *cobra.Command {
	var (
		publicKey  string
		endpoint   string
		allowedIPs string
		keepalive  string
	)
	cmd := &cobra.Command{
		Use:   "add-peer <config-id> <name>",
		Short: "Add a sponsor-side peer to an extramural config",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withService(func(ctx context.Context, svc service.Service) error {
				p := &model.ExtramuralPeer{
					Name:       args[1],
					PublicKey:  publicKey,
					Endpoint:   endpoint,
					AllowedIPs: allowedIPs,
				}
				if keepalive != "" {
					if n, err := strconv.Atoi(keepalive); err == nil {
						p.Keepalive = &n
					}
				}
				if _, err := svc.Extramural().AddPeer(ctx, args[0], p); err != nil {
					return err
				}
				printf("added peer %s\n", args[1])
				return nil
			})(cmd, args)
		},
	}
	cmd.Flags().StringVar(&publicKey, "public-key", "", "Sponsor's public key")
	cmd.Flags().StringVar(&endpoint, "endpoint", "", "Sponsor endpoint (host:port)")
	cmd.Flags().StringVar(&allowedIPs, "allowed-ips", "0.0.0.0/0, ::/0", "AllowedIPs for the peer")
	cmd.Flags().StringVar(&keepalive, "keepalive", "", "PersistentKeepalive seconds")
	_ = cmd.MarkFlagRequired("public-key")
	_ = cmd.MarkFlagRequired("endpoint")
	return cmd
}
