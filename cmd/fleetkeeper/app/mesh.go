package app

import (
	"context"
	"strings"

	"github.com/spf13/cobra"

	"github.com/fleetkeeper/fleetkeeper/internal/pkg/model"
	"github.com/fleetkeeper/fleetkeeper/internal/service"
)

func newInitCmd() *cobra.Command {
	var (
		hostname   string
		endpoint   string
		v4CIDR     string
		v6CIDR     string
		listenPort int
	)
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Initialize a new topology with a coordination server",
		RunE: withService(func(ctx context.Context, svc service.Service) error {
			cs, err := svc.Mesh().InitTopology(ctx, service.InitTopologyRequest{
				Hostname:       hostname,
				PublicEndpoint: endpoint,
				V4CIDR:         v4CIDR,
				V6CIDR:         v6CIDR,
				ListenPort:     listenPort,
			})
			if err != nil {
				return err
			}
			printf("initialized coordination server %s (%s)\n", cs.Hostname, cs.PublicEndpoint)
			printf("public key: %s\n", cs.CurrentPublicKey)
			return nil
		}),
	}
	cmd.Flags().StringVar(&hostname, "hostname", "wg-hub", "Coordination server hostname")
	cmd.Flags().StringVar(&endpoint, "endpoint", "", "Public endpoint (host:port)")
	cmd.Flags().StringVar(&v4CIDR, "v4-cidr", "10.66.0.0/24", "IPv4 VPN range (empty to disable)")
	cmd.Flags().StringVar(&v6CIDR, "v6-cidr", "", "IPv6 VPN range")
	cmd.Flags().IntVar(&listenPort, "listen-port", 51820, "WireGuard listen port")
	_ = cmd.MarkFlagRequired("endpoint")
	return cmd
}

func newImportCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "import <dir>",
		Short: "Import existing .conf files from a directory",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withService(func(ctx context.Context, svc service.Service) error {
				dir := opts.Datastore.ImportDir()
				if len(args) == 1 {
					dir = args[0]
				}
				res, err := svc.Importer().ImportDir(ctx, dir)
				if err != nil {
					return err
				}
				printf("imported %s: %d subnet routers, %d remotes, %d client configs matched\n",
					res.CS.Hostname, res.SubnetRouters, res.Remotes, res.ClientsMatched)
				for _, skipped := range res.FilesSkipped {
					printf("skipped: %s\n", skipped)
				}
				return nil
			})(cmd, args)
		},
	}
}

func newAddCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "add",
		Short: "Add a peer, router, exit, sponsor, local-peer, or ssh-host",
	}
	cmd.AddCommand(newAddPeerCmd(), newAddRouterCmd(), newAddExitCmd(), newAddSponsorCmd(), newAddLocalPeerCmd(), newAddSSHHostCmd())
	return cmd
}

func newAddPeerCmd() *cobra.Command {
	var (
		level     string
		publicKey string
		exitID    string
		withPSK   bool
	)
	cmd := &cobra.Command{
		Use:   "peer <hostname>",
		Short: "Add a remote (client) peer",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withService(func(ctx context.Context, svc service.Service) error {
				csID, err := resolveCS(ctx, svc)
				if err != nil {
					return err
				}
				req := service.AddRemoteRequest{
					CSID:        csID,
					Hostname:    args[0],
					AccessLevel: model.AccessLevel(level),
					PublicKey:   publicKey,
					WithPSK:     withPSK,
				}
				if exitID != "" {
					req.ExitNodeID = &exitID
				}
				r, err := svc.Mesh().AddRemote(ctx, req)
				if err != nil {
					return err
				}
				printf("added remote %s address %s\n", r.Hostname, r.VPNAddressV4)
				return nil
			})(cmd, args)
		},
	}
	cmd.Flags().StringVar(&level, "access-level", string(model.AccessVPNOnly), "full_access, vpn_only, lan_only, custom, or exit_only")
	cmd.Flags().StringVar(&publicKey, "public-key", "", "Provisional peer: register by public key only")
	cmd.Flags().StringVar(&exitID, "exit", "", "Exit node id to attach")
	cmd.Flags().BoolVar(&withPSK, "psk", false, "Generate a preshared key")
	return cmd
}

func newAddRouterCmd() *cobra.Command {
	var (
		endpoint string
		lans     []string
		sshHost  string
	)
	cmd := &cobra.Command{
		Use:   "router <hostname>",
		Short: "Add a subnet router",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withService(func(ctx context.Context, svc service.Service) error {
				csID, err := resolveCS(ctx, svc)
				if err != nil {
					return err
				}
				req := service.AddSubnetRouterRequest{
					CSID:           csID,
					Hostname:       args[0],
					PublicEndpoint: endpoint,
					AdvertisedLANs: lans,
				}
				if sshHost != "" {
					h, err := svc.Hosts().GetByName(ctx, sshHost)
					if err != nil {
						return err
					}
					req.SSHHostID = &h.ID
				}
				snr, err := svc.Mesh().AddSubnetRouter(ctx, req)
				if err != nil {
					return err
				}
				printf("added subnet router %s address %s advertising %s\n",
					snr.Hostname, snr.VPNAddress, strings.Join(lans, ", "))
				return nil
			})(cmd, args)
		},
	}
	cmd.Flags().StringVar(&endpoint, "endpoint", "", "Public endpoint; empty means CGNAT (hub never dials out)")
	cmd.Flags().StringSliceVar(&lans, "lan", nil, "LAN CIDR to advertise (repeatable)")
	cmd.Flags().StringVar(&sshHost, "ssh-host", "", "Named SSH host for deployment")
	return cmd
}

func newAddExitCmd() *cobra.Command {
	var (
		endpoint   string
		listenPort int
		wanIface   string
	)
	cmd := &cobra.Command{
		Use:   "exit <hostname>",
		Short: "Add an exit node",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withService(func(ctx context.Context, svc service.Service) error {
				csID, err := resolveCS(ctx, svc)
				if err != nil {
					return err
				}
				e, err := svc.Mesh().AddExitNode(ctx, service.AddExitNodeRequest{
					CSID:           csID,
					Hostname:       args[0],
					PublicEndpoint: endpoint,
					ListenPort:     listenPort,
					WANInterface:   wanIface,
				})
				if err != nil {
					return err
				}
				printf("added exit node %s address %s\n", e.Hostname, e.VPNAddress)
				return nil
			})(cmd, args)
		},
	}
	cmd.Flags().StringVar(&endpoint, "endpoint", "", "Public endpoint (host:port)")
	cmd.Flags().IntVar(&listenPort, "listen-port", 51820, "WireGuard listen port")
	cmd.Flags().StringVar(&wanIface, "wan-interface", "eth0", "WAN interface for the NAT rules")
	_ = cmd.MarkFlagRequired("endpoint")
	return cmd
}

func newRemoveCmd() *cobra.Command {
	var kind string
	cmd := &cobra.Command{
		Use:   "remove <id>",
		Short: "Remove a peer, router, or exit",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withService(func(ctx context.Context, svc service.Service) error {
				return svc.Mesh().RemovePeer(ctx, model.EntityKind(kind), args[0])
			})(cmd, args)
		},
	}
	cmd.Flags().StringVar(&kind, "kind", string(model.EntityRemote), "subnet_router, remote, or exit_node")
	return cmd
}

func newRotateCmd() *cobra.Command {
	var (
		kind   string
		reason string
	)
	cmd := &cobra.Command{
		Use:   "rotate [id]",
		Short: "Rotate keys for an entity (the coordination server when no id is given)",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withService(func(ctx context.Context, svc service.Service) error {
				if len(args) == 0 {
					h, err := svc.Mesh().RotateCSKeys(ctx, reason)
					if err != nil {
						return err
					}
					printf("rotated coordination server key: %s -> %s\n", h.OldPublicKey, h.NewPublicKey)
					return nil
				}
				h, err := svc.Mesh().RotateKeys(ctx, model.EntityKind(kind), args[0], reason)
				if err != nil {
					return err
				}
				printf("rotated %s key: %s -> %s (permanent guid %s unchanged)\n",
					args[0], h.OldPublicKey, h.NewPublicKey, h.PermanentGUID)
				return nil
			})(cmd, args)
		},
	}
	cmd.Flags().StringVar(&kind, "kind", string(model.EntityRemote), "subnet_router, remote, or exit_node")
	cmd.Flags().StringVar(&reason, "reason", "scheduled", "Rotation reason recorded in history")
	return cmd
}

func newPSKCmd() *cobra.Command {
	var psk string
	cmd := &cobra.Command{
		Use:   "psk <remote-id>",
		Short: "Set or generate the preshared key for a remote",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withService(func(ctx context.Context, svc service.Service) error {
				v, err := svc.Mesh().SetPSK(ctx, args[0], psk)
				if err != nil {
					return err
				}
				printf("%s\n", v)
				return nil
			})(cmd, args)
		},
	}
	cmd.Flags().StringVar(&psk, "value", "", "Preshared key; empty generates one")
	return cmd
}

func newQRCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "qr <remote-id>",
		Short: "Print a remote's config for QR rendering",
		Long:  "Prints the remote's rendered configuration to stdout. Pipe into a QR renderer, e.g.:\n  fleetkeeper qr <id> | qrencode -t ansiutf8",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withService(func(ctx context.Context, svc service.Service) error {
				text, err := svc.Generator().RemoteConf(ctx, args[0])
				if err != nil {
					return err
				}
				printf("%s", text)
				return nil
			})(cmd, args)
		},
	}
}
