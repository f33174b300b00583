package app

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/fleetkeeper/fleetkeeper/internal/pkg/model"
	"github.com/fleetkeeper/fleetkeeper/internal/service"
)

func newAddSponsorCmd() *cobra.Command {
	var website string
	cmd := &cobra.Command{
		Use:   "sponsor <name>",
		Short: "Add an extramural sponsor",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withService(func(ctx context.Context, svc service.Service) error {
				sp, err := svc.Extramural().AddSponsor(ctx, args[0], website)
				if err != nil {
					return err
				}
				printf("added sponsor %s\n", sp.Name)
				return nil
			})(cmd, args)
		},
	}
	cmd.Flags().StringVar(&website, "website", "", "Sponsor website")
	return cmd
}

func newAddLocalPeerCmd() *cobra.Command {
	var sshHost string
	cmd := &cobra.Command{
		Use:   "local-peer <name>",
		Short: "Add an extramural local peer",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withService(func(ctx context.Context, svc service.Service) error {
				var hostID *string
				if sshHost != "" {
					h, err := svc.Hosts().GetByName(ctx, sshHost)
					if err != nil {
						return err
					}
					hostID = &h.ID
				}
				lp, err := svc.Extramural().AddLocalPeer(ctx, args[0], hostID)
				if err != nil {
					return err
				}
				printf("added local peer %s\n", lp.Name)
				return nil
			})(cmd, args)
		},
	}
	cmd.Flags().StringVar(&sshHost, "ssh-host", "", "Named SSH host for deployment")
	return cmd
}

func newAddSSHHostCmd() *cobra.Command {
	var (
		host    string
		port    int
		user    string
		keyPath string
		dir     string
	)
	cmd := &cobra.Command{
		Use:   "ssh-host <name>",
		Short: "Add a shared SSH host",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withService(func(ctx context.Context, svc service.Service) error {
				h, err := svc.Hosts().Add(ctx, &model.SSHHost{
					Name: args[0], Host: host, Port: port, User: user,
					KeyPath: keyPath, RemoteDir: dir,
				})
				if err != nil {
					return err
				}
				printf("added SSH host %s (%s@%s:%d)\n", h.Name, h.User, h.Host, h.Port)
				return nil
			})(cmd, args)
		},
	}
	cmd.Flags().StringVar(&host, "host", "", "Hostname or address")
	cmd.Flags().IntVar(&port, "port", 22, "SSH port")
	cmd.Flags().StringVar(&user, "user", "root", "SSH user")
	cmd.Flags().StringVar(&keyPath, "key", "", "Private key path")
	cmd.Flags().StringVar(&dir, "remote-dir", "/etc/wireguard", "Remote config directory")
	_ = cmd.MarkFlagRequired("host")
	return cmd
}
