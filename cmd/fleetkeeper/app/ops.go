package app

import (
	"context"
	"time"

	"github.com/spf13/cobra"

	"github.com/fleetkeeper/fleetkeeper/internal/pkg/deploy"
	"github.com/fleetkeeper/fleetkeeper/internal/pkg/model"
	"github.com/fleetkeeper/fleetkeeper/internal/service"
)

func newGenerateCmd() *cobra.Command {
	var outDir string
	cmd := &cobra.Command{
		Use:   "generate",
		Short: "Render every deployable .conf into the output directory",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withService(func(ctx context.Context, svc service.Service) error {
				dir := outDir
				if dir == "" {
					dir = opts.Datastore.OutputDir()
				}
				files, err := svc.Generator().All(ctx, dir)
				if err != nil {
					return err
				}
				for _, f := range files {
					printf("wrote %s/%s\n", dir, f)
				}
				return nil
			})(cmd, args)
		},
	}
	cmd.Flags().StringVar(&outDir, "out", "", "Output directory (default <datastore>/output)")
	return cmd
}

func newDeployCmd() *cobra.Command {
	var (
		restart bool
		dryRun  bool
	)
	cmd := &cobra.Command{
		Use:   "deploy [<target>]",
		Short: "Deploy configuration to the coordination server or a named subnet router",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withService(func(ctx context.Context, svc service.Service) error {
				deployOpts := deploy.Options{Restart: restart, DryRun: dryRun}

				cs, err := svc.Status().CS(ctx)
				if err != nil {
					return err
				}
				if len(args) == 0 || args[0] == cs.Hostname {
					res, err := svc.Deployer().DeployCS(ctx, cs.ID, deployOpts)
					if err != nil {
						return err
					}
					reportDeploy(cs.Hostname, res, dryRun)
					return nil
				}

				// A named target is a subnet router hostname.
				peers, err := svc.Status().Peers(ctx)
				if err != nil {
					return err
				}
				for _, p := range peers {
					if p.Hostname == args[0] && p.Kind == model.EntitySubnetRouter {
						res, err := svc.Deployer().DeploySNR(ctx, p.ID, deployOpts)
						if err != nil {
							return err
						}
						reportDeploy(p.Hostname, res, dryRun)
						return nil
					}
				}
				return cmdErrNotFound(args[0])
			})(cmd, args)
		},
	}
	cmd.Flags().BoolVar(&restart, "restart", false, "Restart the interface after deployment")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "Report what would change without touching the target")
	return cmd
}

func reportDeploy(target string, res *deploy.Result, dryRun bool) {
	switch {
	case dryRun && res.Changed:
		printf("%s: would change\n", target)
	case dryRun:
		printf("%s: up to date\n", target)
	case !res.Changed:
		printf("%s: unchanged (no-op verification)\n", target)
	default:
		printf("%s: deployed", target)
		if res.BackupPath != "" {
			printf(" (previous config backed up to %s)", res.BackupPath)
		}
		if res.Restarted {
			printf(", interface restarted")
		}
		printf("\n")
	}
}

func newStatusCmd() *cobra.Command {
	var live bool
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show topology status",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withService(func(ctx context.Context, svc service.Service) error {
				for {
					st, err := svc.Status().Status(ctx)
					if err != nil {
						return err
					}
					printf("coordination server: %s (%s)\n", st.CSHostname, st.CSEndpoint)
					printf("subnet routers: %d  remotes: %d  exit nodes: %d  audit entries: %d\n",
						st.SubnetRouters, st.Remotes, st.ExitNodes, st.AuditEntries)
					for name, state := range st.ExitHealth {
						printf("exit %s: %s\n", name, state)
					}
					if !live {
						return nil
					}
					select {
					case <-ctx.Done():
						return nil
					case <-time.After(5 * time.Second):
					}
				}
			})(cmd, args)
		},
	}
	cmd.Flags().BoolVar(&live, "live", false, "Refresh every 5 seconds until interrupted")
	return cmd
}

func newSSHSetupCmd() *cobra.Command {
	var (
		name    string
		host    string
		port    int
		user    string
		keyPath string
		dir     string
	)
	cmd := &cobra.Command{
		Use:   "ssh-setup",
		Short: "Register a shared SSH host for deployments",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withService(func(ctx context.Context, svc service.Service) error {
				h, err := svc.Hosts().Add(ctx, &model.SSHHost{
					Name: name, Host: host, Port: port, User: user,
					KeyPath: keyPath, RemoteDir: dir,
				})
				if err != nil {
					return err
				}
				printf("registered SSH host %s (%s@%s:%d)\n", h.Name, h.User, h.Host, h.Port)
				return nil
			})(cmd, args)
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "Unique host name")
	cmd.Flags().StringVar(&host, "host", "", "Hostname or address")
	cmd.Flags().IntVar(&port, "port", 22, "SSH port")
	cmd.Flags().StringVar(&user, "user", "root", "SSH user")
	cmd.Flags().StringVar(&keyPath, "key", "", "Private key path (SSH agent is used when empty)")
	cmd.Flags().StringVar(&dir, "remote-dir", "/etc/wireguard", "Remote config directory")
	_ = cmd.MarkFlagRequired("name")
	_ = cmd.MarkFlagRequired("host")
	return cmd
}
