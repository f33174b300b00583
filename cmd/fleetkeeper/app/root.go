// Package app assembles the fleetkeeper CLI: thin cobra adapters over
// the service layer. Commands parse arguments and print results; every
// decision lives behind internal/service.
package app

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gopkg.in/natefinch/lumberjack.v2"
	"k8s.io/klog/v2"

	"github.com/fleetkeeper/fleetkeeper/internal/pkg/alert"
	"github.com/fleetkeeper/fleetkeeper/internal/pkg/journal"
	"github.com/fleetkeeper/fleetkeeper/internal/pkg/model"
	"github.com/fleetkeeper/fleetkeeper/internal/service"
	"github.com/fleetkeeper/fleetkeeper/internal/store/sqlite"
	"github.com/fleetkeeper/fleetkeeper/pkg/config"
	"github.com/fleetkeeper/fleetkeeper/pkg/options"
)

const basename = "fleetkeeper"

type rootOptions struct {
	Datastore *options.DatastoreOptions
	Log       *options.LogOptions
	Alert     *options.AlertOptions
	Failover  *options.FailoverOptions
}

var opts = &rootOptions{
	Datastore: options.NewDatastoreOptions(),
	Log:       options.NewLogOptions(),
	Alert:     options.NewAlertOptions(),
	Failover:  options.NewFailoverOptions(),
}

// NewFleetkeeperCommand builds the root command and its subcommand tree.
func NewFleetkeeperCommand(ctx context.Context) *cobra.Command {
	cmd := &cobra.Command{
		Use:           basename,
		Short:         "fleetkeeper is a control plane for a hub-and-spoke WireGuard fleet",
		Long:          "fleetkeeper ingests, stores, generates, and deploys WireGuard configuration.\nIt never runs the data plane: the kernel WireGuard driver does.",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if err := viper.BindPFlags(cmd.Flags()); err != nil {
				return err
			}
			if opts.Log.LogFile != "" {
				klog.SetOutput(&lumberjack.Logger{
					Filename:   opts.Log.LogFile,
					MaxSize:    opts.Log.MaxSize,
					MaxBackups: opts.Log.MaxBackups,
					MaxAge:     opts.Log.MaxAge,
					Compress:   opts.Log.Compress,
				})
			}
			for _, err := range opts.Datastore.Validate() {
				return err
			}
			return nil
		},
	}
	cmd.SetContext(ctx)

	fs := cmd.PersistentFlags()
	options.AddConfigFlag(fs)
	opts.Datastore.AddFlags(fs)
	opts.Log.AddFlags(fs)
	opts.Alert.AddFlags(fs)
	opts.Failover.AddFlags(fs)

	cmd.AddCommand(
		newInitCmd(),
		newImportCmd(),
		newAddCmd(),
		newRemoveCmd(),
		newRotateCmd(),
		newPSKCmd(),
		newQRCmd(),
		newGenerateCmd(),
		newDeployCmd(),
		newStatusCmd(),
		newSSHSetupCmd(),
		newExtramuralCmd(),
		newAuditCmd(),
		newBackupCmd(),
		newTokenCmd(),
	)
	return cmd
}

// withService opens the datastore, wires the service layer and its
// event subscribers, runs fn, and closes everything down.
func withService(fn func(ctx context.Context, svc service.Service) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		cfg := &config.Config{
			Datastore: opts.Datastore,
			Log:       opts.Log,
			Alert:     opts.Alert,
			Failover:  opts.Failover,
		}
		if err := cfg.LoadAlertRules(); err != nil {
			return err
		}
		config.Set(cfg)

		f, err := sqlite.Open(cfg.Datastore.DBPath())
		if err != nil {
			return err
		}
		defer func() { _ = f.Close() }()

		bus := journal.NewBus()
		if len(cfg.AlertRules) > 0 {
			d := alert.NewDispatcher(alertRules(cfg), cfg.Alert.Workers, cfg.Alert.QueueDepth, cfg.Alert.MaxRetry)
			defer d.Stop()
			bus.Subscribe(d)
		}

		svc := service.NewService(f, bus, operatorName(), "cli")
		return fn(cmd.Context(), svc)
	}
}

func alertRules(cfg *config.Config) []alert.Rule {
	var rules []alert.Rule
	for _, rc := range cfg.AlertRules {
		r := alert.Rule{Name: rc.Name}
		for _, et := range rc.EventTypes {
			r.EventTypes = append(r.EventTypes, model.AuditEventType(et))
		}
		for _, ep := range rc.Endpoints {
			r.Endpoints = append(r.Endpoints, alert.Endpoint{URL: ep.URL, Secret: ep.Secret})
		}
		rules = append(rules, r)
	}
	return rules
}

func operatorName() string {
	if u := os.Getenv("USER"); u != "" {
		return u
	}
	return "operator"
}

// resolveCS is shared by commands that operate on the singleton CS.
func resolveCS(ctx context.Context, svc service.Service) (string, error) {
	cs, err := svc.Status().CS(ctx)
	if err != nil {
		return "", err
	}
	return cs.ID, nil
}

func printf(format string, a ...any) {
	fmt.Fprintf(os.Stdout, format, a...)
}
