// Package app runs the read-only HTTP/SSE daemon: a thin adapter over
// the service layer. Mutations, where offered, route through the same
// single writer worker as the CLI; everything else is read-only.
package app

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"gopkg.in/natefinch/lumberjack.v2"
	"k8s.io/klog/v2"

	cliflag "github.com/marmotedu/component-base/pkg/cli/flag"

	"github.com/fleetkeeper/fleetkeeper/internal/pkg/alert"
	"github.com/fleetkeeper/fleetkeeper/internal/pkg/journal"
	"github.com/fleetkeeper/fleetkeeper/internal/pkg/model"
	"github.com/fleetkeeper/fleetkeeper/internal/service"
	"github.com/fleetkeeper/fleetkeeper/internal/store/sqlite"
	"github.com/fleetkeeper/fleetkeeper/pkg/config"
	"github.com/fleetkeeper/fleetkeeper/pkg/options"
)

const basename = "fleetkeeperd"

// Options aggregates the daemon's option groups.
type Options struct {
	Datastore       *options.DatastoreOptions
	InsecureServing *options.InsecureServingOptions
	Log             *options.LogOptions
	JWT             *options.JWTOptions
	Failover        *options.FailoverOptions
	Alert           *options.AlertOptions
}

func NewOptions() *Options {
	return &Options{
		Datastore:       options.NewDatastoreOptions(),
		InsecureServing: options.NewInsecureServingOptions(),
		Log:             options.NewLogOptions(),
		JWT:             options.NewJWTOptions(),
		Failover:        options.NewFailoverOptions(),
		Alert:           options.NewAlertOptions(),
	}
}

func (o *Options) Validate() []error {
	var errs []error
	errs = append(errs, o.Datastore.Validate()...)
	errs = append(errs, o.InsecureServing.Validate()...)
	errs = append(errs, o.Log.Validate()...)
	errs = append(errs, o.JWT.Validate()...)
	errs = append(errs, o.Failover.Validate()...)
	errs = append(errs, o.Alert.Validate()...)
	return errs
}

// AddFlags groups the flags into one named flag set per concern.
func (o *Options) AddFlags(fs *pflag.FlagSet) *cliflag.NamedFlagSets {
	nfs := &cliflag.NamedFlagSets{}

	options.AddConfigFlag(nfs.FlagSet("Config"))
	o.Datastore.AddFlags(nfs.FlagSet("Datastore"))
	o.InsecureServing.AddFlags(nfs.FlagSet("Insecure Serving"))
	o.Log.AddFlags(nfs.FlagSet("Logs"))
	o.JWT.AddFlags(nfs.FlagSet("JWT"))
	o.Failover.AddFlags(nfs.FlagSet("Failover"))
	o.Alert.AddFlags(nfs.FlagSet("Alerts"))

	for _, name := range nfs.Order {
		fs.AddFlagSet(nfs.FlagSets[name])
	}
	return nfs
}

// NewDaemonCommand builds the daemon's cobra command.
func NewDaemonCommand(ctx context.Context) *cobra.Command {
	opts := NewOptions()
	cmd := &cobra.Command{
		Use:           basename,
		Short:         "fleetkeeperd serves read-only topology status over HTTP/SSE",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
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

			if errs := opts.Validate(); len(errs) != 0 {
				for _, err := range errs {
					fmt.Fprintln(os.Stderr, "Error:", err)
				}
				os.Exit(1)
			}
			return run(cmd.Context(), opts)
		},
	}
	cmd.SetContext(ctx)
	opts.AddFlags(cmd.Flags())
	return cmd
}

func run(ctx context.Context, opts *Options) error {
	cfg := &config.Config{
		Datastore:       opts.Datastore,
		InsecureServing: opts.InsecureServing,
		Log:             opts.Log,
		JWT:             opts.JWT,
		Failover:        opts.Failover,
		Alert:           opts.Alert,
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
		d := alert.NewDispatcher(rules, cfg.Alert.Workers, cfg.Alert.QueueDepth, cfg.Alert.MaxRetry)
		defer d.Stop()
		bus.Subscribe(d)
	}

	svc := service.NewService(f, bus, basename, "api")

	// The failover controller sweeps exit groups in the background;
	// its decisions drain through the writer worker like every other
	// mutation.
	go svc.Failover().Run(ctx, cfg.Failover.CheckInterval, cfg.Failover.CheckTimeout)

	addr := cfg.InsecureServing.Address()
	klog.V(1).InfoS("listening and serving", "address", addr)
	return newRouter(svc, cfg).Run(addr)
}
