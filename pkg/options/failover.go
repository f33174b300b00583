package options

import (
	"fmt"
	"time"

	"github.com/spf13/pflag"
)

// FailoverOptions tunes the exit failover controller and its
// health-check worker pool.
type FailoverOptions struct {
	CheckInterval time.Duration `json:"check-interval" mapstructure:"check-interval"`
	CheckTimeout  time.Duration `json:"check-timeout"  mapstructure:"check-timeout"`
	QueueDepth    int           `json:"queue-depth"    mapstructure:"queue-depth"`
	ProbeWorkers  int           `json:"probe-workers"  mapstructure:"probe-workers"`
}

func NewFailoverOptions() *FailoverOptions {
	return &FailoverOptions{
		CheckInterval: 30 * time.Second,
		CheckTimeout:  5 * time.Second,
		QueueDepth:    64,
		ProbeWorkers:  4,
	}
}

func (o *FailoverOptions) Validate() []error {
	var errs []error
	if o.CheckInterval <= 0 {
		errs = append(errs, fmt.Errorf("failover check-interval must be positive"))
	}
	if o.CheckTimeout <= 0 || o.CheckTimeout >= o.CheckInterval {
		errs = append(errs, fmt.Errorf("failover check-timeout must be positive and shorter than check-interval"))
	}
	if o.QueueDepth <= 0 {
		errs = append(errs, fmt.Errorf("failover queue-depth must be positive"))
	}
	if o.ProbeWorkers <= 0 {
		errs = append(errs, fmt.Errorf("failover probe-workers must be positive"))
	}
	return errs
}

func (o *FailoverOptions) AddFlags(fs *pflag.FlagSet) {
	fs.DurationVar(&o.CheckInterval, "failover.check-interval", o.CheckInterval, "Default exit health-check interval for groups that do not set their own")
	fs.DurationVar(&o.CheckTimeout, "failover.check-timeout", o.CheckTimeout, "Default exit health-check timeout")
	fs.IntVar(&o.QueueDepth, "failover.queue-depth", o.QueueDepth, "Failover event queue depth")
	fs.IntVar(&o.ProbeWorkers, "failover.probe-workers", o.ProbeWorkers, "Concurrent health probe workers")
}
