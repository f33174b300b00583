package options

import (
	"fmt"

	"github.com/spf13/pflag"
)

// AlertOptions points at the operator's YAML alert-rule file and sizes
// the webhook delivery pool.
type AlertOptions struct {
	RulesFile  string `json:"rules-file"  mapstructure:"rules-file"`
	Workers    int    `json:"workers"     mapstructure:"workers"`
	QueueDepth int    `json:"queue-depth" mapstructure:"queue-depth"`
	MaxRetry   int    `json:"max-retry"   mapstructure:"max-retry"`
}

func NewAlertOptions() *AlertOptions {
	return &AlertOptions{
		Workers:    2,
		QueueDepth: 128,
		MaxRetry:   5,
	}
}

func (o *AlertOptions) Validate() []error {
	var errs []error
	if o.Workers <= 0 {
		errs = append(errs, fmt.Errorf("alert workers must be positive"))
	}
	if o.QueueDepth <= 0 {
		errs = append(errs, fmt.Errorf("alert queue-depth must be positive"))
	}
	if o.MaxRetry < 0 {
		errs = append(errs, fmt.Errorf("alert max-retry must not be negative"))
	}
	return errs
}

func (o *AlertOptions) AddFlags(fs *pflag.FlagSet) {
	fs.StringVar(&o.RulesFile, "alert.rules-file", o.RulesFile, "YAML file of alert rules and webhook endpoints; empty disables alerting")
	fs.IntVar(&o.Workers, "alert.workers", o.Workers, "Webhook delivery workers")
	fs.IntVar(&o.QueueDepth, "alert.queue-depth", o.QueueDepth, "Webhook delivery queue depth")
	fs.IntVar(&o.MaxRetry, "alert.max-retry", o.MaxRetry, "Maximum webhook delivery retries")
}
