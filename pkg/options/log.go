package options

import (
	"fmt"

	"github.com/spf13/pflag"
)

// LogOptions configures the structured log sink (stack traces and
// verbose diagnostics go here, never to CLI output) with lumberjack
// rotation.
type LogOptions struct {
	LogFile    string `json:"log-file"    mapstructure:"log-file"`
	MaxSize    int    `json:"max-size"    mapstructure:"max-size"`
	MaxBackups int    `json:"max-backups" mapstructure:"max-backups"`
	MaxAge     int    `json:"max-age"     mapstructure:"max-age"`
	Compress   bool   `json:"compress"    mapstructure:"compress"`
}

func NewLogOptions() *LogOptions {
	return &LogOptions{
		MaxSize:    100,
		MaxBackups: 5,
		MaxAge:     30,
	}
}

func (o *LogOptions) Validate() []error {
	var errs []error
	if o.LogFile != "" && o.MaxSize <= 0 {
		errs = append(errs, fmt.Errorf("log max-size must be positive"))
	}
	return errs
}

func (o *LogOptions) AddFlags(fs *pflag.FlagSet) {
	fs.StringVar(&o.LogFile, "log.file", o.LogFile, "Log file path; empty logs to stderr")
	fs.IntVar(&o.MaxSize, "log.max-size", o.MaxSize, "Maximum size in megabytes of the log file before rotation")
	fs.IntVar(&o.MaxBackups, "log.max-backups", o.MaxBackups, "Maximum number of rotated log files to retain")
	fs.IntVar(&o.MaxAge, "log.max-age", o.MaxAge, "Maximum number of days to retain rotated log files")
	fs.BoolVar(&o.Compress, "log.compress", o.Compress, "Compress rotated log files")
}
