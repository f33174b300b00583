package options

import (
	"fmt"
	"net"

	"github.com/spf13/pflag"
)

// InsecureServingOptions configures the daemon's plain-HTTP listener.
type InsecureServingOptions struct {
	BindAddress net.IP `json:"bind-address" mapstructure:"bind-address"`
	BindPort    int    `json:"bind-port"    mapstructure:"bind-port"`
}

func NewInsecureServingOptions() *InsecureServingOptions {
	return &InsecureServingOptions{
		BindAddress: net.ParseIP("127.0.0.1"),
		BindPort:    8420,
	}
}

func (i *InsecureServingOptions) Validate() []error {
	var errs []error
	if i.BindAddress == nil {
		errs = append(errs, fmt.Errorf("bind-address is required"))
	}
	if i.BindPort <= 0 || i.BindPort > 65535 {
		errs = append(errs, fmt.Errorf("bind-port must be in 1-65535"))
	}
	return errs
}

func (i *InsecureServingOptions) AddFlags(fs *pflag.FlagSet) {
	fs.IPVarP(&i.BindAddress, "bind-address", "b", i.BindAddress, "IP address on which to serve, set to 0.0.0.0 for all interfaces")
	fs.IntVarP(&i.BindPort, "bind-port", "p", i.BindPort, "port to listen on for incoming HTTP requests")
}

// Address is the host:port join of the two fields.
func (i *InsecureServingOptions) Address() string {
	return fmt.Sprintf("%s:%d", i.BindAddress, i.BindPort)
}
