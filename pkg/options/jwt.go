package options

import (
	"fmt"
	"time"

	"github.com/spf13/pflag"
)

// JWTOptions configures API bearer-token signing for the daemon.
type JWTOptions struct {
	Secret     string        `json:"secret"     mapstructure:"secret"`
	Expiration time.Duration `json:"expiration" mapstructure:"expiration"`
}

func NewJWTOptions() *JWTOptions {
	return &JWTOptions{
		Expiration: 30 * 24 * time.Hour,
	}
}

func (j *JWTOptions) Validate() []error {
	var errs []error
	if j.Secret == "" {
		errs = append(errs, fmt.Errorf("jwt secret is required"))
	}
	if j.Expiration <= 0 {
		errs = append(errs, fmt.Errorf("jwt expiration must be greater than 0"))
	}
	return errs
}

func (j *JWTOptions) AddFlags(fs *pflag.FlagSet) {
	fs.StringVar(&j.Secret, "jwt.secret", j.Secret, "JWT secret key used to sign API tokens")
	fs.DurationVar(&j.Expiration, "jwt.expiration", j.Expiration, "API token expiration duration (e.g. 24h)")
}
