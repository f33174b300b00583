package model

import (
	"github.com/marmotedu/component-base/pkg/validation"
	"github.com/marmotedu/component-base/pkg/validation/field"
)

// Validate runs struct-level validation on an SSH host.
func (h *SSHHost) Validate() field.ErrorList {
	val := validation.NewValidator(h)
	allErrs := val.Validate()

	if h.Port < 1 || h.Port > 65535 {
		allErrs = append(allErrs, field.Invalid(field.NewPath("port"), h.Port, "must be in 1-65535"))
	}
	return allErrs
}

// Validate runs struct-level validation on an exit group.
func (g *ExitGroup) Validate() field.ErrorList {
	val := validation.NewValidator(g)
	allErrs := val.Validate()

	switch g.Strategy {
	case StrategyPriority, StrategyRoundRobin, StrategyLatency:
	default:
		allErrs = append(allErrs, field.NotSupported(field.NewPath("strategy"), g.Strategy,
			[]string{string(StrategyPriority), string(StrategyRoundRobin), string(StrategyLatency)}))
	}
	return allErrs
}
