// Package security determines whether the running agent holds the elevation
// and capabilities required for process control. Each supported platform
// family has its own Validator implementation, selected at build time.
package security

import (
	"errors"
	"fmt"

	"go.uber.org/zap"
)

// ErrInsufficientPrivileges reports that the current execution context may
// not control arbitrary processes. Distinct from per-process protection
// refusals: this one means "cannot touch anything".
var ErrInsufficientPrivileges = errors.New("insufficient privileges for process control")

// Privilege is one named capability relevant to killing or reprioritizing
// arbitrary processes.
type Privilege struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	Enabled     bool   `json:"enabled"`
	Required    bool   `json:"required"`
}

// Context is the gathered elevation state of the agent process.
type Context struct {
	Platform   string      `json:"platform"`
	Elevated   bool        `json:"elevated"` // administrator/root equivalence
	Privileges []Privilege `json:"privileges"`
}

// Validator gathers and checks the security context for one platform family.
type Validator interface {
	// Context gathers the current elevation and capability state.
	Context() (*Context, error)

	// Validate returns nil only when the minimum capability set for process
	// control is present. Callers validate once per session, not per call.
	Validate() error
}

// New returns the Validator for the platform this binary was built for.
func New(logger *zap.Logger) Validator {
	return newValidator(logger)
}

// check applies the shared acceptance rule: elevation is sufficient, and so
// is a complete set of required capabilities without elevation.
func check(ctx *Context) error {
	if ctx.Elevated {
		return nil
	}
	required := 0
	enabled := 0
	for _, priv := range ctx.Privileges {
		if priv.Required {
			required++
			if priv.Enabled {
				enabled++
			}
		}
	}
	if required > 0 && enabled == required {
		return nil
	}
	return fmt.Errorf("%w on %s: not elevated and %d of %d required capabilities present",
		ErrInsufficientPrivileges, ctx.Platform, enabled, required)
}
