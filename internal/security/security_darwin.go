//go:build darwin

package security

import (
	"fmt"
	"os/exec"

	"go.uber.org/zap"
	"golang.org/x/sys/unix"
)

type darwinValidator struct {
	logger *zap.Logger
}

func newValidator(logger *zap.Logger) Validator {
	return &darwinValidator{logger: logger}
}

// Context checks effective UID and passwordless sudo. macOS has no
// fine-grained capability set relevant here; root equivalence is the whole
// requirement.
func (v *darwinValidator) Context() (*Context, error) {
	ctx := &Context{Platform: "darwin"}

	ctx.Elevated = unix.Geteuid() == 0
	if !ctx.Elevated {
		if err := exec.Command("sudo", "-n", "true").Run(); err == nil {
			ctx.Elevated = true
		}
	}

	ctx.Privileges = []Privilege{
		{Name: "root", Description: "root equivalence (euid 0 or passwordless sudo)", Enabled: ctx.Elevated, Required: true},
	}
	return ctx, nil
}

func (v *darwinValidator) Validate() error {
	ctx, err := v.Context()
	if err != nil {
		return fmt.Errorf("gathering security context: %w", err)
	}
	if err := check(ctx); err != nil {
		return err
	}
	v.logger.Info("security context validated", zap.Bool("elevated", ctx.Elevated))
	return nil
}
