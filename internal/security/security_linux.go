//go:build linux

package security

import (
	"fmt"
	"os/exec"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/sys/unix"
)

// requiredCaps are the Linux capabilities sufficient for process control
// without full root.
var requiredCaps = map[string]string{
	"cap_kill":     "send signals to arbitrary processes",
	"cap_sys_nice": "change process scheduling priority",
}

type linuxValidator struct {
	logger *zap.Logger
}

func newValidator(logger *zap.Logger) Validator {
	return &linuxValidator{logger: logger}
}

// Context checks effective UID, passwordless sudo, and the capability set.
func (v *linuxValidator) Context() (*Context, error) {
	ctx := &Context{Platform: "linux"}

	ctx.Elevated = unix.Geteuid() == 0
	if !ctx.Elevated {
		// Passwordless sudo counts as root equivalence for this agent.
		if err := exec.Command("sudo", "-n", "true").Run(); err == nil {
			ctx.Elevated = true
		}
	}

	caps := readCapabilities()
	for name, desc := range requiredCaps {
		ctx.Privileges = append(ctx.Privileges, Privilege{
			Name:        name,
			Description: desc,
			Enabled:     caps[name],
			Required:    true,
		})
	}
	return ctx, nil
}

func (v *linuxValidator) Validate() error {
	ctx, err := v.Context()
	if err != nil {
		return fmt.Errorf("gathering security context: %w", err)
	}
	if err := check(ctx); err != nil {
		return err
	}
	v.logger.Info("security context validated",
		zap.Bool("elevated", ctx.Elevated),
		zap.Int("privileges", len(ctx.Privileges)))
	return nil
}

// readCapabilities parses the effective capability set from capsh. Missing
// capsh yields an empty set, which fails closed unless elevated.
func readCapabilities() map[string]bool {
	caps := make(map[string]bool)

	out, err := exec.Command("capsh", "--print").Output()
	if err != nil {
		return caps
	}
	for _, line := range strings.Split(string(out), "\n") {
		line = strings.TrimSpace(line)
		if !strings.HasPrefix(line, "Current: ") {
			continue
		}
		list := strings.TrimPrefix(line, "Current: ")
		list = strings.TrimPrefix(list, "=")
		for _, cap := range strings.Split(list, ",") {
			// strip the +ep/+i suffix capsh appends
			if idx := strings.IndexByte(cap, '+'); idx >= 0 {
				cap = cap[:idx]
			}
			cap = strings.TrimSpace(cap)
			if cap != "" {
				caps[cap] = true
			}
		}
	}
	return caps
}
