//go:build windows

package security

import (
	"fmt"
	"os/exec"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/sys/windows"
)

// requiredPrivileges are the Windows token privileges process control needs.
var requiredPrivileges = map[string]string{
	"SeDebugPrivilege":                "open and terminate arbitrary processes",
	"SeIncreaseBasePriorityPrivilege": "raise process priority",
}

// optionalPrivileges are reported for diagnostics but not required.
var optionalPrivileges = map[string]string{
	"SeShutdownPrivilege":           "shut down the system",
	"SeAssignPrimaryTokenPrivilege": "assign process tokens",
}

type windowsValidator struct {
	logger *zap.Logger
}

func newValidator(logger *zap.Logger) Validator {
	return &windowsValidator{logger: logger}
}

// Context reads token elevation from the process token and the privilege
// table from whoami.
func (v *windowsValidator) Context() (*Context, error) {
	ctx := &Context{Platform: "windows"}

	token := windows.GetCurrentProcessToken()
	ctx.Elevated = token.IsElevated()

	privs, err := queryPrivileges()
	if err != nil {
		v.logger.Warn("privilege query failed", zap.Error(err))
	} else {
		ctx.Privileges = privs
	}
	return ctx, nil
}

func (v *windowsValidator) Validate() error {
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

// queryPrivileges parses `whoami /priv` into the privilege list.
func queryPrivileges() ([]Privilege, error) {
	out, err := exec.Command("whoami", "/priv").Output()
	if err != nil {
		return nil, fmt.Errorf("whoami /priv: %w", err)
	}

	enabled := make(map[string]bool)
	for _, line := range strings.Split(string(out), "\n") {
		fields := strings.Fields(line)
		if len(fields) == 0 || !strings.HasPrefix(fields[0], "Se") {
			continue
		}
		enabled[fields[0]] = strings.Contains(line, "Enabled")
	}

	var privs []Privilege
	for name, desc := range requiredPrivileges {
		privs = append(privs, Privilege{Name: name, Description: desc, Enabled: enabled[name], Required: true})
	}
	for name, desc := range optionalPrivileges {
		privs = append(privs, Privilege{Name: name, Description: desc, Enabled: enabled[name]})
	}
	return privs, nil
}
