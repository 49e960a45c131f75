// Package control implements the four mutating operations against
// GPU-consuming processes: terminate, suspend, resume and set-priority. All
// four run the same protocol: resolve the PID, resolve the name, consult the
// protection gate, verify GPU activity best-effort, then issue the platform
// action. Failures are normalized into the taxonomy in errors.go and never
// retried automatically.
package control

import (
	"errors"
	"fmt"
	"os/exec"
	"runtime"
	"strings"
	"sync"

	"github.com/shirou/gopsutil/v3/process"
	"go.uber.org/zap"

	"telemetry-agent/internal/metrics"
	"telemetry-agent/internal/protection"
	"telemetry-agent/internal/security"
)

// Priority is one of the fixed tokens accepted by SetPriority.
type Priority struct {
	Nice    int    // POSIX nice value
	Windows string // wmic setpriority token
}

// priorities is the full enumerated set. Unrecognized tokens fail fast with
// InvalidPriority before any process lookup.
var priorities = map[string]Priority{
	"realtime":     {Nice: -20, Windows: "realtime"},
	"high":         {Nice: -10, Windows: "high"},
	"above_normal": {Nice: -5, Windows: "abovenormal"},
	"normal":       {Nice: 0, Windows: "normal"},
	"below_normal": {Nice: 5, Windows: "belownormal"},
	"low":          {Nice: 10, Windows: "idle"},
}

// handle is the slice of gopsutil's process API the operations need;
// *process.Process satisfies it.
type handle interface {
	Name() (string, error)
	IsRunning() (bool, error)
	Status() ([]string, error)
	Kill() error
	Suspend() error
	Resume() error
}

// resolver turns a PID into a live process handle.
type resolver func(pid int32) (handle, error)

func osResolver(pid int32) (handle, error) {
	return process.NewProcess(pid)
}

// gpuLister supplies the current GPU process list for activity verification.
type gpuLister func() ([]metrics.GPUProcess, error)

// commandRunner executes a platform action tool (taskkill, wmic, renice).
type commandRunner func(name string, args ...string) error

func osCommandRunner(name string, args ...string) error {
	out, err := exec.Command(name, args...).CombinedOutput()
	if err != nil {
		return fmt.Errorf("%s: %w: %s", name, err, strings.TrimSpace(string(out)))
	}
	return nil
}

// Service executes control operations behind the protection gate and the
// session-level security check.
type Service struct {
	logger     *zap.Logger
	protection *protection.Service
	validator  security.Validator
	goos       string

	resolve resolver
	gpuList gpuLister
	runCmd  commandRunner

	validateOnce sync.Once
	validateErr  error
}

// NewService wires the control operations to the protection service, the
// security validator and the GPU process source.
func NewService(prot *protection.Service, validator security.Validator, gpuList gpuLister, logger *zap.Logger) *Service {
	return &Service{
		logger:     logger,
		protection: prot,
		validator:  validator,
		goos:       runtime.GOOS,
		resolve:    osResolver,
		gpuList:    gpuList,
		runCmd:     osCommandRunner,
	}
}

// sessionValidate runs the security validation once per session. Every
// operation shares the cached result; a hard failure here is reported as
// PermissionDenied, distinct from per-process protection refusals.
func (s *Service) sessionValidate() error {
	s.validateOnce.Do(func() {
		s.validateErr = s.validator.Validate()
	})
	return s.validateErr
}

// Terminate kills the process after passing the shared protocol.
func (s *Service) Terminate(pid int32) error {
	return s.operate("terminate", pid, func(h handle, name string) error {
		if s.goos == "windows" {
			return s.runCmd("taskkill", "/F", "/PID", fmt.Sprintf("%d", pid))
		}
		return h.Kill()
	})
}

// Suspend stops the process's scheduling.
func (s *Service) Suspend(pid int32) error {
	return s.operate("suspend", pid, func(h handle, name string) error {
		if stopped, err := s.isStopped(h); err == nil && stopped {
			return opError("suspend", pid, KindAlreadyInTargetState, "process %s is already suspended", name)
		}
		return h.Suspend()
	})
}

// Resume restarts a suspended process.
func (s *Service) Resume(pid int32) error {
	return s.operate("resume", pid, func(h handle, name string) error {
		if stopped, err := s.isStopped(h); err == nil && !stopped {
			return opError("resume", pid, KindAlreadyInTargetState, "process %s is not suspended", name)
		}
		return h.Resume()
	})
}

// SetPriority reprioritizes the process. The priority token is validated
// before any process lookup.
func (s *Service) SetPriority(pid int32, priority string) error {
	pri, ok := priorities[strings.ToLower(priority)]
	if !ok {
		return opError("set_priority", pid, KindInvalidPriority,
			"invalid priority %q; valid: realtime, high, above_normal, normal, below_normal, low", priority)
	}
	return s.operate("set_priority", pid, func(h handle, name string) error {
		if s.goos == "windows" {
			return s.runCmd("wmic", "process", "where",
				fmt.Sprintf("processid=%d", pid), "CALL", "setpriority", pri.Windows)
		}
		return s.runCmd("renice", fmt.Sprintf("%d", pri.Nice), fmt.Sprintf("%d", pid))
	})
}

// operate runs the shared protocol around one platform action.
func (s *Service) operate(op string, pid int32, action func(handle, string) error) error {
	if err := s.sessionValidate(); err != nil {
		return opError(op, pid, KindPermissionDenied, "%v", err)
	}

	h, err := s.resolve(pid)
	if err != nil {
		return opError(op, pid, KindProcessNotFound, "process not found")
	}

	name, err := h.Name()
	if err != nil {
		// A handle whose name cannot be read usually belongs to a process
		// that just exited; racing to exit is the common case for short
		// GPU workloads.
		if !s.alive(h) {
			return opError(op, pid, KindProcessNotFound, "process exited")
		}
		return opError(op, pid, KindSystemError, "resolving process name: %v", err)
	}

	if err := s.protection.CanControl(name, pid); err != nil {
		var refusal *protection.RefusalError
		if errors.As(err, &refusal) {
			s.logger.Warn("refusing to control protected process",
				zap.String("op", op), zap.String("process", name), zap.Int32("pid", pid),
				zap.String("level", refusal.Level.String()))
			return opError(op, pid, KindCriticalProcessProtected, "%v", refusal)
		}
		return opError(op, pid, KindSystemError, "%v", err)
	}

	// Verification races naturally against process churn, so a mismatch
	// downgrades to a warning and never gates the action.
	if active, err := s.verifyGPUActive(pid); err != nil {
		s.logger.Warn("could not verify GPU activity", zap.Int32("pid", pid), zap.Error(err))
	} else if !active {
		s.logger.Warn("pid not in current GPU process list, proceeding anyway",
			zap.String("op", op), zap.Int32("pid", pid))
	}

	s.logger.Info("issuing process control action",
		zap.String("op", op), zap.String("process", name), zap.Int32("pid", pid))

	if err := action(h, name); err != nil {
		var ce *Error
		if errors.As(err, &ce) {
			return ce
		}
		if !s.alive(h) {
			return opError(op, pid, KindProcessNotFound, "process exited before %s completed", op)
		}
		return opError(op, pid, KindSystemError, "%s failed: %v", op, err)
	}
	return nil
}

// alive reports best-effort liveness of the process behind a handle.
func (s *Service) alive(h handle) bool {
	running, err := h.IsRunning()
	return err == nil && running
}

func (s *Service) isStopped(h handle) (bool, error) {
	statuses, err := h.Status()
	if err != nil {
		return false, err
	}
	for _, st := range statuses {
		if st == process.Stop {
			return true, nil
		}
	}
	return false, nil
}

// verifyGPUActive checks the PID against the current GPU process list.
func (s *Service) verifyGPUActive(pid int32) (bool, error) {
	procs, err := s.gpuList()
	if err != nil {
		return false, err
	}
	for _, p := range procs {
		if p.PID == pid {
			return true, nil
		}
	}
	return false, nil
}
