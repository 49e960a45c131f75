// Package gpu reads GPU board state and the GPU process list. The vendor
// query tools (nvidia-smi, lsof, system_profiler, wmic) are invoked through a
// pluggable command runner; tool failures are normalized into
// metrics.ErrUnavailable at this boundary and never escape as raw tool errors.
package gpu

import (
	"os/exec"
	"runtime"
	"sort"
	"strings"

	"github.com/shirou/gopsutil/v3/process"
	"go.uber.org/zap"

	"telemetry-agent/internal/metrics"
)

// BoardInfo is one reading of whole-device GPU state.
type BoardInfo struct {
	Name        string
	Usage       float64 // percent
	MemoryUsed  float64 // MB
	MemoryTotal float64 // MB
	Temperature float64 // Celsius
	Power       float64 // Watts
}

// runner executes an external query tool and returns its stdout.
type runner func(name string, args ...string) ([]byte, error)

func execRunner(name string, args ...string) ([]byte, error) {
	return exec.Command(name, args...).Output()
}

// Scanner reads GPU state for the current platform.
type Scanner struct {
	logger *zap.Logger
	goos   string
	run    runner
}

// NewScanner creates a Scanner for the current platform.
func NewScanner(logger *zap.Logger) *Scanner {
	return &Scanner{logger: logger, goos: runtime.GOOS, run: execRunner}
}

// Board returns whole-device GPU state, preferring vendor tools and falling
// back to OS inventory commands.
func (s *Scanner) Board() (*BoardInfo, error) {
	if info, err := s.nvidiaBoard(); err == nil {
		return info, nil
	}
	switch s.goos {
	case "windows":
		return s.windowsBoard()
	case "darwin":
		return s.darwinBoard()
	case "linux":
		return s.amdBoard()
	}
	return nil, metrics.Unavailable("gpu", errNoAdapter)
}

// Processes returns the processes currently holding the GPU, most active
// first. Shared by the snapshot collector and the control path's
// GPU-activity verification.
func (s *Scanner) Processes() ([]metrics.GPUProcess, error) {
	if procs, err := s.nvidiaProcesses(); err == nil && len(procs) > 0 {
		return procs, nil
	}
	if s.goos == "linux" {
		if procs, err := s.amdProcesses(); err == nil && len(procs) > 0 {
			return procs, nil
		}
	}
	return s.genericProcesses()
}

// gpuHeavyNames marks processes that plausibly hold the GPU when no vendor
// tool can enumerate them.
var gpuHeavyNames = []string{
	"chrome", "firefox", "steam", "obs", "blender", "unity", "unreal",
	"python", "tensorflow", "pytorch", "cuda",
	"game", "render", "video", "streaming",
}

// genericProcesses estimates a GPU process list from CPU-heavy processes with
// GPU-associated names. A best-effort fallback only; usage figures are
// estimates.
func (s *Scanner) genericProcesses() ([]metrics.GPUProcess, error) {
	all, err := process.Processes()
	if err != nil {
		return nil, metrics.Unavailable("process list", err)
	}

	var result []metrics.GPUProcess
	for _, proc := range all {
		name, err := proc.Name()
		if err != nil {
			continue
		}
		lower := strings.ToLower(name)
		matched := false
		for _, candidate := range gpuHeavyNames {
			if strings.Contains(lower, candidate) {
				matched = true
				break
			}
		}
		if !matched {
			continue
		}

		cpuPercent, _ := proc.CPUPercent()
		memPercent, _ := proc.MemoryPercent()

		estimated := cpuPercent * 0.7
		if estimated > 100 {
			estimated = 100
		}
		result = append(result, metrics.GPUProcess{
			PID:       proc.Pid,
			Name:      name,
			GPUUsage:  estimated,
			GPUMemory: float64(memPercent) * 50,
			Kind:      metrics.KindGraphics,
			Status:    metrics.StatusRunning,
		})
	}

	sort.Slice(result, func(i, j int) bool {
		return result[i].GPUUsage > result[j].GPUUsage
	})
	if len(result) > 10 {
		result = result[:10]
	}
	return result, nil
}
