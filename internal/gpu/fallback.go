package gpu

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/shirou/gopsutil/v3/process"

	"telemetry-agent/internal/metrics"
)

// amdBoard identifies an AMD GPU via lspci. The kernel exposes no cheap
// whole-device utilization for AMD, so only identity is reported.
func (s *Scanner) amdBoard() (*BoardInfo, error) {
	out, err := s.run("lspci", "-v")
	if err != nil {
		return nil, metrics.Unavailable("lspci", err)
	}

	for _, line := range strings.Split(string(out), "\n") {
		lower := strings.ToLower(line)
		if strings.Contains(lower, "vga") && strings.Contains(lower, "amd") {
			parts := strings.SplitN(line, ":", 3)
			if len(parts) == 3 {
				return &BoardInfo{Name: strings.TrimSpace(parts[2])}, nil
			}
		}
	}
	return nil, metrics.Unavailable("lspci", errors.New("no AMD GPU found"))
}

// amdProcesses lists processes holding the render device open.
func (s *Scanner) amdProcesses() ([]metrics.GPUProcess, error) {
	out, err := s.run("lsof", "/dev/dri/card0")
	if err != nil {
		return nil, metrics.Unavailable("lsof", err)
	}

	var procs []metrics.GPUProcess
	for _, line := range strings.Split(string(out), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.Contains(line, "COMMAND") {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) < 2 {
			continue
		}
		pid, err := strconv.ParseInt(fields[1], 10, 32)
		if err != nil {
			continue
		}
		// lsof reports ownership only; usage/memory are not attributable
		procs = append(procs, metrics.GPUProcess{
			PID:    int32(pid),
			Name:   fields[0],
			Kind:   metrics.KindGraphics,
			Status: metrics.StatusRunning,
		})
	}
	return procs, nil
}

var vramRe = regexp.MustCompile(`(\d+)\s*GB`)

// darwinBoard reads GPU identity from system_profiler.
func (s *Scanner) darwinBoard() (*BoardInfo, error) {
	out, err := s.run("system_profiler", "SPDisplaysDataType")
	if err != nil {
		return nil, metrics.Unavailable("system_profiler", err)
	}

	info := &BoardInfo{}
	for _, line := range strings.Split(string(out), "\n") {
		line = strings.TrimSpace(line)
		if strings.Contains(line, "Chipset Model:") {
			parts := strings.SplitN(line, ":", 2)
			if len(parts) == 2 {
				info.Name = strings.TrimSpace(parts[1])
			}
		}
		if strings.Contains(line, "VRAM") {
			if m := vramRe.FindStringSubmatch(line); len(m) > 1 {
				if gb, err := strconv.ParseFloat(m[1], 64); err == nil {
					info.MemoryTotal = gb * 1024
				}
			}
		}
	}
	if info.Name == "" {
		return nil, metrics.Unavailable("system_profiler", errors.New("no display adapter found"))
	}
	return info, nil
}

// windowsBoard reads GPU identity via WMI inventory when nvidia-smi is not
// present.
func (s *Scanner) windowsBoard() (*BoardInfo, error) {
	out, err := s.run("wmic", "path", "win32_VideoController", "get", "Name,AdapterRAM", "/format:csv")
	if err != nil {
		return nil, metrics.Unavailable("wmic", err)
	}

	for _, line := range strings.Split(string(out), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.Contains(line, "Node,AdapterRAM,Name") {
			continue
		}
		fields := strings.Split(line, ",")
		if len(fields) < 3 {
			continue
		}
		name := strings.TrimSpace(fields[2])
		if name == "" || strings.Contains(name, "Microsoft") || strings.Contains(name, "Virtual") {
			continue
		}
		info := &BoardInfo{Name: name}
		if ram, err := strconv.ParseFloat(strings.TrimSpace(fields[1]), 64); err == nil && ram > 0 {
			info.MemoryTotal = ram / (1024 * 1024)
		}
		return info, nil
	}
	return nil, metrics.Unavailable("wmic", errors.New("no display adapter found"))
}

// processName resolves a PID to its executable name, falling back to a
// synthetic name when the process is gone or unreadable.
func processName(pid int32) string {
	proc, err := process.NewProcess(pid)
	if err != nil {
		return fmt.Sprintf("PID_%d", pid)
	}
	name, err := proc.Name()
	if err != nil || name == "" {
		return fmt.Sprintf("PID_%d", pid)
	}
	return name
}
