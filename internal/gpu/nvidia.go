package gpu

import (
	"errors"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"telemetry-agent/internal/metrics"
)

var errNoAdapter = errors.New("no usable GPU source")

// nvidiaBoard queries nvidia-smi for whole-device state.
func (s *Scanner) nvidiaBoard() (*BoardInfo, error) {
	out, err := s.run("nvidia-smi",
		"--query-gpu=name,utilization.gpu,memory.used,memory.total,temperature.gpu,power.draw",
		"--format=csv,noheader,nounits")
	if err != nil {
		return nil, metrics.Unavailable("nvidia-smi", err)
	}

	fields := strings.Split(strings.TrimSpace(string(out)), ",")
	if len(fields) < 6 {
		return nil, metrics.Unavailable("nvidia-smi", errors.New("unexpected output format"))
	}

	usage, _ := strconv.ParseFloat(strings.TrimSpace(fields[1]), 64)
	memUsed, _ := strconv.ParseFloat(strings.TrimSpace(fields[2]), 64)
	memTotal, _ := strconv.ParseFloat(strings.TrimSpace(fields[3]), 64)
	temp, _ := strconv.ParseFloat(strings.TrimSpace(fields[4]), 64)
	power, _ := strconv.ParseFloat(strings.TrimSpace(fields[5]), 64)

	return &BoardInfo{
		Name:        strings.TrimSpace(fields[0]),
		Usage:       usage,
		MemoryUsed:  memUsed,
		MemoryTotal: memTotal,
		Temperature: temp,
		Power:       power,
	}, nil
}

// nvidiaUtilization queries total device utilization only.
func (s *Scanner) nvidiaUtilization() (float64, error) {
	out, err := s.run("nvidia-smi", "--query-gpu=utilization.gpu", "--format=csv,noheader,nounits")
	if err != nil {
		return 0, metrics.Unavailable("nvidia-smi", err)
	}
	usage, err := strconv.ParseFloat(strings.TrimSpace(string(out)), 64)
	if err != nil {
		return 0, metrics.Unavailable("nvidia-smi", err)
	}
	return usage, nil
}

// nvidiaProcesses collects per-process GPU state via nvidia-smi pmon, which
// reports both utilization and memory per process. When pmon is unavailable
// (older drivers, insufficient permissions) it falls back to the
// compute-apps query.
func (s *Scanner) nvidiaProcesses() ([]metrics.GPUProcess, error) {
	out, err := s.run("nvidia-smi", "pmon", "-c", "1", "-s", "um")
	if err != nil {
		return s.nvidiaComputeApps()
	}

	var procs []metrics.GPUProcess
	for _, line := range strings.Split(string(out), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.Contains(line, "#") || strings.Contains(line, "gpu") {
			continue
		}

		// pmon columns: gpu pid type sm mem enc dec command
		fields := strings.Fields(line)
		if len(fields) < 5 {
			continue
		}
		pid, err := strconv.ParseInt(fields[1], 10, 32)
		if err != nil {
			continue
		}
		usage, _ := strconv.ParseFloat(fields[3], 64)
		memory, _ := strconv.ParseFloat(fields[4], 64)

		p := metrics.GPUProcess{
			PID:       int32(pid),
			Name:      processName(int32(pid)),
			GPUUsage:  usage,
			GPUMemory: memory,
			Kind:      parseKind(fields[2]),
			Status:    metrics.StatusRunning,
		}
		if len(fields) >= 8 {
			p.Command = fields[7]
		}
		procs = append(procs, p)
	}
	return procs, nil
}

// nvidiaComputeApps queries per-process GPU memory. The driver exposes no
// per-process utilization on this path, so the total device utilization is
// apportioned across processes by their share of attributed GPU memory. This
// is a documented best-effort estimate with no accuracy bound.
func (s *Scanner) nvidiaComputeApps() ([]metrics.GPUProcess, error) {
	total, err := s.nvidiaUtilization()
	if err != nil {
		s.logger.Debug("total GPU utilization unavailable, reporting zero per-process usage", zap.Error(err))
		total = 0
	}

	out, err := s.run("nvidia-smi", "--query-compute-apps=pid,process_name,used_memory", "--format=csv,noheader,nounits")
	if err != nil {
		return nil, metrics.Unavailable("nvidia-smi", err)
	}

	var active []metrics.GPUProcess
	for _, line := range strings.Split(string(out), "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		fields := strings.Split(line, ",")
		if len(fields) < 3 {
			continue
		}
		pid, err := strconv.ParseInt(strings.TrimSpace(fields[0]), 10, 32)
		if err != nil {
			continue
		}
		memStr := strings.TrimSpace(fields[2])
		// [N/A] / [Insufficient Permissions]: no real figure, skip
		if strings.Contains(memStr, "[") || strings.Contains(memStr, "N/A") {
			continue
		}
		memory, _ := strconv.ParseFloat(memStr, 64)
		if memory <= 0 {
			continue
		}

		active = append(active, metrics.GPUProcess{
			PID:       int32(pid),
			Name:      strings.TrimSpace(fields[1]),
			GPUMemory: memory,
			Kind:      metrics.KindCompute,
			Status:    metrics.StatusRunning,
		})
	}

	apportionUsage(active, total)
	return active, nil
}

// apportionUsage distributes the total device utilization across processes in
// proportion to each one's share of total attributed GPU memory.
func apportionUsage(procs []metrics.GPUProcess, totalUsage float64) {
	if len(procs) == 0 || totalUsage <= 0 {
		return
	}
	var totalMemory float64
	for _, p := range procs {
		totalMemory += p.GPUMemory
	}
	if totalMemory <= 0 {
		return
	}
	for i := range procs {
		procs[i].GPUUsage = totalUsage * (procs[i].GPUMemory / totalMemory)
	}
}

func parseKind(s string) metrics.ProcessKind {
	switch s {
	case "C":
		return metrics.KindCompute
	case "G":
		return metrics.KindGraphics
	default:
		return metrics.KindBoth
	}
}
