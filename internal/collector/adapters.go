package collector

import (
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/disk"
	"github.com/shirou/gopsutil/v3/host"
	"github.com/shirou/gopsutil/v3/mem"
	"github.com/shirou/gopsutil/v3/net"
	"github.com/shirou/gopsutil/v3/process"

	"telemetry-agent/internal/metrics"
)

// Adapter result shapes. Counter-based adapters return raw cumulative
// counters; the collector owns the previous reading and computes rates.

type cpuInventory struct {
	Cores int
	Model string
}

type memoryDetail struct {
	Physical float64
	Virtual  float64
	Swap     float64
}

type diskSpace struct {
	Total       float64
	Used        float64
	Free        float64
	UsedPercent float64
}

type ifaceStatus struct {
	Name string
	Up   float64 // 1.0 up, 0.0 down
	IP   string
}

type topProcess struct {
	Name       string
	PID        int32
	CPUPercent float64
	MemPercent float64
}

type batteryState struct {
	Percent float64
	Plugged float64 // 1.0 plugged, 0.0 on battery
}

// cpuUsage samples overall CPU utilization over the given window. The window
// is the one deliberate in-tick stall and must stay strictly shorter than the
// collection interval.
func cpuUsage(window time.Duration) (float64, error) {
	percentages, err := cpu.Percent(window, false)
	if err != nil {
		return 0, metrics.Unavailable("cpu", err)
	}
	if len(percentages) == 0 {
		return 0, metrics.Unavailable("cpu", errEmptyReading)
	}
	return percentages[0], nil
}

// cpuCoreUsage samples per-logical-core utilization over the given window.
func cpuCoreUsage(window time.Duration) ([]float64, error) {
	percentages, err := cpu.Percent(window, true)
	if err != nil {
		return nil, metrics.Unavailable("cpu cores", err)
	}
	return percentages, nil
}

// cpuInfo reads the static CPU inventory (model name, core count).
func cpuInfo() (cpuInventory, error) {
	info, err := cpu.Info()
	if err != nil {
		return cpuInventory{}, metrics.Unavailable("cpu info", err)
	}
	if len(info) == 0 {
		return cpuInventory{}, metrics.Unavailable("cpu info", errEmptyReading)
	}
	return cpuInventory{Cores: int(info[0].Cores), Model: info[0].ModelName}, nil
}

func memUsage() (float64, error) {
	v, err := mem.VirtualMemory()
	if err != nil {
		return 0, metrics.Unavailable("memory", err)
	}
	return v.UsedPercent, nil
}

func memoryDetails() (memoryDetail, error) {
	virtual, err := mem.VirtualMemory()
	if err != nil {
		return memoryDetail{}, metrics.Unavailable("memory detail", err)
	}
	swap, err := mem.SwapMemory()
	if err != nil {
		return memoryDetail{}, metrics.Unavailable("swap", err)
	}
	return memoryDetail{
		Physical: virtual.UsedPercent,
		Virtual:  virtual.UsedPercent,
		Swap:     swap.UsedPercent,
	}, nil
}

// diskCounters returns cumulative read/write byte counters summed over all
// devices.
func diskCounters() (read, write uint64, err error) {
	counters, err := disk.IOCounters()
	if err != nil {
		return 0, 0, metrics.Unavailable("disk io", err)
	}
	for _, c := range counters {
		read += c.ReadBytes
		write += c.WriteBytes
	}
	return read, write, nil
}

// netCounters returns cumulative sent/received byte counters aggregated over
// all interfaces.
func netCounters() (sent, recv uint64, err error) {
	counters, err := net.IOCounters(false)
	if err != nil {
		return 0, 0, metrics.Unavailable("net io", err)
	}
	if len(counters) == 0 {
		return 0, 0, metrics.Unavailable("net io", errEmptyReading)
	}
	return counters[0].BytesSent, counters[0].BytesRecv, nil
}

func diskUsage() (diskSpace, error) {
	path := "/"
	if runtime.GOOS == "windows" {
		path = "C:\\"
	}
	usage, err := disk.Usage(path)
	if err != nil {
		return diskSpace{}, metrics.Unavailable("disk usage", err)
	}
	return diskSpace{
		Total:       float64(usage.Total),
		Used:        float64(usage.Used),
		Free:        float64(usage.Free),
		UsedPercent: usage.UsedPercent,
	}, nil
}

func networkStatus() ([]ifaceStatus, error) {
	interfaces, err := net.Interfaces()
	if err != nil {
		return nil, metrics.Unavailable("net interfaces", err)
	}

	var result []ifaceStatus
	for _, iface := range interfaces {
		if iface.Name == "lo" || iface.Name == "Loopback" {
			continue
		}
		status := ifaceStatus{Name: iface.Name}
		for _, flag := range iface.Flags {
			if flag == "up" {
				status.Up = 1.0
				break
			}
		}
		if len(iface.Addrs) > 0 {
			status.IP = iface.Addrs[0].Addr
		}
		result = append(result, status)
	}
	return result, nil
}

func systemUptime() (float64, error) {
	uptime, err := host.Uptime()
	if err != nil {
		return 0, metrics.Unavailable("uptime", err)
	}
	return float64(uptime), nil
}

// topProcesses lists the count heaviest processes by CPU. Scanning the whole
// table is bounded: after count*10 readable entries the scan stops.
func topProcesses(count int) ([]topProcess, error) {
	procs, err := process.Processes()
	if err != nil {
		return nil, metrics.Unavailable("process list", err)
	}

	var infos []topProcess
	for _, p := range procs {
		if len(infos) >= count*10 {
			break
		}
		name, err := p.Name()
		if err != nil || name == "" {
			continue
		}
		cpuPercent, err := p.CPUPercent()
		if err != nil {
			cpuPercent = 0
		}
		memPercent, err := p.MemoryPercent()
		if err != nil {
			memPercent = 0
		}
		infos = append(infos, topProcess{
			Name:       name,
			PID:        p.Pid,
			CPUPercent: cpuPercent,
			MemPercent: float64(memPercent),
		})
	}

	sort.Slice(infos, func(i, j int) bool {
		return infos[i].CPUPercent > infos[j].CPUPercent
	})
	if len(infos) > count {
		infos = infos[:count]
	}
	return infos, nil
}

// batteryStatus reads battery state where the OS exposes one. Hosts without
// a battery report unavailable, which the collector recovers by omission.
func batteryStatus() (batteryState, error) {
	if runtime.GOOS != "linux" {
		return batteryState{}, metrics.Unavailable("battery", errNoBattery)
	}

	matches, err := filepath.Glob("/sys/class/power_supply/BAT*/capacity")
	if err != nil || len(matches) == 0 {
		return batteryState{}, metrics.Unavailable("battery", errNoBattery)
	}

	data, err := os.ReadFile(matches[0])
	if err != nil {
		return batteryState{}, metrics.Unavailable("battery", err)
	}
	percent, err := strconv.ParseFloat(strings.TrimSpace(string(data)), 64)
	if err != nil {
		return batteryState{}, metrics.Unavailable("battery", err)
	}

	state := batteryState{Percent: percent}
	statusPath := filepath.Join(filepath.Dir(matches[0]), "status")
	if data, err := os.ReadFile(statusPath); err == nil {
		s := strings.TrimSpace(string(data))
		if s == "Charging" || s == "Full" {
			state.Plugged = 1.0
		}
	}
	return state, nil
}
