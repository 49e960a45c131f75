// Package collector drives periodic metric collection. A single sequential
// loop invokes the source adapters each tick, computes rates from consecutive
// counter reads, assembles one immutable snapshot and hands it to the fan-out
// consumers. Adapter failures are swallowed here: the metric is omitted for
// the tick and collection continues.
package collector

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"telemetry-agent/internal/gpu"
	"telemetry-agent/internal/metrics"
)

var (
	errEmptyReading = errors.New("empty reading")
	errNoBattery    = errors.New("no battery present")
)

// Broadcaster receives every snapshot for real-time delivery. Publish must
// never block the caller.
type Broadcaster interface {
	Publish(*metrics.ResourceSnapshot)
}

// adapters bundles the metric sources so tests can substitute failing or
// deterministic ones.
type adapters struct {
	cpuUsage      func(time.Duration) (float64, error)
	cpuCoreUsage  func(time.Duration) ([]float64, error)
	cpuInfo       func() (cpuInventory, error)
	memUsage      func() (float64, error)
	memoryDetails func() (memoryDetail, error)
	diskCounters  func() (read, write uint64, err error)
	netCounters   func() (sent, recv uint64, err error)
	diskUsage     func() (diskSpace, error)
	networkStatus func() ([]ifaceStatus, error)
	uptime        func() (float64, error)
	topProcesses  func(int) ([]topProcess, error)
	battery       func() (batteryState, error)
	gpuBoard      func() (*gpu.BoardInfo, error)
	gpuProcesses  func() ([]metrics.GPUProcess, error)
}

// Options tune the collection cadence.
type Options struct {
	Interval       time.Duration
	EnqueueTimeout time.Duration // bound on the persistence-queue handoff
	DenseTicks     int           // rare categories sent every tick this long after startup
	RarePeriod     int           // static-info period, in ticks
	ProcessPeriod  int           // process-listing period, in ticks
	TopProcesses   int
}

// Collector owns all collection state: the tick counter, the previous counter
// readings and the last sample time. No other component touches these.
type Collector struct {
	opts   Options
	logger *zap.Logger

	hub   Broadcaster
	queue chan<- *metrics.ResourceSnapshot

	src adapters

	tickCounter  int
	prevDiskRead uint64
	prevDiskWrite uint64
	prevNetSent  uint64
	prevNetRecv  uint64
	lastSample   time.Time

	gpuRefresh atomic.Bool

	sampleWindow time.Duration
}

// New creates a Collector publishing to hub and enqueueing to queue. The
// GPU scanner provides the two vendor-tool adapters.
func New(opts Options, scanner *gpu.Scanner, hub Broadcaster, queue chan<- *metrics.ResourceSnapshot, logger *zap.Logger) *Collector {
	// The CPU-percent sampling window blocks in-tick and must stay strictly
	// shorter than the interval.
	window := opts.Interval / 2
	if window > time.Second {
		window = time.Second
	}

	return &Collector{
		opts:         opts,
		logger:       logger,
		hub:          hub,
		queue:        queue,
		sampleWindow: window,
		src: adapters{
			cpuUsage:      cpuUsage,
			cpuCoreUsage:  cpuCoreUsage,
			cpuInfo:       cpuInfo,
			memUsage:      memUsage,
			memoryDetails: memoryDetails,
			diskCounters:  diskCounters,
			netCounters:   netCounters,
			diskUsage:     diskUsage,
			networkStatus: networkStatus,
			uptime:        systemUptime,
			topProcesses:  topProcesses,
			battery:       batteryStatus,
			gpuBoard:      scanner.Board,
			gpuProcesses:  scanner.Processes,
		},
	}
}

// RequestGPURefresh forces the GPU-process category on the next tick
// regardless of its sampling cadence. Raised by the transport layer when a
// client needs fresher data than the scheduled scan provides.
func (c *Collector) RequestGPURefresh() {
	c.gpuRefresh.Store(true)
}

// Run drives collection until the context is cancelled. Counters are primed
// once before the first tick so first-tick rates have a baseline.
func (c *Collector) Run(ctx context.Context) {
	ticker := time.NewTicker(c.opts.Interval)
	defer ticker.Stop()

	c.prime()

	for {
		select {
		case <-ctx.Done():
			c.logger.Info("collector stopped")
			return
		case <-ticker.C:
			snapshot := c.tick(time.Now())
			c.dispatch(snapshot)
		}
	}
}

// prime records the initial counter readings and sample time.
func (c *Collector) prime() {
	if read, write, err := c.src.diskCounters(); err == nil {
		c.prevDiskRead, c.prevDiskWrite = read, write
	}
	if sent, recv, err := c.src.netCounters(); err == nil {
		c.prevNetSent, c.prevNetRecv = sent, recv
	}
	c.lastSample = time.Now()
}

// dispatch hands one snapshot to both fan-out consumers. The hub publish
// never blocks; the persistence enqueue blocks at most the enqueue timeout so
// a stalled store shows up as dropped snapshots, not as unbounded memory or a
// stalled collector.
func (c *Collector) dispatch(snapshot *metrics.ResourceSnapshot) {
	c.hub.Publish(snapshot)

	select {
	case c.queue <- snapshot:
	case <-time.After(c.opts.EnqueueTimeout):
		c.logger.Warn("persistence queue full, dropping snapshot",
			zap.Time("timestamp", snapshot.Timestamp),
			zap.Int("metrics", len(snapshot.Metrics)))
	}
}

// shouldSample gates rare categories: dense during the first DenseTicks
// ticks so new subscribers get context quickly, then sparse every period
// ticks to bound overhead.
func (c *Collector) shouldSample(period int) bool {
	return c.tickCounter <= c.opts.DenseTicks || c.tickCounter%period == 0
}

// rate converts a counter delta into a per-second rate, clamped to zero when
// no time has elapsed.
func rate(current, previous uint64, elapsed float64) float64 {
	if elapsed <= 0 {
		return 0
	}
	return float64(current-previous) / elapsed
}

// tick runs every adapter once and assembles the snapshot. Each failing
// adapter is logged and its metrics omitted; a partial snapshot is valid.
func (c *Collector) tick(now time.Time) *metrics.ResourceSnapshot {
	c.tickCounter++
	elapsed := now.Sub(c.lastSample).Seconds()
	c.lastSample = now

	var out []metrics.Metric
	add := func(m metrics.Metric) { out = append(out, m) }
	skip := func(category string, err error) {
		c.logger.Warn("metric unavailable", zap.String("category", category), zap.Error(err))
	}

	if c.shouldSample(c.opts.RarePeriod) {
		if inv, err := c.src.cpuInfo(); err != nil {
			skip("cpu_info", err)
		} else {
			add(metrics.Metric{Type: "cpu_info", Value: float64(inv.Cores), Info: inv.Model})
		}
	}

	if usage, err := c.src.cpuUsage(c.sampleWindow); err != nil {
		skip("cpu", err)
	} else {
		add(metrics.Metric{Type: "cpu", Value: usage})
	}

	if cores, err := c.src.cpuCoreUsage(c.sampleWindow); err != nil {
		skip("cpu_core", err)
	} else {
		for i, usage := range cores {
			add(metrics.Metric{Type: fmt.Sprintf("cpu_core_%d", i+1), Value: usage})
		}
	}

	if usage, err := c.src.memUsage(); err != nil {
		skip("ram", err)
	} else {
		add(metrics.Metric{Type: "ram", Value: usage})
	}

	if detail, err := c.src.memoryDetails(); err != nil {
		skip("memory_details", err)
	} else {
		add(metrics.Metric{Type: "memory_physical", Value: detail.Physical})
		add(metrics.Metric{Type: "memory_virtual", Value: detail.Virtual})
		add(metrics.Metric{Type: "memory_swap", Value: detail.Swap})
	}

	if read, write, err := c.src.diskCounters(); err != nil {
		skip("disk_io", err)
	} else {
		add(metrics.Metric{Type: "disk_read", Value: rate(read, c.prevDiskRead, elapsed)})
		add(metrics.Metric{Type: "disk_write", Value: rate(write, c.prevDiskWrite, elapsed)})
		c.prevDiskRead, c.prevDiskWrite = read, write
	}

	if sent, recv, err := c.src.netCounters(); err != nil {
		skip("net_io", err)
	} else {
		add(metrics.Metric{Type: "net_sent", Value: rate(sent, c.prevNetSent, elapsed)})
		add(metrics.Metric{Type: "net_recv", Value: rate(recv, c.prevNetRecv, elapsed)})
		c.prevNetSent, c.prevNetRecv = sent, recv
	}

	if uptime, err := c.src.uptime(); err != nil {
		skip("system_uptime", err)
	} else {
		add(metrics.Metric{Type: "system_uptime", Value: uptime})
	}

	if space, err := c.src.diskUsage(); err != nil {
		skip("disk_usage", err)
	} else {
		add(metrics.Metric{Type: "disk_total", Value: space.Total})
		add(metrics.Metric{Type: "disk_used", Value: space.Used})
		add(metrics.Metric{Type: "disk_free", Value: space.Free})
		add(metrics.Metric{Type: "disk_usage_percent", Value: space.UsedPercent})
	}

	if ifaces, err := c.src.networkStatus(); err != nil {
		skip("network_status", err)
	} else {
		for _, nic := range ifaces {
			add(metrics.Metric{Type: fmt.Sprintf("network_%s_status", nic.Name), Value: nic.Up, Info: nic.IP})
		}
	}

	if state, err := c.src.battery(); err != nil {
		c.logger.Debug("battery unavailable", zap.Error(err))
	} else {
		add(metrics.Metric{Type: "battery_percent", Value: state.Percent})
		add(metrics.Metric{Type: "battery_plugged", Value: state.Plugged})
	}

	if c.shouldSample(c.opts.ProcessPeriod) {
		if procs, err := c.src.topProcesses(c.opts.TopProcesses); err != nil {
			skip("process", err)
		} else {
			for i, proc := range procs {
				add(metrics.Metric{
					Type:  fmt.Sprintf("process_%d", i),
					Value: proc.CPUPercent,
					Info:  metrics.ProcessInfoString(proc.Name, proc.PID, proc.MemPercent),
				})
			}
		}
	}

	if c.shouldSample(c.opts.ProcessPeriod) || c.gpuRefresh.Swap(false) {
		if board, err := c.src.gpuBoard(); err != nil {
			skip("gpu", err)
		} else {
			add(metrics.Metric{Type: "gpu_info", Value: board.MemoryTotal, Info: board.Name})
			add(metrics.Metric{Type: "gpu_usage", Value: board.Usage})
			add(metrics.Metric{Type: "gpu_memory_used", Value: board.MemoryUsed})
			add(metrics.Metric{Type: "gpu_memory_total", Value: board.MemoryTotal})
			add(metrics.Metric{Type: "gpu_temperature", Value: board.Temperature})
			add(metrics.Metric{Type: "gpu_power", Value: board.Power})
		}

		if procs, err := c.src.gpuProcesses(); err != nil {
			skip("gpu_process", err)
		} else {
			for i, proc := range procs {
				add(metrics.Metric{
					Type:  fmt.Sprintf("gpu_process_%d", i),
					Value: proc.GPUUsage,
					Info:  metrics.GPUProcessInfoString(proc),
				})
			}
		}
	}

	return &metrics.ResourceSnapshot{Timestamp: now, Metrics: out}
}
