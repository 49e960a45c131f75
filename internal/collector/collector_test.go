package collector

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"telemetry-agent/internal/gpu"
	"telemetry-agent/internal/metrics"
)

type recordingHub struct {
	published []*metrics.ResourceSnapshot
}

func (r *recordingHub) Publish(s *metrics.ResourceSnapshot) {
	r.published = append(r.published, s)
}

// newTestCollector builds a collector with fully deterministic adapters. Each
// test overrides the adapters it cares about.
func newTestCollector(t *testing.T, opts Options) (*Collector, *recordingHub, chan *metrics.ResourceSnapshot) {
	t.Helper()
	hub := &recordingHub{}
	queue := make(chan *metrics.ResourceSnapshot, 8)
	c := New(opts, gpu.NewScanner(zap.NewNop()), hub, queue, zap.NewNop())
	c.src = adapters{
		cpuUsage:     func(time.Duration) (float64, error) { return 42.0, nil },
		cpuCoreUsage: func(time.Duration) ([]float64, error) { return []float64{10, 20}, nil },
		cpuInfo:      func() (cpuInventory, error) { return cpuInventory{Model: "TestCPU", Cores: 8}, nil },
		memUsage:     func() (float64, error) { return 55.5, nil },
		memoryDetails: func() (memoryDetail, error) {
			return memoryDetail{Physical: 50, Virtual: 40, Swap: 5}, nil
		},
		diskCounters: func() (uint64, uint64, error) { return 1000, 2000, nil },
		netCounters:  func() (uint64, uint64, error) { return 3000, 4000, nil },
		diskUsage: func() (diskSpace, error) {
			return diskSpace{Total: 100, Used: 60, Free: 40, UsedPercent: 60}, nil
		},
		networkStatus: func() ([]ifaceStatus, error) {
			return []ifaceStatus{{Name: "eth0", Up: 1, IP: "10.0.0.2"}}, nil
		},
		uptime: func() (float64, error) { return 12345, nil },
		topProcesses: func(n int) ([]topProcess, error) {
			return []topProcess{{Name: "worker", PID: 77, CPUPercent: 9.5, MemPercent: 1.5}}, nil
		},
		battery: func() (batteryState, error) { return batteryState{}, errNoBattery },
		gpuBoard: func() (*gpu.BoardInfo, error) {
			return &gpu.BoardInfo{Name: "TestGPU", Usage: 30, MemoryUsed: 512, MemoryTotal: 4096, Temperature: 60, Power: 120}, nil
		},
		gpuProcesses: func() ([]metrics.GPUProcess, error) {
			return []metrics.GPUProcess{{PID: 88, Name: "render", GPUUsage: 25, GPUMemory: 256,
				Kind: metrics.KindGraphics, Status: metrics.StatusRunning}}, nil
		},
	}
	return c, hub, queue
}

func defaultTestOptions() Options {
	return Options{
		Interval:       2 * time.Second,
		EnqueueTimeout: 50 * time.Millisecond,
		DenseTicks:     10,
		RarePeriod:     15,
		ProcessPeriod:  5,
		TopProcesses:   5,
	}
}

func metricByType(t *testing.T, snapshot *metrics.ResourceSnapshot, metricType string) *metrics.Metric {
	t.Helper()
	for i := range snapshot.Metrics {
		if snapshot.Metrics[i].Type == metricType {
			return &snapshot.Metrics[i]
		}
	}
	return nil
}

func TestRate(t *testing.T) {
	assert.Equal(t, 500.0, rate(2000, 1000, 2.0))
	assert.Equal(t, 0.0, rate(1000, 1000, 2.0))
	assert.Equal(t, 0.0, rate(2000, 1000, 0))
	assert.Equal(t, 0.0, rate(2000, 1000, -1))
}

func TestTickComputesRatesFromPreviousReadings(t *testing.T) {
	c, _, _ := newTestCollector(t, defaultTestOptions())

	c.prevDiskRead, c.prevDiskWrite = 0, 0
	c.prevNetSent, c.prevNetRecv = 1000, 1000

	now := time.Now()
	c.lastSample = now.Add(-2 * time.Second)

	snapshot := c.tick(now)
	require.NotNil(t, snapshot)
	assert.Equal(t, now, snapshot.Timestamp)

	// diskCounters report 1000/2000 over 2s from a zero baseline
	diskRead := metricByType(t, snapshot, "disk_read")
	require.NotNil(t, diskRead)
	assert.Equal(t, 500.0, diskRead.Value)
	diskWrite := metricByType(t, snapshot, "disk_write")
	require.NotNil(t, diskWrite)
	assert.Equal(t, 1000.0, diskWrite.Value)

	// netCounters report 3000/4000 from a 1000 baseline
	netSent := metricByType(t, snapshot, "net_sent")
	require.NotNil(t, netSent)
	assert.Equal(t, 1000.0, netSent.Value)
	netRecv := metricByType(t, snapshot, "net_recv")
	require.NotNil(t, netRecv)
	assert.Equal(t, 1500.0, netRecv.Value)

	// previous readings advanced for the next tick
	assert.Equal(t, uint64(1000), c.prevDiskRead)
	assert.Equal(t, uint64(3000), c.prevNetSent)
}

func TestTickClampsRateWhenNoTimeElapsed(t *testing.T) {
	c, _, _ := newTestCollector(t, defaultTestOptions())
	now := time.Now()
	c.lastSample = now // zero elapsed

	snapshot := c.tick(now)
	diskRead := metricByType(t, snapshot, "disk_read")
	require.NotNil(t, diskRead)
	assert.Equal(t, 0.0, diskRead.Value)
}

func TestTickToleratesFailingAdapters(t *testing.T) {
	c, _, _ := newTestCollector(t, defaultTestOptions())
	boom := errors.New("boom")
	c.src.cpuUsage = func(time.Duration) (float64, error) { return 0, boom }
	c.src.diskCounters = func() (uint64, uint64, error) { return 0, 0, boom }
	c.src.gpuBoard = func() (*gpu.BoardInfo, error) { return nil, metrics.Unavailable("nvidia-smi", boom) }

	c.lastSample = time.Now().Add(-2 * time.Second)
	snapshot := c.tick(time.Now())

	assert.Nil(t, metricByType(t, snapshot, "cpu"))
	assert.Nil(t, metricByType(t, snapshot, "disk_read"))
	assert.Nil(t, metricByType(t, snapshot, "gpu_usage"))

	// the remaining categories still arrive
	require.NotNil(t, metricByType(t, snapshot, "ram"))
	require.NotNil(t, metricByType(t, snapshot, "net_sent"))
	require.NotNil(t, metricByType(t, snapshot, "system_uptime"))
}

func TestRareCategoryGating(t *testing.T) {
	opts := defaultTestOptions()
	c, _, _ := newTestCollector(t, opts)
	c.lastSample = time.Now().Add(-2 * time.Second)

	present := func(tickNo int, metricType string) bool {
		c.tickCounter = tickNo - 1
		snapshot := c.tick(time.Now())
		return metricByType(t, snapshot, metricType) != nil
	}

	// dense phase: every tick through DenseTicks carries the rare categories
	assert.True(t, present(1, "cpu_info"))
	assert.True(t, present(10, "cpu_info"))

	// sparse phase: only multiples of the rare period
	assert.False(t, present(11, "cpu_info"))
	assert.False(t, present(29, "cpu_info"))
	assert.True(t, present(30, "cpu_info"))

	// process listing follows its own shorter period
	assert.False(t, present(11, "process_0"))
	assert.True(t, present(15, "process_0"))
	assert.False(t, present(16, "gpu_usage"))
	assert.True(t, present(20, "gpu_usage"))
}

func TestRequestGPURefreshOverridesGating(t *testing.T) {
	c, _, _ := newTestCollector(t, defaultTestOptions())
	c.lastSample = time.Now().Add(-2 * time.Second)
	c.tickCounter = 10 // next tick is 11: outside dense phase, off both periods

	c.RequestGPURefresh()
	snapshot := c.tick(time.Now())
	assert.NotNil(t, metricByType(t, snapshot, "gpu_usage"))
	assert.NotNil(t, metricByType(t, snapshot, "gpu_process_0"))

	// the flag is consumed: the following off-period tick omits GPU again
	snapshot = c.tick(time.Now())
	assert.Nil(t, metricByType(t, snapshot, "gpu_usage"))
}

func TestProcessMetricEncoding(t *testing.T) {
	c, _, _ := newTestCollector(t, defaultTestOptions())
	c.lastSample = time.Now().Add(-2 * time.Second)

	snapshot := c.tick(time.Now())
	proc := metricByType(t, snapshot, "process_0")
	require.NotNil(t, proc)
	assert.Equal(t, 9.5, proc.Value)
	assert.Equal(t, "worker|77|1.5", proc.Info)

	gpuProc := metricByType(t, snapshot, "gpu_process_0")
	require.NotNil(t, gpuProc)
	assert.Equal(t, 25.0, gpuProc.Value)
	assert.Equal(t, "render|88|256.0|G|running", gpuProc.Info)
}

func TestDispatchPublishesAndEnqueues(t *testing.T) {
	c, hub, queue := newTestCollector(t, defaultTestOptions())
	snapshot := &metrics.ResourceSnapshot{Timestamp: time.Now()}

	c.dispatch(snapshot)

	require.Len(t, hub.published, 1)
	assert.Same(t, snapshot, hub.published[0])
	select {
	case got := <-queue:
		assert.Same(t, snapshot, got)
	default:
		t.Fatal("snapshot not enqueued")
	}
}

func TestDispatchDropsSnapshotWhenQueueStaysFull(t *testing.T) {
	opts := defaultTestOptions()
	opts.EnqueueTimeout = 20 * time.Millisecond
	hub := &recordingHub{}
	queue := make(chan *metrics.ResourceSnapshot) // unbuffered, never drained
	c := New(opts, gpu.NewScanner(zap.NewNop()), hub, queue, zap.NewNop())

	start := time.Now()
	c.dispatch(&metrics.ResourceSnapshot{Timestamp: time.Now()})
	waited := time.Since(start)

	// the hub still got the snapshot and the collector was held for at most
	// roughly the enqueue timeout
	assert.Len(t, hub.published, 1)
	assert.GreaterOrEqual(t, waited, opts.EnqueueTimeout)
	assert.Less(t, waited, 10*opts.EnqueueTimeout)
}

func TestBatteryAbsenceIsNotAnError(t *testing.T) {
	c, _, _ := newTestCollector(t, defaultTestOptions())
	c.lastSample = time.Now().Add(-2 * time.Second)

	snapshot := c.tick(time.Now())
	assert.Nil(t, metricByType(t, snapshot, "battery_percent"))
	assert.Nil(t, metricByType(t, snapshot, "battery_plugged"))
	require.NotNil(t, metricByType(t, snapshot, "cpu"))
}
