package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"telemetry-agent/internal/metrics"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "data", "telemetry.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func snapshotAt(ts time.Time, values map[string]float64) *metrics.ResourceSnapshot {
	snap := &metrics.ResourceSnapshot{Timestamp: ts}
	for metricType, value := range values {
		snap.Metrics = append(snap.Metrics, metrics.Metric{Type: metricType, Value: value})
	}
	return snap
}

func TestOpenCreatesParentDirectory(t *testing.T) {
	path := filepath.Join(t.TempDir(), "deeply", "nested", "dir", "telemetry.db")
	s, err := Open(path)
	require.NoError(t, err)
	defer s.Close()

	assert.FileExists(t, path)
}

func TestBatchWriterFlushPersistsAllMetrics(t *testing.T) {
	s := newTestStore(t)
	w := NewBatchWriter(s, 8, time.Second, zap.NewNop())

	base := time.Now().UTC().Truncate(time.Second)
	w.buffer = append(w.buffer,
		snapshotAt(base, map[string]float64{"cpu": 10, "ram": 40}),
		snapshotAt(base.Add(2*time.Second), map[string]float64{"cpu": 20, "ram": 45}),
	)
	w.flush()
	assert.Empty(t, w.buffer)

	points, err := s.MetricHistory("cpu", base.Add(-time.Minute))
	require.NoError(t, err)
	require.Len(t, points, 2)

	// oldest first
	assert.Equal(t, 10.0, points[0].Value)
	assert.Equal(t, 20.0, points[1].Value)
	assert.True(t, points[0].Timestamp.Before(points[1].Timestamp))
}

func TestFlushEmptyBufferIsNoop(t *testing.T) {
	s := newTestStore(t)
	w := NewBatchWriter(s, 8, time.Second, zap.NewNop())
	w.flush()

	points, err := s.MetricHistory("cpu", time.Now().Add(-time.Hour))
	require.NoError(t, err)
	assert.Empty(t, points)
}

func TestFlushAfterCloseDropsWindowWithoutPanic(t *testing.T) {
	s := newTestStore(t)
	w := NewBatchWriter(s, 8, time.Second, zap.NewNop())
	w.buffer = append(w.buffer, snapshotAt(time.Now(), map[string]float64{"cpu": 10}))

	require.NoError(t, s.Close())
	w.flush()
	assert.Empty(t, w.buffer)
}

func TestMetricHistoryFiltersByTypeAndTime(t *testing.T) {
	s := newTestStore(t)
	w := NewBatchWriter(s, 8, time.Second, zap.NewNop())

	base := time.Now().UTC().Truncate(time.Second)
	w.buffer = append(w.buffer,
		snapshotAt(base.Add(-2*time.Hour), map[string]float64{"cpu": 5}),
		snapshotAt(base, map[string]float64{"cpu": 15, "ram": 60}),
	)
	w.flush()

	points, err := s.MetricHistory("cpu", base.Add(-time.Hour))
	require.NoError(t, err)
	require.Len(t, points, 1)
	assert.Equal(t, 15.0, points[0].Value)
	assert.Equal(t, "cpu", points[0].Type)
}

func TestPruneBefore(t *testing.T) {
	s := newTestStore(t)
	w := NewBatchWriter(s, 8, time.Second, zap.NewNop())

	base := time.Now().UTC().Truncate(time.Second)
	w.buffer = append(w.buffer,
		snapshotAt(base.Add(-48*time.Hour), map[string]float64{"cpu": 1, "ram": 2}),
		snapshotAt(base, map[string]float64{"cpu": 3}),
	)
	w.flush()

	removed, err := s.PruneBefore(base.Add(-24 * time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(2), removed)

	points, err := s.MetricHistory("cpu", base.Add(-72*time.Hour))
	require.NoError(t, err)
	require.Len(t, points, 1)
	assert.Equal(t, 3.0, points[0].Value)
}

func TestWriterRunDrainsQueueAndFlushesOnShutdown(t *testing.T) {
	s := newTestStore(t)
	w := NewBatchWriter(s, 8, 10*time.Second, zap.NewNop()) // timer never fires in-test

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		w.Run(ctx)
		close(done)
	}()

	base := time.Now().UTC().Truncate(time.Second)
	w.Queue() <- snapshotAt(base, map[string]float64{"cpu": 33})

	// let the run loop buffer the snapshot, then shut down to force the
	// final flush
	time.Sleep(50 * time.Millisecond)
	cancel()
	<-done

	points, err := s.MetricHistory("cpu", base.Add(-time.Minute))
	require.NoError(t, err)
	require.Len(t, points, 1)
	assert.Equal(t, 33.0, points[0].Value)
}
