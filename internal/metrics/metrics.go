// Package metrics defines the data model shared by the collector, the
// fan-out consumers and the persistence layer.
package metrics

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// ErrUnavailable marks an adapter-level failure: the metric source could not
// be read this tick. It is always recovered by omission at the collector
// boundary and never reaches a snapshot consumer.
var ErrUnavailable = errors.New("metric unavailable")

// Unavailable wraps err so it matches ErrUnavailable while keeping the
// original cause in the message. External tool errors are normalized through
// this at the adapter boundary.
func Unavailable(source string, err error) error {
	return fmt.Errorf("%w: %s: %v", ErrUnavailable, source, err)
}

// Metric is a single monitoring reading. Type is a flat namespaced key
// ("cpu", "cpu_core_3", "gpu_process_0", ...); Info carries auxiliary text
// when a single float cannot express the datum.
type Metric struct {
	Type  string  `json:"type"`
	Value float64 `json:"value"`
	Info  string  `json:"info,omitempty"`
}

// ResourceSnapshot is one immutable point-in-time bundle of metrics. Order
// within Metrics is insertion order; consumers index by Type. Snapshots are
// shared by reference across all fan-out consumers and must not be mutated.
type ResourceSnapshot struct {
	Timestamp time.Time `json:"timestamp"`
	Metrics   []Metric  `json:"metrics"`
}

// ProcessKind classifies what a GPU process uses the device for.
type ProcessKind string

const (
	KindCompute  ProcessKind = "C"
	KindGraphics ProcessKind = "G"
	KindBoth     ProcessKind = "C+G"
)

// ProcessStatus is the scheduling state of a GPU process.
type ProcessStatus string

const (
	StatusRunning   ProcessStatus = "running"
	StatusIdle      ProcessStatus = "idle"
	StatusSuspended ProcessStatus = "suspended"
)

// GPUProcess is one process currently holding the GPU. Produced fresh on
// every scan; only ever persisted embedded into snapshot metrics.
type GPUProcess struct {
	PID       int32         `json:"pid"`
	Name      string        `json:"name"`
	GPUUsage  float64       `json:"gpu_usage"`  // percent, not strictly bounded by source
	GPUMemory float64       `json:"gpu_memory"` // MB
	Kind      ProcessKind   `json:"kind"`
	Command   string        `json:"command,omitempty"`
	Status    ProcessStatus `json:"status"`
}

// infoDelim separates sub-fields of composite Info strings. The order and
// delimiter are part of the wire contract with downstream consumers.
const infoDelim = "|"

// ProcessInfoString encodes a top-process entry as "name|pid|mem%".
func ProcessInfoString(name string, pid int32, memPercent float64) string {
	return strings.Join([]string{name, strconv.FormatInt(int64(pid), 10), strconv.FormatFloat(memPercent, 'f', 1, 64)}, infoDelim)
}

// GPUProcessInfoString encodes a GPU process entry as
// "name|pid|mem_mb|kind|status".
func GPUProcessInfoString(p GPUProcess) string {
	return strings.Join([]string{
		p.Name,
		strconv.FormatInt(int64(p.PID), 10),
		strconv.FormatFloat(p.GPUMemory, 'f', 1, 64),
		string(p.Kind),
		string(p.Status),
	}, infoDelim)
}
