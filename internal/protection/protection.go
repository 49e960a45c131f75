// Package protection classifies processes against a table of critical system
// processes and decides whether control actions may proceed. The table is
// built once at startup and is immutable afterwards except for the
// administrative append, so reads take only the shared lock.
package protection

import (
	"fmt"
	"runtime"
	"strings"
	"sync"

	"github.com/shirou/gopsutil/v3/process"
	"go.uber.org/zap"
)

// Level is the escalating protection classification. Critical and High are
// never controllable; Medium is controllable with a warning; Low and None
// are controllable silently.
type Level int

const (
	None Level = iota
	Low
	Medium
	High
	Critical
)

func (l Level) String() string {
	switch l {
	case Low:
		return "low"
	case Medium:
		return "medium"
	case High:
		return "high"
	case Critical:
		return "critical"
	default:
		return "none"
	}
}

// Entry describes one protected process.
type Entry struct {
	Name         string `json:"name"`
	Description  string `json:"description"`
	Level        Level  `json:"level"`
	Platform     string `json:"platform"` // windows, linux, darwin, all
	MinPID       int32  `json:"min_pid,omitempty"`
	MaxPID       int32  `json:"max_pid,omitempty"`
	Kernel       bool   `json:"kernel,omitempty"`
	Service      bool   `json:"service,omitempty"`
	MatchPattern string `json:"match_pattern,omitempty"` // ^prefix, suffix$, or substring
}

// RefusalError reports that a process is protected above the controllable
// threshold.
type RefusalError struct {
	Name        string
	PID         int32
	Level       Level
	Description string
}

func (e *RefusalError) Error() string {
	return fmt.Sprintf("%s protected process cannot be controlled: %s (PID %d) - %s",
		e.Level, e.Name, e.PID, e.Description)
}

// parentLookup resolves a PID to its parent's name and PID. Swappable in
// tests; the default asks the OS through gopsutil.
type parentLookup func(pid int32) (name string, ppid int32, err error)

func osParentLookup(pid int32) (string, int32, error) {
	proc, err := process.NewProcess(pid)
	if err != nil {
		return "", 0, err
	}
	ppid, err := proc.Ppid()
	if err != nil {
		return "", 0, err
	}
	parent, err := process.NewProcess(ppid)
	if err != nil {
		return "", 0, err
	}
	name, err := parent.Name()
	if err != nil {
		return "", 0, err
	}
	return name, ppid, nil
}

// Service is the classification engine shared by all control callers.
type Service struct {
	mu       sync.RWMutex
	entries  map[string]*Entry // keyed platform_lowername
	platform string
	logger   *zap.Logger
	parentOf parentLookup
}

var (
	defaultService *Service
	defaultOnce    sync.Once
)

// Default returns the process-wide Service, constructing it on first access.
func Default(logger *zap.Logger) *Service {
	defaultOnce.Do(func() {
		defaultService = NewService(logger)
	})
	return defaultService
}

// NewService builds a Service with the built-in table for the current
// platform.
func NewService(logger *zap.Logger) *Service {
	s := &Service{
		entries:  make(map[string]*Entry),
		platform: runtime.GOOS,
		logger:   logger,
		parentOf: osParentLookup,
	}
	for _, entry := range builtinEntries() {
		s.entries[key(entry.Platform, entry.Name)] = entry
	}
	logger.Info("critical process table initialized",
		zap.Int("entries", len(s.entries)),
		zap.String("platform", s.platform))
	return s
}

func key(platform, name string) string {
	return platform + "_" + strings.ToLower(name)
}

// Classify determines whether the named process is protected. Lookup order:
// exact name on this platform, exact name cross-platform, pattern scan, then
// the dynamic rules (fixed PIDs and single-level parent inheritance).
func (s *Service) Classify(name string, pid int32) (*Entry, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.classify(name, pid, true)
}

// classify runs the lookup with the read lock already held. checkParent
// bounds ancestry inheritance to a single level: when classifying a parent,
// its own ancestry is not consulted.
func (s *Service) classify(name string, pid int32, checkParent bool) (*Entry, bool) {
	lower := strings.ToLower(name)

	if entry, ok := s.entries[key(s.platform, lower)]; ok && matchesPIDRange(entry, pid) {
		return entry, true
	}
	if entry, ok := s.entries[key("all", lower)]; ok && matchesPIDRange(entry, pid) {
		return entry, true
	}

	for _, entry := range s.entries {
		if entry.Platform != s.platform && entry.Platform != "all" {
			continue
		}
		if entry.MatchPattern == "" {
			continue
		}
		if matchesPattern(entry.MatchPattern, lower) && matchesPIDRange(entry, pid) {
			return entry, true
		}
	}

	if entry := s.classifyFixedPID(name, pid); entry != nil {
		return entry, true
	}

	if checkParent {
		if entry := s.classifyByParent(name, pid); entry != nil {
			return entry, true
		}
	}
	return nil, false
}

// classifyFixedPID applies the PID rules that hold independent of the table:
// PID 1 is the init/launch process everywhere, PIDs 2-10 are kernel threads
// on POSIX platforms, and PID 4 is the System process on Windows.
func (s *Service) classifyFixedPID(name string, pid int32) *Entry {
	critical := false
	description := ""
	switch {
	case pid == 1:
		critical = true
		description = "init/launch process (PID 1)"
	case pid >= 2 && pid <= 10 && (s.platform == "linux" || s.platform == "darwin"):
		critical = true
		description = "kernel thread PID band"
	case pid == 4 && s.platform == "windows":
		critical = true
		description = "Windows System process (PID 4)"
	}
	if !critical {
		return nil
	}
	return &Entry{
		Name:        name,
		Description: description,
		Level:       Critical,
		Platform:    s.platform,
		Kernel:      true,
	}
}

// classifyByParent inherits the parent's protection when the parent itself
// classifies as Critical or High. Single level only: process ancestry in a
// live OS is acyclic, and one level bounds lookup cost.
func (s *Service) classifyByParent(name string, pid int32) *Entry {
	parentName, ppid, err := s.parentOf(pid)
	if err != nil {
		return nil
	}
	parent, ok := s.classify(parentName, ppid, false)
	if !ok || parent.Level < High {
		return nil
	}
	return &Entry{
		Name:        name,
		Description: fmt.Sprintf("child of protected process %s", parentName),
		Level:       parent.Level,
		Platform:    s.platform,
	}
}

func matchesPIDRange(entry *Entry, pid int32) bool {
	if entry.MinPID > 0 && pid < entry.MinPID {
		return false
	}
	if entry.MaxPID > 0 && pid > entry.MaxPID {
		return false
	}
	return true
}

// matchesPattern supports three pattern forms: ^prefix, suffix$, and plain
// substring. Patterns are compared lowercase.
func matchesPattern(pattern, lowerName string) bool {
	pattern = strings.ToLower(pattern)
	if rest, ok := strings.CutPrefix(pattern, "^"); ok {
		return strings.HasPrefix(lowerName, rest)
	}
	if rest, ok := strings.CutSuffix(pattern, "$"); ok {
		return strings.HasSuffix(lowerName, rest)
	}
	return strings.Contains(lowerName, pattern)
}

// CanControl is the single gate every control operation consults before
// acting. Critical and High refuse; Medium is allowed with exactly one
// warning log; Low, None and unmatched processes are allowed silently.
func (s *Service) CanControl(name string, pid int32) error {
	entry, ok := s.Classify(name, pid)
	if !ok {
		return nil
	}
	switch entry.Level {
	case Critical, High:
		return &RefusalError{Name: name, PID: pid, Level: entry.Level, Description: entry.Description}
	case Medium:
		s.logger.Warn("controlling medium-protected process",
			zap.String("process", name),
			zap.Int32("pid", pid),
			zap.String("description", entry.Description))
	}
	return nil
}

// AddCustom appends an administrative entry, taking the exclusive lock for
// the single insert. An empty platform defaults to the current one.
func (s *Service) AddCustom(entry *Entry) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if entry.Platform == "" {
		entry.Platform = s.platform
	}
	s.entries[key(entry.Platform, entry.Name)] = entry
	s.logger.Info("custom critical process added",
		zap.String("name", entry.Name),
		zap.String("level", entry.Level.String()),
		zap.String("platform", entry.Platform))
}

// Entries returns the table entries applicable to the current platform.
func (s *Service) Entries() []*Entry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var result []*Entry
	for _, entry := range s.entries {
		if entry.Platform == s.platform || entry.Platform == "all" {
			result = append(result, entry)
		}
	}
	return result
}
