package detector

import (
	"fmt"
	"sort"
	"sync"
	"time"
)

// DetectorInfo holds runtime info for a registered detector (for status APIs).
type DetectorInfo struct {
	Name         string
	Status       string // "pending", "running", "stopped", "error"
	SignalsSent  int64
	AlertsSent   int64
	LastEmission *time.Time
	ErrorCount   int64
}

// Registry manages a named collection of detectors that can be looked up at
// runtime. It is safe for concurrent use.
type Registry struct {
	detectors map[string]Detector
	info      map[string]*DetectorInfo
	mu        sync.RWMutex
}

// NewRegistry returns an empty, ready-to-use Registry.
func NewRegistry() *Registry {
	return &Registry{
		detectors: make(map[string]Detector),
		info:      make(map[string]*DetectorInfo),
	}
}

// Register adds a detector to the registry under the given name. If a
// detector with the same name already exists it will be replaced.
func (r *Registry) Register(name string, d Detector) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.detectors[name] = d
	r.info[name] = &DetectorInfo{Name: name, Status: "pending"}
}

// Get retrieves a detector by name. It returns an error when the name is not
// registered.
func (r *Registry) Get(name string) (Detector, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	d, ok := r.detectors[name]
	if !ok {
		return nil, fmt.Errorf("detector %q: not registered", name)
	}
	return d, nil
}

// All returns the registered detectors in name order.
func (r *Registry) All() []Detector {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.detectors))
	for n := range r.detectors {
		names = append(names, n)
	}
	sort.Strings(names)

	out := make([]Detector, 0, len(names))
	for _, n := range names {
		out = append(out, r.detectors[n])
	}
	return out
}

// List returns the names of all registered detectors in sorted order.
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.detectors))
	for n := range r.detectors {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// RecordEmission updates a detector's runtime counters after it emitted.
func (r *Registry) RecordEmission(name string, signals, alerts int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	info, ok := r.info[name]
	if !ok {
		return
	}
	info.Status = "running"
	info.SignalsSent += int64(signals)
	info.AlertsSent += int64(alerts)
	now := time.Now().UTC()
	info.LastEmission = &now
}

// RecordError increments a detector's error counter.
func (r *Registry) RecordError(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if info, ok := r.info[name]; ok {
		info.ErrorCount++
	}
}

// ListInfo returns runtime info for all registered detectors in name order.
func (r *Registry) ListInfo() []DetectorInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.info))
	for n := range r.info {
		names = append(names, n)
	}
	sort.Strings(names)

	infos := make([]DetectorInfo, 0, len(names))
	for _, n := range names {
		infos = append(infos, *r.info[n])
	}
	return infos
}
