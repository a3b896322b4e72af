// Package health runs named dependency checks for the readiness endpoint.
package health

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
)

// DefaultTimeout bounds a single check.
const DefaultTimeout = 2 * time.Second

// Status is the result of one check.
type Status struct {
	Name     string `json:"name"`
	Healthy  bool   `json:"healthy"`
	Critical bool   `json:"critical"`
	Detail   string `json:"detail,omitempty"`
	Latency  string `json:"latency"`
}

// Check returns nil when the dependency is usable.
type Check func(ctx context.Context) error

type entry struct {
	name     string
	check    Check
	critical bool
	timeout  time.Duration
}

// Registry holds the checks in registration order.
type Registry struct {
	mu      sync.RWMutex
	entries []entry
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{}
}

// Register adds a critical check: its failure marks the service unhealthy.
func (r *Registry) Register(name string, check Check) {
	r.add(entry{name: name, check: check, critical: true, timeout: DefaultTimeout})
}

// RegisterInformational adds a check that is reported but never fails the
// aggregate.
func (r *Registry) RegisterInformational(name string, check Check) {
	r.add(entry{name: name, check: check, timeout: DefaultTimeout})
}

func (r *Registry) add(e entry) {
	r.mu.Lock()
	r.entries = append(r.entries, e)
	r.mu.Unlock()
}

// CheckAll runs every check concurrently, each under its own timeout.
// healthy is false when any critical check fails.
func (r *Registry) CheckAll(ctx context.Context) (healthy bool, statuses []Status) {
	r.mu.RLock()
	entries := append([]entry(nil), r.entries...)
	r.mu.RUnlock()

	statuses = make([]Status, len(entries))
	var g errgroup.Group
	for i, e := range entries {
		g.Go(func() error {
			statuses[i] = run(ctx, e)
			return nil
		})
	}
	_ = g.Wait()

	healthy = true
	for _, s := range statuses {
		if s.Critical && !s.Healthy {
			healthy = false
		}
	}
	return healthy, statuses
}

func run(ctx context.Context, e entry) Status {
	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	start := time.Now()
	err := e.check(ctx)
	s := Status{
		Name:     e.name,
		Healthy:  err == nil,
		Critical: e.critical,
		Latency:  time.Since(start).Round(time.Microsecond).String(),
	}
	if err != nil {
		s.Detail = err.Error()
	}
	return s
}
