// Package metric implements the pluggable fairness-metric catalog
// (MetricRegistry) and the built-in Greediness metric.
package metric

import (
	"fmt"
	"sync"

	"github.com/nova-compute/fairnessd/pkg/vector"
)

// VMSample is one VM's demand or endowment row, tagged with identity.
type VMSample struct {
	InstanceName string
	UserID       string
	ComputeHost  string
	Vector       vector.Vector
}

// VMEntry is one VM's output row from Metric.Map: its normalized
// endowment and the scalar heaviness assigned by the active metric.
type VMEntry struct {
	ComputeHost         string  `json:"compute_host"`
	UserID              string  `json:"user_id"`
	NormalizedEndowment float64 `json:"normalized_endowment"`
	Heaviness           float64 `json:"heaviness"`
}

// Result is the output of Metric.Map: the cloud-wide norm, the reporting
// host, and one VMEntry per VM keyed by instance name.
type Result struct {
	GlobalNorm  [6]float64
	ComputeHost string
	PerVM       map[string]VMEntry
}

// Metric is a pluggable multi-resource fairness metric.
type Metric interface {
	Name() string
	Description() string
	// Map computes Result from the cloud supply vector, per-VM demands
	// and endowments (both keyed by instance name), and the cluster-wide
	// user count. Implementations must fail fast (return an error) on
	// precondition violations rather than silently producing garbage.
	Map(supply vector.Vector, demands, endowments map[string]VMSample, userCount int, computeHost string) (Result, error)
}

// Registry is a statically registered, string-keyed metric catalog — the
// Go replacement for a directory-walk plugin loader.
type Registry struct {
	mu      sync.RWMutex
	metrics map[string]Metric
	active  string
}

// NewRegistry builds a Registry seeded with the given metrics and the
// named active metric. Returns an error if activeName is not among the
// seeded metrics.
func NewRegistry(activeName string, metrics ...Metric) (*Registry, error) {
	r := &Registry{metrics: make(map[string]Metric, len(metrics))}
	for _, m := range metrics {
		r.metrics[m.Name()] = m
	}
	if _, ok := r.metrics[activeName]; !ok {
		return nil, fmt.Errorf("metric: active metric %q not registered", activeName)
	}
	r.active = activeName
	return r, nil
}

// Active returns the currently active metric.
func (r *Registry) Active() Metric {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.metrics[r.active]
}

// SetActive switches the active metric by name. Returns an error (and
// leaves the previous metric in place) if name is not registered.
func (r *Registry) SetActive(name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.metrics[name]; !ok {
		return fmt.Errorf("Metric not found on compute host.")
	}
	r.active = name
	return nil
}

// Description pairs a metric's name with its human-readable description,
// as returned by List — the Go port of original_source's api.get_metrics.
type Description struct {
	Name        string `json:"name"`
	Description string `json:"description"`
}

// List enumerates all registered metrics as {name, description} pairs.
func (r *Registry) List() []Description {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Description, 0, len(r.metrics))
	for _, m := range r.metrics {
		out = append(out, Description{Name: m.Name(), Description: m.Description()})
	}
	return out
}
