// Package allocator implements ResourceAllocator: turns collected
// heavinesses into per-local-VM controller setpoints and pushes them to
// the Enforcer.
package allocator

import (
	"fmt"
	"sort"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/nova-compute/fairnessd/pkg/enforcer"
	"github.com/nova-compute/fairnessd/pkg/exchange"
	"github.com/nova-compute/fairnessd/pkg/metric"
	"github.com/nova-compute/fairnessd/pkg/metrics"
	"github.com/nova-compute/fairnessd/pkg/vector"
)

// baseline setpoints correspond to an unthrottled VM (heaviness == 0),
// matching cgroup v2's neutral cpu.weight/io.weight default of 100 and a
// conventional mid-range tc priority.
const (
	baselineCPUShares   = 100
	baselineDiskWeight  = 100
	baselineNetPriority = 100
)

// LocalVM is one VM hosted on this agent, as needed to derive its
// setpoints and push them to the network Enforcer.
type LocalVM struct {
	InstanceName string
	SourceIP     string
	UserID       string
}

// Allocator is the single-flight ResourceAllocator: reallocate() is
// serialized so that at most one round is ever in flight, per spec.md §5.
type Allocator struct {
	mu       sync.Mutex // guards inFlight; serializes reallocation
	inFlight bool
	enforcer enforcer.Enforcer
	stats    StatsRecorder
	gauges   *metrics.Collectors
	log      *logrus.Entry
}

// StatsRecorder is the subset of *rui.StatsSink the allocator writes
// prioritization rows to; kept as an interface so tests don't need a real
// CSV file.
type StatsRecorder interface {
	AddPrioritization(instance string, heaviness, cpuShares, memorySoftLimit, diskWeight, netPriority float64)
}

// New builds an Allocator. stats may be nil to disable CSV export, and
// gauges may be nil to disable Prometheus heaviness export.
func New(enf enforcer.Enforcer, stats StatsRecorder, gauges *metrics.Collectors, log *logrus.Entry) *Allocator {
	return &Allocator{enforcer: enf, stats: stats, gauges: gauges, log: log}
}

// Reallocate derives setpoints for each local VM from local — the per-VM
// heavinesses the caller has already popped from ex (one map per peer)
// and merged — and pushes them to the Enforcer. It does not pop from ex
// itself, so a map queued behind the one just consumed stays queued for
// the next round. Returns
// immediately (without error) if a reallocation is already in flight —
// the caller's trigger condition will re-check readiness afterwards, per
// spec.md §5.
func (a *Allocator) Reallocate(ex *exchange.Exchange, localVMs []LocalVM, local map[string]metric.VMEntry, globalNorm [6]float64, fairnessQuota vector.Vector) error {
	a.mu.Lock()
	if a.inFlight {
		a.mu.Unlock()
		return nil
	}
	a.inFlight = true
	a.mu.Unlock()
	defer func() {
		a.mu.Lock()
		a.inFlight = false
		a.mu.Unlock()
	}()

	setpoints := make([]enforcer.Setpoint, 0, len(localVMs))
	sourceIPs := make(map[string]string, len(localVMs))
	for _, vm := range localVMs {
		entry, ok := local[vm.InstanceName]
		if !ok {
			continue
		}
		sp := deriveSetpoint(vm.InstanceName, entry, fairnessQuota)
		setpoints = append(setpoints, sp)
		sourceIPs[vm.InstanceName] = vm.SourceIP

		if a.stats != nil {
			a.stats.AddPrioritization(vm.InstanceName, entry.Heaviness, sp.CPUShares, sp.MemorySoftLimit, sp.DiskWeight, sp.NetPriority)
		}
		if a.gauges != nil {
			a.gauges.Heaviness.WithLabelValues(vm.InstanceName).Set(entry.Heaviness)
		}
	}

	// Stable ordering within a round: process (and apply) in
	// deterministic instance-name order so re-running a round with
	// unchanged inputs produces unchanged enforcement calls.
	sort.Slice(setpoints, func(i, j int) bool { return setpoints[i].InstanceName < setpoints[j].InstanceName })

	for _, sp := range setpoints {
		if err := a.enforcer.Apply(sp); err != nil {
			a.log.WithError(err).WithField("instance", sp.InstanceName).Warn("allocator: enforcer apply failed for VM, continuing with remaining VMs")
		}
	}

	if len(setpoints) > 0 {
		if err := a.enforcer.ApplyNetwork(setpoints, sourceIPs); err != nil {
			return fmt.Errorf("allocator: network enforcement: %w", err)
		}
	}
	return nil
}

// deriveSetpoint maps (heaviness, normalizedEndowment) onto the four
// controller setpoints (spec.md §4.6 leaves the exact formulas open).
// weight = 1/(1+max(heaviness,0)) never exceeds 1, so every setpoint here
// is bounded by its baseline. For positive heaviness the weight strictly
// decreases as heaviness grows, so of two VMs with positive heaviness the
// heavier one gets strictly lower setpoints. Every VM with heaviness <= 0
// gets weight 1 and the baseline setpoints, so such VMs are not ordered
// among themselves.
func deriveSetpoint(instanceName string, entry metric.VMEntry, fairnessQuota vector.Vector) enforcer.Setpoint {
	weight := 1 / (1 + maxFloat(entry.Heaviness, 0))
	return enforcer.Setpoint{
		InstanceName:    instanceName,
		CPUShares:       baselineCPUShares * weight,
		MemorySoftLimit: quotaOrFallback(fairnessQuota.MemoryUsed, entry.NormalizedEndowment) * weight,
		DiskWeight:      baselineDiskWeight * weight,
		NetPriority:     baselineNetPriority * weight,
	}
}

func quotaOrFallback(quota, fallback float64) float64 {
	if quota > 0 {
		return quota
	}
	return fallback
}

func maxFloat(a, b float64) float64 {
	if a > b {
		return a
	}
	return b
}
