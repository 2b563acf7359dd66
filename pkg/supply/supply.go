// Package supply implements the per-host capacity record (HostSupply) and
// the CloudSupplyRegistry that gossips, stores, and sums those records
// across the cluster.
package supply

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/nova-compute/fairnessd/pkg/membership"
	"github.com/nova-compute/fairnessd/pkg/vector"
)

// bootTimeLayout matches the textual ISO-8601-like stamp used on the wire,
// e.g. "2024-01-02T03:04:05.000000".
const bootTimeLayout = "2006-01-02T15:04:05.000000"

// HostSupply is a per-host, constant-over-lifetime capacity record.
type HostSupply struct {
	ComputeHost       string    `json:"compute_host"`
	BootTime          time.Time `json:"-"`
	CPUCoresWeighted  float64   `json:"cpu_cores_weighted"`
	DiskSpeeds        float64   `json:"disk_speeds"`
	NetworkThroughput float64   `json:"network_throughput"`
	MemoryUsed        float64   `json:"memory_used"`
	SupplyCreatedAt   float64   `json:"supply_created_at"`
}

// wireHostSupply mirrors HostSupply's JSON shape, with BootTime rendered
// as the textual micro-precision stamp spec.md §6 names.
type wireHostSupply struct {
	ComputeHost       string  `json:"compute_host"`
	HostBootTime      string  `json:"host_boottime"`
	CPUCoresWeighted  float64 `json:"cpu_cores_weighted"`
	DiskSpeeds        float64 `json:"disk_speeds"`
	NetworkThroughput float64 `json:"network_throughput"`
	MemoryUsed        float64 `json:"memory_used"`
	SupplyCreatedAt   float64 `json:"supply_created_at"`
}

// MarshalJSON renders the HostSupply wire format from spec.md §6.
func (h HostSupply) MarshalJSON() ([]byte, error) {
	return json.Marshal(wireHostSupply{
		ComputeHost:       h.ComputeHost,
		HostBootTime:      h.BootTime.UTC().Format(bootTimeLayout),
		CPUCoresWeighted:  h.CPUCoresWeighted,
		DiskSpeeds:        h.DiskSpeeds,
		NetworkThroughput: h.NetworkThroughput,
		MemoryUsed:        h.MemoryUsed,
		SupplyCreatedAt:   h.SupplyCreatedAt,
	})
}

// UnmarshalJSON parses the HostSupply wire format, coercing the textual
// boot-time stamp to an instant as spec.md §4.2 requires.
func (h *HostSupply) UnmarshalJSON(data []byte) error {
	var w wireHostSupply
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	t, err := time.Parse(bootTimeLayout, w.HostBootTime)
	if err != nil {
		return fmt.Errorf("supply: parse host_boottime %q: %w", w.HostBootTime, err)
	}
	h.ComputeHost = w.ComputeHost
	h.BootTime = t
	h.CPUCoresWeighted = w.CPUCoresWeighted
	h.DiskSpeeds = w.DiskSpeeds
	h.NetworkThroughput = w.NetworkThroughput
	h.MemoryUsed = w.MemoryUsed
	h.SupplyCreatedAt = w.SupplyCreatedAt
	return nil
}

// toVector projects a HostSupply onto the six fairness dimensions, scaled
// by intervalSeconds, as CloudSupplyRegistry.hostSupply/cloudSupply do.
func (h HostSupply) toVector(intervalSeconds float64) vector.Vector {
	return vector.Vector{
		CPUTime:          h.CPUCoresWeighted * intervalSeconds,
		DiskBytesRead:    h.DiskSpeeds * intervalSeconds,
		DiskBytesWritten: h.DiskSpeeds * intervalSeconds,
		NetBytesRx:       h.NetworkThroughput * intervalSeconds,
		NetBytesTx:       h.NetworkThroughput * intervalSeconds,
		MemoryUsed:       h.MemoryUsed,
		ComputeHost:      h.ComputeHost,
	}
}

// Overcommitment holds the per-resource allocation ratios from config,
// applied to supply before norm computation.
type Overcommitment struct {
	CPUAllocationRatio  float64
	RAMAllocationRatio  float64
	DiskAllocationRatio float64
}

// Vector returns the overcommitment ratios in fixed dimension order:
// {cpuAlloc, diskAlloc, diskAlloc, 1, 1, ramAlloc}, per spec.md §4.2.
func (o Overcommitment) Vector() vector.Vector {
	return vector.Vector{
		CPUTime:          o.CPUAllocationRatio,
		DiskBytesRead:    o.DiskAllocationRatio,
		DiskBytesWritten: o.DiskAllocationRatio,
		NetBytesRx:       1,
		NetBytesTx:       1,
		MemoryUsed:       o.RAMAllocationRatio,
	}
}

// Registry owns the local host's capacity and the peer capacities
// gossiped in, tracking readiness against a MembershipOracle.
type Registry struct {
	mu         sync.RWMutex
	local      HostSupply
	overcommit Overcommitment
	byHost     map[string]HostSupply
	members    membership.Oracle
}

// New builds a Registry around the agent's own (already-probed) supply.
func New(local HostSupply, overcommit Overcommitment, members membership.Oracle) *Registry {
	return &Registry{
		local:      local,
		overcommit: overcommit,
		byHost:     make(map[string]HostSupply),
		members:    members,
	}
}

// LocalSupply returns the agent's own capacity record.
func (r *Registry) LocalSupply() HostSupply {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.local
}

// Add inserts or replaces the entry for supply.ComputeHost, keyed on
// SupplyCreatedAt monotonicity, then purges non-members.
func (r *Registry) Add(s HostSupply) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.addLocked(s)
	r.purgeNonMembersLocked()
}

func (r *Registry) addLocked(s HostSupply) {
	existing, ok := r.byHost[s.ComputeHost]
	if ok && existing.SupplyCreatedAt > s.SupplyCreatedAt {
		return
	}
	r.byHost[s.ComputeHost] = s
}

func (r *Registry) purgeNonMembersLocked() {
	if r.members == nil {
		return
	}
	live := r.members.LiveMembers()
	liveSet := make(map[string]struct{}, len(live))
	for _, m := range live {
		liveSet[m] = struct{}{}
	}
	for host := range r.byHost {
		if _, ok := liveSet[host]; !ok {
			delete(r.byHost, host)
		}
	}
}

// MissingHosts returns live members whose supply is unknown locally.
func (r *Registry) MissingHosts() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.purgeNonMembersLocked()
	if r.members == nil {
		return nil
	}
	var missing []string
	for _, m := range r.members.LiveMembers() {
		if m == r.local.ComputeHost {
			continue
		}
		if _, ok := r.byHost[m]; !ok {
			missing = append(missing, m)
		}
	}
	return missing
}

// Ready reports whether every live member's supply is known locally. A
// Registry with no MembershipOracle knows no peers and is never ready.
func (r *Registry) Ready() bool {
	if r.members == nil {
		return false
	}
	return len(r.MissingHosts()) == 0
}

// CloudSupply sums (capacity × intervalSeconds) over all live remote
// supplies, in each dimension.
func (r *Registry) CloudSupply(intervalSeconds float64) vector.Vector {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.purgeNonMembersLocked()
	total := vector.Vector{}
	for host, s := range r.byHost {
		if host == r.local.ComputeHost {
			continue
		}
		total = total.Add(s.toVector(intervalSeconds))
	}
	return total
}

// HostSupplyVector returns the local supply projected over intervalSeconds.
func (r *Registry) HostSupplyVector(intervalSeconds float64) vector.Vector {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.local.toVector(intervalSeconds)
}

// Overcommitment returns the configured allocation ratios as a Vector.
func (r *Registry) Overcommitment() vector.Vector {
	return r.overcommit.Vector()
}

// UserCount returns the number of unique users across all live members,
// via the MembershipOracle. Never returns less than 1.
func (r *Registry) UserCount() int {
	if r.members == nil {
		return 1
	}
	n := r.members.UserCount()
	if n < 1 {
		return 1
	}
	return n
}
