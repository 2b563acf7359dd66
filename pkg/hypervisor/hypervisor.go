// Package hypervisor implements the HypervisorProbe external collaborator:
// the source of per-VM absolute counter samples (CPU, disk, network,
// memory) that RUICollector turns into demand vectors every tick.
package hypervisor

import "github.com/nova-compute/fairnessd/pkg/vector"

// VMState mirrors the subset of libvirt domain states the collector
// cares about: only Active VMs are sampled; any other state causes the VM
// to be purged from RUICollector's maps.
type VMState int

const (
	// StateActive means the VM is running and should be sampled.
	StateActive VMState = iota
	// StateInactive covers paused, shut-off, or otherwise non-running
	// domains.
	StateInactive
)

// Domain describes one VM as seen by the hypervisor: its identity, flavor
// sizing (used for endowment computation), and current state.
type Domain struct {
	InstanceName string
	UserID       string
	VCPUs        int
	MaxMemoryKB  float64
	State        VMState
}

// Probe is the interface RUICollector depends on. A concrete
// implementation owns the connection to the actual hypervisor and must
// re-establish it on transient errors (spec.md §5 "Shared resources").
type Probe interface {
	// ActiveDomains lists every VM currently known to the hypervisor.
	ActiveDomains() ([]Domain, error)
	// Sample returns the absolute (monotonically increasing) counters for
	// one VM's CPU, disk, and network consumption, plus its current
	// memory usage. A failed probe for any sub-counter contributes 0 for
	// that dimension rather than failing the whole sample (spec.md §7:
	// transient probe failures are logged, never fatal).
	Sample(d Domain, bogoMIPS float64) (vector.Vector, error)
}
