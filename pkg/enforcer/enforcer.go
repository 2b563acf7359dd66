// Package enforcer implements the Enforcer external collaborator: the
// cgroup and tc back-ends that turn ResourceAllocator setpoints into
// actual kernel-level throttling.
package enforcer

// Setpoint is one VM's derived controller targets for one reallocation
// round, per spec.md §4.6.
type Setpoint struct {
	InstanceName    string
	CPUShares       float64
	MemorySoftLimit float64 // kB
	DiskWeight      float64
	NetPriority     float64
}

// Enforcer is the interface ResourceAllocator depends on. A concrete
// implementation shells out to cgroup/tc tooling; it must tolerate
// per-call failures without propagating them past the reallocation
// boundary (spec.md §7).
type Enforcer interface {
	// Apply pushes CPU/memory/disk setpoints for one local VM.
	Apply(s Setpoint) error
	// ApplyNetwork pushes the full local fleet's network priorities as a
	// single proportional-share HFSC setup: one class per VM, rates
	// proportional to priority, source-IP classifier — spec.md §4.6.
	ApplyNetwork(setpoints []Setpoint, sourceIPs map[string]string) error
}
