//go:build linux

package enforcer

import (
	"fmt"
	"os/exec"
	"path/filepath"
	"sort"
	"sync"

	cgroupsv2 "github.com/containerd/cgroups/v3/cgroup2"
	"github.com/sirupsen/logrus"
)

// CgroupPath resolves a VM's instance name to its cgroup leaf, set up by
// whatever placed the VM (e.g. libvirt's machine-<uuid>.scope).
type CgroupPath func(instanceName string) string

// LinuxEnforcer applies CPU/memory/disk setpoints through
// github.com/containerd/cgroups (cgroup v2 unified hierarchy) and network
// setpoints through tc, in a simplified form of
// original_source/nova/fairness/tc_wrapper.py's hfsc_proportional_share
// (see DESIGN.md, pkg/enforcer).
type LinuxEnforcer struct {
	mu            sync.Mutex
	cgroupPath    CgroupPath
	iface         string // network interface HFSC classes are attached to
	uplinkBitsSec float64
	log           *logrus.Entry
}

// NewLinuxEnforcer builds a LinuxEnforcer. iface and uplinkBitsSec come
// from config (spec.md DESIGN NOTES §9(c): "lift [the interface] to
// configuration" rather than hard-coding it as the original did).
func NewLinuxEnforcer(cgroupPath CgroupPath, iface string, uplinkBitsSec float64, log *logrus.Entry) *LinuxEnforcer {
	return &LinuxEnforcer{cgroupPath: cgroupPath, iface: iface, uplinkBitsSec: uplinkBitsSec, log: log}
}

// Apply implements Enforcer by writing CPU weight, memory high, and io
// weight into the VM's cgroup v2 controllers.
func (e *LinuxEnforcer) Apply(s Setpoint) error {
	path := e.cgroupPath(s.InstanceName)
	if path == "" {
		return fmt.Errorf("enforcer: no cgroup path for instance %q", s.InstanceName)
	}

	manager, err := cgroupsv2.Load(path)
	if err != nil {
		return fmt.Errorf("enforcer: load cgroup %q: %w", path, err)
	}

	cpuWeight := uint64(clampShares(s.CPUShares))
	memHigh := int64(s.MemorySoftLimit * 1024)
	ioWeight := uint16(clampShares(s.DiskWeight))

	res := cgroupsv2.Resources{
		CPU:    &cgroupsv2.CPU{Weight: &cpuWeight},
		Memory: &cgroupsv2.Memory{High: &memHigh},
		IO:     &cgroupsv2.IO{Weight: &ioWeight},
	}

	if err := manager.Update(&res); err != nil {
		return fmt.Errorf("enforcer: update cgroup %q: %w", path, err)
	}
	return nil
}

// clampShares bounds a derived setpoint into cgroup v2's accepted weight
// range [1, 10000], never raising on an out-of-range input.
func clampShares(v float64) float64 {
	if v < 1 {
		return 1
	}
	if v > 10000 {
		return 10000
	}
	return v
}

// ApplyNetwork implements Enforcer's HFSC setup, simplified from
// tc_wrapper.hfsc_proportional_share: reset the qdisc, add one HFSC class
// per VM directly under the root qdisc with an sc rate proportional to its
// priority, and a u32 filter matching that VM's source IP to its class.
func (e *LinuxEnforcer) ApplyNetwork(setpoints []Setpoint, sourceIPs map[string]string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if err := e.resetQdisc(); err != nil {
		e.log.WithError(err).Warn("enforcer: qdisc reset failed, continuing best-effort")
	}

	if err := e.run("qdisc", "add", "dev", e.iface, "root", "handle", "1:", "hfsc", "default", "1"); err != nil {
		return fmt.Errorf("enforcer: add hfsc qdisc: %w", err)
	}

	var total float64
	for _, s := range setpoints {
		total += s.NetPriority
	}
	if total <= 0 {
		total = 1
	}

	// Sort for deterministic classid assignment across calls.
	ordered := make([]Setpoint, len(setpoints))
	copy(ordered, setpoints)
	sort.Slice(ordered, func(i, j int) bool { return ordered[i].InstanceName < ordered[j].InstanceName })

	for i, s := range ordered {
		classID := fmt.Sprintf("1:%d", i+10)
		share := s.NetPriority / total
		rateBits := uint64(share * e.uplinkBitsSec)

		if err := e.run("class", "add", "dev", e.iface, "parent", "1:", "classid", classID,
			"hfsc", "sc", "rate", fmt.Sprintf("%dbit", rateBits), "ul", "rate", fmt.Sprintf("%dbit", uint64(e.uplinkBitsSec))); err != nil {
			e.log.WithError(err).WithField("instance", s.InstanceName).Warn("enforcer: hfsc class add failed, skipping VM")
			continue
		}

		ip := sourceIPs[s.InstanceName]
		if ip == "" {
			continue
		}
		if err := e.run("filter", "add", "dev", e.iface, "protocol", "ip", "parent", "1:", "prio", "1",
			"u32", "match", "ip", "src", ip, "flowid", classID); err != nil {
			e.log.WithError(err).WithField("instance", s.InstanceName).Warn("enforcer: hfsc filter add failed, skipping VM")
		}
	}
	return nil
}

func (e *LinuxEnforcer) resetQdisc() error {
	return e.run("qdisc", "del", "dev", e.iface, "root")
}

func (e *LinuxEnforcer) run(args ...string) error {
	cmd := exec.Command("tc", args...)
	if out, err := cmd.CombinedOutput(); err != nil {
		return fmt.Errorf("tc %v: %w: %s", args, err, out)
	}
	return nil
}

// DefaultCgroupPath builds a CgroupPath rooted at the cgroup v2 machine
// slice, the convention libvirt-managed VMs use.
func DefaultCgroupPath(root string) CgroupPath {
	return func(instanceName string) string {
		return filepath.Join(root, "machine.slice", "machine-"+instanceName+".scope")
	}
}
