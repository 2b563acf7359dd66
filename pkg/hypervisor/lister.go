//go:build linux

package hypervisor

import (
	"bufio"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/nova-compute/fairnessd/pkg/system/cgroup"
)

// MachineSliceLister discovers VM process groups by walking the cgroup v2
// machine.slice the way libvirt lays guests out (machine-<name>.scope).
// cgroup.Detect (adapted from the teacher's pkg/system/cgroup) gates
// whether this Lister can run at all; each scope directory's cgroup.procs
// file then supplies the root PID that List would otherwise need a real
// libvirt connection for.
type MachineSliceLister struct {
	root string // usually /sys/fs/cgroup
}

// NewMachineSliceLister builds a MachineSliceLister rooted at root. Returns
// an error if the host has no cgroup v2 mount, since machine.slice discovery
// depends on cgroup.procs membership files that only exist there.
func NewMachineSliceLister(root string) (*MachineSliceLister, error) {
	if v, _, err := cgroup.Detect(); err != nil {
		return nil, err
	} else if v != cgroup.V2 && v != cgroup.Hybrid {
		return nil, os.ErrNotExist
	}
	return &MachineSliceLister{root: root}, nil
}

// List implements Lister.
func (l *MachineSliceLister) List() ([]ProcessGroup, error) {
	slice := filepath.Join(l.root, "machine.slice")
	entries, err := os.ReadDir(slice)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	var groups []ProcessGroup
	for _, e := range entries {
		if !e.IsDir() || !strings.HasPrefix(e.Name(), "machine-") || !strings.HasSuffix(e.Name(), ".scope") {
			continue
		}
		name := scopeInstanceName(e.Name())
		scopeDir := filepath.Join(slice, e.Name())

		pid, ok := firstProcPID(filepath.Join(scopeDir, "cgroup.procs"))
		if !ok {
			continue
		}

		groups = append(groups, ProcessGroup{
			Domain: Domain{
				InstanceName: name,
				VCPUs:        vcpuCount(scopeDir),
				MaxMemoryKB:  memoryMaxKB(scopeDir),
				State:        StateActive,
			},
			RootPID: pid,
		})
	}
	return groups, nil
}

// scopeInstanceName strips libvirt's "machine-" prefix and ".scope" suffix,
// and reverses systemd-escape's "\x2d" encoding of literal dashes so the
// instance name matches the one RUICollector keys its maps by.
func scopeInstanceName(scope string) string {
	name := strings.TrimSuffix(strings.TrimPrefix(scope, "machine-"), ".scope")
	return strings.ReplaceAll(name, `\x2d`, "-")
}

func firstProcPID(path string) (int, bool) {
	f, err := os.Open(path)
	if err != nil {
		return 0, false
	}
	defer f.Close()
	sc := bufio.NewScanner(f)
	if sc.Scan() {
		pid, err := strconv.Atoi(strings.TrimSpace(sc.Text()))
		if err == nil {
			return pid, true
		}
	}
	return 0, false
}

func vcpuCount(scopeDir string) int {
	data, err := os.ReadFile(filepath.Join(scopeDir, "cpuset.cpus.effective"))
	if err != nil {
		return 1
	}
	n := 0
	for _, part := range strings.Split(strings.TrimSpace(string(data)), ",") {
		if part == "" {
			continue
		}
		if lo, hi, ok := strings.Cut(part, "-"); ok {
			a, errA := strconv.Atoi(lo)
			b, errB := strconv.Atoi(hi)
			if errA == nil && errB == nil && b >= a {
				n += b - a + 1
				continue
			}
		}
		n++
	}
	if n == 0 {
		return 1
	}
	return n
}

func memoryMaxKB(scopeDir string) float64 {
	data, err := os.ReadFile(filepath.Join(scopeDir, "memory.max"))
	if err != nil {
		return 0
	}
	s := strings.TrimSpace(string(data))
	if s == "max" {
		return 0
	}
	bytes, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0
	}
	return bytes / 1024
}
