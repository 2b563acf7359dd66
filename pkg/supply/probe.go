//go:build linux

package supply

import (
	"bufio"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
)

// ProbeConfig carries the knobs Probe needs that aren't discoverable from
// the kernel: the configured NIC throughput and this host's name.
type ProbeConfig struct {
	ComputeHost           string
	MaxNetworkThroughput  float64 // Mbit/s, from config.max_network_throughput
}

// Probe performs the one-time, best-effort host capacity probing
// described in spec.md §4.2, adapted from the teacher's raw /proc
// parsing style (pkg/system/proc) rather than a cgo-backed sysconf call.
// Every probe failure is logged and answered with the documented safe
// default; Probe itself never returns an error.
func Probe(cfg ProbeConfig, log *logrus.Entry) HostSupply {
	return HostSupply{
		ComputeHost:       cfg.ComputeHost,
		BootTime:          bootTime(log),
		CPUCoresWeighted:  bogoMIPSTotal(log),
		DiskSpeeds:        diskSpeedTotal(log),
		NetworkThroughput: cfg.MaxNetworkThroughput * 125000,
		MemoryUsed:        installedMemoryKB(log),
		SupplyCreatedAt:   float64(time.Now().Unix()),
	}
}

// bogoMIPSTotal sums per-core bogomips from /proc/cpuinfo. Defaults to 1
// if the file can't be read or parsed, per spec.md §4.2.
func bogoMIPSTotal(log *logrus.Entry) float64 {
	f, err := os.Open("/proc/cpuinfo")
	if err != nil {
		log.WithError(err).Warn("supply: bogomips probe failed, using default")
		return 1
	}
	defer f.Close()

	var total float64
	var found bool
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := sc.Text()
		if !strings.HasPrefix(line, "bogomips") {
			continue
		}
		parts := strings.SplitN(line, ":", 2)
		if len(parts) != 2 {
			continue
		}
		v, err := strconv.ParseFloat(strings.TrimSpace(parts[1]), 64)
		if err != nil {
			continue
		}
		total += v
		found = true
	}
	if !found {
		return 1
	}
	return total
}

// diskSpeedTotal sums sequential read speed across each top-level block
// device, shelling out the way the original implementation does. Defaults
// to 0 on any failure (missing tools in a container, permission denied).
func diskSpeedTotal(log *logrus.Entry) float64 {
	devices, err := listBlockDevices()
	if err != nil {
		log.WithError(err).Warn("supply: block device listing failed, disk speed defaults to 0")
		return 0
	}
	var total float64
	for _, dev := range devices {
		speed, err := hdparmSequentialReadBytesPerSec(dev)
		if err != nil {
			log.WithError(err).WithField("device", dev).Warn("supply: disk speed probe failed for device, contributing 0")
			continue
		}
		total += speed
	}
	return total
}

func listBlockDevices() ([]string, error) {
	out, err := exec.Command("lsblk", "-dn", "-o", "NAME").Output()
	if err != nil {
		return nil, err
	}
	var devices []string
	sc := bufio.NewScanner(strings.NewReader(string(out)))
	for sc.Scan() {
		name := strings.TrimSpace(sc.Text())
		if name == "" {
			continue
		}
		devices = append(devices, filepath.Join("/dev", name))
	}
	return devices, nil
}

// hdparmSequentialReadBytesPerSec parses the "Timing buffered disk reads"
// line from `hdparm -t`, e.g. "... = 210.44 MB/sec".
func hdparmSequentialReadBytesPerSec(device string) (float64, error) {
	out, err := exec.Command("hdparm", "-t", device).Output()
	if err != nil {
		return 0, err
	}
	const marker = "="
	for _, line := range strings.Split(string(out), "\n") {
		if !strings.Contains(line, "MB/sec") {
			continue
		}
		idx := strings.LastIndex(line, marker)
		if idx < 0 {
			continue
		}
		fields := strings.Fields(line[idx+1:])
		if len(fields) < 1 {
			continue
		}
		mb, err := strconv.ParseFloat(fields[0], 64)
		if err != nil {
			continue
		}
		return mb * 1024 * 1024, nil
	}
	return 0, os.ErrNotExist
}

// installedMemoryKB shells out to `free -k`, mirroring the original's use
// of the OS free-memory tool. Defaults to 0 ("null" in spec.md §4.2) on
// failure.
func installedMemoryKB(log *logrus.Entry) float64 {
	out, err := exec.Command("free", "-k").Output()
	if err != nil {
		log.WithError(err).Warn("supply: installed-memory probe failed, defaulting to 0")
		return 0
	}
	sc := bufio.NewScanner(strings.NewReader(string(out)))
	for sc.Scan() {
		fields := strings.Fields(sc.Text())
		if len(fields) >= 2 && strings.HasPrefix(fields[0], "Mem:") {
			kb, err := strconv.ParseFloat(fields[1], 64)
			if err == nil {
				return kb
			}
		}
	}
	return 0
}

// bootTime reads the kernel's boot-time counter from /proc/stat's "btime"
// line. Defaults to the zero time on failure.
func bootTime(log *logrus.Entry) time.Time {
	f, err := os.Open("/proc/stat")
	if err != nil {
		log.WithError(err).Warn("supply: boot-time probe failed, defaulting to zero time")
		return time.Time{}
	}
	defer f.Close()

	sc := bufio.NewScanner(f)
	for sc.Scan() {
		fields := strings.Fields(sc.Text())
		if len(fields) == 2 && fields[0] == "btime" {
			secs, err := strconv.ParseInt(fields[1], 10, 64)
			if err == nil {
				return time.Unix(secs, 0).UTC()
			}
		}
	}
	return time.Time{}
}
