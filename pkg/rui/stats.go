package rui

import (
	"encoding/csv"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/nova-compute/fairnessd/pkg/vector"
)

var csvHeader = []string{
	"TIMESTAMP", "INSTANCE", "HEAVINESS", "CPU_SHARES", "CPU_USAGE",
	"MEMORY_SOFT_LIMIT", "MEMORY_USED", "DISK_WEIGHT",
	"DISK_BYTES_TRANSFERRED", "NET_PRIORITY", "NET_BYTES_TRANSFERRED",
}

// pendingRow buffers the two halves of one CSV row — the RUI sample and
// the prioritization setpoints — until both have arrived for the same VM,
// mirroring rui_stats.py's _write_complete_instance gating.
type pendingRow struct {
	rui            *vector.Vector
	dt             time.Duration
	heaviness      *float64
	cpuShares      float64
	memorySoftLimit float64
	diskWeight     float64
	netPriority    float64
}

// StatsSink is the CSV export path enabled by config.rui_stats_enabled,
// written to config.rui_stats_path (default
// /var/log/nova/nova-fairness-rui-stats.csv). The file is opened fresh
// for each write, append-only, matching spec.md §5 "Shared resources".
type StatsSink struct {
	path string

	mu      sync.Mutex
	pending map[string]*pendingRow
}

// NewStatsSink creates (or truncates) the CSV file at path and writes its
// header, then returns a StatsSink ready to buffer rows.
func NewStatsSink(path string) (*StatsSink, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return nil, fmt.Errorf("rui: create stats file: %w", err)
	}
	defer f.Close()

	w := csv.NewWriter(f)
	if err := w.Write(csvHeader); err != nil {
		return nil, fmt.Errorf("rui: write stats header: %w", err)
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return nil, err
	}

	return &StatsSink{path: path, pending: make(map[string]*pendingRow)}, nil
}

// AddRUI buffers the raw (not EWMA-smoothed) per-interval counter delta
// for instance, keyed for pairing with the matching AddPrioritization
// call.
func (s *StatsSink) AddRUI(instance string, delta vector.Vector, dt time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	row := s.rowFor(instance)
	d := delta
	row.rui = &d
	row.dt = dt
	s.flushIfCompleteLocked(instance)
}

// AddPrioritization buffers the allocator-derived setpoints for instance,
// keyed for pairing with the matching AddRUI call.
func (s *StatsSink) AddPrioritization(instance string, heaviness, cpuShares, memorySoftLimit, diskWeight, netPriority float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	row := s.rowFor(instance)
	h := heaviness
	row.heaviness = &h
	row.cpuShares = cpuShares
	row.memorySoftLimit = memorySoftLimit
	row.diskWeight = diskWeight
	row.netPriority = netPriority
	s.flushIfCompleteLocked(instance)
}

func (s *StatsSink) rowFor(instance string) *pendingRow {
	row, ok := s.pending[instance]
	if !ok {
		row = &pendingRow{}
		s.pending[instance] = row
	}
	return row
}

// flushIfCompleteLocked writes and deletes the buffered row for instance
// once both its RUI and prioritization halves are present, per spec.md
// §6: "one row per (VM, tick) once both RUI and prioritization ... are
// present".
func (s *StatsSink) flushIfCompleteLocked(instance string) {
	row, ok := s.pending[instance]
	if !ok || row.rui == nil || row.heaviness == nil {
		return
	}
	defer delete(s.pending, instance)

	f, err := os.OpenFile(s.path, os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return
	}
	defer f.Close()

	w := csv.NewWriter(f)
	record := []string{
		time.Now().UTC().Format(time.RFC3339),
		instance,
		fmt.Sprintf("%g", *row.heaviness),
		fmt.Sprintf("%g", row.cpuShares),
		fmt.Sprintf("%g", row.rui.CPUTime),
		fmt.Sprintf("%g", row.memorySoftLimit),
		fmt.Sprintf("%g", row.rui.MemoryUsed),
		fmt.Sprintf("%g", row.diskWeight),
		fmt.Sprintf("%g", row.rui.DiskBytesRead+row.rui.DiskBytesWritten),
		fmt.Sprintf("%g", row.netPriority),
		fmt.Sprintf("%g", row.rui.NetBytesRx+row.rui.NetBytesTx),
	}
	_ = w.Write(record)
	w.Flush()
}
