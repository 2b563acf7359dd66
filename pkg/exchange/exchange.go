// Package exchange implements HeavinessExchange: per-peer FIFO queues of
// received heaviness maps, and the all-collected predicate that gates a
// reallocation round.
package exchange

import (
	"sync"

	"github.com/nova-compute/fairnessd/pkg/membership"
	"github.com/nova-compute/fairnessd/pkg/metric"
)

// HeavinessMap is one peer's broadcast: global norm plus per-VM entries,
// as produced by Metric.Map and carried over the wire by
// receive_heavinesses. SenderHost travels with the envelope only to key
// the receiving exchange's per-peer queue; spec.md §4.5 calls this
// "strip compute_host" once it has served that purpose.
type HeavinessMap struct {
	SenderHost string                     `json:"compute_host"`
	GlobalNorm [6]float64                 `json:"global_norm"`
	PerVM      map[string]metric.VMEntry  `json:"per_vm"`
}

// ComputeHost returns the sending peer's host name.
func (h HeavinessMap) ComputeHost() string { return h.SenderHost }

// Exchange stores per-peer FIFO queues of HeavinessMap. Enqueue never
// blocks; queues for departed peers are purged lazily on AllCollected.
type Exchange struct {
	mu      sync.Mutex
	queues  map[string][]HeavinessMap
	members membership.Oracle
}

// New builds an Exchange against the given MembershipOracle.
func New(members membership.Oracle) *Exchange {
	return &Exchange{queues: make(map[string][]HeavinessMap), members: members}
}

// Enqueue appends m to host's queue. Never blocks.
func (e *Exchange) Enqueue(host string, m HeavinessMap) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.queues[host] = append(e.queues[host], m)
}

// AllCollected purges departed peers, then reports whether every
// surviving live peer (excluding self) has a non-empty queue.
func (e *Exchange) AllCollected(selfHost string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.purgeDepartedLocked()

	if e.members == nil {
		return len(e.queues) == 0
	}
	for _, m := range e.members.LiveMembers() {
		if m == selfHost {
			continue
		}
		if len(e.queues[m]) == 0 {
			return false
		}
	}
	return true
}

func (e *Exchange) purgeDepartedLocked() {
	if e.members == nil {
		return
	}
	live := make(map[string]struct{})
	for _, m := range e.members.LiveMembers() {
		live[m] = struct{}{}
	}
	for host := range e.queues {
		if _, ok := live[host]; !ok {
			delete(e.queues, host)
		}
	}
}

// PopAll pops exactly one queued HeavinessMap per peer (the oldest), for
// one reallocation round. Peers with an empty queue are skipped.
func (e *Exchange) PopAll() map[string]HeavinessMap {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make(map[string]HeavinessMap, len(e.queues))
	for host, q := range e.queues {
		if len(q) == 0 {
			continue
		}
		out[host] = q[0]
		e.queues[host] = q[1:]
	}
	return out
}
