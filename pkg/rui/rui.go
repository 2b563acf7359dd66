// Package rui implements the per-tick Resource Usage Information
// sampling described in spec.md §4.4: absolute-counter sampling, interval
// delta computation with exponential decay, and per-VM endowment.
package rui

import (
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/nova-compute/fairnessd/pkg/hypervisor"
	"github.com/nova-compute/fairnessd/pkg/metric"
	"github.com/nova-compute/fairnessd/pkg/vector"
)

// Collector owns the RUICollector state machine: full (absolute) demand
// per VM and interval (EWMA-smoothed) demand per VM. Endowments are
// computed afresh on every Tick and returned, not stored.
type Collector struct {
	mu sync.Mutex

	probe        hypervisor.Probe
	decayFactor  float64
	statsSink    *StatsSink // nil when rui_stats_enabled == false
	log          *logrus.Entry

	fullDemand     map[string]vector.Vector
	intervalDemand map[string]*vector.Vector // nil entry == "null" per spec.md §3
	hadPreviousTick bool
}

// New builds a Collector. decayFactor is config.resource_decay_factor
// (α ∈ [0,1], default 0.5). statsSink may be nil to disable CSV export.
func New(probe hypervisor.Probe, decayFactor float64, statsSink *StatsSink, log *logrus.Entry) *Collector {
	return &Collector{
		probe:          probe,
		decayFactor:    decayFactor,
		statsSink:      statsSink,
		log:            log,
		fullDemand:     make(map[string]vector.Vector),
		intervalDemand: make(map[string]*vector.Vector),
	}
}

// Tick performs one RUICollector collection round per spec.md §4.4,
// against the given bogoMIPS weight and localSupply (already scaled by
// Δt). dt is the wall-clock delta since the previous tick, or nil on the
// very first tick. Returns demand and endowment samples keyed by instance
// name, ready to hand to Metric.Map.
func (c *Collector) Tick(dt *time.Duration, bogoMIPS float64, localSupply vector.Vector) (demands, endowments map[string]metric.VMSample, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	domains, err := c.probe.ActiveDomains()
	if err != nil {
		return nil, nil, err
	}

	active := make(map[string]hypervisor.Domain, len(domains))
	var totalVCPUs int
	activeCount := 0
	for _, d := range domains {
		if d.State != hypervisor.StateActive {
			continue
		}
		active[d.InstanceName] = d
		totalVCPUs += d.VCPUs
		activeCount++
	}

	for name := range active {
		d := active[name]
		fullNow, sampleErr := c.probe.Sample(d, bogoMIPS)
		if sampleErr != nil {
			c.log.WithError(sampleErr).WithField("instance", name).Warn("rui: sample failed, contributing zero vector")
			fullNow = vector.New("", d.UserID, name)
		}

		prev, hadPrev := c.fullDemand[name]
		if hadPrev {
			delta := fullNow.Sub(prev)
			if existing := c.intervalDemand[name]; existing == nil {
				v := delta
				c.intervalDemand[name] = &v
			} else {
				decayed := existing.MulScalar(1 - c.decayFactor).Add(delta.MulScalar(c.decayFactor))
				c.intervalDemand[name] = &decayed
			}
			if c.statsSink != nil && dt != nil {
				c.statsSink.AddRUI(name, delta, *dt)
			}
		} else {
			// First observation of this VM.
			if dt == nil {
				c.intervalDemand[name] = nil
			} else {
				v := fullNow
				c.intervalDemand[name] = &v
			}
		}
		c.fullDemand[name] = fullNow
	}

	c.purgeInactive(active)

	endowments = make(map[string]metric.VMSample, activeCount)
	for name, d := range active {
		e := localSupply
		if activeCount > 0 {
			e = localSupply.DivScalar(float64(activeCount))
		}
		if totalVCPUs > 0 {
			e.CPUTime = (localSupply.CPUTime / float64(totalVCPUs)) * float64(d.VCPUs)
		}
		e.MemoryUsed = d.MaxMemoryKB
		e.InstanceName = name
		e.UserID = d.UserID
		endowments[name] = metric.VMSample{InstanceName: name, UserID: d.UserID, Vector: e}
	}

	allNonNull := len(active) > 0
	for _, v := range c.intervalDemand {
		if v == nil {
			allNonNull = false
			break
		}
	}

	demands = make(map[string]metric.VMSample, len(active))
	for name, d := range active {
		var v vector.Vector
		if allNonNull {
			v = *c.intervalDemand[name]
		} else {
			v = c.fullDemand[name]
		}
		v.InstanceName = name
		v.UserID = d.UserID
		demands[name] = metric.VMSample{InstanceName: name, UserID: d.UserID, Vector: v}
	}

	c.hadPreviousTick = true
	return demands, endowments, nil
}

// purgeInactive removes every VM no longer in the live list from
// fullDemand and intervalDemand, per spec.md §3/§4.4.
func (c *Collector) purgeInactive(active map[string]hypervisor.Domain) {
	for name := range c.fullDemand {
		if _, ok := active[name]; !ok {
			delete(c.fullDemand, name)
			delete(c.intervalDemand, name)
		}
	}
	for name := range c.intervalDemand {
		if _, ok := active[name]; !ok {
			delete(c.intervalDemand, name)
		}
	}
}
