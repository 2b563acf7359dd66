// Package agent implements FairnessAgent: the supply-poll and
// RUI-collect periodic tasks, RPC routing, and the glue that wires every
// other package together into one running peer.
package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/nova-compute/fairnessd/pkg/allocator"
	"github.com/nova-compute/fairnessd/pkg/config"
	"github.com/nova-compute/fairnessd/pkg/exchange"
	"github.com/nova-compute/fairnessd/pkg/membership"
	"github.com/nova-compute/fairnessd/pkg/metric"
	"github.com/nova-compute/fairnessd/pkg/metrics"
	"github.com/nova-compute/fairnessd/pkg/rui"
	"github.com/nova-compute/fairnessd/pkg/supply"
	"github.com/nova-compute/fairnessd/pkg/transport"
	"github.com/nova-compute/fairnessd/pkg/vector"
)

// Agent owns the timers, RPC routing, and cross-component wiring for one
// compute host's fairness peer, per spec.md §4.5.
type Agent struct {
	cfg config.Fairness
	log *logrus.Entry

	bus       transport.Bus
	members   membership.Oracle
	registry  *supply.Registry
	metrics   *metric.Registry
	gauges    *metrics.Collectors
	collector *rui.Collector
	exchange  *exchange.Exchange
	allocator *allocator.Allocator
	localVMs  func() []allocator.LocalVM
	seedPeers []string

	lastSupplyTick time.Time
	lastRUITick    time.Time
	fairnessQuota  atomic.Pointer[vector.Vector]

	mu         sync.Mutex
	supplyBusy bool
	ruiBusy    bool
}

// heartbeatPayload is the wire shape for the "heartbeat" RPC cast: the
// sending host and the distinct users currently holding VMs there.
type heartbeatPayload struct {
	ComputeHost string   `json:"compute_host"`
	UserIDs     []string `json:"user_ids"`
}

// New builds an Agent wiring together the already-constructed
// collaborators. localVMs returns the current local VM roster (instance
// name, source IP, and owning user) for the Enforcer's network setup and
// for heartbeat casts. seedPeers is a fixed bootstrap list of hosts to
// heartbeat before members (a membership.Heartbeater-backed Oracle) has
// discovered anyone on its own; it may be empty for a single-node
// deployment. gauges may be nil to disable Prometheus export.
func New(
	cfg config.Fairness,
	log *logrus.Entry,
	bus transport.Bus,
	members membership.Oracle,
	registry *supply.Registry,
	metricRegistry *metric.Registry,
	gauges *metrics.Collectors,
	collector *rui.Collector,
	ex *exchange.Exchange,
	alloc *allocator.Allocator,
	localVMs func() []allocator.LocalVM,
	seedPeers []string,
) *Agent {
	a := &Agent{
		cfg: cfg, log: log, bus: bus, members: members,
		registry: registry, metrics: metricRegistry, gauges: gauges,
		collector: collector, exchange: ex, allocator: alloc,
		localVMs: localVMs, seedPeers: seedPeers,
	}
	a.registerHandlers()
	return a
}

func (a *Agent) registerHandlers() {
	a.bus.Register("set_metric", func(ctx context.Context, payload string) (string, error) {
		return a.handleSetMetric(payload)
	})
	a.bus.Register("receive_host_supply", func(ctx context.Context, payload string) (string, error) {
		return "", a.handleReceiveHostSupply(ctx, payload)
	})
	a.bus.Register("receive_heavinesses", func(ctx context.Context, payload string) (string, error) {
		return "", a.handleReceiveHeavinesses(ctx, payload)
	})
	a.bus.Register("heartbeat", func(ctx context.Context, payload string) (string, error) {
		return "", a.handleHeartbeat(payload)
	})
}

// Run starts the supply-poll and RUI-collect periodic tasks, blocking
// until ctx is cancelled.
func (a *Agent) Run(ctx context.Context) {
	var wg sync.WaitGroup

	if a.cfg.SupplyPollInterval > 0 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			a.runPeriodic(ctx, time.Duration(a.cfg.SupplyPollInterval)*time.Second, a.supplyPollTick)
		}()
	}
	if a.cfg.RUICollectionInterval > 0 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			a.runPeriodic(ctx, time.Duration(a.cfg.RUICollectionInterval)*time.Second, a.ruiCollectTick)
		}()
	}

	wg.Wait()
}

// runPeriodic fires fn every interval, skipping a tick if the previous
// invocation of fn is still running (single-shot semantics, no queue, per
// spec.md §4.5/§5).
func (a *Agent) runPeriodic(ctx context.Context, interval time.Duration, fn func(context.Context)) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	var running atomic.Bool
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if !running.CompareAndSwap(false, true) {
				continue
			}
			go func() {
				defer running.Store(false)
				fn(ctx)
			}()
		}
	}
}

// supplyPollTick implements spec.md §4.5(a) and, alongside it, casts this
// host's heartbeat so that a TTLOracle-backed membership table (and its
// derived userCount) stays populated without a separate timer.
func (a *Agent) supplyPollTick(ctx context.Context) {
	missing := a.registry.MissingHosts()
	if a.gauges != nil {
		a.gauges.MissingHosts.Set(float64(len(missing)))
		a.gauges.Ready.Set(boolToFloat(a.registry.Ready()))
	}

	for _, host := range missing {
		payload, err := json.Marshal(a.registry.LocalSupply())
		if err != nil {
			a.log.WithError(err).Error("agent: marshal local supply failed")
			continue
		}
		if err := a.bus.Cast(ctx, host, "receive_host_supply", string(payload)); err != nil {
			a.log.WithError(err).WithField("host", host).Warn("agent: supply cast failed, will retry next tick")
		}
	}

	a.heartbeatTick(ctx)
}

// heartbeatTick casts this host's own heartbeat to every seed peer and
// every peer already known live, and records it against the local Oracle
// so self always counts toward its own LiveMembers/UserCount.
func (a *Agent) heartbeatTick(ctx context.Context) {
	self := a.registry.LocalSupply().ComputeHost
	userIDs := a.localUserIDs()

	if hb, ok := a.members.(membership.Heartbeater); ok {
		hb.Heartbeat(self, userIDs...)
	}

	payload, err := json.Marshal(heartbeatPayload{ComputeHost: self, UserIDs: userIDs})
	if err != nil {
		a.log.WithError(err).Error("agent: marshal heartbeat failed")
		return
	}

	targets := map[string]struct{}{}
	for _, host := range a.liveMembersExcludingSelf(self) {
		targets[host] = struct{}{}
	}
	for _, host := range a.seedPeers {
		if host != self {
			targets[host] = struct{}{}
		}
	}
	for host := range targets {
		if err := a.bus.Cast(ctx, host, "heartbeat", string(payload)); err != nil {
			a.log.WithError(err).WithField("host", host).Warn("agent: heartbeat cast failed, will retry next tick")
		}
	}
}

// localUserIDs returns the distinct, non-empty user IDs owning a VM on
// this host, derived from the same roster the Enforcer's network setup
// uses.
func (a *Agent) localUserIDs() []string {
	seen := map[string]struct{}{}
	for _, vm := range a.localVMs() {
		if vm.UserID == "" {
			continue
		}
		seen[vm.UserID] = struct{}{}
	}
	out := make([]string, 0, len(seen))
	for u := range seen {
		out = append(out, u)
	}
	return out
}

func boolToFloat(b bool) float64 {
	if b {
		return 1
	}
	return 0
}

// ruiCollectTick implements spec.md §4.5(b).
func (a *Agent) ruiCollectTick(ctx context.Context) {
	if !a.registry.Ready() {
		return
	}

	now := time.Now()
	var dt *time.Duration
	if !a.lastRUITick.IsZero() {
		d := now.Sub(a.lastRUITick)
		dt = &d
	}
	a.lastRUITick = now

	intervalSeconds := 0.0
	if dt != nil {
		intervalSeconds = dt.Seconds()
	} else {
		intervalSeconds = now.Sub(a.registry.LocalSupply().BootTime).Seconds()
	}

	cloudSupply := a.registry.CloudSupply(intervalSeconds)
	localSupply := a.registry.HostSupplyVector(intervalSeconds)

	userCount := a.registry.UserCount()
	quota := cloudSupply.DivScalar(float64(userCount))
	a.fairnessQuota.Store(&quota)

	demands, endowments, err := a.collector.Tick(dt, a.registry.LocalSupply().CPUCoresWeighted, localSupply)
	if err != nil {
		a.log.WithError(err).Warn("agent: rui collection failed, tick dropped")
		return
	}
	if len(demands) == 0 || len(endowments) == 0 || dt == nil {
		return
	}

	inflated := cloudSupply.Mul(a.registry.Overcommitment())
	result, err := a.metrics.Active().Map(inflated, demands, endowments, userCount, a.registry.LocalSupply().ComputeHost)
	if err != nil {
		a.log.WithError(err).Warn("agent: metric precondition violated, tick dropped")
		return
	}
	if a.gauges != nil {
		a.gauges.SetGlobalNorm(result.GlobalNorm)
	}

	a.broadcastHeavinesses(ctx, result)
}

// broadcastHeavinesses casts receive_heavinesses to every live peer and
// to self, per spec.md §4.5(b).
func (a *Agent) broadcastHeavinesses(ctx context.Context, result metric.Result) {
	self := a.registry.LocalSupply().ComputeHost
	hm := exchange.HeavinessMap{SenderHost: self, GlobalNorm: result.GlobalNorm, PerVM: result.PerVM}
	payload, err := json.Marshal(hm)
	if err != nil {
		a.log.WithError(err).Error("agent: marshal heavinesses failed")
		return
	}
	for _, host := range a.liveMembersExcludingSelf(self) {
		if err := a.bus.Cast(ctx, host, "receive_heavinesses", string(payload)); err != nil {
			a.log.WithError(err).WithField("host", host).Warn("agent: heaviness cast failed, dropped silently")
		}
	}
	a.exchange.Enqueue(self, hm)
	a.maybeReallocate(self)
}

func (a *Agent) liveMembersExcludingSelf(self string) []string {
	if a.members == nil {
		return nil
	}
	var out []string
	for _, m := range a.members.LiveMembers() {
		if m != self {
			out = append(out, m)
		}
	}
	return out
}

// handleSetMetric implements the set_metric RPC call.
func (a *Agent) handleSetMetric(metricName string) (string, error) {
	if err := a.metrics.SetActive(metricName); err != nil {
		return fmt.Sprintf(`{"status":%q}`, err.Error()), nil
	}
	return `{"status":"ok"}`, nil
}

// handleReceiveHostSupply implements receive_host_supply, including the
// unconditional echo-back to the sender per spec.md §4.5 and DESIGN
// NOTES §9(b).
func (a *Agent) handleReceiveHostSupply(ctx context.Context, payload string) error {
	var s supply.HostSupply
	if err := json.Unmarshal([]byte(payload), &s); err != nil {
		return fmt.Errorf("agent: unmarshal host supply: %w", err)
	}
	a.registry.Add(s)

	localPayload, err := json.Marshal(a.registry.LocalSupply())
	if err != nil {
		return fmt.Errorf("agent: marshal local supply for echo: %w", err)
	}
	if err := a.bus.Cast(ctx, s.ComputeHost, "receive_host_supply", string(localPayload)); err != nil {
		a.log.WithError(err).WithField("host", s.ComputeHost).Warn("agent: echo cast failed, sender will retry via its own poll")
	}
	return nil
}

// handleHeartbeat implements the heartbeat RPC cast: record the sender as
// live, along with the distinct users it reports, in the local Oracle.
// No-op if the configured Oracle doesn't support heartbeats (e.g.
// membership.Static in single-node deployments).
func (a *Agent) handleHeartbeat(payload string) error {
	var hb heartbeatPayload
	if err := json.Unmarshal([]byte(payload), &hb); err != nil {
		return fmt.Errorf("agent: unmarshal heartbeat: %w", err)
	}
	if h, ok := a.members.(membership.Heartbeater); ok {
		h.Heartbeat(hb.ComputeHost, hb.UserIDs...)
	}
	return nil
}

// handleReceiveHeavinesses implements receive_heavinesses: strip
// compute_host, enqueue, and trigger reallocation once every live member
// has reported.
func (a *Agent) handleReceiveHeavinesses(ctx context.Context, payload string) error {
	var hm exchange.HeavinessMap
	if err := json.Unmarshal([]byte(payload), &hm); err != nil {
		return fmt.Errorf("agent: unmarshal heavinesses: %w", err)
	}
	sender := hm.ComputeHost()
	a.exchange.Enqueue(sender, hm)
	a.maybeReallocate(sender)
	return nil
}

func (a *Agent) maybeReallocate(self string) {
	if !a.exchange.AllCollected(self) {
		return
	}
	merged := a.mergeHeavinesses()
	quota := vector.Vector{}
	if q := a.fairnessQuota.Load(); q != nil {
		quota = *q
	}
	var norm [6]float64
	go func() {
		if err := a.allocator.Reallocate(a.exchange, a.localVMs(), merged, norm, quota); err != nil {
			a.log.WithError(err).Warn("agent: reallocation failed")
		}
	}()
}

// mergeHeavinesses folds every peer's (already-queued) heaviness map into
// one combined per-VM view for the allocator.
func (a *Agent) mergeHeavinesses() map[string]metric.VMEntry {
	merged := make(map[string]metric.VMEntry)
	for _, hm := range a.exchange.PopAll() {
		for name, entry := range hm.PerVM {
			merged[name] = entry
		}
	}
	return merged
}
