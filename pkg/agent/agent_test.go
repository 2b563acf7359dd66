package agent

import (
	"context"
	"encoding/json"
	"io"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nova-compute/fairnessd/pkg/allocator"
	"github.com/nova-compute/fairnessd/pkg/config"
	"github.com/nova-compute/fairnessd/pkg/enforcer"
	"github.com/nova-compute/fairnessd/pkg/exchange"
	"github.com/nova-compute/fairnessd/pkg/membership"
	"github.com/nova-compute/fairnessd/pkg/metric"
	"github.com/nova-compute/fairnessd/pkg/rui"
	"github.com/nova-compute/fairnessd/pkg/supply"
	"github.com/nova-compute/fairnessd/pkg/transport"
)

type noopEnforcer struct{}

func (noopEnforcer) Apply(enforcer.Setpoint) error                           { return nil }
func (noopEnforcer) ApplyNetwork([]enforcer.Setpoint, map[string]string) error { return nil }

func silentLogger() *logrus.Entry {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return logrus.NewEntry(l)
}

func newTestAgent(t *testing.T, host string, members membership.Oracle, bus transport.Bus) *Agent {
	t.Helper()
	reg, err := metric.NewRegistry("GreedinessMetric", metric.Greediness{})
	require.NoError(t, err)

	registry := supply.New(supply.HostSupply{ComputeHost: host, SupplyCreatedAt: 1}, supply.Overcommitment{CPUAllocationRatio: 1, RAMAllocationRatio: 1, DiskAllocationRatio: 1}, members)
	ex := exchange.New(members)
	alloc := allocator.New(noopEnforcer{}, nil, nil, silentLogger())

	return New(config.Default().Fairness, silentLogger(), bus, members, registry, reg, nil, nil, ex, alloc, func() []allocator.LocalVM { return nil }, nil)
}

func TestSetMetricRPCSwitchesActiveMetric(t *testing.T) {
	members := membership.Static{Members: []string{"host-a"}}
	reg := transport.NewMemoryRegistry()
	bus := transport.NewMemoryBus("host-a", reg)
	a := newTestAgent(t, "host-a", members, bus)

	reply, err := a.handleSetMetric("GreedinessMetric")
	require.NoError(t, err)
	assert.Equal(t, `{"status":"ok"}`, reply)

	reply, err = a.handleSetMetric("NoSuchMetric")
	require.NoError(t, err)
	assert.Equal(t, `{"status":"Metric not found on compute host."}`, reply)
	assert.Equal(t, "GreedinessMetric", a.metrics.Active().Name())
}

func TestReceiveHostSupplyEchoesBack(t *testing.T) {
	members := membership.Static{Members: []string{"host-a", "host-b"}}
	reg := transport.NewMemoryRegistry()
	busA := transport.NewMemoryBus("host-a", reg)
	busB := transport.NewMemoryBus("host-b", reg)

	agentA := newTestAgent(t, "host-a", members, busA)
	agentB := newTestAgent(t, "host-b", members, busB)
	_ = agentB

	incomingB := supply.HostSupply{ComputeHost: "host-b", SupplyCreatedAt: 5, CPUCoresWeighted: 10}
	payload, err := json.Marshal(incomingB)
	require.NoError(t, err)

	require.NoError(t, agentA.handleReceiveHostSupply(context.Background(), string(payload)))

	assert.True(t, agentA.registry.Ready() || len(agentA.registry.MissingHosts()) <= 1)
	// The echo cast carries host-a's supply to host-b.
	assert.Eventually(t, func() bool { return len(agentB.registry.MissingHosts()) == 0 }, time.Second, 10*time.Millisecond)
}

func TestHandleHeartbeatUpdatesTTLOracle(t *testing.T) {
	oracle := membership.NewTTLOracle(time.Minute, time.Minute)
	reg := transport.NewMemoryRegistry()
	bus := transport.NewMemoryBus("host-a", reg)
	a := newTestAgent(t, "host-a", oracle, bus)

	payload, err := json.Marshal(heartbeatPayload{ComputeHost: "host-b", UserIDs: []string{"user-1", "user-2", "user-1"}})
	require.NoError(t, err)

	require.NoError(t, a.handleHeartbeat(string(payload)))

	assert.Contains(t, oracle.LiveMembers(), "host-b")
	assert.Equal(t, 2, oracle.UserCount())
}

func TestHandleHeartbeatIgnoredByStaticOracle(t *testing.T) {
	members := membership.Static{Members: []string{"host-a"}}
	reg := transport.NewMemoryRegistry()
	bus := transport.NewMemoryBus("host-a", reg)
	a := newTestAgent(t, "host-a", members, bus)

	payload, err := json.Marshal(heartbeatPayload{ComputeHost: "host-b", UserIDs: []string{"user-1"}})
	require.NoError(t, err)

	require.NoError(t, a.handleHeartbeat(string(payload)))
}
