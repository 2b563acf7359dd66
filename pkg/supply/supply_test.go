package supply

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nova-compute/fairnessd/pkg/membership"
)

func TestHostSupplyJSONRoundTrip(t *testing.T) {
	boot := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	h := HostSupply{
		ComputeHost:       "host-a",
		BootTime:          boot,
		CPUCoresWeighted:  6000,
		DiskSpeeds:        1e9,
		NetworkThroughput: 1e8,
		MemoryUsed:        4e6,
		SupplyCreatedAt:   100,
	}

	data, err := json.Marshal(h)
	require.NoError(t, err)

	var got HostSupply
	require.NoError(t, json.Unmarshal(data, &got))
	assert.Equal(t, h.ComputeHost, got.ComputeHost)
	assert.True(t, h.BootTime.Equal(got.BootTime))
	assert.Equal(t, h.CPUCoresWeighted, got.CPUCoresWeighted)
	assert.Equal(t, h.SupplyCreatedAt, got.SupplyCreatedAt)
}

func TestRegistryAddKeepsNewerTimestamp(t *testing.T) {
	members := membership.Static{Members: []string{"local", "host-h"}}
	r := New(HostSupply{ComputeHost: "local"}, Overcommitment{}, members)

	r.Add(HostSupply{ComputeHost: "host-h", SupplyCreatedAt: 100, CPUCoresWeighted: 1})
	r.Add(HostSupply{ComputeHost: "host-h", SupplyCreatedAt: 99, CPUCoresWeighted: 2})

	got := r.CloudSupply(1)
	assert.Equal(t, 1.0, got.CPUTime)
}

func TestRegistryReadinessGate(t *testing.T) {
	members := membership.Static{Members: []string{"local", "A", "B", "C"}}
	r := New(HostSupply{ComputeHost: "local"}, Overcommitment{}, members)

	r.Add(HostSupply{ComputeHost: "A", SupplyCreatedAt: 1})
	r.Add(HostSupply{ComputeHost: "B", SupplyCreatedAt: 1})
	assert.False(t, r.Ready())
	assert.Equal(t, []string{"C"}, r.MissingHosts())

	r.Add(HostSupply{ComputeHost: "C", SupplyCreatedAt: 1})
	assert.True(t, r.Ready())
}

func TestRegistryPurgesNonMembers(t *testing.T) {
	members := membership.Static{Members: []string{"local", "A"}}
	r := New(HostSupply{ComputeHost: "local"}, Overcommitment{}, members)
	r.Add(HostSupply{ComputeHost: "A", SupplyCreatedAt: 1, CPUCoresWeighted: 5})
	r.Add(HostSupply{ComputeHost: "stale", SupplyCreatedAt: 1, CPUCoresWeighted: 99})

	got := r.CloudSupply(1)
	assert.Equal(t, 5.0, got.CPUTime)
}
