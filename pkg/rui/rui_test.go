package rui

import (
	"io"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nova-compute/fairnessd/pkg/hypervisor"
	"github.com/nova-compute/fairnessd/pkg/vector"
)

type fakeProbe struct {
	domains []hypervisor.Domain
	samples map[string]vector.Vector
}

func (f *fakeProbe) ActiveDomains() ([]hypervisor.Domain, error) { return f.domains, nil }
func (f *fakeProbe) Sample(d hypervisor.Domain, bogoMIPS float64) (vector.Vector, error) {
	return f.samples[d.InstanceName], nil
}

func silentLogger() *logrus.Entry {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return logrus.NewEntry(l)
}

func TestFirstTickNoDtYieldsNullInterval(t *testing.T) {
	probe := &fakeProbe{
		domains: []hypervisor.Domain{{InstanceName: "vm-1", VCPUs: 2, MaxMemoryKB: 1024, State: hypervisor.StateActive}},
		samples: map[string]vector.Vector{"vm-1": {CPUTime: 10}},
	}
	c := New(probe, 0.5, nil, silentLogger())

	demands, endowments, err := c.Tick(nil, 1, vector.Vector{CPUTime: 100, MemoryUsed: 500})
	require.NoError(t, err)
	assert.Equal(t, 10.0, demands["vm-1"].Vector.CPUTime)
	assert.Equal(t, 1024.0, endowments["vm-1"].Vector.MemoryUsed)
}

func TestSecondTickAppliesDecay(t *testing.T) {
	probe := &fakeProbe{
		domains: []hypervisor.Domain{{InstanceName: "vm-1", VCPUs: 1, MaxMemoryKB: 1024, State: hypervisor.StateActive}},
		samples: map[string]vector.Vector{"vm-1": {CPUTime: 10}},
	}
	c := New(probe, 0.5, nil, silentLogger())
	dt := 10 * time.Second

	_, _, err := c.Tick(&dt, 1, vector.Vector{CPUTime: 100})
	require.NoError(t, err)

	probe.samples["vm-1"] = vector.Vector{CPUTime: 30}
	demands, _, err := c.Tick(&dt, 1, vector.Vector{CPUTime: 100})
	require.NoError(t, err)

	// delta = 30-10 = 20; the first tick (dt != nil, first observation)
	// set interval demand to full_now=10, so this second observation
	// applies the decay: old=10, new=20 -> 0.5*10+0.5*20=15
	assert.Equal(t, 15.0, demands["vm-1"].Vector.CPUTime)
}

func TestPurgesDepartedVM(t *testing.T) {
	probe := &fakeProbe{
		domains: []hypervisor.Domain{{InstanceName: "vm-1", VCPUs: 1, MaxMemoryKB: 1024, State: hypervisor.StateActive}},
		samples: map[string]vector.Vector{"vm-1": {CPUTime: 10}},
	}
	c := New(probe, 0.5, nil, silentLogger())
	dt := time.Second
	_, _, err := c.Tick(&dt, 1, vector.Vector{})
	require.NoError(t, err)

	probe.domains = nil
	demands, endowments, err := c.Tick(&dt, 1, vector.Vector{})
	require.NoError(t, err)
	assert.Empty(t, demands)
	assert.Empty(t, endowments)
	assert.Empty(t, c.fullDemand)
	assert.Empty(t, c.intervalDemand)
}
