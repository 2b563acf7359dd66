package allocator

import (
	"io"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nova-compute/fairnessd/pkg/enforcer"
	"github.com/nova-compute/fairnessd/pkg/exchange"
	"github.com/nova-compute/fairnessd/pkg/membership"
	"github.com/nova-compute/fairnessd/pkg/metric"
	"github.com/nova-compute/fairnessd/pkg/vector"
)

type recordingEnforcer struct {
	mu     sync.Mutex
	calls  []enforcer.Setpoint
	netted []enforcer.Setpoint
}

func (r *recordingEnforcer) Apply(s enforcer.Setpoint) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, s)
	return nil
}

func (r *recordingEnforcer) ApplyNetwork(setpoints []enforcer.Setpoint, _ map[string]string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.netted = setpoints
	return nil
}

func silentLogger() *logrus.Entry {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return logrus.NewEntry(l)
}

func TestHeavierVMGetsStrictlyLowerSetpoints(t *testing.T) {
	enf := &recordingEnforcer{}
	a := New(enf, nil, nil, silentLogger())
	ex := exchange.New(membership.Static{})

	local := map[string]metric.VMEntry{
		"light": {Heaviness: 0, NormalizedEndowment: 10},
		"heavy": {Heaviness: 5, NormalizedEndowment: 10},
	}
	vms := []LocalVM{{InstanceName: "light"}, {InstanceName: "heavy"}}

	err := a.Reallocate(ex, vms, local, [6]float64{}, vector.Vector{})
	require.NoError(t, err)
	require.Len(t, enf.calls, 2)

	var light, heavy enforcer.Setpoint
	for _, c := range enf.calls {
		if c.InstanceName == "light" {
			light = c
		} else {
			heavy = c
		}
	}
	assert.Greater(t, light.CPUShares, heavy.CPUShares)
	assert.Greater(t, light.DiskWeight, heavy.DiskWeight)
	assert.Greater(t, light.NetPriority, heavy.NetPriority)
}

func TestReallocateIsMutuallyExclusive(t *testing.T) {
	enf := &recordingEnforcer{}
	a := New(enf, nil, nil, silentLogger())
	ex := exchange.New(membership.Static{})
	local := map[string]metric.VMEntry{"vm-1": {Heaviness: 0}}
	vms := []LocalVM{{InstanceName: "vm-1"}}

	a.inFlight = true
	err := a.Reallocate(ex, vms, local, [6]float64{}, vector.Vector{})
	require.NoError(t, err)
	assert.Empty(t, enf.calls, "a concurrent round must not apply setpoints")

	a.inFlight = false
	var wg sync.WaitGroup
	var completed int32
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := a.Reallocate(ex, vms, local, [6]float64{}, vector.Vector{}); err == nil {
				atomic.AddInt32(&completed, 1)
			}
		}()
	}
	wg.Wait()
	assert.EqualValues(t, 4, completed)
}
