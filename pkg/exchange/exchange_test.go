package exchange

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/nova-compute/fairnessd/pkg/membership"
)

func TestAllCollectedRequiresEveryLivePeer(t *testing.T) {
	e := New(membership.Static{Members: []string{"self", "A", "B"}})
	assert.False(t, e.AllCollected("self"))

	e.Enqueue("A", HeavinessMap{})
	assert.False(t, e.AllCollected("self"))

	e.Enqueue("B", HeavinessMap{})
	assert.True(t, e.AllCollected("self"))
}

func TestAllCollectedPurgesDepartedPeers(t *testing.T) {
	e := New(membership.Static{Members: []string{"self", "A"}})
	e.Enqueue("A", HeavinessMap{})
	e.Enqueue("stale-peer", HeavinessMap{})
	assert.True(t, e.AllCollected("self"))

	popped := e.PopAll()
	_, hasStale := popped["stale-peer"]
	assert.False(t, hasStale)
}

func TestPopAllDrainsOneEntryPerPeer(t *testing.T) {
	e := New(membership.Static{Members: []string{"self", "A"}})
	e.Enqueue("A", HeavinessMap{GlobalNorm: [6]float64{1}})
	e.Enqueue("A", HeavinessMap{GlobalNorm: [6]float64{2}})

	first := e.PopAll()
	assert.Equal(t, 1.0, first["A"].GlobalNorm[0])

	second := e.PopAll()
	assert.Equal(t, 2.0, second["A"].GlobalNorm[0])
}
