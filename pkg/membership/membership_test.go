package membership

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestTTLOracleHeartbeatTracksLiveMembersAndUsers(t *testing.T) {
	o := NewTTLOracle(50*time.Millisecond, 10*time.Millisecond)
	o.Heartbeat("host-a", "user-1", "user-2")
	o.Heartbeat("host-b", "user-2", "user-3")

	assert.ElementsMatch(t, []string{"host-a", "host-b"}, o.LiveMembers())
	assert.Equal(t, 3, o.UserCount())
}

func TestTTLOracleHeartbeatIgnoresEmptyUserID(t *testing.T) {
	o := NewTTLOracle(time.Second, time.Second)
	o.Heartbeat("host-a", "", "user-1", "")

	assert.Equal(t, 1, o.UserCount())
}

func TestTTLOracleExpiryDropsStaleMembers(t *testing.T) {
	o := NewTTLOracle(20*time.Millisecond, 5*time.Millisecond)
	o.Heartbeat("host-a", "user-1")

	assert.ElementsMatch(t, []string{"host-a"}, o.LiveMembers())

	time.Sleep(100 * time.Millisecond)

	assert.Empty(t, o.LiveMembers())
	assert.Equal(t, 0, o.UserCount())
}

func TestTTLOracleForgetEvictsImmediately(t *testing.T) {
	o := NewTTLOracle(time.Minute, time.Minute)
	o.Heartbeat("host-a", "user-1")
	o.Heartbeat("host-b", "user-2")

	o.Forget("host-a")

	assert.ElementsMatch(t, []string{"host-b"}, o.LiveMembers())
	assert.Equal(t, 1, o.UserCount())
}

func TestTTLOracleRepeatedHeartbeatRefreshesTTL(t *testing.T) {
	o := NewTTLOracle(40*time.Millisecond, 5*time.Millisecond)
	o.Heartbeat("host-a", "user-1")

	time.Sleep(25 * time.Millisecond)
	o.Heartbeat("host-a", "user-1")
	time.Sleep(25 * time.Millisecond)

	assert.ElementsMatch(t, []string{"host-a"}, o.LiveMembers())
}

func TestStaticOracle(t *testing.T) {
	s := Static{Members: []string{"host-a", "host-b"}, Users: 2}
	assert.ElementsMatch(t, []string{"host-a", "host-b"}, s.LiveMembers())
	assert.Equal(t, 2, s.UserCount())
}

func TestTTLOracleImplementsHeartbeater(t *testing.T) {
	var _ Heartbeater = NewTTLOracle(time.Second, time.Second)
}
