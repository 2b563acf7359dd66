// Package membership implements the MembershipOracle external
// collaborator: the source of truth for which compute hosts are currently
// live, and how many distinct users own VMs across the live fleet.
package membership

import (
	"time"

	"github.com/patrickmn/go-cache"
)

// Oracle is the interface CloudSupplyRegistry and FairnessAgent depend on.
// A nil Oracle is treated as "no peers known": readiness is always false.
type Oracle interface {
	// LiveMembers returns the compute-host names currently considered live.
	LiveMembers() []string
	// UserCount returns the number of distinct users with VMs on any live
	// member.
	UserCount() int
}

// Heartbeater is the optional capability an Oracle backend may implement to
// accept heartbeat casts from peers. FairnessAgent type-asserts a.members
// against this interface rather than requiring every Oracle (e.g. Static)
// to carry a no-op Heartbeat method.
type Heartbeater interface {
	// Heartbeat records host as alive, and userIDs as the distinct users
	// currently holding VMs there.
	Heartbeat(host string, userIDs ...string)
}

// TTLOracle is a heartbeat-driven Oracle: a host is live as long as its
// most recent heartbeat is within the TTL window. Backed by
// github.com/patrickmn/go-cache so expiry is handled without a manual
// sweep goroutine.
type TTLOracle struct {
	hosts *cache.Cache
	users *cache.Cache
}

// NewTTLOracle builds a TTLOracle whose entries expire ttl after their
// last heartbeat, swept every cleanupInterval.
func NewTTLOracle(ttl, cleanupInterval time.Duration) *TTLOracle {
	return &TTLOracle{
		hosts: cache.New(ttl, cleanupInterval),
		users: cache.New(ttl, cleanupInterval),
	}
}

// Heartbeat records that host is alive, and that userID owns a VM there,
// resetting both entries' TTLs.
func (o *TTLOracle) Heartbeat(host string, userIDs ...string) {
	o.hosts.Set(host, struct{}{}, cache.DefaultExpiration)
	for _, u := range userIDs {
		if u == "" {
			continue
		}
		o.users.Set(userKey(host, u), struct{}{}, cache.DefaultExpiration)
	}
}

// Forget immediately evicts host and all of its associated users,
// independent of the TTL.
func (o *TTLOracle) Forget(host string) {
	o.hosts.Delete(host)
	for key := range o.users.Items() {
		if hostOfUserKey(key) == host {
			o.users.Delete(key)
		}
	}
}

// LiveMembers implements Oracle.
func (o *TTLOracle) LiveMembers() []string {
	items := o.hosts.Items()
	out := make([]string, 0, len(items))
	for host := range items {
		out = append(out, host)
	}
	return out
}

// UserCount implements Oracle.
func (o *TTLOracle) UserCount() int {
	seen := make(map[string]struct{})
	for key := range o.users.Items() {
		seen[userOfUserKey(key)] = struct{}{}
	}
	return len(seen)
}

func userKey(host, userID string) string { return host + "\x00" + userID }

func hostOfUserKey(key string) string {
	for i := 0; i < len(key); i++ {
		if key[i] == 0 {
			return key[:i]
		}
	}
	return key
}

func userOfUserKey(key string) string {
	for i := 0; i < len(key); i++ {
		if key[i] == 0 {
			return key[i+1:]
		}
	}
	return key
}

// Static is a fixed-membership Oracle useful for tests and single-node
// deployments where gossip-driven discovery is unnecessary.
type Static struct {
	Members []string
	Users   int
}

// LiveMembers implements Oracle.
func (s Static) LiveMembers() []string { return s.Members }

// UserCount implements Oracle.
func (s Static) UserCount() int { return s.Users }
