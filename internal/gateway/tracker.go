package gateway

import (
	"sort"

	"github.com/MarkoPoloResearchLab/terminus/pkg/ledger"
)

// ConnectionStateTracker follows the shared seeds this node listens on.
// Seeds announced through outgoing beacons are not tracked here; their state
// lives on the provider's connection attempts.
type ConnectionStateTracker struct {
	states map[ledger.SharedSeed]ledger.ConnectionState
}

// NewConnectionStateTracker returns an empty tracker.
func NewConnectionStateTracker() *ConnectionStateTracker {
	return &ConnectionStateTracker{states: map[ledger.SharedSeed]ledger.ConnectionState{}}
}

// SetConnecting starts tracking seed, or moves a tracked seed back to connecting.
func (tracker *ConnectionStateTracker) SetConnecting(seed ledger.SharedSeed) {
	tracker.states[seed] = ledger.ConnectionStateConnecting
}

// SetConnected marks a tracked seed connected. Untracked seeds are ignored.
func (tracker *ConnectionStateTracker) SetConnected(seed ledger.SharedSeed) {
	if tracker.IsLocal(seed) {
		tracker.states[seed] = ledger.ConnectionStateConnected
	}
}

// SetDisconnected marks a tracked seed disconnected. Untracked seeds are ignored.
func (tracker *ConnectionStateTracker) SetDisconnected(seed ledger.SharedSeed) {
	if tracker.IsLocal(seed) {
		tracker.states[seed] = ledger.ConnectionStateDisconnected
	}
}

// Clear stops tracking seed.
func (tracker *ConnectionStateTracker) Clear(seed ledger.SharedSeed) {
	delete(tracker.states, seed)
}

// IsLocal reports whether seed is tracked.
func (tracker *ConnectionStateTracker) IsLocal(seed ledger.SharedSeed) bool {
	_, ok := tracker.states[seed]
	return ok
}

// State returns the state of seed.
func (tracker *ConnectionStateTracker) State(seed ledger.SharedSeed) (ledger.ConnectionState, bool) {
	state, ok := tracker.states[seed]
	return state, ok
}

// Disconnected returns every tracked seed in the disconnected state, in a
// stable order.
func (tracker *ConnectionStateTracker) Disconnected() []ledger.SharedSeed {
	var seeds []ledger.SharedSeed
	for seed, state := range tracker.states {
		if state == ledger.ConnectionStateDisconnected {
			seeds = append(seeds, seed)
		}
	}
	sort.Slice(seeds, func(left, right int) bool {
		return seeds[left].String() < seeds[right].String()
	})
	return seeds
}
