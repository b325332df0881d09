package doorbell

import "sync"

// Classification is the outcome of comparing an observed event marker to
// the tracked state for a user.
type Classification int

const (
	// NoChange: nothing to do. Absent markers, repeats, and out-of-order
	// deliveries all land here.
	NoChange Classification = iota
	// Initialize: first marker ever seen for this user. Recorded without
	// notifying, so a restart never re-fires on historical events.
	Initialize
	// NewEvent: marker strictly greater than the recorded one.
	NewEvent
)

func (c Classification) String() string {
	switch c {
	case Initialize:
		return "initialize"
	case NewEvent:
		return "new_event"
	default:
		return "no_change"
	}
}

// Tracker holds the last-seen doorbell event marker per user. Observe is
// pure decision logic over that state; it performs no I/O.
type Tracker struct {
	mu       sync.Mutex
	lastSeen map[string]int64
}

func NewTracker() *Tracker {
	return &Tracker{lastSeen: map[string]int64{}}
}

// Observe classifies a freshly read marker value for uid and updates the
// tracked state. Comparison is strict greater-than: equal or lesser
// markers are noise (store retries, out-of-order delivery) and never
// notify or regress the stored value.
func (t *Tracker) Observe(uid string, value Value) Classification {
	marker, ok := value.Int64()
	if !ok || marker == 0 {
		return NoChange
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	previous, tracked := t.lastSeen[uid]
	if !tracked {
		t.lastSeen[uid] = marker
		return Initialize
	}
	if marker > previous {
		t.lastSeen[uid] = marker
		return NewEvent
	}
	return NoChange
}

// Forget discards the tracking entry for uid. Used by the subscription
// driver when a user is removed; the polling driver never removes.
func (t *Tracker) Forget(uid string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.lastSeen, uid)
}

// LastSeen returns the recorded marker for uid, if any.
func (t *Tracker) LastSeen(uid string) (int64, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	marker, ok := t.lastSeen[uid]
	return marker, ok
}

// TrackedCount returns the number of users with a recorded marker.
func (t *Tracker) TrackedCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.lastSeen)
}
