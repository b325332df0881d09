package doorbell

import (
	"context"
	"sync"
	"time"
)

// Discovery maintains the set of known user identifiers by periodically
// listing the children of the users root. The set only grows: a user
// who disappears from the store keeps their tracking entry for the
// process lifetime. The subscription driver handles removal.
type Discovery struct {
	store    RemoteStore
	interval time.Duration
	logger   Logger

	mu          sync.RWMutex
	known       map[string]struct{}
	lastRefresh time.Time
}

// DiscoveryOptions configures a Discovery. Zero values get defaults.
type DiscoveryOptions struct {
	Store    RemoteStore
	Interval time.Duration // refresh cadence, default 5m
	Logger   Logger
}

func NewDiscovery(opts DiscoveryOptions) *Discovery {
	interval := opts.Interval
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	logger := opts.Logger
	if logger == nil {
		logger = nopLogger{}
	}
	return &Discovery{
		store:    opts.Store,
		interval: interval,
		logger:   logger,
		known:    map[string]struct{}{},
	}
}

// Due reports whether a refresh should run. True until the first
// successful refresh.
func (d *Discovery) Due(now time.Time) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.lastRefresh.IsZero() || now.Sub(d.lastRefresh) >= d.interval
}

// Refresh lists the users root and merges any new identifiers into the
// known set.
func (d *Discovery) Refresh(ctx context.Context) error {
	uids, err := d.store.ListChildKeys(ctx, UsersRoot)
	if err != nil {
		return err
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	added := 0
	for _, uid := range uids {
		if uid == "" {
			continue
		}
		if _, ok := d.known[uid]; !ok {
			d.known[uid] = struct{}{}
			added++
		}
	}
	d.lastRefresh = time.Now()
	if added > 0 {
		d.logger.Printf("discovered %d new user(s), tracking %d total", added, len(d.known))
	}
	return nil
}

// Snapshot returns a copy of the known set so callers can iterate it
// without holding any lock. A user added mid-cycle is picked up next
// cycle.
func (d *Discovery) Snapshot() []string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	uids := make([]string, 0, len(d.known))
	for uid := range d.known {
		uids = append(uids, uid)
	}
	return uids
}

// Count returns the size of the known set.
func (d *Discovery) Count() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.known)
}
