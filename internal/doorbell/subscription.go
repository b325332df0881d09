package doorbell

import (
	"context"
	"sync"
	"time"
)

// SubscriptionManagerOptions configures a SubscriptionManager. Zero
// values get defaults.
type SubscriptionManagerOptions struct {
	Store      RemoteStore
	Tracker    *Tracker
	Dispatcher *Dispatcher
	Logger     Logger
	// RetryDelay is the pause before re-establishing a subscription whose
	// stream ended. Default 5s.
	RetryDelay time.Duration
}

// SubscriptionManager is the push-driven alternative to the Poller: one
// live value subscription per tracked user, each delivering markers to
// the shared Tracker in store order. Track is idempotent; Remove cancels
// the subscription and discards the user's tracking state.
type SubscriptionManager struct {
	store      RemoteStore
	tracker    *Tracker
	dispatcher *Dispatcher
	logger     Logger
	retryDelay time.Duration

	mu      sync.Mutex
	ctx     context.Context
	cancel  context.CancelFunc
	started bool
	active  map[string]context.CancelFunc
	wg      sync.WaitGroup
}

func NewSubscriptionManager(opts SubscriptionManagerOptions) *SubscriptionManager {
	logger := opts.Logger
	if logger == nil {
		logger = nopLogger{}
	}
	retryDelay := opts.RetryDelay
	if retryDelay <= 0 {
		retryDelay = 5 * time.Second
	}
	return &SubscriptionManager{
		store:      opts.Store,
		tracker:    opts.Tracker,
		dispatcher: opts.Dispatcher,
		logger:     logger,
		retryDelay: retryDelay,
		active:     map[string]context.CancelFunc{},
	}
}

// Start binds the manager lifetime to ctx. Must be called before Track.
func (m *SubscriptionManager) Start(ctx context.Context) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.started {
		return
	}
	m.ctx, m.cancel = context.WithCancel(ctx)
	m.started = true
}

// Track ensures exactly one live subscription exists for uid. Calling it
// again for a subscribed user is a no-op.
func (m *SubscriptionManager) Track(uid string) {
	if uid == "" {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.started {
		return
	}
	if _, ok := m.active[uid]; ok {
		return
	}
	subCtx, cancel := context.WithCancel(m.ctx)
	m.active[uid] = cancel
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		m.watch(subCtx, uid)
	}()
}

// Remove cancels the user's subscription and forgets their tracking
// entry, so a rediscovered user re-initializes instead of firing on a
// historical marker.
func (m *SubscriptionManager) Remove(uid string) {
	m.mu.Lock()
	cancel, ok := m.active[uid]
	if ok {
		delete(m.active, uid)
	}
	m.mu.Unlock()
	if ok {
		cancel()
		m.tracker.Forget(uid)
		m.logger.Printf("stopped tracking user %s", uid)
	}
}

// ActiveCount returns the number of live subscriptions.
func (m *SubscriptionManager) ActiveCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.active)
}

// Close cancels every subscription and waits for the watchers to exit.
func (m *SubscriptionManager) Close() {
	m.mu.Lock()
	if m.cancel != nil {
		m.cancel()
	}
	m.active = map[string]context.CancelFunc{}
	m.mu.Unlock()
	m.wg.Wait()
}

func (m *SubscriptionManager) watch(ctx context.Context, uid string) {
	for {
		values, stop, err := m.store.SubscribeValue(ctx, EventPath(uid))
		if err != nil {
			m.logger.Printf("subscribe failed for user %s: %v", uid, err)
		} else {
			m.consume(ctx, uid, values)
			stop()
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(m.retryDelay):
		}
	}
}

func (m *SubscriptionManager) consume(ctx context.Context, uid string, values <-chan Value) {
	for {
		select {
		case value, ok := <-values:
			if !ok {
				return
			}
			switch m.tracker.Observe(uid, value) {
			case Initialize:
				marker, _ := value.Int64()
				m.logger.Printf("initialized marker for user %s: %d", uid, marker)
			case NewEvent:
				marker, _ := value.Int64()
				m.logger.Printf("new doorbell event for user %s: %d", uid, marker)
				m.dispatcher.TryEnqueue(Intent{UID: uid, Marker: marker})
			}
		case <-ctx.Done():
			return
		}
	}
}
