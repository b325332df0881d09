package doorbell

import (
	"context"
	"sync"
	"sync/atomic"
	"time"
)

// PollerOptions configures a Poller. Zero values get defaults.
type PollerOptions struct {
	Store       RemoteStore
	Tracker     *Tracker
	Discovery   *Discovery
	Dispatcher  *Dispatcher
	Interval    time.Duration // sweep cadence, default 3s
	ReadTimeout time.Duration // per remote read, default 10s
	Logger      Logger
}

// Poller sweeps every known user's event marker at a fixed interval and
// feeds the readings to the Tracker. A tick that arrives while the
// previous cycle is still in flight is dropped, not queued: re-polls are
// idempotent, so shedding a tick is cheaper than unbounded overlap.
type Poller struct {
	store       RemoteStore
	tracker     *Tracker
	discovery   *Discovery
	dispatcher  *Dispatcher
	interval    time.Duration
	readTimeout time.Duration
	logger      Logger

	inFlight atomic.Bool
	cycles   atomic.Uint64
	skipped  atomic.Uint64
}

func NewPoller(opts PollerOptions) *Poller {
	interval := opts.Interval
	if interval <= 0 {
		interval = 3 * time.Second
	}
	readTimeout := opts.ReadTimeout
	if readTimeout <= 0 {
		readTimeout = 10 * time.Second
	}
	logger := opts.Logger
	if logger == nil {
		logger = nopLogger{}
	}
	return &Poller{
		store:       opts.Store,
		tracker:     opts.Tracker,
		discovery:   opts.Discovery,
		dispatcher:  opts.Dispatcher,
		interval:    interval,
		readTimeout: readTimeout,
		logger:      logger,
	}
}

// Run drives the sweep loop until ctx is cancelled. The first cycle runs
// immediately.
func (p *Poller) Run(ctx context.Context) {
	p.logger.Printf("doorbell polling started, checking every %s", p.interval)
	p.tick(ctx)
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			p.tick(ctx)
		case <-ctx.Done():
			return
		}
	}
}

// tick runs one cycle unless the previous one is still in flight.
func (p *Poller) tick(ctx context.Context) {
	if !p.inFlight.CompareAndSwap(false, true) {
		p.skipped.Add(1)
		return
	}
	defer p.inFlight.Store(false)
	p.pollOnce(ctx)
	p.cycles.Add(1)
}

// pollOnce refreshes discovery when due, then reads every known user's
// marker concurrently. Each read is isolated: a failure for one user is
// logged and treated as no change for that user this cycle.
func (p *Poller) pollOnce(ctx context.Context) {
	if p.discovery.Due(time.Now()) {
		refreshCtx, cancel := context.WithTimeout(ctx, p.readTimeout)
		if err := p.discovery.Refresh(refreshCtx); err != nil {
			p.logger.Printf("user discovery failed: %v", err)
		}
		cancel()
	}

	uids := p.discovery.Snapshot()
	if len(uids) == 0 {
		return
	}

	var wg sync.WaitGroup
	for _, uid := range uids {
		wg.Add(1)
		go func(uid string) {
			defer wg.Done()
			p.checkUser(ctx, uid)
		}(uid)
	}
	wg.Wait()
}

func (p *Poller) checkUser(ctx context.Context, uid string) {
	readCtx, cancel := context.WithTimeout(ctx, p.readTimeout)
	defer cancel()

	value, err := p.store.ReadValue(readCtx, EventPath(uid))
	if err != nil {
		p.logger.Printf("event read failed for user %s: %v", uid, err)
		return
	}
	switch p.tracker.Observe(uid, value) {
	case Initialize:
		marker, _ := value.Int64()
		p.logger.Printf("initialized marker for user %s: %d", uid, marker)
	case NewEvent:
		marker, _ := value.Int64()
		p.logger.Printf("new doorbell event for user %s: %d", uid, marker)
		p.dispatcher.TryEnqueue(Intent{UID: uid, Marker: marker})
	}
}

// Cycles returns the number of completed sweep cycles.
func (p *Poller) Cycles() uint64 {
	return p.cycles.Load()
}

// SkippedTicks returns the number of ticks dropped due to an in-flight
// cycle.
func (p *Poller) SkippedTicks() uint64 {
	return p.skipped.Load()
}
