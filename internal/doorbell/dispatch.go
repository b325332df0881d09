package doorbell

import (
	"context"
	"strconv"
	"sync"
	"time"
)

// Message is the push-notification payload handed to the Messenger.
type Message struct {
	Title string
	Body  string
	Data  map[string]string
}

// Messenger delivers one push notification. Implementations never retry;
// a returned error means the send was rejected or undeliverable.
type Messenger interface {
	Send(ctx context.Context, token string, msg Message) error
}

// Intent records a decision to notify a user about a new event marker.
// Produced by the poll/subscription drivers on a NewEvent classification
// and consumed by the Dispatcher worker.
type Intent struct {
	UID    string
	Marker int64
}

// DispatcherOptions configures a Dispatcher. Zero values get defaults.
type DispatcherOptions struct {
	Store       RemoteStore
	Messenger   Messenger
	QueueSize   int           // default 64
	SendTimeout time.Duration // per token-lookup and send, default 10s
	Logger      Logger
}

// Dispatcher consumes dispatch intents from a buffered channel on a
// single worker goroutine: it looks the device token up at send time
// (tokens change on logout, so they are never cached across events) and
// fires the push. A missing token is a silent skip; a send failure is
// logged and never retried or escalated.
type Dispatcher struct {
	store       RemoteStore
	messenger   Messenger
	intents     chan Intent
	sendTimeout time.Duration
	logger      Logger

	cancel  context.CancelFunc
	wg      sync.WaitGroup
	once    sync.Once
	dropped uint64
	mu      sync.Mutex
}

func NewDispatcher(opts DispatcherOptions) *Dispatcher {
	queueSize := opts.QueueSize
	if queueSize <= 0 {
		queueSize = 64
	}
	sendTimeout := opts.SendTimeout
	if sendTimeout <= 0 {
		sendTimeout = 10 * time.Second
	}
	logger := opts.Logger
	if logger == nil {
		logger = nopLogger{}
	}
	return &Dispatcher{
		store:       opts.Store,
		messenger:   opts.Messenger,
		intents:     make(chan Intent, queueSize),
		sendTimeout: sendTimeout,
		logger:      logger,
	}
}

// Start launches the worker goroutine. It runs until Close or ctx
// cancellation.
func (d *Dispatcher) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	d.cancel = cancel
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		for {
			select {
			case intent := <-d.intents:
				d.deliver(ctx, intent)
			case <-ctx.Done():
				return
			}
		}
	}()
}

// Close stops the worker and waits for an in-flight delivery to finish.
func (d *Dispatcher) Close() {
	d.once.Do(func() {
		if d.cancel != nil {
			d.cancel()
		}
		d.wg.Wait()
	})
}

// TryEnqueue hands an intent to the worker without blocking. A full
// queue drops the intent: the next poll cycle re-reads the marker, and
// the tracker has already advanced, so nothing double-fires.
func (d *Dispatcher) TryEnqueue(intent Intent) bool {
	select {
	case d.intents <- intent:
		return true
	default:
		d.mu.Lock()
		d.dropped++
		d.mu.Unlock()
		d.logger.Printf("dispatch queue full, dropping intent for user %s", intent.UID)
		return false
	}
}

// Dropped returns the number of intents shed due to a full queue.
func (d *Dispatcher) Dropped() uint64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.dropped
}

func (d *Dispatcher) deliver(ctx context.Context, intent Intent) {
	readCtx, cancel := context.WithTimeout(ctx, d.sendTimeout)
	defer cancel()

	value, err := d.store.ReadValue(readCtx, TokenPath(intent.UID))
	if err != nil {
		d.logger.Printf("token lookup failed for user %s: %v", intent.UID, err)
		return
	}
	token, ok := value.String()
	if !ok {
		d.logger.Printf("no fcm token for user %s, skipping notification", intent.UID)
		return
	}

	msg := Message{
		Title: "Doorbell Ringing!",
		Body:  "Someone is at the door.",
		Data: map[string]string{
			"click_action": "FLUTTER_NOTIFICATION_CLICK",
			"type":         "doorbell",
			"event_time":   strconv.FormatInt(intent.Marker, 10),
		},
	}
	if err := d.messenger.Send(readCtx, token, msg); err != nil {
		d.logger.Printf("fcm send failed for user %s: %v", intent.UID, err)
		return
	}
	d.logger.Printf("fcm sent to user %s for event %d", intent.UID, intent.Marker)
}
