package frames

import (
	"errors"
	"sync"
	"time"
)

var ErrInvalidInput = errors.New("invalid input")

// Backend persists the latest frame per user so a restart can serve a
// snapshot before the camera uploads again. Optional: a nil backend
// keeps the store purely in memory.
type Backend interface {
	SaveFrame(uid string, data []byte, at time.Time) error
	LoadFrames() (map[string][]byte, error)
	Close() error
}

// StoreOptions configures a Store.
type StoreOptions struct {
	// Backend is the optional persistence layer. Load/save failures are
	// reported through Logger and never fail an upload.
	Backend Backend
	Logger  Logger
}

// Logger is the minimal logging seam for the frame store.
type Logger interface {
	Printf(format string, args ...any)
}

type nopLogger struct{}

func (nopLogger) Printf(string, ...any) {}

// Store holds the latest JPEG frame per user. Writers replace, readers
// copy; watchers receive each new frame for live streaming. Frame data
// shares no state with the doorbell event core.
type Store struct {
	mu     sync.RWMutex
	frames map[string][]byte

	watchMu  sync.Mutex
	watchers map[string]map[chan []byte]struct{}

	backend Backend
	logger  Logger
}

func NewStore() *Store {
	return NewStoreWithOptions(StoreOptions{})
}

func NewStoreWithOptions(opts StoreOptions) *Store {
	logger := opts.Logger
	if logger == nil {
		logger = nopLogger{}
	}
	s := &Store{
		frames:   map[string][]byte{},
		watchers: map[string]map[chan []byte]struct{}{},
		backend:  opts.Backend,
		logger:   logger,
	}
	if s.backend != nil {
		persisted, err := s.backend.LoadFrames()
		if err != nil {
			s.logger.Printf("frame backend load failed: %v", err)
		} else {
			for uid, data := range persisted {
				s.frames[uid] = data
			}
			if len(persisted) > 0 {
				s.logger.Printf("restored %d frame(s) from backend", len(persisted))
			}
		}
	}
	return s
}

// Put stores data as the latest frame for uid and fans it out to any
// live watchers. The input is copied so callers can reuse their buffer.
func (s *Store) Put(uid string, data []byte) error {
	if uid == "" || len(data) == 0 {
		return ErrInvalidInput
	}
	frame := make([]byte, len(data))
	copy(frame, data)

	s.mu.Lock()
	s.frames[uid] = frame
	s.mu.Unlock()

	if s.backend != nil {
		if err := s.backend.SaveFrame(uid, frame, time.Now().UTC()); err != nil {
			s.logger.Printf("frame backend save failed for user %s: %v", uid, err)
		}
	}
	s.broadcast(uid, frame)
	return nil
}

// Latest returns a copy of the newest frame for uid.
func (s *Store) Latest(uid string) ([]byte, bool) {
	s.mu.RLock()
	frame, ok := s.frames[uid]
	s.mu.RUnlock()
	if !ok {
		return nil, false
	}
	out := make([]byte, len(frame))
	copy(out, frame)
	return out, true
}

// UserCount returns the number of users with at least one frame.
func (s *Store) UserCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.frames)
}

// Watch registers a live feed for uid. A watcher that falls behind has
// its oldest pending frame replaced, never blocking the uploader. The
// cancel function unregisters the watcher and closes the channel.
func (s *Store) Watch(uid string) (<-chan []byte, func()) {
	ch := make(chan []byte, 1)
	s.watchMu.Lock()
	set, ok := s.watchers[uid]
	if !ok {
		set = map[chan []byte]struct{}{}
		s.watchers[uid] = set
	}
	set[ch] = struct{}{}
	s.watchMu.Unlock()

	cancel := func() {
		s.watchMu.Lock()
		if set, ok := s.watchers[uid]; ok {
			if _, registered := set[ch]; registered {
				delete(set, ch)
				close(ch)
			}
			if len(set) == 0 {
				delete(s.watchers, uid)
			}
		}
		s.watchMu.Unlock()
	}
	return ch, cancel
}

func (s *Store) broadcast(uid string, frame []byte) {
	s.watchMu.Lock()
	defer s.watchMu.Unlock()
	for ch := range s.watchers[uid] {
		select {
		case ch <- frame:
		default:
			// Slow watcher: drop its stale pending frame for the new one.
			select {
			case <-ch:
			default:
			}
			select {
			case ch <- frame:
			default:
			}
		}
	}
}

// Close releases the persistence backend, if any.
func (s *Store) Close() error {
	if s.backend == nil {
		return nil
	}
	return s.backend.Close()
}
