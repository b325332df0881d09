package doorbell

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"
)

// fakeRemoteStore is an in-memory RemoteStore with controllable
// latency, per-path errors, and call counters.
type fakeRemoteStore struct {
	mu        sync.Mutex
	users     []string
	values    map[string]string // path -> raw JSON
	readErrs  map[string]error  // path -> error
	readGate  chan struct{}     // when set, every read blocks until the gate closes
	listCalls int
	readCalls int

	subsMu sync.Mutex
	subs   map[string]chan Value
}

func newFakeRemoteStore() *fakeRemoteStore {
	return &fakeRemoteStore{
		values:   map[string]string{},
		readErrs: map[string]error{},
		subs:     map[string]chan Value{},
	}
}

func (f *fakeRemoteStore) setUsers(uids ...string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.users = uids
}

func (f *fakeRemoteStore) setValue(path, raw string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.values[path] = raw
}

func (f *fakeRemoteStore) setError(path string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.readErrs[path] = err
}

func (f *fakeRemoteStore) reads() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.readCalls
}

func (f *fakeRemoteStore) lists() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.listCalls
}

func (f *fakeRemoteStore) ReadValue(ctx context.Context, path string) (Value, error) {
	f.mu.Lock()
	f.readCalls++
	gate := f.readGate
	err := f.readErrs[path]
	raw, ok := f.values[path]
	f.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return Value{}, ctx.Err()
		}
	}
	if err != nil {
		return Value{}, err
	}
	if !ok {
		return Value{Raw: json.RawMessage("null")}, nil
	}
	return Value{Raw: json.RawMessage(raw)}, nil
}

func (f *fakeRemoteStore) ListChildKeys(ctx context.Context, path string) ([]string, error) {
	if path != UsersRoot {
		return nil, fmt.Errorf("unexpected listing path %s", path)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.listCalls++
	return append([]string(nil), f.users...), nil
}

func (f *fakeRemoteStore) SubscribeValue(ctx context.Context, path string) (<-chan Value, func(), error) {
	f.subsMu.Lock()
	defer f.subsMu.Unlock()
	ch := make(chan Value, 8)
	f.subs[path] = ch
	return ch, func() {}, nil
}

func (f *fakeRemoteStore) push(path, raw string) {
	f.subsMu.Lock()
	ch := f.subs[path]
	f.subsMu.Unlock()
	if ch != nil {
		ch <- Value{Raw: json.RawMessage(raw)}
	}
}

// recordingMessenger captures sends and optionally fails them.
type recordingMessenger struct {
	mu    sync.Mutex
	sends []recordedSend
	fail  error
	done  chan struct{}
}

type recordedSend struct {
	Token   string
	Message Message
}

func newRecordingMessenger() *recordingMessenger {
	return &recordingMessenger{done: make(chan struct{}, 16)}
}

func (m *recordingMessenger) Send(ctx context.Context, token string, msg Message) error {
	m.mu.Lock()
	m.sends = append(m.sends, recordedSend{Token: token, Message: msg})
	fail := m.fail
	m.mu.Unlock()
	m.done <- struct{}{}
	return fail
}

func (m *recordingMessenger) sent() []recordedSend {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]recordedSend(nil), m.sends...)
}

// waitForSends blocks until n sends happened or the timeout expires.
func (m *recordingMessenger) waitForSends(n int, timeout time.Duration) bool {
	deadline := time.After(timeout)
	for i := 0; i < n; i++ {
		select {
		case <-m.done:
		case <-deadline:
			return false
		}
	}
	return true
}

// testLogger collects log lines for assertions.
type testLogger struct {
	mu    sync.Mutex
	lines []string
}

func (l *testLogger) Printf(format string, args ...any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.lines = append(l.lines, fmt.Sprintf(format, args...))
}

func (l *testLogger) contains(substr string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, line := range l.lines {
		if strings.Contains(line, substr) {
			return true
		}
	}
	return false
}
