package frames

import (
	"strings"
	"testing"
	"time"
)

type stubBackend struct{ dsn string }

func (b *stubBackend) SaveFrame(string, []byte, time.Time) error { return nil }
func (b *stubBackend) LoadFrames() (map[string][]byte, error)    { return nil, nil }
func (b *stubBackend) Close() error                              { return nil }

func TestBuildBackendMemorySchemes(t *testing.T) {
	for _, dsn := range []string{"", "   ", "memory://", "mem://", "inmem://"} {
		backend, err := BuildBackendFromDSN(dsn)
		if err != nil {
			t.Fatalf("dsn %q: %v", dsn, err)
		}
		if backend != nil {
			t.Fatalf("dsn %q: expected in-memory (nil) backend", dsn)
		}
	}
}

func TestBuildBackendUnknownScheme(t *testing.T) {
	_, err := BuildBackendFromDSN("redis://localhost:6379")
	if err == nil || !strings.Contains(err.Error(), "unsupported frame backend scheme") {
		t.Fatalf("err = %v", err)
	}
}

func TestRegisteredFactoryWins(t *testing.T) {
	RegisterBackendFactory("TestScheme", func(dsn string) (Backend, error) {
		return &stubBackend{dsn: dsn}, nil
	})

	backend, err := BuildBackendFromDSN("testscheme://somewhere")
	if err != nil {
		t.Fatalf("BuildBackendFromDSN: %v", err)
	}
	stub, ok := backend.(*stubBackend)
	if !ok {
		t.Fatalf("backend = %T, want stub", backend)
	}
	if stub.dsn != "testscheme://somewhere" {
		t.Fatalf("factory dsn = %q", stub.dsn)
	}
}

func TestRegisterIgnoresBadArguments(t *testing.T) {
	RegisterBackendFactory("", func(string) (Backend, error) { return nil, nil })
	RegisterBackendFactory("nilfactory", nil)
	if _, ok := lookupBackendFactory("nilfactory"); ok {
		t.Fatal("nil factory was registered")
	}
}
