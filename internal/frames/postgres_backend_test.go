package frames

import (
	"database/sql"
	"errors"
	"testing"
	"time"
)

func TestNewPostgresBackendRejectsEmptyDSN(t *testing.T) {
	if _, err := NewPostgresBackend("   "); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("err = %v, want ErrInvalidInput", err)
	}
}

func TestPostgresBackendRejectsBadInput(t *testing.T) {
	backend, err := NewPostgresBackend("postgres://localhost/doorbot")
	if err != nil {
		t.Fatalf("NewPostgresBackend: %v", err)
	}
	if err := backend.SaveFrame("", []byte{1}, time.Now().UTC()); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("empty uid: err = %v", err)
	}
	if err := backend.SaveFrame("u1", nil, time.Now().UTC()); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("empty frame: err = %v", err)
	}
}

func TestPostgresBackendOpenFailureIsSticky(t *testing.T) {
	openErr := errors.New("driver refused")
	backend := &PostgresBackend{
		dsn:       "postgres://localhost/doorbot",
		tableName: postgresFramesTableName,
		openDB: func(driverName, dsn string) (*sql.DB, error) {
			if driverName != "postgres" {
				t.Errorf("driver = %q", driverName)
			}
			return nil, openErr
		},
	}
	if _, err := backend.LoadFrames(); !errors.Is(err, openErr) {
		t.Fatalf("first call: err = %v", err)
	}
	if err := backend.SaveFrame("u1", []byte{1}, time.Now().UTC()); !errors.Is(err, openErr) {
		t.Fatalf("second call: err = %v", err)
	}
	if err := backend.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
}

func TestPostgresQuoteIdentifier(t *testing.T) {
	if got := postgresQuoteIdentifier("doorbot_frames"); got != `"doorbot_frames"` {
		t.Fatalf("quoted = %s", got)
	}
	if got := postgresQuoteIdentifier(`bad"name`); got != `"bad""name"` {
		t.Fatalf("quoted = %s", got)
	}
}
