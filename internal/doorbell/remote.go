package doorbell

import (
	"bytes"
	"context"
	"encoding/json"
	"strconv"
	"strings"
)

// RemoteStore is the narrow view of the hosted key-value store the event
// core consumes. Paths are slash-separated, relative to the database root
// (e.g. "users/abc123/doorbell/event").
type RemoteStore interface {
	// ReadValue returns the value at path. An absent or null value is
	// reported as a zero Value, not an error.
	ReadValue(ctx context.Context, path string) (Value, error)
	// ListChildKeys returns the immediate child key names under path.
	ListChildKeys(ctx context.Context, path string) ([]string, error)
	// SubscribeValue streams the current value at path followed by every
	// subsequent change, in store-assigned order. The stop function
	// cancels the subscription and closes the channel.
	SubscribeValue(ctx context.Context, path string) (<-chan Value, func(), error)
}

// Value is a raw JSON value read from the remote store.
type Value struct {
	Raw json.RawMessage
}

var nullLiteral = []byte("null")

// IsZero reports whether the value is absent or JSON null.
func (v Value) IsZero() bool {
	trimmed := bytes.TrimSpace(v.Raw)
	return len(trimmed) == 0 || bytes.Equal(trimmed, nullLiteral)
}

// Int64 interprets the value as an integer marker. Numbers with a
// fractional part are truncated; quoted numerals are accepted because
// some writers store timestamps as strings.
func (v Value) Int64() (int64, bool) {
	trimmed := bytes.TrimSpace(v.Raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, nullLiteral) {
		return 0, false
	}
	var num json.Number
	if err := json.Unmarshal(trimmed, &num); err != nil {
		var s string
		if err := json.Unmarshal(trimmed, &s); err != nil {
			return 0, false
		}
		num = json.Number(strings.TrimSpace(s))
	}
	if n, err := strconv.ParseInt(num.String(), 10, 64); err == nil {
		return n, true
	}
	if f, err := num.Float64(); err == nil {
		return int64(f), true
	}
	return 0, false
}

// String interprets the value as a JSON string, trimming quotes.
func (v Value) String() (string, bool) {
	trimmed := bytes.TrimSpace(v.Raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, nullLiteral) {
		return "", false
	}
	var s string
	if err := json.Unmarshal(trimmed, &s); err == nil {
		return s, s != ""
	}
	return "", false
}

// Logger is the minimal logging seam shared by the event core components.
type Logger interface {
	Printf(format string, args ...any)
}

type nopLogger struct{}

func (nopLogger) Printf(string, ...any) {}

// Remote store paths, relative to the database root.
const (
	UsersRoot = "users"
)

// EventPath returns the per-user doorbell event marker path.
func EventPath(uid string) string {
	return UsersRoot + "/" + uid + "/doorbell/event"
}

// TokenPath returns the per-user FCM device token path.
func TokenPath(uid string) string {
	return UsersRoot + "/" + uid + "/fcm_token"
}
