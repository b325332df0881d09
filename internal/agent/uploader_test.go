package agent

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"
)

func TestUploadFrameSendsHeaders(t *testing.T) {
	var gotPath, gotKey, gotUID, gotType string
	var gotBody []byte
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotKey = r.Header.Get("X-Api-Key")
		gotUID = r.Header.Get("X-User-Uid")
		gotType = r.Header.Get("Content-Type")
		gotBody, _ = io.ReadAll(r.Body)
		w.Write([]byte(`{"status":"ok"}`))
	}))
	defer server.Close()

	uploader := NewUploader(server.URL, "secret", "u1", server.Client())
	frame := []byte{0xff, 0xd8, 0xff}
	if err := uploader.UploadFrame(context.Background(), frame); err != nil {
		t.Fatalf("UploadFrame: %v", err)
	}
	if gotPath != "/upload" {
		t.Errorf("path = %q", gotPath)
	}
	if gotKey != "secret" || gotUID != "u1" {
		t.Errorf("auth headers = %q / %q", gotKey, gotUID)
	}
	if gotType != "image/jpeg" {
		t.Errorf("content type = %q", gotType)
	}
	if !bytes.Equal(gotBody, frame) {
		t.Errorf("body = %v", gotBody)
	}
}

func TestUploadFrameRejectsEmpty(t *testing.T) {
	uploader := NewUploader("http://127.0.0.1:1", "secret", "u1", nil)
	if err := uploader.UploadFrame(context.Background(), nil); err == nil {
		t.Fatal("expected error for empty frame")
	}
}

func TestUploadRetriesTransientFailure(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.Write([]byte(`{"status":"ok"}`))
	}))
	defer server.Close()

	uploader := NewUploader(server.URL, "secret", "u1", server.Client())
	uploader.baseDelay = time.Millisecond
	if err := uploader.UploadFrame(context.Background(), []byte{1}); err != nil {
		t.Fatalf("UploadFrame: %v", err)
	}
	if got := calls.Load(); got != 3 {
		t.Fatalf("requests = %d, want 3", got)
	}
}

func TestUploadDoesNotRetryRejection(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.Error(w, `{"code":"unauthorized"}`, http.StatusUnauthorized)
	}))
	defer server.Close()

	uploader := NewUploader(server.URL, "wrong", "u1", server.Client())
	uploader.baseDelay = time.Millisecond
	if err := uploader.UploadFrame(context.Background(), []byte{1}); err == nil {
		t.Fatal("expected error for rejected upload")
	}
	if got := calls.Load(); got != 1 {
		t.Fatalf("requests = %d, want 1", got)
	}
}

func TestUploadFile(t *testing.T) {
	var gotBody []byte
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotBody, _ = io.ReadAll(r.Body)
		w.Write([]byte(`{"status":"ok"}`))
	}))
	defer server.Close()

	path := filepath.Join(t.TempDir(), "frame.jpg")
	if err := os.WriteFile(path, []byte{0xff, 0xd8}, 0o644); err != nil {
		t.Fatalf("write file: %v", err)
	}

	uploader := NewUploader(server.URL, "secret", "u1", server.Client())
	if err := uploader.UploadFile(context.Background(), path); err != nil {
		t.Fatalf("UploadFile: %v", err)
	}
	if !bytes.Equal(gotBody, []byte{0xff, 0xd8}) {
		t.Fatalf("body = %v", gotBody)
	}
}

func TestUploadFileMissing(t *testing.T) {
	uploader := NewUploader("http://127.0.0.1:1", "secret", "u1", nil)
	if err := uploader.UploadFile(context.Background(), filepath.Join(t.TempDir(), "missing.jpg")); err == nil {
		t.Fatal("expected error for missing file")
	}
}
