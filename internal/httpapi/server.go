package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"nhooyr.io/websocket"

	"github.com/BilalWattu521/doorbot-fyp/internal/frames"
)

// ServerConfig configures the relay HTTP surface. Zero values get
// defaults.
type ServerConfig struct {
	// APIKey is the shared secret expected in X-Api-Key. Empty means the
	// server rejects all authenticated routes.
	APIKey string
	// MaxBodyBytes caps frame uploads. Default 1 MiB.
	MaxBodyBytes int64
	// WriteTimeout bounds a single websocket frame write. Default 10s.
	WriteTimeout time.Duration
}

// CoreStatus reports the event core's state for the status endpoint.
type CoreStatus struct {
	FirebaseReady bool `json:"firebase"`
	TrackedUsers  int  `json:"trackedUsers"`
}

// Server exposes the frame relay: upload, latest-snapshot, live stream,
// status and health. It shares no state with the event core beyond the
// read-only status callback.
type Server struct {
	store      *frames.Store
	cfg        ServerConfig
	coreStatus func() CoreStatus
}

func NewServer(store *frames.Store) *Server {
	return NewServerWithConfig(store, ServerConfig{}, nil)
}

func NewServerWithConfig(store *frames.Store, cfg ServerConfig, coreStatus func() CoreStatus) *Server {
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = 1 << 20
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = 10 * time.Second
	}
	return &Server{
		store:      store,
		cfg:        cfg,
		coreStatus: coreStatus,
	}
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	switch {
	case r.URL.Path == "/health" && r.Method == http.MethodGet:
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	case r.URL.Path == "/" && r.Method == http.MethodGet:
		s.handleStatus(w, r)
	case r.URL.Path == "/upload" && r.Method == http.MethodPost:
		s.handleUpload(w, r)
	case r.URL.Path == "/latest" && r.Method == http.MethodGet:
		s.handleLatest(w, r)
	case r.URL.Path == "/stream" && r.Method == http.MethodGet:
		s.handleStream(w, r)
	default:
		writeError(w, http.StatusNotFound, "not_found", "route not found")
	}
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	core := CoreStatus{}
	if s.coreStatus != nil {
		core = s.coreStatus()
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"service":      "doorbot-relay",
		"users":        s.store.UserCount(),
		"trackedUsers": core.TrackedUsers,
		"firebase":     core.FirebaseReady,
		"secured":      s.cfg.APIKey != "",
	})
}

func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	if authErr := checkAPIKey(s.cfg.APIKey, r); authErr != nil {
		writeError(w, authErr.status, authErr.code, authErr.message)
		return
	}
	uid := requestUID(r)
	if uid == "" {
		writeError(w, http.StatusBadRequest, "bad_request", "missing X-User-Uid header")
		return
	}

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, s.cfg.MaxBodyBytes))
	if err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			writeError(w, http.StatusRequestEntityTooLarge, "too_large", "frame exceeds upload limit")
			return
		}
		writeError(w, http.StatusBadRequest, "bad_request", "failed to read request body")
		return
	}
	if len(body) == 0 {
		writeError(w, http.StatusBadRequest, "bad_request", "no image data")
		return
	}
	if err := s.store.Put(uid, body); err != nil {
		writeError(w, http.StatusInternalServerError, "internal_error", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleLatest(w http.ResponseWriter, r *http.Request) {
	if authErr := checkAPIKey(s.cfg.APIKey, r); authErr != nil {
		writeError(w, authErr.status, authErr.code, authErr.message)
		return
	}
	uid := requestUID(r)
	if uid == "" {
		writeError(w, http.StatusBadRequest, "bad_request", "missing X-User-Uid header")
		return
	}

	frame, ok := s.store.Latest(uid)
	if !ok {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	w.Header().Set("Content-Type", "image/jpeg")
	w.Header().Set("Content-Length", strconv.Itoa(len(frame)))
	w.Header().Set("Cache-Control", "no-cache, no-store, must-revalidate")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(frame)
}

// handleStream upgrades to a websocket and pushes each new frame for the
// user as a binary message, starting with the current snapshot if one
// exists. A viewer that stops reading is disconnected by the per-frame
// write timeout.
func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	if authErr := checkAPIKey(s.cfg.APIKey, r); authErr != nil {
		writeError(w, authErr.status, authErr.code, authErr.message)
		return
	}
	uid := requestUID(r)
	if uid == "" {
		writeError(w, http.StatusBadRequest, "bad_request", "missing X-User-Uid header")
		return
	}

	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		return
	}
	defer conn.CloseNow()

	feed, cancel := s.store.Watch(uid)
	defer cancel()

	ctx := r.Context()
	if frame, ok := s.store.Latest(uid); ok {
		if err := s.writeFrame(ctx, conn, frame); err != nil {
			return
		}
	}
	for {
		select {
		case frame, ok := <-feed:
			if !ok {
				_ = conn.Close(websocket.StatusNormalClosure, "")
				return
			}
			if err := s.writeFrame(ctx, conn, frame); err != nil {
				return
			}
		case <-ctx.Done():
			_ = conn.Close(websocket.StatusGoingAway, "server shutting down")
			return
		}
	}
}

func (s *Server) writeFrame(ctx context.Context, conn *websocket.Conn, frame []byte) error {
	writeCtx, cancel := context.WithTimeout(ctx, s.cfg.WriteTimeout)
	defer cancel()
	return conn.Write(writeCtx, websocket.MessageBinary, frame)
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, map[string]string{"code": code, "message": message})
}
