package httpapi

import (
	"crypto/hmac"
	"net/http"
)

type authError struct {
	status  int
	code    string
	message string
}

func (e *authError) Error() string {
	return e.message
}

// checkAPIKey verifies the shared-secret header. A server configured
// without a key rejects everything: an open relay is worse than a dead
// one.
func checkAPIKey(configured string, r *http.Request) *authError {
	presented := r.Header.Get("X-Api-Key")
	if presented == "" {
		presented = r.URL.Query().Get("key")
	}
	if configured == "" || !hmac.Equal([]byte(presented), []byte(configured)) {
		return &authError{status: http.StatusUnauthorized, code: "unauthorized", message: "missing or invalid api key"}
	}
	return nil
}

// requestUID extracts the target user id from the X-User-Uid header,
// falling back to the uid query parameter for websocket clients that
// cannot set headers.
func requestUID(r *http.Request) string {
	if uid := r.Header.Get("X-User-Uid"); uid != "" {
		return uid
	}
	return r.URL.Query().Get("uid")
}
