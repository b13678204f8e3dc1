package middleware

import (
	"context"
	"net/http"

	"github.com/taskboard/internal/storage"
)

// SessionAuth resolves X-Session-Id (or ?session_id= for websocket clients,
// which cannot set headers) against the shared session store and puts the
// owning user id in the request context. Session issuance lives in the
// external auth service; this middleware only reads.
func SessionAuth(store storage.SessionStore) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			sessionID := r.Header.Get("X-Session-Id")
			if sessionID == "" {
				sessionID = r.URL.Query().Get("session_id")
			}
			if sessionID == "" {
				http.Error(w, `{"error":"unauthorized"}`, http.StatusUnauthorized)
				return
			}
			userID, err := store.GetSession(r.Context(), sessionID)
			if err != nil || userID == "" {
				http.Error(w, `{"error":"unauthorized"}`, http.StatusUnauthorized)
				return
			}
			ctx := context.WithValue(r.Context(), UserIDKey, userID)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
