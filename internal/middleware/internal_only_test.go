package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestInternalOnly(t *testing.T) {
	ok := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusNoContent) })

	tests := []struct {
		name       string
		remoteAddr string
		realIP     string
		secret     string
		envSecret  string
		want       int
	}{
		{name: "loopback", remoteAddr: "127.0.0.1:4567", want: http.StatusNoContent},
		{name: "private network", remoteAddr: "10.0.3.7:80", want: http.StatusNoContent},
		{name: "public ip", remoteAddr: "203.0.113.9:443", want: http.StatusForbidden},
		{name: "public ip via real-ip header", remoteAddr: "127.0.0.1:80", realIP: "203.0.113.9", want: http.StatusForbidden},
		{name: "matching secret from anywhere", remoteAddr: "203.0.113.9:443", secret: "s3cret", envSecret: "s3cret", want: http.StatusNoContent},
		{name: "wrong secret public ip", remoteAddr: "203.0.113.9:443", secret: "nope", envSecret: "s3cret", want: http.StatusForbidden},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("INTERNAL_FANOUT_SECRET", tt.envSecret)
			h := InternalOnly(ok)
			req := httptest.NewRequest(http.MethodPost, "/internal/notify", nil)
			req.RemoteAddr = tt.remoteAddr
			if tt.realIP != "" {
				req.Header.Set("X-Real-Ip", tt.realIP)
			}
			if tt.secret != "" {
				req.Header.Set("X-Internal-Secret", tt.secret)
			}
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)
			if rec.Code != tt.want {
				t.Fatalf("want %d, got %d", tt.want, rec.Code)
			}
		})
	}
}
