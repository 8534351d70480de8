package server

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func TestAuthMiddleware_Disabled(t *testing.T) {
	s := &Server{config: Config{}}
	handler := s.authMiddleware(okHandler())

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/lookup", nil))
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestAuthMiddleware(t *testing.T) {
	s := &Server{config: Config{AuthToken: "s3cret"}}
	handler := s.authMiddleware(okHandler())

	tests := []struct {
		name          string
		method        string
		path          string
		authorization string
		expected      int
	}{
		{name: "valid token", method: http.MethodGet, path: "/v1/lookup", authorization: "Bearer s3cret", expected: http.StatusOK},
		{name: "valid token on notify", method: http.MethodPost, path: "/v1/notify", authorization: "Bearer s3cret", expected: http.StatusOK},
		{name: "wrong token", method: http.MethodGet, path: "/v1/lookup", authorization: "Bearer nope", expected: http.StatusUnauthorized},
		{name: "missing header", method: http.MethodGet, path: "/v1/lookup", expected: http.StatusUnauthorized},
		{name: "basic scheme", method: http.MethodGet, path: "/v1/lookup", authorization: "Basic dXNlcjpwYXNz", expected: http.StatusUnauthorized},
		{name: "stats requires token", method: http.MethodGet, path: "/stats", expected: http.StatusUnauthorized},
		{name: "notify requires token", method: http.MethodPost, path: "/v1/notify", expected: http.StatusUnauthorized},
		{name: "health is public", method: http.MethodGet, path: "/health", expected: http.StatusOK},
		{name: "metrics is public", method: http.MethodGet, path: "/metrics", expected: http.StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(tt.method, tt.path, nil)
			if tt.authorization != "" {
				req.Header.Set("Authorization", tt.authorization)
			}
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, req)
			require.Equal(t, tt.expected, rec.Code)

			if tt.expected == http.StatusUnauthorized {
				assert.Equal(t, "Bearer", rec.Header().Get("WWW-Authenticate"))

				var body map[string]string
				require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
				assert.Equal(t, "unauthorized", body["error"])
			}
		})
	}
}
