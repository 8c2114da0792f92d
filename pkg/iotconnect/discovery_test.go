package iotconnect

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDiscover(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v2.1/dsdk/cpId/acme/env/poc", r.URL.Path)
		assert.Equal(t, "dev-1", r.URL.Query().Get("uniqueId"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"d":{"url":"wss://session.example.com/dev-1"}}`))
	}))
	defer srv.Close()

	url, err := Discover(context.Background(), srv.Client(), srv.URL+"/", "acme", "poc", "dev-1")
	require.NoError(t, err)
	assert.Equal(t, "wss://session.example.com/dev-1", url)
}

func TestDiscoverErrors(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
		is     error
	}{
		{"bad status", http.StatusForbidden, `denied`, nil},
		{"bad json", http.StatusOK, `{`, nil},
		{"empty url", http.StatusOK, `{"d":{}}`, ErrNoEndpoint},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			_, err := Discover(context.Background(), srv.Client(), srv.URL, "acme", "poc", "dev-1")
			require.Error(t, err)
			if tt.is != nil {
				assert.ErrorIs(t, err, tt.is)
			}
		})
	}
}
