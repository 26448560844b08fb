package finam

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aeshef/finam-ai-chat/internal/usecase"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestClient_Execute_Success(t *testing.T) {
	var gotAuth, gotPath string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		gotPath = r.URL.Path
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"symbol": "SBER@MISX", "price": "309.95"}`))
	}))
	defer srv.Close()

	c := New(srv.URL, "secret-token", srv.Client(), testLogger())
	resp, err := c.Execute(context.Background(), "GET", "/v1/instruments/SBER@MISX/quotes/latest")
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "secret-token", gotAuth)
	assert.Equal(t, "/v1/instruments/SBER@MISX/quotes/latest", gotPath)

	body, ok := resp.Body.(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "SBER@MISX", body["symbol"])
}

func TestClient_Execute_NonJSONBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain")
		w.Write([]byte("pong"))
	}))
	defer srv.Close()

	c := New(srv.URL, "", srv.Client(), testLogger())
	resp, err := c.Execute(context.Background(), "GET", "/ping")
	require.NoError(t, err)
	assert.Equal(t, "pong", resp.Body)
}

func TestClient_Execute_StatusClassification(t *testing.T) {
	tests := []struct {
		status    int
		transient bool
	}{
		{http.StatusBadRequest, false},
		{http.StatusNotFound, false},
		{http.StatusUnauthorized, false},
		{http.StatusTooManyRequests, true},
		{http.StatusInternalServerError, true},
		{http.StatusServiceUnavailable, true},
	}
	for _, tc := range tests {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(tc.status)
			w.Write([]byte("nope"))
		}))

		c := New(srv.URL, "", srv.Client(), testLogger())
		_, err := c.Execute(context.Background(), "GET", "/v1/assets")
		srv.Close()

		require.Error(t, err, tc.status)
		var ae *usecase.AdapterError
		require.True(t, errors.As(err, &ae), "expected *AdapterError for %d", tc.status)
		assert.Equal(t, tc.status, ae.StatusCode)
		assert.Equal(t, tc.transient, ae.Transient, "status %d", tc.status)
		assert.Equal(t, "nope", ae.Body)
	}
}

func TestClient_Execute_ConnectionRefused(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	srv.Close() // nothing listens anymore

	c := New(srv.URL, "", nil, testLogger())
	_, err := c.Execute(context.Background(), "GET", "/v1/assets")
	require.Error(t, err)
	var ae *usecase.AdapterError
	require.True(t, errors.As(err, &ae))
	assert.True(t, ae.Transient)
	assert.Zero(t, ae.StatusCode)
}

func TestClient_Execute_ContextCanceledNotTransient(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	c := New(srv.URL, "", srv.Client(), testLogger())
	_, err := c.Execute(ctx, "GET", "/v1/assets")
	require.Error(t, err)
	var ae *usecase.AdapterError
	require.True(t, errors.As(err, &ae))
	assert.False(t, ae.Transient)
}

func TestClient_TrimsBaseURL(t *testing.T) {
	var gotPath string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c := New(srv.URL+"/", "", srv.Client(), testLogger())
	_, err := c.Execute(context.Background(), "GET", "/v1/assets")
	require.NoError(t, err)
	assert.Equal(t, "/v1/assets", gotPath)
}
