package llm

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPostJSON(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		assert.Equal(t, "Bearer k", r.Header.Get("Authorization"))
		body, _ := io.ReadAll(r.Body)
		assert.JSONEq(t, `{"prompt":"x"}`, string(body))
		_, _ = w.Write([]byte(`{"ok":true}`))
	}))
	defer srv.Close()

	raw, status, err := PostJSON(context.Background(), srv.Client(), srv.URL, map[string]string{"prompt": "x"},
		map[string]string{"Authorization": "Bearer k"}, nil)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, status)
	assert.JSONEq(t, `{"ok":true}`, string(raw))
}

func TestPostJSONNon2xxKeepsBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte(`{"error":"rate limited"}`))
	}))
	defer srv.Close()

	raw, status, err := PostJSON(context.Background(), srv.Client(), srv.URL, struct{}{}, nil, nil)
	require.Error(t, err)
	assert.Equal(t, http.StatusTooManyRequests, status)
	assert.Contains(t, string(raw), "rate limited")
}

func TestPostJSONRejectsOversizedBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.Copy(w, strings.NewReader(strings.Repeat("a", int(MaxResponseBytes)+10)))
	}))
	defer srv.Close()

	raw, _, err := PostJSON(context.Background(), srv.Client(), srv.URL, struct{}{}, nil, nil)
	assert.ErrorIs(t, err, ErrResponseTooLarge)
	assert.Nil(t, raw)
}

func TestPostJSONReadError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Length", "100")
		_, _ = w.Write([]byte(`{"partial":`))
	}))
	defer srv.Close()

	_, _, err := PostJSON(context.Background(), srv.Client(), srv.URL, struct{}{}, nil, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "read classifier response")
}
