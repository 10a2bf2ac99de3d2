package agent

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClientCreateSession(t *testing.T) {
	var gotPath string
	var gotBody map[string]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"id": "sess-123"}`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL)
	id, err := c.CreateSession(context.Background(), "/work/repo")
	require.NoError(t, err)
	assert.Equal(t, "sess-123", id)
	assert.Equal(t, "/session", gotPath)
	assert.Equal(t, "/work/repo", gotBody["working_directory"])
}

func TestClientCreateSessionMissingID(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"ok": true}`))
	}))
	defer srv.Close()

	_, err := NewClient(srv.URL).CreateSession(context.Background(), "/work/repo")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "missing id")
}

func TestClientCreateSessionErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "runtime overloaded", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	_, err := NewClient(srv.URL).CreateSession(context.Background(), "/work/repo")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "503")
	assert.Contains(t, err.Error(), "runtime overloaded")
}

func TestClientPromptAsync(t *testing.T) {
	var gotPath string
	var gotBody map[string]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	err := NewClient(srv.URL).PromptAsync(context.Background(), "sess-1", "do the thing")
	require.NoError(t, err)
	assert.Equal(t, "/session/sess-1/prompt_async", gotPath)
	assert.Equal(t, "do the thing", gotBody["prompt"])
}

func TestClientAbort(t *testing.T) {
	var gotPath string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	require.NoError(t, NewClient(srv.URL).Abort(context.Background(), "sess-9"))
	assert.Equal(t, "/session/sess-9/abort", gotPath)
}
