package syncclient

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/guildkeys/keysync/internal/schema"
	"github.com/guildkeys/keysync/internal/synclog"
)

var sample = []schema.Keystone{
	{CharacterName: "foo", RealmSlug: "silvermoon", Level: 14, DungeonName: "Ara-Kara", IsFromBag: true},
	{CharacterName: "bar", RealmSlug: "area-52", Level: 7, DungeonName: "The Dawnbreaker", IsFromBag: true},
}

// deadURL returns a URL nothing listens on.
func deadURL(t *testing.T) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	require.NoError(t, ln.Close())
	return "http://" + addr
}

func openLog(t *testing.T) (*synclog.Log, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "sync.log")
	l, err := synclog.Open(path)
	require.NoError(t, err)
	t.Cleanup(func() { _ = l.Close() })
	return l, path
}

func logLines(t *testing.T, path string) []string {
	t.Helper()
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	trimmed := strings.TrimRight(string(data), "\n")
	if trimmed == "" {
		return nil
	}
	return strings.Split(trimmed, "\n")
}

func TestSend_Success(t *testing.T) {
	var got Request
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, SyncPath, r.URL.Path)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))
		assert.NotEmpty(t, r.Header.Get(BatchHeader))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		json.NewEncoder(w).Encode(Ack{OK: true, Received: len(got.Keys), Upserted: len(got.Keys)}) //nolint:errcheck
	}))
	defer srv.Close()

	l, path := openLog(t)
	c, err := New(Options{BaseURLs: []string{srv.URL + "/"}, Token: "secret", Log: l})
	require.NoError(t, err)

	ack, err := c.Send(context.Background(), sample)
	require.NoError(t, err)
	assert.True(t, ack.OK)
	assert.Equal(t, 2, ack.Upserted)
	assert.Equal(t, sample, got.Keys)

	lines := logLines(t, path)
	require.Len(t, lines, 1)
	assert.Contains(t, lines[0], "sync ok")
	assert.Contains(t, lines[0], "foo-silvermoon +14")
}

func TestSend_EmptyBatchIsArray(t *testing.T) {
	var raw map[string]json.RawMessage
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&raw))
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	c, err := New(Options{BaseURLs: []string{srv.URL}})
	require.NoError(t, err)

	ack, err := c.Send(context.Background(), nil)
	require.NoError(t, err)
	assert.True(t, ack.OK)
	assert.Equal(t, "[]", string(raw["keys"]))
}

func TestSend_HTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		json.NewEncoder(w).Encode(map[string]string{"error": "database unavailable"}) //nolint:errcheck
	}))
	defer srv.Close()

	l, path := openLog(t)
	c, err := New(Options{BaseURLs: []string{srv.URL}, Log: l})
	require.NoError(t, err)

	ack, err := c.Send(context.Background(), sample)
	require.Error(t, err)
	assert.Nil(t, ack)
	assert.True(t, IsStatus(err, http.StatusBadGateway))

	var syncErr *SyncError
	require.ErrorAs(t, err, &syncErr)
	assert.False(t, syncErr.Transport())
	assert.Equal(t, "database unavailable", syncErr.Message)
	assert.Equal(t, 2, syncErr.Records)

	// HTTP errors do not trigger failover.
	assert.Equal(t, srv.URL+SyncPath, c.Endpoint())

	lines := logLines(t, path)
	require.Len(t, lines, 1)
	assert.Contains(t, lines[0], "sync failed")
	assert.Contains(t, lines[0], "database unavailable")
}

func TestSend_InvalidAck(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("<html>proxy login</html>")) //nolint:errcheck
	}))
	defer srv.Close()

	c, err := New(Options{BaseURLs: []string{srv.URL}})
	require.NoError(t, err)

	_, err = c.Send(context.Background(), sample)
	require.Error(t, err)
	assert.True(t, IsStatus(err, http.StatusOK))
}

func TestSend_TransportErrorFailsOver(t *testing.T) {
	var hits int
	var mu sync.Mutex
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		hits++
		mu.Unlock()
		json.NewEncoder(w).Encode(Ack{OK: true}) //nolint:errcheck
	}))
	defer srv.Close()

	dead := deadURL(t)
	l, path := openLog(t)
	c, err := New(Options{BaseURLs: []string{dead, srv.URL}, Log: l})
	require.NoError(t, err)

	_, err = c.Send(context.Background(), sample)
	require.Error(t, err)
	var syncErr *SyncError
	require.ErrorAs(t, err, &syncErr)
	assert.True(t, syncErr.Transport())
	assert.Equal(t, dead+SyncPath, syncErr.Endpoint)

	// No automatic retry: the live backend has not been called yet.
	mu.Lock()
	assert.Equal(t, 0, hits)
	mu.Unlock()
	assert.Equal(t, srv.URL+SyncPath, c.Endpoint())

	_, err = c.Send(context.Background(), sample)
	require.NoError(t, err)
	mu.Lock()
	assert.Equal(t, 1, hits)
	mu.Unlock()

	assert.Len(t, logLines(t, path), 2)
}

func TestSend_Concurrent(t *testing.T) {
	var mu sync.Mutex
	var batches []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		batches = append(batches, r.Header.Get(BatchHeader))
		mu.Unlock()
		json.NewEncoder(w).Encode(Ack{OK: true}) //nolint:errcheck
	}))
	defer srv.Close()

	c, err := New(Options{BaseURLs: []string{srv.URL}})
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := c.Send(context.Background(), sample)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	seen := map[string]bool{}
	for _, b := range batches {
		seen[b] = true
	}
	assert.Len(t, seen, 8, "every send should carry its own batch id")
}

func TestNew_Validation(t *testing.T) {
	_, err := New(Options{})
	assert.Error(t, err)

	_, err = New(Options{BaseURLs: []string{"ftp://example.test"}})
	assert.Error(t, err)

	_, err = New(Options{BaseURLs: []string{"not a url"}})
	assert.Error(t, err)

	c, err := New(Options{BaseURLs: []string{" https://keys.example.test/ "}})
	require.NoError(t, err)
	assert.Equal(t, "https://keys.example.test"+SyncPath, c.Endpoint())
}

func TestSummarize(t *testing.T) {
	assert.Equal(t, "none", Summarize(nil))
	assert.Equal(t, "foo-silvermoon +14, bar-area-52 +7", Summarize(sample))

	many := make([]schema.Keystone, 12)
	for i := range many {
		many[i] = sample[0]
	}
	assert.True(t, strings.HasSuffix(Summarize(many), "+2 more"))
}
