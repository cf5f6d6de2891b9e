package session

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/banshee-data/rangewarn/internal/config"
	"github.com/banshee-data/rangewarn/internal/fsutil"
	"github.com/banshee-data/rangewarn/internal/httputil"
)

func TestFileStoreRoundTrip(t *testing.T) {
	store := FileStore{Path: filepath.Join(t.TempDir(), "sessionID.txt")}

	if _, ok := store.Load(); ok {
		t.Fatal("Load reported a session before any save")
	}

	require.NoError(t, store.Save("abc123"))
	id, ok := store.Load()
	require.True(t, ok)
	require.Equal(t, "abc123", id)
}

func TestFileStoreTrimsWhitespace(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sessionID.txt")
	require.NoError(t, os.WriteFile(path, []byte("  abc123\n"), 0o600))

	id, ok := FileStore{Path: path}.Load()
	require.True(t, ok)
	require.Equal(t, "abc123", id)
}

func TestFileStoreMemoryFS(t *testing.T) {
	store := FileStore{Path: "sessionID.txt", FS: fsutil.NewMemoryFileSystem()}

	require.NoError(t, store.Save("mem-1"))
	id, ok := store.Load()
	require.True(t, ok)
	require.Equal(t, "mem-1", id)
}

func TestBootstrapSuccess(t *testing.T) {
	client := httputil.NewMockHTTPClient()
	client.AddResponse(200, `{"status":"succes","data":{"S":"sess-1","corps_id":"c-9","corps_locations_id":"l-4","devices_id":"d-7"}}`)

	sess, err := Bootstrap(context.Background(), client, config.Default(), "prev-id")
	require.NoError(t, err)
	require.Equal(t, Session{ID: "sess-1", CorpsID: "c-9", LocationID: "l-4", DeviceID: "d-7"}, sess)

	req := client.GetRequest(0)
	require.NotNil(t, req)
	q := req.URL.Query()
	require.Equal(t, "prev-id", q.Get("S[S]"))
	require.Equal(t, "180", q.Get("S[ptof]"))
	require.Equal(t, "tr", q.Get("S[lang]"))
	require.Equal(t, "kodxmcu_avenda_lindo_01", q.Get("d_short_code"))
	require.NotEmpty(t, q.Get("pts"))
}

func TestBootstrapRejectsBadStatus(t *testing.T) {
	client := httputil.NewMockHTTPClient()
	// "success" spelled correctly is NOT what the server sends on success.
	client.AddResponse(200, `{"status":"success","data":{"S":"x"}}`)

	_, err := Bootstrap(context.Background(), client, config.Default(), "")
	require.Error(t, err)
}

func TestBootstrapTransportError(t *testing.T) {
	client := httputil.NewMockHTTPClient()
	client.AddErrorResponse(errors.New("connection refused"))

	_, err := Bootstrap(context.Background(), client, config.Default(), "")
	require.Error(t, err)
	// One request, no retry.
	require.Equal(t, 1, client.RequestCount())
}

func TestBuildBootstrapURLCarriesEpochMillis(t *testing.T) {
	now := time.UnixMilli(1767225600123)
	u := BuildBootstrapURL(config.Default(), "s", now)
	require.Contains(t, u, "pts=1767225600123")
}
