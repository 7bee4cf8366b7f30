package server

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codebuildervaibhav/podcast-animator/internal/config"
	"github.com/codebuildervaibhav/podcast-animator/internal/logging"
)

func newTestServer(t *testing.T) (*Server, *logging.Buffer) {
	t.Helper()
	dir := t.TempDir()

	cfg := config.Default()
	cfg.Storage.TempDir = filepath.Join(dir, "temp")
	cfg.Storage.OutputDir = filepath.Join(dir, "outputs")
	cfg.Storage.ExportDir = filepath.Join(dir, "exports")
	cfg.Storage.Database = filepath.Join(dir, "data", "podviz.db")
	cfg.GoogleDrive.CredentialsFile = filepath.Join(dir, "missing.json")

	logs := logging.NewBuffer(10)
	_, err := logs.Write([]byte("hello from the log buffer\n"))
	require.NoError(t, err)

	srv, err := New(context.Background(), cfg, logs)
	require.NoError(t, err)
	t.Cleanup(srv.Close)
	return srv, logs
}

func get(t *testing.T, srv *Server, path string) (int, map[string]any) {
	t.Helper()
	resp, err := srv.App().Test(httptest.NewRequest(http.MethodGet, path, nil), -1)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	var out map[string]any
	require.NoError(t, json.Unmarshal(body, &out), string(body))
	return resp.StatusCode, out
}

func TestHealth(t *testing.T) {
	srv, _ := newTestServer(t)

	status, body := get(t, srv, "/health")
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, "healthy", body["status"])
	assert.Equal(t, "dev", body["version"])
}

func TestLogsServesBuffer(t *testing.T) {
	srv, _ := newTestServer(t)

	status, body := get(t, srv, "/logs")
	assert.Equal(t, http.StatusOK, status)
	assert.Contains(t, body["logs"], "hello from the log buffer")
}

func TestJobsStartsEmpty(t *testing.T) {
	srv, _ := newTestServer(t)

	status, body := get(t, srv, "/jobs")
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, float64(0), body["count"])

	status, body = get(t, srv, "/jobs/unknown")
	assert.Equal(t, http.StatusNotFound, status)
	assert.Equal(t, "ERR_NOT_FOUND", body["code"])
}

func TestWebsocketRoutesRequireUpgrade(t *testing.T) {
	srv, _ := newTestServer(t)

	resp, err := srv.App().Test(httptest.NewRequest(http.MethodGet, "/ws/stream", nil), -1)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusUpgradeRequired, resp.StatusCode)
}
