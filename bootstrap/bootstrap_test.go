package bootstrap_test

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/artpar/rpcspec/bootstrap"
	"github.com/artpar/rpcspec/config"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const declarations = `
- [def-rpc-package, library]
- [def-msg, book-info, ':title', string, ':authors', [list, string]]
- [def-rpc, get-book, {title: string}, book-info]
`

func loadConfig(t *testing.T, src string) *config.Config {
	t.Helper()
	cfg, err := config.Parse([]byte(src))
	require.NoError(t, err)
	return cfg
}

func newApp(t *testing.T, cfg *config.Config) *bootstrap.App {
	t.Helper()
	a, err := bootstrap.New(cfg, bootstrap.Options{Version: "test", Output: io.Discard})
	require.NoError(t, err)
	t.Cleanup(func() { a.Shutdown() })
	return a
}

func post(t *testing.T, h http.Handler, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func get(t *testing.T, h http.Handler, path string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	return rec
}

func TestNew_MemoryHistoryAndMetrics(t *testing.T) {
	a := newApp(t, loadConfig(t, `
database:
  driver: memory
  history_limit: 10
metrics:
  enabled: true
`))

	require.NotNil(t, a.Runs)
	require.NotNil(t, a.Metrics)
	assert.Nil(t, a.DB)

	h := a.HTTPServer.Handler
	rec := post(t, h, "/v1/check", declarations)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "passed", rec.Header().Get("X-Check-Outcome"))

	rec = get(t, h, "/v1/runs")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"outcome":"passed"`)

	rec = get(t, h, "/metrics")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `rpcspec_runs_total{outcome="passed"} 1`)
	assert.Contains(t, rec.Body.String(), "go_goroutines")
}

func TestNew_SQLiteHistory(t *testing.T) {
	dsn := filepath.Join(t.TempDir(), "runs.db")
	a := newApp(t, loadConfig(t, "database:\n  driver: sqlite\n  dsn: "+dsn+"\n"))

	require.NotNil(t, a.DB)
	h := a.HTTPServer.Handler

	rec := post(t, h, "/v1/check?source=library.yaml", "[def-msg, user, ':first', nil]\n")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "rejected", rec.Header().Get("X-Check-Outcome"))

	runs, err := a.Runs.List(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, "library.yaml", runs[0].Source)

	assert.Equal(t, http.StatusOK, get(t, h, "/health/ready").Code)

	_, err = os.Stat(dsn)
	assert.NoError(t, err)
}

func TestNew_HistoryDisabled(t *testing.T) {
	a := newApp(t, loadConfig(t, "database:\n  driver: none\n"))

	assert.Nil(t, a.Runs)
	assert.Nil(t, a.Metrics)

	h := a.HTTPServer.Handler
	assert.Equal(t, http.StatusOK, post(t, h, "/v1/check", declarations).Code)
	assert.Equal(t, http.StatusNotFound, get(t, h, "/v1/runs").Code)
	assert.Equal(t, http.StatusNotFound, get(t, h, "/metrics").Code)
}

func TestNew_UnknownDriver(t *testing.T) {
	cfg := loadConfig(t, "database:\n  driver: none\n")
	cfg.Database.Driver = "postgres"

	_, err := bootstrap.New(cfg, bootstrap.Options{Output: io.Discard})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "postgres")
}

func TestCheckConfigFrom(t *testing.T) {
	got := bootstrap.CheckConfigFrom(config.CheckConfig{KeepGoing: true, Parallelism: 4, UniqueNames: true})
	assert.False(t, got.StopOnFailure)
	assert.Equal(t, 4, got.Parallelism)
	assert.True(t, got.UniqueNames)

	got = bootstrap.CheckConfigFrom(config.CheckConfig{})
	assert.True(t, got.StopOnFailure)
}

func TestNewWithHolder_AppliesReload(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rpcspec.yaml")
	require.NoError(t, os.WriteFile(path, []byte("database:\n  driver: none\nmetrics:\n  enabled: true\n"), 0o644))

	holder, err := config.NewHolder(path, zerolog.Nop())
	require.NoError(t, err)

	a, err := bootstrap.NewWithHolder(holder, bootstrap.Options{Output: io.Discard})
	require.NoError(t, err)
	defer a.Shutdown()

	assert.True(t, a.Checks.Config().StopOnFailure)

	updated := "database:\n  driver: none\nmetrics:\n  enabled: true\ncheck:\n  keep_going: true\n  parallelism: 3\n"
	require.NoError(t, os.WriteFile(path, []byte(updated), 0o644))
	require.NoError(t, holder.Reload())

	cfg := a.Checks.Config()
	assert.False(t, cfg.StopOnFailure)
	assert.Equal(t, 3, cfg.Parallelism)

	rec := get(t, a.HTTPServer.Handler, "/metrics")
	assert.Contains(t, rec.Body.String(), "rpcspec_config_reloads_total 1")
}

func TestServe_StopsOnCancel(t *testing.T) {
	cfg := loadConfig(t, "database:\n  driver: none\nserver:\n  port: 1\n")
	a, err := bootstrap.New(cfg, bootstrap.Options{Output: io.Discard})
	require.NoError(t, err)
	a.HTTPServer.Addr = "127.0.0.1:0"

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- a.Serve(ctx) }()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Serve did not return after cancel")
	}
}

func TestNewLogger(t *testing.T) {
	defer zerolog.SetGlobalLevel(zerolog.TraceLevel)

	var buf bytes.Buffer
	logger := bootstrap.NewLogger(config.LoggingConfig{Level: "warn", Format: "json"}, &buf)
	logger.Info().Msg("hidden")
	logger.Warn().Msg("shown")

	out := buf.String()
	assert.NotContains(t, out, "hidden")
	assert.Contains(t, out, `"message":"shown"`)

	buf.Reset()
	logger = bootstrap.NewLogger(config.LoggingConfig{Level: "bogus", Format: "console"}, &buf)
	logger.Info().Msg("console line")
	assert.Contains(t, buf.String(), "console line")
	assert.NotContains(t, buf.String(), `"message"`)
}
