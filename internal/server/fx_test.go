package server

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/JakeFAU/fda483-pipeline/internal/cleanup"
	"github.com/JakeFAU/fda483-pipeline/internal/config"
	"github.com/JakeFAU/fda483-pipeline/internal/inspection"
)

func memoryConfig(t *testing.T) *config.Config {
	t.Helper()
	t.Setenv("INSPECTOR_EXTRACT_PROVIDER", "anthropic")
	t.Setenv("INSPECTOR_ANTHROPIC_API_KEY", "test-key")
	cfg, err := config.Load("")
	require.NoError(t, err)
	cfg.Storage.Backend = "memory"
	cfg.DB.DSN = ""
	return &cfg
}

func TestBuildInMemory(t *testing.T) {
	cfg := memoryConfig(t)
	app, err := Build(context.Background(), cfg, zaptest.NewLogger(t))
	require.NoError(t, err)
	defer func() { require.NoError(t, app.Close()) }()

	require.NotNil(t, app.Worker())
	require.NotNil(t, app.Analyzer())
	require.NotNil(t, app.Cleaner())
	require.NotNil(t, app.Dispatcher())

	for _, path := range []string{"/healthz", "/readyz"} {
		rec := httptest.NewRecorder()
		app.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
		assert.Equal(t, http.StatusOK, rec.Code, path)
	}
}

func TestBuildRequiresProviderKey(t *testing.T) {
	cfg := memoryConfig(t)
	cfg.Extract.Provider = "gemini"
	cfg.Gemini.APIKey = ""

	_, err := Build(context.Background(), cfg, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "gemini")
}

func TestBuildLocalStorage(t *testing.T) {
	cfg := memoryConfig(t)
	cfg.Storage.Backend = "local"
	cfg.Storage.LocalDir = t.TempDir()

	app, err := Build(context.Background(), cfg, nil)
	require.NoError(t, err)
	require.NoError(t, app.Close())
}

func TestDispatchedRunCompletes(t *testing.T) {
	cfg := memoryConfig(t)
	app, err := Build(context.Background(), cfg, nil)
	require.NoError(t, err)
	defer func() { _ = app.Close() }()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go app.Dispatcher().Run(ctx)

	// No URL, so the worker skips the record without calling the model.
	run, err := app.Dispatcher().Submit(ctx, []inspection.SourceRecord{{Name: "Acme"}})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		got, err := app.Dispatcher().Status(ctx, run.ID)
		return err == nil && got.Status == inspection.RunSucceeded
	}, 2*time.Second, 10*time.Millisecond)

	got, err := app.Dispatcher().Status(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, got.Counters.Records)
	assert.Equal(t, 1, got.Counters.Skipped)
}

func TestCleanerOnEmptyStore(t *testing.T) {
	cfg := memoryConfig(t)
	app, err := Build(context.Background(), cfg, nil)
	require.NoError(t, err)
	defer func() { _ = app.Close() }()

	report, err := app.Cleaner().Run(context.Background(), cleanup.ModeTag)
	require.NoError(t, err)
	assert.Zero(t, report.Scanned)
}
