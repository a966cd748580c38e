package server

import (
	"context"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/JakeFAU/release-notifier/internal/config"
	"github.com/JakeFAU/release-notifier/internal/scheduler"
)

func testConfig() *config.Config {
	return &config.Config{
		Server:    config.ServerConfig{Port: 0},
		Source:    config.SourceConfig{BaseURL: "http://127.0.0.1:1", ListingPath: "/releases/page/%d", FeedPath: "/", ItemPath: "/releases/item/"},
		HTTP:      config.HTTPConfig{TimeoutSeconds: 1, IgnoreRobots: true},
		Crawler:   config.CrawlerConfig{MaxPages: 1},
		Scheduler: config.SchedulerConfig{FullSyncInterval: time.Hour, UpdateInterval: time.Hour, CycleTimeout: 10 * time.Second},
		Storage:   config.StorageConfig{Backend: config.BackendMemory},
		Notifier:  config.NotifierConfig{DryRun: true},
	}
}

func TestBuildWithMemoryBackend(t *testing.T) {
	cfg := testConfig()
	app, err := Build(context.Background(), cfg)
	require.NoError(t, err)
	defer func() {
		require.NoError(t, app.Close(context.Background()))
	}()

	rec := httptest.NewRecorder()
	app.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	app.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/status", nil))
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestBuildWithSQLiteBackend(t *testing.T) {
	cfg := testConfig()
	cfg.Storage = config.StorageConfig{Backend: config.BackendSQLite, SQLitePath: filepath.Join(t.TempDir(), "releasewatch.db")}

	app, err := Build(context.Background(), cfg)
	require.NoError(t, err)
	require.NoError(t, app.Close(context.Background()))
}

func TestBuildFailsWithoutTelegramToken(t *testing.T) {
	cfg := testConfig()
	cfg.Notifier.DryRun = false

	_, err := Build(context.Background(), cfg)
	require.ErrorContains(t, err, "telegram")
}

func TestRunStopsOnContextCancel(t *testing.T) {
	cfg := testConfig()
	app, err := Build(context.Background(), cfg)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- app.Run(ctx) }()

	time.Sleep(100 * time.Millisecond)
	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("app did not stop")
	}
}

func TestRunOnceReportsUnavailableFeed(t *testing.T) {
	cfg := testConfig()
	app, err := Build(context.Background(), cfg)
	require.NoError(t, err)
	defer func() { _ = app.Close(context.Background()) }()

	st, err := app.RunOnce(context.Background(), scheduler.LoopUpdates)
	require.NoError(t, err)
	require.Equal(t, scheduler.OutcomeAborted, st.LastOutcome)
}

// orderCore records writes and syncs in the order they happen.
type orderCore struct {
	zapcore.Core
	events *[]string
}

func (c orderCore) With(fields []zapcore.Field) zapcore.Core {
	return orderCore{Core: c.Core.With(fields), events: c.events}
}

func (c orderCore) Check(e zapcore.Entry, ce *zapcore.CheckedEntry) *zapcore.CheckedEntry {
	if c.Enabled(e.Level) {
		return ce.AddCore(e, c)
	}
	return ce
}

func (c orderCore) Write(e zapcore.Entry, fields []zapcore.Field) error {
	*c.events = append(*c.events, e.Message)
	return c.Core.Write(e, fields)
}

func (c orderCore) Sync() error {
	*c.events = append(*c.events, "sync")
	return nil
}

func TestCloseFlushesFinalLogLine(t *testing.T) {
	inner, _ := observer.New(zapcore.DebugLevel)
	var events []string
	app := &App{logger: zap.New(orderCore{Core: inner, events: &events})}

	require.NoError(t, app.Close(context.Background()))
	require.Equal(t, []string{"shutdown complete", "sync"}, events)
}
