package main

import (
	"bytes"
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/release-notifier/internal/config"
	"github.com/JakeFAU/release-notifier/internal/scheduler"
)

type fakeApp struct {
	ran    bool
	loops  []string
	closed bool
	err    error
}

func (f *fakeApp) Run(context.Context) error {
	f.ran = true
	return nil
}

func (f *fakeApp) RunOnce(_ context.Context, loop string) (scheduler.LoopStatus, error) {
	f.loops = append(f.loops, loop)
	return scheduler.LoopStatus{Runs: 1, LastOutcome: scheduler.OutcomeOK}, f.err
}

func (f *fakeApp) Close(context.Context) error {
	f.closed = true
	return nil
}

func withFakeApp(t *testing.T, app *fakeApp) *config.Config {
	t.Helper()
	var got config.Config
	orig := buildApp
	buildApp = func(_ context.Context, cfg *config.Config) (application, error) {
		got = *cfg
		return app, nil
	}
	t.Cleanup(func() { buildApp = orig })
	return &got
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func TestRootRunsServe(t *testing.T) {
	t.Setenv("RELEASEWATCH_NOTIFIER_DRY_RUN", "true")
	app := &fakeApp{}
	cfg := withFakeApp(t, app)

	_, err := execute(t)
	require.NoError(t, err)
	require.True(t, app.ran)
	require.True(t, cfg.Notifier.DryRun)
}

func TestSyncRunsOneCycle(t *testing.T) {
	t.Setenv("RELEASEWATCH_TELEGRAM_TOKEN", "token")
	app := &fakeApp{}
	withFakeApp(t, app)

	out, err := execute(t, "sync")
	require.NoError(t, err)
	require.Equal(t, []string{scheduler.LoopFullSync}, app.loops)
	require.True(t, app.closed)
	require.Contains(t, out, `"last_outcome": "ok"`)
}

func TestScanPropagatesCycleError(t *testing.T) {
	t.Setenv("RELEASEWATCH_TELEGRAM_TOKEN", "token")
	app := &fakeApp{err: errors.New("feed broken")}
	withFakeApp(t, app)

	_, err := execute(t, "scan")
	require.ErrorContains(t, err, "feed broken")
	require.Equal(t, []string{scheduler.LoopUpdates}, app.loops)
}

func TestMissingTokenFailsStartup(t *testing.T) {
	t.Setenv("RELEASEWATCH_TELEGRAM_TOKEN", "")
	t.Setenv("RELEASEWATCH_NOTIFIER_DRY_RUN", "false")
	app := &fakeApp{}
	withFakeApp(t, app)

	_, err := execute(t, "serve")
	require.ErrorIs(t, err, config.ErrMissingToken)
	require.False(t, app.ran)
}
