package commands

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teranos/resourcewatch/am"
	"github.com/teranos/resourcewatch/errors"
	"github.com/teranos/resourcewatch/watch"
)

func testConfig(t *testing.T) *am.Config {
	t.Helper()
	dir := t.TempDir()
	root := filepath.Join(dir, "data")
	require.NoError(t, os.MkdirAll(filepath.Join(root, "acme"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(root, "acme", "a.txt"), []byte("alpha"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(root, "acme", "b.txt"), []byte("beta"), 0o644))

	cfg := am.Defaults()
	cfg.Database.Path = filepath.Join(dir, "rw.db")
	cfg.Tenants = []am.TenantConfig{
		{
			Name:   "acme",
			Source: am.SourceConfig{Kind: am.SourceFS, Root: root},
			Action: am.ActionConfig{Kind: "spool", Settings: map[string]any{"dir": filepath.Join(dir, "spool")}},
		},
		{
			Name:   "scratch",
			Store:  am.StoreMemory,
			Source: am.SourceConfig{Kind: am.SourceFS, Root: root},
			Action: am.ActionConfig{Kind: "discard"},
		},
	}
	require.NoError(t, cfg.Validate())
	return cfg
}

func TestHostRunsTenantsEndToEnd(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig(t)

	h, err := openHost(ctx, cfg)
	require.NoError(t, err)
	defer h.Close()

	tenants, err := h.tenants([]string{"acme"})
	require.NoError(t, err)
	wired, err := h.watchers(ctx, tenants)
	require.NoError(t, err)
	require.Len(t, wired, 1)
	assert.NotNil(t, wired[0].fs)

	summary, err := wired[0].watcher.RunOnce(ctx, watch.RunManual)
	require.NoError(t, err)
	assert.Equal(t, 2, summary.Found)
	assert.Equal(t, 2, summary.Results[watch.ResultNormal])

	store, err := h.store(tenants[0])
	require.NoError(t, err)
	states, err := store.List(ctx, "acme")
	require.NoError(t, err)
	require.Len(t, states, 2)
	assert.Equal(t, "a.txt", states[0].ResourceID)

	again, err := wired[0].watcher.RunOnce(ctx, watch.RunScheduled)
	require.NoError(t, err)
	assert.Equal(t, 2, again.Classified[watch.ProcessNothingToDo])

	records, err := h.history.List(ctx, "acme", 10)
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, watch.RunScheduled, records[0].RunType)
}

type limitRecorder struct {
	watch.NopObserver
	events []watch.FatalEvent
}

func (r *limitRecorder) ConsecutiveFailureLimitReached(e watch.FatalEvent) {
	r.events = append(r.events, e)
}

func TestHostFailureStreakSurvivesRestart(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig(t)
	cfg.Watch.ConsecutiveFailureLimit = 2

	// The spool dir is a regular file, so every spool attempt fails.
	blocked := filepath.Join(t.TempDir(), "blocked")
	require.NoError(t, os.WriteFile(blocked, nil, 0o644))
	cfg.Tenants[0].Action.Settings = map[string]any{"dir": blocked}

	invoke := func() (*watch.RunSummary, *limitRecorder, int) {
		h, err := openHost(ctx, cfg)
		require.NoError(t, err)
		defer h.Close()

		rec := &limitRecorder{}
		wired, err := h.watchers(ctx, cfg.Tenants[:1], rec)
		require.NoError(t, err)
		seeded := wired[0].watcher.ConsecutiveFailures()

		summary, err := wired[0].watcher.RunOnce(ctx, watch.RunManual)
		require.NoError(t, err)
		return summary, rec, seeded
	}

	first, rec, seeded := invoke()
	assert.Zero(t, seeded)
	assert.True(t, first.AllFailed())
	assert.Empty(t, rec.events)

	second, rec, seeded := invoke()
	assert.Equal(t, 1, seeded)
	assert.True(t, second.AllFailed())
	require.Len(t, rec.events, 1)
	assert.Equal(t, 2, rec.events[0].Count)
	assert.Equal(t, "acme", rec.events[0].Tenant)
}

func TestHostTenants(t *testing.T) {
	cfg := testConfig(t)
	h, err := openHost(context.Background(), cfg)
	require.NoError(t, err)
	defer h.Close()

	all, err := h.tenants(nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"acme", "scratch"}, tenantNames(all))

	_, err = h.tenants([]string{"initech"})
	assert.True(t, errors.IsNotFoundError(err))

	memStore, err := h.store(all[1])
	require.NoError(t, err)
	assert.Same(t, h.mem, memStore)
}

func TestHostUnknownAction(t *testing.T) {
	cfg := testConfig(t)
	cfg.Tenants[0].Action.Kind = "teleport"

	h, err := openHost(context.Background(), cfg)
	require.NoError(t, err)
	defer h.Close()

	_, err = h.watchers(context.Background(), cfg.Tenants[:1])
	require.Error(t, err)
	assert.Contains(t, err.Error(), "tenant acme: action")
}

func TestConfigConversions(t *testing.T) {
	cfg := am.Defaults()

	wc := watchConfig(cfg.Watch)
	assert.Equal(t, watch.DefaultConfig(), wc)

	hc := httpConfig(cfg.HTTP, am.SourceConfig{Kind: am.SourceHTTP, URL: "https://api.example.com", Token: "t"})
	assert.Equal(t, "https://api.example.com", hc.BaseURL)
	assert.Equal(t, "t", hc.Token)
	assert.Equal(t, 30*time.Second, hc.Timeout)
	assert.Equal(t, 2*time.Minute, hc.RetryMaxElapsed)

	cfg.Postgres.URI = "postgres://localhost/rw"
	cfg.Postgres.MaxConns = 3
	pc := pgConfig(cfg.Postgres)
	assert.Equal(t, "postgres://localhost/rw", pc.URI)
	assert.Equal(t, int32(3), pc.MaxConns)
	assert.Equal(t, time.Hour, pc.MaxConnLifetime)
	assert.Equal(t, 30*time.Minute, pc.MaxConnIdleTime)
}

func TestNewRunResult(t *testing.T) {
	s := &watch.RunSummary{
		RunID:      "r1",
		Tenant:     "acme",
		Phase:      watch.PhaseFailed,
		Elapsed:    1500 * time.Millisecond,
		Found:      2,
		Queued:     2,
		Classified: map[watch.ProcessType]int{watch.ProcessNew: 2},
		Results:    map[watch.ResultType]int{watch.ResultError: 2},
	}
	r := newRunResult(s)
	assert.Equal(t, int64(1500), r.ElapsedMS)
	assert.Equal(t, 2, r.Classified[watch.ProcessNew.String()])
	assert.Equal(t, 2, r.Results[watch.ResultError.String()])
	assert.True(t, r.failed, "every queued resource errored")
}
