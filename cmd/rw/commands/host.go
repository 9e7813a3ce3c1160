package commands

import (
	"context"
	"database/sql"
	"sort"

	"github.com/teranos/resourcewatch/action"
	"github.com/teranos/resourcewatch/am"
	"github.com/teranos/resourcewatch/db"
	"github.com/teranos/resourcewatch/errors"
	"github.com/teranos/resourcewatch/logger"
	"github.com/teranos/resourcewatch/source/fsource"
	"github.com/teranos/resourcewatch/source/httpsource"
	"github.com/teranos/resourcewatch/state"
	"github.com/teranos/resourcewatch/state/pgstate"
	"github.com/teranos/resourcewatch/telemetry"
	"github.com/teranos/resourcewatch/watch"
)

// host owns the backends shared by every tenant of one process.
type host struct {
	cfg     *am.Config
	db      *sql.DB
	pg      *pgstate.Store
	mem     *state.MemStore
	history *telemetry.HistoryStore
	actions *action.Registry
}

// openHost opens the SQLite database, and PostgreSQL when a tenant needs it.
func openHost(ctx context.Context, cfg *am.Config) (*host, error) {
	database, err := db.OpenWithMigrations(cfg.GetDatabasePath(), logger.ComponentLogger("db"))
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open database at %s", cfg.GetDatabasePath())
	}

	h := &host{
		cfg:     cfg,
		db:      database,
		mem:     state.NewMemStore(),
		history: telemetry.NewHistoryStore(database),
		actions: action.DefaultRegistry(),
	}

	for _, t := range cfg.Tenants {
		if t.StoreKind() != am.StorePostgres {
			continue
		}
		pg, err := pgstate.Open(ctx, pgConfig(cfg.Postgres))
		if err != nil {
			h.Close()
			return nil, errors.Wrap(err, "failed to open postgres state store")
		}
		h.pg = pg
		break
	}
	return h, nil
}

// Close releases every backend.
func (h *host) Close() {
	if h.pg != nil {
		h.pg.Close()
	}
	if h.db != nil {
		h.db.Close()
	}
}

// tenants resolves names against the config. No names selects every tenant.
func (h *host) tenants(names []string) ([]am.TenantConfig, error) {
	if len(names) == 0 {
		if len(h.cfg.Tenants) == 0 {
			return nil, errors.WithHint(errors.New("no tenants configured"),
				"add a [[tenants]] table to am.toml")
		}
		return h.cfg.Tenants, nil
	}
	out := make([]am.TenantConfig, 0, len(names))
	for _, name := range names {
		t, ok := h.cfg.Tenant(name)
		if !ok {
			return nil, errors.NewNotFoundError("tenant %q is not configured", name)
		}
		out = append(out, t)
	}
	return out, nil
}

// store returns the state backend of a tenant.
func (h *host) store(t am.TenantConfig) (state.Admin, error) {
	switch t.StoreKind() {
	case am.StoreSQLite:
		return state.NewStore(h.db), nil
	case am.StoreMemory:
		return h.mem, nil
	case am.StorePostgres:
		if h.pg == nil {
			return nil, errors.Newf("tenant %s: postgres store is not open", t.Name)
		}
		return h.pg, nil
	default:
		return nil, errors.NewInvalidRequestError("tenant %s: unknown store kind %q", t.Name, t.Store)
	}
}

// source builds the resource source of a tenant. The fs source is returned
// separately so pulse can subscribe to its change notifications.
func (h *host) source(t am.TenantConfig) (watch.Source, *fsource.Source, error) {
	switch t.Source.Kind {
	case am.SourceFS:
		fs, err := fsource.New(t.Source.Root, logger.ComponentLogger("fsource"))
		if err != nil {
			return nil, nil, err
		}
		return fs, fs, nil
	case am.SourceHTTP:
		src, err := httpsource.New(httpConfig(h.cfg.HTTP, t.Source), logger.ComponentLogger("httpsource"))
		if err != nil {
			return nil, nil, err
		}
		return src, nil, nil
	default:
		return nil, nil, errors.NewInvalidRequestError("tenant %s: unknown source kind %q", t.Name, t.Source.Kind)
	}
}

// tenantWatch is a wired tenant.
type tenantWatch struct {
	cfg     am.TenantConfig
	watcher *watch.Watcher
	fs      *fsource.Source // nil for non-filesystem sources
}

// watchers wires a Watcher for each tenant. Each watcher resumes the failure
// streak recorded in the run history.
func (h *host) watchers(ctx context.Context, tenants []am.TenantConfig, extra ...watch.Observer) ([]*tenantWatch, error) {
	log := logger.ComponentLogger("watch")
	observers := append([]watch.Observer{
		telemetry.NewLogObserver(log),
		telemetry.NewHistoryObserver(h.history, log),
	}, extra...)

	out := make([]*tenantWatch, 0, len(tenants))
	for _, t := range tenants {
		src, fs, err := h.source(t)
		if err != nil {
			return nil, errors.Wrapf(err, "tenant %s: source", t.Name)
		}
		store, err := h.store(t)
		if err != nil {
			return nil, err
		}
		act, err := h.actions.Build(t.Action.Kind, action.Settings(t.Action.Settings))
		if err != nil {
			return nil, errors.Wrapf(err, "tenant %s: action", t.Name)
		}
		failures, err := h.history.ConsecutiveFailures(ctx, t.Name)
		if err != nil {
			log.Warnw("Failed to read failure streak from run history",
				logger.FieldTenant, t.Name,
				logger.FieldError, err)
		}
		w, err := watch.New(t.Name, src, store, act, watchConfig(h.cfg.Watch),
			watch.WithObservers(observers...),
			watch.WithLogger(log),
			watch.WithFailureCount(failures))
		if err != nil {
			return nil, errors.Wrapf(err, "tenant %s", t.Name)
		}
		out = append(out, &tenantWatch{cfg: t, watcher: w, fs: fs})
	}
	return out, nil
}

func tenantNames(tenants []am.TenantConfig) []string {
	names := make([]string, 0, len(tenants))
	for _, t := range tenants {
		names = append(names, t.Name)
	}
	sort.Strings(names)
	return names
}

func watchConfig(c am.WatchConfig) watch.Config {
	return watch.Config{
		Parallelism:             c.Parallelism,
		BanThreshold:            c.BanThreshold,
		BanDuration:             c.BanDuration(),
		ConsecutiveFailureLimit: c.ConsecutiveFailureLimit,
		RunWarnAfter:            c.RunWarnAfter(),
		ResourceWarnAfter:       c.ResourceWarnAfter(),
	}
}

func httpConfig(h am.HTTPConfig, s am.SourceConfig) httpsource.Config {
	return httpsource.Config{
		BaseURL:             s.URL,
		Token:               s.Token,
		Timeout:             h.Timeout(),
		RequestsPerSecond:   h.RequestsPerSecond,
		Burst:               h.Burst,
		RetryInitialBackoff: h.RetryInitial(),
		RetryMaxElapsed:     h.RetryMaxElapsed(),
		AllowPrivate:        h.AllowPrivate,
	}
}

func pgConfig(p am.PostgresConfig) pgstate.Config {
	cfg := pgstate.DefaultConfig()
	cfg.URI = p.URI
	if p.MaxConns > 0 {
		cfg.MaxConns = p.MaxConns
	}
	if p.MinConns > 0 {
		cfg.MinConns = p.MinConns
	}
	if p.MaxConnLifetimeSeconds > 0 {
		cfg.MaxConnLifetime = am.Seconds(p.MaxConnLifetimeSeconds)
	}
	if p.MaxConnIdleSeconds > 0 {
		cfg.MaxConnIdleTime = am.Seconds(p.MaxConnIdleSeconds)
	}
	return cfg
}
