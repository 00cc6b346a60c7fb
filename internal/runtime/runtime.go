package runtime

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/oxbowlabs/steward/internal/classify"
	cfgpkg "github.com/oxbowlabs/steward/internal/config"
	"github.com/oxbowlabs/steward/internal/dispatch"
	"github.com/oxbowlabs/steward/internal/invoke"
	"github.com/oxbowlabs/steward/internal/journal"
	"github.com/oxbowlabs/steward/internal/poll"
	"github.com/oxbowlabs/steward/internal/reconcile"
	"github.com/oxbowlabs/steward/internal/sla"
	"github.com/oxbowlabs/steward/internal/store"
	pebblestore "github.com/oxbowlabs/steward/internal/storage/pebble"
	"github.com/oxbowlabs/steward/internal/tracker"
	"github.com/oxbowlabs/steward/internal/work"
	logpkg "github.com/oxbowlabs/steward/pkg/log"
)

// Options for building the Runtime.
type Options struct {
	DataDir       string
	Fsync         pebblestore.FsyncMode
	FsyncInterval time.Duration
	Config        cfgpkg.Config
	Logger        logpkg.Logger

	// Tracker and Invoker override the defaults built from Config. Tests
	// inject fakes here; production leaves them nil.
	Tracker tracker.Tracker
	Invoker invoke.Invoker
}

// Runtime wires the coordinator graph for a single-node instance: journal
// storage, the in-memory queue store, SLA timers, dispatcher, reconciler,
// write-back, and the tracker poller.
type Runtime struct {
	db      *pebblestore.DB
	journal *journal.Journal
	store   *store.Store
	slaMgr  *sla.Manager
	disp    *dispatch.Dispatcher
	rec     *reconcile.Reconciler
	wb      *reconcile.Writeback
	poller  *poll.Poller
	config  cfgpkg.Config
	logger  logpkg.Logger
}

// Open validates the configuration, opens storage, and builds the full
// component graph. Nothing runs until Run is called.
func Open(opts Options) (*Runtime, error) {
	cfg := opts.Config
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	logger := opts.Logger
	if logger == nil {
		logger = logpkg.NewLogger(logpkg.WithLevel(logpkg.InfoLevel))
	}

	db, err := pebblestore.Open(pebblestore.Options{
		DataDir:       opts.DataDir,
		Fsync:         opts.Fsync,
		FsyncInterval: opts.FsyncInterval,
	})
	if err != nil {
		return nil, err
	}
	jnl, err := journal.Open(db)
	if err != nil {
		db.Close()
		return nil, err
	}

	st := store.New()
	journalLogger := logger.With(logpkg.Component("journal"))
	st.SetTransitionFunc(func(it *work.Item, from, to work.State) {
		rec := journal.Record{
			ItemID:          it.ID,
			Role:            it.Role,
			Priority:        it.Priority,
			From:            from,
			To:              to,
			AtMs:            time.Now().UnixMilli(),
			Attempt:         it.AttemptCount,
			LastError:       it.LastError,
			EscalationLevel: it.EscalationLevel,
			Withdrawn:       it.Withdrawn,
		}
		if err := jnl.Append(context.Background(), rec); err != nil {
			journalLogger.Error("append failed",
				logpkg.Str("id", it.ID),
				logpkg.Err(err),
			)
		}
	})

	classifier, err := classify.New(&cfg)
	if err != nil {
		db.Close()
		return nil, err
	}

	trk := opts.Tracker
	if trk == nil {
		trk = tracker.NewClient(cfg.Tracker, logger.With(logpkg.Component("tracker")))
	}
	invoker := opts.Invoker
	if invoker == nil {
		invoker = invoke.NewHTTPInvoker(cfg.WorkerEndpoints)
	}

	adapter := invoke.NewAdapter(invoker, cfg.InvokeTimeout, logger.With(logpkg.Component("invoke")))

	roles := cfg.Roles()
	sort.Slice(roles, func(i, j int) bool { return roles[i] < roles[j] })
	perRole := make(map[work.Role]int, len(cfg.ConcurrencyPerRole))
	for role, n := range cfg.ConcurrencyPerRole {
		perRole[work.Role(role)] = n
	}
	disp := dispatch.New(st, adapter, dispatch.Config{
		Roles:              roles,
		Tick:               cfg.DispatchTick.Std(),
		ConcurrencyPerRole: perRole,
		DefaultConcurrency: 1,
	}, logger.With(logpkg.Component("dispatch")))

	slaMgr := sla.NewManager(st, logger.With(logpkg.Component("sla")))

	wb := reconcile.NewWriteback(trk, st, 256, logger.With(logpkg.Component("writeback")))
	sink := &reconcile.MultiSink{
		Sinks: []reconcile.Sink{
			&reconcile.LogSink{Logger: logger.With(logpkg.Component("escalation"))},
			&reconcile.TrackerSink{Writeback: wb},
		},
		Logger: logger.With(logpkg.Component("escalation")),
	}
	rec := reconcile.New(st, jnl, sink, wb, disp, reconcile.Config{
		MaxRetries:  cfg.MaxRetries,
		BackoffBase: cfg.RetryBackoffBase.Std(),
		BackoffCap:  cfg.RetryBackoffCap.Std(),
	}, logger.With(logpkg.Component("reconcile")))

	poller := poll.New(trk, classifier, st, slaMgr, disp, poll.Config{
		Interval: cfg.PollInterval.Std(),
		SLAFor:   cfg.SLA,
	}, logger.With(logpkg.Component("poll")))

	rt := &Runtime{
		db:      db,
		journal: jnl,
		store:   st,
		slaMgr:  slaMgr,
		disp:    disp,
		rec:     rec,
		wb:      wb,
		poller:  poller,
		config:  cfg,
		logger:  logger,
	}
	rt.logStartupCounts()
	return rt, nil
}

// logStartupCounts replays journal terminal tallies so a restart reports
// what previous runs finished.
func (r *Runtime) logStartupCounts() {
	counts, err := r.journal.TerminalCounts()
	if err != nil {
		r.logger.Warn("journal replay failed", logpkg.Err(err))
		return
	}
	if len(counts) == 0 {
		return
	}
	r.logger.Info("journal replayed",
		logpkg.Int("completed", counts[work.StateCompleted]),
		logpkg.Int("failed_terminal", counts[work.StateFailedTerminal]),
		logpkg.Int("escalated", counts[work.StateEscalated]),
	)
}

// Run starts every component loop and blocks until ctx is cancelled, then
// drains in-flight invocations.
func (r *Runtime) Run(ctx context.Context) {
	var wg sync.WaitGroup
	run := func(fn func(context.Context)) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			fn(ctx)
		}()
	}

	run(r.slaMgr.Run)
	run(r.disp.Run)
	run(r.wb.Run)
	run(r.poller.Run)
	run(func(ctx context.Context) {
		r.rec.Run(ctx, r.disp.Completions(), r.slaMgr.Events())
	})

	<-ctx.Done()
	r.disp.Wait()
	wg.Wait()
}

// Close releases storage. Call after Run has returned.
func (r *Runtime) Close() error {
	if r.db == nil {
		return nil
	}
	return r.db.Close()
}

// CheckHealth verifies the journal store is readable.
func (r *Runtime) CheckHealth(ctx context.Context) error {
	if r.db == nil {
		return errors.New("db not open")
	}
	it, err := r.db.NewIter(nil)
	if err != nil {
		return err
	}
	return it.Close()
}

// Store exposes the queue store to the ops server.
func (r *Runtime) Store() *store.Store { return r.store }

// Journal exposes transition history to the ops server.
func (r *Runtime) Journal() *journal.Journal { return r.journal }

// SlotsInUse reports current slot occupancy for a role.
func (r *Runtime) SlotsInUse(role work.Role) int { return r.disp.SlotsInUse(role) }

// Config returns the runtime configuration.
func (r *Runtime) Config() cfgpkg.Config { return r.config }

// PollNow runs one immediate poll pass. The CLI uses it for one-shot runs.
func (r *Runtime) PollNow(ctx context.Context) error { return r.poller.PollOnce(ctx) }
