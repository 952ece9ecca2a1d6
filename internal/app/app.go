// Package app wires the engine together: store, dispatcher, sweeper,
// stats, admin API and the cron service driving the periodic work.
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"storyd/internal/api"
	"storyd/internal/config"
	"storyd/internal/dispatch"
	"storyd/internal/notify"
	"storyd/internal/publish"
	"storyd/internal/stats"
	"storyd/internal/store"
	"storyd/internal/sweep"
	logx "storyd/pkg/logx"
)

type App struct {
	mu sync.Mutex

	mgr    *config.Manager
	logSvc *logx.Service
	log    logx.Logger

	st         *store.Store
	dispatcher *dispatch.Service
	sweeper    *sweep.Sweeper
	aggr       *stats.Aggregator

	c       *cron.Cron
	httpSrv *http.Server

	// runCtx is the Start context; cron entries re-registered after a
	// reload keep using it rather than an unbounded background context.
	runCtx context.Context

	watchCancel context.CancelFunc
	watchWG     sync.WaitGroup

	// Current cron specs, to detect when the entries must be
	// re-registered after a reload.
	tickSpec  string
	sweepSpec string
}

func New(cfgPath string) (*App, error) {
	mgr := config.NewManager(cfgPath)
	mgr.SetValidator(func(cfg *config.Config) error {
		_, err := buildSettings(cfg)
		return err
	})

	cfg, err := mgr.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	set, err := buildSettings(cfg)
	if err != nil {
		return nil, err
	}

	logSvc, log := logx.New(set.logging)
	mgr.SetLogger(log.With(logx.String("comp", "config")))

	st, err := store.Open(set.store, log.With(logx.String("comp", "store")))
	if err != nil {
		_ = logSvc.Close()
		return nil, fmt.Errorf("open store: %w", err)
	}

	var notifier notify.Notifier = notify.Nop{}
	if set.notify.Enabled {
		tg, err := notify.NewTelegram(set.notify, log.With(logx.String("comp", "notify")))
		if err != nil {
			_ = st.Close()
			_ = logSvc.Close()
			return nil, fmt.Errorf("notifier: %w", err)
		}
		notifier = tg
	}

	exec := publish.NewRateLimited(publish.NewHTTP(set.executor), set.execRate)

	dispatcher := dispatch.New(set.dispatch, set.policy, st, exec, notifier,
		log.With(logx.String("comp", "dispatch")))
	sweeper := sweep.New(set.sweep, st, log.With(logx.String("comp", "sweep")))
	aggr := stats.New(st, set.policy.Ceiling)

	a := &App{
		mgr:        mgr,
		logSvc:     logSvc,
		log:        log,
		st:         st,
		dispatcher: dispatcher,
		sweeper:    sweeper,
		aggr:       aggr,
	}

	apiSrv := api.NewServer(set.api, st, aggr, sweeper, log.With(logx.String("comp", "api")))
	a.httpSrv = &http.Server{
		Addr:              apiSrv.Addr(),
		Handler:           apiSrv.Router(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	mgr.OnApply(func(cfg *config.Config) { a.apply(cfg) })
	return a, nil
}

func (a *App) Start(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.runCtx = ctx
	a.c = cron.New()
	if err := a.registerJobsLocked(); err != nil {
		return err
	}
	a.c.Start()

	go func() {
		a.log.Info("admin api listening", logx.String("addr", a.httpSrv.Addr))
		if err := a.httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.log.Error("admin api stopped", logx.Err(err))
		}
	}()

	wctx, cancel := context.WithCancel(ctx)
	a.watchCancel = cancel
	a.watchWG.Add(1)
	go func() {
		defer a.watchWG.Done()
		_ = a.mgr.Watch(wctx)
	}()

	a.log.Info("storyd started",
		logx.Bool("dispatcher", a.dispatcher.Enabled()),
		logx.Duration("tick", a.dispatcher.Interval()))
	return nil
}

func (a *App) registerJobsLocked() error {
	ctx := a.runCtx

	tickSpec := fmt.Sprintf("@every %s", a.dispatcher.Interval())
	if _, err := a.c.AddFunc(tickSpec, func() {
		// The tick context bounds only the selection queries. Attempts the
		// tick launches run under the dispatcher's own context, so
		// cancelling this one when the closure returns is safe.
		tctx, cancel := context.WithTimeout(ctx, a.dispatcher.Interval())
		defer cancel()
		if err := a.dispatcher.Tick(tctx); err != nil {
			// Store-level trouble: abandon this tick, the next one retries.
			a.log.Error("dispatch tick aborted", logx.Err(err))
		}
	}); err != nil {
		return fmt.Errorf("register dispatch tick: %w", err)
	}

	sweepSpec := a.sweeper.Schedule()
	if _, err := a.c.AddFunc(sweepSpec, func() {
		sctx, cancel := context.WithTimeout(ctx, 5*time.Minute)
		defer cancel()
		_, _ = a.sweeper.Run(sctx)
	}); err != nil {
		return fmt.Errorf("register retention sweep: %w", err)
	}

	a.tickSpec = tickSpec
	a.sweepSpec = sweepSpec
	return nil
}

// apply pushes a committed config revision into the running services.
func (a *App) apply(cfg *config.Config) {
	set, err := buildSettings(cfg)
	if err != nil {
		// Watch validated already; failure here means a race with env vars.
		a.log.Warn("config apply rejected", logx.Err(err))
		return
	}

	a.logSvc.Apply(set.logging)
	a.dispatcher.Apply(set.dispatch, set.policy)
	a.sweeper.Apply(set.sweep)

	a.mu.Lock()
	defer a.mu.Unlock()
	// Cron entries cannot be edited in place; restart the cron service
	// when the cadence changed.
	newTick := fmt.Sprintf("@every %s", set.dispatch.Interval)
	if a.c != nil && (newTick != a.tickSpec || set.sweep.Schedule != a.sweepSpec) {
		<-a.c.Stop().Done()
		a.c = cron.New()
		if err := a.registerJobsLocked(); err != nil {
			a.log.Error("cron restart failed", logx.Err(err))
			return
		}
		a.c.Start()
		a.log.Info("cron rescheduled",
			logx.String("tick", newTick), logx.String("sweep", set.sweep.Schedule))
	}
}

func (a *App) Stop(ctx context.Context) error {
	a.mu.Lock()
	c := a.c
	a.c = nil
	cancel := a.watchCancel
	a.watchCancel = nil
	a.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if c != nil {
		<-c.Stop().Done()
	}

	shutdownCtx, sc := context.WithTimeout(ctx, 10*time.Second)
	defer sc()
	_ = a.httpSrv.Shutdown(shutdownCtx)

	a.dispatcher.Drain(shutdownCtx)
	a.watchWG.Wait()

	err := a.st.Close()
	a.log.Info("storyd stopped")
	_ = a.logSvc.Close()
	return err
}
