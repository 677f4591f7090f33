// Package app builds the blitztrack process: config, logging, storage, the
// tracker and every listener around it.
package app

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"time"

	"blitztrack/internal/announce"
	"blitztrack/internal/cfclient"
	"blitztrack/internal/config"
	"blitztrack/internal/eventbus"
	"blitztrack/internal/httpapi"
	"blitztrack/internal/metrics"
	"blitztrack/internal/publish"
	"blitztrack/internal/runtime/supervisor"
	"blitztrack/internal/storage"
	"blitztrack/internal/tracker"
	logx "blitztrack/pkg/logx"
)

type App struct {
	cfgm *config.Manager
	sup  *supervisor.Supervisor

	log  logx.Logger
	logs *logx.Service
	bus  eventbus.Bus

	store     storage.Store
	tracker   *tracker.Scheduler
	publisher *publish.Publisher
	announcer *announce.Announcer
	server    *httpapi.Server
	addr      net.Addr
}

// New loads the config and builds every component. Nothing runs until Start.
func New(ctx context.Context, cfgPath string) (*App, error) {
	cfgm := config.NewManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}

	logSvc, log := logx.New(mapLoggingConfig(cfg))
	log = log.With(logx.String("comp", "app"))
	cfgm.SetLogger(log.With(logx.String("comp", "config")))

	a := &App{cfgm: cfgm, log: log, logs: logSvc, bus: eventbus.New()}
	if err := a.build(ctx, cfg, logSvc.Logger()); err != nil {
		a.closeBuilt()
		_ = logSvc.Close()
		return nil, err
	}
	return a, nil
}

func (a *App) build(ctx context.Context, cfg *config.Config, root logx.Logger) error {
	sc, err := mapStorageConfig(cfg)
	if err != nil {
		return err
	}
	a.store, err = storage.Open(ctx, sc, root.With(logx.String("comp", "storage")))
	if err != nil {
		return fmt.Errorf("storage: %w", err)
	}
	a.log.Info("storage opened", logx.String("driver", a.store.Driver()))

	srcCfg, err := mapSourceConfig(cfg)
	if err != nil {
		return err
	}
	client, err := cfclient.New(srcCfg)
	if err != nil {
		return fmt.Errorf("source: %w", err)
	}
	source := metrics.InstrumentSource(client)

	tc, err := mapTrackerConfig(cfg)
	if err != nil {
		return err
	}
	a.tracker, err = tracker.New(tc, source,
		tracker.WithLogger(root),
		tracker.WithPersister(a.store),
		tracker.WithBus(a.bus),
	)
	if err != nil {
		return fmt.Errorf("tracker: %w", err)
	}
	metrics.SetStatsSource(a.tracker.Stats)

	pc, err := mapPublisherConfig(cfg)
	if err != nil {
		return err
	}
	producer, err := publish.NewProducer(pc)
	if err != nil {
		return fmt.Errorf("publisher: %w", err)
	}
	a.publisher = publish.NewPublisher(producer, pc.Topic, root)

	tg, ac, enabled, err := mapAnnouncerConfig(cfg)
	if err != nil {
		return err
	}
	if enabled {
		sender, err := announce.NewTelegramSender(tg)
		if err != nil {
			return err
		}
		a.announcer = announce.New(sender, ac, root)
	}

	reqTimeout, err := config.ParseDurationOrDefault("http.request_timeout", cfg.HTTP.RequestTimeout, 30*time.Second)
	if err != nil {
		return err
	}
	router := httpapi.NewRouter(a.tracker, httpapi.Options{
		Source:         source,
		FetchLimit:     tc.FetchLimit,
		AllowedOrigins: cfg.HTTP.AllowedOrigins,
		Pprof:          cfg.HTTP.Pprof,
		RequestTimeout: reqTimeout,
		Log:            root,
	})
	a.server = httpapi.NewServer(httpapi.ServerConfig{Addr: cfg.HTTP.Addr}, router, root)
	return nil
}

// closeBuilt releases whatever build managed to open.
func (a *App) closeBuilt() {
	if a.publisher != nil {
		_ = a.publisher.Close()
	}
	if a.store != nil {
		_ = a.store.Close()
	}
}

// Done is closed when the app supervisor context is canceled (fatal error or Stop()).
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Context().Done()
}

func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

// Addr is the bound API address, valid after Start.
func (a *App) Addr() net.Addr { return a.addr }

// Start restores tracker state, binds the API listener and launches every
// background loop under one supervisor.
func (a *App) Start(ctx context.Context) error {
	a.sup = supervisor.New(ctx, supervisor.WithLogger(a.log), supervisor.WithCancelOnError(true))

	if err := a.tracker.Start(a.sup.Context()); err != nil {
		return fmt.Errorf("tracker start: %w", err)
	}
	addr, err := a.server.Listen()
	if err != nil {
		return fmt.Errorf("http listen: %w", err)
	}
	a.addr = addr

	a.sup.Go("http.server", a.server.Run)
	a.sup.GoRestart("publish.winners", func(c context.Context) error {
		return a.publisher.Run(c, a.bus)
	}, supervisor.WithRestartBackoff(500*time.Millisecond, 10*time.Second))
	if a.announcer != nil {
		a.sup.GoRestart("announce.telegram", func(c context.Context) error {
			return a.announcer.Run(c, a.bus)
		}, supervisor.WithRestartBackoff(time.Second, 30*time.Second))
	}
	a.sup.Go("metrics.consume", func(c context.Context) error {
		return metrics.Consume(c, a.bus)
	})

	sub := a.cfgm.Subscribe(8)
	a.sup.Go0("config.reload", func(c context.Context) {
		defer a.cfgm.Unsubscribe(sub)
		a.reloadLoop(c, sub)
	})
	a.sup.Go("config.watch", a.cfgm.Watch)

	a.log.Info("app started", logx.String("addr", addr.String()))
	return nil
}

// reloadLoop applies hot sections (logging, tracker retention) and warns
// about sections that need a restart.
func (a *App) reloadLoop(ctx context.Context, sub <-chan *config.Config) {
	lastApplied := a.cfgm.Get()
	for {
		select {
		case <-ctx.Done():
			return
		case newCfg, ok := <-sub:
			if !ok {
				return
			}
			sections, fields := config.SummarizeChange(lastApplied, newCfg)
			lastApplied = newCfg
			if len(sections) == 0 {
				a.log.Debug("config reload received, but no effective changes detected")
				continue
			}

			a.logs.Apply(mapLoggingConfig(newCfg))
			if tc, err := mapTrackerConfig(newCfg); err != nil {
				a.log.Warn("invalid tracker config; keeping previous", logx.Err(err))
			} else {
				a.tracker.SetRetention(tc.Retention)
			}

			var cold []string
			for _, s := range sections {
				if !config.HotSections[s] {
					cold = append(cold, s)
				}
			}
			if len(cold) > 0 {
				a.log.Warn("config sections changed; restart required for changes to take effect", logx.String("sections", strings.Join(cold, ",")))
			}
			a.log.Info("config applied", append([]logx.Field{logx.String("changed", strings.Join(sections, ","))}, fields...)...)
		}
	}
}

// Stop drains the tracker (final snapshot included), then tears down the
// listeners. Each step is bounded so a stuck component cannot hold shutdown.
func (a *App) Stop(ctx context.Context, reason StopReason) error {
	if a.sup == nil {
		return nil
	}
	a.log.Info("stopping", logx.String("reason", string(reason)))

	var errs []error
	step := func(name string, max time.Duration, fn func(context.Context) error) {
		start := time.Now()
		stepCtx, cancel := context.WithTimeout(ctx, max)
		defer cancel()

		done := make(chan error, 1)
		go func() {
			defer func() {
				if r := recover(); r != nil {
					done <- fmt.Errorf("panic in stop step %s: %v", name, r)
				}
			}()
			done <- fn(stepCtx)
		}()

		select {
		case err := <-done:
			if err != nil {
				a.log.Warn("stop step error", logx.String("name", name), logx.Err(err))
				errs = append(errs, fmt.Errorf("%s: %w", name, err))
			}
			a.log.Debug("stop step end", logx.String("name", name), logx.Duration("took", time.Since(start)))
		case <-stepCtx.Done():
			a.log.Warn("stop step deadline reached (continuing)", logx.String("name", name), logx.Duration("elapsed", time.Since(start)))
		}
	}

	// The tracker goes first: its final snapshot must land before storage closes.
	step("tracker", 15*time.Second, a.tracker.Stop)
	step("supervisor", 5*time.Second, func(c context.Context) error {
		a.sup.Cancel()
		return a.sup.Wait(c)
	})
	step("publisher", 2*time.Second, func(context.Context) error { return a.publisher.Close() })
	step("storage", 2*time.Second, func(context.Context) error { return a.store.Close() })
	metrics.SetStatsSource(nil)

	a.log.Info("stopped")
	_ = a.logs.Close()
	if err := errors.Join(errs...); err != nil {
		return err
	}
	return nil
}
