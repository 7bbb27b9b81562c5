// Package app assembles the process: configuration, logging, storage, the
// delivery stack and the scheduler, with live config reload.
package app

import (
	"context"
	"fmt"
	"sync"
	"time"

	tele "gopkg.in/telebot.v4"

	"relaybot/internal/botfile"
	"relaybot/internal/config"
	"relaybot/internal/events"
	"relaybot/internal/mailing"
	"relaybot/internal/session"
	"relaybot/internal/storage"
	"relaybot/internal/userclient"
	"relaybot/pkg/logx"
)

type App struct {
	cfgm *config.Manager
	logs *logx.Service
	log  logx.Logger

	store    storage.Store
	registry *session.Registry
	engine   *mailing.Engine
	sched    *mailing.Scheduler
	events   *events.Publisher

	cancelWatch context.CancelFunc
	cfgCh       chan *config.Config
	wg          sync.WaitGroup
}

func New(cfgPath string) (*App, error) {
	if err := userclient.CheckEntityMapping(); err != nil {
		return nil, err
	}

	cfgm := config.NewManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}

	logSvc, log := logx.New(logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
	})
	log = log.With(logx.String("comp", "app"))
	cfgm.SetLogger(log.With(logx.String("comp", "config")))

	store, err := storage.Open(storage.Config{
		Driver:      cfg.Storage.Driver,
		Path:        cfg.Storage.Path,
		DSN:         cfg.Storage.DSN,
		BusyTimeout: config.DurationOr(cfg.Storage.BusyTimeout, 5*time.Second),
	}, log.With(logx.String("comp", "storage")))
	if err != nil {
		logSvc.Close()
		return nil, fmt.Errorf("open storage: %w", err)
	}

	bot, err := tele.NewBot(tele.Settings{Token: cfg.Telegram.BotToken})
	if err != nil {
		store.Close()
		logSvc.Close()
		return nil, fmt.Errorf("bot api: %w", err)
	}

	dialer := userclient.NewDialer(userclient.Config{
		APIID:   cfg.Telegram.APIID,
		APIHash: cfg.Telegram.APIHash,
	}, log.With(logx.String("comp", "userclient")))
	registry := session.NewRegistry(dialer, log.With(logx.String("comp", "sessions")))

	files := botfile.NewFetcher(bot, "", log.With(logx.String("comp", "botfile")))

	engine := mailing.NewEngine(store, registry, files,
		engineOptions(cfg), log.With(logx.String("comp", "engine")))
	sched := mailing.NewScheduler(store, engine,
		schedulerPolicy(cfg), log.With(logx.String("comp", "scheduler")))

	a := &App{
		cfgm:     cfgm,
		logs:     logSvc,
		log:      log,
		store:    store,
		registry: registry,
		engine:   engine,
		sched:    sched,
	}

	if ev := cfg.Events; ev != nil && ev.Enabled {
		pub, err := events.NewPublisher(ev.URL, ev.Exchange, log.With(logx.String("comp", "events")))
		if err != nil {
			a.closeAll()
			return nil, fmt.Errorf("events publisher: %w", err)
		}
		a.events = pub
		sched.SetReporter(pub)
	}

	return a, nil
}

func engineOptions(cfg *config.Config) mailing.EngineOptions {
	m := cfg.Mailing
	return mailing.EngineOptions{
		PaceShortMin:      config.DurationOr(m.PaceShortMin, time.Second),
		PaceShortMax:      config.DurationOr(m.PaceShortMax, 3*time.Second),
		PaceLongMin:       config.DurationOr(m.PaceLongMin, 5*time.Second),
		PaceLongMax:       config.DurationOr(m.PaceLongMax, 15*time.Second),
		HistoryLimit:      m.HistoryLimit,
		TopicHistoryLimit: m.TopicHistoryLimit,
		RatePerSec:        m.RatePerSec,
	}
}

func schedulerPolicy(cfg *config.Config) mailing.Policy {
	m := cfg.Mailing
	return mailing.Policy{
		MinInterval:           config.DurationOr(m.MinInterval, 5*time.Minute),
		PrivilegedMinInterval: config.DurationOr(m.PrivilegedMinInterval, 10*time.Second),
		MaxDestinations:       m.MaxDestinations,
		MaxStrikes:            m.MaxStrikes,
		StrikeOnAllSkipped:    m.StrikeOnAllSkipped,
	}
}

// Start rehydrates persisted tasks, begins scheduling and watches the
// config file for live changes.
func (a *App) Start(ctx context.Context) error {
	if err := a.sched.Rehydrate(ctx); err != nil {
		return err
	}
	a.sched.Start()

	watchCtx, cancel := context.WithCancel(context.Background())
	a.cancelWatch = cancel
	a.cfgCh = a.cfgm.Subscribe(1)

	a.wg.Add(2)
	go func() {
		defer a.wg.Done()
		if err := a.cfgm.Watch(watchCtx); err != nil && watchCtx.Err() == nil {
			a.log.Warn("config watcher stopped", logx.Err(err))
		}
	}()
	go func() {
		defer a.wg.Done()
		a.reloadLoop(watchCtx)
	}()

	a.log.Info("started")
	return nil
}

// reloadLoop applies committed config changes to the live services. Only
// logging and the mailing policy are hot-swappable; storage and transport
// changes need a restart.
func (a *App) reloadLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case cfg, ok := <-a.cfgCh:
			if !ok {
				return
			}
			a.logs.Apply(logx.Config{
				Level:   cfg.Logging.Level,
				Console: cfg.Logging.Console,
				File: logx.FileConfig{
					Enabled: cfg.Logging.File.Enabled,
					Path:    cfg.Logging.File.Path,
				},
			})
			a.sched.SetPolicy(schedulerPolicy(cfg))
			a.log.Info("config reloaded")
		}
	}
}

// Scheduler exposes the task surface to the UI layer.
func (a *App) Scheduler() *mailing.Scheduler { return a.sched }

// Store exposes persistence to the UI layer.
func (a *App) Store() storage.Store { return a.store }

// Sessions exposes the delivery-session registry to the UI layer.
func (a *App) Sessions() *session.Registry { return a.registry }

// Config returns the latest committed configuration.
func (a *App) Config() *config.Config { return a.cfgm.Get() }

func (a *App) Stop(ctx context.Context) error {
	if a.cancelWatch != nil {
		a.cancelWatch()
	}
	a.sched.Stop()
	if a.cfgCh != nil {
		a.cfgm.Unsubscribe(a.cfgCh)
	}
	a.wg.Wait()
	a.log.Info("stopped")
	a.closeAll()
	return nil
}

func (a *App) closeAll() {
	a.registry.Close(context.Background())
	if a.events != nil {
		_ = a.events.Close()
	}
	if err := a.store.Close(); err != nil {
		a.log.Warn("storage close failed", logx.Err(err))
	}
	_ = a.logs.Close()
}
