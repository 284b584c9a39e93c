// Package app wires the bot together and owns its lifecycle.
package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"courseping/internal/bot"
	"courseping/internal/config"
	"courseping/internal/courses"
	"courseping/internal/notify"
	"courseping/internal/platform"
	"courseping/internal/poller"
	"courseping/internal/session"
	kit "courseping/internal/transport"
	"courseping/internal/transport/telegram"
	"courseping/pkg/logx"
)

const updateQueueSize = 64

type App struct {
	cfgm   *config.Manager
	logSvc *logx.Service
	log    logx.Logger

	adapter    *telegram.Adapter
	router     *bot.Router
	dispatcher *notify.Dispatcher
	poll       *poller.Service

	cancel context.CancelFunc
	wg     sync.WaitGroup
	cfgCh  chan *config.Config
}

func New(cfgPath string) (*App, error) {
	cfgm := config.NewManager(cfgPath)
	cfgm.SetValidator(validate)

	cfg, err := cfgm.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	logSvc, log := logx.New(logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
	})
	cfgm.SetLogger(log.With(logx.String("comp", "config")))

	tgTimeout, _ := config.ParseDurationOrDefault("telegram.poll_timeout", cfg.Telegram.PollTimeout, 10*time.Second)
	adapter, err := telegram.New(telegram.Config{
		Token:       cfg.Telegram.Token,
		PollTimeout: tgTimeout,
	}, log.With(logx.String("comp", "telegram")))
	if err != nil {
		_ = logSvc.Close()
		return nil, fmt.Errorf("telegram adapter: %w", err)
	}

	apiTimeout, _ := config.ParseDurationOrDefault("platform.timeout", cfg.Platform.Timeout, 15*time.Second)
	api := platform.NewClient(cfg.Platform.BaseURL, apiTimeout)

	creds := session.NewCredentials()
	subs := session.NewSubscriptions()
	locks := session.NewKeyedMutex()

	coursesSvc := courses.New(creds, subs, locks, api, log.With(logx.String("comp", "courses")))

	dispatcher := notify.New(notify.Config{
		QueueSize:  cfg.Notifier.QueueSize,
		RatePerSec: cfg.Notifier.RatePerSec,
	}, adapter, log.With(logx.String("comp", "notify")))

	interval, _ := config.ParseDurationOrDefault("poll.interval", cfg.Poll.Interval, time.Hour)
	poll := poller.New(poller.Config{
		Interval: interval,
		Timezone: cfg.Poll.Timezone,
	}, subs, locks, coursesSvc, dispatcher, log.With(logx.String("comp", "poller")))

	handlers := bot.NewHandlers(creds, coursesSvc, poll, dispatcher, log.With(logx.String("comp", "bot")))
	router := bot.NewRouter(adapter, log.With(logx.String("comp", "router")))
	router.Register(handlers.Commands(), handlers.OnIntent)

	return &App{
		cfgm:       cfgm,
		logSvc:     logSvc,
		log:        log,
		adapter:    adapter,
		router:     router,
		dispatcher: dispatcher,
		poll:       poll,
	}, nil
}

func validate(cfg *config.Config) error {
	if strings.TrimSpace(cfg.Telegram.Token) == "" {
		return errors.New("telegram.token is required")
	}
	if strings.TrimSpace(cfg.Platform.BaseURL) == "" {
		return errors.New("platform.base_url is required")
	}
	if _, err := config.ParseDurationOrDefault("telegram.poll_timeout", cfg.Telegram.PollTimeout, 10*time.Second); err != nil {
		return err
	}
	if _, err := config.ParseDurationOrDefault("platform.timeout", cfg.Platform.Timeout, 15*time.Second); err != nil {
		return err
	}
	if _, err := config.ParseDurationOrDefault("poll.interval", cfg.Poll.Interval, time.Hour); err != nil {
		return err
	}
	return nil
}

func (a *App) Start(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(ctx)
	a.cancel = cancel

	updates := make(chan kit.Update, updateQueueSize)

	a.dispatcher.Start(runCtx)
	a.poll.Start()

	if err := a.adapter.Start(runCtx, updates); err != nil {
		cancel()
		return fmt.Errorf("start telegram adapter: %w", err)
	}

	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		a.router.Run(runCtx, updates)
	}()

	a.cfgCh = a.cfgm.Subscribe(1)
	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		a.applyReloads(runCtx)
	}()

	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		if err := a.cfgm.Watch(runCtx); err != nil && !errors.Is(err, context.Canceled) {
			a.log.Warn("config watcher exited", logx.Err(err))
		}
	}()

	a.log.Info("app started")
	return nil
}

// applyReloads pushes hot-reloadable settings from config updates into the
// running components. Telegram token and platform base URL changes need a
// restart.
func (a *App) applyReloads(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case cfg, ok := <-a.cfgCh:
			if !ok {
				return
			}
			a.logSvc.Apply(logx.Config{
				Level:   cfg.Logging.Level,
				Console: cfg.Logging.Console,
				File: logx.FileConfig{
					Enabled: cfg.Logging.File.Enabled,
					Path:    cfg.Logging.File.Path,
				},
			})
			a.dispatcher.Apply(notify.Config{
				QueueSize:  cfg.Notifier.QueueSize,
				RatePerSec: cfg.Notifier.RatePerSec,
			})
			if d, err := config.ParseDurationOrDefault("poll.interval", cfg.Poll.Interval, time.Hour); err == nil {
				a.poll.ApplyInterval(d)
			}
			a.log.Info("config reloaded")
		}
	}
}

func (a *App) Stop(ctx context.Context) error {
	if a.cancel != nil {
		a.cancel()
	}

	err := a.adapter.Stop(ctx)
	a.poll.Stop(ctx)
	a.dispatcher.Stop(ctx)

	a.wg.Wait()
	if a.cfgCh != nil {
		a.cfgm.Unsubscribe(a.cfgCh)
	}

	a.log.Info("app stopped")
	if cerr := a.logSvc.Close(); err == nil {
		err = cerr
	}
	return err
}
