package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"

	"github.com/Jedidiah5/past-time/internal/alert"
	"github.com/Jedidiah5/past-time/internal/boot"
	"github.com/Jedidiah5/past-time/internal/config"
	"github.com/Jedidiah5/past-time/internal/gateway"
	"github.com/Jedidiah5/past-time/internal/journal"
	"github.com/Jedidiah5/past-time/internal/mailer"
	"github.com/Jedidiah5/past-time/internal/runtime/supervisor"
	"github.com/Jedidiah5/past-time/internal/scheduler"
	"github.com/Jedidiah5/past-time/internal/server"
	"github.com/Jedidiah5/past-time/internal/store"
	"github.com/Jedidiah5/past-time/pkg/logx"
)

func main() {
	var cfgPath string
	flag.StringVar(&cfgPath, "config", "", "path to settings yaml (overrides CONFIG_PATH)")
	flag.Parse()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, cfgPath); err != nil {
		fmt.Println("fatal:", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfgPath string) error {
	env, err := boot.Load(ctx)
	if err != nil {
		return err
	}
	if cfgPath == "" {
		cfgPath = env.ConfigPath
	}

	settings := config.Default()
	if cfgPath != "" {
		settings, err = config.Load(cfgPath)
		if err != nil {
			return err
		}
	}

	logSvc := logx.New(settings.Logging)
	defer func() { _ = logSvc.Close() }()
	log := logSvc.Logger()

	storeClient, err := store.New(store.Config{
		BaseURL: env.StoreURL,
		APIKey:  env.StoreAPIKey,
	}, log.With(logx.String("component", "store")))
	if err != nil {
		return err
	}

	mail, err := mailer.New(mailer.Config{
		APIKey:     env.ResendAPIKey,
		From:       env.MailFrom,
		RatePerSec: settings.Mailer.RatePerSec,
	}, log.With(logx.String("component", "mailer")))
	if err != nil {
		return err
	}

	jr, err := journal.Open(settings.Journal, log.With(logx.String("component", "journal")))
	if err != nil {
		return err
	}
	defer func() { _ = jr.Close() }()

	notifier, err := alert.New(settings.Alert, log.With(logx.String("component", "alert")))
	if err != nil {
		return err
	}

	sched := scheduler.New(storeClient, mail, log.With(logx.String("component", "scheduler")),
		scheduler.WithJournal(jr),
		scheduler.WithAlerter(notifier),
	)
	driver := scheduler.NewDriver(sched, settings.TickSpec, log.With(logx.String("component", "driver")))
	if err := driver.Start(ctx); err != nil {
		return err
	}

	gw := gateway.New(storeClient, log.With(logx.String("component", "gateway")))
	e := server.New(gw, jr, log.With(logx.String("component", "http")))

	sup := supervisor.New(ctx, log)
	sup.Go("http", func(context.Context) error {
		if err := e.Start(":" + env.Port); err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	})

	if cfgPath != "" {
		mgr := config.NewManager(cfgPath, settings, log.With(logx.String("component", "config")))
		sup.Go("config-watch", mgr.Watch)
		updates := mgr.Subscribe(1)
		sup.Go("config-apply", func(ctx context.Context) error {
			for {
				select {
				case <-ctx.Done():
					return nil
				case s := <-updates:
					logSvc.Apply(s.Logging)
					mail.SetRate(s.Mailer.RatePerSec)
					if err := driver.Apply(s.TickSpec); err != nil {
						log.Warn("tick spec rejected", logx.Err(err))
					}
				}
			}
		})
	}

	// systemd integration is a no-op outside a unit.
	_, _ = daemon.SdNotify(false, daemon.SdNotifyReady)
	if interval, err := daemon.SdWatchdogEnabled(false); err == nil && interval > 0 {
		sup.Go("watchdog", func(ctx context.Context) error {
			t := time.NewTicker(interval / 2)
			defer t.Stop()
			for {
				select {
				case <-ctx.Done():
					return nil
				case <-t.C:
					_, _ = daemon.SdNotify(false, daemon.SdNotifyWatchdog)
				}
			}
		})
	}

	log.Info("pasttime started",
		logx.String("port", env.Port),
		logx.String("tick_spec", settings.TickSpec),
		logx.Bool("journal", jr != nil),
		logx.Bool("alerts", notifier != nil),
	)

	<-ctx.Done()
	log.Info("shutting down")
	_, _ = daemon.SdNotify(false, daemon.SdNotifyStopping)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	driver.Stop(shutdownCtx)
	if err := e.Shutdown(shutdownCtx); err != nil {
		log.Warn("http shutdown", logx.Err(err))
	}
	sup.Stop(shutdownCtx)
	return nil
}
