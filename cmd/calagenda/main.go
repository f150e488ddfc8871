package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/beekhof/caldav-agenda/internal/caldav"
	"github.com/beekhof/caldav-agenda/internal/config"
	"github.com/beekhof/caldav-agenda/internal/engine"
	"github.com/beekhof/caldav-agenda/internal/icalendar"
	"github.com/beekhof/caldav-agenda/internal/metrics"
	"github.com/beekhof/caldav-agenda/internal/web"
	"github.com/beekhof/caldav-agenda/pkg/logger"
)

func printHelp() {
	fmt.Fprintf(os.Stderr, `CalDAV Agenda Service

Polls one or more CalDAV accounts, normalizes their events into a unified
snapshot, and serves derived agenda views (today/tomorrow/week counts, next
upcoming event, per-calendar filtering) over HTTP. New events can be written
back to a chosen calendar.

USAGE:
    %s [OPTIONS]

OPTIONS:
    -h, --help          Show this help message and exit
    --config FILE       Path to JSON config file
    --listen ADDR       HTTP listen address (overrides config and CALAGENDA_LISTEN)
    --timezone ZONE     IANA timezone for day boundaries (overrides config and CALAGENDA_TIMEZONE)
    --once              Run one refresh cycle per account, print a summary, and exit

CONFIGURATION PRECEDENCE (highest to lowest):
    1. Command-line flags
    2. Environment variables
    3. Config file (--config)
    4. Defaults

CONFIG FILE:
    {
      "listen": "127.0.0.1:8484",
      "timezone": "Europe/Amsterdam",
      "refresh_cron": "*/15 * * * *",
      "log": {"level": "info", "format": "json"},
      "accounts": [
        {
          "name": "icloud",
          "url": "https://caldav.icloud.com",
          "username": "user@example.com",
          "password": "app-specific-password",
          "days_to_sync": 7,
          "auto_refresh": true
        }
      ]
    }

ENVIRONMENT VARIABLES:
    CALAGENDA_LISTEN, CALAGENDA_TIMEZONE, CALAGENDA_REFRESH_CRON,
    CALAGENDA_LOG_LEVEL, and a single account via CALDAV_URL,
    CALDAV_USERNAME, CALDAV_PASSWORD, CALDAV_DAYS_TO_SYNC,
    CALDAV_ACCOUNT_NAME.

`, os.Args[0])
}

func main() {
	helpFlag := flag.Bool("help", false, "Show help message")
	helpFlagShort := flag.Bool("h", false, "Show help message (shorthand)")
	configFile := flag.String("config", "", "Path to JSON config file")
	listenFlag := flag.String("listen", "", "HTTP listen address")
	timezoneFlag := flag.String("timezone", "", "IANA timezone for day boundaries")
	onceFlag := flag.Bool("once", false, "Run one refresh cycle per account and exit")
	flag.Parse()

	if *helpFlag || *helpFlagShort {
		printHelp()
		os.Exit(0)
	}

	cfg, err := config.LoadConfig(*configFile, *listenFlag, *timezoneFlag)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	log, err := logger.New(cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to build logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	loc, err := cfg.Location()
	if err != nil {
		log.Fatal("invalid timezone", zap.Error(err))
	}

	registry := prometheus.NewRegistry()
	syncMetrics := metrics.NewSync(registry)

	engines := make([]*engine.Engine, 0, len(cfg.Accounts))
	for _, account := range cfg.Accounts {
		accountLog := log.With(zap.String("account", account.Name))
		client := caldav.NewClient(account.URL, account.Username, account.Password, accountLog)
		parser := icalendar.NewParser(icalendar.NewNormalizer(loc, accountLog), accountLog)

		engines = append(engines, engine.New(engine.Options{
			Account:    account.Name,
			Connection: client,
			Parser:     parser,
			DaysToSync: account.DaysToSync,
			Location:   loc,
			Logger:     accountLog,
			Metrics:    syncMetrics,
		}))
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if *onceFlag {
		runOnce(ctx, engines, log)
		return
	}

	// Initial cycle per account. Auth failures are fatal for the account
	// but not for the process; the account stays visible in the API in its
	// failed state.
	for _, e := range engines {
		if _, err := e.Refresh(ctx); err != nil {
			log.Error("initial refresh failed", zap.String("account", e.Account()), zap.Error(err))
		}
	}

	scheduler := cron.New()
	for i, e := range engines {
		if !cfg.Accounts[i].AutoRefreshEnabled() {
			log.Info("auto refresh disabled", zap.String("account", e.Account()))
			continue
		}
		eng := e
		if _, err := scheduler.AddFunc(cfg.RefreshCron, func() {
			if _, err := eng.Refresh(ctx); err != nil {
				log.Error("scheduled refresh failed", zap.String("account", eng.Account()), zap.Error(err))
			}
		}); err != nil {
			log.Fatal("invalid refresh schedule", zap.String("cron", cfg.RefreshCron), zap.Error(err))
		}
	}
	scheduler.Start()
	defer scheduler.Stop()

	server := web.New(engines, registry, loc, log)
	httpServer := &http.Server{
		Addr:    cfg.Listen,
		Handler: server.Router(),
	}

	go func() {
		log.Info("http server listening", zap.String("addr", cfg.Listen))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("http server failed", zap.Error(err))
			cancel()
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	select {
	case sig := <-sigCh:
		log.Info("signal received, shutting down", zap.String("signal", sig.String()))
	case <-ctx.Done():
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Error("http server shutdown failed", zap.Error(err))
	}
	log.Info("calagenda exiting")
}

// runOnce performs a single refresh per account and prints a short summary,
// useful for validating a new configuration.
func runOnce(ctx context.Context, engines []*engine.Engine, log *zap.Logger) {
	failed := false
	for _, e := range engines {
		snap, err := e.Refresh(ctx)
		if err != nil {
			log.Error("refresh failed", zap.String("account", e.Account()), zap.Error(err))
			failed = true
			continue
		}
		fmt.Printf("%s: %d events from %d calendars (%d failed)\n",
			e.Account(), len(snap.Events), len(snap.Calendars), len(snap.FailedCalendarIDs))
	}
	if failed {
		os.Exit(1)
	}
}
