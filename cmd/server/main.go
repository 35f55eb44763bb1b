package main

import (
	"context"
	"crypto/tls"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"golang.org/x/crypto/acme/autocert"

	"wsotp/internal/auth"
	"wsotp/internal/config"
	"wsotp/internal/events"
	"wsotp/internal/ingress"
	"wsotp/internal/ledger"
	"wsotp/internal/logger"
	"wsotp/internal/pool"
	"wsotp/internal/registry"
	"wsotp/internal/remote"
	"wsotp/internal/sentry"
	"wsotp/internal/server"
	"wsotp/internal/service"
	"wsotp/internal/storage"
	"wsotp/internal/telegram"
	"wsotp/internal/tracker"
)

const shutdownTimeout = 30 * time.Second

// Version is set via ldflags during build.
var Version = "dev"

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Configuration error: %v", err)
	}
	logger.SetDebug(!cfg.Production())

	if err := sentry.Init(cfg.SentryDSN, cfg.Env, Version); err != nil {
		log.Printf("Sentry disabled: %v", err)
	}
	defer sentry.Flush(2 * time.Second)

	lock, err := config.AcquireLock(cfg.LockFile)
	if err != nil {
		log.Fatalf("Startup refused: %v", err)
	}
	defer lock.Release()

	// 1. Database
	store, err := storage.NewSQLiteStore(cfg.DBPath)
	if err != nil {
		log.Fatalf("Failed to initialize database: %v", err)
	}
	defer store.Close()

	sealer, err := auth.NewSealer(auth.SealerConfig{
		HashKeyHex:        cfg.SealHashKey,
		BlockKeyHex:       cfg.SealBlockKey,
		AllowInsecureKeys: !cfg.Production(),
	})
	if err != nil {
		log.Fatalf("Failed to initialize sealer: %v", err)
	}

	if cfg.LegacyAccountsFile != "" {
		res, err := store.ImportLegacyAccounts(cfg.LegacyAccountsFile, sealer.Seal)
		if err != nil {
			log.Fatalf("Legacy import from %s failed: %v", cfg.LegacyAccountsFile, err)
		}
		logger.Info("Legacy import: %d users, %d accounts, %d skipped", res.Users, res.Accounts, res.Skipped)
	}

	// 2. Core services
	bus := events.NewBusWithBuffer(500)
	defer bus.Close()
	logger.SetEventBus(bus)

	client := remote.NewHTTPClient(cfg.BaseURL, cfg.RemoteTimeout, cfg.RemoteRPS)
	credPool := pool.New(store, client, sealer, cfg.MaxPerAccount, bus)
	led := ledger.New(store, ledger.Config{Location: cfg.Location(), ResetHour: cfg.ResetHour})
	active := registry.NewActive()

	var (
		api     *tgbotapi.BotAPI
		display service.Messenger = headlessDisplay{}
	)
	if cfg.BotToken != "" {
		api, err = tgbotapi.NewBotAPI(cfg.BotToken)
		if err != nil {
			log.Fatalf("Telegram login failed: %v", err)
		}
		display = telegram.NewDisplay(api, cfg.TelegramRPS)
	} else {
		logger.Warn("BOT_TOKEN not set; Telegram bot disabled")
	}

	track := tracker.New(tracker.Deps{
		Client:    client,
		Pool:      credPool,
		Ledger:    led,
		Registry:  active,
		Cleaner:   tracker.NewCleaner(client, cfg.CleanupConcurrency),
		Display:   display,
		Scheduler: tracker.TimerScheduler{},
		Bus:       bus,
	}, tracker.Config{Interval: cfg.PollInterval, MaxChecks: cfg.MaxChecks})

	svc := service.New(service.Deps{
		Store:     store,
		Client:    client,
		Pool:      credPool,
		Tracker:   track,
		Ledger:    led,
		Registry:  active,
		Messenger: display,
		Sealer:    sealer,
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// 3. Telegram bot and daily rollover
	var notify func(ledger.Summary)
	if api != nil {
		bot := telegram.NewBot(telegram.Deps{
			API:     api,
			Display: display.(*telegram.Display),
			Service: svc,
			Store:   store,
			Pool:    credPool,
			Ledger:  led,
			AdminID: cfg.AdminID,
		})
		notify = bot.NotifyAdmin
		go bot.Run(ctx)
	}
	go led.Run(ctx, notify)

	// 4. TLS & Autocert (if applicable)
	var tlsConfig *tls.Config
	var autocertManager *autocert.Manager
	if cfg.TLS() {
		logger.Info("Configuring HTTPS/TLS for domain: %s", cfg.DomainName)
		cacheDir := "certs"
		if err := os.MkdirAll(cacheDir, 0700); err != nil {
			log.Fatalf("Failed to create cert cache dir: %v", err)
		}
		autocertManager = &autocert.Manager{
			Cache:      autocert.DirCache(cacheDir),
			Prompt:     autocert.AcceptTOS,
			HostPolicy: autocert.HostWhitelist(cfg.DomainName),
			Email:      cfg.Email,
		}
		tlsConfig = autocertManager.TLSConfig()
	}

	serverErrors := make(chan error, 4)

	// 5. Control plane
	commands := &server.Commands{Service: svc, Store: store, Pool: credPool, Tracker: track, Ledger: led}
	var controlPlane *server.Server
	if cfg.AdminAPIToken != "" {
		controlPlane = server.NewServer(cfg.ControlAddr, cfg.AdminAPIToken, commands, bus, tlsConfig)
		go func() {
			if err := controlPlane.Start(); err != nil {
				serverErrors <- err
			}
		}()
	} else {
		logger.Warn("ADMIN_API_TOKEN not set; control plane disabled")
	}

	// 6. Ingress
	ing := ingress.NewIngress(cfg.Port, store, commands, track, cfg.AdminAPIToken)
	var httpServers []*http.Server

	if cfg.TLS() {
		httpsServer := &http.Server{
			Addr:      ":443",
			Handler:   ing.Handler(),
			TLSConfig: tlsConfig,
		}
		httpServers = append(httpServers, httpsServer)
		go func() {
			logger.Info("Ingress listening on :443 (HTTPS)")
			if err := httpsServer.ListenAndServeTLS("", ""); err != nil && !errors.Is(err, http.ErrServerClosed) {
				serverErrors <- err
			}
		}()

		// ACME challenges and redirect
		redirectServer := &http.Server{
			Addr:    ":80",
			Handler: autocertManager.HTTPHandler(nil),
		}
		httpServers = append(httpServers, redirectServer)
		go func() {
			logger.Info("Redirect server listening on :80 (HTTP)")
			if err := redirectServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				serverErrors <- err
			}
		}()
	} else {
		httpServer := &http.Server{
			Addr:    cfg.Port,
			Handler: ing.Handler(),
		}
		httpServers = append(httpServers, httpServer)
		go func() {
			logger.Info("Ingress listening on %s (HTTP)", cfg.Port)
			if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				serverErrors <- err
			}
		}()
	}

	// Wait for interrupt or server error
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-quit:
		logger.Info("Received signal %v, initiating graceful shutdown...", sig)
	case err := <-serverErrors:
		sentry.CaptureError(err, "Server error, initiating shutdown")
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()

	// Stop intake first, then let in-flight submits settle before polling stops.
	cancel()
	svc.Wait()
	track.Shutdown()

	for _, srv := range httpServers {
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Warn("HTTP server shutdown error: %v", err)
		}
	}
	if controlPlane != nil {
		if err := controlPlane.Shutdown(shutdownCtx); err != nil {
			logger.Warn("Control plane shutdown error: %v", err)
		}
	}

	logger.Info("Server shutdown complete")
}

// headlessDisplay stands in for Telegram when no bot token is configured.
type headlessDisplay struct{}

func (headlessDisplay) Post(ctx context.Context, chatID int64, text string) (tracker.Handle, error) {
	logger.Info("[display] %d: %s", chatID, text)
	return tracker.Handle{ChatID: chatID}, nil
}

func (headlessDisplay) Render(ctx context.Context, h tracker.Handle, text string) error {
	logger.Debug("[display] %d/%d: %s", h.ChatID, h.MessageID, text)
	return nil
}
