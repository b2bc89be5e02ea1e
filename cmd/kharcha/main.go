package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"kharcha/internal/config"
	apphttp "kharcha/internal/http"
	"kharcha/internal/identity"
	"kharcha/internal/log"
	"kharcha/internal/services"
	"kharcha/internal/store"
	"kharcha/internal/store/local"
	"kharcha/internal/store/memory"
	"kharcha/internal/store/remote"
)

func main() {
	// Load .env file for local development (ignore errors in production/docker)
	_ = godotenv.Load()

	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		slog.Error("Invalid configuration", "error", err)
		os.Exit(1)
	}

	logger := log.New(log.Config{Level: slog.LevelInfo})
	log.SetDefault(logger)

	ctx := context.Background()

	var (
		localStore  store.Store
		settings    store.Settings
		remoteStore store.Store
		ids         identity.Service = identity.ContextService{}
		mode        services.ModeSource
		verifier    apphttp.TokenVerifier
	)

	switch cfg.DataBackend {
	case "memory":
		mem := memory.New()
		localStore, settings = mem, mem
		mode = services.FixedMode(services.ModeGuest)
		logger.Info("Initialized memory backend", "backend", cfg.DataBackend)

	case "firestore":
		db, err := local.Open(cfg.SQLiteDBPath)
		if err != nil {
			logger.Error("Failed to open local store", log.FieldError, err.Error())
			os.Exit(1)
		}
		defer db.Close()

		fs, err := remote.New(ctx, cfg.FirestoreProjectID, cfg.GoogleCredentialsFile)
		if err != nil {
			logger.Error("Failed to initialize Firestore", log.FieldError, err.Error())
			os.Exit(1)
		}
		defer fs.Close()

		fb, err := identity.NewFirebase(ctx, cfg.GoogleCredentialsFile)
		if err != nil {
			logger.Error("Failed to initialize Firebase auth", log.FieldError, err.Error())
			os.Exit(1)
		}

		localStore, settings = db, db
		remoteStore = fs
		ids = fb
		verifier = fb
		// The mode flag lives in device settings, so a guest toggle
		// survives restarts.
		mode = services.SettingsMode{Settings: db}
		logger.Info("Initialized firestore backend",
			"backend", cfg.DataBackend,
			"project_id", cfg.FirestoreProjectID)

	default: // sqlite
		db, err := local.Open(cfg.SQLiteDBPath)
		if err != nil {
			logger.Error("Failed to open local store", log.FieldError, err.Error())
			os.Exit(1)
		}
		defer db.Close()

		// Guest-only deployment: pin the flag so mode reads agree with
		// what the store will answer after a wipe.
		if err := db.Set(ctx, store.KeyGuestMode, store.GuestModeEnabled); err != nil {
			logger.Error("Failed to seed guest mode flag", log.FieldError, err.Error())
			os.Exit(1)
		}

		localStore, settings = db, db
		mode = services.SettingsMode{Settings: db}
		logger.Info("Initialized sqlite backend",
			"backend", cfg.DataBackend,
			"db_path", cfg.SQLiteDBPath)
	}

	svc := services.NewBudgetService(localStore, settings, remoteStore, ids, mode, logger)

	srv := apphttp.NewServer(apphttp.Options{
		Addr:               ":" + cfg.Port,
		AllowedOrigins:     cfg.CORSAllowedOrigins,
		RateLimitPerMinute: cfg.RateLimitPerMinute,
		Verifier:           verifier,
	}, svc, logger)

	// Configure server timeouts and limits
	srv.ReadTimeout = 10 * time.Second
	srv.WriteTimeout = 10 * time.Second
	srv.IdleTimeout = 60 * time.Second
	srv.MaxHeaderBytes = 1 << 16 // 64KB

	// Graceful shutdown handling
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
		sig := <-sigChan
		logger.Info("Shutdown signal received",
			"signal", sig.String(),
			log.FieldOperation, log.OpShutdown)

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer shutdownCancel()

		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error("Server shutdown error", log.FieldError, err.Error())
		}
		cancel()
	}()

	logger.Info("Starting kharcha server",
		"port", cfg.Port,
		"backend", cfg.DataBackend,
		log.FieldOperation, log.OpStartup)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Error("Server error", log.FieldError, err.Error(), "port", cfg.Port)
		os.Exit(1)
	}

	<-runCtx.Done()
	logger.Info("Server stopped gracefully")
}
