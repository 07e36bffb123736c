package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	_ "github.com/lib/pq"

	"github.com/garantia/server/internal/auth"
	"github.com/garantia/server/internal/config"
	"github.com/garantia/server/internal/db"
	httphandler "github.com/garantia/server/internal/http"
	"github.com/garantia/server/internal/http/handlers"
	"github.com/garantia/server/internal/notify"
	"github.com/garantia/server/internal/repo"
	"github.com/garantia/server/internal/warranty"
)

func main() {
	// Env vars override .env
	_ = godotenv.Load(".env")

	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load configuration", slog.Any("error", err))
		os.Exit(1)
	}

	logger, err := newLogger(cfg)
	if err != nil {
		slog.Error("failed to configure logging", slog.Any("error", err))
		os.Exit(1)
	}
	slog.SetDefault(logger)

	if err := run(cfg, logger); err != nil {
		logger.Error("server stopped with error", slog.Any("error", err))
		os.Exit(1)
	}
}

func run(cfg *config.Config, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger.Info("connecting to database", slog.String("url", cfg.RedactedDatabaseURL()))
	database, err := db.Open(ctx, cfg.DatabaseURL, logger)
	if err != nil {
		return err
	}
	defer database.Close()

	if err := db.Migrate(database); err != nil {
		return err
	}

	claimRepo := repo.NewClaimRepo(database)
	userRepo := repo.NewUserRepo(database)

	var sender notify.Sender
	if cfg.SendGridAPIKey != "" {
		sender = notify.NewSendGridSender(cfg.SendGridAPIKey)
	} else {
		logger.Warn("SENDGRID_API_KEY not set, emails are logged instead of sent")
		sender = notify.NewLogSender(logger)
	}
	if len(cfg.AdminEmails) == 0 {
		logger.Warn("ADMIN_EMAILS is empty, new claims will not notify anyone")
	}
	dispatcher := notify.NewDispatcher(sender, cfg.EmailFrom, cfg.AdminEmails, cfg.AppURL, logger)

	service := warranty.NewService(claimRepo, userRepo, dispatcher, logger, cfg.NotifyTimeout)
	sweeper := warranty.NewSweeper(claimRepo, userRepo, dispatcher, db.NewAdvisoryLocker(database), logger)

	jwtService := auth.NewJWTService(cfg.JWTSecret, cfg.SessionTTL)
	authService := auth.NewAuthService(jwtService, userRepo, logger)

	router := httphandler.NewRouter(httphandler.Handlers{
		Auth:     handlers.NewAuthHandler(authService, cfg.SessionTTL, cfg.LoginRateLimit, cfg.LoginRateWindow, logger, cfg.DevMode),
		Warranty: handlers.NewWarrantyHandler(service, logger, cfg.DevMode),
		Cron:     handlers.NewCronHandler(sweeper, logger, cfg.DevMode),
		Health:   handlers.NewHealthHandler(database, logger),
	}, httphandler.RouterDeps{
		JWT:        jwtService,
		Auth:       authService,
		CronSecret: cfg.CronSecret,
		Logger:     logger,
	})

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	sweepDone := make(chan struct{})
	if cfg.ReminderInterval > 0 {
		logger.Info("in-process reminder sweep enabled", slog.Duration("interval", cfg.ReminderInterval))
		go func() {
			defer close(sweepDone)
			sweeper.RunEvery(ctx, cfg.ReminderInterval)
		}()
	} else {
		close(sweepDone)
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("server starting", slog.String("port", cfg.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	var serveErr error
	select {
	case serveErr = <-errCh:
	case <-ctx.Done():
	}

	logger.Info("shutting down server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server forced to shutdown", slog.Any("error", err))
	}
	// both finish before the deferred database.Close
	stop()
	<-sweepDone
	service.Wait()

	logger.Info("server exited")
	return serveErr
}

func newLogger(cfg *config.Config) (*slog.Logger, error) {
	level, err := cfg.SlogLevel()
	if err != nil {
		return nil, err
	}
	opts := &slog.HandlerOptions{Level: level}
	if cfg.LogFormat == "text" {
		return slog.New(slog.NewTextHandler(os.Stdout, opts)), nil
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, opts)), nil
}
