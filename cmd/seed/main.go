// Command seed creates the first admin account when the user table is empty.
package main

import (
	"context"
	"log/slog"
	"os"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	_ "github.com/lib/pq"

	"github.com/garantia/server/internal/auth"
	"github.com/garantia/server/internal/db"
	"github.com/garantia/server/internal/notify"
	"github.com/garantia/server/internal/repo"
)

type seedConfig struct {
	DatabaseURL string `env:"DATABASE_URL,required,notEmpty"`
	Email       string `env:"SEED_ADMIN_EMAIL,required,notEmpty"`
	Password    string `env:"SEED_ADMIN_PASSWORD,required,notEmpty"`
	Name        string `env:"SEED_ADMIN_NAME" envDefault:"Administrator"`
}

func main() {
	_ = godotenv.Load(".env")
	logger := slog.New(slog.NewTextHandler(os.Stdout, nil))

	var cfg seedConfig
	if err := env.Parse(&cfg); err != nil {
		logger.Error("failed to load configuration", slog.Any("error", err))
		os.Exit(1)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	database, err := db.Open(ctx, cfg.DatabaseURL, logger)
	if err != nil {
		logger.Error("failed to open database", slog.Any("error", err))
		os.Exit(1)
	}
	defer database.Close()

	if err := db.Migrate(database); err != nil {
		logger.Error("failed to run migrations", slog.Any("error", err))
		os.Exit(1)
	}

	created, err := auth.SeedAdmin(ctx, repo.NewUserRepo(database), cfg.Email, cfg.Name, cfg.Password)
	if err != nil {
		logger.Error("seeding failed", slog.Any("error", err))
		os.Exit(1)
	}
	if !created {
		logger.Info("users already exist, nothing to seed")
		return
	}
	logger.Info("admin account created", slog.String("email", notify.MaskEmail(cfg.Email)))
}
