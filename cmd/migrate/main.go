package main

import (
	"context"
	"log"
	"time"

	"github.com/caarlos0/env/v10"
	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"carrental-api/internal/config"
	"carrental-api/internal/db"
)

// migrateConfig evita exigir JWT_SECRET y demas claves del servidor.
type migrateConfig struct {
	DatabaseURL string        `env:"DATABASE_URL,required,notEmpty"`
	Timeout     time.Duration `env:"MIGRATE_TIMEOUT" envDefault:"2m"`
}

func main() {
	if err := godotenv.Load(); err != nil {
		log.Printf("warning: loading .env: %v", err)
	}

	var mc migrateConfig
	if err := env.Parse(&mc); err != nil {
		log.Fatalf("config: %v", err)
	}

	logger, _ := zap.NewProduction()
	defer logger.Sync()

	ctx, cancel := context.WithTimeout(context.Background(), mc.Timeout)
	defer cancel()

	pool, err := db.NewPool(ctx, &config.Config{DatabaseURL: mc.DatabaseURL})
	if err != nil {
		logger.Fatal("db connect", zap.Error(err))
	}
	defer pool.Close()

	if err := db.Migrate(ctx, pool); err != nil {
		logger.Fatal("db migrate", zap.Error(err))
	}
	logger.Info("migrations applied")
}
