package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"carrental-api/internal/config"
	"carrental-api/internal/db"
	"carrental-api/internal/email"
	"carrental-api/internal/hasher"
	apihttp "carrental-api/internal/http"
	"carrental-api/internal/jobs"
	"carrental-api/internal/repository"
	"carrental-api/internal/service"
)

const shutdownTimeout = 15 * time.Second

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := godotenv.Load(); err != nil {
		log.Printf("warning: loading .env: %v", err)
	}

	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	logger := newLogger(cfg)
	defer logger.Sync()

	users, closeStore := openStore(ctx, cfg, logger)
	defer closeStore()

	bcryptHasher, err := hasher.NewBcryptHasher(cfg.BcryptCost)
	if err != nil {
		logger.Fatal("hasher init", zap.Error(err))
	}

	notifier, dispatcher := newNotifier(cfg, logger)

	userSvc := service.NewUserService(logger, users, bcryptHasher, notifier, service.UserServiceOptions{
		OTPTTL:        cfg.OTPTTL(),
		Codes:         service.NumericCodeGenerator{Length: cfg.OTPLength},
		StoreTimeout:  cfg.StoreTimeout,
		NotifyTimeout: cfg.NotifyTimeout,
	})
	jwtSvc := service.NewJWTService(cfg.JWTSecret, cfg.JWTExpiry)

	sweeper := jobs.NewOTPSweeper(users, logger, cfg.StoreTimeout)
	if err := sweeper.Start(cfg.OTPSweepSchedule); err != nil {
		logger.Fatal("otp sweeper", zap.Error(err))
	}

	authHandler := apihttp.NewAuthHandler(logger, userSvc, jwtSvc)
	router := apihttp.NewRouter(logger, cfg.APIBasePath, authHandler, jwtSvc)

	server := &http.Server{
		Addr:              ":" + cfg.HTTPPort,
		Handler:           apihttp.NewHandler(router, cfg.FrontendOrigins),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		logger.Info("starting server", zap.String("port", cfg.HTTPPort), zap.String("store", cfg.StoreDriver))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server error", zap.Error(err))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http shutdown", zap.Error(err))
	}
	if err := sweeper.Stop(shutdownCtx); err != nil {
		logger.Warn("otp sweeper stop", zap.Error(err))
	}
	if dispatcher != nil {
		if err := dispatcher.Close(shutdownCtx); err != nil {
			logger.Warn("email dispatcher drain", zap.Error(err))
		}
	}
}

func newLogger(cfg *config.Config) *zap.Logger {
	var (
		logger *zap.Logger
		err    error
	)
	if cfg.IsDevelopment() {
		logger, err = zap.NewDevelopment()
	} else {
		logger, err = zap.NewProduction()
	}
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	return logger
}

// newNotifier arma el Sender de codigos de reseteo. Sin un SMTP utilizable el
// sender deshabilitado queda expuesto directamente, asi cada reseteo se
// reporta como no entregado en lugar de encolarse.
func newNotifier(cfg *config.Config, logger *zap.Logger) (email.Sender, *email.Dispatcher) {
	if !cfg.SMTPEnabled() {
		logger.Warn("smtp not configured, password reset codes will not be delivered")
		return email.NewDisabledSender("email sender not configured"), nil
	}
	sender, err := email.NewSMTPSender(cfg.SMTPHost, cfg.SMTPPort, cfg.SMTPUser, cfg.SMTPPass, cfg.SMTPFrom, cfg.SMTPFromName, cfg.SMTPUseTLS)
	if err != nil {
		logger.Warn("smtp sender init failed", zap.Error(err))
		return email.NewDisabledSender("smtp sender init failed"), nil
	}
	if !cfg.NotifyAsync {
		return sender, nil
	}
	dispatcher := email.NewDispatcher(sender, logger, cfg.NotifyWorkers, cfg.NotifyQueueSize, cfg.NotifyTimeout)
	return dispatcher, dispatcher
}

// openStore elige el backend de credenciales segun STORE_DRIVER.
func openStore(ctx context.Context, cfg *config.Config, logger *zap.Logger) (repository.UserRepository, func()) {
	switch cfg.StoreDriver {
	case config.StoreDriverRedis:
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
		defer cancel()
		if err := client.Ping(pingCtx).Err(); err != nil {
			logger.Fatal("redis ping", zap.Error(err))
		}
		return repository.NewRedisUserRepository(client, cfg.RedisPrefix), func() {
			if err := client.Close(); err != nil {
				logger.Warn("redis close", zap.Error(err))
			}
		}
	default:
		pool, err := db.NewPool(ctx, cfg)
		if err != nil {
			logger.Fatal("db connect", zap.Error(err))
		}
		if cfg.RunMigrations {
			if err := db.Migrate(ctx, pool); err != nil {
				pool.Close()
				logger.Fatal("db migrate", zap.Error(err))
			}
		}
		return repository.NewPgUserRepository(pool), pool.Close
	}
}
