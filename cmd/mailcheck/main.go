package main

import (
	"context"
	"flag"
	"log"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"carrental-api/internal/config"
	"carrental-api/internal/email"
)

func main() {
	to := flag.String("to", "", "destinatario del correo de prueba (por defecto SMTP_USER)")
	verifyOnly := flag.Bool("verify", false, "solo conectar y autenticar, sin enviar")
	timeout := flag.Duration("timeout", 20*time.Second, "timeout total")
	flag.Parse()

	if err := godotenv.Load(); err != nil {
		log.Printf("warning: loading .env: %v", err)
	}

	cfg, err := config.LoadSMTPConfig()
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	logger, _ := zap.NewDevelopment()
	defer logger.Sync()

	if !cfg.SMTPEnabled() {
		logger.Fatal("SMTP_HOST is not set")
	}
	sender, err := email.NewSMTPSender(cfg.SMTPHost, cfg.SMTPPort, cfg.SMTPUser, cfg.SMTPPass, cfg.SMTPFrom, cfg.SMTPFromName, cfg.SMTPUseTLS)
	if err != nil {
		logger.Fatal("smtp sender init", zap.Error(err))
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	if err := sender.Verify(ctx); err != nil {
		logger.Fatal("smtp verify failed", zap.Error(err), zap.String("host", cfg.SMTPHost), zap.Int("port", cfg.SMTPPort))
	}
	logger.Info("smtp connection ok", zap.String("host", cfg.SMTPHost))
	if *verifyOnly {
		return
	}

	recipient := *to
	if recipient == "" {
		recipient = cfg.SMTPUser
	}
	if recipient == "" {
		logger.Fatal("no recipient: pass -to or set SMTP_USER")
	}

	logger.Info("sending test message", zap.String("to", recipient))
	if err := sender.SendPasswordResetOTP(ctx, recipient, "123456", time.Now().Add(10*time.Minute)); err != nil {
		logger.Fatal("send failed", zap.Error(err))
	}
	logger.Info("test message sent")
}
