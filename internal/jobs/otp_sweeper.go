package jobs

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"carrental-api/internal/metrics"
)

// ExpiredOTPStore es lo unico que el sweeper necesita del repositorio.
type ExpiredOTPStore interface {
	ClearExpiredOTPs(ctx context.Context, now time.Time) (int64, error)
}

// OTPSweeper borra periodicamente los codigos de reseteo vencidos.
type OTPSweeper struct {
	store   ExpiredOTPStore
	logger  *zap.Logger
	timeout time.Duration
	now     func() time.Time

	mu   sync.Mutex
	cron *cron.Cron
}

func NewOTPSweeper(store ExpiredOTPStore, logger *zap.Logger, timeout time.Duration) *OTPSweeper {
	if logger == nil {
		logger = zap.NewNop()
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &OTPSweeper{
		store:   store,
		logger:  logger,
		timeout: timeout,
		now:     time.Now,
	}
}

// RunOnce ejecuta una pasada y devuelve cuantos registros limpio.
func (s *OTPSweeper) RunOnce(ctx context.Context) (int64, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	n, err := s.store.ClearExpiredOTPs(ctx, s.now().UTC())
	if err != nil {
		return 0, fmt.Errorf("clear expired otps: %w", err)
	}
	if n > 0 {
		metrics.OTPSwept.Add(float64(n))
		s.logger.Info("expired otps cleared", zap.Int64("count", n))
	}
	return n, nil
}

// Start agenda el sweeper. Un schedule vacio no agenda nada.
func (s *OTPSweeper) Start(schedule string) error {
	schedule = strings.TrimSpace(schedule)
	if schedule == "" {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cron != nil {
		return fmt.Errorf("otp sweeper already started")
	}

	c := cron.New()
	if _, err := c.AddFunc(schedule, func() {
		if _, err := s.RunOnce(context.Background()); err != nil {
			s.logger.Warn("otp sweep failed", zap.Error(err))
		}
	}); err != nil {
		return fmt.Errorf("invalid otp sweep schedule %q: %w", schedule, err)
	}
	c.Start()
	s.cron = c
	return nil
}

// Stop detiene el scheduler y espera la pasada en curso o el vencimiento de ctx.
func (s *OTPSweeper) Stop(ctx context.Context) error {
	s.mu.Lock()
	c := s.cron
	s.cron = nil
	s.mu.Unlock()
	if c == nil {
		return nil
	}

	select {
	case <-c.Stop().Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
