package email

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"carrental-api/internal/metrics"
)

var (
	ErrQueueFull        = errors.New("email queue full")
	ErrDispatcherClosed = errors.New("email dispatcher closed")
)

type job struct {
	to        string
	code      string
	expiresAt time.Time
}

// Dispatcher envia correos en segundo plano con un pool fijo de workers.
// Implementa Sender: encolar con exito equivale a aceptar la entrega.
type Dispatcher struct {
	sender  Sender
	logger  *zap.Logger
	timeout time.Duration
	queue   chan job

	mu     sync.RWMutex
	closed bool
	wg     sync.WaitGroup
}

func NewDispatcher(sender Sender, logger *zap.Logger, workers, queueSize int, timeout time.Duration) *Dispatcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	if workers <= 0 {
		workers = 1
	}
	if queueSize <= 0 {
		queueSize = 1
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	d := &Dispatcher{
		sender:  sender,
		logger:  logger,
		timeout: timeout,
		queue:   make(chan job, queueSize),
	}
	d.wg.Add(workers)
	for i := 0; i < workers; i++ {
		go d.run()
	}
	return d
}

func (d *Dispatcher) SendPasswordResetOTP(_ context.Context, toEmail string, code string, expiresAt time.Time) error {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		return ErrDispatcherClosed
	}
	select {
	case d.queue <- job{to: toEmail, code: code, expiresAt: expiresAt}:
		return nil
	default:
		return ErrQueueFull
	}
}

// ReportsDeliveries: el resultado real lo cuenta cada worker, no quien encola.
func (d *Dispatcher) ReportsDeliveries() bool { return true }

// Close deja de aceptar trabajos y espera a que la cola se vacie o venza ctx.
func (d *Dispatcher) Close(ctx context.Context) error {
	d.mu.Lock()
	if !d.closed {
		d.closed = true
		close(d.queue)
	}
	d.mu.Unlock()

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (d *Dispatcher) run() {
	defer d.wg.Done()
	for j := range d.queue {
		d.deliver(j)
	}
}

func (d *Dispatcher) deliver(j job) {
	ctx, cancel := context.WithTimeout(context.Background(), d.timeout)
	defer cancel()

	if err := d.sender.SendPasswordResetOTP(ctx, j.to, j.code, j.expiresAt); err != nil {
		metrics.OTPDeliveries.WithLabelValues(metrics.ResultFailure).Inc()
		d.logger.Warn("async otp delivery failed", zap.Error(err), zap.String("email", j.to))
		return
	}
	metrics.OTPDeliveries.WithLabelValues(metrics.ResultSuccess).Inc()
}
