package email

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrDisabled indica que no hay servidor de correo configurado.
var ErrDisabled = errors.New("email sender disabled")

// Sender entrega un codigo de reseteo en texto plano a su destinatario.
// Las implementaciones respetan el deadline de ctx, no guardan el codigo y
// devuelven error si la entrega no se pudo confirmar o encolar.
type Sender interface {
	SendPasswordResetOTP(ctx context.Context, toEmail string, code string, expiresAt time.Time) error
}

// DeliveryReporter lo implementan los Sender que registran por su cuenta el
// resultado final de cada entrega (por ejemplo, los asincronos).
type DeliveryReporter interface {
	ReportsDeliveries() bool
}

type disabledSender struct {
	reason string
}

// NewDisabledSender devuelve un Sender que siempre falla con ErrDisabled.
func NewDisabledSender(reason string) Sender {
	return &disabledSender{reason: reason}
}

func (s *disabledSender) SendPasswordResetOTP(ctx context.Context, _ string, _ string, _ time.Time) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s.reason == "" {
		return ErrDisabled
	}
	return fmt.Errorf("%w: %s", ErrDisabled, s.reason)
}
