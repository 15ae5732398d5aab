package service

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"time"

	"carrental-api/internal/domain"
	"carrental-api/internal/hasher"
	"carrental-api/internal/metrics"
	"carrental-api/internal/repository"
)

const (
	defaultOTPLength = 6
	defaultOTPTTL    = 10 * time.Minute
)

// CodeGenerator produce el codigo en texto plano que recibe el usuario.
type CodeGenerator interface {
	Generate() (string, error)
}

// NumericCodeGenerator genera codigos decimales de largo fijo con crypto/rand.
type NumericCodeGenerator struct {
	Length int
}

func (g NumericCodeGenerator) Generate() (string, error) {
	length := g.Length
	if length <= 0 {
		length = defaultOTPLength
	}
	ten := big.NewInt(10)
	buf := make([]byte, length)
	for i := range buf {
		n, err := rand.Int(rand.Reader, ten)
		if err != nil {
			return "", fmt.Errorf("generate otp: %w", err)
		}
		buf[i] = byte('0' + n.Int64())
	}
	return string(buf), nil
}

// OTPIssuer emite codigos de reseteo y guarda solo su hash.
type OTPIssuer struct {
	users  repository.UserRepository
	hasher hasher.Hasher
	codes  CodeGenerator
	ttl    time.Duration
	now    func() time.Time
}

func NewOTPIssuer(users repository.UserRepository, h hasher.Hasher, codes CodeGenerator, ttl time.Duration) *OTPIssuer {
	if codes == nil {
		codes = NumericCodeGenerator{Length: defaultOTPLength}
	}
	if ttl <= 0 {
		ttl = defaultOTPTTL
	}
	return &OTPIssuer{
		users:  users,
		hasher: h,
		codes:  codes,
		ttl:    ttl,
		now:    time.Now,
	}
}

// Issue reemplaza cualquier codigo pendiente del usuario por uno nuevo.
func (i *OTPIssuer) Issue(ctx context.Context, user domain.User) (string, time.Time, error) {
	code, err := i.codes.Generate()
	if err != nil {
		return "", time.Time{}, err
	}
	hash, err := i.hasher.Hash(code)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("hash otp: %w", err)
	}
	expiresAt := i.now().UTC().Add(i.ttl)
	if err := i.users.SetOTP(ctx, user.ID, hash, expiresAt); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return "", time.Time{}, ErrUserNotFound
		}
		return "", time.Time{}, fmt.Errorf("store otp: %w", err)
	}
	metrics.OTPIssued.Inc()
	return code, expiresAt, nil
}

// OTPVerifier valida codigos contra el hash guardado y los consume.
type OTPVerifier struct {
	users  repository.UserRepository
	hasher hasher.Hasher
	now    func() time.Time
}

func NewOTPVerifier(users repository.UserRepository, h hasher.Hasher) *OTPVerifier {
	return &OTPVerifier{
		users:  users,
		hasher: h,
		now:    time.Now,
	}
}

// Verify no modifica el registro salvo cuando el codigo vencio: en ese caso
// se borra para forzar una nueva emision.
func (v *OTPVerifier) Verify(ctx context.Context, user domain.User, code string) error {
	if !user.HasPendingOTP() {
		return ErrOTPNotRequested
	}
	if v.now().UTC().After(*user.OtpExpiresAt) {
		err := v.users.ClearOTP(ctx, user.ID, user.OtpCodeHash)
		if err != nil && !errors.Is(err, repository.ErrOTPConsumed) {
			return fmt.Errorf("clear expired otp: %w", err)
		}
		return ErrOTPExpired
	}
	if !v.hasher.Verify(code, user.OtpCodeHash) {
		return ErrOTPInvalid
	}
	return nil
}

// Consume escribe el nuevo password y borra el codigo en una sola operacion,
// condicionada a que el hash del codigo siga siendo el verificado.
func (v *OTPVerifier) Consume(ctx context.Context, user domain.User, newPasswordHash string) error {
	err := v.users.ResetPassword(ctx, user.ID, newPasswordHash, user.OtpCodeHash)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, repository.ErrOTPConsumed), errors.Is(err, repository.ErrNotFound):
		return ErrOTPNotRequested
	default:
		return fmt.Errorf("reset password: %w", err)
	}
}
