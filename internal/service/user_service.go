package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"carrental-api/internal/domain"
	"carrental-api/internal/email"
	"carrental-api/internal/hasher"
	"carrental-api/internal/metrics"
	"carrental-api/internal/repository"
)

var (
	ErrValidation         = errors.New("validation error")
	ErrDuplicateEmail     = errors.New("email already registered")
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrUserNotFound       = errors.New("user not found")
	ErrOTPNotRequested    = errors.New("otp not requested")
	ErrOTPExpired         = errors.New("otp expired")
	ErrOTPInvalid         = errors.New("otp invalid")
)

// ValidationError lleva un mensaje apto para devolver al cliente.
// errors.Is(err, ErrValidation) es verdadero para cualquier ValidationError.
type ValidationError struct {
	Message string
}

func (e *ValidationError) Error() string { return e.Message }

func (e *ValidationError) Is(target error) bool { return target == ErrValidation }

func validation(msg string) error {
	return &ValidationError{Message: msg}
}

// rehasher lo implementan los hashers que saben detectar costos viejos.
type rehasher interface {
	NeedsRehash(hash string) bool
}

// UserServiceOptions ajusta tiempos y generacion de codigos; los ceros toman defaults.
type UserServiceOptions struct {
	OTPTTL        time.Duration
	Codes         CodeGenerator
	StoreTimeout  time.Duration
	NotifyTimeout time.Duration
}

// UserService coordina registro, login y reseteo de password.
type UserService struct {
	logger        *zap.Logger
	users         repository.UserRepository
	hasher        hasher.Hasher
	notifier      email.Sender
	issuer        *OTPIssuer
	verifier      *OTPVerifier
	storeTimeout  time.Duration
	notifyTimeout time.Duration
	now           func() time.Time
	validate      *validator.Validate

	// dummyHash iguala el costo de login cuando el email no existe.
	dummyHash string
}

func NewUserService(logger *zap.Logger, users repository.UserRepository, h hasher.Hasher, notifier email.Sender, opts UserServiceOptions) *UserService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if notifier == nil {
		notifier = email.NewDisabledSender("email sender not configured")
	}
	if opts.StoreTimeout <= 0 {
		opts.StoreTimeout = 5 * time.Second
	}
	if opts.NotifyTimeout <= 0 {
		opts.NotifyTimeout = 10 * time.Second
	}
	s := &UserService{
		logger:        logger,
		users:         users,
		hasher:        h,
		notifier:      notifier,
		issuer:        NewOTPIssuer(users, h, opts.Codes, opts.OTPTTL),
		verifier:      NewOTPVerifier(users, h),
		storeTimeout:  opts.StoreTimeout,
		notifyTimeout: opts.NotifyTimeout,
		now:           time.Now,
		validate:      validator.New(),
	}
	if dummy, err := h.Hash(uuid.NewString()); err != nil {
		logger.Warn("dummy hash failed", zap.Error(err))
	} else {
		s.dummyHash = dummy
	}
	return s
}

// validEmail usa la misma regla "email" que el binding de gin y rechaza
// saltos de linea que terminarian en headers de correo.
func (s *UserService) validEmail(emailAddr string) bool {
	if strings.ContainsAny(emailAddr, "\r\n") {
		return false
	}
	return s.validate.Var(emailAddr, "required,email") == nil
}

// setClock reemplaza el reloj del servicio y de los componentes OTP.
func (s *UserService) setClock(now func() time.Time) {
	s.now = now
	s.issuer.now = now
	s.verifier.now = now
}

func (s *UserService) storeCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, s.storeTimeout)
}

type RegisterInput struct {
	FullName          string
	Email             string
	Password          string
	Phone             string
	Role              string
	CompanyName       string
	BusinessLicenseID string
}

func (s *UserService) Register(ctx context.Context, input RegisterInput) (domain.User, error) {
	user, err := s.register(ctx, input)
	if err != nil {
		metrics.Registrations.WithLabelValues(metrics.ResultFailure).Inc()
		return domain.User{}, err
	}
	metrics.Registrations.WithLabelValues(metrics.ResultSuccess).Inc()
	return user, nil
}

func (s *UserService) register(ctx context.Context, input RegisterInput) (domain.User, error) {
	fullName := strings.TrimSpace(input.FullName)
	emailAddr := domain.NormalizeEmail(input.Email)
	phone := strings.TrimSpace(input.Phone)
	if fullName == "" || emailAddr == "" || phone == "" || strings.TrimSpace(input.Password) == "" {
		return domain.User{}, validation("fullName, email, phone and password are required")
	}
	if !s.validEmail(emailAddr) {
		return domain.User{}, validation("Invalid email")
	}
	role, ok := domain.ParseRole(input.Role)
	if !ok {
		return domain.User{}, validation("Invalid role")
	}

	lookupCtx, cancel := s.storeCtx(ctx)
	_, err := s.users.GetByEmail(lookupCtx, emailAddr)
	cancel()
	switch {
	case err == nil:
		return domain.User{}, ErrDuplicateEmail
	case !errors.Is(err, repository.ErrNotFound):
		return domain.User{}, fmt.Errorf("lookup user: %w", err)
	}

	passwordHash, err := s.hasher.Hash(input.Password)
	if err != nil {
		if errors.Is(err, hasher.ErrPasswordTooLong) {
			return domain.User{}, validation("Password must be at most 72 bytes")
		}
		return domain.User{}, fmt.Errorf("hash password: %w", err)
	}

	now := s.now().UTC()
	user := domain.User{
		ID:                uuid.NewString(),
		Email:             emailAddr,
		FullName:          fullName,
		Phone:             phone,
		Role:              role,
		CompanyName:       strings.TrimSpace(input.CompanyName),
		BusinessLicenseID: strings.TrimSpace(input.BusinessLicenseID),
		PasswordHash:      passwordHash,
		CreatedAt:         now,
		UpdatedAt:         now,
	}

	createCtx, cancel := s.storeCtx(ctx)
	defer cancel()
	if err := s.users.Create(createCtx, user); err != nil {
		if errors.Is(err, repository.ErrDuplicateEmail) {
			return domain.User{}, ErrDuplicateEmail
		}
		return domain.User{}, fmt.Errorf("create user: %w", err)
	}
	return user, nil
}

// Authenticate devuelve ErrInvalidCredentials sin distinguir email desconocido
// de password incorrecto; el motivo real solo va al log en debug.
func (s *UserService) Authenticate(ctx context.Context, emailAddr, password string) (domain.User, error) {
	emailAddr = domain.NormalizeEmail(emailAddr)
	if emailAddr == "" || strings.TrimSpace(password) == "" {
		return domain.User{}, validation("email and password required")
	}

	lookupCtx, cancel := s.storeCtx(ctx)
	user, err := s.users.GetByEmail(lookupCtx, emailAddr)
	cancel()
	if err != nil {
		if !errors.Is(err, repository.ErrNotFound) {
			return domain.User{}, fmt.Errorf("lookup user: %w", err)
		}
		// Igualar el costo de una comparacion real.
		s.hasher.Verify(password, s.dummyHash)
		s.loginFailed("user not found", emailAddr)
		return domain.User{}, ErrInvalidCredentials
	}
	if user.PasswordHash == "" {
		s.hasher.Verify(password, s.dummyHash)
		s.loginFailed("no password set", emailAddr)
		return domain.User{}, ErrInvalidCredentials
	}
	if !s.hasher.Verify(password, user.PasswordHash) {
		s.loginFailed("password mismatch", emailAddr)
		return domain.User{}, ErrInvalidCredentials
	}

	s.upgradeHash(ctx, &user, password)
	metrics.Logins.WithLabelValues(metrics.ResultSuccess).Inc()
	return user, nil
}

func (s *UserService) loginFailed(reason, emailAddr string) {
	metrics.Logins.WithLabelValues(metrics.ResultFailure).Inc()
	s.logger.Debug("login failed", zap.String("reason", reason), zap.String("email", emailAddr))
}

// upgradeHash regenera el hash cuando el costo configurado subio. Un fallo no
// afecta el login.
func (s *UserService) upgradeHash(ctx context.Context, user *domain.User, password string) {
	rh, ok := s.hasher.(rehasher)
	if !ok || !rh.NeedsRehash(user.PasswordHash) {
		return
	}
	newHash, err := s.hasher.Hash(password)
	if err != nil {
		s.logger.Warn("rehash password failed", zap.Error(err), zap.String("user_id", user.ID))
		return
	}
	updateCtx, cancel := s.storeCtx(ctx)
	defer cancel()
	if err := s.users.UpdatePasswordHash(updateCtx, user.ID, user.PasswordHash, newHash); err != nil {
		s.logger.Warn("store rehashed password failed", zap.Error(err), zap.String("user_id", user.ID))
		return
	}
	user.PasswordHash = newHash
}

func (s *UserService) GetUser(ctx context.Context, id string) (domain.User, error) {
	lookupCtx, cancel := s.storeCtx(ctx)
	defer cancel()
	user, err := s.users.GetByID(lookupCtx, id)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return domain.User{}, ErrUserNotFound
		}
		return domain.User{}, fmt.Errorf("lookup user: %w", err)
	}
	return user, nil
}

// ResetIssue describe un codigo emitido. Delivered=false indica que el codigo
// quedo guardado y vigente aunque el correo no salio.
type ResetIssue struct {
	ExpiresAt time.Time
	Delivered bool
}

func (s *UserService) RequestPasswordReset(ctx context.Context, emailAddr string) (ResetIssue, error) {
	emailAddr = domain.NormalizeEmail(emailAddr)
	if emailAddr == "" {
		return ResetIssue{}, validation("email required")
	}

	lookupCtx, cancel := s.storeCtx(ctx)
	user, err := s.users.GetByEmail(lookupCtx, emailAddr)
	cancel()
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return ResetIssue{}, ErrUserNotFound
		}
		return ResetIssue{}, fmt.Errorf("lookup user: %w", err)
	}

	issueCtx, cancel := s.storeCtx(ctx)
	code, expiresAt, err := s.issuer.Issue(issueCtx, user)
	cancel()
	if err != nil {
		return ResetIssue{}, err
	}

	notifyCtx, cancel := context.WithTimeout(ctx, s.notifyTimeout)
	defer cancel()
	if err := s.notifier.SendPasswordResetOTP(notifyCtx, user.Email, code, expiresAt); err != nil {
		metrics.OTPDeliveries.WithLabelValues(metrics.ResultFailure).Inc()
		s.logger.Warn("send password reset otp failed", zap.Error(err), zap.String("user_id", user.ID))
		return ResetIssue{ExpiresAt: expiresAt, Delivered: false}, nil
	}
	if r, ok := s.notifier.(email.DeliveryReporter); !ok || !r.ReportsDeliveries() {
		metrics.OTPDeliveries.WithLabelValues(metrics.ResultSuccess).Inc()
	}
	return ResetIssue{ExpiresAt: expiresAt, Delivered: true}, nil
}

func (s *UserService) ResetPassword(ctx context.Context, emailAddr, code, newPassword string) error {
	err := s.resetPassword(ctx, emailAddr, code, newPassword)
	if err != nil {
		metrics.PasswordResets.WithLabelValues(metrics.ResultFailure).Inc()
		return err
	}
	metrics.PasswordResets.WithLabelValues(metrics.ResultSuccess).Inc()
	return nil
}

func (s *UserService) resetPassword(ctx context.Context, emailAddr, code, newPassword string) error {
	emailAddr = domain.NormalizeEmail(emailAddr)
	code = strings.TrimSpace(code)
	if emailAddr == "" || code == "" || strings.TrimSpace(newPassword) == "" {
		return validation("email, otp and newPassword required")
	}

	lookupCtx, cancel := s.storeCtx(ctx)
	user, err := s.users.GetByEmail(lookupCtx, emailAddr)
	cancel()
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return ErrOTPNotRequested
		}
		return fmt.Errorf("lookup user: %w", err)
	}

	verifyCtx, cancel := s.storeCtx(ctx)
	err = s.verifier.Verify(verifyCtx, user, code)
	cancel()
	if err != nil {
		return err
	}

	passwordHash, err := s.hasher.Hash(newPassword)
	if err != nil {
		if errors.Is(err, hasher.ErrPasswordTooLong) {
			return validation("Password must be at most 72 bytes")
		}
		return fmt.Errorf("hash password: %w", err)
	}

	consumeCtx, cancel := s.storeCtx(ctx)
	defer cancel()
	return s.verifier.Consume(consumeCtx, user, passwordHash)
}
