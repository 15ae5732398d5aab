package repository

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"carrental-api/internal/domain"
)

var (
	ErrNotFound       = errors.New("user not found")
	ErrDuplicateEmail = errors.New("email already registered")
	// ErrOTPConsumed indica que el codigo guardado cambio entre la lectura y la escritura.
	ErrOTPConsumed = errors.New("otp already consumed or replaced")
)

const pgUniqueViolation = "23505"

// UserRepository define el contrato de persistencia para credenciales de usuario.
// Toda mutacion es una unica operacion atomica por registro.
type UserRepository interface {
	Create(ctx context.Context, user domain.User) error
	GetByID(ctx context.Context, id string) (domain.User, error)
	GetByEmail(ctx context.Context, email string) (domain.User, error)
	SetOTP(ctx context.Context, id, otpHash string, expiresAt time.Time) error
	ClearOTP(ctx context.Context, id, otpHash string) error
	ResetPassword(ctx context.Context, id, passwordHash, otpHash string) error
	UpdatePasswordHash(ctx context.Context, id, oldHash, newHash string) error
	ClearExpiredOTPs(ctx context.Context, now time.Time) (int64, error)
}

// pgQuerier es el subconjunto de pgxpool.Pool que usa el repositorio.
type pgQuerier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PgUserRepository implementa UserRepository usando pgxpool.
type PgUserRepository struct {
	pool pgQuerier
}

func NewPgUserRepository(pool *pgxpool.Pool) *PgUserRepository {
	return &PgUserRepository{pool: pool}
}

const userColumns = `id, email, full_name, phone, role, company_name, business_license_id,
		password_hash, otp_hash, otp_expires_at, created_at, updated_at`

func (r *PgUserRepository) Create(ctx context.Context, user domain.User) error {
	const query = `
		INSERT INTO users (id, email, full_name, phone, role, company_name, business_license_id, password_hash, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`
	_, err := r.pool.Exec(ctx, query,
		user.ID,
		user.Email,
		user.FullName,
		user.Phone,
		string(user.Role),
		user.CompanyName,
		user.BusinessLicenseID,
		user.PasswordHash,
		user.CreatedAt,
		user.UpdatedAt,
	)
	if isUniqueViolation(err) {
		return ErrDuplicateEmail
	}
	return err
}

func (r *PgUserRepository) GetByID(ctx context.Context, id string) (domain.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE id = $1`
	return scanUser(r.pool.QueryRow(ctx, query, id))
}

func (r *PgUserRepository) GetByEmail(ctx context.Context, email string) (domain.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE email = $1`
	return scanUser(r.pool.QueryRow(ctx, query, email))
}

func (r *PgUserRepository) SetOTP(ctx context.Context, id, otpHash string, expiresAt time.Time) error {
	const query = `
		UPDATE users
		SET otp_hash = $1, otp_expires_at = $2, updated_at = $3
		WHERE id = $4
	`
	tag, err := r.pool.Exec(ctx, query, otpHash, expiresAt, time.Now().UTC(), id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *PgUserRepository) ClearOTP(ctx context.Context, id, otpHash string) error {
	const query = `
		UPDATE users
		SET otp_hash = NULL, otp_expires_at = NULL, updated_at = $1
		WHERE id = $2 AND otp_hash = $3
	`
	_, err := r.pool.Exec(ctx, query, time.Now().UTC(), id, otpHash)
	return err
}

func (r *PgUserRepository) ResetPassword(ctx context.Context, id, passwordHash, otpHash string) error {
	const query = `
		UPDATE users
		SET password_hash = $1, otp_hash = NULL, otp_expires_at = NULL, updated_at = $2
		WHERE id = $3 AND otp_hash = $4
	`
	tag, err := r.pool.Exec(ctx, query, passwordHash, time.Now().UTC(), id, otpHash)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrOTPConsumed
	}
	return nil
}

func (r *PgUserRepository) UpdatePasswordHash(ctx context.Context, id, oldHash, newHash string) error {
	const query = `
		UPDATE users
		SET password_hash = $1, updated_at = $2
		WHERE id = $3 AND password_hash = $4
	`
	_, err := r.pool.Exec(ctx, query, newHash, time.Now().UTC(), id, oldHash)
	return err
}

func (r *PgUserRepository) ClearExpiredOTPs(ctx context.Context, now time.Time) (int64, error) {
	const query = `
		UPDATE users
		SET otp_hash = NULL, otp_expires_at = NULL, updated_at = $1
		WHERE otp_expires_at IS NOT NULL AND otp_expires_at <= $1
	`
	tag, err := r.pool.Exec(ctx, query, now)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

func scanUser(row pgx.Row) (domain.User, error) {
	var (
		u         domain.User
		role      string
		otpHash   *string
		otpExpiry *time.Time
	)
	err := row.Scan(
		&u.ID,
		&u.Email,
		&u.FullName,
		&u.Phone,
		&role,
		&u.CompanyName,
		&u.BusinessLicenseID,
		&u.PasswordHash,
		&otpHash,
		&otpExpiry,
		&u.CreatedAt,
		&u.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.User{}, ErrNotFound
	}
	if err != nil {
		return domain.User{}, err
	}
	u.Role = domain.Role(role)
	if otpHash != nil && otpExpiry != nil {
		u.OtpCodeHash = *otpHash
		expiresAt := otpExpiry.UTC()
		u.OtpExpiresAt = &expiresAt
	}
	return u, nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation
}
