package repository

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"carrental-api/internal/domain"
)

// Cada mutacion corre como un unico script Lua, asi el par otp_hash/otp_expires_at
// y el indice de expiraciones cambian juntos.
const (
	redisCreateUserScript = `
if redis.call("EXISTS", KEYS[1]) == 1 then
  return 0
end
redis.call("SET", KEYS[1], ARGV[1])
redis.call("HSET", KEYS[2], unpack(ARGV, 2))
return 1
`
	redisSetOTPScript = `
if redis.call("EXISTS", KEYS[1]) == 0 then
  return 0
end
redis.call("HSET", KEYS[1], "otp_hash", ARGV[1], "otp_expires_at", ARGV[2], "updated_at", ARGV[4])
redis.call("ZADD", KEYS[2], ARGV[3], ARGV[5])
return 1
`
	redisClearOTPScript = `
if redis.call("HGET", KEYS[1], "otp_hash") ~= ARGV[1] then
  return 0
end
redis.call("HDEL", KEYS[1], "otp_hash", "otp_expires_at")
redis.call("HSET", KEYS[1], "updated_at", ARGV[2])
redis.call("ZREM", KEYS[2], ARGV[3])
return 1
`
	redisResetPasswordScript = `
if redis.call("HGET", KEYS[1], "otp_hash") ~= ARGV[1] then
  return 0
end
redis.call("HSET", KEYS[1], "password_hash", ARGV[2], "updated_at", ARGV[3])
redis.call("HDEL", KEYS[1], "otp_hash", "otp_expires_at")
redis.call("ZREM", KEYS[2], ARGV[4])
return 1
`
	redisUpdatePasswordScript = `
if redis.call("HGET", KEYS[1], "password_hash") ~= ARGV[1] then
  return 0
end
redis.call("HSET", KEYS[1], "password_hash", ARGV[2], "updated_at", ARGV[3])
return 1
`
	redisClearExpiredOTPScript = `
local exp = redis.call("ZSCORE", KEYS[2], ARGV[3])
if not exp or tonumber(exp) > tonumber(ARGV[1]) then
  return 0
end
redis.call("ZREM", KEYS[2], ARGV[3])
if redis.call("EXISTS", KEYS[1]) == 0 then
  return 0
end
redis.call("HDEL", KEYS[1], "otp_hash", "otp_expires_at")
redis.call("HSET", KEYS[1], "updated_at", ARGV[2])
return 1
`
)

type redisClient interface {
	Eval(ctx context.Context, script string, keys []string, args ...interface{}) *redis.Cmd
	Get(ctx context.Context, key string) *redis.StringCmd
	HGetAll(ctx context.Context, key string) *redis.MapStringStringCmd
	ZRangeByScore(ctx context.Context, key string, opt *redis.ZRangeBy) *redis.StringSliceCmd
}

// RedisUserRepository guarda cada usuario como un hash, con un indice por email
// y un sorted set de expiraciones de OTP.
type RedisUserRepository struct {
	client redisClient
	prefix string
}

func NewRedisUserRepository(client *redis.Client, prefix string) *RedisUserRepository {
	if prefix == "" {
		prefix = "carrental:"
	}
	return &RedisUserRepository{client: client, prefix: prefix}
}

func (r *RedisUserRepository) userKey(id string) string {
	return r.prefix + "user:" + id
}

func (r *RedisUserRepository) emailKey(email string) string {
	return r.prefix + "user:email:" + email
}

func (r *RedisUserRepository) otpIndexKey() string {
	return r.prefix + "user:otp:expiry"
}

func (r *RedisUserRepository) Create(ctx context.Context, user domain.User) error {
	args := []interface{}{
		user.ID,
		"id", user.ID,
		"email", user.Email,
		"full_name", user.FullName,
		"phone", user.Phone,
		"role", string(user.Role),
		"company_name", user.CompanyName,
		"business_license_id", user.BusinessLicenseID,
		"password_hash", user.PasswordHash,
		"created_at", formatTime(user.CreatedAt),
		"updated_at", formatTime(user.UpdatedAt),
	}
	keys := []string{r.emailKey(user.Email), r.userKey(user.ID)}
	created, err := r.client.Eval(ctx, redisCreateUserScript, keys, args...).Int()
	if err != nil {
		return err
	}
	if created == 0 {
		return ErrDuplicateEmail
	}
	return nil
}

func (r *RedisUserRepository) GetByID(ctx context.Context, id string) (domain.User, error) {
	fields, err := r.client.HGetAll(ctx, r.userKey(id)).Result()
	if err != nil {
		return domain.User{}, err
	}
	if len(fields) == 0 {
		return domain.User{}, ErrNotFound
	}
	return decodeUser(fields)
}

func (r *RedisUserRepository) GetByEmail(ctx context.Context, email string) (domain.User, error) {
	id, err := r.client.Get(ctx, r.emailKey(email)).Result()
	if errors.Is(err, redis.Nil) {
		return domain.User{}, ErrNotFound
	}
	if err != nil {
		return domain.User{}, err
	}
	return r.GetByID(ctx, id)
}

func (r *RedisUserRepository) SetOTP(ctx context.Context, id, otpHash string, expiresAt time.Time) error {
	keys := []string{r.userKey(id), r.otpIndexKey()}
	ok, err := r.client.Eval(ctx, redisSetOTPScript, keys,
		otpHash,
		formatTime(expiresAt),
		expiresAt.UnixMilli(),
		formatTime(time.Now().UTC()),
		id,
	).Int()
	if err != nil {
		return err
	}
	if ok == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *RedisUserRepository) ClearOTP(ctx context.Context, id, otpHash string) error {
	keys := []string{r.userKey(id), r.otpIndexKey()}
	return r.client.Eval(ctx, redisClearOTPScript, keys, otpHash, formatTime(time.Now().UTC()), id).Err()
}

func (r *RedisUserRepository) ResetPassword(ctx context.Context, id, passwordHash, otpHash string) error {
	keys := []string{r.userKey(id), r.otpIndexKey()}
	ok, err := r.client.Eval(ctx, redisResetPasswordScript, keys,
		otpHash,
		passwordHash,
		formatTime(time.Now().UTC()),
		id,
	).Int()
	if err != nil {
		return err
	}
	if ok == 0 {
		return ErrOTPConsumed
	}
	return nil
}

func (r *RedisUserRepository) UpdatePasswordHash(ctx context.Context, id, oldHash, newHash string) error {
	keys := []string{r.userKey(id)}
	return r.client.Eval(ctx, redisUpdatePasswordScript, keys, oldHash, newHash, formatTime(time.Now().UTC())).Err()
}

func (r *RedisUserRepository) ClearExpiredOTPs(ctx context.Context, now time.Time) (int64, error) {
	ids, err := r.client.ZRangeByScore(ctx, r.otpIndexKey(), &redis.ZRangeBy{
		Min: "-inf",
		Max: strconv.FormatInt(now.UnixMilli(), 10),
	}).Result()
	if err != nil {
		return 0, err
	}
	var cleared int64
	for _, id := range ids {
		keys := []string{r.userKey(id), r.otpIndexKey()}
		n, err := r.client.Eval(ctx, redisClearExpiredOTPScript, keys,
			now.UnixMilli(),
			formatTime(time.Now().UTC()),
			id,
		).Int64()
		if err != nil {
			return cleared, err
		}
		cleared += n
	}
	return cleared, nil
}

func decodeUser(fields map[string]string) (domain.User, error) {
	u := domain.User{
		ID:                fields["id"],
		Email:             fields["email"],
		FullName:          fields["full_name"],
		Phone:             fields["phone"],
		Role:              domain.Role(fields["role"]),
		CompanyName:       fields["company_name"],
		BusinessLicenseID: fields["business_license_id"],
		PasswordHash:      fields["password_hash"],
	}
	var err error
	if u.CreatedAt, err = parseTime(fields["created_at"]); err != nil {
		return domain.User{}, fmt.Errorf("decode created_at: %w", err)
	}
	if u.UpdatedAt, err = parseTime(fields["updated_at"]); err != nil {
		return domain.User{}, fmt.Errorf("decode updated_at: %w", err)
	}
	if hash, raw := fields["otp_hash"], fields["otp_expires_at"]; hash != "" && raw != "" {
		expiresAt, err := parseTime(raw)
		if err != nil {
			return domain.User{}, fmt.Errorf("decode otp_expires_at: %w", err)
		}
		u.OtpCodeHash = hash
		u.OtpExpiresAt = &expiresAt
	}
	return u, nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(raw string) (time.Time, error) {
	if raw == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		return time.Time{}, err
	}
	return t.UTC(), nil
}
