package repository

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"

	"carrental-api/internal/domain"
)

type evalCall struct {
	script string
	keys   []string
	args   []interface{}
}

type mockRedisClient struct {
	evals      []evalCall
	evalResult int64
	evalErr    error

	getVal string
	getErr error

	hashes map[string]map[string]string

	zrangeIDs []string
	lastRange *redis.ZRangeBy
}

func (m *mockRedisClient) Eval(ctx context.Context, script string, keys []string, args ...interface{}) *redis.Cmd {
	m.evals = append(m.evals, evalCall{script: script, keys: keys, args: args})
	cmd := redis.NewCmd(ctx)
	if m.evalErr != nil {
		cmd.SetErr(m.evalErr)
		return cmd
	}
	cmd.SetVal(m.evalResult)
	return cmd
}

func (m *mockRedisClient) Get(ctx context.Context, _ string) *redis.StringCmd {
	cmd := redis.NewStringCmd(ctx)
	if m.getErr != nil {
		cmd.SetErr(m.getErr)
		return cmd
	}
	cmd.SetVal(m.getVal)
	return cmd
}

func (m *mockRedisClient) HGetAll(ctx context.Context, key string) *redis.MapStringStringCmd {
	cmd := redis.NewMapStringStringCmd(ctx)
	cmd.SetVal(m.hashes[key])
	return cmd
}

func (m *mockRedisClient) ZRangeByScore(ctx context.Context, _ string, opt *redis.ZRangeBy) *redis.StringSliceCmd {
	m.lastRange = opt
	cmd := redis.NewStringSliceCmd(ctx)
	cmd.SetVal(m.zrangeIDs)
	return cmd
}

func TestRedisUserRepositoryCreate(t *testing.T) {
	t.Run("duplicate email", func(t *testing.T) {
		mock := &mockRedisClient{evalResult: 0}
		repo := &RedisUserRepository{client: mock, prefix: "t:"}

		err := repo.Create(context.Background(), domain.User{ID: "u1", Email: "a@x.com"})
		if !errors.Is(err, ErrDuplicateEmail) {
			t.Fatalf("expected ErrDuplicateEmail, got %v", err)
		}
	})

	t.Run("created with email index first", func(t *testing.T) {
		mock := &mockRedisClient{evalResult: 1}
		repo := &RedisUserRepository{client: mock, prefix: "t:"}

		if err := repo.Create(context.Background(), domain.User{ID: "u1", Email: "a@x.com"}); err != nil {
			t.Fatalf("expected no error, got %v", err)
		}
		call := mock.evals[0]
		if call.script != redisCreateUserScript {
			t.Fatalf("expected create script")
		}
		if len(call.keys) != 2 || call.keys[0] != "t:user:email:a@x.com" || call.keys[1] != "t:user:u1" {
			t.Fatalf("unexpected keys: %+v", call.keys)
		}
		if call.args[0] != "u1" {
			t.Fatalf("expected id as first arg, got %+v", call.args[0])
		}
	})
}

func TestRedisUserRepositoryGetByEmail(t *testing.T) {
	now := time.Now().UTC().Truncate(time.Millisecond)
	exp := now.Add(10 * time.Minute)

	t.Run("missing index", func(t *testing.T) {
		repo := &RedisUserRepository{client: &mockRedisClient{getErr: redis.Nil}, prefix: "t:"}
		if _, err := repo.GetByEmail(context.Background(), "a@x.com"); !errors.Is(err, ErrNotFound) {
			t.Fatalf("expected ErrNotFound, got %v", err)
		}
	})

	t.Run("decodes hash", func(t *testing.T) {
		mock := &mockRedisClient{
			getVal: "u1",
			hashes: map[string]map[string]string{
				"t:user:u1": {
					"id":             "u1",
					"email":          "a@x.com",
					"full_name":      "A",
					"role":           "user",
					"password_hash":  "pw",
					"otp_hash":       "otp",
					"otp_expires_at": formatTime(exp),
					"created_at":     formatTime(now),
					"updated_at":     formatTime(now),
				},
			},
		}
		repo := &RedisUserRepository{client: mock, prefix: "t:"}

		u, err := repo.GetByEmail(context.Background(), "a@x.com")
		if err != nil {
			t.Fatalf("expected no error, got %v", err)
		}
		if u.ID != "u1" || u.FullName != "A" || u.Role != domain.RoleUser {
			t.Fatalf("unexpected user: %+v", u)
		}
		if !u.HasPendingOTP() || !u.OtpExpiresAt.Equal(exp) {
			t.Fatalf("expected otp pair decoded, got %+v", u)
		}
		if !u.CreatedAt.Equal(now) {
			t.Fatalf("expected created_at %v, got %v", now, u.CreatedAt)
		}
	})

	t.Run("dangling index", func(t *testing.T) {
		mock := &mockRedisClient{getVal: "u2", hashes: map[string]map[string]string{}}
		repo := &RedisUserRepository{client: mock, prefix: "t:"}
		if _, err := repo.GetByEmail(context.Background(), "a@x.com"); !errors.Is(err, ErrNotFound) {
			t.Fatalf("expected ErrNotFound, got %v", err)
		}
	})
}

func TestRedisUserRepositoryOTPMutations(t *testing.T) {
	t.Run("set otp on unknown user", func(t *testing.T) {
		repo := &RedisUserRepository{client: &mockRedisClient{evalResult: 0}, prefix: "t:"}
		if err := repo.SetOTP(context.Background(), "u1", "h", time.Now()); !errors.Is(err, ErrNotFound) {
			t.Fatalf("expected ErrNotFound, got %v", err)
		}
	})

	t.Run("reset password lost race", func(t *testing.T) {
		repo := &RedisUserRepository{client: &mockRedisClient{evalResult: 0}, prefix: "t:"}
		if err := repo.ResetPassword(context.Background(), "u1", "pw", "otp"); !errors.Is(err, ErrOTPConsumed) {
			t.Fatalf("expected ErrOTPConsumed, got %v", err)
		}
	})

	t.Run("reset password success", func(t *testing.T) {
		mock := &mockRedisClient{evalResult: 1}
		repo := &RedisUserRepository{client: mock, prefix: "t:"}
		if err := repo.ResetPassword(context.Background(), "u1", "pw", "otp"); err != nil {
			t.Fatalf("expected no error, got %v", err)
		}
		call := mock.evals[0]
		if call.script != redisResetPasswordScript || call.args[0] != "otp" || call.args[1] != "pw" {
			t.Fatalf("unexpected call: %+v", call)
		}
	})

	t.Run("eval error", func(t *testing.T) {
		repo := &RedisUserRepository{client: &mockRedisClient{evalErr: errors.New("redis down")}, prefix: "t:"}
		if err := repo.SetOTP(context.Background(), "u1", "h", time.Now()); err == nil {
			t.Fatalf("expected error")
		}
	})
}

func TestRedisUserRepositoryClearExpiredOTPs(t *testing.T) {
	mock := &mockRedisClient{evalResult: 1, zrangeIDs: []string{"u1", "u2"}}
	repo := &RedisUserRepository{client: mock, prefix: "t:"}
	now := time.Now()

	n, err := repo.ClearExpiredOTPs(context.Background(), now)
	if err != nil || n != 2 {
		t.Fatalf("expected 2,nil got %d,%v", n, err)
	}
	if mock.lastRange == nil || mock.lastRange.Min != "-inf" {
		t.Fatalf("unexpected range: %+v", mock.lastRange)
	}
	if len(mock.evals) != 2 || mock.evals[1].keys[0] != "t:user:u2" {
		t.Fatalf("expected one clear per expired id, got %+v", mock.evals)
	}
}
