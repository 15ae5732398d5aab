package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"carrental-api/internal/domain"
)

type staticCodes struct {
	code string
}

func (s staticCodes) Generate() (string, error) { return s.code, nil }

func TestNumericCodeGenerator(t *testing.T) {
	for _, length := range []int{0, 4, 8} {
		code, err := NumericCodeGenerator{Length: length}.Generate()
		if err != nil {
			t.Fatalf("generate: %v", err)
		}
		want := length
		if want == 0 {
			want = defaultOTPLength
		}
		if len(code) != want {
			t.Fatalf("expected %d digits, got %q", want, code)
		}
		for _, r := range code {
			if r < '0' || r > '9' {
				t.Fatalf("non digit in %q", code)
			}
		}
	}
}

func TestOTPIssuer_StoresHashAndExpiry(t *testing.T) {
	repo := newMockUserRepo()
	user := domain.User{ID: "u1", Email: "a@x.com"}
	_ = repo.Create(context.Background(), user)

	h := newTestHasher(t)
	issuer := NewOTPIssuer(repo, h, staticCodes{code: "424242"}, 5*time.Minute)
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	issuer.now = func() time.Time { return now }

	code, expiresAt, err := issuer.Issue(context.Background(), user)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	if code != "424242" || !expiresAt.Equal(now.Add(5*time.Minute)) {
		t.Fatalf("unexpected issue: %q %v", code, expiresAt)
	}
	stored := repo.get("a@x.com")
	if !h.Verify("424242", stored.OtpCodeHash) {
		t.Fatalf("stored hash must verify the code")
	}
	if stored.OtpExpiresAt == nil || !stored.OtpExpiresAt.Equal(expiresAt) {
		t.Fatalf("unexpected stored expiry: %v", stored.OtpExpiresAt)
	}
}

func TestOTPIssuer_UnknownUser(t *testing.T) {
	issuer := NewOTPIssuer(newMockUserRepo(), newTestHasher(t), nil, 0)
	_, _, err := issuer.Issue(context.Background(), domain.User{ID: "missing"})
	if !errors.Is(err, ErrUserNotFound) {
		t.Fatalf("expected ErrUserNotFound, got %v", err)
	}
}

func TestOTPVerifier_States(t *testing.T) {
	repo := newMockUserRepo()
	h := newTestHasher(t)
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	hash, err := h.Hash("123456")
	if err != nil {
		t.Fatalf("hash: %v", err)
	}
	expires := now.Add(time.Minute)
	user := domain.User{ID: "u1", Email: "a@x.com", OtpCodeHash: hash, OtpExpiresAt: &expires}
	_ = repo.Create(context.Background(), user)

	verifier := NewOTPVerifier(repo, h)
	verifier.now = func() time.Time { return now }

	if err := verifier.Verify(context.Background(), domain.User{ID: "u1"}, "123456"); !errors.Is(err, ErrOTPNotRequested) {
		t.Fatalf("expected ErrOTPNotRequested, got %v", err)
	}
	if err := verifier.Verify(context.Background(), user, "654321"); !errors.Is(err, ErrOTPInvalid) {
		t.Fatalf("expected ErrOTPInvalid, got %v", err)
	}
	if err := verifier.Verify(context.Background(), user, "123456"); err != nil {
		t.Fatalf("verify: %v", err)
	}

	verifier.now = func() time.Time { return expires.Add(time.Nanosecond) }
	if err := verifier.Verify(context.Background(), user, "123456"); !errors.Is(err, ErrOTPExpired) {
		t.Fatalf("expected ErrOTPExpired, got %v", err)
	}
	if repo.cleared != 1 {
		t.Fatalf("expected expired otp to be cleared")
	}
	// Un segundo intento con el registro viejo no debe fallar por el CAS.
	if err := verifier.Verify(context.Background(), user, "123456"); !errors.Is(err, ErrOTPExpired) {
		t.Fatalf("expected ErrOTPExpired, got %v", err)
	}
}

func TestOTPVerifier_ConsumeOnce(t *testing.T) {
	repo := newMockUserRepo()
	h := newTestHasher(t)
	expires := time.Now().Add(time.Minute)
	user := domain.User{ID: "u1", Email: "a@x.com", OtpCodeHash: "otp-hash", OtpExpiresAt: &expires}
	_ = repo.Create(context.Background(), user)

	verifier := NewOTPVerifier(repo, h)
	if err := verifier.Consume(context.Background(), user, "new-hash"); err != nil {
		t.Fatalf("consume: %v", err)
	}
	if err := verifier.Consume(context.Background(), user, "other-hash"); !errors.Is(err, ErrOTPNotRequested) {
		t.Fatalf("expected ErrOTPNotRequested, got %v", err)
	}
	if got := repo.get("a@x.com").PasswordHash; got != "new-hash" {
		t.Fatalf("unexpected password hash %q", got)
	}
}
