package auth

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

func newTestCodec(now time.Time) *Codec {
	c := NewCodec("jwt-secret", 24*time.Hour)
	c.now = func() time.Time { return now }
	return c
}

func TestIssueAndValidate(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 500_000_000, time.UTC)
	c := newTestCodec(now)

	token, issued, err := c.Issue(7, "fub-123")
	if err != nil {
		t.Fatalf("Issue() error = %v", err)
	}
	if strings.Count(token, ".") != 2 {
		t.Fatalf("token %q is not a compact JWT", token)
	}
	if !issued.ExpiresAt.Equal(now.Truncate(time.Second).Add(24 * time.Hour)) {
		t.Fatalf("ExpiresAt = %s, want second precision", issued.ExpiresAt)
	}

	got, err := c.Validate(token)
	if err != nil {
		t.Fatalf("Validate() error = %v", err)
	}
	if got.AccountID != 7 || got.FUBAccountID != "fub-123" {
		t.Fatalf("session = %+v", got)
	}
	if !got.ExpiresAt.Equal(issued.ExpiresAt) {
		t.Fatalf("ExpiresAt = %s, want %s", got.ExpiresAt, issued.ExpiresAt)
	}
}

func TestValidateExpired(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	c := newTestCodec(now)

	token, _, err := c.IssueWithTTL(7, "fub-123", time.Minute)
	if err != nil {
		t.Fatalf("IssueWithTTL() error = %v", err)
	}

	c.now = func() time.Time { return now.Add(2 * time.Minute) }
	if _, err := c.Validate(token); !errors.Is(err, ErrExpiredToken) {
		t.Fatalf("Validate() error = %v, want ErrExpiredToken", err)
	}
}

func TestValidateRejectsForeignSecret(t *testing.T) {
	now := time.Now()
	token, _, err := NewCodec("other-secret", time.Hour).Issue(7, "fub-123")
	if err != nil {
		t.Fatalf("Issue() error = %v", err)
	}

	if _, err := newTestCodec(now).Validate(token); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("Validate() error = %v, want ErrInvalidToken", err)
	}
}

func TestValidateRejectsOtherAlgorithms(t *testing.T) {
	now := time.Now()
	claims := Claims{
		AccountID:    7,
		FUBAccountID: "fub-123",
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(now.Add(time.Hour)),
		},
	}

	hs512, err := jwt.NewWithClaims(jwt.SigningMethodHS512, claims).SignedString([]byte("jwt-secret"))
	if err != nil {
		t.Fatalf("SignedString() error = %v", err)
	}
	if _, err := newTestCodec(now).Validate(hs512); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("Validate(HS512) error = %v, want ErrInvalidToken", err)
	}

	none, err := jwt.NewWithClaims(jwt.SigningMethodNone, claims).SignedString(jwt.UnsafeAllowNoneSignatureType)
	if err != nil {
		t.Fatalf("SignedString(none) error = %v", err)
	}
	if _, err := newTestCodec(now).Validate(none); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("Validate(none) error = %v, want ErrInvalidToken", err)
	}
}

func TestValidateRequiresExpiryAndIdentity(t *testing.T) {
	now := time.Now()
	c := newTestCodec(now)

	noExp, err := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{AccountID: 7, FUBAccountID: "fub-123"}).
		SignedString([]byte("jwt-secret"))
	if err != nil {
		t.Fatalf("SignedString() error = %v", err)
	}
	if _, err := c.Validate(noExp); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("Validate(no exp) error = %v, want ErrInvalidToken", err)
	}

	noAccount, err := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		FUBAccountID:     "fub-123",
		RegisteredClaims: jwt.RegisteredClaims{ExpiresAt: jwt.NewNumericDate(now.Add(time.Hour))},
	}).SignedString([]byte("jwt-secret"))
	if err != nil {
		t.Fatalf("SignedString() error = %v", err)
	}
	if _, err := c.Validate(noAccount); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("Validate(no account) error = %v, want ErrInvalidToken", err)
	}

	for _, bad := range []string{"", "   ", "not-a-jwt", "a.b.c"} {
		if _, err := c.Validate(bad); !errors.Is(err, ErrInvalidToken) {
			t.Fatalf("Validate(%q) error = %v, want ErrInvalidToken", bad, err)
		}
	}
}

func TestIssueValidation(t *testing.T) {
	c := NewCodec("", time.Hour)
	if _, _, err := c.Issue(7, "fub-123"); !errors.Is(err, ErrNoSecret) {
		t.Fatalf("Issue() without secret error = %v, want ErrNoSecret", err)
	}
	if _, err := c.Validate("a.b.c"); !errors.Is(err, ErrNoSecret) {
		t.Fatalf("Validate() without secret error = %v, want ErrNoSecret", err)
	}

	c = NewCodec("jwt-secret", time.Hour)
	if _, _, err := c.Issue(0, "fub-123"); err == nil {
		t.Fatal("Issue() with zero account id error = nil")
	}
	if _, _, err := c.Issue(7, " "); err == nil {
		t.Fatal("Issue() with blank fub id error = nil")
	}
	if _, _, err := c.IssueWithTTL(7, "fub-123", 0); err == nil {
		t.Fatal("IssueWithTTL(0) error = nil")
	}
}

func TestShouldRefresh(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	c := newTestCodec(now)

	tests := []struct {
		name      string
		remaining time.Duration
		want      bool
	}{
		{name: "plenty left", remaining: time.Hour, want: false},
		{name: "exactly threshold", remaining: 15 * time.Minute, want: false},
		{name: "just under threshold", remaining: 15*time.Minute - time.Second, want: true},
		{name: "already expired", remaining: -time.Minute, want: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := &Session{ExpiresAt: now.Add(tt.remaining)}
			if got := c.ShouldRefresh(s); got != tt.want {
				t.Fatalf("ShouldRefresh() = %v, want %v", got, tt.want)
			}
		})
	}

	if c.ShouldRefresh(nil) {
		t.Fatal("ShouldRefresh(nil) = true, want false")
	}
}
