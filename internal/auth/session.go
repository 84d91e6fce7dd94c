package auth

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// RefreshThreshold is the remaining lifetime below which a session should be
// reissued.
const RefreshThreshold = 15 * time.Minute

var (
	ErrInvalidToken = errors.New("invalid session token")
	ErrExpiredToken = errors.New("session token expired")
	ErrNoSecret     = errors.New("session secret is not configured")
)

// Claims is the JWT payload carried by session tokens.
type Claims struct {
	AccountID    int64  `json:"account_id"`
	FUBAccountID string `json:"fub_account_id"`
	jwt.RegisteredClaims
}

// Session is a validated, decoded session token.
type Session struct {
	AccountID    int64
	FUBAccountID string
	IssuedAt     time.Time
	ExpiresAt    time.Time
}

// Codec issues and validates HS256 session tokens.
type Codec struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

func NewCodec(secret string, ttl time.Duration) *Codec {
	return &Codec{
		secret: []byte(secret),
		ttl:    ttl,
		now:    time.Now,
	}
}

func (c *Codec) TTL() time.Duration {
	return c.ttl
}

// Issue signs a token for the account using the codec's default lifetime.
func (c *Codec) Issue(accountID int64, fubAccountID string) (string, *Session, error) {
	return c.IssueWithTTL(accountID, fubAccountID, c.ttl)
}

func (c *Codec) IssueWithTTL(accountID int64, fubAccountID string, ttl time.Duration) (string, *Session, error) {
	if len(c.secret) == 0 {
		return "", nil, ErrNoSecret
	}
	if accountID <= 0 || strings.TrimSpace(fubAccountID) == "" {
		return "", nil, fmt.Errorf("issue session: account identity is required")
	}
	if ttl <= 0 {
		return "", nil, fmt.Errorf("issue session: ttl must be positive, got %s", ttl)
	}

	now := c.now()
	claims := Claims{
		AccountID:    accountID,
		FUBAccountID: fubAccountID,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(c.secret)
	if err != nil {
		return "", nil, fmt.Errorf("sign session: %w", err)
	}

	return signed, sessionFromClaims(&claims), nil
}

// Validate checks the signature, algorithm and expiry of token.
func (c *Codec) Validate(token string) (*Session, error) {
	if len(c.secret) == 0 {
		return nil, ErrNoSecret
	}
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, ErrInvalidToken
	}

	claims := &Claims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(*jwt.Token) (interface{}, error) {
		return c.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(c.now),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrExpiredToken
		}
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if !parsed.Valid {
		return nil, ErrInvalidToken
	}
	if claims.AccountID <= 0 || strings.TrimSpace(claims.FUBAccountID) == "" {
		return nil, fmt.Errorf("%w: missing account claims", ErrInvalidToken)
	}

	return sessionFromClaims(claims), nil
}

// ShouldRefresh reports whether less than RefreshThreshold remains on s.
func (c *Codec) ShouldRefresh(s *Session) bool {
	if s == nil {
		return false
	}
	return s.ExpiresAt.Sub(c.now()) < RefreshThreshold
}

func sessionFromClaims(claims *Claims) *Session {
	s := &Session{
		AccountID:    claims.AccountID,
		FUBAccountID: claims.FUBAccountID,
	}
	if claims.IssuedAt != nil {
		s.IssuedAt = claims.IssuedAt.Time
	}
	if claims.ExpiresAt != nil {
		s.ExpiresAt = claims.ExpiresAt.Time
	}
	return s
}
