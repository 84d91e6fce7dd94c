// Package ratelimit implements a sliding-window request limiter over a
// shared counted-event store.
package ratelimit

import (
	"context"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
)

const unknownIP = "unknown"

// Store records admitted events per key and answers whether one more event
// fits in the trailing window ending at now. Implementations must run the
// purge, count and record steps atomically for a key.
type Store interface {
	Admit(ctx context.Context, key string, limit int, window time.Duration, now time.Time) (bool, error)
}

// Check is one scope to evaluate for a guarded operation.
type Check struct {
	Key    string
	Limit  int
	Window time.Duration
}

// Limiter admits or rejects requests. It never returns an error: when the
// store fails the request is admitted and the failure logged.
type Limiter struct {
	store Store
	now   func() time.Time
}

func New(store Store) *Limiter {
	return &Limiter{store: store, now: time.Now}
}

// Admit reports whether another request for key fits within limit per window.
// A non-positive limit or window disables the check.
func (l *Limiter) Admit(ctx context.Context, key string, limit int, window time.Duration) bool {
	if l == nil || l.store == nil || limit <= 0 || window <= 0 {
		return true
	}

	ok, err := l.store.Admit(ctx, key, limit, window, l.now())
	if err != nil {
		log.Error().Err(err).Str("key", key).Msg("rate limit store failed, admitting request")
		return true
	}
	if !ok {
		log.Debug().Str("key", key).Int("limit", limit).Dur("window", window).Msg("rate limit exceeded")
	}
	return ok
}

// AdmitAll evaluates checks in order and stops at the first denial, which it
// returns. Later scopes are not charged for a request an earlier scope denied.
func (l *Limiter) AdmitAll(ctx context.Context, checks ...Check) (Check, bool) {
	for _, c := range checks {
		if !l.Admit(ctx, c.Key, c.Limit, c.Window) {
			return c, false
		}
	}
	return Check{}, true
}

func AccountKey(accountID int64) string {
	return "account:" + strconv.FormatInt(accountID, 10)
}

// IPKey returns the per-address key. Requests without a known address share
// the "ip:unknown" bucket.
func IPKey(ip string) string {
	ip = strings.TrimSpace(ip)
	if ip == "" {
		ip = unknownIP
	}
	return "ip:" + ip
}
