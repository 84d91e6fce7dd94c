package account

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

var ErrNotFound = errors.New("account not found")

// Store is the relational backing of the Directory. Upsert must rely on a
// uniqueness constraint on fub_account_id so concurrent callers never create
// two rows for one CRM account.
type Store interface {
	Upsert(ctx context.Context, fubAccountID string, now time.Time) (*Account, error)
	Get(ctx context.Context, id int64) (*Account, error)
	GetByFUBAccountID(ctx context.Context, fubAccountID string) (*Account, error)
	GetByStripeCustomerID(ctx context.Context, customerID string) (*Account, error)
	List(ctx context.Context) ([]*Account, error)
	UpdateTokens(ctx context.Context, id int64, accessToken, refreshToken string, now time.Time) error
	UpdateSubscription(ctx context.Context, id int64, status SubscriptionStatus, now time.Time) error
	LinkStripeCustomer(ctx context.Context, id int64, customerID string, status SubscriptionStatus, now time.Time) error
	AppendChatMessages(ctx context.Context, messages ...ChatMessage) error
	ChatMessages(ctx context.Context, accountID int64, personID string) ([]ChatMessage, error)
	Close() error
}

// Open picks a Store implementation from the database URL scheme:
// postgres:// and postgresql:// use pgx, sqlite:// and file: use SQLite.
func Open(ctx context.Context, databaseURL string) (Store, error) {
	databaseURL = strings.TrimSpace(databaseURL)

	switch {
	case strings.HasPrefix(databaseURL, "postgres://"), strings.HasPrefix(databaseURL, "postgresql://"):
		return NewPostgresStore(ctx, databaseURL)
	case strings.HasPrefix(databaseURL, "sqlite://"):
		return OpenSQLite(ctx, strings.TrimPrefix(databaseURL, "sqlite://"))
	case strings.HasPrefix(databaseURL, "file:"):
		return OpenSQLite(ctx, databaseURL)
	case databaseURL == "":
		return nil, errors.New("open account store: database url is empty")
	default:
		return nil, fmt.Errorf("open account store: unsupported database url scheme in %q", redactURL(databaseURL))
	}
}

const accountColumns = `id, fub_account_id, subscription_status,
	COALESCE(access_token, ''), COALESCE(refresh_token, ''), COALESCE(stripe_customer_id, ''),
	created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

// scanAccount reads accountColumns. timeDest adapts the timestamp columns to
// what the driver returns.
func scanAccount(row rowScanner, timeDest func(*time.Time) any) (*Account, error) {
	var a Account
	var status string
	if err := row.Scan(
		&a.ID,
		&a.FUBAccountID,
		&status,
		&a.AccessToken,
		&a.RefreshToken,
		&a.StripeCustomerID,
		timeDest(&a.CreatedAt),
		timeDest(&a.UpdatedAt),
	); err != nil {
		return nil, err
	}
	a.SubscriptionStatus = SubscriptionStatus(status)
	return &a, nil
}

func redactURL(raw string) string {
	if i := strings.Index(raw, "@"); i >= 0 {
		if j := strings.Index(raw, "://"); j >= 0 && j < i {
			return raw[:j+3] + "***" + raw[i:]
		}
	}
	return raw
}
