package account

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore keeps accounts in Postgres. The schema comes from the
// embedded migrations; run Migrate before first use.
type PostgresStore struct {
	pool *pgxpool.Pool
}

func NewPostgresStore(ctx context.Context, databaseURL string) (*PostgresStore, error) {
	poolCfg, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse pg config: %w", err)
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("create pg pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping pg: %w", err)
	}

	return &PostgresStore{pool: pool}, nil
}

func pgTimeDest(t *time.Time) any {
	return t
}

func (s *PostgresStore) Upsert(ctx context.Context, fubAccountID string, now time.Time) (*Account, error) {
	row := s.pool.QueryRow(ctx, `
		INSERT INTO accounts (fub_account_id, subscription_status, created_at, updated_at)
		VALUES ($1, $2, $3, $3)
		ON CONFLICT (fub_account_id) DO UPDATE SET updated_at = EXCLUDED.updated_at
		RETURNING `+accountColumns,
		fubAccountID, string(StatusTrialing), now.UTC(),
	)

	a, err := scanAccount(row, pgTimeDest)
	if err != nil {
		return nil, fmt.Errorf("upsert account: %w", err)
	}
	return a, nil
}

func (s *PostgresStore) Get(ctx context.Context, id int64) (*Account, error) {
	return s.scanOne(ctx, `SELECT `+accountColumns+` FROM accounts WHERE id = $1`, id)
}

func (s *PostgresStore) GetByFUBAccountID(ctx context.Context, fubAccountID string) (*Account, error) {
	return s.scanOne(ctx, `SELECT `+accountColumns+` FROM accounts WHERE fub_account_id = $1`, fubAccountID)
}

func (s *PostgresStore) GetByStripeCustomerID(ctx context.Context, customerID string) (*Account, error) {
	return s.scanOne(ctx, `SELECT `+accountColumns+` FROM accounts WHERE stripe_customer_id = $1`, customerID)
}

func (s *PostgresStore) scanOne(ctx context.Context, query string, arg any) (*Account, error) {
	a, err := scanAccount(s.pool.QueryRow(ctx, query, arg), pgTimeDest)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get account: %w", err)
	}
	return a, nil
}

func (s *PostgresStore) List(ctx context.Context) ([]*Account, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+accountColumns+` FROM accounts ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("list accounts: %w", err)
	}
	defer rows.Close()

	var accounts []*Account
	for rows.Next() {
		a, err := scanAccount(rows, pgTimeDest)
		if err != nil {
			return nil, fmt.Errorf("list accounts: %w", err)
		}
		accounts = append(accounts, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list accounts: %w", err)
	}
	return accounts, nil
}

func (s *PostgresStore) UpdateTokens(ctx context.Context, id int64, accessToken, refreshToken string, now time.Time) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE accounts SET access_token = $2, refresh_token = $3, updated_at = $4
		WHERE id = $1`,
		id, accessToken, refreshToken, now.UTC())
	if err != nil {
		return fmt.Errorf("update tokens: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) UpdateSubscription(ctx context.Context, id int64, status SubscriptionStatus, now time.Time) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE accounts SET subscription_status = $2, updated_at = $3
		WHERE id = $1`,
		id, string(status), now.UTC())
	if err != nil {
		return fmt.Errorf("update subscription: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) LinkStripeCustomer(ctx context.Context, id int64, customerID string, status SubscriptionStatus, now time.Time) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE accounts SET stripe_customer_id = $2, subscription_status = $3, updated_at = $4
		WHERE id = $1`,
		id, customerID, string(status), now.UTC())
	if err != nil {
		return fmt.Errorf("link stripe customer: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) AppendChatMessages(ctx context.Context, messages ...ChatMessage) error {
	if len(messages) == 0 {
		return nil
	}

	batch := &pgx.Batch{}
	for _, m := range messages {
		batch.Queue(`
			INSERT INTO chat_messages (id, account_id, person_id, role, content, created_at)
			VALUES ($1, $2, $3, $4, $5, $6)`,
			m.ID, m.AccountID, m.PersonID, string(m.Role), m.Content, m.CreatedAt.UTC())
	}

	if err := s.pool.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("append chat messages: %w", err)
	}
	return nil
}

func (s *PostgresStore) ChatMessages(ctx context.Context, accountID int64, personID string) ([]ChatMessage, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id::text, account_id, person_id, role, content, created_at
		FROM chat_messages
		WHERE account_id = $1 AND person_id = $2
		ORDER BY created_at, id`, accountID, personID)
	if err != nil {
		return nil, fmt.Errorf("chat messages: %w", err)
	}
	defer rows.Close()

	var out []ChatMessage
	for rows.Next() {
		var m ChatMessage
		var role string
		if err := rows.Scan(&m.ID, &m.AccountID, &m.PersonID, &role, &m.Content, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("chat messages: %w", err)
		}
		m.Role = MessageRole(role)
		out = append(out, m)
	}
	return out, rows.Err()
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}
