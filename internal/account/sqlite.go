package account

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS accounts (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	fub_account_id TEXT NOT NULL UNIQUE,
	subscription_status TEXT NOT NULL DEFAULT 'trialing',
	access_token TEXT,
	refresh_token TEXT,
	stripe_customer_id TEXT UNIQUE,
	created_at TEXT NOT NULL,
	updated_at TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS chat_messages (
	id TEXT PRIMARY KEY,
	account_id INTEGER NOT NULL REFERENCES accounts(id),
	person_id TEXT NOT NULL,
	role TEXT NOT NULL,
	content TEXT NOT NULL,
	created_at TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS chat_messages_account_created_idx ON chat_messages (account_id, created_at);
`

// SQLiteStore keeps accounts in an embedded SQLite database. Timestamps are
// stored as fixed-width RFC 3339 UTC text.
type SQLiteStore struct {
	db *sql.DB
}

// OpenSQLite opens (creating if needed) the database at path and applies the
// schema.
func OpenSQLite(ctx context.Context, path string) (*SQLiteStore, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, errors.New("open sqlite: path is empty")
	}

	if path != ":memory:" && !strings.HasPrefix(path, "file:") {
		if dir := filepath.Dir(path); dir != "" && dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, fmt.Errorf("open sqlite: ensure data dir: %w", err)
			}
		}
	}

	db, err := sql.Open("sqlite", sqliteDSN(path))
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)

	if _, err := db.ExecContext(ctx, sqliteSchema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("open sqlite: create schema: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

func sqliteDSN(path string) string {
	sep := "?"
	if strings.Contains(path, "?") {
		sep = "&"
	}
	return path + sep + "_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)"
}

func (s *SQLiteStore) Upsert(ctx context.Context, fubAccountID string, now time.Time) (*Account, error) {
	ts := formatSQLiteTime(now)
	row := s.db.QueryRowContext(ctx, `
		INSERT INTO accounts (fub_account_id, subscription_status, created_at, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (fub_account_id) DO UPDATE SET updated_at = excluded.updated_at
		RETURNING `+accountColumns,
		fubAccountID, string(StatusTrialing), ts, ts,
	)

	a, err := scanAccount(row, sqliteTimeDest)
	if err != nil {
		return nil, fmt.Errorf("sqlite upsert account: %w", err)
	}
	return a, nil
}

func (s *SQLiteStore) Get(ctx context.Context, id int64) (*Account, error) {
	return s.getOne(ctx, `SELECT `+accountColumns+` FROM accounts WHERE id = ?`, id)
}

func (s *SQLiteStore) GetByFUBAccountID(ctx context.Context, fubAccountID string) (*Account, error) {
	return s.getOne(ctx, `SELECT `+accountColumns+` FROM accounts WHERE fub_account_id = ?`, fubAccountID)
}

func (s *SQLiteStore) GetByStripeCustomerID(ctx context.Context, customerID string) (*Account, error) {
	return s.getOne(ctx, `SELECT `+accountColumns+` FROM accounts WHERE stripe_customer_id = ?`, customerID)
}

func (s *SQLiteStore) getOne(ctx context.Context, query string, arg any) (*Account, error) {
	a, err := scanAccount(s.db.QueryRowContext(ctx, query, arg), sqliteTimeDest)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("sqlite get account: %w", err)
	}
	return a, nil
}

func (s *SQLiteStore) List(ctx context.Context) ([]*Account, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+accountColumns+` FROM accounts ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("sqlite list accounts: %w", err)
	}
	defer rows.Close()

	var accounts []*Account
	for rows.Next() {
		a, err := scanAccount(rows, sqliteTimeDest)
		if err != nil {
			return nil, fmt.Errorf("sqlite list accounts: %w", err)
		}
		accounts = append(accounts, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite list accounts: %w", err)
	}
	return accounts, nil
}

func (s *SQLiteStore) UpdateTokens(ctx context.Context, id int64, accessToken, refreshToken string, now time.Time) error {
	return s.exec(ctx, "update tokens",
		`UPDATE accounts SET access_token = ?, refresh_token = ?, updated_at = ? WHERE id = ?`,
		accessToken, refreshToken, formatSQLiteTime(now), id)
}

func (s *SQLiteStore) UpdateSubscription(ctx context.Context, id int64, status SubscriptionStatus, now time.Time) error {
	return s.exec(ctx, "update subscription",
		`UPDATE accounts SET subscription_status = ?, updated_at = ? WHERE id = ?`,
		string(status), formatSQLiteTime(now), id)
}

func (s *SQLiteStore) LinkStripeCustomer(ctx context.Context, id int64, customerID string, status SubscriptionStatus, now time.Time) error {
	return s.exec(ctx, "link stripe customer",
		`UPDATE accounts SET stripe_customer_id = ?, subscription_status = ?, updated_at = ? WHERE id = ?`,
		customerID, string(status), formatSQLiteTime(now), id)
}

func (s *SQLiteStore) exec(ctx context.Context, op, query string, args ...any) error {
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("sqlite %s: %w", op, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("sqlite %s: %w", op, err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *SQLiteStore) AppendChatMessages(ctx context.Context, messages ...ChatMessage) error {
	if len(messages) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("sqlite append chat messages: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	for _, m := range messages {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO chat_messages (id, account_id, person_id, role, content, created_at) VALUES (?, ?, ?, ?, ?, ?)`,
			m.ID, m.AccountID, m.PersonID, string(m.Role), m.Content, formatSQLiteTime(m.CreatedAt),
		); err != nil {
			return fmt.Errorf("sqlite append chat messages: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("sqlite append chat messages: %w", err)
	}
	return nil
}

// ChatMessages returns the stored conversation for one lead, oldest first.
func (s *SQLiteStore) ChatMessages(ctx context.Context, accountID int64, personID string) ([]ChatMessage, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, account_id, person_id, role, content, created_at
		FROM chat_messages
		WHERE account_id = ? AND person_id = ?
		ORDER BY created_at, rowid`, accountID, personID)
	if err != nil {
		return nil, fmt.Errorf("sqlite chat messages: %w", err)
	}
	defer rows.Close()

	var out []ChatMessage
	for rows.Next() {
		var m ChatMessage
		var role string
		if err := rows.Scan(&m.ID, &m.AccountID, &m.PersonID, &role, &m.Content, sqliteTimeDest(&m.CreatedAt)); err != nil {
			return nil, fmt.Errorf("sqlite chat messages: %w", err)
		}
		m.Role = MessageRole(role)
		out = append(out, m)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// sqliteTimeLayout is fixed width so text ordering matches time ordering.
const sqliteTimeLayout = "2006-01-02T15:04:05.000000000Z07:00"

func formatSQLiteTime(t time.Time) string {
	return t.UTC().Format(sqliteTimeLayout)
}

type sqliteTime struct {
	t *time.Time
}

func sqliteTimeDest(t *time.Time) any {
	return sqliteTime{t: t}
}

func (s sqliteTime) Scan(v any) error {
	switch x := v.(type) {
	case nil:
		*s.t = time.Time{}
	case time.Time:
		*s.t = x.UTC()
	case string:
		return s.parse(x)
	case []byte:
		return s.parse(string(x))
	default:
		return fmt.Errorf("unsupported time value %T", v)
	}
	return nil
}

func (s sqliteTime) parse(v string) error {
	parsed, err := time.Parse(time.RFC3339Nano, v)
	if err != nil {
		return fmt.Errorf("parse time %q: %w", v, err)
	}
	*s.t = parsed.UTC()
	return nil
}
