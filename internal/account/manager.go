package account

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

var (
	ErrInvalidAccountID = errors.New("crm account id is required")
	ErrIncompleteTokens = errors.New("access and refresh tokens must be replaced together")
	ErrInvalidStatus    = errors.New("invalid subscription status")
)

// Directory is the application-facing view of the account store. It
// validates input, stamps times and logs state changes.
type Directory struct {
	store Store
	now   func() time.Time
}

func NewDirectory(store Store) *Directory {
	return &Directory{
		store: store,
		now:   func() time.Time { return time.Now().UTC() },
	}
}

// Upsert returns the account for fubAccountID, creating it in the trialing
// state on first sight and touching updated_at otherwise.
func (d *Directory) Upsert(ctx context.Context, fubAccountID string) (*Account, error) {
	fubAccountID = strings.TrimSpace(fubAccountID)
	if fubAccountID == "" {
		return nil, ErrInvalidAccountID
	}

	account, err := d.store.Upsert(ctx, fubAccountID, d.now())
	if err != nil {
		return nil, fmt.Errorf("upsert account: %w", err)
	}
	if account == nil || account.ID == 0 {
		return nil, fmt.Errorf("upsert account: store returned no row for %q", fubAccountID)
	}

	log.Debug().Int64("account_id", account.ID).Str("fub_account_id", fubAccountID).Msg("account upserted")
	return account, nil
}

func (d *Directory) Get(ctx context.Context, id int64) (*Account, error) {
	account, err := d.store.Get(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get account: %w", err)
	}
	return account, nil
}

func (d *Directory) GetByFUBAccountID(ctx context.Context, fubAccountID string) (*Account, error) {
	account, err := d.store.GetByFUBAccountID(ctx, strings.TrimSpace(fubAccountID))
	if err != nil {
		return nil, fmt.Errorf("get account by crm id: %w", err)
	}
	return account, nil
}

func (d *Directory) GetByStripeCustomerID(ctx context.Context, customerID string) (*Account, error) {
	account, err := d.store.GetByStripeCustomerID(ctx, strings.TrimSpace(customerID))
	if err != nil {
		return nil, fmt.Errorf("get account by stripe customer: %w", err)
	}
	return account, nil
}

func (d *Directory) List(ctx context.Context) ([]*Account, error) {
	accounts, err := d.store.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("list accounts: %w", err)
	}
	return accounts, nil
}

// UpdateTokens replaces the CRM OAuth pair. Both halves are required.
func (d *Directory) UpdateTokens(ctx context.Context, id int64, accessToken, refreshToken string) error {
	accessToken = strings.TrimSpace(accessToken)
	refreshToken = strings.TrimSpace(refreshToken)
	if accessToken == "" || refreshToken == "" {
		return ErrIncompleteTokens
	}

	if err := d.store.UpdateTokens(ctx, id, accessToken, refreshToken, d.now()); err != nil {
		return fmt.Errorf("update tokens: %w", err)
	}

	log.Info().Int64("account_id", id).Msg("crm tokens updated")
	return nil
}

func (d *Directory) UpdateSubscription(ctx context.Context, id int64, status SubscriptionStatus) error {
	if !status.Valid() {
		return fmt.Errorf("%w: %q", ErrInvalidStatus, status)
	}

	if err := d.store.UpdateSubscription(ctx, id, status, d.now()); err != nil {
		return fmt.Errorf("update subscription: %w", err)
	}

	log.Info().Int64("account_id", id).Str("status", string(status)).Msg("subscription updated")
	return nil
}

// LinkStripeCustomer records the billing customer and its subscription state
// in one write.
func (d *Directory) LinkStripeCustomer(ctx context.Context, id int64, customerID string, status SubscriptionStatus) error {
	customerID = strings.TrimSpace(customerID)
	if customerID == "" {
		return errors.New("link stripe customer: customer id is required")
	}
	if !status.Valid() {
		return fmt.Errorf("%w: %q", ErrInvalidStatus, status)
	}

	if err := d.store.LinkStripeCustomer(ctx, id, customerID, status, d.now()); err != nil {
		return fmt.Errorf("link stripe customer: %w", err)
	}

	log.Info().Int64("account_id", id).Str("status", string(status)).Msg("stripe customer linked")
	return nil
}

// SaveConversation stores one question and its answer for a lead.
func (d *Directory) SaveConversation(ctx context.Context, accountID int64, personID, question, answer string) error {
	now := d.now()
	messages := []ChatMessage{
		{
			ID:        uuid.NewString(),
			AccountID: accountID,
			PersonID:  personID,
			Role:      RoleUser,
			Content:   question,
			CreatedAt: now,
		},
		{
			ID:        uuid.NewString(),
			AccountID: accountID,
			PersonID:  personID,
			Role:      RoleAssistant,
			Content:   answer,
			CreatedAt: now.Add(time.Microsecond),
		},
	}

	if err := d.store.AppendChatMessages(ctx, messages...); err != nil {
		return fmt.Errorf("save conversation: %w", err)
	}
	return nil
}

func (d *Directory) Conversation(ctx context.Context, accountID int64, personID string) ([]ChatMessage, error) {
	messages, err := d.store.ChatMessages(ctx, accountID, personID)
	if err != nil {
		return nil, fmt.Errorf("load conversation: %w", err)
	}
	return messages, nil
}

func (d *Directory) Close() error {
	return d.store.Close()
}
