package account

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"
)

func newTestDirectory(t *testing.T) (*Directory, *SQLiteStore) {
	t.Helper()

	store, err := OpenSQLite(context.Background(), filepath.Join(t.TempDir(), "accounts.db"))
	if err != nil {
		t.Fatalf("OpenSQLite() error = %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })

	return NewDirectory(store), store
}

func TestDirectoryLifecycle(t *testing.T) {
	ctx := context.Background()
	dir, _ := newTestDirectory(t)

	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	dir.now = func() time.Time { return now }

	created, err := dir.Upsert(ctx, " 42 ")
	if err != nil {
		t.Fatalf("Upsert() error = %v", err)
	}
	if created.ID == 0 {
		t.Fatal("ID = 0, want store-assigned id")
	}
	if created.FUBAccountID != "42" {
		t.Fatalf("FUBAccountID = %q, want %q", created.FUBAccountID, "42")
	}
	if created.SubscriptionStatus != StatusTrialing {
		t.Fatalf("SubscriptionStatus = %q, want trialing", created.SubscriptionStatus)
	}
	if created.HasCRMCredentials() {
		t.Fatal("new account should not have crm credentials")
	}
	if !created.CreatedAt.Equal(now) {
		t.Fatalf("CreatedAt = %s, want %s", created.CreatedAt, now)
	}

	now = now.Add(time.Hour)
	again, err := dir.Upsert(ctx, "42")
	if err != nil {
		t.Fatalf("second Upsert() error = %v", err)
	}
	if again.ID != created.ID {
		t.Fatalf("second Upsert() ID = %d, want %d", again.ID, created.ID)
	}
	if !again.UpdatedAt.Equal(now) {
		t.Fatalf("UpdatedAt = %s, want touched to %s", again.UpdatedAt, now)
	}
	if !again.CreatedAt.Equal(created.CreatedAt) {
		t.Fatalf("CreatedAt changed: %s -> %s", created.CreatedAt, again.CreatedAt)
	}

	if err := dir.UpdateTokens(ctx, created.ID, "access-token", "refresh-token"); err != nil {
		t.Fatalf("UpdateTokens() error = %v", err)
	}
	tokenUpdated, err := dir.Get(ctx, created.ID)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if tokenUpdated.AccessToken != "access-token" || tokenUpdated.RefreshToken != "refresh-token" {
		t.Fatalf("tokens = %q/%q", tokenUpdated.AccessToken, tokenUpdated.RefreshToken)
	}
	if !tokenUpdated.HasCRMCredentials() {
		t.Fatal("HasCRMCredentials() = false after UpdateTokens")
	}

	if err := dir.LinkStripeCustomer(ctx, created.ID, "cus_123", StatusActive); err != nil {
		t.Fatalf("LinkStripeCustomer() error = %v", err)
	}
	byCustomer, err := dir.GetByStripeCustomerID(ctx, "cus_123")
	if err != nil {
		t.Fatalf("GetByStripeCustomerID() error = %v", err)
	}
	if byCustomer.ID != created.ID || !byCustomer.IsSubscribed() {
		t.Fatalf("account by customer = %+v", byCustomer)
	}

	if err := dir.UpdateSubscription(ctx, created.ID, StatusPastDue); err != nil {
		t.Fatalf("UpdateSubscription() error = %v", err)
	}
	byFUB, err := dir.GetByFUBAccountID(ctx, "42")
	if err != nil {
		t.Fatalf("GetByFUBAccountID() error = %v", err)
	}
	if byFUB.SubscriptionStatus != StatusPastDue {
		t.Fatalf("SubscriptionStatus = %q, want past_due", byFUB.SubscriptionStatus)
	}

	accounts, err := dir.List(ctx)
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(accounts) != 1 {
		t.Fatalf("len(List()) = %d, want 1", len(accounts))
	}
}

func TestDirectoryValidation(t *testing.T) {
	ctx := context.Background()
	dir, _ := newTestDirectory(t)

	if _, err := dir.Upsert(ctx, "   "); !errors.Is(err, ErrInvalidAccountID) {
		t.Fatalf("Upsert(blank) error = %v, want ErrInvalidAccountID", err)
	}

	acct, err := dir.Upsert(ctx, "42")
	if err != nil {
		t.Fatalf("Upsert() error = %v", err)
	}

	if err := dir.UpdateTokens(ctx, acct.ID, "access-only", ""); !errors.Is(err, ErrIncompleteTokens) {
		t.Fatalf("UpdateTokens(half pair) error = %v, want ErrIncompleteTokens", err)
	}
	if err := dir.UpdateSubscription(ctx, acct.ID, "gold"); !errors.Is(err, ErrInvalidStatus) {
		t.Fatalf("UpdateSubscription(gold) error = %v, want ErrInvalidStatus", err)
	}
	if err := dir.LinkStripeCustomer(ctx, acct.ID, "", StatusActive); err == nil {
		t.Fatal("LinkStripeCustomer(empty) error = nil")
	}
}

func TestDirectoryNotFound(t *testing.T) {
	ctx := context.Background()
	dir, _ := newTestDirectory(t)

	if _, err := dir.Get(ctx, 999); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Get() error = %v, want ErrNotFound", err)
	}
	if _, err := dir.GetByFUBAccountID(ctx, "nope"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("GetByFUBAccountID() error = %v, want ErrNotFound", err)
	}
	if _, err := dir.GetByStripeCustomerID(ctx, "cus_missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("GetByStripeCustomerID() error = %v, want ErrNotFound", err)
	}
	if err := dir.UpdateTokens(ctx, 999, "a", "r"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("UpdateTokens() error = %v, want ErrNotFound", err)
	}
	if err := dir.UpdateSubscription(ctx, 999, StatusActive); !errors.Is(err, ErrNotFound) {
		t.Fatalf("UpdateSubscription() error = %v, want ErrNotFound", err)
	}
}

func TestDirectorySaveConversation(t *testing.T) {
	ctx := context.Background()
	dir, _ := newTestDirectory(t)

	acct, err := dir.Upsert(ctx, "42")
	if err != nil {
		t.Fatalf("Upsert() error = %v", err)
	}

	if err := dir.SaveConversation(ctx, acct.ID, "p-1", "How do I follow up?", "• Call today"); err != nil {
		t.Fatalf("SaveConversation() error = %v", err)
	}

	messages, err := dir.Conversation(ctx, acct.ID, "p-1")
	if err != nil {
		t.Fatalf("Conversation() error = %v", err)
	}
	if len(messages) != 2 {
		t.Fatalf("len(messages) = %d, want 2", len(messages))
	}
	if messages[0].Role != RoleUser || messages[0].Content != "How do I follow up?" {
		t.Fatalf("messages[0] = %+v", messages[0])
	}
	if messages[1].Role != RoleAssistant || messages[1].Content != "• Call today" {
		t.Fatalf("messages[1] = %+v", messages[1])
	}
	if messages[0].ID == messages[1].ID {
		t.Fatal("message ids should be unique")
	}

	other, err := dir.Conversation(ctx, acct.ID, "p-2")
	if err != nil {
		t.Fatalf("Conversation(p-2) error = %v", err)
	}
	if len(other) != 0 {
		t.Fatalf("len(other) = %d, want 0", len(other))
	}
}
