package account

import "time"

type SubscriptionStatus string

const (
	StatusTrialing   SubscriptionStatus = "trialing"
	StatusActive     SubscriptionStatus = "active"
	StatusPastDue    SubscriptionStatus = "past_due"
	StatusCancelled  SubscriptionStatus = "cancelled"
	StatusIncomplete SubscriptionStatus = "incomplete"
	StatusUnpaid     SubscriptionStatus = "unpaid"
)

func (s SubscriptionStatus) Valid() bool {
	switch s {
	case StatusTrialing, StatusActive, StatusPastDue, StatusCancelled, StatusIncomplete, StatusUnpaid:
		return true
	default:
		return false
	}
}

// Account is one CRM tenant. FUBAccountID is unique and never changes once
// the row exists.
type Account struct {
	ID                 int64              `json:"id"`
	FUBAccountID       string             `json:"fub_account_id"`
	SubscriptionStatus SubscriptionStatus `json:"subscription_status"`
	AccessToken        string             `json:"-"`
	RefreshToken       string             `json:"-"`
	StripeCustomerID   string             `json:"stripe_customer_id,omitempty"`
	CreatedAt          time.Time          `json:"created_at"`
	UpdatedAt          time.Time          `json:"updated_at"`
}

// HasCRMCredentials reports whether the OAuth handshake has completed.
func (a *Account) HasCRMCredentials() bool {
	return a != nil && a.AccessToken != "" && a.RefreshToken != ""
}

func (a *Account) IsSubscribed() bool {
	return a != nil && a.SubscriptionStatus == StatusActive
}

type MessageRole string

const (
	RoleUser      MessageRole = "user"
	RoleAssistant MessageRole = "assistant"
)

// ChatMessage is one persisted turn of an advice conversation about a lead.
type ChatMessage struct {
	ID        string
	AccountID int64
	PersonID  string
	Role      MessageRole
	Content   string
	CreatedAt time.Time
}
