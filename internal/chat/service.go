package chat

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/rogeecn/fub-assistant/internal/account"
	"github.com/rogeecn/fub-assistant/internal/crm"
	"github.com/rogeecn/fub-assistant/pkg/types"
	"github.com/rs/zerolog/log"
)

const (
	leadUnavailable = "Unable to retrieve lead information at this time."
	emptyAnswer     = "I'm sorry, I couldn't generate a response."
)

const systemPrompt = `You are a helpful assistant for real estate professionals using Follow Up Boss CRM.

Guidelines:
- Provide concise, actionable advice about lead follow-up
- Focus on the specific lead's context and recent activities
- Suggest concrete next steps
- Keep responses to 3 bullet points maximum
- Be professional and sales-focused
- If you don't have enough information, ask clarifying questions`

var ErrInvalidRequest = errors.New("person id and question are required")

type LeadFetcher interface {
	GetLeadData(ctx context.Context, tokens crm.Tokens, personID string) (*crm.LeadData, crm.Tokens, error)
}

type Completer interface {
	Complete(ctx context.Context, messages []types.Message) (string, error)
}

// AccountStore persists refreshed CRM tokens and the conversation log.
type AccountStore interface {
	UpdateTokens(ctx context.Context, id int64, accessToken, refreshToken string) error
	SaveConversation(ctx context.Context, accountID int64, personID, question, answer string) error
}

type Service struct {
	leads    LeadFetcher
	llm      Completer
	accounts AccountStore
	cache    LeadCache
}

func NewService(leads LeadFetcher, llm Completer, accounts AccountStore, cache LeadCache) *Service {
	if cache == nil {
		cache = NewMemoryLeadCache()
	}
	return &Service{
		leads:    leads,
		llm:      llm,
		accounts: accounts,
		cache:    cache,
	}
}

// Advise answers question about personID for acct. Lead lookup problems
// degrade the context; only a failed completion is returned as an error.
func (s *Service) Advise(ctx context.Context, acct *account.Account, personID, question string) (string, error) {
	personID = strings.TrimSpace(personID)
	question = strings.TrimSpace(question)
	if acct == nil || personID == "" || question == "" {
		return "", ErrInvalidRequest
	}

	leadContext := s.leadContext(ctx, acct, personID)

	raw, err := s.llm.Complete(ctx, []types.Message{
		{Role: types.RoleSystem, Content: systemPrompt},
		{Role: types.RoleUser, Content: userPrompt(leadContext, question)},
	})
	if err != nil {
		return "", fmt.Errorf("advise: %w", err)
	}
	if strings.TrimSpace(raw) == "" {
		raw = emptyAnswer
	}
	answer := FormatResponse(raw)

	if err := s.accounts.SaveConversation(ctx, acct.ID, personID, question, answer); err != nil {
		log.Error().Err(err).Int64("account_id", acct.ID).Str("person_id", personID).Msg("chat: save conversation failed")
	}

	return answer, nil
}

func userPrompt(leadContext, question string) string {
	return "Lead Context: " + leadContext + "\n\nQuestion: " + question + "\n\nPlease provide specific follow-up advice for this lead."
}

func (s *Service) leadContext(ctx context.Context, acct *account.Account, personID string) string {
	summary, ok, err := s.cache.Get(ctx, acct.ID, personID)
	if err != nil {
		log.Warn().Err(err).Int64("account_id", acct.ID).Msg("chat: lead cache read failed")
	}
	if ok {
		log.Debug().Int64("account_id", acct.ID).Str("person_id", personID).Msg("chat: lead cache hit")
		return summary
	}

	if !acct.HasCRMCredentials() || s.leads == nil {
		log.Warn().Int64("account_id", acct.ID).Msg("chat: account has no crm credentials")
		return leadUnavailable
	}

	stored := crm.Tokens{Access: acct.AccessToken, Refresh: acct.RefreshToken}
	lead, tokens, err := s.leads.GetLeadData(ctx, stored, personID)
	s.persistTokens(ctx, acct, stored, tokens)
	if err != nil {
		log.Error().Err(err).Int64("account_id", acct.ID).Str("person_id", personID).Msg("chat: fetch lead data failed")
		return leadUnavailable
	}

	summary = LeadSummary(lead)
	if err := s.cache.Set(ctx, acct.ID, personID, summary); err != nil {
		log.Warn().Err(err).Int64("account_id", acct.ID).Msg("chat: lead cache write failed")
	}
	return summary
}

func (s *Service) persistTokens(ctx context.Context, acct *account.Account, stored, current crm.Tokens) {
	if current == stored || current.Access == "" || current.Refresh == "" {
		return
	}
	if err := s.accounts.UpdateTokens(ctx, acct.ID, current.Access, current.Refresh); err != nil {
		log.Error().Err(err).Int64("account_id", acct.ID).Msg("chat: persist refreshed crm tokens failed")
		return
	}
	acct.AccessToken = current.Access
	acct.RefreshToken = current.Refresh
}
