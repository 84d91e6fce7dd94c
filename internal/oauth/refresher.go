package oauth

import (
	"context"
	"fmt"
	"time"

	"github.com/rogeecn/fub-assistant/internal/account"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/singleflight"
)

const defaultRefreshTimeout = 15 * time.Second

type tokenRefresher interface {
	Refresh(ctx context.Context, refreshToken string) (*Token, error)
}

type tokenStore interface {
	UpdateTokens(ctx context.Context, id int64, accessToken, refreshToken string) error
}

// Refresher collapses concurrent refreshes of the same refresh token into
// one upstream call. Every caller waiting on that call gets the same pair.
type Refresher struct {
	client  tokenRefresher
	group   singleflight.Group
	timeout time.Duration
}

func NewRefresher(client tokenRefresher) *Refresher {
	return &Refresher{
		client:  client,
		timeout: defaultRefreshTimeout,
	}
}

// Refresh returns a new pair for refreshToken. The upstream call is not tied
// to ctx, so one caller giving up does not fail the others sharing it.
func (r *Refresher) Refresh(ctx context.Context, refreshToken string) (*Token, error) {
	ch := r.group.DoChan(refreshToken, func() (interface{}, error) {
		callCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.timeout)
		defer cancel()
		return r.client.Refresh(callCtx, refreshToken)
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			log.Warn().Err(res.Err).Bool("shared", res.Shared).Msg("oauth refresher: refresh failed")
			return nil, res.Err
		}
		log.Debug().Bool("shared", res.Shared).Msg("oauth refresher: token refreshed")
		return res.Val.(*Token), nil
	case <-ctx.Done():
		return nil, fmt.Errorf("%w: %v", ErrRefreshFailed, ctx.Err())
	}
}

// RefreshAccount refreshes acct's pair and stores the result.
func (r *Refresher) RefreshAccount(ctx context.Context, store tokenStore, acct *account.Account) (*Token, error) {
	if !acct.HasCRMCredentials() {
		return nil, fmt.Errorf("%w: account has no crm credentials", ErrRefreshFailed)
	}

	token, err := r.Refresh(ctx, acct.RefreshToken)
	if err != nil {
		return nil, err
	}

	if err := store.UpdateTokens(ctx, acct.ID, token.AccessToken, token.RefreshToken); err != nil {
		return nil, fmt.Errorf("store refreshed tokens: %w", err)
	}

	log.Info().Int64("account_id", acct.ID).Msg("oauth refresher: account tokens refreshed")
	return token, nil
}
