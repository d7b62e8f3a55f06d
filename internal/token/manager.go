// Package token maintains a valid bearer credential per advertising
// account: proactive refresh near expiry, reactive refresh when a
// downstream call comes back 401, and terminal reauth_required marking
// when the refresh grant itself is rejected.
package token

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/oauth2"

	"github.com/ignite/ads-optimizer/internal/config"
	"github.com/ignite/ads-optimizer/internal/pkg/logger"
	"github.com/ignite/ads-optimizer/internal/store"
)

// ErrReauthRequired means the account has no usable refresh token or the
// platform rejected the refresh grant. Terminal for the current cycle:
// the caller aborts processing the account and the dashboard prompts the
// user to re-link.
var ErrReauthRequired = errors.New("token: re-authorization required")

// refreshMargin is how close to expiry a token may get before we refresh
// proactively instead of risking a mid-sync 401.
const refreshMargin = 5 * time.Minute

// Store is the slice of the persistence layer the manager needs.
type Store interface {
	UpdateAccountTokens(ctx context.Context, id, accessToken, refreshToken string, expiresAt time.Time) error
	SetAccountStatus(ctx context.Context, id string, status store.AccountStatus) error
}

// Manager refreshes and persists account credentials.
type Manager struct {
	store Store
	conf  *oauth2.Config
	now   func() time.Time
}

// NewManager creates a token manager against the platform's token endpoint.
func NewManager(st Store, cfg config.AdsConfig) *Manager {
	return &Manager{
		store: st,
		conf: &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			Endpoint:     oauth2.Endpoint{TokenURL: cfg.TokenURL},
		},
		now: time.Now,
	}
}

// EnsureValidToken returns a bearer token for the account, refreshing
// first when the token is absent, its expiry is unknown, or expiry falls
// inside the safety margin. The account struct is updated in place so the
// caller keeps working with the fresh credential.
func (m *Manager) EnsureValidToken(ctx context.Context, account *store.Account) (string, error) {
	if account.AccessToken != "" && account.TokenExpiresAt != nil &&
		account.TokenExpiresAt.After(m.now().Add(refreshMargin)) {
		return account.AccessToken, nil
	}
	return m.Refresh(ctx, account)
}

// Refresh exchanges the refresh token for a new credential pair and
// persists it before returning. Also the reactive path: a caller that
// got a 401 downstream calls Refresh once and retries the failed call
// exactly once.
func (m *Manager) Refresh(ctx context.Context, account *store.Account) (string, error) {
	if account.RefreshToken == "" {
		return "", m.markReauthRequired(ctx, account, errors.New("no refresh token on record"))
	}

	src := m.conf.TokenSource(ctx, &oauth2.Token{RefreshToken: account.RefreshToken})
	tok, err := src.Token()
	if err != nil {
		if isGrantRejection(err) {
			return "", m.markReauthRequired(ctx, account, err)
		}
		// Transient endpoint failure (network, 5xx, 429): the credential
		// may still be fine, so the window comes due again next sweep.
		return "", fmt.Errorf("token endpoint unavailable: %w", err)
	}

	refreshToken := tok.RefreshToken
	if refreshToken == "" {
		// Platform did not rotate the refresh token; keep the old one.
		refreshToken = account.RefreshToken
	}

	if err := m.store.UpdateAccountTokens(ctx, account.ID, tok.AccessToken, refreshToken, tok.Expiry); err != nil {
		return "", fmt.Errorf("persisting refreshed tokens: %w", err)
	}

	account.AccessToken = tok.AccessToken
	account.RefreshToken = refreshToken
	expiry := tok.Expiry
	account.TokenExpiresAt = &expiry
	account.Status = store.AccountActive

	logger.Info("refreshed account token", "account", account.ID, "expires_at", expiry.Format(time.RFC3339))
	return tok.AccessToken, nil
}

// isGrantRejection reports whether the token endpoint definitively
// rejected the refresh grant (4xx), as opposed to failing transiently.
func isGrantRejection(err error) bool {
	var re *oauth2.RetrieveError
	if !errors.As(err, &re) {
		return false
	}
	if re.Response == nil {
		return false
	}
	return re.Response.StatusCode >= 400 && re.Response.StatusCode < 500
}

func (m *Manager) markReauthRequired(ctx context.Context, account *store.Account, cause error) error {
	logger.Warn("token refresh failed, marking account for re-authorization",
		"account", account.ID, "error", cause)
	account.Status = store.AccountReauthRequired
	if err := m.store.SetAccountStatus(ctx, account.ID, store.AccountReauthRequired); err != nil {
		logger.Error("failed to persist reauth_required status", "account", account.ID, "error", err)
	}
	return fmt.Errorf("%w: %v", ErrReauthRequired, cause)
}
