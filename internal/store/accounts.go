package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
)

const accountColumns = `id, user_id, profile_id, region, access_token, refresh_token,
	token_expires_at, status, last_short_sync_at, last_medium_sync_at, last_long_sync_at,
	short_window_days, medium_window_days, long_window_days, created_at, updated_at`

func scanAccount(row interface{ Scan(...interface{}) error }) (*Account, error) {
	a := &Account{}
	err := row.Scan(
		&a.ID, &a.UserID, &a.ProfileID, &a.Region, &a.AccessToken, &a.RefreshToken,
		&a.TokenExpiresAt, &a.Status, &a.LastShortSyncAt, &a.LastMediumSyncAt, &a.LastLongSyncAt,
		&a.ShortWindowDays, &a.MediumWindowDays, &a.LongWindowDays, &a.CreatedAt, &a.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan account: %w", err)
	}
	return a, nil
}

// GetAccount fetches one account by internal id.
func (s *Store) GetAccount(ctx context.Context, id string) (*Account, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+accountColumns+` FROM ads_accounts WHERE id = $1`, id)
	return scanAccount(row)
}

// ListSyncableAccounts returns accounts eligible for the driver loop:
// everything not waiting on re-authorization, ordered stably so audit
// output reads the same across passes.
func (s *Store) ListSyncableAccounts(ctx context.Context) ([]Account, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+accountColumns+` FROM ads_accounts
		 WHERE status != $1 ORDER BY created_at`, AccountReauthRequired)
	if err != nil {
		return nil, fmt.Errorf("list accounts: %w", err)
	}
	defer rows.Close()

	var out []Account
	for rows.Next() {
		a, err := scanAccount(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *a)
	}
	return out, rows.Err()
}

// ListAccounts returns every linked account, reauth-pending ones
// included, for the dashboard surface.
func (s *Store) ListAccounts(ctx context.Context) ([]Account, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+accountColumns+` FROM ads_accounts ORDER BY created_at`)
	if err != nil {
		return nil, fmt.Errorf("list accounts: %w", err)
	}
	defer rows.Close()

	var out []Account
	for rows.Next() {
		a, err := scanAccount(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *a)
	}
	return out, rows.Err()
}

// CreateAccount inserts an account row produced by the external linking
// flow. The store assigns the internal id.
func (s *Store) CreateAccount(ctx context.Context, a *Account) error {
	if a.ID == "" {
		a.ID = uuid.New().String()
	}
	if a.Status == "" {
		a.Status = AccountConnected
	}
	if a.ShortWindowDays == 0 {
		a.ShortWindowDays = 1
	}
	if a.MediumWindowDays == 0 {
		a.MediumWindowDays = 7
	}
	if a.LongWindowDays == 0 {
		a.LongWindowDays = 30
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO ads_accounts
			(id, user_id, profile_id, region, access_token, refresh_token,
			 token_expires_at, status, short_window_days, medium_window_days, long_window_days,
			 created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,NOW(),NOW())
	`, a.ID, a.UserID, a.ProfileID, a.Region, a.AccessToken, a.RefreshToken,
		a.TokenExpiresAt, a.Status, a.ShortWindowDays, a.MediumWindowDays, a.LongWindowDays)
	if err != nil {
		return fmt.Errorf("create account: %w", err)
	}
	return nil
}

// UpdateAccountTokens persists a refreshed credential pair and marks the
// account active. The newest token is always written back before use so
// a stale-token retry storm cannot form.
func (s *Store) UpdateAccountTokens(ctx context.Context, id, accessToken, refreshToken string, expiresAt time.Time) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE ads_accounts
		SET access_token = $1, refresh_token = $2, token_expires_at = $3,
		    status = $4, updated_at = NOW()
		WHERE id = $5
	`, accessToken, refreshToken, expiresAt, AccountActive, id)
	if err != nil {
		return fmt.Errorf("update account tokens: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// SetAccountStatus updates the lifecycle status.
func (s *Store) SetAccountStatus(ctx context.Context, id string, status AccountStatus) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE ads_accounts SET status = $1, updated_at = NOW() WHERE id = $2
	`, status, id)
	if err != nil {
		return fmt.Errorf("set account status: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// MarkWindowSynced records completion of one rolling window.
func (s *Store) MarkWindowSynced(ctx context.Context, id, window string, at time.Time) error {
	var col string
	switch window {
	case "short":
		col = "last_short_sync_at"
	case "medium":
		col = "last_medium_sync_at"
	case "long":
		col = "last_long_sync_at"
	default:
		return fmt.Errorf("mark window synced: unknown window %q", window)
	}
	_, err := s.db.ExecContext(ctx,
		`UPDATE ads_accounts SET `+col+` = $1, updated_at = NOW() WHERE id = $2`, at, id)
	if err != nil {
		return fmt.Errorf("mark window synced: %w", err)
	}
	return nil
}

// UnlinkAccount removes an account and, via ON DELETE CASCADE, its
// structural rows. This is the one delete path in the system and is only
// reached from an explicit administrative action, never from sync.
func (s *Store) UnlinkAccount(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM ads_accounts WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("unlink account: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return ErrNotFound
	}
	return nil
}
