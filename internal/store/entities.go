package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
)

// UpsertCampaign writes a campaign keyed by (account_id, provider_id).
// On conflict the existing row is updated in place and its internal id is
// preserved; c.ID is set to the row's id either way.
func (s *Store) UpsertCampaign(ctx context.Context, c *Campaign) error {
	touchSyncedAt(&c.SyncedAt)
	candidate := c.ID
	if candidate == "" {
		candidate = uuid.New().String()
	}
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO ads_campaigns
			(id, account_id, provider_id, name, state, daily_budget,
			 spend, impressions, clicks, orders, sales, acos, ctr, cpc,
			 raw, synced_at, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,NOW(),NOW())
		ON CONFLICT (account_id, provider_id) DO UPDATE SET
			name = EXCLUDED.name,
			state = EXCLUDED.state,
			daily_budget = EXCLUDED.daily_budget,
			spend = EXCLUDED.spend,
			impressions = EXCLUDED.impressions,
			clicks = EXCLUDED.clicks,
			orders = EXCLUDED.orders,
			sales = EXCLUDED.sales,
			acos = EXCLUDED.acos,
			ctr = EXCLUDED.ctr,
			cpc = EXCLUDED.cpc,
			raw = EXCLUDED.raw,
			synced_at = EXCLUDED.synced_at,
			updated_at = NOW()
		RETURNING id
	`, candidate, c.AccountID, c.ProviderID, c.Name, c.State, c.DailyBudget,
		c.Metrics.Spend, c.Metrics.Impressions, c.Metrics.Clicks, c.Metrics.Orders,
		c.Metrics.Sales, c.Metrics.ACOS, c.Metrics.CTR, c.Metrics.CPC,
		nullRaw(c.Raw), c.SyncedAt).Scan(&c.ID)
	if err != nil {
		return fmt.Errorf("upsert campaign %d: %w", c.ProviderID, err)
	}
	return nil
}

// ListCampaigns returns all campaigns for an account, keyed lookups done
// by the caller.
func (s *Store) ListCampaigns(ctx context.Context, accountID string) ([]Campaign, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, account_id, provider_id, name, state, daily_budget,
		       spend, impressions, clicks, orders, sales, acos, ctr, cpc,
		       synced_at, created_at, updated_at
		FROM ads_campaigns WHERE account_id = $1 ORDER BY provider_id
	`, accountID)
	if err != nil {
		return nil, fmt.Errorf("list campaigns: %w", err)
	}
	defer rows.Close()

	var out []Campaign
	for rows.Next() {
		var c Campaign
		if err := rows.Scan(
			&c.ID, &c.AccountID, &c.ProviderID, &c.Name, &c.State, &c.DailyBudget,
			&c.Metrics.Spend, &c.Metrics.Impressions, &c.Metrics.Clicks, &c.Metrics.Orders,
			&c.Metrics.Sales, &c.Metrics.ACOS, &c.Metrics.CTR, &c.Metrics.CPC,
			&c.SyncedAt, &c.CreatedAt, &c.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan campaign: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// UpsertAdGroup writes an ad group keyed by (account_id, provider_id).
func (s *Store) UpsertAdGroup(ctx context.Context, g *AdGroup) error {
	touchSyncedAt(&g.SyncedAt)
	candidate := g.ID
	if candidate == "" {
		candidate = uuid.New().String()
	}
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO ads_ad_groups
			(id, account_id, campaign_id, provider_id, name, state, default_bid,
			 spend, impressions, clicks, orders, sales, acos, ctr, cpc,
			 synced_at, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,NOW(),NOW())
		ON CONFLICT (account_id, provider_id) DO UPDATE SET
			campaign_id = EXCLUDED.campaign_id,
			name = EXCLUDED.name,
			state = EXCLUDED.state,
			default_bid = EXCLUDED.default_bid,
			spend = EXCLUDED.spend,
			impressions = EXCLUDED.impressions,
			clicks = EXCLUDED.clicks,
			orders = EXCLUDED.orders,
			sales = EXCLUDED.sales,
			acos = EXCLUDED.acos,
			ctr = EXCLUDED.ctr,
			cpc = EXCLUDED.cpc,
			synced_at = EXCLUDED.synced_at,
			updated_at = NOW()
		RETURNING id
	`, candidate, g.AccountID, g.CampaignID, g.ProviderID, g.Name, g.State, g.DefaultBid,
		g.Metrics.Spend, g.Metrics.Impressions, g.Metrics.Clicks, g.Metrics.Orders,
		g.Metrics.Sales, g.Metrics.ACOS, g.Metrics.CTR, g.Metrics.CPC,
		g.SyncedAt).Scan(&g.ID)
	if err != nil {
		return fmt.Errorf("upsert ad group %d: %w", g.ProviderID, err)
	}
	return nil
}

// ListAdGroups returns all ad groups for an account.
func (s *Store) ListAdGroups(ctx context.Context, accountID string) ([]AdGroup, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, account_id, campaign_id, provider_id, name, state, default_bid,
		       spend, impressions, clicks, orders, sales, acos, ctr, cpc,
		       synced_at, created_at, updated_at
		FROM ads_ad_groups WHERE account_id = $1 ORDER BY provider_id
	`, accountID)
	if err != nil {
		return nil, fmt.Errorf("list ad groups: %w", err)
	}
	defer rows.Close()

	var out []AdGroup
	for rows.Next() {
		var g AdGroup
		if err := rows.Scan(
			&g.ID, &g.AccountID, &g.CampaignID, &g.ProviderID, &g.Name, &g.State, &g.DefaultBid,
			&g.Metrics.Spend, &g.Metrics.Impressions, &g.Metrics.Clicks, &g.Metrics.Orders,
			&g.Metrics.Sales, &g.Metrics.ACOS, &g.Metrics.CTR, &g.Metrics.CPC,
			&g.SyncedAt, &g.CreatedAt, &g.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan ad group: %w", err)
		}
		out = append(out, g)
	}
	return out, rows.Err()
}

// UpsertKeyword writes a keyword keyed by (account_id, provider_id). If
// the insert trips a foreign-key violation against a just-created ad
// group row — a race between structural and metric writes — it retries
// once with the ad-group reference omitted rather than failing the batch.
func (s *Store) UpsertKeyword(ctx context.Context, k *Keyword) error {
	touchSyncedAt(&k.SyncedAt)
	err := s.upsertKeyword(ctx, k, sqlNullString(k.AdGroupID))
	if err != nil && isForeignKeyViolation(err) && k.AdGroupID != "" {
		err = s.upsertKeyword(ctx, k, sql.NullString{})
	}
	if err != nil {
		return fmt.Errorf("upsert keyword %d: %w", k.ProviderID, err)
	}
	return nil
}

func (s *Store) upsertKeyword(ctx context.Context, k *Keyword, adGroupID sql.NullString) error {
	candidate := k.ID
	if candidate == "" {
		candidate = uuid.New().String()
	}
	return s.db.QueryRowContext(ctx, `
		INSERT INTO ads_keywords
			(id, account_id, campaign_id, ad_group_id, provider_id, text, match_type, state, bid,
			 spend, impressions, clicks, orders, sales, acos, ctr, cpc,
			 synced_at, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,NOW(),NOW())
		ON CONFLICT (account_id, provider_id) DO UPDATE SET
			campaign_id = EXCLUDED.campaign_id,
			ad_group_id = EXCLUDED.ad_group_id,
			text = EXCLUDED.text,
			match_type = EXCLUDED.match_type,
			state = EXCLUDED.state,
			bid = EXCLUDED.bid,
			spend = EXCLUDED.spend,
			impressions = EXCLUDED.impressions,
			clicks = EXCLUDED.clicks,
			orders = EXCLUDED.orders,
			sales = EXCLUDED.sales,
			acos = EXCLUDED.acos,
			ctr = EXCLUDED.ctr,
			cpc = EXCLUDED.cpc,
			synced_at = EXCLUDED.synced_at,
			updated_at = NOW()
		RETURNING id
	`, candidate, k.AccountID, k.CampaignID, adGroupID, k.ProviderID, k.Text, k.MatchType, k.State, k.Bid,
		k.Metrics.Spend, k.Metrics.Impressions, k.Metrics.Clicks, k.Metrics.Orders,
		k.Metrics.Sales, k.Metrics.ACOS, k.Metrics.CTR, k.Metrics.CPC,
		k.SyncedAt).Scan(&k.ID)
}

// ListKeywords returns all keywords for an account.
func (s *Store) ListKeywords(ctx context.Context, accountID string) ([]Keyword, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT k.id, k.account_id, k.campaign_id, COALESCE(k.ad_group_id::text, ''), k.provider_id,
		       COALESCE(c.provider_id, 0),
		       k.text, k.match_type, k.state, k.bid,
		       k.spend, k.impressions, k.clicks, k.orders, k.sales, k.acos, k.ctr, k.cpc,
		       k.synced_at, k.created_at, k.updated_at
		FROM ads_keywords k
		LEFT JOIN ads_campaigns c ON c.id = k.campaign_id
		WHERE k.account_id = $1 ORDER BY k.provider_id
	`, accountID)
	if err != nil {
		return nil, fmt.Errorf("list keywords: %w", err)
	}
	defer rows.Close()

	var out []Keyword
	for rows.Next() {
		var k Keyword
		if err := rows.Scan(
			&k.ID, &k.AccountID, &k.CampaignID, &k.AdGroupID, &k.ProviderID,
			&k.CampaignProviderID,
			&k.Text, &k.MatchType, &k.State, &k.Bid,
			&k.Metrics.Spend, &k.Metrics.Impressions, &k.Metrics.Clicks, &k.Metrics.Orders,
			&k.Metrics.Sales, &k.Metrics.ACOS, &k.Metrics.CTR, &k.Metrics.CPC,
			&k.SyncedAt, &k.CreatedAt, &k.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan keyword: %w", err)
		}
		out = append(out, k)
	}
	return out, rows.Err()
}

// UpdateKeywordBid persists a bid change produced by the action executor.
func (s *Store) UpdateKeywordBid(ctx context.Context, id string, bid float64) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE ads_keywords SET bid = $1, updated_at = NOW() WHERE id = $2`, bid, id)
	if err != nil {
		return fmt.Errorf("update keyword bid: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// UpdateKeywordState persists a state change (pause) produced by the
// action executor.
func (s *Store) UpdateKeywordState(ctx context.Context, id, state string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE ads_keywords SET state = $1, updated_at = NOW() WHERE id = $2`, state, id)
	if err != nil {
		return fmt.Errorf("update keyword state: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// entityTables maps the bulk-edit entity names to their tables and
// value columns.
var entityTables = map[string]struct{ table, valueColumn string }{
	"campaign": {"ads_campaigns", "daily_budget"},
	"ad_group": {"ads_ad_groups", "default_bid"},
	"keyword":  {"ads_keywords", "bid"},
}

// UpdateEntityValueByProvider persists a bulk-edit value change
// (keyword bid, ad-group default bid, campaign daily budget) addressed
// by provider id.
func (s *Store) UpdateEntityValueByProvider(ctx context.Context, entityType, accountID string, providerID int64, value float64) error {
	t, ok := entityTables[entityType]
	if !ok {
		return fmt.Errorf("unknown entity type %q", entityType)
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE `+t.table+` SET `+t.valueColumn+` = $1, updated_at = NOW()
		 WHERE account_id = $2 AND provider_id = $3`, value, accountID, providerID)
	if err != nil {
		return fmt.Errorf("update %s value: %w", entityType, err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// UpdateEntityStateByProvider persists a bulk-edit state change
// addressed by provider id.
func (s *Store) UpdateEntityStateByProvider(ctx context.Context, entityType, accountID string, providerID int64, state string) error {
	t, ok := entityTables[entityType]
	if !ok {
		return fmt.Errorf("unknown entity type %q", entityType)
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE `+t.table+` SET state = $1, updated_at = NOW()
		 WHERE account_id = $2 AND provider_id = $3`, state, accountID, providerID)
	if err != nil {
		return fmt.Errorf("update %s state: %w", entityType, err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// SaveSyncRun persists a per-cycle summary row.
func (s *Store) SaveSyncRun(ctx context.Context, r *SyncRun) error {
	if r.ID == "" {
		r.ID = uuid.New().String()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO ads_sync_runs
			(id, account_id, sync_window, campaigns, ad_groups, keywords,
			 campaign_rows, keyword_rows, used_aggregation, outcome, error,
			 started_at, finished_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)
	`, r.ID, r.AccountID, r.Window, r.Campaigns, r.AdGroups, r.Keywords,
		r.CampaignRows, r.KeywordRows, r.UsedAggregation, r.Outcome, r.Error,
		r.StartedAt, r.FinishedAt)
	if err != nil {
		return fmt.Errorf("save sync run: %w", err)
	}
	return nil
}

// ListSyncRuns returns the newest sync-run summaries for an account.
func (s *Store) ListSyncRuns(ctx context.Context, accountID string, limit int) ([]SyncRun, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, account_id, sync_window, campaigns, ad_groups, keywords,
		       campaign_rows, keyword_rows, used_aggregation, outcome, error,
		       started_at, finished_at
		FROM ads_sync_runs
		WHERE account_id = $1
		ORDER BY started_at DESC
		LIMIT $2
	`, accountID, limit)
	if err != nil {
		return nil, fmt.Errorf("list sync runs: %w", err)
	}
	defer rows.Close()

	var out []SyncRun
	for rows.Next() {
		var r SyncRun
		if err := rows.Scan(
			&r.ID, &r.AccountID, &r.Window, &r.Campaigns, &r.AdGroups, &r.Keywords,
			&r.CampaignRows, &r.KeywordRows, &r.UsedAggregation, &r.Outcome, &r.Error,
			&r.StartedAt, &r.FinishedAt,
		); err != nil {
			return nil, fmt.Errorf("scan sync run: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// isForeignKeyViolation reports whether err is a PostgreSQL foreign-key
// violation (class 23503).
func isForeignKeyViolation(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == "23503"
	}
	return false
}

func sqlNullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func nullRaw(b []byte) interface{} {
	if len(b) == 0 {
		return nil
	}
	return b
}

// touchSyncedAt fills a zero SyncedAt so rows written outside a sync
// cycle still carry a sensible timestamp.
func touchSyncedAt(t *time.Time) {
	if t.IsZero() {
		*t = time.Now().UTC()
	}
}
