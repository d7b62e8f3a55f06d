package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

const ruleColumns = `id, user_id, name, enabled, scope, scope_campaign_ids,
	scope_keyword_ids, conditions, action_type, action_value, frequency_days,
	last_run, created_at, updated_at`

func scanRule(row interface{ Scan(...interface{}) error }) (*Rule, error) {
	r := &Rule{}
	var scopeCampaigns, scopeKeywords, conditions json.RawMessage
	err := row.Scan(
		&r.ID, &r.UserID, &r.Name, &r.Enabled, &r.Scope, &scopeCampaigns,
		&scopeKeywords, &conditions, &r.ActionType, &r.ActionValue, &r.FrequencyDays,
		&r.LastRun, &r.CreatedAt, &r.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan rule: %w", err)
	}
	// Malformed JSON in a stored rule makes that rule unusable but must
	// not break listing; the engine skips rules it cannot interpret.
	_ = json.Unmarshal(scopeCampaigns, &r.ScopeCampaignIDs)
	_ = json.Unmarshal(scopeKeywords, &r.ScopeKeywordIDs)
	_ = json.Unmarshal(conditions, &r.Conditions)
	return r, nil
}

// GetRule fetches one rule by id.
func (s *Store) GetRule(ctx context.Context, id string) (*Rule, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+ruleColumns+` FROM ads_rules WHERE id = $1`, id)
	return scanRule(row)
}

// ListEnabledRules returns all enabled rules for a user, oldest first so
// earlier rules act before later ones within a cycle.
func (s *Store) ListEnabledRules(ctx context.Context, userID string) ([]Rule, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+ruleColumns+` FROM ads_rules
		 WHERE user_id = $1 AND enabled = true ORDER BY created_at`, userID)
	if err != nil {
		return nil, fmt.Errorf("list enabled rules: %w", err)
	}
	defer rows.Close()

	var out []Rule
	for rows.Next() {
		r, err := scanRule(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *r)
	}
	return out, rows.Err()
}

// ListRules returns all rules for a user regardless of enabled state.
func (s *Store) ListRules(ctx context.Context, userID string) ([]Rule, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+ruleColumns+` FROM ads_rules WHERE user_id = $1 ORDER BY created_at`, userID)
	if err != nil {
		return nil, fmt.Errorf("list rules: %w", err)
	}
	defer rows.Close()

	var out []Rule
	for rows.Next() {
		r, err := scanRule(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *r)
	}
	return out, rows.Err()
}

// CreateRule inserts a new rule. The store assigns the id.
func (s *Store) CreateRule(ctx context.Context, r *Rule) error {
	if r.ID == "" {
		r.ID = uuid.New().String()
	}
	scopeCampaigns, _ := json.Marshal(emptySlice(r.ScopeCampaignIDs))
	scopeKeywords, _ := json.Marshal(emptySlice(r.ScopeKeywordIDs))
	conditions, err := json.Marshal(r.Conditions)
	if err != nil {
		return fmt.Errorf("marshal rule conditions: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO ads_rules
			(id, user_id, name, enabled, scope, scope_campaign_ids,
			 scope_keyword_ids, conditions, action_type, action_value,
			 frequency_days, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,NOW(),NOW())
	`, r.ID, r.UserID, r.Name, r.Enabled, r.Scope, scopeCampaigns,
		scopeKeywords, conditions, r.ActionType, r.ActionValue, r.FrequencyDays)
	if err != nil {
		return fmt.Errorf("create rule: %w", err)
	}
	return nil
}

// TouchRuleLastRun advances last_run to the given time. Called after
// every evaluation, including ones that produced zero actions, so the
// cooldown gate works off evaluation time rather than action time.
func (s *Store) TouchRuleLastRun(ctx context.Context, id string, at time.Time) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE ads_rules SET last_run = $1, updated_at = NOW() WHERE id = $2`, at, id)
	if err != nil {
		return fmt.Errorf("touch rule last_run: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func emptySlice(ids []int64) []int64 {
	if ids == nil {
		return []int64{}
	}
	return ids
}
