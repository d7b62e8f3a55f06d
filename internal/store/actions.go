package store

import (
	"context"
	"fmt"

	"github.com/google/uuid"
)

// AppendActionLog writes one immutable audit row. There is deliberately
// no update or delete counterpart.
func (s *Store) AppendActionLog(ctx context.Context, e *ActionLogEntry) error {
	if e.ID == "" {
		e.ID = uuid.New().String()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO ads_action_log
			(id, rule_id, account_id, entity_type, entity_id, provider_id,
			 action_type, old_value, new_value, outcome, response_code,
			 metrics_snapshot, error, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,NOW())
	`, e.ID, sqlNullString(e.RuleID), e.AccountID, e.EntityType, sqlNullString(e.EntityID),
		e.ProviderID, e.ActionType, e.OldValue, e.NewValue, e.Outcome,
		e.ResponseCode, nullRaw(e.MetricsSnapshot), e.Error)
	if err != nil {
		return fmt.Errorf("append action log: %w", err)
	}
	return nil
}

// ListActionLog returns the newest audit rows for an account.
func (s *Store) ListActionLog(ctx context.Context, accountID string, limit int) ([]ActionLogEntry, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, COALESCE(rule_id::text,''), account_id, entity_type,
		       COALESCE(entity_id::text,''), provider_id, action_type,
		       old_value, new_value, outcome, response_code,
		       COALESCE(metrics_snapshot, 'null'), error, created_at
		FROM ads_action_log
		WHERE account_id = $1
		ORDER BY created_at DESC
		LIMIT $2
	`, accountID, limit)
	if err != nil {
		return nil, fmt.Errorf("list action log: %w", err)
	}
	defer rows.Close()

	var out []ActionLogEntry
	for rows.Next() {
		var e ActionLogEntry
		if err := rows.Scan(
			&e.ID, &e.RuleID, &e.AccountID, &e.EntityType,
			&e.EntityID, &e.ProviderID, &e.ActionType,
			&e.OldValue, &e.NewValue, &e.Outcome, &e.ResponseCode,
			&e.MetricsSnapshot, &e.Error, &e.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan action log entry: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}
