// Package rules evaluates user-defined optimization rules against stored
// keyword metrics and executes the resulting bid and state changes on
// the remote platform.
package rules

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"time"

	"github.com/ignite/ads-optimizer/internal/amzads"
	"github.com/ignite/ads-optimizer/internal/config"
	"github.com/ignite/ads-optimizer/internal/pkg/logger"
	"github.com/ignite/ads-optimizer/internal/store"
)

// Action is one proposed remote mutation produced by rule evaluation,
// carrying everything the executor and the audit log need.
type Action struct {
	Rule    *store.Rule
	Keyword *store.Keyword

	Type     store.RuleActionType
	OldBid   float64
	NewBid   float64
	OldState string
	NewState string

	// MetricsSnapshot is the keyword's metrics at evaluation time,
	// recorded before the action lands.
	MetricsSnapshot json.RawMessage
}

// RuleConfigError marks a rule whose settings cannot be interpreted.
// The rule is skipped and logged; other rules proceed.
type RuleConfigError struct {
	RuleID string
	Reason string
}

func (e *RuleConfigError) Error() string {
	return fmt.Sprintf("rule %s misconfigured: %s", e.RuleID, e.Reason)
}

// EngineStore is the slice of the persistence layer the evaluation
// engine consumes.
type EngineStore interface {
	ListEnabledRules(ctx context.Context, userID string) ([]store.Rule, error)
	ListKeywords(ctx context.Context, accountID string) ([]store.Keyword, error)
	TouchRuleLastRun(ctx context.Context, ruleID string, at time.Time) error
}

// Engine evaluates rules for one account at a time.
type Engine struct {
	store EngineStore
	cfg   config.RulesConfig
	now   func() time.Time
}

func NewEngine(st EngineStore, cfg config.RulesConfig) *Engine {
	return &Engine{store: st, cfg: cfg, now: time.Now}
}

// EvaluateAccount loads the account's enabled rules and keywords and
// returns every proposed action across all rules. A misconfigured rule
// is logged and skipped; a rule inside its cooldown is skipped without
// touching its last-run timestamp. Every rule that actually evaluates
// gets its last-run updated, matches or not, so it stays quiet until
// its cooldown elapses again.
func (e *Engine) EvaluateAccount(ctx context.Context, account *store.Account) ([]Action, error) {
	rules, err := e.store.ListEnabledRules(ctx, account.UserID)
	if err != nil {
		return nil, fmt.Errorf("loading rules: %w", err)
	}
	if len(rules) == 0 {
		return nil, nil
	}
	keywords, err := e.store.ListKeywords(ctx, account.ID)
	if err != nil {
		return nil, fmt.Errorf("loading keywords: %w", err)
	}

	now := e.now().UTC()
	var actions []Action
	for i := range rules {
		rule := &rules[i]
		if !cooldownElapsed(rule, now) {
			logger.Debug("rule inside cooldown, skipping", "rule", rule.ID)
			continue
		}

		ruleActions, err := e.Evaluate(rule, keywords)
		if err != nil {
			logger.Warn("skipping misconfigured rule", "rule", rule.ID, "error", err)
			continue
		}
		actions = append(actions, ruleActions...)

		if err := e.store.TouchRuleLastRun(ctx, rule.ID, now); err != nil {
			logger.Error("updating rule last run", "rule", rule.ID, "error", err)
		}
	}
	return actions, nil
}

// Evaluate applies one rule to the candidate keywords and returns the
// proposed actions. Cooldown is the caller's concern; this is the pure
// scope-filter, condition-match, action-compute step.
func (e *Engine) Evaluate(rule *store.Rule, keywords []store.Keyword) ([]Action, error) {
	if err := validateRule(rule); err != nil {
		return nil, err
	}

	var actions []Action
	for i := range keywords {
		kw := &keywords[i]
		if !inScope(rule, kw) {
			continue
		}
		matched, err := matchesAll(rule.Conditions, kw.Metrics)
		if err != nil {
			return nil, err
		}
		if !matched {
			continue
		}

		action, err := e.buildAction(rule, kw)
		if err != nil {
			return nil, err
		}
		if action != nil {
			actions = append(actions, *action)
		}
	}
	return actions, nil
}

func (e *Engine) buildAction(rule *store.Rule, kw *store.Keyword) (*Action, error) {
	snapshot, err := json.Marshal(kw.Metrics)
	if err != nil {
		return nil, fmt.Errorf("encoding metrics snapshot: %w", err)
	}
	action := Action{
		Rule:            rule,
		Keyword:         kw,
		Type:            rule.ActionType,
		MetricsSnapshot: snapshot,
	}

	switch rule.ActionType {
	case store.ActionIncreaseBid, store.ActionDecreaseBid:
		pct := rule.ActionValue
		if rule.ActionType == store.ActionDecreaseBid {
			pct = -pct
		}
		newBid := clampBid(kw.Bid*(1+pct/100), e.cfg.MinBid, e.cfg.MaxBid)
		if newBid == kw.Bid {
			return nil, nil
		}
		action.OldBid = kw.Bid
		action.NewBid = newBid
	case store.ActionPause:
		if kw.State == string(amzads.StatePaused) {
			return nil, nil
		}
		action.OldState = kw.State
		action.NewState = string(amzads.StatePaused)
	default:
		return nil, &RuleConfigError{RuleID: rule.ID, Reason: fmt.Sprintf("unknown action type %q", rule.ActionType)}
	}
	return &action, nil
}

// clampBid bounds a bid to the configured range and rounds it to cents.
func clampBid(bid, min, max float64) float64 {
	if bid < min {
		bid = min
	}
	if max > 0 && bid > max {
		bid = max
	}
	return math.Round(bid*100) / 100
}

func cooldownElapsed(rule *store.Rule, now time.Time) bool {
	if rule.LastRun == nil {
		return true
	}
	days := rule.FrequencyDays
	if days <= 0 {
		days = 1
	}
	return now.Sub(*rule.LastRun) >= time.Duration(days)*24*time.Hour
}

func inScope(rule *store.Rule, kw *store.Keyword) bool {
	switch rule.Scope {
	case store.ScopeCampaigns:
		return containsID(rule.ScopeCampaignIDs, kw.CampaignProviderID)
	case store.ScopeKeywords:
		return containsID(rule.ScopeKeywordIDs, kw.ProviderID)
	default:
		return true
	}
}

func containsID(ids []int64, id int64) bool {
	for _, v := range ids {
		if v == id {
			return true
		}
	}
	return false
}

// matchesAll evaluates every condition against the metrics block; all
// must hold.
func matchesAll(conditions []store.Condition, m store.Metrics) (bool, error) {
	for _, c := range conditions {
		value, err := metricValue(c.Metric, m)
		if err != nil {
			return false, err
		}
		ok, err := compare(value, c.Comparator, c.Threshold)
		if err != nil {
			return false, err
		}
		if !ok {
			return false, nil
		}
	}
	return true, nil
}

func metricValue(name string, m store.Metrics) (float64, error) {
	switch name {
	case "spend":
		return m.Spend, nil
	case "impressions":
		return float64(m.Impressions), nil
	case "clicks":
		return float64(m.Clicks), nil
	case "orders":
		return float64(m.Orders), nil
	case "sales":
		return m.Sales, nil
	case "acos":
		// Spend with zero sales is the worst possible ACOS, not a good
		// one. The stored ratio is 0 there (undefined denominator), so
		// comparisons use +Inf instead to keep "acos > x" rules firing
		// on keywords that burn budget without converting.
		if m.Sales == 0 && m.Spend > 0 {
			return math.Inf(1), nil
		}
		return m.ACOS, nil
	case "ctr":
		return m.CTR, nil
	case "cpc":
		return m.CPC, nil
	default:
		return 0, fmt.Errorf("unknown metric %q", name)
	}
}

func compare(value float64, comparator string, threshold float64) (bool, error) {
	switch comparator {
	case ">":
		return value > threshold, nil
	case "<":
		return value < threshold, nil
	case ">=":
		return value >= threshold, nil
	case "<=":
		return value <= threshold, nil
	case "==", "=":
		return value == threshold, nil
	default:
		return false, fmt.Errorf("unknown comparator %q", comparator)
	}
}

func validateRule(rule *store.Rule) error {
	if len(rule.Conditions) == 0 {
		return &RuleConfigError{RuleID: rule.ID, Reason: "no conditions"}
	}
	for _, c := range rule.Conditions {
		if _, err := metricValue(c.Metric, store.Metrics{}); err != nil {
			return &RuleConfigError{RuleID: rule.ID, Reason: err.Error()}
		}
		if _, err := compare(0, c.Comparator, 0); err != nil {
			return &RuleConfigError{RuleID: rule.ID, Reason: err.Error()}
		}
	}
	switch rule.ActionType {
	case store.ActionIncreaseBid, store.ActionDecreaseBid:
		if rule.ActionValue <= 0 {
			return &RuleConfigError{RuleID: rule.ID, Reason: "bid adjustment percentage must be positive"}
		}
	case store.ActionPause:
	default:
		return &RuleConfigError{RuleID: rule.ID, Reason: fmt.Sprintf("unknown action type %q", rule.ActionType)}
	}
	return nil
}
