package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/ignite/ads-optimizer/internal/pkg/httputil"
	"github.com/ignite/ads-optimizer/internal/pkg/logger"
	"github.com/ignite/ads-optimizer/internal/rules"
	"github.com/ignite/ads-optimizer/internal/store"
	syncengine "github.com/ignite/ads-optimizer/internal/sync"
)

// Handlers carries the collaborators the HTTP surface needs.
type Handlers struct {
	*HealthChecker
	store    *store.Store
	engine   *syncengine.Engine
	executor *rules.Executor
}

// NewHandlers creates the handler set.
func NewHandlers(st *store.Store, engine *syncengine.Engine, executor *rules.Executor, health *HealthChecker) *Handlers {
	return &Handlers{HealthChecker: health, store: st, engine: engine, executor: executor}
}

type accountView struct {
	ID               string     `json:"id"`
	UserID           string     `json:"user_id"`
	ProfileID        string     `json:"profile_id"`
	Region           string     `json:"region"`
	Status           string     `json:"status"`
	LastShortSyncAt  *time.Time `json:"last_short_sync_at"`
	LastMediumSyncAt *time.Time `json:"last_medium_sync_at"`
	LastLongSyncAt   *time.Time `json:"last_long_sync_at"`
	ShortWindowDays  int        `json:"short_window_days"`
	MediumWindowDays int        `json:"medium_window_days"`
	LongWindowDays   int        `json:"long_window_days"`
	CreatedAt        time.Time  `json:"created_at"`
}

func accountToView(a *store.Account) accountView {
	return accountView{
		ID:               a.ID,
		UserID:           a.UserID,
		ProfileID:        a.ProfileID,
		Region:           a.Region,
		Status:           string(a.Status),
		LastShortSyncAt:  a.LastShortSyncAt,
		LastMediumSyncAt: a.LastMediumSyncAt,
		LastLongSyncAt:   a.LastLongSyncAt,
		ShortWindowDays:  a.ShortWindowDays,
		MediumWindowDays: a.MediumWindowDays,
		LongWindowDays:   a.LongWindowDays,
		CreatedAt:        a.CreatedAt,
	}
}

// ListAccounts returns every linked account with its sync status.
//
//	GET /api/accounts
func (h *Handlers) ListAccounts(w http.ResponseWriter, r *http.Request) {
	accounts, err := h.store.ListAccounts(r.Context())
	if err != nil {
		httputil.InternalError(w, err)
		return
	}
	views := make([]accountView, 0, len(accounts))
	for i := range accounts {
		views = append(views, accountToView(&accounts[i]))
	}
	httputil.OK(w, map[string]any{"accounts": views})
}

// GetAccount returns one account.
//
//	GET /api/accounts/{accountID}
func (h *Handlers) GetAccount(w http.ResponseWriter, r *http.Request) {
	account, err := h.store.GetAccount(r.Context(), chi.URLParam(r, "accountID"))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			httputil.NotFound(w, "account not found")
			return
		}
		httputil.InternalError(w, err)
		return
	}
	httputil.OK(w, accountToView(account))
}

type linkAccountRequest struct {
	UserID       string     `json:"user_id"`
	ProfileID    string     `json:"profile_id"`
	Region       string     `json:"region"`
	AccessToken  string     `json:"access_token"`
	RefreshToken string     `json:"refresh_token"`
	ExpiresAt    *time.Time `json:"token_expires_at"`
}

// LinkAccount registers the credential record produced by the external
// OAuth linking flow.
//
//	POST /api/accounts
func (h *Handlers) LinkAccount(w http.ResponseWriter, r *http.Request) {
	var req linkAccountRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.BadRequest(w, "invalid request body")
		return
	}
	if req.UserID == "" || req.ProfileID == "" || req.RefreshToken == "" {
		httputil.BadRequest(w, "user_id, profile_id, and refresh_token are required")
		return
	}

	account := &store.Account{
		UserID:         req.UserID,
		ProfileID:      req.ProfileID,
		Region:         req.Region,
		AccessToken:    req.AccessToken,
		RefreshToken:   req.RefreshToken,
		TokenExpiresAt: req.ExpiresAt,
	}
	if err := h.store.CreateAccount(r.Context(), account); err != nil {
		httputil.InternalError(w, err)
		return
	}
	httputil.JSON(w, http.StatusCreated, accountToView(account))
}

// UnlinkAccount removes an account and everything under it. This is the
// only delete path in the system.
//
//	DELETE /api/accounts/{accountID}
func (h *Handlers) UnlinkAccount(w http.ResponseWriter, r *http.Request) {
	err := h.store.UnlinkAccount(r.Context(), chi.URLParam(r, "accountID"))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			httputil.NotFound(w, "account not found")
			return
		}
		httputil.InternalError(w, err)
		return
	}
	httputil.NoContent(w)
}

// TriggerSync starts a sync cycle for one account in the background.
// The account lock keeps a concurrent driver sweep from doubling up.
//
//	POST /api/accounts/{accountID}/sync
func (h *Handlers) TriggerSync(w http.ResponseWriter, r *http.Request) {
	account, err := h.store.GetAccount(r.Context(), chi.URLParam(r, "accountID"))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			httputil.NotFound(w, "account not found")
			return
		}
		httputil.InternalError(w, err)
		return
	}
	if account.Status == store.AccountReauthRequired {
		httputil.Conflict(w, "account requires re-authorization before syncing")
		return
	}

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Minute)
		defer cancel()
		if err := h.engine.SyncOne(ctx, account); err != nil {
			logger.Error("manual sync failed", "account", account.ID, "error", err)
		}
	}()
	httputil.Accepted(w, map[string]string{"status": "sync started", "account_id": account.ID})
}

type syncRunView struct {
	ID              string    `json:"id"`
	Window          string    `json:"window"`
	Campaigns       int       `json:"campaigns"`
	AdGroups        int       `json:"ad_groups"`
	Keywords        int       `json:"keywords"`
	CampaignRows    int       `json:"campaign_rows"`
	KeywordRows     int       `json:"keyword_rows"`
	UsedAggregation bool      `json:"used_aggregation"`
	Outcome         string    `json:"outcome"`
	Error           string    `json:"error,omitempty"`
	StartedAt       time.Time `json:"started_at"`
	FinishedAt      time.Time `json:"finished_at"`
}

// ListSyncRuns returns the newest sync-cycle summaries for an account.
//
//	GET /api/accounts/{accountID}/sync-runs?limit=50
func (h *Handlers) ListSyncRuns(w http.ResponseWriter, r *http.Request) {
	runs, err := h.store.ListSyncRuns(r.Context(), chi.URLParam(r, "accountID"), queryLimit(r))
	if err != nil {
		httputil.InternalError(w, err)
		return
	}
	views := make([]syncRunView, 0, len(runs))
	for _, run := range runs {
		views = append(views, syncRunView{
			ID:              run.ID,
			Window:          run.Window,
			Campaigns:       run.Campaigns,
			AdGroups:        run.AdGroups,
			Keywords:        run.Keywords,
			CampaignRows:    run.CampaignRows,
			KeywordRows:     run.KeywordRows,
			UsedAggregation: run.UsedAggregation,
			Outcome:         run.Outcome,
			Error:           run.Error,
			StartedAt:       run.StartedAt,
			FinishedAt:      run.FinishedAt,
		})
	}
	httputil.OK(w, map[string]any{"sync_runs": views})
}

type actionLogView struct {
	ID              string          `json:"id"`
	RuleID          string          `json:"rule_id,omitempty"`
	EntityType      string          `json:"entity_type"`
	ProviderID      int64           `json:"provider_id"`
	ActionType      string          `json:"action_type"`
	OldValue        float64         `json:"old_value"`
	NewValue        float64         `json:"new_value"`
	Outcome         string          `json:"outcome"`
	ResponseCode    string          `json:"response_code,omitempty"`
	MetricsSnapshot json.RawMessage `json:"metrics_snapshot,omitempty"`
	Error           string          `json:"error,omitempty"`
	CreatedAt       time.Time       `json:"created_at"`
}

// ListActionLog returns the newest audit rows for an account.
//
//	GET /api/accounts/{accountID}/actions?limit=100
func (h *Handlers) ListActionLog(w http.ResponseWriter, r *http.Request) {
	entries, err := h.store.ListActionLog(r.Context(), chi.URLParam(r, "accountID"), queryLimit(r))
	if err != nil {
		httputil.InternalError(w, err)
		return
	}
	views := make([]actionLogView, 0, len(entries))
	for _, e := range entries {
		views = append(views, actionLogView{
			ID:              e.ID,
			RuleID:          e.RuleID,
			EntityType:      e.EntityType,
			ProviderID:      e.ProviderID,
			ActionType:      e.ActionType,
			OldValue:        e.OldValue,
			NewValue:        e.NewValue,
			Outcome:         string(e.Outcome),
			ResponseCode:    e.ResponseCode,
			MetricsSnapshot: e.MetricsSnapshot,
			Error:           e.Error,
			CreatedAt:       e.CreatedAt,
		})
	}
	httputil.OK(w, map[string]any{"actions": views})
}

// ApplyBulk routes a dashboard-submitted bulk edit through the action
// executor: remote first, local mirror and audit rows after.
//
//	POST /api/accounts/{accountID}/bulk
func (h *Handlers) ApplyBulk(w http.ResponseWriter, r *http.Request) {
	account, err := h.store.GetAccount(r.Context(), chi.URLParam(r, "accountID"))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			httputil.NotFound(w, "account not found")
			return
		}
		httputil.InternalError(w, err)
		return
	}

	var change rules.BulkChange
	if err := json.NewDecoder(r.Body).Decode(&change); err != nil {
		httputil.BadRequest(w, "invalid request body")
		return
	}

	result, err := h.executor.ExecuteBulk(r.Context(), account, change)
	if err != nil {
		httputil.BadRequest(w, err.Error())
		return
	}
	httputil.OK(w, result)
}

type ruleView struct {
	ID               string            `json:"id"`
	UserID           string            `json:"user_id"`
	Name             string            `json:"name"`
	Enabled          bool              `json:"enabled"`
	Scope            string            `json:"scope"`
	ScopeCampaignIDs []int64           `json:"scope_campaign_ids"`
	ScopeKeywordIDs  []int64           `json:"scope_keyword_ids"`
	Conditions       []store.Condition `json:"conditions"`
	ActionType       string            `json:"action_type"`
	ActionValue      float64           `json:"action_value"`
	FrequencyDays    int               `json:"frequency_days"`
	LastRun          *time.Time        `json:"last_run"`
	CreatedAt        time.Time         `json:"created_at"`
}

func ruleToView(r *store.Rule) ruleView {
	return ruleView{
		ID:               r.ID,
		UserID:           r.UserID,
		Name:             r.Name,
		Enabled:          r.Enabled,
		Scope:            string(r.Scope),
		ScopeCampaignIDs: r.ScopeCampaignIDs,
		ScopeKeywordIDs:  r.ScopeKeywordIDs,
		Conditions:       r.Conditions,
		ActionType:       string(r.ActionType),
		ActionValue:      r.ActionValue,
		FrequencyDays:    r.FrequencyDays,
		LastRun:          r.LastRun,
		CreatedAt:        r.CreatedAt,
	}
}

// ListRules returns a user's rules.
//
//	GET /api/rules?user_id=...
func (h *Handlers) ListRules(w http.ResponseWriter, r *http.Request) {
	userID := r.URL.Query().Get("user_id")
	if userID == "" {
		httputil.BadRequest(w, "user_id is required")
		return
	}
	ruleRows, err := h.store.ListRules(r.Context(), userID)
	if err != nil {
		httputil.InternalError(w, err)
		return
	}
	views := make([]ruleView, 0, len(ruleRows))
	for i := range ruleRows {
		views = append(views, ruleToView(&ruleRows[i]))
	}
	httputil.OK(w, map[string]any{"rules": views})
}

// GetRule returns one rule.
//
//	GET /api/rules/{ruleID}
func (h *Handlers) GetRule(w http.ResponseWriter, r *http.Request) {
	rule, err := h.store.GetRule(r.Context(), chi.URLParam(r, "ruleID"))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			httputil.NotFound(w, "rule not found")
			return
		}
		httputil.InternalError(w, err)
		return
	}
	httputil.OK(w, ruleToView(rule))
}

type createRuleRequest struct {
	UserID           string            `json:"user_id"`
	Name             string            `json:"name"`
	Enabled          *bool             `json:"enabled"`
	Scope            string            `json:"scope"`
	ScopeCampaignIDs []int64           `json:"scope_campaign_ids"`
	ScopeKeywordIDs  []int64           `json:"scope_keyword_ids"`
	Conditions       []store.Condition `json:"conditions"`
	ActionType       string            `json:"action_type"`
	ActionValue      float64           `json:"action_value"`
	FrequencyDays    int               `json:"frequency_days"`
}

// CreateRule stores a new optimization rule.
//
//	POST /api/rules
func (h *Handlers) CreateRule(w http.ResponseWriter, r *http.Request) {
	var req createRuleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.BadRequest(w, "invalid request body")
		return
	}
	if req.UserID == "" || req.Name == "" {
		httputil.BadRequest(w, "user_id and name are required")
		return
	}

	enabled := true
	if req.Enabled != nil {
		enabled = *req.Enabled
	}
	scope := store.RuleScope(req.Scope)
	if scope == "" {
		scope = store.ScopeAll
	}
	rule := &store.Rule{
		UserID:           req.UserID,
		Name:             req.Name,
		Enabled:          enabled,
		Scope:            scope,
		ScopeCampaignIDs: req.ScopeCampaignIDs,
		ScopeKeywordIDs:  req.ScopeKeywordIDs,
		Conditions:       req.Conditions,
		ActionType:       store.RuleActionType(req.ActionType),
		ActionValue:      req.ActionValue,
		FrequencyDays:    req.FrequencyDays,
	}
	if err := h.store.CreateRule(r.Context(), rule); err != nil {
		httputil.InternalError(w, err)
		return
	}
	httputil.JSON(w, http.StatusCreated, ruleToView(rule))
}

func queryLimit(r *http.Request) int {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return 0
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0
	}
	return n
}
