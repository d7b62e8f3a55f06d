package rules

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/ignite/ads-optimizer/internal/amzads"
	"github.com/ignite/ads-optimizer/internal/config"
	"github.com/ignite/ads-optimizer/internal/pkg/logger"
	"github.com/ignite/ads-optimizer/internal/store"
)

// updateBatchSize caps one remote mutation call; the platform rejects
// oversized batches.
const updateBatchSize = 100

const resultCodeSuccess = "SUCCESS"

// AdsUpdater is the mutation slice of the platform client.
type AdsUpdater interface {
	UpdateKeywords(ctx context.Context, auth amzads.Credentials, updates []amzads.KeywordUpdate) ([]amzads.UpdateResult, error)
	UpdateAdGroups(ctx context.Context, auth amzads.Credentials, updates []amzads.AdGroupUpdate) ([]amzads.UpdateResult, error)
	UpdateCampaigns(ctx context.Context, auth amzads.Credentials, updates []amzads.CampaignUpdate) ([]amzads.UpdateResult, error)
}

// TokenSource is the slice of the token manager the executor consumes.
type TokenSource interface {
	EnsureValidToken(ctx context.Context, account *store.Account) (string, error)
	Refresh(ctx context.Context, account *store.Account) (string, error)
}

// ExecutorStore persists the local mirror of applied changes and the
// audit trail.
type ExecutorStore interface {
	UpdateKeywordBid(ctx context.Context, id string, bid float64) error
	UpdateKeywordState(ctx context.Context, id, state string) error
	UpdateEntityValueByProvider(ctx context.Context, entityType, accountID string, providerID int64, value float64) error
	UpdateEntityStateByProvider(ctx context.Context, entityType, accountID string, providerID int64, state string) error
	AppendActionLog(ctx context.Context, e *store.ActionLogEntry) error
}

// Executor applies proposed actions to the remote platform in batches,
// mirrors successful changes into the store, and writes one audit row
// per attempted action regardless of outcome.
type Executor struct {
	store  ExecutorStore
	ads    AdsUpdater
	tokens TokenSource
	cfg    config.RulesConfig
}

func NewExecutor(st ExecutorStore, ads AdsUpdater, tokens TokenSource, cfg config.RulesConfig) *Executor {
	return &Executor{store: st, ads: ads, tokens: tokens, cfg: cfg}
}

// ExecuteActions applies rule-produced keyword actions. Failures are
// isolated per batch and per action; the returned count is how many
// actions landed successfully.
func (x *Executor) ExecuteActions(ctx context.Context, account *store.Account, actions []Action) (int, error) {
	if len(actions) == 0 {
		return 0, nil
	}
	accessToken, err := x.tokens.EnsureValidToken(ctx, account)
	if err != nil {
		return 0, err
	}
	creds := amzads.Credentials{
		AccessToken: accessToken,
		ProfileID:   account.ProfileID,
		Region:      account.Region,
	}

	applied := 0
	for start := 0; start < len(actions); start += updateBatchSize {
		end := start + updateBatchSize
		if end > len(actions) {
			end = len(actions)
		}
		applied += x.executeKeywordBatch(ctx, account, &creds, actions[start:end])
	}
	return applied, nil
}

func (x *Executor) executeKeywordBatch(ctx context.Context, account *store.Account, creds *amzads.Credentials, batch []Action) int {
	updates := make([]amzads.KeywordUpdate, 0, len(batch))
	for i := range batch {
		a := &batch[i]
		u := amzads.KeywordUpdate{KeywordID: a.Keyword.ProviderID}
		switch a.Type {
		case store.ActionIncreaseBid, store.ActionDecreaseBid:
			bid := a.NewBid
			u.Bid = &bid
		case store.ActionPause:
			state := amzads.StatePaused
			u.State = &state
		}
		updates = append(updates, u)
	}

	var results []amzads.UpdateResult
	err := x.callWithAuthRetry(ctx, account, creds, func(auth amzads.Credentials) error {
		var callErr error
		results, callErr = x.ads.UpdateKeywords(ctx, auth, updates)
		return callErr
	})
	if err != nil {
		// The whole batch never landed. Log each action as failed and
		// move on; one bad batch must not abort the cycle.
		logger.Error("keyword update batch failed", "account", account.ID,
			"actions", len(batch), "error", err)
		for i := range batch {
			x.logAction(ctx, account, &batch[i], store.OutcomeFailed, failureCode(err), err.Error())
		}
		return 0
	}

	resultByID := make(map[int64]amzads.UpdateResult, len(results))
	for _, r := range results {
		resultByID[r.ID()] = r
	}

	applied := 0
	for i := range batch {
		a := &batch[i]
		r, ok := resultByID[a.Keyword.ProviderID]
		if !ok {
			x.logAction(ctx, account, a, store.OutcomeFailed, "missing_result",
				"remote response carried no result for this keyword")
			continue
		}
		if r.Code != resultCodeSuccess {
			x.logAction(ctx, account, a, store.OutcomeFailed, r.Code, r.Description)
			continue
		}

		if err := x.persistAction(ctx, a); err != nil {
			logger.Error("mirroring applied action locally", "keyword", a.Keyword.ID, "error", err)
		}
		x.logAction(ctx, account, a, store.OutcomeSuccess, r.Code, "")
		applied++
	}
	return applied
}

func (x *Executor) persistAction(ctx context.Context, a *Action) error {
	switch a.Type {
	case store.ActionIncreaseBid, store.ActionDecreaseBid:
		return x.store.UpdateKeywordBid(ctx, a.Keyword.ID, a.NewBid)
	case store.ActionPause:
		return x.store.UpdateKeywordState(ctx, a.Keyword.ID, a.NewState)
	}
	return nil
}

func (x *Executor) logAction(ctx context.Context, account *store.Account, a *Action, outcome store.ActionOutcome, code, errMsg string) {
	entry := &store.ActionLogEntry{
		RuleID:          a.Rule.ID,
		AccountID:       account.ID,
		EntityType:      "keyword",
		EntityID:        a.Keyword.ID,
		ProviderID:      a.Keyword.ProviderID,
		ActionType:      string(a.Type),
		Outcome:         outcome,
		ResponseCode:    code,
		MetricsSnapshot: a.MetricsSnapshot,
		Error:           errMsg,
	}
	switch a.Type {
	case store.ActionIncreaseBid, store.ActionDecreaseBid:
		entry.OldValue = a.OldBid
		entry.NewValue = a.NewBid
	}
	if err := x.store.AppendActionLog(ctx, entry); err != nil {
		logger.Error("appending action log", "account", account.ID, "error", err)
	}
}

// BulkItem is one externally submitted change addressed by provider id.
type BulkItem struct {
	ProviderID int64   `json:"provider_id"`
	Value      float64 `json:"value,omitempty"`
	State      string  `json:"state,omitempty"`
}

// BulkChange is a dashboard-submitted batch edit: one change kind
// applied to a set of entities of one type.
type BulkChange struct {
	// EntityType is campaign, ad_group, or keyword.
	EntityType string     `json:"entity_type"`
	// ChangeType is value (bid or budget) or state.
	ChangeType string     `json:"change_type"`
	Items      []BulkItem `json:"items"`
}

// BulkResult summarizes one bulk execution.
type BulkResult struct {
	Applied int `json:"applied"`
	Failed  int `json:"failed"`
}

// ExecuteBulk applies a dashboard-submitted change set remotely and
// mirrors the applied values locally, with the same per-item audit
// logging as rule actions.
func (x *Executor) ExecuteBulk(ctx context.Context, account *store.Account, change BulkChange) (*BulkResult, error) {
	if err := validateBulk(change); err != nil {
		return nil, err
	}
	accessToken, err := x.tokens.EnsureValidToken(ctx, account)
	if err != nil {
		return nil, err
	}
	creds := amzads.Credentials{
		AccessToken: accessToken,
		ProfileID:   account.ProfileID,
		Region:      account.Region,
	}

	result := &BulkResult{}
	for start := 0; start < len(change.Items); start += updateBatchSize {
		end := start + updateBatchSize
		if end > len(change.Items) {
			end = len(change.Items)
		}
		x.executeBulkBatch(ctx, account, &creds, change, change.Items[start:end], result)
	}
	return result, nil
}

func (x *Executor) executeBulkBatch(ctx context.Context, account *store.Account, creds *amzads.Credentials, change BulkChange, items []BulkItem, result *BulkResult) {
	var results []amzads.UpdateResult
	err := x.callWithAuthRetry(ctx, account, creds, func(auth amzads.Credentials) error {
		var callErr error
		results, callErr = x.updateRemote(ctx, auth, change, items)
		return callErr
	})
	if err != nil {
		logger.Error("bulk update batch failed", "account", account.ID,
			"entity_type", change.EntityType, "items", len(items), "error", err)
		for _, item := range items {
			x.logBulkItem(ctx, account, change, item, store.OutcomeFailed, failureCode(err), err.Error())
			result.Failed++
		}
		return
	}

	resultByID := make(map[int64]amzads.UpdateResult, len(results))
	for _, r := range results {
		resultByID[r.ID()] = r
	}
	for _, item := range items {
		r, ok := resultByID[item.ProviderID]
		if !ok {
			x.logBulkItem(ctx, account, change, item, store.OutcomeFailed, "missing_result",
				"remote response carried no result for this entity")
			result.Failed++
			continue
		}
		if r.Code != resultCodeSuccess {
			x.logBulkItem(ctx, account, change, item, store.OutcomeFailed, r.Code, r.Description)
			result.Failed++
			continue
		}

		if err := x.persistBulkItem(ctx, account, change, item); err != nil && !errors.Is(err, store.ErrNotFound) {
			logger.Error("mirroring bulk change locally", "account", account.ID,
				"provider_id", strconv.FormatInt(item.ProviderID, 10), "error", err)
		}
		x.logBulkItem(ctx, account, change, item, store.OutcomeSuccess, r.Code, "")
		result.Applied++
	}
}

func (x *Executor) updateRemote(ctx context.Context, auth amzads.Credentials, change BulkChange, items []BulkItem) ([]amzads.UpdateResult, error) {
	switch change.EntityType {
	case "keyword":
		updates := make([]amzads.KeywordUpdate, 0, len(items))
		for _, item := range items {
			u := amzads.KeywordUpdate{KeywordID: item.ProviderID}
			if change.ChangeType == "state" {
				state := amzads.EntityState(item.State)
				u.State = &state
			} else {
				v := item.Value
				u.Bid = &v
			}
			updates = append(updates, u)
		}
		return x.ads.UpdateKeywords(ctx, auth, updates)
	case "ad_group":
		updates := make([]amzads.AdGroupUpdate, 0, len(items))
		for _, item := range items {
			u := amzads.AdGroupUpdate{AdGroupID: item.ProviderID}
			if change.ChangeType == "state" {
				state := amzads.EntityState(item.State)
				u.State = &state
			} else {
				v := item.Value
				u.DefaultBid = &v
			}
			updates = append(updates, u)
		}
		return x.ads.UpdateAdGroups(ctx, auth, updates)
	case "campaign":
		updates := make([]amzads.CampaignUpdate, 0, len(items))
		for _, item := range items {
			u := amzads.CampaignUpdate{CampaignID: item.ProviderID}
			if change.ChangeType == "state" {
				state := amzads.EntityState(item.State)
				u.State = &state
			} else {
				v := item.Value
				u.DailyBudget = &v
			}
			updates = append(updates, u)
		}
		return x.ads.UpdateCampaigns(ctx, auth, updates)
	}
	return nil, fmt.Errorf("unknown entity type %q", change.EntityType)
}

func (x *Executor) persistBulkItem(ctx context.Context, account *store.Account, change BulkChange, item BulkItem) error {
	if change.ChangeType == "state" {
		return x.store.UpdateEntityStateByProvider(ctx, change.EntityType, account.ID, item.ProviderID, item.State)
	}
	return x.store.UpdateEntityValueByProvider(ctx, change.EntityType, account.ID, item.ProviderID, item.Value)
}

func (x *Executor) logBulkItem(ctx context.Context, account *store.Account, change BulkChange, item BulkItem, outcome store.ActionOutcome, code, errMsg string) {
	entry := &store.ActionLogEntry{
		AccountID:    account.ID,
		EntityType:   change.EntityType,
		ProviderID:   item.ProviderID,
		ActionType:   "bulk_" + change.ChangeType,
		NewValue:     item.Value,
		Outcome:      outcome,
		ResponseCode: code,
		Error:        errMsg,
	}
	if err := x.store.AppendActionLog(ctx, entry); err != nil {
		logger.Error("appending action log", "account", account.ID, "error", err)
	}
}

func validateBulk(change BulkChange) error {
	switch change.EntityType {
	case "campaign", "ad_group", "keyword":
	default:
		return fmt.Errorf("unknown entity type %q", change.EntityType)
	}
	switch change.ChangeType {
	case "value", "state":
	default:
		return fmt.Errorf("unknown change type %q", change.ChangeType)
	}
	if len(change.Items) == 0 {
		return errors.New("no items to apply")
	}
	if change.ChangeType == "state" {
		for _, item := range change.Items {
			switch amzads.EntityState(item.State) {
			case amzads.StateEnabled, amzads.StatePaused, amzads.StateArchived:
			default:
				return fmt.Errorf("unknown state %q", item.State)
			}
		}
	}
	return nil
}

// callWithAuthRetry runs one remote call, and on an authorization
// failure refreshes the token once and retries the call exactly once.
func (x *Executor) callWithAuthRetry(ctx context.Context, account *store.Account, creds *amzads.Credentials, fn func(amzads.Credentials) error) error {
	err := fn(*creds)
	if !errors.Is(err, amzads.ErrUnauthorized) {
		return err
	}
	if _, refreshErr := x.tokens.Refresh(ctx, account); refreshErr != nil {
		return refreshErr
	}
	creds.AccessToken = account.AccessToken
	return fn(*creds)
}

// failureCode classifies a whole-batch failure for the audit row.
func failureCode(err error) string {
	var apiErr *amzads.APIError
	if errors.As(err, &apiErr) {
		return strconv.Itoa(apiErr.StatusCode)
	}
	if errors.Is(err, amzads.ErrUnauthorized) {
		return "unauthorized"
	}
	return "network_error"
}
