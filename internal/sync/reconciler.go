// Package sync is the synchronization engine: rolling-window scheduling,
// structural reconciliation against the remote platform, report
// orchestration, and metric carry-over. Reconciliation never deletes —
// rows only leave the store through the explicit account-unlink path.
package sync

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/ignite/ads-optimizer/internal/amzads"
	"github.com/ignite/ads-optimizer/internal/config"
	"github.com/ignite/ads-optimizer/internal/pkg/logger"
	"github.com/ignite/ads-optimizer/internal/store"
)

// AdsAPI is the slice of the platform client the reconciler consumes.
type AdsAPI interface {
	ListCampaigns(ctx context.Context, auth amzads.Credentials) ([]amzads.Campaign, error)
	ListAdGroups(ctx context.Context, auth amzads.Credentials, campaignID int64) ([]amzads.AdGroup, error)
	ListKeywords(ctx context.Context, auth amzads.Credentials, adGroupID int64) ([]amzads.Keyword, error)
	RequestReport(ctx context.Context, auth amzads.Credentials, kind amzads.ReportKind, window amzads.DateWindow, opts amzads.ReportOptions) ([]amzads.ReportRow, error)
}

// TokenSource is the slice of the token manager the reconciler consumes.
type TokenSource interface {
	EnsureValidToken(ctx context.Context, account *store.Account) (string, error)
	Refresh(ctx context.Context, account *store.Account) (string, error)
}

// Store is the slice of the persistence layer the reconciler consumes.
type Store interface {
	ListCampaigns(ctx context.Context, accountID string) ([]store.Campaign, error)
	ListAdGroups(ctx context.Context, accountID string) ([]store.AdGroup, error)
	ListKeywords(ctx context.Context, accountID string) ([]store.Keyword, error)
	UpsertCampaign(ctx context.Context, c *store.Campaign) error
	UpsertAdGroup(ctx context.Context, g *store.AdGroup) error
	UpsertKeyword(ctx context.Context, k *store.Keyword) error
}

// Reconciler merges the remote entity hierarchy and report metrics into
// the store, carrying prior metrics over wherever fresher ones are
// absent.
type Reconciler struct {
	store  Store
	ads    AdsAPI
	tokens TokenSource
	cfg    config.SyncConfig
	now    func() time.Time
}

// NewReconciler creates a reconciler with the given collaborators.
func NewReconciler(st Store, ads AdsAPI, tokens TokenSource, cfg config.SyncConfig) *Reconciler {
	return &Reconciler{store: st, ads: ads, tokens: tokens, cfg: cfg, now: time.Now}
}

type campaignNode struct {
	row      store.Campaign
	adGroups []*adGroupNode
}

type adGroupNode struct {
	row      store.AdGroup
	keywords []*store.Keyword
}

// SyncAccount runs one reconciliation cycle for one account and window.
// The returned SyncRun is always non-nil and describes the attempt even
// when err is non-nil; the caller persists it and decides whether to
// mark the window complete.
func (r *Reconciler) SyncAccount(ctx context.Context, account *store.Account, win DueWindow) (*store.SyncRun, error) {
	started := r.now().UTC()
	run := &store.SyncRun{
		AccountID: account.ID,
		Window:    string(win.Window),
		StartedAt: started,
		Outcome:   "failed",
	}
	finish := func(err error) (*store.SyncRun, error) {
		run.FinishedAt = r.now().UTC()
		if err != nil {
			run.Error = err.Error()
			return run, err
		}
		run.Outcome = "completed"
		return run, nil
	}

	accessToken, err := r.tokens.EnsureValidToken(ctx, account)
	if err != nil {
		return finish(err)
	}
	creds := amzads.Credentials{
		AccessToken: accessToken,
		ProfileID:   account.ProfileID,
		Region:      account.Region,
	}

	window := amzads.WindowEnding(r.now(), win.Days)
	campaignRows, keywordRows, err := r.fetchReports(ctx, account, &creds, window)
	if err != nil {
		return finish(fmt.Errorf("fetching reports: %w", err))
	}
	run.CampaignRows = len(campaignRows)
	run.KeywordRows = len(keywordRows)

	// Prior metrics, for carry-over when a report leaves an entity
	// uncovered. A failed or empty report must never zero out history.
	priorCampaigns, priorAdGroups, priorKeywords, err := r.loadPrior(ctx, account.ID)
	if err != nil {
		return finish(err)
	}

	campaignFresh := campaignMetricsByProvider(campaignRows)
	if len(campaignFresh) == 0 && len(keywordRows) > 0 {
		if r.cfg.StrictAggregation {
			logger.Info("campaign report empty, strict mode keeps prior metrics", "account", account.ID)
		} else {
			campaignFresh = AggregateByCampaign(keywordRows)
			run.UsedAggregation = true
			logger.Info("campaign report empty, derived rollups from keyword rows",
				"account", account.ID, "campaigns", len(campaignFresh))
		}
	}
	adGroupFresh := AggregateByAdGroup(keywordRows)
	keywordFresh := keywordMetricsByProvider(keywordRows)

	var wireCampaigns []amzads.Campaign
	err = r.callWithAuthRetry(ctx, account, &creds, func(auth amzads.Credentials) error {
		var listErr error
		wireCampaigns, listErr = r.ads.ListCampaigns(ctx, auth)
		return listErr
	})
	if err != nil {
		return finish(fmt.Errorf("fetching campaign hierarchy: %w", err))
	}

	var tree []*campaignNode
	for i := range wireCampaigns {
		wc := wireCampaigns[i]
		node := &campaignNode{row: r.buildCampaign(account.ID, wc, campaignFresh, priorCampaigns, started)}
		if r.cfg.StreamWrites {
			if err := r.store.UpsertCampaign(ctx, &node.row); err != nil {
				return finish(err)
			}
		}

		var wireAdGroups []amzads.AdGroup
		err = r.callWithAuthRetry(ctx, account, &creds, func(auth amzads.Credentials) error {
			var listErr error
			wireAdGroups, listErr = r.ads.ListAdGroups(ctx, auth, wc.CampaignID)
			return listErr
		})
		if err != nil {
			return finish(fmt.Errorf("fetching ad groups for campaign %d: %w", wc.CampaignID, err))
		}

		for j := range wireAdGroups {
			wg := wireAdGroups[j]
			gnode := &adGroupNode{row: r.buildAdGroup(account.ID, wg, adGroupFresh, priorAdGroups, started)}
			if r.cfg.StreamWrites {
				gnode.row.CampaignID = node.row.ID
				if err := r.store.UpsertAdGroup(ctx, &gnode.row); err != nil {
					return finish(err)
				}
			}

			var wireKeywords []amzads.Keyword
			err = r.callWithAuthRetry(ctx, account, &creds, func(auth amzads.Credentials) error {
				var listErr error
				wireKeywords, listErr = r.ads.ListKeywords(ctx, auth, wg.AdGroupID)
				return listErr
			})
			if err != nil {
				return finish(fmt.Errorf("fetching keywords for ad group %d: %w", wg.AdGroupID, err))
			}

			for k := range wireKeywords {
				wk := wireKeywords[k]
				krow := r.buildKeyword(account.ID, wk, keywordFresh, priorKeywords, started)
				if r.cfg.StreamWrites {
					krow.CampaignID = node.row.ID
					krow.AdGroupID = gnode.row.ID
					if err := r.store.UpsertKeyword(ctx, &krow); err != nil {
						return finish(err)
					}
				}
				gnode.keywords = append(gnode.keywords, &krow)
			}
			node.adGroups = append(node.adGroups, gnode)
			run.Keywords += len(wireKeywords)
		}
		tree = append(tree, node)
		run.AdGroups += len(wireAdGroups)
	}
	run.Campaigns = len(wireCampaigns)

	if !r.cfg.StreamWrites {
		if err := r.flush(ctx, tree); err != nil {
			return finish(err)
		}
	}

	return finish(nil)
}

// flush writes a fully fetched tree parent-first so child rows carry
// their parents' internal ids.
func (r *Reconciler) flush(ctx context.Context, tree []*campaignNode) error {
	for _, node := range tree {
		if err := r.store.UpsertCampaign(ctx, &node.row); err != nil {
			return err
		}
		for _, gnode := range node.adGroups {
			gnode.row.CampaignID = node.row.ID
			if err := r.store.UpsertAdGroup(ctx, &gnode.row); err != nil {
				return err
			}
			for _, krow := range gnode.keywords {
				krow.CampaignID = node.row.ID
				krow.AdGroupID = gnode.row.ID
				if err := r.store.UpsertKeyword(ctx, krow); err != nil {
					return err
				}
			}
		}
	}
	return nil
}

// fetchReports launches the campaign and keyword report orchestrations
// concurrently — remote generation latency dominates wall-clock time and
// the two jobs are independent. On an authorization failure the token is
// refreshed once and both orchestrations retried once; duplicate-job id
// reuse on the platform side keeps the retry from spawning extra jobs.
func (r *Reconciler) fetchReports(ctx context.Context, account *store.Account, creds *amzads.Credentials, window amzads.DateWindow) ([]amzads.ReportRow, []amzads.ReportRow, error) {
	opts := amzads.ReportOptions{
		PollInterval: r.cfg.PollInterval(),
		MaxWait:      r.cfg.MaxWait(),
	}

	fetchBoth := func(auth amzads.Credentials) (campaignRows, keywordRows []amzads.ReportRow, campaignErr, keywordErr error) {
		done := make(chan struct{})
		go func() {
			defer close(done)
			keywordRows, keywordErr = r.ads.RequestReport(ctx, auth, amzads.ReportKeywords, window, opts)
		}()
		campaignRows, campaignErr = r.ads.RequestReport(ctx, auth, amzads.ReportCampaigns, window, opts)
		<-done
		return
	}

	campaignRows, keywordRows, campaignErr, keywordErr := fetchBoth(*creds)
	if errors.Is(campaignErr, amzads.ErrUnauthorized) || errors.Is(keywordErr, amzads.ErrUnauthorized) {
		if _, err := r.tokens.Refresh(ctx, account); err != nil {
			return nil, nil, err
		}
		creds.AccessToken = account.AccessToken
		campaignRows, keywordRows, campaignErr, keywordErr = fetchBoth(*creds)
	}
	if campaignErr != nil {
		return nil, nil, campaignErr
	}
	if keywordErr != nil {
		return nil, nil, keywordErr
	}
	return campaignRows, keywordRows, nil
}

// callWithAuthRetry runs one remote call, and on an authorization
// failure refreshes the token once and retries the call exactly once.
func (r *Reconciler) callWithAuthRetry(ctx context.Context, account *store.Account, creds *amzads.Credentials, fn func(amzads.Credentials) error) error {
	err := fn(*creds)
	if !errors.Is(err, amzads.ErrUnauthorized) {
		return err
	}
	if _, refreshErr := r.tokens.Refresh(ctx, account); refreshErr != nil {
		return refreshErr
	}
	creds.AccessToken = account.AccessToken
	return fn(*creds)
}

func (r *Reconciler) loadPrior(ctx context.Context, accountID string) (map[int64]store.Campaign, map[int64]store.AdGroup, map[int64]store.Keyword, error) {
	campaigns, err := r.store.ListCampaigns(ctx, accountID)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("loading prior campaigns: %w", err)
	}
	adGroups, err := r.store.ListAdGroups(ctx, accountID)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("loading prior ad groups: %w", err)
	}
	keywords, err := r.store.ListKeywords(ctx, accountID)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("loading prior keywords: %w", err)
	}

	campaignsByProvider := make(map[int64]store.Campaign, len(campaigns))
	for _, c := range campaigns {
		campaignsByProvider[c.ProviderID] = c
	}
	adGroupsByProvider := make(map[int64]store.AdGroup, len(adGroups))
	for _, g := range adGroups {
		adGroupsByProvider[g.ProviderID] = g
	}
	keywordsByProvider := make(map[int64]store.Keyword, len(keywords))
	for _, k := range keywords {
		keywordsByProvider[k.ProviderID] = k
	}
	return campaignsByProvider, adGroupsByProvider, keywordsByProvider, nil
}

// buildCampaign assembles the row to upsert: internal id reused from the
// prior row when one exists, metrics from the freshest available source
// (fresh or aggregated report → prior stored → zero).
func (r *Reconciler) buildCampaign(accountID string, wc amzads.Campaign, fresh map[int64]store.Metrics, prior map[int64]store.Campaign, syncedAt time.Time) store.Campaign {
	row := store.Campaign{
		AccountID:   accountID,
		ProviderID:  wc.CampaignID,
		Name:        wc.Name,
		State:       string(wc.State),
		DailyBudget: wc.DailyBudget,
		SyncedAt:    syncedAt,
	}
	raw, err := json.Marshal(wc)
	if err == nil {
		row.Raw = raw
	}
	if prev, ok := prior[wc.CampaignID]; ok {
		row.ID = prev.ID
		row.Metrics = prev.Metrics
	}
	if m, ok := fresh[wc.CampaignID]; ok {
		row.Metrics = m
	}
	return row
}

func (r *Reconciler) buildAdGroup(accountID string, wg amzads.AdGroup, fresh map[int64]store.Metrics, prior map[int64]store.AdGroup, syncedAt time.Time) store.AdGroup {
	row := store.AdGroup{
		AccountID:  accountID,
		ProviderID: wg.AdGroupID,
		Name:       wg.Name,
		State:      string(wg.State),
		DefaultBid: wg.DefaultBid,
		SyncedAt:   syncedAt,
	}
	if prev, ok := prior[wg.AdGroupID]; ok {
		row.ID = prev.ID
		row.CampaignID = prev.CampaignID
		row.Metrics = prev.Metrics
	}
	if m, ok := fresh[wg.AdGroupID]; ok {
		row.Metrics = m
	}
	return row
}

func (r *Reconciler) buildKeyword(accountID string, wk amzads.Keyword, fresh map[int64]store.Metrics, prior map[int64]store.Keyword, syncedAt time.Time) store.Keyword {
	row := store.Keyword{
		AccountID:  accountID,
		ProviderID: wk.KeywordID,
		Text:       wk.KeywordText,
		MatchType:  wk.MatchType,
		State:      string(wk.State),
		Bid:        wk.Bid,
		SyncedAt:   syncedAt,
	}
	if prev, ok := prior[wk.KeywordID]; ok {
		row.ID = prev.ID
		row.CampaignID = prev.CampaignID
		row.AdGroupID = prev.AdGroupID
		row.Metrics = prev.Metrics
	}
	if m, ok := fresh[wk.KeywordID]; ok {
		row.Metrics = m
	}
	return row
}
