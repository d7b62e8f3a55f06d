package sync

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ignite/ads-optimizer/internal/amzads"
	"github.com/ignite/ads-optimizer/internal/config"
	"github.com/ignite/ads-optimizer/internal/store"
)

type fakeStore struct {
	priorCampaigns []store.Campaign
	priorAdGroups  []store.AdGroup
	priorKeywords  []store.Keyword

	campaigns map[int64]*store.Campaign
	adGroups  map[int64]*store.AdGroup
	keywords  map[int64]*store.Keyword

	nextID int
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		campaigns: make(map[int64]*store.Campaign),
		adGroups:  make(map[int64]*store.AdGroup),
		keywords:  make(map[int64]*store.Keyword),
	}
}

func (f *fakeStore) assignID() string {
	f.nextID++
	return "id-" + string(rune('a'+f.nextID-1))
}

func (f *fakeStore) ListCampaigns(ctx context.Context, accountID string) ([]store.Campaign, error) {
	return f.priorCampaigns, nil
}

func (f *fakeStore) ListAdGroups(ctx context.Context, accountID string) ([]store.AdGroup, error) {
	return f.priorAdGroups, nil
}

func (f *fakeStore) ListKeywords(ctx context.Context, accountID string) ([]store.Keyword, error) {
	return f.priorKeywords, nil
}

func (f *fakeStore) UpsertCampaign(ctx context.Context, c *store.Campaign) error {
	if c.ID == "" {
		if prev, ok := f.campaigns[c.ProviderID]; ok {
			c.ID = prev.ID
		} else {
			c.ID = f.assignID()
		}
	}
	saved := *c
	f.campaigns[c.ProviderID] = &saved
	return nil
}

func (f *fakeStore) UpsertAdGroup(ctx context.Context, g *store.AdGroup) error {
	if g.ID == "" {
		if prev, ok := f.adGroups[g.ProviderID]; ok {
			g.ID = prev.ID
		} else {
			g.ID = f.assignID()
		}
	}
	saved := *g
	f.adGroups[g.ProviderID] = &saved
	return nil
}

func (f *fakeStore) UpsertKeyword(ctx context.Context, k *store.Keyword) error {
	if k.ID == "" {
		if prev, ok := f.keywords[k.ProviderID]; ok {
			k.ID = prev.ID
		} else {
			k.ID = f.assignID()
		}
	}
	saved := *k
	f.keywords[k.ProviderID] = &saved
	return nil
}

type fakeAds struct {
	campaigns          []amzads.Campaign
	adGroupsByCampaign map[int64][]amzads.AdGroup
	keywordsByAdGroup  map[int64][]amzads.Keyword
	reports            map[amzads.ReportKind][]amzads.ReportRow

	// reportFailures counts down 401s per report kind before succeeding.
	reportFailures map[amzads.ReportKind]int
	reportCalls    int
}

func (f *fakeAds) ListCampaigns(ctx context.Context, auth amzads.Credentials) ([]amzads.Campaign, error) {
	return f.campaigns, nil
}

func (f *fakeAds) ListAdGroups(ctx context.Context, auth amzads.Credentials, campaignID int64) ([]amzads.AdGroup, error) {
	return f.adGroupsByCampaign[campaignID], nil
}

func (f *fakeAds) ListKeywords(ctx context.Context, auth amzads.Credentials, adGroupID int64) ([]amzads.Keyword, error) {
	return f.keywordsByAdGroup[adGroupID], nil
}

func (f *fakeAds) RequestReport(ctx context.Context, auth amzads.Credentials, kind amzads.ReportKind, window amzads.DateWindow, opts amzads.ReportOptions) ([]amzads.ReportRow, error) {
	f.reportCalls++
	if f.reportFailures[kind] > 0 {
		f.reportFailures[kind]--
		return nil, amzads.ErrUnauthorized
	}
	return f.reports[kind], nil
}

type fakeTokens struct {
	refreshes int
	ensureErr error
}

func (f *fakeTokens) EnsureValidToken(ctx context.Context, account *store.Account) (string, error) {
	if f.ensureErr != nil {
		return "", f.ensureErr
	}
	return account.AccessToken, nil
}

func (f *fakeTokens) Refresh(ctx context.Context, account *store.Account) (string, error) {
	f.refreshes++
	account.AccessToken = "refreshed-token"
	return account.AccessToken, nil
}

func testAccount() *store.Account {
	return &store.Account{
		ID:          "acct-1",
		UserID:      "user-1",
		ProfileID:   "12345",
		AccessToken: "initial-token",
		Status:      store.AccountActive,
	}
}

func keywordReportRows() []amzads.ReportRow {
	return []amzads.ReportRow{
		{CampaignID: 101, AdGroupID: 201, KeywordID: 301, Impressions: 1000, Clicks: 100, Cost: 50, Orders: 0, Sales: 0},
		{CampaignID: 101, AdGroupID: 201, KeywordID: 302, Impressions: 500, Clicks: 50, Cost: 25, Orders: 5, Sales: 100},
	}
}

func fullFakeAds() *fakeAds {
	return &fakeAds{
		campaigns: []amzads.Campaign{
			{CampaignID: 101, Name: "Spring Sale", State: amzads.StateEnabled, DailyBudget: 25},
		},
		adGroupsByCampaign: map[int64][]amzads.AdGroup{
			101: {{AdGroupID: 201, CampaignID: 101, Name: "Broad", State: amzads.StateEnabled, DefaultBid: 0.75}},
		},
		keywordsByAdGroup: map[int64][]amzads.Keyword{
			201: {
				{KeywordID: 301, AdGroupID: 201, CampaignID: 101, KeywordText: "wireless earbuds", MatchType: "broad", State: amzads.StateEnabled, Bid: 1.00},
				{KeywordID: 302, AdGroupID: 201, CampaignID: 101, KeywordText: "bluetooth earbuds", MatchType: "exact", State: amzads.StateEnabled, Bid: 0.60},
			},
		},
		reports: map[amzads.ReportKind][]amzads.ReportRow{
			amzads.ReportCampaigns: {
				{CampaignID: 101, Impressions: 1500, Clicks: 150, Cost: 75, Orders: 5, Sales: 100},
			},
			amzads.ReportKeywords: keywordReportRows(),
		},
		reportFailures: map[amzads.ReportKind]int{},
	}
}

func newTestReconciler(st *fakeStore, ads *fakeAds, tokens *fakeTokens, cfg config.SyncConfig) *Reconciler {
	r := NewReconciler(st, ads, tokens, cfg)
	r.now = func() time.Time { return time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC) }
	return r
}

func TestSyncAccountFullCycle(t *testing.T) {
	st := newFakeStore()
	ads := fullFakeAds()
	tokens := &fakeTokens{}
	r := newTestReconciler(st, ads, tokens, config.SyncConfig{})

	run, err := r.SyncAccount(context.Background(), testAccount(), DueWindow{Window: WindowMedium, Days: 7})

	require.NoError(t, err)
	assert.Equal(t, "completed", run.Outcome)
	assert.Equal(t, 1, run.Campaigns)
	assert.Equal(t, 1, run.AdGroups)
	assert.Equal(t, 2, run.Keywords)
	assert.Equal(t, 1, run.CampaignRows)
	assert.Equal(t, 2, run.KeywordRows)
	assert.False(t, run.UsedAggregation)

	// Campaign metrics come straight from the campaign report.
	campaign := st.campaigns[101]
	require.NotNil(t, campaign)
	assert.Equal(t, 75.0, campaign.Metrics.Spend)
	assert.Equal(t, int64(1500), campaign.Metrics.Impressions)

	// Ad-group metrics are keyword rollups; there is no dedicated report.
	adGroup := st.adGroups[201]
	require.NotNil(t, adGroup)
	assert.Equal(t, 75.0, adGroup.Metrics.Spend)
	assert.Equal(t, int64(150), adGroup.Metrics.Clicks)
	assert.Equal(t, campaign.ID, adGroup.CampaignID)

	keyword := st.keywords[301]
	require.NotNil(t, keyword)
	assert.Equal(t, 50.0, keyword.Metrics.Spend)
	assert.InDelta(t, 0.1, keyword.Metrics.CTR, 1e-9)
	assert.Equal(t, adGroup.ID, keyword.AdGroupID)
	assert.Equal(t, campaign.ID, keyword.CampaignID)
}

func TestSyncAccountStreamWritesThreadsParentIDs(t *testing.T) {
	st := newFakeStore()
	ads := fullFakeAds()
	r := newTestReconciler(st, ads, &fakeTokens{}, config.SyncConfig{StreamWrites: true})

	_, err := r.SyncAccount(context.Background(), testAccount(), DueWindow{Window: WindowShort, Days: 1})

	require.NoError(t, err)
	campaign := st.campaigns[101]
	adGroup := st.adGroups[201]
	keyword := st.keywords[302]
	require.NotNil(t, campaign)
	require.NotNil(t, adGroup)
	require.NotNil(t, keyword)
	assert.Equal(t, campaign.ID, adGroup.CampaignID)
	assert.Equal(t, adGroup.ID, keyword.AdGroupID)
}

func TestSyncAccountCarriesPriorMetricsOnEmptyReports(t *testing.T) {
	st := newFakeStore()
	st.priorCampaigns = []store.Campaign{{
		ID:         "prev-c",
		AccountID:  "acct-1",
		ProviderID: 101,
		Metrics:    store.Metrics{Spend: 42, Impressions: 900, Clicks: 90, Sales: 84, ACOS: 0.5},
	}}
	st.priorKeywords = []store.Keyword{{
		ID:         "prev-k",
		AccountID:  "acct-1",
		ProviderID: 301,
		Metrics:    store.Metrics{Spend: 10, Clicks: 20},
	}}

	ads := fullFakeAds()
	ads.reports = map[amzads.ReportKind][]amzads.ReportRow{}
	r := newTestReconciler(st, ads, &fakeTokens{}, config.SyncConfig{})

	run, err := r.SyncAccount(context.Background(), testAccount(), DueWindow{Window: WindowShort, Days: 1})

	require.NoError(t, err)
	assert.Equal(t, "completed", run.Outcome)

	// A failed or empty report must never zero out history.
	campaign := st.campaigns[101]
	require.NotNil(t, campaign)
	assert.Equal(t, "prev-c", campaign.ID)
	assert.Equal(t, 42.0, campaign.Metrics.Spend)

	keyword := st.keywords[301]
	require.NotNil(t, keyword)
	assert.Equal(t, "prev-k", keyword.ID)
	assert.Equal(t, 10.0, keyword.Metrics.Spend)

	// Entities with no prior row start from zero.
	assert.True(t, st.keywords[302].Metrics.Zero())
}

func TestSyncAccountAggregatesCampaignsFromKeywords(t *testing.T) {
	st := newFakeStore()
	ads := fullFakeAds()
	ads.reports[amzads.ReportCampaigns] = nil
	r := newTestReconciler(st, ads, &fakeTokens{}, config.SyncConfig{})

	run, err := r.SyncAccount(context.Background(), testAccount(), DueWindow{Window: WindowShort, Days: 1})

	require.NoError(t, err)
	assert.True(t, run.UsedAggregation)

	campaign := st.campaigns[101]
	require.NotNil(t, campaign)
	assert.Equal(t, 75.0, campaign.Metrics.Spend)
	assert.Equal(t, int64(1500), campaign.Metrics.Impressions)
	assert.InDelta(t, 0.75, campaign.Metrics.ACOS, 1e-9)
}

func TestSyncAccountStrictModeSkipsAggregation(t *testing.T) {
	st := newFakeStore()
	st.priorCampaigns = []store.Campaign{{
		ID:         "prev-c",
		AccountID:  "acct-1",
		ProviderID: 101,
		Metrics:    store.Metrics{Spend: 42},
	}}
	ads := fullFakeAds()
	ads.reports[amzads.ReportCampaigns] = nil
	r := newTestReconciler(st, ads, &fakeTokens{}, config.SyncConfig{StrictAggregation: true})

	run, err := r.SyncAccount(context.Background(), testAccount(), DueWindow{Window: WindowShort, Days: 1})

	require.NoError(t, err)
	assert.False(t, run.UsedAggregation)

	// Stale report-verified metrics beat fresh derived ones.
	campaign := st.campaigns[101]
	require.NotNil(t, campaign)
	assert.Equal(t, 42.0, campaign.Metrics.Spend)
}

func TestSyncAccountRefreshesTokenOnUnauthorizedReport(t *testing.T) {
	st := newFakeStore()
	ads := fullFakeAds()
	ads.reportFailures[amzads.ReportKeywords] = 1
	tokens := &fakeTokens{}
	r := newTestReconciler(st, ads, tokens, config.SyncConfig{})

	run, err := r.SyncAccount(context.Background(), testAccount(), DueWindow{Window: WindowShort, Days: 1})

	require.NoError(t, err)
	assert.Equal(t, "completed", run.Outcome)
	assert.Equal(t, 1, tokens.refreshes)
	assert.Equal(t, 2, run.KeywordRows)
}

func TestSyncAccountEnsureTokenFailureAborts(t *testing.T) {
	st := newFakeStore()
	tokens := &fakeTokens{ensureErr: assert.AnError}
	r := newTestReconciler(st, fullFakeAds(), tokens, config.SyncConfig{})

	run, err := r.SyncAccount(context.Background(), testAccount(), DueWindow{Window: WindowShort, Days: 1})

	require.Error(t, err)
	require.NotNil(t, run)
	assert.Equal(t, "failed", run.Outcome)
	assert.NotEmpty(t, run.Error)
	assert.Empty(t, st.campaigns)
}

func TestSyncAccountIdempotent(t *testing.T) {
	st := newFakeStore()
	ads := fullFakeAds()
	r := newTestReconciler(st, ads, &fakeTokens{}, config.SyncConfig{})

	_, err := r.SyncAccount(context.Background(), testAccount(), DueWindow{Window: WindowShort, Days: 1})
	require.NoError(t, err)
	firstID := st.campaigns[101].ID

	// The second pass reads the first pass's rows as priors.
	st.priorCampaigns = []store.Campaign{*st.campaigns[101]}
	st.priorAdGroups = []store.AdGroup{*st.adGroups[201]}
	st.priorKeywords = []store.Keyword{*st.keywords[301], *st.keywords[302]}

	_, err = r.SyncAccount(context.Background(), testAccount(), DueWindow{Window: WindowShort, Days: 1})
	require.NoError(t, err)

	// Internal ids never change once assigned.
	assert.Equal(t, firstID, st.campaigns[101].ID)
	assert.Len(t, st.campaigns, 1)
	assert.Len(t, st.adGroups, 1)
	assert.Len(t, st.keywords, 2)
}
