package amzads

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ignite/ads-optimizer/internal/config"
	"github.com/ignite/ads-optimizer/internal/pkg/httpretry"
)

func newTestClient(server *httptest.Server) *Client {
	return &Client{
		baseURL:  server.URL,
		clientID: "test-client-id",
		httpClient: &http.Client{
			Timeout: 5 * time.Second,
		},
	}
}

func testCreds() Credentials {
	return Credentials{
		AccessToken: "test-access-token",
		ProfileID:   "12345",
	}
}

func TestNewClient(t *testing.T) {
	cfg := config.AdsConfig{
		BaseURL:        "https://advertising-api.amazon.com",
		ClientID:       "client-abc",
		TimeoutSeconds: 30,
	}

	client := NewClient(cfg)

	assert.NotNil(t, client)
	assert.Equal(t, "https://advertising-api.amazon.com", client.baseURL)
	assert.Equal(t, "client-abc", client.clientID)
}

func TestNewClientHonorsMaxRetries(t *testing.T) {
	var attempts int
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts++
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	client := NewClient(config.AdsConfig{
		BaseURL:        server.URL,
		ClientID:       "client-abc",
		TimeoutSeconds: 5,
		MaxRetries:     1,
	})
	retrier, ok := client.httpClient.(*httpretry.RetryClient)
	require.True(t, ok)
	retrier.SetBaseDelay(time.Millisecond)

	_, err := client.ListCampaigns(context.Background(), testCreds())

	assert.Error(t, err)
	assert.Equal(t, 2, attempts)
}

func TestListCampaigns(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v2/sp/campaigns", r.URL.Path)
		assert.Equal(t, "enabled,paused", r.URL.Query().Get("stateFilter"))
		assert.Equal(t, "Bearer test-access-token", r.Header.Get("Authorization"))
		assert.Equal(t, "test-client-id", r.Header.Get("Amazon-Advertising-API-ClientId"))
		assert.Equal(t, "12345", r.Header.Get("Amazon-Advertising-API-Scope"))

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode([]Campaign{
			{CampaignID: 101, Name: "Spring Sale", State: StateEnabled, DailyBudget: 25.0},
			{CampaignID: 102, Name: "Evergreen", State: StatePaused, DailyBudget: 10.0},
		})
	}))
	defer server.Close()

	client := newTestClient(server)
	campaigns, err := client.ListCampaigns(context.Background(), testCreds())

	require.NoError(t, err)
	require.Len(t, campaigns, 2)
	assert.Equal(t, int64(101), campaigns[0].CampaignID)
	assert.Equal(t, "Spring Sale", campaigns[0].Name)
	assert.Equal(t, StatePaused, campaigns[1].State)
}

func TestListAdGroupsFiltersByCampaign(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v2/sp/adGroups", r.URL.Path)
		assert.Equal(t, "101", r.URL.Query().Get("campaignIdFilter"))

		json.NewEncoder(w).Encode([]AdGroup{
			{AdGroupID: 201, CampaignID: 101, Name: "Broad", State: StateEnabled, DefaultBid: 0.75},
		})
	}))
	defer server.Close()

	client := newTestClient(server)
	adGroups, err := client.ListAdGroups(context.Background(), testCreds(), 101)

	require.NoError(t, err)
	require.Len(t, adGroups, 1)
	assert.Equal(t, int64(201), adGroups[0].AdGroupID)
	assert.Equal(t, 0.75, adGroups[0].DefaultBid)
}

func TestListKeywordsFiltersByAdGroup(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v2/sp/keywords", r.URL.Path)
		assert.Equal(t, "201", r.URL.Query().Get("adGroupIdFilter"))

		json.NewEncoder(w).Encode([]Keyword{
			{KeywordID: 301, AdGroupID: 201, CampaignID: 101, KeywordText: "wireless earbuds", MatchType: "broad", State: StateEnabled, Bid: 0.55},
		})
	}))
	defer server.Close()

	client := newTestClient(server)
	keywords, err := client.ListKeywords(context.Background(), testCreds(), 201)

	require.NoError(t, err)
	require.Len(t, keywords, 1)
	assert.Equal(t, "wireless earbuds", keywords[0].KeywordText)
}

func TestDoRequestUnauthorized(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer server.Close()

	client := newTestClient(server)
	_, err := client.ListCampaigns(context.Background(), testCreds())

	assert.ErrorIs(t, err, ErrUnauthorized)
}

func TestDoRequestAPIError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnprocessableEntity)
		w.Write([]byte(`{"message":"invalid stateFilter"}`))
	}))
	defer server.Close()

	client := newTestClient(server)
	_, err := client.ListCampaigns(context.Background(), testCreds())

	require.Error(t, err)
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusUnprocessableEntity, apiErr.StatusCode)
	assert.Contains(t, apiErr.Body, "invalid stateFilter")
}

func TestUpdateKeywordsPartialFailure(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPut, r.Method)
		assert.Equal(t, "/v2/sp/keywords", r.URL.Path)

		var updates []KeywordUpdate
		require.NoError(t, json.NewDecoder(r.Body).Decode(&updates))
		require.Len(t, updates, 2)
		assert.Equal(t, int64(301), updates[0].KeywordID)
		require.NotNil(t, updates[0].Bid)
		assert.Equal(t, 0.80, *updates[0].Bid)

		json.NewEncoder(w).Encode([]UpdateResult{
			{EntityID: 301, Code: "SUCCESS"},
			{EntityID: 302, Code: "INVALID_ARGUMENT", Description: "bid below minimum"},
		})
	}))
	defer server.Close()

	bid1, bid2 := 0.80, 0.01
	client := newTestClient(server)
	results, err := client.UpdateKeywords(context.Background(), testCreds(), []KeywordUpdate{
		{KeywordID: 301, Bid: &bid1},
		{KeywordID: 302, Bid: &bid2},
	})

	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, "SUCCESS", results[0].Code)
	assert.Equal(t, "INVALID_ARGUMENT", results[1].Code)
	assert.Equal(t, int64(302), results[1].ID())
}

func TestUpdateResultID(t *testing.T) {
	assert.Equal(t, int64(301), UpdateResult{EntityID: 301}.ID())
	assert.Equal(t, int64(201), UpdateResult{AdGroupID: 201}.ID())
	assert.Equal(t, int64(101), UpdateResult{CampaignID: 101}.ID())
}

func TestWindowEnding(t *testing.T) {
	now := time.Date(2025, 6, 15, 10, 30, 0, 0, time.UTC)
	window := WindowEnding(now, 7)

	assert.Equal(t, "2025-06-14", window.End.Format("2006-01-02"))
	assert.Equal(t, "2025-06-07", window.Start.Format("2006-01-02"))
}
