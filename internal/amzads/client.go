// Package amzads is the client for the remote advertising platform:
// entity-listing endpoints, the asynchronous reporting subsystem, and the
// batched update endpoints the action executor writes through.
package amzads

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/ignite/ads-optimizer/internal/config"
	"github.com/ignite/ads-optimizer/internal/pkg/httpretry"
)

// ErrUnauthorized signals that the remote platform rejected the bearer
// token. The caller is expected to refresh once via the token manager and
// retry the failed call exactly once.
var ErrUnauthorized = errors.New("amzads: unauthorized")

// Client is the advertising platform API client. It is account-agnostic:
// every call takes the Credentials of the account being synced.
type Client struct {
	baseURL    string
	clientID   string
	httpClient httpretry.HTTPDoer
}

// NewClient creates a new advertising platform API client
func NewClient(cfg config.AdsConfig) *Client {
	return &Client{
		baseURL:  cfg.BaseURL,
		clientID: cfg.ClientID,
		httpClient: httpretry.NewRetryClient(&http.Client{
			Timeout: cfg.Timeout(),
		}, cfg.MaxRetries),
	}
}

// SetHTTPClient sets a custom HTTP client (useful for testing)
func (c *Client) SetHTTPClient(client httpretry.HTTPDoer) {
	c.httpClient = client
}

// doRequest performs an authenticated request against the platform API.
// Non-2xx responses come back as *APIError, except 401 which maps to
// ErrUnauthorized so callers can trigger the refresh-and-retry-once path.
func (c *Client) doRequest(ctx context.Context, auth Credentials, method, path string, params url.Values, body interface{}) ([]byte, error) {
	var reqBody io.Reader
	if body != nil {
		jsonBody, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("marshaling request body: %w", err)
		}
		reqBody = bytes.NewBuffer(jsonBody)
	}

	fullURL := c.baseURL + path
	if len(params) > 0 {
		fullURL += "?" + params.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, method, fullURL, reqBody)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+auth.AccessToken)
	req.Header.Set("Amazon-Advertising-API-ClientId", c.clientID)
	req.Header.Set("Amazon-Advertising-API-Scope", auth.ProfileID)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("executing request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading response: %w", err)
	}

	if resp.StatusCode == http.StatusUnauthorized {
		return nil, ErrUnauthorized
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &APIError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(respBody))}
	}

	return respBody, nil
}

// ListCampaigns fetches all non-archived campaigns for the account.
func (c *Client) ListCampaigns(ctx context.Context, auth Credentials) ([]Campaign, error) {
	params := url.Values{}
	params.Set("stateFilter", "enabled,paused")

	body, err := c.doRequest(ctx, auth, http.MethodGet, "/v2/sp/campaigns", params, nil)
	if err != nil {
		return nil, fmt.Errorf("listing campaigns: %w", err)
	}

	var campaigns []Campaign
	if err := json.Unmarshal(body, &campaigns); err != nil {
		return nil, fmt.Errorf("parsing campaigns: %w", err)
	}
	return campaigns, nil
}

// ListAdGroups fetches the ad groups under one campaign.
func (c *Client) ListAdGroups(ctx context.Context, auth Credentials, campaignID int64) ([]AdGroup, error) {
	params := url.Values{}
	params.Set("campaignIdFilter", strconv.FormatInt(campaignID, 10))
	params.Set("stateFilter", "enabled,paused")

	body, err := c.doRequest(ctx, auth, http.MethodGet, "/v2/sp/adGroups", params, nil)
	if err != nil {
		return nil, fmt.Errorf("listing ad groups for campaign %d: %w", campaignID, err)
	}

	var adGroups []AdGroup
	if err := json.Unmarshal(body, &adGroups); err != nil {
		return nil, fmt.Errorf("parsing ad groups: %w", err)
	}
	return adGroups, nil
}

// ListKeywords fetches the keywords under one ad group.
func (c *Client) ListKeywords(ctx context.Context, auth Credentials, adGroupID int64) ([]Keyword, error) {
	params := url.Values{}
	params.Set("adGroupIdFilter", strconv.FormatInt(adGroupID, 10))
	params.Set("stateFilter", "enabled,paused")

	body, err := c.doRequest(ctx, auth, http.MethodGet, "/v2/sp/keywords", params, nil)
	if err != nil {
		return nil, fmt.Errorf("listing keywords for ad group %d: %w", adGroupID, err)
	}

	var keywords []Keyword
	if err := json.Unmarshal(body, &keywords); err != nil {
		return nil, fmt.Errorf("parsing keywords: %w", err)
	}
	return keywords, nil
}

// UpdateKeywords sends a batched keyword bid/state update. The platform
// answers per-entity; a partial failure is not an error at this level.
func (c *Client) UpdateKeywords(ctx context.Context, auth Credentials, updates []KeywordUpdate) ([]UpdateResult, error) {
	body, err := c.doRequest(ctx, auth, http.MethodPut, "/v2/sp/keywords", nil, updates)
	if err != nil {
		return nil, fmt.Errorf("updating keywords: %w", err)
	}

	var results []UpdateResult
	if err := json.Unmarshal(body, &results); err != nil {
		return nil, fmt.Errorf("parsing keyword update results: %w", err)
	}
	return results, nil
}

// UpdateAdGroups sends a batched ad-group default-bid/state update.
func (c *Client) UpdateAdGroups(ctx context.Context, auth Credentials, updates []AdGroupUpdate) ([]UpdateResult, error) {
	body, err := c.doRequest(ctx, auth, http.MethodPut, "/v2/sp/adGroups", nil, updates)
	if err != nil {
		return nil, fmt.Errorf("updating ad groups: %w", err)
	}

	var results []UpdateResult
	if err := json.Unmarshal(body, &results); err != nil {
		return nil, fmt.Errorf("parsing ad group update results: %w", err)
	}
	return results, nil
}

// UpdateCampaigns sends a batched campaign budget/state update.
func (c *Client) UpdateCampaigns(ctx context.Context, auth Credentials, updates []CampaignUpdate) ([]UpdateResult, error) {
	body, err := c.doRequest(ctx, auth, http.MethodPut, "/v2/sp/campaigns", nil, updates)
	if err != nil {
		return nil, fmt.Errorf("updating campaigns: %w", err)
	}

	var results []UpdateResult
	if err := json.Unmarshal(body, &results); err != nil {
		return nil, fmt.Errorf("parsing campaign update results: %w", err)
	}
	return results, nil
}
