package amzads

import (
	"fmt"
	"time"
)

// Credentials carries the per-request authentication material for one
// advertising account. The token manager owns producing a valid token;
// the client never refreshes on its own.
type Credentials struct {
	AccessToken string
	ProfileID   string
	Region      string
}

// EntityState is the remote platform's lifecycle state for a structural entity.
type EntityState string

const (
	StateEnabled  EntityState = "enabled"
	StatePaused   EntityState = "paused"
	StateArchived EntityState = "archived"
)

// Campaign is the wire shape of a campaign from the entity-listing endpoint.
// Optional fields default to their zero value on decode.
type Campaign struct {
	CampaignID  int64       `json:"campaignId"`
	Name        string      `json:"name"`
	State       EntityState `json:"state"`
	DailyBudget float64     `json:"dailyBudget"`
	StartDate   string      `json:"startDate,omitempty"`
	EndDate     string      `json:"endDate,omitempty"`
}

// AdGroup is the wire shape of an ad group from the entity-listing endpoint.
type AdGroup struct {
	AdGroupID  int64       `json:"adGroupId"`
	CampaignID int64       `json:"campaignId"`
	Name       string      `json:"name"`
	State      EntityState `json:"state"`
	DefaultBid float64     `json:"defaultBid"`
}

// Keyword is the wire shape of a keyword from the entity-listing endpoint.
type Keyword struct {
	KeywordID   int64       `json:"keywordId"`
	AdGroupID   int64       `json:"adGroupId"`
	CampaignID  int64       `json:"campaignId"`
	KeywordText string      `json:"keywordText"`
	MatchType   string      `json:"matchType"`
	State       EntityState `json:"state"`
	Bid         float64     `json:"bid"`
}

// ReportKind selects which asynchronous report to generate.
type ReportKind string

const (
	ReportCampaigns ReportKind = "campaigns"
	ReportKeywords  ReportKind = "keywords"
)

// ReportRow is one decoded row of a downloaded report. Campaign reports
// populate only CampaignID; keyword reports populate the full entity path.
// All metric fields are optional on the wire and default to zero.
type ReportRow struct {
	CampaignID  int64   `json:"campaignId"`
	AdGroupID   int64   `json:"adGroupId,omitempty"`
	KeywordID   int64   `json:"keywordId,omitempty"`
	Impressions int64   `json:"impressions"`
	Clicks      int64   `json:"clicks"`
	Cost        float64 `json:"cost"`
	Orders      int64   `json:"purchases"`
	Sales       float64 `json:"sales"`
}

// DateWindow is the report aggregation range, inclusive on both ends.
type DateWindow struct {
	Start time.Time
	End   time.Time
}

// WindowEnding builds the report range for a lookback of the given number
// of days: [today-1-days, today-1]. Yesterday is the newest fully
// finalized day; today's numbers are still moving.
func WindowEnding(now time.Time, days int) DateWindow {
	end := now.AddDate(0, 0, -1)
	return DateWindow{
		Start: end.AddDate(0, 0, -days),
		End:   end,
	}
}

const reportDateLayout = "2006-01-02"

// reportStatus is the wire shape of a report job status response.
type reportStatus struct {
	ReportID      string `json:"reportId"`
	Status        string `json:"status"`
	URL           string `json:"url,omitempty"`
	FailureReason string `json:"failureReason,omitempty"`
}

// Terminal report job statuses.
const (
	reportStatusCompleted = "COMPLETED"
	reportStatusFailure   = "FAILURE"
)

// createReportRequest is the wire shape of a report creation request.
type createReportRequest struct {
	StartDate     string              `json:"startDate"`
	EndDate       string              `json:"endDate"`
	Configuration reportConfiguration `json:"configuration"`
}

type reportConfiguration struct {
	AdProduct    string   `json:"adProduct"`
	ReportTypeID string   `json:"reportTypeId"`
	GroupBy      []string `json:"groupBy"`
	Columns      []string `json:"columns"`
	TimeUnit     string   `json:"timeUnit"`
	Format       string   `json:"format"`
}

// createReportResponse is the wire shape of a report creation response.
// On a duplicate-job rejection the same shape arrives with Detail set and
// no ReportID.
type createReportResponse struct {
	ReportID string `json:"reportId"`
	Status   string `json:"status"`
	Detail   string `json:"detail,omitempty"`
}

// UpdateResult is one entry of a batched update response. The remote
// platform answers per-entity, so one batch can partially succeed.
type UpdateResult struct {
	EntityID    int64  `json:"keywordId,omitempty"`
	CampaignID  int64  `json:"campaignId,omitempty"`
	AdGroupID   int64  `json:"adGroupId,omitempty"`
	Code        string `json:"code"`
	Description string `json:"description,omitempty"`
}

// ID returns whichever entity id the result carries.
func (r UpdateResult) ID() int64 {
	if r.EntityID != 0 {
		return r.EntityID
	}
	if r.AdGroupID != 0 {
		return r.AdGroupID
	}
	return r.CampaignID
}

// KeywordUpdate mutates bid and/or state on one keyword.
type KeywordUpdate struct {
	KeywordID int64        `json:"keywordId"`
	Bid       *float64     `json:"bid,omitempty"`
	State     *EntityState `json:"state,omitempty"`
}

// AdGroupUpdate mutates default bid and/or state on one ad group.
type AdGroupUpdate struct {
	AdGroupID  int64        `json:"adGroupId"`
	DefaultBid *float64     `json:"defaultBid,omitempty"`
	State      *EntityState `json:"state,omitempty"`
}

// CampaignUpdate mutates budget and/or state on one campaign.
type CampaignUpdate struct {
	CampaignID  int64        `json:"campaignId"`
	DailyBudget *float64     `json:"dailyBudget,omitempty"`
	State       *EntityState `json:"state,omitempty"`
}

// APIError is a non-2xx response from the remote platform.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("ads API error (status %d): %s", e.StatusCode, e.Body)
}
