package store

import (
	"encoding/json"
	"time"
)

// AccountStatus is the lifecycle status of a linked advertising account.
type AccountStatus string

const (
	// AccountConnected is the initial status written by the external
	// account-linking flow.
	AccountConnected AccountStatus = "connected"
	// AccountActive means the token manager holds a working credential.
	AccountActive AccountStatus = "active"
	// AccountReauthRequired means token refresh failed terminally; the
	// external UI must prompt the user to re-link.
	AccountReauthRequired AccountStatus = "reauth_required"
)

// Account is a linked advertising account with its credential pair and
// rolling-window sync bookkeeping.
type Account struct {
	ID           string
	UserID       string
	ProfileID    string
	Region       string
	AccessToken  string
	RefreshToken string
	// TokenExpiresAt nil means expiry unknown, which forces a refresh.
	TokenExpiresAt *time.Time
	Status         AccountStatus

	LastShortSyncAt  *time.Time
	LastMediumSyncAt *time.Time
	LastLongSyncAt   *time.Time

	ShortWindowDays  int
	MediumWindowDays int
	LongWindowDays   int

	CreatedAt time.Time
	UpdatedAt time.Time
}

// Metrics is the rollup performance block shared by campaigns, ad groups,
// and keywords. Derived ratios are stored alongside the raw counters so
// rule evaluation reads one row.
type Metrics struct {
	Spend       float64 `json:"spend"`
	Impressions int64   `json:"impressions"`
	Clicks      int64   `json:"clicks"`
	Orders      int64   `json:"orders"`
	Sales       float64 `json:"sales"`
	ACOS        float64 `json:"acos"`
	CTR         float64 `json:"ctr"`
	CPC         float64 `json:"cpc"`
}

// Zero reports whether every counter in the block is zero.
func (m Metrics) Zero() bool {
	return m.Spend == 0 && m.Impressions == 0 && m.Clicks == 0 &&
		m.Orders == 0 && m.Sales == 0
}

// Recalculate derives CTR, CPC, and ACOS from the raw counters, each 0
// when its denominator is 0.
func (m *Metrics) Recalculate() {
	m.CTR, m.CPC, m.ACOS = 0, 0, 0
	if m.Impressions > 0 {
		m.CTR = float64(m.Clicks) / float64(m.Impressions)
	}
	if m.Clicks > 0 {
		m.CPC = m.Spend / float64(m.Clicks)
	}
	if m.Sales > 0 {
		m.ACOS = m.Spend / m.Sales
	}
}

// Campaign is a stored campaign row. ID is the internal identifier and
// never changes once assigned; ProviderID is the remote platform's
// immutable key and the upsert conflict key within an account.
type Campaign struct {
	ID          string
	AccountID   string
	ProviderID  int64
	Name        string
	State       string
	DailyBudget float64
	Metrics     Metrics
	// Raw is the provider's entity payload as last fetched, kept for
	// fields the typed columns don't model.
	Raw       json.RawMessage
	SyncedAt  time.Time
	CreatedAt time.Time
	UpdatedAt time.Time
}

// AdGroup is a stored ad group row, parented to a Campaign by internal id.
type AdGroup struct {
	ID         string
	AccountID  string
	CampaignID string
	ProviderID int64
	Name       string
	State      string
	DefaultBid float64
	Metrics    Metrics
	SyncedAt   time.Time
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// Keyword is a stored keyword row. AdGroupID may be empty when the
// parent reference was relaxed to recover from a foreign-key race.
type Keyword struct {
	ID         string
	AccountID  string
	CampaignID string
	AdGroupID  string
	ProviderID int64
	// CampaignProviderID is the parent campaign's remote id, resolved
	// on read for rule scope matching. Not a stored column.
	CampaignProviderID int64
	Text               string
	MatchType          string
	State              string
	Bid                float64
	Metrics            Metrics
	SyncedAt           time.Time
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

// RuleScope restricts which keywords a rule applies to.
type RuleScope string

const (
	ScopeAll       RuleScope = "all"
	ScopeCampaigns RuleScope = "campaigns"
	ScopeKeywords  RuleScope = "keywords"
)

// RuleActionType is what a matching rule does to a keyword.
type RuleActionType string

const (
	ActionIncreaseBid RuleActionType = "increase_bid"
	ActionDecreaseBid RuleActionType = "decrease_bid"
	ActionPause       RuleActionType = "pause"
)

// Condition is one metric comparison. All of a rule's conditions must
// hold for a keyword to match.
type Condition struct {
	Metric     string  `json:"metric"`
	Comparator string  `json:"comparator"`
	Threshold  float64 `json:"threshold"`
}

// Rule is a user-defined optimization rule.
type Rule struct {
	ID      string
	UserID  string
	Name    string
	Enabled bool

	Scope            RuleScope
	ScopeCampaignIDs []int64
	ScopeKeywordIDs  []int64

	Conditions []Condition

	ActionType RuleActionType
	// ActionValue is the adjustment percentage for bid actions; unused
	// for pause.
	ActionValue float64

	FrequencyDays int
	LastRun       *time.Time

	CreatedAt time.Time
	UpdatedAt time.Time
}

// ActionOutcome is the remote result of one attempted mutation.
type ActionOutcome string

const (
	OutcomeSuccess ActionOutcome = "success"
	OutcomeFailed  ActionOutcome = "failed"
)

// ActionLogEntry is one immutable audit record of an attempted remote
// mutation. Append-only; never updated or deleted by the core.
type ActionLogEntry struct {
	ID         string
	RuleID     string
	AccountID  string
	EntityType string
	EntityID   string
	ProviderID int64
	ActionType string
	OldValue   float64
	NewValue   float64
	Outcome    ActionOutcome
	// ResponseCode is the raw per-entity code from the batched remote
	// response, or a local failure class when the call never landed.
	ResponseCode    string
	MetricsSnapshot json.RawMessage
	Error           string
	CreatedAt       time.Time
}

// SyncRun is a persisted per-cycle summary for operator diagnosis.
type SyncRun struct {
	ID              string
	AccountID       string
	Window          string
	Campaigns       int
	AdGroups        int
	Keywords        int
	CampaignRows    int
	KeywordRows     int
	UsedAggregation bool
	Outcome         string
	Error           string
	StartedAt       time.Time
	FinishedAt      time.Time
}
