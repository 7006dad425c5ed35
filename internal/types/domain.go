package types

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// TicketListing is a scraped snapshot of ticket availability and price for an
// event. Listings are produced by the scraper and never mutated by the engine.
type TicketListing struct {
	ID         string              `json:"id"`
	Title      string              `json:"title"`
	Venue      string              `json:"venue"`
	Category   string              `json:"sport_category"`
	MinPrice   decimal.NullDecimal `json:"min_price"`
	MaxPrice   decimal.NullDecimal `json:"max_price"`
	Quantity   *int                `json:"quantity,omitempty"`
	Section    string              `json:"section,omitempty"`
	SeatTags   []string            `json:"seat_tags,omitempty"`
	Platform   string              `json:"platform"`
	EventDate  *time.Time          `json:"event_date,omitempty"`
	ObservedAt time.Time           `json:"observed_at"`
}

// Key returns the listing identity used to correlate repeated scrapes of the
// same listing: "platform:id".
func (l *TicketListing) Key() string {
	return strings.ToLower(strings.TrimSpace(l.Platform)) + ":" + strings.TrimSpace(l.ID)
}

// EffectivePrice is the listing's minimum advertised price.
func (l *TicketListing) EffectivePrice() decimal.Decimal {
	return l.MinPrice.Decimal
}

// ChannelSet holds the per-channel enable flags of a preference.
type ChannelSet struct {
	Email bool `json:"email"`
	Push  bool `json:"push"`
	SMS   bool `json:"sms"`
}

// Enabled returns the enabled channels in canonical order.
func (c ChannelSet) Enabled() []ChannelType {
	var out []ChannelType
	if c.Email {
		out = append(out, ChannelEmail)
	}
	if c.Push {
		out = append(out, ChannelPush)
	}
	if c.SMS {
		out = append(out, ChannelSMS)
	}
	return out
}

// QuietHoursConfig defines the daily window during which intrusive channels
// are suppressed. Start and End are "HH:MM" wall-clock times in Timezone.
type QuietHoursConfig struct {
	Enabled  bool   `json:"enabled"`
	Start    string `json:"start"`
	End      string `json:"end"`
	Timezone string `json:"timezone"`
}

// PricePreference is a user-owned rule describing desired price, seat and
// quantity criteria plus notification behavior. Read-only to the engine.
type PricePreference struct {
	ID     string `json:"id" db:"id"`
	UserID string `json:"user_id" db:"user_id"`
	Name   string `json:"name" db:"name"`

	// Matching criteria
	Category           string              `json:"sport_category,omitempty" db:"category"`
	MinPrice           decimal.NullDecimal `json:"min_price" db:"min_price"`
	MaxPrice           decimal.NullDecimal `json:"max_price" db:"max_price"`
	PreferredQuantity  int                 `json:"preferred_quantity" db:"preferred_quantity"`
	SeatPreferences    []SeatTag           `json:"seat_preferences,omitempty" db:"seat_preferences"`
	SectionPreferences []string            `json:"section_preferences,omitempty" db:"section_preferences"`

	// Significance
	PriceDropThreshold     decimal.Decimal `json:"price_drop_threshold" db:"price_drop_threshold"`
	PriceIncreaseThreshold decimal.Decimal `json:"price_increase_threshold" db:"price_increase_threshold"`

	// Auto-purchase
	AutoPurchaseEnabled  bool                `json:"auto_purchase_enabled" db:"auto_purchase_enabled"`
	AutoPurchaseMaxPrice decimal.NullDecimal `json:"auto_purchase_max_price" db:"auto_purchase_max_price"`

	// Delivery
	Channels   ChannelSet        `json:"channels" db:"channels"`
	Frequency  AlertFrequency    `json:"alert_frequency" db:"alert_frequency"`
	QuietHours *QuietHoursConfig `json:"quiet_hours,omitempty" db:"quiet_hours"`

	// Lifetime
	Duration DurationCode `json:"duration" db:"duration_code"`
	Active   bool         `json:"active" db:"active"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// AutoPurchaseCeiling returns the auto-purchase price ceiling, falling back to
// MaxPrice when no explicit ceiling is configured.
func (p *PricePreference) AutoPurchaseCeiling() decimal.NullDecimal {
	if p.AutoPurchaseMaxPrice.Valid {
		return p.AutoPurchaseMaxPrice
	}
	return p.MaxPrice
}

// AlertState tracks one (preference, listing identity) pair through the alert
// lifecycle. Mutated only by the alert state machine.
type AlertState struct {
	ID                string              `json:"id" db:"id"`
	PreferenceID      string              `json:"preference_id" db:"preference_id"`
	UserID            string              `json:"user_id" db:"user_id"`
	ListingKey        string              `json:"listing_key" db:"listing_key"`
	Status            AlertStatus         `json:"status" db:"status"`
	LastTriggeredAt   *time.Time          `json:"last_triggered_at,omitempty" db:"last_triggered_at"`
	LastNotifiedAt    *time.Time          `json:"last_notified_at,omitempty" db:"last_notified_at"`
	LastObservedPrice decimal.NullDecimal `json:"last_observed_price" db:"last_observed_price"`
	TriggerCount      int                 `json:"trigger_count" db:"trigger_count"`
	ExpiresAt         time.Time           `json:"expires_at" db:"expires_at"`
	Version           int64               `json:"-" db:"version"`
	CreatedAt         time.Time           `json:"created_at" db:"created_at"`
	UpdatedAt         time.Time           `json:"updated_at" db:"updated_at"`
}

// ConstraintResult reports the outcome of one matching test.
type ConstraintResult struct {
	Passed bool   `json:"passed"`
	Detail string `json:"detail"`
}

// MatchConstraints breaks a match down per criterion so a non-match can be
// explained.
type MatchConstraints struct {
	Category ConstraintResult `json:"category"`
	Price    ConstraintResult `json:"price"`
	Quantity ConstraintResult `json:"quantity"`
	Seat     ConstraintResult `json:"seat"`
	Section  ConstraintResult `json:"section"`
}

// MatchResult is the ephemeral outcome of testing a listing against a
// preference.
type MatchResult struct {
	PreferenceID   string              `json:"preference_id"`
	ListingID      string              `json:"listing_id"`
	Matches        bool                `json:"matches"`
	Constraints    MatchConstraints    `json:"constraints"`
	EffectivePrice decimal.Decimal     `json:"effective_price"`
	Savings        decimal.Decimal     `json:"savings"`
	Significance   *SignificanceResult `json:"significance,omitempty"`
}

// Candidate reports whether the listing is the kind of ticket the preference
// describes, regardless of its current price or quantity. Candidate listings
// get an AlertState so that later price moves can be measured.
func (m *MatchResult) Candidate() bool {
	return m.Constraints.Category.Passed && m.Constraints.Seat.Passed && m.Constraints.Section.Passed
}

// SignificanceResult is the output of the significance evaluator.
type SignificanceResult struct {
	Computable    bool            `json:"computable"`
	IsDrop        bool            `json:"is_drop"`
	IsIncrease    bool            `json:"is_increase"`
	PercentChange decimal.Decimal `json:"percent_change"`
	Savings       decimal.Decimal `json:"savings"`
}

// Significant reports whether either direction crossed its threshold.
func (s SignificanceResult) Significant() bool {
	return s.IsDrop || s.IsIncrease
}

// Transition describes a committed (or about to be committed) lifecycle move.
type Transition struct {
	AlertID  string              `json:"alert_id"`
	From     AlertStatus         `json:"from"`
	To       AlertStatus         `json:"to"`
	Event    AlertEvent          `json:"event"`
	Listing  *TicketListing      `json:"listing,omitempty"`
	Price    decimal.Decimal     `json:"price"`
	Previous decimal.NullDecimal `json:"previous_price"`
	Change   SignificanceResult  `json:"change"`
	At       time.Time           `json:"at"`
}

// NotificationDecision records what the engine decided to send and to whom.
// It is handed to an external dispatcher; channel-specific formatting is the
// dispatcher's job.
type NotificationDecision struct {
	ID                 string                           `json:"id"`
	AlertID            string                           `json:"alert_id"`
	PreferenceID       string                           `json:"preference_id"`
	UserID             string                           `json:"user_id"`
	Channels           []ChannelType                    `json:"channels"`
	SuppressedChannels map[ChannelType]SuppressedReason `json:"suppressed_channels,omitempty"`
	SuppressedReason   SuppressedReason                 `json:"suppressed_reason,omitempty"`
	DeliverAfter       *time.Time                       `json:"deliver_after,omitempty"`
	Subject            string                           `json:"subject"`
	BodySummary        string                           `json:"body_summary"`
	Price              decimal.Decimal                  `json:"price"`
	CreatedAt          time.Time                        `json:"created_at"`
}

// Deliverable reports whether at least one channel survived policy checks
// and nothing defers the hand-off.
func (d *NotificationDecision) Deliverable() bool {
	return len(d.Channels) > 0 && d.DeliverAfter == nil
}

// PurchaseIntent signals that a listing satisfies an auto-purchase rule. The
// engine never transacts; execution is an external collaborator.
type PurchaseIntent struct {
	ID        string          `json:"id"`
	AlertID   string          `json:"alert_id"`
	UserID    string          `json:"user_id"`
	ListingID string          `json:"listing_id"`
	Price     decimal.Decimal `json:"price"`
	Quantity  int             `json:"quantity"`
	CreatedAt time.Time       `json:"created_at"`
}

// AlertHistoryEntry is an append-only record of an observation or lifecycle
// change, backing the alert history view.
type AlertHistoryEntry struct {
	ID         string              `json:"id"`
	AlertID    string              `json:"alert_id"`
	ObservedAt time.Time           `json:"observed_at"`
	Price      decimal.NullDecimal `json:"price"`
	Quantity   *int                `json:"quantity,omitempty"`
	Status     AlertStatus         `json:"status"`
	Message    string              `json:"message"`
}

// PreferenceNotificationState is the persisted frequency-window bookkeeping
// for a preference. LastNotifiedAt is the only input the throttle needs, so
// recomputing a decision after a restart yields the same answer.
type PreferenceNotificationState struct {
	PreferenceID      string     `json:"preference_id"`
	LastNotifiedAt    *time.Time `json:"last_notified_at,omitempty"`
	PendingDecisionID string     `json:"pending_decision_id,omitempty"`
	Version           int64      `json:"-"`
}

// OutboxRecord is a persisted NotificationDecision awaiting dispatch.
type OutboxRecord struct {
	Decision     NotificationDecision `json:"decision"`
	Status       DispatchStatus       `json:"status"`
	Attempts     int                  `json:"attempts"`
	DispatchedAt *time.Time           `json:"dispatched_at,omitempty"`
}

// PriceInsights are deterministic figures derived from alert history.
type PriceInsights struct {
	PreferenceID    string              `json:"preference_id"`
	WindowStart     time.Time           `json:"window_start"`
	WindowEnd       time.Time           `json:"window_end"`
	Observations    int                 `json:"observations"`
	Trend           TrendDirection      `json:"trend"`
	TrendPercent    decimal.Decimal     `json:"trend_percent"`
	LowestPrice     decimal.NullDecimal `json:"lowest_price"`
	AverageSavings  decimal.Decimal     `json:"average_savings"`
	DemandIndicator decimal.NullDecimal `json:"demand_indicator"`
	TriggerCount    int                 `json:"trigger_count"`
}
