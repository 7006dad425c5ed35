package types

import (
	"time"

	"github.com/shopspring/decimal"
)

// ListingMessage is the SQS payload produced by the scraper for every
// observed listing. JSON tags use snake_case to match the scraper's schema.
type ListingMessage struct {
	ID         string              `json:"id"`
	Title      string              `json:"title"`
	Venue      string              `json:"venue"`
	Category   string              `json:"sport_category"`
	MinPrice   decimal.NullDecimal `json:"min_price"`
	MaxPrice   decimal.NullDecimal `json:"max_price"`
	Quantity   *int                `json:"quantity"`
	Section    string              `json:"section"`
	SeatTags   []string            `json:"seat_tags"`
	Platform   string              `json:"platform"`
	EventDate  *time.Time          `json:"event_date,omitempty"`
	ObservedAt time.Time           `json:"observed_at"`
	TraceID    string              `json:"trace_id,omitempty"`
}

// Listing converts the transport envelope into the domain value.
func (m ListingMessage) Listing() TicketListing {
	return TicketListing{
		ID:         m.ID,
		Title:      m.Title,
		Venue:      m.Venue,
		Category:   m.Category,
		MinPrice:   m.MinPrice,
		MaxPrice:   m.MaxPrice,
		Quantity:   m.Quantity,
		Section:    m.Section,
		SeatTags:   m.SeatTags,
		Platform:   m.Platform,
		EventDate:  m.EventDate,
		ObservedAt: m.ObservedAt,
	}
}

// NotificationMessage is the SQS payload handed to the external notification
// dispatcher. The dispatcher owns channel-specific formatting.
type NotificationMessage struct {
	DecisionID       string           `json:"decision_id"`
	AlertID          string           `json:"alert_id"`
	UserID           string           `json:"user_id"`
	Channels         []ChannelType    `json:"channels"`
	Subject          string           `json:"subject"`
	BodySummary      string           `json:"body_summary"`
	SuppressedReason SuppressedReason `json:"suppressed_reason,omitempty"`

	// Observability
	TraceID string `json:"trace_id"`
}

// NewNotificationMessage builds the dispatch envelope for a decision.
func NewNotificationMessage(d *NotificationDecision, traceID string) NotificationMessage {
	return NotificationMessage{
		DecisionID:       d.ID,
		AlertID:          d.AlertID,
		UserID:           d.UserID,
		Channels:         d.Channels,
		Subject:          d.Subject,
		BodySummary:      d.BodySummary,
		SuppressedReason: d.SuppressedReason,
		TraceID:          traceID,
	}
}

// PurchaseIntentMessage is handed to the external purchase executor.
type PurchaseIntentMessage struct {
	IntentID  string          `json:"intent_id"`
	AlertID   string          `json:"alert_id"`
	ListingID string          `json:"listing_id"`
	Price     decimal.Decimal `json:"price"`
	Quantity  int             `json:"quantity"`
}

// NewPurchaseIntentMessage builds the hand-off envelope for an intent.
func NewPurchaseIntentMessage(in *PurchaseIntent) PurchaseIntentMessage {
	return PurchaseIntentMessage{
		IntentID:  in.ID,
		AlertID:   in.AlertID,
		ListingID: in.ListingID,
		Price:     in.Price,
		Quantity:  in.Quantity,
	}
}
