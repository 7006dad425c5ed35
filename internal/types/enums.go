package types

// AlertStatus represents the lifecycle state of an AlertState record.
type AlertStatus string

const (
	AlertStatusActive    AlertStatus = "active"
	AlertStatusTriggered AlertStatus = "triggered"
	AlertStatusPaused    AlertStatus = "paused"
	AlertStatusExpired   AlertStatus = "expired"
	AlertStatusDismissed AlertStatus = "dismissed"

	// AlertStatusRemoved is never stored. It labels the history entry written
	// when an alert is deleted.
	AlertStatusRemoved AlertStatus = "removed"
)

// IsTerminal reports whether no transition leaves this status.
func (s AlertStatus) IsTerminal() bool {
	return s == AlertStatusExpired || s == AlertStatusDismissed
}

// AlertEvent is an input to the alert lifecycle state machine.
type AlertEvent string

const (
	EventTrigger AlertEvent = "trigger"
	EventDismiss AlertEvent = "dismiss"
	EventPause   AlertEvent = "pause"
	EventResume  AlertEvent = "resume"
	EventExpire  AlertEvent = "expire"
	EventDelete  AlertEvent = "delete"
)

// ChannelType identifies a notification delivery channel.
type ChannelType string

const (
	ChannelEmail ChannelType = "email"
	ChannelPush  ChannelType = "push"
	ChannelSMS   ChannelType = "sms"
)

// AllChannels lists channels in their canonical order.
var AllChannels = []ChannelType{ChannelEmail, ChannelPush, ChannelSMS}

// IsIntrusive reports whether quiet hours apply to the channel.
func (c ChannelType) IsIntrusive() bool {
	return c == ChannelPush || c == ChannelSMS
}

// AlertFrequency controls how often a preference may notify.
type AlertFrequency string

const (
	FrequencyImmediate AlertFrequency = "immediate"
	FrequencyHourly    AlertFrequency = "hourly"
	FrequencyDaily     AlertFrequency = "daily"
)

// DurationCode is the user-facing alert lifetime selector.
type DurationCode string

const (
	Duration1Day       DurationCode = "1_day"
	Duration3Days      DurationCode = "3_days"
	Duration1Week      DurationCode = "1_week"
	Duration1Month     DurationCode = "1_month"
	DurationUntilEvent DurationCode = "until_event"
)

// SeatTag is a seat-metadata label a preference may require.
type SeatTag string

const (
	SeatAisle          SeatTag = "aisle"
	SeatLowerBowl      SeatTag = "lower-bowl"
	SeatUpperDeck      SeatTag = "upper-deck"
	SeatFloor          SeatTag = "floor"
	SeatCourtside      SeatTag = "courtside"
	SeatClub           SeatTag = "club"
	SeatBox            SeatTag = "box"
	SeatFrontRow       SeatTag = "front-row"
	SeatAccessible     SeatTag = "accessible"
	SeatObstructedView SeatTag = "obstructed-view"
)

// KnownSeatTags is the validated option set for seat preferences.
var KnownSeatTags = map[SeatTag]struct{}{
	SeatAisle:          {},
	SeatLowerBowl:      {},
	SeatUpperDeck:      {},
	SeatFloor:          {},
	SeatCourtside:      {},
	SeatClub:           {},
	SeatBox:            {},
	SeatFrontRow:       {},
	SeatAccessible:     {},
	SeatObstructedView: {},
}

// SuppressedReason explains why a notification was not sent on a channel.
type SuppressedReason string

const (
	SuppressedNone         SuppressedReason = ""
	SuppressedQuietHours   SuppressedReason = "quiet_hours"
	SuppressedFrequencyCap SuppressedReason = "frequency_cap"
	SuppressedNoChannels   SuppressedReason = "no_channels"
)

// DispatchStatus tracks outbox rows awaiting hand-off to an external collaborator.
// These values MUST match the CHECK constraint on notification_outbox and
// purchase_intents.
type DispatchStatus string

const (
	DispatchPending    DispatchStatus = "pending"
	DispatchQueued     DispatchStatus = "queued"
	DispatchDispatched DispatchStatus = "dispatched"
	DispatchSuppressed DispatchStatus = "suppressed"
	DispatchSuperseded DispatchStatus = "superseded"
)

// TrendDirection summarizes a price series.
type TrendDirection string

const (
	TrendRising       TrendDirection = "rising"
	TrendFalling      TrendDirection = "falling"
	TrendStable       TrendDirection = "stable"
	TrendInsufficient TrendDirection = "insufficient_data"
)
