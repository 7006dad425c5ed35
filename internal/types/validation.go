package types

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Validation constraint constants.
const (
	MaxNameLength        = 200
	MaxSeatPreferences   = 10
	MaxSectionPrefs      = 20
	MaxPreferredQuantity = 50
	MaxThresholdPercent  = 100
	HistoryDefaultWindow = 30 * 24 * time.Hour
	HistoryMaxWindow     = 366 * 24 * time.Hour
)

var maxThreshold = decimal.NewFromInt(MaxThresholdPercent)

// IsValid reports whether the frequency is one of the known options.
func (f AlertFrequency) IsValid() bool {
	switch f {
	case FrequencyImmediate, FrequencyHourly, FrequencyDaily:
		return true
	}
	return false
}

// IsValid reports whether the duration code is one of the known options.
func (d DurationCode) IsValid() bool {
	switch d {
	case Duration1Day, Duration3Days, Duration1Week, Duration1Month, DurationUntilEvent:
		return true
	}
	return false
}

// IsValid reports whether the tag belongs to the known seat option set.
func (t SeatTag) IsValid() bool {
	_, ok := KnownSeatTags[SeatTag(strings.ToLower(string(t)))]
	return ok
}

// Validate rejects listings that cannot be evaluated: missing identity,
// missing or negative price, negative quantity.
func (l *TicketListing) Validate() error {
	if strings.TrimSpace(l.ID) == "" || strings.TrimSpace(l.Platform) == "" {
		return NewAppError(ErrCodeValidationMalformedListing, "listing id and platform are required", nil)
	}
	if !l.MinPrice.Valid {
		return NewAppError(ErrCodeValidationMalformedListing, "listing has no price", nil)
	}
	if l.MinPrice.Decimal.IsNegative() {
		return NewAppError(ErrCodeValidationMalformedListing,
			fmt.Sprintf("listing price %s is negative", l.MinPrice.Decimal.StringFixed(2)), nil)
	}
	if l.MaxPrice.Valid && l.MaxPrice.Decimal.LessThan(l.MinPrice.Decimal) {
		return NewAppError(ErrCodeValidationMalformedListing, "listing max price is below min price", nil)
	}
	if l.Quantity != nil && *l.Quantity < 0 {
		return NewAppError(ErrCodeValidationMalformedListing,
			fmt.Sprintf("listing quantity %d is negative", *l.Quantity), nil)
	}
	return nil
}

// Validate rejects preferences the engine cannot evaluate safely. The
// preference CRUD owns validation at write time; the engine re-checks so a
// bad row is excluded instead of crashing a batch.
func (p *PricePreference) Validate() error {
	if strings.TrimSpace(p.ID) == "" {
		return NewAppError(ErrCodeValidationMalformedPref, "preference id is required", nil)
	}
	if len(p.Name) > MaxNameLength {
		return NewAppError(ErrCodeValidationMalformedPref,
			fmt.Sprintf("name exceeds %d characters", MaxNameLength), nil)
	}
	if !p.MaxPrice.Valid {
		return NewAppError(ErrCodeValidationInvalidPrice, "max_price is required", nil)
	}
	if p.MaxPrice.Decimal.IsNegative() {
		return NewAppError(ErrCodeValidationInvalidPrice, "max_price must not be negative", nil)
	}
	if p.MinPrice.Valid {
		if p.MinPrice.Decimal.IsNegative() {
			return NewAppError(ErrCodeValidationInvalidPrice, "min_price must not be negative", nil)
		}
		if p.MinPrice.Decimal.GreaterThan(p.MaxPrice.Decimal) {
			return NewAppError(ErrCodeValidationInvalidPrice, "min_price exceeds max_price", nil)
		}
	}
	if p.AutoPurchaseMaxPrice.Valid && p.AutoPurchaseMaxPrice.Decimal.IsNegative() {
		return NewAppError(ErrCodeValidationInvalidPrice, "auto_purchase_max_price must not be negative", nil)
	}
	if p.PreferredQuantity < 0 || p.PreferredQuantity > MaxPreferredQuantity {
		return NewAppError(ErrCodeValidationInvalidQuantity,
			fmt.Sprintf("preferred_quantity must be between 0 and %d", MaxPreferredQuantity), nil)
	}
	if err := validateThreshold("price_drop_threshold", p.PriceDropThreshold); err != nil {
		return err
	}
	if err := validateThreshold("price_increase_threshold", p.PriceIncreaseThreshold); err != nil {
		return err
	}
	if len(p.SeatPreferences) > MaxSeatPreferences {
		return NewAppError(ErrCodeValidationInvalidEnum, "too many seat preferences", nil)
	}
	for _, tag := range p.SeatPreferences {
		if !tag.IsValid() {
			return NewAppErrorWithDetails(ErrCodeValidationInvalidEnum, "unknown seat preference", nil,
				map[string]any{"seat_preference": string(tag)})
		}
	}
	if len(p.SectionPreferences) > MaxSectionPrefs {
		return NewAppError(ErrCodeValidationInvalidEnum, "too many section preferences", nil)
	}
	if p.Frequency != "" && !p.Frequency.IsValid() {
		return NewAppErrorWithDetails(ErrCodeValidationInvalidEnum, "unknown alert frequency", nil,
			map[string]any{"alert_frequency": string(p.Frequency)})
	}
	if p.Duration != "" && !p.Duration.IsValid() {
		return NewAppErrorWithDetails(ErrCodeValidationInvalidEnum, "unknown duration code", nil,
			map[string]any{"duration": string(p.Duration)})
	}
	return ValidateQuietHours(p.QuietHours)
}

func validateThreshold(field string, v decimal.Decimal) error {
	if v.IsNegative() || v.GreaterThan(maxThreshold) {
		return NewAppErrorWithDetails(ErrCodeValidationInvalidThreshold,
			fmt.Sprintf("%s must be between 0 and %d", field, MaxThresholdPercent), nil,
			map[string]any{"field": field, "value": v.String()})
	}
	return nil
}

// ValidateQuietHours checks the HH:MM bounds and the IANA timezone of an
// enabled quiet-hours window. A nil or disabled config is valid.
func ValidateQuietHours(qh *QuietHoursConfig) error {
	if qh == nil || !qh.Enabled {
		return nil
	}
	if _, err := ParseTimeOfDay(qh.Start); err != nil {
		return NewAppError(ErrCodeValidationQuietHours, "quiet hours start must be HH:MM", err)
	}
	if _, err := ParseTimeOfDay(qh.End); err != nil {
		return NewAppError(ErrCodeValidationQuietHours, "quiet hours end must be HH:MM", err)
	}
	if qh.Timezone != "" {
		if _, err := time.LoadLocation(qh.Timezone); err != nil {
			return NewAppError(ErrCodeValidationInvalidTimezone, "unknown quiet hours timezone", err)
		}
	}
	return nil
}

// ParseTimeOfDay parses "HH:MM" (24-hour clock) into minutes since midnight.
func ParseTimeOfDay(s string) (int, error) {
	if len(s) != 5 || s[2] != ':' {
		return 0, fmt.Errorf("invalid time format %q, expected HH:MM", s)
	}
	for _, i := range [...]int{0, 1, 3, 4} {
		if s[i] < '0' || s[i] > '9' {
			return 0, fmt.Errorf("invalid time format %q, expected HH:MM", s)
		}
	}
	h := int(s[0]-'0')*10 + int(s[1]-'0')
	m := int(s[3]-'0')*10 + int(s[4]-'0')
	if h > 23 || m > 59 {
		return 0, fmt.Errorf("time out of range %q", s)
	}
	return h*60 + m, nil
}

// ValidateTimeWindow ensures To > From and caps the span of a history query.
func ValidateTimeWindow(from, to time.Time) error {
	if !to.After(from) {
		return NewAppError(ErrCodeValidationTimeWindow, "to must be after from", nil)
	}
	if to.Sub(from) > HistoryMaxWindow {
		return NewAppError(ErrCodeValidationTimeWindow, "maximum window is 366 days", nil)
	}
	return nil
}
