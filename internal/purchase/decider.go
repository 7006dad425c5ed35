// Package purchase decides when a matching listing qualifies for automatic
// purchase and hands the resulting intent to the purchase executor. The
// engine never transacts.
package purchase

import (
	"strconv"
	"time"

	"github.com/google/uuid"

	"ticketwatch/internal/types"
)

var intentNamespace = uuid.MustParse("0b7d5a3e-91c4-4c1e-8f0d-6a2e4b9c7d31")

// Decider is the auto-purchase rule. It is stateless.
type Decider struct{}

// NewDecider returns a Decider.
func NewDecider() *Decider { return &Decider{} }

// ShouldAutoPurchase reports whether an intent should be raised for the
// listing: auto-purchase is enabled, the listing fully matches, and its price
// is at or below the ceiling (AutoPurchaseMaxPrice, else MaxPrice). With no
// ceiling at all nothing is bought.
func (d *Decider) ShouldAutoPurchase(listing *types.TicketListing, pref *types.PricePreference, match *types.MatchResult) bool {
	if !pref.AutoPurchaseEnabled || match == nil || !match.Matches {
		return false
	}
	if !listing.MinPrice.Valid {
		return false
	}
	ceiling := pref.AutoPurchaseCeiling()
	if !ceiling.Valid {
		return false
	}
	return listing.EffectivePrice().LessThanOrEqual(ceiling.Decimal)
}

// Intent builds the PurchaseIntent for alertID at the listing's current
// price. The ID is derived from the alert and its trigger cycle, so price
// movement within one cycle yields the same intent and the store keeps only
// the first.
func (d *Decider) Intent(alertID string, cycle int, listing *types.TicketListing, pref *types.PricePreference, now time.Time) types.PurchaseIntent {
	price := listing.EffectivePrice()
	qty := pref.PreferredQuantity
	if qty < 1 {
		qty = 1
	}
	return types.PurchaseIntent{
		ID:        IntentID(alertID, cycle),
		AlertID:   alertID,
		UserID:    pref.UserID,
		ListingID: listing.ID,
		Price:     price,
		Quantity:  qty,
		CreatedAt: now,
	}
}

// IntentID derives the deterministic intent ID for an alert's trigger cycle.
func IntentID(alertID string, cycle int) string {
	return uuid.NewSHA1(intentNamespace, []byte(alertID+"#"+strconv.Itoa(cycle))).String()
}
