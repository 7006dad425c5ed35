// Package matching tests ticket listings against price preferences and
// measures how significant a price move is. Everything here is a pure
// function of its inputs so the pipeline can fan out freely.
package matching

import (
	"fmt"
	"strings"

	"ticketwatch/internal/types"
)

// Match tests a listing against a preference and reports every constraint
// individually so a non-match can be explained.
//
// Matches is the conjunction of category, price, quantity, seat and section.
// The significance field is left nil; it depends on alert history and is
// filled in by the alert state machine.
func Match(listing *types.TicketListing, pref *types.PricePreference) types.MatchResult {
	price := listing.EffectivePrice()

	c := types.MatchConstraints{
		Category: matchCategory(listing, pref),
		Price:    matchPrice(listing, pref),
		Quantity: matchQuantity(listing, pref),
		Seat:     matchSeat(listing, pref),
		Section:  matchSection(listing, pref),
	}

	return types.MatchResult{
		PreferenceID:   pref.ID,
		ListingID:      listing.ID,
		Matches:        c.Category.Passed && c.Price.Passed && c.Quantity.Passed && c.Seat.Passed && c.Section.Passed,
		Constraints:    c,
		EffectivePrice: price,
		Savings:        Savings(price, pref),
	}
}

func matchCategory(l *types.TicketListing, p *types.PricePreference) types.ConstraintResult {
	want := strings.TrimSpace(p.Category)
	if want == "" {
		return types.ConstraintResult{Passed: true, Detail: "no category filter"}
	}
	if strings.EqualFold(want, strings.TrimSpace(l.Category)) {
		return types.ConstraintResult{Passed: true, Detail: fmt.Sprintf("category %q", want)}
	}
	return types.ConstraintResult{Detail: fmt.Sprintf("category %q does not match %q", l.Category, want)}
}

func matchPrice(l *types.TicketListing, p *types.PricePreference) types.ConstraintResult {
	if !l.MinPrice.Valid {
		return types.ConstraintResult{Detail: "listing has no price"}
	}
	if !p.MaxPrice.Valid {
		return types.ConstraintResult{Detail: "preference has no max price"}
	}
	price := l.MinPrice.Decimal
	hi := p.MaxPrice.Decimal

	if p.MinPrice.Valid {
		lo := p.MinPrice.Decimal
		if price.LessThan(lo) || price.GreaterThan(hi) {
			return types.ConstraintResult{Detail: fmt.Sprintf("price %s outside %s-%s",
				price.StringFixed(2), lo.StringFixed(2), hi.StringFixed(2))}
		}
		return types.ConstraintResult{Passed: true, Detail: fmt.Sprintf("price %s within %s-%s",
			price.StringFixed(2), lo.StringFixed(2), hi.StringFixed(2))}
	}
	if price.GreaterThan(hi) {
		return types.ConstraintResult{Detail: fmt.Sprintf("price %s above max %s",
			price.StringFixed(2), hi.StringFixed(2))}
	}
	return types.ConstraintResult{Passed: true, Detail: fmt.Sprintf("price %s at or below max %s",
		price.StringFixed(2), hi.StringFixed(2))}
}

// matchQuantity treats an unreported quantity as satisfied. Scrapes are
// often incomplete and a false negative costs the user the alert.
func matchQuantity(l *types.TicketListing, p *types.PricePreference) types.ConstraintResult {
	if l.Quantity == nil {
		return types.ConstraintResult{Passed: true, Detail: "quantity not reported"}
	}
	if *l.Quantity >= p.PreferredQuantity {
		return types.ConstraintResult{Passed: true, Detail: fmt.Sprintf("%d available, %d wanted", *l.Quantity, p.PreferredQuantity)}
	}
	return types.ConstraintResult{Detail: fmt.Sprintf("only %d available, %d wanted", *l.Quantity, p.PreferredQuantity)}
}

func matchSeat(l *types.TicketListing, p *types.PricePreference) types.ConstraintResult {
	if len(p.SeatPreferences) == 0 {
		return types.ConstraintResult{Passed: true, Detail: "no seat preference"}
	}
	have := make(map[string]struct{}, len(l.SeatTags))
	for _, tag := range l.SeatTags {
		have[strings.ToLower(strings.TrimSpace(tag))] = struct{}{}
	}
	for _, want := range p.SeatPreferences {
		if _, ok := have[strings.ToLower(string(want))]; ok {
			return types.ConstraintResult{Passed: true, Detail: fmt.Sprintf("seat %q", want)}
		}
	}
	return types.ConstraintResult{Detail: fmt.Sprintf("seat tags %v share nothing with %v", l.SeatTags, p.SeatPreferences)}
}

func matchSection(l *types.TicketListing, p *types.PricePreference) types.ConstraintResult {
	if len(p.SectionPreferences) == 0 {
		return types.ConstraintResult{Passed: true, Detail: "no section preference"}
	}
	section := strings.ToLower(l.Section)
	for _, want := range p.SectionPreferences {
		w := strings.ToLower(strings.TrimSpace(want))
		if w != "" && strings.Contains(section, w) {
			return types.ConstraintResult{Passed: true, Detail: fmt.Sprintf("section %q contains %q", l.Section, want)}
		}
	}
	return types.ConstraintResult{Detail: fmt.Sprintf("section %q matches none of %v", l.Section, p.SectionPreferences)}
}
