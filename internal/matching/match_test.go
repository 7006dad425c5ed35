package matching

import (
	"testing"

	"github.com/shopspring/decimal"

	"ticketwatch/internal/types"
)

func money(v int64) decimal.NullDecimal {
	return decimal.NewNullDecimal(decimal.NewFromInt(v))
}

func intPtr(v int) *int { return &v }

func basePref() *types.PricePreference {
	return &types.PricePreference{
		ID:                 "pref-1",
		Category:           "Basketball",
		MaxPrice:           money(150),
		PreferredQuantity:  2,
		PriceDropThreshold: decimal.NewFromInt(10),
	}
}

func baseListing() *types.TicketListing {
	return &types.TicketListing{
		ID:       "L-100",
		Category: "basketball",
		Platform: "stubhub",
		MinPrice: money(135),
		Quantity: intPtr(4),
		Section:  "Lower Level 112",
		SeatTags: []string{"aisle", "lower-bowl"},
	}
}

func TestMatch_FullMatch(t *testing.T) {
	res := Match(baseListing(), basePref())

	if !res.Matches {
		t.Fatalf("expected match, constraints: %+v", res.Constraints)
	}
	if !res.Savings.Equal(decimal.NewFromInt(15)) {
		t.Errorf("Savings = %s, want 15", res.Savings)
	}
	if res.PreferenceID != "pref-1" || res.ListingID != "L-100" {
		t.Errorf("ids not propagated: %+v", res)
	}
}

func TestMatch_Category(t *testing.T) {
	l := baseListing()
	l.Category = "Hockey"
	res := Match(l, basePref())
	if res.Matches || res.Constraints.Category.Passed {
		t.Error("category mismatch should fail")
	}
	if res.Candidate() {
		t.Error("category mismatch is not a candidate")
	}

	p := basePref()
	p.Category = ""
	if !Match(l, p).Constraints.Category.Passed {
		t.Error("unset category should match anything")
	}
}

func TestMatch_Price(t *testing.T) {
	tests := []struct {
		name   string
		min    decimal.NullDecimal
		price  int64
		passed bool
	}{
		{"below max", decimal.NullDecimal{}, 149, true},
		{"equal max", decimal.NullDecimal{}, 150, true},
		{"above max", decimal.NullDecimal{}, 160, false},
		{"below min", money(100), 90, false},
		{"equal min", money(100), 100, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := basePref()
			p.MinPrice = tt.min
			l := baseListing()
			l.MinPrice = money(tt.price)

			res := Match(l, p)
			if res.Constraints.Price.Passed != tt.passed {
				t.Errorf("price passed = %v, want %v (%s)", res.Constraints.Price.Passed, tt.passed, res.Constraints.Price.Detail)
			}
			if !res.Candidate() {
				t.Error("price should not affect candidacy")
			}
		})
	}
}

func TestMatch_Quantity(t *testing.T) {
	l := baseListing()
	l.Quantity = intPtr(1)
	if Match(l, basePref()).Constraints.Quantity.Passed {
		t.Error("1 available, 2 wanted should fail")
	}

	l.Quantity = nil
	if !Match(l, basePref()).Constraints.Quantity.Passed {
		t.Error("unreported quantity should be treated as satisfied")
	}
}

func TestMatch_SeatPreferences(t *testing.T) {
	p := basePref()
	p.SeatPreferences = []types.SeatTag{types.SeatAisle}

	l := baseListing()
	l.SeatTags = []string{"aisle", "lower-bowl"}
	if !Match(l, p).Matches {
		t.Error("aisle ∩ {aisle, lower-bowl} should match")
	}

	l.SeatTags = []string{"upper-deck"}
	res := Match(l, p)
	if res.Matches || res.Constraints.Seat.Passed {
		t.Error("aisle ∩ {upper-deck} should not match")
	}

	l.SeatTags = []string{"AISLE"}
	if !Match(l, p).Constraints.Seat.Passed {
		t.Error("seat comparison should be case-insensitive")
	}

	p.SeatPreferences = nil
	l.SeatTags = nil
	if !Match(l, p).Constraints.Seat.Passed {
		t.Error("empty seat preference is no constraint")
	}
}

func TestMatch_SectionSubstring(t *testing.T) {
	p := basePref()
	p.SectionPreferences = []string{"floor", "lower level"}

	l := baseListing()
	l.Section = "LOWER LEVEL 112"
	if !Match(l, p).Constraints.Section.Passed {
		t.Error("case-insensitive substring should match")
	}

	l.Section = "Upper Level 301"
	if Match(l, p).Constraints.Section.Passed {
		t.Error("unrelated section should not match")
	}
}

func TestMatch_MissingMaxPriceNeverMatches(t *testing.T) {
	p := basePref()
	p.MaxPrice = decimal.NullDecimal{}
	res := Match(baseListing(), p)
	if res.Matches {
		t.Error("preference without max price must not match")
	}
	if !res.Savings.IsZero() {
		t.Errorf("Savings = %s, want 0", res.Savings)
	}
}
