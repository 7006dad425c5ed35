// Package insights derives price figures for a preference from its alert
// history. Every figure is a pure function of the history window, so the
// same window always yields the same answer.
package insights

import (
	"context"
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"ticketwatch/internal/matching"
	"ticketwatch/internal/types"
)

// StableBand is the absolute percent change within which a series counts
// as stable.
var StableBand = decimal.NewFromInt(2)

var hundred = decimal.NewFromInt(100)

// Compute summarizes entries observed in [from, to). Entries may belong to
// several alerts of the preference and may arrive in any order.
//
//   - Trend compares the first and last priced observation in the window.
//   - DemandIndicator is the share of listed inventory that disappeared over
//     the window, in percent, from observations that carried a quantity.
//   - AverageSavings is the mean of max(0, max_price - price).
//   - TriggerCount counts moves into triggered, per alert.
func Compute(pref *types.PricePreference, entries []types.AlertHistoryEntry, from, to time.Time) types.PriceInsights {
	out := types.PriceInsights{
		PreferenceID: pref.ID,
		WindowStart:  from,
		WindowEnd:    to,
		Trend:        types.TrendInsufficient,
	}

	series := make([]types.AlertHistoryEntry, 0, len(entries))
	for _, e := range entries {
		if e.ObservedAt.Before(from) || !e.ObservedAt.Before(to) {
			continue
		}
		series = append(series, e)
	}
	sort.SliceStable(series, func(i, j int) bool {
		if !series[i].ObservedAt.Equal(series[j].ObservedAt) {
			return series[i].ObservedAt.Before(series[j].ObservedAt)
		}
		return series[i].ID < series[j].ID
	})

	out.TriggerCount = countTriggers(series)

	var priced []decimal.Decimal
	var quantities []int
	savings := decimal.Zero
	for _, e := range series {
		if e.Quantity != nil {
			quantities = append(quantities, *e.Quantity)
		}
		if !e.Price.Valid {
			continue
		}
		p := e.Price.Decimal
		priced = append(priced, p)
		savings = savings.Add(matching.Savings(p, pref))
		if !out.LowestPrice.Valid || p.LessThan(out.LowestPrice.Decimal) {
			out.LowestPrice = decimal.NewNullDecimal(p)
		}
	}
	out.Observations = len(priced)

	if len(priced) > 0 {
		out.AverageSavings = savings.Div(decimal.NewFromInt(int64(len(priced)))).Round(2)
	}
	if len(priced) >= 2 && !priced[0].IsZero() {
		pct := matching.PercentChange(priced[0], priced[len(priced)-1])
		out.TrendPercent = pct
		switch {
		case pct.Abs().LessThan(StableBand):
			out.Trend = types.TrendStable
		case pct.IsPositive():
			out.Trend = types.TrendRising
		default:
			out.Trend = types.TrendFalling
		}
	}
	if len(quantities) >= 2 && quantities[0] > 0 {
		first := decimal.NewFromInt(int64(quantities[0]))
		last := decimal.NewFromInt(int64(quantities[len(quantities)-1]))
		out.DemandIndicator = decimal.NewNullDecimal(first.Sub(last).Mul(hundred).Div(first).Round(2))
	}
	return out
}

func countTriggers(series []types.AlertHistoryEntry) int {
	last := make(map[string]types.AlertStatus)
	n := 0
	for _, e := range series {
		if e.Status == types.AlertStatusTriggered && last[e.AlertID] != types.AlertStatusTriggered {
			n++
		}
		last[e.AlertID] = e.Status
	}
	return n
}

// HistoryReader returns the history of a preference's live alerts.
type HistoryReader interface {
	ListByPreference(ctx context.Context, preferenceID string, from, to time.Time) ([]types.AlertHistoryEntry, error)
}

// PreferenceGetter loads a preference by ID.
type PreferenceGetter interface {
	GetByID(ctx context.Context, id string) (*types.PricePreference, error)
}

// Service computes insights from stored history.
type Service struct {
	history HistoryReader
	prefs   PreferenceGetter
}

// NewService creates a Service.
func NewService(history HistoryReader, prefs PreferenceGetter) *Service {
	return &Service{history: history, prefs: prefs}
}

// ForPreference computes insights for the window [from, to).
func (s *Service) ForPreference(ctx context.Context, preferenceID string, from, to time.Time) (*types.PriceInsights, error) {
	if err := types.ValidateTimeWindow(from, to); err != nil {
		return nil, err
	}
	pref, err := s.prefs.GetByID(ctx, preferenceID)
	if err != nil {
		return nil, err
	}
	entries, err := s.history.ListByPreference(ctx, preferenceID, from, to)
	if err != nil {
		return nil, err
	}
	out := Compute(pref, entries, from, to)
	return &out, nil
}
