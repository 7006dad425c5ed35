package core

import (
	"reflect"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"ticketwatch/internal/types"
)

// mockLogger implements types.Logger and records error messages.
type mockLogger struct {
	errors []string
}

func (l *mockLogger) Info(msg string, args ...any)  {}
func (l *mockLogger) Error(msg string, args ...any) { l.errors = append(l.errors, msg) }
func (l *mockLogger) Warn(msg string, args ...any)  {}
func (l *mockLogger) With(args ...any) types.Logger { return l }

func testTransition() *types.Transition {
	return &types.Transition{
		AlertID:  "alert-1",
		From:     types.AlertStatusActive,
		To:       types.AlertStatusTriggered,
		Event:    types.EventTrigger,
		Listing:  &types.TicketListing{ID: "L1", Title: "Lakers vs Celtics", Venue: "Crypto.com Arena"},
		Price:    decimal.NewFromInt(135),
		Previous: decimal.NewNullDecimal(decimal.NewFromInt(160)),
		Change: types.SignificanceResult{
			Computable:    true,
			IsDrop:        true,
			PercentChange: decimal.RequireFromString("-15.63"),
			Savings:       decimal.NewFromInt(15),
		},
	}
}

func quietPref() *types.PricePreference {
	return &types.PricePreference{
		ID:        "pref-1",
		UserID:    "user-1",
		Channels:  types.ChannelSet{Email: true, Push: true, SMS: true},
		Frequency: types.FrequencyImmediate,
		QuietHours: &types.QuietHoursConfig{
			Enabled: true,
			Start:   "22:00",
			End:     "06:00",
		},
	}
}

func at(hour, minute int) time.Time {
	return time.Date(2026, 5, 14, hour, minute, 0, 0, time.UTC)
}

func TestRouter_QuietHoursWraparound(t *testing.T) {
	r := NewRouter(&mockLogger{})

	tests := []struct {
		name      string
		now       time.Time
		wantQuiet bool
	}{
		{"23:30 inside overnight window", at(23, 30), true},
		{"03:00 after midnight", at(3, 0), true},
		{"22:00 start is inclusive", at(22, 0), true},
		{"06:00 end is exclusive", at(6, 0), false},
		{"07:00 after window", at(7, 0), false},
		{"21:59 before window", at(21, 59), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := r.Decide(testTransition(), quietPref(), tt.now, nil)

			if tt.wantQuiet {
				if !reflect.DeepEqual(d.Channels, []types.ChannelType{types.ChannelEmail}) {
					t.Errorf("expected email only, got %v", d.Channels)
				}
				if d.SuppressedChannels[types.ChannelPush] != types.SuppressedQuietHours ||
					d.SuppressedChannels[types.ChannelSMS] != types.SuppressedQuietHours {
					t.Errorf("push/sms should be suppressed for quiet hours: %v", d.SuppressedChannels)
				}
				if d.SuppressedReason != types.SuppressedNone {
					t.Errorf("email survived, overall reason should be empty, got %q", d.SuppressedReason)
				}
			} else {
				if len(d.Channels) != 3 {
					t.Errorf("expected all channels, got %v", d.Channels)
				}
				if len(d.SuppressedChannels) != 0 {
					t.Errorf("unexpected suppression: %v", d.SuppressedChannels)
				}
			}
			if !d.Deliverable() {
				t.Error("decision should be deliverable")
			}
		})
	}
}

func TestRouter_QuietHoursUsesUserTimezone(t *testing.T) {
	r := NewRouter(&mockLogger{})
	pref := quietPref()
	pref.QuietHours.Timezone = "America/New_York"

	// 03:30 UTC is 23:30 in New York during daylight saving time.
	d := r.Decide(testTransition(), pref, at(3, 30), nil)
	if _, ok := d.SuppressedChannels[types.ChannelPush]; !ok {
		t.Errorf("push should be suppressed at 23:30 local, got channels %v", d.Channels)
	}

	// 12:00 UTC is 08:00 in New York.
	d = r.Decide(testTransition(), pref, at(12, 0), nil)
	if len(d.SuppressedChannels) != 0 {
		t.Errorf("nothing should be suppressed at 08:00 local: %v", d.SuppressedChannels)
	}
}

func TestRouter_AllIntrusiveChannelsSuppressed(t *testing.T) {
	r := NewRouter(&mockLogger{})
	pref := quietPref()
	pref.Channels = types.ChannelSet{Push: true, SMS: true}

	d := r.Decide(testTransition(), pref, at(23, 30), nil)
	if len(d.Channels) != 0 {
		t.Errorf("expected no channels, got %v", d.Channels)
	}
	if d.SuppressedReason != types.SuppressedQuietHours {
		t.Errorf("SuppressedReason = %q, want quiet_hours", d.SuppressedReason)
	}
	if d.Deliverable() {
		t.Error("decision with no channels must not be deliverable")
	}
}

func TestRouter_NoChannels(t *testing.T) {
	r := NewRouter(&mockLogger{})
	pref := quietPref()
	pref.Channels = types.ChannelSet{}

	d := r.Decide(testTransition(), pref, at(12, 0), nil)
	if d.SuppressedReason != types.SuppressedNoChannels {
		t.Errorf("SuppressedReason = %q, want no_channels", d.SuppressedReason)
	}
}

func TestRouter_InvalidTimezoneFailsOpen(t *testing.T) {
	logger := &mockLogger{}
	r := NewRouter(logger)
	pref := quietPref()
	pref.QuietHours.Timezone = "Not/AZone"

	d := r.Decide(testTransition(), pref, at(23, 30), nil)
	if len(d.Channels) != 3 {
		t.Errorf("expected fail-open delivery on all channels, got %v", d.Channels)
	}
	if len(logger.errors) != 1 {
		t.Errorf("expected one logged error, got %d", len(logger.errors))
	}
}

func TestRouter_FrequencyCap(t *testing.T) {
	r := NewRouter(&mockLogger{})
	pref := quietPref()
	pref.QuietHours = nil
	pref.Frequency = types.FrequencyHourly

	last := at(10, 0)

	capped := r.Decide(testTransition(), pref, at(10, 20), &last)
	if capped.SuppressedReason != types.SuppressedFrequencyCap {
		t.Fatalf("SuppressedReason = %q, want frequency_cap", capped.SuppressedReason)
	}
	if capped.DeliverAfter == nil || !capped.DeliverAfter.Equal(at(11, 0)) {
		t.Errorf("DeliverAfter = %v, want 11:00", capped.DeliverAfter)
	}
	if capped.Deliverable() {
		t.Error("capped decision must not be deliverable now")
	}

	open := r.Decide(testTransition(), pref, at(11, 0), &last)
	if !open.Deliverable() || open.SuppressedReason != types.SuppressedNone {
		t.Errorf("window elapsed, expected deliverable decision: %+v", open)
	}

	pref.Frequency = types.FrequencyDaily
	daily := r.Decide(testTransition(), pref, at(23, 0), &last)
	if daily.DeliverAfter == nil || !daily.DeliverAfter.Equal(last.Add(24*time.Hour)) {
		t.Errorf("daily DeliverAfter = %v", daily.DeliverAfter)
	}
}

func TestRouter_ImmediateIgnoresLastNotified(t *testing.T) {
	r := NewRouter(&mockLogger{})
	pref := quietPref()
	pref.QuietHours = nil
	last := at(11, 59)

	d := r.Decide(testTransition(), pref, at(12, 0), &last)
	if !d.Deliverable() {
		t.Errorf("immediate frequency should always deliver: %+v", d)
	}
}

func TestRouter_DecideIsDeterministic(t *testing.T) {
	r := NewRouter(&mockLogger{})
	pref := quietPref()
	pref.Frequency = types.FrequencyHourly
	last := at(22, 30)

	a := r.Decide(testTransition(), pref, at(23, 0), &last)
	b := r.Decide(testTransition(), pref, at(23, 0), &last)
	if !reflect.DeepEqual(a, b) {
		t.Errorf("recomputation differs:\n%+v\n%+v", a, b)
	}
}

func TestRouter_ReleaseReappliesQuietHours(t *testing.T) {
	r := NewRouter(&mockLogger{})
	pref := quietPref()
	pref.Frequency = types.FrequencyHourly
	last := at(21, 30)

	queued := r.Decide(testTransition(), pref, at(21, 45), &last)
	if queued.DeliverAfter == nil {
		t.Fatal("expected queued decision")
	}

	released := r.Release(queued, pref, at(22, 30))
	if released.DeliverAfter != nil || released.SuppressedReason != types.SuppressedNone {
		t.Errorf("released decision still deferred: %+v", released)
	}
	if !reflect.DeepEqual(released.Channels, []types.ChannelType{types.ChannelEmail}) {
		t.Errorf("release inside quiet hours should keep email only, got %v", released.Channels)
	}
}

func TestRouter_Summary(t *testing.T) {
	r := NewRouter(&mockLogger{})
	pref := quietPref()
	pref.QuietHours = nil

	d := r.Decide(testTransition(), pref, at(12, 0), nil)
	if d.Subject != "Price drop: Lakers vs Celtics" {
		t.Errorf("Subject = %q", d.Subject)
	}
	want := "Lakers vs Celtics at Crypto.com Arena is now $135.00, down 15.63% from $160.00. $15.00 under your max."
	if d.BodySummary != want {
		t.Errorf("BodySummary = %q, want %q", d.BodySummary, want)
	}
}

func TestIsInQuietPeriod_SameDay(t *testing.T) {
	if !isInQuietPeriod(10*60, 9*60, 17*60) {
		t.Error("10:00 should be inside 09:00-17:00")
	}
	if isInQuietPeriod(17*60, 9*60, 17*60) {
		t.Error("17:00 should be outside 09:00-17:00")
	}
	if isInQuietPeriod(12*60, 12*60, 12*60) {
		t.Error("equal start and end is an empty window")
	}
}
