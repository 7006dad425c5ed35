package scheduler

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/klauspost/compress/zstd"
	"github.com/shopspring/decimal"

	"ticketwatch/internal/types"
)

var sweepNow = time.Date(2026, 3, 14, 3, 0, 0, 0, time.UTC)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelDebug}))
}

// ============================================================
// ExpiryService
// ============================================================

type mockOverdue struct {
	mu      sync.Mutex
	pending []string
	listErr error
	calls   int
}

func (m *mockOverdue) ListOverdue(_ context.Context, _ time.Time, limit int) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	if m.listErr != nil {
		return nil, m.listErr
	}
	if limit > len(m.pending) {
		limit = len(m.pending)
	}
	return append([]string(nil), m.pending[:limit]...), nil
}

type mockExpirer struct {
	overdue *mockOverdue
	errs    map[string]error
	expired []string
}

func (m *mockExpirer) Expire(_ context.Context, id string) (*types.AlertState, error) {
	if err := m.errs[id]; err != nil {
		return nil, err
	}
	m.expired = append(m.expired, id)
	m.overdue.mu.Lock()
	for i, p := range m.overdue.pending {
		if p == id {
			m.overdue.pending = append(m.overdue.pending[:i], m.overdue.pending[i+1:]...)
			break
		}
	}
	m.overdue.mu.Unlock()
	return &types.AlertState{ID: id, Status: types.AlertStatusExpired}, nil
}

type countRecorder struct {
	expired  int
	archived int
}

func (c *countRecorder) RecordExpired(_ context.Context, n int)  { c.expired += n }
func (c *countRecorder) RecordArchived(_ context.Context, n int) { c.archived += n }

func TestExpireOverdue_Batches(t *testing.T) {
	overdue := &mockOverdue{pending: []string{"a-1", "a-2", "a-3", "a-4", "a-5"}}
	expirer := &mockExpirer{overdue: overdue}
	metrics := &countRecorder{}
	svc := NewExpiryService(overdue, expirer, metrics, testLogger())

	count, err := svc.ExpireOverdue(context.Background(), sweepNow, 2)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if count != 5 {
		t.Errorf("expected 5 expired, got %d", count)
	}
	if overdue.calls != 3 {
		t.Errorf("expected 3 list calls, got %d", overdue.calls)
	}
	if metrics.expired != 5 {
		t.Errorf("expected metric 5, got %d", metrics.expired)
	}
}

func TestExpireOverdue_SkipsChangedAlerts(t *testing.T) {
	overdue := &mockOverdue{pending: []string{"a-1", "a-2", "a-3"}}
	expirer := &mockExpirer{
		overdue: overdue,
		errs: map[string]error{
			"a-2": types.NewAppError(types.ErrCodeConflictTransition, "already dismissed", types.ErrInvalidTransition),
		},
	}
	svc := NewExpiryService(overdue, expirer, nil, testLogger())

	count, err := svc.ExpireOverdue(context.Background(), sweepNow, 10)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if count != 2 {
		t.Errorf("expected 2 expired, got %d", count)
	}
}

func TestExpireOverdue_StopsWithoutProgress(t *testing.T) {
	overdue := &mockOverdue{pending: []string{"a-1", "a-2"}}
	expirer := &mockExpirer{
		overdue: overdue,
		errs:    map[string]error{"a-1": types.ErrStateGone, "a-2": types.ErrStateGone},
	}
	svc := NewExpiryService(overdue, expirer, nil, testLogger())

	count, err := svc.ExpireOverdue(context.Background(), sweepNow, 2)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if count != 0 || overdue.calls != 1 {
		t.Errorf("expected a single fruitless batch, got count=%d calls=%d", count, overdue.calls)
	}
}

func TestExpireOverdue_FatalError(t *testing.T) {
	overdue := &mockOverdue{pending: []string{"a-1", "a-2"}}
	expirer := &mockExpirer{
		overdue: overdue,
		errs:    map[string]error{"a-2": types.NewAppError(types.ErrCodeInternalDB, "connection reset", nil)},
	}
	svc := NewExpiryService(overdue, expirer, nil, testLogger())

	count, err := svc.ExpireOverdue(context.Background(), sweepNow, 10)
	if err == nil {
		t.Fatal("expected error")
	}
	if count != 1 {
		t.Errorf("expected 1 expired before the failure, got %d", count)
	}
}

// ============================================================
// FlushService
// ============================================================

type mockQueued struct {
	records    []types.OutboxRecord
	horizon    time.Time
	released   []types.NotificationDecision
	releasedAt []time.Time
	stale      map[string]bool
}

func (m *mockQueued) ListDueQueued(_ context.Context, horizon time.Time, _ int) ([]types.OutboxRecord, error) {
	m.horizon = horizon
	return m.records, nil
}

func (m *mockQueued) ReleaseQueued(_ context.Context, d types.NotificationDecision, now time.Time) (bool, error) {
	if m.stale[d.ID] {
		return false, nil
	}
	m.released = append(m.released, d)
	m.releasedAt = append(m.releasedAt, now)
	return true, nil
}

type mockPrefs struct {
	prefs map[string]*types.PricePreference
}

func (m *mockPrefs) GetByID(_ context.Context, id string) (*types.PricePreference, error) {
	if p, ok := m.prefs[id]; ok {
		return p, nil
	}
	return nil, types.NewAppError(types.ErrCodeNotFoundPreference, "preference not found", nil)
}

// passReleaser mimics the router: current channels, quiet when "quiet" is
// the preference name.
type passReleaser struct{}

func (passReleaser) Release(d types.NotificationDecision, pref *types.PricePreference, _ time.Time) types.NotificationDecision {
	d.DeliverAfter = nil
	d.SuppressedReason = types.SuppressedNone
	d.Channels = pref.Channels.Enabled()
	if pref.Name == "quiet" {
		d.Channels = nil
		d.SuppressedReason = types.SuppressedQuietHours
	}
	return d
}

type mockPublisher struct {
	published []string
	delays    []time.Duration
	err       error
}

func (m *mockPublisher) PublishDecision(_ context.Context, d *types.NotificationDecision, delay time.Duration) error {
	if m.err != nil {
		return m.err
	}
	m.published = append(m.published, d.ID)
	m.delays = append(m.delays, delay)
	return nil
}

func queued(id, prefID string, deliverAfter time.Time) types.OutboxRecord {
	return types.OutboxRecord{
		Status: types.DispatchQueued,
		Decision: types.NotificationDecision{
			ID:               id,
			PreferenceID:     prefID,
			Channels:         []types.ChannelType{types.ChannelEmail},
			SuppressedReason: types.SuppressedFrequencyCap,
			DeliverAfter:     &deliverAfter,
		},
	}
}

func TestFlushDue_ReleasesAndDelays(t *testing.T) {
	store := &mockQueued{records: []types.OutboxRecord{
		queued("dec-past", "pref-1", sweepNow.Add(-5*time.Minute)),
		queued("dec-soon", "pref-1", sweepNow.Add(10*time.Minute)),
	}}
	prefs := &mockPrefs{prefs: map[string]*types.PricePreference{
		"pref-1": {ID: "pref-1", Channels: types.ChannelSet{Email: true, Push: true}},
	}}
	pub := &mockPublisher{}
	svc := NewFlushService(store, prefs, passReleaser{}, pub, testLogger())

	n, err := svc.FlushDue(context.Background(), sweepNow, time.Hour, 100)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if n != 2 {
		t.Errorf("expected 2 released, got %d", n)
	}
	if !store.horizon.Equal(sweepNow.Add(MaxFlushLookahead)) {
		t.Errorf("lookahead not clamped: horizon %v", store.horizon)
	}
	if len(pub.delays) != 2 || pub.delays[0] != 0 || pub.delays[1] != 10*time.Minute {
		t.Errorf("unexpected delays %v", pub.delays)
	}
	if !store.releasedAt[1].Equal(sweepNow.Add(10 * time.Minute)) {
		t.Errorf("window should open at delivery time, got %v", store.releasedAt[1])
	}
	if got := store.released[0].Channels; len(got) != 2 {
		t.Errorf("released decision should carry current channels, got %v", got)
	}
}

func TestFlushDue_SuppressedAndStale(t *testing.T) {
	store := &mockQueued{
		records: []types.OutboxRecord{
			queued("dec-quiet", "pref-quiet", sweepNow),
			queued("dec-stale", "pref-1", sweepNow),
			queued("dec-orphan", "pref-gone", sweepNow),
		},
		stale: map[string]bool{"dec-stale": true},
	}
	prefs := &mockPrefs{prefs: map[string]*types.PricePreference{
		"pref-1":     {ID: "pref-1", Channels: types.ChannelSet{Email: true}},
		"pref-quiet": {ID: "pref-quiet", Name: "quiet", Channels: types.ChannelSet{Push: true}},
	}}
	pub := &mockPublisher{}
	svc := NewFlushService(store, prefs, passReleaser{}, pub, testLogger())

	n, err := svc.FlushDue(context.Background(), sweepNow, 0, 100)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if n != 1 {
		t.Errorf("expected only the quiet decision released, got %d", n)
	}
	if len(pub.published) != 0 {
		t.Errorf("suppressed decision must not be published, got %v", pub.published)
	}
}

func TestFlushDue_PublishFailureIsNotFatal(t *testing.T) {
	store := &mockQueued{records: []types.OutboxRecord{queued("dec-1", "pref-1", sweepNow)}}
	prefs := &mockPrefs{prefs: map[string]*types.PricePreference{
		"pref-1": {ID: "pref-1", Channels: types.ChannelSet{Email: true}},
	}}
	svc := NewFlushService(store, prefs, passReleaser{}, &mockPublisher{err: errors.New("sqs down")}, testLogger())

	n, err := svc.FlushDue(context.Background(), sweepNow, 0, 100)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if n != 1 {
		t.Errorf("expected 1 released, got %d", n)
	}
}

// ============================================================
// ArchiveService
// ============================================================

type mockHistoryDB struct {
	entries   []types.AlertHistoryEntry
	deleted   []string
	deleteErr error
}

func (m *mockHistoryDB) ListOlderThan(_ context.Context, cutoff time.Time, limit int) ([]types.AlertHistoryEntry, error) {
	var out []types.AlertHistoryEntry
	for _, e := range m.entries {
		if e.ObservedAt.Before(cutoff) {
			out = append(out, e)
		}
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

func (m *mockHistoryDB) DeleteByIDs(_ context.Context, ids []string) (int, error) {
	if m.deleteErr != nil {
		return 0, m.deleteErr
	}
	drop := make(map[string]bool, len(ids))
	for _, id := range ids {
		drop[id] = true
	}
	kept := m.entries[:0]
	for _, e := range m.entries {
		if !drop[e.ID] {
			kept = append(kept, e)
		}
	}
	m.entries = kept
	m.deleted = append(m.deleted, ids...)
	return len(ids), nil
}

type mockArchiver struct {
	keys  []string
	blobs [][]byte
	err   error
}

func (m *mockArchiver) UploadArchive(_ context.Context, key string, _ int, data []byte) error {
	if m.err != nil {
		return m.err
	}
	m.keys = append(m.keys, key)
	m.blobs = append(m.blobs, data)
	return nil
}

func historyAt(n int, at time.Time) types.AlertHistoryEntry {
	return types.AlertHistoryEntry{
		ID:         fmt.Sprintf("h-%03d", n),
		AlertID:    "alert-1",
		ObservedAt: at,
		Price:      decimal.NewNullDecimal(decimal.NewFromInt(int64(100 + n))),
		Status:     types.AlertStatusActive,
		Message:    "observed",
	}
}

func TestArchiveHistory_CompressesAndDeletes(t *testing.T) {
	old := sweepNow.Add(-100 * 24 * time.Hour)
	db := &mockHistoryDB{entries: []types.AlertHistoryEntry{
		historyAt(1, old), historyAt(2, old.Add(time.Minute)), historyAt(3, old.Add(2*time.Minute)),
		historyAt(4, sweepNow.Add(-time.Hour)),
	}}
	archiver := &mockArchiver{}
	metrics := &countRecorder{}
	svc := NewArchiveService(db, archiver, metrics, testLogger())

	n, err := svc.ArchiveHistory(context.Background(), sweepNow, 90*24*time.Hour, 2)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if n != 3 {
		t.Errorf("expected 3 archived, got %d", n)
	}
	if len(archiver.keys) != 2 {
		t.Fatalf("expected 2 batches, got %d", len(archiver.keys))
	}
	if archiver.keys[0] != "history/2025/12/04/h-001_h-002.jsonl.zst" {
		t.Errorf("unexpected key %s", archiver.keys[0])
	}
	if len(db.entries) != 1 || db.entries[0].ID != "h-004" {
		t.Errorf("recent entry should remain, got %v", db.entries)
	}
	if metrics.archived != 3 {
		t.Errorf("expected metric 3, got %d", metrics.archived)
	}

	dec, err := zstd.NewReader(nil)
	if err != nil {
		t.Fatal(err)
	}
	defer dec.Close()
	raw, err := dec.DecodeAll(archiver.blobs[0], nil)
	if err != nil {
		t.Fatalf("archive is not valid zstd: %v", err)
	}
	var lines []types.AlertHistoryEntry
	sc := bufio.NewScanner(bytes.NewReader(raw))
	for sc.Scan() {
		var e types.AlertHistoryEntry
		if err := json.Unmarshal(sc.Bytes(), &e); err != nil {
			t.Fatalf("bad JSONL line %q: %v", sc.Text(), err)
		}
		lines = append(lines, e)
	}
	if len(lines) != 2 || lines[1].ID != "h-002" {
		t.Errorf("unexpected archive contents %v", lines)
	}
}

func TestArchiveHistory_UploadFailureKeepsRows(t *testing.T) {
	old := sweepNow.Add(-100 * 24 * time.Hour)
	db := &mockHistoryDB{entries: []types.AlertHistoryEntry{historyAt(1, old)}}
	svc := NewArchiveService(db, &mockArchiver{err: errors.New("disk full")}, nil, testLogger())

	_, err := svc.ArchiveHistory(context.Background(), sweepNow, 90*24*time.Hour, 10)
	if err == nil {
		t.Fatal("expected error")
	}
	if len(db.deleted) != 0 {
		t.Errorf("rows must not be deleted when the upload fails")
	}
}

func TestArchiveHistory_NoArchiver(t *testing.T) {
	svc := NewArchiveService(&mockHistoryDB{}, nil, nil, testLogger())
	n, err := svc.ArchiveHistory(context.Background(), sweepNow, time.Hour, 10)
	if err != nil || n != 0 {
		t.Errorf("expected no-op, got n=%d err=%v", n, err)
	}
}
