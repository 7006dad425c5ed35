package alerts

import (
	"context"
	"sort"
	"sync"
	"time"

	"ticketwatch/internal/types"
)

// MemoryStore is an in-process Store. It honors the same version and
// existence rules as the Postgres implementation and backs the package tests
// and local dry runs.
type MemoryStore struct {
	mu           sync.Mutex
	states       map[string]types.AlertState
	byKey        map[string]string
	notify       map[string]types.PreferenceNotificationState
	outbox       map[string]types.OutboxRecord
	intents      map[string]types.PurchaseIntent
	history      []types.AlertHistoryEntry
	removedPrefs map[string]bool
	commits      int
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		states:       make(map[string]types.AlertState),
		byKey:        make(map[string]string),
		notify:       make(map[string]types.PreferenceNotificationState),
		outbox:       make(map[string]types.OutboxRecord),
		intents:      make(map[string]types.PurchaseIntent),
		removedPrefs: make(map[string]bool),
	}
}

func (s *MemoryStore) GetState(_ context.Context, preferenceID, listingKey string) (*types.AlertState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.byKey[lockKey(preferenceID, listingKey)]
	if !ok {
		return nil, nil
	}
	st := s.states[id]
	return &st, nil
}

func (s *MemoryStore) GetStateByID(_ context.Context, id string) (*types.AlertState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.states[id]
	if !ok {
		return nil, types.NewAppError(types.ErrCodeNotFoundAlert, "alert not found", types.ErrStateGone)
	}
	return &st, nil
}

func (s *MemoryStore) GetNotificationState(_ context.Context, preferenceID string) (*types.PreferenceNotificationState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ns, ok := s.notify[preferenceID]
	if !ok {
		return &types.PreferenceNotificationState{PreferenceID: preferenceID}, nil
	}
	return &ns, nil
}

func (s *MemoryStore) Commit(_ context.Context, c *Commit) (CommitResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var res CommitResult
	st := *c.State
	if s.removedPrefs[st.PreferenceID] {
		return res, types.ErrStateGone
	}

	key := lockKey(st.PreferenceID, st.ListingKey)
	if c.Insert {
		if _, exists := s.byKey[key]; exists {
			return res, types.ErrVersionConflict
		}
	} else {
		cur, ok := s.states[st.ID]
		if !ok {
			return res, types.ErrStateGone
		}
		if cur.Version != st.Version {
			return res, types.ErrVersionConflict
		}
	}
	if c.NotifyState != nil {
		cur := s.notify[c.NotifyState.PreferenceID]
		if cur.Version != c.NotifyState.Version {
			return res, types.ErrVersionConflict
		}
	}

	st.Version++
	s.states[st.ID] = st
	s.byKey[key] = st.ID
	s.history = append(s.history, c.History...)

	if c.SupersedeDecisionID != "" {
		if rec, ok := s.outbox[c.SupersedeDecisionID]; ok && rec.Status == types.DispatchQueued {
			rec.Status = types.DispatchSuperseded
			s.outbox[c.SupersedeDecisionID] = rec
		}
	}
	if c.Decision != nil {
		if _, exists := s.outbox[c.Decision.ID]; !exists {
			s.outbox[c.Decision.ID] = types.OutboxRecord{Decision: *c.Decision, Status: c.DecisionStatus}
		}
	}
	if c.NotifyState != nil {
		ns := *c.NotifyState
		ns.Version++
		s.notify[ns.PreferenceID] = ns
	}
	if c.Intent != nil {
		if _, exists := s.intents[c.Intent.ID]; !exists {
			s.intents[c.Intent.ID] = *c.Intent
			res.IntentCreated = true
		}
	}
	s.commits++
	return res, nil
}

func (s *MemoryStore) DeleteState(_ context.Context, id string, expectedVersion int64, entry types.AlertHistoryEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.states[id]
	if !ok {
		return types.ErrStateGone
	}
	if cur.Version != expectedVersion {
		return types.ErrVersionConflict
	}
	delete(s.states, id)
	delete(s.byKey, lockKey(cur.PreferenceID, cur.ListingKey))
	s.history = append(s.history, entry)
	return nil
}

func (s *MemoryStore) ListOverdue(_ context.Context, now time.Time, limit int) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var ids []string
	for id, st := range s.states {
		if !st.Status.IsTerminal() && IsExpired(&st, now) {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	if limit > 0 && len(ids) > limit {
		ids = ids[:limit]
	}
	return ids, nil
}

// RemovePreference simulates a preference deleted by the CRUD service: its
// alerts disappear and later commits for it fail with ErrStateGone.
func (s *MemoryStore) RemovePreference(preferenceID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.removedPrefs[preferenceID] = true
	for id, st := range s.states {
		if st.PreferenceID == preferenceID {
			delete(s.states, id)
			delete(s.byKey, lockKey(st.PreferenceID, st.ListingKey))
		}
	}
}

// History returns the entries recorded for an alert in insertion order.
func (s *MemoryStore) History(alertID string) []types.AlertHistoryEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []types.AlertHistoryEntry
	for _, e := range s.history {
		if e.AlertID == alertID {
			out = append(out, e)
		}
	}
	return out
}

// Outbox returns every recorded decision keyed by ID.
func (s *MemoryStore) Outbox() map[string]types.OutboxRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]types.OutboxRecord, len(s.outbox))
	for k, v := range s.outbox {
		out[k] = v
	}
	return out
}

// Intents returns every recorded purchase intent keyed by ID.
func (s *MemoryStore) Intents() map[string]types.PurchaseIntent {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]types.PurchaseIntent, len(s.intents))
	for k, v := range s.intents {
		out[k] = v
	}
	return out
}

// Commits returns the number of successful commits.
func (s *MemoryStore) Commits() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.commits
}
