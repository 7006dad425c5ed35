package db

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"golang.org/x/sync/singleflight"

	"ticketwatch/internal/types"
)

// PreferenceRepository reads price_preferences. Preferences are owned by the
// preference CRUD service; the engine never writes them.
type PreferenceRepository struct {
	db DBTX
}

// NewPreferenceRepository creates a new PreferenceRepository backed by the
// given database connection (pool or transaction).
func NewPreferenceRepository(db DBTX) *PreferenceRepository {
	return &PreferenceRepository{db: db}
}

const preferenceColumns = `id, user_id, name, category, min_price, max_price,
	preferred_quantity, seat_preferences, section_preferences,
	price_drop_threshold, price_increase_threshold,
	auto_purchase_enabled, auto_purchase_max_price,
	channels, alert_frequency, quiet_hours, duration_code, active,
	created_at, updated_at`

// ListActiveByCategory returns active preferences that apply to a listing in
// category: those with the same category (case-insensitive) and those with
// no category filter. Preferences without a max price are excluded.
func (r *PreferenceRepository) ListActiveByCategory(ctx context.Context, category string) ([]types.PricePreference, error) {
	rows, err := r.db.Query(ctx,
		`SELECT `+preferenceColumns+`
		 FROM price_preferences
		 WHERE active = TRUE
		   AND max_price IS NOT NULL
		   AND (category = '' OR lower(category) = lower($1))
		 ORDER BY id`,
		strings.TrimSpace(category),
	)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to list active preferences", err)
	}
	defer rows.Close()

	var out []types.PricePreference
	for rows.Next() {
		p, scanErr := scanPreference(rows)
		if scanErr != nil {
			return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to scan preference row", scanErr)
		}
		out = append(out, *p)
	}
	if err := rows.Err(); err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "error iterating preference rows", err)
	}
	return out, nil
}

// GetByID returns one preference regardless of its active flag.
func (r *PreferenceRepository) GetByID(ctx context.Context, id string) (*types.PricePreference, error) {
	row := r.db.QueryRow(ctx,
		`SELECT `+preferenceColumns+` FROM price_preferences WHERE id = $1`, id)
	p, err := scanPreference(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, types.NewAppError(types.ErrCodeNotFoundPreference, "preference not found", nil)
		}
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to get preference", err)
	}
	return p, nil
}

func scanPreference(row pgx.Row) (*types.PricePreference, error) {
	var p types.PricePreference
	var seats, sections []string
	var frequency, duration string
	var quietRaw []byte

	err := row.Scan(
		&p.ID, &p.UserID, &p.Name, &p.Category, &p.MinPrice, &p.MaxPrice,
		&p.PreferredQuantity, &seats, &sections,
		&p.PriceDropThreshold, &p.PriceIncreaseThreshold,
		&p.AutoPurchaseEnabled, &p.AutoPurchaseMaxPrice,
		&p.Channels, &frequency, &quietRaw, &duration, &p.Active,
		&p.CreatedAt, &p.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	p.Frequency = types.AlertFrequency(frequency)
	p.Duration = types.DurationCode(duration)
	p.SectionPreferences = sections
	for _, s := range seats {
		p.SeatPreferences = append(p.SeatPreferences, types.SeatTag(s))
	}
	if len(quietRaw) > 0 && string(quietRaw) != "null" {
		var qh types.QuietHoursConfig
		if err := json.Unmarshal(quietRaw, &qh); err != nil {
			return nil, fmt.Errorf("decoding quiet_hours for preference %s: %w", p.ID, err)
		}
		p.QuietHours = &qh
	}
	return &p, nil
}

// PreferenceLister is the read path the cache wraps.
type PreferenceLister interface {
	ListActiveByCategory(ctx context.Context, category string) ([]types.PricePreference, error)
}

// CachedPreferenceRepository is a read-through cache over a PreferenceLister
// keyed by lowercased category. Concurrent misses for the same category share
// one query. Entries are served until ttl has elapsed; errors are not cached.
type CachedPreferenceRepository struct {
	next  PreferenceLister
	ttl   time.Duration
	clock types.Clock

	mu      sync.RWMutex
	entries map[string]cachedPreferences
	group   singleflight.Group
}

type cachedPreferences struct {
	prefs    []types.PricePreference
	cachedAt time.Time
}

// NewCachedPreferenceRepository wraps next. A non-positive ttl disables
// caching.
func NewCachedPreferenceRepository(next PreferenceLister, ttl time.Duration, clock types.Clock) *CachedPreferenceRepository {
	if clock == nil {
		clock = types.RealClock{}
	}
	return &CachedPreferenceRepository{
		next:    next,
		ttl:     ttl,
		clock:   clock,
		entries: make(map[string]cachedPreferences),
	}
}

// ListActiveByCategory serves from cache when fresh.
func (c *CachedPreferenceRepository) ListActiveByCategory(ctx context.Context, category string) ([]types.PricePreference, error) {
	if c.ttl <= 0 {
		return c.next.ListActiveByCategory(ctx, category)
	}
	key := strings.ToLower(strings.TrimSpace(category))

	c.mu.RLock()
	e, ok := c.entries[key]
	c.mu.RUnlock()
	if ok && c.clock.Now().Sub(e.cachedAt) < c.ttl {
		return e.prefs, nil
	}

	v, err, _ := c.group.Do(key, func() (any, error) {
		prefs, err := c.next.ListActiveByCategory(ctx, category)
		if err != nil {
			return nil, err
		}
		c.mu.Lock()
		c.entries[key] = cachedPreferences{prefs: prefs, cachedAt: c.clock.Now()}
		c.mu.Unlock()
		return prefs, nil
	})
	if err != nil {
		return nil, err
	}
	return v.([]types.PricePreference), nil
}

// Invalidate drops the cached entry for category.
func (c *CachedPreferenceRepository) Invalidate(category string) {
	c.mu.Lock()
	delete(c.entries, strings.ToLower(strings.TrimSpace(category)))
	c.mu.Unlock()
}
