// Package pipeline evaluates scraped listings against active preferences and
// drives the resulting alert transitions. A listing is processed
// independently of every other listing; within a listing, preferences are
// matched concurrently and each candidate pair is observed under the alert
// machine's per-key lock.
package pipeline

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"ticketwatch/internal/alerts"
	"ticketwatch/internal/matching"
	notifcore "ticketwatch/internal/notifications/core"
	"ticketwatch/internal/types"
)

// Defaults applied when Config leaves a field zero.
const (
	DefaultConcurrency            = 8
	DefaultPreferenceFetchTimeout = 5 * time.Second
	DefaultDispatchTimeout        = 10 * time.Second
)

// PreferenceSource lists the active preferences that apply to a category.
type PreferenceSource interface {
	ListActiveByCategory(ctx context.Context, category string) ([]types.PricePreference, error)
}

// Observer applies one observation to the alert of a (preference, listing)
// pair. Satisfied by *alerts.Machine.
type Observer interface {
	Observe(ctx context.Context, listing *types.TicketListing, pref *types.PricePreference, match *types.MatchResult) (*alerts.Outcome, error)
}

// Dispatcher hands committed side effects to external collaborators.
// Satisfied by *outbox.Relay.
type Dispatcher interface {
	Dispatch(ctx context.Context, out *alerts.Outcome)
}

// Config bounds the processor's resource use.
type Config struct {
	Concurrency            int
	PreferenceFetchTimeout time.Duration
	DispatchTimeout        time.Duration
}

func (c Config) withDefaults() Config {
	if c.Concurrency <= 0 {
		c.Concurrency = DefaultConcurrency
	}
	if c.PreferenceFetchTimeout <= 0 {
		c.PreferenceFetchTimeout = DefaultPreferenceFetchTimeout
	}
	if c.DispatchTimeout <= 0 {
		c.DispatchTimeout = DefaultDispatchTimeout
	}
	return c
}

// Processor runs listings through matching, the alert machine and dispatch.
type Processor struct {
	prefs      PreferenceSource
	observer   Observer
	dispatcher Dispatcher
	metrics    notifcore.EngineMetrics
	clock      types.Clock
	logger     types.Logger
	cfg        Config
}

// NewProcessor creates a Processor.
func NewProcessor(prefs PreferenceSource, observer Observer, dispatcher Dispatcher, metrics notifcore.EngineMetrics, clock types.Clock, logger types.Logger, cfg Config) *Processor {
	if metrics == nil {
		metrics = notifcore.NopMetrics{}
	}
	if clock == nil {
		clock = types.RealClock{}
	}
	if logger == nil {
		logger = types.NopLogger{}
	}
	return &Processor{
		prefs:      prefs,
		observer:   observer,
		dispatcher: dispatcher,
		metrics:    metrics,
		clock:      clock,
		logger:     logger,
		cfg:        cfg.withDefaults(),
	}
}

// ListingResult summarizes one processed listing.
type ListingResult struct {
	ListingKey string
	Evaluated  int
	Candidates int
	Triggered  int
	Skipped    int
}

// ProcessListing evaluates one listing against every applicable preference.
//
// Skippable failures (a malformed listing or preference, a stale or deleted
// alert) are logged and counted. Any other failure aborts the listing and is
// returned so the caller can hand the message back to the queue; alert
// commits already made are not undone and replaying the listing is
// idempotent.
func (p *Processor) ProcessListing(ctx context.Context, listing *types.TicketListing) (ListingResult, error) {
	start := p.clock.Now()
	res := ListingResult{ListingKey: listing.Key()}
	logger := p.logger.With("listing_key", res.ListingKey, "category", listing.Category)

	if err := listing.Validate(); err != nil {
		logger.Warn("skipping malformed listing", "error", err)
		p.metrics.RecordListing(ctx, listing.Category, true)
		res.Skipped++
		return res, nil
	}

	fetchCtx, cancel := context.WithTimeout(ctx, p.cfg.PreferenceFetchTimeout)
	prefs, err := p.prefs.ListActiveByCategory(fetchCtx, listing.Category)
	cancel()
	if err != nil {
		return res, fmt.Errorf("listing preferences for %s: %w", res.ListingKey, err)
	}

	var mu sync.Mutex
	g, gCtx := errgroup.WithContext(ctx)
	g.SetLimit(p.cfg.Concurrency)

	for i := range prefs {
		pref := &prefs[i]
		g.Go(func() error {
			outcome, skipped, err := p.evaluate(gCtx, logger, listing, pref)
			mu.Lock()
			defer mu.Unlock()
			res.Evaluated++
			if skipped {
				res.Skipped++
			}
			if err != nil {
				return err
			}
			if outcome != nil {
				res.Candidates++
				if outcome.Triggered() {
					res.Triggered++
				}
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		p.metrics.RecordListing(ctx, listing.Category, false)
		return res, err
	}

	p.metrics.RecordListing(ctx, listing.Category, false)
	p.metrics.RecordLatency(ctx, p.clock.Now().Sub(start))
	if res.Triggered > 0 {
		logger.Info("listing processed",
			"preferences", res.Evaluated,
			"candidates", res.Candidates,
			"triggered", res.Triggered,
			"skipped", res.Skipped,
		)
	}
	return res, nil
}

// evaluate matches one preference and, for candidates, observes the alert.
// A nil outcome means the pair was not a candidate or was skipped.
func (p *Processor) evaluate(ctx context.Context, logger types.Logger, listing *types.TicketListing, pref *types.PricePreference) (*alerts.Outcome, bool, error) {
	if err := pref.Validate(); err != nil {
		logger.Warn("skipping malformed preference", "preference_id", pref.ID, "error", err)
		return nil, true, nil
	}

	match := matching.Match(listing, pref)
	if !match.Candidate() {
		return nil, false, nil
	}

	out, err := p.observer.Observe(ctx, listing, pref, &match)
	if err != nil {
		if types.IsSkippable(err) {
			logger.Info("skipping observation", "preference_id", pref.ID, "error", err)
			return nil, true, nil
		}
		return nil, false, fmt.Errorf("observing preference %s: %w", pref.ID, err)
	}

	if out.Triggered() {
		p.metrics.RecordTrigger(ctx, listing.Category)
	}
	if out.Decision != nil && out.Decision.SuppressedReason != types.SuppressedNone {
		p.metrics.RecordSuppressed(ctx, out.Decision.SuppressedReason)
	}

	// The commit is durable; publish even if the listing's context is
	// cancelled by a sibling failure.
	dctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), p.cfg.DispatchTimeout)
	p.dispatcher.Dispatch(dctx, out)
	cancel()

	return out, false, nil
}

// BatchResult holds the fatal error of each failed listing, by index.
type BatchResult struct {
	Results []ListingResult
	Errors  map[int]error
}

// ProcessBatch runs listings concurrently. A failing listing does not stop
// the others.
func (p *Processor) ProcessBatch(ctx context.Context, listings []types.TicketListing) BatchResult {
	out := BatchResult{
		Results: make([]ListingResult, len(listings)),
		Errors:  make(map[int]error),
	}

	var mu sync.Mutex
	g, gCtx := errgroup.WithContext(ctx)
	g.SetLimit(p.cfg.Concurrency)

	for i := range listings {
		i := i
		g.Go(func() error {
			res, err := p.ProcessListing(gCtx, &listings[i])
			mu.Lock()
			out.Results[i] = res
			if err != nil {
				out.Errors[i] = err
			}
			mu.Unlock()
			// Error isolation: other listings keep going.
			return nil
		})
	}
	_ = g.Wait()

	if len(out.Errors) > 0 {
		p.logger.Error("listing batch had failures",
			"listings", len(listings),
			"failed", len(out.Errors),
		)
	}
	return out
}
