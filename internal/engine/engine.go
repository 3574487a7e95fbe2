// Package engine reconciles evaluated market conditions against persisted
// alert state and decides which notifications to send. Each (market, kind)
// pair is a two-state machine: Dormant and Alerted. Entering Alerted sends an
// alert, returning to Dormant optionally sends a recovery notice, and
// self-transitions are no-ops. That is the whole anti-spam guarantee: one
// send per transition, never one per cycle.
package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/tailwatch/tailwatch/internal/logger"
	"github.com/tailwatch/tailwatch/internal/metrics"
	"github.com/tailwatch/tailwatch/internal/models"
	"github.com/tailwatch/tailwatch/internal/normalize"
	"github.com/tailwatch/tailwatch/internal/rules"
	"github.com/tailwatch/tailwatch/internal/storage"
)

// Dispatcher delivers one formatted alert. Implementations retry internally
// if they retry at all; the engine never retries a send.
type Dispatcher interface {
	Send(ctx context.Context, msg models.AlertMessage) error
}

// Fetcher supplies one cycle's raw market records.
type Fetcher interface {
	FetchMarkets(ctx context.Context, limit int) ([]json.RawMessage, error)
}

// FetchError is a cycle-level upstream failure. The cycle is skipped and the
// state store is left untouched; the next polling interval retries naturally.
type FetchError struct {
	Err error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("failed to fetch markets: %v", e.Err)
}

func (e *FetchError) Unwrap() error {
	return e.Err
}

// Config holds engine behavior switches.
type Config struct {
	// NotifyRecovery controls whether a clear notice is sent when a
	// previously alerted condition stops holding.
	NotifyRecovery bool
}

// Report summarizes one cycle for the caller.
type Report struct {
	// Markets counts the snapshots evaluated this cycle.
	Markets int
	// Alerts holds every alert send attempted, delivered or not.
	Alerts []models.AlertMessage
	// Recoveries counts conditions cleared this cycle.
	Recoveries int
	// Dropped holds per-record normalization failures.
	Dropped []error
	DispatchFailures int
}

// Engine orchestrates normalize, evaluate, reconcile, and persist for each
// cycle. It is the only writer of the store; cycles must not overlap.
type Engine struct {
	store      *storage.Store
	dispatcher Dispatcher
	rules      *rules.Ruleset
	cfg        Config
}

// New builds an engine. dispatcher may be nil, in which case transitions are
// recorded but nothing is sent.
func New(store *storage.Store, dispatcher Dispatcher, ruleset *rules.Ruleset, cfg Config) *Engine {
	return &Engine{
		store:      store,
		dispatcher: dispatcher,
		rules:      ruleset,
		cfg:        cfg,
	}
}

// Poll fetches one batch of raw records and runs a cycle over it. A fetch
// failure is returned as *FetchError before any store access: an upstream
// outage must never be mistaken for every market's condition clearing.
func (e *Engine) Poll(ctx context.Context, fetcher Fetcher, limit int, now time.Time) (*Report, error) {
	raws, err := fetcher.FetchMarkets(ctx, limit)
	if err != nil {
		return nil, &FetchError{Err: err}
	}
	return e.RunCycle(ctx, raws, now)
}

// RunCycle processes one fetched batch of raw market records. Per-record
// normalization failures are collected into the report and do not disturb
// other markets. A store failure aborts the cycle: without the store the
// engine cannot make dedup decisions safely.
//
// Cancellation is honored between market units, never inside one, so a
// shutdown mid-cycle leaves no half-applied market state.
func (e *Engine) RunCycle(ctx context.Context, raws []json.RawMessage, now time.Time) (*Report, error) {
	report := &Report{}

	snapshots := make([]models.MarketSnapshot, 0, len(raws))
	seen := make(map[string]bool, len(raws))
	for i, raw := range raws {
		snap, err := normalize.Normalize(raw, now)
		if err != nil {
			report.Dropped = append(report.Dropped, fmt.Errorf("record %d: %w", i, err))
			metrics.RecordsDropped.WithLabelValues(dropReason(err)).Inc()
			// An unparseable record is excluded from evaluation, but the
			// market is still listed upstream: keep its active state
			// untouched instead of clearing it as vanished.
			var nerr *normalize.Error
			if errors.As(err, &nerr) && nerr.MarketID != "" {
				seen[nerr.MarketID] = true
			}
			continue
		}
		if seen[snap.MarketID] {
			// Upstream occasionally repeats a market in one page; first wins.
			continue
		}
		seen[snap.MarketID] = true
		snapshots = append(snapshots, snap)
	}

	// Deterministic store write order regardless of upstream ordering.
	sort.Slice(snapshots, func(i, j int) bool {
		return snapshots[i].MarketID < snapshots[j].MarketID
	})

	for _, snap := range snapshots {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		held := make(map[models.ConditionKind]bool)
		for _, kind := range e.rules.Evaluate(snap) {
			held[kind] = true
		}
		for _, kind := range e.rules.Kinds() {
			if err := e.reconcile(ctx, snap, kind, held[kind], now, report); err != nil {
				return report, err
			}
		}
		report.Markets++
		metrics.MarketsEvaluated.Inc()
	}

	if err := ctx.Err(); err != nil {
		return report, err
	}
	if err := e.clearVanished(ctx, seen, now, report); err != nil {
		return report, err
	}

	return report, nil
}

// reconcile applies the transition table for one (market, kind) pair. The
// read-decide-write below is the atomic unit of a cycle.
func (e *Engine) reconcile(ctx context.Context, snap models.MarketSnapshot, kind models.ConditionKind, held bool, now time.Time, report *Report) error {
	rec, err := e.store.GetRecord(snap.MarketID, kind)
	if err != nil {
		return fmt.Errorf("state store read for %s/%s: %w", snap.MarketID, kind, err)
	}

	switch {
	case held && (rec == nil || !rec.Active):
		// Dormant -> Alerted: the one case that sends.
		msg := models.AlertMessage{
			MarketID:  snap.MarketID,
			Question:  snap.Question,
			URL:       snap.URL,
			Kind:      kind,
			YesPrice:  snap.YesPrice,
			Liquidity: snap.Liquidity,
			Volume24h: snap.Volume24h,
			At:        now,
		}
		delivered := e.dispatch(ctx, msg, report)
		report.Alerts = append(report.Alerts, msg)
		metrics.AlertsSent.WithLabelValues(string(kind)).Inc()

		// Commit active=true even when delivery failed: retrying next cycle
		// would turn one missed message into a storm.
		if err := e.store.PutRecord(&models.AlertRecord{
			MarketID:      snap.MarketID,
			Kind:          kind,
			Active:        true,
			LastAlertedAt: now,
			LastValue:     snap.YesPrice,
		}); err != nil {
			return fmt.Errorf("state store write for %s/%s: %w", snap.MarketID, kind, err)
		}
		e.logEvent(snap.MarketID, kind, snap.YesPrice, false, delivered, now)

	case !held && rec != nil && rec.Active:
		// Alerted -> Dormant.
		if err := e.clear(ctx, rec, snap.Question, snap.URL, snap.YesPrice, now, report); err != nil {
			return err
		}
	}
	// held && active: already alerted and still true, suppressed.
	// !held && inactive (or absent): nothing to do.
	return nil
}

// clearVanished clears active records for markets absent from this cycle's
// fetch. A delisted or resolved market must not keep an active record
// forever; if the upstream later recycles the id, it starts fresh.
func (e *Engine) clearVanished(ctx context.Context, seen map[string]bool, now time.Time, report *Report) error {
	active, err := e.store.ActiveRecords()
	if err != nil {
		return fmt.Errorf("state store active scan: %w", err)
	}
	for i := range active {
		rec := &active[i]
		if seen[rec.MarketID] {
			continue
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		logger.Debug("Market %s vanished from fetch, clearing %s", rec.MarketID, rec.Kind)
		if err := e.clear(ctx, rec, "", "", rec.LastValue, now, report); err != nil {
			return err
		}
	}
	return nil
}

func (e *Engine) clear(ctx context.Context, rec *models.AlertRecord, question, url string, value float64, now time.Time, report *Report) error {
	delivered := false
	if e.cfg.NotifyRecovery {
		delivered = e.dispatch(ctx, models.AlertMessage{
			MarketID:  rec.MarketID,
			Question:  question,
			URL:       url,
			Kind:      rec.Kind,
			YesPrice:  value,
			At:        now,
			Recovery:  true,
		}, report)
	}
	rec.Active = false
	rec.LastValue = value
	if err := e.store.PutRecord(rec); err != nil {
		return fmt.Errorf("state store write for %s/%s: %w", rec.MarketID, rec.Kind, err)
	}
	e.logEvent(rec.MarketID, rec.Kind, value, true, delivered, now)
	report.Recoveries++
	metrics.RecoveriesTotal.Inc()
	return nil
}

// dispatch sends one message, reporting but never propagating failure.
func (e *Engine) dispatch(ctx context.Context, msg models.AlertMessage, report *Report) bool {
	if e.dispatcher == nil {
		return false
	}
	if err := e.dispatcher.Send(ctx, msg); err != nil {
		logger.Warn("Failed to dispatch %s alert for market %s: %v", msg.Kind, msg.MarketID, err)
		report.DispatchFailures++
		metrics.DispatchFailures.Inc()
		return false
	}
	return true
}

func (e *Engine) logEvent(marketID string, kind models.ConditionKind, value float64, recovery, delivered bool, now time.Time) {
	ev := &models.AlertEvent{
		ID:        uuid.New().String(),
		MarketID:  marketID,
		Kind:      kind,
		Value:     value,
		Recovery:  recovery,
		Delivered: delivered,
		SentAt:    now,
	}
	if err := e.store.LogAlert(ev); err != nil {
		// History is best-effort; dedup state is already committed.
		logger.Warn("Failed to log alert event for %s/%s: %v", marketID, kind, err)
	}
}

func dropReason(err error) string {
	var nerr *normalize.Error
	if errors.As(err, &nerr) {
		return string(nerr.Reason)
	}
	return "unknown"
}
