package ledger

import (
	"context"
	"fmt"

	"github.com/trunov/imageopt/internal/entities"
)

// Store is the durable side of the ledger: one current row per
// (item, format) and the derived per-item completion flag.
type Store interface {
	UpsertRecord(ctx context.Context, rec entities.ConversionRecord) error
	LatestStatus(ctx context.Context, itemID int64, format entities.Format) (entities.Status, error)
	SetCompletion(ctx context.Context, itemID int64, state entities.CompletionState) error
}

// Invalidator drops cached aggregates after a ledger write. A nil-safe
// no-op implementation is acceptable.
type Invalidator interface {
	Invalidate(ctx context.Context, itemID int64)
}

// Ledger records conversion outcomes and keeps item completion in sync.
type Ledger struct {
	store Store
	inval Invalidator
}

func New(store Store, inval Invalidator) *Ledger {
	return &Ledger{store: store, inval: inval}
}

// Record aggregates one conversion call's results into the current
// record for (itemID, format) and upserts it. The upsert replaces, not
// appends: the ledger is latest-known-state, not history.
func (l *Ledger) Record(ctx context.Context, itemID int64, format entities.Format, results map[string]entities.RenditionResult, opErr error) (entities.ConversionRecord, error) {
	rec := Aggregate(itemID, format, results, opErr)
	if err := l.store.UpsertRecord(ctx, rec); err != nil {
		return rec, fmt.Errorf("record conversion for item %d format %s: %w", itemID, format, err)
	}
	if l.inval != nil {
		l.inval.Invalidate(ctx, itemID)
	}
	return rec, nil
}

// RecomputeCompletion re-derives and persists the item's completion
// flag from the latest per-format statuses. Called synchronously after
// every Record so the scheduler never selects on a stale flag.
func (l *Ledger) RecomputeCompletion(ctx context.Context, itemID int64) (entities.CompletionState, error) {
	webp, err := l.store.LatestStatus(ctx, itemID, entities.FormatWebP)
	if err != nil {
		return entities.CompletionUnset, fmt.Errorf("latest webp status for item %d: %w", itemID, err)
	}
	avif, err := l.store.LatestStatus(ctx, itemID, entities.FormatAVIF)
	if err != nil {
		return entities.CompletionUnset, fmt.Errorf("latest avif status for item %d: %w", itemID, err)
	}

	state := DeriveCompletion(webp, avif)
	if err := l.store.SetCompletion(ctx, itemID, state); err != nil {
		return state, fmt.Errorf("set completion for item %d: %w", itemID, err)
	}
	return state, nil
}

// LatestStatus exposes the stored status for one (item, format),
// defaulting to pending when no record exists.
func (l *Ledger) LatestStatus(ctx context.Context, itemID int64, format entities.Format) (entities.Status, error) {
	return l.store.LatestStatus(ctx, itemID, format)
}
