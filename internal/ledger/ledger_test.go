package ledger

import (
	"context"
	"errors"
	"testing"

	"github.com/trunov/imageopt/internal/entities"
)

type recordKey struct {
	itemID int64
	format entities.Format
}

type memStore struct {
	records    map[recordKey]entities.ConversionRecord
	completion map[int64]entities.CompletionState
	upsertErr  error
}

func newMemStore() *memStore {
	return &memStore{
		records:    make(map[recordKey]entities.ConversionRecord),
		completion: make(map[int64]entities.CompletionState),
	}
}

func (m *memStore) UpsertRecord(_ context.Context, rec entities.ConversionRecord) error {
	if m.upsertErr != nil {
		return m.upsertErr
	}
	m.records[recordKey{rec.ItemID, rec.Format}] = rec
	return nil
}

func (m *memStore) LatestStatus(_ context.Context, itemID int64, format entities.Format) (entities.Status, error) {
	rec, ok := m.records[recordKey{itemID, format}]
	if !ok {
		return entities.StatusPending, nil
	}
	return rec.Status, nil
}

func (m *memStore) SetCompletion(_ context.Context, itemID int64, state entities.CompletionState) error {
	m.completion[itemID] = state
	return nil
}

func successResults() map[string]entities.RenditionResult {
	return map[string]entities.RenditionResult{
		"full": {Status: entities.StatusSuccess, OriginalSize: 1000, ConvertedSize: 700, Savings: 300},
	}
}

func TestRecord_UpsertsKeepingOneRowPerPair(t *testing.T) {
	store := newMemStore()
	l := New(store, nil)
	ctx := context.Background()

	if _, err := l.Record(ctx, 1, entities.FormatWebP, successResults(), nil); err != nil {
		t.Fatalf("first record: %v", err)
	}
	if _, err := l.Record(ctx, 1, entities.FormatWebP, nil, errors.New("disk on fire")); err != nil {
		t.Fatalf("second record: %v", err)
	}

	if len(store.records) != 1 {
		t.Fatalf("expected one row for the pair, got %d", len(store.records))
	}
	rec := store.records[recordKey{1, entities.FormatWebP}]
	if rec.Status != entities.StatusFailed {
		t.Fatalf("second call's data should win, got status %s", rec.Status)
	}
}

func TestRecord_SurfacesStoreError(t *testing.T) {
	store := newMemStore()
	store.upsertErr = errors.New("connection reset")
	l := New(store, nil)

	_, err := l.Record(context.Background(), 1, entities.FormatAVIF, successResults(), nil)
	if err == nil {
		t.Fatal("expected error from failing store")
	}
}

func TestRecomputeCompletion_BothResolved(t *testing.T) {
	store := newMemStore()
	l := New(store, nil)
	ctx := context.Background()

	if _, err := l.Record(ctx, 5, entities.FormatWebP, successResults(), nil); err != nil {
		t.Fatal(err)
	}
	skipped := map[string]entities.RenditionResult{
		"full": {Status: entities.StatusSkippedSize, OriginalSize: 1000},
	}
	if _, err := l.Record(ctx, 5, entities.FormatAVIF, skipped, nil); err != nil {
		t.Fatal(err)
	}

	state, err := l.RecomputeCompletion(ctx, 5)
	if err != nil {
		t.Fatalf("recompute: %v", err)
	}
	if state != entities.CompletionComplete {
		t.Fatalf("expected complete, got %s", state)
	}
	if store.completion[5] != entities.CompletionComplete {
		t.Fatalf("completion not persisted: %s", store.completion[5])
	}
}

func TestRecomputeCompletion_MissingFormatLeavesIncomplete(t *testing.T) {
	store := newMemStore()
	l := New(store, nil)
	ctx := context.Background()

	if _, err := l.Record(ctx, 9, entities.FormatWebP, successResults(), nil); err != nil {
		t.Fatal(err)
	}

	state, err := l.RecomputeCompletion(ctx, 9)
	if err != nil {
		t.Fatalf("recompute: %v", err)
	}
	if state != entities.CompletionIncomplete {
		t.Fatalf("avif is still pending, expected incomplete, got %s", state)
	}
}
