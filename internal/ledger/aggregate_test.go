package ledger

import (
	"errors"
	"testing"

	"github.com/trunov/imageopt/internal/entities"
)

func TestAggregate_OperationErrorIsFailed(t *testing.T) {
	rec := Aggregate(7, entities.FormatWebP, nil, errors.New("no webp support"))

	if rec.Status != entities.StatusFailed {
		t.Fatalf("expected failed, got %s", rec.Status)
	}
	if rec.LogMessage != "no webp support" {
		t.Fatalf("expected error message carried over, got %q", rec.LogMessage)
	}
	if rec.ItemID != 7 || rec.Format != entities.FormatWebP {
		t.Fatalf("record keyed wrong: %+v", rec)
	}
}

func TestAggregate_EmptyResultsIsFailed(t *testing.T) {
	rec := Aggregate(1, entities.FormatAVIF, map[string]entities.RenditionResult{}, nil)

	if rec.Status != entities.StatusFailed {
		t.Fatalf("expected failed for empty result set, got %s", rec.Status)
	}
}

func TestAggregate_AnySuccessWinsAndSums(t *testing.T) {
	results := map[string]entities.RenditionResult{
		"full": {
			Status:        entities.StatusSuccess,
			OriginalSize:  100000,
			ConvertedSize: 70000,
			Savings:       30000,
		},
		"thumbnail": {
			Status:  entities.StatusFailed,
			Message: "encode exploded",
		},
		"medium": {
			Status:       entities.StatusSkippedSize,
			OriginalSize: 5000,
		},
	}

	rec := Aggregate(1, entities.FormatWebP, results, nil)

	if rec.Status != entities.StatusSuccess {
		t.Fatalf("any success should win, got %s", rec.Status)
	}
	// success contributes everything, skipped_size only original bytes
	if rec.OriginalSizeTotal != 105000 {
		t.Fatalf("expected original total 105000, got %d", rec.OriginalSizeTotal)
	}
	if rec.ConvertedSizeTotal != 70000 {
		t.Fatalf("expected converted total 70000, got %d", rec.ConvertedSizeTotal)
	}
	if rec.SavingsTotal != 30000 {
		t.Fatalf("expected savings total 30000, got %d", rec.SavingsTotal)
	}
}

func TestAggregate_SkippedSizeBeatsSkippedExistsAndFailed(t *testing.T) {
	results := map[string]entities.RenditionResult{
		"full":      {Status: entities.StatusSkippedSize, OriginalSize: 1000},
		"thumbnail": {Status: entities.StatusSkippedExists, OriginalSize: 200, ConvertedSize: 150, Savings: 50},
		"medium":    {Status: entities.StatusFailed},
	}

	rec := Aggregate(1, entities.FormatWebP, results, nil)

	if rec.Status != entities.StatusSkippedSize {
		t.Fatalf("expected skipped_size, got %s", rec.Status)
	}
	if rec.OriginalSizeTotal != 1200 {
		t.Fatalf("expected original total 1200, got %d", rec.OriginalSizeTotal)
	}
	if rec.ConvertedSizeTotal != 150 || rec.SavingsTotal != 50 {
		t.Fatalf("skipped_exists bytes should still be summed: %+v", rec)
	}
}

func TestAggregate_AllSkippedExists(t *testing.T) {
	results := map[string]entities.RenditionResult{
		"full":      {Status: entities.StatusSkippedExists, OriginalSize: 1000, ConvertedSize: 600, Savings: 400},
		"thumbnail": {Status: entities.StatusSkippedExists, OriginalSize: 100, ConvertedSize: 80, Savings: 20},
	}

	rec := Aggregate(1, entities.FormatAVIF, results, nil)

	if rec.Status != entities.StatusSkippedExists {
		t.Fatalf("expected skipped_exists, got %s", rec.Status)
	}
	if rec.ConvertedSizeTotal != 680 || rec.SavingsTotal != 420 {
		t.Fatalf("unexpected totals: %+v", rec)
	}
}

func TestAggregate_SkippedExistsPlusFailureIsFailed(t *testing.T) {
	results := map[string]entities.RenditionResult{
		"full":      {Status: entities.StatusSkippedExists, OriginalSize: 1000, ConvertedSize: 600, Savings: 400},
		"thumbnail": {Status: entities.StatusFailed, Message: "missing file"},
	}

	rec := Aggregate(1, entities.FormatWebP, results, nil)

	if rec.Status != entities.StatusFailed {
		t.Fatalf("a failure alongside only exists-skips must fail, got %s", rec.Status)
	}
}

func TestDeriveCompletion(t *testing.T) {
	cases := []struct {
		name string
		webp entities.Status
		avif entities.Status
		want entities.CompletionState
	}{
		{"both success", entities.StatusSuccess, entities.StatusSuccess, entities.CompletionComplete},
		{"success plus exists skip", entities.StatusSuccess, entities.StatusSkippedExists, entities.CompletionComplete},
		{"success plus size skip", entities.StatusSkippedSize, entities.StatusSuccess, entities.CompletionComplete},
		{"both skips", entities.StatusSkippedExists, entities.StatusSkippedSize, entities.CompletionComplete},
		{"one failed", entities.StatusSuccess, entities.StatusFailed, entities.CompletionIncomplete},
		{"one pending", entities.StatusSuccess, entities.StatusPending, entities.CompletionIncomplete},
		{"both pending", entities.StatusPending, entities.StatusPending, entities.CompletionIncomplete},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := DeriveCompletion(tc.webp, tc.avif); got != tc.want {
				t.Fatalf("DeriveCompletion(%s, %s) = %s, want %s", tc.webp, tc.avif, got, tc.want)
			}
		})
	}
}
