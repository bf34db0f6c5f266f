package ledger

import (
	"fmt"
	"time"

	"github.com/trunov/imageopt/internal/entities"
)

// Aggregate collapses per-rendition results (or an operation-level
// error) into one record for the (item, format) pair.
//
// Precedence: operation error -> failed; any rendition success ->
// success (a usable output exists even if siblings failed); else any
// skipped_size -> skipped_size; else all skipped_exists -> skipped_exists;
// else failed. Byte totals are summed over success and skipped_exists
// renditions; skipped_size contributes original bytes only, since no
// converted file remains.
func Aggregate(itemID int64, format entities.Format, results map[string]entities.RenditionResult, opErr error) entities.ConversionRecord {
	rec := entities.ConversionRecord{
		ItemID:      itemID,
		Format:      format,
		Status:      entities.StatusFailed,
		ConvertedAt: time.Now().UTC(),
	}

	if opErr != nil {
		rec.LogMessage = opErr.Error()
		return rec
	}
	if len(results) == 0 {
		rec.LogMessage = "no renditions found to convert"
		return rec
	}

	var (
		succeeded     int
		skippedSize   bool
		skippedExists bool
		failed        bool
	)

	for _, r := range results {
		switch r.Status {
		case entities.StatusSuccess:
			succeeded++
			rec.OriginalSizeTotal += r.OriginalSize
			rec.ConvertedSizeTotal += r.ConvertedSize
			rec.SavingsTotal += r.Savings
		case entities.StatusSkippedSize:
			skippedSize = true
			rec.OriginalSizeTotal += r.OriginalSize
		case entities.StatusSkippedExists:
			skippedExists = true
			rec.OriginalSizeTotal += r.OriginalSize
			rec.ConvertedSizeTotal += r.ConvertedSize
			rec.SavingsTotal += r.Savings
		case entities.StatusFailed:
			failed = true
		}
	}

	switch {
	case succeeded > 0:
		rec.Status = entities.StatusSuccess
		rec.LogMessage = fmt.Sprintf("successfully converted %d sizes", succeeded)
	case skippedSize:
		rec.Status = entities.StatusSkippedSize
		rec.LogMessage = "conversion skipped: converted files larger or savings below threshold"
	case skippedExists && !failed:
		rec.Status = entities.StatusSkippedExists
		rec.LogMessage = "conversion skipped: converted files already exist"
	case failed:
		rec.Status = entities.StatusFailed
		rec.LogMessage = "conversion failed for one or more sizes"
	default:
		rec.Status = entities.StatusFailed
		rec.LogMessage = "no sizes converted or skipped for a known reason"
	}

	return rec
}

// DeriveCompletion computes the per-item flag from the two per-format
// statuses. Complete means both formats resolved to success or an
// accepted skip; anything else leaves the item incomplete so the
// scheduler keeps retrying it.
func DeriveCompletion(webp, avif entities.Status) entities.CompletionState {
	if webp.Resolved() && avif.Resolved() {
		return entities.CompletionComplete
	}
	return entities.CompletionIncomplete
}
