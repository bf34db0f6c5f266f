package use_case

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"math"
	"os"

	"github.com/trunov/imageopt/internal/codec"
	"github.com/trunov/imageopt/internal/converter"
	"github.com/trunov/imageopt/internal/entities"
)

type Storage interface {
	GetItem(ctx context.Context, id int64) (entities.Item, error)
	ListItemsPage(ctx context.Context, page, perPage int) ([]entities.Item, int64, error)
	TotalItems(ctx context.Context) (int64, error)
	FormatSuccessCount(ctx context.Context, format entities.Format) (int64, error)
	AnySuccessCount(ctx context.Context) (int64, error)
	RecordsForItems(ctx context.Context, ids []int64) (map[int64]map[entities.Format]entities.ConversionRecord, error)
	TruncateRecords(ctx context.Context) (int64, error)
	ClearCompletion(ctx context.Context) (int64, error)
	GetSettings(ctx context.Context) (entities.Settings, error)
	UpdateSettings(ctx context.Context, set entities.Settings) error
	BatchState(ctx context.Context) (entities.BatchState, error)
}

type Batch interface {
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
	IsRunning() bool
}

type Converter interface {
	Convert(ctx context.Context, item entities.Item, format entities.Format, quality int, policy entities.SavingsPolicy) (map[string]entities.RenditionResult, error)
	ClearConverted() (int, error)
}

type Recorder interface {
	Record(ctx context.Context, itemID int64, format entities.Format, results map[string]entities.RenditionResult, opErr error) (entities.ConversionRecord, error)
	RecomputeCompletion(ctx context.Context, itemID int64) (entities.CompletionState, error)
}

type Cache interface {
	Get(ctx context.Context, key string) (string, error)
	Store(ctx context.Context, key string, ttl int, value interface{}) error
	Remove(ctx context.Context, key string) error
	Flush(ctx context.Context) error
}

const (
	statusCacheTTL    = 30 // seconds
	dashboardCacheTTL = 60
)

// SingleResult is the per-format outcome of a manual conversion.
type SingleResult struct {
	Status  entities.Status `json:"status"`
	Message string          `json:"message,omitempty"`
}

// SingleConversion is the response to a convert-single call.
type SingleConversion struct {
	Results map[entities.Format]SingleResult `json:"results"`
	Overall entities.CompletionState         `json:"overall_status"`
}

type useCase struct {
	storage Storage
	batch   Batch
	conv    Converter
	rec     Recorder
	cache   Cache
	probe   *codec.Encoder

	mediaDir string
}

func New(storage Storage, batch Batch, conv Converter, rec Recorder, cache Cache, probe *codec.Encoder, mediaDir string) *useCase {
	return &useCase{
		storage:  storage,
		batch:    batch,
		conv:     conv,
		rec:      rec,
		cache:    cache,
		probe:    probe,
		mediaDir: mediaDir,
	}
}

// Status returns the aggregate progress snapshot, cached briefly since
// dashboards poll it.
func (c *useCase) Status(ctx context.Context) (entities.StatusReport, error) {
	var report entities.StatusReport
	if raw, err := c.cache.Get(ctx, "status"); err == nil {
		if json.Unmarshal([]byte(raw), &report) == nil {
			return report, nil
		}
	}

	total, err := c.storage.TotalItems(ctx)
	if err != nil {
		return report, fmt.Errorf("count items: %w", err)
	}
	webp, err := c.storage.FormatSuccessCount(ctx, entities.FormatWebP)
	if err != nil {
		return report, fmt.Errorf("count webp conversions: %w", err)
	}
	avif, err := c.storage.FormatSuccessCount(ctx, entities.FormatAVIF)
	if err != nil {
		return report, fmt.Errorf("count avif conversions: %w", err)
	}
	converted, err := c.storage.AnySuccessCount(ctx)
	if err != nil {
		return report, fmt.Errorf("count converted items: %w", err)
	}
	state, err := c.storage.BatchState(ctx)
	if err != nil {
		return report, err
	}

	unconverted := total - converted
	if unconverted < 0 {
		unconverted = 0
	}

	report = entities.StatusReport{
		Total:         total,
		WebPConverted: webp,
		AVIFConverted: avif,
		Unconverted:   unconverted,
		BatchState:    state,
		IsRunning:     state == entities.BatchRunning,
	}

	c.cacheSet(ctx, "status", statusCacheTTL, report)
	return report, nil
}

// DashboardPage joins item metadata with the latest per-format records
// for the paginated listing.
func (c *useCase) DashboardPage(ctx context.Context, page, perPage int) (entities.DashboardPage, error) {
	cacheKey := fmt.Sprintf("dashboard:%d:%d", page, perPage)

	var result entities.DashboardPage
	if raw, err := c.cache.Get(ctx, cacheKey); err == nil {
		if json.Unmarshal([]byte(raw), &result) == nil {
			return result, nil
		}
	}

	items, total, err := c.storage.ListItemsPage(ctx, page, perPage)
	if err != nil {
		return result, err
	}

	ids := make([]int64, 0, len(items))
	for _, item := range items {
		ids = append(ids, item.ID)
	}
	records, err := c.storage.RecordsForItems(ctx, ids)
	if err != nil {
		return result, err
	}

	rows := make([]entities.DashboardItem, 0, len(items))
	for _, item := range items {
		row := entities.DashboardItem{
			ID:           item.ID,
			Title:        item.Title,
			ThumbnailURL: thumbnailFor(item),
			WebP:         entities.FormatCell{Status: entities.StatusPending},
			AVIF:         entities.FormatCell{Status: entities.StatusPending},
		}
		if info, err := os.Stat(item.SourcePath); err == nil {
			row.OriginalSize = info.Size()
		}
		for format, rec := range records[item.ID] {
			cell := entities.FormatCell{Status: rec.Status}
			if rec.Status == entities.StatusSuccess || rec.Status == entities.StatusSkippedExists {
				cell.Size = rec.ConvertedSizeTotal
			}
			switch format {
			case entities.FormatWebP:
				row.WebP = cell
			case entities.FormatAVIF:
				row.AVIF = cell
			}
		}
		rows = append(rows, row)
	}

	result = entities.DashboardPage{
		Items:      rows,
		TotalItems: total,
		TotalPages: int(math.Ceil(float64(total) / float64(perPage))),
	}

	c.cacheSet(ctx, cacheKey, dashboardCacheTTL, result)
	return result, nil
}

func thumbnailFor(item entities.Item) string {
	for _, r := range item.Renditions {
		if r.Name == "thumbnail" {
			return r.Path
		}
	}
	return ""
}

func (c *useCase) StartBatch(ctx context.Context) error {
	if err := c.batch.Start(ctx); err != nil {
		return err
	}
	c.dropStatusCache(ctx)
	return nil
}

func (c *useCase) StopBatch(ctx context.Context) error {
	if err := c.batch.Stop(ctx); err != nil {
		return err
	}
	c.dropStatusCache(ctx)
	return nil
}

// dropStatusCache keeps is_running fresh across state transitions
// instead of waiting out the cached snapshot's TTL.
func (c *useCase) dropStatusCache(ctx context.Context) {
	if err := c.cache.Remove(ctx, "status"); err != nil {
		log.Printf("[use-case] status cache invalidation failed: %v", err)
	}
}

// ConvertSingle runs the conversion for every format on one item right
// now, outside the batch, and returns the per-format outcomes.
func (c *useCase) ConvertSingle(ctx context.Context, itemID int64) (SingleConversion, error) {
	out := SingleConversion{Results: make(map[entities.Format]SingleResult, len(entities.Formats))}

	item, err := c.storage.GetItem(ctx, itemID)
	if err != nil {
		return out, err
	}
	settings, err := c.storage.GetSettings(ctx)
	if err != nil {
		return out, err
	}

	for _, format := range entities.Formats {
		results, convErr := c.conv.Convert(ctx, item, format, settings.QualityFor(format), settings.Savings)
		// Precondition failures surface to the caller instead of being
		// logged as failed conversions: the item was never attempted.
		if errors.Is(convErr, converter.ErrUnsupportedFormat) || errors.Is(convErr, converter.ErrSourceMissing) {
			return out, convErr
		}
		rec, err := c.rec.Record(ctx, item.ID, format, results, convErr)
		if err != nil {
			return out, err
		}
		sr := SingleResult{Status: rec.Status}
		if rec.Status == entities.StatusFailed {
			sr.Message = rec.LogMessage
		}
		out.Results[format] = sr
	}

	out.Overall, err = c.rec.RecomputeCompletion(ctx, item.ID)
	if err != nil {
		return out, err
	}
	return out, nil
}

// ClearAll resets the pipeline to its initial state: the batch is
// stopped, converted trees are removed, the ledger is truncated and
// completion flags dropped. Substeps report independently so a partial
// failure tells the caller what still needs cleanup.
func (c *useCase) ClearAll(ctx context.Context) (entities.ClearReport, error) {
	var report entities.ClearReport
	var errs []error

	if err := c.batch.Stop(ctx); err != nil {
		errs = append(errs, fmt.Errorf("stop batch: %w", err))
	}

	files, err := c.conv.ClearConverted()
	report.FilesCleared = files
	if err != nil {
		errs = append(errs, fmt.Errorf("clear converted files: %w", err))
	}

	logs, err := c.storage.TruncateRecords(ctx)
	report.LogsCleared = logs
	if err != nil {
		errs = append(errs, fmt.Errorf("clear conversion records: %w", err))
	}

	meta, err := c.storage.ClearCompletion(ctx)
	report.MetaCleared = meta
	if err != nil {
		errs = append(errs, fmt.Errorf("clear completion flags: %w", err))
	}

	if err := c.cache.Flush(ctx); err != nil {
		log.Printf("[use-case] cache flush after clear failed: %v", err)
	}

	return report, errors.Join(errs...)
}

func (c *useCase) Settings(ctx context.Context) (entities.Settings, error) {
	return c.storage.GetSettings(ctx)
}

func (c *useCase) UpdateSettings(ctx context.Context, set entities.Settings) error {
	if err := c.storage.UpdateSettings(ctx, set); err != nil {
		return err
	}
	return c.cache.Flush(ctx)
}

// Compat reports what the runtime can and cannot do.
func (c *useCase) Compat(ctx context.Context) []codec.Check {
	return c.probe.CompatReport(c.mediaDir)
}

func (c *useCase) cacheSet(ctx context.Context, key string, ttl int, v interface{}) {
	raw, err := json.Marshal(v)
	if err != nil {
		return
	}
	if err := c.cache.Store(ctx, key, ttl, string(raw)); err != nil {
		log.Printf("[use-case] cache store %s failed: %v", key, err)
	}
}
