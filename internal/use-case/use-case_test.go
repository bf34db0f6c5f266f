package use_case

import (
	"context"
	"errors"
	"testing"

	"github.com/redis/go-redis/v9"

	"github.com/trunov/imageopt/internal/codec"
	"github.com/trunov/imageopt/internal/converter"
	"github.com/trunov/imageopt/internal/entities"
)

type fakeStorage struct {
	items       []entities.Item
	records     map[int64]map[entities.Format]entities.ConversionRecord
	total       int64
	webpCount   int64
	avifCount   int64
	anyCount    int64
	state       entities.BatchState
	settings    entities.Settings
	logsCleared int64
	metaCleared int64

	truncated      bool
	completionGone bool
}

func (f *fakeStorage) GetItem(_ context.Context, id int64) (entities.Item, error) {
	for _, item := range f.items {
		if item.ID == id {
			return item, nil
		}
	}
	return entities.Item{}, errors.New("item not found")
}

func (f *fakeStorage) ListItemsPage(_ context.Context, page, perPage int) ([]entities.Item, int64, error) {
	return f.items, f.total, nil
}

func (f *fakeStorage) TotalItems(context.Context) (int64, error) { return f.total, nil }

func (f *fakeStorage) FormatSuccessCount(_ context.Context, format entities.Format) (int64, error) {
	if format == entities.FormatAVIF {
		return f.avifCount, nil
	}
	return f.webpCount, nil
}

func (f *fakeStorage) AnySuccessCount(context.Context) (int64, error) { return f.anyCount, nil }

func (f *fakeStorage) RecordsForItems(_ context.Context, ids []int64) (map[int64]map[entities.Format]entities.ConversionRecord, error) {
	return f.records, nil
}

func (f *fakeStorage) TruncateRecords(context.Context) (int64, error) {
	f.truncated = true
	f.webpCount, f.avifCount, f.anyCount = 0, 0, 0
	return f.logsCleared, nil
}

func (f *fakeStorage) ClearCompletion(context.Context) (int64, error) {
	f.completionGone = true
	return f.metaCleared, nil
}

func (f *fakeStorage) GetSettings(context.Context) (entities.Settings, error) {
	return f.settings, nil
}

func (f *fakeStorage) UpdateSettings(_ context.Context, set entities.Settings) error {
	f.settings = set
	return nil
}

func (f *fakeStorage) BatchState(context.Context) (entities.BatchState, error) {
	return f.state, nil
}

type fakeBatch struct {
	running bool
	stops   int
}

func (f *fakeBatch) Start(context.Context) error { f.running = true; return nil }
func (f *fakeBatch) Stop(context.Context) error  { f.running = false; f.stops++; return nil }
func (f *fakeBatch) IsRunning() bool             { return f.running }

type fakeConverter struct {
	results map[entities.Format]map[string]entities.RenditionResult
	err     error
	cleared int
}

func (f *fakeConverter) Convert(_ context.Context, item entities.Item, format entities.Format, quality int, _ entities.SavingsPolicy) (map[string]entities.RenditionResult, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.results[format], nil
}

func (f *fakeConverter) ClearConverted() (int, error) { return f.cleared, nil }

type fakeRecorder struct {
	statuses map[entities.Format]entities.Status
	overall  entities.CompletionState
	records  int
}

func (f *fakeRecorder) Record(_ context.Context, itemID int64, format entities.Format, results map[string]entities.RenditionResult, opErr error) (entities.ConversionRecord, error) {
	f.records++
	return entities.ConversionRecord{ItemID: itemID, Format: format, Status: f.statuses[format]}, nil
}

func (f *fakeRecorder) RecomputeCompletion(context.Context, int64) (entities.CompletionState, error) {
	return f.overall, nil
}

// noopCache always misses so tests exercise the real computation.
type noopCache struct {
	flushes int
	removed []string
}

func (c *noopCache) Get(context.Context, string) (string, error) { return "", redis.Nil }
func (c *noopCache) Store(context.Context, string, int, interface{}) error {
	return nil
}
func (c *noopCache) Remove(_ context.Context, key string) error {
	c.removed = append(c.removed, key)
	return nil
}
func (c *noopCache) Flush(context.Context) error { c.flushes++; return nil }

func newTestUseCase(storage *fakeStorage, batch *fakeBatch, conv *fakeConverter, rec *fakeRecorder, cc *noopCache) *useCase {
	return New(storage, batch, conv, rec, cc, codec.NewEncoder(), "/media")
}

func TestStatus_EmptyLibrary(t *testing.T) {
	storage := &fakeStorage{state: entities.BatchIdle}
	uc := newTestUseCase(storage, &fakeBatch{}, &fakeConverter{}, &fakeRecorder{}, &noopCache{})

	report, err := uc.Status(context.Background())
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if report.Total != 0 || report.Unconverted != 0 {
		t.Fatalf("empty library must report zeros, got %+v", report)
	}
	if report.IsRunning {
		t.Fatal("idle state must not report running")
	}
}

func TestStatus_Math(t *testing.T) {
	storage := &fakeStorage{
		total:     10,
		webpCount: 4,
		avifCount: 3,
		anyCount:  4,
		state:     entities.BatchRunning,
	}
	uc := newTestUseCase(storage, &fakeBatch{}, &fakeConverter{}, &fakeRecorder{}, &noopCache{})

	report, err := uc.Status(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if report.Unconverted != 6 {
		t.Fatalf("unconverted = total - converted: want 6, got %d", report.Unconverted)
	}
	if report.WebPConverted != 4 || report.AVIFConverted != 3 {
		t.Fatalf("per-format counts wrong: %+v", report)
	}
	if !report.IsRunning {
		t.Fatal("running state must report running")
	}
}

func TestClearAll_ResetsEverythingButItems(t *testing.T) {
	storage := &fakeStorage{
		total:       10,
		webpCount:   5,
		anyCount:    5,
		logsCleared: 9,
		metaCleared: 5,
		state:       entities.BatchIdle,
	}
	batch := &fakeBatch{running: true}
	conv := &fakeConverter{cleared: 2}
	cc := &noopCache{}
	uc := newTestUseCase(storage, batch, conv, &fakeRecorder{}, cc)
	ctx := context.Background()

	report, err := uc.ClearAll(ctx)
	if err != nil {
		t.Fatalf("clear: %v", err)
	}

	if batch.IsRunning() {
		t.Fatal("clear must stop a running batch")
	}
	if report.FilesCleared != 2 || report.LogsCleared != 9 || report.MetaCleared != 5 {
		t.Fatalf("unexpected report: %+v", report)
	}
	if !storage.truncated || !storage.completionGone {
		t.Fatal("records and completion flags must be cleared")
	}
	if cc.flushes == 0 {
		t.Fatal("caches must be flushed after a clear")
	}

	status, err := uc.Status(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if status.Total != 10 {
		t.Fatalf("clear must not touch the library itself, total got %d", status.Total)
	}
	if status.WebPConverted != 0 || status.Unconverted != 10 {
		t.Fatalf("counters must reset: %+v", status)
	}
}

func TestConvertSingle_ReportsPerFormatOutcomes(t *testing.T) {
	storage := &fakeStorage{
		items:    []entities.Item{{ID: 3, SourcePath: "/media/a.jpg"}},
		settings: entities.Settings{WebPQuality: 82, AVIFQuality: 50, BatchSize: 25},
	}
	rec := &fakeRecorder{
		statuses: map[entities.Format]entities.Status{
			entities.FormatWebP: entities.StatusSuccess,
			entities.FormatAVIF: entities.StatusFailed,
		},
		overall: entities.CompletionIncomplete,
	}
	uc := newTestUseCase(storage, &fakeBatch{}, &fakeConverter{}, rec, &noopCache{})

	out, err := uc.ConvertSingle(context.Background(), 3)
	if err != nil {
		t.Fatalf("convert single: %v", err)
	}
	if out.Results[entities.FormatWebP].Status != entities.StatusSuccess {
		t.Fatalf("webp outcome wrong: %+v", out)
	}
	if out.Results[entities.FormatAVIF].Status != entities.StatusFailed {
		t.Fatalf("avif outcome wrong: %+v", out)
	}
	if out.Overall != entities.CompletionIncomplete {
		t.Fatalf("failed avif must leave the item incomplete, got %s", out.Overall)
	}
}

func TestConvertSingle_PreconditionErrorIsNotRecorded(t *testing.T) {
	storage := &fakeStorage{
		items:    []entities.Item{{ID: 3, SourcePath: "/media/gone.jpg"}},
		settings: entities.Settings{WebPQuality: 82, AVIFQuality: 50, BatchSize: 25},
	}
	conv := &fakeConverter{err: converter.ErrSourceMissing}
	rec := &fakeRecorder{}
	uc := newTestUseCase(storage, &fakeBatch{}, conv, rec, &noopCache{})

	_, err := uc.ConvertSingle(context.Background(), 3)
	if !errors.Is(err, converter.ErrSourceMissing) {
		t.Fatalf("expected ErrSourceMissing, got %v", err)
	}
	if rec.records != 0 {
		t.Fatalf("an item that was never attempted must not be logged, got %d records", rec.records)
	}
}

func TestBatchTransitions_DropStatusCache(t *testing.T) {
	cc := &noopCache{}
	uc := newTestUseCase(&fakeStorage{}, &fakeBatch{}, &fakeConverter{}, &fakeRecorder{}, cc)
	ctx := context.Background()

	if err := uc.StartBatch(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := uc.StopBatch(ctx); err != nil {
		t.Fatalf("stop: %v", err)
	}

	if len(cc.removed) != 2 || cc.removed[0] != "status" || cc.removed[1] != "status" {
		t.Fatalf("start and stop must each drop the status snapshot, got %v", cc.removed)
	}
}

func TestConvertSingle_UnknownItem(t *testing.T) {
	uc := newTestUseCase(&fakeStorage{}, &fakeBatch{}, &fakeConverter{}, &fakeRecorder{}, &noopCache{})

	if _, err := uc.ConvertSingle(context.Background(), 99); err == nil {
		t.Fatal("expected error for unknown item")
	}
}

func TestDashboardPage_JoinsRecordsAndDefaultsToPending(t *testing.T) {
	storage := &fakeStorage{
		items: []entities.Item{
			{ID: 1, Title: "sunset", Renditions: []entities.Rendition{{Name: "thumbnail", Path: "/media/t/sunset.jpg"}}},
			{ID: 2, Title: "mountain"},
		},
		total: 2,
		records: map[int64]map[entities.Format]entities.ConversionRecord{
			1: {
				entities.FormatWebP: {ItemID: 1, Format: entities.FormatWebP, Status: entities.StatusSuccess, ConvertedSizeTotal: 4096},
			},
		},
	}
	uc := newTestUseCase(storage, &fakeBatch{}, &fakeConverter{}, &fakeRecorder{}, &noopCache{})

	page, err := uc.DashboardPage(context.Background(), 1, 20)
	if err != nil {
		t.Fatalf("dashboard: %v", err)
	}
	if len(page.Items) != 2 || page.TotalPages != 1 {
		t.Fatalf("unexpected page shape: %+v", page)
	}

	first := page.Items[0]
	if first.WebP.Status != entities.StatusSuccess || first.WebP.Size != 4096 {
		t.Fatalf("webp cell wrong: %+v", first.WebP)
	}
	if first.AVIF.Status != entities.StatusPending {
		t.Fatalf("missing record must show pending, got %s", first.AVIF.Status)
	}
	if first.ThumbnailURL != "/media/t/sunset.jpg" {
		t.Fatalf("thumbnail not picked up: %q", first.ThumbnailURL)
	}

	second := page.Items[1]
	if second.WebP.Status != entities.StatusPending || second.AVIF.Status != entities.StatusPending {
		t.Fatalf("item without records must be fully pending: %+v", second)
	}
}
