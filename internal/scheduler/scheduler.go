package scheduler

import (
	"context"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/getsentry/sentry-go"

	"github.com/trunov/imageopt/internal/entities"
)

type Store interface {
	ListIncompleteItems(ctx context.Context, limit int) ([]entities.Item, error)
	GetSettings(ctx context.Context) (entities.Settings, error)
	BatchState(ctx context.Context) (entities.BatchState, error)
	SetBatchState(ctx context.Context, state entities.BatchState) error
}

type Converter interface {
	Convert(ctx context.Context, item entities.Item, format entities.Format, quality int, policy entities.SavingsPolicy) (map[string]entities.RenditionResult, error)
}

type Recorder interface {
	Record(ctx context.Context, itemID int64, format entities.Format, results map[string]entities.RenditionResult, opErr error) (entities.ConversionRecord, error)
	RecomputeCompletion(ctx context.Context, itemID int64) (entities.CompletionState, error)
}

// Scheduler drives the batch to completion: each tick converts a
// bounded slice of incomplete items and the loop stops itself once the
// selection comes back empty. The run state is persisted so a restart
// can resume an interrupted batch.
type Scheduler struct {
	store    Store
	conv     Converter
	rec      Recorder
	interval time.Duration

	mu     sync.Mutex
	cancel context.CancelFunc

	// ticking guards against overlapping ticks when a slice takes
	// longer than the interval.
	ticking atomic.Bool
}

func New(store Store, conv Converter, rec Recorder, interval time.Duration) *Scheduler {
	if interval <= 0 {
		interval = time.Minute
	}
	return &Scheduler{
		store:    store,
		conv:     conv,
		rec:      rec,
		interval: interval,
	}
}

// Start arms the periodic loop and fires an immediate tick. Calling it
// while already running is a no-op.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cancel != nil {
		log.Printf("[batch] start requested but batch is already running")
		return nil
	}

	if err := s.store.SetBatchState(ctx, entities.BatchRunning); err != nil {
		return err
	}

	// The loop outlives the request that started it.
	loopCtx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel

	go s.loop(loopCtx)
	log.Printf("[batch] started (interval=%v)", s.interval)
	return nil
}

// Stop cancels future ticks. An in-flight tick runs to completion.
func (s *Scheduler) Stop(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cancel != nil {
		s.cancel()
		s.cancel = nil
		log.Printf("[batch] stopped")
	}

	return s.store.SetBatchState(ctx, entities.BatchIdle)
}

// IsRunning reports whether the loop is currently armed in this process.
func (s *Scheduler) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cancel != nil
}

func (s *Scheduler) loop(ctx context.Context) {
	// Cancellation only gates the select below: a stop request must not
	// interrupt a tick that is already converting, so the work itself
	// runs on a context detached from the loop's.
	tickCtx := context.WithoutCancel(ctx)

	s.runTick(tickCtx)

	t := time.NewTicker(s.interval)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			s.runTick(tickCtx)
		}
	}
}

func (s *Scheduler) runTick(ctx context.Context) {
	if !s.ticking.CompareAndSwap(false, true) {
		log.Printf("[batch] previous tick still running, skipping")
		return
	}
	defer s.ticking.Store(false)

	done, err := s.Tick(ctx)
	if err != nil {
		// The next tick retries naturally; just surface the failure.
		log.Printf("[batch] tick failed: %v", err)
		sentry.CaptureException(err)
		return
	}
	if done {
		log.Printf("[batch] no more items to process, going idle")
		if err := s.Stop(context.Background()); err != nil {
			log.Printf("[batch] failed to persist idle state: %v", err)
			sentry.CaptureException(err)
		}
	}
}

// Tick processes one slice of incomplete items. It reports done=true
// when the selection is empty, meaning the whole batch has finished.
// A single item's failure never aborts the slice.
func (s *Scheduler) Tick(ctx context.Context) (done bool, err error) {
	settings, err := s.store.GetSettings(ctx)
	if err != nil {
		return false, err
	}

	items, err := s.store.ListIncompleteItems(ctx, settings.BatchSize)
	if err != nil {
		return false, err
	}
	if len(items) == 0 {
		return true, nil
	}

	log.Printf("[batch] processing %d items", len(items))
	for _, item := range items {
		if ctx.Err() != nil {
			return false, nil
		}
		s.processItem(ctx, item, settings)
	}
	return false, nil
}

func (s *Scheduler) processItem(ctx context.Context, item entities.Item, settings entities.Settings) {
	for _, format := range entities.Formats {
		results, convErr := s.conv.Convert(ctx, item, format, settings.QualityFor(format), settings.Savings)
		if convErr != nil {
			log.Printf("[batch] %s conversion failed for item %d: %v", format, item.ID, convErr)
		}

		if _, err := s.rec.Record(ctx, item.ID, format, results, convErr); err != nil {
			log.Printf("[batch] failed to record %s result for item %d: %v", format, item.ID, err)
			sentry.CaptureException(err)
		}
	}

	state, err := s.rec.RecomputeCompletion(ctx, item.ID)
	if err != nil {
		log.Printf("[batch] failed to recompute completion for item %d: %v", item.ID, err)
		sentry.CaptureException(err)
		return
	}
	log.Printf("[batch] item %d marked %s", item.ID, state)
}
