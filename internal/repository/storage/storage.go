package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/trunov/imageopt/internal/entities"
)

type dbStorage struct {
	dbpool *pgxpool.Pool
}

func New(ctx context.Context, databaseDSN string) (*dbStorage, error) {
	pool, err := pgxpool.New(ctx, databaseDSN)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	return &dbStorage{dbpool: pool}, nil
}

func (s *dbStorage) Ping(ctx context.Context) error {
	return s.dbpool.Ping(ctx)
}

func (s *dbStorage) Close() {
	s.dbpool.Close()
}

// --- items (read-only: the media library owns these tables) ---

func (s *dbStorage) GetItem(ctx context.Context, id int64) (entities.Item, error) {
	var item entities.Item
	err := s.dbpool.QueryRow(ctx,
		`SELECT id, title, source_path, mime_type FROM items WHERE id = $1`, id,
	).Scan(&item.ID, &item.Title, &item.SourcePath, &item.MimeType)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return item, fmt.Errorf("item %d not found", id)
		}
		return item, fmt.Errorf("get item %d: %w", id, err)
	}

	item.Renditions, err = s.renditionsFor(ctx, id)
	if err != nil {
		return item, err
	}
	return item, nil
}

func (s *dbStorage) renditionsFor(ctx context.Context, itemID int64) ([]entities.Rendition, error) {
	rows, err := s.dbpool.Query(ctx,
		`SELECT name, path FROM renditions WHERE item_id = $1 ORDER BY name`, itemID)
	if err != nil {
		return nil, fmt.Errorf("renditions for item %d: %w", itemID, err)
	}
	defer rows.Close()

	var out []entities.Rendition
	for rows.Next() {
		var r entities.Rendition
		if err := rows.Scan(&r.Name, &r.Path); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// ListIncompleteItems returns up to limit items that are not yet marked
// complete, ascending by id. The stable order is what makes batch
// pagination resumable across ticks.
func (s *dbStorage) ListIncompleteItems(ctx context.Context, limit int) ([]entities.Item, error) {
	rows, err := s.dbpool.Query(ctx,
		`SELECT i.id, i.title, i.source_path, i.mime_type
		   FROM items i
		   LEFT JOIN item_completion c ON c.item_id = i.id
		  WHERE c.state IS NULL OR c.state <> 'complete'
		  ORDER BY i.id ASC
		  LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("list incomplete items: %w", err)
	}
	defer rows.Close()

	var items []entities.Item
	for rows.Next() {
		var item entities.Item
		if err := rows.Scan(&item.ID, &item.Title, &item.SourcePath, &item.MimeType); err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for i := range items {
		items[i].Renditions, err = s.renditionsFor(ctx, items[i].ID)
		if err != nil {
			return nil, err
		}
	}
	return items, nil
}

func (s *dbStorage) ListItemsPage(ctx context.Context, page, perPage int) ([]entities.Item, int64, error) {
	var total int64
	if err := s.dbpool.QueryRow(ctx, `SELECT COUNT(*) FROM items`).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count items: %w", err)
	}

	rows, err := s.dbpool.Query(ctx,
		`SELECT id, title, source_path, mime_type
		   FROM items
		  ORDER BY id DESC
		  LIMIT $1 OFFSET $2`, perPage, (page-1)*perPage)
	if err != nil {
		return nil, 0, fmt.Errorf("list items page %d: %w", page, err)
	}
	defer rows.Close()

	var items []entities.Item
	for rows.Next() {
		var item entities.Item
		if err := rows.Scan(&item.ID, &item.Title, &item.SourcePath, &item.MimeType); err != nil {
			return nil, 0, err
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, err
	}

	for i := range items {
		items[i].Renditions, err = s.renditionsFor(ctx, items[i].ID)
		if err != nil {
			return nil, 0, err
		}
	}
	return items, total, nil
}

func (s *dbStorage) TotalItems(ctx context.Context) (int64, error) {
	var n int64
	err := s.dbpool.QueryRow(ctx, `SELECT COUNT(*) FROM items`).Scan(&n)
	return n, err
}

// --- conversion records ---

// UpsertRecord keeps exactly one current row per (item, format). The
// unique constraint plus ON CONFLICT makes the replace atomic under
// concurrent writers. failed_attempts counts consecutive failures and
// resets on any other outcome.
func (s *dbStorage) UpsertRecord(ctx context.Context, rec entities.ConversionRecord) error {
	_, err := s.dbpool.Exec(ctx,
		`INSERT INTO conversion_records
		        (item_id, format, original_size_total, converted_size_total,
		         savings_total, status, log_message, failed_attempts, converted_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7,
		         CASE WHEN $6 = 'failed' THEN 1 ELSE 0 END, $8)
		 ON CONFLICT (item_id, format) DO UPDATE SET
		        original_size_total  = EXCLUDED.original_size_total,
		        converted_size_total = EXCLUDED.converted_size_total,
		        savings_total        = EXCLUDED.savings_total,
		        status               = EXCLUDED.status,
		        log_message          = EXCLUDED.log_message,
		        failed_attempts      = CASE WHEN EXCLUDED.status = 'failed'
		                                    THEN conversion_records.failed_attempts + 1
		                                    ELSE 0 END,
		        converted_at         = EXCLUDED.converted_at`,
		rec.ItemID, rec.Format, rec.OriginalSizeTotal, rec.ConvertedSizeTotal,
		rec.SavingsTotal, rec.Status, rec.LogMessage, rec.ConvertedAt)
	if err != nil {
		return fmt.Errorf("upsert record (%d, %s): %w", rec.ItemID, rec.Format, err)
	}
	return nil
}

func (s *dbStorage) LatestStatus(ctx context.Context, itemID int64, format entities.Format) (entities.Status, error) {
	var status entities.Status
	err := s.dbpool.QueryRow(ctx,
		`SELECT status FROM conversion_records WHERE item_id = $1 AND format = $2`,
		itemID, format,
	).Scan(&status)
	if errors.Is(err, pgx.ErrNoRows) {
		return entities.StatusPending, nil
	}
	if err != nil {
		return entities.StatusPending, fmt.Errorf("latest status (%d, %s): %w", itemID, format, err)
	}
	return status, nil
}

func (s *dbStorage) FormatSuccessCount(ctx context.Context, format entities.Format) (int64, error) {
	var n int64
	err := s.dbpool.QueryRow(ctx,
		`SELECT COUNT(DISTINCT item_id) FROM conversion_records
		  WHERE format = $1 AND status = 'success'`, format).Scan(&n)
	return n, err
}

func (s *dbStorage) AnySuccessCount(ctx context.Context) (int64, error) {
	var n int64
	err := s.dbpool.QueryRow(ctx,
		`SELECT COUNT(DISTINCT item_id) FROM conversion_records
		  WHERE status = 'success'`).Scan(&n)
	return n, err
}

// RecordsForItems loads the current record per format for each id, for
// the dashboard join.
func (s *dbStorage) RecordsForItems(ctx context.Context, ids []int64) (map[int64]map[entities.Format]entities.ConversionRecord, error) {
	out := make(map[int64]map[entities.Format]entities.ConversionRecord, len(ids))
	if len(ids) == 0 {
		return out, nil
	}

	rows, err := s.dbpool.Query(ctx,
		`SELECT item_id, format, original_size_total, converted_size_total,
		        savings_total, status, log_message, failed_attempts, converted_at
		   FROM conversion_records
		  WHERE item_id = ANY($1)`, ids)
	if err != nil {
		return nil, fmt.Errorf("records for items: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var rec entities.ConversionRecord
		if err := rows.Scan(&rec.ItemID, &rec.Format, &rec.OriginalSizeTotal,
			&rec.ConvertedSizeTotal, &rec.SavingsTotal, &rec.Status,
			&rec.LogMessage, &rec.FailedAttempts, &rec.ConvertedAt); err != nil {
			return nil, err
		}
		if out[rec.ItemID] == nil {
			out[rec.ItemID] = make(map[entities.Format]entities.ConversionRecord, 2)
		}
		out[rec.ItemID][rec.Format] = rec
	}
	return out, rows.Err()
}

func (s *dbStorage) TruncateRecords(ctx context.Context) (int64, error) {
	tag, err := s.dbpool.Exec(ctx, `DELETE FROM conversion_records`)
	if err != nil {
		return 0, fmt.Errorf("truncate conversion records: %w", err)
	}
	return tag.RowsAffected(), nil
}

// --- item completion ---

func (s *dbStorage) SetCompletion(ctx context.Context, itemID int64, state entities.CompletionState) error {
	if state == entities.CompletionUnset {
		_, err := s.dbpool.Exec(ctx,
			`DELETE FROM item_completion WHERE item_id = $1`, itemID)
		return err
	}
	_, err := s.dbpool.Exec(ctx,
		`INSERT INTO item_completion (item_id, state) VALUES ($1, $2)
		 ON CONFLICT (item_id) DO UPDATE SET state = EXCLUDED.state`,
		itemID, state)
	if err != nil {
		return fmt.Errorf("set completion for item %d: %w", itemID, err)
	}
	return nil
}

func (s *dbStorage) ClearCompletion(ctx context.Context) (int64, error) {
	tag, err := s.dbpool.Exec(ctx, `DELETE FROM item_completion`)
	if err != nil {
		return 0, fmt.Errorf("clear completion flags: %w", err)
	}
	return tag.RowsAffected(), nil
}

// --- settings and batch run state ---

func (s *dbStorage) GetSettings(ctx context.Context) (entities.Settings, error) {
	var set entities.Settings
	err := s.dbpool.QueryRow(ctx,
		`SELECT webp_quality, avif_quality, batch_size, conditional_enabled, min_savings_pct
		   FROM conversion_settings WHERE id = 1`,
	).Scan(&set.WebPQuality, &set.AVIFQuality, &set.BatchSize,
		&set.Savings.Enabled, &set.Savings.MinSavingsPct)
	if err != nil {
		return set, fmt.Errorf("get settings: %w", err)
	}
	return set, nil
}

func (s *dbStorage) UpdateSettings(ctx context.Context, set entities.Settings) error {
	_, err := s.dbpool.Exec(ctx,
		`UPDATE conversion_settings
		    SET webp_quality = $1, avif_quality = $2, batch_size = $3,
		        conditional_enabled = $4, min_savings_pct = $5
		  WHERE id = 1`,
		set.WebPQuality, set.AVIFQuality, set.BatchSize,
		set.Savings.Enabled, set.Savings.MinSavingsPct)
	if err != nil {
		return fmt.Errorf("update settings: %w", err)
	}
	return nil
}

// BatchState is persisted explicitly instead of being inferred from
// whether a timer happens to be armed.
func (s *dbStorage) BatchState(ctx context.Context) (entities.BatchState, error) {
	var state entities.BatchState
	err := s.dbpool.QueryRow(ctx,
		`SELECT batch_state FROM conversion_settings WHERE id = 1`).Scan(&state)
	if err != nil {
		return entities.BatchIdle, fmt.Errorf("get batch state: %w", err)
	}
	return state, nil
}

func (s *dbStorage) SetBatchState(ctx context.Context, state entities.BatchState) error {
	_, err := s.dbpool.Exec(ctx,
		`UPDATE conversion_settings SET batch_state = $1 WHERE id = 1`, state)
	if err != nil {
		return fmt.Errorf("set batch state %s: %w", state, err)
	}
	return nil
}
