package entities

import "time"

// Format is a conversion target.
type Format string

const (
	FormatWebP Format = "webp"
	FormatAVIF Format = "avif"
)

// Formats lists every target the pipeline produces, in conversion order.
var Formats = []Format{FormatWebP, FormatAVIF}

func (f Format) Valid() bool {
	return f == FormatWebP || f == FormatAVIF
}

// Extension returns the file suffix for the format, without a dot.
func (f Format) Extension() string { return string(f) }

// ConvertedDir is the root directory name that mirrors the media tree
// for this format, e.g. "webp-converted".
func (f Format) ConvertedDir() string { return string(f) + "-converted" }

// Status is the outcome of a conversion attempt, per rendition or
// aggregated per (item, format). Pending is never stored: it is what
// queries report when no record exists yet.
type Status string

const (
	StatusSuccess       Status = "success"
	StatusFailed        Status = "failed"
	StatusSkippedSize   Status = "skipped_size"
	StatusSkippedExists Status = "skipped_exists"
	StatusPending       Status = "pending"
)

// Resolved reports whether the status counts toward item completion.
// Skips are treated as resolved: the item needs no further work for
// that format until a clear.
func (s Status) Resolved() bool {
	switch s {
	case StatusSuccess, StatusSkippedExists, StatusSkippedSize:
		return true
	}
	return false
}

// CompletionState is the derived per-item flag the scheduler selects on.
type CompletionState string

const (
	CompletionUnset      CompletionState = ""
	CompletionIncomplete CompletionState = "incomplete"
	CompletionComplete   CompletionState = "complete"
)

// BatchState is the scheduler's persisted run state.
type BatchState string

const (
	BatchIdle    BatchState = "idle"
	BatchRunning BatchState = "running"
)

// Rendition is one derived size of an item, e.g. "thumbnail".
type Rendition struct {
	Name string `json:"name"`
	Path string `json:"path"`
}

// Item is one convertible media asset. Items are owned by the media
// library; the pipeline only reads them.
type Item struct {
	ID         int64       `json:"id"`
	Title      string      `json:"title"`
	SourcePath string      `json:"source_path"`
	MimeType   string      `json:"mime_type"`
	Renditions []Rendition `json:"renditions,omitempty"`
}

// RenditionResult is the per-size outcome of one conversion call. It is
// consumed by the ledger aggregation and not persisted on its own.
type RenditionResult struct {
	Status        Status `json:"status"`
	Path          string `json:"path,omitempty"`
	OriginalSize  int64  `json:"original_size"`
	ConvertedSize int64  `json:"converted_size"`
	Savings       int64  `json:"savings"`
	Message       string `json:"message,omitempty"`
}

// ConversionRecord is the latest known outcome for one (item, format)
// pair. Exactly one row exists per pair; a new attempt updates it.
type ConversionRecord struct {
	ItemID             int64     `json:"item_id"`
	Format             Format    `json:"format"`
	OriginalSizeTotal  int64     `json:"original_size_total"`
	ConvertedSizeTotal int64     `json:"converted_size_total"`
	SavingsTotal       int64     `json:"savings_total"`
	Status             Status    `json:"status"`
	LogMessage         string    `json:"log_message,omitempty"`
	FailedAttempts     int       `json:"failed_attempts,omitempty"`
	ConvertedAt        time.Time `json:"converted_at"`
}

// SavingsPolicy is the conditional-conversion rule: when enabled, an
// output that does not shrink the file by at least MinSavingsPct is
// discarded.
type SavingsPolicy struct {
	Enabled       bool    `json:"enabled"`
	MinSavingsPct float64 `json:"min_savings_pct"`
}

// Settings is the persisted batch configuration row.
type Settings struct {
	WebPQuality int           `json:"webp_quality" validate:"gte=1,lte=100"`
	AVIFQuality int           `json:"avif_quality" validate:"gte=1,lte=100"`
	BatchSize   int           `json:"batch_size" validate:"gte=1,lte=500"`
	Savings     SavingsPolicy `json:"savings"`
}

// QualityFor returns the configured quality for a format.
func (s Settings) QualityFor(f Format) int {
	if f == FormatAVIF {
		return s.AVIFQuality
	}
	return s.WebPQuality
}

// StatusReport is the aggregate progress snapshot.
type StatusReport struct {
	Total         int64      `json:"total"`
	WebPConverted int64      `json:"webp_converted"`
	AVIFConverted int64      `json:"avif_converted"`
	Unconverted   int64      `json:"unconverted"`
	BatchState    BatchState `json:"batch_state"`
	IsRunning     bool       `json:"is_running"`
}

// FormatCell is one format's column in a dashboard row.
type FormatCell struct {
	Status Status `json:"status"`
	Size   int64  `json:"size"`
}

// DashboardItem is one row of the paginated listing.
type DashboardItem struct {
	ID           int64      `json:"id"`
	Title        string     `json:"title"`
	ThumbnailURL string     `json:"thumbnail_url,omitempty"`
	OriginalSize int64      `json:"original_size"`
	WebP         FormatCell `json:"webp"`
	AVIF         FormatCell `json:"avif"`
}

// DashboardPage is one page of the listing plus paging totals.
type DashboardPage struct {
	Items      []DashboardItem `json:"images"`
	TotalItems int64           `json:"total_images"`
	TotalPages int             `json:"total_pages"`
}

// ClearReport describes what a full reset managed to clean up.
// Each substep reports independently so the caller knows what is left.
type ClearReport struct {
	FilesCleared int   `json:"files_cleared"`
	LogsCleared  int64 `json:"logs_cleared"`
	MetaCleared  int64 `json:"meta_cleared"`
}
