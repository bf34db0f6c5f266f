package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/getsentry/sentry-go"
	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/trunov/imageopt/internal/codec"
	"github.com/trunov/imageopt/internal/converter"
	"github.com/trunov/imageopt/internal/entities"
	use_case "github.com/trunov/imageopt/internal/use-case"
)

type UseCase interface {
	Status(ctx context.Context) (entities.StatusReport, error)
	DashboardPage(ctx context.Context, page, perPage int) (entities.DashboardPage, error)
	StartBatch(ctx context.Context) error
	StopBatch(ctx context.Context) error
	ConvertSingle(ctx context.Context, itemID int64) (use_case.SingleConversion, error)
	ClearAll(ctx context.Context) (entities.ClearReport, error)
	Settings(ctx context.Context) (entities.Settings, error)
	UpdateSettings(ctx context.Context, set entities.Settings) error
	Compat(ctx context.Context) []codec.Check
}

type Handler struct {
	useCase   UseCase
	validator *validator.Validate
}

func New(useCase UseCase) *Handler {
	return &Handler{
		useCase:   useCase,
		validator: validator.New(),
	}
}

func (h *Handler) GetStatus(w http.ResponseWriter, r *http.Request) {
	report, err := h.useCase.Status(r.Context())
	if err != nil {
		h.internalError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func (h *Handler) GetDashboard(w http.ResponseWriter, r *http.Request) {
	params := DashboardParams{
		Page:    parseIntDefault(r.URL.Query().Get("page"), 1),
		PerPage: parseIntDefault(r.URL.Query().Get("per_page"), 20),
	}
	if err := h.validator.Struct(params); err != nil {
		writeJSON(w, http.StatusBadRequest, validationErrorsToMap(err))
		return
	}

	page, err := h.useCase.DashboardPage(r.Context(), params.Page, params.PerPage)
	if err != nil {
		h.internalError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, page)
}

func (h *Handler) StartBatch(w http.ResponseWriter, r *http.Request) {
	if err := h.useCase.StartBatch(r.Context()); err != nil {
		h.internalError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "bulk conversion started"})
}

func (h *Handler) StopBatch(w http.ResponseWriter, r *http.Request) {
	if err := h.useCase.StopBatch(r.Context()); err != nil {
		h.internalError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "bulk conversion stopped"})
}

func (h *Handler) ConvertSingle(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id < 1 {
		writeJSONError(w, "invalid item id", http.StatusBadRequest)
		return
	}

	result, err := h.useCase.ConvertSingle(r.Context(), id)
	if err != nil {
		if errors.Is(err, converter.ErrUnsupportedFormat) || errors.Is(err, converter.ErrSourceMissing) {
			writeJSONError(w, err.Error(), http.StatusUnprocessableEntity)
			return
		}
		h.internalError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (h *Handler) ClearAll(w http.ResponseWriter, r *http.Request) {
	report, err := h.useCase.ClearAll(r.Context())
	if err != nil {
		// Partial failure: the report still tells the caller what was
		// cleaned up before things went wrong.
		sentry.CaptureException(err)
		writeJSON(w, http.StatusInternalServerError, map[string]interface{}{
			"error":  err.Error(),
			"report": report,
		})
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func (h *Handler) GetSettings(w http.ResponseWriter, r *http.Request) {
	set, err := h.useCase.Settings(r.Context())
	if err != nil {
		h.internalError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, set)
}

func (h *Handler) UpdateSettings(w http.ResponseWriter, r *http.Request) {
	var set entities.Settings
	if err := json.NewDecoder(r.Body).Decode(&set); err != nil {
		writeJSONError(w, "invalid settings payload: "+err.Error(), http.StatusBadRequest)
		return
	}
	if err := h.validator.Struct(set); err != nil {
		writeJSON(w, http.StatusBadRequest, validationErrorsToMap(err))
		return
	}

	if err := h.useCase.UpdateSettings(r.Context(), set); err != nil {
		h.internalError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, set)
}

func (h *Handler) GetCompat(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.useCase.Compat(r.Context()))
}

func (h *Handler) internalError(w http.ResponseWriter, err error) {
	sentry.CaptureException(err)
	writeJSONError(w, err.Error(), http.StatusInternalServerError)
}
