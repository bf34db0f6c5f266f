package router

import (
	"github.com/go-chi/chi/v5"

	"github.com/trunov/imageopt/internal/transport/handler"
)

func NewRouter(h *handler.Handler) chi.Router {
	r := chi.NewRouter()

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/status", h.GetStatus)
		r.Get("/dashboard", h.GetDashboard)
		r.Get("/compat", h.GetCompat)

		r.Post("/batch/start", h.StartBatch)
		r.Post("/batch/stop", h.StopBatch)
		r.Post("/images/{id}/convert", h.ConvertSingle)
		r.Post("/clear", h.ClearAll)

		r.Get("/settings", h.GetSettings)
		r.Put("/settings", h.UpdateSettings)
	})

	return r
}
