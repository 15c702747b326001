package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"notice-engine/internal/observability"
)

func Router(bh *BannerHandler, ch *CampaignHandler) http.Handler {
	r := chi.NewRouter()

	r.Use(observability.Measure)
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(2 * time.Second))

	r.Get("/v1/delivery", bh.Delivery)
	r.Route("/v1/banners", func(r chi.Router) {
		r.Get("/preview", bh.PreviewFrame)
		r.Get("/{name}/render", bh.RenderBanner)
		r.Get("/{name}/preview", bh.PreviewBanner)
	})
	r.Route("/v1/campaigns", func(r chi.Router) {
		r.Get("/", ch.List)
		r.Post("/", ch.Create)
		r.Get("/logs", ch.Logs)
		r.Route("/{name}", func(r chi.Router) {
			r.Get("/", ch.Get)
			r.Patch("/", ch.Update)
			r.Delete("/", ch.Delete)
			r.Post("/banners", ch.AssignBanner)
			r.Patch("/banners/{banner}", ch.UpdateAssignment)
			r.Delete("/banners/{banner}", ch.UnassignBanner)
		})
	})

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Handle("/metrics", observability.MetricsHandler())
	return r
}
