package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"salon-gateway/internal/middleware"
)

// NewRouter はルーターを生成する。
func NewRouter(h *SalonHandler) http.Handler {
	r := chi.NewRouter()

	// ミドルウェア
	r.Use(chimiddleware.RequestID)
	r.Use(middleware.RequestLogger)
	r.Use(chimiddleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	// ルート定義
	r.Route("/v1", func(r chi.Router) {
		r.Get("/session", h.GetSession)
		r.Post("/session/refresh", h.RefreshSession)

		r.Route("/works", func(r chi.Router) {
			r.Get("/", h.ListWorks)
			r.Post("/", h.SubmitWork)
			r.Get("/{work_id}", h.GetWork)
			r.Post("/{work_id}/applause", h.ApplaudWork)
			r.Post("/{work_id}/applause/decrypt", h.DecryptApplause)
			r.Post("/{work_id}/endorsements", h.EndorseWork)
		})

		r.Post("/categories/{category}/decrypt", h.DecryptCategory)
		r.Get("/batches", h.ListBatches)
	})

	return otelhttp.NewHandler(r, "salon-gateway")
}
