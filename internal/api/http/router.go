package httpapi

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/artloft/gallery/internal/api/http/middleware"
	platformhealth "github.com/artloft/gallery/platform/health/http"
	platformobservability "github.com/artloft/gallery/platform/observability"
)

// NewRouter создаёт и настраивает HTTP роутер storefront-а.
// readiness — функция для проверки готовности сервиса (например, ping БД);
// если она возвращает false, health endpoint отвечает 503.
// logger используется observability middleware (trace_id в логах).
func NewRouter(handler *Handler, readiness func() bool, logger *zap.Logger) chi.Router {
	router := chi.NewRouter()

	// Observability: trace context + span на каждый запрос, logger с trace_id в контексте
	if logger != nil {
		router.Use(platformobservability.HTTPMiddleware("gallery", logger))
	}

	// /orders* требуют x-customer-id (middleware возвращает 401 при отсутствии)
	router.Route("/orders", func(r chi.Router) {
		r.Use(middleware.WithCustomerID)
		r.Post("/", handler.PostOrders)
		r.Get("/{id}", func(w http.ResponseWriter, r *http.Request) {
			handler.GetOrder(w, r, chi.URLParam(r, "id"))
		})
		r.Post("/{id}/cancel", func(w http.ResponseWriter, r *http.Request) {
			handler.PostOrderCancel(w, r, chi.URLParam(r, "id"))
		})
	})

	// Webhook аутентифицируется подписью, а не сессией
	router.Post("/webhooks/payment", handler.PostPaymentWebhook)

	// Health без middleware (не требует сессии)
	router.Get("/health", platformhealth.Handler(readiness))

	return router
}
