// Package vpnshopsync собирает сервис синхронизации: маршруты,
// HTTP-сервер и зависимости.
package vpnshopsync

import (
	"log/slog"

	"github.com/go-chi/chi"
	"github.com/go-chi/chi/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/ruslanovk/vpnshop-sync/internal/http/handlers/subscription/addons"
	"github.com/ruslanovk/vpnshop-sync/internal/http/handlers/subscription/renew"
	"github.com/ruslanovk/vpnshop-sync/internal/http/handlers/sync/run"
	"github.com/ruslanovk/vpnshop-sync/internal/http/handlers/sync/status"
	"github.com/ruslanovk/vpnshop-sync/internal/http/middlewarectx"
	"github.com/ruslanovk/vpnshop-sync/internal/services/billing"
	"github.com/ruslanovk/vpnshop-sync/internal/syncer"
)

// RegisterRoutes регистрирует все маршруты приложения.
func RegisterRoutes(r chi.Router, logger *slog.Logger, orchestrator *syncer.Orchestrator, billingService *billing.Service) {
	// Глобальные middleware
	r.Use(
		middleware.RequestID,
		middleware.Logger,
		middleware.Recoverer,
		middleware.URLFormat,
	)

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(middlewarectx.RateLimitMiddleware(logger))
		r.Get("/sync/status", status.New(logger, orchestrator).ServeHTTP)
		r.Post("/sync/run", run.New(logger, orchestrator).ServeHTTP)
		r.Post("/subscriptions/addons", addons.New(logger, billingService).ServeHTTP)
		r.Post("/subscriptions/renew", renew.New(logger, billingService).ServeHTTP)
	})

	r.Handle("/metrics", promhttp.Handler())
}
