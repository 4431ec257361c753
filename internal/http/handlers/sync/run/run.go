// Package run реализует HTTP-обработчик ручного запуска прохода
// синхронизации.
package run

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/middleware"
	"github.com/go-chi/render"

	"github.com/ruslanovk/vpnshop-sync/internal/http/response"
	"github.com/ruslanovk/vpnshop-sync/internal/lib/sl"
	"github.com/ruslanovk/vpnshop-sync/internal/models"
	"github.com/ruslanovk/vpnshop-sync/internal/syncer"
)

// Orchestrator запускает проход синхронизации по требованию.
type Orchestrator interface {
	TriggerNow(ctx context.Context) (*models.SyncReport, error)
}

// Handler обслуживает запросы ручного запуска синхронизации.
type Handler struct {
	log          *slog.Logger
	orchestrator Orchestrator
}

// New создает новый Handler.
func New(log *slog.Logger, orchestrator Orchestrator) *Handler {
	return &Handler{log: log, orchestrator: orchestrator}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	const op = "handlers.sync.run"
	log := h.log.With(
		slog.String("op", op),
		slog.String("request_id", middleware.GetReqID(r.Context())),
	)

	report, err := h.orchestrator.TriggerNow(r.Context())
	if errors.Is(err, syncer.ErrAlreadyRunning) {
		log.Warn("manual sync rejected, pass already running")
		w.WriteHeader(http.StatusConflict)
		render.JSON(w, r, response.Error("sync pass is already running"))
		return
	}
	if errors.Is(err, syncer.ErrNoPanelCredentials) {
		log.Error("manual sync rejected, panel is not configured")
		w.WriteHeader(http.StatusServiceUnavailable)
		render.JSON(w, r, response.Error("panel credentials are not configured"))
		return
	}
	if err != nil {
		log.Error("manual sync failed", sl.Err(err))
		w.WriteHeader(http.StatusInternalServerError)
		render.JSON(w, r, response.Error("sync pass failed"))
		return
	}

	log.Info("manual sync finished",
		slog.Int("created", report.Created), slog.Int("updated", report.Updated),
		slog.Int("retired", report.Retired), slog.Int("errors", report.Errors))
	render.JSON(w, r, response.StatusOKWithData(report))
}
