// Package status реализует HTTP-обработчик статусной поверхности
// синхронизации: расписание, последний проход, признак активности.
package status

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/middleware"
	"github.com/go-chi/render"

	"github.com/ruslanovk/vpnshop-sync/internal/http/response"
	"github.com/ruslanovk/vpnshop-sync/internal/syncer"
)

// Orchestrator отдает снимок состояния синхронизации.
type Orchestrator interface {
	Status() syncer.Status
}

// Handler обслуживает запросы статуса синхронизации.
type Handler struct {
	log          *slog.Logger
	orchestrator Orchestrator
}

// New создает новый Handler.
func New(log *slog.Logger, orchestrator Orchestrator) *Handler {
	return &Handler{log: log, orchestrator: orchestrator}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	const op = "handlers.sync.status"
	log := h.log.With(
		slog.String("op", op),
		slog.String("request_id", middleware.GetReqID(r.Context())),
	)

	st := h.orchestrator.Status()
	log.Info("sync status requested", slog.Bool("is_running", st.IsRunning))
	render.JSON(w, r, response.StatusOKWithData(st))
}
