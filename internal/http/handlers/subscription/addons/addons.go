// Package addons реализует HTTP-обработчик докупки опций подписки:
// сквады, трафик, лимит устройств.
package addons

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/middleware"
	"github.com/go-chi/render"
	"github.com/go-playground/validator"

	"github.com/ruslanovk/vpnshop-sync/internal/http/response"
	"github.com/ruslanovk/vpnshop-sync/internal/lib/sl"
	"github.com/ruslanovk/vpnshop-sync/internal/pricing"
	"github.com/ruslanovk/vpnshop-sync/internal/services/billing"
	"github.com/ruslanovk/vpnshop-sync/internal/storage/repository"
)

// Request — тело запроса на докупку опций.
type Request struct {
	AccountID int `json:"account_id" validate:"required,min=1"`
	billing.AddonRequest
}

// Service описывает интерфейс бизнес-логики докупки опций.
type Service interface {
	PurchaseAddons(ctx context.Context, accountID int, req billing.AddonRequest) (*pricing.Quote, error)
}

// Handler обслуживает запросы докупки опций подписки.
type Handler struct {
	log      *slog.Logger
	service  Service
	validate *validator.Validate
}

// New создает новый Handler.
func New(log *slog.Logger, service Service) *Handler {
	return &Handler{
		log:      log,
		service:  service,
		validate: validator.New(),
	}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	const op = "handlers.subscription.addons"
	log := h.log.With(
		slog.String("op", op),
		slog.String("request_id", middleware.GetReqID(r.Context())),
	)

	var req Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		log.Error("failed to decode request", sl.Err(err))
		w.WriteHeader(http.StatusBadRequest)
		render.JSON(w, r, response.Error("invalid request body"))
		return
	}
	log.Info("request body decoded", slog.Int("account_id", req.AccountID))

	if err := h.validate.Struct(req); err != nil {
		log.Error("validation failed", sl.Err(err))
		w.WriteHeader(http.StatusUnprocessableEntity)
		render.JSON(w, r, response.ValidationError(err.(validator.ValidationErrors)))
		return
	}

	quote, err := h.service.PurchaseAddons(r.Context(), req.AccountID, req.AddonRequest)
	if err != nil {
		var vErr *billing.ValidationError
		switch {
		case errors.As(err, &vErr):
			log.Warn("addon request rejected", sl.Err(err))
			w.WriteHeader(http.StatusUnprocessableEntity)
			render.JSON(w, r, response.Error(vErr.Error()))
		case errors.Is(err, billing.ErrInsufficientBalance):
			log.Warn("addon purchase rejected, insufficient balance",
				slog.Int("account_id", req.AccountID))
			w.WriteHeader(http.StatusPaymentRequired)
			render.JSON(w, r, response.Error("insufficient balance"))
		case errors.Is(err, repository.ErrNotFound):
			log.Warn("account or subscription not found", slog.Int("account_id", req.AccountID))
			w.WriteHeader(http.StatusNotFound)
			render.JSON(w, r, response.Error("account not found"))
		default:
			log.Error("failed to purchase addons", sl.Err(err))
			w.WriteHeader(http.StatusInternalServerError)
			render.JSON(w, r, response.Error("could not purchase addons"))
		}
		return
	}

	log.Info("addons purchased",
		slog.Int("account_id", req.AccountID), slog.Int("total_kopeks", quote.TotalKopeks))
	render.JSON(w, r, response.StatusOKWithData(quote))
}
