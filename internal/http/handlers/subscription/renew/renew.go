// Package renew реализует HTTP-обработчик продления подписки с баланса
// аккаунта.
package renew

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
	"github.com/ruslanovk/vpnshop-sync/internal/services/billing"
	"github.com/ruslanovk/vpnshop-sync/internal/storage/repository"
)

// Request — тело запроса на продление.
type Request struct {
	AccountID int `json:"account_id" validate:"required,min=1"`
	Months    int `json:"months" validate:"required,min=1"`
}

// Service описывает интерфейс бизнес-логики продления.
type Service interface {
	Renew(ctx context.Context, accountID, monthsCount int) (int, error)
}

// Handler обслуживает запросы продления подписки.
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
	const op = "handlers.subscription.renew"
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

	if err := h.validate.Struct(req); err != nil {
		log.Error("validation failed", sl.Err(err))
		w.WriteHeader(http.StatusUnprocessableEntity)
		render.JSON(w, r, response.ValidationError(err.(validator.ValidationErrors)))
		return
	}

	total, err := h.service.Renew(r.Context(), req.AccountID, req.Months)
	if err != nil {
		var vErr *billing.ValidationError
		switch {
		case errors.As(err, &vErr):
			log.Warn("renewal rejected", sl.Err(err))
			w.WriteHeader(http.StatusUnprocessableEntity)
			render.JSON(w, r, response.Error(vErr.Error()))
		case errors.Is(err, billing.ErrInsufficientBalance):
			log.Warn("renewal rejected, insufficient balance", slog.Int("account_id", req.AccountID))
			w.WriteHeader(http.StatusPaymentRequired)
			render.JSON(w, r, response.Error("insufficient balance"))
		case errors.Is(err, repository.ErrNotFound):
			log.Warn("account or subscription not found", slog.Int("account_id", req.AccountID))
			w.WriteHeader(http.StatusNotFound)
			render.JSON(w, r, response.Error("account not found"))
		default:
			log.Error("failed to renew subscription", sl.Err(err))
			w.WriteHeader(http.StatusInternalServerError)
			render.JSON(w, r, response.Error("could not renew subscription"))
		}
		return
	}

	log.Info("subscription renewed",
		slog.Int("account_id", req.AccountID), slog.Int("total_kopeks", total))
	render.JSON(w, r, response.StatusOKWithData(map[string]any{
		"charged_kopeks": total,
	}))
}
