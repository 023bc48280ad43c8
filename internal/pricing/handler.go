package pricing

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/charterdesk/charterdesk/internal/platform/httpx"
)

// Handler serves ad hoc price quotes for staff tooling.
type Handler struct {
	logger  *slog.Logger
	service *Service
}

func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service}
}

func (h *Handler) MountRoutes(r chi.Router) {
	r.Post("/pricing/quote", h.Quote)
	r.Post("/pricing/cache/invalidate", h.Invalidate)
}

func (h *Handler) Quote(w http.ResponseWriter, r *http.Request) {
	var req PriceRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "malformed JSON body")
		return
	}
	quote, err := h.service.Price(r.Context(), req)
	if err != nil {
		var notFound *PriceNotFoundError
		switch {
		case errors.As(err, &notFound):
			httpx.Problem(w, http.StatusUnprocessableEntity, "Price Not Found", err.Error())
		case errors.Is(err, ErrInvalidAdjustment), errors.Is(err, ErrEmptyRequest):
			httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		default:
			h.logger.Error("price quote", slog.Any("error", err))
			httpx.RespondError(w, err)
		}
		return
	}
	httpx.JSON(w, http.StatusOK, quote)
}

func (h *Handler) Invalidate(w http.ResponseWriter, r *http.Request) {
	if err := h.service.InvalidateCatalog(r.Context()); err != nil {
		h.logger.Error("invalidate pricing cache", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
