package quotations

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/charterdesk/charterdesk/internal/magiclink"
	"github.com/charterdesk/charterdesk/internal/platform/httpx"
	"github.com/charterdesk/charterdesk/internal/pricing"
	"github.com/charterdesk/charterdesk/internal/workflow"
)

// ActorHeader carries the staff identity set by the upstream gateway.
const ActorHeader = "X-Actor"

// Handler exposes quotations over JSON.
type Handler struct {
	logger    *slog.Logger
	service   *Service
	validator *validator.Validate
}

func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{
		logger:    logger,
		service:   service,
		validator: validator.New(),
	}
}

// MountRoutes registers the staff routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Route("/quotations", func(r chi.Router) {
		r.Get("/", h.List)
		r.Post("/", h.Create)
		r.Route("/{id}", func(r chi.Router) {
			r.Get("/", h.Show)
			r.Patch("/", h.Update)
			r.Delete("/", h.Delete)
			r.Get("/workflow", h.Workflow)
			r.Get("/activities", h.Activities)
			r.Get("/pdf", h.PDF)
			r.Post("/send", h.Send)
			r.Post("/reminder", h.Reminder)
			r.Post("/approve", h.Approve)
			r.Post("/reject", h.Reject)
			r.Post("/invoice", h.Invoice)
			r.Post("/payment-link", h.PaymentLink)
			r.Post("/mark-paid", h.MarkPaid)
			r.Post("/convert", h.Convert)
			r.Post("/access-link", h.AccessLink)
		})
	})
}

// MountPublicRoutes registers the customer magic link routes.
func (h *Handler) MountPublicRoutes(r chi.Router) {
	r.Route("/quote-access/{token}", func(r chi.Router) {
		r.Get("/", h.View)
		r.Post("/approve", h.CustomerApprove)
		r.Post("/reject", h.CustomerReject)
	})
}

type listResponse struct {
	Items  []Quotation `json:"items"`
	Total  int         `json:"total"`
	Limit  int         `json:"limit"`
	Offset int         `json:"offset"`
}

func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	req, err := parseListRequest(r)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", err.Error())
		return
	}
	if !h.validate(w, req) {
		return
	}
	items, total, err := h.service.List(r.Context(), req)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	if items == nil {
		items = []Quotation{}
	}
	httpx.JSON(w, http.StatusOK, listResponse{Items: items, Total: total, Limit: req.Limit, Offset: req.Offset})
}

func (h *Handler) Create(w http.ResponseWriter, r *http.Request) {
	var req CreateRequest
	if !h.decode(w, r, &req, true) {
		return
	}
	q, err := h.service.Create(r.Context(), req, actor(r))
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, q)
}

func (h *Handler) Show(w http.ResponseWriter, r *http.Request) {
	id, ok := h.quotationID(w, r)
	if !ok {
		return
	}
	q, err := h.service.Get(r.Context(), id)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, q)
}

func (h *Handler) Update(w http.ResponseWriter, r *http.Request) {
	id, ok := h.quotationID(w, r)
	if !ok {
		return
	}
	var req UpdateRequest
	if !h.decode(w, r, &req, true) {
		return
	}
	q, err := h.service.Update(r.Context(), id, req, actor(r))
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, q)
}

func (h *Handler) Delete(w http.ResponseWriter, r *http.Request) {
	id, ok := h.quotationID(w, r)
	if !ok {
		return
	}
	if err := h.service.Delete(r.Context(), id, actor(r)); err != nil {
		h.respondError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) Workflow(w http.ResponseWriter, r *http.Request) {
	id, ok := h.quotationID(w, r)
	if !ok {
		return
	}
	viewer := workflow.ViewerStaff
	if r.URL.Query().Get("viewer") == string(workflow.ViewerCustomer) {
		viewer = workflow.ViewerCustomer
	}
	tl, err := h.service.Timeline(r.Context(), id, viewer)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, tl)
}

func (h *Handler) Activities(w http.ResponseWriter, r *http.Request) {
	id, ok := h.quotationID(w, r)
	if !ok {
		return
	}
	items, err := h.service.Activities(r.Context(), id)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	if items == nil {
		items = []Activity{}
	}
	httpx.JSON(w, http.StatusOK, items)
}

func (h *Handler) PDF(w http.ResponseWriter, r *http.Request) {
	id, ok := h.quotationID(w, r)
	if !ok {
		return
	}
	pdf, q, err := h.service.RenderPDF(r.Context(), id)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	writePDF(w, q.QuoteNumber+".pdf", pdf)
}

func (h *Handler) Send(w http.ResponseWriter, r *http.Request) {
	h.runAction(w, r, h.service.Send)
}

func (h *Handler) Reminder(w http.ResponseWriter, r *http.Request) {
	h.runAction(w, r, h.service.SendReminder)
}

func (h *Handler) PaymentLink(w http.ResponseWriter, r *http.Request) {
	h.runAction(w, r, h.service.SendPaymentLink)
}

func (h *Handler) Convert(w http.ResponseWriter, r *http.Request) {
	h.runAction(w, r, h.service.ConvertToBooking)
}

func (h *Handler) Approve(w http.ResponseWriter, r *http.Request) {
	id, ok := h.quotationID(w, r)
	if !ok {
		return
	}
	var req ApproveRequest
	if !h.decode(w, r, &req, false) {
		return
	}
	q, err := h.service.Approve(r.Context(), id, req, actor(r))
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, q)
}

func (h *Handler) Reject(w http.ResponseWriter, r *http.Request) {
	id, ok := h.quotationID(w, r)
	if !ok {
		return
	}
	var req RejectRequest
	if !h.decode(w, r, &req, true) {
		return
	}
	q, err := h.service.Reject(r.Context(), id, req.Reason, actor(r))
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, q)
}

func (h *Handler) Invoice(w http.ResponseWriter, r *http.Request) {
	id, ok := h.quotationID(w, r)
	if !ok {
		return
	}
	pdf, q, err := h.service.GenerateInvoice(r.Context(), id, actor(r))
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	writePDF(w, "invoice-"+q.QuoteNumber+".pdf", pdf)
}

func (h *Handler) MarkPaid(w http.ResponseWriter, r *http.Request) {
	id, ok := h.quotationID(w, r)
	if !ok {
		return
	}
	var req MarkPaidRequest
	if !h.decode(w, r, &req, true) {
		return
	}
	q, err := h.service.MarkPaid(r.Context(), id, req, actor(r))
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, q)
}

func (h *Handler) AccessLink(w http.ResponseWriter, r *http.Request) {
	id, ok := h.quotationID(w, r)
	if !ok {
		return
	}
	link, err := h.service.IssueAccessLink(r.Context(), id)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, link)
}

func (h *Handler) View(w http.ResponseWriter, r *http.Request) {
	view, err := h.service.ViewByToken(r.Context(), chi.URLParam(r, "token"))
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, view)
}

func (h *Handler) CustomerApprove(w http.ResponseWriter, r *http.Request) {
	var req ApproveRequest
	if !h.decode(w, r, &req, false) {
		return
	}
	q, err := h.service.ApproveByToken(r.Context(), chi.URLParam(r, "token"), req)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, q)
}

func (h *Handler) CustomerReject(w http.ResponseWriter, r *http.Request) {
	var req RejectRequest
	if !h.decode(w, r, &req, true) {
		return
	}
	q, err := h.service.RejectByToken(r.Context(), chi.URLParam(r, "token"), req.Reason)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, q)
}

func (h *Handler) runAction(w http.ResponseWriter, r *http.Request, fn func(context.Context, uuid.UUID, string) (*Quotation, error)) {
	id, ok := h.quotationID(w, r)
	if !ok {
		return
	}
	q, err := fn(r.Context(), id, actor(r))
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, q)
}

func (h *Handler) quotationID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid quotation id")
		return uuid.Nil, false
	}
	return id, true
}

// decode reads and validates a JSON body. An empty body is accepted unless required is set.
func (h *Handler) decode(w http.ResponseWriter, r *http.Request, dst any, required bool) bool {
	if err := httpx.DecodeJSON(r, dst); err != nil {
		if !errors.Is(err, io.EOF) || required {
			httpx.Problem(w, http.StatusBadRequest, "Bad Request", "malformed JSON body")
			return false
		}
	}
	return h.validate(w, dst)
}

func (h *Handler) validate(w http.ResponseWriter, v any) bool {
	err := h.validator.Struct(v)
	if err == nil {
		return true
	}
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return false
	}
	msgs := make([]string, 0, len(fieldErrs))
	for _, fe := range fieldErrs {
		msgs = append(msgs, fmt.Sprintf("%s: failed %s", fe.Namespace(), fe.Tag()))
	}
	httpx.Problem(w, http.StatusBadRequest, "Validation Failed", strings.Join(msgs, "; "))
	return false
}

// respondError translates service errors to problem responses.
func (h *Handler) respondError(w http.ResponseWriter, r *http.Request, err error) {
	var notFound *pricing.PriceNotFoundError
	switch {
	case errors.As(err, &notFound):
		httpx.Problem(w, http.StatusUnprocessableEntity, "Price Not Found", err.Error())
		return
	case errors.Is(err, ErrNotFound):
		err = fmt.Errorf("%w: %v", httpx.ErrNotFound, err)
	case errors.Is(err, ErrValidation), errors.Is(err, pricing.ErrInvalidAdjustment):
		err = fmt.Errorf("%w: %v", httpx.ErrValidation, err)
	case errors.Is(err, ErrInvalidStatus):
		err = fmt.Errorf("%w: %v", httpx.ErrConflict, err)
	case errors.Is(err, ErrAccessDenied):
		err = fmt.Errorf("%w: %v", httpx.ErrForbidden, err)
	case errors.Is(err, magiclink.ErrExpiredToken):
		err = fmt.Errorf("%w: %v", httpx.ErrGone, err)
	case errors.Is(err, magiclink.ErrInvalidToken):
		err = fmt.Errorf("%w: %v", httpx.ErrUnauthorized, err)
	case errors.Is(err, ErrDelivery):
		h.logger.Warn("quotation delivery failed", slog.String("path", r.URL.Path), slog.Any("error", err))
		err = fmt.Errorf("%w: %v", httpx.ErrBadGateway, err)
	default:
		h.logger.Error("quotation request failed",
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
			slog.Any("error", err),
		)
	}
	httpx.RespondError(w, err)
}

func actor(r *http.Request) string {
	if a := strings.TrimSpace(r.Header.Get(ActorHeader)); a != "" {
		return a
	}
	return "staff"
}

func parseListRequest(r *http.Request) (ListRequest, error) {
	q := r.URL.Query()
	var req ListRequest
	if s := q.Get("status"); s != "" {
		st := Status(s)
		req.Status = &st
	}
	if e := q.Get("customer_email"); e != "" {
		req.CustomerEmail = &e
	}
	for _, f := range []struct {
		key string
		dst **time.Time
		end bool
	}{{"date_from", &req.DateFrom, false}, {"date_to", &req.DateTo, true}} {
		v := q.Get(f.key)
		if v == "" {
			continue
		}
		d, err := time.Parse("2006-01-02", v)
		if err != nil {
			return req, fmt.Errorf("%s must be YYYY-MM-DD", f.key)
		}
		if f.end {
			d = d.Add(24*time.Hour - time.Nanosecond)
		}
		*f.dst = &d
	}
	for _, f := range []struct {
		key string
		dst *int
	}{{"limit", &req.Limit}, {"offset", &req.Offset}} {
		v := q.Get(f.key)
		if v == "" {
			continue
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			return req, fmt.Errorf("%s must be an integer", f.key)
		}
		*f.dst = n
	}
	return req, nil
}

func writePDF(w http.ResponseWriter, filename string, pdf []byte) {
	w.Header().Set("Content-Type", "application/pdf")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))
	w.Header().Set("Content-Length", strconv.Itoa(len(pdf)))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(pdf)
}
