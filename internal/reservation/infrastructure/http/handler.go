package http

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"github.com/dmehra2102/Inventory-Reservation-System/internal/reservation/application"
	"github.com/dmehra2102/Inventory-Reservation-System/internal/reservation/domain"
)

type Handler struct {
	log         *slog.Logger
	manager     *application.Manager
	coordinator *application.Coordinator
	store       application.ReservationStore
	tracer      trace.Tracer
}

func NewHandler(log *slog.Logger, manager *application.Manager, coordinator *application.Coordinator, store application.ReservationStore) *Handler {
	return &Handler{
		log:         log,
		manager:     manager,
		coordinator: coordinator,
		store:       store,
		tracer:      otel.Tracer("reservation-http"),
	}
}

func (h *Handler) Routes() http.Handler {
	r := chi.NewRouter()
	r.Post("/reservations", h.createReservation)
	r.Get("/reservations/{id}", h.getReservation)
	r.Delete("/reservations/{id}", h.cancelReservation)
	r.Post("/reservations/{id}/payment-ref", h.attachPaymentRef)
	r.Post("/payments/webhook", h.paymentWebhook)
	r.Get("/variants/{id}/stock", h.getStock)
	r.Get("/sales/{reservationID}", h.getSale)

	return r
}

type createReservationReq struct {
	VariantID  string `json:"variant_id"`
	Quantity   int    `json:"quantity"`
	SessionID  string `json:"session_id"`
	TTLSeconds int    `json:"ttl_seconds"`
	Notes      string `json:"notes"`
}

type reservationResp struct {
	ReservationID string    `json:"reservation_id"`
	VariantID     string    `json:"variant_id"`
	Quantity      int       `json:"quantity"`
	State         string    `json:"state"`
	ExpiresAt     time.Time `json:"expires_at"`
}

func toReservationResp(r domain.Reservation) reservationResp {
	return reservationResp{
		ReservationID: r.ID,
		VariantID:     r.VariantID,
		Quantity:      r.Quantity,
		State:         string(r.State),
		ExpiresAt:     r.ExpiresAt,
	}
}

func (h *Handler) createReservation(w http.ResponseWriter, r *http.Request) {
	ctx, span := h.tracer.Start(r.Context(), "CreateReservation")
	defer span.End()

	var req createReservationReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid body", http.StatusBadRequest)
		return
	}

	res, err := h.manager.CreateReservation(ctx, application.CreateReservationInput{
		VariantID: req.VariantID,
		Quantity:  req.Quantity,
		SessionID: req.SessionID,
		TTL:       time.Duration(req.TTLSeconds) * time.Second,
		Notes:     req.Notes,
	}, traceparentFrom(ctx, r))
	if err != nil {
		h.writeError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	_ = json.NewEncoder(w).Encode(toReservationResp(res))
}

func (h *Handler) getReservation(w http.ResponseWriter, r *http.Request) {
	ctx, span := h.tracer.Start(r.Context(), "GetReservation")
	defer span.End()

	res, err := h.manager.Get(ctx, chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(toReservationResp(res))
}

func (h *Handler) cancelReservation(w http.ResponseWriter, r *http.Request) {
	ctx, span := h.tracer.Start(r.Context(), "CancelReservation")
	defer span.End()

	err := h.manager.Release(ctx, chi.URLParam(r, "id"), "user-cancelled", traceparentFrom(ctx, r))
	if err != nil {
		h.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type attachPaymentRefReq struct {
	PaymentRef string `json:"payment_ref"`
}

func (h *Handler) attachPaymentRef(w http.ResponseWriter, r *http.Request) {
	ctx, span := h.tracer.Start(r.Context(), "AttachPaymentRef")
	defer span.End()

	var req attachPaymentRefReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid body", http.StatusBadRequest)
		return
	}

	if err := h.manager.AttachPaymentRef(ctx, chi.URLParam(r, "id"), req.PaymentRef); err != nil {
		h.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type paymentWebhookReq struct {
	PaymentRef string `json:"payment_ref"`
	Outcome    string `json:"outcome"`
}

func (h *Handler) paymentWebhook(w http.ResponseWriter, r *http.Request) {
	ctx, span := h.tracer.Start(r.Context(), "PaymentWebhook")
	defer span.End()

	var req paymentWebhookReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid body", http.StatusBadRequest)
		return
	}

	err := h.coordinator.Handle(ctx, req.PaymentRef, application.PaymentOutcome(req.Outcome), traceparentFrom(ctx, r))
	if err != nil {
		h.writeError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]string{"status": "applied"})
}

type stockResp struct {
	VariantID      string `json:"variant_id"`
	TotalStock     int    `json:"total_stock"`
	ReservedStock  int    `json:"reserved_stock"`
	AvailableStock int    `json:"available_stock"`
	Frozen         bool   `json:"frozen"`
}

func (h *Handler) getStock(w http.ResponseWriter, r *http.Request) {
	ctx, span := h.tracer.Start(r.Context(), "GetStock")
	defer span.End()

	v, err := h.store.Variant(ctx, chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(stockResp{
		VariantID:      v.ID,
		TotalStock:     v.TotalStock,
		ReservedStock:  v.ReservedStock,
		AvailableStock: v.Available(),
		Frozen:         v.Frozen,
	})
}

type saleResp struct {
	SaleID         string    `json:"sale_id"`
	ReservationID  string    `json:"reservation_id"`
	VariantID      string    `json:"variant_id"`
	Quantity       int       `json:"quantity"`
	UnitPriceCents int64     `json:"unit_price_cents"`
	CreatedAt      time.Time `json:"created_at"`
}

func (h *Handler) getSale(w http.ResponseWriter, r *http.Request) {
	ctx, span := h.tracer.Start(r.Context(), "GetSale")
	defer span.End()

	s, err := h.store.SaleByReservation(ctx, chi.URLParam(r, "reservationID"))
	if err != nil {
		h.writeError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(saleResp{
		SaleID:         s.ID,
		ReservationID:  s.ReservationID,
		VariantID:      s.VariantID,
		Quantity:       s.Quantity,
		UnitPriceCents: s.UnitPriceCents,
		CreatedAt:      s.CreatedAt,
	})
}

func (h *Handler) writeError(w http.ResponseWriter, err error) {
	// Anything unrecognized is a server-side failure, not the caller's fault.
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, domain.ErrInvalidInput):
		status = http.StatusBadRequest
	case errors.Is(err, domain.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, domain.ErrInsufficientStock):
		status = http.StatusConflict
	case errors.Is(err, domain.ErrReservationClosed):
		status = http.StatusConflict
	case errors.Is(err, domain.ErrOrphanPayment):
		status = http.StatusUnprocessableEntity
	case errors.Is(err, domain.ErrInvariantViolation):
		status = http.StatusInternalServerError
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": err.Error()})
}

func traceparentFrom(ctx context.Context, r *http.Request) string {
	if tp := r.Header.Get("traceparent"); tp != "" {
		return tp
	}
	carrier := propagationMapCarrier{}
	otel.GetTextMapPropagator().Inject(ctx, carrier)
	return carrier["traceparent"]
}

type propagationMapCarrier map[string]string

func (c propagationMapCarrier) Get(key string) string { return c[key] }
func (c propagationMapCarrier) Set(key, val string)   { c[key] = val }
func (c propagationMapCarrier) Keys() []string {
	keys := make([]string, 0, len(c))
	for k := range c {
		keys = append(keys, k)
	}
	return keys
}
