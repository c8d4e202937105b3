package http

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/dmehra2102/Inventory-Reservation-System/internal/reservation/application"
	"github.com/dmehra2102/Inventory-Reservation-System/internal/reservation/domain"
	"github.com/dmehra2102/Inventory-Reservation-System/internal/reservation/infrastructure/memory"
	"github.com/dmehra2102/Inventory-Reservation-System/pkg/logging"
)

func newServer(t *testing.T, totalStock int) (*httptest.Server, *memory.Store) {
	t.Helper()
	log := logging.New()
	store := memory.NewStore()
	store.SeedVariant(domain.Variant{ID: "variant-1", SKU: "SKU-1", PriceCents: 9900, TotalStock: totalStock})
	manager := application.NewManager(log, store, 15*time.Minute)
	coordinator := application.NewCoordinator(log, store, manager)
	h := NewHandler(log, manager, coordinator, store)

	srv := httptest.NewServer(h.Routes())
	t.Cleanup(srv.Close)
	return srv, store
}

func doJSON(t *testing.T, method, url string, body any) (*http.Response, []byte) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req, err := http.NewRequest(method, url, &buf)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	var out bytes.Buffer
	_, err = out.ReadFrom(resp.Body)
	require.NoError(t, err)
	return resp, out.Bytes()
}

func createReservation(t *testing.T, srv *httptest.Server, qty int) reservationResp {
	t.Helper()
	resp, body := doJSON(t, http.MethodPost, srv.URL+"/reservations", map[string]any{
		"variant_id":  "variant-1",
		"quantity":    qty,
		"session_id":  "session-a",
		"ttl_seconds": 60,
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode, string(body))

	var out reservationResp
	require.NoError(t, json.Unmarshal(body, &out))
	return out
}

func TestHandler_CreateReservation(t *testing.T) {
	srv, _ := newServer(t, 5)

	out := createReservation(t, srv, 3)
	require.NotEmpty(t, out.ReservationID)
	require.Equal(t, "PENDING", out.State)
	require.False(t, out.ExpiresAt.IsZero())

	t.Run("insufficient stock is 409", func(t *testing.T) {
		resp, _ := doJSON(t, http.MethodPost, srv.URL+"/reservations", map[string]any{
			"variant_id": "variant-1",
			"quantity":   3,
			"session_id": "session-b",
		})
		require.Equal(t, http.StatusConflict, resp.StatusCode)
	})

	t.Run("bad body is 400", func(t *testing.T) {
		req, err := http.NewRequest(http.MethodPost, srv.URL+"/reservations", bytes.NewBufferString("{"))
		require.NoError(t, err)
		resp, err := http.DefaultClient.Do(req)
		require.NoError(t, err)
		resp.Body.Close()
		require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	})
}

func TestHandler_CancelAndStock(t *testing.T) {
	srv, _ := newServer(t, 5)
	out := createReservation(t, srv, 3)

	resp, body := doJSON(t, http.MethodGet, srv.URL+"/variants/variant-1/stock", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var stock stockResp
	require.NoError(t, json.Unmarshal(body, &stock))
	require.Equal(t, 2, stock.AvailableStock)

	resp, _ = doJSON(t, http.MethodDelete, srv.URL+"/reservations/"+out.ReservationID, nil)
	require.Equal(t, http.StatusNoContent, resp.StatusCode)

	// cancelling twice stays 204
	resp, _ = doJSON(t, http.MethodDelete, srv.URL+"/reservations/"+out.ReservationID, nil)
	require.Equal(t, http.StatusNoContent, resp.StatusCode)

	resp, body = doJSON(t, http.MethodGet, srv.URL+"/variants/variant-1/stock", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.NoError(t, json.Unmarshal(body, &stock))
	require.Equal(t, 5, stock.AvailableStock)
}

func TestHandler_WebhookFlow(t *testing.T) {
	srv, store := newServer(t, 5)
	out := createReservation(t, srv, 2)

	resp, _ := doJSON(t, http.MethodPost, fmt.Sprintf("%s/reservations/%s/payment-ref", srv.URL, out.ReservationID), map[string]string{
		"payment_ref": "pay-1",
	})
	require.Equal(t, http.StatusNoContent, resp.StatusCode)

	resp, _ = doJSON(t, http.MethodPost, srv.URL+"/payments/webhook", map[string]string{
		"payment_ref": "pay-1",
		"outcome":     "succeeded",
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	got, err := store.Get(context.Background(), out.ReservationID)
	require.NoError(t, err)
	require.Equal(t, domain.StateConfirmed, got.State)

	resp, body := doJSON(t, http.MethodGet, srv.URL+"/sales/"+out.ReservationID, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var sale saleResp
	require.NoError(t, json.Unmarshal(body, &sale))
	require.Equal(t, 2, sale.Quantity)
	require.Equal(t, int64(9900), sale.UnitPriceCents)

	t.Run("orphan webhook is 422", func(t *testing.T) {
		resp, _ := doJSON(t, http.MethodPost, srv.URL+"/payments/webhook", map[string]string{
			"payment_ref": "pay-ghost",
			"outcome":     "succeeded",
		})
		require.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
	})
}

func TestHandler_GetReservation(t *testing.T) {
	srv, _ := newServer(t, 5)
	out := createReservation(t, srv, 1)

	resp, body := doJSON(t, http.MethodGet, srv.URL+"/reservations/"+out.ReservationID, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var got reservationResp
	require.NoError(t, json.Unmarshal(body, &got))
	require.Equal(t, out.ReservationID, got.ReservationID)

	resp, _ = doJSON(t, http.MethodGet, srv.URL+"/reservations/00000000-0000-0000-0000-000000000000", nil)
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestHandler_ErrorStatusMapping(t *testing.T) {
	srv, _ := newServer(t, 5)

	t.Run("zero quantity is 400", func(t *testing.T) {
		resp, _ := doJSON(t, http.MethodPost, srv.URL+"/reservations", map[string]any{
			"variant_id": "variant-1",
			"quantity":   0,
			"session_id": "session-a",
		})
		require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	})

	t.Run("unknown webhook outcome is 400", func(t *testing.T) {
		resp, _ := doJSON(t, http.MethodPost, srv.URL+"/payments/webhook", map[string]any{
			"payment_ref": "pay-1",
			"outcome":     "exploded",
		})
		require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	})

	t.Run("unrecognized error is 500", func(t *testing.T) {
		log := logging.New()
		store := memory.NewStore()
		manager := application.NewManager(log, store, time.Minute)
		h := NewHandler(log, manager, application.NewCoordinator(log, store, manager), store)

		rec := httptest.NewRecorder()
		h.writeError(rec, fmt.Errorf("connection reset by peer"))
		require.Equal(t, http.StatusInternalServerError, rec.Code)
	})
}
