package httpx

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/ariefcatur/go-storefront-orders/internal/auth"
	"github.com/ariefcatur/go-storefront-orders/internal/inventory"
	"github.com/go-chi/chi/v5"
)

type InventoryService interface {
	Reserve(ctx context.Context, reservationID string, items []inventory.Item) error
	Release(ctx context.Context, reservationID string, items []inventory.Item) ([]inventory.Item, error)
	Commit(ctx context.Context, reservationID string) error
	Get(ctx context.Context, productID string) (inventory.Record, error)
	SetStock(ctx context.Context, productID string, qty int) (inventory.Record, error)
	Stale(ctx context.Context, before time.Time, limit int) ([]string, error)
}

const staleLimit = 500

type InventoryHandler struct {
	Service InventoryService
	Now     func() time.Time
}

type reservationReq struct {
	ReservationID string           `json:"reservation_id"`
	Items         []inventory.Item `json:"items"`
}

// Register mounts the ledger. Reserve, release, commit and stale are
// service-to-service calls; only the stock write needs an admin token.
func (h *InventoryHandler) Register(r chi.Router, v *auth.Verifier) {
	r.Post("/inventory/reserve", h.reserve)
	r.Post("/inventory/release", h.release)
	r.Post("/inventory/commit", h.commit)
	r.Get("/inventory/reservations/stale", h.stale)
	r.Get("/inventory/{productID}", h.get)
	r.With(v.Middleware, auth.RequireAdmin).Put("/inventory/{productID}", h.setStock)
}

func (h *InventoryHandler) reserve(w http.ResponseWriter, r *http.Request) {
	var req reservationReq
	if err := decodeJSON(w, r, &req); err != nil {
		badRequest(w, "invalid json")
		return
	}
	if req.ReservationID == "" || len(req.Items) == 0 {
		badRequest(w, "missing fields")
		return
	}
	if err := h.Service.Reserve(r.Context(), req.ReservationID, req.Items); err != nil {
		var short *inventory.InsufficientStockError
		if errors.As(err, &short) {
			// the order service reads this body back into InsufficientStockError
			writeJSON(w, http.StatusBadRequest, map[string]any{
				"error":      "insufficient_stock",
				"product_id": short.ProductID,
				"requested":  short.Requested,
				"available":  short.Available,
			})
			return
		}
		if errors.Is(err, inventory.ErrReservationClosed) {
			writeJSON(w, http.StatusConflict, map[string]string{"error": "reservation_closed"})
			return
		}
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"reservation_id": req.ReservationID, "items": req.Items})
}

func (h *InventoryHandler) release(w http.ResponseWriter, r *http.Request) {
	var req reservationReq
	if err := decodeJSON(w, r, &req); err != nil {
		badRequest(w, "invalid json")
		return
	}
	if req.ReservationID == "" {
		badRequest(w, "missing reservation_id")
		return
	}
	released, err := h.Service.Release(r.Context(), req.ReservationID, req.Items)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if released == nil {
		released = []inventory.Item{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"reservation_id": req.ReservationID, "released": released})
}

func (h *InventoryHandler) commit(w http.ResponseWriter, r *http.Request) {
	var req reservationReq
	if err := decodeJSON(w, r, &req); err != nil || req.ReservationID == "" {
		badRequest(w, "missing reservation_id")
		return
	}
	if err := h.Service.Commit(r.Context(), req.ReservationID); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"reservation_id": req.ReservationID})
}

func (h *InventoryHandler) stale(w http.ResponseWriter, r *http.Request) {
	olderThan, err := time.ParseDuration(r.URL.Query().Get("older_than"))
	if err != nil || olderThan <= 0 {
		badRequest(w, "older_than must be a positive duration")
		return
	}
	now := time.Now
	if h.Now != nil {
		now = h.Now
	}
	ids, err := h.Service.Stale(r.Context(), now().Add(-olderThan), staleLimit)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if ids == nil {
		ids = []string{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"reservation_ids": ids})
}

func (h *InventoryHandler) get(w http.ResponseWriter, r *http.Request) {
	rec, err := h.Service.Get(r.Context(), chi.URLParam(r, "productID"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (h *InventoryHandler) setStock(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Stock *int `json:"stock"`
	}
	if err := decodeJSON(w, r, &body); err != nil || body.Stock == nil || *body.Stock < 0 {
		badRequest(w, "stock must be a non-negative integer")
		return
	}
	rec, err := h.Service.SetStock(r.Context(), chi.URLParam(r, "productID"), *body.Stock)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}
