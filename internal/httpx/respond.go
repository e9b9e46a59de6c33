package httpx

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/ariefcatur/go-storefront-orders/internal/cart"
	"github.com/ariefcatur/go-storefront-orders/internal/inventory"
	"github.com/ariefcatur/go-storefront-orders/internal/logger"
	"github.com/ariefcatur/go-storefront-orders/internal/orders"
	"go.uber.org/zap"
)

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	return json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20)).Decode(v)
}

func badRequest(w http.ResponseWriter, msg string) {
	writeJSON(w, http.StatusBadRequest, map[string]string{"error": msg})
}

// writeError maps domain errors onto status codes. A failed reservation is a
// 500 on checkout like any other failed step; the body names the cause.
// Anything unknown is a 500 and gets logged with the request id.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	var short *inventory.InsufficientStockError
	switch {
	case errors.As(err, &short):
		writeJSON(w, http.StatusInternalServerError, map[string]any{
			"error":      "insufficient_stock",
			"product_id": short.ProductID,
			"requested":  short.Requested,
			"available":  short.Available,
		})
	case errors.Is(err, orders.ErrEmptyCart):
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "empty_cart"})
	case errors.Is(err, orders.ErrInvalidInput),
		errors.Is(err, cart.ErrInvalidItem),
		errors.Is(err, cart.ErrInvalidQuantity),
		errors.Is(err, inventory.ErrInvalidItems):
		badRequest(w, err.Error())
	case errors.Is(err, orders.ErrNotFound),
		errors.Is(err, cart.ErrItemNotFound),
		errors.Is(err, inventory.ErrNotFound):
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "not found"})
	case errors.Is(err, orders.ErrForbidden):
		writeJSON(w, http.StatusForbidden, map[string]string{"error": "forbidden"})
	case errors.Is(err, orders.ErrInvalidTransition):
		writeJSON(w, http.StatusConflict, map[string]string{"error": err.Error()})
	case errors.Is(err, inventory.ErrReservationClosed):
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "reservation_closed"})
	case errors.Is(err, inventory.ErrUnavailable):
		logger.FromCtx(r.Context()).Warn("inventory unavailable", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "inventory_unavailable"})
	case errors.Is(err, orders.ErrPersistence):
		logger.FromCtx(r.Context()).Error("order persistence failed", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "order_persistence_failed"})
	default:
		logger.FromCtx(r.Context()).Error("request failed", zap.String("path", r.URL.Path), zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal error"})
	}
}
