package httpx

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/ariefcatur/go-storefront-orders/internal/auth"
	"github.com/ariefcatur/go-storefront-orders/internal/logger"
	"github.com/ariefcatur/go-storefront-orders/internal/orders"
	"github.com/ariefcatur/go-storefront-orders/internal/redisx"
	"github.com/go-chi/chi/v5"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

type OrderService interface {
	PlaceOrder(ctx context.Context, userID string, in orders.PlaceOrderInput) (*orders.Order, error)
	Get(ctx context.Context, userID string, isAdmin bool, orderID string) (*orders.Order, error)
	List(ctx context.Context, userID string) ([]orders.Order, error)
	UpdateStatus(ctx context.Context, orderID string, to orders.Status) (*orders.Order, error)
	UpdatePaymentStatus(ctx context.Context, orderID string, to orders.PaymentStatus) (*orders.Order, error)
}

type OrdersHandler struct {
	Service OrderService
	Redis   redis.Cmdable
	Limiter *UserLimiter
}

// idempotency slot value while the first request is still running
const idemPending = "pending"

type statusView struct {
	OrderID       string               `json:"order_id"`
	UserID        string               `json:"user_id"`
	Status        orders.Status        `json:"status"`
	PaymentStatus orders.PaymentStatus `json:"payment_status"`
}

func (h *OrdersHandler) Register(r chi.Router, v *auth.Verifier) {
	r.Group(func(r chi.Router) {
		r.Use(v.Middleware)
		if h.Limiter != nil {
			r.With(h.Limiter.Middleware).Post("/orders/create", h.createOrder)
		} else {
			r.Post("/orders/create", h.createOrder)
		}
		r.Get("/orders", h.listOrders)
		r.Get("/orders/{id}", h.getOrder)
		r.Get("/orders/{id}/status", h.getStatus)

		r.Group(func(r chi.Router) {
			r.Use(auth.RequireAdmin)
			r.Put("/orders/{id}/status", h.updateStatus)
			r.Put("/orders/{id}/payment-status", h.updatePaymentStatus)
		})
	})
}

func (h *OrdersHandler) createOrder(w http.ResponseWriter, r *http.Request) {
	id, _ := auth.FromContext(r.Context())
	ctx := r.Context()
	log := logger.FromCtx(ctx)

	var in orders.PlaceOrderInput
	if err := decodeJSON(w, r, &in); err != nil {
		badRequest(w, "invalid json")
		return
	}

	idemKey := ""
	if k := r.Header.Get("Idempotency-Key"); k != "" {
		idemKey = fmt.Sprintf(redisx.KeyIdemOrderCreate, id.UserID, k)
		won, err := h.Redis.SetNX(ctx, idemKey, idemPending, redisx.TTLIdempotency).Result()
		if err != nil {
			log.Warn("idempotency claim failed, continuing without it", zap.Error(err))
			idemKey = ""
		} else if !won {
			h.replay(w, r, id, idemKey)
			return
		}
	}

	o, err := h.Service.PlaceOrder(ctx, id.UserID, in)
	if err != nil {
		if idemKey != "" {
			_ = h.Redis.Del(context.WithoutCancel(ctx), idemKey).Err()
		}
		writeError(w, r, err)
		return
	}

	// the order exists even if the client is gone
	bg := context.WithoutCancel(ctx)
	if idemKey != "" {
		if err := h.Redis.Set(bg, idemKey, o.ID, redisx.TTLIdempotency).Err(); err != nil {
			log.Warn("idempotency store failed", zap.String("order_id", o.ID), zap.Error(err))
		}
	}
	h.cacheStatus(bg, o)

	writeJSON(w, http.StatusOK, map[string]any{"order": o})
}

func (h *OrdersHandler) replay(w http.ResponseWriter, r *http.Request, id auth.Identity, idemKey string) {
	orderID, err := h.Redis.Get(r.Context(), idemKey).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		writeError(w, r, err)
		return
	}
	if orderID == "" || orderID == idemPending {
		writeJSON(w, http.StatusConflict, map[string]string{"error": "request with this idempotency key is in progress"})
		return
	}
	o, err := h.Service.Get(r.Context(), id.UserID, false, orderID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	w.Header().Set("Idempotent-Replayed", "true")
	writeJSON(w, http.StatusOK, map[string]any{"order": o})
}

func (h *OrdersHandler) listOrders(w http.ResponseWriter, r *http.Request) {
	id, _ := auth.FromContext(r.Context())
	list, err := h.Service.List(r.Context(), id.UserID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"orders": list})
}

func (h *OrdersHandler) getOrder(w http.ResponseWriter, r *http.Request) {
	id, _ := auth.FromContext(r.Context())
	o, err := h.Service.Get(r.Context(), id.UserID, id.IsAdmin(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"order": o})
}

// getStatus serves from the Redis cache and falls back to the database.
func (h *OrdersHandler) getStatus(w http.ResponseWriter, r *http.Request) {
	id, _ := auth.FromContext(r.Context())
	orderID := chi.URLParam(r, "id")
	ctx := r.Context()

	key := fmt.Sprintf(redisx.KeyOrderStatus, orderID)
	if s, err := h.Redis.Get(ctx, key).Result(); err == nil && s != "" {
		var v statusView
		if json.Unmarshal([]byte(s), &v) == nil {
			if v.UserID != id.UserID && !id.IsAdmin() {
				writeError(w, r, orders.ErrForbidden)
				return
			}
			writeJSON(w, http.StatusOK, v)
			return
		}
	}

	o, err := h.Service.Get(ctx, id.UserID, id.IsAdmin(), orderID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, h.cacheStatus(ctx, o))
}

func (h *OrdersHandler) updateStatus(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Status orders.Status `json:"status"`
	}
	if err := decodeJSON(w, r, &body); err != nil {
		badRequest(w, "invalid json")
		return
	}
	o, err := h.Service.UpdateStatus(r.Context(), chi.URLParam(r, "id"), body.Status)
	if err != nil {
		writeError(w, r, err)
		return
	}
	h.cacheStatus(r.Context(), o)
	writeJSON(w, http.StatusOK, map[string]any{"order": o})
}

func (h *OrdersHandler) updatePaymentStatus(w http.ResponseWriter, r *http.Request) {
	var body struct {
		PaymentStatus orders.PaymentStatus `json:"payment_status"`
	}
	if err := decodeJSON(w, r, &body); err != nil {
		badRequest(w, "invalid json")
		return
	}
	o, err := h.Service.UpdatePaymentStatus(r.Context(), chi.URLParam(r, "id"), body.PaymentStatus)
	if err != nil {
		writeError(w, r, err)
		return
	}
	h.cacheStatus(r.Context(), o)
	writeJSON(w, http.StatusOK, map[string]any{"order": o})
}

func (h *OrdersHandler) cacheStatus(ctx context.Context, o *orders.Order) statusView {
	v := statusView{OrderID: o.ID, UserID: o.UserID, Status: o.Status, PaymentStatus: o.PaymentStatus}
	b, _ := json.Marshal(v)
	if err := h.Redis.Set(ctx, fmt.Sprintf(redisx.KeyOrderStatus, o.ID), b, redisx.TTLStatusCache).Err(); err != nil {
		logger.FromCtx(ctx).Debug("status cache write failed", zap.String("order_id", o.ID), zap.Error(err))
	}
	return v
}
