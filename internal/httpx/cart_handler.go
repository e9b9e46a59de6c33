package httpx

import (
	"context"
	"net/http"

	"github.com/ariefcatur/go-storefront-orders/internal/auth"
	"github.com/ariefcatur/go-storefront-orders/internal/cart"
	"github.com/go-chi/chi/v5"
)

type CartStore interface {
	Items(ctx context.Context, userID string) ([]cart.Item, error)
	Add(ctx context.Context, userID string, it cart.Item) (cart.Item, error)
	SetQuantity(ctx context.Context, userID, productID string, qty int) (cart.Item, error)
	Remove(ctx context.Context, userID, productID string) error
	Clear(ctx context.Context, userID string) error
}

// CartHandler always acts on the cart of the token's user.
type CartHandler struct {
	Carts CartStore
}

func (h *CartHandler) Register(r chi.Router, v *auth.Verifier) {
	r.Group(func(r chi.Router) {
		r.Use(v.Middleware)
		r.Get("/cart", h.get)
		r.Delete("/cart", h.clear)
		r.Post("/cart/items", h.add)
		r.Put("/cart/items/{productID}", h.setQuantity)
		r.Delete("/cart/items/{productID}", h.remove)
	})
}

func (h *CartHandler) get(w http.ResponseWriter, r *http.Request) {
	id, _ := auth.FromContext(r.Context())
	items, err := h.Carts.Items(r.Context(), id.UserID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	count := 0
	for _, it := range items {
		count += it.Qty
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"items":      items,
		"subtotal":   cart.Subtotal(items).StringFixed(2),
		"item_count": count,
	})
}

func (h *CartHandler) add(w http.ResponseWriter, r *http.Request) {
	id, _ := auth.FromContext(r.Context())
	var it cart.Item
	if err := decodeJSON(w, r, &it); err != nil {
		badRequest(w, "invalid json")
		return
	}
	saved, err := h.Carts.Add(r.Context(), id.UserID, it)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, saved)
}

func (h *CartHandler) setQuantity(w http.ResponseWriter, r *http.Request) {
	id, _ := auth.FromContext(r.Context())
	var body struct {
		Quantity int `json:"quantity"`
	}
	if err := decodeJSON(w, r, &body); err != nil {
		badRequest(w, "invalid json")
		return
	}
	saved, err := h.Carts.SetQuantity(r.Context(), id.UserID, chi.URLParam(r, "productID"), body.Quantity)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, saved)
}

func (h *CartHandler) remove(w http.ResponseWriter, r *http.Request) {
	id, _ := auth.FromContext(r.Context())
	if err := h.Carts.Remove(r.Context(), id.UserID, chi.URLParam(r, "productID")); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *CartHandler) clear(w http.ResponseWriter, r *http.Request) {
	id, _ := auth.FromContext(r.Context())
	if err := h.Carts.Clear(r.Context(), id.UserID); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
