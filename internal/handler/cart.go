package handler

import (
	"net/http"

	"github.com/go-faster/jx"

	"github.com/xenking/kart-checkout/internal/domain/auth"
	"github.com/xenking/kart-checkout/internal/domain/cart"
)

type addItemRequest struct {
	ItemID   string `validate:"required,max=64"`
	Quantity *int   `validate:"required"`
}

type updateQuantityRequest struct {
	Quantity *int `validate:"required"`
}

func decodeQuantity(d *jx.Decoder) (*int, error) {
	n, err := d.Int()
	if err != nil {
		return nil, err
	}
	return &n, nil
}

func (h *Handler) getCart(w http.ResponseWriter, r *http.Request, id auth.Identity) {
	c, err := h.carts.GetCart(r.Context(), id.UserID)
	h.respondCart(w, r, c, err)
}

func (h *Handler) clearCart(w http.ResponseWriter, r *http.Request, id auth.Identity) {
	if err := h.carts.ClearCart(r.Context(), id.UserID); err != nil {
		writeDomainError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) addCartItem(w http.ResponseWriter, r *http.Request, id auth.Identity) {
	var req addItemRequest
	err := decodeBody(w, r, func(d *jx.Decoder, key string) error {
		var err error
		switch key {
		case "itemId":
			req.ItemID, err = d.Str()
		case "quantity":
			req.Quantity, err = decodeQuantity(d)
		default:
			err = d.Skip()
		}
		return err
	})
	if err == nil {
		err = h.validate.Struct(req)
	}
	if err != nil {
		writeDomainError(w, r, err)
		return
	}

	c, err := h.carts.AddItem(r.Context(), id.UserID, req.ItemID, *req.Quantity)
	h.respondCart(w, r, c, err)
}

func (h *Handler) updateCartItem(w http.ResponseWriter, r *http.Request, id auth.Identity) {
	var req updateQuantityRequest
	err := decodeBody(w, r, func(d *jx.Decoder, key string) error {
		if key != "quantity" {
			return d.Skip()
		}
		var err error
		req.Quantity, err = decodeQuantity(d)
		return err
	})
	if err == nil {
		err = h.validate.Struct(req)
	}
	if err != nil {
		writeDomainError(w, r, err)
		return
	}

	c, err := h.carts.UpdateQuantity(r.Context(), id.UserID, r.PathValue("itemId"), *req.Quantity)
	h.respondCart(w, r, c, err)
}

func (h *Handler) removeCartItem(w http.ResponseWriter, r *http.Request, id auth.Identity) {
	c, err := h.carts.RemoveItem(r.Context(), id.UserID, r.PathValue("itemId"))
	h.respondCart(w, r, c, err)
}

func (h *Handler) respondCart(w http.ResponseWriter, r *http.Request, c *cart.Cart, err error) {
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, func(e *jx.Encoder) { encodeCart(e, c) })
}
