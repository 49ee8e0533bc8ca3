package handler

import (
	"net/http"

	"github.com/go-faster/jx"

	"github.com/xenking/kart-checkout/internal/domain/auth"
	"github.com/xenking/kart-checkout/internal/domain/order"
)

type checkoutRequest struct {
	PaymentMethod string `validate:"max=32"`
}

func (h *Handler) checkout(w http.ResponseWriter, r *http.Request, id auth.Identity) {
	var req checkoutRequest
	err := decodeBody(w, r, func(d *jx.Decoder, key string) error {
		if key != "paymentMethod" {
			return d.Skip()
		}
		var err error
		req.PaymentMethod, err = d.Str()
		return err
	})
	if err == nil {
		err = h.validate.Struct(req)
	}
	if err != nil {
		writeDomainError(w, r, err)
		return
	}

	res, err := h.orders.CreateOrder(r.Context(), id.UserID, req.PaymentMethod)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, func(e *jx.Encoder) {
		e.Obj(func(e *jx.Encoder) {
			e.Field("order", func(e *jx.Encoder) { encodeOrder(e, res.Order) })
			e.Field("paymentUrl", func(e *jx.Encoder) { e.Str(res.PaymentURL) })
		})
	})
}

func (h *Handler) listOrders(w http.ResponseWriter, r *http.Request, id auth.Identity) {
	orders, err := h.orders.ListOrders(r.Context(), id.UserID)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, func(e *jx.Encoder) {
		e.Arr(func(e *jx.Encoder) {
			for i := range orders {
				encodeOrder(e, &orders[i])
			}
		})
	})
}

func (h *Handler) getOrder(w http.ResponseWriter, r *http.Request, id auth.Identity) {
	o, err := h.orders.GetOrder(r.Context(), id.UserID, r.PathValue("orderId"))
	h.respondOrder(w, r, o, err)
}

func (h *Handler) cancelOrder(w http.ResponseWriter, r *http.Request, id auth.Identity) {
	o, err := h.verdicts.Cancel(r.Context(), id.UserID, r.PathValue("orderId"))
	h.respondOrder(w, r, o, err)
}

func (h *Handler) respondOrder(w http.ResponseWriter, r *http.Request, o *order.Order, err error) {
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, func(e *jx.Encoder) { encodeOrder(e, o) })
}
