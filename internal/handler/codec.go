package handler

import (
	"io"
	"net/http"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/shopspring/decimal"

	"github.com/xenking/kart-checkout/internal/domain/cart"
	"github.com/xenking/kart-checkout/internal/domain/catalog"
	"github.com/xenking/kart-checkout/internal/domain/order"
)

const maxBodyBytes = 1 << 20

var errBadBody = errors.New("invalid request body")

// decodeBody reads a JSON object from the request and calls field for every
// key. Unknown keys must be skipped by field.
func decodeBody(w http.ResponseWriter, r *http.Request, field func(d *jx.Decoder, key string) error) error {
	data, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		return errors.Wrap(errBadBody, err.Error())
	}
	d := jx.DecodeBytes(data)
	if err := d.ObjBytes(func(d *jx.Decoder, key []byte) error {
		return field(d, string(key))
	}); err != nil {
		return errors.Wrap(errBadBody, err.Error())
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, body func(e *jx.Encoder)) {
	var e jx.Encoder
	body(&e)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(e.Bytes())
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, func(e *jx.Encoder) {
		e.Obj(func(e *jx.Encoder) {
			e.Field("code", func(e *jx.Encoder) { e.Int(status) })
			e.Field("message", func(e *jx.Encoder) { e.Str(msg) })
		})
	})
}

func writeText(w http.ResponseWriter, status int, body string) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(status)
	_, _ = io.WriteString(w, body)
}

// money renders a decimal with two fraction digits as a JSON number.
func money(e *jx.Encoder, d decimal.Decimal) {
	e.Num(jx.Num(d.StringFixed(2)))
}

func encodeItem(e *jx.Encoder, it catalog.Item) {
	e.Obj(func(e *jx.Encoder) {
		e.Field("id", func(e *jx.Encoder) { e.Str(it.ID) })
		e.Field("name", func(e *jx.Encoder) { e.Str(it.Name) })
		e.Field("price", func(e *jx.Encoder) { money(e, it.Price) })
		e.Field("stock", func(e *jx.Encoder) { e.Int(it.Stock) })
	})
}

func encodeCart(e *jx.Encoder, c *cart.Cart) {
	e.Obj(func(e *jx.Encoder) {
		e.Field("userId", func(e *jx.Encoder) { e.Str(c.UserID) })
		e.Field("lines", func(e *jx.Encoder) {
			e.Arr(func(e *jx.Encoder) {
				for _, l := range c.Lines {
					e.Obj(func(e *jx.Encoder) {
						e.Field("itemId", func(e *jx.Encoder) { e.Str(l.ItemID) })
						e.Field("name", func(e *jx.Encoder) { e.Str(l.Name) })
						e.Field("unitPrice", func(e *jx.Encoder) { money(e, l.UnitPrice) })
						e.Field("quantity", func(e *jx.Encoder) { e.Int(l.Quantity) })
						e.Field("subtotal", func(e *jx.Encoder) { money(e, l.Subtotal()) })
						e.Field("available", func(e *jx.Encoder) { e.Bool(l.Available) })
					})
				}
			})
		})
		e.Field("total", func(e *jx.Encoder) { money(e, c.Total()) })
	})
}

func encodeOrder(e *jx.Encoder, o *order.Order) {
	e.Obj(func(e *jx.Encoder) {
		e.Field("id", func(e *jx.Encoder) { e.Str(o.ID) })
		e.Field("status", func(e *jx.Encoder) { e.Str(o.Status.String()) })
		e.Field("totalAmount", func(e *jx.Encoder) { money(e, o.Total) })
		e.Field("paymentMethod", func(e *jx.Encoder) { e.Str(o.PaymentMethod) })
		if o.PaymentRef != "" {
			e.Field("paymentRef", func(e *jx.Encoder) { e.Str(o.PaymentRef) })
		}
		e.Field("lines", func(e *jx.Encoder) {
			e.Arr(func(e *jx.Encoder) {
				for _, l := range o.Lines {
					e.Obj(func(e *jx.Encoder) {
						e.Field("itemId", func(e *jx.Encoder) { e.Str(l.ItemID) })
						e.Field("name", func(e *jx.Encoder) { e.Str(l.Name) })
						e.Field("quantity", func(e *jx.Encoder) { e.Int(l.Quantity) })
						e.Field("unitPrice", func(e *jx.Encoder) { money(e, l.UnitPrice) })
					})
				}
			})
		})
		e.Field("createdAt", func(e *jx.Encoder) { e.Str(o.CreatedAt.UTC().Format(time.RFC3339)) })
		e.Field("updatedAt", func(e *jx.Encoder) { e.Str(o.UpdatedAt.UTC().Format(time.RFC3339)) })
	})
}
