package handler

import (
	"net/http"

	"github.com/go-faster/jx"

	"github.com/xenking/kart-checkout/internal/domain/auth"
)

func (h *Handler) listItems(w http.ResponseWriter, r *http.Request, _ auth.Identity) {
	items, err := h.catalog.List(r.Context())
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, func(e *jx.Encoder) {
		e.Arr(func(e *jx.Encoder) {
			for _, it := range items {
				encodeItem(e, it)
			}
		})
	})
}
