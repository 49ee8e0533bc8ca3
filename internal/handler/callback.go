package handler

import (
	"net/http"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"

	"github.com/xenking/kart-checkout/internal/domain/order"
	"github.com/xenking/kart-checkout/internal/replay"
)

// paymentCallback accepts provider verdicts. It is unauthenticated: the
// signature is the only proof of origin. The provider retries on anything
// but 200, so rejected callbacks still get a definite 400.
func (h *Handler) paymentCallback(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	lg := zctx.From(ctx)

	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := r.ParseForm(); err != nil {
		writeText(w, http.StatusBadRequest, "rejected")
		return
	}
	cb, err := h.payments.ParseCallback(r.Form)
	if err != nil {
		lg.Warn("Rejected payment callback", zap.Error(err))
		writeText(w, http.StatusBadRequest, "rejected")
		return
	}

	lg = lg.With(
		zap.String("order_id", cb.OrderID),
		zap.String("txn_id", cb.ProviderTxnID),
		zap.String("verdict", string(cb.Verdict)),
	)
	key := replay.Key(cb.OrderID, cb.ProviderTxnID, string(cb.Verdict))
	if seen, err := h.replay.Seen(ctx, key); err != nil {
		lg.Warn("Replay lookup failed", zap.Error(err))
	} else if seen {
		lg.Debug("Callback already applied")
		writeText(w, http.StatusOK, "OK")
		return
	}

	o, outcome, err := h.verdicts.ApplyVerdict(ctx, cb.Settlement())
	switch {
	case errors.Is(err, order.ErrTransactionConflict):
		writeText(w, http.StatusServiceUnavailable, "retry")
		return
	case err != nil:
		lg.Warn("Payment verdict not applied", zap.Error(err))
		writeText(w, http.StatusBadRequest, "rejected")
		return
	}

	if _, err := h.replay.Remember(ctx, key); err != nil {
		lg.Warn("Replay remember failed", zap.Error(err))
	}
	lg.Info("Payment verdict accepted",
		zap.Stringer("status", o.Status),
		zap.String("outcome", string(outcome)),
	)
	writeText(w, http.StatusOK, "OK")
}
