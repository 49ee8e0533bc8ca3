package order

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// Settlement is a verified provider verdict for one order.
type Settlement struct {
	OrderID       string
	Verdict       Verdict
	ProviderTxnID string
	// Amount is the amount the provider reports, when it reports one.
	Amount decimal.NullDecimal
}

// Outcome describes what ApplyVerdict did.
type Outcome string

const (
	// OutcomeApplied means the order changed state.
	OutcomeApplied Outcome = "applied"
	// OutcomeDuplicate means the verdict was already reflected by the order.
	OutcomeDuplicate Outcome = "duplicate"
)

// Reconciler applies payment verdicts to orders, enforcing the status
// machine. Re-delivered verdicts are no-ops; contradicting ones are rejected.
type Reconciler struct {
	store Store
	retry RetryPolicy
	now   func() time.Time
	newID func() string

	tracer   trace.Tracer
	verdicts metric.Int64Counter
}

// NewReconciler creates a Reconciler.
func NewReconciler(store Store, opts ...Option) (*Reconciler, error) {
	o := buildOptions(opts)

	verdicts, err := o.meterProvider.Meter(instrumentationName).Int64Counter("kart.checkout.verdicts",
		metric.WithDescription("Payment verdicts by outcome"),
	)
	if err != nil {
		return nil, errors.Wrap(err, "create verdicts counter")
	}

	return &Reconciler{
		store:    store,
		retry:    o.retry,
		now:      o.now,
		newID:    o.newID,
		tracer:   o.tracerProvider.Tracer(instrumentationName),
		verdicts: verdicts,
	}, nil
}

// ApplyVerdict applies a verified provider verdict. The status update and any
// restock happen in one transaction.
func (r *Reconciler) ApplyVerdict(ctx context.Context, st Settlement) (*Order, Outcome, error) {
	return r.apply(ctx, st, nil)
}

// Cancel cancels a PENDING order on behalf of its owner. Orders of other users
// are reported as ErrOrderNotFound. Cancelling an already cancelled order is a
// no-op; any other non-pending state is ErrConflictingVerdict.
func (r *Reconciler) Cancel(ctx context.Context, userID, orderID string) (*Order, error) {
	o, _, err := r.apply(ctx, Settlement{OrderID: orderID, Verdict: VerdictCancel}, func(o *Order) error {
		if o.UserID != userID {
			return ErrOrderNotFound
		}
		if o.Status != StatusPending && o.Status != StatusCancelled {
			return ErrConflictingVerdict
		}
		return nil
	})
	return o, err
}

// ExpirePending fails PENDING orders created before cutoff, restocking their
// lines. Orders that settle concurrently are skipped. It is never scheduled
// automatically.
func (r *Reconciler) ExpirePending(ctx context.Context, cutoff time.Time, limit int) (int, error) {
	pending, err := r.store.ListPending(ctx, cutoff, limit)
	if err != nil {
		return 0, errors.Wrap(err, "list pending orders")
	}

	lg := zctx.From(ctx)
	expired := 0
	for _, p := range pending {
		_, outcome, err := r.apply(ctx, Settlement{OrderID: p.ID, Verdict: VerdictFailure}, func(o *Order) error {
			if o.Status != StatusPending {
				return ErrConflictingVerdict
			}
			return nil
		})
		switch {
		case err == nil && outcome == OutcomeApplied:
			expired++
		case errors.Is(err, ErrConflictingVerdict):
			lg.Info("Order settled before expiry", zap.String("order_id", p.ID))
		case err != nil:
			return expired, errors.Wrapf(err, "expire order %s", p.ID)
		}
	}
	return expired, nil
}

func (r *Reconciler) apply(ctx context.Context, st Settlement, guard func(*Order) error) (_ *Order, _ Outcome, rerr error) {
	ctx, span := r.tracer.Start(ctx, "order.ApplyVerdict", trace.WithAttributes(
		attribute.String("order.id", st.OrderID),
		attribute.String("payment.verdict", string(st.Verdict)),
	))
	var outcome Outcome
	defer func() {
		label := string(outcome)
		if rerr != nil {
			label = verdictErrorLabel(rerr)
			span.RecordError(rerr)
			span.SetStatus(codes.Error, label)
		}
		r.verdicts.Add(ctx, 1, metric.WithAttributes(
			attribute.String("verdict", string(st.Verdict)),
			attribute.String("outcome", label),
		))
		span.End()
	}()

	target := st.Verdict.Target()
	if target == "" {
		return nil, "", ErrUnknownVerdict
	}

	var result *Order
	err := r.retry.Do(ctx, func() error {
		result, outcome = nil, ""
		return r.store.InTx(ctx, func(ctx context.Context, tx Tx) error {
			o, err := tx.LockOrder(ctx, st.OrderID)
			if err != nil {
				return err
			}
			if guard != nil {
				if err := guard(o); err != nil {
					return err
				}
			}

			dup, err := decide(o, st)
			if err != nil {
				zctx.From(ctx).Warn("Rejected payment verdict",
					zap.String("order_id", o.ID),
					zap.String("status", o.Status.String()),
					zap.String("verdict", string(st.Verdict)),
					zap.String("provider_txn_id", st.ProviderTxnID),
					zap.String("payment_ref", o.PaymentRef),
				)
				return err
			}
			if dup {
				result, outcome = o, OutcomeDuplicate
				return nil
			}

			if target == StatusPaid && st.Amount.Valid && !st.Amount.Decimal.Equal(o.Total) {
				zctx.From(ctx).Warn("Paid amount mismatch",
					zap.String("order_id", o.ID),
					zap.String("total", o.Total.StringFixed(2)),
					zap.String("amount", st.Amount.Decimal.String()),
				)
				return ErrAmountMismatch
			}

			paymentRef := o.PaymentRef
			if target == StatusPaid {
				paymentRef = st.ProviderTxnID
			}
			now := r.now().UTC()
			if err := tx.UpdateStatus(ctx, o.ID, o.Status, target, paymentRef, now); err != nil {
				return errors.Wrap(err, "update status")
			}

			if target.releasesStock() {
				for _, l := range o.Lines {
					if err := tx.IncrementStock(ctx, l.ItemID, l.Quantity); err != nil {
						return errors.Wrapf(err, "restock %s", l.ItemID)
					}
				}
			}

			o.Status = target
			o.PaymentRef = paymentRef
			o.UpdatedAt = now

			if err := tx.AppendEvent(ctx, Event{
				ID:         r.newID(),
				Type:       eventFor(target),
				OrderID:    o.ID,
				UserID:     o.UserID,
				Status:     target,
				Total:      o.Total,
				PaymentRef: paymentRef,
				At:         now,
			}); err != nil {
				return errors.Wrap(err, "append event")
			}

			result, outcome = o, OutcomeApplied
			return nil
		})
	})
	if err != nil {
		return nil, "", err
	}
	return result, outcome, nil
}

// decide reports whether st is a re-delivery of a verdict the order already
// reflects, or returns ErrConflictingVerdict when st cannot be applied.
func decide(o *Order, st Settlement) (duplicate bool, _ error) {
	target := st.Verdict.Target()

	switch {
	case o.Status == StatusPending && o.Status.CanTransitionTo(target):
		return false, nil
	case st.Verdict == VerdictSuccess && (o.Status == StatusPaid || o.Status == StatusRefunded):
		// Same provider transaction seen again; a different one would be a
		// second payment for the same order.
		if st.ProviderTxnID != "" && st.ProviderTxnID == o.PaymentRef {
			return true, nil
		}
		return false, ErrConflictingVerdict
	case target.releasesStock() && o.Status.releasesStock():
		// Stock already went back when the order first failed or was cancelled.
		return true, nil
	case o.Status == target:
		return true, nil
	case o.Status.CanTransitionTo(target):
		return false, nil
	default:
		return false, ErrConflictingVerdict
	}
}

func verdictErrorLabel(err error) string {
	switch {
	case errors.Is(err, ErrOrderNotFound):
		return "not_found"
	case errors.Is(err, ErrConflictingVerdict):
		return "conflicting"
	case errors.Is(err, ErrAmountMismatch):
		return "amount_mismatch"
	case errors.Is(err, ErrTransactionConflict):
		return "conflict"
	default:
		return "error"
	}
}
