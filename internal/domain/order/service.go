package order

import (
	"context"
	"strings"
	"time"

	"github.com/go-faster/errors"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	metricnoop "go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/trace"
	tracenoop "go.opentelemetry.io/otel/trace/noop"

	"github.com/xenking/kart-checkout/internal/domain/catalog"
)

const instrumentationName = "github.com/xenking/kart-checkout/internal/domain/order"

// CheckoutResult is returned by a successful CreateOrder.
type CheckoutResult struct {
	Order      *Order
	PaymentURL string
}

type options struct {
	tracerProvider trace.TracerProvider
	meterProvider  metric.MeterProvider
	retry          RetryPolicy
	now            func() time.Time
	newID          func() string
}

// Option configures Service and Reconciler.
type Option func(*options)

// WithTracerProvider sets the tracer provider used for spans.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(o *options) { o.tracerProvider = tp }
}

// WithMeterProvider sets the meter provider used for counters.
func WithMeterProvider(mp metric.MeterProvider) Option {
	return func(o *options) { o.meterProvider = mp }
}

// WithRetryPolicy overrides DefaultRetryPolicy.
func WithRetryPolicy(p RetryPolicy) Option {
	return func(o *options) { o.retry = p }
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(o *options) { o.now = now }
}

func buildOptions(opts []Option) options {
	o := options{
		tracerProvider: tracenoop.NewTracerProvider(),
		meterProvider:  metricnoop.NewMeterProvider(),
		retry:          DefaultRetryPolicy,
		now:            time.Now,
		newID:          func() string { return uuid.New().String() },
	}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// Service converts carts into orders and serves order queries.
type Service struct {
	store  Store
	linker PaymentLinker
	retry  RetryPolicy
	now    func() time.Time
	newID  func() string

	tracer  trace.Tracer
	created metric.Int64Counter
}

// NewService creates an order Service.
func NewService(store Store, linker PaymentLinker, opts ...Option) (*Service, error) {
	o := buildOptions(opts)

	created, err := o.meterProvider.Meter(instrumentationName).Int64Counter("kart.checkout.orders",
		metric.WithDescription("Checkout attempts by outcome"),
	)
	if err != nil {
		return nil, errors.Wrap(err, "create orders counter")
	}

	return &Service{
		store:   store,
		linker:  linker,
		retry:   o.retry,
		now:     o.now,
		newID:   o.newID,
		tracer:  o.tracerProvider.Tracer(instrumentationName),
		created: created,
	}, nil
}

// CreateOrder turns the user's server-side cart into a PENDING order.
//
// Price and stock are re-validated against the catalog, then stock is
// conditionally decremented, the order and its lines are inserted and the
// cart is cleared in one transaction. On any failure nothing changes.
func (s *Service) CreateOrder(ctx context.Context, userID, paymentMethod string) (_ *CheckoutResult, rerr error) {
	ctx, span := s.tracer.Start(ctx, "order.CreateOrder",
		trace.WithAttributes(attribute.String("user.id", userID)),
	)
	defer func() {
		outcome := "created"
		if rerr != nil {
			outcome = checkoutOutcome(rerr)
			span.RecordError(rerr)
			span.SetStatus(codes.Error, outcome)
		}
		s.created.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
		span.End()
	}()

	paymentMethod = strings.TrimSpace(paymentMethod)
	if paymentMethod == "" {
		return nil, ErrPaymentMethodMissing
	}

	var result *CheckoutResult
	err := s.retry.Do(ctx, func() error {
		result = nil
		return s.store.InTx(ctx, func(ctx context.Context, tx Tx) error {
			o, err := s.buildOrder(ctx, tx, userID, paymentMethod)
			if err != nil {
				return err
			}

			for _, l := range o.Lines {
				ok, err := tx.DecrementStock(ctx, l.ItemID, l.Quantity)
				if err != nil {
					return errors.Wrapf(err, "decrement stock of %s", l.ItemID)
				}
				if !ok {
					// Lost a race against another checkout after the read above.
					return lostStockRace(ctx, tx, l)
				}
			}

			if err := tx.InsertOrder(ctx, o); err != nil {
				return errors.Wrap(err, "insert order")
			}
			ordered := make([]string, len(o.Lines))
			for i, l := range o.Lines {
				ordered[i] = l.ItemID
			}
			if err := tx.RemoveCartItems(ctx, userID, ordered); err != nil {
				return errors.Wrap(err, "clear cart")
			}
			if err := tx.AppendEvent(ctx, s.event(o)); err != nil {
				return errors.Wrap(err, "append event")
			}

			// Pure; computed before commit so a failure leaves no order behind.
			paymentURL, err := s.linker.RedirectURL(o)
			if err != nil {
				return errors.Wrap(err, "build payment url")
			}

			result = &CheckoutResult{Order: o, PaymentURL: paymentURL}
			return nil
		})
	})
	if err != nil {
		return nil, err
	}

	span.SetAttributes(attribute.String("order.id", result.Order.ID))
	return result, nil
}

// lostStockRace re-reads the item so the error reports the stock that is
// actually left.
func lostStockRace(ctx context.Context, tx Tx, l Line) error {
	items, err := tx.CatalogItems(ctx, []string{l.ItemID})
	if err != nil {
		return errors.Wrap(err, "re-read catalog")
	}
	if len(items) == 0 || !items[0].Active {
		return &ItemUnavailableError{ItemID: l.ItemID}
	}
	return &InsufficientStockError{
		ItemID:    l.ItemID,
		Requested: l.Quantity,
		Available: items[0].Stock,
	}
}

// buildOrder reads the cart inside tx and prices it at current catalog values.
func (s *Service) buildOrder(ctx context.Context, tx Tx, userID, paymentMethod string) (*Order, error) {
	rows, err := tx.CartItems(ctx, userID)
	if err != nil {
		return nil, errors.Wrap(err, "read cart")
	}
	if len(rows) == 0 {
		return nil, ErrEmptyCart
	}

	ids := make([]string, len(rows))
	for i, r := range rows {
		ids[i] = r.ItemID
	}
	items, err := tx.CatalogItems(ctx, ids)
	if err != nil {
		return nil, errors.Wrap(err, "read catalog")
	}
	byID := catalog.Index(items)

	lines := make([]Line, len(rows))
	for i, r := range rows {
		it, ok := byID[r.ItemID]
		if !ok || !it.Active {
			return nil, &ItemUnavailableError{ItemID: r.ItemID}
		}
		if it.Stock < r.Quantity {
			return nil, &InsufficientStockError{
				ItemID:    r.ItemID,
				Requested: r.Quantity,
				Available: it.Stock,
			}
		}
		lines[i] = Line{
			ItemID:    it.ID,
			Name:      it.Name,
			Quantity:  r.Quantity,
			UnitPrice: it.Price,
		}
	}

	now := s.now().UTC()
	return &Order{
		ID:            s.newID(),
		UserID:        userID,
		Status:        StatusPending,
		Total:         sumLines(lines),
		PaymentMethod: paymentMethod,
		Lines:         lines,
		CreatedAt:     now,
		UpdatedAt:     now,
	}, nil
}

func (s *Service) event(o *Order) Event {
	return Event{
		ID:         s.newID(),
		Type:       eventFor(o.Status),
		OrderID:    o.ID,
		UserID:     o.UserID,
		Status:     o.Status,
		Total:      o.Total,
		PaymentRef: o.PaymentRef,
		At:         o.UpdatedAt,
	}
}

// GetOrder returns one of the user's orders. Orders of other users are
// reported as ErrOrderNotFound.
func (s *Service) GetOrder(ctx context.Context, userID, orderID string) (*Order, error) {
	o, err := s.store.Get(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if o.UserID != userID {
		return nil, ErrOrderNotFound
	}
	return o, nil
}

// ListOrders returns the user's orders, newest first.
func (s *Service) ListOrders(ctx context.Context, userID string) ([]Order, error) {
	orders, err := s.store.ListByUser(ctx, userID)
	if err != nil {
		return nil, errors.Wrap(err, "list orders")
	}
	return orders, nil
}

func checkoutOutcome(err error) string {
	var (
		stockErr       *InsufficientStockError
		unavailableErr *ItemUnavailableError
	)
	switch {
	case errors.Is(err, ErrEmptyCart):
		return "empty_cart"
	case errors.As(err, &stockErr):
		return "insufficient_stock"
	case errors.As(err, &unavailableErr):
		return "item_unavailable"
	case errors.Is(err, ErrTransactionConflict):
		return "conflict"
	default:
		return "error"
	}
}
