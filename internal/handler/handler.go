// Package handler exposes the cart, checkout and payment callback API over
// net/http with a jx wire codec.
package handler

import (
	"context"
	"net/http"
	"net/url"

	validatorv10 "github.com/go-playground/validator/v10"

	"github.com/xenking/kart-checkout/internal/domain/auth"
	"github.com/xenking/kart-checkout/internal/domain/cart"
	"github.com/xenking/kart-checkout/internal/domain/catalog"
	"github.com/xenking/kart-checkout/internal/domain/order"
	"github.com/xenking/kart-checkout/internal/domain/payment"
	"github.com/xenking/kart-checkout/internal/replay"
	"github.com/xenking/kart-checkout/pkg/httpmiddleware"
)

// CatalogReader lists items for sale.
type CatalogReader interface {
	List(ctx context.Context) ([]catalog.Item, error)
}

// CartService is the Cart Store.
type CartService interface {
	GetCart(ctx context.Context, userID string) (*cart.Cart, error)
	AddItem(ctx context.Context, userID, itemID string, quantity int) (*cart.Cart, error)
	UpdateQuantity(ctx context.Context, userID, itemID string, quantity int) (*cart.Cart, error)
	RemoveItem(ctx context.Context, userID, itemID string) (*cart.Cart, error)
	ClearCart(ctx context.Context, userID string) error
}

// OrderService is the Order Factory plus order queries.
type OrderService interface {
	CreateOrder(ctx context.Context, userID, paymentMethod string) (*order.CheckoutResult, error)
	GetOrder(ctx context.Context, userID, orderID string) (*order.Order, error)
	ListOrders(ctx context.Context, userID string) ([]order.Order, error)
}

// Reconciler applies verdicts and owner cancellations.
type Reconciler interface {
	ApplyVerdict(ctx context.Context, st order.Settlement) (*order.Order, order.Outcome, error)
	Cancel(ctx context.Context, userID, orderID string) (*order.Order, error)
}

// CallbackParser verifies provider callbacks.
type CallbackParser interface {
	ParseCallback(params url.Values) (*payment.Callback, error)
}

// Config holds non-dependency settings of the Handler.
type Config struct {
	// APIKeyPepper is the HMAC key used to hash incoming api_key values.
	APIKeyPepper []byte
	// CallbackMiddleware wraps the public payment callback route only.
	CallbackMiddleware []httpmiddleware.Middleware
}

// Handler serves the public API.
type Handler struct {
	catalog  CatalogReader
	carts    CartService
	orders   OrderService
	verdicts Reconciler
	payments CallbackParser
	replay   replay.Guard
	apikeys  auth.Repository

	pepper     []byte
	callbackMW []httpmiddleware.Middleware
	validate   *validatorv10.Validate
}

// Deps groups the collaborators of the Handler.
type Deps struct {
	Catalog  CatalogReader
	Carts    CartService
	Orders   OrderService
	Verdicts Reconciler
	Payments CallbackParser
	Replay   replay.Guard
	APIKeys  auth.Repository
}

// New constructs a Handler. A nil Replay guard disables replay short-cuts.
func New(cfg Config, deps Deps) *Handler {
	guard := deps.Replay
	if guard == nil {
		guard = replay.NopGuard{}
	}
	return &Handler{
		catalog:    deps.Catalog,
		carts:      deps.Carts,
		orders:     deps.Orders,
		verdicts:   deps.Verdicts,
		payments:   deps.Payments,
		replay:     guard,
		apikeys:    deps.APIKeys,
		pepper:     cfg.APIKeyPepper,
		callbackMW: cfg.CallbackMiddleware,
		validate:   validatorv10.New(),
	}
}

// Routes returns the API mux. Every route except the payment callback
// requires an api_key.
func (h *Handler) Routes() *http.ServeMux {
	mux := http.NewServeMux()
	authed := func(pattern string, fn func(http.ResponseWriter, *http.Request, auth.Identity)) {
		mux.Handle(pattern, h.requireAPIKey(fn))
	}

	authed("GET /api/items", h.listItems)

	authed("GET /api/cart", h.getCart)
	authed("DELETE /api/cart", h.clearCart)
	authed("POST /api/cart/items", h.addCartItem)
	authed("PUT /api/cart/items/{itemId}", h.updateCartItem)
	authed("DELETE /api/cart/items/{itemId}", h.removeCartItem)

	authed("POST /api/checkout", h.checkout)
	authed("GET /api/orders", h.listOrders)
	authed("GET /api/orders/{orderId}", h.getOrder)
	authed("POST /api/orders/{orderId}/cancel", h.cancelOrder)

	callback := httpmiddleware.Wrap(http.HandlerFunc(h.paymentCallback), h.callbackMW...)
	mux.Handle("GET /api/payments/callback", callback)
	mux.Handle("POST /api/payments/callback", callback)

	return mux
}
