package handler

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xenking/kart-checkout/internal/domain/auth"
	"github.com/xenking/kart-checkout/internal/domain/cart"
	"github.com/xenking/kart-checkout/internal/domain/catalog"
	"github.com/xenking/kart-checkout/internal/domain/order"
	"github.com/xenking/kart-checkout/internal/domain/payment"
)

// --- Mock implementations ---

type mockCatalog struct {
	items []catalog.Item
	err   error
}

func (m *mockCatalog) List(context.Context) ([]catalog.Item, error) { return m.items, m.err }

type mockCarts struct {
	cart     *cart.Cart
	err      error
	lastUser string
	lastItem string
	lastQty  int
	cleared  bool
}

func (m *mockCarts) result(userID string) (*cart.Cart, error) {
	m.lastUser = userID
	return m.cart, m.err
}

func (m *mockCarts) GetCart(_ context.Context, userID string) (*cart.Cart, error) {
	return m.result(userID)
}

func (m *mockCarts) AddItem(_ context.Context, userID, itemID string, quantity int) (*cart.Cart, error) {
	m.lastItem, m.lastQty = itemID, quantity
	return m.result(userID)
}

func (m *mockCarts) UpdateQuantity(_ context.Context, userID, itemID string, quantity int) (*cart.Cart, error) {
	m.lastItem, m.lastQty = itemID, quantity
	return m.result(userID)
}

func (m *mockCarts) RemoveItem(_ context.Context, userID, itemID string) (*cart.Cart, error) {
	m.lastItem = itemID
	return m.result(userID)
}

func (m *mockCarts) ClearCart(_ context.Context, userID string) error {
	m.lastUser, m.cleared = userID, true
	return m.err
}

type mockOrders struct {
	result     *order.CheckoutResult
	order      *order.Order
	err        error
	lastMethod string
}

func (m *mockOrders) CreateOrder(_ context.Context, _, paymentMethod string) (*order.CheckoutResult, error) {
	m.lastMethod = paymentMethod
	return m.result, m.err
}

func (m *mockOrders) GetOrder(context.Context, string, string) (*order.Order, error) {
	return m.order, m.err
}

func (m *mockOrders) ListOrders(context.Context, string) ([]order.Order, error) {
	if m.order == nil {
		return nil, m.err
	}
	return []order.Order{*m.order}, m.err
}

type mockReconciler struct {
	order   *order.Order
	outcome order.Outcome
	err     error
	calls   int
	last    order.Settlement
}

func (m *mockReconciler) ApplyVerdict(_ context.Context, st order.Settlement) (*order.Order, order.Outcome, error) {
	m.calls++
	m.last = st
	return m.order, m.outcome, m.err
}

func (m *mockReconciler) Cancel(context.Context, string, string) (*order.Order, error) {
	m.calls++
	return m.order, m.err
}

type mockAPIKeys struct {
	byHash map[string]*auth.KeyRecord
}

func (m *mockAPIKeys) FindByHash(_ context.Context, hash string) (*auth.KeyRecord, error) {
	rec, ok := m.byHash[hash]
	if !ok {
		return nil, errors.New("not found")
	}
	return rec, nil
}

type memGuard struct {
	keys map[string]bool
}

func (g *memGuard) Seen(_ context.Context, key string) (bool, error) { return g.keys[key], nil }

func (g *memGuard) Remember(_ context.Context, key string) (bool, error) {
	fresh := !g.keys[key]
	g.keys[key] = true
	return fresh, nil
}

// --- Helpers ---

const (
	testKey  = "key-alice"
	testUser = "alice"
)

var testPepper = []byte("pepper")

type fixture struct {
	catalog  *mockCatalog
	carts    *mockCarts
	orders   *mockOrders
	verdicts *mockReconciler
	guard    *memGuard
	gateway  *payment.Gateway
	mux      http.Handler
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	gw, err := payment.NewGateway(payment.Config{
		ProviderURL: "https://pay.test/checkout",
		MerchantID:  "m-1",
		Secret:      []byte("s3cret"),
		ReturnURL:   "https://shop.test/return",
	})
	require.NoError(t, err)

	f := &fixture{
		catalog:  &mockCatalog{},
		carts:    &mockCarts{},
		orders:   &mockOrders{},
		verdicts: &mockReconciler{},
		guard:    &memGuard{keys: map[string]bool{}},
		gateway:  gw,
	}
	keys := &mockAPIKeys{byHash: map[string]*auth.KeyRecord{
		HashAPIKey(testPepper, testKey): {ID: "k1", KeyHash: HashAPIKey(testPepper, testKey), UserID: testUser},
	}}
	f.mux = New(Config{APIKeyPepper: testPepper}, Deps{
		Catalog:  f.catalog,
		Carts:    f.carts,
		Orders:   f.orders,
		Verdicts: f.verdicts,
		Payments: gw,
		Replay:   f.guard,
		APIKeys:  keys,
	}).Routes()
	return f
}

func (f *fixture) do(method, target, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	req.Header.Set(HeaderAPIKey, testKey)
	w := httptest.NewRecorder()
	f.mux.ServeHTTP(w, req)
	return w
}

func (f *fixture) callback(t *testing.T, params url.Values) *httptest.ResponseRecorder {
	t.Helper()
	params.Set(payment.ParamType, payment.TypeCallback)
	params.Set(payment.ParamSignature, f.gateway.Sign(params))
	req := httptest.NewRequest(http.MethodPost, "/api/payments/callback", strings.NewReader(params.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	w := httptest.NewRecorder()
	f.mux.ServeHTTP(w, req)
	return w
}

func callbackParams(status string) url.Values {
	return url.Values{
		payment.ParamMerchantID: {"m-1"},
		payment.ParamOrderID:    {"o-1"},
		payment.ParamTxnID:      {"txn-1"},
		payment.ParamStatus:     {status},
		payment.ParamAmount:     {"20.00"},
	}
}

func testOrder(status order.Status) *order.Order {
	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	return &order.Order{
		ID:            "o-1",
		UserID:        testUser,
		Status:        status,
		Total:         decimal.RequireFromString("20"),
		PaymentMethod: "card",
		Lines: []order.Line{
			{ItemID: "w1", Name: "Widget", Quantity: 2, UnitPrice: decimal.RequireFromString("10")},
		},
		CreatedAt: at,
		UpdatedAt: at,
	}
}

// --- Tests ---

func TestAuth(t *testing.T) {
	f := newFixture(t)

	t.Run("Missing", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/api/cart", nil)
		w := httptest.NewRecorder()
		f.mux.ServeHTTP(w, req)
		assert.Equal(t, http.StatusUnauthorized, w.Code)
	})
	t.Run("Unknown", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/api/cart", nil)
		req.Header.Set(HeaderAPIKey, "nope")
		w := httptest.NewRecorder()
		f.mux.ServeHTTP(w, req)
		assert.Equal(t, http.StatusUnauthorized, w.Code)
		assert.JSONEq(t, `{"code":401,"message":"unauthorized"}`, w.Body.String())
	})
	t.Run("Valid", func(t *testing.T) {
		f.carts.cart = &cart.Cart{UserID: testUser}
		w := f.do(http.MethodGet, "/api/cart", "")
		assert.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, testUser, f.carts.lastUser)
	})
}

func TestListItems(t *testing.T) {
	f := newFixture(t)
	f.catalog.items = []catalog.Item{
		{ID: "w1", Name: "Widget", Price: decimal.RequireFromString("10.5"), Stock: 3, Active: true},
	}

	w := f.do(http.MethodGet, "/api/items", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `[{"id":"w1","name":"Widget","price":10.50,"stock":3}]`, w.Body.String())
}

func TestCartRoutes(t *testing.T) {
	f := newFixture(t)
	f.carts.cart = &cart.Cart{UserID: testUser, Lines: []cart.Line{
		{ItemID: "w1", Name: "Widget", UnitPrice: decimal.RequireFromString("10"), Quantity: 2, Available: true},
		{ItemID: "gone", Quantity: 1},
	}}

	t.Run("Add", func(t *testing.T) {
		w := f.do(http.MethodPost, "/api/cart/items", `{"itemId":"w1","quantity":2,"extra":true}`)
		require.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, "w1", f.carts.lastItem)
		assert.Equal(t, 2, f.carts.lastQty)
		assert.JSONEq(t, `{
			"userId":"alice",
			"lines":[
				{"itemId":"w1","name":"Widget","unitPrice":10.00,"quantity":2,"subtotal":20.00,"available":true},
				{"itemId":"gone","name":"","unitPrice":0.00,"quantity":1,"subtotal":0.00,"available":false}
			],
			"total":20.00
		}`, w.Body.String())
	})
	t.Run("AddMissingQuantity", func(t *testing.T) {
		w := f.do(http.MethodPost, "/api/cart/items", `{"itemId":"w1"}`)
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})
	t.Run("AddMalformed", func(t *testing.T) {
		w := f.do(http.MethodPost, "/api/cart/items", `{"itemId":`)
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})
	t.Run("Update", func(t *testing.T) {
		w := f.do(http.MethodPut, "/api/cart/items/w1", `{"quantity":0}`)
		require.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, "w1", f.carts.lastItem)
		assert.Equal(t, 0, f.carts.lastQty)
	})
	t.Run("Remove", func(t *testing.T) {
		w := f.do(http.MethodDelete, "/api/cart/items/w2", "")
		require.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, "w2", f.carts.lastItem)
	})
	t.Run("Clear", func(t *testing.T) {
		w := f.do(http.MethodDelete, "/api/cart", "")
		assert.Equal(t, http.StatusNoContent, w.Code)
		assert.True(t, f.carts.cleared)
	})
}

func TestDomainErrorMapping(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status int
	}{
		{"InvalidQuantity", cart.ErrInvalidQuantity, http.StatusUnprocessableEntity},
		{"ItemNotFound", &cart.ItemNotFoundError{ItemID: "x"}, http.StatusUnprocessableEntity},
		{"EmptyCart", order.ErrEmptyCart, http.StatusUnprocessableEntity},
		{"PaymentMethodMissing", order.ErrPaymentMethodMissing, http.StatusUnprocessableEntity},
		{"Unavailable", &order.ItemUnavailableError{ItemID: "x"}, http.StatusUnprocessableEntity},
		{"InsufficientStock", &order.InsufficientStockError{ItemID: "x", Requested: 2, Available: 1}, http.StatusConflict},
		{"NotFound", order.ErrOrderNotFound, http.StatusNotFound},
		{"Conflicting", order.ErrConflictingVerdict, http.StatusConflict},
		{"TxConflict", errors.Wrap(order.ErrTransactionConflict, "create order"), http.StatusServiceUnavailable},
		{"Unknown", errors.New("db down"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			f.orders.err = tt.err
			w := f.do(http.MethodPost, "/api/checkout", `{"paymentMethod":"card"}`)
			assert.Equal(t, tt.status, w.Code)
			assert.Equal(t, "application/json", w.Header().Get("Content-Type"))
		})
	}
}

func TestCheckout(t *testing.T) {
	f := newFixture(t)
	f.orders.result = &order.CheckoutResult{
		Order:      testOrder(order.StatusPending),
		PaymentURL: "https://pay.test/checkout?order_id=o-1",
	}

	w := f.do(http.MethodPost, "/api/checkout", `{"paymentMethod":"card"}`)
	require.Equal(t, http.StatusCreated, w.Code)
	assert.Equal(t, "card", f.orders.lastMethod)
	assert.JSONEq(t, `{
		"order":{
			"id":"o-1","status":"PENDING","totalAmount":20.00,"paymentMethod":"card",
			"lines":[{"itemId":"w1","name":"Widget","quantity":2,"unitPrice":10.00}],
			"createdAt":"2026-03-01T12:00:00Z","updatedAt":"2026-03-01T12:00:00Z"
		},
		"paymentUrl":"https://pay.test/checkout?order_id=o-1"
	}`, w.Body.String())

	t.Run("TooLongMethod", func(t *testing.T) {
		w := f.do(http.MethodPost, "/api/checkout", `{"paymentMethod":"`+strings.Repeat("x", 33)+`"}`)
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})
}

func TestOrderRoutes(t *testing.T) {
	f := newFixture(t)
	f.orders.order = testOrder(order.StatusPaid)
	f.orders.order.PaymentRef = "txn-9"

	t.Run("Get", func(t *testing.T) {
		w := f.do(http.MethodGet, "/api/orders/o-1", "")
		require.Equal(t, http.StatusOK, w.Code)
		assert.Contains(t, w.Body.String(), `"paymentRef":"txn-9"`)
	})
	t.Run("List", func(t *testing.T) {
		w := f.do(http.MethodGet, "/api/orders", "")
		require.Equal(t, http.StatusOK, w.Code)
		assert.True(t, strings.HasPrefix(w.Body.String(), "["))
	})
	t.Run("Cancel", func(t *testing.T) {
		f.verdicts.order = testOrder(order.StatusCancelled)
		w := f.do(http.MethodPost, "/api/orders/o-1/cancel", "")
		require.Equal(t, http.StatusOK, w.Code)
		assert.Contains(t, w.Body.String(), `"status":"CANCELLED"`)
	})
}

func TestPaymentCallback(t *testing.T) {
	t.Run("Applied", func(t *testing.T) {
		f := newFixture(t)
		f.verdicts.order = testOrder(order.StatusPaid)
		f.verdicts.outcome = order.OutcomeApplied

		w := f.callback(t, callbackParams("paid"))
		require.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, "OK", w.Body.String())
		assert.Equal(t, "o-1", f.verdicts.last.OrderID)
		assert.Equal(t, order.VerdictSuccess, f.verdicts.last.Verdict)
		assert.Equal(t, "txn-1", f.verdicts.last.ProviderTxnID)
		assert.True(t, f.verdicts.last.Amount.Valid)

		// A replayed callback short-circuits before the reconciler.
		w = f.callback(t, callbackParams("paid"))
		assert.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, 1, f.verdicts.calls)
	})
	t.Run("BadSignature", func(t *testing.T) {
		f := newFixture(t)
		params := callbackParams("paid")
		params.Set(payment.ParamSignature, strings.Repeat("0", 64))
		req := httptest.NewRequest(http.MethodGet, "/api/payments/callback?"+params.Encode(), nil)
		w := httptest.NewRecorder()
		f.mux.ServeHTTP(w, req)
		assert.Equal(t, http.StatusBadRequest, w.Code)
		assert.Zero(t, f.verdicts.calls)
	})
	t.Run("Conflicting", func(t *testing.T) {
		f := newFixture(t)
		f.verdicts.err = order.ErrConflictingVerdict
		w := f.callback(t, callbackParams("failed"))
		assert.Equal(t, http.StatusBadRequest, w.Code)
		assert.Empty(t, f.guard.keys)
	})
	t.Run("TransactionConflict", func(t *testing.T) {
		f := newFixture(t)
		f.verdicts.err = order.ErrTransactionConflict
		w := f.callback(t, callbackParams("paid"))
		assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	})
}
