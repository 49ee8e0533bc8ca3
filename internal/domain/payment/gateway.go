// Package payment adapts the external payment provider: it signs checkout
// redirects and verifies the provider's callbacks. It holds no state and
// performs no I/O.
package payment

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"net/url"
	"sort"
	"strings"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"

	"github.com/xenking/kart-checkout/internal/domain/order"
)

// Parameter names shared by redirects and callbacks.
const (
	ParamMerchantID = "merchant_id"
	ParamOrderID    = "order_id"
	ParamAmount     = "amount"
	ParamCurrency   = "currency"
	ParamMethod     = "method"
	ParamReturnURL  = "return_url"
	ParamStatus     = "status"
	ParamTxnID      = "txn_id"
	ParamSignature  = "signature"
	ParamType       = "type"
)

// Message types. Every signed message names its type so a redirect signature
// never verifies as a callback.
const (
	TypeRedirect = "redirect"
	TypeCallback = "callback"
)

var (
	// ErrInvalidSignature is returned when a callback is not signed with the
	// shared secret. Nothing else in such a callback is trusted.
	ErrInvalidSignature = errors.New("invalid callback signature")
	// ErrMalformedCallback is returned for correctly signed callbacks that
	// lack required fields or carry unknown values.
	ErrMalformedCallback = errors.New("malformed callback")
)

// Config holds the merchant account settings of the provider.
type Config struct {
	ProviderURL string
	MerchantID  string
	Secret      []byte
	ReturnURL   string
	Currency    string
}

// Gateway builds redirect URLs and parses callbacks.
type Gateway struct {
	base     *url.URL
	merchant string
	secret   []byte
	ret      string
	currency string
}

var _ order.PaymentLinker = (*Gateway)(nil)

// NewGateway validates cfg and returns a Gateway.
func NewGateway(cfg Config) (*Gateway, error) {
	if len(cfg.Secret) == 0 {
		return nil, errors.New("payment secret is required")
	}
	if cfg.MerchantID == "" {
		return nil, errors.New("merchant id is required")
	}
	base, err := url.Parse(cfg.ProviderURL)
	if err != nil {
		return nil, errors.Wrap(err, "parse provider url")
	}
	if base.Scheme == "" || base.Host == "" {
		return nil, errors.Errorf("provider url %q must be absolute", cfg.ProviderURL)
	}
	currency := cfg.Currency
	if currency == "" {
		currency = "USD"
	}
	return &Gateway{
		base:     base,
		merchant: cfg.MerchantID,
		secret:   append([]byte(nil), cfg.Secret...),
		ret:      cfg.ReturnURL,
		currency: currency,
	}, nil
}

// RedirectURL returns the signed provider URL the user is sent to for the
// given order. The same order always yields the same URL.
func (g *Gateway) RedirectURL(o *order.Order) (string, error) {
	if o == nil || o.ID == "" {
		return "", errors.New("order id is required")
	}
	params := url.Values{
		ParamMerchantID: {g.merchant},
		ParamOrderID:    {o.ID},
		ParamAmount:     {o.Total.StringFixed(2)},
		ParamCurrency:   {g.currency},
		ParamMethod:     {o.PaymentMethod},
		ParamType:       {TypeRedirect},
	}
	if g.ret != "" {
		params.Set(ParamReturnURL, g.ret)
	}
	params.Set(ParamSignature, g.Sign(params))

	u := *g.base
	u.RawQuery = params.Encode()
	return u.String(), nil
}

// Sign returns the hex HMAC-SHA256 of the canonical form of params. The
// signature parameter itself is ignored.
func (g *Gateway) Sign(params url.Values) string {
	mac := hmac.New(sha256.New, g.secret)
	mac.Write([]byte(canonical(params)))
	return hex.EncodeToString(mac.Sum(nil))
}

// canonical is the query encoding of params without the signature, with keys
// and values sorted. Keys and values are escaped, so '&' and '=' inside a
// value cannot shift pair boundaries.
func canonical(params url.Values) string {
	c := make(url.Values, len(params))
	for k, vs := range params {
		if k == ParamSignature {
			continue
		}
		vs = append([]string(nil), vs...)
		sort.Strings(vs)
		c[k] = vs
	}
	return c.Encode()
}

// Callback is a verified provider notification.
type Callback struct {
	OrderID       string
	Verdict       order.Verdict
	ProviderTxnID string
	Amount        decimal.NullDecimal
}

// Settlement converts the callback into reconciler input.
func (c *Callback) Settlement() order.Settlement {
	return order.Settlement{
		OrderID:       c.OrderID,
		Verdict:       c.Verdict,
		ProviderTxnID: c.ProviderTxnID,
		Amount:        c.Amount,
	}
}

var statusVerdicts = map[string]order.Verdict{
	"paid":      order.VerdictSuccess,
	"success":   order.VerdictSuccess,
	"failed":    order.VerdictFailure,
	"denied":    order.VerdictFailure,
	"expired":   order.VerdictFailure,
	"cancelled": order.VerdictCancel,
	"canceled":  order.VerdictCancel,
	"cancel":    order.VerdictCancel,
	"refunded":  order.VerdictRefund,
}

// ParseCallback verifies the signature of raw callback parameters and then
// extracts the verdict.
func (g *Gateway) ParseCallback(params url.Values) (*Callback, error) {
	got, err := hex.DecodeString(params.Get(ParamSignature))
	if err != nil || len(got) == 0 {
		return nil, ErrInvalidSignature
	}
	want, _ := hex.DecodeString(g.Sign(params))
	if !hmac.Equal(got, want) {
		return nil, ErrInvalidSignature
	}
	if t := params[ParamType]; len(t) != 1 || t[0] != TypeCallback {
		return nil, errors.Wrap(ErrInvalidSignature, "not signed as a callback")
	}

	if m := params.Get(ParamMerchantID); m != g.merchant {
		return nil, errors.Wrapf(ErrMalformedCallback, "merchant %q", m)
	}
	cb := &Callback{
		OrderID:       params.Get(ParamOrderID),
		ProviderTxnID: params.Get(ParamTxnID),
	}
	if cb.OrderID == "" {
		return nil, errors.Wrap(ErrMalformedCallback, "missing order_id")
	}
	if cb.ProviderTxnID == "" {
		return nil, errors.Wrap(ErrMalformedCallback, "missing txn_id")
	}

	status := strings.ToLower(params.Get(ParamStatus))
	v, ok := statusVerdicts[status]
	if !ok {
		return nil, errors.Wrapf(ErrMalformedCallback, "status %q", status)
	}
	cb.Verdict = v

	if raw := params.Get(ParamAmount); raw != "" {
		amount, err := decimal.NewFromString(raw)
		if err != nil {
			return nil, errors.Wrapf(ErrMalformedCallback, "amount %q", raw)
		}
		cb.Amount = decimal.NewNullDecimal(amount)
	}
	return cb, nil
}
