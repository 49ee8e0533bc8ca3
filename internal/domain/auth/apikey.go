package auth

import "context"

// KeyRecord is a stored API key bound to the user it authenticates.
type KeyRecord struct {
	ID      string
	KeyHash string
	Name    string
	UserID  string
}

// Repository provides lookup of active API keys by their HMAC hash.
type Repository interface {
	FindByHash(ctx context.Context, hash string) (*KeyRecord, error)
}

// Identity is the verified caller of a cart or checkout request.
type Identity struct {
	KeyID  string
	UserID string
}

type identityKey struct{}

// WithIdentity stores the verified identity in ctx.
func WithIdentity(ctx context.Context, id Identity) context.Context {
	return context.WithValue(ctx, identityKey{}, id)
}

// FromContext returns the identity stored by WithIdentity.
func FromContext(ctx context.Context) (Identity, bool) {
	id, ok := ctx.Value(identityKey{}).(Identity)
	return id, ok && id.UserID != ""
}
