package handler

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"net/http"

	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"

	"github.com/xenking/kart-checkout/internal/domain/auth"
)

// HeaderAPIKey carries the caller's API key.
const HeaderAPIKey = "api_key"

// HashAPIKey returns the hex HMAC-SHA256 of key under pepper, the form in
// which keys are stored.
func HashAPIKey(pepper []byte, key string) string {
	mac := hmac.New(sha256.New, pepper)
	mac.Write([]byte(key))
	return hex.EncodeToString(mac.Sum(nil))
}

// requireAPIKey resolves the api_key header to a user identity. The user id
// it yields is the only identity the services see.
func (h *Handler) requireAPIKey(next func(http.ResponseWriter, *http.Request, auth.Identity)) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := r.Header.Get(HeaderAPIKey)
		if key == "" {
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}

		mac := hmac.New(sha256.New, h.pepper)
		mac.Write([]byte(key))
		hash := mac.Sum(nil)

		rec, err := h.apikeys.FindByHash(r.Context(), hex.EncodeToString(hash))
		if err != nil {
			zctx.From(r.Context()).Debug("API key lookup failed", zap.Error(err))
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		stored, err := hex.DecodeString(rec.KeyHash)
		if err != nil || subtle.ConstantTimeCompare(hash, stored) != 1 || rec.UserID == "" {
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}

		id := auth.Identity{KeyID: rec.ID, UserID: rec.UserID}
		ctx := auth.WithIdentity(r.Context(), id)
		ctx = zctx.With(ctx, zap.String("user_id", id.UserID))
		next(w, r.WithContext(ctx), id)
	})
}
