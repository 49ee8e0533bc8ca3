package httpmiddleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func requestFrom(addr string) *http.Request {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = addr
	return req
}

func TestRateLimit_UnderBurst(t *testing.T) {
	handler := RateLimit(RateLimitConfig{RPS: 0.001, Burst: 5})(okHandler())

	for i := range 5 {
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, requestFrom("192.168.1.1:12345"))
		assert.Equal(t, http.StatusOK, w.Code, "request %d should pass", i+1)
	}
}

func TestRateLimit_OverBurst(t *testing.T) {
	handler := RateLimit(RateLimitConfig{RPS: 0.001, Burst: 2})(okHandler())

	for range 2 {
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, requestFrom("10.0.0.1:9999"))
		require.Equal(t, http.StatusOK, w.Code)
	}

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, requestFrom("10.0.0.1:9999"))

	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"))
	assert.NotEmpty(t, w.Header().Get("Retry-After"))
	assert.JSONEq(t, `{"code":429,"message":"rate limit exceeded"}`, w.Body.String())
}

func TestRateLimit_Refills(t *testing.T) {
	handler := RateLimit(RateLimitConfig{RPS: 50, Burst: 1})(okHandler())

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, requestFrom("10.0.0.1:1"))
	require.Equal(t, http.StatusOK, w.Code)

	require.Eventually(t, func() bool {
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, requestFrom("10.0.0.1:1"))
		return w.Code == http.StatusOK
	}, time.Second, 10*time.Millisecond)
}

func TestRateLimit_DifferentIPs(t *testing.T) {
	handler := RateLimit(RateLimitConfig{RPS: 0.001, Burst: 1})(okHandler())

	w1 := httptest.NewRecorder()
	handler.ServeHTTP(w1, requestFrom("10.0.0.1:1234"))
	assert.Equal(t, http.StatusOK, w1.Code)

	// Independent bucket.
	w2 := httptest.NewRecorder()
	handler.ServeHTTP(w2, requestFrom("10.0.0.2:1234"))
	assert.Equal(t, http.StatusOK, w2.Code)

	w3 := httptest.NewRecorder()
	handler.ServeHTTP(w3, requestFrom("10.0.0.1:5678"))
	assert.Equal(t, http.StatusTooManyRequests, w3.Code)
}

func TestRateLimit_CustomKeyFunc(t *testing.T) {
	handler := RateLimit(RateLimitConfig{
		RPS:   0.001,
		Burst: 1,
		KeyFunc: func(r *http.Request) string {
			return r.Header.Get("api_key")
		},
	})(okHandler())

	send := func(key string) int {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set("api_key", key)
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, req)
		return w.Code
	}

	assert.Equal(t, http.StatusOK, send("key-a"))
	assert.Equal(t, http.StatusTooManyRequests, send("key-a"))
	assert.Equal(t, http.StatusOK, send("key-b"))
}

func TestRateLimit_XForwardedFor(t *testing.T) {
	handler := RateLimit(RateLimitConfig{RPS: 0.001, Burst: 1})(okHandler())

	req := requestFrom("192.168.1.1:4444")
	req.Header.Set("X-Forwarded-For", "203.0.113.50, 70.41.3.18")
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)

	req2 := requestFrom("192.168.1.2:5555")
	req2.Header.Set("X-Forwarded-For", "203.0.113.50, 70.41.3.18")
	w2 := httptest.NewRecorder()
	handler.ServeHTTP(w2, req2)
	assert.Equal(t, http.StatusTooManyRequests, w2.Code)
}

func TestRateLimiter_Cleanup(t *testing.T) {
	rl := newRateLimiter(RateLimitConfig{RPS: 1, Burst: 1, IdleTTL: time.Minute})
	now := time.Now()

	rl.allow("a", now)
	rl.allow("b", now.Add(30*time.Second))
	require.Equal(t, 2, rl.size())

	rl.cleanup(now.Add(70 * time.Second))
	assert.Equal(t, 1, rl.size())
}
