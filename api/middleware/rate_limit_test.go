package middleware

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

type memLimiter struct {
	counts map[string]int64
	err    error
}

func (m *memLimiter) FixedWindowAllow(_ context.Context, scope string, limit int64, _ time.Duration) (bool, int64, error) {
	if m.err != nil {
		return false, 0, m.err
	}
	if m.counts == nil {
		m.counts = map[string]int64{}
	}
	m.counts[scope]++
	return m.counts[scope] <= limit, m.counts[scope], nil
}

func TestRateLimitBlocksAfterLimit(t *testing.T) {
	limiter := &memLimiter{}
	policy := RateLimitPolicy{Group: "Import", Window: time.Minute, Limit: 2}
	handler := RateLimit(policy, limiter, nil)(okHandler())

	codes := make([]int, 0, 3)
	for i := 0; i < 3; i++ {
		req := httptest.NewRequest(http.MethodPost, "/", nil)
		req = req.WithContext(WithUserID(req.Context(), "user_1"))
		resp := httptest.NewRecorder()
		handler.ServeHTTP(resp, req)
		codes = append(codes, resp.Code)
		if resp.Code == http.StatusTooManyRequests {
			assert.Equal(t, "60", resp.Header().Get("Retry-After"))
		}
	}
	assert.Equal(t, []int{http.StatusOK, http.StatusOK, http.StatusTooManyRequests}, codes)
	assert.Contains(t, limiter.counts, "import:user:user_1")
}

func TestRateLimitKeysAnonymousCallersByIP(t *testing.T) {
	limiter := &memLimiter{}
	handler := RateLimit(RateLimitPolicy{Group: "download", Window: time.Minute, Limit: 1}, limiter, nil)(okHandler())

	for _, ip := range []string{"10.0.0.1", "10.0.0.2"} {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set("X-Forwarded-For", ip+", 172.16.0.1")
		resp := httptest.NewRecorder()
		handler.ServeHTTP(resp, req)
		assert.Equal(t, http.StatusOK, resp.Code)
	}
	assert.Len(t, limiter.counts, 2)
}

func TestRateLimitFailsOpen(t *testing.T) {
	limiter := &memLimiter{err: errors.New("redis down")}
	handler := RateLimit(RateLimitPolicy{Group: "checkout", Window: time.Minute, Limit: 1}, limiter, nil)(okHandler())

	resp := httptest.NewRecorder()
	handler.ServeHTTP(resp, httptest.NewRequest(http.MethodPost, "/", nil))
	assert.Equal(t, http.StatusOK, resp.Code)
}

func TestRateLimitDisabledPolicyPassesThrough(t *testing.T) {
	limiter := &memLimiter{}
	handler := RateLimit(RateLimitPolicy{Group: "x"}, limiter, nil)(okHandler())

	resp := httptest.NewRecorder()
	handler.ServeHTTP(resp, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusOK, resp.Code)
	assert.Empty(t, limiter.counts)
}
