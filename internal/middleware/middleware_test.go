package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/labstack/echo/v4"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iliyamo/signup-verification/internal/config"
	"github.com/iliyamo/signup-verification/internal/ratelimit"
)

func TestRedisCacheServesSecondRequestFromRedis(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer rdb.Close()

	calls := 0
	e := echo.New()
	cfg := config.CacheConfig{Enabled: true, TTL: time.Minute, Prefix: "cache", MaxBodyBytes: 1 << 10}
	e.GET("/v1/stats", func(c echo.Context) error {
		calls++
		return c.JSON(http.StatusOK, echo.Map{"verified_count": 42})
	}, NewRedisCache(cfg, rdb))

	for i, want := range []string{"MISS", "HIT"} {
		rec := httptest.NewRecorder()
		e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/stats", nil))
		require.Equal(t, http.StatusOK, rec.Code, "request %d", i)
		assert.Equal(t, want, rec.Header().Get("X-Cache"))
		assert.JSONEq(t, `{"verified_count":42}`, rec.Body.String())
		assert.Equal(t, echo.MIMEApplicationJSON, rec.Header().Get(echo.HeaderContentType))
	}
	assert.Equal(t, 1, calls)

	mr.FastForward(time.Minute)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/stats", nil))
	assert.Equal(t, "MISS", rec.Header().Get("X-Cache"))
	assert.Equal(t, 2, calls)
}

func TestRedisCacheSkipsErrors(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer rdb.Close()

	e := echo.New()
	cfg := config.CacheConfig{Enabled: true, TTL: time.Minute, Prefix: "cache"}
	e.GET("/v1/stats", func(c echo.Context) error {
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "internal error"})
	}, NewRedisCache(cfg, rdb))

	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/stats", nil))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Empty(t, mr.Keys())
}

func TestRedisCacheDisabledWithoutClient(t *testing.T) {
	e := echo.New()
	e.GET("/x", func(c echo.Context) error { return c.String(http.StatusOK, "ok") },
		NewRedisCache(config.CacheConfig{Enabled: true}, nil))
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/x", nil))
	assert.Equal(t, "ok", rec.Body.String())
	assert.Empty(t, rec.Header().Get("X-Cache"))
}

func TestPayloadRoundTripRejectsShortInput(t *testing.T) {
	_, _, _, ok := decodePayload([]byte{0, 0, 0})
	assert.False(t, ok)
	_, _, _, ok = decodePayload([]byte{0, 0, 0, 200, 0, 0, 1, 0})
	assert.False(t, ok, "header length past end of buffer")
}

func TestRateLimitMiddleware(t *testing.T) {
	l := ratelimit.NewLimiter("http_ip", config.Limit{Max: 2, Window: time.Minute}, ratelimit.NewMemoryWindowStore(0))
	e := echo.New()
	e.GET("/v1/x", func(c echo.Context) error { return c.NoContent(http.StatusNoContent) }, RateLimit(l, 2))

	do := func(ip string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodGet, "/v1/x", nil)
		req.Header.Set(echo.HeaderXRealIP, ip)
		rec := httptest.NewRecorder()
		e.ServeHTTP(rec, req)
		return rec
	}

	assert.Equal(t, "1", do("1.1.1.1").Header().Get("X-RateLimit-Remaining"))
	assert.Equal(t, http.StatusNoContent, do("1.1.1.1").Code)
	rec := do("1.1.1.1")
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "60", rec.Header().Get("Retry-After"))
	assert.Equal(t, http.StatusNoContent, do("2.2.2.2").Code)
}
