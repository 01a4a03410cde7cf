package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"example.com/studentverse/pkg/logger"
)

// =============================================================================
// Tracing
// =============================================================================

func TestTracingMiddleware_GeneratesTraceID(t *testing.T) {
	gin.SetMode(gin.TestMode)

	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = httptest.NewRequest(http.MethodGet, "/api/v1/intents/x", nil)

	NewTracingMiddleware().Handle()(c)

	traceID := w.Header().Get(HeaderTraceID)
	_, err := uuid.Parse(traceID)
	assert.NoError(t, err, "trace_id должен быть валидным UUID")
	assert.Equal(t, traceID, w.Header().Get(HeaderCorrelationID), "correlation_id по умолчанию равен trace_id")
	assert.Equal(t, traceID, logger.TraceIDFromContext(c.Request.Context()))
}

func TestTracingMiddleware_UsesExistingIDs(t *testing.T) {
	tests := []struct {
		name    string
		headers map[string]string
		wantTID string
		wantCID string
	}{
		{"X-Trace-ID", map[string]string{HeaderTraceID: "trace-1", HeaderCorrelationID: "corr-1"}, "trace-1", "corr-1"},
		{"X-Request-ID как алиас", map[string]string{HeaderRequestID: "req-1"}, "req-1", "req-1"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			gin.SetMode(gin.TestMode)
			w := httptest.NewRecorder()
			c, _ := gin.CreateTestContext(w)
			c.Request = httptest.NewRequest(http.MethodGet, "/", nil)
			for k, v := range tt.headers {
				c.Request.Header.Set(k, v)
			}

			NewTracingMiddleware().Handle()(c)

			assert.Equal(t, tt.wantTID, w.Header().Get(HeaderTraceID))
			assert.Equal(t, tt.wantCID, w.Header().Get(HeaderCorrelationID))
			cid, _ := c.Get(ContextCorrelationID)
			assert.Equal(t, tt.wantCID, cid)
		})
	}
}

// =============================================================================
// CORS и security headers
// =============================================================================

func TestCORS(t *testing.T) {
	gin.SetMode(gin.TestMode)

	newEngine := func(cfg CORSConfig) *gin.Engine {
		r := gin.New()
		r.Use(CORS(cfg))
		r.POST("/api/v1/intents", func(c *gin.Context) { c.Status(http.StatusCreated) })
		return r
	}

	t.Run("preflight", func(t *testing.T) {
		w := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodOptions, "/api/v1/intents", nil)
		req.Header.Set("Origin", "https://app.studentverse.test")

		newEngine(DefaultCORSConfig()).ServeHTTP(w, req)

		assert.Equal(t, http.StatusNoContent, w.Code)
		assert.Equal(t, "*", w.Header().Get("Access-Control-Allow-Origin"))
		assert.Contains(t, w.Header().Get("Access-Control-Allow-Headers"), HeaderIdempotencyKey)
		assert.Contains(t, w.Header().Get("Access-Control-Expose-Headers"), "Location")
	})

	t.Run("запрещённый origin", func(t *testing.T) {
		cfg := DefaultCORSConfig()
		cfg.AllowedOrigins = []string{"https://app.studentverse.test"}
		w := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodPost, "/api/v1/intents", nil)
		req.Header.Set("Origin", "https://evil.test")

		newEngine(cfg).ServeHTTP(w, req)

		assert.Equal(t, http.StatusCreated, w.Code)
		assert.Empty(t, w.Header().Get("Access-Control-Allow-Origin"))
	})

	t.Run("разрешённый origin", func(t *testing.T) {
		cfg := DefaultCORSConfig()
		cfg.AllowedOrigins = []string{"https://app.studentverse.test"}
		w := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodPost, "/api/v1/intents", nil)
		req.Header.Set("Origin", "https://app.studentverse.test")

		newEngine(cfg).ServeHTTP(w, req)

		assert.Equal(t, "https://app.studentverse.test", w.Header().Get("Access-Control-Allow-Origin"))
		assert.Equal(t, "Origin", w.Header().Get("Vary"))
	})
}

func TestSecurityHeaders(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(SecurityHeaders())
	r.GET("/", func(c *gin.Context) { c.Status(http.StatusOK) })

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))

	assert.Equal(t, "DENY", w.Header().Get("X-Frame-Options"))
	assert.Equal(t, "nosniff", w.Header().Get("X-Content-Type-Options"))
	assert.Equal(t, "no-store", w.Header().Get("Cache-Control"))
}

// =============================================================================
// Rate limit
// =============================================================================

func newRateLimited(t *testing.T, limit int) (*gin.Engine, *miniredis.Miniredis) {
	return newRateLimitedWindow(t, limit, time.Minute)
}

func newRateLimitedWindow(t *testing.T, limit int, window time.Duration) (*gin.Engine, *miniredis.Miniredis) {
	gin.SetMode(gin.TestMode)
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	r := gin.New()
	r.Use(NewRateLimitMiddleware(RateLimitConfig{Redis: client, Limit: limit, Window: window}).Handle())
	r.GET("/api/v1/intents/:id", func(c *gin.Context) { c.Status(http.StatusOK) })
	return r, mr
}

func doFrom(r *gin.Engine, ip string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/v1/intents/abc", nil)
	req.RemoteAddr = ip + ":12345"
	r.ServeHTTP(w, req)
	return w
}

func TestRateLimitMiddleware(t *testing.T) {
	t.Run("блокирует сверх лимита", func(t *testing.T) {
		r, mr := newRateLimited(t, 3)

		for i := 0; i < 3; i++ {
			w := doFrom(r, "10.0.0.1")
			require.Equal(t, http.StatusOK, w.Code, "запрос %d должен пройти", i+1)
		}

		w := doFrom(r, "10.0.0.1")
		assert.Equal(t, http.StatusTooManyRequests, w.Code)
		assert.Equal(t, "0", w.Header().Get("X-RateLimit-Remaining"))
		assert.Equal(t, "60", w.Header().Get("Retry-After"))
		assert.Equal(t, time.Minute, mr.TTL(rateLimitKeyPrefix+"10.0.0.1"))

		// Другой IP не затронут
		assert.Equal(t, http.StatusOK, doFrom(r, "10.0.0.2").Code)
	})

	t.Run("окно истекло", func(t *testing.T) {
		r, mr := newRateLimited(t, 1)

		require.Equal(t, http.StatusOK, doFrom(r, "10.0.0.3").Code)
		require.Equal(t, http.StatusTooManyRequests, doFrom(r, "10.0.0.3").Code)

		mr.FastForward(time.Minute + time.Second)

		assert.Equal(t, http.StatusOK, doFrom(r, "10.0.0.3").Code)
	})

	t.Run("окно меньше секунды", func(t *testing.T) {
		r, mr := newRateLimitedWindow(t, 1, 500*time.Millisecond)

		require.Equal(t, http.StatusOK, doFrom(r, "10.0.0.5").Code)
		assert.Equal(t, 500*time.Millisecond, mr.TTL(rateLimitKeyPrefix+"10.0.0.5"))

		w := doFrom(r, "10.0.0.5")
		assert.Equal(t, http.StatusTooManyRequests, w.Code, "лимит действует и при коротком окне")
		assert.Equal(t, "1", w.Header().Get("Retry-After"))

		mr.FastForward(time.Second)
		assert.Equal(t, http.StatusOK, doFrom(r, "10.0.0.5").Code)
	})

	t.Run("Redis недоступен - fail-open", func(t *testing.T) {
		r, mr := newRateLimited(t, 1)
		mr.Close()

		assert.Equal(t, http.StatusOK, doFrom(r, "10.0.0.4").Code)
		assert.Equal(t, http.StatusOK, doFrom(r, "10.0.0.4").Code)
	})
}
