package middleware

import (
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"

	"example.com/studentverse/pkg/logger"
)

// rateLimitKeyPrefix - префикс счётчиков в Redis.
const rateLimitKeyPrefix = "svpay:rate:"

// incrWithExpire атомарно увеличивает счётчик и ставит TTL (мс) на первом запросе окна.
var incrWithExpire = redis.NewScript(`
	local current = redis.call("INCR", KEYS[1])
	if current == 1 then
		redis.call("PEXPIRE", KEYS[1], ARGV[1])
	end
	return current
`)

// RateLimitMiddleware ограничивает число запросов с одного IP в окне (fixed window в Redis).
type RateLimitMiddleware struct {
	redis  *redis.Client
	limit  int
	window time.Duration
}

// RateLimitConfig - конфигурация rate limiter.
type RateLimitConfig struct {
	Redis  *redis.Client
	Limit  int           // по умолчанию 100
	Window time.Duration // по умолчанию 1 минута
}

// NewRateLimitMiddleware создаёт новый middleware для rate limiting.
func NewRateLimitMiddleware(cfg RateLimitConfig) *RateLimitMiddleware {
	if cfg.Limit <= 0 {
		cfg.Limit = 100
	}
	if cfg.Window <= 0 {
		cfg.Window = time.Minute
	}
	if cfg.Window < time.Millisecond {
		cfg.Window = time.Millisecond
	}
	return &RateLimitMiddleware{redis: cfg.Redis, limit: cfg.Limit, window: cfg.Window}
}

// Handle возвращает Gin handler function для middleware.
func (m *RateLimitMiddleware) Handle() gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := c.Request.Context()
		clientIP := c.ClientIP()

		count, err := incrWithExpire.Run(ctx, m.redis, []string{rateLimitKeyPrefix + clientIP}, m.window.Milliseconds()).Int()
		if err != nil {
			// fail-open: недоступный Redis не блокирует платежи
			logger.Ctx(ctx).Warn().Err(err).Msg("Ошибка проверки rate limit")
			c.Next()
			return
		}

		remaining := max(m.limit-count, 0)
		c.Header("X-RateLimit-Limit", strconv.Itoa(m.limit))
		c.Header("X-RateLimit-Remaining", strconv.Itoa(remaining))

		if count > m.limit {
			retryAfter := retryAfterSeconds(m.window)
			logger.Ctx(ctx).Warn().
				Str("client_ip", clientIP).
				Int("limit", m.limit).
				Msg("Rate limit превышен")

			c.Header("Retry-After", strconv.Itoa(retryAfter))
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"error":   "rate_limit_exceeded",
				"message": fmt.Sprintf("Превышен лимит запросов. Попробуйте через %d секунд", retryAfter),
			})
			return
		}

		c.Next()
	}
}

// retryAfterSeconds округляет окно вверх до целых секунд для Retry-After.
func retryAfterSeconds(window time.Duration) int {
	return int((window + time.Second - 1) / time.Second)
}
