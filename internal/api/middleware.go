package api

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/poolify/poolify/internal/handler"
	"github.com/poolify/poolify/internal/pkg/metrics"
	"github.com/poolify/poolify/internal/service"
	logger "github.com/poolify/poolify/middleware/log"
	"github.com/poolify/poolify/utils/ratelimit"
)

const traceHeader = "X-Request-ID"

// Presence records that an authenticated user is active.
type Presence interface {
	Touch(ctx context.Context, userID string) error
}

type MiddlewareManager struct {
	authService service.IAuthService
	presence    Presence
	rateLimiter ratelimit.Limiter
	rules       ratelimit.Rules
	metrics     *metrics.Metrics
	logger      *logger.Logger
}

// NewMiddlewareManager wires the shared middlewares. presence, limiter and
// m may be nil, which disables the matching behaviour.
func NewMiddlewareManager(
	authService service.IAuthService,
	presence Presence,
	limiter ratelimit.Limiter,
	rules ratelimit.Rules,
	m *metrics.Metrics,
	log *logger.Logger,
) *MiddlewareManager {
	return &MiddlewareManager{
		authService: authService,
		presence:    presence,
		rateLimiter: limiter,
		rules:       rules,
		metrics:     m,
		logger:      log.Named("http"),
	}
}

// TraceID propagates X-Request-ID, generating one when absent.
func (m *MiddlewareManager) TraceID() gin.HandlerFunc {
	return func(c *gin.Context) {
		traceID := c.GetHeader(traceHeader)
		if traceID == "" {
			traceID = logger.NewTraceID()
		}
		c.Request = c.Request.WithContext(logger.WithTraceID(c.Request.Context(), traceID))
		c.Writer.Header().Set(traceHeader, traceID)
		c.Next()
	}
}

func (m *MiddlewareManager) JWTAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": "authorization header required",
			})
			return
		}

		parts := strings.SplitN(authHeader, " ", 2)
		if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": "invalid authorization header format",
			})
			return
		}

		ctx := c.Request.Context()
		identity, err := m.authService.Authenticate(ctx, strings.TrimSpace(parts[1]))
		if err != nil {
			m.logger.WarnContext(ctx, "token validation failed",
				zap.Error(err),
				zap.String("ip", c.ClientIP()),
			)
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": err.Error(),
			})
			return
		}

		c.Set(handler.ContextUserID, identity.UserID)
		c.Set(handler.ContextUserName, identity.Name)
		ctx = logger.WithUserID(ctx, identity.UserID)
		c.Request = c.Request.WithContext(ctx)

		if m.presence != nil {
			if err := m.presence.Touch(ctx, identity.UserID); err != nil {
				m.logger.WarnContext(ctx, "failed to refresh presence", zap.Error(err))
			}
		}

		c.Next()
	}
}

// RateLimit applies the budget of endpoint, keyed by user when
// authenticated and by client IP otherwise.
func (m *MiddlewareManager) RateLimit(endpoint ratelimit.Endpoint) gin.HandlerFunc {
	rule := m.rules.For(endpoint)

	return func(c *gin.Context) {
		if m.rateLimiter == nil || rule.Limit <= 0 {
			c.Next()
			return
		}

		var key string
		if userID := c.GetString(handler.ContextUserID); userID != "" {
			key = fmt.Sprintf("user:%s:%s", userID, endpoint)
		} else {
			key = fmt.Sprintf("ip:%s:%s", c.ClientIP(), endpoint)
		}

		ctx := c.Request.Context()
		allowed, err := m.rateLimiter.Allow(ctx, key, rule)
		if err != nil {
			m.logger.ErrorContext(ctx, "rate limit check failed",
				zap.Error(err),
				zap.String("key", key),
				zap.String("endpoint", string(endpoint)),
			)
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{
				"error": "rate limit check failed",
			})
			return
		}

		if !allowed {
			if m.metrics != nil {
				m.metrics.RateLimited.WithLabelValues(string(endpoint)).Inc()
			}
			retryAfter := int(rule.Window.Seconds())
			c.Header("Retry-After", strconv.Itoa(retryAfter))
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"error":       "rate limit exceeded",
				"retry_after": retryAfter,
			})
			return
		}

		c.Next()
	}
}

// MaxConcurrency rejects requests beyond limit in flight with 503.
func (m *MiddlewareManager) MaxConcurrency(limit int) gin.HandlerFunc {
	if limit <= 0 {
		return func(c *gin.Context) { c.Next() }
	}
	sem := make(chan struct{}, limit)

	return func(c *gin.Context) {
		select {
		case sem <- struct{}{}:
			defer func() { <-sem }()
			c.Next()
		default:
			c.AbortWithStatusJSON(http.StatusServiceUnavailable, gin.H{
				"error": "too many concurrent requests",
			})
		}
	}
}

// Logger logs each request and records the HTTP metrics.
func (m *MiddlewareManager) Logger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		query := c.Request.URL.RawQuery

		if m.metrics != nil {
			m.metrics.HTTPInFlight.Inc()
			defer m.metrics.HTTPInFlight.Dec()
		}

		c.Next()

		latency := time.Since(start)
		statusCode := c.Writer.Status()
		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}

		if m.metrics != nil {
			m.metrics.HTTPRequests.WithLabelValues(c.Request.Method, route, strconv.Itoa(statusCode)).Inc()
			m.metrics.HTTPDuration.WithLabelValues(c.Request.Method, route).Observe(latency.Seconds())
		}

		fields := []zap.Field{
			zap.String("method", c.Request.Method),
			zap.String("path", path),
			zap.String("query", query),
			zap.Int("status", statusCode),
			zap.Duration("latency", latency),
			zap.String("ip", c.ClientIP()),
			zap.String("user_agent", c.Request.UserAgent()),
		}

		ctx := c.Request.Context()
		switch {
		case statusCode >= 500:
			m.logger.ErrorContext(ctx, "server error", fields...)
		case statusCode >= 400:
			m.logger.WarnContext(ctx, "client error", fields...)
		default:
			m.logger.InfoContext(ctx, "request completed", fields...)
		}
	}
}

func (m *MiddlewareManager) CORS() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Content-Length, Accept-Encoding, Authorization, accept, origin, Cache-Control, X-Requested-With, X-Request-ID")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "POST, OPTIONS, GET, PUT, DELETE")
		c.Writer.Header().Set("Access-Control-Expose-Headers", "X-Request-ID, Retry-After")

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}

func (m *MiddlewareManager) Recovery() gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if err := recover(); err != nil {
				m.logger.ErrorContext(c.Request.Context(), "panic recovered",
					zap.Any("error", err),
					zap.String("path", c.Request.URL.Path),
					zap.String("method", c.Request.Method),
				)

				c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{
					"error": "internal server error",
				})
			}
		}()

		c.Next()
	}
}
