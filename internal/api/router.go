package api

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"

	"github.com/poolify/poolify/internal/handler"
	"github.com/poolify/poolify/internal/model"
	"github.com/poolify/poolify/internal/pkg/metrics"
	"github.com/poolify/poolify/utils/ratelimit"
)

// HealthCheck reports whether one dependency is usable.
type HealthCheck func(ctx context.Context) error

type Handlers struct {
	Auth *handler.AuthHandler
	Pool *handler.PoolHandler
	Chat *handler.ChatHandler
	User *handler.UserHandler
}

type Options struct {
	Mode          string
	MaxConcurrent int
	HealthTimeout time.Duration
	Checks        map[string]HealthCheck
	Metrics       *metrics.Metrics
}

var (
	registerOnce sync.Once
	registerErr  error
)

// RegisterValidators adds the custom binding tags used by request types.
func RegisterValidators() error {
	registerOnce.Do(func() {
		v, ok := binding.Validator.Engine().(*validator.Validate)
		if !ok {
			registerErr = fmt.Errorf("unexpected binding validator %T", binding.Validator.Engine())
			return
		}
		err := v.RegisterValidation("platform", func(fl validator.FieldLevel) bool {
			return model.IsPlatform(fl.Field().String())
		})
		if err != nil {
			registerErr = fmt.Errorf("failed to register platform validator: %w", err)
		}
	})
	return registerErr
}

// NewRouter builds the engine with every route mounted under /api/v1 and at
// the root.
func NewRouter(mw *MiddlewareManager, h Handlers, opts Options) (*gin.Engine, error) {
	if opts.Mode != "" {
		gin.SetMode(opts.Mode)
	}
	if err := RegisterValidators(); err != nil {
		return nil, err
	}

	r := gin.New()
	r.Use(mw.Recovery(), mw.TraceID(), mw.Logger(), mw.CORS(), mw.MaxConcurrency(opts.MaxConcurrent))

	r.GET("/health", healthHandler(opts))
	if opts.Metrics != nil {
		r.GET("/metrics", gin.WrapH(opts.Metrics.Handler()))
	}

	RegisterRoutes(r.Group("/api/v1"), mw, h)
	RegisterRoutes(r.Group("/"), mw, h)
	return r, nil
}

// RegisterRoutes registers all API routes on g.
func RegisterRoutes(g *gin.RouterGroup, mw *MiddlewareManager, h Handlers) {
	auth := g.Group("/auth")
	{
		auth.POST("/register", mw.RateLimit(ratelimit.EndpointRegister), h.Auth.Register)
		auth.POST("/login", mw.RateLimit(ratelimit.EndpointLogin), h.Auth.Login)
		auth.POST("/refresh", mw.RateLimit(ratelimit.EndpointLogin), h.Auth.Refresh)
	}

	protected := g.Group("")
	protected.Use(mw.JWTAuth(), mw.RateLimit(ratelimit.EndpointAPI))

	pools := protected.Group("/pools")
	{
		limited := mw.RateLimit(ratelimit.EndpointPool)

		pools.POST("", limited, h.Pool.CreatePool)
		pools.POST("/create", limited, h.Pool.CreatePool)
		pools.GET("", h.Pool.ListPools)
		pools.POST("/nearby", h.Pool.Nearby)
		pools.GET("/:id", h.Pool.GetPool)
		pools.POST("/:id/join", limited, h.Pool.JoinPool)
		pools.POST("/:id/leave", limited, h.Pool.LeavePool)
		pools.POST("/:id/complete", limited, h.Pool.CompletePool)

		pools.GET("/:id/chat", h.Chat.ListMessages)
		pools.POST("/:id/chat", mw.RateLimit(ratelimit.EndpointChat), h.Chat.PostMessage)
	}

	user := protected.Group("/user")
	{
		user.GET("/profile", h.User.GetProfile)
		user.PUT("/profile", h.User.UpdateProfile)
		user.GET("/stats", h.User.GetStats)
		user.GET("/pools", h.User.GetPools)
	}
}

func healthHandler(opts Options) gin.HandlerFunc {
	timeout := opts.HealthTimeout
	if timeout <= 0 {
		timeout = 2 * time.Second
	}

	return func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), timeout)
		defer cancel()

		status := http.StatusOK
		checks := make(gin.H, len(opts.Checks))
		for name, check := range opts.Checks {
			if err := check(ctx); err != nil {
				checks[name] = err.Error()
				status = http.StatusServiceUnavailable
				continue
			}
			checks[name] = "ok"
		}

		overall := "ok"
		if status != http.StatusOK {
			overall = "degraded"
		}
		c.JSON(status, gin.H{"status": overall, "checks": checks})
	}
}
