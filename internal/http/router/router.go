// Package router assembles the Gin engine from registered modules.
package router

import (
	"context"
	"net/http"
	"time"

	apphttp "argus_relay/internal/http"
	"argus_relay/platform/httpkit"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"
)

// New builds the HTTP engine: global middleware, health endpoint, and the
// routes of every registered module under /api/v1.
func New(app *apphttp.App) *gin.Engine {
	if app.Config.GetEnv() == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	engine := gin.New()
	engine.HandleMethodNotAllowed = true

	engine.Use(gin.Recovery())
	engine.Use(httpkit.RequestID())
	engine.Use(httpkit.RequestLogger(app.Logger))
	engine.Use(httpkit.SecurityHeaders())
	engine.Use(corsMiddleware(app))

	limiter := httpkit.NewIPRateLimiter(rate.Limit(50), 100, app.Logger)
	engine.Use(limiter.RateLimit())

	engine.NoMethod(func(c *gin.Context) {
		httpkit.Error(c, http.StatusMethodNotAllowed, "method not allowed")
	})
	engine.NoRoute(func(c *gin.Context) {
		httpkit.Error(c, http.StatusNotFound, "not found")
	})

	engine.GET("/api/health", healthHandler(app))

	routerCtx := &apphttp.RouterContext{
		Engine:      engine,
		V1:          engine.Group("/api/v1"),
		Config:      app.Config,
		RateLimiter: limiter,
	}

	for _, module := range app.Modules {
		module.RegisterRoutes(routerCtx)
		app.Logger.Info("module routes registered", "module", module.Name())
	}

	return engine
}

func corsMiddleware(app *apphttp.App) gin.HandlerFunc {
	corsCfg := cors.Config{
		AllowMethods:     []string{"GET", "POST", "PATCH", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Authorization", "X-Argus-Secret", "X-Request-Id"},
		ExposeHeaders:    []string{"X-Request-Id"},
		AllowCredentials: false,
		MaxAge:           12 * time.Hour,
	}
	if app.Config.GetCORSAllowAll() {
		corsCfg.AllowAllOrigins = true
	} else {
		corsCfg.AllowOrigins = app.Config.GetCORSOrigins()
	}
	return cors.New(corsCfg)
}

func healthHandler(app *apphttp.App) gin.HandlerFunc {
	return func(c *gin.Context) {
		if app.Health != nil {
			ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
			defer cancel()
			if err := app.Health.Ping(ctx); err != nil {
				httpkit.Error(c, http.StatusServiceUnavailable, "store unreachable")
				return
			}
		}
		httpkit.OK(c, gin.H{"status": "ok"})
	}
}
