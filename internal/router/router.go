package router // package router defines how HTTP routes are registered for the API

import (
    "github.com/labstack/echo/v4"  // the Echo web framework handles routing
    "github.com/redis/go-redis/v9" // Redis backs the response cache and rate limiter

    "github.com/BalazsVokHeloXD/ShippingManager/internal/config"
    "github.com/BalazsVokHeloXD/ShippingManager/internal/handler"
    "github.com/BalazsVokHeloXD/ShippingManager/internal/middleware"
)

// RegisterRoutes wires all endpoints of the API server.  Public browse
// endpoints sit behind the Redis response cache; everything touching a
// user's reservations requires the identity token issued by the external
// auth service; intake additionally passes the rate limiter.  A nil Redis
// client disables caching and rate limiting, the middlewares degrade to
// pass-through.
func RegisterRoutes(e *echo.Echo, cfg config.Config, rdb *redis.Client, res *handler.ReservationHandler, pub *handler.PublicHandler, pay *handler.PaymentHandler) {
    // Health check for load balancers and monitoring.
    e.GET("/healthz", handler.Health)

    // Public browse endpoints; route and filter data changes rarely, so
    // responses are served from the Redis cache when possible.
    cache := middleware.NewRedisCache(config.LoadCacheConfig(), rdb)
    e.GET("/v1/routes", pub.GetRoutes, cache)
    e.GET("/v1/filters", pub.GetFilters, cache)

    // The gateway's status callback carries no user identity; the handler
    // re-queries the gateway itself before trusting anything in the body.
    e.POST("/v1/payments/callback", pay.Callback)

    // Authenticated endpoints.
    auth := e.Group("/v1")
    auth.Use(middleware.Identity(cfg.JWTSecret))

    limiter := middleware.NewTokenBucket(config.LoadRateLimitConfig(), rdb)
    auth.POST("/reservations", res.Create, limiter)
    auth.GET("/reservations", res.List)
    auth.GET("/reservations/:id/status", res.Status)
    auth.DELETE("/reservations/:id", res.Delete)
    auth.POST("/payments/search", pay.Search)
}
