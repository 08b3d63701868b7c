package router // package router defines how HTTP routes are registered for the API

import (
	"github.com/labstack/echo/v4" // Echo web framework used for routing
	"github.com/redis/go-redis/v9"

	"github.com/moducoop/booking/internal/config"
	"github.com/moducoop/booking/internal/handler"
	"github.com/moducoop/booking/internal/middleware"
)

// RegisterRoutes registers routes that do not require authentication
// on the provided Echo instance.  Currently it exposes only a health
// check, used by load balancers to verify the service is up.
func RegisterRoutes(e *echo.Echo) {
	e.GET("/healthz", handler.Health)
}

// RegisterPublic registers the unauthenticated catalogue endpoints.
// Browse traffic dominates the read load, so these routes go through
// the Redis response cache when a client is available.
func RegisterPublic(e *echo.Echo, p *handler.ProgramHandler, rdb *redis.Client) {
	cache := middleware.NewRedisCache(config.LoadCacheConfig(), rdb)
	e.GET("/v1/programs", p.List, cache)
	e.GET("/v1/programs/:id", p.Get, cache)
}

// RegisterMember registers the authenticated booking lifecycle
// routes.  All of them require a valid access token; both roles are
// accepted since admins may also book.  The token-bucket rate limiter
// shields the checkout and approval endpoints from hammering.
func RegisterMember(e *echo.Echo, b *handler.BookingHandler, pay *handler.PaymentHandler, jwtSecret string, rdb *redis.Client) {
	limit := middleware.NewTokenBucket(config.LoadRateLimitConfig(), rdb)

	g := e.Group("/v1")
	g.Use(middleware.JWTAuth(jwtSecret))
	g.Use(middleware.RequireRole(handler.RoleAdmin, handler.RoleMember))
	g.Use(limit)

	g.POST("/programs/:id/bookings", b.Begin)
	g.GET("/bookings/:order_id", b.Resume)
	g.DELETE("/bookings/:order_id", b.Cancel)
	g.POST("/bookings/:order_id/refund-requests", b.RequestRefund)
	g.GET("/my-reservations", b.MyReservations)
	g.GET("/my-reservations/:id", b.Reservation)
	g.POST("/payments/confirm", pay.Confirm)

	// The webhook is authenticated by its HMAC signature, not a JWT:
	// the provider has no member token.
	e.POST("/v1/payments/webhook", pay.Webhook, limit)
}

// RegisterAdmin registers the management surface under /v1/admin.
// Every route requires the ADMIN role.
func RegisterAdmin(e *echo.Echo, a *handler.AdminHandler, jwtSecret string) {
	g := e.Group("/v1/admin")
	g.Use(middleware.JWTAuth(jwtSecret))
	g.Use(middleware.RequireRole(handler.RoleAdmin))

	g.POST("/programs", a.CreateProgram)
	g.PUT("/programs/:id", a.UpdateProgram)
	g.PATCH("/programs/:id/status", a.UpdateProgramStatus)
	g.DELETE("/programs/:id", a.DeleteProgram)
	g.GET("/programs/:id/reservations", a.ProgramReservations)
	g.GET("/refunds", a.ListRefunds)
	g.POST("/refunds/:id/approve", a.ApproveRefund)
	g.POST("/refunds/:id/reject", a.RejectRefund)
}
