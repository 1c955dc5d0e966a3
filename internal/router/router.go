// Package router wires HTTP routes to their handlers and middleware.
package router

import (
	"github.com/labstack/echo/v4"

	"github.com/hemosys/turn-queue/internal/handler"
	"github.com/hemosys/turn-queue/internal/middleware"
	"github.com/hemosys/turn-queue/internal/model"
)

// RegisterRoutes registers routes that require no authentication: the
// health check, patient intake and the waiting-board listing.  The board
// endpoints are polled by the display every few seconds, so the optional
// cache middleware is applied to them by the caller.
func RegisterRoutes(e *echo.Echo, turns *handler.TurnHandler, boardMiddleware ...echo.MiddlewareFunc) {
	e.GET("/healthz", handler.Health)
	e.POST("/v1/turns", turns.Create)
	e.GET("/v1/turns/queue", turns.Board, boardMiddleware...)
}

// RegisterQueue registers the protected scheduler endpoints.  All of
// them require a valid access token; the attention and holding routes
// additionally require the phlebotomist role, since only phlebotomists
// participate in automatic assignment.  The shared middleware slot
// carries the per-worker rate limiter for the polling routes.
func RegisterQueue(e *echo.Echo, q *handler.QueueHandler, a *handler.AttentionHandler, s *handler.SessionHandler, jwtSecret string, shared ...echo.MiddlewareFunc) {
	auth := e.Group("/v1", middleware.JWTAuth(jwtSecret))
	auth.Use(shared...)

	// Session liveness endpoints: any authenticated staff role may open
	// a session and heartbeat; only phlebotomist sessions count toward
	// the assignment ranking.
	auth.POST("/session/open", s.Open)
	auth.POST("/session/heartbeat", s.Heartbeat)
	auth.POST("/session/cubicle", s.SelectCubicle)

	phleb := auth.Group("", middleware.RequireRole(model.RolePhlebotomist))
	phleb.POST("/queue/holding", q.RequestHolding)
	phleb.GET("/queue/holding", q.CurrentHolding)
	phleb.POST("/queue/holding/skip", q.SkipHolding)
	phleb.POST("/queue/holding/release", q.ReleaseHoldings)
	phleb.POST("/attention/call", a.Call)
	phleb.POST("/attention/repeat-call", a.RepeatCall)
	phleb.POST("/attention/complete", a.Complete)
	phleb.POST("/attention/defer", a.Defer)

	// Shared views: any staff role may refresh suggestions and inspect
	// the ranking and cubicle occupancy.
	staff := auth.Group("", middleware.RequireRole(model.RolePhlebotomist, model.RoleAdmin, model.RoleSupervisor))
	staff.POST("/queue/suggestions/refresh", q.RefreshSuggestions)
	staff.GET("/queue/workers", q.WorkerRanking)
	staff.GET("/cubicles/status", q.CubicleStatus)
}

// RegisterAdmin registers worker and cubicle provisioning, restricted
// to admins.
func RegisterAdmin(e *echo.Echo, w *handler.WorkerHandler, cub *handler.CubicleHandler, jwtSecret string) {
	admin := e.Group("/v1", middleware.JWTAuth(jwtSecret), middleware.RequireRole(model.RoleAdmin))
	admin.POST("/workers", w.Create)
	admin.GET("/workers", w.List)
	admin.PATCH("/workers/:id/status", w.SetStatus)
	admin.POST("/cubicles", cub.Create)
	admin.GET("/cubicles", cub.List)
}
