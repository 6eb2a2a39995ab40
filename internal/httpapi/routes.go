package httpapi

import (
	"net/http"

	"chattrix-calls/internal/rbac"

	"github.com/gin-gonic/gin"
)

// Middlewares are built in cmd/api and injected so that routing stays free
// of configuration.
type Middlewares struct {
	Auth gin.HandlerFunc
	// InitiateLimit throttles POST /v1/calls. Optional.
	InitiateLimit gin.HandlerFunc
}

type RouteOptions struct {
	// DevTokens exposes POST /v1/auth/token.
	DevTokens bool
	// WebSocket serves GET /v1/ws. Optional.
	WebSocket gin.HandlerFunc
	// Health reports dependency status for /healthz. Optional.
	Health func(c *gin.Context) error
}

// Register wires HTTP routes to handlers.
// Keep this free of business logic. Handlers delegate to internal modules.
func Register(r *gin.Engine, h Handlers, mw Middlewares, opts RouteOptions) {
	r.GET("/healthz", func(c *gin.Context) {
		if opts.Health != nil {
			if err := opts.Health(c); err != nil {
				c.JSON(http.StatusServiceUnavailable, gin.H{"status": "degraded", "error": err.Error()})
				return
			}
		}
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	if opts.DevTokens {
		r.POST("/v1/auth/token", h.IssueToken)
	}

	v1 := r.Group("/v1")
	v1.Use(mw.Auth)
	{
		v1.GET("/me", h.Me)

		if opts.WebSocket != nil {
			v1.GET("/ws", opts.WebSocket)
		}

		calls := v1.Group("/calls")
		calls.Use(rbac.RequireAnyRole(rbac.RoleMember))
		{
			initiate := []gin.HandlerFunc{h.InitiateCall}
			if mw.InitiateLimit != nil {
				initiate = append([]gin.HandlerFunc{mw.InitiateLimit}, initiate...)
			}
			calls.POST("", initiate...)
			calls.GET("/active", h.ActiveCall)
			calls.GET("/history", h.CallHistory)
			calls.GET("/statistics", h.CallStatistics)
			calls.GET("/:call_id", h.GetCall)
			calls.GET("/:call_id/events", h.CallEvents)
			calls.POST("/:call_id/accept", h.AcceptCall)
			calls.POST("/:call_id/reject", h.RejectCall)
			calls.POST("/:call_id/end", h.EndCall)
			calls.POST("/:call_id/credential", h.RefreshCredential)
			calls.DELETE("/:call_id/history", h.HideCallFromHistory)
			calls.POST("/:call_id/quality", h.ReportQuality)
			calls.GET("/:call_id/quality", h.QualityStats)
		}

		admin := v1.Group("/admin")
		admin.Use(rbac.RequireAnyRole(rbac.RoleAdmin))
		{
			admin.POST("/calls/:call_id/terminate", h.TerminateCall)
		}
	}
}
