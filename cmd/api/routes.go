package main

import (
	"context"

	"chattrix-calls/internal/audit"
	"chattrix-calls/internal/auth"
	"chattrix-calls/internal/calls"
	"chattrix-calls/internal/config"
	"chattrix-calls/internal/httpapi"
	"chattrix-calls/internal/quality"
	"chattrix-calls/internal/ratelimit"
	"chattrix-calls/internal/reporting"
	"chattrix-calls/internal/signaling"

	"github.com/gin-gonic/gin"
)

type routeDeps struct {
	auth      *auth.Manager
	calls     *calls.Service
	reporting *reporting.Service
	audit     *audit.Service
	quality   *quality.Service
	limiter   *ratelimit.PerUser
	ws        *signaling.Server
	mediaURL  string
	health    func(ctx context.Context) error
}

// registerRoutes builds handlers and middlewares from process dependencies.
// Keep this file free of business logic.
func registerRoutes(r *gin.Engine, cfg config.Config, d routeDeps) {
	h := httpapi.Handlers{
		Auth:      d.auth,
		Calls:     d.calls,
		Reporting: d.reporting,
		Audit:     d.audit,
		Quality:   d.quality,
		MediaURL:  d.mediaURL,
	}
	mw := httpapi.Middlewares{
		Auth:          auth.RequireAccessToken(d.auth),
		InitiateLimit: ratelimit.Middleware(d.limiter),
	}
	httpapi.Register(r, h, mw, httpapi.RouteOptions{
		DevTokens: cfg.IsDevelopment(),
		WebSocket: d.ws.Handle,
		Health: func(c *gin.Context) error {
			return d.health(c.Request.Context())
		},
	})
}
