package httpapi

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"chattrix-calls/internal/audit"
	"chattrix-calls/internal/auth"
	"chattrix-calls/internal/calls"
	"chattrix-calls/internal/quality"
	"chattrix-calls/internal/rbac"
	"chattrix-calls/internal/reporting"
	"chattrix-calls/pkg/logger"

	"github.com/gin-gonic/gin"
)

// Handlers groups HTTP handlers for dependency injection.
// Keep these thin: parse/validate input, call internal services, return JSON.
type Handlers struct {
	Auth      *auth.Manager
	Calls     *calls.Service
	Reporting *reporting.Service
	Audit     *audit.Service
	Quality   *quality.Service

	// MediaURL is returned with credentials so clients know where to connect.
	MediaURL string
}

// --- Auth ---

type tokenRequest struct {
	UserID string `json:"user_id"`
	Role   string `json:"role"`
}

// IssueToken issues a JWT token pair without checking credentials.
// Only registered in local/dev environments.
func (h Handlers) IssueToken(c *gin.Context) {
	if h.Auth == nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "auth not configured"})
		return
	}
	var req tokenRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	req.UserID = strings.TrimSpace(req.UserID)
	if req.Role == "" {
		req.Role = rbac.RoleMember
	}
	if req.UserID == "" || !rbac.IsKnownRole(req.Role) {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "user_id and a valid role required"})
		return
	}
	// Ids that cannot fit a channel id would make every call attempt fail.
	if err := calls.ValidateUserID(req.UserID); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": err.Error(), "code": calls.Code(err)})
		return
	}
	pair, err := h.Auth.IssuePair(time.Now(), req.UserID, req.Role)
	if err != nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "token issuance failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"access_token": pair.AccessToken, "refresh_token": pair.RefreshToken})
}

func (h Handlers) Me(c *gin.Context) {
	uid, _ := auth.UserID(c.Request.Context())
	role, _ := auth.Role(c.Request.Context())
	c.JSON(http.StatusOK, gin.H{"user_id": uid, "role": role})
}

// --- helpers ---

func (h Handlers) ready(c *gin.Context) bool {
	if h.Calls == nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "calls not configured"})
		return false
	}
	return true
}

func currentUser(c *gin.Context) (string, bool) {
	uid, err := auth.UserID(c.Request.Context())
	if err != nil {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthenticated"})
		return "", false
	}
	return uid, true
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, calls.ErrBusy), errors.Is(err, calls.ErrInvalidStatus), errors.Is(err, calls.ErrStaleStatus):
		return http.StatusConflict
	case errors.Is(err, calls.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, calls.ErrUnauthorized):
		return http.StatusForbidden
	case errors.Is(err, calls.ErrInvalidArgument):
		return http.StatusBadRequest
	case errors.Is(err, calls.ErrCredentialGeneration):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// writeError maps a call-core error to a JSON response. Internal failures
// are logged and reported without detail.
func writeError(c *gin.Context, err error) {
	status := statusFor(err)
	code := calls.Code(err)
	if status == http.StatusInternalServerError {
		_ = c.Error(err)
		logger.FromGin(c).Error("call operation failed", "err", err)
		c.AbortWithStatusJSON(status, gin.H{"error": "internal error", "code": code})
		return
	}
	c.AbortWithStatusJSON(status, gin.H{"error": err.Error(), "code": code})
}
