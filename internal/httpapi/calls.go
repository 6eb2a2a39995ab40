package httpapi

import (
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"

	"chattrix-calls/internal/calls"
	"chattrix-calls/internal/reporting"

	"github.com/gin-gonic/gin"
)

type initiateRequest struct {
	CalleeID string `json:"callee_id"`
	CallType string `json:"call_type"`
}

type reasonRequest struct {
	Reason string `json:"reason"`
}

type terminateRequest struct {
	Status string `json:"status"`
	Reason string `json:"reason"`
}

const reasonAdminTerminated = "terminated_by_admin"

type connectionResponse struct {
	Call       calls.Call        `json:"call"`
	Credential *calls.Credential `json:"credential,omitempty"`
	MediaURL   string            `json:"media_url,omitempty"`
}

// bindOptionalJSON binds a body that may be absent. A present but malformed
// body is rejected with 400.
func bindOptionalJSON(c *gin.Context, v any) bool {
	if err := c.ShouldBindJSON(v); err != nil && !errors.Is(err, io.EOF) {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid json", "code": "invalid_argument"})
		return false
	}
	return true
}

func (h Handlers) connection(c *gin.Context, status int, conn calls.Connection, err error) {
	if err != nil {
		if errors.Is(err, calls.ErrCredentialGeneration) && conn.Call.ID != "" {
			// the transition is committed; the client can retry the credential
			c.AbortWithStatusJSON(http.StatusBadGateway, gin.H{
				"error": err.Error(),
				"code":  calls.Code(err),
				"call":  conn.Call,
			})
			return
		}
		writeError(c, err)
		return
	}
	c.JSON(status, connectionResponse{Call: conn.Call, Credential: conn.Credential, MediaURL: h.MediaURL})
}

// InitiateCall starts a call from the authenticated user to callee_id.
func (h Handlers) InitiateCall(c *gin.Context) {
	if !h.ready(c) {
		return
	}
	uid, ok := currentUser(c)
	if !ok {
		return
	}
	var req initiateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	t, ok := calls.ParseType(req.CallType)
	if !ok {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "call_type must be audio or video", "code": "invalid_argument"})
		return
	}
	conn, err := h.Calls.Initiate(c.Request.Context(), uid, strings.TrimSpace(req.CalleeID), t)
	h.connection(c, http.StatusCreated, conn, err)
}

func (h Handlers) AcceptCall(c *gin.Context) {
	if !h.ready(c) {
		return
	}
	uid, ok := currentUser(c)
	if !ok {
		return
	}
	conn, err := h.Calls.Accept(c.Request.Context(), c.Param("call_id"), uid)
	h.connection(c, http.StatusOK, conn, err)
}

func (h Handlers) RejectCall(c *gin.Context) {
	if !h.ready(c) {
		return
	}
	uid, ok := currentUser(c)
	if !ok {
		return
	}
	var req reasonRequest
	if !bindOptionalJSON(c, &req) {
		return
	}
	call, err := h.Calls.Reject(c.Request.Context(), c.Param("call_id"), uid, req.Reason)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"call": call})
}

func (h Handlers) EndCall(c *gin.Context) {
	if !h.ready(c) {
		return
	}
	uid, ok := currentUser(c)
	if !ok {
		return
	}
	var req reasonRequest
	if !bindOptionalJSON(c, &req) {
		return
	}
	call, err := h.Calls.End(c.Request.Context(), c.Param("call_id"), uid, req.Reason)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"call": call})
}

func (h Handlers) RefreshCredential(c *gin.Context) {
	if !h.ready(c) {
		return
	}
	uid, ok := currentUser(c)
	if !ok {
		return
	}
	cred, err := h.Calls.RefreshCredential(c.Request.Context(), c.Param("call_id"), uid)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"credential": cred, "media_url": h.MediaURL})
}

func (h Handlers) GetCall(c *gin.Context) {
	if !h.ready(c) {
		return
	}
	uid, ok := currentUser(c)
	if !ok {
		return
	}
	call, err := h.Calls.Get(c.Request.Context(), c.Param("call_id"), uid)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"call": call})
}

// CallEvents lists the transition log of a call the user took part in.
func (h Handlers) CallEvents(c *gin.Context) {
	if !h.ready(c) {
		return
	}
	if h.Audit == nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "audit not configured"})
		return
	}
	uid, ok := currentUser(c)
	if !ok {
		return
	}
	call, err := h.Calls.Get(c.Request.Context(), c.Param("call_id"), uid)
	if err != nil {
		writeError(c, err)
		return
	}
	events, err := h.Audit.Timeline(c.Request.Context(), call.ID)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"events": events})
}

func (h Handlers) ActiveCall(c *gin.Context) {
	if !h.ready(c) {
		return
	}
	uid, ok := currentUser(c)
	if !ok {
		return
	}
	call, found, err := h.Calls.Active(c.Request.Context(), uid)
	if err != nil {
		writeError(c, err)
		return
	}
	if !found {
		c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": "no active call", "code": calls.Code(calls.ErrNotFound)})
		return
	}
	c.JSON(http.StatusOK, gin.H{"call": call})
}

func (h Handlers) CallHistory(c *gin.Context) {
	if !h.ready(c) {
		return
	}
	uid, ok := currentUser(c)
	if !ok {
		return
	}
	q := calls.HistoryQuery{}
	if raw := strings.TrimSpace(c.Query("status")); raw != "" {
		st, ok := calls.ParseStatus(raw)
		if !ok {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "unknown status", "code": "invalid_argument"})
			return
		}
		q.Status = st
	}
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "limit must be a non-negative integer", "code": "invalid_argument"})
			return
		}
		q.Limit = n
	}
	list, err := h.Calls.History(c.Request.Context(), uid, q)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"calls": list})
}

// HideCallFromHistory removes a finished call from the caller's own history.
func (h Handlers) HideCallFromHistory(c *gin.Context) {
	if !h.ready(c) {
		return
	}
	uid, ok := currentUser(c)
	if !ok {
		return
	}
	if err := h.Calls.HideFromHistory(c.Request.Context(), c.Param("call_id"), uid); err != nil {
		writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h Handlers) CallStatistics(c *gin.Context) {
	if h.Reporting == nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "reporting not configured"})
		return
	}
	uid, ok := currentUser(c)
	if !ok {
		return
	}
	stats, err := h.Reporting.Statistics(c.Request.Context(), reporting.StatisticsRequest{
		UserID: uid,
		Period: reporting.Period(strings.ToLower(strings.TrimSpace(c.Query("period")))),
	})
	if err != nil {
		if errors.Is(err, reporting.ErrInvalidRequest) {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "period must be day, week, month or year", "code": "invalid_argument"})
			return
		}
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, stats)
}

// TerminateCall force-finalizes a call. Admin only; defaults to failed.
func (h Handlers) TerminateCall(c *gin.Context) {
	if !h.ready(c) {
		return
	}
	var req terminateRequest
	if !bindOptionalJSON(c, &req) {
		return
	}

	to := calls.StatusFailed
	if req.Status != "" {
		st, ok := calls.ParseStatus(req.Status)
		if !ok || !calls.CanTerminateTo(st) {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "status must be failed, ended or missed", "code": "invalid_argument"})
			return
		}
		to = st
	}
	if req.Reason == "" {
		req.Reason = reasonAdminTerminated
	}
	call, err := h.Calls.Terminate(c.Request.Context(), c.Param("call_id"), to, req.Reason)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"call": call})
}
