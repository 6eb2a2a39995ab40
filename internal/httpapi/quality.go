package httpapi

import (
	"net/http"

	"chattrix-calls/internal/quality"

	"github.com/gin-gonic/gin"
)

// ReportQuality stores a network quality sample from a participant.
func (h Handlers) ReportQuality(c *gin.Context) {
	if h.Quality == nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "quality not configured"})
		return
	}
	uid, ok := currentUser(c)
	if !ok {
		return
	}
	var req quality.Report
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid json", "code": "invalid_argument"})
		return
	}
	m, err := h.Quality.Report(c.Request.Context(), c.Param("call_id"), uid, req)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"metric": m})
}

func (h Handlers) QualityStats(c *gin.Context) {
	if h.Quality == nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "quality not configured"})
		return
	}
	uid, ok := currentUser(c)
	if !ok {
		return
	}
	st, err := h.Quality.Stats(c.Request.Context(), c.Param("call_id"), uid)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, st)
}
