package http

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
)

// handleV1RealtimeNow returns the newest mirrored measurement per device
// GET /api/v1/realtime/now
func (s *Server) handleV1RealtimeNow(c *gin.Context) {
	if !s.requireStore(c) {
		return
	}
	ctx, cancel := context.WithTimeout(c.Request.Context(), 15*time.Second)
	defer cancel()

	latest, err := s.store.LatestPerDevice(ctx)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	if len(latest) == 0 {
		c.JSON(http.StatusNotFound, gin.H{"error": "no measurements available"})
		return
	}

	newest := latest[0].Timestamp
	for _, m := range latest[1:] {
		if m.Timestamp.After(newest) {
			newest = m.Timestamp
		}
	}

	c.JSON(http.StatusOK, gin.H{
		"data": latest,
		"meta": gin.H{
			"timestamp":     newest.UTC().Format(time.RFC3339),
			"devices_count": len(latest),
			"generated_at":  time.Now().UTC().Format(time.RFC3339),
		},
	})
}
