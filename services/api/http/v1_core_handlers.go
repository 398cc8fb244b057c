package http

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/02loveslollipop/airqo-archive/services/api/db"
)

// handleV1ListDevices returns all devices in the mirror
// GET /api/v1/core/devices
func (s *Server) handleV1ListDevices(c *gin.Context) {
	if !s.requireStore(c) {
		return
	}
	ctx, cancel := context.WithTimeout(c.Request.Context(), 10*time.Second)
	defer cancel()

	devices, err := s.store.ListDevices(ctx)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"data": devices,
		"meta": gin.H{
			"count": len(devices),
		},
	})
}

// handleV1GetDevice returns details for a specific device
// GET /api/v1/core/devices/:name
func (s *Server) handleV1GetDevice(c *gin.Context) {
	if !s.requireStore(c) {
		return
	}
	name := c.Param("name")

	ctx, cancel := context.WithTimeout(c.Request.Context(), 10*time.Second)
	defer cancel()

	device, err := s.store.GetDevice(ctx, name)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	if device == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "device not found"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"data": device,
	})
}

// parseRange reads last_n_days, start and end. start wins over last_n_days.
func parseRange(c *gin.Context) (since, until *time.Time, ok bool) {
	if daysStr := c.Query("last_n_days"); daysStr != "" {
		days, err := strconv.Atoi(daysStr)
		if err != nil || days <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid last_n_days"})
			return nil, nil, false
		}
		t := time.Now().UTC().Add(-time.Duration(days) * 24 * time.Hour)
		since = &t
	}

	if startStr := c.Query("start"); startStr != "" {
		t, err := time.Parse(time.RFC3339, startStr)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid start time format, expected RFC3339"})
			return nil, nil, false
		}
		tt := t.UTC()
		since = &tt
	}

	if endStr := c.Query("end"); endStr != "" {
		t, err := time.Parse(time.RFC3339, endStr)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid end time format, expected RFC3339"})
			return nil, nil, false
		}
		tt := t.UTC()
		until = &tt
	}
	return since, until, true
}

// handleV1DeviceMeasurements returns mirrored rows of one device
// GET /api/v1/core/devices/:name/measurements?last_n=100&last_n_days=7&start=...&end=...
func (s *Server) handleV1DeviceMeasurements(c *gin.Context) {
	if !s.requireStore(c) {
		return
	}
	name := c.Param("name")

	limit := 0
	if limitStr := c.Query("last_n"); limitStr != "" {
		parsed, err := strconv.Atoi(limitStr)
		if err != nil || parsed <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid last_n"})
			return
		}
		limit = parsed
	}

	since, until, ok := parseRange(c)
	if !ok {
		return
	}

	if since == nil && until == nil && limit <= 0 {
		limit = s.cfg.DefaultLimit
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), 15*time.Second)
	defer cancel()

	measurements, err := s.store.FetchMeasurements(ctx, db.MeasurementQuery{
		DeviceName: name,
		Limit:      limit,
		Since:      since,
		Until:      until,
	})
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"data": measurements,
		"meta": gin.H{
			"device_name": name,
			"count":       len(measurements),
		},
	})
}

// handleV1DeviceDaily returns paginated daily PM aggregates of one device
// GET /api/v1/core/devices/:name/daily?page=1&limit=20&start=...&end=...
func (s *Server) handleV1DeviceDaily(c *gin.Context) {
	if !s.requireStore(c) {
		return
	}
	name := c.Param("name")

	page := 1
	if p := c.Query("page"); p != "" {
		if val, err := strconv.Atoi(p); err == nil && val > 0 {
			page = val
		}
	}

	limit := 20
	if l := c.Query("limit"); l != "" {
		if val, err := strconv.Atoi(l); err == nil && val > 0 && val <= 100 {
			limit = val
		}
	}

	offset := (page - 1) * limit

	since, until, ok := parseRange(c)
	if !ok {
		return
	}
	if since == nil && until == nil {
		t := time.Now().UTC().Add(-time.Duration(s.cfg.DefaultDays) * 24 * time.Hour)
		since = &t
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), 15*time.Second)
	defer cancel()

	result, err := s.store.ListDailyAggregates(ctx, name, limit, offset, since, until)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	totalPages := (result.TotalCount + limit - 1) / limit

	c.JSON(http.StatusOK, gin.H{
		"data": result.Days,
		"meta": gin.H{
			"device_name": name,
			"page":        page,
			"limit":       limit,
			"total_count": result.TotalCount,
			"total_pages": totalPages,
		},
	})
}
