package http

// registerV1Routes sets up the v1 API structure
// Groups: /api/v1 (archive files), /api/v1/core, /api/v1/realtime
func (s *Server) registerV1Routes() {
	v1 := s.engine.Group("/api/v1")
	v1.Use(apiVersionMiddleware()) // Add X-API-Version: v1 header

	// Archive files written by the archiver
	v1.GET("/recent", s.handleV1Recent)
	v1.GET("/archive.csv", s.handleV1ArchiveCSV)

	// Core endpoints - devices and mirrored measurements
	core := v1.Group("/core")
	{
		core.GET("/devices", s.handleV1ListDevices)
		core.GET("/devices/:name", s.handleV1GetDevice)
		core.GET("/devices/:name/measurements", s.handleV1DeviceMeasurements)
		core.GET("/devices/:name/daily", s.handleV1DeviceDaily)
	}

	// Realtime endpoints - latest data
	realtime := v1.Group("/realtime")
	{
		realtime.GET("/now", s.handleV1RealtimeNow)
	}
}
