package http

import (
	"errors"
	"io/fs"
	"net/http"
	"os"

	"github.com/gin-gonic/gin"
)

// handleV1Recent serves the latest snapshot, or the fetch diagnostic that
// replaced it.
// GET /api/v1/recent
func (s *Server) handleV1Recent(c *gin.Context) {
	s.serveFile(c, s.cfg.RecentPath, "application/json; charset=utf-8", "recent snapshot not found")
}

// handleV1ArchiveCSV serves the archive as written.
// GET /api/v1/archive.csv
func (s *Server) handleV1ArchiveCSV(c *gin.Context) {
	s.serveFile(c, s.cfg.ArchivePath, "text/csv; charset=utf-8", "archive not found")
}

func (s *Server) serveFile(c *gin.Context, path, contentType, missing string) {
	info, err := os.Stat(path)
	if errors.Is(err, fs.ErrNotExist) || (err == nil && info.IsDir()) {
		c.JSON(http.StatusNotFound, gin.H{"error": missing})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.Header("Content-Type", contentType)
	c.File(path)
}
