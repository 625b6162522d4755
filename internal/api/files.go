package api

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/RemilRLs/KnowHub/internal/objstore"
)

// Download URL lifetime bounds in seconds.
const (
	downloadTTLDefault = 600
	downloadTTLMin     = 60
	downloadTTLMax     = 3600
)

// handleDownloadURL signs a download link for an indexed document. Only
// the trusted processed/ prefix is served; quarantined uploads are not.
func (s *Server) handleDownloadURL(c *gin.Context) {
	key := c.Query("key")
	if key == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "key is required"})
		return
	}
	if !objstore.IsProcessedKey(key) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid key prefix"})
		return
	}

	expiresIn := intQuery(c, "expires_in", downloadTTLDefault)
	if expiresIn < downloadTTLMin || expiresIn > downloadTTLMax {
		c.JSON(http.StatusBadRequest, gin.H{"error": "expires_in out of range"})
		return
	}

	exists, err := s.bucket.ObjectExists(c.Request.Context(), key)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if !exists {
		c.JSON(http.StatusNotFound, gin.H{"error": "file not found"})
		return
	}

	url, err := s.bucket.PresignedGetURL(c.Request.Context(), key,
		time.Duration(expiresIn)*time.Second)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"key": key, "url": url, "expires_in": expiresIn})
}
