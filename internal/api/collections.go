package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

func (s *Server) handleListCollections(c *gin.Context) {
	names, err := s.store.ListCollections(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if names == nil {
		names = []string{}
	}
	c.JSON(http.StatusOK, names)
}
