package web

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
)

func (s *Server) handleGetSources(c *gin.Context) {
	sources, err := s.db.GetAllSources(c.Request.Context())
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"sources": sources})
}

// handlePostSource adds a new local directory or git URL.
func (s *Server) handlePostSource(c *gin.Context) {
	var req struct {
		Path string `json:"path" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "Path cannot be empty", err)
		return
	}

	source, err := s.syncer.AddSource(c.Request.Context(), req.Path)
	if err != nil {
		badRequest(c, "Failed to add source", err)
		return
	}
	c.JSON(http.StatusCreated, source)
}

func (s *Server) handleDeleteSource(c *gin.Context) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		badRequest(c, "Invalid source ID", err)
		return
	}
	if err := s.db.DeleteSource(c.Request.Context(), id); err != nil {
		s.fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// handlePostSync runs a sync in the foreground and reports what it did.
func (s *Server) handlePostSync(c *gin.Context) {
	report, err := s.syncer.RunSync(c.Request.Context())
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"report": report, "errors": report.ErrorMessages()})
}
