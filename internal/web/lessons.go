package web

import (
	"net/http"
	"time"

	"github.com/conorfennell/drill/internal/domain"
	"github.com/gin-gonic/gin"
)

type submitRequest struct {
	ItemID      string          `json:"item_id" binding:"required"`
	Response    domain.Response `json:"response"`
	TimeSpentMS int64           `json:"time_spent_ms" binding:"gte=0,lte=86400000"`
}

func (s *Server) handleListLessons(c *gin.Context) {
	lessons, err := s.db.ListLessons(c.Request.Context(), c.Query("subject"))
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"lessons": lessons})
}

func (s *Server) handleStartLesson(c *gin.Context) {
	// Get user ID from header (set by auth middleware)
	userID := c.GetHeader(UserHeader)
	if userID == "" {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "User ID is required"})
		return
	}

	state, err := s.lessons.Start(c.Request.Context(), userID, c.Param("lesson"))
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, state)
}

func (s *Server) handleGetSession(c *gin.Context) {
	state, err := s.lessons.Get(c.Param("id"))
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, state)
}

func (s *Server) handleSubmit(c *gin.Context) {
	var req submitRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "Invalid request format", err)
		return
	}

	feedback, err := s.lessons.Submit(c.Request.Context(), c.Param("id"), req.ItemID, req.Response,
		time.Duration(req.TimeSpentMS)*time.Millisecond)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, feedback)
}

func (s *Server) handleAdvance(c *gin.Context) {
	state, err := s.lessons.Advance(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, state)
}

func (s *Server) handleEndSession(c *gin.Context) {
	if err := s.lessons.End(c.Param("id")); err != nil {
		s.fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}
