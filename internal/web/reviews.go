package web

import (
	"net/http"
	"strconv"
	"time"

	"github.com/conorfennell/drill/internal/domain"
	"github.com/conorfennell/drill/internal/review"
	"github.com/conorfennell/drill/internal/sm2"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// reviewRequest carries either an explicit quality or an outcome to be graded.
// Qualities outside 0-5 are clamped rather than rejected. Latency is capped at a day.
type reviewRequest struct {
	Quality     *int  `json:"quality"`
	Correct     *bool `json:"correct"`
	TimeSpentMS int64 `json:"time_spent_ms" binding:"gte=0,lte=86400000"`
}

func (s *Server) handleDueCards(c *gin.Context) {
	limit := 0
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			badRequest(c, "Invalid limit", err)
			return
		}
		limit = n
	}

	cards, err := s.reviews.DueCards(c.Request.Context(), c.Param("user"), c.Query("subject"), limit)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"cards": cards, "count": len(cards)})
}

func (s *Server) handleRecordReview(c *gin.Context) {
	cardID, err := uuid.Parse(c.Param("card"))
	if err != nil {
		badRequest(c, "Invalid card ID", err)
		return
	}
	var req reviewRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "Invalid request format", err)
		return
	}

	ctx := c.Request.Context()
	switch {
	case req.Quality != nil:
		q := sm2.Quality(*req.Quality).Clamp()
		card, err := s.reviews.Record(ctx, cardID, q)
		if err != nil {
			s.fail(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"card": card, "quality": int(q)})
	case req.Correct != nil:
		card, q, err := s.reviews.Answer(ctx, cardID, *req.Correct, time.Duration(req.TimeSpentMS)*time.Millisecond)
		if err != nil {
			s.fail(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"card": card, "quality": int(q)})
	default:
		badRequest(c, "Either quality or correct is required", nil)
	}
}

func (s *Server) handleStats(c *gin.Context) {
	ctx := c.Request.Context()
	user := c.Param("user")
	stats, err := s.reviews.Stats(ctx, user)
	if err != nil {
		s.fail(c, err)
		return
	}
	xp, err := s.db.TotalXP(ctx, user)
	if err != nil {
		s.fail(c, err)
		return
	}
	completions, err := s.db.CompletionsByUser(ctx, user)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"reviews":           stats,
		"lesson_xp":         xp,
		"lessons_completed": len(completions),
	})
}

func (s *Server) handleStartReviewSession(c *gin.Context) {
	limit, err := strconv.Atoi(c.DefaultQuery("limit", "20"))
	if err != nil || limit < 0 {
		badRequest(c, "Invalid limit", err)
		return
	}
	sess, err := s.reviews.StartSession(c.Request.Context(), c.Param("user"), c.Query("subject"), limit)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{
		"session": s.reviews.Summary(sess),
		"current": currentCard(sess),
	})
}

func (s *Server) reviewSession(c *gin.Context) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		badRequest(c, "Invalid session ID", err)
		return uuid.Nil, false
	}
	return id, true
}

func (s *Server) handleGetReviewSession(c *gin.Context) {
	id, ok := s.reviewSession(c)
	if !ok {
		return
	}
	sess, err := s.reviews.Session(id)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"session": s.reviews.Summary(sess), "current": currentCard(sess)})
}

func (s *Server) handleReviewSessionAnswer(c *gin.Context) {
	id, ok := s.reviewSession(c)
	if !ok {
		return
	}
	var req struct {
		CardID      uuid.UUID `json:"card_id" binding:"required"`
		Correct     bool      `json:"correct"`
		TimeSpentMS int64     `json:"time_spent_ms" binding:"gte=0,lte=86400000"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "Invalid request format", err)
		return
	}
	sess, err := s.reviews.Session(id)
	if err != nil {
		s.fail(c, err)
		return
	}
	card, q, err := s.reviews.AnswerInSession(c.Request.Context(), sess, req.CardID, req.Correct,
		time.Duration(req.TimeSpentMS)*time.Millisecond)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"card":    card,
		"quality": int(q),
		"session": s.reviews.Summary(sess),
		"current": currentCard(sess),
	})
}

func (s *Server) handleEndReviewSession(c *gin.Context) {
	id, ok := s.reviewSession(c)
	if !ok {
		return
	}
	summary, err := s.reviews.EndSession(id)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, summary)
}

// currentCard returns the session's next card, or nil once it is done.
func currentCard(sess *review.Session) *domain.ReviewCard {
	card, ok := sess.Current()
	if !ok {
		return nil
	}
	return &card
}
