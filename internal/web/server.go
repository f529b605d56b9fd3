// Package web exposes reviews, lesson sessions and sources as a JSON API.
package web

import (
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/conorfennell/drill/internal/lesson"
	"github.com/conorfennell/drill/internal/mastery"
	"github.com/conorfennell/drill/internal/review"
	"github.com/conorfennell/drill/internal/storage"
	"github.com/conorfennell/drill/internal/sync"
	"github.com/gin-gonic/gin"
)

// UserHeader carries the learner id on lesson requests.
const UserHeader = "X-User-ID"

// Server holds the dependencies for the HTTP server.
type Server struct {
	db      *storage.DB
	reviews *review.Service
	lessons *lesson.Manager
	syncer  *sync.Syncer
	log     *slog.Logger
	router  *gin.Engine
}

// NewServer creates and configures a new server.
func NewServer(db *storage.DB, reviews *review.Service, lessons *lesson.Manager, syncer *sync.Syncer, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		db:      db,
		reviews: reviews,
		lessons: lessons,
		syncer:  syncer,
		log:     logger,
		router:  gin.New(),
	}
	s.router.Use(gin.Recovery(), s.requestLogger())
	s.routes()
	return s
}

// ServeHTTP implements the http.Handler interface.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// routes sets up the routing for the server.
func (s *Server) routes() {
	s.router.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	users := s.router.Group("/users/:user")
	{
		users.GET("/reviews/due", s.handleDueCards)
		users.GET("/stats", s.handleStats)
		users.POST("/review-sessions", s.handleStartReviewSession)
	}

	s.router.POST("/reviews/:card", s.handleRecordReview)

	reviewSessions := s.router.Group("/review-sessions/:id")
	{
		reviewSessions.GET("", s.handleGetReviewSession)
		reviewSessions.POST("/answer", s.handleReviewSessionAnswer)
		reviewSessions.DELETE("", s.handleEndReviewSession)
	}

	s.router.GET("/lessons", s.handleListLessons)
	s.router.POST("/lessons/:lesson/sessions", s.handleStartLesson)

	sessions := s.router.Group("/sessions/:id")
	{
		sessions.GET("", s.handleGetSession)
		sessions.POST("/submit", s.handleSubmit)
		sessions.POST("/advance", s.handleAdvance)
		sessions.DELETE("", s.handleEndSession)
	}

	s.router.GET("/sources", s.handleGetSources)
	s.router.POST("/sources", s.handlePostSource)
	s.router.DELETE("/sources/:id", s.handleDeleteSource)
	s.router.POST("/sync", s.handlePostSync)
}

func (s *Server) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		s.log.Debug("request",
			"method", c.Request.Method,
			"path", c.FullPath(),
			"status", c.Writer.Status(),
			"duration", time.Since(start),
		)
	}
}

// statusFor maps domain errors onto HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, storage.ErrNotFound),
		errors.Is(err, lesson.ErrSessionNotFound),
		errors.Is(err, review.ErrSessionNotFound):
		return http.StatusNotFound
	case errors.Is(err, mastery.ErrNotPresented),
		errors.Is(err, mastery.ErrAwaitingAdvance),
		errors.Is(err, mastery.ErrComplete),
		errors.Is(err, review.ErrNotCurrent):
		return http.StatusConflict
	}
	return http.StatusInternalServerError
}

func (s *Server) fail(c *gin.Context, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		s.log.Error("Request failed", "method", c.Request.Method, "path", c.FullPath(), "error", err)
		c.JSON(status, gin.H{"error": "Internal Server Error"})
		return
	}
	c.JSON(status, gin.H{"error": err.Error()})
}

func badRequest(c *gin.Context, msg string, err error) {
	body := gin.H{"error": msg}
	if err != nil {
		body["details"] = err.Error()
	}
	c.JSON(http.StatusBadRequest, body)
}
