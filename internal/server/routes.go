package server

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/nfrund/topicspace/internal/middleware"
)

// RegisterRoutes sets up all the application routes.
func (s *Server) RegisterRoutes() {
	rateLimiter := middleware.RateLimiter()

	s.E.GET("/topics", s.listTopics)
	s.E.POST("/topics", s.createTopic, rateLimiter)
	s.E.GET("/topics/:id", s.getTopic)
	s.E.DELETE("/topics/:id", s.deleteTopic, rateLimiter)
	s.E.GET("/topics/:id/members", s.listMembers)
	s.E.POST("/topics/:id/join", s.joinTopic, rateLimiter)
	s.E.POST("/topics/:id/leave", s.leaveTopic, rateLimiter)
	s.E.GET("/topics/:id/messages", s.listMessages)
	s.E.POST("/topics/:id/messages", s.postMessage, rateLimiter)
	s.E.POST("/users/leave-all", s.leaveAll, rateLimiter)

	s.E.GET("/events", s.events)

	s.E.GET("/healthz", func(c echo.Context) error {
		return c.String(http.StatusOK, "OK")
	})
}
