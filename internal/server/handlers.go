package server

import (
	"net/http"

	"github.com/labstack/echo/v4"
)

func (s *Server) listTopics(c echo.Context) error {
	topics, err := s.chat.ListTopics(c.Request().Context())
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, topics)
}

func (s *Server) getTopic(c echo.Context) error {
	id, err := topicID(c)
	if err != nil {
		return err
	}
	topic, err := s.chat.GetTopic(c.Request().Context(), id)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, topic)
}

func (s *Server) createTopic(c echo.Context) error {
	var req CreateTopicRequest
	if err := bind(c, &req); err != nil {
		return err
	}
	topic, err := s.chat.CreateTopic(c.Request().Context(), req.Name, req.Owner.User())
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, topic)
}

func (s *Server) deleteTopic(c echo.Context) error {
	id, err := topicID(c)
	if err != nil {
		return err
	}
	var req DeleteTopicRequest
	if err := bind(c, &req); err != nil {
		return err
	}
	if err := s.chat.DeleteTopic(c.Request().Context(), id, req.Requester.User()); err != nil {
		return err
	}
	return c.NoContent(http.StatusNoContent)
}

func (s *Server) listMembers(c echo.Context) error {
	id, err := topicID(c)
	if err != nil {
		return err
	}
	members, err := s.chat.Members(c.Request().Context(), id)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, members)
}

func (s *Server) joinTopic(c echo.Context) error {
	id, err := topicID(c)
	if err != nil {
		return err
	}
	var req MembershipRequest
	if err := bind(c, &req); err != nil {
		return err
	}
	topic, err := s.chat.JoinTopic(c.Request().Context(), id, req.User.User())
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, topic)
}

func (s *Server) leaveTopic(c echo.Context) error {
	id, err := topicID(c)
	if err != nil {
		return err
	}
	var req MembershipRequest
	if err := bind(c, &req); err != nil {
		return err
	}
	if err := s.chat.LeaveTopic(c.Request().Context(), id, req.User.User()); err != nil {
		return err
	}
	return c.NoContent(http.StatusNoContent)
}

func (s *Server) leaveAll(c echo.Context) error {
	var req MembershipRequest
	if err := bind(c, &req); err != nil {
		return err
	}
	if err := s.chat.LeaveAllTopics(c.Request().Context(), req.User.User()); err != nil {
		return err
	}
	return c.NoContent(http.StatusNoContent)
}

func (s *Server) listMessages(c echo.Context) error {
	id, err := topicID(c)
	if err != nil {
		return err
	}
	msgs, err := s.chat.Messages(c.Request().Context(), id)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, msgs)
}

func (s *Server) postMessage(c echo.Context) error {
	id, err := topicID(c)
	if err != nil {
		return err
	}
	var req PostMessageRequest
	if err := bind(c, &req); err != nil {
		return err
	}
	msg, err := s.chat.PostMessage(c.Request().Context(), id, req.Author.User(), req.Body)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, msg)
}
