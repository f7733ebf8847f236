package server

import (
	"fmt"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/nfrund/topicspace/internal/domain"
)

// CustomValidator wraps the go-playground/validator library to implement Echo's Validator interface.
type CustomValidator struct {
	validator *validator.Validate
}

// NewValidator creates a new CustomValidator.
func NewValidator() *CustomValidator {
	return &CustomValidator{validator: validator.New()}
}

// Validate implements the echo.Validator interface.
func (cv *CustomValidator) Validate(i any) error {
	return cv.validator.Struct(i)
}

// UserRequest identifies the acting user. Clients keep their own id; the
// base name is always derived on this side.
type UserRequest struct {
	ID   string `json:"id" validate:"required,uuid"`
	Name string `json:"name" validate:"required,max=64"`
}

// User converts the request into a domain user. It must only be called on a
// validated request.
func (r UserRequest) User() domain.User {
	id, _ := uuid.Parse(r.ID)
	return domain.User{ID: id, Name: r.Name, BaseName: domain.BaseName(r.Name)}
}

// CreateTopicRequest is the body of POST /topics.
type CreateTopicRequest struct {
	Name  string      `json:"name" validate:"required,max=128"`
	Owner UserRequest `json:"owner"`
}

// DeleteTopicRequest is the body of DELETE /topics/:id.
type DeleteTopicRequest struct {
	Requester UserRequest `json:"requester"`
}

// MembershipRequest is the body of the join, leave and leave-all endpoints.
type MembershipRequest struct {
	User UserRequest `json:"user"`
}

// PostMessageRequest is the body of POST /topics/:id/messages.
type PostMessageRequest struct {
	Author UserRequest `json:"author"`
	Body   string      `json:"body" validate:"required,max=4096"`
}

// bind decodes and validates the request body into req.
func bind(c echo.Context, req any) error {
	if err := c.Bind(req); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrValidation, err)
	}
	return c.Validate(req)
}

// topicID parses the :id path parameter.
func topicID(c echo.Context) (uuid.UUID, error) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return uuid.Nil, fmt.Errorf("%w: invalid topic id %q", domain.ErrValidation, c.Param("id"))
	}
	return id, nil
}
