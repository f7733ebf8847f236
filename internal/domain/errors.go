package domain

import "errors"

// Sentinel errors for the domain layer. These provide consistent, checkable
// errors for common business logic failures.
var (
	// ErrValidation marks a malformed entity (blank or degenerate name, missing id).
	ErrValidation = errors.New("validation failed")

	// ErrDuplicateEntry is returned when a topic's base name or id collides with a live topic.
	ErrDuplicateEntry = errors.New("topic base name or id matches an existing topic")

	// ErrAccessDenied is returned when a non-owner tries to delete a topic.
	ErrAccessDenied = errors.New("requester is not the topic owner")

	// ErrNotFound is returned when no live topic matches the requested id or name.
	ErrNotFound = errors.New("requested resource not found")

	// ErrAlreadyJoined is returned by the facade when a user joins a topic they are already in.
	ErrAlreadyJoined = errors.New("user is already in this topic")
)
