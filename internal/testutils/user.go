package testutils

import "github.com/nfrund/topicspace/internal/domain"

// NewTestUser returns a user with a fresh id and a throwaway password.
func NewTestUser(name string) domain.User {
	return domain.NewUser(name, "secret")
}
