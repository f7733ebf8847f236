package domain

import (
	"github.com/google/uuid"
)

// User represents a chat participant. BaseName is the normalized form of Name
// used for collision-insensitive matching.
type User struct {
	ID       uuid.UUID `json:"id" validate:"required"`
	Name     string    `json:"name"`
	BaseName string    `json:"base_name" validate:"required"`
	Password string    `json:"password,omitempty"`
}

// NewUser creates a user with a fresh id and a derived base name.
func NewUser(name, password string) User {
	return User{
		ID:       uuid.New(),
		Name:     name,
		BaseName: BaseName(name),
		Password: password,
	}
}

// Equal reports whether both users share the same base name AND id.
func (u User) Equal(other User) bool {
	return u.BaseName == other.BaseName && u.ID == other.ID
}

// Public returns a copy of u without its credential, suitable for embedding
// in entries other clients can read.
func (u User) Public() User {
	u.Password = ""
	return u
}

// Identified reports whether u has both an id and a base name. Entries
// keyed on a user without them would match every user.
func (u User) Identified() bool {
	return u.ID != uuid.Nil && u.BaseName != ""
}
