package domain

import (
	"github.com/google/uuid"
)

// KindTopic is the entry kind under which topics live in the space.
const KindTopic = "topic"

// Topic describes a chat room. The id is assigned once at creation and never
// reassigned; BaseName is unique across live topics.
type Topic struct {
	ID       uuid.UUID `json:"id" validate:"required"`
	Name     string    `json:"name" validate:"notblank"`
	BaseName string    `json:"base_name" validate:"required"`
	Owner    User      `json:"owner"`
	Users    int       `json:"users" validate:"gte=1"`
}

// NewTopic creates a topic owned by owner with a fresh id.
func NewTopic(name string, owner User) Topic {
	return Topic{
		ID:       uuid.New(),
		Name:     name,
		BaseName: BaseName(name),
		Owner:    owner.Public(),
		Users:    1,
	}
}

// Validate rejects topics with a blank name, a degenerate base name
// (no alphanumerics), a missing id or owner, or a user count below one.
func (t Topic) Validate() error {
	return validate("topic", t)
}

// OwnedBy reports whether u is the topic owner.
func (t Topic) OwnedBy(u User) bool {
	return t.Owner.Equal(u)
}

func (t Topic) Kind() string { return KindTopic }

func (t Topic) Keys() map[string]string {
	return map[string]string{
		"id":        idKey(t.ID),
		"base_name": t.BaseName,
	}
}

// TopicByID is a template matching the topic with the given id.
func TopicByID(id uuid.UUID) Topic {
	return Topic{ID: id}
}

// TopicByName is a template matching the topic whose base name equals the
// normalized form of name.
func TopicByName(name string) Topic {
	return Topic{BaseName: BaseName(name)}
}

func idKey(id uuid.UUID) string {
	if id == uuid.Nil {
		return ""
	}
	return id.String()
}
