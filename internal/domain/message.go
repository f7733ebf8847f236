package domain

import (
	"time"

	"github.com/google/uuid"
)

// KindMessage is the entry kind for chat messages.
const KindMessage = "message"

// Message is a single chat line posted to a topic.
type Message struct {
	ID      uuid.UUID `json:"id" validate:"required"`
	TopicID uuid.UUID `json:"topic_id" validate:"required"`
	Author  User      `json:"author"`
	Body    string    `json:"body" validate:"notblank,max=4096"`
	SentAt  time.Time `json:"sent_at"`
}

// NewMessage creates a message stamped with the current time.
func NewMessage(topicID uuid.UUID, author User, body string) Message {
	return Message{
		ID:      uuid.New(),
		TopicID: topicID,
		Author:  author.Public(),
		Body:    body,
		SentAt:  time.Now().UTC(),
	}
}

func (m Message) Validate() error {
	return validate("message", m)
}

func (m Message) Kind() string { return KindMessage }

func (m Message) Keys() map[string]string {
	return map[string]string{
		"id":       idKey(m.ID),
		"topic_id": idKey(m.TopicID),
	}
}
