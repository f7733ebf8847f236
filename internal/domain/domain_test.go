package domain

import (
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
)

func TestBaseName(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"Dev Chat", "DEVCHAT"},
		{"dev-chat!!", "DEVCHAT"},
		{"  go_lang 1.25 ", "GOLANG125"},
		{"Café Olé", "CAFEOLE"},
		{"!!!", ""},
		{"", ""},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, BaseName(tt.in))
		})
	}
}

func TestUser_Equal(t *testing.T) {
	alice := NewUser("Alice", "secret")

	same := alice
	same.Name = "alice!"
	assert.True(t, alice.Equal(same), "display name is not part of identity")

	otherID := alice
	otherID.ID = uuid.New()
	assert.False(t, alice.Equal(otherID))

	otherBase := alice
	otherBase.BaseName = "ALICIA"
	assert.False(t, alice.Equal(otherBase), "equality needs both base name and id")
}

func TestUser_Identified(t *testing.T) {
	assert.True(t, NewUser("Alice", "").Identified())
	assert.False(t, User{}.Identified())
	assert.False(t, User{ID: uuid.New(), Name: "!!!"}.Identified(), "base name is part of identity")
	assert.False(t, User{Name: "Alice", BaseName: "ALICE"}.Identified())
}

func TestNewTopic(t *testing.T) {
	alice := NewUser("Alice", "secret")
	topic := NewTopic("Dev Chat", alice)

	assert.NotEqual(t, uuid.Nil, topic.ID)
	assert.Equal(t, "DEVCHAT", topic.BaseName)
	assert.Equal(t, 1, topic.Users)
	assert.Empty(t, topic.Owner.Password, "owner credential must not travel with the topic")
	assert.True(t, topic.OwnedBy(alice))
	assert.NoError(t, topic.Validate())
}

func TestTopic_Validate(t *testing.T) {
	alice := NewUser("Alice", "secret")

	tests := []struct {
		name   string
		mutate func(*Topic)
	}{
		{"blank name", func(tp *Topic) { tp.Name = "   "; tp.BaseName = "" }},
		{"degenerate name", func(tp *Topic) { tp.Name = "!!!"; tp.BaseName = BaseName("!!!") }},
		{"missing id", func(tp *Topic) { tp.ID = uuid.Nil }},
		{"missing owner", func(tp *Topic) { tp.Owner = User{} }},
		{"no users", func(tp *Topic) { tp.Users = 0 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			topic := NewTopic("Dev Chat", alice)
			tt.mutate(&topic)
			err := topic.Validate()
			assert.True(t, errors.Is(err, ErrValidation), "got %v", err)
		})
	}
}

func TestKeys(t *testing.T) {
	alice := NewUser("Alice", "secret")
	topic := NewTopic("Dev Chat", alice)

	assert.Equal(t, map[string]string{"id": topic.ID.String(), "base_name": "DEVCHAT"}, topic.Keys())
	assert.Equal(t, map[string]string{"id": "", "base_name": "DEVCHAT"}, TopicByName("dev chat").Keys())
	assert.Equal(t, "", Topic{}.Keys()["id"], "zero id is a wildcard")

	byUser := Membership{User: alice}.Keys()
	assert.Equal(t, "", byUser["topic_id"])
	assert.Equal(t, alice.ID.String(), byUser["user_id"])
	assert.Equal(t, "ALICE", byUser["user_base"])
}

func TestMessage_Validate(t *testing.T) {
	alice := NewUser("Alice", "secret")
	msg := NewMessage(uuid.New(), alice, "hello")
	assert.NoError(t, msg.Validate())

	msg.Body = " "
	assert.ErrorIs(t, msg.Validate(), ErrValidation)
}
