package domain

import (
	"github.com/google/uuid"
)

// Entry kinds for presence.
const (
	KindMembership        = "membership"
	KindMembershipRemoved = "membership_removed"
)

// Membership records that User is currently in the topic TopicID.
type Membership struct {
	TopicID uuid.UUID `json:"topic_id"`
	User    User      `json:"user"`
}

func (m Membership) Kind() string { return KindMembership }

func (m Membership) Keys() map[string]string {
	return userKeys(m.TopicID, m.User)
}

// MembershipRemoved is the short-lived breadcrumb written when a user leaves
// a topic, so open room views can drop that specific user.
type MembershipRemoved struct {
	TopicID uuid.UUID `json:"topic_id"`
	User    User      `json:"user"`
}

func (m MembershipRemoved) Kind() string { return KindMembershipRemoved }

func (m MembershipRemoved) Keys() map[string]string {
	return userKeys(m.TopicID, m.User)
}

func userKeys(topicID uuid.UUID, u User) map[string]string {
	return map[string]string{
		"topic_id":  idKey(topicID),
		"user_id":   idKey(u.ID),
		"user_base": u.BaseName,
	}
}
