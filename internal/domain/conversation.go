package domain

import (
	"sort"
	"time"
)

// Conversation is a direct (exactly two members, canonical id) or group chat
// room. UnreadCount is sparse: a member missing from the map has zero unread
// messages; read it through UnreadFor.
type Conversation struct {
	ID                 string           `json:"id"`
	IsGroup            bool             `json:"is_group"`
	Members            []string         `json:"members"`
	GroupName          string           `json:"group_name,omitempty"`
	AdminID            string           `json:"admin_id,omitempty"`
	UnreadCount        map[string]int64 `json:"unread_count"`
	LastMessagePreview string           `json:"last_message_preview"`
	LastMessageAt      time.Time        `json:"last_message_at"`
	CreatedAt          time.Time        `json:"created_at"`
}

// UnreadFor returns the member's unread counter, treating an absent key as
// zero.
func (c *Conversation) UnreadFor(userID string) int64 {
	if c.UnreadCount == nil {
		return 0
	}
	return c.UnreadCount[userID]
}

// HasMember reports whether userID is currently a member.
func (c *Conversation) HasMember(userID string) bool {
	for _, m := range c.Members {
		if m == userID {
			return true
		}
	}
	return false
}

// PartnerOf returns the other member of a direct conversation, or "" for
// groups.
func (c *Conversation) PartnerOf(userID string) string {
	if c.IsGroup {
		return ""
	}
	for _, m := range c.Members {
		if m != userID {
			return m
		}
	}
	return ""
}

// DirectConversationID derives the canonical id for a 1:1 pair: both orders
// of the same two users resolve to the same id, which is what prevents
// duplicate direct rooms.
func DirectConversationID(userA, userB string) string {
	pair := []string{userA, userB}
	sort.Strings(pair)
	return pair[0] + "_" + pair[1]
}
