package domain

import "time"

// SystemSenderID is the reserved sender for system notices that have no
// acting user. Membership-change notices carry the acting user as sender
// instead, so the unread increment naturally skips the actor.
const SystemSenderID = "system"

// Message is one immutable ledger entry. CreatedAt is assigned by the store
// at commit time and is the sole ordering key; client clocks are never
// trusted for ordering. IsRead is meaningful only in direct conversations.
type Message struct {
	ID             string    `json:"id"`
	ConversationID string    `json:"conversation_id"`
	SenderID       string    `json:"sender_id"`
	Text           string    `json:"text,omitempty"`
	ImageRef       string    `json:"image_ref,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
	IsRead         bool      `json:"is_read"`
	IsSystem       bool      `json:"is_system"`
}
