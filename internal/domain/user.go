package domain

import "time"

// User is an account profile. Users are never deleted; other documents
// soft-reference them by id.
type User struct {
	ID           string    `json:"id"`
	Email        string    `json:"email"`
	DisplayName  string    `json:"display_name"`
	AvatarRef    *string   `json:"avatar_ref,omitempty"`
	PasswordHash string    `json:"-"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// Label is the name shown in conversation titles and system notices:
// the display name when set, the email otherwise.
func (u *User) Label() string {
	if u.DisplayName != "" {
		return u.DisplayName
	}
	return u.Email
}
