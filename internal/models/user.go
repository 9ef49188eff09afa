package models

import "time"

// User is an account as seen by the client: either the authenticated
// identity or a conversation peer. Immutable once fetched; refreshed
// by refetching the friends list.
type User struct {
	ID         string    `json:"id"`
	FullName   string    `json:"fullName"`
	Email      string    `json:"email,omitempty"`
	ProfilePic string    `json:"profilePic,omitempty"`
	CreatedAt  time.Time `json:"createdAt,omitempty"`
}
