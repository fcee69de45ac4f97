package model

import "time"

// User is a registered account.
//
// Two identity paths exist: GitHub OAuth and local email/password. For OAuth
// accounts GitHubID is set and PasswordHash is empty; for local accounts it is
// the other way around. We always generate our own internal string ID (xid)
// rather than keying on GitHub's numbering scheme or the email address.
//
// PasswordHash is never serialized — note the json:"-" tag. Leaking a bcrypt
// hash is not an instant compromise, but there is no reason for it to ever
// leave the server.
type User struct {
	ID           string    `json:"id"`
	GitHubID     int64     `json:"githubId,omitempty"` // GitHub's numeric user ID, 0 for local accounts
	Login        string    `json:"login"`              // Display name / GitHub username
	Email        string    `json:"email"`              // May be empty for OAuth users who hide it
	AvatarURL    string    `json:"avatarUrl,omitempty"`
	PasswordHash string    `json:"-"` // bcrypt hash, empty for OAuth accounts
	CreatedAt    time.Time `json:"createdAt"`
	UpdatedAt    time.Time `json:"updatedAt"`
}
