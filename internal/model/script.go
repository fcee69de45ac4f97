// Package model defines the data structures shared across the application.
// Structs only — no behaviour, no dependencies on other internal packages.
package model

import "time"

// Script is a saved JavaScript program.
//
// The `json:"..."` tags control how the struct is serialized by encoding/json
// when it crosses the API boundary. UserID is empty for scripts saved by
// anonymous sessions.
type Script struct {
	ID          string    `json:"id"`
	UserID      string    `json:"userId,omitempty"`
	Name        string    `json:"name"`
	Code        string    `json:"code"`
	Description string    `json:"description"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
}
