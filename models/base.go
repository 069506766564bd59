package models

import "github.com/google/uuid"

// newID returns a fresh UUID string when id is empty.
func newID(id string) string {
	if id != "" {
		return id
	}
	return uuid.NewString()
}
