package database

import "github.com/google/uuid"

// generateID returns a random RFC 4122 version 4 id for backends that do not assign their own.
func generateID() string {
	return uuid.NewString()
}
