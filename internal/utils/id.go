package utils

import "github.com/google/uuid"

// GenerateID returns a new random identifier for submissions and escalations.
func GenerateID() string {
	return uuid.NewString()
}
