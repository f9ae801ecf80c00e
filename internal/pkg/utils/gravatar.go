package utils

import (
	"crypto/sha256"
	"fmt"
	"strings"

	"github.com/ManuelReschke/LinkFox/app/models"
)

// AvatarURL returns the identity's provider avatar or, when there is none,
// a Gravatar URL for its email. Placeholder emails get no avatar.
// Default size is 200px if not specified
func AvatarURL(identity *models.Identity, size int) string {
	if identity.AvatarURL != "" {
		return identity.AvatarURL
	}
	if identity.Email == "" || identity.HasPlaceholderEmail() {
		return ""
	}
	if size <= 0 {
		size = 200
	}

	email := strings.ToLower(strings.TrimSpace(identity.Email))
	hash := sha256.Sum256([]byte(email))

	return fmt.Sprintf("https://www.gravatar.com/avatar/%x?s=%d&d=mp", hash, size)
}
