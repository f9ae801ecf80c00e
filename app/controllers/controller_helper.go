package controllers

import (
	"errors"
	"time"

	"github.com/gofiber/fiber/v2"
	"gorm.io/gorm"

	"github.com/ManuelReschke/LinkFox/app/models"
	"github.com/ManuelReschke/LinkFox/app/repository"
	"github.com/ManuelReschke/LinkFox/internal/pkg/usercontext"
)

func isNotFound(err error) bool {
	return errors.Is(err, gorm.ErrRecordNotFound)
}

// loadIdentity fetches the signed-in identity for the request.
func loadIdentity(c *fiber.Ctx, store repository.IdentityRepository) (*models.Identity, error) {
	return store.GetByID(c.UserContext(), usercontext.GetIdentityID(c))
}

// formatTimePtr returns RFC3339 UTC time or nil
func formatTimePtr(t *time.Time) interface{} {
	if t == nil {
		return nil
	}
	return t.UTC().Format(time.RFC3339)
}
