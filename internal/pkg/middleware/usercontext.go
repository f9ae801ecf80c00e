package middleware

import (
	"strings"

	"github.com/gofiber/fiber/v2"

	"github.com/ManuelReschke/LinkFox/internal/pkg/constants"
	"github.com/ManuelReschke/LinkFox/internal/pkg/session"
	"github.com/ManuelReschke/LinkFox/internal/pkg/usercontext"
)

// UserContextMiddleware resolves the signed-in identity from the session for every request
func UserContextMiddleware(c *fiber.Ctx) error {
	// Goth keeps its own fiber session on /auth/*; the callback reads ours itself.
	if strings.HasPrefix(c.Path(), constants.AuthRoutePrefix) {
		return c.Next()
	}

	id, ok := session.IdentityID(c)
	if !ok {
		usercontext.Set(c, usercontext.UserContext{IsLoggedIn: false})
		return c.Next()
	}

	usercontext.Set(c, usercontext.UserContext{
		IdentityID: id,
		Name:       session.Name(c),
		IsLoggedIn: true,
	})
	return c.Next()
}
