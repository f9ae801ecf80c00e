package usercontext

import "github.com/gofiber/fiber/v2"

// UserContext represents the signed-in identity for a request
type UserContext struct {
	IdentityID uint   `json:"identity_id"`
	Name       string `json:"name"`
	IsLoggedIn bool   `json:"is_logged_in"`
}

// GetUserContext retrieves the user context from fiber context
// Returns a default anonymous context if none is set
func GetUserContext(c *fiber.Ctx) UserContext {
	if ctx, ok := c.Locals(KeyContext).(UserContext); ok {
		return ctx
	}
	return UserContext{IsLoggedIn: false}
}

// Set stores the user context for the rest of the request.
func Set(c *fiber.Ctx, ctx UserContext) {
	c.Locals(KeyContext, ctx)
}

// IsLoggedIn checks if the current user is logged in
func IsLoggedIn(c *fiber.Ctx) bool {
	return GetUserContext(c).IsLoggedIn
}

// GetIdentityID returns the current identity's ID, or 0 if not logged in
func GetIdentityID(c *fiber.Ctx) uint {
	return GetUserContext(c).IdentityID
}
