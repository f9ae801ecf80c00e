package controllers

import (
	"errors"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"
	"github.com/sujit-baniya/flash"

	"github.com/ManuelReschke/LinkFox/app/models"
	"github.com/ManuelReschke/LinkFox/app/repository"
	"github.com/ManuelReschke/LinkFox/internal/pkg/accounts"
	"github.com/ManuelReschke/LinkFox/internal/pkg/constants"
	"github.com/ManuelReschke/LinkFox/internal/pkg/provider"
	"github.com/ManuelReschke/LinkFox/internal/pkg/session"
	"github.com/ManuelReschke/LinkFox/internal/pkg/usercontext"
	"github.com/ManuelReschke/LinkFox/internal/pkg/utils"
)

// AccountController serves the signed-in user's account: linked providers,
// unlinking and deletion.
type AccountController struct {
	accounts *accounts.Service
	store    repository.IdentityRepository
	registry *provider.Registry
}

func NewAccountController(svc *accounts.Service, store repository.IdentityRepository, registry *provider.Registry) *AccountController {
	return &AccountController{accounts: svc, store: store, registry: registry}
}

// HandleStart reports which providers can be used to sign in.
func (ac *AccountController) HandleStart(c *fiber.Ctx) error {
	names := []string{}
	for _, cfg := range ac.registry.All() {
		if cfg.Enabled() {
			names = append(names, cfg.Name)
		}
	}
	return c.JSON(fiber.Map{
		"logged_in": usercontext.IsLoggedIn(c),
		"sign_in":   names,
		"flash":     flash.Get(c),
	})
}

// HandleShow returns the identity with its links and token metadata. Token
// values are never included.
func (ac *AccountController) HandleShow(c *fiber.Ctx) error {
	identity, err := loadIdentity(c, ac.store)
	if err != nil {
		if isNotFound(err) {
			_ = session.Destroy(c)
			return c.Redirect(constants.StartRoute, fiber.StatusSeeOther)
		}
		log.Errorf("[Account] Could not load identity: %v", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal_server_error"})
	}

	links := make([]fiber.Map, 0, len(identity.Links))
	for _, l := range identity.Links {
		links = append(links, fiber.Map{
			"provider":    l.Provider,
			"external_id": l.ExternalID,
			"linked_at":   formatTimePtr(&l.CreatedAt),
		})
	}
	tokens := make([]fiber.Map, 0, len(identity.Tokens))
	for _, t := range identity.Tokens {
		tokens = append(tokens, fiber.Map{
			"kind":                  t.Kind,
			"access_token_expires":  formatTimePtr(t.AccessTokenExpires),
			"has_refresh_token":     t.RefreshToken != "",
			"refresh_token_expires": formatTimePtr(t.RefreshTokenExpires),
		})
	}

	return c.JSON(fiber.Map{
		"identity": fiber.Map{
			"uuid":              identity.UUID,
			"email":             identity.Email,
			"placeholder_email": identity.HasPlaceholderEmail(),
			"name":              identity.Name,
			"avatar_url":        utils.AvatarURL(identity, 200),
			"location":          identity.Location,
			"website":           identity.Website,
			"bio":               identity.Bio,
			"has_password":      identity.Password != "",
		},
		"links":  links,
		"tokens": tokens,
		"flash":  flash.Get(c),
	})
}

// HandleUnlink revokes and removes one provider link
func (ac *AccountController) HandleUnlink(c *fiber.Ctx) error {
	providerName := c.Params("provider")
	fm := fiber.Map{"type": "error"}

	err := ac.accounts.Unlink(c.UserContext(), usercontext.GetIdentityID(c), providerName)
	switch {
	case err == nil:
		fm["type"] = "success"
		fm["message"] = providerName + " was unlinked and its access revoked."
		return flash.WithSuccess(c, fm).Redirect(constants.AccountRoute)
	case errors.Is(err, accounts.ErrLastSignInMethod):
		fm["message"] = "You cannot unlink " + providerName + ": it is your only way to sign in."
	case errors.Is(err, models.ErrLinkNotFound):
		fm["message"] = providerName + " is not linked to your account."
	default:
		log.Errorf("[Account] Unlink %s failed: %v", providerName, err)
		fm["message"] = "Unlinking " + providerName + " failed. Please try again."
	}
	return flash.WithError(c, fm).Redirect(constants.AccountRoute)
}

// HandleDelete revokes every token, deletes the identity and ends the session
func (ac *AccountController) HandleDelete(c *fiber.Ctx) error {
	if err := ac.accounts.Delete(c.UserContext(), usercontext.GetIdentityID(c)); err != nil && !isNotFound(err) {
		log.Errorf("[Account] Delete failed: %v", err)
		return flash.WithError(c, fiber.Map{
			"type":    "error",
			"message": "Your account could not be deleted. Please try again.",
		}).Redirect(constants.AccountRoute)
	}
	if err := session.Destroy(c); err != nil {
		log.Warnf("[Account] Could not destroy session: %v", err)
	}
	return flash.WithSuccess(c, fiber.Map{
		"type":    "success",
		"message": "Your account was deleted.",
	}).Redirect(constants.StartRoute)
}

// HandleLogout ends the session without touching provider tokens
func (ac *AccountController) HandleLogout(c *fiber.Ctx) error {
	if err := session.Destroy(c); err != nil {
		log.Warnf("[Account] Could not destroy session: %v", err)
	}
	c.Set("HX-Redirect", constants.StartRoute)
	return c.Redirect(constants.StartRoute, fiber.StatusSeeOther)
}
