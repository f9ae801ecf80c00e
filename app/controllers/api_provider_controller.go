package controllers

import (
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"

	"github.com/ManuelReschke/LinkFox/app/repository"
	"github.com/ManuelReschke/LinkFox/internal/pkg/constants"
	"github.com/ManuelReschke/LinkFox/internal/pkg/provider"
	"github.com/ManuelReschke/LinkFox/internal/pkg/refresh"
)

// APIProviderController exposes the registry and token freshness as JSON
type APIProviderController struct {
	registry *provider.Registry
	gate     *refresh.Gate
	store    repository.IdentityRepository
}

func NewAPIProviderController(registry *provider.Registry, gate *refresh.Gate, store repository.IdentityRepository) *APIProviderController {
	return &APIProviderController{registry: registry, gate: gate, store: store}
}

// HandleProviders lists provider names and auth methods without credentials
func (ac *APIProviderController) HandleProviders(c *fiber.Ctx) error {
	list := make([]fiber.Map, 0)
	for _, cfg := range ac.registry.All() {
		list = append(list, fiber.Map{
			"name":        cfg.Name,
			"auth_method": cfg.AuthMethod,
			"enabled":     cfg.Enabled(),
			"revocable":   cfg.RevokeURL != "",
			"refreshable": cfg.TokenURL != "" && !cfg.AuthMethod.IsOAuth1(),
		})
	}
	return c.JSON(fiber.Map{"providers": list})
}

// HandleToken returns a usable access token for the provider or asks the
// client to send the user through authorization again
func (ac *APIProviderController) HandleToken(c *fiber.Ctx) error {
	name := c.Params("provider")
	if _, ok := ac.registry.Get(name); !ok {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error":   "not_found",
			"message": "unknown provider",
		})
	}

	identity, err := loadIdentity(c, ac.store)
	if err != nil {
		if isNotFound(err) {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"error":   "unauthorized",
				"message": "login required",
			})
		}
		log.Errorf("[API] Could not load identity: %v", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal_server_error"})
	}

	res := ac.gate.EnsureFresh(c.UserContext(), identity, name)
	if res.Status != refresh.Ready {
		return c.Status(fiber.StatusConflict).JSON(fiber.Map{
			"status":        res.Status.String(),
			"provider":      name,
			"authorize_url": constants.AuthorizeRoute(name),
		})
	}
	return c.JSON(fiber.Map{
		"status":       res.Status.String(),
		"provider":     name,
		"access_token": res.Token.AccessToken,
		"expires_at":   formatTimePtr(res.Token.AccessTokenExpires),
		"refreshed":    res.Attempt != nil,
	})
}
