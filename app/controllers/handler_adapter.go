package controllers

import (
	"github.com/gofiber/fiber/v2"

	"github.com/ManuelReschke/LinkFox/internal/pkg/services"
)

// Global controller instances
var (
	oauthController       *OAuthController
	accountController     *AccountController
	apiProviderController *APIProviderController
)

// InitializeControllers builds the controllers from the process-wide services
func InitializeControllers() {
	s := services.Get()
	oauthController = NewOAuthController(s.Linker, s.Repos.Identity, nil)
	accountController = NewAccountController(s.Accounts, s.Repos.Identity, s.Registry)
	apiProviderController = NewAPIProviderController(s.Registry, s.Gate, s.Repos.Identity)
}

func GetOAuthController() *OAuthController {
	if oauthController == nil {
		InitializeControllers()
	}
	return oauthController
}

func GetAccountController() *AccountController {
	if accountController == nil {
		InitializeControllers()
	}
	return accountController
}

func GetAPIProviderController() *APIProviderController {
	if apiProviderController == nil {
		InitializeControllers()
	}
	return apiProviderController
}

// Adapter functions used by the router

func HandleOAuthCallback(c *fiber.Ctx) error {
	return GetOAuthController().HandleCallback(c)
}

func HandleStart(c *fiber.Ctx) error {
	return GetAccountController().HandleStart(c)
}

func HandleAccount(c *fiber.Ctx) error {
	return GetAccountController().HandleShow(c)
}

func HandleAccountUnlink(c *fiber.Ctx) error {
	return GetAccountController().HandleUnlink(c)
}

func HandleAccountDelete(c *fiber.Ctx) error {
	return GetAccountController().HandleDelete(c)
}

func HandleLogout(c *fiber.Ctx) error {
	return GetAccountController().HandleLogout(c)
}

func HandleAPIProviders(c *fiber.Ctx) error {
	return GetAPIProviderController().HandleProviders(c)
}

func HandleAPIProviderToken(c *fiber.Ctx) error {
	return GetAPIProviderController().HandleToken(c)
}
