package controllers

import (
	"errors"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"
	"github.com/markbates/goth"
	gothfiber "github.com/shareed2k/goth_fiber"
	"github.com/sujit-baniya/flash"

	"github.com/ManuelReschke/LinkFox/app/models"
	"github.com/ManuelReschke/LinkFox/app/repository"
	"github.com/ManuelReschke/LinkFox/internal/pkg/autherr"
	"github.com/ManuelReschke/LinkFox/internal/pkg/constants"
	"github.com/ManuelReschke/LinkFox/internal/pkg/linker"
	"github.com/ManuelReschke/LinkFox/internal/pkg/session"
)

// CompleteAuthFunc finishes the provider flow for the current request.
type CompleteAuthFunc func(c *fiber.Ctx) (goth.User, error)

// OAuthController turns provider callbacks into sign-ins, links and sign-ups
type OAuthController struct {
	linker       *linker.Linker
	store        repository.IdentityRepository
	completeAuth CompleteAuthFunc
}

func NewOAuthController(l *linker.Linker, store repository.IdentityRepository, complete CompleteAuthFunc) *OAuthController {
	if complete == nil {
		complete = func(c *fiber.Ctx) (goth.User, error) {
			return gothfiber.CompleteUserAuth(c)
		}
	}
	return &OAuthController{linker: l, store: store, completeAuth: complete}
}

// HandleCallback completes the provider flow and reconciles the result with the account store
func (oc *OAuthController) HandleCallback(c *fiber.Ctx) error {
	providerName := c.Params("provider")
	ctx := c.UserContext()

	var res linker.Result
	user, err := oc.completeAuth(c)
	if err != nil {
		res = linker.Failed(err)
		log.Warnf("[OAuth] %s callback failed: %v", providerName, err)
	} else {
		current, err := oc.currentIdentity(c)
		if err != nil {
			res = linker.Failed(err)
		} else {
			res = oc.linker.Reconcile(ctx, providerName, user, current)
		}
	}

	switch res.Outcome {
	case linker.Conflict:
		return flash.WithError(c, fiber.Map{
			"type":    "error",
			"message": conflictMessage(providerName, res.Err),
		}).Redirect(oc.afterConflict(c))
	case linker.Failure:
		return flash.WithError(c, fiber.Map{
			"type":    "error",
			"message": "Sign-in with " + providerName + " failed. Please try again.",
		}).Redirect(constants.StartRoute)
	case linker.Linked:
		return flash.WithSuccess(c, fiber.Map{
			"type":    "success",
			"message": providerName + " is now linked to your account.",
		}).Redirect(constants.AccountRoute)
	}

	if err := session.Login(c, res.Identity.ID, res.Identity.Name); err != nil {
		log.Errorf("[OAuth] Could not store session: %v", err)
		return c.Status(fiber.StatusInternalServerError).SendString("session save failed")
	}

	// Ensure HTMX boosted flows perform a full redirect
	c.Set("HX-Redirect", constants.AccountRoute)
	return c.Redirect(constants.AccountRoute, fiber.StatusSeeOther)
}

// currentIdentity loads the signed-in identity. A session pointing at a
// deleted identity counts as signed out.
func (oc *OAuthController) currentIdentity(c *fiber.Ctx) (*models.Identity, error) {
	id, ok := session.IdentityID(c)
	if !ok {
		return nil, nil
	}
	identity, err := oc.store.GetByID(c.UserContext(), id)
	if err != nil {
		if isNotFound(err) {
			return nil, nil
		}
		return nil, err
	}
	return identity, nil
}

func (oc *OAuthController) afterConflict(c *fiber.Ctx) string {
	if _, ok := session.IdentityID(c); ok {
		return constants.AccountRoute
	}
	return constants.StartRoute
}

func conflictMessage(providerName string, err error) string {
	var conflictErr *autherr.AccountConflictError
	if !errors.As(err, &conflictErr) {
		return "This " + providerName + " account cannot be used here."
	}
	switch conflictErr.Reason {
	case linker.ReasonEmailInUse:
		return "An account with this email address already exists. Sign in and link " + providerName + " from your account page."
	case linker.ReasonOtherLink:
		return "A different " + providerName + " account is already linked. Unlink it first."
	default:
		return "This " + providerName + " account is already linked to another account."
	}
}
