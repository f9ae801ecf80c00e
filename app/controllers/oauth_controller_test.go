package controllers

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/markbates/goth"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ManuelReschke/LinkFox/app/models"
	"github.com/ManuelReschke/LinkFox/app/repository"
	"github.com/ManuelReschke/LinkFox/internal/pkg/linker"
	"github.com/ManuelReschke/LinkFox/internal/pkg/provider"
	"github.com/ManuelReschke/LinkFox/internal/pkg/session"
)

func newCallbackApp(t *testing.T, user goth.User, authErr error) (*fiber.App, repository.IdentityRepository) {
	t.Helper()
	session.NewMemorySessionStore()
	store := repository.NewMemoryIdentityRepository()
	l := linker.New(store, provider.NewRegistry(provider.Defaults()...), nil)
	oc := NewOAuthController(l, store, func(c *fiber.Ctx) (goth.User, error) {
		return user, authErr
	})

	app := fiber.New()
	app.Get("/auth/:provider/callback", oc.HandleCallback)
	return app, store
}

func githubCallbackUser(id, email string) goth.User {
	return goth.User{
		Provider:    "github",
		UserID:      id,
		Email:       email,
		Name:        "Octo Cat",
		AccessToken: "gh-" + id,
		ExpiresAt:   time.Now().Add(time.Hour),
	}
}

func TestOAuthCallbackCreatesAndSignsIn(t *testing.T) {
	app, store := newCallbackApp(t, githubCallbackUser("42", "octo@example.com"), nil)

	resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/auth/github/callback", nil), -1)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusSeeOther, resp.StatusCode)
	assert.Equal(t, "/account", resp.Header.Get("Location"))
	assert.Equal(t, "/account", resp.Header.Get("HX-Redirect"))
	assert.NotEmpty(t, sessionCookie(t, resp))

	identity, err := store.GetByProviderLink(context.Background(), "github", "42")
	require.NoError(t, err)
	assert.Equal(t, "gh-42", identity.TokenFor("github").AccessToken)
}

func TestOAuthCallbackProviderError(t *testing.T) {
	app, store := newCallbackApp(t, goth.User{}, errors.New("state mismatch"))

	resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/auth/github/callback", nil), -1)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusFound, resp.StatusCode)
	assert.Equal(t, "/", resp.Header.Get("Location"))

	count, err := store.Count(context.Background())
	require.NoError(t, err)
	assert.Zero(t, count)
}

func TestOAuthCallbackEmailConflict(t *testing.T) {
	app, store := newCallbackApp(t, githubCallbackUser("42", "taken@example.com"), nil)
	require.NoError(t, store.Create(context.Background(), models.NewIdentity("taken@example.com")))

	resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/auth/github/callback", nil), -1)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusFound, resp.StatusCode)
	assert.Equal(t, "/", resp.Header.Get("Location"))

	count, err := store.Count(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)
	_, err = store.GetByProviderLink(context.Background(), "github", "42")
	assert.True(t, isNotFound(err))
}

func TestOAuthCallbackLinksToSignedInIdentity(t *testing.T) {
	app, store := newCallbackApp(t, githubCallbackUser("42", "other@example.com"), nil)
	identity := models.NewIdentity("me@example.com")
	require.NoError(t, identity.SetLink("discord", "d-1"))
	require.NoError(t, store.Create(context.Background(), identity))

	cookie := loginCookie(t, app, identity.ID)
	req := httptest.NewRequest(http.MethodGet, "/auth/github/callback", nil)
	req.Header.Set("Cookie", cookie)
	resp, err := app.Test(req, -1)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusFound, resp.StatusCode)
	assert.Equal(t, "/account", resp.Header.Get("Location"))

	owner, err := store.GetByProviderLink(context.Background(), "github", "42")
	require.NoError(t, err)
	assert.Equal(t, identity.ID, owner.ID)
	assert.Len(t, owner.Links, 2)
}

func TestConflictMessage(t *testing.T) {
	assert.Contains(t, conflictMessage("github", errors.New("x")), "cannot be used")
}
