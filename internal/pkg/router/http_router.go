package router

import (
	"github.com/gofiber/fiber/v2"

	"github.com/ManuelReschke/LinkFox/app/controllers"
	"github.com/ManuelReschke/LinkFox/internal/pkg/database"
	"github.com/ManuelReschke/LinkFox/internal/pkg/middleware"
	"github.com/ManuelReschke/LinkFox/internal/pkg/oauth"
	"github.com/ManuelReschke/LinkFox/internal/pkg/services"
	"github.com/ManuelReschke/LinkFox/internal/pkg/session"
)

type HttpRouter struct {
}

func (h HttpRouter) InstallRouter(app *fiber.App) {
	memory := database.UsesMemory()

	// init session
	if memory {
		session.NewMemorySessionStore()
	} else {
		session.NewSessionStore()
	}

	// init oauth providers
	oauth.Setup(services.Get().Registry, memory)

	// Apply UserContext middleware globally as first middleware
	app.Use(middleware.UserContextMiddleware)

	controllers.InitializeControllers()

	h.registerPublicRoutes(app)
	h.registerCSRFProtectedRoutes(app)
}

func NewHttpRouter() *HttpRouter {
	return &HttpRouter{}
}
