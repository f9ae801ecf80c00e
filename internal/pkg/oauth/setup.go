package oauth

import (
	"strings"
	"time"

	"github.com/gofiber/fiber/v2/log"
	"github.com/gofiber/fiber/v2/middleware/session"
	redisstorage "github.com/gofiber/storage/redis"
	"github.com/markbates/goth"
	"github.com/markbates/goth/gothic"
	"github.com/markbates/goth/providers/discord"
	"github.com/markbates/goth/providers/facebook"
	"github.com/markbates/goth/providers/github"
	"github.com/markbates/goth/providers/google"
	"github.com/markbates/goth/providers/linkedin"
	"github.com/markbates/goth/providers/tumblr"
	"github.com/markbates/goth/providers/twitch"
	gothfiber "github.com/shareed2k/goth_fiber"

	"github.com/ManuelReschke/LinkFox/internal/pkg/constants"
	"github.com/ManuelReschke/LinkFox/internal/pkg/env"
	"github.com/ManuelReschke/LinkFox/internal/pkg/provider"
	appsession "github.com/ManuelReschke/LinkFox/internal/pkg/session"
)

type strategyFunc func(cfg provider.Config, callbackURL string) goth.Provider

// strategies lists the registry providers goth ships a strategy for.
var strategies = map[string]strategyFunc{
	"discord": func(cfg provider.Config, cb string) goth.Provider {
		return discord.New(cfg.ClientID, cfg.ClientSecret, cb, scopesOr(cfg, discord.ScopeIdentify, discord.ScopeEmail)...)
	},
	"facebook": func(cfg provider.Config, cb string) goth.Provider {
		return facebook.New(cfg.ClientID, cfg.ClientSecret, cb, cfg.Scopes...)
	},
	"github": func(cfg provider.Config, cb string) goth.Provider {
		return github.New(cfg.ClientID, cfg.ClientSecret, cb, cfg.Scopes...)
	},
	"google": func(cfg provider.Config, cb string) goth.Provider {
		return google.New(cfg.ClientID, cfg.ClientSecret, cb, cfg.Scopes...)
	},
	"linkedin": func(cfg provider.Config, cb string) goth.Provider {
		return linkedin.New(cfg.ClientID, cfg.ClientSecret, cb, cfg.Scopes...)
	},
	"tumblr": func(cfg provider.Config, cb string) goth.Provider {
		return tumblr.New(cfg.ConsumerKey, cfg.ConsumerSecret, cb)
	},
	"twitch": func(cfg provider.Config, cb string) goth.Provider {
		return twitch.New(cfg.ClientID, cfg.ClientSecret, cb, cfg.Scopes...)
	},
}

func scopesOr(cfg provider.Config, def ...string) []string {
	if len(cfg.Scopes) > 0 {
		return cfg.Scopes
	}
	return def
}

// BaseURL is the public origin used for callback URLs.
func BaseURL() string {
	base := strings.TrimRight(env.GetEnv("PUBLIC_DOMAIN", ""), "/")
	if base == "" {
		base = "http://localhost:" + env.GetEnv("APP_PORT", "4000")
	}
	return base
}

// Providers builds goth providers for every enabled registry entry with a
// strategy. Entries without one fall back to Generic when they declare a
// userinfo endpoint.
func Providers(registry *provider.Registry, base string) []goth.Provider {
	var out []goth.Provider
	for _, cfg := range registry.All() {
		newStrategy, ok := strategies[cfg.Name]
		if !ok && genericCapable(cfg) {
			newStrategy, ok = genericStrategy, true
		}
		if !ok {
			continue
		}
		if !cfg.Enabled() {
			log.Debugf("[OAuth] %s has no credentials configured, sign-in disabled", cfg.Name)
			continue
		}
		out = append(out, newStrategy(cfg, base+constants.AuthorizeRoute(cfg.Name)+"/callback"))
	}
	return out
}

// Setup registers goth providers and the goth state store. It is safe to call
// multiple times; providers will just be re-registered.
func Setup(registry *provider.Registry, memory bool) {
	goth.ClearProviders()
	providers := Providers(registry, BaseURL())
	goth.UseProviders(providers...)
	log.Infof("[OAuth] %d sign-in providers enabled", len(providers))

	cfg := session.Config{
		KeyLookup:      "cookie:" + gothic.SessionName,
		CookieHTTPOnly: true,
		CookieSameSite: "Lax",
		CookieSecure:   !env.IsDev(),
		Expiration:     time.Hour,
	}
	if !memory {
		// OAuth state via Redis, using same connection as app sessions (separate DB)
		host, port, password := appsession.RedisAddr()
		cfg.Storage = redisstorage.New(redisstorage.Config{
			Host:     host,
			Port:     port,
			Password: password,
			Database: 2,
			Reset:    false,
		})
	}
	gothfiber.SessionStore = session.New(cfg)
}
