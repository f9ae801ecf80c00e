package session

import (
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/session"
	"github.com/gofiber/storage/redis"

	"github.com/ManuelReschke/LinkFox/internal/pkg/cache"
	"github.com/ManuelReschke/LinkFox/internal/pkg/env"
	"github.com/ManuelReschke/LinkFox/internal/pkg/usercontext"
)

var sessionStore *session.Store

// RedisAddr returns host, port and password of the shared cache connection.
func RedisAddr() (string, int, string) {
	host := "localhost"
	port := 6379
	password := env.GetEnv("CACHE_PASSWORD", "")
	cacheClient := cache.GetClient()
	if cacheClient != nil {
		addr := cacheClient.Options().Addr
		if h, p, err := net.SplitHostPort(addr); err == nil {
			host = h
			if v, err := strconv.Atoi(p); err == nil {
				port = v
			}
		}
		if p := cacheClient.Options().Password; p != "" {
			password = p
		}
	}
	return host, port, password
}

func NewSessionStore() *session.Store {
	host, port, password := RedisAddr()

	// Create Redis storage for sessions using database 1 (cache uses DB 0)
	storage := redis.New(redis.Config{
		Host:     host,
		Port:     port,
		Password: password,
		Database: 1,
		Reset:    false,
	})

	sessionStore = session.New(session.Config{
		Storage:        storage,
		CookieHTTPOnly: true,
		CookieSecure:   !env.IsDev(),
		CookieSameSite: "Lax",
		Expiration:     24 * time.Hour,
		KeyLookup:      "cookie:session_id",
	})

	return sessionStore
}

// NewMemorySessionStore keeps sessions in process memory. Used for
// DB_DRIVER=memory runs and tests.
func NewMemorySessionStore() *session.Store {
	sessionStore = session.New(session.Config{
		CookieHTTPOnly: true,
		Expiration:     24 * time.Hour,
		KeyLookup:      "cookie:session_id",
	})
	return sessionStore
}

func GetSessionStore() *session.Store {
	return sessionStore
}

// Login stores the identity in the user's session.
func Login(c *fiber.Ctx, identityID uint, name string) error {
	if sessionStore == nil {
		return fmt.Errorf("session store not initialized")
	}
	sess, err := sessionStore.Get(c)
	if err != nil {
		return fmt.Errorf("failed to get session: %v", err)
	}
	// new session id on privilege change
	if err := sess.Regenerate(); err != nil {
		return fmt.Errorf("failed to regenerate session: %v", err)
	}
	sess.Set(usercontext.AuthKey, true)
	sess.Set(usercontext.KeyIdentityID, identityID)
	sess.Set(usercontext.KeyName, name)
	return sess.Save()
}

// IdentityID returns the identity stored in the session, if any.
func IdentityID(c *fiber.Ctx) (uint, bool) {
	if sessionStore == nil {
		return 0, false
	}
	sess, err := sessionStore.Get(c)
	if err != nil {
		return 0, false
	}
	id, ok := sess.Get(usercontext.KeyIdentityID).(uint)
	return id, ok && id != 0
}

// Name returns the display name stored at login.
func Name(c *fiber.Ctx) string {
	if sessionStore == nil {
		return ""
	}
	sess, err := sessionStore.Get(c)
	if err != nil {
		return ""
	}
	name, _ := sess.Get(usercontext.KeyName).(string)
	return name
}

// Destroy ends the user's session.
func Destroy(c *fiber.Ctx) error {
	if sessionStore == nil {
		return nil
	}
	sess, err := sessionStore.Get(c)
	if err != nil {
		return err
	}
	return sess.Destroy()
}
