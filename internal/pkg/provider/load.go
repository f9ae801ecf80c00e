package provider

import (
	"fmt"
	"os"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2/log"
	"gopkg.in/yaml.v3"
)

// GetEnvFunc reads a configuration value with a default, like env.GetEnv.
type GetEnvFunc func(key, def string) string

type fileConfig struct {
	Providers []Config `yaml:"providers"`
}

// Load builds the registry from the built-in table, then applies per-provider
// environment variables, then merges the optional YAML file at path. Fields set
// in the file win over the environment; providers only present in the file are
// added.
func Load(getenv GetEnvFunc, path string) (*Registry, error) {
	byName := make(map[string]Config)
	var order []string
	for _, c := range Defaults() {
		byName[c.Name] = applyEnv(c, getenv)
		order = append(order, c.Name)
	}

	if strings.TrimSpace(path) != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read providers file: %w", err)
		}
		var fc fileConfig
		if err := yaml.Unmarshal(raw, &fc); err != nil {
			return nil, fmt.Errorf("parse providers file %s: %w", path, err)
		}
		for _, c := range fc.Providers {
			c.Name = strings.ToLower(strings.TrimSpace(c.Name))
			base, exists := byName[c.Name]
			if !exists {
				base = applyEnv(Config{Name: c.Name}, getenv)
				order = append(order, c.Name)
			}
			byName[c.Name] = merge(base, c)
		}
	}

	v := validator.New()
	list := make([]Config, 0, len(order))
	for _, name := range order {
		c := byName[name].expand()
		if err := v.Struct(c); err != nil {
			return nil, fmt.Errorf("provider %s: %w", name, err)
		}
		if !c.AuthMethod.Known() {
			log.Warnf("[Provider] %s uses unknown auth method %q; its tokens cannot be revoked", name, c.AuthMethod)
		}
		list = append(list, c)
	}
	return NewRegistry(list...), nil
}

func applyEnv(c Config, getenv GetEnvFunc) Config {
	prefix := strings.ToUpper(c.Name) + "_"
	set := func(dst *string, key string) {
		if v := strings.TrimSpace(getenv(prefix+key, "")); v != "" {
			*dst = v
		}
	}
	set(&c.ClientID, "CLIENT_ID")
	set(&c.ClientSecret, "CLIENT_SECRET")
	set(&c.RevokeURL, "REVOKE_URL")
	set(&c.TokenURL, "TOKEN_URL")
	set(&c.UserInfoURL, "USERINFO_URL")
	set(&c.ConsumerKey, "CONSUMER_KEY")
	set(&c.ConsumerSecret, "CONSUMER_SECRET")
	return c
}

func merge(base, override Config) Config {
	pick := func(dst *string, v string) {
		if v != "" {
			*dst = v
		}
	}
	pick(&base.AuthorizationURL, override.AuthorizationURL)
	pick(&base.TokenURL, override.TokenURL)
	pick(&base.RevokeURL, override.RevokeURL)
	pick(&base.RequestTokenURL, override.RequestTokenURL)
	pick(&base.ClientID, override.ClientID)
	pick(&base.ClientSecret, override.ClientSecret)
	pick(&base.ConsumerKey, override.ConsumerKey)
	pick(&base.ConsumerSecret, override.ConsumerSecret)
	pick(&base.UserInfoURL, override.UserInfoURL)
	pick(&base.UserIDField, override.UserIDField)
	if override.AuthMethod != "" {
		base.AuthMethod = override.AuthMethod
	}
	if len(override.Scopes) > 0 {
		base.Scopes = override.Scopes
	}
	return base
}
