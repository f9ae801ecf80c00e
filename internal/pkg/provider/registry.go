package provider

import (
	"sort"
	"strings"
)

// ClientIDPlaceholder in any URL is replaced with the provider's client id at load time.
const ClientIDPlaceholder = "{client_id}"

// Config is the static description of one provider. It is never mutated after
// the registry is built.
type Config struct {
	Name             string     `yaml:"name" validate:"required,lowercase"`
	AuthorizationURL string     `yaml:"authorization_url" validate:"omitempty,url"`
	TokenURL         string     `yaml:"token_url" validate:"omitempty,url"`
	RevokeURL        string     `yaml:"revoke_url" validate:"omitempty,url"`
	RequestTokenURL  string     `yaml:"request_token_url" validate:"omitempty,url"`
	ClientID         string     `yaml:"client_id"`
	ClientSecret     string     `yaml:"client_secret"`
	AuthMethod       AuthMethod `yaml:"auth_method" validate:"required"`
	Scopes           []string   `yaml:"scopes"`
	ConsumerKey      string     `yaml:"consumer_key"`
	ConsumerSecret   string     `yaml:"consumer_secret"`
	// UserInfoURL and UserIDField describe the profile endpoint used to sign
	// in with providers that have no dedicated strategy. UserIDField is a
	// dotted path into the JSON response.
	UserInfoURL string `yaml:"userinfo_url" validate:"omitempty,url"`
	UserIDField string `yaml:"user_id_field"`
}

// Enabled reports whether credentials are configured for the provider.
func (c Config) Enabled() bool {
	if c.AuthMethod.IsOAuth1() {
		return c.ConsumerKey != "" && c.ConsumerSecret != ""
	}
	return c.ClientID != "" && c.ClientSecret != ""
}

func (c Config) expand() Config {
	if c.ClientID == "" {
		return c
	}
	c.AuthorizationURL = strings.ReplaceAll(c.AuthorizationURL, ClientIDPlaceholder, c.ClientID)
	c.TokenURL = strings.ReplaceAll(c.TokenURL, ClientIDPlaceholder, c.ClientID)
	c.RevokeURL = strings.ReplaceAll(c.RevokeURL, ClientIDPlaceholder, c.ClientID)
	return c
}

// Registry holds provider configs keyed by name.
type Registry struct {
	providers map[string]Config
}

// NewRegistry registers the given configs. A later config with the same name
// replaces an earlier one.
func NewRegistry(list ...Config) *Registry {
	m := make(map[string]Config, len(list))
	for _, c := range list {
		c.Scopes = append([]string(nil), c.Scopes...)
		m[c.Name] = c.expand()
	}
	return &Registry{providers: m}
}

// Get returns the config registered under name.
func (r *Registry) Get(name string) (Config, bool) {
	if r == nil {
		return Config{}, false
	}
	c, ok := r.providers[name]
	if ok {
		c.Scopes = append([]string(nil), c.Scopes...)
	}
	return c, ok
}

// Names returns the registered provider names sorted alphabetically.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.providers))
	for name := range r.providers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// All returns every config sorted by name.
func (r *Registry) All() []Config {
	out := make([]Config, 0, len(r.providers))
	for _, name := range r.Names() {
		c, _ := r.Get(name)
		out = append(out, c)
	}
	return out
}

// Defaults is the built-in provider table. Credentials come from the environment.
func Defaults() []Config {
	return []Config{
		{
			Name:             "discord",
			AuthorizationURL: "https://discord.com/oauth2/authorize",
			TokenURL:         "https://discord.com/api/oauth2/token",
			RevokeURL:        "https://discord.com/api/oauth2/token/revoke",
			AuthMethod:       AuthBody,
			Scopes:           []string{"identify", "email"},
		},
		{
			Name:             "facebook",
			AuthorizationURL: "https://www.facebook.com/v19.0/dialog/oauth",
			TokenURL:         "https://graph.facebook.com/v19.0/oauth/access_token",
			RevokeURL:        "https://graph.facebook.com/me/permissions",
			AuthMethod:       AuthFacebook,
			Scopes:           []string{"email", "public_profile"},
		},
		{
			Name:             "github",
			AuthorizationURL: "https://github.com/login/oauth/authorize",
			TokenURL:         "https://github.com/login/oauth/access_token",
			RevokeURL:        "https://api.github.com/applications/" + ClientIDPlaceholder + "/token",
			AuthMethod:       AuthGitHub,
			Scopes:           []string{"user:email"},
		},
		{
			Name:             "google",
			AuthorizationURL: "https://accounts.google.com/o/oauth2/v2/auth",
			TokenURL:         "https://oauth2.googleapis.com/token",
			RevokeURL:        "https://oauth2.googleapis.com/revoke",
			AuthMethod:       AuthTokenOnly,
			Scopes:           []string{"openid", "email", "profile"},
		},
		{
			Name:             "linkedin",
			AuthorizationURL: "https://www.linkedin.com/oauth/v2/authorization",
			TokenURL:         "https://www.linkedin.com/oauth/v2/accessToken",
			RevokeURL:        "https://www.linkedin.com/oauth/v2/revoke",
			AuthMethod:       AuthBody,
			Scopes:           []string{"openid", "profile", "email"},
		},
		{
			Name:             "quickbooks",
			AuthorizationURL: "https://appcenter.intuit.com/connect/oauth2",
			TokenURL:         "https://oauth.platform.intuit.com/oauth2/v1/tokens/bearer",
			RevokeURL:        "https://developer.api.intuit.com/v2/oauth2/tokens/revoke",
			AuthMethod:       AuthBasic,
			Scopes:           []string{"com.intuit.quickbooks.accounting", "openid"},
			UserInfoURL:      "https://accounts.platform.intuit.com/v1/openid_connect/userinfo",
			UserIDField:      "sub",
		},
		{
			Name:             "trakt",
			AuthorizationURL: "https://trakt.tv/oauth/authorize",
			TokenURL:         "https://api.trakt.tv/oauth/token",
			RevokeURL:        "https://api.trakt.tv/oauth/revoke",
			AuthMethod:       AuthTrakt,
			UserInfoURL:      "https://api.trakt.tv/users/settings",
			UserIDField:      "user.ids.slug",
		},
		{
			Name:             "tumblr",
			AuthorizationURL: "https://www.tumblr.com/oauth/authorize",
			TokenURL:         "https://www.tumblr.com/oauth/access_token",
			RequestTokenURL:  "https://www.tumblr.com/oauth/request_token",
			AuthMethod:       AuthOAuth1,
		},
		{
			Name:             "twitch",
			AuthorizationURL: "https://id.twitch.tv/oauth2/authorize",
			TokenURL:         "https://id.twitch.tv/oauth2/token",
			RevokeURL:        "https://id.twitch.tv/oauth2/revoke",
			AuthMethod:       AuthClientIDOnly,
			Scopes:           []string{"user:read:email"},
		},
		{
			Name:             "x",
			AuthorizationURL: "https://x.com/i/oauth2/authorize",
			TokenURL:         "https://api.x.com/2/oauth2/token",
			RevokeURL:        "https://api.x.com/2/oauth2/revoke",
			AuthMethod:       AuthBasic,
			Scopes:           []string{"users.read", "tweet.read", "offline.access"},
			UserInfoURL:      "https://api.x.com/2/users/me",
			UserIDField:      "data.id",
		},
	}
}
