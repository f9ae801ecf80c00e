package revoke

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"strings"

	"github.com/ManuelReschke/LinkFox/internal/pkg/autherr"
	"github.com/ManuelReschke/LinkFox/internal/pkg/oauth1"
	"github.com/ManuelReschke/LinkFox/internal/pkg/provider"
)

const (
	HintAccessToken  = "access_token"
	HintRefreshToken = "refresh_token"

	contentTypeForm = "application/x-www-form-urlencoded"
	contentTypeJSON = "application/json"

	githubAccept     = "application/vnd.github+json"
	githubAPIVersion = "2022-11-28"
	traktAPIVersion  = "2"
)

// call is the input of one revocation request.
type call struct {
	cfg         provider.Config
	token       string
	hint        string
	tokenSecret string
}

// builder turns a call into an outbound request for one auth method.
type builder struct {
	// required lists the config fields the method cannot work without.
	required []string
	build    func(ctx context.Context, c call, signer *oauth1.Signer) (*http.Request, error)
}

var builders = map[provider.AuthMethod]builder{
	provider.AuthBasic: {
		required: []string{"client_id", "client_secret"},
		build: func(ctx context.Context, c call, _ *oauth1.Signer) (*http.Request, error) {
			req, err := formRequest(ctx, c.cfg.RevokeURL, url.Values{
				"token":           {c.token},
				"token_type_hint": {c.hint},
			})
			if err != nil {
				return nil, err
			}
			req.SetBasicAuth(c.cfg.ClientID, c.cfg.ClientSecret)
			return req, nil
		},
	},
	provider.AuthBody: {
		required: []string{"client_id", "client_secret"},
		build: func(ctx context.Context, c call, _ *oauth1.Signer) (*http.Request, error) {
			return formRequest(ctx, c.cfg.RevokeURL, url.Values{
				"token":           {c.token},
				"token_type_hint": {c.hint},
				"client_id":       {c.cfg.ClientID},
				"client_secret":   {c.cfg.ClientSecret},
			})
		},
	},
	provider.AuthTokenOnly: {
		build: func(ctx context.Context, c call, _ *oauth1.Signer) (*http.Request, error) {
			return formRequest(ctx, c.cfg.RevokeURL, url.Values{"token": {c.token}})
		},
	},
	provider.AuthClientIDOnly: {
		required: []string{"client_id"},
		build: func(ctx context.Context, c call, _ *oauth1.Signer) (*http.Request, error) {
			return formRequest(ctx, c.cfg.RevokeURL, url.Values{
				"token":     {c.token},
				"client_id": {c.cfg.ClientID},
			})
		},
	},
	provider.AuthJSONBody: {
		required: []string{"client_id", "client_secret"},
		build: func(ctx context.Context, c call, _ *oauth1.Signer) (*http.Request, error) {
			return jsonRequest(ctx, http.MethodPost, c.cfg.RevokeURL, clientPayload(c))
		},
	},
	provider.AuthTrakt: {
		required: []string{"client_id", "client_secret"},
		build: func(ctx context.Context, c call, _ *oauth1.Signer) (*http.Request, error) {
			req, err := jsonRequest(ctx, http.MethodPost, c.cfg.RevokeURL, clientPayload(c))
			if err != nil {
				return nil, err
			}
			req.Header.Set("trakt-api-key", c.cfg.ClientID)
			req.Header.Set("trakt-api-version", traktAPIVersion)
			return req, nil
		},
	},
	provider.AuthFacebook: {
		build: func(ctx context.Context, c call, _ *oauth1.Signer) (*http.Request, error) {
			target := c.cfg.RevokeURL
			sep := "?"
			if strings.Contains(target, "?") {
				sep = "&"
			}
			target += sep + "access_token=" + url.QueryEscape(c.token)
			return http.NewRequestWithContext(ctx, http.MethodDelete, target, nil)
		},
	},
	provider.AuthGitHub: {
		required: []string{"client_id", "client_secret"},
		build: func(ctx context.Context, c call, _ *oauth1.Signer) (*http.Request, error) {
			req, err := jsonRequest(ctx, http.MethodDelete, c.cfg.RevokeURL, map[string]string{
				"access_token": c.token,
			})
			if err != nil {
				return nil, err
			}
			req.SetBasicAuth(c.cfg.ClientID, c.cfg.ClientSecret)
			req.Header.Set("Accept", githubAccept)
			req.Header.Set("X-GitHub-Api-Version", githubAPIVersion)
			return req, nil
		},
	},
	provider.AuthOAuth1: {
		required: []string{"consumer_key", "consumer_secret"},
		build: func(ctx context.Context, c call, signer *oauth1.Signer) (*http.Request, error) {
			header, err := signer.Sign(http.MethodPost, c.cfg.RevokeURL, c.cfg.ConsumerKey, c.cfg.ConsumerSecret, c.token, c.tokenSecret)
			if err != nil {
				return nil, err
			}
			req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.RevokeURL, nil)
			if err != nil {
				return nil, err
			}
			req.Header.Set("Authorization", header)
			return req, nil
		},
	},
}

// checkConfig returns a MisconfigurationError for the first missing field.
func (b builder) checkConfig(cfg provider.Config) error {
	if cfg.RevokeURL == "" {
		return &autherr.MisconfigurationError{Provider: cfg.Name, Method: string(cfg.AuthMethod), Field: "revoke_url"}
	}
	for _, field := range b.required {
		if configField(cfg, field) == "" {
			return &autherr.MisconfigurationError{Provider: cfg.Name, Method: string(cfg.AuthMethod), Field: field}
		}
	}
	return nil
}

func configField(cfg provider.Config, field string) string {
	switch field {
	case "client_id":
		return cfg.ClientID
	case "client_secret":
		return cfg.ClientSecret
	case "consumer_key":
		return cfg.ConsumerKey
	case "consumer_secret":
		return cfg.ConsumerSecret
	}
	return ""
}

func clientPayload(c call) map[string]string {
	return map[string]string{
		"token":         c.token,
		"client_id":     c.cfg.ClientID,
		"client_secret": c.cfg.ClientSecret,
	}
}

func formRequest(ctx context.Context, target string, form url.Values) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, target, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", contentTypeForm)
	return req, nil
}

func jsonRequest(ctx context.Context, method, target string, payload any) (*http.Request, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, method, target, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", contentTypeJSON)
	return req, nil
}
