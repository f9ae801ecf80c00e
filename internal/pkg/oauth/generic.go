package oauth

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2/log"
	"github.com/markbates/goth"
	"golang.org/x/oauth2"

	"github.com/ManuelReschke/LinkFox/internal/pkg/provider"
)

const traktAPIVersion = "2"

// Generic drives the OAuth2 authorization code flow with PKCE for registry
// providers goth has no strategy for. The user is read from UserInfoURL.
type Generic struct {
	HTTPClient *http.Client

	name        string
	cfg         provider.Config
	callbackURL string
	debug       bool
}

var _ goth.Provider = (*Generic)(nil)

// NewGeneric builds a provider from cfg. The config must carry
// AuthorizationURL, TokenURL and UserInfoURL.
func NewGeneric(cfg provider.Config, callbackURL string) *Generic {
	return &Generic{name: cfg.Name, cfg: cfg, callbackURL: callbackURL}
}

func genericStrategy(cfg provider.Config, callbackURL string) goth.Provider {
	return NewGeneric(cfg, callbackURL)
}

// genericCapable reports whether cfg has the endpoints Generic needs.
func genericCapable(cfg provider.Config) bool {
	return !cfg.AuthMethod.IsOAuth1() &&
		cfg.AuthorizationURL != "" && cfg.TokenURL != "" && cfg.UserInfoURL != ""
}

func (p *Generic) Name() string        { return p.name }
func (p *Generic) SetName(name string) { p.name = name }
func (p *Generic) Debug(debug bool)    { p.debug = debug }

func (p *Generic) client() *http.Client {
	return goth.HTTPClientWithFallBack(p.HTTPClient)
}

func (p *Generic) config() *oauth2.Config {
	style := oauth2.AuthStyleInParams
	if p.cfg.AuthMethod.ClientAuthInHeader() {
		style = oauth2.AuthStyleInHeader
	}
	return &oauth2.Config{
		ClientID:     p.cfg.ClientID,
		ClientSecret: p.cfg.ClientSecret,
		RedirectURL:  p.callbackURL,
		Scopes:       p.cfg.Scopes,
		Endpoint: oauth2.Endpoint{
			AuthURL:   p.cfg.AuthorizationURL,
			TokenURL:  p.cfg.TokenURL,
			AuthStyle: style,
		},
	}
}

// BeginAuth starts a session whose auth URL carries state and an S256 code challenge.
func (p *Generic) BeginAuth(state string) (goth.Session, error) {
	verifier := oauth2.GenerateVerifier()
	return &GenericSession{
		AuthURL:  p.config().AuthCodeURL(state, oauth2.S256ChallengeOption(verifier)),
		Verifier: verifier,
	}, nil
}

func (p *Generic) UnmarshalSession(data string) (goth.Session, error) {
	s := &GenericSession{}
	err := json.NewDecoder(strings.NewReader(data)).Decode(s)
	return s, err
}

// FetchUser loads the profile for an authorized session.
func (p *Generic) FetchUser(session goth.Session) (goth.User, error) {
	s := session.(*GenericSession)
	user := goth.User{
		Provider:     p.name,
		AccessToken:  s.AccessToken,
		RefreshToken: s.RefreshToken,
		ExpiresAt:    s.ExpiresAt,
	}
	if s.AccessToken == "" {
		return user, fmt.Errorf("%s cannot get user information without accessToken", p.name)
	}

	req, err := http.NewRequest(http.MethodGet, p.cfg.UserInfoURL, nil)
	if err != nil {
		return user, err
	}
	req.Header.Set("Authorization", "Bearer "+s.AccessToken)
	req.Header.Set("Accept", "application/json")
	if p.cfg.AuthMethod == provider.AuthTrakt {
		req.Header.Set("trakt-api-version", traktAPIVersion)
		req.Header.Set("trakt-api-key", p.cfg.ClientID)
	}

	resp, err := p.client().Do(req)
	if err != nil {
		return user, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return user, fmt.Errorf("%s responded with a %d trying to fetch user information", p.name, resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return user, err
	}
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()
	var raw map[string]interface{}
	if err := dec.Decode(&raw); err != nil {
		return user, fmt.Errorf("decode %s user: %w", p.name, err)
	}
	if p.debug {
		log.Debugf("[OAuth] %s userinfo: %s", p.name, body)
	}

	field := p.cfg.UserIDField
	if field == "" {
		field = "id"
	}
	id, ok := lookupString(raw, field)
	if !ok || id == "" {
		return user, fmt.Errorf("%s user has no %q", p.name, field)
	}
	user.UserID = id
	user.RawData = raw

	// Profile fields live next to the id, e.g. data.name beside data.id.
	scope := raw
	if head, _, nested := strings.Cut(field, "."); nested {
		if m, ok := raw[head].(map[string]interface{}); ok {
			scope = m
		}
	}
	user.Email, _ = lookupString(scope, "email")
	user.Name, _ = lookupString(scope, "name")
	user.NickName, _ = lookupString(scope, "username")
	if user.NickName == "" {
		user.NickName, _ = lookupString(scope, "preferred_username")
	}
	user.AvatarURL, _ = lookupString(scope, "profile_image_url")
	user.Location, _ = lookupString(scope, "location")
	user.Description, _ = lookupString(scope, "description")
	return user, nil
}

func (p *Generic) RefreshTokenAvailable() bool { return true }

func (p *Generic) RefreshToken(refreshToken string) (*oauth2.Token, error) {
	ctx := goth.ContextForClient(p.client())
	return p.config().TokenSource(ctx, &oauth2.Token{RefreshToken: refreshToken}).Token()
}

func (p *Generic) exchange(ctx context.Context, code, verifier string) (*oauth2.Token, error) {
	return p.config().Exchange(ctx, code, oauth2.VerifierOption(verifier))
}

func lookup(m map[string]interface{}, path string) interface{} {
	var cur interface{} = m
	for _, key := range strings.Split(path, ".") {
		obj, ok := cur.(map[string]interface{})
		if !ok {
			return nil
		}
		cur = obj[key]
	}
	return cur
}

func lookupString(m map[string]interface{}, path string) (string, bool) {
	switch v := lookup(m, path).(type) {
	case string:
		return v, true
	case json.Number:
		return v.String(), true
	default:
		return "", false
	}
}

// GenericSession is the goth session state of a Generic provider.
type GenericSession struct {
	AuthURL      string
	Verifier     string
	AccessToken  string
	RefreshToken string
	ExpiresAt    time.Time
}

func (s *GenericSession) GetAuthURL() (string, error) {
	if s.AuthURL == "" {
		return "", errors.New(goth.NoAuthUrlErrorMessage)
	}
	return s.AuthURL, nil
}

func (s *GenericSession) Marshal() string {
	b, _ := json.Marshal(s)
	return string(b)
}

func (s *GenericSession) String() string {
	return s.Marshal()
}

// Authorize exchanges the callback code for tokens.
func (s *GenericSession) Authorize(p goth.Provider, params goth.Params) (string, error) {
	gp, ok := p.(*Generic)
	if !ok {
		return "", fmt.Errorf("unexpected provider %T", p)
	}
	if e := params.Get("error"); e != "" {
		return "", fmt.Errorf("%s authorization failed: %s", gp.name, e)
	}
	code := params.Get("code")
	if code == "" {
		return "", fmt.Errorf("%s callback carries no code", gp.name)
	}

	token, err := gp.exchange(goth.ContextForClient(gp.client()), code, s.Verifier)
	if err != nil {
		return "", err
	}
	if !token.Valid() {
		return "", errors.New("invalid token received from provider")
	}
	s.AccessToken = token.AccessToken
	s.RefreshToken = token.RefreshToken
	s.ExpiresAt = token.Expiry
	return token.AccessToken, nil
}
