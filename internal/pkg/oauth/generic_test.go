package oauth

import (
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ManuelReschke/LinkFox/internal/pkg/provider"
)

type fakeAuthServer struct {
	*httptest.Server
	verifier string
	headers  http.Header
}

func newFakeAuthServer(t *testing.T, userinfo string) *fakeAuthServer {
	t.Helper()
	fs := &fakeAuthServer{}
	mux := http.NewServeMux()
	mux.HandleFunc("/token", func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		id, secret, ok := r.BasicAuth()
		if !ok || id != "client" || secret != "secret" || r.PostForm.Get("code") != "c1" {
			w.WriteHeader(http.StatusBadRequest)
			_, _ = w.Write([]byte(`{"error":"invalid_grant"}`))
			return
		}
		fs.verifier = r.PostForm.Get("code_verifier")
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"access_token":"a1","refresh_token":"r1","token_type":"bearer","expires_in":3600}`))
	})
	mux.HandleFunc("/me", func(w http.ResponseWriter, r *http.Request) {
		fs.headers = r.Header.Clone()
		if r.Header.Get("Authorization") != "Bearer a1" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(userinfo))
	})
	fs.Server = httptest.NewServer(mux)
	t.Cleanup(fs.Close)
	return fs
}

func genericConfig(base string, method provider.AuthMethod, idField string) provider.Config {
	return provider.Config{
		Name:             "acme",
		AuthorizationURL: base + "/authorize",
		TokenURL:         base + "/token",
		UserInfoURL:      base + "/me",
		UserIDField:      idField,
		ClientID:         "client",
		ClientSecret:     "secret",
		AuthMethod:       method,
		Scopes:           []string{"users.read"},
	}
}

func TestGenericAuthorizationCodeFlow(t *testing.T) {
	ts := newFakeAuthServer(t, `{"data":{"id":"123","name":"Acme User","username":"acme"}}`)
	p := NewGeneric(genericConfig(ts.URL, provider.AuthBasic, "data.id"), "https://linkfox.example/auth/acme/callback")
	p.HTTPClient = ts.Client()

	sess, err := p.BeginAuth("state-1")
	require.NoError(t, err)
	authURL, err := sess.GetAuthURL()
	require.NoError(t, err)
	u, err := url.Parse(authURL)
	require.NoError(t, err)
	q := u.Query()
	assert.Equal(t, "state-1", q.Get("state"))
	assert.Equal(t, "client", q.Get("client_id"))
	assert.Equal(t, "https://linkfox.example/auth/acme/callback", q.Get("redirect_uri"))
	assert.Equal(t, "S256", q.Get("code_challenge_method"))
	challenge := q.Get("code_challenge")
	require.NotEmpty(t, challenge)

	// the session survives the cookie round trip
	restored, err := p.UnmarshalSession(sess.Marshal())
	require.NoError(t, err)

	_, err = p.FetchUser(restored)
	require.Error(t, err)

	token, err := restored.Authorize(p, url.Values{"code": {"c1"}, "state": {"state-1"}})
	require.NoError(t, err)
	assert.Equal(t, "a1", token)

	sum := sha256.Sum256([]byte(ts.verifier))
	assert.Equal(t, challenge, base64.RawURLEncoding.EncodeToString(sum[:]))

	user, err := p.FetchUser(restored)
	require.NoError(t, err)
	assert.Equal(t, "acme", user.Provider)
	assert.Equal(t, "123", user.UserID)
	assert.Equal(t, "Acme User", user.Name)
	assert.Equal(t, "acme", user.NickName)
	assert.Equal(t, "a1", user.AccessToken)
	assert.Equal(t, "r1", user.RefreshToken)
	assert.False(t, user.ExpiresAt.IsZero())
	assert.Empty(t, ts.headers.Get("trakt-api-key"))
}

func TestGenericAuthorizeRejectsMissingCode(t *testing.T) {
	ts := newFakeAuthServer(t, `{}`)
	p := NewGeneric(genericConfig(ts.URL, provider.AuthBasic, "id"), "https://linkfox.example/cb")
	p.HTTPClient = ts.Client()
	sess, err := p.BeginAuth("s")
	require.NoError(t, err)

	_, err = sess.Authorize(p, url.Values{"error": {"access_denied"}})
	assert.ErrorContains(t, err, "access_denied")

	_, err = sess.Authorize(p, url.Values{})
	assert.Error(t, err)

	_, err = sess.Authorize(p, url.Values{"code": {"wrong"}})
	assert.Error(t, err)
}

func TestGenericFetchUserTraktHeadersAndNumericID(t *testing.T) {
	ts := newFakeAuthServer(t, `{"user":{"username":"sean","name":"Sean","ids":{"slug":"sean","trakt":42}}}`)
	cfg := genericConfig(ts.URL, provider.AuthTrakt, "user.ids.trakt")
	p := NewGeneric(cfg, "https://linkfox.example/cb")
	p.HTTPClient = ts.Client()

	sess := &GenericSession{AuthURL: ts.URL + "/authorize", AccessToken: "a1"}
	user, err := p.FetchUser(sess)
	require.NoError(t, err)
	assert.Equal(t, "42", user.UserID)
	assert.Equal(t, "Sean", user.Name)
	assert.Equal(t, "sean", user.NickName)
	assert.Equal(t, "2", ts.headers.Get("trakt-api-version"))
	assert.Equal(t, "client", ts.headers.Get("trakt-api-key"))

	cfg.UserIDField = "user.ids.missing"
	_, err = NewGeneric(cfg, "").FetchUser(sess)
	assert.Error(t, err)
}

func TestGenericSessionMarshalKeepsVerifier(t *testing.T) {
	s := &GenericSession{AuthURL: "https://idp.example/authorize", Verifier: "v"}
	var decoded map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(s.Marshal()), &decoded))
	assert.Equal(t, "v", decoded["Verifier"])

	_, err := (&GenericSession{}).GetAuthURL()
	assert.Error(t, err)
}

func TestProvidersFallBackToGeneric(t *testing.T) {
	reg := provider.NewRegistry(
		genericConfig("https://idp.example", provider.AuthBasic, "data.id"),
		provider.Config{Name: "x", ClientID: "id", ClientSecret: "secret", AuthMethod: provider.AuthBasic,
			AuthorizationURL: "https://idp.example/authorize", TokenURL: "https://idp.example/token"},
		provider.Config{Name: "github", ClientID: "id", ClientSecret: "secret", AuthMethod: provider.AuthGitHub,
			UserInfoURL: "https://idp.example/me"},
	)

	names := map[string]bool{}
	for _, p := range Providers(reg, "https://linkfox.example") {
		names[p.Name()] = true
		if p.Name() == "acme" {
			assert.IsType(t, &Generic{}, p)
		}
		if p.Name() == "github" {
			_, isGeneric := p.(*Generic)
			assert.False(t, isGeneric)
		}
	}
	assert.Equal(t, map[string]bool{"acme": true, "github": true}, names)
}

func TestDefaultProvidersWithoutStrategyUseGeneric(t *testing.T) {
	var list []provider.Config
	for _, cfg := range provider.Defaults() {
		cfg.ClientID, cfg.ClientSecret = "id", "secret"
		list = append(list, cfg)
	}

	generic := map[string]bool{}
	for _, p := range Providers(provider.NewRegistry(list...), "https://linkfox.example") {
		if _, ok := p.(*Generic); ok {
			generic[p.Name()] = true
		}
	}
	assert.Equal(t, map[string]bool{"quickbooks": true, "trakt": true, "x": true}, generic)
}
