package provider

// AuthMethod selects the wire format a provider's revocation endpoint expects.
type AuthMethod string

const (
	AuthBasic        AuthMethod = "basic"
	AuthBody         AuthMethod = "body"
	AuthTokenOnly    AuthMethod = "token_only"
	AuthClientIDOnly AuthMethod = "client_id_only"
	AuthJSONBody     AuthMethod = "json_body"
	AuthTrakt        AuthMethod = "trakt"
	AuthFacebook     AuthMethod = "facebook"
	AuthGitHub       AuthMethod = "github"
	AuthOAuth1       AuthMethod = "oauth1"
)

var authMethods = []AuthMethod{
	AuthBasic,
	AuthBody,
	AuthTokenOnly,
	AuthClientIDOnly,
	AuthJSONBody,
	AuthTrakt,
	AuthFacebook,
	AuthGitHub,
	AuthOAuth1,
}

// AuthMethods lists every known method.
func AuthMethods() []AuthMethod {
	return append([]AuthMethod(nil), authMethods...)
}

// Known reports whether m is one of the declared methods.
func (m AuthMethod) Known() bool {
	for _, known := range authMethods {
		if m == known {
			return true
		}
	}
	return false
}

// IsOAuth1 reports whether tokens of this method are OAuth1 token/secret pairs.
func (m AuthMethod) IsOAuth1() bool {
	return m == AuthOAuth1
}

// ClientAuthInHeader reports whether the provider expects client credentials
// as HTTP Basic auth on token endpoint calls.
func (m AuthMethod) ClientAuthInHeader() bool {
	return m == AuthBasic || m == AuthGitHub
}
