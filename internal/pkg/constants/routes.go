package constants

// Static route constants
const (
	StartRoute   = "/"
	AccountRoute = "/account"
	// provider flows live below /auth/<provider>
	AuthRoutePrefix = "/auth/"
)

// AuthorizeRoute is where a user starts (or repeats) authorization with provider.
func AuthorizeRoute(provider string) string {
	return AuthRoutePrefix + provider
}
