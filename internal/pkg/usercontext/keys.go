package usercontext

// Shared Locals/session keys used across controllers and middlewares
const (
	AuthKey       = "authenticated"
	KeyIdentityID = "identity_id"
	KeyName       = "name"
	KeyContext    = "USER_CONTEXT"
)
