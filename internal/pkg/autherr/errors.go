// Package autherr holds the error types shared by the linking, refresh and
// revocation code. Match them with errors.As.
package autherr

import (
	"fmt"
)

// ProviderNetworkError is a transport failure or timeout talking to a provider.
type ProviderNetworkError struct {
	Provider string
	URL      string
	Err      error
}

func (e *ProviderNetworkError) Error() string {
	return fmt.Sprintf("%s: request to %s failed: %v", e.Provider, e.URL, e.Err)
}

func (e *ProviderNetworkError) Unwrap() error { return e.Err }

// ProviderAuthError is a provider rejecting credentials during an exchange,
// a refresh or a revocation.
type ProviderAuthError struct {
	Provider string
	URL      string
	Status   int
	Code     string
	Err      error
}

func (e *ProviderAuthError) Error() string {
	msg := fmt.Sprintf("%s: provider rejected request to %s", e.Provider, e.URL)
	if e.Status != 0 {
		msg += fmt.Sprintf(" status=%d", e.Status)
	}
	if e.Code != "" {
		msg += " code=" + e.Code
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *ProviderAuthError) Unwrap() error { return e.Err }

// AccountConflictError means an incoming provider identity collides with an
// account other than the one signing in or linking.
type AccountConflictError struct {
	Provider   string
	ExternalID string
	Reason     string
}

func (e *AccountConflictError) Error() string {
	return fmt.Sprintf("%s account %s: %s", e.Provider, e.ExternalID, e.Reason)
}

// MisconfigurationError is a registry entry missing a field its auth method needs.
type MisconfigurationError struct {
	Provider string
	Method   string
	Field    string
}

func (e *MisconfigurationError) Error() string {
	return fmt.Sprintf("provider %s (%s) is missing %s", e.Provider, e.Method, e.Field)
}

// SignatureError is malformed input to the OAuth1 signer.
type SignatureError struct {
	Field  string
	Reason string
}

func (e *SignatureError) Error() string {
	return fmt.Sprintf("oauth1 signature: %s %s", e.Field, e.Reason)
}
