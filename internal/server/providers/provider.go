// Package providers implements the OAuth authorization-code flow against
// external identity providers and normalizes their profile responses.
package providers

import "context"

// ExternalProfile is the provider-neutral identity extracted from a
// completed OAuth exchange. ProviderUserID is the provider's stable subject
// identifier, never the email. Email may be empty when the provider hides it.
type ExternalProfile struct {
	Provider       string
	ProviderUserID string
	Email          string
	EmailVerified  bool
	DisplayName    string
	AvatarURL      string
}

// Provider drives one external identity provider.
type Provider interface {
	// Name returns the provider key recorded on sessions and links.
	Name() string

	// AuthURL returns the authorization redirect URL carrying the given
	// anti-forgery state.
	AuthURL(state string) string

	// FetchProfile trades the callback authorization code for the user's
	// normalized profile.
	FetchProfile(ctx context.Context, code string) (*ExternalProfile, error)
}
