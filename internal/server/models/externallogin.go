package models

import "time"

// ExternalLogin binds one (provider, provider user id) pair to exactly one
// local user. A user has at most one link per provider.
type ExternalLogin struct {
	ID             string
	UserID         string
	Provider       string
	ProviderUserID string
	ProviderEmail  string
	LinkedAt       time.Time
}
