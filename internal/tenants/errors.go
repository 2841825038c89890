package tenants

import "errors"

// Credential errors.
var (
	ErrCredentialNotFound   = errors.New("credential not found")
	ErrChannelNotConfigured = errors.New("channel has no credentials configured")
)
