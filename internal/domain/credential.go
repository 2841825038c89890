package domain

import "time"

// Credential holds provider secrets for a (tenant, channel) pair. Data is
// an opaque field map; the keys in SensitiveCredentialFields are stored
// encrypted and only ever decrypted in memory.
type Credential struct {
	ID        string            `json:"id"`
	TenantID  string            `json:"tenant_id"`
	Channel   ChannelType       `json:"channel"`
	Data      map[string]string `json:"data"`
	Custom    bool              `json:"custom"`
	Active    bool              `json:"active"`
	CreatedAt time.Time         `json:"created_at"`
	UpdatedAt time.Time         `json:"updated_at"`
}

// SensitiveCredentialFields lists the Data keys encrypted at rest.
var SensitiveCredentialFields = []string{
	"password",
	"auth_token",
	"private_key",
	"client_secret",
	"refresh_token",
	"service_account_json",
}

// IsSensitiveCredentialField reports whether the Data key is stored encrypted.
func IsSensitiveCredentialField(key string) bool {
	for _, f := range SensitiveCredentialFields {
		if f == key {
			return true
		}
	}
	return false
}
