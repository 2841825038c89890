package domain

// Default branding colors for tenants without a configured identity.
const (
	DefaultPrimaryColor   = "#007bff"
	DefaultSecondaryColor = "#6c757d"
)

// TenantBranding is the visual identity embedded into channel content.
type TenantBranding struct {
	TenantID       string `json:"tenant_id"`
	Name           string `json:"name"`
	LogoURL        string `json:"logo_url,omitempty"`
	PrimaryColor   string `json:"primary_color"`
	SecondaryColor string `json:"secondary_color"`
	EmailFrom      string `json:"email_from,omitempty"`
	About          string `json:"about,omitempty"`
}

// DefaultBranding synthesises branding for a tenant the identity service
// does not know: "Tenant <first-8-of-id>" with the default colors.
func DefaultBranding(tenantID string) TenantBranding {
	short := tenantID
	if len(short) > 8 {
		short = short[:8]
	}
	return TenantBranding{
		TenantID:       tenantID,
		Name:           "Tenant " + short,
		PrimaryColor:   DefaultPrimaryColor,
		SecondaryColor: DefaultSecondaryColor,
	}
}
