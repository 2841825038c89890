package domain

import "time"

// DevicePlatform represents the push platform of a registered device.
type DevicePlatform string

// Device platforms.
const (
	DevicePlatformIOS     DevicePlatform = "ios"
	DevicePlatformAndroid DevicePlatform = "android"
	DevicePlatformWeb     DevicePlatform = "web"
)

// IsValid checks if the device platform is valid.
func (p DevicePlatform) IsValid() bool {
	switch p {
	case DevicePlatformIOS, DevicePlatformAndroid, DevicePlatformWeb:
		return true
	}
	return false
}

// DeviceToken registers a push target. Unique per (tenant, user, device);
// the token itself is unique. Inactive tokens are skipped by the push
// sender and re-activated on re-registration.
type DeviceToken struct {
	ID        string         `json:"id"`
	TenantID  string         `json:"tenant_id"`
	UserID    string         `json:"user_id"`
	DeviceID  string         `json:"device_id"`
	Token     string         `json:"token"`
	Platform  DevicePlatform `json:"platform"`
	Language  string         `json:"language"`
	Active    bool           `json:"active"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
}
