package devices

import "errors"

// Device registry errors.
var (
	ErrTokenNotFound   = errors.New("device token not found")
	ErrInvalidPlatform = errors.New("invalid device platform")
)
