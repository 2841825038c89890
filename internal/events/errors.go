package events

import "errors"

// Sentinel errors for event intake. Permanent errors park the message on
// the dead-letter topic; everything else leaves the offset unmarked so
// the log redelivers.
var (
	// ErrInvalidEnvelope marks a message whose envelope cannot be decoded
	// or fails structural validation.
	ErrInvalidEnvelope = errors.New("invalid event envelope")
	// ErrInvalidPayload marks an event whose payload fails the handler's
	// validation rules.
	ErrInvalidPayload = errors.New("invalid event payload")
	// ErrNoRecipient marks an event for which no channel could resolve a
	// delivery address.
	ErrNoRecipient = errors.New("no recipient resolved for any channel")
)

// isPermanent reports whether err can never succeed on redelivery.
func isPermanent(err error) bool {
	return errors.Is(err, ErrInvalidEnvelope) ||
		errors.Is(err, ErrInvalidPayload) ||
		errors.Is(err, ErrNoRecipient)
}
