package backend

import "errors"

// Sentinel errors for backend operations.
var (
	// ErrInvalidID is returned when a short or service id cannot be used as
	// a topic segment.
	ErrInvalidID = errors.New("backend: invalid id")

	// ErrRegistrationFailed is returned when a descriptor cannot be published
	// or an action subscription cannot be made.
	ErrRegistrationFailed = errors.New("backend: registration failed")

	// ErrPulseFailed is returned when an emitter pulse cannot be published.
	ErrPulseFailed = errors.New("backend: pulse failed")

	// ErrSchema is returned when a payload schema cannot be generated.
	ErrSchema = errors.New("backend: schema generation failed")
)
