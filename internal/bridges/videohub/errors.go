package videohub

import "errors"

// Domain errors for the Videohub bridge package.
var (
	// ErrNotConnected is returned when an operation requires a device
	// connection but the session is not connected.
	ErrNotConnected = errors.New("videohub: not connected to device")

	// ErrConnectionFailed is returned when dialling the device fails.
	ErrConnectionFailed = errors.New("videohub: connection to device failed")

	// ErrMalformedBlock is returned by the decoder when a protocol block
	// cannot be parsed. The stream remains usable.
	ErrMalformedBlock = errors.New("videohub: malformed protocol block")

	// ErrUnsupportedMessage is returned when encoding a message the device
	// does not accept from clients.
	ErrUnsupportedMessage = errors.New("videohub: message cannot be sent to device")

	// ErrSendFailed is returned when writing a block to the device fails.
	ErrSendFailed = errors.New("videohub: send failed")

	// ErrQueueClosed is returned when submitting to a stopped command queue.
	ErrQueueClosed = errors.New("videohub: command queue closed")

	// ErrTargetRegistration is returned when the per-output sub-targets
	// cannot be registered with the backend.
	ErrTargetRegistration = errors.New("videohub: output target registration failed")
)
