// Package client implements the browser-equivalent side of the voice bridge:
// microphone capture, the relay connection, ordered playback, and the session
// controller tying them together.
package client

import "errors"

var (
	// ErrNotConfigured is returned when the relay endpoint cannot be derived
	// because no project identifier is configured.
	ErrNotConfigured = errors.New("project identifier is not configured")

	// ErrMediaAccess wraps microphone acquisition failures (permission denied,
	// no input device). Distinct from transport errors so the UI can tell
	// them apart.
	ErrMediaAccess = errors.New("microphone access failed")
)
