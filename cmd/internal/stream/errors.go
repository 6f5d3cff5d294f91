package stream

import "errors"

var (
	// ErrNoStreamAssigned reports that the user has no active stream
	// assignment in the directory.
	ErrNoStreamAssigned = errors.New("stream: no stream assigned")

	// ErrBadHandle reports a handle that could not be opened: malformed
	// encoding, truncated, tampered with, sealed under a different key,
	// or bound to a different user.
	ErrBadHandle = errors.New("stream: bad handle")

	// ErrConfig reports invalid stream gate configuration.
	ErrConfig = errors.New("stream: invalid config")
)
