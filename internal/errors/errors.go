package errors

import "errors"

// Push/credential errors.
var (
	// ErrAuthUnavailable means no active account credentials were found at
	// connect time. The connect attempt aborts without scheduling a
	// reconnect; the caller decides whether to retry.
	ErrAuthUnavailable = errors.New("no active account credentials")

	// ErrMalformedFrame means a wire frame failed to decode. Per-frame
	// recoverable: the frame is dropped and the connection stays up.
	ErrMalformedFrame = errors.New("malformed wire frame")
)

// REST/business errors.
var (
	ErrAPIRequest     = errors.New("API request failed")
	ErrAPIResponse    = errors.New("unexpected API response")
	ErrSessionExpired = errors.New("session expired")
	ErrWrongAccount   = errors.New("message belongs to a different account")
)
