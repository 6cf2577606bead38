package auth

import "errors"

// The orchestrator maps every collaborator failure onto this taxonomy; no
// lower-layer error crosses the package boundary unmapped.
var (
	ErrMissingDeviceID    = errors.New("auth: device id is required")
	ErrMissingCredentials = errors.New("auth: credentials are required")
	// ErrUnauthorized covers both unknown user and wrong password; callers
	// surface it uniformly to avoid account enumeration. Wrapping keeps the
	// two internally distinguishable for logs.
	ErrUnauthorized = errors.New("auth: unauthorized")
	// ErrEmailUnverified is not a hard failure; it redirects the caller
	// into the verification flow.
	ErrEmailUnverified = errors.New("auth: email not verified")
	// ErrForbidden indicates a refresh token or session mismatch.
	ErrForbidden = errors.New("auth: forbidden")
	// ErrSessionExpired indicates a blank or absent refresh token.
	ErrSessionExpired = errors.New("auth: session expired")
	ErrValidation     = errors.New("auth: validation failed")
	ErrNotFound       = errors.New("auth: not found")
	// ErrVerificationDispatch indicates the verification email could not be
	// sent; no session state changed.
	ErrVerificationDispatch = errors.New("auth: unable to send verification email")
)
