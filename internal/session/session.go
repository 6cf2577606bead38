// Package session defines the device session model and the store contract
// that owns it. A session binds a user, a device identifier, and a live
// access/refresh token pair; at most one session per (user, device) is
// active at any observable instant.
package session

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrNotFound indicates no session matched the given keys.
	ErrNotFound = errors.New("session: not found")
	// ErrConflict indicates a concurrent writer won the replace race; the
	// caller may retry.
	ErrConflict = errors.New("session: conflict")
)

// Session is a device-scoped record. Platform, Origin and UserAgent are
// informational only.
type Session struct {
	ID           string
	UserID       string
	DeviceID     string
	AccessToken  string
	RefreshToken string
	Platform     string
	Origin       string
	UserAgent    string
	Active       bool
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Store owns the authoritative session table. It is the only shared mutable
// resource in the subsystem; conflicting writes per (userID, deviceID) key
// serialize inside the store, never in application code.
type Store interface {
	// ReplaceActive atomically deactivates any active session for
	// (s.UserID, s.DeviceID) and inserts s as the active one. Two
	// concurrent calls leave exactly one active session.
	ReplaceActive(ctx context.Context, s *Session) error

	// RotateAccessToken updates the access token of the active session
	// matching all three keys, in place. Returns ErrNotFound when no such
	// session exists.
	RotateAccessToken(ctx context.Context, userID, deviceID, refreshToken, newAccessToken string) error

	// FindActiveByRefresh returns the active session holding the refresh
	// token on the given device, or ErrNotFound.
	FindActiveByRefresh(ctx context.Context, refreshToken, deviceID string) (*Session, error)

	// Deactivate disables the active session for (userID, deviceID).
	// Returns ErrNotFound when there is none.
	Deactivate(ctx context.Context, userID, deviceID string) error
}
