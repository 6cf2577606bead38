// Package auth composes the token issuer, the session store and the
// permission resolver into the login, refresh, logout, registration and
// password-reset flows.
package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"authgate.org/internal/ids"
	"authgate.org/internal/obs"
	"authgate.org/internal/session"
	"authgate.org/internal/stream"
	"authgate.org/internal/token"
	"authgate.org/internal/verify"
)

// Credentials is the pair handed out on a successful login or refresh.
type Credentials struct {
	AccessToken  string
	RefreshToken string
	Profile      *Profile
}

// Orchestrator is the externally visible surface of the auth subsystem. All
// collaborators are injected; there is no shared superclass behavior.
type Orchestrator struct {
	users    UserDirectory
	roles    RoleDirectory
	sessions session.Store
	tokens   *token.Issuer
	verifier VerificationService
	hasher   PasswordHasher
	events   *stream.Stream
}

// NewOrchestrator wires an orchestrator from its collaborators. The event
// stream is optional.
func NewOrchestrator(
	users UserDirectory,
	roles RoleDirectory,
	sessions session.Store,
	tokens *token.Issuer,
	verifier VerificationService,
	hasher PasswordHasher,
	events *stream.Stream,
) (*Orchestrator, error) {
	if users == nil || roles == nil || sessions == nil || tokens == nil || verifier == nil {
		return nil, errors.New("auth: users, roles, sessions, tokens and verifier are required")
	}
	if hasher == nil {
		hasher = BcryptHasher{}
	}
	return &Orchestrator{
		users:    users,
		roles:    roles,
		sessions: sessions,
		tokens:   tokens,
		verifier: verifier,
		hasher:   hasher,
		events:   events,
	}, nil
}

// Login authenticates the user and atomically replaces the device's active
// session with a freshly issued credential pair.
//
// An unverified email never issues tokens: exactly one verification code is
// dispatched and ErrEmailUnverified is returned. A dispatch failure degrades
// to ErrVerificationDispatch without touching session state.
func (o *Orchestrator) Login(ctx context.Context, email, password, deviceID string, meta DeviceMeta) (*Credentials, error) {
	deviceID = strings.TrimSpace(deviceID)
	if deviceID == "" {
		return nil, ErrMissingDeviceID
	}
	email = normalizeEmail(email)
	if email == "" || password == "" {
		return nil, ErrMissingCredentials
	}

	user, err := o.users.FindUserByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			obs.CountLogin("unauthorized")
			return nil, fmt.Errorf("%w: unknown user", ErrUnauthorized)
		}
		obs.CountLogin("error")
		return nil, fmt.Errorf("auth: lookup user: %w", err)
	}

	if err := o.hasher.Compare(user.PasswordHash, password); err != nil {
		obs.CountLogin("unauthorized")
		return nil, fmt.Errorf("%w: wrong password", ErrUnauthorized)
	}

	if !user.EmailVerified {
		if err := o.verifier.SendEmailCode(ctx, email); err != nil {
			obs.CountLogin("error")
			return nil, fmt.Errorf("%w: %v", ErrVerificationDispatch, err)
		}
		obs.CountLogin("unverified")
		return nil, ErrEmailUnverified
	}

	accessToken, err := o.tokens.IssueAccess(user.ID)
	if err != nil {
		obs.CountLogin("error")
		return nil, fmt.Errorf("auth: issue access token: %w", err)
	}
	refreshToken, err := o.tokens.IssueRefresh(user.ID)
	if err != nil {
		obs.CountLogin("error")
		return nil, fmt.Errorf("auth: issue refresh token: %w", err)
	}

	now := time.Now().UTC()
	err = o.sessions.ReplaceActive(ctx, &session.Session{
		ID:           ids.New(),
		UserID:       user.ID,
		DeviceID:     deviceID,
		AccessToken:  accessToken,
		RefreshToken: refreshToken,
		Platform:     meta.Platform,
		Origin:       meta.Origin,
		UserAgent:    meta.UserAgent,
		Active:       true,
		CreatedAt:    now,
		UpdatedAt:    now,
	})
	if err != nil {
		obs.CountLogin("error")
		return nil, fmt.Errorf("auth: replace session: %w", err)
	}

	profile, err := o.profile(ctx, user)
	if err != nil {
		obs.CountLogin("error")
		return nil, err
	}

	obs.CountLogin("success")
	o.publish(stream.EventLogin, user.ID, deviceID)

	return &Credentials{
		AccessToken:  accessToken,
		RefreshToken: refreshToken,
		Profile:      profile,
	}, nil
}

// Refresh rotates the access token of the active session identified by the
// refresh token and device. The embedded user must match the session owner;
// any single mismatch is ErrForbidden. A blank refresh token is
// ErrSessionExpired, a distinct outcome.
func (o *Orchestrator) Refresh(ctx context.Context, deviceID, refreshToken string) (*Credentials, error) {
	deviceID = strings.TrimSpace(deviceID)
	if deviceID == "" {
		return nil, ErrMissingDeviceID
	}
	if strings.TrimSpace(refreshToken) == "" {
		obs.CountRefresh("expired")
		return nil, ErrSessionExpired
	}

	sess, err := o.sessions.FindActiveByRefresh(ctx, refreshToken, deviceID)
	if err != nil {
		if errors.Is(err, session.ErrNotFound) {
			obs.CountRefresh("forbidden")
			return nil, fmt.Errorf("%w: no active session", ErrForbidden)
		}
		obs.CountRefresh("error")
		return nil, fmt.Errorf("auth: find session: %w", err)
	}

	user, err := o.users.FindUserByID(ctx, sess.UserID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			obs.CountRefresh("error")
			return nil, fmt.Errorf("%w: session owner missing", ErrNotFound)
		}
		obs.CountRefresh("error")
		return nil, fmt.Errorf("auth: lookup session owner: %w", err)
	}

	claims, err := o.tokens.Verify(refreshToken, token.ClassRefresh)
	if err != nil {
		obs.CountRefresh("forbidden")
		return nil, fmt.Errorf("%w: %v", ErrForbidden, err)
	}
	if claims.UserID != user.ID {
		obs.CountRefresh("forbidden")
		return nil, fmt.Errorf("%w: token user mismatch", ErrForbidden)
	}

	accessToken, err := o.tokens.IssueAccess(user.ID)
	if err != nil {
		obs.CountRefresh("error")
		return nil, fmt.Errorf("auth: issue access token: %w", err)
	}

	if err := o.sessions.RotateAccessToken(ctx, user.ID, deviceID, refreshToken, accessToken); err != nil {
		if errors.Is(err, session.ErrNotFound) {
			// Session disappeared between lookup and rotate (concurrent
			// logout or superseding login).
			obs.CountRefresh("forbidden")
			return nil, fmt.Errorf("%w: session revoked", ErrForbidden)
		}
		obs.CountRefresh("error")
		return nil, fmt.Errorf("auth: rotate access token: %w", err)
	}

	profile, err := o.profile(ctx, user)
	if err != nil {
		obs.CountRefresh("error")
		return nil, err
	}

	obs.CountRefresh("success")
	o.publish(stream.EventRefresh, user.ID, deviceID)

	return &Credentials{
		AccessToken:  accessToken,
		RefreshToken: refreshToken,
		Profile:      profile,
	}, nil
}

// Logout deactivates the caller's device session. Store failures propagate.
func (o *Orchestrator) Logout(ctx context.Context, userID, deviceID string) error {
	deviceID = strings.TrimSpace(deviceID)
	if deviceID == "" {
		return ErrMissingDeviceID
	}
	if err := o.sessions.Deactivate(ctx, userID, deviceID); err != nil {
		if errors.Is(err, session.ErrNotFound) {
			return fmt.Errorf("%w: no active session", ErrNotFound)
		}
		return fmt.Errorf("auth: deactivate session: %w", err)
	}
	o.publish(stream.EventLogout, userID, deviceID)
	return nil
}

// Register creates a new account carrying the default role. Registering an
// email that already has an unverified account returns that account
// idempotently instead of creating a duplicate.
func (o *Orchestrator) Register(ctx context.Context, email, password, confirmPassword string) (*User, error) {
	email = normalizeEmail(email)
	if email == "" || password == "" {
		return nil, fmt.Errorf("%w: email and password are required", ErrValidation)
	}
	if password != confirmPassword {
		return nil, fmt.Errorf("%w: password and confirmation must match", ErrValidation)
	}

	existing, err := o.users.FindUserByEmail(ctx, email)
	if err != nil && !errors.Is(err, ErrNotFound) {
		return nil, fmt.Errorf("auth: lookup user: %w", err)
	}
	if existing != nil {
		if !existing.EmailVerified {
			return existing, nil
		}
		return nil, fmt.Errorf("%w: email already registered", ErrValidation)
	}

	defaultRole, err := o.roles.DefaultRole(ctx)
	if err != nil {
		return nil, fmt.Errorf("auth: default role: %w", err)
	}

	hash, err := o.hasher.Hash(password)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrValidation, err)
	}

	user := &User{
		ID:           ids.New(),
		Email:        email,
		PasswordHash: hash,
		Active:       true,
		RoleIDs:      []string{defaultRole.ID},
	}
	if err := o.users.CreateUser(ctx, user); err != nil {
		return nil, fmt.Errorf("auth: create user: %w", err)
	}
	return user, nil
}

// CompletePasswordReset validates the emailed code, rehashes the password,
// and marks the account verified.
func (o *Orchestrator) CompletePasswordReset(ctx context.Context, email, newPassword, verifyCode string) error {
	email = normalizeEmail(email)
	if email == "" || newPassword == "" {
		return fmt.Errorf("%w: email and password are required", ErrValidation)
	}

	valid, err := o.verifier.IsCodeValid(ctx, verify.CodeTypeEmail, verifyCode, email)
	if err != nil {
		return fmt.Errorf("auth: validate code: %w", err)
	}
	if !valid {
		return fmt.Errorf("%w: invalid verify code", ErrValidation)
	}

	hash, err := o.hasher.Hash(newPassword)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrValidation, err)
	}
	if err := o.users.UpdatePassword(ctx, email, hash); err != nil {
		if errors.Is(err, ErrNotFound) {
			return fmt.Errorf("%w: unknown account", ErrNotFound)
		}
		return fmt.Errorf("auth: update password: %w", err)
	}
	return nil
}

// ProfileByID loads a user and their resolved roles, for the introspection
// endpoint.
func (o *Orchestrator) ProfileByID(ctx context.Context, userID string) (*Profile, error) {
	user, err := o.users.FindUserByID(ctx, userID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, fmt.Errorf("%w: unknown user", ErrNotFound)
		}
		return nil, fmt.Errorf("auth: lookup user: %w", err)
	}
	return o.profile(ctx, user)
}

// VerifyAccess resolves an access token to its owning user id.
func (o *Orchestrator) VerifyAccess(raw string) (string, error) {
	claims, err := o.tokens.Verify(raw, token.ClassAccess)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrUnauthorized, err)
	}
	return claims.UserID, nil
}

func (o *Orchestrator) profile(ctx context.Context, user *User) (*Profile, error) {
	roles, err := o.roles.RolesByIDs(ctx, user.RoleIDs)
	if err != nil {
		return nil, fmt.Errorf("auth: resolve roles: %w", err)
	}
	return &Profile{User: user, Roles: roles}, nil
}

func (o *Orchestrator) publish(t stream.EventType, userID, deviceID string) {
	if o.events == nil {
		return
	}
	o.events.Publish(stream.Event{Type: t, UserID: userID, DeviceID: deviceID})
}

func normalizeEmail(email string) string {
	return strings.TrimSpace(strings.ToLower(email))
}
