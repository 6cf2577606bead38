package auth

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"authgate.org/internal/access"
	"authgate.org/internal/session"
	"authgate.org/internal/token"
	"authgate.org/internal/verify"
)

type memUsers struct {
	byEmail map[string]*User
}

func newMemUsers(users ...*User) *memUsers {
	m := &memUsers{byEmail: make(map[string]*User)}
	for _, u := range users {
		m.byEmail[u.Email] = u
	}
	return m
}

func (m *memUsers) FindUserByEmail(_ context.Context, email string) (*User, error) {
	if u, ok := m.byEmail[email]; ok {
		return u, nil
	}
	return nil, ErrNotFound
}

func (m *memUsers) FindUserByID(_ context.Context, id string) (*User, error) {
	for _, u := range m.byEmail {
		if u.ID == id {
			return u, nil
		}
	}
	return nil, ErrNotFound
}

func (m *memUsers) CreateUser(_ context.Context, u *User) error {
	if _, ok := m.byEmail[u.Email]; ok {
		return fmt.Errorf("%w: email already registered", ErrValidation)
	}
	m.byEmail[u.Email] = u
	return nil
}

func (m *memUsers) UpdatePassword(_ context.Context, email, passwordHash string) error {
	u, ok := m.byEmail[email]
	if !ok {
		return ErrNotFound
	}
	u.PasswordHash = passwordHash
	u.EmailVerified = true
	return nil
}

type memRoles struct {
	roles []access.Role
}

func (m *memRoles) DefaultRole(_ context.Context) (*access.Role, error) {
	for i := range m.roles {
		return &m.roles[i], nil
	}
	return nil, access.ErrNotFound
}

func (m *memRoles) RolesByIDs(_ context.Context, ids []string) ([]access.Role, error) {
	var out []access.Role
	for _, id := range ids {
		for _, r := range m.roles {
			if r.ID == id {
				out = append(out, r)
			}
		}
	}
	return out, nil
}

// memSessions mimics the one-active-session-per-device store contract.
type memSessions struct {
	sessions []*session.Session
}

func (m *memSessions) active(userID, deviceID string) *session.Session {
	for _, s := range m.sessions {
		if s.Active && s.UserID == userID && s.DeviceID == deviceID {
			return s
		}
	}
	return nil
}

func (m *memSessions) ReplaceActive(_ context.Context, s *session.Session) error {
	if old := m.active(s.UserID, s.DeviceID); old != nil {
		old.Active = false
	}
	m.sessions = append(m.sessions, s)
	return nil
}

func (m *memSessions) RotateAccessToken(_ context.Context, userID, deviceID, refreshToken, newAccessToken string) error {
	s := m.active(userID, deviceID)
	if s == nil || s.RefreshToken != refreshToken {
		return session.ErrNotFound
	}
	s.AccessToken = newAccessToken
	return nil
}

func (m *memSessions) FindActiveByRefresh(_ context.Context, refreshToken, deviceID string) (*session.Session, error) {
	for _, s := range m.sessions {
		if s.Active && s.RefreshToken == refreshToken && s.DeviceID == deviceID {
			return s, nil
		}
	}
	return nil, session.ErrNotFound
}

func (m *memSessions) Deactivate(_ context.Context, userID, deviceID string) error {
	if s := m.active(userID, deviceID); s != nil {
		s.Active = false
		return nil
	}
	return session.ErrNotFound
}

type fakeVerifier struct {
	sends    int
	sendErr  error
	valid    bool
	lastCode string
}

func (f *fakeVerifier) SendEmailCode(_ context.Context, email string) error {
	f.sends++
	return f.sendErr
}

func (f *fakeVerifier) IsCodeValid(_ context.Context, _ verify.CodeType, code, _ string) (bool, error) {
	f.lastCode = code
	return f.valid, nil
}

type plainHasher struct{}

func (plainHasher) Hash(password string) (string, error) { return "hashed:" + password, nil }

func (plainHasher) Compare(hash, password string) error {
	if hash != "hashed:"+password {
		return errors.New("mismatch")
	}
	return nil
}

type fixture struct {
	users    *memUsers
	roles    *memRoles
	sessions *memSessions
	verifier *fakeVerifier
	tokens   *token.Issuer
	orch     *Orchestrator
}

func newFixture(t *testing.T, users ...*User) *fixture {
	t.Helper()
	iss, err := token.NewIssuer(token.Config{
		AccessSecret:  []byte("access-secret"),
		RefreshSecret: []byte("refresh-secret"),
	})
	if err != nil {
		t.Fatalf("NewIssuer: %v", err)
	}
	f := &fixture{
		users:    newMemUsers(users...),
		roles:    &memRoles{roles: []access.Role{{ID: "role-member", Slug: "member", Name: "Member", Active: true}}},
		sessions: &memSessions{},
		verifier: &fakeVerifier{},
		tokens:   iss,
	}
	orch, err := NewOrchestrator(f.users, f.roles, f.sessions, f.tokens, f.verifier, plainHasher{}, nil)
	if err != nil {
		t.Fatalf("NewOrchestrator: %v", err)
	}
	f.orch = orch
	return f
}

func verifiedUser() *User {
	return &User{
		ID:            "user-1",
		Email:         "alice@example.com",
		PasswordHash:  "hashed:s3cret",
		EmailVerified: true,
		Active:        true,
		RoleIDs:       []string{"role-member"},
	}
}

func TestLoginIssuesCredentials(t *testing.T) {
	f := newFixture(t, verifiedUser())

	creds, err := f.orch.Login(context.Background(), " Alice@Example.com ", "s3cret", "device-1", DeviceMeta{Platform: "macOS"})
	if err != nil {
		t.Fatalf("Login: %v", err)
	}
	if creds.AccessToken == "" || creds.RefreshToken == "" {
		t.Fatalf("expected both tokens")
	}
	if _, err := f.tokens.Verify(creds.AccessToken, token.ClassAccess); err != nil {
		t.Fatalf("access token does not verify: %v", err)
	}
	if _, err := f.tokens.Verify(creds.RefreshToken, token.ClassRefresh); err != nil {
		t.Fatalf("refresh token does not verify: %v", err)
	}
	if creds.Profile == nil || creds.Profile.User.ID != "user-1" {
		t.Fatalf("unexpected profile: %+v", creds.Profile)
	}
	if got := creds.Profile.RoleSlugs(); len(got) != 1 || got[0] != "member" {
		t.Fatalf("unexpected roles: %v", got)
	}

	sess := f.sessions.active("user-1", "device-1")
	if sess == nil {
		t.Fatalf("expected an active session")
	}
	if sess.AccessToken != creds.AccessToken || sess.RefreshToken != creds.RefreshToken {
		t.Fatalf("session tokens do not match issued credentials")
	}
	if sess.Platform != "macOS" {
		t.Fatalf("device meta was not persisted")
	}
}

func TestLoginReplacesPreviousSession(t *testing.T) {
	f := newFixture(t, verifiedUser())

	first, err := f.orch.Login(context.Background(), "alice@example.com", "s3cret", "device-1", DeviceMeta{})
	if err != nil {
		t.Fatalf("first login: %v", err)
	}
	second, err := f.orch.Login(context.Background(), "alice@example.com", "s3cret", "device-1", DeviceMeta{})
	if err != nil {
		t.Fatalf("second login: %v", err)
	}

	activeCount := 0
	for _, s := range f.sessions.sessions {
		if s.Active {
			activeCount++
		}
	}
	if activeCount != 1 {
		t.Fatalf("expected exactly one active session, got %d", activeCount)
	}
	if f.sessions.active("user-1", "device-1").RefreshToken != second.RefreshToken {
		t.Fatalf("active session does not carry the newest refresh token")
	}
	if _, err := f.sessions.FindActiveByRefresh(context.Background(), first.RefreshToken, "device-1"); !errors.Is(err, session.ErrNotFound) {
		t.Fatalf("first session should be superseded, got %v", err)
	}
}

func TestLoginValidation(t *testing.T) {
	f := newFixture(t, verifiedUser())

	if _, err := f.orch.Login(context.Background(), "alice@example.com", "s3cret", "  ", DeviceMeta{}); !errors.Is(err, ErrMissingDeviceID) {
		t.Fatalf("expected ErrMissingDeviceID, got %v", err)
	}
	if _, err := f.orch.Login(context.Background(), "", "s3cret", "device-1", DeviceMeta{}); !errors.Is(err, ErrMissingCredentials) {
		t.Fatalf("expected ErrMissingCredentials for blank email, got %v", err)
	}
	if _, err := f.orch.Login(context.Background(), "alice@example.com", "", "device-1", DeviceMeta{}); !errors.Is(err, ErrMissingCredentials) {
		t.Fatalf("expected ErrMissingCredentials for blank password, got %v", err)
	}
}

func TestLoginUnknownUserAndWrongPassword(t *testing.T) {
	f := newFixture(t, verifiedUser())

	if _, err := f.orch.Login(context.Background(), "bob@example.com", "whatever", "device-1", DeviceMeta{}); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized for unknown user, got %v", err)
	}
	if _, err := f.orch.Login(context.Background(), "alice@example.com", "wrong", "device-1", DeviceMeta{}); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized for wrong password, got %v", err)
	}
	if len(f.sessions.sessions) != 0 {
		t.Fatalf("failed logins must not create sessions")
	}
}

func TestLoginUnverifiedEmailDispatchesCode(t *testing.T) {
	u := verifiedUser()
	u.EmailVerified = false
	f := newFixture(t, u)

	_, err := f.orch.Login(context.Background(), "alice@example.com", "s3cret", "device-1", DeviceMeta{})
	if !errors.Is(err, ErrEmailUnverified) {
		t.Fatalf("expected ErrEmailUnverified, got %v", err)
	}
	if f.verifier.sends != 1 {
		t.Fatalf("expected exactly one code dispatch, got %d", f.verifier.sends)
	}
	if len(f.sessions.sessions) != 0 {
		t.Fatalf("unverified login must not create a session")
	}
}

func TestLoginVerificationDispatchFailure(t *testing.T) {
	u := verifiedUser()
	u.EmailVerified = false
	f := newFixture(t, u)
	f.verifier.sendErr = errors.New("smtp down")

	_, err := f.orch.Login(context.Background(), "alice@example.com", "s3cret", "device-1", DeviceMeta{})
	if !errors.Is(err, ErrVerificationDispatch) {
		t.Fatalf("expected ErrVerificationDispatch, got %v", err)
	}
}

func TestRefreshRotatesAccessToken(t *testing.T) {
	f := newFixture(t, verifiedUser())

	creds, err := f.orch.Login(context.Background(), "alice@example.com", "s3cret", "device-1", DeviceMeta{})
	if err != nil {
		t.Fatalf("Login: %v", err)
	}

	refreshed, err := f.orch.Refresh(context.Background(), "device-1", creds.RefreshToken)
	if err != nil {
		t.Fatalf("Refresh: %v", err)
	}
	if refreshed.RefreshToken != creds.RefreshToken {
		t.Fatalf("refresh must not rotate the refresh token")
	}
	if refreshed.AccessToken == creds.AccessToken {
		t.Fatalf("expected a new access token")
	}
	if sess := f.sessions.active("user-1", "device-1"); sess.AccessToken != refreshed.AccessToken {
		t.Fatalf("session access token was not rotated")
	}
}

func TestRefreshBlankTokenIsSessionExpired(t *testing.T) {
	f := newFixture(t, verifiedUser())
	if _, err := f.orch.Refresh(context.Background(), "device-1", "  "); !errors.Is(err, ErrSessionExpired) {
		t.Fatalf("expected ErrSessionExpired, got %v", err)
	}
}

func TestRefreshUnknownSessionIsForbidden(t *testing.T) {
	f := newFixture(t, verifiedUser())
	raw, err := f.tokens.IssueRefresh("user-1")
	if err != nil {
		t.Fatalf("IssueRefresh: %v", err)
	}
	if _, err := f.orch.Refresh(context.Background(), "device-1", raw); !errors.Is(err, ErrForbidden) {
		t.Fatalf("expected ErrForbidden, got %v", err)
	}
}

func TestRefreshTokenUserMismatchIsForbidden(t *testing.T) {
	f := newFixture(t, verifiedUser())

	// A session whose stored refresh token was minted for a different user.
	foreign, err := f.tokens.IssueRefresh("user-2")
	if err != nil {
		t.Fatalf("IssueRefresh: %v", err)
	}
	f.sessions.sessions = append(f.sessions.sessions, &session.Session{
		ID: "sess-1", UserID: "user-1", DeviceID: "device-1",
		RefreshToken: foreign, Active: true,
	})

	if _, err := f.orch.Refresh(context.Background(), "device-1", foreign); !errors.Is(err, ErrForbidden) {
		t.Fatalf("expected ErrForbidden for token user mismatch, got %v", err)
	}
	if sess := f.sessions.active("user-1", "device-1"); sess.AccessToken != "" {
		t.Fatalf("mismatched refresh must not rotate the session")
	}
}

func TestRefreshInvalidTokenIsForbidden(t *testing.T) {
	f := newFixture(t, verifiedUser())
	f.sessions.sessions = append(f.sessions.sessions, &session.Session{
		ID: "sess-1", UserID: "user-1", DeviceID: "device-1",
		RefreshToken: "not-a-jwt", Active: true,
	})
	if _, err := f.orch.Refresh(context.Background(), "device-1", "not-a-jwt"); !errors.Is(err, ErrForbidden) {
		t.Fatalf("expected ErrForbidden for invalid token, got %v", err)
	}
}

func TestLogoutDeactivatesSession(t *testing.T) {
	f := newFixture(t, verifiedUser())
	if _, err := f.orch.Login(context.Background(), "alice@example.com", "s3cret", "device-1", DeviceMeta{}); err != nil {
		t.Fatalf("Login: %v", err)
	}

	if err := f.orch.Logout(context.Background(), "user-1", "device-1"); err != nil {
		t.Fatalf("Logout: %v", err)
	}
	if f.sessions.active("user-1", "device-1") != nil {
		t.Fatalf("session is still active after logout")
	}
	if err := f.orch.Logout(context.Background(), "user-1", "device-1"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound on repeated logout, got %v", err)
	}
}

func TestRegisterCreatesUserWithDefaultRole(t *testing.T) {
	f := newFixture(t)

	user, err := f.orch.Register(context.Background(), "Bob@Example.com", "pa55word", "pa55word")
	if err != nil {
		t.Fatalf("Register: %v", err)
	}
	if user.Email != "bob@example.com" {
		t.Fatalf("email was not normalized: %s", user.Email)
	}
	if user.EmailVerified {
		t.Fatalf("new accounts must start unverified")
	}
	if len(user.RoleIDs) != 1 || user.RoleIDs[0] != "role-member" {
		t.Fatalf("default role was not attached: %v", user.RoleIDs)
	}
	if user.PasswordHash == "pa55word" {
		t.Fatalf("password stored in plaintext")
	}
}

func TestRegisterValidation(t *testing.T) {
	f := newFixture(t)
	if _, err := f.orch.Register(context.Background(), "", "p", "p"); !errors.Is(err, ErrValidation) {
		t.Fatalf("expected ErrValidation for blank email, got %v", err)
	}
	if _, err := f.orch.Register(context.Background(), "bob@example.com", "p1", "p2"); !errors.Is(err, ErrValidation) {
		t.Fatalf("expected ErrValidation for mismatched confirmation, got %v", err)
	}
}

func TestRegisterExistingAccounts(t *testing.T) {
	unverified := verifiedUser()
	unverified.EmailVerified = false
	f := newFixture(t, unverified)

	// Re-registering an unverified account returns it unchanged.
	user, err := f.orch.Register(context.Background(), "alice@example.com", "different", "different")
	if err != nil {
		t.Fatalf("Register unverified: %v", err)
	}
	if user.ID != unverified.ID {
		t.Fatalf("expected the existing account, got %s", user.ID)
	}

	unverified.EmailVerified = true
	if _, err := f.orch.Register(context.Background(), "alice@example.com", "p", "p"); !errors.Is(err, ErrValidation) {
		t.Fatalf("expected ErrValidation for verified duplicate, got %v", err)
	}
}

func TestCompletePasswordReset(t *testing.T) {
	u := verifiedUser()
	u.EmailVerified = false
	f := newFixture(t, u)
	f.verifier.valid = true

	if err := f.orch.CompletePasswordReset(context.Background(), "alice@example.com", "newpass", "123456"); err != nil {
		t.Fatalf("CompletePasswordReset: %v", err)
	}
	if f.verifier.lastCode != "123456" {
		t.Fatalf("verify code was not forwarded: %s", f.verifier.lastCode)
	}
	if u.PasswordHash != "hashed:newpass" {
		t.Fatalf("password was not updated: %s", u.PasswordHash)
	}
	if !u.EmailVerified {
		t.Fatalf("reset must mark the account verified")
	}

	if _, err := f.orch.Login(context.Background(), "alice@example.com", "newpass", "device-1", DeviceMeta{}); err != nil {
		t.Fatalf("login with new password: %v", err)
	}
}

func TestCompletePasswordResetInvalidCode(t *testing.T) {
	f := newFixture(t, verifiedUser())
	f.verifier.valid = false

	err := f.orch.CompletePasswordReset(context.Background(), "alice@example.com", "newpass", "000000")
	if !errors.Is(err, ErrValidation) {
		t.Fatalf("expected ErrValidation, got %v", err)
	}
}

func TestVerifyAccess(t *testing.T) {
	f := newFixture(t, verifiedUser())
	creds, err := f.orch.Login(context.Background(), "alice@example.com", "s3cret", "device-1", DeviceMeta{})
	if err != nil {
		t.Fatalf("Login: %v", err)
	}

	userID, err := f.orch.VerifyAccess(creds.AccessToken)
	if err != nil {
		t.Fatalf("VerifyAccess: %v", err)
	}
	if userID != "user-1" {
		t.Fatalf("unexpected user id: %s", userID)
	}

	// A refresh token never passes the access gate.
	if _, err := f.orch.VerifyAccess(creds.RefreshToken); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized, got %v", err)
	}
}

func TestBcryptHasherRoundTrip(t *testing.T) {
	h := BcryptHasher{}
	hash, err := h.Hash("s3cret")
	if err != nil {
		t.Fatalf("Hash: %v", err)
	}
	if err := h.Compare(hash, "s3cret"); err != nil {
		t.Fatalf("Compare: %v", err)
	}
	if err := h.Compare(hash, "wrong"); err == nil {
		t.Fatalf("expected mismatch error")
	}
}
