package auth

import (
	"context"
	"time"

	"authgate.org/internal/access"
	"authgate.org/internal/verify"
)

// User is the account record as seen by this subsystem. The user directory
// owns it; the orchestrator reads it and requests password and verification
// updates only.
type User struct {
	ID            string    `json:"id"`
	Email         string    `json:"email"`
	PasswordHash  string    `json:"-"`
	EmailVerified bool      `json:"email_verified"`
	Active        bool      `json:"active"`
	RoleIDs       []string  `json:"-"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// Profile is the wire shape returned with a credential pair: the user plus
// their resolved roles.
type Profile struct {
	User  *User         `json:"user"`
	Roles []access.Role `json:"-"`
}

// RoleSlugs returns the slugs of the resolved roles, in stored order.
func (p *Profile) RoleSlugs() []string {
	slugs := make([]string, 0, len(p.Roles))
	for _, r := range p.Roles {
		slugs = append(slugs, r.Slug)
	}
	return slugs
}

// DeviceMeta carries the informational attributes of a login request.
type DeviceMeta struct {
	Platform  string
	Origin    string
	UserAgent string
}

// UserDirectory is the external user-management collaborator.
type UserDirectory interface {
	FindUserByEmail(ctx context.Context, email string) (*User, error)
	FindUserByID(ctx context.Context, id string) (*User, error)
	CreateUser(ctx context.Context, u *User) error
	// UpdatePassword replaces the password hash for the account with the
	// given email and marks the account verified.
	UpdatePassword(ctx context.Context, email, passwordHash string) error
}

// RoleDirectory is the role-management collaborator used beyond
// authorization checks: the default role for registration and role
// resolution for login responses.
type RoleDirectory interface {
	DefaultRole(ctx context.Context) (*access.Role, error)
	RolesByIDs(ctx context.Context, ids []string) ([]access.Role, error)
}

// VerificationService is the opaque side channel for email codes.
// *verify.Service satisfies it.
type VerificationService interface {
	SendEmailCode(ctx context.Context, email string) error
	IsCodeValid(ctx context.Context, typ verify.CodeType, code, origin string) (bool, error)
}
