// Package access resolves whether an actor may invoke a protected operation.
// Operations are addressed by (method, path); authorization edges are grants
// between roles and operations.
package access

import (
	"context"
	"errors"
	"time"
)

// Reserved role slugs.
const (
	SlugGuest      = "guest"
	SlugSuperAdmin = "super_admin"
)

// ErrNotFound indicates a directory lookup matched nothing.
var ErrNotFound = errors.New("access: not found")

// Role groups grants under a stable slug.
type Role struct {
	ID        string
	Slug      string
	Name      string
	Active    bool
	CreatedAt time.Time
}

// Operation is the addressable (method, path) unit permission is checked
// against.
type Operation struct {
	ID        string
	Method    string
	Path      string
	Active    bool
	CreatedAt time.Time
}

// Subject is the resolver's view of a user: identity, liveness, and the
// ordered roles attached to it.
type Subject struct {
	ID      string
	Active  bool
	RoleIDs []string
}

// RoleDirectory looks up roles.
type RoleDirectory interface {
	FindRoleBySlug(ctx context.Context, slug string) (*Role, error)
	FindRoleByID(ctx context.Context, id string) (*Role, error)
}

// OperationDirectory looks up protected operations.
type OperationDirectory interface {
	FindOperation(ctx context.Context, method, path string) (*Operation, error)
}

// GrantDirectory answers whether a role may invoke an operation.
type GrantDirectory interface {
	GrantExists(ctx context.Context, roleID, operationID string) (bool, error)
}

// SubjectDirectory looks up subjects by user id.
type SubjectDirectory interface {
	FindSubject(ctx context.Context, userID string) (*Subject, error)
}
