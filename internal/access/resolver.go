package access

import (
	"context"
	"errors"
	"fmt"

	"authgate.org/internal/obs"
)

// Actor identifies who is asking. The zero value is the guest actor.
type Actor struct {
	UserID string
}

// Guest is the unauthenticated actor.
var Guest = Actor{}

// IsGuest reports whether the actor carries no user identity.
func (a Actor) IsGuest() bool { return a.UserID == "" }

// User returns an authenticated actor.
func User(id string) Actor { return Actor{UserID: id} }

// Decision is the outcome of an authorization check.
type Decision bool

const (
	Allowed Decision = true
	Denied  Decision = false
)

func (d Decision) String() string {
	if d == Allowed {
		return "allowed"
	}
	return "denied"
}

// Resolver evaluates (actor, method, path) triples against the directories.
type Resolver struct {
	roles      RoleDirectory
	operations OperationDirectory
	grants     GrantDirectory
	subjects   SubjectDirectory
}

// NewResolver wires a resolver from its directory collaborators.
func NewResolver(roles RoleDirectory, operations OperationDirectory, grants GrantDirectory, subjects SubjectDirectory) (*Resolver, error) {
	if roles == nil || operations == nil || grants == nil || subjects == nil {
		return nil, errors.New("access: all directories are required")
	}
	return &Resolver{roles: roles, operations: operations, grants: grants, subjects: subjects}, nil
}

// Authorize resolves whether the actor may invoke (method, path).
//
// An absent or inactive operation denies unconditionally; not even
// super_admin overrides that. A guest is allowed only through a grant on the
// reserved guest role. An authenticated actor is evaluated role by role, in
// stored order: super_admin short-circuits to Allowed; otherwise the first
// grant found while no denial flag is set wins.
//
// The denial flag set by a missing/inactive user or role is checked only at
// the moment a grant matches; a later role whose grant is inspected after
// the flag was set is denied, but super_admin still wins outright. Callers
// depend on this exact ordering; do not tighten it.
func (r *Resolver) Authorize(ctx context.Context, actor Actor, method, path string) (Decision, error) {
	decision, err := r.authorize(ctx, actor, method, path)
	if err != nil {
		return Denied, err
	}
	obs.CountAuthzDecision(decision.String())
	return decision, nil
}

func (r *Resolver) authorize(ctx context.Context, actor Actor, method, path string) (Decision, error) {
	op, err := r.operations.FindOperation(ctx, method, path)
	if err != nil && !errors.Is(err, ErrNotFound) {
		return Denied, fmt.Errorf("access: lookup operation: %w", err)
	}
	if op == nil || !op.Active {
		return Denied, nil
	}

	if actor.IsGuest() {
		guestRole, err := r.roles.FindRoleBySlug(ctx, SlugGuest)
		if err != nil {
			if errors.Is(err, ErrNotFound) {
				return Denied, nil
			}
			return Denied, fmt.Errorf("access: lookup guest role: %w", err)
		}
		granted, err := r.grants.GrantExists(ctx, guestRole.ID, op.ID)
		if err != nil {
			return Denied, fmt.Errorf("access: lookup guest grant: %w", err)
		}
		if granted {
			return Allowed, nil
		}
		return Denied, nil
	}

	allowed := true

	subject, err := r.subjects.FindSubject(ctx, actor.UserID)
	if err != nil && !errors.Is(err, ErrNotFound) {
		return Denied, fmt.Errorf("access: lookup subject: %w", err)
	}
	if subject == nil || !subject.Active {
		allowed = false
	}
	if subject == nil {
		return Denied, nil
	}

	for _, roleID := range subject.RoleIDs {
		role, err := r.roles.FindRoleByID(ctx, roleID)
		if err != nil && !errors.Is(err, ErrNotFound) {
			return Denied, fmt.Errorf("access: lookup role: %w", err)
		}
		if role == nil || !role.Active {
			allowed = false
			if role == nil {
				continue
			}
		}
		if role.Slug == SlugSuperAdmin {
			return Allowed, nil
		}
		granted, err := r.grants.GrantExists(ctx, role.ID, op.ID)
		if err != nil {
			return Denied, fmt.Errorf("access: lookup grant: %w", err)
		}
		if granted && allowed {
			return Allowed, nil
		}
	}
	return Denied, nil
}
