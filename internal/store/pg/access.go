package pg

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	"authgate.org/internal/access"
)

func (s *Store) FindRoleBySlug(ctx context.Context, slug string) (*access.Role, error) {
	return s.findRole(ctx, `where slug = $1`, slug)
}

func (s *Store) FindRoleByID(ctx context.Context, id string) (*access.Role, error) {
	return s.findRole(ctx, `where id = $1`, id)
}

// DefaultRole returns the role new registrations are attached to.
func (s *Store) DefaultRole(ctx context.Context) (*access.Role, error) {
	return s.findRole(ctx, `where is_default order by created_at limit 1`)
}

func (s *Store) findRole(ctx context.Context, where string, args ...any) (*access.Role, error) {
	var r access.Role
	err := s.db.QueryRowContext(ctx, `
		select id, slug, name, active, created_at from roles `+where, args...,
	).Scan(&r.ID, &r.Slug, &r.Name, &r.Active, &r.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, access.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &r, nil
}

// RolesByIDs resolves roles preserving the order of ids. Unknown ids are
// skipped.
func (s *Store) RolesByIDs(ctx context.Context, ids []string) ([]access.Role, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	byID := make(map[string]access.Role, len(ids))
	// database/sql has no native string-slice binding; ids are ULIDs and
	// never contain commas.
	rows, err := s.db.QueryContext(ctx, `
		select id, slug, name, active, created_at
		from roles where id = any(string_to_array($1, ','))
	`, strings.Join(ids, ","))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var r access.Role
		if err := rows.Scan(&r.ID, &r.Slug, &r.Name, &r.Active, &r.CreatedAt); err != nil {
			return nil, err
		}
		byID[r.ID] = r
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	result := make([]access.Role, 0, len(ids))
	for _, id := range ids {
		if r, ok := byID[id]; ok {
			result = append(result, r)
		}
	}
	return result, nil
}

func (s *Store) FindOperation(ctx context.Context, method, path string) (*access.Operation, error) {
	var op access.Operation
	err := s.db.QueryRowContext(ctx, `
		select id, method, path, active, created_at
		from operations where method = $1 and path = $2
	`, method, path).Scan(&op.ID, &op.Method, &op.Path, &op.Active, &op.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, access.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &op, nil
}

func (s *Store) GrantExists(ctx context.Context, roleID, operationID string) (bool, error) {
	var exists bool
	err := s.db.QueryRowContext(ctx, `
		select exists(
			select 1 from grants where role_id = $1 and operation_id = $2
		)
	`, roleID, operationID).Scan(&exists)
	if err != nil {
		return false, err
	}
	return exists, nil
}
