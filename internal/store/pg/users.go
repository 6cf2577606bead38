package pg

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"authgate.org/internal/access"
	"authgate.org/internal/auth"
)

func (s *Store) FindUserByEmail(ctx context.Context, email string) (*auth.User, error) {
	return s.findUser(ctx, `where email = $1`, email)
}

func (s *Store) FindUserByID(ctx context.Context, id string) (*auth.User, error) {
	return s.findUser(ctx, `where id = $1`, id)
}

func (s *Store) findUser(ctx context.Context, where string, arg any) (*auth.User, error) {
	var u auth.User
	err := s.db.QueryRowContext(ctx, `
		select id, email, password_hash, email_verified, active, created_at, updated_at
		from users `+where,
		arg,
	).Scan(&u.ID, &u.Email, &u.PasswordHash, &u.EmailVerified, &u.Active, &u.CreatedAt, &u.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, auth.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	roleIDs, err := s.roleIDsForUser(ctx, u.ID)
	if err != nil {
		return nil, err
	}
	u.RoleIDs = roleIDs
	return &u, nil
}

// roleIDsForUser returns the user's role ids in attachment order.
func (s *Store) roleIDsForUser(ctx context.Context, userID string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		select role_id from user_roles where user_id = $1 order by position
	`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// CreateUser inserts the user and its role attachments in one transaction.
func (s *Store) CreateUser(ctx context.Context, u *auth.User) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `
		insert into users(id, email, password_hash, email_verified, active)
		values ($1,$2,$3,$4,$5)
	`, u.ID, u.Email, u.PasswordHash, u.EmailVerified, u.Active); err != nil {
		if pgErr, ok := maybePgError(err); ok && pgErr.Code == pgErrUniqueViolation {
			return fmt.Errorf("%w: email already registered", auth.ErrValidation)
		}
		return err
	}
	for i, roleID := range u.RoleIDs {
		if _, err := tx.ExecContext(ctx, `
			insert into user_roles(user_id, role_id, position) values ($1,$2,$3)
		`, u.ID, roleID, i); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// UpdatePassword replaces the password hash for the account with the given
// email and marks it verified.
func (s *Store) UpdatePassword(ctx context.Context, email, passwordHash string) error {
	res, err := s.db.ExecContext(ctx, `
		update users set password_hash = $2, email_verified = true, updated_at = now()
		where email = $1
	`, email, passwordHash)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return auth.ErrNotFound
	}
	return nil
}

// FindSubject is the permission resolver's view of a user.
func (s *Store) FindSubject(ctx context.Context, userID string) (*access.Subject, error) {
	var sub access.Subject
	err := s.db.QueryRowContext(ctx, `
		select id, active from users where id = $1
	`, userID).Scan(&sub.ID, &sub.Active)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, access.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	roleIDs, err := s.roleIDsForUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	sub.RoleIDs = roleIDs
	return &sub, nil
}
