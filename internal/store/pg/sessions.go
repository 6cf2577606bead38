package pg

import (
	"context"
	"database/sql"
	"errors"

	"authgate.org/internal/session"
)

// ReplaceActive deactivates any active session for (UserID, DeviceID) and
// inserts s as the active one, in a single transaction. The partial unique
// index over (user_id, device_id) where active makes the insert the
// serialization point: of two concurrent replacements, the loser hits a
// unique violation and reports session.ErrConflict instead of leaving a
// second active row.
func (s *Store) ReplaceActive(ctx context.Context, sess *session.Session) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `
		update sessions set active = false, updated_at = now()
		where user_id = $1 and device_id = $2 and active
	`, sess.UserID, sess.DeviceID); err != nil {
		return err
	}

	if _, err := tx.ExecContext(ctx, `
		insert into sessions(id, user_id, device_id, access_token, refresh_token,
			platform, origin, user_agent, active)
		values ($1,$2,$3,$4,$5,$6,$7,$8,true)
	`, sess.ID, sess.UserID, sess.DeviceID, sess.AccessToken, sess.RefreshToken,
		sess.Platform, sess.Origin, sess.UserAgent); err != nil {
		if pgErr, ok := maybePgError(err); ok && pgErr.Code == pgErrUniqueViolation {
			return session.ErrConflict
		}
		return err
	}

	return tx.Commit()
}

// RotateAccessToken updates only the access token, conditional on all three
// keys matching an active row.
func (s *Store) RotateAccessToken(ctx context.Context, userID, deviceID, refreshToken, newAccessToken string) error {
	var id string
	err := s.db.QueryRowContext(ctx, `
		update sessions set access_token = $4, updated_at = now()
		where user_id = $1 and device_id = $2 and refresh_token = $3 and active
		returning id
	`, userID, deviceID, refreshToken, newAccessToken).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return session.ErrNotFound
	}
	return err
}

func (s *Store) FindActiveByRefresh(ctx context.Context, refreshToken, deviceID string) (*session.Session, error) {
	var sess session.Session
	err := s.db.QueryRowContext(ctx, `
		select id, user_id, device_id, access_token, refresh_token,
			platform, origin, user_agent, active, created_at, updated_at
		from sessions
		where refresh_token = $1 and device_id = $2 and active
	`, refreshToken, deviceID).Scan(
		&sess.ID, &sess.UserID, &sess.DeviceID, &sess.AccessToken, &sess.RefreshToken,
		&sess.Platform, &sess.Origin, &sess.UserAgent, &sess.Active, &sess.CreatedAt, &sess.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, session.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &sess, nil
}

func (s *Store) Deactivate(ctx context.Context, userID, deviceID string) error {
	res, err := s.db.ExecContext(ctx, `
		update sessions set active = false, updated_at = now()
		where user_id = $1 and device_id = $2 and active
	`, userID, deviceID)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return session.ErrNotFound
	}
	return nil
}
