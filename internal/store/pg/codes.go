package pg

import (
	"context"
	"database/sql"
	"errors"

	"authgate.org/internal/verify"
)

func (s *Store) CreateCode(ctx context.Context, c *verify.Code) error {
	_, err := s.db.ExecContext(ctx, `
		insert into verification_codes(id, code_type, origin, hash, expires_at)
		values ($1,$2,$3,$4,$5)
	`, c.ID, string(c.Type), c.Origin, c.Hash, c.ExpiresAt)
	return err
}

// ConsumeCode deletes and returns the newest matching code, making every
// code single-use even under concurrent submissions.
func (s *Store) ConsumeCode(ctx context.Context, typ verify.CodeType, origin, hash string) (*verify.Code, error) {
	var c verify.Code
	var codeType string
	err := s.db.QueryRowContext(ctx, `
		delete from verification_codes
		where id = (
			select id from verification_codes
			where code_type = $1 and origin = $2 and hash = $3
			order by created_at desc
			limit 1
		)
		returning id, code_type, origin, hash, expires_at, created_at
	`, string(typ), origin, hash).Scan(&c.ID, &codeType, &c.Origin, &c.Hash, &c.ExpiresAt, &c.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, verify.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	c.Type = verify.CodeType(codeType)
	return &c, nil
}
