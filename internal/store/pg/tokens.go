package pg

import (
	"context"
	"database/sql"
	"errors"

	"gatehouse.org/internal/session"
)

// TokenStore implements session.TokenStore on the refresh_tokens table.
// Rotation relies on the database for atomicity: the consume step is a
// conditional update checked through rows-affected inside one transaction.
type TokenStore struct {
	db *sql.DB
}

var _ session.TokenStore = (*TokenStore)(nil)

func (s *TokenStore) Create(ctx context.Context, tok *session.RefreshToken) error {
	_, err := s.db.ExecContext(ctx,
		`insert into refresh_tokens(token, owner_id, expires_at, created_at, revoked)
		 values($1,$2,$3,$4,false)`,
		tok.Token, tok.OwnerID, tok.ExpiresAt, tok.CreatedAt,
	)
	return err
}

func (s *TokenStore) Find(ctx context.Context, ownerID, token string) (*session.RefreshToken, error) {
	row := s.db.QueryRowContext(ctx,
		`select token, owner_id, expires_at, created_at, revoked, revoked_reason, replaced_by_token
		 from refresh_tokens where token=$1 and owner_id=$2`,
		token, ownerID,
	)
	var (
		rec        session.RefreshToken
		reason     sql.NullString
		replacedBy sql.NullString
	)
	err := row.Scan(&rec.Token, &rec.OwnerID, &rec.ExpiresAt, &rec.CreatedAt,
		&rec.Revoked, &reason, &replacedBy)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, session.ErrRefreshTokenInvalid
	}
	if err != nil {
		return nil, err
	}
	rec.RevokedReason = session.RevocationReason(reason.String)
	rec.ReplacedByToken = replacedBy.String
	return &rec, nil
}

func (s *TokenStore) Consume(ctx context.Context, ownerID, token string, replacement *session.RefreshToken) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	// Compare-and-set: revoked must still be false here, and only one of
	// multiple concurrent attempts sees rows-affected = 1.
	res, err := tx.ExecContext(ctx,
		`update refresh_tokens
		 set revoked=true, revoked_reason=$3, replaced_by_token=$4
		 where token=$1 and owner_id=$2 and revoked=false`,
		token, ownerID, string(session.ReasonConsumed), replacement.Token,
	)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n != 1 {
		return session.ErrRefreshTokenInvalid
	}
	if _, err := tx.ExecContext(ctx,
		`insert into refresh_tokens(token, owner_id, expires_at, created_at, revoked)
		 values($1,$2,$3,$4,false)`,
		replacement.Token, replacement.OwnerID, replacement.ExpiresAt, replacement.CreatedAt,
	); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *TokenStore) Revoke(ctx context.Context, ownerID, token string, reason session.RevocationReason) error {
	_, err := s.db.ExecContext(ctx,
		`update refresh_tokens set revoked=true, revoked_reason=$3
		 where token=$1 and owner_id=$2 and revoked=false`,
		token, ownerID, string(reason),
	)
	return err
}
