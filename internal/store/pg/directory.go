package pg

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"

	"github.com/jackc/pgx/v5/pgconn"

	"gatehouse.org/internal/identity"
)

const uniqueViolation = "23505"

// Directory implements identity.Directory on the principals table. Roles and
// permission claims are stored as jsonb documents.
type Directory struct {
	db *sql.DB
}

var _ identity.Directory = (*Directory)(nil)

const principalColumns = `id, email, display_name, password_hash, roles, permission_claims, managed_by_admin_id, deleted, created_at, updated_at`

func (d *Directory) Create(ctx context.Context, p *identity.Principal) error {
	roles, claims, err := encodeCollections(p)
	if err != nil {
		return err
	}
	_, err = d.db.ExecContext(ctx,
		`insert into principals(id, email, display_name, password_hash, roles, permission_claims, managed_by_admin_id, deleted, created_at, updated_at)
		 values($1,$2,$3,$4,$5,$6,$7,false,$8,$9)`,
		p.ID, p.Email, p.DisplayName, p.PasswordHash, roles, claims,
		nullable(p.ManagedByAdminID), p.CreatedAt, p.UpdatedAt,
	)
	if isUniqueViolation(err) {
		return identity.ErrEmailTaken
	}
	return err
}

func (d *Directory) Find(ctx context.Context, id string) (*identity.Principal, error) {
	row := d.db.QueryRowContext(ctx,
		`select `+principalColumns+` from principals where id=$1`, id)
	return scanPrincipal(row)
}

func (d *Directory) FindByEmail(ctx context.Context, email string) (*identity.Principal, error) {
	row := d.db.QueryRowContext(ctx,
		`select `+principalColumns+` from principals where email=$1 and deleted=false`, email)
	return scanPrincipal(row)
}

func (d *Directory) Update(ctx context.Context, p *identity.Principal) error {
	roles, claims, err := encodeCollections(p)
	if err != nil {
		return err
	}
	res, err := d.db.ExecContext(ctx,
		`update principals
		 set email=$2, display_name=$3, password_hash=$4, roles=$5, permission_claims=$6, managed_by_admin_id=$7, updated_at=$8
		 where id=$1`,
		p.ID, p.Email, p.DisplayName, p.PasswordHash, roles, claims,
		nullable(p.ManagedByAdminID), p.UpdatedAt,
	)
	if isUniqueViolation(err) {
		return identity.ErrEmailTaken
	}
	if err != nil {
		return err
	}
	return requireRow(res)
}

func (d *Directory) SoftDelete(ctx context.Context, id string) error {
	res, err := d.db.ExecContext(ctx,
		`update principals set deleted=true, updated_at=now() where id=$1 and deleted=false`, id)
	if err != nil {
		return err
	}
	return requireRow(res)
}

func (d *Directory) List(ctx context.Context) ([]*identity.Principal, error) {
	rows, err := d.db.QueryContext(ctx,
		`select `+principalColumns+` from principals where deleted=false order by created_at, id`)
	if err != nil {
		return nil, err
	}
	return collectPrincipals(rows)
}

func (d *Directory) ListManagedBy(ctx context.Context, adminID string) ([]*identity.Principal, error) {
	rows, err := d.db.QueryContext(ctx,
		`select `+principalColumns+` from principals where managed_by_admin_id=$1 and deleted=false order by created_at, id`, adminID)
	if err != nil {
		return nil, err
	}
	return collectPrincipals(rows)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanPrincipal(row rowScanner) (*identity.Principal, error) {
	var (
		p         identity.Principal
		roles     []byte
		claims    []byte
		managedBy sql.NullString
	)
	err := row.Scan(&p.ID, &p.Email, &p.DisplayName, &p.PasswordHash,
		&roles, &claims, &managedBy, &p.Deleted, &p.CreatedAt, &p.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, identity.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(roles, &p.Roles); err != nil {
		return nil, err
	}
	if len(claims) > 0 {
		if err := json.Unmarshal(claims, &p.Claims); err != nil {
			return nil, err
		}
	}
	p.ManagedByAdminID = managedBy.String
	return &p, nil
}

func collectPrincipals(rows *sql.Rows) ([]*identity.Principal, error) {
	defer rows.Close()
	var out []*identity.Principal
	for rows.Next() {
		p, err := scanPrincipal(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func encodeCollections(p *identity.Principal) ([]byte, []byte, error) {
	roles, err := json.Marshal(p.Roles)
	if err != nil {
		return nil, nil, err
	}
	claims, err := json.Marshal(p.Claims)
	if err != nil {
		return nil, nil, err
	}
	return roles, claims, nil
}

func nullable(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func requireRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return identity.ErrNotFound
	}
	return nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation
}
