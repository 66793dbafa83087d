// Package postgres is the durable cafeauth.CredentialStore. Uniqueness of
// email and username per principal type is enforced by case-insensitive
// unique indexes, so a racing duplicate insert surfaces as
// cafeauth.ErrConflict rather than a second row.
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/brewline/cafeauth"
)

const uniqueViolation = "23505"

// DBTX is the subset of database/sql used by Store. Both *sql.DB and
// *sql.Tx satisfy it.
type DBTX interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

var _ cafeauth.CredentialStore = (*Store)(nil)

type Store struct {
	db  DBTX
	now func() time.Time
}

func New(db DBTX) *Store {
	return &Store{db: db, now: time.Now}
}

// WithClock overrides the timestamp source for created_at/updated_at.
func (s *Store) WithClock(now func() time.Time) *Store {
	if now != nil {
		s.now = now
	}
	return s
}

const principalColumns = `id, type, email, username, full_name, phone, password_hash, role, status,
	remembered_until, last_login_at, created_at, updated_at`

func (s *Store) FindByEmail(ctx context.Context, t cafeauth.PrincipalType, email string) (cafeauth.Principal, error) {
	query := `SELECT ` + principalColumns + ` FROM principals
		WHERE type = $1 AND lower(email) = lower($2)`

	p, err := scanPrincipal(s.db.QueryRowContext(ctx, query, string(t), email))
	if err != nil {
		return cafeauth.Principal{}, wrapLookup("find principal by email", err)
	}
	return p, nil
}

func (s *Store) FindByUsername(ctx context.Context, t cafeauth.PrincipalType, username string) (cafeauth.Principal, error) {
	if username == "" {
		return cafeauth.Principal{}, cafeauth.ErrNotFound
	}

	query := `SELECT ` + principalColumns + ` FROM principals
		WHERE type = $1 AND lower(username) = lower($2)`

	p, err := scanPrincipal(s.db.QueryRowContext(ctx, query, string(t), username))
	if err != nil {
		return cafeauth.Principal{}, wrapLookup("find principal by username", err)
	}
	return p, nil
}

func (s *Store) FindByID(ctx context.Context, id string) (cafeauth.Principal, error) {
	if _, err := uuid.Parse(id); err != nil {
		return cafeauth.Principal{}, cafeauth.ErrNotFound
	}

	query := `SELECT ` + principalColumns + ` FROM principals WHERE id = $1`

	p, err := scanPrincipal(s.db.QueryRowContext(ctx, query, id))
	if err != nil {
		return cafeauth.Principal{}, wrapLookup("find principal by id", err)
	}
	return p, nil
}

func (s *Store) Create(ctx context.Context, p cafeauth.Principal) (cafeauth.Principal, error) {
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	now := s.now().UTC()
	if p.CreatedAt.IsZero() {
		p.CreatedAt = now
	}
	p.UpdatedAt = now

	query := `INSERT INTO principals (` + principalColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`

	_, err := s.db.ExecContext(ctx, query,
		p.ID, string(p.Type), p.Email, nullString(p.Username), p.FullName, p.Phone,
		p.PasswordHash, string(p.Role), string(p.Status),
		nullTime(p.RememberedUntil), nullTime(p.LastLoginAt), p.CreatedAt, p.UpdatedAt,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return cafeauth.Principal{}, cafeauth.ErrConflict
		}
		return cafeauth.Principal{}, fmt.Errorf("postgres: create principal: %w", err)
	}
	return p, nil
}

// Update applies upd in a single statement. Nil fields keep their column
// value through COALESCE.
func (s *Store) Update(ctx context.Context, id string, upd cafeauth.PrincipalUpdate) error {
	if _, err := uuid.Parse(id); err != nil {
		return cafeauth.ErrNotFound
	}

	query := `UPDATE principals SET
		password_hash = COALESCE($2, password_hash),
		status = COALESCE($3, status),
		remembered_until = CASE WHEN $4 THEN NULL ELSE COALESCE($5, remembered_until) END,
		last_login_at = COALESCE($6, last_login_at),
		updated_at = $7
		WHERE id = $1`

	var status sql.NullString
	if upd.Status != nil {
		status = sql.NullString{String: string(*upd.Status), Valid: true}
	}
	var hash sql.NullString
	if upd.PasswordHash != nil {
		hash = sql.NullString{String: *upd.PasswordHash, Valid: true}
	}

	res, err := s.db.ExecContext(ctx, query,
		id, hash, status, upd.ClearRememberedUntil,
		nullTime(upd.RememberedUntil), nullTime(upd.LastLoginAt), s.now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("postgres: update principal: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("postgres: update principal: %w", err)
	}
	if n == 0 {
		return cafeauth.ErrNotFound
	}
	return nil
}

func scanPrincipal(row *sql.Row) (cafeauth.Principal, error) {
	var (
		p               cafeauth.Principal
		typ, role, stat string
		username        sql.NullString
		remembered      sql.NullTime
		lastLogin       sql.NullTime
	)
	err := row.Scan(
		&p.ID, &typ, &p.Email, &username, &p.FullName, &p.Phone, &p.PasswordHash, &role, &stat,
		&remembered, &lastLogin, &p.CreatedAt, &p.UpdatedAt,
	)
	if err != nil {
		return cafeauth.Principal{}, err
	}

	p.Type = cafeauth.PrincipalType(typ)
	p.Role = cafeauth.Role(role)
	p.Status = cafeauth.Status(stat)
	p.Username = username.String
	if remembered.Valid {
		t := remembered.Time.UTC()
		p.RememberedUntil = &t
	}
	if lastLogin.Valid {
		t := lastLogin.Time.UTC()
		p.LastLoginAt = &t
	}
	p.CreatedAt = p.CreatedAt.UTC()
	p.UpdatedAt = p.UpdatedAt.UTC()
	return p, nil
}

func wrapLookup(op string, err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return cafeauth.ErrNotFound
	}
	return fmt.Errorf("postgres: %s: %w", op, err)
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: t.UTC(), Valid: true}
}
