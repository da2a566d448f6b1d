package identity

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/samber/oops"
)

// DBTX is the subset of *pgxpool.Pool the store needs. pgxmock pools satisfy it too.
type DBTX interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PostgresStore implements Store over PostgreSQL.
//
// The pool is owned by the caller; this store must NOT close it.
// Schema/table identifiers are quoted to avoid injection via identifiers.
type PostgresStore struct {
	db     DBTX
	schema string
	now    func() time.Time
}

// PostgresOption configures the store.
type PostgresOption func(*PostgresStore) error

var pgIdentRe = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// WithSchema sets the Postgres schema holding the users table (default "public").
func WithSchema(schema string) PostgresOption {
	return func(s *PostgresStore) error {
		schema = strings.TrimSpace(schema)
		if schema == "" {
			return fmt.Errorf("identity: empty schema")
		}
		if !pgIdentRe.MatchString(schema) {
			return fmt.Errorf("identity: invalid schema identifier")
		}
		s.schema = schema
		return nil
	}
}

// WithClock overrides the time source used for created/updated timestamps.
func WithClock(now func() time.Time) PostgresOption {
	return func(s *PostgresStore) error {
		if now == nil {
			return fmt.Errorf("identity: nil clock")
		}
		s.now = now
		return nil
	}
}

// NewPostgresStore constructs a PostgresStore.
func NewPostgresStore(db DBTX, opts ...PostgresOption) (*PostgresStore, error) {
	st := &PostgresStore{
		db:     db,
		schema: "public",
		now:    func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt(st); err != nil {
			return nil, err
		}
	}
	if st.db == nil {
		return nil, fmt.Errorf("identity: nil pool")
	}
	return st, nil
}

const userColumns = `id, username, email, password_hash, refresh_tokens, created_at, updated_at`

func (s *PostgresStore) users() string { return pgIdent(s.schema, "users") }

func (s *PostgresStore) FindByUsername(ctx context.Context, username string) (User, error) {
	return s.findOne(ctx, "identity.FindByUsername", "username_norm", NormalizeUsername(username))
}

func (s *PostgresStore) FindByEmail(ctx context.Context, email string) (User, error) {
	return s.findOne(ctx, "identity.FindByEmail", "email_norm", NormalizeEmail(email))
}

func (s *PostgresStore) FindByID(ctx context.Context, id string) (User, error) {
	return s.findOne(ctx, "identity.FindByID", "id", strings.TrimSpace(id))
}

// findOne selects a single user by one of the fixed key columns. column is
// never caller-controlled.
func (s *PostgresStore) findOne(ctx context.Context, op, column, key string) (User, error) {
	if key == "" {
		return User{}, userNotFound(op)
	}

	var u User
	err := s.db.QueryRow(ctx,
		`SELECT `+userColumns+` FROM `+s.users()+` WHERE `+column+` = $1`,
		key,
	).Scan(&u.ID, &u.Username, &u.Email, &u.PasswordHash, &u.RefreshTokens, &u.CreatedAt, &u.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return User{}, userNotFound(op)
		}
		return User{}, wrapQuery(op, err)
	}
	if u.RefreshTokens == nil {
		u.RefreshTokens = []string{}
	}
	return u, nil
}

func (s *PostgresStore) Insert(ctx context.Context, u User) error {
	const op = "identity.Insert"

	if strings.TrimSpace(u.ID) == "" {
		return invalid(op, "missing id")
	}
	uname := NormalizeUsername(u.Username)
	email := NormalizeEmail(u.Email)
	if uname == "" || email == "" {
		return invalid(op, "username and email are required")
	}

	created := u.CreatedAt
	if created.IsZero() {
		created = s.now()
	}
	tokens := u.RefreshTokens
	if tokens == nil {
		tokens = []string{}
	}

	_, err := s.db.Exec(ctx,
		`INSERT INTO `+s.users()+` (
		     id, username, username_norm, email, email_norm, password_hash, refresh_tokens, created_at, updated_at
		   ) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $8)`,
		u.ID,
		strings.TrimSpace(u.Username),
		uname,
		strings.TrimSpace(u.Email),
		email,
		u.PasswordHash,
		tokens,
		created,
	)
	if err != nil {
		if field, ok := pgClassifyUniqueViolation(err); ok {
			return ConflictError{Op: op, Field: field}
		}
		return wrapQuery(op, err)
	}
	return nil
}

// SwapRefreshTokens is a single conditional UPDATE: Postgres compares arrays
// element-wise in order, so the row only changes while it still holds prev.
func (s *PostgresStore) SwapRefreshTokens(ctx context.Context, id string, prev, next []string) error {
	const op = "identity.SwapRefreshTokens"

	if prev == nil {
		prev = []string{}
	}
	if next == nil {
		next = []string{}
	}

	tag, err := s.db.Exec(ctx,
		`UPDATE `+s.users()+`
		    SET refresh_tokens = $3, updated_at = $4
		  WHERE id = $1 AND refresh_tokens = $2`,
		id, prev, next, s.now(),
	)
	if err != nil {
		return wrapQuery(op, err)
	}
	if tag.RowsAffected() == 1 {
		return nil
	}

	// Either the row is gone or the set moved underneath us.
	if _, err := s.FindByID(ctx, id); err != nil {
		return err
	}
	return stale(op)
}

func (s *PostgresStore) UpdatePasswordHash(ctx context.Context, id, hash string) error {
	const op = "identity.UpdatePasswordHash"
	if strings.TrimSpace(hash) == "" {
		return invalid(op, "missing password hash")
	}
	return s.updateRow(ctx, op,
		`UPDATE `+s.users()+` SET password_hash = $2, updated_at = $3 WHERE id = $1`,
		id, hash, s.now(),
	)
}

func (s *PostgresStore) UpdateEmail(ctx context.Context, id, email string) error {
	const op = "identity.UpdateEmail"
	norm := NormalizeEmail(email)
	if norm == "" {
		return invalid(op, "missing email")
	}
	return s.updateRow(ctx, op,
		`UPDATE `+s.users()+` SET email = $2, email_norm = $3, updated_at = $4 WHERE id = $1`,
		id, strings.TrimSpace(email), norm, s.now(),
	)
}

func (s *PostgresStore) UpdateUsername(ctx context.Context, id, username string) error {
	const op = "identity.UpdateUsername"
	norm := NormalizeUsername(username)
	if norm == "" {
		return invalid(op, "missing username")
	}
	return s.updateRow(ctx, op,
		`UPDATE `+s.users()+` SET username = $2, username_norm = $3, updated_at = $4 WHERE id = $1`,
		id, strings.TrimSpace(username), norm, s.now(),
	)
}

func (s *PostgresStore) updateRow(ctx context.Context, op, sql string, args ...any) error {
	tag, err := s.db.Exec(ctx, sql, args...)
	if err != nil {
		if field, ok := pgClassifyUniqueViolation(err); ok {
			return ConflictError{Op: op, Field: field}
		}
		return wrapQuery(op, err)
	}
	if tag.RowsAffected() == 0 {
		return userNotFound(op)
	}
	return nil
}

// pgIdent safely quotes a schema-qualified identifier: "schema"."name".
func pgIdent(schema, name string) string {
	return pgx.Identifier{schema, name}.Sanitize()
}

func wrapQuery(op string, err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return oops.In("identity").Code("STORE_QUERY_FAILED").With("op", op).Wrap(err)
}

func pgClassifyUniqueViolation(err error) (field string, ok bool) {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) || pgErr.Code != pgerrcode.UniqueViolation {
		return "", false
	}

	// Prefer stable constraint names; fall back to substring matching.
	c := strings.ToLower(strings.TrimSpace(pgErr.ConstraintName))
	switch {
	case c == "uq_users_username_norm", strings.Contains(c, "username"):
		return "username", true
	case c == "uq_users_email_norm", strings.Contains(c, "email"):
		return "email", true
	case c == "users_pkey":
		return "id", true
	default:
		// Unknown constraint: still a conflict, but not attributable to a field.
		return "", true
	}
}
