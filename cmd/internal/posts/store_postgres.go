package posts

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/samber/oops"
)

// DBTX is the subset of *pgxpool.Pool the store needs.
type DBTX interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PostgresStore implements Store over the posts table. The pool is owned by the caller.
type PostgresStore struct {
	db DBTX
}

// NewPostgresStore constructs a PostgresStore.
func NewPostgresStore(db DBTX) (*PostgresStore, error) {
	if db == nil {
		return nil, errors.New("posts: nil pool")
	}
	return &PostgresStore{db: db}, nil
}

const postColumns = `id, owner_id, text, created_at, updated_at`

func (s *PostgresStore) List(ctx context.Context, ownerID string) ([]Post, error) {
	const op = "posts.List"

	var (
		rows pgx.Rows
		err  error
	)
	if ownerID == "" {
		rows, err = s.db.Query(ctx, `SELECT `+postColumns+` FROM posts ORDER BY created_at, id`)
	} else {
		rows, err = s.db.Query(ctx, `SELECT `+postColumns+` FROM posts WHERE owner_id = $1 ORDER BY created_at, id`, ownerID)
	}
	if err != nil {
		return nil, wrapQuery(op, err)
	}

	out, err := pgx.CollectRows(rows, func(r pgx.CollectableRow) (Post, error) { return scanPost(r) })
	if err != nil {
		return nil, wrapQuery(op, err)
	}
	if out == nil {
		out = []Post{}
	}
	return out, nil
}

func (s *PostgresStore) Get(ctx context.Context, id string) (Post, error) {
	row := s.db.QueryRow(ctx, `SELECT `+postColumns+` FROM posts WHERE id = $1`, id)
	p, err := scanPost(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Post{}, ErrNotFound
		}
		return Post{}, wrapQuery("posts.Get", err)
	}
	return p, nil
}

func (s *PostgresStore) Create(ctx context.Context, p Post) error {
	_, err := s.db.Exec(ctx,
		`INSERT INTO posts (`+postColumns+`) VALUES ($1, $2, $3, $4, $5)`,
		p.ID, p.OwnerID, p.Text, p.CreatedAt, p.UpdatedAt,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgerrcode.ForeignKeyViolation {
			return ErrUnknownOwner
		}
		return wrapQuery("posts.Create", err)
	}
	return nil
}

func (s *PostgresStore) UpdateText(ctx context.Context, id, text string, now time.Time) (Post, error) {
	row := s.db.QueryRow(ctx,
		`UPDATE posts SET text = $2, updated_at = $3 WHERE id = $1 RETURNING `+postColumns,
		id, text, now,
	)
	p, err := scanPost(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Post{}, ErrNotFound
		}
		return Post{}, wrapQuery("posts.UpdateText", err)
	}
	return p, nil
}

func (s *PostgresStore) Delete(ctx context.Context, id string) error {
	tag, err := s.db.Exec(ctx, `DELETE FROM posts WHERE id = $1`, id)
	if err != nil {
		return wrapQuery("posts.Delete", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func scanPost(row pgx.Row) (Post, error) {
	var p Post
	err := row.Scan(&p.ID, &p.OwnerID, &p.Text, &p.CreatedAt, &p.UpdatedAt)
	return p, err
}

func wrapQuery(op string, err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return oops.In("posts").Code("STORE_QUERY_FAILED").With("op", op).Wrap(err)
}
