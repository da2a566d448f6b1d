package identity

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/samber/oops"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var fixedNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func newMockStore(t *testing.T) (*PostgresStore, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err, "failed to create mock")
	t.Cleanup(mock.Close)

	s, err := NewPostgresStore(mock, WithClock(func() time.Time { return fixedNow }))
	require.NoError(t, err)
	return s, mock
}

func userRows() *pgxmock.Rows {
	return pgxmock.NewRows([]string{"id", "username", "email", "password_hash", "refresh_tokens", "created_at", "updated_at"})
}

func TestPostgresStore_FindByUsername(t *testing.T) {
	tests := []struct {
		name      string
		setupMock func(mock pgxmock.PgxPoolIface)
		check     func(t *testing.T, u User, err error)
	}{
		{
			name: "found",
			setupMock: func(mock pgxmock.PgxPoolIface) {
				mock.ExpectQuery(`SELECT id, username, email, password_hash, refresh_tokens, created_at, updated_at FROM "public"\."users" WHERE username_norm = \$1`).
					WithArgs("bob").
					WillReturnRows(userRows().AddRow("u1", "Bob", "bob@x.com", "hash", []string{"d1", "d2"}, fixedNow, fixedNow))
			},
			check: func(t *testing.T, u User, err error) {
				require.NoError(t, err)
				assert.Equal(t, "u1", u.ID)
				assert.Equal(t, "Bob", u.Username)
				assert.Equal(t, []string{"d1", "d2"}, u.RefreshTokens)
			},
		},
		{
			name: "no rows",
			setupMock: func(mock pgxmock.PgxPoolIface) {
				mock.ExpectQuery(`FROM "public"\."users" WHERE username_norm = \$1`).
					WithArgs("bob").
					WillReturnRows(userRows())
			},
			check: func(t *testing.T, _ User, err error) {
				assert.True(t, IsNotFound(err), "got %v", err)
			},
		},
		{
			name: "database error is wrapped",
			setupMock: func(mock pgxmock.PgxPoolIface) {
				mock.ExpectQuery(`FROM "public"\."users" WHERE username_norm = \$1`).
					WithArgs("bob").
					WillReturnError(errors.New("connection refused"))
			},
			check: func(t *testing.T, _ User, err error) {
				require.Error(t, err)
				assert.Contains(t, err.Error(), "connection refused")
				oopsErr, ok := oops.AsOops(err)
				require.True(t, ok)
				assert.Equal(t, "STORE_QUERY_FAILED", oopsErr.Code())
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, mock := newMockStore(t)
			tt.setupMock(mock)

			u, err := s.FindByUsername(context.Background(), "  BOB ")
			tt.check(t, u, err)

			assert.NoError(t, mock.ExpectationsWereMet(), "unfulfilled expectations")
		})
	}
}

func TestPostgresStore_Insert(t *testing.T) {
	insertArgs := []any{"u1", "Bob", "bob", "Bob@x.com", "bob@x.com", "hash", pgxmock.AnyArg(), fixedNow}

	tests := []struct {
		name      string
		setupMock func(mock pgxmock.PgxPoolIface)
		wantField    string
		wantConflict bool
		wantErr      bool
	}{
		{
			name: "success",
			setupMock: func(mock pgxmock.PgxPoolIface) {
				mock.ExpectExec(`INSERT INTO "public"\."users"`).
					WithArgs(insertArgs...).
					WillReturnResult(pgxmock.NewResult("INSERT", 1))
			},
		},
		{
			name: "username taken",
			setupMock: func(mock pgxmock.PgxPoolIface) {
				mock.ExpectExec(`INSERT INTO "public"\."users"`).
					WithArgs(insertArgs...).
					WillReturnError(&pgconn.PgError{Code: pgerrcode.UniqueViolation, ConstraintName: "uq_users_username_norm"})
			},
			wantErr:   true,
			wantField: "username",
		},
		{
			name: "email taken",
			setupMock: func(mock pgxmock.PgxPoolIface) {
				mock.ExpectExec(`INSERT INTO "public"\."users"`).
					WithArgs(insertArgs...).
					WillReturnError(&pgconn.PgError{Code: pgerrcode.UniqueViolation, ConstraintName: "uq_users_email_norm"})
			},
			wantErr:   true,
			wantField: "email",
		},
		{
			name: "unknown unique constraint",
			setupMock: func(mock pgxmock.PgxPoolIface) {
				mock.ExpectExec(`INSERT INTO "public"\."users"`).
					WithArgs(insertArgs...).
					WillReturnError(&pgconn.PgError{Code: pgerrcode.UniqueViolation, ConstraintName: "uq_other"})
			},
			wantErr:      true,
			wantConflict: true,
		},
		{
			name: "other failure",
			setupMock: func(mock pgxmock.PgxPoolIface) {
				mock.ExpectExec(`INSERT INTO "public"\."users"`).
					WithArgs(insertArgs...).
					WillReturnError(errors.New("disk full"))
			},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, mock := newMockStore(t)
			tt.setupMock(mock)

			err := s.Insert(context.Background(), User{
				ID:           "u1",
				Username:     " Bob ",
				Email:        "Bob@x.com",
				PasswordHash: "hash",
			})
			if !tt.wantErr {
				require.NoError(t, err)
			} else {
				require.Error(t, err)
				field, ok := ConflictField(err)
				assert.Equal(t, tt.wantField != "" || tt.wantConflict, ok)
				assert.Equal(t, ok, IsConflict(err))
				assert.Equal(t, tt.wantField, field)
			}
			assert.NoError(t, mock.ExpectationsWereMet(), "unfulfilled expectations")
		})
	}
}

func TestPostgresStore_SwapRefreshTokens(t *testing.T) {
	const update = `UPDATE "public"\."users"\s+SET refresh_tokens = \$3, updated_at = \$4\s+WHERE id = \$1 AND refresh_tokens = \$2`

	t.Run("applied", func(t *testing.T) {
		s, mock := newMockStore(t)
		mock.ExpectExec(update).
			WithArgs("u1", pgxmock.AnyArg(), pgxmock.AnyArg(), fixedNow).
			WillReturnResult(pgxmock.NewResult("UPDATE", 1))

		require.NoError(t, s.SwapRefreshTokens(context.Background(), "u1", []string{"a"}, []string{"b"}))
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("stale", func(t *testing.T) {
		s, mock := newMockStore(t)
		mock.ExpectExec(update).
			WithArgs("u1", pgxmock.AnyArg(), pgxmock.AnyArg(), fixedNow).
			WillReturnResult(pgxmock.NewResult("UPDATE", 0))
		mock.ExpectQuery(`FROM "public"\."users" WHERE id = \$1`).
			WithArgs("u1").
			WillReturnRows(userRows().AddRow("u1", "Bob", "bob@x.com", "hash", []string{"z"}, fixedNow, fixedNow))

		err := s.SwapRefreshTokens(context.Background(), "u1", []string{"a"}, []string{"b"})
		assert.True(t, IsStale(err), "got %v", err)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("user gone", func(t *testing.T) {
		s, mock := newMockStore(t)
		mock.ExpectExec(update).
			WithArgs("u1", pgxmock.AnyArg(), pgxmock.AnyArg(), fixedNow).
			WillReturnResult(pgxmock.NewResult("UPDATE", 0))
		mock.ExpectQuery(`FROM "public"\."users" WHERE id = \$1`).
			WithArgs("u1").
			WillReturnRows(userRows())

		err := s.SwapRefreshTokens(context.Background(), "u1", nil, []string{"b"})
		assert.True(t, IsNotFound(err), "got %v", err)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestPostgresStore_UpdateEmail(t *testing.T) {
	const update = `UPDATE "public"\."users" SET email = \$2, email_norm = \$3, updated_at = \$4 WHERE id = \$1`

	t.Run("ok", func(t *testing.T) {
		s, mock := newMockStore(t)
		mock.ExpectExec(update).
			WithArgs("u1", "New@x.com", "new@x.com", fixedNow).
			WillReturnResult(pgxmock.NewResult("UPDATE", 1))
		require.NoError(t, s.UpdateEmail(context.Background(), "u1", " New@x.com "))
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("missing user", func(t *testing.T) {
		s, mock := newMockStore(t)
		mock.ExpectExec(update).
			WithArgs("u1", "a@x.com", "a@x.com", fixedNow).
			WillReturnResult(pgxmock.NewResult("UPDATE", 0))
		assert.True(t, IsNotFound(s.UpdateEmail(context.Background(), "u1", "a@x.com")))
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("conflict", func(t *testing.T) {
		s, mock := newMockStore(t)
		mock.ExpectExec(update).
			WithArgs("u1", "a@x.com", "a@x.com", fixedNow).
			WillReturnError(&pgconn.PgError{Code: pgerrcode.UniqueViolation, ConstraintName: "uq_users_email_norm"})
		field, ok := ConflictField(s.UpdateEmail(context.Background(), "u1", "a@x.com"))
		assert.True(t, ok)
		assert.Equal(t, "email", field)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("blank input never reaches the database", func(t *testing.T) {
		s, mock := newMockStore(t)
		assert.True(t, IsInvalidInput(s.UpdateEmail(context.Background(), "u1", "   ")))
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestNewPostgresStore_Options(t *testing.T) {
	_, err := NewPostgresStore(nil)
	assert.Error(t, err)

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	_, err = NewPostgresStore(mock, WithSchema("bad-schema;"))
	assert.Error(t, err)

	s, err := NewPostgresStore(mock, WithSchema("app"))
	require.NoError(t, err)
	assert.Equal(t, `"app"."users"`, s.users())
}
