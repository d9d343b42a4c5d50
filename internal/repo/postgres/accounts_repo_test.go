package postgres_test

import (
	"context"
	"errors"
	"os"
	"testing"

	"github.com/geocoder89/edms/internal/db"
	"github.com/geocoder89/edms/internal/domain/account"
	"github.com/geocoder89/edms/internal/repo/postgres"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// These tests need a disposable database: TEST_DB_DSN=postgres://... go test ./...
func newRepo(t *testing.T) *postgres.AccountsRepo {
	t.Helper()

	dsn := os.Getenv("TEST_DB_DSN")
	if dsn == "" {
		t.Skip("TEST_DB_DSN not set; skipping postgres integration tests")
	}

	ctx := context.Background()
	pool, err := db.NewPool(ctx, dsn, 4)
	require.NoError(t, err)
	t.Cleanup(pool.Close)

	h := db.NewPostgresHandle(pool)
	require.NoError(t, h.Migrate(ctx))

	_, err = pool.Exec(ctx, `TRUNCATE accounts RESTART IDENTITY`)
	require.NoError(t, err)

	return postgres.NewAccountsRepo(pool, nil)
}

func strPtr(s string) *string { return &s }

func TestAccountsRepo_Postgres_CRUD(t *testing.T) {
	r := newRepo(t)
	ctx := context.Background()

	created, err := r.Insert(ctx, account.Account{
		Username:     "alice",
		Email:        strPtr("alice@example.com"),
		PasswordHash: "h",
		Role:         account.RoleAdmin,
		Status:       account.StatusActive,
	})
	require.NoError(t, err)
	assert.Equal(t, int64(1), created.ID)

	got, err := r.GetByUsername(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, created.ID, got.ID)

	staff := account.RoleStaff
	updated, err := r.Update(ctx, created.ID, account.Changes{Role: &staff})
	require.NoError(t, err)
	assert.Equal(t, account.RoleStaff, updated.Role)
	assert.Equal(t, "alice", updated.Username)
	assert.False(t, updated.UpdatedAt.Before(created.UpdatedAt))

	list, err := r.List(ctx, account.ListFilter{})
	require.NoError(t, err)
	assert.Len(t, list, 1)

	deleted, err := r.Delete(ctx, created.ID)
	require.NoError(t, err)
	assert.True(t, deleted)

	_, err = r.GetByID(ctx, created.ID)
	assert.ErrorIs(t, err, account.ErrNotFound)
}

func TestAccountsRepo_Postgres_UniqueViolation(t *testing.T) {
	r := newRepo(t)
	ctx := context.Background()

	base := account.Account{Username: "alice", Email: strPtr("a@example.com"), PasswordHash: "h", Role: account.RoleStaff, Status: account.StatusActive}
	_, err := r.Insert(ctx, base)
	require.NoError(t, err)

	_, err = r.Insert(ctx, base)
	var ce *account.ConstraintError
	require.True(t, errors.As(err, &ce), "got %v", err)
	assert.Equal(t, "username", ce.Field)

	base.Username = "bob"
	_, err = r.Insert(ctx, base)
	require.True(t, errors.As(err, &ce), "got %v", err)
	assert.Equal(t, "email", ce.Field)
}

func TestAccountsRepo_Postgres_ListPaging(t *testing.T) {
	r := newRepo(t)
	ctx := context.Background()

	for _, name := range []string{"a", "b", "c"} {
		_, err := r.Insert(ctx, account.Account{Username: name, PasswordHash: "h", Role: account.RoleStaff, Status: account.StatusActive})
		require.NoError(t, err)
	}

	limit := 1
	got, err := r.List(ctx, account.ListFilter{Limit: &limit, Offset: 1})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "b", got[0].Username)
}
