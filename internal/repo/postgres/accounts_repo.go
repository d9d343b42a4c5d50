package postgres

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/geocoder89/edms/internal/domain/account"
	"github.com/geocoder89/edms/internal/observability"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

const accountColumns = `id, username, email, password_hash, role, status, created_at, updated_at`

type AccountsRepo struct {
	pool *pgxpool.Pool
	prom *observability.Prom
	now  func() time.Time
}

func NewAccountsRepo(pool *pgxpool.Pool, prom *observability.Prom) *AccountsRepo {
	return &AccountsRepo{
		pool: pool,
		prom: prom,
		now:  func() time.Time { return time.Now().UTC() },
	}
}

var _ account.Store = (*AccountsRepo)(nil)

func (r *AccountsRepo) Insert(ctx context.Context, a account.Account) (account.Account, error) {
	var out account.Account

	now := r.now()
	if a.CreatedAt.IsZero() {
		a.CreatedAt = now
	}
	if a.UpdatedAt.IsZero() {
		a.UpdatedAt = a.CreatedAt
	}

	err := r.prom.ObserveDB("accounts.insert", func() error {
		row := r.pool.QueryRow(ctx, `
			INSERT INTO accounts (username, email, password_hash, role, status, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
			RETURNING `+accountColumns,
			a.Username, a.Email, a.PasswordHash, string(a.Role), string(a.Status), a.CreatedAt, a.UpdatedAt,
		)
		var err error
		out, err = scanAccount(row)
		return err
	})
	if err != nil {
		return account.Account{}, mapError(err)
	}

	return out, nil
}

func (r *AccountsRepo) GetByID(ctx context.Context, id int64) (account.Account, error) {
	return r.getOne(ctx, "accounts.get_by_id", `SELECT `+accountColumns+` FROM accounts WHERE id = $1`, id)
}

func (r *AccountsRepo) GetByUsername(ctx context.Context, username string) (account.Account, error) {
	return r.getOne(ctx, "accounts.get_by_username", `SELECT `+accountColumns+` FROM accounts WHERE username = $1`, username)
}

func (r *AccountsRepo) getOne(ctx context.Context, op, query string, arg any) (account.Account, error) {
	var out account.Account

	err := r.prom.ObserveDB(op, func() error {
		var err error
		out, err = scanAccount(r.pool.QueryRow(ctx, query, arg))
		return err
	})
	if err != nil {
		return account.Account{}, mapError(err)
	}

	return out, nil
}

// Update applies only the supplied fields. An empty change set reads the row back untouched.
func (r *AccountsRepo) Update(ctx context.Context, id int64, changes account.Changes) (account.Account, error) {
	if changes.Empty() {
		return r.GetByID(ctx, id)
	}

	var sets []string
	var args []interface{}

	argsPosition := 1

	add := func(column string, value interface{}) {
		sets = append(sets, fmt.Sprintf("%s = $%d", column, argsPosition))
		args = append(args, value)
		argsPosition++
	}

	if changes.Username != nil {
		add("username", *changes.Username)
	}
	if changes.Email != nil {
		add("email", nullableString(changes.Email))
	}
	if changes.PasswordHash != nil {
		add("password_hash", *changes.PasswordHash)
	}
	if changes.Role != nil {
		add("role", string(*changes.Role))
	}
	if changes.Status != nil {
		add("status", string(*changes.Status))
	}
	add("updated_at", r.now())

	query := "UPDATE accounts SET " + strings.Join(sets, ", ") +
		fmt.Sprintf(" WHERE id = $%d RETURNING ", argsPosition) + accountColumns
	args = append(args, id)

	var out account.Account

	err := r.prom.ObserveDB("accounts.update", func() error {
		var err error
		out, err = scanAccount(r.pool.QueryRow(ctx, query, args...))
		return err
	})
	if err != nil {
		return account.Account{}, mapError(err)
	}

	return out, nil
}

func (r *AccountsRepo) Delete(ctx context.Context, id int64) (bool, error) {
	var affected int64

	err := r.prom.ObserveDB("accounts.delete", func() error {
		tag, err := r.pool.Exec(ctx, `DELETE FROM accounts WHERE id = $1`, id)
		if err != nil {
			return err
		}
		affected = tag.RowsAffected()
		return nil
	})
	if err != nil {
		return false, mapError(err)
	}

	return affected > 0, nil
}

func (r *AccountsRepo) List(ctx context.Context, filter account.ListFilter) ([]account.Account, error) {
	query := `SELECT ` + accountColumns + ` FROM accounts ORDER BY id ASC`
	var args []interface{}

	argsPosition := 1
	if filter.Limit != nil {
		query += fmt.Sprintf(" LIMIT $%d", argsPosition)
		args = append(args, *filter.Limit)
		argsPosition++
	}
	if filter.Offset > 0 {
		query += fmt.Sprintf(" OFFSET $%d", argsPosition)
		args = append(args, filter.Offset)
	}

	out := make([]account.Account, 0)

	err := r.prom.ObserveDB("accounts.list", func() error {
		rows, err := r.pool.Query(ctx, query, args...)
		if err != nil {
			return err
		}
		defer rows.Close()

		for rows.Next() {
			a, err := scanAccount(rows)
			if err != nil {
				return err
			}
			out = append(out, a)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, mapError(err)
	}

	return out, nil
}

func (r *AccountsRepo) Count(ctx context.Context) (int, error) {
	var n int

	err := r.prom.ObserveDB("accounts.count", func() error {
		return r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM accounts`).Scan(&n)
	})
	if err != nil {
		return 0, mapError(err)
	}

	return n, nil
}

func (r *AccountsRepo) Ping(ctx context.Context) error {
	if err := r.pool.Ping(ctx); err != nil {
		return mapError(err)
	}
	return nil
}

func scanAccount(row pgx.Row) (account.Account, error) {
	var (
		a      account.Account
		role   string
		status string
	)

	err := row.Scan(&a.ID, &a.Username, &a.Email, &a.PasswordHash, &role, &status, &a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		return account.Account{}, err
	}

	a.Role = account.Role(role)
	a.Status = account.Status(status)
	a.CreatedAt = a.CreatedAt.UTC()
	a.UpdatedAt = a.UpdatedAt.UTC()

	return a, nil
}

// nullableString stores an empty email as NULL so the unique index ignores it.
func nullableString(s *string) *string {
	if s == nil || *s == "" {
		return nil
	}
	return s
}

func mapError(err error) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return account.ErrNotFound
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "23505":
			return &account.ConstraintError{Field: constraintField(pgErr.ConstraintName), Err: err}
		case "57P01", "57P02", "57P03", "53300", "08000", "08003", "08006":
			return fmt.Errorf("%w: %v", account.ErrStorageUnavailable, err)
		}
		return err
	}

	if isUnavailable(err) {
		return fmt.Errorf("%w: %v", account.ErrStorageUnavailable, err)
	}

	return err
}

func isUnavailable(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) || pgconn.Timeout(err) {
		return true
	}

	var connectErr *pgconn.ConnectError
	if errors.As(err, &connectErr) {
		return true
	}

	var netErr net.Error
	return errors.As(err, &netErr)
}

func constraintField(name string) string {
	switch {
	case strings.Contains(name, "username"):
		return "username"
	case strings.Contains(name, "email"):
		return "email"
	default:
		return ""
	}
}
