package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/geocoder89/edms/internal/domain/account"
	"github.com/geocoder89/edms/internal/observability"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

const accountColumns = `id, username, email, password_hash, role, status, created_at, updated_at`

// timestamps are stored as fixed-width UTC text so string order is time order
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

type AccountsRepo struct {
	db   *sql.DB
	prom *observability.Prom
	now  func() time.Time
}

func NewAccountsRepo(db *sql.DB, prom *observability.Prom) *AccountsRepo {
	return &AccountsRepo{
		db:   db,
		prom: prom,
		now:  func() time.Time { return time.Now().UTC() },
	}
}

var _ account.Store = (*AccountsRepo)(nil)

type rowScanner interface {
	Scan(dest ...any) error
}

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
		row := r.db.QueryRowContext(ctx, `
			INSERT INTO accounts (username, email, password_hash, role, status, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?)
			RETURNING `+accountColumns,
			a.Username, nullString(a.Email), a.PasswordHash, string(a.Role), string(a.Status),
			formatTime(a.CreatedAt), formatTime(a.UpdatedAt),
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
	return r.getOne(ctx, "accounts.get_by_id", `SELECT `+accountColumns+` FROM accounts WHERE id = ?`, id)
}

func (r *AccountsRepo) GetByUsername(ctx context.Context, username string) (account.Account, error) {
	return r.getOne(ctx, "accounts.get_by_username", `SELECT `+accountColumns+` FROM accounts WHERE username = ?`, username)
}

func (r *AccountsRepo) getOne(ctx context.Context, op, query string, arg any) (account.Account, error) {
	var out account.Account

	err := r.prom.ObserveDB(op, func() error {
		var err error
		out, err = scanAccount(r.db.QueryRowContext(ctx, query, arg))
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

	add := func(column string, value interface{}) {
		sets = append(sets, column+" = ?")
		args = append(args, value)
	}

	if changes.Username != nil {
		add("username", *changes.Username)
	}
	if changes.Email != nil {
		add("email", nullString(changes.Email))
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
	add("updated_at", formatTime(r.now()))

	query := "UPDATE accounts SET " + strings.Join(sets, ", ") + " WHERE id = ? RETURNING " + accountColumns
	args = append(args, id)

	var out account.Account

	err := r.prom.ObserveDB("accounts.update", func() error {
		var err error
		out, err = scanAccount(r.db.QueryRowContext(ctx, query, args...))
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
		res, err := r.db.ExecContext(ctx, `DELETE FROM accounts WHERE id = ?`, id)
		if err != nil {
			return err
		}
		affected, err = res.RowsAffected()
		return err
	})
	if err != nil {
		return false, mapError(err)
	}

	return affected > 0, nil
}

func (r *AccountsRepo) List(ctx context.Context, filter account.ListFilter) ([]account.Account, error) {
	query := `SELECT ` + accountColumns + ` FROM accounts ORDER BY id ASC`
	var args []interface{}

	// sqlite only accepts OFFSET after a LIMIT; -1 means unbounded
	if filter.Limit != nil || filter.Offset > 0 {
		limit := -1
		if filter.Limit != nil {
			limit = *filter.Limit
		}
		query += " LIMIT ? OFFSET ?"
		args = append(args, limit, filter.Offset)
	}

	out := make([]account.Account, 0)

	err := r.prom.ObserveDB("accounts.list", func() error {
		rows, err := r.db.QueryContext(ctx, query, args...)
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
		return r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM accounts`).Scan(&n)
	})
	if err != nil {
		return 0, mapError(err)
	}

	return n, nil
}

func (r *AccountsRepo) Ping(ctx context.Context) error {
	if err := r.db.PingContext(ctx); err != nil {
		return mapError(err)
	}
	return nil
}

func scanAccount(row rowScanner) (account.Account, error) {
	var (
		a         account.Account
		email     sql.NullString
		role      string
		status    string
		createdAt string
		updatedAt string
	)

	err := row.Scan(&a.ID, &a.Username, &email, &a.PasswordHash, &role, &status, &createdAt, &updatedAt)
	if err != nil {
		return account.Account{}, err
	}

	if email.Valid {
		e := email.String
		a.Email = &e
	}
	a.Role = account.Role(role)
	a.Status = account.Status(status)

	if a.CreatedAt, err = parseTime(createdAt); err != nil {
		return account.Account{}, err
	}
	if a.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return account.Account{}, err
	}

	return a, nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) (time.Time, error) {
	// RFC3339Nano also accepts the fixed-width form
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse timestamp %q: %w", s, err)
	}
	return t.UTC(), nil
}

func nullString(s *string) sql.NullString {
	if s == nil || *s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}

func mapError(err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return account.ErrNotFound
	}

	var liteErr *sqlite.Error
	if errors.As(err, &liteErr) {
		switch liteErr.Code() {
		case sqlite3.SQLITE_CONSTRAINT_UNIQUE, sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY:
			return &account.ConstraintError{Field: constraintField(liteErr.Error()), Err: err}
		case sqlite3.SQLITE_BUSY, sqlite3.SQLITE_LOCKED, sqlite3.SQLITE_CANTOPEN:
			return fmt.Errorf("%w: %v", account.ErrStorageUnavailable, err)
		}
		return err
	}

	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, sql.ErrConnDone) {
		return fmt.Errorf("%w: %v", account.ErrStorageUnavailable, err)
	}

	return err
}

// constraintField reads the column out of "UNIQUE constraint failed: accounts.username".
func constraintField(msg string) string {
	switch {
	case strings.Contains(msg, "accounts.username"):
		return "username"
	case strings.Contains(msg, "accounts.email"):
		return "email"
	default:
		return ""
	}
}
