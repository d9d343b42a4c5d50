package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/geocoder89/edms/internal/domain/account"
	"github.com/geocoder89/edms/internal/observability"
	"github.com/go-playground/validator/v10"
)

const (
	defaultOpTimeout  = 3 * time.Second
	maxUsernameLength = 128
	maxEmailLength    = 255
	// bcrypt ignores everything past 72 bytes
	maxPasswordBytes = 72
)

// fields checks values that arrive without a bound request struct, such as
// the bootstrap admin.
var fields = validator.New()

type PasswordHasher interface {
	Hash(plain string) (string, error)
	VerifyTimingSafe(plain string, hash *string) bool
}

type Options struct {
	// OpTimeout bounds every store call. Zero means 3s.
	OpTimeout         time.Duration
	MinPasswordLength int
	Logger            *slog.Logger
	Prom              *observability.Prom
}

type AccountService struct {
	store     account.Store
	hasher    PasswordHasher
	opTimeout time.Duration
	minPwLen  int
	log       *slog.Logger
	prom      *observability.Prom
}

func NewAccountService(store account.Store, hasher PasswordHasher, opts Options) *AccountService {
	if opts.OpTimeout <= 0 {
		opts.OpTimeout = defaultOpTimeout
	}
	if opts.MinPasswordLength < 1 {
		opts.MinPasswordLength = 1
	}
	if opts.Logger == nil {
		opts.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	return &AccountService{
		store:     store,
		hasher:    hasher,
		opTimeout: opts.OpTimeout,
		minPwLen:  opts.MinPasswordLength,
		log:       opts.Logger,
		prom:      opts.Prom,
	}
}

func (s *AccountService) CreateAccount(ctx context.Context, p account.CreateParams) (account.Account, error) {
	p.Username = strings.TrimSpace(p.Username)
	p.Email = normalizeEmail(p.Email)
	if p.Role == "" {
		p.Role = account.RoleStaff
	}
	if p.Status == "" {
		p.Status = account.StatusActive
	}

	if err := s.validateUsername(p.Username); err != nil {
		return account.Account{}, err
	}
	if err := s.validatePassword(p.Password); err != nil {
		return account.Account{}, err
	}
	if err := validateEmail(p.Email); err != nil {
		return account.Account{}, err
	}
	if !p.Role.Valid() {
		return account.Account{}, &account.InputError{Field: "role", Reason: "must be one of admin, staff"}
	}
	if !p.Status.Valid() {
		return account.Account{}, &account.InputError{Field: "status", Reason: "must be one of active, inactive"}
	}

	// fast path for a friendly error; the unique constraint is the real guard
	taken, err := s.usernameTaken(ctx, p.Username, 0)
	if err != nil {
		return account.Account{}, err
	}
	if taken {
		return account.Account{}, account.ErrUsernameExists
	}

	hash, err := s.hasher.Hash(p.Password)
	if err != nil {
		return account.Account{}, fmt.Errorf("hash password: %w", err)
	}

	var created account.Account
	err = s.withTimeout(ctx, func(ctx context.Context) error {
		var err error
		created, err = s.store.Insert(ctx, account.Account{
			Username:     p.Username,
			Email:        p.Email,
			PasswordHash: hash,
			Role:         p.Role,
			Status:       p.Status,
		})
		return err
	})
	if err != nil {
		return account.Account{}, translateConstraint(err)
	}

	s.prom.ObserveMutation("create")
	s.log.InfoContext(ctx, "account_created",
		"account_id", created.ID,
		"username", created.Username,
		"role", created.Role,
	)

	return created, nil
}

func (s *AccountService) GetAccount(ctx context.Context, id int64) (account.Account, error) {
	var a account.Account
	err := s.withTimeout(ctx, func(ctx context.Context) error {
		var err error
		a, err = s.store.GetByID(ctx, id)
		return err
	})
	return a, err
}

func (s *AccountService) GetByUsername(ctx context.Context, username string) (account.Account, error) {
	var a account.Account
	err := s.withTimeout(ctx, func(ctx context.Context) error {
		var err error
		a, err = s.store.GetByUsername(ctx, username)
		return err
	})
	return a, err
}

// UpdateAccount applies the supplied fields. A supplied password is re-hashed
// and the plaintext dropped. An empty change set returns the account as is.
func (s *AccountService) UpdateAccount(ctx context.Context, id int64, p account.UpdateParams) (account.Account, error) {
	var changes account.Changes

	if p.Username != nil {
		name := strings.TrimSpace(*p.Username)
		if err := s.validateUsername(name); err != nil {
			return account.Account{}, err
		}
		// a missing account is NotFound even when the new name is taken
		if _, err := s.GetAccount(ctx, id); err != nil {
			return account.Account{}, err
		}
		taken, err := s.usernameTaken(ctx, name, id)
		if err != nil {
			return account.Account{}, err
		}
		if taken {
			return account.Account{}, account.ErrUsernameExists
		}
		changes.Username = &name
	}

	if p.Email != nil {
		email := strings.TrimSpace(*p.Email)
		if email != "" {
			if err := validateEmail(&email); err != nil {
				return account.Account{}, err
			}
		}
		changes.Email = &email
	}

	if p.Role != nil {
		if !p.Role.Valid() {
			return account.Account{}, &account.InputError{Field: "role", Reason: "must be one of admin, staff"}
		}
		changes.Role = p.Role
	}

	if p.Status != nil {
		if !p.Status.Valid() {
			return account.Account{}, &account.InputError{Field: "status", Reason: "must be one of active, inactive"}
		}
		changes.Status = p.Status
	}

	if p.Password != nil {
		if err := s.validatePassword(*p.Password); err != nil {
			return account.Account{}, err
		}
		hash, err := s.hasher.Hash(*p.Password)
		if err != nil {
			return account.Account{}, fmt.Errorf("hash password: %w", err)
		}
		changes.PasswordHash = &hash
	}

	var updated account.Account
	err := s.withTimeout(ctx, func(ctx context.Context) error {
		var err error
		updated, err = s.store.Update(ctx, id, changes)
		return err
	})
	if err != nil {
		return account.Account{}, translateConstraint(err)
	}

	if !changes.Empty() {
		s.prom.ObserveMutation("update")
		s.log.InfoContext(ctx, "account_updated",
			"account_id", updated.ID,
			"fields", changedFields(changes),
		)
	}

	return updated, nil
}

// DeleteAccount reports whether a row was removed.
func (s *AccountService) DeleteAccount(ctx context.Context, id int64) (bool, error) {
	var deleted bool
	err := s.withTimeout(ctx, func(ctx context.Context) error {
		var err error
		deleted, err = s.store.Delete(ctx, id)
		return err
	})
	if err != nil {
		return false, err
	}

	if deleted {
		s.prom.ObserveMutation("delete")
		s.log.InfoContext(ctx, "account_deleted", "account_id", id)
	}

	return deleted, nil
}

func (s *AccountService) ListAccounts(ctx context.Context, filter account.ListFilter) ([]account.Account, error) {
	if filter.Limit != nil && *filter.Limit < 0 {
		return nil, &account.InputError{Field: "limit", Reason: "must not be negative"}
	}
	if filter.Offset < 0 {
		return nil, &account.InputError{Field: "offset", Reason: "must not be negative"}
	}

	var out []account.Account
	err := s.withTimeout(ctx, func(ctx context.Context) error {
		var err error
		out, err = s.store.List(ctx, filter)
		return err
	})
	return out, err
}

// VerifyCredentials returns the active account matching username and
// password. Unknown users, wrong passwords and inactive accounts all yield
// ErrInvalidCredentials after comparable bcrypt work.
func (s *AccountService) VerifyCredentials(ctx context.Context, username, password string) (account.Account, error) {
	a, err := s.GetByUsername(ctx, username)
	if err != nil {
		if errors.Is(err, account.ErrNotFound) {
			s.hasher.VerifyTimingSafe(password, nil)
			return account.Account{}, account.ErrInvalidCredentials
		}
		return account.Account{}, err
	}

	if !s.hasher.VerifyTimingSafe(password, &a.PasswordHash) {
		return account.Account{}, account.ErrInvalidCredentials
	}

	if !a.IsActive() {
		return account.Account{}, account.ErrInvalidCredentials
	}

	return a, nil
}

func (s *AccountService) IsEmpty(ctx context.Context) (bool, error) {
	var n int
	err := s.withTimeout(ctx, func(ctx context.Context) error {
		var err error
		n, err = s.store.Count(ctx)
		return err
	})
	return n == 0, err
}

func (s *AccountService) Ping(ctx context.Context) error {
	return s.withTimeout(ctx, s.store.Ping)
}

func (s *AccountService) usernameTaken(ctx context.Context, username string, exceptID int64) (bool, error) {
	existing, err := s.GetByUsername(ctx, username)
	switch {
	case err == nil:
		return existing.ID != exceptID, nil
	case errors.Is(err, account.ErrNotFound):
		return false, nil
	default:
		return false, err
	}
}

// withTimeout runs fn under the per-operation deadline and reports an
// expired deadline as ErrStorageUnavailable.
func (s *AccountService) withTimeout(ctx context.Context, fn func(ctx context.Context) error) error {
	opCtx, cancel := context.WithTimeout(ctx, s.opTimeout)
	defer cancel()

	err := fn(opCtx)
	if err == nil {
		return nil
	}

	if errors.Is(err, context.DeadlineExceeded) && !errors.Is(err, account.ErrStorageUnavailable) {
		return fmt.Errorf("%w: %v", account.ErrStorageUnavailable, err)
	}
	return err
}

func (s *AccountService) validateUsername(username string) error {
	if username == "" {
		return &account.InputError{Field: "username", Reason: "is required"}
	}
	if utf8.RuneCountInString(username) > maxUsernameLength {
		return &account.InputError{Field: "username", Reason: fmt.Sprintf("must be at most %d characters", maxUsernameLength)}
	}
	return nil
}

func (s *AccountService) validatePassword(password string) error {
	if utf8.RuneCountInString(password) < s.minPwLen {
		return &account.InputError{Field: "password", Reason: fmt.Sprintf("must be at least %d characters", s.minPwLen)}
	}
	if len(password) > maxPasswordBytes {
		return &account.InputError{Field: "password", Reason: fmt.Sprintf("must be at most %d bytes", maxPasswordBytes)}
	}
	return nil
}

func validateEmail(email *string) error {
	if email == nil {
		return nil
	}
	e := *email
	if len(e) > maxEmailLength {
		return &account.InputError{Field: "email", Reason: fmt.Sprintf("must be at most %d characters", maxEmailLength)}
	}
	if err := fields.Var(e, "email"); err != nil {
		return &account.InputError{Field: "email", Reason: "must be a valid email address"}
	}
	return nil
}

func normalizeEmail(email *string) *string {
	if email == nil {
		return nil
	}
	e := strings.TrimSpace(*email)
	if e == "" {
		return nil
	}
	return &e
}

// translateConstraint maps store uniqueness failures to domain errors.
// A violation that does not name the column is taken to be the username.
func translateConstraint(err error) error {
	var ce *account.ConstraintError
	if !errors.As(err, &ce) {
		return err
	}
	if ce.Field == "email" {
		return account.ErrEmailExists
	}
	return account.ErrUsernameExists
}

func changedFields(c account.Changes) []string {
	var out []string
	if c.Username != nil {
		out = append(out, "username")
	}
	if c.Email != nil {
		out = append(out, "email")
	}
	if c.PasswordHash != nil {
		out = append(out, "password")
	}
	if c.Role != nil {
		out = append(out, "role")
	}
	if c.Status != nil {
		out = append(out, "status")
	}
	return out
}
