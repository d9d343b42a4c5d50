package account

import (
	"context"
	"time"
)

type Role string

const (
	RoleAdmin Role = "admin"
	RoleStaff Role = "staff"
)

func (r Role) Valid() bool {
	return r == RoleAdmin || r == RoleStaff
}

type Status string

const (
	StatusActive   Status = "active"
	StatusInactive Status = "inactive"
)

func (s Status) Valid() bool {
	return s == StatusActive || s == StatusInactive
}

type Account struct {
	ID           int64
	Username     string
	Email        *string
	PasswordHash string
	Role         Role
	Status       Status
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

func (a Account) IsAdmin() bool {
	return a.Role == RoleAdmin
}

func (a Account) IsActive() bool {
	return a.Status == StatusActive
}

// Public is the externally visible projection of an Account.
type Public struct {
	ID        int64     `json:"id"`
	Username  string    `json:"username"`
	Email     *string   `json:"email"`
	Role      Role      `json:"role"`
	Status    Status    `json:"status"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (a Account) ToPublic() Public {
	return Public{
		ID:        a.ID,
		Username:  a.Username,
		Email:     a.Email,
		Role:      a.Role,
		Status:    a.Status,
		CreatedAt: a.CreatedAt,
		UpdatedAt: a.UpdatedAt,
	}
}

func ToPublicList(accounts []Account) []Public {
	out := make([]Public, 0, len(accounts))
	for _, a := range accounts {
		out = append(out, a.ToPublic())
	}
	return out
}

type CreateParams struct {
	Username string
	Password string
	Email    *string
	Role     Role
	Status   Status
}

// UpdateParams holds the recognised update keys. Nil fields are left untouched.
type UpdateParams struct {
	Username *string
	Email    *string
	Password *string
	Role     *Role
	Status   *Status
}

func (p UpdateParams) Empty() bool {
	return p.Username == nil && p.Email == nil && p.Password == nil && p.Role == nil && p.Status == nil
}

// Changes is the store-level change set. Nil fields are left untouched.
type Changes struct {
	Username     *string
	Email        *string
	PasswordHash *string
	Role         *Role
	Status       *Status
}

func (c Changes) Empty() bool {
	return c.Username == nil && c.Email == nil && c.PasswordHash == nil && c.Role == nil && c.Status == nil
}

// ListFilter pages the account list. A nil Limit returns every row after Offset.
type ListFilter struct {
	Limit  *int
	Offset int
}

// Store persists accounts. Implementations report missing rows with
// ErrNotFound, uniqueness failures with a *ConstraintError and engine
// outages with ErrStorageUnavailable.
type Store interface {
	Insert(ctx context.Context, a Account) (Account, error)
	GetByID(ctx context.Context, id int64) (Account, error)
	GetByUsername(ctx context.Context, username string) (Account, error)
	Update(ctx context.Context, id int64, changes Changes) (Account, error)
	Delete(ctx context.Context, id int64) (bool, error)
	List(ctx context.Context, filter ListFilter) ([]Account, error)
	Count(ctx context.Context) (int, error)
	Ping(ctx context.Context) error
}
