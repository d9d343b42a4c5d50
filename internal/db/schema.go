package db

import (
	"context"
	"fmt"
)

const postgresSchema = `
CREATE TABLE IF NOT EXISTS accounts (
    id            BIGSERIAL PRIMARY KEY,
    username      VARCHAR(128) NOT NULL,
    email         VARCHAR(255),
    password_hash VARCHAR(255) NOT NULL,
    role          VARCHAR(16)  NOT NULL DEFAULT 'staff',
    status        VARCHAR(16)  NOT NULL DEFAULT 'active',
    created_at    TIMESTAMPTZ  NOT NULL DEFAULT now(),
    updated_at    TIMESTAMPTZ  NOT NULL DEFAULT now(),
    CONSTRAINT accounts_username_key UNIQUE (username),
    CONSTRAINT accounts_email_key UNIQUE (email),
    CONSTRAINT accounts_role_check CHECK (role IN ('admin', 'staff')),
    CONSTRAINT accounts_status_check CHECK (status IN ('active', 'inactive'))
);
`

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS accounts (
    id            INTEGER PRIMARY KEY AUTOINCREMENT,
    username      VARCHAR(128) NOT NULL UNIQUE,
    email         VARCHAR(255) UNIQUE,
    password_hash VARCHAR(255) NOT NULL,
    role          VARCHAR(16)  NOT NULL DEFAULT 'staff' CHECK (role IN ('admin', 'staff')),
    status        VARCHAR(16)  NOT NULL DEFAULT 'active' CHECK (status IN ('active', 'inactive')),
    created_at    TEXT NOT NULL,
    updated_at    TEXT NOT NULL
);
`

// Migrate creates the accounts table when absent.
func (h *Handle) Migrate(ctx context.Context) error {
	switch {
	case h.pool != nil:
		_, err := h.pool.Exec(ctx, postgresSchema)
		return err
	case h.sqlDB != nil:
		_, err := h.sqlDB.ExecContext(ctx, sqliteSchema)
		return err
	default:
		return fmt.Errorf("storage handle is not open")
	}
}
