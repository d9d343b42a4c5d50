package db

import (
	"context"
	"errors"
	"log/slog"

	"github.com/geocoder89/edms/internal/config"
	"github.com/geocoder89/edms/internal/domain/account"
)

// AccountBootstrapper is the slice of the account service the bootstrap needs.
type AccountBootstrapper interface {
	IsEmpty(ctx context.Context) (bool, error)
	CreateAccount(ctx context.Context, p account.CreateParams) (account.Account, error)
}

// EnsureAdminAccount creates one admin account when bootstrap is explicitly
// allowed, credentials are configured and the store holds no accounts.
// It reports whether an account was created.
func EnsureAdminAccount(ctx context.Context, accounts AccountBootstrapper, cfg config.BootstrapConfig, log *slog.Logger) (bool, error) {
	if !cfg.Allow {
		if cfg.Username != "" || cfg.Password != "" {
			log.WarnContext(ctx, "admin bootstrap credentials present but ALLOW_ADMIN_BOOTSTRAP is not set; skipping")
		}
		return false, nil
	}

	if cfg.Username == "" || cfg.Password == "" {
		return false, nil
	}

	empty, err := accounts.IsEmpty(ctx)
	if err != nil {
		return false, err
	}

	if !empty {
		log.DebugContext(ctx, "accounts table not empty; admin bootstrap skipped")
		return false, nil
	}

	var email *string
	if cfg.Email != "" {
		email = &cfg.Email
	}

	a, err := accounts.CreateAccount(ctx, account.CreateParams{
		Username: cfg.Username,
		Password: cfg.Password,
		Email:    email,
		Role:     account.RoleAdmin,
		Status:   account.StatusActive,
	})
	if err != nil {
		// another instance won the race
		if errors.Is(err, account.ErrUsernameExists) {
			return false, nil
		}
		return false, err
	}

	log.InfoContext(ctx, "admin account bootstrapped", "account_id", a.ID, "username", a.Username)

	return true, nil
}
