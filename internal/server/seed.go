package server

import (
	"context"
	"log/slog"
	"strings"

	"golang.org/x/crypto/bcrypt"

	"github.com/foxhuntgame/foxhunt/internal/store"
)

// SeedAdmin creates the initial admin account from configuration.
// Idempotent: does nothing when the password is unset or any admin
// already exists.
func SeedAdmin(ctx context.Context, logger *slog.Logger, admin store.AdminStore, email, password string) error {
	if password == "" {
		return nil
	}

	n, err := admin.CountAdmins(ctx)
	if err != nil {
		return err
	}
	if n > 0 {
		return nil
	}

	email = strings.TrimSpace(strings.ToLower(email))
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return err
	}
	if err := admin.CreateAdmin(ctx, email, string(hash)); err != nil {
		return err
	}

	logger.Info("admin account seeded", "email", email)
	return nil
}
