// Package seed bootstraps the first administrator of an empty installation.
package seed

import (
	"context"
	"crypto/rand"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/d9705996/ama/internal/auth"
	"github.com/d9705996/ama/internal/model"
	"github.com/d9705996/ama/internal/store"
)

// AdminOptions describes the bootstrap admin.
type AdminOptions struct {
	Email string
	// Password is generated and printed to Out when empty.
	Password string
	Out      io.Writer
}

// EnsureAdmin creates an admin when the users table is empty and does nothing
// otherwise, so it runs on every start.
func EnsureAdmin(ctx context.Context, users *store.UserStore, opts AdminOptions, log *slog.Logger) error {
	if _, n, err := users.List(ctx, store.Page{Limit: 1}); err != nil {
		return fmt.Errorf("count users: %w", err)
	} else if n > 0 {
		log.Debug("users present, skipping admin seed", "users", n)
		return nil
	}

	password := opts.Password
	if password == "" {
		password = rand.Text()
		out := opts.Out
		if out == nil {
			out = os.Stdout
		}
		_, _ = fmt.Fprintf(out, "[ama] seed admin password: %s\n", password)
	}
	hash, err := auth.HashPassword(password)
	if err != nil {
		return fmt.Errorf("hash admin password: %w", err)
	}

	admin := &model.User{
		Email:        opts.Email,
		Name:         "Administrator",
		PasswordHash: hash,
		Role:         model.RoleAdmin,
		AuthSource:   model.AuthSourceManual,
	}
	if err := users.Create(ctx, admin); err != nil {
		return fmt.Errorf("create admin %s: %w", opts.Email, err)
	}
	log.Info("admin account seeded", "email", admin.Email, "user_id", admin.ID)
	return nil
}
