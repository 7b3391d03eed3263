package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"crewlink/internal/domain"
	"crewlink/internal/models"
)

// UpsertUser registers or refreshes a directory entry. The platform calls
// this when accounts are created or deactivated; the realtime core only
// reads it back through Resolve.
func (db *DB) UpsertUser(ctx context.Context, u *models.User) error {
	if u == nil || u.ID == "" {
		return fmt.Errorf("%w: user id is required", domain.ErrValidation)
	}
	if u.Role == "" {
		return fmt.Errorf("%w: user role is required", domain.ErrValidation)
	}

	now := time.Now()
	_, err := db.ExecContext(ctx, `
        INSERT INTO users (id, role, name, is_active, created_at, updated_at)
        VALUES (?, ?, ?, ?, ?, ?)
        ON CONFLICT(id) DO UPDATE SET
            role = excluded.role,
            name = excluded.name,
            is_active = excluded.is_active,
            updated_at = excluded.updated_at`,
		u.ID, u.Role, u.Name, u.IsActive, now, now)
	if err != nil {
		return fmt.Errorf("%w: upsert user: %v", domain.ErrUnavailable, err)
	}
	return nil
}

// Resolve looks up a directory entry by ID.
func (db *DB) Resolve(ctx context.Context, userID string) (*models.User, error) {
	u := &models.User{}
	err := db.QueryRowContext(ctx,
		`SELECT id, role, name, is_active FROM users WHERE id = ?`, userID).
		Scan(&u.ID, &u.Role, &u.Name, &u.IsActive)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: user %s", domain.ErrNotFound, userID)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: resolve user: %v", domain.ErrUnavailable, err)
	}
	return u, nil
}
