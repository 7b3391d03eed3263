package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"crewlink/internal/domain"
	"crewlink/internal/models"

	"github.com/google/uuid"
)

// CreateNotification persists a user-facing notification.
func (db *DB) CreateNotification(ctx context.Context, n *models.Notification) error {
	if n.UserID == "" || n.Type == "" {
		return fmt.Errorf("%w: notification user id and type are required", domain.ErrValidation)
	}
	if n.ID == "" {
		n.ID = uuid.NewString()
	}
	if n.Priority == "" {
		n.Priority = models.PriorityNormal
	}
	n.IsRead = false
	n.CreatedAt = time.Now()

	_, err := db.ExecContext(ctx,
		`INSERT INTO notifications (id, user_id, type, title, message, related_id, related_type, priority, is_read, expires_at, created_at)
         VALUES (?, ?, ?, ?, ?, ?, ?, ?, 0, ?, ?)`,
		n.ID, n.UserID, n.Type, n.Title, n.Message, nullString(n.RelatedID), nullString(n.RelatedType),
		n.Priority, nullTime(n.ExpiresAt), n.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("%w: create notification: %v", domain.ErrUnavailable, err)
	}
	return nil
}

// GetUserNotifications lists a user's notifications newest first, hiding
// expired ones. With unreadOnly set, read notifications are filtered too.
func (db *DB) GetUserNotifications(ctx context.Context, userID string, unreadOnly bool) ([]*models.Notification, error) {
	query := `SELECT id, user_id, type, title, message, related_id, related_type, priority, is_read, expires_at, created_at
              FROM notifications
              WHERE user_id = ? AND (expires_at IS NULL OR expires_at > ?)`
	if unreadOnly {
		query += ` AND is_read = 0`
	}
	query += ` ORDER BY created_at DESC`

	rows, err := db.QueryContext(ctx, query, userID, time.Now())
	if err != nil {
		return nil, fmt.Errorf("%w: user notifications: %v", domain.ErrUnavailable, err)
	}
	defer rows.Close()

	var notifications []*models.Notification
	for rows.Next() {
		var (
			n           models.Notification
			title       sql.NullString
			message     sql.NullString
			relatedID   sql.NullString
			relatedType sql.NullString
			expiresAt   sql.NullTime
		)
		err := rows.Scan(&n.ID, &n.UserID, &n.Type, &title, &message, &relatedID, &relatedType,
			&n.Priority, &n.IsRead, &expiresAt, &n.CreatedAt)
		if err != nil {
			return nil, fmt.Errorf("scan notification: %w", err)
		}
		n.Title = title.String
		n.Message = message.String
		n.RelatedID = relatedID.String
		n.RelatedType = relatedType.String
		if expiresAt.Valid {
			n.ExpiresAt = &expiresAt.Time
		}
		notifications = append(notifications, &n)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: notification rows: %v", domain.ErrUnavailable, err)
	}
	return notifications, nil
}

// MarkNotificationRead flips is_read for the owning user only. Marking
// someone else's notification is access denied, not a silent no-op.
func (db *DB) MarkNotificationRead(ctx context.Context, userID, notificationID string) error {
	res, err := db.ExecContext(ctx,
		`UPDATE notifications SET is_read = 1 WHERE id = ? AND user_id = ?`,
		notificationID, userID,
	)
	if err != nil {
		return fmt.Errorf("%w: mark read: %v", domain.ErrUnavailable, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("%w: mark read rows: %v", domain.ErrUnavailable, err)
	}
	if affected == 0 {
		var owner string
		err := db.QueryRowContext(ctx, `SELECT user_id FROM notifications WHERE id = ?`, notificationID).Scan(&owner)
		if err != nil {
			return fmt.Errorf("%w: notification %s", domain.ErrNotFound, notificationID)
		}
		if owner != userID {
			return fmt.Errorf("%w: notification %s belongs to another user", domain.ErrAccessDenied, notificationID)
		}
		// already read; idempotent
	}
	return nil
}
