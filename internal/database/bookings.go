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

// CreateBooking inserts a fresh booking in pending state with its implicit
// initial milestone. Called by the platform when a customer books.
func (db *DB) CreateBooking(ctx context.Context, b *models.Booking) error {
	if b.ID == "" {
		return fmt.Errorf("%w: booking id is required", domain.ErrValidation)
	}
	now := time.Now()
	if b.Status == "" {
		b.Status = models.StatusPending
	}
	b.CreatedAt = now
	b.UpdatedAt = now

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	_, err = tx.ExecContext(ctx,
		`INSERT INTO bookings (id, customer_id, worker_id, status, created_at, updated_at)
         VALUES (?, ?, ?, ?, ?, ?)`,
		b.ID, b.CustomerID, nullString(b.WorkerID), b.Status, now, now,
	)
	if err != nil {
		return fmt.Errorf("insert booking: %w", err)
	}

	milestone := models.Milestone{Status: b.Status, Timestamp: now, Description: "booking created", Actor: models.ActorSystem}
	if len(b.Milestones) == 0 {
		b.Milestones = []models.Milestone{milestone}
	}
	if err := insertMilestone(ctx, tx, b.ID, b.Milestones[len(b.Milestones)-1]); err != nil {
		return err
	}

	return tx.Commit()
}

// AssignWorker sets the worker on a booking that does not have one yet.
func (db *DB) AssignWorker(ctx context.Context, bookingID, workerID string) error {
	res, err := db.ExecContext(ctx,
		`UPDATE bookings SET worker_id = ?, updated_at = ? WHERE id = ? AND (worker_id IS NULL OR worker_id = '')`,
		workerID, time.Now(), bookingID,
	)
	if err != nil {
		return fmt.Errorf("assign worker: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("assign worker rows: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("%w: booking %s already has a worker or does not exist", domain.ErrConcurrentModification, bookingID)
	}
	return nil
}

// GetBooking loads the booking with its milestone history in append order.
func (db *DB) GetBooking(ctx context.Context, id string) (*models.Booking, error) {
	var (
		b           models.Booking
		workerID    sql.NullString
		actualStart sql.NullTime
		actualEnd   sql.NullTime
		cancelledBy sql.NullString
		reason      sql.NullString
		fee         sql.NullFloat64
		cancelledAt sql.NullTime
	)
	err := db.QueryRowContext(ctx,
		`SELECT id, customer_id, worker_id, status, actual_start, actual_end,
                cancelled_by, cancel_reason, cancel_fee, cancelled_at, created_at, updated_at
         FROM bookings WHERE id = ?`, id,
	).Scan(&b.ID, &b.CustomerID, &workerID, &b.Status, &actualStart, &actualEnd,
		&cancelledBy, &reason, &fee, &cancelledAt, &b.CreatedAt, &b.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: booking %s", domain.ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("get booking: %w", err)
	}

	b.WorkerID = workerID.String
	if actualStart.Valid {
		b.ActualStart = &actualStart.Time
	}
	if actualEnd.Valid {
		b.ActualEnd = &actualEnd.Time
	}
	if cancelledBy.Valid {
		b.Cancellation = &models.Cancellation{
			CancelledBy: cancelledBy.String,
			Reason:      reason.String,
			Fee:         fee.Float64,
			CancelledAt: cancelledAt.Time,
		}
	}

	rows, err := db.QueryContext(ctx,
		`SELECT status, timestamp, description, actor FROM milestones WHERE booking_id = ? ORDER BY id`, id)
	if err != nil {
		return nil, fmt.Errorf("get milestones: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			m    models.Milestone
			desc sql.NullString
		)
		if err := rows.Scan(&m.Status, &m.Timestamp, &desc, &m.Actor); err != nil {
			return nil, fmt.Errorf("scan milestone: %w", err)
		}
		m.Description = desc.String
		b.Milestones = append(b.Milestones, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("milestone rows: %w", err)
	}

	return &b, nil
}

// GetParticipants returns the two booking parties. Consulted on every join.
func (db *DB) GetParticipants(ctx context.Context, id string) (string, string, error) {
	var (
		customerID string
		workerID   sql.NullString
	)
	err := db.QueryRowContext(ctx,
		`SELECT customer_id, worker_id FROM bookings WHERE id = ?`, id,
	).Scan(&customerID, &workerID)
	if errors.Is(err, sql.ErrNoRows) {
		return "", "", fmt.Errorf("%w: booking %s", domain.ErrNotFound, id)
	}
	if err != nil {
		return "", "", fmt.Errorf("get participants: %w", err)
	}
	return customerID, workerID.String, nil
}

// GetStatus returns the current booking status.
func (db *DB) GetStatus(ctx context.Context, id string) (models.BookingStatus, error) {
	var status models.BookingStatus
	err := db.QueryRowContext(ctx, `SELECT status FROM bookings WHERE id = ?`, id).Scan(&status)
	if errors.Is(err, sql.ErrNoRows) {
		return "", fmt.Errorf("%w: booking %s", domain.ErrNotFound, id)
	}
	if err != nil {
		return "", fmt.Errorf("get status: %w", err)
	}
	return status, nil
}

// SaveTransition persists a mutated booking and its newest milestone in one
// transaction. The update is guarded by the expected prior status so a lost
// race changes nothing and surfaces as ErrConcurrentModification.
func (db *DB) SaveTransition(ctx context.Context, b *models.Booking, from models.BookingStatus) error {
	if len(b.Milestones) == 0 {
		return fmt.Errorf("%w: transition without milestone", domain.ErrValidation)
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("%w: begin tx: %v", domain.ErrUnavailable, err)
	}
	defer func() { _ = tx.Rollback() }()

	var (
		cancelledBy sql.NullString
		reason      sql.NullString
		fee         sql.NullFloat64
		cancelledAt sql.NullTime
	)
	if c := b.Cancellation; c != nil {
		cancelledBy = sql.NullString{String: c.CancelledBy, Valid: true}
		reason = sql.NullString{String: c.Reason, Valid: true}
		fee = sql.NullFloat64{Float64: c.Fee, Valid: true}
		cancelledAt = sql.NullTime{Time: c.CancelledAt, Valid: true}
	}

	res, err := tx.ExecContext(ctx,
		`UPDATE bookings
         SET status = ?, actual_start = ?, actual_end = ?,
             cancelled_by = ?, cancel_reason = ?, cancel_fee = ?, cancelled_at = ?, updated_at = ?
         WHERE id = ? AND status = ?`,
		b.Status, nullTime(b.ActualStart), nullTime(b.ActualEnd),
		cancelledBy, reason, fee, cancelledAt, b.UpdatedAt,
		b.ID, from,
	)
	if err != nil {
		return fmt.Errorf("%w: update booking: %v", domain.ErrUnavailable, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("%w: update booking rows: %v", domain.ErrUnavailable, err)
	}
	if affected == 0 {
		return fmt.Errorf("%w: booking %s moved past %s", domain.ErrConcurrentModification, b.ID, from)
	}

	if err := insertMilestone(ctx, tx, b.ID, b.Milestones[len(b.Milestones)-1]); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("%w: commit transition: %v", domain.ErrUnavailable, err)
	}
	return nil
}

func insertMilestone(ctx context.Context, tx *sql.Tx, bookingID string, m models.Milestone) error {
	_, err := tx.ExecContext(ctx,
		`INSERT INTO milestones (booking_id, status, timestamp, description, actor) VALUES (?, ?, ?, ?, ?)`,
		bookingID, m.Status, m.Timestamp, m.Description, m.Actor,
	)
	if err != nil {
		return fmt.Errorf("insert milestone: %w", err)
	}
	return nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}
