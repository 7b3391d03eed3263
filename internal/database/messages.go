package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"crewlink/internal/domain"
	"crewlink/internal/models"

	"github.com/google/uuid"
)

// AppendMessage persists a chat message with status=sent. Validation failures
// surface as ErrValidation; storage failures as ErrUnavailable so the caller
// can suppress the broadcast and let the client retry.
func (db *DB) AppendMessage(ctx context.Context, msg *models.Message) error {
	if err := validateMessage(msg); err != nil {
		return err
	}

	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	msg.Status = models.MessageSent
	msg.SentAt = time.Now()
	msg.DeliveredAt = nil
	msg.ReadAt = nil

	attachments, err := encodeJSON(msg.Attachments)
	if err != nil {
		return fmt.Errorf("%w: encode attachments: %v", domain.ErrValidation, err)
	}
	location, err := encodeJSON(msg.Location)
	if err != nil {
		return fmt.Errorf("%w: encode location: %v", domain.ErrValidation, err)
	}

	_, err = db.ExecContext(ctx,
		`INSERT INTO messages (id, booking_id, sender_id, receiver_id, type, content, attachments, location, status, sent_at)
         VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		msg.ID, msg.BookingID, msg.SenderID, nullString(msg.ReceiverID), msg.Type, msg.Content,
		attachments, location, msg.Status, msg.SentAt,
	)
	if err != nil {
		return fmt.Errorf("%w: append message: %v", domain.ErrUnavailable, err)
	}
	return nil
}

func validateMessage(m *models.Message) error {
	if m.BookingID == "" {
		return fmt.Errorf("%w: booking id is required", domain.ErrValidation)
	}
	if m.SenderID == "" {
		return fmt.Errorf("%w: sender id is required", domain.ErrValidation)
	}
	if !models.MessageTypes[m.Type] {
		return fmt.Errorf("%w: unknown message type %q", domain.ErrValidation, m.Type)
	}
	if strings.TrimSpace(m.Content) == "" && len(m.Attachments) == 0 && m.Location == nil {
		return fmt.Errorf("%w: empty message", domain.ErrValidation)
	}
	if len([]rune(m.Content)) > models.MaxMessageLength {
		return fmt.Errorf("%w: content exceeds %d characters", domain.ErrValidation, models.MaxMessageLength)
	}
	return nil
}

// AdvanceMessageStatus moves a message forward along sent -> delivered -> read.
// The guarded update is atomic: a regression or unknown target changes
// nothing and returns ErrInvalidStatusTransition.
func (db *DB) AdvanceMessageStatus(ctx context.Context, messageID string, status models.MessageStatus) (*models.Message, error) {
	now := time.Now()

	var (
		res sql.Result
		err error
	)
	switch status {
	case models.MessageDelivered:
		res, err = db.ExecContext(ctx,
			`UPDATE messages SET status = ?, delivered_at = ? WHERE id = ? AND status = ?`,
			models.MessageDelivered, now, messageID, models.MessageSent,
		)
	case models.MessageRead:
		// sent -> read is a valid skip-ahead; delivered_at stays unset.
		res, err = db.ExecContext(ctx,
			`UPDATE messages SET status = ?, read_at = ? WHERE id = ? AND status IN (?, ?)`,
			models.MessageRead, now, messageID, models.MessageSent, models.MessageDelivered,
		)
	default:
		return nil, fmt.Errorf("%w: cannot advance to %q", domain.ErrInvalidStatusTransition, status)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: advance status: %v", domain.ErrUnavailable, err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("%w: advance status rows: %v", domain.ErrUnavailable, err)
	}
	if affected == 0 {
		current, getErr := db.GetMessage(ctx, messageID)
		if getErr != nil {
			return nil, getErr
		}
		return nil, fmt.Errorf("%w: %s -> %s on message %s", domain.ErrInvalidStatusTransition, current.Status, status, messageID)
	}

	return db.GetMessage(ctx, messageID)
}

// GetMessage loads one message by id.
func (db *DB) GetMessage(ctx context.Context, messageID string) (*models.Message, error) {
	row := db.QueryRowContext(ctx,
		`SELECT id, booking_id, sender_id, receiver_id, type, content, attachments, location, status, sent_at, delivered_at, read_at
         FROM messages WHERE id = ?`, messageID)
	msg, err := scanMessage(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: message %s", domain.ErrNotFound, messageID)
	}
	return msg, err
}

// GetBookingMessages returns the newest messages of a booking in send order,
// capped at limit. Reconnecting clients use it to catch up consistently with
// what was broadcast.
func (db *DB) GetBookingMessages(ctx context.Context, bookingID string, limit int) ([]*models.Message, error) {
	if limit <= 0 {
		limit = models.DefaultHistoryLimit
	}

	rows, err := db.QueryContext(ctx,
		`SELECT id, booking_id, sender_id, receiver_id, type, content, attachments, location, status, sent_at, delivered_at, read_at
         FROM (
             SELECT * FROM messages WHERE booking_id = ? ORDER BY sent_at DESC, id DESC LIMIT ?
         ) ORDER BY sent_at ASC, id ASC`,
		bookingID, limit)
	if err != nil {
		return nil, fmt.Errorf("%w: booking messages: %v", domain.ErrUnavailable, err)
	}
	defer rows.Close()

	var messages []*models.Message
	for rows.Next() {
		msg, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		messages = append(messages, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: message rows: %v", domain.ErrUnavailable, err)
	}
	return messages, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanMessage(row rowScanner) (*models.Message, error) {
	var (
		msg         models.Message
		receiverID  sql.NullString
		content     sql.NullString
		attachments sql.NullString
		location    sql.NullString
		deliveredAt sql.NullTime
		readAt      sql.NullTime
	)
	err := row.Scan(&msg.ID, &msg.BookingID, &msg.SenderID, &receiverID, &msg.Type, &content,
		&attachments, &location, &msg.Status, &msg.SentAt, &deliveredAt, &readAt)
	if err != nil {
		return nil, err
	}

	msg.ReceiverID = receiverID.String
	msg.Content = content.String
	if attachments.Valid && attachments.String != "" {
		if err := json.Unmarshal([]byte(attachments.String), &msg.Attachments); err != nil {
			return nil, fmt.Errorf("decode attachments of %s: %w", msg.ID, err)
		}
	}
	if location.Valid && location.String != "" {
		msg.Location = &models.Location{}
		if err := json.Unmarshal([]byte(location.String), msg.Location); err != nil {
			return nil, fmt.Errorf("decode location of %s: %w", msg.ID, err)
		}
	}
	if deliveredAt.Valid {
		msg.DeliveredAt = &deliveredAt.Time
	}
	if readAt.Valid {
		msg.ReadAt = &readAt.Time
	}
	return &msg, nil
}

func encodeJSON(v any) (sql.NullString, error) {
	switch val := v.(type) {
	case []string:
		if len(val) == 0 {
			return sql.NullString{}, nil
		}
	case *models.Location:
		if val == nil {
			return sql.NullString{}, nil
		}
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return sql.NullString{}, err
	}
	return sql.NullString{String: string(raw), Valid: true}, nil
}
