package database

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog"
)

// DB wraps the sqlite store for messages, notifications and the booking
// snapshot the core needs for participancy and status checks.
type DB struct {
	*sql.DB
	logger zerolog.Logger
}

func NewDB(path string, logger *zerolog.Logger) (*DB, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}

	db, err := sql.Open("sqlite3", path+"?_busy_timeout=5000&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("connect to database: %w", err)
	}

	if err := createTables(db); err != nil {
		return nil, fmt.Errorf("create tables: %w", err)
	}

	base := zerolog.Nop()
	if logger != nil {
		base = logger.With().Str("component", "database").Logger()
	}
	base.Info().Str("path", path).Msg("database initialized")

	return &DB{DB: db, logger: base}, nil
}

func createTables(db *sql.DB) error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS users (
            id TEXT PRIMARY KEY,
            role TEXT NOT NULL,
            name TEXT,
            is_active BOOLEAN NOT NULL DEFAULT 1,
            created_at DATETIME NOT NULL,
            updated_at DATETIME NOT NULL
        )`,
		`CREATE TABLE IF NOT EXISTS bookings (
            id TEXT PRIMARY KEY,
            customer_id TEXT NOT NULL,
            worker_id TEXT,
            status TEXT NOT NULL DEFAULT 'pending',
            actual_start DATETIME,
            actual_end DATETIME,
            cancelled_by TEXT,
            cancel_reason TEXT,
            cancel_fee REAL,
            cancelled_at DATETIME,
            created_at DATETIME NOT NULL,
            updated_at DATETIME NOT NULL
        )`,
		`CREATE TABLE IF NOT EXISTS milestones (
            id INTEGER PRIMARY KEY AUTOINCREMENT,
            booking_id TEXT NOT NULL,
            status TEXT NOT NULL,
            timestamp DATETIME NOT NULL,
            description TEXT,
            actor TEXT NOT NULL
        )`,
		`CREATE TABLE IF NOT EXISTS messages (
            id TEXT PRIMARY KEY,
            booking_id TEXT NOT NULL,
            sender_id TEXT NOT NULL,
            receiver_id TEXT,
            type TEXT NOT NULL,
            content TEXT,
            attachments TEXT,
            location TEXT,
            status TEXT NOT NULL DEFAULT 'sent',
            sent_at DATETIME NOT NULL,
            delivered_at DATETIME,
            read_at DATETIME
        )`,
		`CREATE TABLE IF NOT EXISTS notifications (
            id TEXT PRIMARY KEY,
            user_id TEXT NOT NULL,
            type TEXT NOT NULL,
            title TEXT,
            message TEXT,
            related_id TEXT,
            related_type TEXT,
            priority TEXT NOT NULL DEFAULT 'normal',
            is_read BOOLEAN NOT NULL DEFAULT 0,
            expires_at DATETIME,
            created_at DATETIME NOT NULL
        )`,

		`CREATE INDEX IF NOT EXISTS idx_milestones_booking_id ON milestones(booking_id)`,
		`CREATE INDEX IF NOT EXISTS idx_messages_booking_id ON messages(booking_id)`,
		`CREATE INDEX IF NOT EXISTS idx_messages_sender_id ON messages(sender_id)`,
		`CREATE INDEX IF NOT EXISTS idx_notifications_user_id ON notifications(user_id)`,
		`CREATE INDEX IF NOT EXISTS idx_notifications_is_read ON notifications(is_read)`,
		`CREATE INDEX IF NOT EXISTS idx_bookings_customer_id ON bookings(customer_id)`,
		`CREATE INDEX IF NOT EXISTS idx_bookings_worker_id ON bookings(worker_id)`,
	}

	for _, query := range queries {
		if _, err := db.Exec(query); err != nil {
			return fmt.Errorf("exec %q: %w", query[:40], err)
		}
	}
	return nil
}

// Healthy reports whether the store answers a ping.
func (db *DB) Healthy(ctx context.Context) error {
	return db.PingContext(ctx)
}

func (db *DB) Close() error {
	return db.DB.Close()
}
