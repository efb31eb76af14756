// Package store is the durable offline queue: captured notifications and
// manual transactions wait here, flagged by an uploaded bit, until the
// upload coordinator drains them.
package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/dvloznov/notification-logger/internal/domain"

	// Pure-Go SQLite driver, registered for database/sql. No CGO needed,
	// which keeps cross-compilation and in-memory test databases simple.
	_ "modernc.org/sqlite"
)

// Store wraps the embedded SQLite queue database.
type Store struct {
	db *sql.DB
}

// Open opens or creates the queue database at path and initializes the
// schema. Use ":memory:" for an in-memory database in tests.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path+"?_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	// The driver opens lazily; verify we can actually talk to the file.
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	// A single connection serializes writers and keeps ":memory:"
	// databases from silently forking per connection.
	db.SetMaxOpenConns(1)

	s := &Store{db: db}
	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("init schema: %w", err)
	}

	return s, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) initSchema() error {
	const schema = `
		CREATE TABLE IF NOT EXISTS notifications (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			notification_key TEXT NOT NULL UNIQUE,
			app_name TEXT NOT NULL,
			package_name TEXT NOT NULL,
			title TEXT NOT NULL DEFAULT '',
			text TEXT NOT NULL DEFAULT '',
			timestamp INTEGER NOT NULL,
			uploaded INTEGER NOT NULL DEFAULT 0,
			comment TEXT NOT NULL DEFAULT ''
		);
		CREATE INDEX IF NOT EXISTS idx_notifications_pending
			ON notifications(uploaded, timestamp);

		CREATE TABLE IF NOT EXISTS transactions (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			account TEXT NOT NULL,
			amount TEXT NOT NULL,
			currency TEXT NOT NULL,
			category TEXT NOT NULL,
			timestamp INTEGER NOT NULL,
			uploaded INTEGER NOT NULL DEFAULT 0,
			comment TEXT NOT NULL DEFAULT ''
		);
		CREATE INDEX IF NOT EXISTS idx_transactions_timestamp
			ON transactions(timestamp);
	`
	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("create tables: %w", err)
	}
	return nil
}

// UpsertEvent inserts a captured event, replacing any existing row with
// the same notification key. Used by the live capture path, where a
// re-posted notification should supersede the previous capture.
func (s *Store) UpsertEvent(ctx context.Context, event *domain.CapturedEvent) (int64, error) {
	if err := event.Validate(); err != nil {
		return 0, err
	}

	res, err := s.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO notifications
			(notification_key, app_name, package_name, title, text, timestamp, uploaded, comment)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		event.NotificationKey, event.AppName, event.PackageName,
		event.Title, event.Text, event.Timestamp, event.Uploaded, event.Comment,
	)
	if err != nil {
		return 0, fmt.Errorf("upsert event: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("upsert event id: %w", err)
	}
	return id, nil
}

// InsertEventIfAbsent inserts a captured event unless a row with the same
// notification key already exists. Used by the rescan catch-up path.
// Reports whether a new row was inserted.
func (s *Store) InsertEventIfAbsent(ctx context.Context, event *domain.CapturedEvent) (bool, error) {
	if err := event.Validate(); err != nil {
		return false, err
	}

	res, err := s.db.ExecContext(ctx, `
		INSERT OR IGNORE INTO notifications
			(notification_key, app_name, package_name, title, text, timestamp, uploaded, comment)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		event.NotificationKey, event.AppName, event.PackageName,
		event.Title, event.Text, event.Timestamp, event.Uploaded, event.Comment,
	)
	if err != nil {
		return false, fmt.Errorf("insert event: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("insert event result: %w", err)
	}
	return affected > 0, nil
}

// PendingEvents returns up to limit events not yet uploaded, oldest first.
func (s *Store) PendingEvents(ctx context.Context, limit int) ([]domain.CapturedEvent, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, notification_key, app_name, package_name, title, text, timestamp, uploaded, comment
		FROM notifications WHERE uploaded = 0 ORDER BY timestamp ASC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("query pending events: %w", err)
	}
	defer rows.Close()
	return scanEvents(rows)
}

// RecentEvents returns the most recently captured events, newest first,
// regardless of upload state.
func (s *Store) RecentEvents(ctx context.Context, limit int) ([]domain.CapturedEvent, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, notification_key, app_name, package_name, title, text, timestamp, uploaded, comment
		FROM notifications ORDER BY timestamp DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("query recent events: %w", err)
	}
	defer rows.Close()
	return scanEvents(rows)
}

// PendingEventCount returns the number of events awaiting upload.
func (s *Store) PendingEventCount(ctx context.Context) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM notifications WHERE uploaded = 0`).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count pending events: %w", err)
	}
	return count, nil
}

// MarkEventUploaded flips the uploaded flag on an event. Idempotent.
func (s *Store) MarkEventUploaded(ctx context.Context, id int64) error {
	if _, err := s.db.ExecContext(ctx,
		`UPDATE notifications SET uploaded = 1 WHERE id = ?`, id); err != nil {
		return fmt.Errorf("mark event uploaded: %w", err)
	}
	return nil
}

// SetEventComment updates the free-text comment on an event.
func (s *Store) SetEventComment(ctx context.Context, id int64, comment string) error {
	if _, err := s.db.ExecContext(ctx,
		`UPDATE notifications SET comment = ? WHERE id = ?`, comment, id); err != nil {
		return fmt.Errorf("set event comment: %w", err)
	}
	return nil
}

// DeleteUploadedEvents purges all events already uploaded and returns the
// number of rows removed.
func (s *Store) DeleteUploadedEvents(ctx context.Context) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM notifications WHERE uploaded = 1`)
	if err != nil {
		return 0, fmt.Errorf("delete uploaded events: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("delete uploaded events result: %w", err)
	}
	return affected, nil
}

// InsertTransaction queues a manual transaction for upload.
func (s *Store) InsertTransaction(ctx context.Context, tx *domain.ManualTransaction) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO transactions (account, amount, currency, category, timestamp, uploaded, comment)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		tx.Account, tx.Amount.String(), tx.Currency, tx.Category,
		tx.Timestamp, tx.Uploaded, tx.Comment,
	)
	if err != nil {
		return 0, fmt.Errorf("insert transaction: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("insert transaction id: %w", err)
	}
	return id, nil
}

// PendingTransactions returns up to limit transactions not yet uploaded,
// oldest first.
func (s *Store) PendingTransactions(ctx context.Context, limit int) ([]domain.ManualTransaction, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, account, amount, currency, category, timestamp, uploaded, comment
		FROM transactions WHERE uploaded = 0 ORDER BY timestamp ASC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("query pending transactions: %w", err)
	}
	defer rows.Close()

	var result []domain.ManualTransaction
	for rows.Next() {
		var tx domain.ManualTransaction
		var amount string
		if err := rows.Scan(&tx.ID, &tx.Account, &amount, &tx.Currency,
			&tx.Category, &tx.Timestamp, &tx.Uploaded, &tx.Comment); err != nil {
			return nil, fmt.Errorf("scan transaction: %w", err)
		}
		tx.Amount, err = decimal.NewFromString(amount)
		if err != nil {
			return nil, fmt.Errorf("parse transaction amount %q: %w", amount, err)
		}
		result = append(result, tx)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate transactions: %w", err)
	}
	return result, nil
}

// PendingTransactionCount returns the number of transactions awaiting
// upload.
func (s *Store) PendingTransactionCount(ctx context.Context) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM transactions WHERE uploaded = 0`).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count pending transactions: %w", err)
	}
	return count, nil
}

// MarkTransactionUploaded flips the uploaded flag on a transaction.
// Idempotent.
func (s *Store) MarkTransactionUploaded(ctx context.Context, id int64) error {
	if _, err := s.db.ExecContext(ctx,
		`UPDATE transactions SET uploaded = 1 WHERE id = ?`, id); err != nil {
		return fmt.Errorf("mark transaction uploaded: %w", err)
	}
	return nil
}

func scanEvents(rows *sql.Rows) ([]domain.CapturedEvent, error) {
	var result []domain.CapturedEvent
	for rows.Next() {
		var e domain.CapturedEvent
		if err := rows.Scan(&e.ID, &e.NotificationKey, &e.AppName, &e.PackageName,
			&e.Title, &e.Text, &e.Timestamp, &e.Uploaded, &e.Comment); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		result = append(result, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate events: %w", err)
	}
	return result, nil
}
