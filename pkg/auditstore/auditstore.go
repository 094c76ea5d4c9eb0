// Package auditstore persists ingested audit events on the central server.
package auditstore

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite3"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"

	"github.com/centra-sso/centra/pkg/audit"
)

// Store is a sqlite-backed audit event store.
type Store struct {
	db     *sql.DB
	logger *zap.Logger
}

// Open opens the database and applies pending migrations.
func Open(dbPath, migrationsPath string, logger *zap.Logger) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("cannot open audit database: %w", err)
	}

	logger.Info("Applying audit database migrations...")

	err = applyMigrations(db, migrationsPath)
	if err != nil && err != migrate.ErrNoChange {
		return nil, fmt.Errorf("failed to apply audit database migrations: %w", err)
	} else if err == migrate.ErrNoChange {
		logger.Info("No new migrations to apply to audit database.")
	} else {
		logger.Info("Audit database migrations applied successfully.")
	}

	return &Store{db: db, logger: logger}, nil
}

func applyMigrations(db *sql.DB, migrationsPath string) error {
	driver, err := sqlite3.WithInstance(db, &sqlite3.Config{})
	if err != nil {
		return fmt.Errorf("could not create database driver: %w", err)
	}

	m, err := migrate.NewWithDatabaseInstance(
		fmt.Sprintf("file://%s", migrationsPath),
		"sqlite3",
		driver,
	)
	if err != nil {
		return fmt.Errorf("failed to initialize migrate instance: %w", err)
	}

	return m.Up()
}

// Insert stores one event. Inserting the same event ID twice is a no-op,
// which keeps retried deliveries from duplicating rows.
func (s *Store) Insert(ctx context.Context, event audit.Event) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO audit_events (id, type, subject, tenant, source_ip, occurred_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		event.ID, event.Type, event.Subject, event.Tenant, event.SourceIP, event.OccurredAt.UTC())
	if err != nil {
		return fmt.Errorf("failed to insert audit event: %w", err)
	}

	return nil
}

// Recent returns the newest events, most recent first.
func (s *Store) Recent(ctx context.Context, limit int) ([]audit.Event, error) {
	if limit <= 0 {
		limit = 100
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, type, subject, tenant, source_ip, occurred_at
		 FROM audit_events ORDER BY occurred_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query audit events: %w", err)
	}

	defer rows.Close()

	var events []audit.Event

	for rows.Next() {
		var event audit.Event

		if err := rows.Scan(&event.ID, &event.Type, &event.Subject, &event.Tenant, &event.SourceIP, &event.OccurredAt); err != nil {
			return nil, fmt.Errorf("failed to scan audit event: %w", err)
		}

		events = append(events, event)
	}

	return events, rows.Err()
}

// Close releases the underlying database handle.
func (s *Store) Close() error {
	return s.db.Close()
}
