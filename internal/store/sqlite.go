// Package store provides storage backends for the intake service.
//
// This file implements the SQLite-backed store.
package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	_ "embed"

	_ "github.com/mattn/go-sqlite3"
	"github.com/telepharma-bw/intakebot/internal/models"
)

// DefaultDirPermissions defines the default permissions for database directories.
const DefaultDirPermissions = 0755

//go:embed migrations_sqlite.sql
var sqliteMigrations string

// Opts holds configuration options for SQL-backed stores.
type Opts struct {
	DSN string
}

// Option defines a configuration option for SQL-backed stores.
type Option func(*Opts)

// WithDSN sets the database DSN.
func WithDSN(dsn string) Option {
	return func(o *Opts) { o.DSN = dsn }
}

// SQLiteStore is a Store backed by a local SQLite database file.
type SQLiteStore struct {
	db *sql.DB
}

// Compile-time check that SQLiteStore implements Store.
var _ Store = (*SQLiteStore)(nil)

// NewSQLiteStore creates a new SQLite store with the given DSN. The DSN is a
// file path to the database file; its directory is created if missing.
func NewSQLiteStore(opts ...Option) (*SQLiteStore, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	slog.Debug("NewSQLiteStore invoked", "DSN_set", cfg.DSN != "")

	dsn := cfg.DSN
	if dsn == "" {
		slog.Error("SQLiteStore DSN not set")
		return nil, fmt.Errorf("database DSN not set")
	}

	dir := filepath.Dir(dsn)
	if err := os.MkdirAll(dir, DefaultDirPermissions); err != nil {
		slog.Error("Failed to create database directory", "error", err, "dir", dir)
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		slog.Error("Failed to open SQLite connection", "error", err)
		return nil, err
	}
	if err := db.Ping(); err != nil {
		slog.Error("SQLite ping failed", "error", err)
		return nil, err
	}

	if _, err := db.Exec(sqliteMigrations); err != nil {
		slog.Error("Failed to run migrations", "error", err)
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	slog.Debug("SQLite migrations applied successfully")

	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) GetConversationState(recipientID string) (*models.ConversationState, error) {
	row := s.db.QueryRow(
		`SELECT recipient_id, stage, draft, created_at, updated_at FROM conversation_states WHERE recipient_id = ?`,
		recipientID,
	)
	state, err := scanConversationState(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		slog.Error("SQLiteStore GetConversationState failed", "error", err, "recipientID", recipientID)
		return nil, fmt.Errorf("failed to query conversation state for %s: %w", recipientID, err)
	}
	return state, nil
}

func (s *SQLiteStore) SaveConversationState(state models.ConversationState) error {
	draftJSON, err := json.Marshal(state.Draft)
	if err != nil {
		slog.Error("SQLiteStore SaveConversationState marshal failed", "error", err, "recipientID", state.RecipientID)
		return err
	}
	_, err = s.db.Exec(
		`INSERT OR REPLACE INTO conversation_states (recipient_id, stage, draft, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?)`,
		state.RecipientID, string(state.Stage), string(draftJSON), state.CreatedAt, state.UpdatedAt,
	)
	if err != nil {
		slog.Error("SQLiteStore SaveConversationState failed", "error", err, "recipientID", state.RecipientID)
		return fmt.Errorf("failed to save conversation state for %s: %w", state.RecipientID, err)
	}
	slog.Debug("SQLiteStore SaveConversationState succeeded", "recipientID", state.RecipientID, "stage", state.Stage)
	return nil
}

func (s *SQLiteStore) DeleteConversationState(recipientID string) error {
	_, err := s.db.Exec(`DELETE FROM conversation_states WHERE recipient_id = ?`, recipientID)
	if err != nil {
		slog.Error("SQLiteStore DeleteConversationState failed", "error", err, "recipientID", recipientID)
		return fmt.Errorf("failed to delete conversation state for %s: %w", recipientID, err)
	}
	return nil
}

func (s *SQLiteStore) GetProfile(recipientID string) (*models.Profile, error) {
	row := s.db.QueryRow(
		`SELECT recipient_id, first_name, surname, date_of_birth, medical_aid_provider, medical_aid_number, scheme, dependant_number, created_at
		 FROM profiles WHERE recipient_id = ?`,
		recipientID,
	)
	var p models.Profile
	err := row.Scan(&p.RecipientID, &p.FirstName, &p.Surname, &p.DateOfBirth,
		&p.MedicalAidProvider, &p.MedicalAidNumber, &p.Scheme, &p.DependantNumber, &p.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		slog.Error("SQLiteStore GetProfile failed", "error", err, "recipientID", recipientID)
		return nil, fmt.Errorf("failed to query profile for %s: %w", recipientID, err)
	}
	return &p, nil
}

func (s *SQLiteStore) SaveProfile(profile models.Profile) error {
	_, err := s.db.Exec(
		`INSERT INTO profiles (recipient_id, first_name, surname, date_of_birth, medical_aid_provider, medical_aid_number, scheme, dependant_number, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		profile.RecipientID, profile.FirstName, profile.Surname, profile.DateOfBirth,
		profile.MedicalAidProvider, profile.MedicalAidNumber, profile.Scheme, profile.DependantNumber, profile.CreatedAt,
	)
	if err != nil {
		slog.Error("SQLiteStore SaveProfile failed", "error", err, "recipientID", profile.RecipientID)
		return fmt.Errorf("failed to save profile for %s: %w", profile.RecipientID, err)
	}
	slog.Debug("SQLiteStore SaveProfile succeeded", "recipientID", profile.RecipientID)
	return nil
}

func (s *SQLiteStore) ListProfiles() ([]models.Profile, error) {
	rows, err := s.db.Query(
		`SELECT recipient_id, first_name, surname, date_of_birth, medical_aid_provider, medical_aid_number, scheme, dependant_number, created_at
		 FROM profiles ORDER BY created_at`,
	)
	if err != nil {
		slog.Error("SQLiteStore ListProfiles query failed", "error", err)
		return nil, fmt.Errorf("failed to query profiles: %w", err)
	}
	defer rows.Close()
	return collectProfiles(rows)
}

// CommitTransition applies the state upsert and the optional profile insert in
// a single transaction.
func (s *SQLiteStore) CommitTransition(state models.ConversationState, profile *models.Profile) error {
	draftJSON, err := json.Marshal(state.Draft)
	if err != nil {
		return err
	}
	tx, err := s.db.Begin()
	if err != nil {
		slog.Error("SQLiteStore CommitTransition begin failed", "error", err, "recipientID", state.RecipientID)
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.Exec(
		`INSERT OR REPLACE INTO conversation_states (recipient_id, stage, draft, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?)`,
		state.RecipientID, string(state.Stage), string(draftJSON), state.CreatedAt, state.UpdatedAt,
	)
	if err != nil {
		slog.Error("SQLiteStore CommitTransition state upsert failed", "error", err, "recipientID", state.RecipientID)
		return fmt.Errorf("failed to save conversation state for %s: %w", state.RecipientID, err)
	}

	if profile != nil {
		_, err = tx.Exec(
			`INSERT INTO profiles (recipient_id, first_name, surname, date_of_birth, medical_aid_provider, medical_aid_number, scheme, dependant_number, created_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			profile.RecipientID, profile.FirstName, profile.Surname, profile.DateOfBirth,
			profile.MedicalAidProvider, profile.MedicalAidNumber, profile.Scheme, profile.DependantNumber, profile.CreatedAt,
		)
		if err != nil {
			slog.Error("SQLiteStore CommitTransition profile insert failed", "error", err, "recipientID", profile.RecipientID)
			return fmt.Errorf("failed to save profile for %s: %w", profile.RecipientID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		slog.Error("SQLiteStore CommitTransition commit failed", "error", err, "recipientID", state.RecipientID)
		return fmt.Errorf("failed to commit transition: %w", err)
	}
	slog.Debug("SQLiteStore CommitTransition succeeded", "recipientID", state.RecipientID, "stage", state.Stage, "profile_created", profile != nil)
	return nil
}

func (s *SQLiteStore) RecordInbound(messageID, recipientID string) (bool, error) {
	res, err := s.db.Exec(
		`INSERT OR IGNORE INTO inbound_dedup (message_id, recipient_id, received_at) VALUES (?, ?, ?)`,
		messageID, recipientID, time.Now(),
	)
	if err != nil {
		return false, fmt.Errorf("record inbound failed: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("record inbound failed: %w", err)
	}
	return affected > 0, nil
}

func (s *SQLiteStore) IsProcessed(messageID string) (bool, error) {
	var processedAt sql.NullTime
	err := s.db.QueryRow(`SELECT processed_at FROM inbound_dedup WHERE message_id = ?`, messageID).Scan(&processedAt)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("dedup check failed: %w", err)
	}
	return processedAt.Valid, nil
}

func (s *SQLiteStore) MarkProcessed(messageID string) error {
	_, err := s.db.Exec(`UPDATE inbound_dedup SET processed_at = ? WHERE message_id = ?`, time.Now(), messageID)
	if err != nil {
		return fmt.Errorf("mark processed failed: %w", err)
	}
	return nil
}

// Ping verifies the database connection.
func (s *SQLiteStore) Ping() error {
	return s.db.Ping()
}

// Close closes the SQLite database connection.
func (s *SQLiteStore) Close() error {
	slog.Debug("Closing SQLite database connection")
	err := s.db.Close()
	if err != nil {
		slog.Error("Failed to close SQLite database", "error", err)
	}
	return err
}
