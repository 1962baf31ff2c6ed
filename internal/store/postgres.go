// Package store provides storage backends for the intake service.
//
// This file implements the PostgreSQL-backed store.
package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	_ "embed"

	_ "github.com/lib/pq"
	"github.com/telepharma-bw/intakebot/internal/models"
)

//go:embed migrations_postgres.sql
var postgresMigrations string

// WithPostgresDSN sets the PostgreSQL connection string.
func WithPostgresDSN(dsn string) Option {
	return func(o *Opts) { o.DSN = dsn }
}

// PostgresStore is a Store backed by PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

// Compile-time check that PostgresStore implements Store.
var _ Store = (*PostgresStore)(nil)

// NewPostgresStore creates a new PostgreSQL store with the given DSN.
func NewPostgresStore(opts ...Option) (*PostgresStore, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	slog.Debug("NewPostgresStore invoked", "DSN_set", cfg.DSN != "")

	if cfg.DSN == "" {
		slog.Error("PostgresStore DSN not set")
		return nil, fmt.Errorf("database DSN not set")
	}

	db, err := sql.Open("postgres", cfg.DSN)
	if err != nil {
		slog.Error("Failed to open Postgres connection", "error", err)
		return nil, err
	}
	if err := db.Ping(); err != nil {
		slog.Error("Postgres ping failed", "error", err)
		return nil, err
	}

	if _, err := db.Exec(postgresMigrations); err != nil {
		slog.Error("Failed to run migrations", "error", err)
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	slog.Debug("Postgres migrations applied successfully")

	return &PostgresStore{db: db}, nil
}

func (s *PostgresStore) GetConversationState(recipientID string) (*models.ConversationState, error) {
	row := s.db.QueryRow(
		`SELECT recipient_id, stage, draft, created_at, updated_at FROM conversation_states WHERE recipient_id = $1`,
		recipientID,
	)
	state, err := scanConversationState(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		slog.Error("PostgresStore GetConversationState failed", "error", err, "recipientID", recipientID)
		return nil, fmt.Errorf("failed to query conversation state for %s: %w", recipientID, err)
	}
	return state, nil
}

func (s *PostgresStore) SaveConversationState(state models.ConversationState) error {
	draftJSON, err := json.Marshal(state.Draft)
	if err != nil {
		slog.Error("PostgresStore SaveConversationState marshal failed", "error", err, "recipientID", state.RecipientID)
		return err
	}
	_, err = s.db.Exec(
		`INSERT INTO conversation_states (recipient_id, stage, draft, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5)
		 ON CONFLICT (recipient_id) DO UPDATE SET stage = $2, draft = $3, updated_at = $5`,
		state.RecipientID, string(state.Stage), string(draftJSON), state.CreatedAt, state.UpdatedAt,
	)
	if err != nil {
		slog.Error("PostgresStore SaveConversationState failed", "error", err, "recipientID", state.RecipientID)
		return fmt.Errorf("failed to save conversation state for %s: %w", state.RecipientID, err)
	}
	slog.Debug("PostgresStore SaveConversationState succeeded", "recipientID", state.RecipientID, "stage", state.Stage)
	return nil
}

func (s *PostgresStore) DeleteConversationState(recipientID string) error {
	_, err := s.db.Exec(`DELETE FROM conversation_states WHERE recipient_id = $1`, recipientID)
	if err != nil {
		slog.Error("PostgresStore DeleteConversationState failed", "error", err, "recipientID", recipientID)
		return fmt.Errorf("failed to delete conversation state for %s: %w", recipientID, err)
	}
	return nil
}

func (s *PostgresStore) GetProfile(recipientID string) (*models.Profile, error) {
	row := s.db.QueryRow(
		`SELECT recipient_id, first_name, surname, date_of_birth, medical_aid_provider, medical_aid_number, scheme, dependant_number, created_at
		 FROM profiles WHERE recipient_id = $1`,
		recipientID,
	)
	var p models.Profile
	err := row.Scan(&p.RecipientID, &p.FirstName, &p.Surname, &p.DateOfBirth,
		&p.MedicalAidProvider, &p.MedicalAidNumber, &p.Scheme, &p.DependantNumber, &p.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		slog.Error("PostgresStore GetProfile failed", "error", err, "recipientID", recipientID)
		return nil, fmt.Errorf("failed to query profile for %s: %w", recipientID, err)
	}
	return &p, nil
}

func (s *PostgresStore) SaveProfile(profile models.Profile) error {
	_, err := s.db.Exec(
		`INSERT INTO profiles (recipient_id, first_name, surname, date_of_birth, medical_aid_provider, medical_aid_number, scheme, dependant_number, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		profile.RecipientID, profile.FirstName, profile.Surname, profile.DateOfBirth,
		profile.MedicalAidProvider, profile.MedicalAidNumber, profile.Scheme, profile.DependantNumber, profile.CreatedAt,
	)
	if err != nil {
		slog.Error("PostgresStore SaveProfile failed", "error", err, "recipientID", profile.RecipientID)
		return fmt.Errorf("failed to save profile for %s: %w", profile.RecipientID, err)
	}
	slog.Debug("PostgresStore SaveProfile succeeded", "recipientID", profile.RecipientID)
	return nil
}

func (s *PostgresStore) ListProfiles() ([]models.Profile, error) {
	rows, err := s.db.Query(
		`SELECT recipient_id, first_name, surname, date_of_birth, medical_aid_provider, medical_aid_number, scheme, dependant_number, created_at
		 FROM profiles ORDER BY created_at`,
	)
	if err != nil {
		slog.Error("PostgresStore ListProfiles query failed", "error", err)
		return nil, fmt.Errorf("failed to query profiles: %w", err)
	}
	defer rows.Close()
	return collectProfiles(rows)
}

// CommitTransition applies the state upsert and the optional profile insert in
// a single transaction.
func (s *PostgresStore) CommitTransition(state models.ConversationState, profile *models.Profile) error {
	draftJSON, err := json.Marshal(state.Draft)
	if err != nil {
		return err
	}
	tx, err := s.db.Begin()
	if err != nil {
		slog.Error("PostgresStore CommitTransition begin failed", "error", err, "recipientID", state.RecipientID)
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.Exec(
		`INSERT INTO conversation_states (recipient_id, stage, draft, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5)
		 ON CONFLICT (recipient_id) DO UPDATE SET stage = $2, draft = $3, updated_at = $5`,
		state.RecipientID, string(state.Stage), string(draftJSON), state.CreatedAt, state.UpdatedAt,
	)
	if err != nil {
		slog.Error("PostgresStore CommitTransition state upsert failed", "error", err, "recipientID", state.RecipientID)
		return fmt.Errorf("failed to save conversation state for %s: %w", state.RecipientID, err)
	}

	if profile != nil {
		_, err = tx.Exec(
			`INSERT INTO profiles (recipient_id, first_name, surname, date_of_birth, medical_aid_provider, medical_aid_number, scheme, dependant_number, created_at)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
			profile.RecipientID, profile.FirstName, profile.Surname, profile.DateOfBirth,
			profile.MedicalAidProvider, profile.MedicalAidNumber, profile.Scheme, profile.DependantNumber, profile.CreatedAt,
		)
		if err != nil {
			slog.Error("PostgresStore CommitTransition profile insert failed", "error", err, "recipientID", profile.RecipientID)
			return fmt.Errorf("failed to save profile for %s: %w", profile.RecipientID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		slog.Error("PostgresStore CommitTransition commit failed", "error", err, "recipientID", state.RecipientID)
		return fmt.Errorf("failed to commit transition: %w", err)
	}
	slog.Debug("PostgresStore CommitTransition succeeded", "recipientID", state.RecipientID, "stage", state.Stage, "profile_created", profile != nil)
	return nil
}

func (s *PostgresStore) RecordInbound(messageID, recipientID string) (bool, error) {
	res, err := s.db.Exec(
		`INSERT INTO inbound_dedup (message_id, recipient_id, received_at) VALUES ($1, $2, $3)
		 ON CONFLICT (message_id) DO NOTHING`,
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

func (s *PostgresStore) IsProcessed(messageID string) (bool, error) {
	var processedAt sql.NullTime
	err := s.db.QueryRow(`SELECT processed_at FROM inbound_dedup WHERE message_id = $1`, messageID).Scan(&processedAt)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("dedup check failed: %w", err)
	}
	return processedAt.Valid, nil
}

func (s *PostgresStore) MarkProcessed(messageID string) error {
	_, err := s.db.Exec(`UPDATE inbound_dedup SET processed_at = $1 WHERE message_id = $2`, time.Now(), messageID)
	if err != nil {
		return fmt.Errorf("mark processed failed: %w", err)
	}
	return nil
}

// Ping verifies the database connection.
func (s *PostgresStore) Ping() error {
	return s.db.Ping()
}

// Close closes the PostgreSQL connection pool.
func (s *PostgresStore) Close() error {
	slog.Debug("Closing Postgres database connection")
	err := s.db.Close()
	if err != nil {
		slog.Error("Failed to close Postgres database", "error", err)
	}
	return err
}
