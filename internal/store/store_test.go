package store

import (
	"path/filepath"
	"syscall"
	"testing"
	"time"

	"github.com/telepharma-bw/intakebot/internal/models"
)

func sampleState(recipientID string) models.ConversationState {
	state := models.NewConversationState(recipientID, models.StageAwaitSurname)
	state.Draft.FirstName = "Jane"
	return state
}

func sampleProfile(recipientID string) models.Profile {
	return models.Profile{
		RecipientID:        recipientID,
		FirstName:          "Jane",
		Surname:            "Doe",
		DateOfBirth:        "12/05/1990",
		MedicalAidProvider: "BOMAID",
		MedicalAidNumber:   "123456",
		Scheme:             models.NotApplicable,
		DependantNumber:    "7",
		CreatedAt:          time.Now(),
	}
}

// exerciseStore runs the shared Store contract against any backend.
func exerciseStore(t *testing.T, s Store) {
	t.Helper()

	// Unknown recipient yields nil, not an error.
	state, err := s.GetConversationState("26770000000")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if state != nil {
		t.Errorf("expected nil state for unknown recipient, got %+v", state)
	}

	// State round trip, including the draft.
	in := sampleState("26771234567")
	if err := s.SaveConversationState(in); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	out, err := s.GetConversationState("26771234567")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out == nil || out.Stage != models.StageAwaitSurname || out.Draft.FirstName != "Jane" {
		t.Errorf("state round trip mismatch: %+v", out)
	}

	// Upsert replaces the existing record.
	in.Stage = models.StageAwaitDateOfBirth
	in.Draft.Surname = "Doe"
	if err := s.SaveConversationState(in); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	out, _ = s.GetConversationState("26771234567")
	if out.Stage != models.StageAwaitDateOfBirth || out.Draft.Surname != "Doe" {
		t.Errorf("state upsert mismatch: %+v", out)
	}

	// Atomic commit of terminal transition plus profile.
	final := in
	final.Stage = models.StageServiceMenu
	profile := sampleProfile("26771234567")
	if err := s.CommitTransition(final, &profile); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	out, _ = s.GetConversationState("26771234567")
	if out.Stage != models.StageServiceMenu {
		t.Errorf("committed stage mismatch: %+v", out)
	}
	got, err := s.GetProfile("26771234567")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got == nil || got.FirstName != "Jane" || got.Scheme != models.NotApplicable {
		t.Errorf("profile round trip mismatch: %+v", got)
	}

	profiles, err := s.ListProfiles()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(profiles) != 1 {
		t.Errorf("expected 1 profile, got %d", len(profiles))
	}

	// Delete is idempotent and removes only the state record.
	if err := s.DeleteConversationState("26771234567"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	out, _ = s.GetConversationState("26771234567")
	if out != nil {
		t.Errorf("expected deleted state, got %+v", out)
	}
	if err := s.DeleteConversationState("26771234567"); err != nil {
		t.Errorf("deleting a missing state should not error: %v", err)
	}
	if got, _ := s.GetProfile("26771234567"); got == nil {
		t.Error("deleting state must not remove the profile")
	}

	// Dedup lifecycle: record, reprocess check, mark processed.
	fresh, err := s.RecordInbound("msg-1", "26771234567")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !fresh {
		t.Error("first record of a message id should be fresh")
	}
	fresh, err = s.RecordInbound("msg-1", "26771234567")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if fresh {
		t.Error("second record of a message id should not be fresh")
	}
	processed, err := s.IsProcessed("msg-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if processed {
		t.Error("recorded message should not be processed yet")
	}
	if err := s.MarkProcessed("msg-1"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	processed, err = s.IsProcessed("msg-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !processed {
		t.Error("marked message should be processed")
	}

	// Unrecorded id is simply unprocessed.
	processed, err = s.IsProcessed("never-seen")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if processed {
		t.Error("unknown message id should not be processed")
	}

	if err := s.Ping(); err != nil {
		t.Errorf("ping failed: %v", err)
	}
}

func TestInMemoryStore(t *testing.T) {
	s := NewInMemoryStore()
	exerciseStore(t, s)
}

func TestSQLiteStore(t *testing.T) {
	dsn := filepath.Join(t.TempDir(), "intakebot.db")
	s, err := NewSQLiteStore(WithDSN(dsn))
	if err != nil {
		t.Fatalf("failed to open SQLite store: %v", err)
	}
	defer s.Close()
	exerciseStore(t, s)
}

func TestSQLiteStoreRequiresDSN(t *testing.T) {
	if _, err := NewSQLiteStore(); err == nil {
		t.Error("expected error when DSN is not set")
	}
}

func TestPostgresStore(t *testing.T) {
	// Requires a running PostgreSQL instance; set DATABASE_URL to run.
	connStr := getenvOrSkip(t, "DATABASE_URL")
	s, err := NewPostgresStore(WithPostgresDSN(connStr))
	if err != nil {
		t.Skipf("Postgres not available: %v", err)
	}
	defer s.Close()
	s.db.Exec("DELETE FROM inbound_dedup")
	s.db.Exec("DELETE FROM profiles")
	s.db.Exec("DELETE FROM conversation_states")
	exerciseStore(t, s)
}

func getenvOrSkip(t *testing.T, key string) string {
	v := ""
	if val, ok := syscall.Getenv(key); ok {
		v = val
	}
	if v == "" {
		t.Skipf("env %s not set", key)
	}
	return v
}
