package store

import (
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/telepharma-bw/intakebot/internal/models"
)

// scanConversationState scans a ConversationState from a single sql.Row.
// The draft column is stored as JSON and may be NULL.
func scanConversationState(row *sql.Row) (*models.ConversationState, error) {
	var st models.ConversationState
	var stage string
	var draftJSON sql.NullString
	err := row.Scan(&st.RecipientID, &stage, &draftJSON, &st.CreatedAt, &st.UpdatedAt)
	if err != nil {
		return nil, err
	}
	st.Stage = models.Stage(stage)
	if draftJSON.Valid && draftJSON.String != "" {
		if err := json.Unmarshal([]byte(draftJSON.String), &st.Draft); err != nil {
			return nil, fmt.Errorf("failed to decode draft for %s: %w", st.RecipientID, err)
		}
	}
	return &st, nil
}

// collectProfiles scans all profile rows.
func collectProfiles(rows *sql.Rows) ([]models.Profile, error) {
	var profiles []models.Profile
	for rows.Next() {
		var p models.Profile
		err := rows.Scan(&p.RecipientID, &p.FirstName, &p.Surname, &p.DateOfBirth,
			&p.MedicalAidProvider, &p.MedicalAidNumber, &p.Scheme, &p.DependantNumber, &p.CreatedAt)
		if err != nil {
			return nil, fmt.Errorf("failed to scan profile row: %w", err)
		}
		profiles = append(profiles, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate profile rows: %w", err)
	}
	return profiles, nil
}
