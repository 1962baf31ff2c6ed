// Package models defines conversation state structures for the intake flow.
package models

import "time"

// Stage is the enumerated position of a recipient within the intake or
// service-menu flow.
type Stage string

// Intake stages, strictly ordered. The terminal intake transition creates the
// Profile and lands directly on StageServiceMenu.
const (
	StageStart                 Stage = "START"
	StageAwaitFirstName        Stage = "AWAIT_FIRST_NAME"
	StageAwaitSurname          Stage = "AWAIT_SURNAME"
	StageAwaitDateOfBirth      Stage = "AWAIT_DATE_OF_BIRTH"
	StageAwaitMedicalAidProv   Stage = "AWAIT_MEDICAL_AID_PROVIDER"
	StageAwaitMedicalAidNumber Stage = "AWAIT_MEDICAL_AID_NUMBER"
	StageAwaitScheme           Stage = "AWAIT_SCHEME"
	StageAwaitDependantNumber  Stage = "AWAIT_DEPENDANT_NUMBER"
)

// Service-menu stages for registered recipients.
const (
	StageServiceMenu             Stage = "SERVICE_MENU"
	StageMedicationDelivery      Stage = "MEDICATION_DELIVERY"
	StageAwaitPrescriptionUpload Stage = "AWAIT_PRESCRIPTION_UPLOAD"
	StageAwaitOTCDescription     Stage = "AWAIT_OTC_DESCRIPTION"
	StagePharmacyConsultation    Stage = "PHARMACY_CONSULTATION"
	StageDoctorConsultation      Stage = "DOCTOR_CONSULTATION"
	StageGeneralEnquiry          Stage = "GENERAL_ENQUIRY"
	StagePostServiceMenu         Stage = "POST_SERVICE_MENU"
	StageAwaitingPharmacist      Stage = "AWAITING_PHARMACIST"
)

// Draft holds the partially-collected profile fields gathered during intake.
// All fields are optional until the stage that requires them has been passed.
type Draft struct {
	FirstName          string `json:"first_name,omitempty"`
	Surname            string `json:"surname,omitempty"`
	DateOfBirth        string `json:"date_of_birth,omitempty"`
	MedicalAidProvider string `json:"medical_aid_provider,omitempty"`
	MedicalAidNumber   string `json:"medical_aid_number,omitempty"`
	Scheme             string `json:"scheme,omitempty"`
	DependantNumber    string `json:"dependant_number,omitempty"`
}

// Complete reports whether every intake field has been collected.
func (d Draft) Complete() bool {
	return d.FirstName != "" && d.Surname != "" && d.DateOfBirth != "" &&
		d.MedicalAidProvider != "" && d.MedicalAidNumber != "" &&
		d.Scheme != "" && d.DependantNumber != ""
}

// ConversationState records exactly where a recipient is in the intake or
// service flow. Exactly one exists per recipient at any time, and it is the
// sole source of truth for what reply the next inbound message produces.
type ConversationState struct {
	RecipientID string    `json:"recipient_id"`
	Stage       Stage     `json:"stage"`
	Draft       Draft     `json:"draft"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// NewConversationState creates a state record for a recipient at the given stage.
func NewConversationState(recipientID string, stage Stage) ConversationState {
	now := time.Now()
	return ConversationState{
		RecipientID: recipientID,
		Stage:       stage,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

// Profile is a finalized registration record. It is created exactly once, by
// the terminal intake transition, and is immutable afterward.
type Profile struct {
	RecipientID        string    `json:"recipient_id"`
	FirstName          string    `json:"first_name"`
	Surname            string    `json:"surname"`
	DateOfBirth        string    `json:"date_of_birth"`
	MedicalAidProvider string    `json:"medical_aid_provider"`
	MedicalAidNumber   string    `json:"medical_aid_number"`
	Scheme             string    `json:"scheme"`
	DependantNumber    string    `json:"dependant_number"`
	CreatedAt          time.Time `json:"created_at"`
}

// ProfileFromDraft builds a Profile from a completed draft. It returns
// ErrIncompleteRegistration if any field is missing; with a correct transition
// table that path is unreachable.
func ProfileFromDraft(recipientID string, d Draft) (Profile, error) {
	if !d.Complete() {
		return Profile{}, ErrIncompleteRegistration
	}
	return Profile{
		RecipientID:        recipientID,
		FirstName:          d.FirstName,
		Surname:            d.Surname,
		DateOfBirth:        d.DateOfBirth,
		MedicalAidProvider: d.MedicalAidProvider,
		MedicalAidNumber:   d.MedicalAidNumber,
		Scheme:             d.Scheme,
		DependantNumber:    d.DependantNumber,
		CreatedAt:          time.Now(),
	}, nil
}
