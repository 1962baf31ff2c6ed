// Package flow implements the conversation state machine.
//
// Step is a total function over (stage, event kind): every inbound event in
// every stage resolves to an explicit transition. Unexpected input re-emits
// the current stage's prompt and mutates nothing; progress is never inferred
// from message content alone.
package flow

import (
	"fmt"
	"strings"
	"time"

	"github.com/telepharma-bw/intakebot/internal/models"
)

// StepResult is the outcome of resolving one inbound event against a state.
type StepResult struct {
	// Next is the post-transition conversation state.
	Next models.ConversationState
	// Profile is non-nil only on the terminal intake transition.
	Profile *models.Profile
	// Replies are the outbound messages to issue, in order.
	Replies []Reply
	// FetchMedia indicates the event's payload is a media reference that must
	// be fetched and stored before the transition is committed.
	FetchMedia bool
}

// intakeStage describes one entry of the intake transition table.
type intakeStage struct {
	validate func(string) bool
	sentinel map[string]string // input -> stored value
	assign   func(*models.Draft, string)
	next     models.Stage
	reprompt Reply
}

// intakeTable maps each intake stage to its field, validator, and successor.
var intakeTable = map[models.Stage]intakeStage{
	models.StageAwaitFirstName: {
		validate: models.ValidName,
		assign:   func(d *models.Draft, v string) { d.FirstName = v },
		next:     models.StageAwaitSurname,
		reprompt: Reply{Body: fmt.Sprintf(msgInvalidName, msgAskFirstName)},
	},
	models.StageAwaitSurname: {
		validate: models.ValidName,
		assign:   func(d *models.Draft, v string) { d.Surname = v },
		next:     models.StageAwaitDateOfBirth,
		reprompt: Reply{Body: fmt.Sprintf(msgInvalidName, msgAskSurname)},
	},
	models.StageAwaitDateOfBirth: {
		validate: models.ValidDateOfBirth,
		assign:   func(d *models.Draft, v string) { d.DateOfBirth = v },
		next:     models.StageAwaitMedicalAidProv,
		reprompt: Reply{Body: msgInvalidDateOfBirth},
	},
	models.StageAwaitMedicalAidProv: {
		validate: models.ValidMedicalAidProvider,
		assign:   func(d *models.Draft, v string) { d.MedicalAidProvider = v },
		next:     models.StageAwaitMedicalAidNumber,
		reprompt: Reply{Body: msgInvalidProvider, Buttons: providerButtons()},
	},
	models.StageAwaitMedicalAidNumber: {
		validate: models.ValidMedicalAidNumber,
		assign:   func(d *models.Draft, v string) { d.MedicalAidNumber = v },
		next:     models.StageAwaitScheme,
		reprompt: Reply{Body: msgInvalidMedicalAidNumber},
	},
	models.StageAwaitScheme: {
		validate: models.ValidScheme,
		sentinel: map[string]string{models.SentinelNoScheme: models.NotApplicable},
		assign:   func(d *models.Draft, v string) { d.Scheme = v },
		next:     models.StageAwaitDependantNumber,
		reprompt: Reply{Body: msgInvalidScheme, Buttons: []models.Button{{ID: models.SentinelNoScheme, Title: "No Scheme"}}},
	},
	models.StageAwaitDependantNumber: {
		validate: models.ValidDependantNumber,
		sentinel: map[string]string{models.SentinelNoDependant: models.NotApplicable},
		assign:   func(d *models.Draft, v string) { d.DependantNumber = v },
		next:     models.StageServiceMenu,
		reprompt: Reply{Body: msgInvalidDependantNumber, Buttons: []models.Button{{ID: models.SentinelNoDependant, Title: "No Dependant"}}},
	},
}

// menuTable maps each menu stage to its recognized button ids and successors.
var menuTable = map[models.Stage]map[string]models.Stage{
	models.StageServiceMenu: {
		ButtonMedicationDelivery:   models.StageMedicationDelivery,
		ButtonPharmacyConsultation: models.StagePharmacyConsultation,
		ButtonDoctorConsultation:   models.StageDoctorConsultation,
		ButtonGeneralEnquiry:       models.StageGeneralEnquiry,
	},
	models.StageMedicationDelivery: {
		ButtonPrescriptionMedicine: models.StageAwaitPrescriptionUpload,
		ButtonOverTheCounter:       models.StageAwaitOTCDescription,
	},
	models.StageAwaitPrescriptionUpload: {},
	models.StageAwaitOTCDescription:     {},
	models.StagePharmacyConsultation:    {},
	models.StageDoctorConsultation:      {},
	models.StageGeneralEnquiry:          {},
	models.StagePostServiceMenu: {
		ButtonRequestOtherServices: models.StageServiceMenu,
		ButtonSpeakToPharmacist:    models.StageAwaitingPharmacist,
	},
	models.StageAwaitingPharmacist: {},
}

// consultationStages are the leaves where a free-text detail message completes
// the request and moves to the post-service menu.
var consultationStages = map[models.Stage]bool{
	models.StagePharmacyConsultation: true,
	models.StageDoctorConsultation:   true,
	models.StageGeneralEnquiry:       true,
}

// Step resolves one inbound event against the recipient's current state.
// It is pure: the only inputs are the explicit state record and the event,
// and the only outputs are the next state, an optional profile, and replies.
func Step(state models.ConversationState, ev models.InboundEvent) (StepResult, error) {
	if ev.RecipientID == "" || state.RecipientID != ev.RecipientID {
		return StepResult{}, fmt.Errorf("%w: event recipient %q does not match state recipient %q",
			models.ErrInvalidRecipient, ev.RecipientID, state.RecipientID)
	}

	next := state
	next.UpdatedAt = time.Now()

	if state.Stage == models.StageStart {
		// Any first contact starts registration.
		next.Stage = models.StageAwaitFirstName
		return StepResult{Next: next, Replies: promptFor(models.StageStart)}, nil
	}

	if entry, ok := intakeTable[state.Stage]; ok {
		return stepIntake(state, next, entry, ev)
	}
	if _, ok := menuTable[state.Stage]; ok {
		return stepMenu(state, next, ev)
	}
	return StepResult{}, fmt.Errorf("unknown conversation stage %q for %s", state.Stage, state.RecipientID)
}

// stepIntake resolves an event within the ordered intake sequence.
func stepIntake(state, next models.ConversationState, entry intakeStage, ev models.InboundEvent) (StepResult, error) {
	input := strings.TrimSpace(ev.Payload)

	if ev.Kind == models.EventMedia {
		// Media has no meaning during intake; re-ask the current question.
		return StepResult{Next: reprompted(state), Replies: promptFor(state.Stage)}, nil
	}

	if stored, ok := entry.sentinel[input]; ok {
		entry.assign(&next.Draft, stored)
	} else if entry.validate(input) {
		entry.assign(&next.Draft, input)
	} else {
		// Explicit transition to self: draft untouched, format re-explained.
		return StepResult{Next: reprompted(state), Replies: []Reply{entry.reprompt}}, nil
	}

	next.Stage = entry.next
	if entry.next == models.StageServiceMenu {
		// Terminal intake transition: finalize the profile.
		profile, err := models.ProfileFromDraft(state.RecipientID, next.Draft)
		if err != nil {
			return StepResult{}, err
		}
		return StepResult{
			Next:    next,
			Profile: &profile,
			Replies: []Reply{{Body: msgRegistered, Buttons: serviceMenuButtons()}},
		}, nil
	}
	return StepResult{Next: next, Replies: promptFor(entry.next)}, nil
}

// stepMenu resolves an event within the service-menu sub-machine.
func stepMenu(state, next models.ConversationState, ev models.InboundEvent) (StepResult, error) {
	input := strings.TrimSpace(ev.Payload)

	if state.Stage == models.StageAwaitPrescriptionUpload && ev.Kind == models.EventMedia {
		next.Stage = models.StagePostServiceMenu
		return StepResult{
			Next:       next,
			FetchMedia: true,
			Replies:    []Reply{{Body: msgPrescriptionThanks}, {Body: msgPostService, Buttons: postServiceButtons()}},
		}, nil
	}

	if to, ok := menuTable[state.Stage][input]; ok {
		next.Stage = to
		return StepResult{Next: next, Replies: promptFor(to)}, nil
	}

	if consultationStages[state.Stage] && ev.Kind != models.EventMedia && input != "" {
		// A detail message completes the consultation request.
		next.Stage = models.StagePostServiceMenu
		return StepResult{
			Next:    next,
			Replies: []Reply{{Body: msgConsultAck}, {Body: msgPostService, Buttons: postServiceButtons()}},
		}, nil
	}

	// Unrecognized input: re-emit the current stage's prompt unchanged.
	return StepResult{Next: reprompted(state), Replies: promptFor(state.Stage)}, nil
}

// reprompted returns the unchanged state with a fresh updated timestamp.
func reprompted(state models.ConversationState) models.ConversationState {
	state.UpdatedAt = time.Now()
	return state
}
