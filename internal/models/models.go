// Package models defines the core data structures shared across the intake
// service: inbound events, conversation state, registration profiles, and the
// field validation rules for the intake questions.
package models

import (
	"errors"
	"regexp"
)

// EventKind classifies an inbound message.
type EventKind string

const (
	// EventText is a free-text message body.
	EventText EventKind = "text"
	// EventButtonReply is a tap on an interactive reply button; the payload is the button id.
	EventButtonReply EventKind = "button-reply"
	// EventMedia is an uploaded image; the payload is the provider media id.
	EventMedia EventKind = "media"
)

// InboundEvent is a normalized representation of one inbound message.
// Events are transient and never persisted; only their ids are recorded for
// duplicate-delivery detection.
type InboundEvent struct {
	ID          string    `json:"id"` // provider message id, or a synthesized uuid
	RecipientID string    `json:"recipient_id"`
	Kind        EventKind `json:"kind"`
	Payload     string    `json:"payload"`
	Time        int64     `json:"time"`
}

// Button is one selectable option in an interactive button menu.
type Button struct {
	ID    string `json:"id"`
	Title string `json:"title"`
}

// MaxButtonsPerSend is the provider cap on reply buttons in one interactive
// message. Longer menus are split across sends.
const MaxButtonsPerSend = 3

// Sentinel inputs that map to a fixed field value instead of being stored verbatim.
const (
	// SentinelNoScheme marks a recipient without a medical aid scheme.
	SentinelNoScheme = "no_scheme"
	// SentinelNoDependant marks a recipient without a dependant number.
	SentinelNoDependant = "no_dependant"
	// NotApplicable is the stored value for fields waived via a sentinel.
	NotApplicable = "N/A"
)

// MedicalAidProviders is the fixed menu of accepted medical aid providers.
var MedicalAidProviders = []string{"BOMAID", "PULA", "BPOMAS", "BOTSOGO"}

// Error variables for better error handling and testability.
var (
	// ErrInvalidRecipient signals a malformed recipient identifier. This is an
	// invariant violation: the gateway canonicalizes recipients before events
	// reach the state machine.
	ErrInvalidRecipient = errors.New("invalid recipient identifier")
	// ErrIncompleteRegistration signals a profile build from a draft with
	// missing fields. Unreachable with a correct transition table.
	ErrIncompleteRegistration = errors.New("registration draft is incomplete")
	// ErrEmptyRecipient signals an event with no recipient at all.
	ErrEmptyRecipient = errors.New("recipient cannot be empty")
)

// Field validation patterns, reproduced exactly from the intake requirements.
var (
	namePattern    = regexp.MustCompile(`^[a-zA-Z]+$`)
	datePattern    = regexp.MustCompile(`^\d{2}/\d{2}/\d{4}$`)
	digitsPattern  = regexp.MustCompile(`^\d+$`)
	alphanumerical = regexp.MustCompile(`^[a-zA-Z0-9]+$`)
)

// ValidName reports whether s is an acceptable first name or surname.
func ValidName(s string) bool { return namePattern.MatchString(s) }

// ValidDateOfBirth reports whether s is a DD/MM/YYYY date. Components are not
// calendar-validated further.
func ValidDateOfBirth(s string) bool { return datePattern.MatchString(s) }

// ValidMedicalAidNumber reports whether s is one or more digits.
func ValidMedicalAidNumber(s string) bool { return digitsPattern.MatchString(s) }

// ValidScheme reports whether s is an acceptable scheme value (the no_scheme
// sentinel is handled separately).
func ValidScheme(s string) bool { return alphanumerical.MatchString(s) }

// ValidDependantNumber reports whether s is one or more digits (the
// no_dependant sentinel is handled separately).
func ValidDependantNumber(s string) bool { return digitsPattern.MatchString(s) }

// ValidMedicalAidProvider reports whether s is one of the fixed provider menu.
func ValidMedicalAidProvider(s string) bool {
	for _, p := range MedicalAidProviders {
		if s == p {
			return true
		}
	}
	return false
}

// APIStatus represents the status of an API response.
type APIStatus string

const (
	// APIStatusOK indicates an API request completed successfully.
	APIStatusOK APIStatus = "ok"
	// APIStatusError indicates an API request failed with an error.
	APIStatusError APIStatus = "error"
)

// APIResponse is the standard JSON envelope for the operational endpoints.
type APIResponse struct {
	Status  string      `json:"status"`
	Message string      `json:"message,omitempty"`
	Result  interface{} `json:"result,omitempty"`
}

// Success creates a successful API response with optional result data.
func Success(result interface{}) APIResponse {
	return APIResponse{Status: string(APIStatusOK), Result: result}
}

// Error creates an error API response with the given message.
func Error(message string) APIResponse {
	return APIResponse{Status: string(APIStatusError), Message: message}
}
