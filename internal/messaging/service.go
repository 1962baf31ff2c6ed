// Package messaging provides the outbound message gateway abstraction.
//
// The conversation core depends on the gateway only through the Service
// interface: plain text sends, interactive button-menu sends, and media fetch
// by provider reference. Backends exist for the WhatsApp Cloud API and Twilio.
package messaging

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"regexp"

	"github.com/telepharma-bw/intakebot/internal/models"
)

// Service defines a pluggable message gateway abstraction.
type Service interface {
	// ValidateAndCanonicalizeRecipient validates and canonicalizes a recipient
	// identifier. Returns the canonicalized recipient and an error if
	// validation fails.
	ValidateAndCanonicalizeRecipient(recipient string) (string, error)

	// SendText sends a plain text message to a recipient.
	SendText(ctx context.Context, to string, body string) error

	// SendButtons sends an interactive button menu. Each option is an
	// (id, title) pair selected by the recipient tapping a reply. The provider
	// rejects menus beyond its button cap.
	SendButtons(ctx context.Context, to string, body string, buttons []models.Button) error

	// FetchMedia retrieves inbound media bytes by provider media reference.
	// The caller must close the returned stream.
	FetchMedia(ctx context.Context, mediaID string) (io.ReadCloser, error)
}

// phoneNumberRegex matches everything that is not a digit.
var phoneNumberRegex = regexp.MustCompile(`[^0-9]`)

// MinRecipientDigits is the minimum digit count for a canonical recipient.
const MinRecipientDigits = 6

// canonicalizeRecipient strips all non-numeric characters and validates the
// result has at least MinRecipientDigits digits.
func canonicalizeRecipient(recipient string) (string, error) {
	if recipient == "" {
		return "", fmt.Errorf("%w: recipient cannot be empty", models.ErrInvalidRecipient)
	}

	canonical := phoneNumberRegex.ReplaceAllString(recipient, "")
	if canonical == "" {
		return "", fmt.Errorf("%w: no digits found in recipient %q", models.ErrInvalidRecipient, recipient)
	}
	if len(canonical) < MinRecipientDigits {
		return "", fmt.Errorf("%w: %q is too short (minimum %d digits required)", models.ErrInvalidRecipient, canonical, MinRecipientDigits)
	}

	if recipient != canonical {
		slog.Debug("canonicalized recipient", "original", recipient, "canonical", canonical)
	}
	return canonical, nil
}
