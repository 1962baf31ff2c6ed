package messaging

import (
	"context"
	"testing"
)

func TestNewTwilioServiceRequiresCredentials(t *testing.T) {
	if _, err := NewTwilioService(WithFromWhats("whatsapp:+26771234567")); err == nil {
		t.Error("expected error when account SID and auth token are missing")
	}
	if _, err := NewTwilioService(WithAccountSID("AC123"), WithAuthToken("tok")); err == nil {
		t.Error("expected error when sender number is missing")
	}
}

func TestTwilioSendButtonsRequiresOptions(t *testing.T) {
	svc, err := NewTwilioService(
		WithAccountSID("AC123"),
		WithAuthToken("tok"),
		WithFromWhats("whatsapp:+26771234567"),
	)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := svc.SendButtons(context.Background(), "26771234567", "menu", nil); err == nil {
		t.Error("expected error for empty button menu")
	}
}

func TestTwilioCanonicalizeRecipient(t *testing.T) {
	svc, err := NewTwilioService(
		WithAccountSID("AC123"),
		WithAuthToken("tok"),
		WithFromWhats("whatsapp:+26771234567"),
	)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	got, err := svc.ValidateAndCanonicalizeRecipient("whatsapp:+267 7123 4567")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != "26771234567" {
		t.Errorf("expected 26771234567, got %q", got)
	}
}
