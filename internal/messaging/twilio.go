// Package messaging provides the Twilio gateway backend.
package messaging

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/twilio/twilio-go"
	twilioApi "github.com/twilio/twilio-go/rest/api/v2010"

	"github.com/telepharma-bw/intakebot/internal/models"
)

// TwilioOpts holds configuration options for the Twilio client.
type TwilioOpts struct {
	AccountSID string
	AuthToken  string
	FromWhats  string // WhatsApp number in "whatsapp:+1234567890" format
}

// TwilioOption defines a configuration option for the Twilio client.
type TwilioOption func(*TwilioOpts)

// WithAccountSID sets the Twilio account SID.
func WithAccountSID(sid string) TwilioOption {
	return func(o *TwilioOpts) { o.AccountSID = sid }
}

// WithAuthToken sets the Twilio auth token.
func WithAuthToken(token string) TwilioOption {
	return func(o *TwilioOpts) { o.AuthToken = token }
}

// WithFromWhats sets the sending WhatsApp number.
func WithFromWhats(from string) TwilioOption {
	return func(o *TwilioOpts) { o.FromWhats = from }
}

// TwilioService implements Service using the Twilio REST API. Twilio has no
// interactive reply buttons, so button menus are rendered as a numbered text
// list.
type TwilioService struct {
	client     *twilio.RestClient
	httpClient *http.Client
	accountSID string
	authToken  string
	fromWhats  string
}

// Compile-time check that TwilioService implements Service.
var _ Service = (*TwilioService)(nil)

// NewTwilioService creates a Twilio gateway client.
func NewTwilioService(opts ...TwilioOption) (*TwilioService, error) {
	var cfg TwilioOpts
	for _, opt := range opts {
		opt(&cfg)
	}
	slog.Debug("Twilio client config loaded",
		"AccountSID_set", cfg.AccountSID != "",
		"AuthToken_set", cfg.AuthToken != "",
		"FromWhats_set", cfg.FromWhats != "")

	if cfg.AccountSID == "" || cfg.AuthToken == "" {
		return nil, fmt.Errorf("account SID and auth token must be provided")
	}
	if cfg.FromWhats == "" {
		return nil, fmt.Errorf("fromWhats number must be provided")
	}

	client := twilio.NewRestClientWithParams(twilio.ClientParams{
		Username: cfg.AccountSID,
		Password: cfg.AuthToken,
	})

	return &TwilioService{
		client:     client,
		httpClient: &http.Client{Timeout: DefaultHTTPTimeout},
		accountSID: cfg.AccountSID,
		authToken:  cfg.AuthToken,
		fromWhats:  cfg.FromWhats,
	}, nil
}

// ValidateAndCanonicalizeRecipient validates and canonicalizes a WhatsApp
// phone number to its digits-only form.
func (s *TwilioService) ValidateAndCanonicalizeRecipient(recipient string) (string, error) {
	return canonicalizeRecipient(recipient)
}

// SendText sends a plain text WhatsApp message via Twilio.
func (s *TwilioService) SendText(ctx context.Context, to string, body string) error {
	canonicalTo, err := s.ValidateAndCanonicalizeRecipient(to)
	if err != nil {
		slog.Error("TwilioService SendText validation error", "error", err, "to", to)
		return err
	}

	params := &twilioApi.CreateMessageParams{}
	params.SetTo("whatsapp:+" + canonicalTo)
	params.SetFrom(s.fromWhats)
	params.SetBody(body)

	if _, err := s.client.Api.CreateMessage(params); err != nil {
		slog.Error("TwilioService SendText failed", "error", err, "to", canonicalTo)
		return fmt.Errorf("twilio send failed: %w", err)
	}
	slog.Debug("TwilioService SendText succeeded", "to", canonicalTo, "body_length", len(body))
	return nil
}

// SendButtons renders the button menu as a numbered list and sends it as text.
func (s *TwilioService) SendButtons(ctx context.Context, to string, body string, buttons []models.Button) error {
	if len(buttons) == 0 {
		return fmt.Errorf("button menu requires at least one option")
	}

	var b strings.Builder
	b.WriteString(body)
	for i, btn := range buttons {
		fmt.Fprintf(&b, "\n%d. %s", i+1, btn.Title)
	}
	return s.SendText(ctx, to, b.String())
}

// FetchMedia retrieves inbound media bytes. Twilio media references are full
// URLs guarded by basic auth.
func (s *TwilioService) FetchMedia(ctx context.Context, mediaID string) (io.ReadCloser, error) {
	if mediaID == "" {
		return nil, fmt.Errorf("media reference cannot be empty")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, mediaID, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build media request: %w", err)
	}
	req.SetBasicAuth(s.accountSID, s.authToken)

	resp, err := s.httpClient.Do(req)
	if err != nil {
		slog.Error("TwilioService FetchMedia request failed", "error", err, "media", mediaID)
		return nil, fmt.Errorf("media fetch failed: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		resp.Body.Close()
		slog.Error("TwilioService FetchMedia unexpected status", "status", resp.StatusCode, "media", mediaID)
		return nil, fmt.Errorf("media fetch returned status %d", resp.StatusCode)
	}
	slog.Debug("TwilioService FetchMedia succeeded", "media", mediaID)
	return resp.Body, nil
}
