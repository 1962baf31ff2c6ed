// Package messaging provides the WhatsApp Cloud API gateway backend.
package messaging

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/telepharma-bw/intakebot/internal/models"
)

// DefaultGraphAPIBaseURL is the WhatsApp Cloud API endpoint prefix.
const DefaultGraphAPIBaseURL = "https://graph.facebook.com/v13.0"

// DefaultHTTPTimeout bounds outbound Graph API calls.
const DefaultHTTPTimeout = 30 * time.Second

// CloudAPIOpts holds configuration options for the Cloud API client.
type CloudAPIOpts struct {
	AccessToken   string
	PhoneNumberID string
	BaseURL       string
	HTTPClient    *http.Client
}

// CloudAPIOption defines a configuration option for the Cloud API client.
type CloudAPIOption func(*CloudAPIOpts)

// WithAccessToken sets the Cloud API bearer token.
func WithAccessToken(token string) CloudAPIOption {
	return func(o *CloudAPIOpts) { o.AccessToken = token }
}

// WithPhoneNumberID sets the sending phone number id.
func WithPhoneNumberID(id string) CloudAPIOption {
	return func(o *CloudAPIOpts) { o.PhoneNumberID = id }
}

// WithBaseURL overrides the Graph API base URL (used in tests).
func WithBaseURL(url string) CloudAPIOption {
	return func(o *CloudAPIOpts) { o.BaseURL = url }
}

// WithHTTPClient injects a custom HTTP client.
func WithHTTPClient(c *http.Client) CloudAPIOption {
	return func(o *CloudAPIOpts) { o.HTTPClient = c }
}

// CloudAPIService implements Service against the WhatsApp Cloud API.
type CloudAPIService struct {
	client        *http.Client
	baseURL       string
	phoneNumberID string
	accessToken   string
}

// Compile-time check that CloudAPIService implements Service.
var _ Service = (*CloudAPIService)(nil)

// NewCloudAPIService creates a Cloud API gateway client.
func NewCloudAPIService(opts ...CloudAPIOption) (*CloudAPIService, error) {
	var cfg CloudAPIOpts
	for _, opt := range opts {
		opt(&cfg)
	}
	slog.Debug("Cloud API client config loaded",
		"AccessToken_set", cfg.AccessToken != "",
		"PhoneNumberID_set", cfg.PhoneNumberID != "")

	if cfg.AccessToken == "" {
		return nil, fmt.Errorf("access token must be provided")
	}
	if cfg.PhoneNumberID == "" {
		return nil, fmt.Errorf("phone number id must be provided")
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultGraphAPIBaseURL
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: DefaultHTTPTimeout}
	}

	return &CloudAPIService{
		client:        cfg.HTTPClient,
		baseURL:       cfg.BaseURL,
		phoneNumberID: cfg.PhoneNumberID,
		accessToken:   cfg.AccessToken,
	}, nil
}

// ValidateAndCanonicalizeRecipient validates and canonicalizes a WhatsApp
// phone number to its digits-only form.
func (s *CloudAPIService) ValidateAndCanonicalizeRecipient(recipient string) (string, error) {
	return canonicalizeRecipient(recipient)
}

// textMessage is the Cloud API text send payload.
type textMessage struct {
	MessagingProduct string   `json:"messaging_product"`
	RecipientType    string   `json:"recipient_type"`
	To               string   `json:"to"`
	Type             string   `json:"type"`
	Text             textBody `json:"text"`
}

type textBody struct {
	PreviewURL bool   `json:"preview_url"`
	Body       string `json:"body"`
}

// interactiveMessage is the Cloud API button-menu send payload.
type interactiveMessage struct {
	MessagingProduct string      `json:"messaging_product"`
	RecipientType    string      `json:"recipient_type"`
	To               string      `json:"to"`
	Type             string      `json:"type"`
	Interactive      interactive `json:"interactive"`
}

type interactive struct {
	Type   string            `json:"type"`
	Body   interactiveBody   `json:"body"`
	Action interactiveAction `json:"action"`
}

type interactiveBody struct {
	Text string `json:"text"`
}

type interactiveAction struct {
	Buttons []replyButton `json:"buttons"`
}

type replyButton struct {
	Type  string        `json:"type"`
	Reply models.Button `json:"reply"`
}

// SendText sends a plain text message.
func (s *CloudAPIService) SendText(ctx context.Context, to string, body string) error {
	canonicalTo, err := s.ValidateAndCanonicalizeRecipient(to)
	if err != nil {
		slog.Error("CloudAPIService SendText validation error", "error", err, "to", to)
		return err
	}

	payload := textMessage{
		MessagingProduct: "whatsapp",
		RecipientType:    "individual",
		To:               canonicalTo,
		Type:             "text",
		Text:             textBody{PreviewURL: false, Body: body},
	}
	if err := s.postMessage(ctx, payload); err != nil {
		slog.Error("CloudAPIService SendText failed", "error", err, "to", canonicalTo)
		return err
	}
	slog.Debug("CloudAPIService SendText succeeded", "to", canonicalTo, "body_length", len(body))
	return nil
}

// SendButtons sends an interactive button-menu message. Menus longer than the
// provider cap are split into consecutive sends.
func (s *CloudAPIService) SendButtons(ctx context.Context, to string, body string, buttons []models.Button) error {
	canonicalTo, err := s.ValidateAndCanonicalizeRecipient(to)
	if err != nil {
		slog.Error("CloudAPIService SendButtons validation error", "error", err, "to", to)
		return err
	}
	if len(buttons) == 0 {
		return fmt.Errorf("button menu requires at least one option")
	}

	for start := 0; start < len(buttons); start += models.MaxButtonsPerSend {
		chunk := buttons[start:min(start+models.MaxButtonsPerSend, len(buttons))]
		text := body
		if start > 0 {
			text = "More options:"
		}

		replies := make([]replyButton, 0, len(chunk))
		for _, b := range chunk {
			replies = append(replies, replyButton{Type: "reply", Reply: b})
		}
		payload := interactiveMessage{
			MessagingProduct: "whatsapp",
			RecipientType:    "individual",
			To:               canonicalTo,
			Type:             "interactive",
			Interactive: interactive{
				Type:   "button",
				Body:   interactiveBody{Text: text},
				Action: interactiveAction{Buttons: replies},
			},
		}
		if err := s.postMessage(ctx, payload); err != nil {
			slog.Error("CloudAPIService SendButtons failed", "error", err, "to", canonicalTo)
			return err
		}
	}
	slog.Debug("CloudAPIService SendButtons succeeded", "to", canonicalTo, "buttons", len(buttons))
	return nil
}

// mediaMetadata is the Graph API media lookup response.
type mediaMetadata struct {
	URL string `json:"url"`
}

// FetchMedia retrieves inbound media bytes by media id. The Graph API requires
// two round trips: the id resolves to a short-lived download URL, then the URL
// serves the bytes.
func (s *CloudAPIService) FetchMedia(ctx context.Context, mediaID string) (io.ReadCloser, error) {
	if mediaID == "" {
		return nil, fmt.Errorf("media id cannot be empty")
	}

	lookup := fmt.Sprintf("%s/%s", s.baseURL, mediaID)
	body, err := s.authorizedGet(ctx, lookup)
	if err != nil {
		slog.Error("CloudAPIService FetchMedia lookup failed", "error", err, "mediaID", mediaID)
		return nil, fmt.Errorf("media lookup failed: %w", err)
	}

	var meta mediaMetadata
	err = json.NewDecoder(body).Decode(&meta)
	body.Close()
	if err != nil {
		return nil, fmt.Errorf("failed to decode media metadata: %w", err)
	}
	if meta.URL == "" {
		return nil, fmt.Errorf("media %s has no download URL", mediaID)
	}

	stream, err := s.authorizedGet(ctx, meta.URL)
	if err != nil {
		slog.Error("CloudAPIService FetchMedia download failed", "error", err, "mediaID", mediaID)
		return nil, fmt.Errorf("media download failed: %w", err)
	}
	slog.Debug("CloudAPIService FetchMedia succeeded", "mediaID", mediaID)
	return stream, nil
}

// authorizedGet issues a bearer-authenticated GET and returns the body on 2xx.
func (s *CloudAPIService) authorizedGet(ctx context.Context, url string) (io.ReadCloser, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+s.accessToken)

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		resp.Body.Close()
		return nil, fmt.Errorf("request returned status %d", resp.StatusCode)
	}
	return resp.Body, nil
}

// postMessage posts a send payload to the messages endpoint.
func (s *CloudAPIService) postMessage(ctx context.Context, payload interface{}) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal message payload: %w", err)
	}

	url := fmt.Sprintf("%s/%s/messages", s.baseURL, s.phoneNumberID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("failed to build send request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+s.accessToken)

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("send request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("send returned status %d: %s", resp.StatusCode, string(detail))
	}
	return nil
}
