package messaging

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/telepharma-bw/intakebot/internal/models"
)

func newTestCloudAPI(t *testing.T, handler http.HandlerFunc) (*CloudAPIService, *httptest.Server) {
	t.Helper()
	ts := httptest.NewServer(handler)
	t.Cleanup(ts.Close)

	svc, err := NewCloudAPIService(
		WithAccessToken("test-token"),
		WithPhoneNumberID("10001"),
		WithBaseURL(ts.URL),
	)
	if err != nil {
		t.Fatalf("failed to create Cloud API client: %v", err)
	}
	return svc, ts
}

func TestNewCloudAPIServiceRequiresCredentials(t *testing.T) {
	if _, err := NewCloudAPIService(WithPhoneNumberID("10001")); err == nil {
		t.Error("expected error when access token is missing")
	}
	if _, err := NewCloudAPIService(WithAccessToken("tok")); err == nil {
		t.Error("expected error when phone number id is missing")
	}
}

func TestCanonicalizeRecipient(t *testing.T) {
	svc, _ := newTestCloudAPI(t, func(w http.ResponseWriter, r *http.Request) {})

	got, err := svc.ValidateAndCanonicalizeRecipient("+267 71 234 567")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != "26771234567" {
		t.Errorf("expected 26771234567, got %q", got)
	}

	for _, bad := range []string{"", "abc", "+12 34"} {
		if _, err := svc.ValidateAndCanonicalizeRecipient(bad); !errors.Is(err, models.ErrInvalidRecipient) {
			t.Errorf("recipient %q: expected ErrInvalidRecipient, got %v", bad, err)
		}
	}
}

func TestSendText(t *testing.T) {
	var gotPath, gotAuth string
	var gotBody map[string]interface{}
	svc, _ := newTestCloudAPI(t, func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotAuth = r.Header.Get("Authorization")
		json.NewDecoder(r.Body).Decode(&gotBody)
		w.WriteHeader(http.StatusOK)
	})

	if err := svc.SendText(context.Background(), "+26771234567", "hello"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if gotPath != "/10001/messages" {
		t.Errorf("expected path /10001/messages, got %q", gotPath)
	}
	if gotAuth != "Bearer test-token" {
		t.Errorf("unexpected auth header: %q", gotAuth)
	}
	if gotBody["messaging_product"] != "whatsapp" || gotBody["to"] != "26771234567" || gotBody["type"] != "text" {
		t.Errorf("unexpected payload: %+v", gotBody)
	}
	text, _ := gotBody["text"].(map[string]interface{})
	if text == nil || text["body"] != "hello" {
		t.Errorf("unexpected text body: %+v", gotBody["text"])
	}
}

func TestSendButtons(t *testing.T) {
	var gotBody map[string]interface{}
	svc, _ := newTestCloudAPI(t, func(w http.ResponseWriter, r *http.Request) {
		json.NewDecoder(r.Body).Decode(&gotBody)
		w.WriteHeader(http.StatusOK)
	})

	buttons := []models.Button{
		{ID: "medication_delivery", Title: "Medication Delivery"},
		{ID: "general_enquiry", Title: "General Enquiry"},
	}
	if err := svc.SendButtons(context.Background(), "26771234567", "Choose a service", buttons); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if gotBody["type"] != "interactive" {
		t.Fatalf("unexpected payload type: %v", gotBody["type"])
	}
	interactive, _ := gotBody["interactive"].(map[string]interface{})
	if interactive == nil || interactive["type"] != "button" {
		t.Fatalf("unexpected interactive block: %+v", gotBody["interactive"])
	}
	action, _ := interactive["action"].(map[string]interface{})
	rendered, _ := action["buttons"].([]interface{})
	if len(rendered) != 2 {
		t.Fatalf("expected 2 buttons, got %d", len(rendered))
	}
	first, _ := rendered[0].(map[string]interface{})
	if first["type"] != "reply" {
		t.Errorf("unexpected button type: %+v", first)
	}
	reply, _ := first["reply"].(map[string]interface{})
	if reply["id"] != "medication_delivery" || reply["title"] != "Medication Delivery" {
		t.Errorf("unexpected reply payload: %+v", reply)
	}
}

func TestSendButtonsSplitsLongMenus(t *testing.T) {
	var bodies []map[string]interface{}
	svc, _ := newTestCloudAPI(t, func(w http.ResponseWriter, r *http.Request) {
		var body map[string]interface{}
		json.NewDecoder(r.Body).Decode(&body)
		bodies = append(bodies, body)
		w.WriteHeader(http.StatusOK)
	})

	buttons := []models.Button{
		{ID: "a", Title: "A"}, {ID: "b", Title: "B"},
		{ID: "c", Title: "C"}, {ID: "d", Title: "D"},
	}
	if err := svc.SendButtons(context.Background(), "26771234567", "Choose", buttons); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(bodies) != 2 {
		t.Fatalf("expected 4 buttons to split into 2 sends, got %d", len(bodies))
	}
	countButtons := func(body map[string]interface{}) int {
		interactive, _ := body["interactive"].(map[string]interface{})
		action, _ := interactive["action"].(map[string]interface{})
		rendered, _ := action["buttons"].([]interface{})
		return len(rendered)
	}
	if countButtons(bodies[0]) != models.MaxButtonsPerSend || countButtons(bodies[1]) != 1 {
		t.Errorf("unexpected chunking: %d then %d buttons", countButtons(bodies[0]), countButtons(bodies[1]))
	}
}

func TestSendButtonsRequiresOptions(t *testing.T) {
	svc, _ := newTestCloudAPI(t, func(w http.ResponseWriter, r *http.Request) {})
	if err := svc.SendButtons(context.Background(), "26771234567", "menu", nil); err == nil {
		t.Error("expected error for empty button menu")
	}
}

func TestSendTextServerError(t *testing.T) {
	svc, _ := newTestCloudAPI(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "rate limited", http.StatusTooManyRequests)
	})
	if err := svc.SendText(context.Background(), "26771234567", "hello"); err == nil {
		t.Error("expected error on non-2xx response")
	}
}

func TestFetchMedia(t *testing.T) {
	var ts *httptest.Server
	var lookupAuth, downloadAuth string
	mux := http.NewServeMux()
	mux.HandleFunc("/media-123", func(w http.ResponseWriter, r *http.Request) {
		lookupAuth = r.Header.Get("Authorization")
		json.NewEncoder(w).Encode(map[string]string{"url": ts.URL + "/download/media-123"})
	})
	mux.HandleFunc("/download/media-123", func(w http.ResponseWriter, r *http.Request) {
		downloadAuth = r.Header.Get("Authorization")
		w.Write([]byte("image-bytes"))
	})
	ts = httptest.NewServer(mux)
	t.Cleanup(ts.Close)

	svc, err := NewCloudAPIService(
		WithAccessToken("test-token"),
		WithPhoneNumberID("10001"),
		WithBaseURL(ts.URL),
	)
	if err != nil {
		t.Fatalf("failed to create Cloud API client: %v", err)
	}

	stream, err := svc.FetchMedia(context.Background(), "media-123")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer stream.Close()

	data, err := io.ReadAll(stream)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if string(data) != "image-bytes" {
		t.Errorf("unexpected media content: %q", data)
	}
	if lookupAuth != "Bearer test-token" || downloadAuth != "Bearer test-token" {
		t.Errorf("both round trips must carry the bearer token, got %q and %q", lookupAuth, downloadAuth)
	}
}

func TestFetchMediaErrors(t *testing.T) {
	svc, _ := newTestCloudAPI(t, func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	})
	if _, err := svc.FetchMedia(context.Background(), "missing"); err == nil {
		t.Error("expected error on 404")
	}
	if _, err := svc.FetchMedia(context.Background(), ""); err == nil {
		t.Error("expected error for empty media id")
	}
}
