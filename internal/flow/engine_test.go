package flow

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"testing"

	"github.com/telepharma-bw/intakebot/internal/media"
	"github.com/telepharma-bw/intakebot/internal/models"
	"github.com/telepharma-bw/intakebot/internal/store"
)

// sentMessage records one outbound send made through the fake gateway.
type sentMessage struct {
	To      string
	Body    string
	Buttons []models.Button
}

// fakeGateway implements messaging.Service for engine tests.
type fakeGateway struct {
	mu       sync.Mutex
	sent     []sentMessage
	mediaErr error
}

func (g *fakeGateway) ValidateAndCanonicalizeRecipient(recipient string) (string, error) {
	digits := strings.Map(func(r rune) rune {
		if r >= '0' && r <= '9' {
			return r
		}
		return -1
	}, recipient)
	if len(digits) < 6 {
		return "", fmt.Errorf("%w: %q", models.ErrInvalidRecipient, recipient)
	}
	return digits, nil
}

func (g *fakeGateway) SendText(ctx context.Context, to string, body string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.sent = append(g.sent, sentMessage{To: to, Body: body})
	return nil
}

func (g *fakeGateway) SendButtons(ctx context.Context, to string, body string, buttons []models.Button) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.sent = append(g.sent, sentMessage{To: to, Body: body, Buttons: buttons})
	return nil
}

func (g *fakeGateway) FetchMedia(ctx context.Context, mediaID string) (io.ReadCloser, error) {
	if g.mediaErr != nil {
		return nil, g.mediaErr
	}
	return io.NopCloser(strings.NewReader("image-bytes")), nil
}

func (g *fakeGateway) sentCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.sent)
}

func (g *fakeGateway) lastSent() sentMessage {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.sent[len(g.sent)-1]
}

func newTestEngine(t *testing.T) (*Engine, *store.InMemoryStore, *fakeGateway) {
	t.Helper()
	st := store.NewInMemoryStore()
	gateway := &fakeGateway{}
	mediaStore, err := media.NewStorage(t.TempDir())
	if err != nil {
		t.Fatalf("failed to create media storage: %v", err)
	}
	return NewEngine(st, gateway, mediaStore), st, gateway
}

func TestEngineFullIntake(t *testing.T) {
	engine, st, gateway := newTestEngine(t)
	ctx := context.Background()

	events := []models.InboundEvent{
		{ID: "m1", RecipientID: testRecipient, Kind: models.EventText, Payload: "Hi"},
		{ID: "m2", RecipientID: testRecipient, Kind: models.EventText, Payload: "Jane"},
		{ID: "m3", RecipientID: testRecipient, Kind: models.EventText, Payload: "Doe"},
		{ID: "m4", RecipientID: testRecipient, Kind: models.EventText, Payload: "12/05/1990"},
		{ID: "m5", RecipientID: testRecipient, Kind: models.EventButtonReply, Payload: "BOMAID"},
		{ID: "m6", RecipientID: testRecipient, Kind: models.EventText, Payload: "123456"},
		{ID: "m7", RecipientID: testRecipient, Kind: models.EventButtonReply, Payload: models.SentinelNoScheme},
		{ID: "m8", RecipientID: testRecipient, Kind: models.EventText, Payload: "7"},
	}
	for _, ev := range events {
		if err := engine.HandleEvent(ctx, ev); err != nil {
			t.Fatalf("event %s: unexpected error: %v", ev.ID, err)
		}
	}

	state, err := st.GetConversationState(testRecipient)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if state == nil || state.Stage != models.StageServiceMenu {
		t.Fatalf("expected final stage %s, got %+v", models.StageServiceMenu, state)
	}

	profile, err := st.GetProfile(testRecipient)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if profile == nil {
		t.Fatal("expected a registered profile")
	}
	if profile.FirstName != "Jane" || profile.Scheme != models.NotApplicable || profile.DependantNumber != "7" {
		t.Errorf("unexpected profile: %+v", profile)
	}

	if gateway.sentCount() == 0 {
		t.Fatal("expected outbound replies")
	}
	last := gateway.lastSent()
	if len(last.Buttons) == 0 {
		t.Errorf("expected the registration confirmation to carry the service menu, got %+v", last)
	}
}

func TestEngineDuplicateDelivery(t *testing.T) {
	engine, st, gateway := newTestEngine(t)
	ctx := context.Background()

	ev := models.InboundEvent{ID: "dup-1", RecipientID: testRecipient, Kind: models.EventText, Payload: "Hi"}
	if err := engine.HandleEvent(ctx, ev); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	sentAfterFirst := gateway.sentCount()

	if err := engine.HandleEvent(ctx, ev); err != nil {
		t.Fatalf("duplicate delivery should be a no-op, got %v", err)
	}

	state, _ := st.GetConversationState(testRecipient)
	if state.Stage != models.StageAwaitFirstName {
		t.Errorf("duplicate delivery changed stage to %s", state.Stage)
	}
	if gateway.sentCount() != sentAfterFirst {
		t.Errorf("duplicate delivery sent %d extra replies", gateway.sentCount()-sentAfterFirst)
	}
}

func TestEngineMediaFetchFailure(t *testing.T) {
	engine, st, gateway := newTestEngine(t)
	ctx := context.Background()

	if err := st.SaveConversationState(models.NewConversationState(testRecipient, models.StageAwaitPrescriptionUpload)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	gateway.mediaErr = errors.New("provider timeout")

	ev := models.InboundEvent{ID: "img-1", RecipientID: testRecipient, Kind: models.EventMedia, Payload: "media-123"}
	if err := engine.HandleEvent(ctx, ev); err != nil {
		t.Fatalf("media fetch failure should not propagate, got %v", err)
	}

	state, _ := st.GetConversationState(testRecipient)
	if state.Stage != models.StageAwaitPrescriptionUpload {
		t.Errorf("media fetch failure advanced stage to %s", state.Stage)
	}
	if gateway.sentCount() != 1 || gateway.lastSent().Body != MsgMediaRetry {
		t.Errorf("expected a single re-upload prompt, got %+v", gateway.sent)
	}

	processed, err := st.IsProcessed("img-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !processed {
		t.Error("failed media event should be marked processed so it is not replayed")
	}
}

func TestEnginePrescriptionUploadStoresMedia(t *testing.T) {
	engine, st, gateway := newTestEngine(t)
	ctx := context.Background()

	if err := st.SaveConversationState(models.NewConversationState(testRecipient, models.StageAwaitPrescriptionUpload)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	ev := models.InboundEvent{ID: "img-2", RecipientID: testRecipient, Kind: models.EventMedia, Payload: "media-456"}
	if err := engine.HandleEvent(ctx, ev); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	state, _ := st.GetConversationState(testRecipient)
	if state.Stage != models.StagePostServiceMenu {
		t.Errorf("expected %s after upload, got %s", models.StagePostServiceMenu, state.Stage)
	}
	if gateway.sentCount() != 2 {
		t.Errorf("expected confirmation plus post-service menu, got %d sends", gateway.sentCount())
	}
}

func TestEngineSynthesizesServiceMenuForRegistered(t *testing.T) {
	engine, st, _ := newTestEngine(t)
	ctx := context.Background()

	profile := models.Profile{RecipientID: testRecipient, FirstName: "Jane", Surname: "Doe",
		DateOfBirth: "12/05/1990", MedicalAidProvider: "PULA", MedicalAidNumber: "1", Scheme: "S", DependantNumber: "1"}
	if err := st.SaveProfile(profile); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	ev := models.InboundEvent{ID: "r1", RecipientID: testRecipient, Kind: models.EventButtonReply, Payload: ButtonMedicationDelivery}
	if err := engine.HandleEvent(ctx, ev); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	state, _ := st.GetConversationState(testRecipient)
	if state == nil || state.Stage != models.StageMedicationDelivery {
		t.Errorf("registered recipient without state should resume at the service menu, got %+v", state)
	}
}

func TestEngineInvalidRecipient(t *testing.T) {
	engine, _, _ := newTestEngine(t)
	ev := models.InboundEvent{ID: "bad-1", RecipientID: "abc", Kind: models.EventText, Payload: "Hi"}
	if err := engine.HandleEvent(context.Background(), ev); !errors.Is(err, models.ErrInvalidRecipient) {
		t.Errorf("expected ErrInvalidRecipient, got %v", err)
	}
}

func TestEngineCanonicalizesRecipient(t *testing.T) {
	engine, st, _ := newTestEngine(t)
	ev := models.InboundEvent{ID: "c1", RecipientID: "+267 71 234 567", Kind: models.EventText, Payload: "Hi"}
	if err := engine.HandleEvent(context.Background(), ev); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	state, _ := st.GetConversationState(testRecipient)
	if state == nil {
		t.Fatal("expected state under the canonical recipient id")
	}
}
