// Package flow provides the engine that drives the state machine against the
// store and the message gateway.
package flow

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/telepharma-bw/intakebot/internal/media"
	"github.com/telepharma-bw/intakebot/internal/messaging"
	"github.com/telepharma-bw/intakebot/internal/models"
	"github.com/telepharma-bw/intakebot/internal/store"
)

// Engine processes inbound events: it loads the recipient's conversation
// state, resolves the transition, commits it atomically, and issues the reply.
//
// Events for the same recipient are serialized by a per-recipient lock;
// events for different recipients proceed concurrently.
type Engine struct {
	store   store.Store
	gateway messaging.Service
	media   *media.Storage
	locks   sync.Map // recipientID -> *sync.Mutex
}

// NewEngine creates an Engine over the given store, gateway, and media storage.
func NewEngine(st store.Store, gateway messaging.Service, mediaStore *media.Storage) *Engine {
	slog.Debug("Creating conversation engine")
	return &Engine{store: st, gateway: gateway, media: mediaStore}
}

// lockRecipient returns the mutex serializing transitions for a recipient.
func (e *Engine) lockRecipient(recipientID string) *sync.Mutex {
	mu, _ := e.locks.LoadOrStore(recipientID, &sync.Mutex{})
	return mu.(*sync.Mutex)
}

// HandleEvent processes one inbound event end to end.
//
// A returned error means nothing was committed for this event and the delivery
// should be retried by the provider. Send failures after a committed
// transition are logged and swallowed: the reply is best-effort relative to
// state.
func (e *Engine) HandleEvent(ctx context.Context, ev models.InboundEvent) error {
	canonical, err := e.gateway.ValidateAndCanonicalizeRecipient(ev.RecipientID)
	if err != nil {
		slog.Error("Engine HandleEvent recipient validation failed", "error", err, "recipientID", ev.RecipientID)
		return err
	}
	ev.RecipientID = canonical

	mu := e.lockRecipient(canonical)
	mu.Lock()
	defer mu.Unlock()

	fresh, err := e.store.RecordInbound(ev.ID, canonical)
	if err != nil {
		return fmt.Errorf("failed to record inbound event %s: %w", ev.ID, err)
	}
	if !fresh {
		processed, err := e.store.IsProcessed(ev.ID)
		if err != nil {
			return fmt.Errorf("failed to check event %s: %w", ev.ID, err)
		}
		if processed {
			slog.Info("Engine skipping duplicate delivery", "eventID", ev.ID, "recipientID", canonical)
			return nil
		}
		// Recorded but unprocessed: a prior attempt failed mid-flight.
		slog.Warn("Engine reprocessing unfinished event", "eventID", ev.ID, "recipientID", canonical)
	}

	state, err := e.loadState(canonical)
	if err != nil {
		return err
	}

	result, err := Step(state, ev)
	if err != nil {
		return fmt.Errorf("transition failed for %s in stage %s: %w", canonical, state.Stage, err)
	}

	if result.FetchMedia {
		if err := e.storeMedia(ctx, ev); err != nil {
			// MediaFetchFailure: state does not advance; ask for a re-upload.
			slog.Error("Engine media retrieval failed", "error", err, "eventID", ev.ID, "recipientID", canonical)
			if markErr := e.store.MarkProcessed(ev.ID); markErr != nil {
				slog.Error("Engine failed to mark event processed", "error", markErr, "eventID", ev.ID)
			}
			e.send(ctx, canonical, Reply{Body: MsgMediaRetry})
			return nil
		}
	}

	if err := e.store.CommitTransition(result.Next, result.Profile); err != nil {
		return fmt.Errorf("failed to commit transition for %s: %w", canonical, err)
	}
	if err := e.store.MarkProcessed(ev.ID); err != nil {
		slog.Error("Engine failed to mark event processed", "error", err, "eventID", ev.ID)
	}
	slog.Info("Engine transition committed", "recipientID", canonical,
		"from", state.Stage, "to", result.Next.Stage, "profile_created", result.Profile != nil)

	for _, reply := range result.Replies {
		e.send(ctx, canonical, reply)
	}
	return nil
}

// loadState loads the recipient's conversation state, synthesizing the
// correct initial stage when none exists: Start for unknown recipients,
// ServiceMenu for recipients who registered before state tracking existed.
func (e *Engine) loadState(recipientID string) (models.ConversationState, error) {
	state, err := e.store.GetConversationState(recipientID)
	if err != nil {
		return models.ConversationState{}, fmt.Errorf("failed to load state for %s: %w", recipientID, err)
	}
	if state != nil {
		return *state, nil
	}

	profile, err := e.store.GetProfile(recipientID)
	if err != nil {
		return models.ConversationState{}, fmt.Errorf("failed to load profile for %s: %w", recipientID, err)
	}
	if profile != nil {
		slog.Debug("Engine synthesizing service-menu state for registered recipient", "recipientID", recipientID)
		return models.NewConversationState(recipientID, models.StageServiceMenu), nil
	}
	return models.NewConversationState(recipientID, models.StageStart), nil
}

// storeMedia fetches the event's media reference and writes it to storage.
func (e *Engine) storeMedia(ctx context.Context, ev models.InboundEvent) error {
	stream, err := e.gateway.FetchMedia(ctx, ev.Payload)
	if err != nil {
		return fmt.Errorf("media fetch failed: %w", err)
	}
	defer stream.Close()

	path, err := e.media.Save(ev.Payload, stream)
	if err != nil {
		return fmt.Errorf("media store failed: %w", err)
	}
	slog.Info("Engine stored prescription media", "recipientID", ev.RecipientID, "mediaID", ev.Payload, "path", path)
	return nil
}

// send delivers one reply, logging failures without propagating them.
func (e *Engine) send(ctx context.Context, to string, reply Reply) {
	var err error
	if len(reply.Buttons) > 0 {
		err = e.gateway.SendButtons(ctx, to, reply.Body, reply.Buttons)
	} else {
		err = e.gateway.SendText(ctx, to, reply.Body)
	}
	if err != nil {
		slog.Error("Engine reply send failed", "error", err, "to", to, "buttons", len(reply.Buttons))
	}
}
