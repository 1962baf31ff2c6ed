// Package api provides the provider-facing webhook handlers.
package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"sync"

	"github.com/google/uuid"

	"github.com/telepharma-bw/intakebot/internal/models"
)

// webhookPayload mirrors the provider's event batch structure.
type webhookPayload struct {
	Entry []webhookEntry `json:"entry"`
}

type webhookEntry struct {
	Changes []webhookChange `json:"changes"`
}

type webhookChange struct {
	Value webhookValue `json:"value"`
}

type webhookValue struct {
	Messages []webhookMessage `json:"messages"`
}

type webhookMessage struct {
	ID          string              `json:"id"`
	From        string              `json:"from"`
	Timestamp   string              `json:"timestamp"`
	Type        string              `json:"type"`
	Text        *webhookText        `json:"text,omitempty"`
	Image       *webhookImage       `json:"image,omitempty"`
	Interactive *webhookInteractive `json:"interactive,omitempty"`
}

type webhookText struct {
	Body string `json:"body"`
}

type webhookImage struct {
	ID string `json:"id"`
}

type webhookInteractive struct {
	ButtonReply *models.Button `json:"button_reply,omitempty"`
}

func (s *Server) webhookHandler(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		s.verifyHandler(w, r)
	case http.MethodPost:
		s.eventsHandler(w, r)
	default:
		w.Header().Set("Allow", "GET, POST")
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

// verifyHandler implements the provider's subscription handshake: echo the
// challenge only if the mode is "subscribe" and the token matches.
func (s *Server) verifyHandler(w http.ResponseWriter, r *http.Request) {
	mode := r.URL.Query().Get("hub.mode")
	token := r.URL.Query().Get("hub.verify_token")
	challenge := r.URL.Query().Get("hub.challenge")

	if mode == "subscribe" && s.verifyToken != "" && token == s.verifyToken {
		slog.Info("Webhook verified")
		w.WriteHeader(http.StatusOK)
		if _, err := w.Write([]byte(challenge)); err != nil {
			slog.Error("Server.verifyHandler: failed to write challenge", "error", err)
		}
		return
	}
	slog.Warn("Server.verifyHandler: verification rejected", "mode", mode)
	w.WriteHeader(http.StatusForbidden)
}

// eventsHandler processes one delivered batch. Events are grouped by
// recipient: groups run concurrently, events within a group in arrival order.
// Any persistence failure turns the whole delivery into a non-200 so the
// provider redelivers.
func (s *Server) eventsHandler(w http.ResponseWriter, r *http.Request) {
	if r.Body != nil {
		defer r.Body.Close()
	}

	var payload webhookPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		slog.Warn("Server.eventsHandler: failed to decode payload", "error", err)
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Invalid JSON format"))
		return
	}

	groups, order := groupEvents(normalizeEvents(payload))
	slog.Debug("Server.eventsHandler: processing batch", "recipients", len(order))

	var wg sync.WaitGroup
	var mu sync.Mutex
	failed := false
	for _, recipientID := range order {
		events := groups[recipientID]
		wg.Add(1)
		go func(events []models.InboundEvent) {
			defer wg.Done()
			for _, ev := range events {
				if err := s.engine.HandleEvent(r.Context(), ev); err != nil {
					if errors.Is(err, models.ErrInvalidRecipient) {
						// Not retryable: redelivery cannot fix a bad sender id.
						slog.Error("Server.eventsHandler: dropping event with invalid recipient", "error", err, "eventID", ev.ID)
						continue
					}
					slog.Error("Server.eventsHandler: event processing failed", "error", err, "eventID", ev.ID, "recipientID", ev.RecipientID)
					mu.Lock()
					failed = true
					mu.Unlock()
					return
				}
			}
		}(events)
	}
	wg.Wait()

	if failed {
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Event processing failed"))
		return
	}
	w.WriteHeader(http.StatusOK)
}

// normalizeEvents flattens a provider batch into inbound events. Messages with
// no id get a synthesized one; messages of unknown shape are dropped.
func normalizeEvents(payload webhookPayload) []models.InboundEvent {
	var events []models.InboundEvent
	for _, entry := range payload.Entry {
		for _, change := range entry.Changes {
			for _, msg := range change.Value.Messages {
				ev, ok := normalizeMessage(msg)
				if !ok {
					slog.Warn("Server: dropping message of unknown shape", "id", msg.ID, "type", msg.Type)
					continue
				}
				events = append(events, ev)
			}
		}
	}
	return events
}

func normalizeMessage(msg webhookMessage) (models.InboundEvent, bool) {
	ev := models.InboundEvent{
		ID:          msg.ID,
		RecipientID: msg.From,
	}
	if ev.ID == "" {
		ev.ID = uuid.NewString()
	}
	if msg.Timestamp != "" {
		if ts, err := strconv.ParseInt(msg.Timestamp, 10, 64); err == nil {
			ev.Time = ts
		}
	}

	switch {
	case msg.Interactive != nil && msg.Interactive.ButtonReply != nil:
		ev.Kind = models.EventButtonReply
		ev.Payload = msg.Interactive.ButtonReply.ID
	case msg.Image != nil:
		ev.Kind = models.EventMedia
		ev.Payload = msg.Image.ID
	case msg.Text != nil:
		ev.Kind = models.EventText
		ev.Payload = msg.Text.Body
	default:
		return models.InboundEvent{}, false
	}
	return ev, true
}

// groupEvents splits events by recipient, preserving arrival order within each
// group and first-seen order across groups.
func groupEvents(events []models.InboundEvent) (map[string][]models.InboundEvent, []string) {
	groups := make(map[string][]models.InboundEvent)
	var order []string
	for _, ev := range events {
		if _, seen := groups[ev.RecipientID]; !seen {
			order = append(order, ev.RecipientID)
		}
		groups[ev.RecipientID] = append(groups[ev.RecipientID], ev)
	}
	return groups, order
}
