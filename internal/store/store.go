// Package store provides storage backends for the intake service.
//
// It persists exactly two keyed records per recipient — the conversation state
// and the registration profile — plus an inbound-message dedup table. An
// in-memory store backs tests and ephemeral runs; SQLite and PostgreSQL back
// production deployments.
package store

import (
	"sync"
	"time"

	"github.com/telepharma-bw/intakebot/internal/models"
)

// Store is the persistence contract for conversation state and profiles.
//
// CommitTransition is the atomicity boundary the adapter exists for: the state
// update and the optional profile creation for a single event are applied
// together or not at all.
type Store interface {
	// GetConversationState returns the state for a recipient, or nil if none exists.
	GetConversationState(recipientID string) (*models.ConversationState, error)

	// SaveConversationState inserts or updates a conversation state record.
	SaveConversationState(state models.ConversationState) error

	// DeleteConversationState removes a recipient's state record. Deleting a
	// missing record is not an error.
	DeleteConversationState(recipientID string) error

	// GetProfile returns the profile for a recipient, or nil if none exists.
	GetProfile(recipientID string) (*models.Profile, error)

	// SaveProfile inserts a finalized registration profile.
	SaveProfile(profile models.Profile) error

	// ListProfiles returns all registered profiles.
	ListProfiles() ([]models.Profile, error)

	// CommitTransition atomically stores the post-transition conversation state
	// together with the profile created by a terminal intake transition.
	// profile may be nil for transitions that create no profile.
	CommitTransition(state models.ConversationState, profile *models.Profile) error

	// RecordInbound inserts a dedup record for an inbound message id. Returns
	// false if the id was already recorded.
	RecordInbound(messageID, recipientID string) (bool, error)

	// IsProcessed reports whether a recorded message id has been fully processed.
	IsProcessed(messageID string) (bool, error)

	// MarkProcessed sets the processed timestamp for a message id.
	MarkProcessed(messageID string) error

	// Ping verifies the backend is reachable.
	Ping() error

	// Close releases backend resources.
	Close() error
}

// dedupEntry tracks one inbound message id in the in-memory store.
type dedupEntry struct {
	recipientID string
	receivedAt  time.Time
	processedAt *time.Time
}

// InMemoryStore is a mutex-guarded map-backed Store for tests and ephemeral runs.
type InMemoryStore struct {
	mu       sync.RWMutex
	states   map[string]models.ConversationState
	profiles map[string]models.Profile
	inbound  map[string]dedupEntry
}

// Compile-time check that InMemoryStore implements Store.
var _ Store = (*InMemoryStore)(nil)

// NewInMemoryStore creates an empty in-memory store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		states:   make(map[string]models.ConversationState),
		profiles: make(map[string]models.Profile),
		inbound:  make(map[string]dedupEntry),
	}
}

func (s *InMemoryStore) GetConversationState(recipientID string) (*models.ConversationState, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	state, ok := s.states[recipientID]
	if !ok {
		return nil, nil
	}
	return &state, nil
}

func (s *InMemoryStore) SaveConversationState(state models.ConversationState) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.states[state.RecipientID] = state
	return nil
}

func (s *InMemoryStore) DeleteConversationState(recipientID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.states, recipientID)
	return nil
}

func (s *InMemoryStore) GetProfile(recipientID string) (*models.Profile, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	profile, ok := s.profiles[recipientID]
	if !ok {
		return nil, nil
	}
	return &profile, nil
}

func (s *InMemoryStore) SaveProfile(profile models.Profile) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.profiles[profile.RecipientID] = profile
	return nil
}

func (s *InMemoryStore) ListProfiles() ([]models.Profile, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	profiles := make([]models.Profile, 0, len(s.profiles))
	for _, p := range s.profiles {
		profiles = append(profiles, p)
	}
	return profiles, nil
}

func (s *InMemoryStore) CommitTransition(state models.ConversationState, profile *models.Profile) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.states[state.RecipientID] = state
	if profile != nil {
		s.profiles[profile.RecipientID] = *profile
	}
	return nil
}

func (s *InMemoryStore) RecordInbound(messageID, recipientID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.inbound[messageID]; exists {
		return false, nil
	}
	s.inbound[messageID] = dedupEntry{recipientID: recipientID, receivedAt: time.Now()}
	return true, nil
}

func (s *InMemoryStore) IsProcessed(messageID string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	entry, ok := s.inbound[messageID]
	if !ok {
		return false, nil
	}
	return entry.processedAt != nil, nil
}

func (s *InMemoryStore) MarkProcessed(messageID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.inbound[messageID]
	if !ok {
		return nil
	}
	now := time.Now()
	entry.processedAt = &now
	s.inbound[messageID] = entry
	return nil
}

func (s *InMemoryStore) Ping() error { return nil }

func (s *InMemoryStore) Close() error { return nil }
