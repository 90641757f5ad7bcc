package repository

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"goal-agent/internal/domain"
)

type convKey struct {
	sessionID string
	userID    string
}

// InMemoryStore is a process-local store for tests and local runs.
type InMemoryStore struct {
	mu            sync.RWMutex
	conversations map[convKey]domain.Conversation
	goals         map[string][]domain.Goal
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		conversations: make(map[convKey]domain.Conversation),
		goals:         make(map[string][]domain.Goal),
	}
}

func (s *InMemoryStore) FindConversation(_ context.Context, sessionID, userID string) (*domain.Conversation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	conv, ok := s.conversations[convKey{sessionID, userID}]
	if !ok {
		return nil, nil
	}
	conv.Messages = append([]domain.Message(nil), conv.Messages...)
	return &conv, nil
}

func (s *InMemoryStore) CreateConversation(_ context.Context, conv domain.Conversation) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := convKey{conv.SessionID, conv.UserID}
	if _, ok := s.conversations[key]; ok {
		return "", ErrDuplicateConversation
	}
	if conv.ID == "" {
		conv.ID = uuid.NewString()
	}
	conv.Messages = append([]domain.Message(nil), conv.Messages...)
	s.conversations[key] = conv
	return conv.ID, nil
}

func (s *InMemoryStore) AppendMessages(_ context.Context, sessionID, userID string, msgs []domain.Message) error {
	if len(msgs) == 0 {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	key := convKey{sessionID, userID}
	conv, ok := s.conversations[key]
	if !ok {
		return ErrNotFound
	}
	conv.Messages = append(conv.Messages, msgs...)
	conv.UpdatedAt = msgs[len(msgs)-1].Timestamp
	s.conversations[key] = conv
	return nil
}

func (s *InMemoryStore) InsertGoal(_ context.Context, goal domain.Goal) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if goal.ID == "" {
		goal.ID = uuid.NewString()
	}
	s.goals[goal.UserID] = append(s.goals[goal.UserID], goal)
	return goal.ID, nil
}

func (s *InMemoryStore) FindGoal(_ context.Context, id, userID string) (*domain.Goal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, g := range s.goals[userID] {
		if g.ID == id {
			out := g
			return &out, nil
		}
	}
	return nil, nil
}

func (s *InMemoryStore) ListGoals(_ context.Context, userID string, filter domain.GoalFilter, page domain.Page) (int, []domain.Goal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	total, items := filterAndPage(s.goals[userID], filter, page)
	return total, items, nil
}

func (s *InMemoryStore) Close() error { return nil }
