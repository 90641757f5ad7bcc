package repository

import (
	"context"
	"errors"
	"sort"

	"goal-agent/internal/domain"
)

var (
	// ErrDuplicateConversation is returned by CreateConversation when a
	// conversation already exists for the (session, user) pair.
	ErrDuplicateConversation = errors.New("repository: conversation already exists")
	// ErrNotFound is returned by writes that target a missing record.
	ErrNotFound = errors.New("repository: not found")
	// ErrConcurrentAppend is returned when another writer appended to the
	// same conversation between the read and the write.
	ErrConcurrentAppend = errors.New("repository: concurrent append")
)

// ReadWriter defines the conversation and goal operations shared by every
// backend. Finders return (nil, nil) when nothing matches.
type ReadWriter interface {
	FindConversation(ctx context.Context, sessionID, userID string) (*domain.Conversation, error)
	CreateConversation(ctx context.Context, conv domain.Conversation) (string, error)
	AppendMessages(ctx context.Context, sessionID, userID string, msgs []domain.Message) error
	InsertGoal(ctx context.Context, goal domain.Goal) (string, error)
	FindGoal(ctx context.Context, id, userID string) (*domain.Goal, error)
	ListGoals(ctx context.Context, userID string, filter domain.GoalFilter, page domain.Page) (int, []domain.Goal, error)
	Close() error
}

// filterAndPage applies filter, a stable creation-time ordering and the page
// window to goals already scoped to one user.
func filterAndPage(goals []domain.Goal, filter domain.GoalFilter, page domain.Page) (int, []domain.Goal) {
	matched := make([]domain.Goal, 0, len(goals))
	for _, g := range goals {
		if filter.Matches(g) {
			matched = append(matched, g)
		}
	}
	sort.SliceStable(matched, func(i, j int) bool {
		if matched[i].CreatedAt.Equal(matched[j].CreatedAt) {
			return matched[i].ID < matched[j].ID
		}
		return matched[i].CreatedAt.Before(matched[j].CreatedAt)
	})
	start, end := page.Window(len(matched))
	return len(matched), matched[start:end]
}
