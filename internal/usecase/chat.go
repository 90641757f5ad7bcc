package usecase

import (
	"context"
	"errors"
	"log/slog"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"goal-agent/internal/domain"
	"goal-agent/internal/extractor"
	"goal-agent/internal/lock"
	"goal-agent/internal/observability"
	"goal-agent/internal/repository"
)

const (
	defaultModel            = "deepseek-chat"
	defaultTemperature      = 0.7
	defaultMaxTokens        = 1500
	defaultTopP             = 0.9
	defaultMaxMessageLength = 4000
	defaultPageSize         = 10
	defaultMaxPageSize      = 100
)

type ConversationStore interface {
	FindConversation(ctx context.Context, sessionID, userID string) (*domain.Conversation, error)
	CreateConversation(ctx context.Context, conv domain.Conversation) (string, error)
	AppendMessages(ctx context.Context, sessionID, userID string, msgs []domain.Message) error
}

type GoalStore interface {
	InsertGoal(ctx context.Context, goal domain.Goal) (string, error)
	FindGoal(ctx context.Context, id, userID string) (*domain.Goal, error)
	ListGoals(ctx context.Context, userID string, filter domain.GoalFilter, page domain.Page) (int, []domain.Goal, error)
}

type LLMClient interface {
	Chat(ctx context.Context, req domain.CompletionRequest) (string, error)
}

type httpStatusCoder interface {
	HTTPStatusCode() int
}

// Settings tunes the model call and the read endpoints. Zero values fall
// back to defaults.
type Settings struct {
	Model            string
	Temperature      float64
	MaxTokens        int
	TopP             float64
	MaxMessageLength int
	DefaultPageSize  int
	MaxPageSize      int
}

func (s Settings) withDefaults() Settings {
	if strings.TrimSpace(s.Model) == "" {
		s.Model = defaultModel
	}
	if s.Temperature <= 0 {
		s.Temperature = defaultTemperature
	}
	if s.MaxTokens <= 0 {
		s.MaxTokens = defaultMaxTokens
	}
	if s.TopP <= 0 {
		s.TopP = defaultTopP
	}
	if s.MaxMessageLength <= 0 {
		s.MaxMessageLength = defaultMaxMessageLength
	}
	if s.MaxPageSize <= 0 {
		s.MaxPageSize = defaultMaxPageSize
	}
	if s.DefaultPageSize <= 0 {
		s.DefaultPageSize = defaultPageSize
	}
	if s.DefaultPageSize > s.MaxPageSize {
		s.DefaultPageSize = s.MaxPageSize
	}
	return s
}

// ChatService runs conversation turns and serves the goal and history reads.
type ChatService struct {
	conversations ConversationStore
	goals         GoalStore
	llm           LLMClient
	locker        lock.Locker
	settings      Settings

	logger  *slog.Logger
	metrics *observability.Metrics
	now     func() time.Time
}

type Option func(*ChatService)

func WithLogger(logger *slog.Logger) Option {
	return func(s *ChatService) {
		if logger != nil {
			s.logger = logger
		}
	}
}

func WithMetrics(m *observability.Metrics) Option {
	return func(s *ChatService) {
		s.metrics = m
	}
}

func WithClock(now func() time.Time) Option {
	return func(s *ChatService) {
		if now != nil {
			s.now = now
		}
	}
}

func NewChatService(c ConversationStore, g GoalStore, llm LLMClient, l lock.Locker, settings Settings, opts ...Option) (*ChatService, error) {
	if c == nil {
		return nil, errors.New("usecase: conversation store must not be nil")
	}
	if g == nil {
		return nil, errors.New("usecase: goal store must not be nil")
	}
	if llm == nil {
		return nil, errors.New("usecase: llm client must not be nil")
	}
	if l == nil {
		return nil, errors.New("usecase: locker must not be nil")
	}
	s := &ChatService{
		conversations: c,
		goals:         g,
		llm:           llm,
		locker:        l,
		settings:      settings.withDefaults(),
		logger:        slog.Default(),
		now:           time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

type ProcessInput struct {
	Message   string
	SessionID string
	UserID    string
}

type ProcessOutput struct {
	Message      string
	GoalComplete bool
	Goal         *domain.Goal
	GoalID       string
}

// ProcessMessage runs one conversation turn. Turns for the same (session,
// user) are serialized by the locker.
func (s *ChatService) ProcessMessage(ctx context.Context, in ProcessInput) (out ProcessOutput, err error) {
	defer func() { s.metrics.ObserveTurn(turnOutcome(out, err)) }()

	message := strings.TrimSpace(in.Message)
	sessionID := strings.TrimSpace(in.SessionID)
	userID := strings.TrimSpace(in.UserID)
	if message == "" {
		return ProcessOutput{}, newError(ErrorInvalidInput, "empty_message", nil)
	}
	if utf8.RuneCountInString(message) > s.settings.MaxMessageLength {
		return ProcessOutput{}, newError(ErrorInvalidInput, "message_too_long", nil)
	}
	if sessionID == "" {
		return ProcessOutput{}, newError(ErrorInvalidInput, "missing_session_id", nil)
	}
	if userID == "" {
		return ProcessOutput{}, newError(ErrorInvalidInput, "missing_user_id", nil)
	}

	release, err := s.locker.Acquire(ctx, conversationLockKey(sessionID, userID))
	if err != nil {
		if errors.Is(err, lock.ErrBusy) {
			return ProcessOutput{}, newError(ErrorConflict, "conversation_busy", err)
		}
		return ProcessOutput{}, newError(ErrorInternal, "lock_error", err)
	}
	defer release()

	log := s.logger.With("session_id", sessionID, "user_id", userID)

	received := s.now().UTC()
	conv, err := s.resolveConversation(ctx, sessionID, userID, received)
	if err != nil {
		return ProcessOutput{}, err
	}

	messages := buildPromptMessages(received, conv, message)
	log.Info("calling language model", "messages", len(messages))

	started := time.Now()
	raw, err := s.llm.Chat(ctx, domain.CompletionRequest{
		Model:       s.settings.Model,
		Messages:    messages,
		Temperature: s.settings.Temperature,
		MaxTokens:   s.settings.MaxTokens,
		TopP:        s.settings.TopP,
	})
	s.metrics.ObserveGatewayLatency(time.Since(started), err)
	if err != nil {
		log.Error("language model call failed", "err", err)
		if status, ok := upstreamStatusCode(err); ok && status == 429 {
			return ProcessOutput{}, newError(ErrorRateLimited, "llm_rate_limited", err)
		}
		return ProcessOutput{}, newError(ErrorUpstream, "llm_error", err)
	}

	res := extractor.Extract(raw)
	s.metrics.ObserveExtraction(res.Rule, res.Complete())
	if res.ParseErr != nil {
		log.Warn("goal payload rejected", "rule", res.Rule, "err", res.ParseErr)
	} else if res.Complete() {
		log.Info("goal payload extracted", "rule", res.Rule)
	}

	userTS := notBefore(received, lastTimestamp(conv))
	replyTS := notBefore(s.now().UTC(), userTS)
	if err := s.conversations.AppendMessages(ctx, sessionID, userID, []domain.Message{
		{Role: domain.RoleUser, Content: message, Timestamp: userTS},
		{Role: domain.RoleAssistant, Content: res.Display, Timestamp: replyTS},
	}); err != nil {
		if errors.Is(err, repository.ErrConcurrentAppend) {
			log.Warn("append lost a race", "err", err)
			return ProcessOutput{}, newError(ErrorConflict, "conversation_append_conflict", err)
		}
		log.Error("append messages failed", "err", err)
		return ProcessOutput{}, newError(ErrorInternal, "conversation_append_error", err)
	}

	out = ProcessOutput{Message: res.Display}
	if !res.Complete() {
		return out, nil
	}

	goal := *res.Goal
	goal.SessionID = sessionID
	goal.UserID = userID
	goal.ApplyDefaults(replyTS)
	goal.ID = newUUID()

	id, err := s.goals.InsertGoal(ctx, goal)
	if err != nil {
		log.Error("insert goal failed", "err", err)
		return ProcessOutput{}, newError(ErrorInternal, "goal_insert_error", err)
	}
	goal.ID = id
	s.metrics.IncGoalsPromoted()
	log.Info("goal promoted", "goal_id", id)

	out.GoalComplete = true
	out.Goal = &goal
	out.GoalID = id
	return out, nil
}

// resolveConversation loads the conversation, creating it on first use. A
// concurrent creator wins the store's uniqueness check; the loser re-reads
// once and continues on the winner's record.
func (s *ChatService) resolveConversation(ctx context.Context, sessionID, userID string, now time.Time) (*domain.Conversation, error) {
	conv, err := s.conversations.FindConversation(ctx, sessionID, userID)
	if err != nil {
		return nil, newError(ErrorInternal, "conversation_read_error", err)
	}
	if conv != nil {
		return conv, nil
	}

	conv = &domain.Conversation{
		SessionID: sessionID,
		UserID:    userID,
		Messages:  []domain.Message{},
		CreatedAt: now,
		UpdatedAt: now,
	}
	id, err := s.conversations.CreateConversation(ctx, *conv)
	if err == nil {
		conv.ID = id
		return conv, nil
	}
	if !errors.Is(err, repository.ErrDuplicateConversation) {
		return nil, newError(ErrorInternal, "conversation_create_error", err)
	}

	winner, err := s.conversations.FindConversation(ctx, sessionID, userID)
	if err != nil {
		return nil, newError(ErrorInternal, "conversation_read_error", err)
	}
	if winner == nil {
		return nil, newError(ErrorConflict, "conversation_create_conflict", nil)
	}
	return winner, nil
}

type ListGoalsInput struct {
	UserID   string
	Filter   domain.GoalFilter
	Page     int
	PageSize int
}

type ListGoalsOutput struct {
	Total    int
	Items    []domain.Goal
	Page     int
	PageSize int
}

// ListGoals returns one page of the user's goals. The page size is clamped
// to the configured maximum.
func (s *ChatService) ListGoals(ctx context.Context, in ListGoalsInput) (ListGoalsOutput, error) {
	userID := strings.TrimSpace(in.UserID)
	if userID == "" {
		return ListGoalsOutput{}, newError(ErrorInvalidInput, "missing_user_id", nil)
	}
	page := in.Page
	if page < 1 {
		page = 1
	}
	size := in.PageSize
	if size <= 0 {
		size = s.settings.DefaultPageSize
	}
	if size > s.settings.MaxPageSize {
		size = s.settings.MaxPageSize
	}

	total, items, err := s.goals.ListGoals(ctx, userID, in.Filter, domain.Page{Number: page, Size: size})
	if err != nil {
		return ListGoalsOutput{}, newError(ErrorInternal, "goal_list_error", err)
	}
	if items == nil {
		items = []domain.Goal{}
	}
	return ListGoalsOutput{Total: total, Items: items, Page: page, PageSize: size}, nil
}

func (s *ChatService) GetGoal(ctx context.Context, id, userID string) (domain.Goal, error) {
	id = strings.TrimSpace(id)
	userID = strings.TrimSpace(userID)
	if id == "" {
		return domain.Goal{}, newError(ErrorInvalidInput, "missing_goal_id", nil)
	}
	if userID == "" {
		return domain.Goal{}, newError(ErrorInvalidInput, "missing_user_id", nil)
	}
	goal, err := s.goals.FindGoal(ctx, id, userID)
	if err != nil {
		return domain.Goal{}, newError(ErrorInternal, "goal_read_error", err)
	}
	if goal == nil {
		return domain.Goal{}, newError(ErrorNotFound, "goal_not_found", nil)
	}
	return *goal, nil
}

func (s *ChatService) GetConversation(ctx context.Context, sessionID, userID string) (domain.Conversation, error) {
	sessionID = strings.TrimSpace(sessionID)
	userID = strings.TrimSpace(userID)
	if sessionID == "" {
		return domain.Conversation{}, newError(ErrorInvalidInput, "missing_session_id", nil)
	}
	if userID == "" {
		return domain.Conversation{}, newError(ErrorInvalidInput, "missing_user_id", nil)
	}
	conv, err := s.conversations.FindConversation(ctx, sessionID, userID)
	if err != nil {
		return domain.Conversation{}, newError(ErrorInternal, "conversation_read_error", err)
	}
	if conv == nil {
		return domain.Conversation{}, newError(ErrorNotFound, "conversation_not_found", nil)
	}
	if conv.Messages == nil {
		conv.Messages = []domain.Message{}
	}
	return *conv, nil
}

// conversationLockKey length-prefixes the user id so ids containing ':'
// cannot collide.
func conversationLockKey(sessionID, userID string) string {
	return "conv:" + strconv.Itoa(len(userID)) + ":" + userID + ":" + sessionID
}

func lastTimestamp(conv *domain.Conversation) time.Time {
	if conv == nil || len(conv.Messages) == 0 {
		return time.Time{}
	}
	return conv.Messages[len(conv.Messages)-1].Timestamp
}

func notBefore(ts, floor time.Time) time.Time {
	if ts.Before(floor) {
		return floor
	}
	return ts
}

// turnOutcome labels a finished turn for metrics.
func turnOutcome(out ProcessOutput, err error) string {
	if err == nil {
		if out.GoalComplete {
			return "goal"
		}
		return "message"
	}
	return strings.ToLower(string(CodeOf(err)))
}

func upstreamStatusCode(err error) (int, bool) {
	var statusErr httpStatusCoder
	if !errors.As(err, &statusErr) {
		return 0, false
	}
	return statusErr.HTTPStatusCode(), true
}

var newUUID = func() string {
	return uuid.NewString()
}
