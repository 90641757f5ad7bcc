package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"goal-agent/internal/domain"
)

const pgUniqueViolation = "23505"

// PostgresStore persists conversations and goals in PostgreSQL.
type PostgresStore struct {
	pool *pgxpool.Pool
}

func NewPostgresStore(ctx context.Context, databaseURL string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("repository: connect postgres: %w", err)
	}

	if err := initSchema(ctx, pool); err != nil {
		pool.Close()
		return nil, err
	}

	return &PostgresStore{pool: pool}, nil
}

func initSchema(ctx context.Context, pool *pgxpool.Pool) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS conversations (
			id TEXT PRIMARY KEY,
			session_id TEXT NOT NULL,
			user_id TEXT NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			UNIQUE (session_id, user_id)
		);`,
		`CREATE INDEX IF NOT EXISTS idx_conversations_updated ON conversations (updated_at DESC);`,
		`CREATE TABLE IF NOT EXISTS conversation_messages (
			seq BIGSERIAL PRIMARY KEY,
			conversation_id TEXT NOT NULL REFERENCES conversations (id),
			role TEXT NOT NULL,
			content TEXT NOT NULL,
			created_at TIMESTAMPTZ NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_conversation_messages_conv ON conversation_messages (conversation_id, seq);`,
		`CREATE TABLE IF NOT EXISTS financial_goals (
			id TEXT PRIMARY KEY,
			user_id TEXT NOT NULL,
			session_id TEXT NOT NULL,
			name TEXT NOT NULL,
			target_amount DOUBLE PRECISION NOT NULL,
			timeframe TEXT NOT NULL,
			description TEXT NOT NULL,
			category TEXT,
			status TEXT NOT NULL,
			created_at TIMESTAMPTZ NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_financial_goals_user_created ON financial_goals (user_id, created_at);`,
	}

	for _, stmt := range stmts {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("repository: init schema failed on %q: %w", stmt, err)
		}
	}
	return nil
}

func (s *PostgresStore) FindConversation(ctx context.Context, sessionID, userID string) (*domain.Conversation, error) {
	var conv domain.Conversation
	err := s.pool.QueryRow(ctx,
		`SELECT id, session_id, user_id, created_at, updated_at
		 FROM conversations WHERE session_id=$1 AND user_id=$2`,
		sessionID, userID,
	).Scan(&conv.ID, &conv.SessionID, &conv.UserID, &conv.CreatedAt, &conv.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("repository: find conversation: %w", err)
	}

	rows, err := s.pool.Query(ctx,
		`SELECT role, content, created_at FROM conversation_messages
		 WHERE conversation_id=$1 ORDER BY seq`,
		conv.ID,
	)
	if err != nil {
		return nil, fmt.Errorf("repository: query messages: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var m domain.Message
		var role string
		if err := rows.Scan(&role, &m.Content, &m.Timestamp); err != nil {
			return nil, fmt.Errorf("repository: scan message row: %w", err)
		}
		m.Role = domain.Role(role)
		conv.Messages = append(conv.Messages, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("repository: iterate message rows: %w", err)
	}
	return &conv, nil
}

func (s *PostgresStore) CreateConversation(ctx context.Context, conv domain.Conversation) (string, error) {
	if conv.ID == "" {
		conv.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if conv.CreatedAt.IsZero() {
		conv.CreatedAt = now
	}
	if conv.UpdatedAt.IsZero() {
		conv.UpdatedAt = conv.CreatedAt
	}

	_, err := s.pool.Exec(ctx,
		`INSERT INTO conversations (id, session_id, user_id, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5)`,
		conv.ID, conv.SessionID, conv.UserID, conv.CreatedAt, conv.UpdatedAt,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation {
			return "", ErrDuplicateConversation
		}
		return "", fmt.Errorf("repository: create conversation: %w", err)
	}
	return conv.ID, nil
}

// AppendMessages bumps updated_at and inserts msgs in one transaction, so a
// turn's messages land together and in order.
func (s *PostgresStore) AppendMessages(ctx context.Context, sessionID, userID string, msgs []domain.Message) error {
	if len(msgs) == 0 {
		return nil
	}
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("repository: begin append: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var convID string
	err = tx.QueryRow(ctx,
		`UPDATE conversations SET updated_at=$3
		 WHERE session_id=$1 AND user_id=$2 RETURNING id`,
		sessionID, userID, msgs[len(msgs)-1].Timestamp,
	).Scan(&convID)
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("repository: append messages: %w", ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("repository: touch conversation: %w", err)
	}

	for _, m := range msgs {
		if _, err := tx.Exec(ctx,
			`INSERT INTO conversation_messages (conversation_id, role, content, created_at)
			 VALUES ($1, $2, $3, $4)`,
			convID, string(m.Role), m.Content, m.Timestamp,
		); err != nil {
			return fmt.Errorf("repository: insert message: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("repository: commit append: %w", err)
	}
	return nil
}

func (s *PostgresStore) InsertGoal(ctx context.Context, goal domain.Goal) (string, error) {
	if goal.ID == "" {
		goal.ID = uuid.NewString()
	}
	var category *string
	if goal.Category != "" {
		category = &goal.Category
	}

	_, err := s.pool.Exec(ctx,
		`INSERT INTO financial_goals
		 (id, user_id, session_id, name, target_amount, timeframe, description, category, status, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		goal.ID,
		goal.UserID,
		goal.SessionID,
		goal.Name,
		goal.TargetAmount,
		goal.Timeframe,
		goal.Description,
		category,
		string(goal.Status),
		goal.CreatedAt,
	)
	if err != nil {
		return "", fmt.Errorf("repository: insert goal: %w", err)
	}
	return goal.ID, nil
}

const goalColumns = `id, user_id, session_id, name, target_amount, timeframe, description, category, status, created_at`

func (s *PostgresStore) FindGoal(ctx context.Context, id, userID string) (*domain.Goal, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+goalColumns+` FROM financial_goals WHERE id=$1 AND user_id=$2`,
		id, userID,
	)
	g, err := scanGoal(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("repository: find goal: %w", err)
	}
	return &g, nil
}

func (s *PostgresStore) ListGoals(ctx context.Context, userID string, filter domain.GoalFilter, page domain.Page) (int, []domain.Goal, error) {
	where, args := goalWhere(userID, filter)

	var total int
	if err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM financial_goals WHERE `+where, args...).Scan(&total); err != nil {
		return 0, nil, fmt.Errorf("repository: count goals: %w", err)
	}

	query := `SELECT ` + goalColumns + ` FROM financial_goals WHERE ` + where + ` ORDER BY created_at, id`
	if page.Size > 0 {
		args = append(args, page.Size, page.Offset())
		query += fmt.Sprintf(" LIMIT $%d OFFSET $%d", len(args)-1, len(args))
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return 0, nil, fmt.Errorf("repository: query goals: %w", err)
	}
	defer rows.Close()

	items := make([]domain.Goal, 0)
	for rows.Next() {
		g, err := scanGoal(rows)
		if err != nil {
			return 0, nil, fmt.Errorf("repository: scan goal row: %w", err)
		}
		items = append(items, g)
	}
	if err := rows.Err(); err != nil {
		return 0, nil, fmt.Errorf("repository: iterate goal rows: %w", err)
	}
	return total, items, nil
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

// goalWhere builds the WHERE clause and positional args for a goal listing.
func goalWhere(userID string, filter domain.GoalFilter) (string, []any) {
	clauses := []string{"user_id=$1"}
	args := []any{userID}
	if filter.Category != "" {
		args = append(args, filter.Category)
		clauses = append(clauses, fmt.Sprintf("category=$%d", len(args)))
	}
	if filter.Status != "" {
		args = append(args, filter.Status)
		clauses = append(clauses, fmt.Sprintf("status=$%d", len(args)))
	}
	if q := strings.TrimSpace(filter.Search); q != "" {
		args = append(args, "%"+escapeLike(q)+"%")
		clauses = append(clauses, fmt.Sprintf("(name ILIKE $%d OR description ILIKE $%d)", len(args), len(args)))
	}
	return strings.Join(clauses, " AND "), args
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

func escapeLike(s string) string {
	return likeEscaper.Replace(s)
}

func scanGoal(row pgx.Row) (domain.Goal, error) {
	var g domain.Goal
	var category *string
	var status string
	if err := row.Scan(
		&g.ID,
		&g.UserID,
		&g.SessionID,
		&g.Name,
		&g.TargetAmount,
		&g.Timeframe,
		&g.Description,
		&category,
		&status,
		&g.CreatedAt,
	); err != nil {
		return domain.Goal{}, err
	}
	if category != nil {
		g.Category = *category
	}
	g.Status = domain.GoalStatus(status)
	return g, nil
}
