package handler

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/aws/aws-lambda-go/events"
	"github.com/google/uuid"

	"goal-agent/internal/domain"
	"goal-agent/internal/usecase"
)

const correlationHeader = "X-Correlation-Id"

type ChatUseCase interface {
	ProcessMessage(ctx context.Context, in usecase.ProcessInput) (usecase.ProcessOutput, error)
	ListGoals(ctx context.Context, in usecase.ListGoalsInput) (usecase.ListGoalsOutput, error)
	GetGoal(ctx context.Context, id, userID string) (domain.Goal, error)
	GetConversation(ctx context.Context, sessionID, userID string) (domain.Conversation, error)
}

type Handler struct {
	uc     ChatUseCase
	logger *slog.Logger
}

type Option func(*Handler)

func WithLogger(logger *slog.Logger) Option {
	return func(h *Handler) {
		if logger != nil {
			h.logger = logger
		}
	}
}

func NewHandler(uc ChatUseCase, opts ...Option) (*Handler, error) {
	if uc == nil {
		return nil, errors.New("handler: use case must not be nil")
	}
	h := &Handler{uc: uc, logger: slog.Default()}
	for _, opt := range opts {
		opt(h)
	}
	return h, nil
}

type chatRequest struct {
	Message   string `json:"message"`
	SessionID string `json:"session_id"`
}

type chatResponse struct {
	Success      bool         `json:"success"`
	Message      string       `json:"message"`
	GoalComplete bool         `json:"goal_complete"`
	Goal         *domain.Goal `json:"goal,omitempty"`
	GoalID       string       `json:"goal_id,omitempty"`
}

type goalPage struct {
	Total int           `json:"total"`
	Data  []domain.Goal `json:"data"`
}

type envelope[T any] struct {
	Success bool `json:"success"`
	Message T    `json:"message"`
}

type errorResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
	Details string `json:"details,omitempty"`
	Error   string `json:"error"`
}

// Handle routes an API Gateway proxy event. Every route except /health
// requires an authorizer identity.
func (h *Handler) Handle(ctx context.Context, req events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, error) {
	correlationID := correlationIDFrom(req.Headers)
	logger := h.logger.With("correlation_id", correlationID, "method", req.HTTPMethod, "path", req.Path)

	segments := splitPath(req.Path)
	if req.HTTPMethod == http.MethodGet && len(segments) == 1 && segments[0] == "health" {
		return jsonResponse(http.StatusOK, correlationID, map[string]string{"status": "ok"}), nil
	}

	userID := userFromAuthorizer(req.RequestContext.Authorizer)
	if userID == "" {
		logger.Warn("request without identity")
		return jsonResponse(http.StatusUnauthorized, correlationID, errorResponse{
			Message: "unauthenticated",
			Error:   "UNAUTHENTICATED",
		}), nil
	}
	logger = logger.With("user_id", userID)

	switch {
	case req.HTTPMethod == http.MethodPost && len(segments) == 1 && segments[0] == "chat":
		return h.handleChat(ctx, logger, correlationID, userID, req), nil
	case req.HTTPMethod == http.MethodGet && len(segments) == 1 && segments[0] == "goals":
		return h.handleListGoals(ctx, logger, correlationID, userID, req), nil
	case req.HTTPMethod == http.MethodGet && len(segments) == 2 && segments[0] == "goals":
		goal, err := h.uc.GetGoal(ctx, segments[1], userID)
		if err != nil {
			return h.errorResponse(logger, correlationID, err), nil
		}
		return jsonResponse(http.StatusOK, correlationID, envelope[domain.Goal]{Success: true, Message: goal}), nil
	case req.HTTPMethod == http.MethodGet && len(segments) == 2 && segments[0] == "conversations":
		conv, err := h.uc.GetConversation(ctx, segments[1], userID)
		if err != nil {
			return h.errorResponse(logger, correlationID, err), nil
		}
		return jsonResponse(http.StatusOK, correlationID, envelope[domain.Conversation]{Success: true, Message: conv}), nil
	default:
		return jsonResponse(http.StatusNotFound, correlationID, errorResponse{
			Message: "route not found",
			Error:   string(usecase.ErrorNotFound),
		}), nil
	}
}

func (h *Handler) handleChat(ctx context.Context, logger *slog.Logger, correlationID, userID string, req events.APIGatewayProxyRequest) events.APIGatewayProxyResponse {
	body, err := requestBody(req)
	if err != nil {
		return h.errorResponse(logger, correlationID, &usecase.Error{Code: usecase.ErrorInvalidInput, Reason: "invalid_body", Err: err})
	}
	var in chatRequest
	if err := json.Unmarshal(body, &in); err != nil {
		return h.errorResponse(logger, correlationID, &usecase.Error{Code: usecase.ErrorInvalidInput, Reason: "invalid_json", Err: err})
	}

	out, err := h.uc.ProcessMessage(ctx, usecase.ProcessInput{
		Message:   in.Message,
		SessionID: in.SessionID,
		UserID:    userID,
	})
	if err != nil {
		return h.errorResponse(logger, correlationID, err)
	}
	return jsonResponse(http.StatusOK, correlationID, chatResponse{
		Success:      true,
		Message:      out.Message,
		GoalComplete: out.GoalComplete,
		Goal:         out.Goal,
		GoalID:       out.GoalID,
	})
}

func (h *Handler) handleListGoals(ctx context.Context, logger *slog.Logger, correlationID, userID string, req events.APIGatewayProxyRequest) events.APIGatewayProxyResponse {
	q := req.QueryStringParameters
	page, err := queryInt(q, "page")
	if err != nil {
		return h.errorResponse(logger, correlationID, &usecase.Error{Code: usecase.ErrorInvalidInput, Reason: "invalid_page", Err: err})
	}
	rows, err := queryInt(q, "rows")
	if err != nil {
		return h.errorResponse(logger, correlationID, &usecase.Error{Code: usecase.ErrorInvalidInput, Reason: "invalid_rows", Err: err})
	}

	out, err := h.uc.ListGoals(ctx, usecase.ListGoalsInput{
		UserID: userID,
		Filter: domain.GoalFilter{
			Category: strings.TrimSpace(q["category"]),
			Status:   strings.TrimSpace(q["status"]),
			Search:   strings.TrimSpace(q["search"]),
		},
		Page:     page,
		PageSize: rows,
	})
	if err != nil {
		return h.errorResponse(logger, correlationID, err)
	}
	return jsonResponse(http.StatusOK, correlationID, envelope[goalPage]{
		Success: true,
		Message: goalPage{Total: out.Total, Data: out.Items},
	})
}

func (h *Handler) errorResponse(logger *slog.Logger, correlationID string, err error) events.APIGatewayProxyResponse {
	var ucErr *usecase.Error
	if !errors.As(err, &ucErr) {
		logger.Error("unexpected error", "err", err)
		return jsonResponse(http.StatusInternalServerError, correlationID, errorResponse{
			Message: messageFor(usecase.ErrorInternal, ""),
			Error:   string(usecase.ErrorInternal),
		})
	}

	status := statusFor(ucErr.Code)
	if status >= http.StatusInternalServerError {
		logger.Error("request failed", "code", ucErr.Code, "reason", ucErr.Reason, "err", ucErr.Err)
	} else {
		logger.Info("request rejected", "code", ucErr.Code, "reason", ucErr.Reason)
	}
	return jsonResponse(status, correlationID, errorResponse{
		Message: messageFor(ucErr.Code, ucErr.Reason),
		Details: ucErr.Reason,
		Error:   string(ucErr.Code),
	})
}

func statusFor(code usecase.ErrorCode) int {
	switch code {
	case usecase.ErrorInvalidInput:
		return http.StatusBadRequest
	case usecase.ErrorNotFound:
		return http.StatusNotFound
	case usecase.ErrorConflict:
		return http.StatusConflict
	case usecase.ErrorRateLimited:
		return http.StatusTooManyRequests
	case usecase.ErrorUpstream:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func messageFor(code usecase.ErrorCode, reason string) string {
	switch code {
	case usecase.ErrorInvalidInput:
		return "invalid request"
	case usecase.ErrorNotFound:
		return "not found"
	case usecase.ErrorConflict:
		if reason == "conversation_busy" {
			return "conversation is busy, retry shortly"
		}
		return "conflicting update, retry"
	case usecase.ErrorRateLimited:
		return "model rate limit reached, retry shortly"
	case usecase.ErrorUpstream:
		return "model service unavailable"
	default:
		return "internal error"
	}
}

func jsonResponse(status int, correlationID string, v any) events.APIGatewayProxyResponse {
	body, err := json.Marshal(v)
	if err != nil {
		status = http.StatusInternalServerError
		body = []byte(`{"success":false,"message":"internal error","error":"INTERNAL_ERROR"}`)
	}
	return events.APIGatewayProxyResponse{
		StatusCode: status,
		Headers: map[string]string{
			"Content-Type":    "application/json",
			correlationHeader: correlationID,
		},
		Body: string(body),
	}
}

func requestBody(req events.APIGatewayProxyRequest) ([]byte, error) {
	if !req.IsBase64Encoded {
		return []byte(req.Body), nil
	}
	return base64.StdEncoding.DecodeString(req.Body)
}

func correlationIDFrom(headers map[string]string) string {
	if id := headerValue(headers, correlationHeader); id != "" {
		return id
	}
	return uuid.NewString()
}

func headerValue(headers map[string]string, name string) string {
	for k, v := range headers {
		if strings.EqualFold(k, name) {
			return strings.TrimSpace(v)
		}
	}
	return ""
}

func splitPath(path string) []string {
	var out []string
	for _, seg := range strings.Split(path, "/") {
		if seg != "" {
			out = append(out, seg)
		}
	}
	return out
}

func queryInt(q map[string]string, key string) (int, error) {
	raw := strings.TrimSpace(q[key])
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, errors.New(key + " must be a non-negative integer")
	}
	return n, nil
}

// userFromAuthorizer reads principalId, falling back to the JWT authorizer's
// claims.sub.
func userFromAuthorizer(auth map[string]interface{}) string {
	if auth == nil {
		return ""
	}
	if id, ok := auth["principalId"].(string); ok && strings.TrimSpace(id) != "" {
		return strings.TrimSpace(id)
	}
	switch claims := auth["claims"].(type) {
	case map[string]interface{}:
		if sub, ok := claims["sub"].(string); ok {
			return strings.TrimSpace(sub)
		}
	case map[string]string:
		return strings.TrimSpace(claims["sub"])
	}
	return ""
}
