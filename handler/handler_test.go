package handler

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/aws/aws-lambda-go/events"
	"github.com/stretchr/testify/require"

	"goal-agent/internal/domain"
	"goal-agent/internal/usecase"
)

type stubUseCase struct {
	processOut usecase.ProcessOutput
	listOut    usecase.ListGoalsOutput
	goal       domain.Goal
	conv       domain.Conversation
	err        error

	processIn usecase.ProcessInput
	listIn    usecase.ListGoalsInput
	getArgs   [2]string
}

func (s *stubUseCase) ProcessMessage(_ context.Context, in usecase.ProcessInput) (usecase.ProcessOutput, error) {
	s.processIn = in
	return s.processOut, s.err
}

func (s *stubUseCase) ListGoals(_ context.Context, in usecase.ListGoalsInput) (usecase.ListGoalsOutput, error) {
	s.listIn = in
	return s.listOut, s.err
}

func (s *stubUseCase) GetGoal(_ context.Context, id, userID string) (domain.Goal, error) {
	s.getArgs = [2]string{id, userID}
	return s.goal, s.err
}

func (s *stubUseCase) GetConversation(_ context.Context, sessionID, userID string) (domain.Conversation, error) {
	s.getArgs = [2]string{sessionID, userID}
	return s.conv, s.err
}

func makeEvent(method, path, body string) events.APIGatewayProxyRequest {
	ev := events.APIGatewayProxyRequest{
		HTTPMethod: method,
		Path:       path,
		Headers:    map[string]string{"Content-Type": "application/json"},
		Body:       body,
	}
	ev.RequestContext.Authorizer = map[string]interface{}{"principalId": "user-1"}
	return ev
}

func parseBody[T any](t *testing.T, body string) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal([]byte(body), &v))
	return v
}

func newTestHandler(t *testing.T, uc *stubUseCase) *Handler {
	t.Helper()
	h, err := NewHandler(uc)
	require.NoError(t, err)
	return h
}

func TestNewHandler_ValidatesDependency(t *testing.T) {
	_, err := NewHandler(nil)
	require.Error(t, err)
}

func TestHandle_ChatWithoutGoal(t *testing.T) {
	uc := &stubUseCase{processOut: usecase.ProcessOutput{Message: "¿Cuánto quieres ahorrar?"}}
	h := newTestHandler(t, uc)

	resp, err := h.Handle(context.Background(), makeEvent(http.MethodPost, "/chat", `{"message":"quiero ahorrar","session_id":"s1"}`))
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, usecase.ProcessInput{Message: "quiero ahorrar", SessionID: "s1", UserID: "user-1"}, uc.processIn)

	out := parseBody[map[string]any](t, resp.Body)
	require.Equal(t, true, out["success"])
	require.Equal(t, "¿Cuánto quieres ahorrar?", out["message"])
	require.Equal(t, false, out["goal_complete"])
	require.NotContains(t, out, "goal")
	require.NotContains(t, out, "goal_id")
	require.NotEmpty(t, resp.Headers["X-Correlation-Id"])
}

func TestHandle_ChatWithGoal(t *testing.T) {
	goal := &domain.Goal{Name: "Auto", TargetAmount: 150000, Timeframe: "2 años", Status: domain.GoalStatusPending, CreatedAt: time.Date(2026, 1, 2, 0, 0, 0, 0, time.UTC)}
	uc := &stubUseCase{processOut: usecase.ProcessOutput{Message: "¡Listo!", GoalComplete: true, Goal: goal, GoalID: "g-1"}}
	h := newTestHandler(t, uc)

	resp, err := h.Handle(context.Background(), makeEvent(http.MethodPost, "/chat", `{"message":"sí","session_id":"s1"}`))
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	out := parseBody[chatResponse](t, resp.Body)
	require.True(t, out.GoalComplete)
	require.Equal(t, "g-1", out.GoalID)
	require.NotNil(t, out.Goal)
	require.Equal(t, "Auto", out.Goal.Name)
	require.Equal(t, 150000.0, out.Goal.TargetAmount)
}

func TestHandle_ChatBase64Body(t *testing.T) {
	uc := &stubUseCase{processOut: usecase.ProcessOutput{Message: "ok"}}
	h := newTestHandler(t, uc)

	ev := makeEvent(http.MethodPost, "/chat", base64.StdEncoding.EncodeToString([]byte(`{"message":"hola","session_id":"s9"}`)))
	ev.IsBase64Encoded = true
	resp, err := h.Handle(context.Background(), ev)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "s9", uc.processIn.SessionID)
}

func TestHandle_InvalidBody(t *testing.T) {
	h := newTestHandler(t, &stubUseCase{})

	resp, err := h.Handle(context.Background(), makeEvent(http.MethodPost, "/chat", `not-json`))
	require.NoError(t, err)
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)

	out := parseBody[errorResponse](t, resp.Body)
	require.False(t, out.Success)
	require.Equal(t, string(usecase.ErrorInvalidInput), out.Error)
	require.Equal(t, "invalid_json", out.Details)
}

func TestHandle_MapsUseCaseErrors(t *testing.T) {
	cases := []struct {
		name   string
		err    error
		status int
		code   string
	}{
		{name: "invalid input", err: &usecase.Error{Code: usecase.ErrorInvalidInput, Reason: "empty_message"}, status: http.StatusBadRequest, code: string(usecase.ErrorInvalidInput)},
		{name: "not found", err: &usecase.Error{Code: usecase.ErrorNotFound, Reason: "goal_not_found"}, status: http.StatusNotFound, code: string(usecase.ErrorNotFound)},
		{name: "conflict", err: &usecase.Error{Code: usecase.ErrorConflict, Reason: "conversation_busy"}, status: http.StatusConflict, code: string(usecase.ErrorConflict)},
		{name: "rate limited", err: &usecase.Error{Code: usecase.ErrorRateLimited, Reason: "llm_rate_limited"}, status: http.StatusTooManyRequests, code: string(usecase.ErrorRateLimited)},
		{name: "upstream", err: &usecase.Error{Code: usecase.ErrorUpstream, Reason: "llm_error"}, status: http.StatusBadGateway, code: string(usecase.ErrorUpstream)},
		{name: "internal", err: &usecase.Error{Code: usecase.ErrorInternal, Reason: "goal_insert_error"}, status: http.StatusInternalServerError, code: string(usecase.ErrorInternal)},
		{name: "unexpected", err: errors.New("boom"), status: http.StatusInternalServerError, code: string(usecase.ErrorInternal)},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			h := newTestHandler(t, &stubUseCase{err: tc.err})

			resp, err := h.Handle(context.Background(), makeEvent(http.MethodPost, "/chat", `{"message":"hola","session_id":"s1"}`))
			require.NoError(t, err)
			require.Equal(t, tc.status, resp.StatusCode)

			out := parseBody[errorResponse](t, resp.Body)
			require.False(t, out.Success)
			require.Equal(t, tc.code, out.Error)
			require.NotEmpty(t, out.Message)
		})
	}
}

func TestHandle_ConflictMessageFollowsReason(t *testing.T) {
	messages := map[string]string{}
	for _, reason := range []string{"conversation_busy", "conversation_create_conflict", "conversation_append_conflict"} {
		h := newTestHandler(t, &stubUseCase{err: &usecase.Error{Code: usecase.ErrorConflict, Reason: reason}})
		resp, err := h.Handle(context.Background(), makeEvent(http.MethodPost, "/chat", `{"message":"hola","session_id":"s1"}`))
		require.NoError(t, err)
		require.Equal(t, http.StatusConflict, resp.StatusCode)

		out := parseBody[errorResponse](t, resp.Body)
		require.Equal(t, reason, out.Details)
		messages[reason] = out.Message
	}
	require.Equal(t, "conversation is busy, retry shortly", messages["conversation_busy"])
	require.NotContains(t, messages["conversation_create_conflict"], "busy")
	require.Equal(t, messages["conversation_create_conflict"], messages["conversation_append_conflict"])
}

func TestHandle_UsesProvidedCorrelationID_CaseInsensitive(t *testing.T) {
	h := newTestHandler(t, &stubUseCase{processOut: usecase.ProcessOutput{Message: "ok"}})

	event := makeEvent(http.MethodPost, "/chat", `{"message":"hola","session_id":"s1"}`)
	event.Headers["x-correlation-id"] = "corr-123"
	resp, err := h.Handle(context.Background(), event)
	require.NoError(t, err)
	require.Equal(t, "corr-123", resp.Headers["X-Correlation-Id"])
}

func TestHandle_RequiresIdentity(t *testing.T) {
	uc := &stubUseCase{}
	h := newTestHandler(t, uc)

	event := makeEvent(http.MethodGet, "/goals", "")
	event.RequestContext.Authorizer = nil
	resp, err := h.Handle(context.Background(), event)
	require.NoError(t, err)
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	require.Empty(t, uc.listIn.UserID)
}

func TestHandle_IdentityFromClaims(t *testing.T) {
	uc := &stubUseCase{}
	h := newTestHandler(t, uc)

	event := makeEvent(http.MethodGet, "/goals", "")
	event.RequestContext.Authorizer = map[string]interface{}{
		"claims": map[string]interface{}{"sub": "cognito-7"},
	}
	resp, err := h.Handle(context.Background(), event)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "cognito-7", uc.listIn.UserID)
}

func TestHandle_Health(t *testing.T) {
	h := newTestHandler(t, &stubUseCase{})

	event := makeEvent(http.MethodGet, "/health", "")
	event.RequestContext.Authorizer = nil
	resp, err := h.Handle(context.Background(), event)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.JSONEq(t, `{"status":"ok"}`, resp.Body)
}

func TestHandle_ListGoals(t *testing.T) {
	uc := &stubUseCase{listOut: usecase.ListGoalsOutput{
		Total: 3,
		Items: []domain.Goal{{ID: "g-2", Name: "Auto nuevo"}},
		Page:  2,
	}}
	h := newTestHandler(t, uc)

	event := makeEvent(http.MethodGet, "/goals", "")
	event.QueryStringParameters = map[string]string{"page": "2", "rows": "1", "category": "auto", "status": "pending", "search": " auto "}
	resp, err := h.Handle(context.Background(), event)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, usecase.ListGoalsInput{
		UserID:   "user-1",
		Filter:   domain.GoalFilter{Category: "auto", Status: "pending", Search: "auto"},
		Page:     2,
		PageSize: 1,
	}, uc.listIn)

	out := parseBody[envelope[goalPage]](t, resp.Body)
	require.True(t, out.Success)
	require.Equal(t, 3, out.Message.Total)
	require.Len(t, out.Message.Data, 1)
	require.Equal(t, "g-2", out.Message.Data[0].ID)
}

func TestHandle_ListGoalsRejectsBadPaging(t *testing.T) {
	h := newTestHandler(t, &stubUseCase{})

	event := makeEvent(http.MethodGet, "/goals", "")
	event.QueryStringParameters = map[string]string{"rows": "ten"}
	resp, err := h.Handle(context.Background(), event)
	require.NoError(t, err)
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	require.Equal(t, "invalid_rows", parseBody[errorResponse](t, resp.Body).Details)
}

func TestHandle_GetGoalAndConversation(t *testing.T) {
	uc := &stubUseCase{
		goal: domain.Goal{ID: "g-1", Name: "Casa"},
		conv: domain.Conversation{SessionID: "s1", UserID: "user-1", Messages: []domain.Message{{Role: domain.RoleUser, Content: "hola"}}},
	}
	h := newTestHandler(t, uc)

	resp, err := h.Handle(context.Background(), makeEvent(http.MethodGet, "/goals/g-1", ""))
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, [2]string{"g-1", "user-1"}, uc.getArgs)
	require.Equal(t, "Casa", parseBody[envelope[domain.Goal]](t, resp.Body).Message.Name)

	resp, err = h.Handle(context.Background(), makeEvent(http.MethodGet, "/conversations/s1/", ""))
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, [2]string{"s1", "user-1"}, uc.getArgs)
	conv := parseBody[envelope[domain.Conversation]](t, resp.Body).Message
	require.Len(t, conv.Messages, 1)
	require.Equal(t, "hola", conv.Messages[0].Content)
}

func TestHandle_UnknownRoute(t *testing.T) {
	h := newTestHandler(t, &stubUseCase{})

	resp, err := h.Handle(context.Background(), makeEvent(http.MethodDelete, "/goals/g-1", ""))
	require.NoError(t, err)
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
}
