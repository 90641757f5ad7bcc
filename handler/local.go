package handler

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/aws/aws-lambda-go/events"
	"github.com/go-chi/chi/v5"
	"github.com/golang-jwt/jwt/v5"
)

const maxLocalBody = 1 << 20

type userKey struct{}

// LocalRouter serves the Lambda routes over plain HTTP. Callers authenticate
// with an HS256 bearer token whose sub (or user_id) claim becomes the user.
func LocalRouter(h *Handler, jwtSecret string, metrics http.Handler) http.Handler {
	r := chi.NewRouter()
	r.Get("/health", h.serveProxy)
	if metrics != nil {
		r.Method(http.MethodGet, "/metrics", metrics)
	}

	r.Group(func(r chi.Router) {
		r.Use(JWTAuth(jwtSecret))
		r.Post("/chat", h.serveProxy)
		r.Get("/goals", h.serveProxy)
		r.Get("/goals/{id}", h.serveProxy)
		r.Get("/conversations/{session_id}", h.serveProxy)
	})
	return r
}

// JWTAuth rejects requests without a valid HS256 bearer token.
func JWTAuth(secret string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			userID, err := verifyBearer(r.Header.Get("Authorization"), secret)
			if err != nil {
				writeProxyResponse(w, jsonResponse(http.StatusUnauthorized, correlationIDFrom(flattenHeaders(r.Header)), errorResponse{
					Message: "unauthenticated",
					Details: err.Error(),
					Error:   "UNAUTHENTICATED",
				}))
				return
			}
			next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), userKey{}, userID)))
		})
	}
}

func verifyBearer(header, secret string) (string, error) {
	if secret == "" {
		return "", errors.New("authentication is not configured")
	}
	scheme, raw, ok := strings.Cut(strings.TrimSpace(header), " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") || strings.TrimSpace(raw) == "" {
		return "", errors.New("missing bearer token")
	}

	claims := jwt.MapClaims{}
	token, err := jwt.ParseWithClaims(strings.TrimSpace(raw), claims, func(t *jwt.Token) (interface{}, error) {
		return []byte(secret), nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil || !token.Valid {
		return "", errors.New("invalid token")
	}

	if sub, _ := claims.GetSubject(); strings.TrimSpace(sub) != "" {
		return strings.TrimSpace(sub), nil
	}
	if id, ok := claims["user_id"].(string); ok && strings.TrimSpace(id) != "" {
		return strings.TrimSpace(id), nil
	}
	return "", errors.New("token has no subject")
}

// serveProxy converts the request into a proxy event so local and Lambda
// traffic share one code path.
func (h *Handler) serveProxy(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxLocalBody))
	if err != nil {
		http.Error(w, "read body", http.StatusBadRequest)
		return
	}

	query := map[string]string{}
	for k, v := range r.URL.Query() {
		if len(v) > 0 {
			query[k] = v[0]
		}
	}

	event := events.APIGatewayProxyRequest{
		HTTPMethod:            r.Method,
		Path:                  r.URL.Path,
		Headers:               flattenHeaders(r.Header),
		QueryStringParameters: query,
		Body:                  string(body),
	}
	if userID, ok := r.Context().Value(userKey{}).(string); ok {
		event.RequestContext.Authorizer = map[string]interface{}{"principalId": userID}
	}

	resp, err := h.Handle(r.Context(), event)
	if err != nil {
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	writeProxyResponse(w, resp)
}

func writeProxyResponse(w http.ResponseWriter, resp events.APIGatewayProxyResponse) {
	for k, v := range resp.Headers {
		w.Header().Set(k, v)
	}
	w.WriteHeader(resp.StatusCode)
	_, _ = io.WriteString(w, resp.Body)
}

func flattenHeaders(h http.Header) map[string]string {
	out := make(map[string]string, len(h))
	for k, v := range h {
		if len(v) > 0 {
			out[k] = v[0]
		}
	}
	return out
}
