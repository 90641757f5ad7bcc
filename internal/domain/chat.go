package domain

// ChatMessage is the provider-agnostic chat message shape sent to the
// language-model gateway.
type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// CompletionRequest is one call to the language-model gateway.
type CompletionRequest struct {
	Model       string
	Messages    []ChatMessage
	Temperature float64
	MaxTokens   int
	TopP        float64
}
