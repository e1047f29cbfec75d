package llm

import "github.com/pkg/errors"

const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Provider failures classified for the caller. ErrRateLimited maps to a
// retry hint, the rest to a generic apology.
var (
	ErrRateLimited = errors.New("llm: rate limited by provider")
	ErrUnavailable = errors.New("llm: provider unavailable")
	ErrInvalidKey  = errors.New("llm: invalid api key")
)

type ChatCompletionMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type ChatCompletionResponse struct {
	Choices []ChatCompletionChoice `json:"choices"`
}

type ChatCompletionChoice struct {
	Message ChatCompletionMessage `json:"message"`
}

type GenerationParameters struct {
	Temperature      float32
	TopK             int32
	TopP             float32
	MaxOutputTokens  int64
	ResponseMIMEType string
}
