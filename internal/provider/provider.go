// Package provider adapts hosted and local LLM APIs to one chat interface.
//
// Providers never retry on their own; the completion client owns the retry
// policy so every backend behaves the same under failure.
package provider

import "context"

// Chat roles.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message is one chat turn.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Request is a fully resolved chat call. All fields are set by the caller.
type Request struct {
	Model       string
	Messages    []Message
	Temperature float64
	MaxTokens   int
	JSONMode    bool
}

// Usage is the token accounting reported by the backend.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// Response is the assistant's reply text.
type Response struct {
	Content string
	Usage   Usage
}

// Provider sends a chat request to one LLM backend.
type Provider interface {
	Name() string
	Chat(ctx context.Context, req Request) (Response, error)
}

// splitSystem separates system turns from the conversation for backends that
// take the system prompt out of band.
func splitSystem(messages []Message) (string, []Message) {
	var system string
	rest := make([]Message, 0, len(messages))
	for _, m := range messages {
		if m.Role == RoleSystem {
			if system != "" {
				system += "\n\n"
			}
			system += m.Content
			continue
		}
		rest = append(rest, m)
	}
	return system, rest
}
