package provider

import (
	"context"

	"github.com/influix/influix/internal/ollama"
)

// OllamaChatter is the subset of the Ollama client used for analysis.
type OllamaChatter interface {
	Chat(ctx context.Context, req ollama.ChatRequest) (ollama.ChatResponse, error)
}

// Ollama runs analysis against a local Ollama server.
type Ollama struct {
	client OllamaChatter
}

func NewOllama(client OllamaChatter) *Ollama {
	return &Ollama{client: client}
}

func (p *Ollama) Name() string { return "ollama" }

func (p *Ollama) Chat(ctx context.Context, req Request) (Response, error) {
	messages := make([]ollama.Message, len(req.Messages))
	for i, m := range req.Messages {
		messages[i] = ollama.Message{Role: m.Role, Content: m.Content}
	}

	temp := req.Temperature
	resp, err := p.client.Chat(ctx, ollama.ChatRequest{
		Model:    req.Model,
		Messages: messages,
		Options:  ollama.Options{Temperature: &temp, NumPredict: req.MaxTokens},
		JSON:     req.JSONMode,
	})
	if err != nil {
		return Response{}, err
	}
	return Response{
		Content: resp.Content,
		Usage: Usage{
			PromptTokens:     resp.PromptTokens,
			CompletionTokens: resp.CompletionTokens,
			TotalTokens:      resp.PromptTokens + resp.CompletionTokens,
		},
	}, nil
}
