// Package llm is the Generation Adapter (§4.6): a narrow chat-completion
// interface plus a retrying, provider-falling-back wrapper around it (see
// retry.go). The core never attempts partial chapter output — a call
// either returns text or raises a ProviderError.
package llm

import (
    "context"

    openai "github.com/sashabaranov/go-openai"
)

// Client is the minimal interface needed by core logic to call a chat model.
// It intentionally mirrors the CreateChatCompletion method used throughout the
// codebase so that any OpenAI-compatible or local backend can be adapted.
type Client interface {
    CreateChatCompletion(ctx context.Context, request openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error)
}

// OpenAIProvider adapts *openai.Client to Client.
type OpenAIProvider struct {
    Inner *openai.Client
}

func (p *OpenAIProvider) CreateChatCompletion(ctx context.Context, request openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error) {
    return p.Inner.CreateChatCompletion(ctx, request)
}
