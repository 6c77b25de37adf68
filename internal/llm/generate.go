package llm

import (
	"context"
	"errors"

	openai "github.com/sashabaranov/go-openai"
)

// Generate is the narrow `generate(prompt, budget) -> text` surface named
// in §4.6: it wraps a chat completion call behind a single text-in,
// text-out function so the orchestrator never touches the OpenAI request
// shape directly. Callers that need retry/fallback pass a *RetryingClient
// as client; Generate itself adds nothing beyond request shaping.
func Generate(ctx context.Context, client Client, model string, system, user string) (string, error) {
	if client == nil {
		return "", errors.New("llm: no client configured")
	}
	resp, err := client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: system},
			{Role: openai.ChatMessageRoleUser, Content: user},
		},
		Temperature: 0.2,
		N:           1,
	})
	if err != nil {
		return "", err
	}
	if len(resp.Choices) == 0 {
		return "", errors.New("llm: no choices returned")
	}
	return resp.Choices[0].Message.Content, nil
}
