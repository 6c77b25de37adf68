package evidence

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	openai "github.com/sashabaranov/go-openai"

	"github.com/AssafLanir/ideas-edition-core/internal/cache"
	"github.com/AssafLanir/ideas-edition-core/internal/llm"
)

// ChatClient is the minimal surface the Builder needs from a chat model.
type ChatClient interface {
	CreateChatCompletion(ctx context.Context, request openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error)
}

// Builder is the reference Evidence-Map producer: given a transcript and a
// themed outline, it asks the model for {claim, support-quote, speaker}
// tuples per chapter. It is an external collaborator by design (§4.2) — the
// core never trusts its output directly, only through internal/whitelist.
type Builder struct {
	Client llm.Client
	Model  string
	Cache  *cache.LLMCache
}

// OutlineChapter is one themed-outline entry the builder asks for evidence
// against.
type OutlineChapter struct {
	ChapterIndex int
	Title        string
	Themes       []string
}

// Build requests an Evidence Map for the given transcript and outline. On
// any LLM failure or malformed JSON it returns an error; it never
// fabricates a partial map, matching the Generation Adapter's "return text
// or raise a single error family" contract (§4.6).
func (b *Builder) Build(ctx context.Context, projectID string, transcriptHash string, transcriptCanonical string, outline []OutlineChapter) (Map, error) {
	if b.Client == nil || strings.TrimSpace(b.Model) == "" {
		return Map{}, fmt.Errorf("evidence builder not configured")
	}
	system := buildSystemMessage()
	user := buildUserMessage(transcriptCanonical, outline)

	if b.Cache != nil {
		key := cache.KeyFrom(b.Model, system+"\n\n"+user)
		if raw, ok, _ := b.Cache.Get(ctx, cache.KindEvidence, key); ok {
			var m Map
			if err := json.Unmarshal(raw, &m); err == nil {
				m.ProjectID = projectID
				m.TranscriptHash = transcriptHash
				return m, nil
			}
		}
	}

	req := openai.ChatCompletionRequest{
		Model: b.Model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: system},
			{Role: openai.ChatMessageRoleUser, Content: user},
		},
		Temperature: 0.0,
		N:           1,
	}
	resp, err := b.Client.CreateChatCompletion(ctx, req)
	if err != nil {
		return Map{}, fmt.Errorf("evidence map call: %w", err)
	}
	if len(resp.Choices) == 0 {
		return Map{}, fmt.Errorf("evidence map call: no choices returned")
	}
	raw := strings.TrimSpace(resp.Choices[0].Message.Content)
	var m Map
	if err := json.Unmarshal([]byte(raw), &m); err != nil {
		return Map{}, fmt.Errorf("evidence map call: parse response: %w", err)
	}
	m.Version = 1
	m.ProjectID = projectID
	m.TranscriptHash = transcriptHash

	if b.Cache != nil {
		if payload, err := json.Marshal(m); err == nil {
			_ = b.Cache.Save(ctx, cache.KindEvidence, cache.KeyFrom(b.Model, system+"\n\n"+user), payload)
		}
	}
	return m, nil
}

func buildSystemMessage() string {
	return "You are an evidence extraction assistant for a transcript-to-ebook pipeline. " +
		"Respond with strict JSON only: {\"chapters\":[{\"chapter_index\":int,\"chapter_title\":string," +
		"\"claims\":[{\"id\":string,\"claim\":string,\"support\":[{\"quote\":string,\"speaker\":string|null}]}]}]}. " +
		"Every quote must be copied verbatim from the transcript excerpt provided; do not paraphrase quotes. " +
		"Every support entry must name the speaker who actually said the quote, or use null if unknown. " +
		"Do not invent claims, quotes, or speakers not grounded in the transcript."
}

func buildUserMessage(transcriptCanonical string, outline []OutlineChapter) string {
	var sb strings.Builder
	sb.WriteString("Themed outline (produce evidence for each chapter in order):\n")
	for _, c := range outline {
		sb.WriteString(fmt.Sprintf("%d. %s", c.ChapterIndex, c.Title))
		if len(c.Themes) > 0 {
			sb.WriteString(" — themes: ")
			sb.WriteString(strings.Join(c.Themes, ", "))
		}
		sb.WriteString("\n")
	}
	sb.WriteString("\nTranscript:\n\n")
	sb.WriteString(transcriptCanonical)
	sb.WriteString("\n\nOutput only the JSON document described in the system message.")
	return sb.String()
}
