// Package llm provides memory.LLMProvider implementations: Extract/Merge/
// Rerank, one-shot chat calls per backend (Claude Messages API, OpenAI Chat
// Completions). Both backends parse
// their model's response leniently and fail silent-empty (extract) or
// fail-open (rerank).
package llm

import (
	"context"
	"log"
	"os"
	"strings"

	anthropic "github.com/anthropics/anthropic-sdk-go"
	anthropicopt "github.com/anthropics/anthropic-sdk-go/option"

	"github.com/memnetlabs/memnet/memory"
)

// AnthropicProvider implements memory.LLMProvider using Claude's Messages API.
type AnthropicProvider struct {
	client    *anthropic.Client
	model     string
	maxTokens int
}

// NewAnthropicProvider constructs a provider. If apiKey is empty, the
// underlying SDK client falls back to the ANTHROPIC_API_KEY environment
// variable.
func NewAnthropicProvider(apiKey, model string) *AnthropicProvider {
	if apiKey == "" {
		apiKey = os.Getenv("ANTHROPIC_API_KEY")
	}
	client := anthropic.NewClient(anthropicopt.WithAPIKey(apiKey))
	if model == "" {
		model = "claude-3-5-sonnet-latest"
	}
	return &AnthropicProvider{client: &client, model: model, maxTokens: 1024}
}

func (p *AnthropicProvider) generate(ctx context.Context, prompt string) (string, error) {
	msg, err := p.client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     anthropic.Model(p.model),
		MaxTokens: int64(p.maxTokens),
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(prompt)),
		},
	})
	if err != nil {
		return "", memory.BackendUnavailableError("llm:anthropic", err)
	}

	var b strings.Builder
	for _, cb := range msg.Content {
		if tb, ok := cb.AsAny().(anthropic.TextBlock); ok {
			b.WriteString(tb.Text)
		}
	}
	return b.String(), nil
}

func (p *AnthropicProvider) ExtractMemories(ctx context.Context, conversationText string) ([]memory.ExtractedMemory, error) {
	text, err := p.generate(ctx, extractPrompt(conversationText))
	if err != nil {
		return nil, err
	}

	extracted := parseExtractedMemories(text)
	if extracted == nil {
		log.Printf("[LLM:anthropic] ExtractMemories: unparseable response, returning empty list")
	}
	return extracted, nil
}

func (p *AnthropicProvider) MergeMemories(ctx context.Context, existing, new string) (string, error) {
	text, err := p.generate(ctx, mergePrompt(existing, new))
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(strings.Trim(text, "\"")), nil
}

func (p *AnthropicProvider) Rerank(ctx context.Context, query string, results []memory.MemorySearchResult) ([]memory.MemorySearchResult, error) {
	if len(results) == 0 {
		return results, nil
	}

	text, err := p.generate(ctx, rerankPrompt(query, results))
	if err != nil {
		return nil, err
	}

	indices, ok := parseRankedIndices(text)
	if !ok {
		log.Printf("[LLM:anthropic] Rerank: unparseable response, returning pre-rerank order")
		return results, nil
	}
	return applyRankedIndices(results, indices), nil
}
