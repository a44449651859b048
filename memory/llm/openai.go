package llm

import (
	"context"
	"errors"
	"log"
	"os"
	"strings"

	openai "github.com/sashabaranov/go-openai"

	"github.com/memnetlabs/memnet/memory"
)

// OpenAIProvider implements memory.LLMProvider using the Chat Completions API.
type OpenAIProvider struct {
	client *openai.Client
	model  string
}

// NewOpenAIProvider constructs a provider. If apiKey is empty, it falls
// back to OPENAI_API_KEY then OPENAI_KEY in the environment, matching the
// teacher's own fallback chain.
func NewOpenAIProvider(apiKey, model string) *OpenAIProvider {
	if apiKey == "" {
		apiKey = os.Getenv("OPENAI_API_KEY")
	}
	if apiKey == "" {
		apiKey = os.Getenv("OPENAI_KEY")
	}
	if model == "" {
		model = openai.GPT4oMini
	}
	return &OpenAIProvider{client: openai.NewClient(apiKey), model: model}
}

func (p *OpenAIProvider) generate(ctx context.Context, prompt string) (string, error) {
	resp, err := p.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: p.model,
		Messages: []openai.ChatCompletionMessage{{
			Role:    openai.ChatMessageRoleUser,
			Content: prompt,
		}},
	})
	if err != nil {
		return "", memory.BackendUnavailableError("llm:openai", err)
	}
	if len(resp.Choices) == 0 {
		return "", memory.BackendUnavailableError("llm:openai", errors.New("no response choices returned"))
	}
	return resp.Choices[0].Message.Content, nil
}

func (p *OpenAIProvider) ExtractMemories(ctx context.Context, conversationText string) ([]memory.ExtractedMemory, error) {
	text, err := p.generate(ctx, extractPrompt(conversationText))
	if err != nil {
		return nil, err
	}

	extracted := parseExtractedMemories(text)
	if extracted == nil {
		log.Printf("[LLM:openai] ExtractMemories: unparseable response, returning empty list")
	}
	return extracted, nil
}

func (p *OpenAIProvider) MergeMemories(ctx context.Context, existing, new string) (string, error) {
	text, err := p.generate(ctx, mergePrompt(existing, new))
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(strings.Trim(text, "\"")), nil
}

func (p *OpenAIProvider) Rerank(ctx context.Context, query string, results []memory.MemorySearchResult) ([]memory.MemorySearchResult, error) {
	if len(results) == 0 {
		return results, nil
	}

	text, err := p.generate(ctx, rerankPrompt(query, results))
	if err != nil {
		return nil, err
	}

	indices, ok := parseRankedIndices(text)
	if !ok {
		log.Printf("[LLM:openai] Rerank: unparseable response, returning pre-rerank order")
		return results, nil
	}
	return applyRankedIndices(results, indices), nil
}
