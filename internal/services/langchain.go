package services

import (
	"context"
	"fmt"
	"strings"

	"github.com/tmc/langchaingo/llms"
	lcopenai "github.com/tmc/langchaingo/llms/openai"
)

// CompatService generates text through any OpenAI-compatible endpoint
// (OpenAI itself, Ollama, vLLM, ...).
type CompatService struct {
	llm llms.Model
}

func NewCompatService(baseURL, token, model string) (*CompatService, error) {
	opts := []lcopenai.Option{
		lcopenai.WithToken(token),
		lcopenai.WithModel(model),
	}
	if baseURL != "" {
		opts = append(opts, lcopenai.WithBaseURL(baseURL))
	}

	llm, err := lcopenai.New(opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create OpenAI-compatible client: %w", err)
	}
	return &CompatService{llm: llm}, nil
}

func (s *CompatService) Generate(ctx context.Context, prompt string) (string, error) {
	completion, err := llms.GenerateFromSinglePrompt(ctx, s.llm, prompt)
	if err != nil {
		if looksLikeQuotaError(err) {
			return "", fmt.Errorf("%w: %v", ErrQuotaExceeded, err)
		}
		return "", fmt.Errorf("completion error: %w", err)
	}

	text := strings.TrimSpace(completion)
	if text == "" {
		return "", ErrEmptyReply
	}
	return text, nil
}

// langchaingo flattens provider errors into strings.
func looksLikeQuotaError(err error) bool {
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "429") ||
		strings.Contains(msg, "insufficient_quota") ||
		strings.Contains(msg, "rate limit")
}
