// Package llm wraps the generative model used to read publication pages and
// to judge search results.
package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/googleai"
	"github.com/tmc/langchaingo/llms/openai"

	"github.com/mendoc/zoomchat/internal/config"
)

// Supported providers
const (
	ProviderGoogleAI = "googleai"
	ProviderOpenAI   = "openai"

	DefaultModel = "gemini-2.0-flash-exp"
)

var (
	ErrUnsupportedProvider = errors.New("unsupported llm provider")
	ErrEmptyResponse       = errors.New("empty model response")
)

// NewModel builds the chat model named by cfg.Provider
func NewModel(ctx context.Context, cfg config.LLMConfig) (llms.Model, error) {
	model := cfg.Model
	if model == "" {
		model = DefaultModel
	}

	switch strings.ToLower(strings.TrimSpace(cfg.Provider)) {
	case ProviderGoogleAI, "gemini", "":
		if cfg.APIKey == "" {
			return nil, fmt.Errorf("%s: api key is required", ProviderGoogleAI)
		}
		return googleai.New(ctx,
			googleai.WithAPIKey(cfg.APIKey),
			googleai.WithDefaultModel(model),
		)
	case ProviderOpenAI:
		token := cfg.APIKey
		if token == "" {
			// Local OpenAI-compatible servers accept any token
			token = "none"
		}
		opts := []openai.Option{
			openai.WithToken(token),
			openai.WithModel(model),
		}
		if cfg.BaseURL != "" {
			opts = append(opts, openai.WithBaseURL(cfg.BaseURL))
		}
		return openai.New(opts...)
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedProvider, cfg.Provider)
	}
}

// firstChoice returns the trimmed text of the first choice with code fences removed
func firstChoice(resp *llms.ContentResponse) (string, error) {
	if resp == nil || len(resp.Choices) == 0 {
		return "", ErrEmptyResponse
	}
	text := stripFences(resp.Choices[0].Content)
	if text == "" {
		return "", ErrEmptyResponse
	}
	return text, nil
}

func stripFences(s string) string {
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```JSON")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(s, "```")
	return strings.TrimSpace(s)
}
