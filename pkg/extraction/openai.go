package extraction

import (
	"errors"
	"fmt"

	"github.com/tmc/langchaingo/llms/openai"
)

// ChatConfig points at an OpenAI or Azure OpenAI chat deployment.
type ChatConfig struct {
	APIKey     string
	Endpoint   string
	Deployment string
	APIVersion string
	Azure      bool
}

func NewChatModel(cfg ChatConfig) (*openai.LLM, error) {
	if cfg.APIKey == "" || cfg.Deployment == "" {
		return nil, errors.New("chat model: missing api key or deployment")
	}

	opts := []openai.Option{
		openai.WithToken(cfg.APIKey),
		openai.WithModel(cfg.Deployment),
	}
	if cfg.Endpoint != "" {
		opts = append(opts, openai.WithBaseURL(cfg.Endpoint))
	}
	if cfg.Azure {
		if cfg.Endpoint == "" {
			return nil, errors.New("chat model: azure requires an endpoint")
		}
		opts = append(opts,
			openai.WithAPIType(openai.APITypeAzure),
			openai.WithAPIVersion(cfg.APIVersion),
		)
	}

	llm, err := openai.New(opts...)
	if err != nil {
		return nil, fmt.Errorf("chat model: create client: %w", err)
	}
	return llm, nil
}
