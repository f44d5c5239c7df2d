package llm

import (
	"context"
	"fmt"

	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/ollama"
	"github.com/xhad/recall/internal/models"
)

type OllamaConfig struct {
	Model   string
	BaseURL string // Ollama server URL
}

// OllamaBackend streams completions from any langchaingo model, by default
// a local Ollama server.
type OllamaBackend struct {
	llm llms.Model
}

func NewOllamaBackend(config OllamaConfig) (*OllamaBackend, error) {
	if config.Model == "" {
		config.Model = "mistral" // Default Ollama model
	}
	if config.BaseURL == "" {
		config.BaseURL = "http://localhost:11434" // Default Ollama URL
	}

	llm, err := ollama.New(ollama.WithModel(config.Model),
		ollama.WithServerURL(config.BaseURL))
	if err != nil {
		return nil, fmt.Errorf("failed to initialize LLM: %w", err)
	}
	return &OllamaBackend{llm: llm}, nil
}

// NewModelBackend wraps an already constructed langchaingo model.
func NewModelBackend(model llms.Model) *OllamaBackend {
	return &OllamaBackend{llm: model}
}

func (o *OllamaBackend) Generate(ctx context.Context, req Request, emit func(string) error) error {
	content := make([]llms.MessageContent, 0, len(req.History)+2)
	if req.System != "" {
		content = append(content, llms.TextParts(llms.ChatMessageTypeSystem, req.System))
	}
	for _, m := range req.History {
		role := llms.ChatMessageTypeHuman
		if m.Role == models.RoleAssistant {
			role = llms.ChatMessageTypeAI
		}
		content = append(content, llms.TextParts(role, m.Content))
	}
	content = append(content, llms.TextParts(llms.ChatMessageTypeHuman, req.Prompt))

	_, err := o.llm.GenerateContent(ctx, content,
		llms.WithMaxTokens(req.MaxTokens),
		llms.WithTemperature(req.Temperature),
		llms.WithCandidateCount(req.CandidateCount),
		llms.WithStreamingFunc(func(ctx context.Context, chunk []byte) error {
			return emit(string(chunk))
		}),
	)
	if err != nil {
		return fmt.Errorf("chat error: %w", err)
	}
	return nil
}
