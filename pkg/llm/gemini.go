package llm

import (
	"context"
	"fmt"

	"github.com/xhad/recall/internal/models"
	"google.golang.org/genai"
)

type GeminiConfig struct {
	APIKey string
	Model  string
}

// GeminiBackend streams completions from the Gemini API.
type GeminiBackend struct {
	client *genai.Client
	model  string
}

func NewGeminiBackend(ctx context.Context, config GeminiConfig) (*GeminiBackend, error) {
	if config.APIKey == "" {
		return nil, fmt.Errorf("gemini API key is not set")
	}
	if config.Model == "" {
		config.Model = "gemini-1.5-flash"
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  config.APIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create Gemini client: %w", err)
	}
	return &GeminiBackend{client: client, model: config.Model}, nil
}

func (g *GeminiBackend) Generate(ctx context.Context, req Request, emit func(string) error) error {
	config := &genai.GenerateContentConfig{
		MaxOutputTokens: int32(req.MaxTokens),
		CandidateCount:  int32(req.CandidateCount),
		Temperature:     genai.Ptr(float32(req.Temperature)),
	}
	if req.System != "" {
		config.SystemInstruction = genai.NewContentFromText(req.System, genai.RoleUser)
	}

	for resp, err := range g.client.Models.GenerateContentStream(ctx, g.model, geminiContents(req), config) {
		if err != nil {
			return fmt.Errorf("gemini stream: %w", err)
		}
		if resp == nil {
			continue
		}
		if err := emit(resp.Text()); err != nil {
			return err
		}
	}
	return nil
}

// geminiContents flattens history plus the final prompt into Gemini's
// user/model turn list.
func geminiContents(req Request) []*genai.Content {
	contents := make([]*genai.Content, 0, len(req.History)+1)
	for _, m := range req.History {
		role := genai.Role(genai.RoleUser)
		if m.Role == models.RoleAssistant {
			role = genai.RoleModel
		}
		contents = append(contents, genai.NewContentFromText(m.Content, role))
	}
	return append(contents, genai.NewContentFromText(req.Prompt, genai.RoleUser))
}
