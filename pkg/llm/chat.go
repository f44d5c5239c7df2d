package llm

import (
	"context"
	"fmt"
	"log"
	"strings"

	"github.com/xhad/recall/internal/models"
	"github.com/xhad/recall/pkg/metrics"
)

// Apology is the single terminal segment emitted when the backend fails.
const Apology = "Sorry, an error occurred while generating the answer."

// Message is one prior turn of the conversation.
type Message struct {
	Role    models.Role
	Content string
}

// Request is one generation call against a backend.
type Request struct {
	System         string
	History        []Message
	Prompt         string
	MaxTokens      int
	Temperature    float64
	CandidateCount int
}

// Backend produces text for a request, handing each piece to emit as it
// arrives. A non-nil error from emit aborts generation.
type Backend interface {
	Generate(ctx context.Context, req Request, emit func(string) error) error
}

// Segment is one piece of streamed answer text. Failed marks the apology
// segment that terminates a failed generation.
type Segment struct {
	Text   string
	Failed bool
}

// ChatConfig represents the configuration for a chat engine.
type ChatConfig struct {
	Backend        Backend
	Language       string
	MaxTokens      int
	Temperature    float64
	CandidateCount int
	StreamBuffer   int
	SystemTemplate string
	PromptTemplate string
	Metrics        *metrics.Metrics
	Logger         *log.Logger
}

// ChatEngine streams grounded answers from a generative backend.
type ChatEngine struct {
	config ChatConfig
	logger *log.Logger
}

// NewWithConfig creates a new ChatEngine with the given configuration.
func NewWithConfig(config ChatConfig) (*ChatEngine, error) {
	if config.Backend == nil {
		return nil, fmt.Errorf("chat engine requires a generative backend")
	}
	if config.Language == "" {
		config.Language = "English"
	}
	if config.Temperature < 0 || config.Temperature > 2 {
		return nil, fmt.Errorf("temperature must be between 0 and 2")
	}
	if config.Temperature == 0 {
		config.Temperature = 0.7
	}
	if config.MaxTokens < 0 {
		return nil, fmt.Errorf("max tokens cannot be negative")
	} else if config.MaxTokens == 0 {
		config.MaxTokens = 2048
	}
	if config.CandidateCount == 0 {
		config.CandidateCount = 1
	}
	if config.StreamBuffer <= 0 {
		config.StreamBuffer = 16
	}
	if config.SystemTemplate == "" {
		config.SystemTemplate = "You are an assistant that answers questions using the user's own notes.\n" +
			"Make the best possible use of the context provided with each question, and answer from it.\n" +
			"When the context says nothing relevant was found, still give the most helpful answer you can.\n" +
			"Always answer in %s."
	}
	if config.PromptTemplate == "" {
		config.PromptTemplate = "---\nContext:\n%s\n---\n\nQuestion:\n%s"
	}
	logger := config.Logger
	if logger == nil {
		logger = log.New(log.Writer(), "[CHAT] ", log.LstdFlags)
	}

	return &ChatEngine{
		config: config,
		logger: logger,
	}, nil
}

// BuildRequest assembles the backend request for one question.
func (ce *ChatEngine) BuildRequest(history []models.ChatMessage, question, context string) Request {
	turns := make([]Message, 0, len(history))
	for _, m := range history {
		turns = append(turns, Message{Role: m.Role, Content: m.Content})
	}

	return Request{
		System:         fmt.Sprintf(ce.config.SystemTemplate, ce.config.Language),
		History:        turns,
		Prompt:         fmt.Sprintf(ce.config.PromptTemplate, context, question),
		MaxTokens:      ce.config.MaxTokens,
		Temperature:    ce.config.Temperature,
		CandidateCount: ce.config.CandidateCount,
	}
}

// ChatStream generates the answer as a stream of segments. The channel
// always closes, and a failure anywhere in the backend surfaces as exactly
// one final Failed segment. The stream stops early if ctx is cancelled.
func (ce *ChatEngine) ChatStream(ctx context.Context, history []models.ChatMessage, question, context string) <-chan Segment {
	req := ce.BuildRequest(history, question, context)
	resultChan := make(chan Segment, ce.config.StreamBuffer)

	go func() {
		defer close(resultChan)

		send := func(seg Segment) error {
			select {
			case resultChan <- seg:
				return nil
			case <-ctx.Done():
				return ctx.Err()
			}
		}

		err := ce.generate(ctx, req, func(text string) error {
			if text == "" {
				return nil
			}
			return send(Segment{Text: text})
		})
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			ce.logger.Printf("generation failed: %v", err)
			ce.config.Metrics.GenerationFailed()
			_ = send(Segment{Text: Apology, Failed: true})
		}
	}()

	return resultChan
}

func (ce *ChatEngine) generate(ctx context.Context, req Request, emit func(string) error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("backend panic: %v", r)
		}
	}()
	return ce.config.Backend.Generate(ctx, req, emit)
}

// Collect drains a segment stream into a single string.
func Collect(segments <-chan Segment) string {
	var b strings.Builder
	for seg := range segments {
		b.WriteString(seg.Text)
	}
	return b.String()
}
