package rag

import (
	"context"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/xhad/recall/internal/models"
	"github.com/xhad/recall/internal/types"
	"github.com/xhad/recall/pkg/llm"
	"github.com/xhad/recall/pkg/metrics"
)

// Generator streams an answer for a question given prior turns and context.
// *llm.ChatEngine satisfies it.
type Generator interface {
	ChatStream(ctx context.Context, history []models.ChatMessage, question, context string) <-chan llm.Segment
}

type TurnState int

const (
	ReceivingInput TurnState = iota
	PersistingUserMessage
	Retrieving
	Generating
	PersistingAssistantMessage
	Done
	Failed
)

func (s TurnState) String() string {
	switch s {
	case ReceivingInput:
		return "receiving_input"
	case PersistingUserMessage:
		return "persisting_user_message"
	case Retrieving:
		return "retrieving"
	case Generating:
		return "generating"
	case PersistingAssistantMessage:
		return "persisting_assistant_message"
	case Done:
		return "done"
	default:
		return "failed"
	}
}

type CoordinatorConfig struct {
	Store        types.Store
	Retriever    *Retriever
	Generator    Generator
	Collection   string
	TopK         int
	StreamBuffer int
	Metrics      *metrics.Metrics
	Logger       *log.Logger
}

// Coordinator runs chat turns. Turns on one session must be serialized by
// the caller.
type Coordinator struct {
	config CoordinatorConfig
	logger *log.Logger
}

func NewCoordinator(config CoordinatorConfig) (*Coordinator, error) {
	if config.Store == nil || config.Retriever == nil || config.Generator == nil {
		return nil, fmt.Errorf("coordinator requires a store, a retriever and a generator")
	}
	if config.Collection == "" {
		config.Collection = "notes"
	}
	if config.TopK <= 0 {
		config.TopK = 3
	}
	if config.StreamBuffer <= 0 {
		config.StreamBuffer = 16
	}
	logger := config.Logger
	if logger == nil {
		logger = log.New(log.Writer(), "[CHAT] ", log.LstdFlags)
	}
	return &Coordinator{config: config, logger: logger}, nil
}

// TurnResult describes a finished turn.
type TurnResult struct {
	State       TurnState
	UserMessage models.ChatMessage
	// Message is the persisted assistant message, nil when the answer was
	// blank or could not be stored.
	Message  *models.ChatMessage
	Context  string
	Degraded bool
	Failed   bool
	Err      error
}

// Turn is one in-flight question. Segments yields answer text as it is
// produced and closes once the assistant message has been persisted.
type Turn struct {
	segments chan string
	done     chan struct{}
	mu       sync.Mutex
	state    TurnState
	result   TurnResult
}

func (t *Turn) Segments() <-chan string { return t.segments }

// Wait blocks until the turn has finished persisting.
func (t *Turn) Wait() TurnResult {
	<-t.done
	return t.result
}

func (t *Turn) State() TurnState {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

func (t *Turn) setState(s TurnState) {
	t.mu.Lock()
	t.state = s
	t.mu.Unlock()
}

// PostMessage validates the session, commits the user's message and starts
// the rest of the turn in the background. Errors from validation or the
// user message commit are returned directly and no turn is started.
//
// Cancelling ctx stops segment forwarding only. Generation, accumulation and
// the assistant message commit always run to completion.
func (c *Coordinator) PostMessage(ctx context.Context, sessionID, userID, text string) (*Turn, error) {
	turn := &Turn{
		segments: make(chan string, c.config.StreamBuffer),
		done:     make(chan struct{}),
		state:    ReceivingInput,
	}

	question := strings.TrimSpace(text)
	if question == "" {
		return nil, models.ErrEmptyMessage
	}

	tx, err := c.config.Store.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	if _, err := tx.GetSession(ctx, userID, sessionID); err != nil {
		return nil, err
	}
	history, err := tx.ListMessages(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to read history: %w", err)
	}

	turn.setState(PersistingUserMessage)
	userMsg := models.ChatMessage{SessionID: sessionID, Role: models.RoleUser, Content: text}
	if err := tx.AppendMessage(ctx, &userMsg); err != nil {
		return nil, fmt.Errorf("failed to store message: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to store message: %w", err)
	}
	turn.result.UserMessage = userMsg

	go c.run(ctx, turn, userID, question, history)
	return turn, nil
}

func (c *Coordinator) run(clientCtx context.Context, turn *Turn, userID, question string, history []models.ChatMessage) {
	started := time.Now()
	ctx := context.WithoutCancel(clientCtx)
	result := &turn.result

	defer func() {
		if r := recover(); r != nil {
			c.logger.Printf("turn in session %s panicked: %v", result.UserMessage.SessionID, r)
			result.Err = fmt.Errorf("turn panicked: %v", r)
			turn.setState(Failed)
		}
		result.State = turn.State()
		outcome := metrics.OutcomeCompleted
		switch {
		case result.State == Failed || result.Failed:
			outcome = metrics.OutcomeFailed
		case result.Degraded:
			outcome = metrics.OutcomeDegraded
		}
		c.config.Metrics.TurnFinished(outcome, time.Since(started))
		close(turn.segments)
		close(turn.done)
	}()

	turn.setState(Retrieving)
	retrieval := c.config.Retriever.RetrieveForOwner(ctx, userID, question, c.config.Collection, c.config.TopK)
	result.Context = retrieval.Context
	result.Degraded = retrieval.Degraded

	turn.setState(Generating)
	var answer strings.Builder
	forwarding := true
	for seg := range c.config.Generator.ChatStream(ctx, history, question, retrieval.Context) {
		answer.WriteString(seg.Text)
		if seg.Failed {
			result.Failed = true
		}
		if !forwarding {
			continue
		}
		select {
		case turn.segments <- seg.Text:
		case <-clientCtx.Done():
			forwarding = false
			c.logger.Printf("client left session %s mid-stream, finishing turn in background", result.UserMessage.SessionID)
		}
	}

	turn.setState(PersistingAssistantMessage)
	text := answer.String()
	if strings.TrimSpace(text) == "" {
		turn.setState(Done)
		return
	}

	msg, err := c.persistAssistant(ctx, result.UserMessage.SessionID, text)
	if err != nil {
		c.logger.Printf("failed to store answer for session %s: %v", result.UserMessage.SessionID, err)
		result.Err = err
		turn.setState(Failed)
		return
	}
	result.Message = &msg
	turn.setState(Done)
}

// persistAssistant writes the answer on a fresh transaction, independent of
// the one that stored the question.
func (c *Coordinator) persistAssistant(ctx context.Context, sessionID, text string) (models.ChatMessage, error) {
	tx, err := c.config.Store.Begin(ctx)
	if err != nil {
		return models.ChatMessage{}, err
	}
	defer tx.Rollback(ctx)

	msg := models.ChatMessage{SessionID: sessionID, Role: models.RoleAssistant, Content: text}
	if err := tx.AppendMessage(ctx, &msg); err != nil {
		return models.ChatMessage{}, err
	}
	if err := tx.Commit(ctx); err != nil {
		return models.ChatMessage{}, err
	}
	return msg, nil
}
