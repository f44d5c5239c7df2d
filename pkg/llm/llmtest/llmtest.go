// Package llmtest provides deterministic in-memory stand-ins for the
// embedding model and the generative backend.
package llmtest

import (
	"context"
	"errors"
	"strings"
	"sync"
	"unicode"

	"github.com/xhad/recall/pkg/llm"
)

// EmbeddingClient embeds text as a bag of lower-cased letters and digits.
// Texts sharing vocabulary get a high cosine similarity.
type EmbeddingClient struct {
	Dim   int
	Err   error
	mu    sync.Mutex
	calls int
}

func (c *EmbeddingClient) CreateEmbedding(_ context.Context, texts []string) ([][]float32, error) {
	c.mu.Lock()
	c.calls++
	c.mu.Unlock()
	if c.Err != nil {
		return nil, c.Err
	}

	out := make([][]float32, len(texts))
	for i, text := range texts {
		v := make([]float32, c.Dim)
		for _, r := range strings.ToLower(text) {
			if unicode.IsLetter(r) || unicode.IsDigit(r) {
				v[int(r)%c.Dim]++
			}
		}
		out[i] = v
	}
	return out, nil
}

func (c *EmbeddingClient) Calls() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls
}

var ErrBackend = errors.New("backend unavailable")

// Backend replays Segments and then returns Err. Every request is recorded.
// When Gate is set, generation waits for it to be closed first.
type Backend struct {
	Segments []string
	Err      error
	Panic    bool
	Gate     chan struct{}

	mu       sync.Mutex
	requests []llm.Request
}

func (b *Backend) Generate(ctx context.Context, req llm.Request, emit func(string) error) error {
	b.mu.Lock()
	b.requests = append(b.requests, req)
	b.mu.Unlock()

	if b.Gate != nil {
		select {
		case <-b.Gate:
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	for _, s := range b.Segments {
		if err := emit(s); err != nil {
			return err
		}
	}
	if b.Panic {
		panic("backend exploded")
	}
	return b.Err
}

func (b *Backend) Requests() []llm.Request {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]llm.Request(nil), b.requests...)
}
