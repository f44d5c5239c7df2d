package llm

import (
	"context"
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/tmc/langchaingo/llms/ollama"
	"github.com/xhad/recall/internal/models"
	"github.com/xhad/recall/internal/types"
	"github.com/xhad/recall/pkg/metrics"
)

// EmbeddingClient is the subset of an embedding model the Embedder needs.
// *ollama.LLM satisfies it.
type EmbeddingClient interface {
	CreateEmbedding(ctx context.Context, inputTexts []string) ([][]float32, error)
}

type EmbedderConfig struct {
	Model     string
	BaseURL   string // Ollama server URL
	Dimension int
	BatchSize int
	Client    EmbeddingClient
	Chunker   types.Chunker
	Metrics   *metrics.Metrics
	Logger    *log.Logger
}

// Embedder maps texts to fixed-dimension vectors. When the model cannot
// be loaded it switches to degraded mode and answers with zero vectors.
type Embedder struct {
	config   EmbedderConfig
	client   EmbeddingClient
	logger   *log.Logger
	loadMu   sync.Mutex
	loaded   bool
	degraded atomic.Bool
}

func NewEmbedderWithConfig(config EmbedderConfig) (*Embedder, error) {
	if config.Model == "" {
		config.Model = "bge-m3"
	}
	if config.BaseURL == "" {
		config.BaseURL = "http://localhost:11434" // Default Ollama URL
	}
	if config.Dimension <= 0 {
		config.Dimension = 1024
	}
	if config.BatchSize <= 0 {
		config.BatchSize = 32
	}
	if config.Chunker == nil {
		return nil, fmt.Errorf("embedder requires a chunker")
	}
	logger := config.Logger
	if logger == nil {
		logger = log.New(log.Writer(), "[EMBED] ", log.LstdFlags)
	}

	e := &Embedder{config: config, client: config.Client, logger: logger}
	if e.client == nil {
		emb, err := ollama.New(ollama.WithModel(config.Model), ollama.WithServerURL(config.BaseURL))
		if err != nil {
			logger.Printf("failed to initialize embedding model %s: %v", config.Model, err)
			e.degraded.Store(true)
			e.loaded = true
		} else {
			e.client = emb
		}
	}
	return e, nil
}

// Load checks the model until one check settles. A failed check puts the
// embedder in degraded mode for the rest of its lifetime. A check cut short
// by ctx settles nothing and returns the context error.
func (e *Embedder) Load(ctx context.Context) error {
	e.loadMu.Lock()
	defer e.loadMu.Unlock()
	if e.loaded {
		return nil
	}

	vectors, err := e.client.CreateEmbedding(ctx, []string{"ping"})
	switch {
	case err != nil && ctx.Err() != nil:
		return fmt.Errorf("embedding model check interrupted: %w", ctx.Err())
	case err != nil:
		e.logger.Printf("embedding model %s unavailable, degrading to zero vectors: %v", e.config.Model, err)
		e.degraded.Store(true)
	case len(vectors) != 1 || len(vectors[0]) != e.config.Dimension:
		e.logger.Printf("embedding model %s returned an unexpected shape, degrading to zero vectors", e.config.Model)
		e.degraded.Store(true)
	}
	e.loaded = true
	return nil
}

// Warm checks the model on its own deadline, detached from any request.
func (e *Embedder) Warm(timeout time.Duration) {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := e.Load(ctx); err != nil {
		e.logger.Printf("embedding model %s not ready, will check again on first use: %v", e.config.Model, err)
	}
}

func (e *Embedder) Degraded() bool { return e.degraded.Load() }

func (e *Embedder) Dimension() int { return e.config.Dimension }

// Embed returns one vector per text in input order.
func (e *Embedder) Embed(ctx context.Context, texts []string) (models.Embedding, error) {
	if len(texts) == 0 {
		return models.Embedding{Status: models.Embedded}, nil
	}
	if err := e.Load(ctx); err != nil {
		return models.Embedding{}, err
	}

	if e.Degraded() {
		e.config.Metrics.EmbeddingDegraded()
		return models.Embedding{Vectors: e.zeroVectors(len(texts)), Status: models.Degraded}, nil
	}

	vectors := make([][]float32, 0, len(texts))
	for start := 0; start < len(texts); start += e.config.BatchSize {
		end := min(start+e.config.BatchSize, len(texts))
		batch, err := e.client.CreateEmbedding(ctx, texts[start:end])
		if err != nil {
			return models.Embedding{}, fmt.Errorf("failed to create embeddings: %w", err)
		}
		if len(batch) != end-start {
			return models.Embedding{}, fmt.Errorf("embedding model returned %d vectors for %d texts", len(batch), end-start)
		}
		for _, v := range batch {
			if len(v) != e.config.Dimension {
				return models.Embedding{}, fmt.Errorf("embedding dimension %d does not match configured %d", len(v), e.config.Dimension)
			}
		}
		vectors = append(vectors, batch...)
	}

	return models.Embedding{Vectors: vectors, Status: models.Embedded}, nil
}

// Process chunks text and embeds the chunks.
func (e *Embedder) Process(ctx context.Context, text string) ([]string, models.Embedding, error) {
	chunks := e.config.Chunker.Split(text)
	if len(chunks) == 0 {
		return nil, models.Embedding{Status: models.Embedded}, nil
	}
	emb, err := e.Embed(ctx, chunks)
	if err != nil {
		return nil, models.Embedding{}, err
	}
	return chunks, emb, nil
}

func (e *Embedder) zeroVectors(n int) [][]float32 {
	vectors := make([][]float32, n)
	for i := range vectors {
		vectors[i] = make([]float32, e.config.Dimension)
	}
	return vectors
}
