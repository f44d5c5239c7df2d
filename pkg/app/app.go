// Package app assembles the notes pipeline from configuration.
package app

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/xhad/recall/internal/types"
	"github.com/xhad/recall/pkg/config"
	"github.com/xhad/recall/pkg/db"
	"github.com/xhad/recall/pkg/extract"
	"github.com/xhad/recall/pkg/llm"
	"github.com/xhad/recall/pkg/lock"
	"github.com/xhad/recall/pkg/metrics"
	"github.com/xhad/recall/pkg/processor"
	"github.com/xhad/recall/pkg/rag"
	"github.com/xhad/recall/pkg/scraper"
	"github.com/xhad/recall/pkg/store"
)

// App holds every long-lived component. Build it once per process and
// Close it on exit.
type App struct {
	Config      *config.Config
	Metrics     *metrics.Metrics
	Store       types.Store
	Index       types.VectorIndex
	Embedder    *llm.Embedder
	Chat        *llm.ChatEngine
	Scraper     *scraper.Scraper
	Extractor   *extract.Extractor
	Ingestor    *rag.Ingestor
	Retriever   *rag.Retriever
	Sessions    *rag.Sessions
	Coordinator *rag.Coordinator
	Locker      lock.Locker

	closers []func()
	logger  *log.Logger
}

type options struct {
	embeddingClient llm.EmbeddingClient
	backend         llm.Backend
	store           types.Store
	index           types.VectorIndex
}

// Option replaces a component that would otherwise be built from config.
type Option func(*options)

func WithEmbeddingClient(client llm.EmbeddingClient) Option {
	return func(o *options) { o.embeddingClient = client }
}

func WithBackend(backend llm.Backend) Option {
	return func(o *options) { o.backend = backend }
}

func WithStore(s types.Store) Option {
	return func(o *options) { o.store = s }
}

func WithIndex(index types.VectorIndex) Option {
	return func(o *options) { o.index = index }
}

func New(ctx context.Context, cfg *config.Config, opts ...Option) (*App, error) {
	if errs := cfg.Validate(); len(errs) > 0 {
		msgs := make([]string, len(errs))
		for i, e := range errs {
			msgs[i] = e.Error()
		}
		return nil, fmt.Errorf("invalid configuration: %s", strings.Join(msgs, "; "))
	}

	var o options
	for _, opt := range opts {
		opt(&o)
	}

	a := &App{
		Config:  cfg,
		Metrics: metrics.New(),
		logger:  log.New(log.Writer(), "[APP] ", log.LstdFlags),
	}
	if err := a.build(ctx, o); err != nil {
		a.Close()
		return nil, err
	}
	return a, nil
}

func (a *App) build(ctx context.Context, o options) error {
	cfg := a.Config

	pool, err := a.buildStore(ctx, o)
	if err != nil {
		return err
	}
	if err := a.buildIndex(ctx, o, pool); err != nil {
		return err
	}

	overlap := cfg.Processor.Overlap()
	if overlap == 0 {
		overlap = processor.NoOverlap
	}
	chunker := processor.NewWithConfig(processor.ProcessorConfig{
		ChunkSize:         cfg.Processor.ChunkSize,
		ChunkOverlap:      overlap,
		Splitter:          cfg.Processor.Splitter,
		FallbackChunkSize: cfg.Processor.FallbackChunkSize,
	})
	a.Embedder, err = llm.NewEmbedderWithConfig(llm.EmbedderConfig{
		Model:     cfg.Embedder.Model,
		BaseURL:   cfg.Embedder.BaseURL,
		Dimension: cfg.Embedder.Dimension,
		BatchSize: cfg.Embedder.BatchSize,
		Client:    o.embeddingClient,
		Chunker:   chunker,
		Metrics:   a.Metrics,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize embedder: %w", err)
	}
	a.Embedder.Warm(embedderWarmTimeout)

	backend := o.backend
	if backend == nil {
		backend, err = newBackend(ctx, cfg.LLM)
		if err != nil {
			return err
		}
	}
	a.Chat, err = llm.NewWithConfig(llm.ChatConfig{
		Backend:        backend,
		Language:       cfg.LLM.Language,
		MaxTokens:      cfg.LLM.MaxTokens,
		Temperature:    cfg.LLM.Temperature,
		CandidateCount: cfg.LLM.CandidateCount,
		StreamBuffer:   cfg.LLM.StreamBuffer,
		Metrics:        a.Metrics,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize chat engine: %w", err)
	}

	a.Scraper = scraper.NewWithConfig(scraper.ScraperConfig{
		RateLimit:      cfg.Scraper.RateLimit,
		IgnorePatterns: cfg.Scraper.IgnorePatterns,
		Timeout:        cfg.Scraper.Timeout,
		UserAgent:      cfg.Scraper.UserAgent,
		MaxBodyBytes:   cfg.Scraper.MaxBodyBytes,
		AllowPrivate:   cfg.Scraper.AllowPrivate,
	})
	a.Extractor = extract.New(a.Scraper, nil)

	a.Ingestor, err = rag.NewIngestor(rag.IngestorConfig{
		Store:      a.Store,
		Index:      a.Index,
		Embedder:   a.Embedder,
		Extractor:  a.Extractor,
		Collection: cfg.Index.Collection,
		Metrics:    a.Metrics,
	})
	if err != nil {
		return err
	}
	a.Retriever, err = rag.NewRetriever(rag.RetrieverConfig{
		Index:           a.Index,
		Embedder:        a.Embedder,
		Store:           a.Store,
		MaxContextChars: cfg.Retrieval.MaxContextChars,
		Metrics:         a.Metrics,
	})
	if err != nil {
		return err
	}
	a.Sessions = rag.NewSessions(a.Store)
	a.Coordinator, err = rag.NewCoordinator(rag.CoordinatorConfig{
		Store:        a.Store,
		Retriever:    a.Retriever,
		Generator:    a.Chat,
		Collection:   cfg.Index.Collection,
		TopK:         cfg.Retrieval.TopK,
		StreamBuffer: cfg.LLM.StreamBuffer,
		Metrics:      a.Metrics,
	})
	if err != nil {
		return err
	}

	return a.buildLocker(ctx)
}

const embedderWarmTimeout = 30 * time.Second

// buildStore returns the postgres pool when one was opened so the
// pgvector index can share it.
func (a *App) buildStore(ctx context.Context, o options) (*db.Postgres, error) {
	if o.store != nil {
		a.Store = o.store
		return nil, nil
	}
	if a.Config.Database.URL == "" {
		a.logger.Printf("no database url configured, keeping notes in memory")
		a.Store = db.NewMemory()
		return nil, nil
	}

	pg, err := db.NewPostgres(ctx, db.PostgresConfig{
		ConnString: a.Config.Database.URL,
		MaxConns:   a.Config.Database.MaxConns,
	})
	if err != nil {
		return nil, err
	}
	a.Store = pg
	a.closers = append(a.closers, pg.Close)
	return pg, nil
}

func (a *App) buildIndex(ctx context.Context, o options, pg *db.Postgres) error {
	if o.index != nil {
		a.Index = o.index
		return nil
	}

	cfg := a.Config
	switch cfg.Index.Provider {
	case "pgvector":
		if pg == nil {
			return fmt.Errorf("the pgvector index requires database.url")
		}
		vs, err := store.NewWithConfig(ctx, store.VectorStoreConfig{
			Pool:        pg.Pool(),
			TablePrefix: cfg.Index.TablePrefix,
			VectorDim:   cfg.Embedder.Dimension,
		})
		if err != nil {
			return fmt.Errorf("failed to initialize vector store: %w", err)
		}
		a.Index = vs
	case "chroma":
		cs, err := store.NewChroma(store.ChromaConfig{BaseURL: cfg.Index.URL})
		if err != nil {
			return err
		}
		a.Index = cs
	default:
		a.Index = store.NewMemory(cfg.Embedder.Dimension)
	}
	a.closers = append(a.closers, a.Index.Close)
	return nil
}

func (a *App) buildLocker(ctx context.Context) error {
	if a.Config.Redis.Addr == "" {
		a.Locker = lock.NewLocal()
		return nil
	}
	rl, err := lock.NewRedis(ctx, lock.RedisConfig{
		Addr:     a.Config.Redis.Addr,
		Password: a.Config.Redis.Password,
		DB:       a.Config.Redis.DB,
		TTL:      a.Config.Redis.LockTTL,
	})
	if err != nil {
		return err
	}
	a.Locker = rl
	a.closers = append(a.closers, func() { rl.Close() })
	return nil
}

func newBackend(ctx context.Context, cfg config.LLMConfig) (llm.Backend, error) {
	switch cfg.Provider {
	case "ollama":
		return llm.NewOllamaBackend(llm.OllamaConfig{Model: cfg.Model, BaseURL: cfg.BaseURL})
	default:
		return llm.NewGeminiBackend(ctx, llm.GeminiConfig{APIKey: cfg.APIKey, Model: cfg.Model})
	}
}

// Close releases connections in reverse order of creation.
func (a *App) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}
