package rag

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"

	"github.com/xhad/recall/internal/models"
	"github.com/xhad/recall/internal/types"
	"github.com/xhad/recall/pkg/metrics"
)

// NoMatchContext is handed to the generator when retrieval finds nothing.
// It is valid context, not an error.
const NoMatchContext = "No relevant information was found in your notes."

// ContextSeparator joins fragments in the assembled context.
const ContextSeparator = "\n---\n"

// liveOversample widens the index query when hits are checked against the
// store, so fragments orphaned by a failed cleanup do not crowd out live ones.
const liveOversample = 2

type RetrieverConfig struct {
	Index           types.VectorIndex
	Embedder        types.Embedder
	Store           types.Store
	MaxContextChars int
	Metrics         *metrics.Metrics
	Logger          *log.Logger
}

// Retrieval is the outcome of one context lookup. Degraded is set when the
// sentinel was used because the embedder or the index could not serve.
type Retrieval struct {
	Context  string
	Hits     []models.Hit
	Degraded bool
}

type Retriever struct {
	config RetrieverConfig
	logger *log.Logger
}

func NewRetriever(config RetrieverConfig) (*Retriever, error) {
	if config.Index == nil || config.Embedder == nil {
		return nil, fmt.Errorf("retriever requires a vector index and an embedder")
	}
	if config.MaxContextChars <= 0 {
		config.MaxContextChars = 8000
	}
	logger := config.Logger
	if logger == nil {
		logger = log.New(log.Writer(), "[RETRIEVE] ", log.LstdFlags)
	}
	return &Retriever{config: config, logger: logger}, nil
}

// Retrieve assembles context for question from the topK most similar
// fragments in collection.
func (r *Retriever) Retrieve(ctx context.Context, question, collection string, topK int) Retrieval {
	return r.RetrieveForOwner(ctx, "", question, collection, topK)
}

// RetrieveForOwner is Retrieve restricted to fragments of ownerID's notes.
// An empty ownerID searches every owner.
func (r *Retriever) RetrieveForOwner(ctx context.Context, ownerID, question, collection string, topK int) Retrieval {
	hits, degraded, err := r.search(ctx, ownerID, question, collection, topK)
	if err != nil || degraded {
		if err != nil {
			r.logger.Printf("retrieval degraded to no-match context: %v", err)
		} else {
			r.logger.Printf("retrieval degraded to no-match context: embedder is in degraded mode")
		}
		r.config.Metrics.RetrievalDegradedInc()
		return Retrieval{Context: NoMatchContext, Degraded: true}
	}

	text := r.assemble(hits)
	if text == "" {
		return Retrieval{Context: NoMatchContext, Hits: hits}
	}
	return Retrieval{Context: text, Hits: hits}
}

// Search returns the raw ranked hits for a query.
func (r *Retriever) Search(ctx context.Context, ownerID, query, collection string, topK int) ([]models.Hit, error) {
	hits, degraded, err := r.search(ctx, ownerID, query, collection, topK)
	if err != nil {
		return nil, err
	}
	if degraded {
		r.config.Metrics.RetrievalDegradedInc()
		return nil, nil
	}
	return hits, nil
}

func (r *Retriever) search(ctx context.Context, ownerID, query, collection string, topK int) ([]models.Hit, bool, error) {
	if topK <= 0 {
		topK = 3
	}
	emb, err := r.config.Embedder.Embed(ctx, []string{query})
	if err != nil {
		return nil, false, err
	}
	if emb.Degraded() {
		return nil, true, nil
	}
	if len(emb.Vectors) == 0 {
		return nil, false, fmt.Errorf("embedder returned no vector for the query")
	}

	checkLive := ownerID != "" && r.config.Store != nil
	limit := topK
	if checkLive {
		limit = topK * liveOversample
	}
	filter := models.SearchFilter{OwnerID: ownerID}
	hits, err := r.config.Index.Search(ctx, collection, emb.Vectors[0], limit, filter)
	if err != nil {
		return nil, false, err
	}
	if checkLive {
		hits, err = r.liveHits(ctx, ownerID, hits)
		if err != nil {
			return nil, false, err
		}
	}
	if len(hits) > topK {
		hits = hits[:topK]
	}
	return hits, false, nil
}

// liveHits drops hits whose note no longer exists for ownerID.
func (r *Retriever) liveHits(ctx context.Context, ownerID string, hits []models.Hit) ([]models.Hit, error) {
	tx, err := r.config.Store.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	owned := make(map[string]bool)
	out := hits[:0:0]
	for _, h := range hits {
		ok, seen := owned[h.NoteID]
		if !seen {
			_, err := tx.GetNote(ctx, ownerID, h.NoteID)
			if err != nil && !errors.Is(err, models.ErrNoteNotFound) {
				return nil, err
			}
			ok = err == nil
			owned[h.NoteID] = ok
		}
		if ok {
			out = append(out, h)
		}
	}
	return out, nil
}

// assemble joins hit texts in rank order, stopping before the context
// would exceed MaxContextChars. A single oversized first hit is truncated.
func (r *Retriever) assemble(hits []models.Hit) string {
	var parts []string
	size := 0
	for _, h := range hits {
		text := strings.TrimSpace(h.Text)
		if text == "" {
			continue
		}
		added := len([]rune(text))
		if len(parts) > 0 {
			added += len(ContextSeparator)
		}
		if size+added > r.config.MaxContextChars {
			if len(parts) == 0 {
				parts = append(parts, string([]rune(text)[:r.config.MaxContextChars]))
			}
			break
		}
		parts = append(parts, text)
		size += added
	}
	return strings.Join(parts, ContextSeparator)
}
