package store

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sync"

	chromago "github.com/amikos-tech/chroma-go/pkg/api/v2"
	"github.com/amikos-tech/chroma-go/pkg/embeddings"
	"github.com/xhad/recall/internal/models"
)

type ChromaConfig struct {
	BaseURL string
	Logger  *log.Logger
}

// ChromaStore is the vector index backed by a Chroma server. Collections
// are created with the cosine space on first use.
type ChromaStore struct {
	client      chromago.Client
	logger      *log.Logger
	mu          sync.Mutex
	collections map[string]chromago.Collection
}

func NewChroma(config ChromaConfig) (*ChromaStore, error) {
	if config.BaseURL == "" {
		config.BaseURL = "http://localhost:8000"
	}
	logger := config.Logger
	if logger == nil {
		logger = log.New(log.Writer(), "[INDEX] ", log.LstdFlags)
	}

	client, err := chromago.NewHTTPClient(chromago.WithBaseURL(config.BaseURL))
	if err != nil {
		return nil, fmt.Errorf("failed to create chroma client: %w", err)
	}

	return &ChromaStore{
		client:      client,
		logger:      logger,
		collections: make(map[string]chromago.Collection),
	}, nil
}

func (cs *ChromaStore) collection(ctx context.Context, name string) (chromago.Collection, error) {
	if !collectionName.MatchString(name) {
		return nil, fmt.Errorf("invalid collection name %q", name)
	}

	cs.mu.Lock()
	defer cs.mu.Unlock()
	if c, ok := cs.collections[name]; ok {
		return c, nil
	}

	c, err := cs.client.GetOrCreateCollection(ctx, name,
		chromago.WithCollectionMetadataCreate(
			chromago.NewMetadata(
				chromago.NewStringAttribute("hnsw:space", "cosine"),
			),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to get collection %s: %w", name, err)
	}
	cs.collections[name] = c
	return c, nil
}

func (cs *ChromaStore) Upsert(ctx context.Context, collection string, fragments []models.Fragment) error {
	if len(fragments) == 0 {
		return nil
	}
	c, err := cs.collection(ctx, collection)
	if err != nil {
		return err
	}

	ids := make([]chromago.DocumentID, len(fragments))
	texts := make([]string, len(fragments))
	vectors := make([]embeddings.Embedding, len(fragments))
	metadatas := make([]chromago.DocumentMetadata, len(fragments))
	for i, f := range fragments {
		ids[i] = chromago.DocumentID(f.ID)
		texts[i] = sanitizeUTF8(f.Text)
		vectors[i] = embeddings.NewEmbeddingFromFloat32(f.Vector)
		metadatas[i] = chromago.NewDocumentMetadata(
			chromago.NewStringAttribute("note_id", f.NoteID),
			chromago.NewStringAttribute("owner_id", f.OwnerID),
			chromago.NewIntAttribute("chunk_index", int64(f.Index)),
		)
	}

	err = c.Upsert(ctx,
		chromago.WithIDs(ids...),
		chromago.WithTexts(texts...),
		chromago.WithEmbeddings(vectors...),
		chromago.WithMetadatas(metadatas...),
	)
	if err != nil {
		return fmt.Errorf("failed to upsert into chroma: %w", err)
	}
	return nil
}

func (cs *ChromaStore) Search(ctx context.Context, collection string, vector []float32, topK int, filter models.SearchFilter) ([]models.Hit, error) {
	if topK <= 0 {
		return nil, nil
	}
	c, err := cs.collection(ctx, collection)
	if err != nil {
		return nil, err
	}

	count, err := c.Count(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to count chroma collection: %w", err)
	}
	if count == 0 {
		return nil, nil
	}

	opts := []chromago.CollectionQueryOption{
		chromago.WithQueryEmbeddings(embeddings.NewEmbeddingFromFloat32(vector)),
		chromago.WithNResults(min(topK, count)),
	}
	if filter.OwnerID != "" {
		opts = append(opts, chromago.WithWhereQuery(chromago.EqString("owner_id", filter.OwnerID)))
	}
	results, err := c.Query(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to query chroma: %w", err)
	}

	documentGroups := results.GetDocumentsGroups()
	metadataGroups := results.GetMetadatasGroups()
	distanceGroups := results.GetDistancesGroups()
	if len(documentGroups) == 0 {
		return nil, nil
	}

	hits := make([]models.Hit, 0, len(documentGroups[0]))
	for i, doc := range documentGroups[0] {
		hit := models.Hit{Text: doc.ContentString()}
		if len(metadataGroups) > 0 && i < len(metadataGroups[0]) {
			hit.NoteID = noteIDFromMetadata(metadataGroups[0][i])
		}
		if len(distanceGroups) > 0 && i < len(distanceGroups[0]) {
			hit.Score = 1 - float32(distanceGroups[0][i])
		}
		hits = append(hits, hit)
	}
	return hits, nil
}

func (cs *ChromaStore) DeleteByNote(ctx context.Context, collection, noteID string) error {
	return cs.DeleteNoteFrom(ctx, collection, noteID, 0)
}

func (cs *ChromaStore) DeleteNoteFrom(ctx context.Context, collection, noteID string, fromIndex int) error {
	c, err := cs.collection(ctx, collection)
	if err != nil {
		return err
	}
	where := chromago.And(
		chromago.EqString("note_id", noteID),
		chromago.GteInt("chunk_index", fromIndex),
	)
	if err := c.Delete(ctx, chromago.WithWhereDelete(where)); err != nil {
		return fmt.Errorf("failed to delete fragments for note %s: %w", noteID, err)
	}
	return nil
}

func (cs *ChromaStore) Close() {
	if err := cs.client.Close(); err != nil {
		cs.logger.Printf("failed to close chroma client: %v", err)
	}
}

// noteIDFromMetadata reads note_id through a JSON round trip since the
// metadata type exposes no map view.
func noteIDFromMetadata(metadata chromago.DocumentMetadata) string {
	if metadata == nil {
		return ""
	}
	raw, err := json.Marshal(metadata)
	if err != nil {
		return ""
	}
	var values map[string]interface{}
	if err := json.Unmarshal(raw, &values); err != nil {
		return ""
	}
	id, _ := values["note_id"].(string)
	return id
}
