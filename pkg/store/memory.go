package store

import (
	"context"
	"fmt"
	"math"
	"sort"
	"sync"

	"github.com/xhad/recall/internal/models"
)

// MemoryStore is an in-process vector index with exact cosine search.
type MemoryStore struct {
	dim         int
	mu          sync.RWMutex
	collections map[string]map[string]models.Fragment
}

func NewMemory(dim int) *MemoryStore {
	return &MemoryStore{
		dim:         dim,
		collections: make(map[string]map[string]models.Fragment),
	}
}

func (ms *MemoryStore) Upsert(_ context.Context, collection string, fragments []models.Fragment) error {
	if !collectionName.MatchString(collection) {
		return fmt.Errorf("invalid collection name %q", collection)
	}
	for _, f := range fragments {
		if ms.dim > 0 && len(f.Vector) != ms.dim {
			return fmt.Errorf("fragment %s has dimension %d, want %d", f.ID, len(f.Vector), ms.dim)
		}
	}

	ms.mu.Lock()
	defer ms.mu.Unlock()
	c, ok := ms.collections[collection]
	if !ok {
		c = make(map[string]models.Fragment)
		ms.collections[collection] = c
	}
	for _, f := range fragments {
		f.Vector = append([]float32(nil), f.Vector...)
		c[f.ID] = f
	}
	return nil
}

func (ms *MemoryStore) Search(_ context.Context, collection string, vector []float32, topK int, filter models.SearchFilter) ([]models.Hit, error) {
	if topK <= 0 {
		return nil, nil
	}

	ms.mu.RLock()
	type scored struct {
		id  string
		hit models.Hit
	}
	var all []scored
	for id, f := range ms.collections[collection] {
		if filter.OwnerID != "" && f.OwnerID != filter.OwnerID {
			continue
		}
		all = append(all, scored{id: id, hit: models.Hit{
			NoteID: f.NoteID,
			Text:   f.Text,
			Score:  cosine(vector, f.Vector),
		}})
	}
	ms.mu.RUnlock()

	sort.Slice(all, func(i, j int) bool {
		if all[i].hit.Score != all[j].hit.Score {
			return all[i].hit.Score > all[j].hit.Score
		}
		return all[i].id < all[j].id
	})
	if len(all) > topK {
		all = all[:topK]
	}

	hits := make([]models.Hit, len(all))
	for i, s := range all {
		hits[i] = s.hit
	}
	return hits, nil
}

func (ms *MemoryStore) DeleteByNote(ctx context.Context, collection, noteID string) error {
	return ms.DeleteNoteFrom(ctx, collection, noteID, 0)
}

func (ms *MemoryStore) DeleteNoteFrom(_ context.Context, collection, noteID string, fromIndex int) error {
	ms.mu.Lock()
	defer ms.mu.Unlock()
	for id, f := range ms.collections[collection] {
		if f.NoteID == noteID && f.Index >= fromIndex {
			delete(ms.collections[collection], id)
		}
	}
	return nil
}

// Len reports the number of fragments held in a collection.
func (ms *MemoryStore) Len(collection string) int {
	ms.mu.RLock()
	defer ms.mu.RUnlock()
	return len(ms.collections[collection])
}

func (ms *MemoryStore) Close() {}

// cosine returns 0 when either vector has zero magnitude.
func cosine(a, b []float32) float32 {
	if len(a) != len(b) {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return float32(dot / (math.Sqrt(na) * math.Sqrt(nb)))
}
