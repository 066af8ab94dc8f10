package vector

import (
	"sort"
	"sync"
)

// Result is a single vector search hit.
type Result struct {
	ID    string
	Score float64
}

// MemoryIndex is an in-memory vector index using exhaustive cosine search.
// It keeps insertion order, which breaks score ties and orders listings.
// Suitable for hundreds to low thousands of vectors.
type MemoryIndex struct {
	mu      sync.RWMutex
	ids     []string
	vectors map[string][]float64
}

// NewMemoryIndex creates an empty index.
func NewMemoryIndex() *MemoryIndex {
	return &MemoryIndex{vectors: make(map[string][]float64)}
}

// Add stores vec under id. Re-adding an id replaces its vector in place.
func (m *MemoryIndex) Add(id string, vec []float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.vectors[id]; !ok {
		m.ids = append(m.ids, id)
	}
	m.vectors[id] = vec
}

// Get returns the vector stored under id.
func (m *MemoryIndex) Get(id string) ([]float64, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.vectors[id]
	return v, ok
}

// Remove deletes id. No-op if absent.
func (m *MemoryIndex) Remove(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.vectors[id]; !ok {
		return
	}
	delete(m.vectors, id)
	for i, x := range m.ids {
		if x == id {
			m.ids = append(m.ids[:i], m.ids[i+1:]...)
			break
		}
	}
}

// Search scores every vector accepted by keep (nil keeps all) against query
// and returns the top k by descending cosine similarity. Equal scores keep
// insertion order.
func (m *MemoryIndex) Search(query []float64, k int, keep func(id string) bool) []Result {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if k <= 0 || len(m.ids) == 0 {
		return nil
	}
	scores := make([]Result, 0, len(m.ids))
	for _, id := range m.ids {
		if keep != nil && !keep(id) {
			continue
		}
		scores = append(scores, Result{ID: id, Score: CosineSimilarity(query, m.vectors[id])})
	}
	sort.SliceStable(scores, func(i, j int) bool { return scores[i].Score > scores[j].Score })
	if k > len(scores) {
		k = len(scores)
	}
	return scores[:k]
}

// IDs returns all ids in insertion order.
func (m *MemoryIndex) IDs() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]string(nil), m.ids...)
}

// Size returns the number of vectors in the index.
func (m *MemoryIndex) Size() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.ids)
}

// Reset removes every vector.
func (m *MemoryIndex) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ids = nil
	m.vectors = make(map[string][]float64)
}
