package semantic

import (
	"context"
	"fmt"
	"math"
	"sort"
	"sync"

	"github.com/mffacts/mffacts/engine/domain"
)

// MemoryStore is an in-process vector store using brute-force cosine
// similarity. It serves tests and single-process runs; query binaries fill
// it from the local snapshot at startup.
type MemoryStore struct {
	mu      sync.RWMutex
	dims    int
	records map[string]Record
	order   []string
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[string]Record)}
}

// Reset clears all records and fixes the vector dimension.
func (m *MemoryStore) Reset(_ context.Context, dims int) error {
	if dims <= 0 {
		return fmt.Errorf("semantic: invalid dimension %d", dims)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.dims = dims
	m.records = make(map[string]Record)
	m.order = nil
	return nil
}

// Upsert inserts or replaces records keyed by passage id.
func (m *MemoryStore) Upsert(_ context.Context, records []Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range records {
		if m.dims != 0 && len(r.Embedding) != m.dims {
			return fmt.Errorf("semantic: %s: %w", r.Passage.ID, domain.ErrDimensionMismatch)
		}
	}
	for _, r := range records {
		r.Passage.Text = capText(r.Passage.Text)
		if _, ok := m.records[r.Passage.ID]; !ok {
			m.order = append(m.order, r.Passage.ID)
		}
		m.records[r.Passage.ID] = r
	}
	return nil
}

// Len returns the number of stored records.
func (m *MemoryStore) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.records)
}

// Search returns the topK most similar passages.
func (m *MemoryStore) Search(_ context.Context, embedding []float32, topK int) ([]domain.Candidate, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]domain.Candidate, 0, len(m.order))
	for _, id := range m.order {
		r := m.records[id]
		out = append(out, domain.Candidate{Passage: r.Passage, Score: cosine(r.Embedding, embedding)})
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Score > out[j].Score })
	if topK > 0 && len(out) > topK {
		out = out[:topK]
	}
	return out, nil
}

func cosine(a, b []float32) float32 {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	var dot, na, nb float64
	for i := 0; i < n; i++ {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return float32(dot / (math.Sqrt(na) * math.Sqrt(nb)))
}
