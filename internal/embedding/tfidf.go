package embedding

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sync"

	"github.com/hyperjump/kioku/internal/models"
	"github.com/hyperjump/kioku/pkg/utils"
)

// TFIDF is an online TF-IDF model. Every embedded document grows the
// vocabulary and updates the document statistics used for later IDF weights.
// The vocabulary is append-only: a term keeps its index forever.
type TFIDF struct {
	mu       sync.RWMutex
	vocab    map[string]int
	terms    []string // index -> term
	docCount int
	df       map[string]int
	revision uint64
}

// ModelState is the persisted form of a TFIDF model.
type ModelState struct {
	Vocabulary        map[string]int `json:"vocabulary"`
	DocCount          int            `json:"docCount"`
	DocumentFrequency map[string]int `json:"documentFrequency"`
}

// NewTFIDF returns an empty model.
func NewTFIDF() *TFIDF {
	return &TFIDF{
		vocab: make(map[string]int),
		df:    make(map[string]int),
	}
}

// Name returns the embedder identifier.
func (m *TFIDF) Name() string { return "tfidf" }

// Close is a no-op for TFIDF.
func (m *TFIDF) Close() error { return nil }

// Embed tokenizes text, registers unseen terms, increments the document count
// and the document frequency of every distinct term, then returns the
// L2-normalized weight vector. The statistics are updated before weighting, so
// a term seen for the first time weighs ln(N).
func (m *TFIDF) Embed(_ context.Context, text string) models.Vector {
	distinct, tf, maxTF := termFrequencies(Tokenize(text))

	m.mu.Lock()
	defer m.mu.Unlock()
	for _, t := range distinct {
		if _, ok := m.vocab[t]; !ok {
			m.vocab[t] = len(m.terms)
			m.terms = append(m.terms, t)
		}
	}
	m.docCount++
	for _, t := range distinct {
		m.df[t]++
	}
	m.revision++
	return m.weightsLocked(distinct, tf, maxTF)
}

// EmbedQuery weighs text against the current statistics without changing
// them. Terms outside the vocabulary are ignored.
func (m *TFIDF) EmbedQuery(_ context.Context, text string) models.Vector {
	distinct, tf, maxTF := termFrequencies(Tokenize(text))

	m.mu.RLock()
	defer m.mu.RUnlock()
	known := distinct[:0]
	for _, t := range distinct {
		if _, ok := m.vocab[t]; ok && m.df[t] > 0 {
			known = append(known, t)
		}
	}
	return m.weightsLocked(known, tf, maxTF)
}

// weightsLocked assembles the vector over the current vocabulary. Only terms
// with a nonzero vocabulary index carry weight; slot 0 is always zero.
func (m *TFIDF) weightsLocked(distinct []string, tf map[string]int, maxTF int) models.Vector {
	vec := make(models.Vector, len(m.terms))
	if maxTF == 0 || m.docCount == 0 {
		return vec
	}
	n := float64(m.docCount)
	for _, t := range distinct {
		idx := m.vocab[t]
		if idx == 0 {
			continue
		}
		ntf := float64(tf[t]) / float64(maxTF)
		vec[idx] = ntf * math.Log(n/float64(m.df[t]))
	}
	utils.NormalizeL2(vec)
	return vec
}

// VocabularySize returns the number of known terms.
func (m *TFIDF) VocabularySize() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.terms)
}

// DocCount returns the number of texts embedded so far.
func (m *TFIDF) DocCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.docCount
}

// DocumentFrequency returns how many embedded texts contained term.
func (m *TFIDF) DocumentFrequency(term string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.df[term]
}

// TermIndex returns the vocabulary index of term.
func (m *TFIDF) TermIndex(term string) (int, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	idx, ok := m.vocab[term]
	return idx, ok
}

// Revision increases on every mutation; callers use it to skip redundant saves.
func (m *TFIDF) Revision() uint64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.revision
}

// State returns a copy of the model statistics.
func (m *TFIDF) State() ModelState {
	m.mu.RLock()
	defer m.mu.RUnlock()
	st := ModelState{
		Vocabulary:        make(map[string]int, len(m.vocab)),
		DocCount:          m.docCount,
		DocumentFrequency: make(map[string]int, len(m.df)),
	}
	for k, v := range m.vocab {
		st.Vocabulary[k] = v
	}
	for k, v := range m.df {
		st.DocumentFrequency[k] = v
	}
	return st
}

// Restore replaces the model with st. Vocabulary indices must be a dense,
// duplicate-free range starting at 0.
func (m *TFIDF) Restore(st ModelState) error {
	terms := make([]string, len(st.Vocabulary))
	seen := make([]bool, len(st.Vocabulary))
	for term, idx := range st.Vocabulary {
		if idx < 0 || idx >= len(terms) || seen[idx] {
			return fmt.Errorf("invalid vocabulary index %d for term %q", idx, term)
		}
		terms[idx] = term
		seen[idx] = true
	}
	if st.DocCount < 0 {
		return fmt.Errorf("invalid document count %d", st.DocCount)
	}
	df := make(map[string]int, len(st.DocumentFrequency))
	for term, n := range st.DocumentFrequency {
		if _, ok := st.Vocabulary[term]; !ok {
			return fmt.Errorf("document frequency for unknown term %q", term)
		}
		if n < 0 || n > st.DocCount {
			return fmt.Errorf("invalid document frequency %d for term %q", n, term)
		}
		df[term] = n
	}
	vocab := make(map[string]int, len(st.Vocabulary))
	for k, v := range st.Vocabulary {
		vocab[k] = v
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.vocab = vocab
	m.terms = terms
	m.docCount = st.DocCount
	m.df = df
	m.revision++
	return nil
}

// Reset empties the model.
func (m *TFIDF) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.vocab = make(map[string]int)
	m.terms = nil
	m.docCount = 0
	m.df = make(map[string]int)
	m.revision++
}

// Save writes the model state as JSON to path.
func (m *TFIDF) Save(path string) error {
	data, err := json.Marshal(m.State())
	if err != nil {
		return fmt.Errorf("marshal model: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("create model dir: %w", err)
	}
	if err := utils.WriteFileAtomic(path, data, 0644); err != nil {
		return fmt.Errorf("write model: %w", err)
	}
	return nil
}

// Load reads the model state from path. A missing file leaves the model unchanged.
func (m *TFIDF) Load(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("read model: %w", err)
	}
	var st ModelState
	if err := json.Unmarshal(data, &st); err != nil {
		return fmt.Errorf("parse model: %w", err)
	}
	return m.Restore(st)
}
