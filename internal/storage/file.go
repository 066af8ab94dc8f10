package storage

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/hyperjump/kioku/internal/models"
	"github.com/hyperjump/kioku/internal/vector"
	"github.com/hyperjump/kioku/pkg/utils"
)

const (
	indexFileName = "index.json"
	vectorsDir    = "vectors"
	contentDir    = "content"
)

// indexRecord is the value stored per id in index.json.
type indexRecord struct {
	Metadata models.Metadata `json:"metadata"`
}

// FileStore persists entries under a base directory:
//
//	index.json          id -> {"metadata": {...}}, rewritten on every mutation
//	vectors/<id>.json   JSON array of numbers
//	content/<id>.txt    original text, verbatim
//
// Vectors are loaded eagerly into memory on Initialize. Writes are not
// transactional: a crash between steps loses at most the entry being written,
// which Initialize then skips.
type FileStore struct {
	mu       sync.RWMutex
	basePath string
	vectors  *vector.MemoryIndex
	meta     map[string]models.Metadata
	logger   *zap.Logger
}

// Option configures a FileStore.
type Option func(*FileStore)

// WithLogger sets a logger for skipped-entry warnings.
func WithLogger(l *zap.Logger) Option {
	return func(s *FileStore) { s.logger = utils.OrNop(l) }
}

// NewFileStore creates a store rooted at basePath. Call Initialize before use.
func NewFileStore(basePath string, opts ...Option) *FileStore {
	s := &FileStore{
		basePath: basePath,
		vectors:  vector.NewMemoryIndex(),
		meta:     make(map[string]models.Metadata),
		logger:   zap.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// BasePath returns the store's root directory.
func (s *FileStore) BasePath() string { return s.basePath }

func (s *FileStore) indexPath() string { return filepath.Join(s.basePath, indexFileName) }

func (s *FileStore) vectorPath(id string) string {
	return filepath.Join(s.basePath, vectorsDir, id+".json")
}

func (s *FileStore) contentPath(id string) string {
	return filepath.Join(s.basePath, contentDir, id+".txt")
}

// ValidID reports whether id can be used as an entry file name.
func ValidID(id string) bool {
	if id == "" || id == "." || id == ".." || strings.HasPrefix(id, ".") {
		return false
	}
	return !strings.ContainsAny(id, `/\`+"\x00")
}

// Initialize creates the directory layout and loads index.json. A corrupt
// index yields an empty store; entries whose vector file is missing or
// unparsable are skipped.
func (s *FileStore) Initialize(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, dir := range []string{vectorsDir, contentDir} {
		if err := os.MkdirAll(filepath.Join(s.basePath, dir), 0755); err != nil {
			return fmt.Errorf("create %s dir: %w", dir, err)
		}
	}
	s.vectors.Reset()
	s.meta = make(map[string]models.Metadata)

	data, err := os.ReadFile(s.indexPath())
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		s.logger.Warn("index unreadable, starting empty", zap.String("path", s.indexPath()), zap.Error(err))
		return nil
	}
	ids, records, err := decodeIndex(data)
	if err != nil {
		s.logger.Warn("index corrupt, starting empty", zap.String("path", s.indexPath()), zap.Error(err))
		return nil
	}
	for _, id := range ids {
		raw := records[id]
		var rec indexRecord
		if err := json.Unmarshal(raw, &rec); err != nil {
			s.logger.Warn("skipping entry with bad metadata", zap.String("id", id), zap.Error(err))
			continue
		}
		if !ValidID(id) {
			s.logger.Warn("skipping entry with invalid id", zap.String("id", id))
			continue
		}
		vec, err := s.readVector(id)
		if err != nil {
			s.logger.Warn("skipping entry without vector", zap.String("id", id), zap.Error(err))
			continue
		}
		s.vectors.Add(id, vec)
		s.meta[id] = rec.Metadata
	}
	s.logger.Debug("store initialized", zap.String("path", s.basePath), zap.Int("entries", len(s.meta)))
	return nil
}

// decodeIndex parses index.json keeping the object's key order.
func decodeIndex(data []byte) ([]string, map[string]json.RawMessage, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	tok, err := dec.Token()
	if err != nil {
		return nil, nil, err
	}
	if d, ok := tok.(json.Delim); !ok || d != '{' {
		return nil, nil, fmt.Errorf("index: expected object, got %v", tok)
	}
	var ids []string
	records := make(map[string]json.RawMessage)
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return nil, nil, err
		}
		id, ok := tok.(string)
		if !ok {
			return nil, nil, fmt.Errorf("index: expected key, got %v", tok)
		}
		var raw json.RawMessage
		if err := dec.Decode(&raw); err != nil {
			return nil, nil, err
		}
		if _, dup := records[id]; !dup {
			ids = append(ids, id)
		}
		records[id] = raw
	}
	if _, err := dec.Token(); err != nil {
		return nil, nil, err
	}
	if _, err := dec.Token(); err != io.EOF {
		return nil, nil, fmt.Errorf("index: trailing data")
	}
	return ids, records, nil
}

func (s *FileStore) readVector(id string) (models.Vector, error) {
	data, err := os.ReadFile(s.vectorPath(id))
	if err != nil {
		return nil, err
	}
	var vec models.Vector
	if err := json.Unmarshal(data, &vec); err != nil {
		return nil, fmt.Errorf("parse vector: %w", err)
	}
	return vec, nil
}

// writeIndexLocked rewrites index.json from the in-memory map, in insertion order.
func (s *FileStore) writeIndexLocked() error {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, id := range s.vectors.IDs() {
		if i > 0 {
			buf.WriteByte(',')
		}
		key, err := json.Marshal(id)
		if err != nil {
			return err
		}
		val, err := json.Marshal(indexRecord{Metadata: s.meta[id]})
		if err != nil {
			return fmt.Errorf("marshal metadata for %s: %w", id, err)
		}
		buf.Write(key)
		buf.WriteByte(':')
		buf.Write(val)
	}
	buf.WriteByte('}')
	if err := utils.WriteFileAtomic(s.indexPath(), buf.Bytes(), 0644); err != nil {
		return fmt.Errorf("write index: %w", err)
	}
	return nil
}

// Add writes the vector file, the content file, updates the in-memory index and
// rewrites index.json. On failure the in-memory index is left as it was.
func (s *FileStore) Add(_ context.Context, entry *models.Entry) error {
	if !ValidID(entry.ID) {
		return fmt.Errorf("%w: %q", ErrInvalidID, entry.ID)
	}
	vecData, err := json.Marshal(entry.Vector)
	if err != nil {
		return fmt.Errorf("marshal vector: %w", err)
	}
	if entry.Vector == nil {
		vecData = []byte("[]")
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := os.WriteFile(s.vectorPath(entry.ID), vecData, 0644); err != nil {
		return fmt.Errorf("write vector: %w", err)
	}
	if err := os.WriteFile(s.contentPath(entry.ID), []byte(entry.Content), 0644); err != nil {
		return fmt.Errorf("write content: %w", err)
	}

	prevVec, hadPrev := s.vectors.Get(entry.ID)
	prevMeta := s.meta[entry.ID]
	s.vectors.Add(entry.ID, entry.Vector)
	s.meta[entry.ID] = entry.Metadata
	if err := s.writeIndexLocked(); err != nil {
		if hadPrev {
			s.vectors.Add(entry.ID, prevVec)
			s.meta[entry.ID] = prevMeta
		} else {
			s.vectors.Remove(entry.ID)
			delete(s.meta, entry.ID)
		}
		return err
	}
	return nil
}

// Get returns the entry for id. Both the in-memory record and a readable
// content file are required.
func (s *FileStore) Get(_ context.Context, id string) (*models.Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.getLocked(id)
}

func (s *FileStore) getLocked(id string) (*models.Entry, error) {
	vec, ok := s.vectors.Get(id)
	if !ok || !ValidID(id) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	content, err := os.ReadFile(s.contentPath(id))
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrNotFound, id, err)
	}
	return &models.Entry{
		ID:       id,
		Vector:   vec,
		Content:  string(content),
		Metadata: s.meta[id],
	}, nil
}

// Remove deletes the entry's files, drops it from memory and rewrites
// index.json. Unknown ids are a no-op.
func (s *FileStore) Remove(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.meta[id]; !ok {
		return nil
	}
	for _, p := range []string{s.vectorPath(id), s.contentPath(id)} {
		if err := os.Remove(p); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("remove %s: %w", filepath.Base(p), err)
		}
	}
	s.vectors.Remove(id)
	delete(s.meta, id)
	return s.writeIndexLocked()
}

// Search ranks every entry accepted by filter against query and resolves the
// top limit hits. Hits whose content file is missing are dropped after
// ranking, so fewer than limit results may be returned.
func (s *FileStore) Search(ctx context.Context, query models.Vector, limit int, filter Filter) ([]*models.SearchResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	var keep func(string) bool
	if filter != nil {
		keep = func(id string) bool { return filter(s.meta[id]) }
	}
	hits := s.vectors.Search(query, limit, keep)
	results := make([]*models.SearchResult, 0, len(hits))
	for _, hit := range hits {
		entry, err := s.getLocked(hit.ID)
		if err != nil {
			s.logger.Debug("dropping ranked entry", zap.String("id", hit.ID), zap.Error(err))
			continue
		}
		results = append(results, &models.SearchResult{
			ID:       entry.ID,
			Score:    hit.Score,
			Content:  entry.Content,
			Metadata: entry.Metadata,
			Rank:     len(results) + 1,
		})
	}
	return results, nil
}

// List returns the entries accepted by filter in insertion order. Entries
// whose content file is missing are skipped.
func (s *FileStore) List(ctx context.Context, filter Filter) ([]*models.Entry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*models.Entry
	for _, id := range s.idsLocked(filter) {
		entry, err := s.getLocked(id)
		if err != nil {
			continue
		}
		out = append(out, entry)
	}
	return out, nil
}

// IDs returns the ids accepted by filter in insertion order.
func (s *FileStore) IDs(filter Filter) []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.idsLocked(filter)
}

func (s *FileStore) idsLocked(filter Filter) []string {
	ids := s.vectors.IDs()
	if filter == nil {
		return ids
	}
	out := ids[:0]
	for _, id := range ids {
		if filter(s.meta[id]) {
			out = append(out, id)
		}
	}
	return out
}

// Count returns the number of entries in memory.
func (s *FileStore) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.meta)
}

// Clear deletes every vector and content file and index.json.
func (s *FileStore) Clear(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, dir := range []string{vectorsDir, contentDir} {
		if err := clearDir(filepath.Join(s.basePath, dir)); err != nil {
			return fmt.Errorf("clear %s: %w", dir, err)
		}
	}
	if err := os.Remove(s.indexPath()); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove index: %w", err)
	}
	s.vectors.Reset()
	s.meta = make(map[string]models.Metadata)
	return nil
}

func clearDir(dir string) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return os.MkdirAll(dir, 0755)
		}
		return err
	}
	for _, e := range entries {
		if err := os.RemoveAll(filepath.Join(dir, e.Name())); err != nil {
			return err
		}
	}
	return nil
}
