// Package memory provides the memory engine: text in, ranked similar text out.
package memory

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/hyperjump/kioku/internal/embedding"
	"github.com/hyperjump/kioku/internal/models"
	"github.com/hyperjump/kioku/internal/storage"
	"github.com/hyperjump/kioku/pkg/utils"
)

const modelFileName = "model.json"

// DefaultLimit is the number of results FindSimilar returns when no limit is given.
const DefaultLimit = 5

var (
	// ErrNotInitialized is returned when the engine is used before Initialize.
	ErrNotInitialized = errors.New("memory engine not initialized")
	// ErrEmptyText is returned by AddText for blank text.
	ErrEmptyText = errors.New("text is empty")
)

// Engine composes an embedder and a file store. One Engine owns one base path.
type Engine struct {
	mu                sync.RWMutex
	basePath          string
	store             storage.Storage
	model             *embedding.TFIDF
	embedder          embedding.Embedder
	queryUpdatesModel bool
	initialized       bool
	savedRevision     uint64
	logger            *zap.Logger
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the engine logger.
func WithLogger(l *zap.Logger) Option {
	return func(e *Engine) { e.logger = utils.OrNop(l) }
}

// WithModel sets the TF-IDF model whose state is persisted in model.json.
func WithModel(m *embedding.TFIDF) Option {
	return func(e *Engine) { e.model = m }
}

// WithEmbedder sets the embedder used for texts and queries. Defaults to the TF-IDF model.
func WithEmbedder(emb embedding.Embedder) Option {
	return func(e *Engine) { e.embedder = emb }
}

// WithQueryUpdatesModel selects whether FindSimilar embeds queries like
// documents (updating N and df) or against a frozen snapshot.
func WithQueryUpdatesModel(v bool) Option {
	return func(e *Engine) { e.queryUpdatesModel = v }
}

// New creates an engine rooted at basePath. Call Initialize before use.
func New(basePath string, opts ...Option) *Engine {
	e := &Engine{
		basePath:          basePath,
		queryUpdatesModel: true,
		logger:            zap.NewNop(),
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.model == nil {
		e.model = embedding.NewTFIDF()
	}
	if e.embedder == nil {
		e.embedder = e.model
	}
	e.store = storage.NewFileStore(basePath, storage.WithLogger(e.logger))
	return e
}

// BasePath returns the directory the engine persists to.
func (e *Engine) BasePath() string { return e.basePath }

// Model returns the TF-IDF model.
func (e *Engine) Model() *embedding.TFIDF { return e.model }

func (e *Engine) modelPath() string { return filepath.Join(e.basePath, modelFileName) }

// Initialize loads the store and the saved model. Corrupt files never fail
// initialization; only I/O errors creating the directories do.
func (e *Engine) Initialize(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.store.Initialize(ctx); err != nil {
		return fmt.Errorf("failed to initialize store: %w", err)
	}
	if err := e.model.Load(e.modelPath()); err != nil {
		e.logger.Warn("discarding unreadable model state", zap.String("path", e.modelPath()), zap.Error(err))
		e.model.Reset()
	}
	e.savedRevision = e.model.Revision()
	e.initialized = true
	e.logger.Debug("memory engine initialized",
		zap.String("path", e.basePath),
		zap.Int("entries", e.store.Count()),
		zap.Int("vocabulary", e.model.VocabularySize()),
		zap.String("embedder", e.embedder.Name()))
	return nil
}

// Close releases the embedder.
func (e *Engine) Close() error {
	return e.embedder.Close()
}

// AddText embeds text and stores it under a fresh id with metadata
// {groupId, createdAt, ...extra}. Extras cannot override groupId or createdAt.
func (e *Engine) AddText(ctx context.Context, text, groupID string, extra map[string]models.Value) (string, error) {
	if strings.TrimSpace(text) == "" {
		return "", ErrEmptyText
	}
	if err := e.checkInitialized(); err != nil {
		return "", err
	}
	// Remote embedding runs outside the engine lock; the TF-IDF fallback locks itself.
	local := e.embedsLocally()
	var vec models.Vector
	if !local {
		vec = e.embedder.Embed(ctx, text)
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if local {
		vec = e.embedder.Embed(ctx, text)
	}

	meta := models.Metadata{GroupID: groupID, CreatedAt: time.Now().UTC()}
	for k, v := range extra {
		meta.Set(k, v)
	}
	entry := &models.Entry{
		ID:       uuid.NewString(),
		Vector:   vec,
		Content:  text,
		Metadata: meta,
	}
	defer e.saveModelLocked()
	if err := e.store.Add(ctx, entry); err != nil {
		return "", fmt.Errorf("failed to store entry: %w", err)
	}
	e.logger.Debug("added memory", zap.String("id", entry.ID), zap.String("group", groupID), zap.Int("dims", len(entry.Vector)))
	return entry.ID, nil
}

// FindOptions narrows a FindSimilar call.
type FindOptions struct {
	// GroupID restricts candidates before ranking. Empty means all groups.
	GroupID string
	// Limit caps the number of results; values <= 0 mean DefaultLimit.
	Limit int
}

// FindSimilar embeds query and returns the most similar entries, best first.
// A blank query returns no results.
func (e *Engine) FindSimilar(ctx context.Context, query string, opts FindOptions) ([]*models.SearchResult, error) {
	if err := e.checkInitialized(); err != nil {
		return nil, err
	}
	if strings.TrimSpace(query) == "" {
		return []*models.SearchResult{}, nil
	}
	limit := opts.Limit
	if limit <= 0 {
		limit = DefaultLimit
	}

	local := e.embedsLocally()
	var vec models.Vector
	if !local {
		vec = e.embedQuery(ctx, query)
	}
	if e.queryUpdatesModel {
		e.mu.Lock()
		defer e.mu.Unlock()
	} else {
		e.mu.RLock()
		defer e.mu.RUnlock()
	}
	if local {
		vec = e.embedQuery(ctx, query)
	}
	if e.queryUpdatesModel {
		e.saveModelLocked()
	}

	var filter storage.Filter
	if opts.GroupID != "" {
		filter = storage.GroupFilter(opts.GroupID)
	}
	results, err := e.store.Search(ctx, vec, limit, filter)
	if err != nil {
		return nil, fmt.Errorf("search failed: %w", err)
	}
	return results, nil
}

// Get returns the entry for id, or an error wrapping storage.ErrNotFound.
func (e *Engine) Get(ctx context.Context, id string) (*models.Entry, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if !e.initialized {
		return nil, ErrNotInitialized
	}
	return e.store.Get(ctx, id)
}

// Remove deletes one entry. Unknown ids are a no-op.
func (e *Engine) Remove(ctx context.Context, id string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.initialized {
		return ErrNotInitialized
	}
	return e.store.Remove(ctx, id)
}

// DeleteGroup removes every entry whose groupId matches and returns how many
// were removed.
func (e *Engine) DeleteGroup(ctx context.Context, groupID string) (int, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.initialized {
		return 0, ErrNotInitialized
	}
	ids := e.store.IDs(storage.GroupFilter(groupID))
	for i, id := range ids {
		if err := e.store.Remove(ctx, id); err != nil {
			return i, fmt.Errorf("failed to remove %s: %w", id, err)
		}
	}
	if len(ids) > 0 {
		e.logger.Debug("deleted group", zap.String("group", groupID), zap.Int("entries", len(ids)))
	}
	return len(ids), nil
}

// ListGroup returns the entries of a group in insertion order.
func (e *Engine) ListGroup(ctx context.Context, groupID string) ([]*models.Entry, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if !e.initialized {
		return nil, ErrNotInitialized
	}
	return e.store.List(ctx, storage.GroupFilter(groupID))
}

// List returns entries accepted by filter in insertion order.
func (e *Engine) List(ctx context.Context, filter storage.Filter) ([]*models.Entry, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if !e.initialized {
		return nil, ErrNotInitialized
	}
	return e.store.List(ctx, filter)
}

// Clear removes every entry. Model statistics survive unless resetModel is set,
// in which case model.json is deleted too.
func (e *Engine) Clear(ctx context.Context, resetModel bool) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.initialized {
		return ErrNotInitialized
	}
	if err := e.store.Clear(ctx); err != nil {
		return fmt.Errorf("failed to clear store: %w", err)
	}
	if !resetModel {
		return nil
	}
	e.model.Reset()
	if err := os.Remove(e.modelPath()); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove model: %w", err)
	}
	e.savedRevision = e.model.Revision()
	return nil
}

// Stats describes the engine state.
type Stats struct {
	Entries        int            `json:"entries"`
	Groups         map[string]int `json:"groups"`
	VocabularySize int            `json:"vocabulary_size"`
	Documents      int            `json:"documents"`
	Embedder       string         `json:"embedder"`
	QueryUpdates   bool           `json:"query_updates_model"`
	Disk           storage.Usage  `json:"disk"`
}

// Stats returns entry counts per group, model size and disk usage.
func (e *Engine) Stats(ctx context.Context) (*Stats, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if !e.initialized {
		return nil, ErrNotInitialized
	}
	entries, err := e.store.List(ctx, nil)
	if err != nil {
		return nil, err
	}
	groups := make(map[string]int)
	for _, entry := range entries {
		groups[entry.Metadata.GroupID]++
	}
	usage, err := storage.DiskUsage(e.basePath)
	if err != nil {
		return nil, fmt.Errorf("failed to measure disk usage: %w", err)
	}
	return &Stats{
		Entries:        e.store.Count(),
		Groups:         groups,
		VocabularySize: e.model.VocabularySize(),
		Documents:      e.model.DocCount(),
		Embedder:       e.embedder.Name(),
		QueryUpdates:   e.queryUpdatesModel,
		Disk:           usage,
	}, nil
}

func (e *Engine) checkInitialized() error {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if !e.initialized {
		return ErrNotInitialized
	}
	return nil
}

// embedsLocally reports whether the embedder is the TF-IDF model itself.
func (e *Engine) embedsLocally() bool {
	return e.embedder == embedding.Embedder(e.model)
}

func (e *Engine) embedQuery(ctx context.Context, query string) models.Vector {
	if e.queryUpdatesModel {
		return e.embedder.Embed(ctx, query)
	}
	return e.embedder.EmbedQuery(ctx, query)
}

// saveModelLocked persists the model when it changed since the last save.
// A failed save is logged; the entry already on disk stays valid.
func (e *Engine) saveModelLocked() {
	rev := e.model.Revision()
	if rev == e.savedRevision {
		return
	}
	if err := e.model.Save(e.modelPath()); err != nil {
		e.logger.Warn("failed to save model state", zap.String("path", e.modelPath()), zap.Error(err))
		return
	}
	e.savedRevision = rev
}
