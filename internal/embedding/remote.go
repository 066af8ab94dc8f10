package embedding

import (
	"context"
	"errors"
	"fmt"
	"time"

	openai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/hyperjump/kioku/internal/models"
	"github.com/hyperjump/kioku/pkg/utils"
)

// RemoteConfig configures the OpenAI-compatible embeddings client.
type RemoteConfig struct {
	BaseURL           string
	APIKey            string
	Model             string
	RequestsPerMinute int
	CacheSize         int
	MaxInputChars     int
	Timeout           time.Duration
}

// RemoteEmbedder calls a remote embeddings API and falls back to the local
// TF-IDF model on any failure, so callers never see an error.
type RemoteEmbedder struct {
	client        openai.Client
	model         string
	enabled       bool
	maxInputChars int
	timeout       time.Duration
	limiter       *rate.Limiter
	cache         *EmbeddingCache
	fallback      *TFIDF
	logger        *zap.Logger
}

// RemoteOption configures a RemoteEmbedder.
type RemoteOption func(*RemoteEmbedder)

// WithLogger sets a logger for fallback warnings.
func WithLogger(l *zap.Logger) RemoteOption {
	return func(e *RemoteEmbedder) { e.logger = utils.OrNop(l) }
}

var errNoAPIKey = errors.New("remote embedding: no api key configured")

// NewRemoteEmbedder creates a remote embedder backed by fallback.
func NewRemoteEmbedder(cfg RemoteConfig, fallback *TFIDF, opts ...RemoteOption) *RemoteEmbedder {
	reqOpts := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
		option.WithMaxRetries(0),
	}
	if cfg.BaseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(cfg.BaseURL))
	}
	limit := rate.Inf
	if cfg.RequestsPerMinute > 0 {
		limit = rate.Limit(float64(cfg.RequestsPerMinute) / 60.0)
	}
	model := cfg.Model
	if model == "" {
		model = string(openai.EmbeddingModelTextEmbedding3Small)
	}
	e := &RemoteEmbedder{
		client:        openai.NewClient(reqOpts...),
		model:         model,
		enabled:       cfg.APIKey != "",
		maxInputChars: cfg.MaxInputChars,
		timeout:       cfg.Timeout,
		limiter:       rate.NewLimiter(limit, 1),
		cache:         NewEmbeddingCache(cfg.CacheSize),
		fallback:      fallback,
		logger:        zap.NewNop(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Name returns the embedder identifier.
func (e *RemoteEmbedder) Name() string { return "remote:" + e.model }

// Close is a no-op.
func (e *RemoteEmbedder) Close() error { return nil }

// Embed returns the remote embedding for text, or the mutating TF-IDF
// embedding when the remote call fails.
func (e *RemoteEmbedder) Embed(ctx context.Context, text string) models.Vector {
	vec, err := e.remote(ctx, text)
	if err != nil {
		e.logger.Warn("remote embedding failed, using local tfidf", zap.Error(err))
		return e.fallback.Embed(ctx, text)
	}
	return vec
}

// EmbedQuery returns the remote embedding for text, or the frozen TF-IDF
// query embedding when the remote call fails.
func (e *RemoteEmbedder) EmbedQuery(ctx context.Context, text string) models.Vector {
	vec, err := e.remote(ctx, text)
	if err != nil {
		e.logger.Warn("remote query embedding failed, using local tfidf", zap.Error(err))
		return e.fallback.EmbedQuery(ctx, text)
	}
	return vec
}

func (e *RemoteEmbedder) remote(ctx context.Context, text string) (models.Vector, error) {
	if !e.enabled {
		return nil, errNoAPIKey
	}
	input := utils.TruncateRunes(text, e.maxInputChars)
	if cached, ok := e.cache.Get(input); ok {
		return cached, nil
	}
	if e.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.timeout)
		defer cancel()
	}
	if err := e.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limit wait: %w", err)
	}
	resp, err := e.client.Embeddings.New(ctx, openai.EmbeddingNewParams{
		Input: openai.EmbeddingNewParamsInputUnion{OfString: openai.String(input)},
		Model: openai.EmbeddingModel(e.model),
	})
	if err != nil {
		return nil, fmt.Errorf("embeddings request: %w", err)
	}
	if len(resp.Data) == 0 || len(resp.Data[0].Embedding) == 0 {
		return nil, errors.New("embeddings response: no data")
	}
	vec := make(models.Vector, len(resp.Data[0].Embedding))
	copy(vec, resp.Data[0].Embedding)
	utils.NormalizeL2(vec)
	e.cache.Set(input, vec)
	return vec, nil
}
