// Package embedding turns text into feature vectors: a local incremental TF-IDF
// model and an optional remote embedding API that falls back to it.
package embedding

import (
	"context"

	"github.com/hyperjump/kioku/internal/models"
)

// Embedder produces vectors for text. Embedding never fails: degenerate input
// yields the zero vector and remote failures fall back to the local model.
type Embedder interface {
	// Embed embeds a document and may update model statistics.
	Embed(ctx context.Context, text string) models.Vector
	// EmbedQuery embeds a query against a frozen view of the model.
	EmbedQuery(ctx context.Context, text string) models.Vector
	// Name identifies the embedder in status output.
	Name() string
	Close() error
}
