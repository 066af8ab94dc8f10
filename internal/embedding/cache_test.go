package embedding

import (
	"testing"

	"github.com/hyperjump/kioku/internal/models"
)

func TestEmbeddingCache_GetSet(t *testing.T) {
	c := NewEmbeddingCache(2)
	if v, ok := c.Get("a"); ok || v != nil {
		t.Fatal("expected miss")
	}
	c.Set("a", models.Vector{1, 2, 3})
	v, ok := c.Get("a")
	if !ok || len(v) != 3 || v[0] != 1 {
		t.Errorf("Get: got %v, %v", v, ok)
	}
	c.Set("b", models.Vector{4, 5})
	c.Set("c", models.Vector{6}) // evicts a
	if _, ok := c.Get("a"); ok {
		t.Error("expected a to be evicted")
	}
	if _, ok := c.Get("b"); !ok {
		t.Error("expected b to remain")
	}
	if _, ok := c.Get("c"); !ok {
		t.Error("expected c to be present")
	}
	if c.Len() != 2 {
		t.Errorf("Len = %d", c.Len())
	}
}

func TestEmbeddingCache_Disabled(t *testing.T) {
	c := NewEmbeddingCache(0)
	c.Set("a", models.Vector{1})
	if _, ok := c.Get("a"); ok {
		t.Error("disabled cache should always miss")
	}
}
